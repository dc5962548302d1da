// Package auth checks the bearer API key presented to the master API.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// APIKeyManager holds hashed API keys
type APIKeyManager struct {
	mu     sync.RWMutex
	hashes map[string][]byte // description -> bcrypt hash
	cost   int
}

// NewAPIKeyManager creates a manager hashing at cost; cost 0 uses
// bcrypt.DefaultCost
func NewAPIKeyManager(cost int) *APIKeyManager {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &APIKeyManager{hashes: make(map[string][]byte), cost: cost}
}

// AddAPIKey stores key under description
func (m *APIKeyManager) AddAPIKey(description, key string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), m.cost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[description] = hash
	return nil
}

// RevokeAPIKey removes the key stored under description
func (m *APIKeyManager) RevokeAPIKey(description string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, description)
}

// Enabled reports whether any key is configured
func (m *APIKeyManager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes) > 0
}

// ValidateAPIKey returns the description of the matching key
func (m *APIKeyManager) ValidateAPIKey(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for desc, hash := range m.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return desc, nil
		}
	}
	return "", ErrInvalidToken
}

// BearerToken extracts the token of an Authorization header
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(h[len(prefix):]), nil
}

// Middleware rejects requests without a valid key. It passes everything
// through when no key is configured.
func (m *APIKeyManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := BearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if _, err := m.ValidateAPIKey(token); err != nil {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
