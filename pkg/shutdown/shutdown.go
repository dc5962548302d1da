// Package shutdown runs registered cleanup steps when the process is asked
// to stop.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/ffqueue/pkg/logging"
)

type step struct {
	name string
	fn   func(context.Context) error
}

// Manager handles graceful shutdown
type Manager struct {
	mu      sync.Mutex
	steps   []step
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
}

// New creates a manager whose steps share one timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a step. Steps run in reverse registration order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// Context returns a context cancelled on SIGINT or SIGTERM
func (m *Manager) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown runs every step once. Errors are logged and joined.
func (m *Manager) Shutdown() error {
	var errs []error
	m.once.Do(func() {
		m.mu.Lock()
		steps := m.steps
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(steps) - 1; i >= 0; i-- {
			s := steps[i]
			if err := s.fn(ctx); err != nil {
				m.logger.Error("shutdown step failed", map[string]interface{}{"step": s.name, "error": err.Error()})
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			m.logger.Debug("shutdown step done", map[string]interface{}{"step": s.name})
		}
		m.logger.Info("graceful shutdown complete")
	})
	return errors.Join(errs...)
}

// StopHTTPServer wraps server.Shutdown as a step
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource wraps an io.Closer-like value as a step
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
