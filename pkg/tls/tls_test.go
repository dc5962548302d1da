package tls

import (
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "master.crt")
	keyFile := filepath.Join(dir, "certs", "master.key")

	if err := GenerateSelfSignedCert(certFile, keyFile, "master", "10.0.0.5", "queue.local"); err != nil {
		t.Fatalf("GenerateSelfSignedCert() error = %v", err)
	}

	info, err := os.Stat(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key permissions = %o, want 600", perm)
	}

	raw, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		t.Fatal("certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if err := cert.VerifyHostname("queue.local"); err != nil {
		t.Errorf("extra DNS name missing: %v", err)
	}
	if err := cert.VerifyHostname("10.0.0.5"); err != nil {
		t.Errorf("extra IP missing: %v", err)
	}
}

func TestClientTrustsGeneratedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	if err := GenerateSelfSignedCert(certFile, keyFile, "fakemaster"); err != nil {
		t.Fatal(err)
	}

	serverCfg, err := LoadServerConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadServerConfig() error = %v", err)
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	clientCfg, err := LoadClientConfig(certFile)
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request over TLS failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig("")
	if cfg != nil || err != nil {
		t.Errorf("empty CA should give nil config, got %v, %v", cfg, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClientConfig(bad); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("expected read error")
	}
}
