package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "qe.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFileReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qe.yaml")
	raw := `
grpc_addr: quotes.example.com:443
base_rate_lamports: 75000000
request_timeout: 12s
retry_attempts: 0
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.GRPCAddr != "quotes.example.com:443" {
		t.Fatalf("grpc_addr = %q", cfg.GRPCAddr)
	}
	if cfg.BaseRateLamports != 75_000_000 {
		t.Fatalf("base_rate_lamports = %d", cfg.BaseRateLamports)
	}
	if cfg.RequestTimeout != 12*time.Second {
		t.Fatalf("request_timeout = %s", cfg.RequestTimeout)
	}
	if cfg.RetryAttempts != Default().RetryAttempts {
		t.Fatalf("expected retry fallback, got %d", cfg.RetryAttempts)
	}
	if cfg.Insecure() {
		t.Fatalf("remote address should use TLS")
	}
}

func TestLoadFileRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qe.yaml")
	if err := os.WriteFile(path, []byte("grpc_addr: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("QE_GRPC_ADDR", "localhost:6000")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "qe.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.GRPCAddr != "localhost:6000" || !cfg.Insecure() {
		t.Fatalf("expected env override on loopback, got %+v", cfg)
	}
}

func TestResolveTokenFallsBackToAuthToken(t *testing.T) {
	t.Setenv("QUOTEENGINE_TOKEN", "")
	t.Setenv("AUTH_TOKEN", "shared")
	if got := ResolveToken(Default()); got != "shared" {
		t.Fatalf("ResolveToken() = %q", got)
	}
	t.Setenv("QUOTEENGINE_TOKEN", "primary")
	if got := ResolveToken(Default()); got != "primary" {
		t.Fatalf("ResolveToken() = %q", got)
	}
}
