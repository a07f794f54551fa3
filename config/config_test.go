package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("AUTHCORE_JWT_PRIVATE_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("AUTHCORE_TWO_FACTOR_ENCRYPTION_KEY", "fedcba9876543210fedcba9876543210")
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := authcore.DefaultConfig()
	if cfg.JWT.AccessTTL != d.JWT.AccessTTL || cfg.TwoFactor.SetupTTL != 600*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg.JWT)
	}
	if cfg.RateLimit.Algorithm != authcore.AlgorithmSlidingWindow {
		t.Fatalf("algorithm = %q", cfg.RateLimit.Algorithm)
	}
	if string(cfg.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatal("jwt key not read from env")
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	setSecrets(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "authcore.yaml")
	yaml := []byte(`
log_level: debug
kv:
  addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
rate_limit:
  algorithm: token_bucket
  ip_limit: 50
lockout:
  window: 5m
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AUTHCORE_RATE_LIMIT_IP_LIMIT", "75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.RateLimit.Algorithm != authcore.AlgorithmTokenBucket {
		t.Fatalf("file values not applied: %q %q", cfg.LogLevel, cfg.RateLimit.Algorithm)
	}
	if cfg.RateLimit.IPLimit != 75 {
		t.Fatalf("env must override file, got %d", cfg.RateLimit.IPLimit)
	}
	if cfg.Lockout.Window != 5*time.Minute {
		t.Fatalf("lockout window = %v", cfg.Lockout.Window)
	}
	if len(cfg.KV.Addrs) != 2 {
		t.Fatalf("kv addrs = %v", cfg.KV.Addrs)
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	t.Setenv("AUTHCORE_JWT_PRIVATE_KEY", "")
	t.Setenv("AUTHCORE_TWO_FACTOR_ENCRYPTION_KEY", "")
	t.Chdir(t.TempDir())

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error without secrets")
	}
}

func TestEnvKeyBase64(t *testing.T) {
	t.Setenv("AUTHCORE_JWT_PUBLIC_KEY", "base64:AAEC")
	b, err := envKey("JWT_PUBLIC_KEY")
	if err != nil || len(b) != 3 || b[2] != 2 {
		t.Fatalf("envKey = %v, %v", b, err)
	}
	t.Setenv("AUTHCORE_JWT_PUBLIC_KEY", "base64:!!")
	if _, err := envKey("JWT_PUBLIC_KEY"); err == nil {
		t.Fatal("expected decode error")
	}
}
