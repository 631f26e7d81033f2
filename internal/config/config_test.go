package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ECO_API_BASE_URL", "http://api.test:5000/")
	t.Setenv("ECO_API_TIMEOUT", "45s")
	t.Setenv("ECO_STORAGE_BACKEND", "Redis")
	t.Setenv("ECO_STORAGE_REDIS_ADDR", "redis:6380")
	t.Setenv("ECO_TOAST_TTL_SECONDS", "9")
	t.Setenv("ECO_TOAST_FAILURE_OPS", "register")
	t.Setenv("ECO_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.APIBaseURL != "http://api.test:5000" {
		t.Fatalf("expected trimmed base url, got %s", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 45*time.Second {
		t.Fatalf("expected api timeout 45s, got %s", cfg.APITimeout)
	}
	if cfg.StorageBackend != "redis" {
		t.Fatalf("expected lowercased backend, got %s", cfg.StorageBackend)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Fatalf("expected redis addr override, got %s", cfg.RedisAddr)
	}
	if cfg.ToastTTL != 9*time.Second {
		t.Fatalf("expected toast ttl 9s, got %s", cfg.ToastTTL)
	}
	if cfg.ToastFailureOps != "register" {
		t.Fatalf("expected failure ops override, got %s", cfg.ToastFailureOps)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %s", cfg.LogLevel)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ToastTTL != 5*time.Second {
		t.Fatalf("expected default toast ttl 5s, got %s", cfg.ToastTTL)
	}
	if cfg.StorageBackend != "file" {
		t.Fatalf("expected file backend, got %s", cfg.StorageBackend)
	}
}

func TestDefaultStoragePathUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if got, want := defaultStoragePath(), filepath.Join(home, ".ecodispose"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eco.yaml")
	data := []byte("api:\n  base_url: http://from-file:1234\nweb:\n  addr: :9999\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ECO_CONFIG_FILE", path)
	t.Setenv("ECO_WEB_ADDR", ":7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.APIBaseURL != "http://from-file:1234" {
		t.Fatalf("expected base url from file, got %s", cfg.APIBaseURL)
	}
	if cfg.WebAddr != ":7777" {
		t.Fatalf("expected env to win over file, got %s", cfg.WebAddr)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("ECO_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing config file to error")
	}
}
