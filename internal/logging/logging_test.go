package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"ecodispose/client/internal/config"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	logger, closer, err := New(config.Config{LogLevel: "debug", LogFormat: "json", LogFile: path})
	if err != nil {
		t.Fatalf("logger error: %v", err)
	}
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
	logger.WithField("component", "test").Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("expected json field in log, got %s", data)
	}
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	if _, _, err := New(config.Config{LogLevel: "loud"}); err == nil {
		t.Fatalf("expected invalid level to error")
	}
	if _, _, err := New(config.Config{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatalf("expected invalid format to error")
	}
}
