package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"barsync/config"
)

// go test -v --run TestNewWithFile
func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "barsync.log")
	log, err := New(config.LogConfig{Level: "info", Format: "json", OutputFile: path, Environment: "prod"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("sync started")
	log.Debug("filtered out")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"sync started"`) {
		t.Errorf("log file missing info entry: %s", data)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Errorf("debug entry written at info level: %s", data)
	}
}

// go test -v --run TestNewInvalidLevel
func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
