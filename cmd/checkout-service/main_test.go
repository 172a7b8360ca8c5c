package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/app"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{})
		log.SetLevel(log.InfoLevel)
	})
}

func TestSetupLogger_JSONToStdout(t *testing.T) {
	restoreLogger(t)

	cfg := app.DefaultConfig()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"

	var out bytes.Buffer
	closer, err := setupLogger(cfg, &out)
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	defer closer.Close()

	log.WithField("order_id", "o1").Debug("order placed")

	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if !strings.Contains(out.String(), `"order_id":"o1"`) {
		t.Fatalf("expected json log line, got %q", out.String())
	}
}

func TestSetupLogger_FileRotation(t *testing.T) {
	restoreLogger(t)

	cfg := app.DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "checkout.log")

	var out bytes.Buffer
	closer, err := setupLogger(cfg, &out)
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}

	log.Info("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") || !strings.Contains(out.String(), "hello file") {
		t.Fatalf("expected log line in both outputs, file=%q stdout=%q", data, out.String())
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	restoreLogger(t)

	cfg := app.DefaultConfig()
	cfg.LogLevel = "loud"
	if _, err := setupLogger(cfg, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
