// ABOUTME: Tests for CLI helpers
// ABOUTME: Covers health URL building and the console log handler

package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/prism-gateway/internal/config"
)

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0:8080":   "http://127.0.0.1:8080/health",
		":9000":          "http://127.0.0.1:9000/health",
		"10.0.0.5:8080":  "http://10.0.0.5:8080/health",
		"[::]:8080":      "http://127.0.0.1:8080/health",
		"localhost:8080": "http://localhost:8080/health",
	}
	for addr, want := range tests {
		assert.Equal(t, want, healthURL(addr), addr)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestConsoleHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.Debug("hidden")
	logger.With("component", "chat").WithGroup("ws").Info("frame", "type", "new_message")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF frame")
	assert.Contains(t, out, "component=chat")
	assert.Contains(t, out, "ws.type=new_message")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.Info("hidden")
	logger.Warn("slow send", "connection_id", "admin")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"connection_id":"admin"`)
}
