// ABOUTME: Tests for command helpers: config paths, logger setup and init output
// ABOUTME: The generated config must load cleanly through the config package

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dingdoor/chat-gateway/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CHAT_GATEWAY_CONFIG", "/etc/chat-gateway.toml")
	assert.Equal(t, "/etc/chat-gateway.toml", getConfigPath())

	t.Setenv("CHAT_GATEWAY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "chat-gateway", "config.yaml"), getConfigPath())
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	logger.Info("hidden")
	logger.With("component", "gateway").Warn("shown", "user_id", "u1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "gateway", rec["component"])
	assert.Equal(t, "u1", rec["user_id"])
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	logger.With("component", "store").WithGroup("req").Debug("query", "rows", 3)

	out := buf.String()
	assert.Contains(t, out, "query")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "store")
	assert.Contains(t, out, "req.rows=")
}

func TestWriteConfig_LoadsBack(t *testing.T) {
	t.Setenv("CHAT_GATEWAY_SIGNING_SECRET", "s3cret")
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writeConfig(f, initAnswers{
		HTTPAddr:      "localhost:8080",
		DBPath:        filepath.Join(dir, "chat.db"),
		AssistantURL:  "http://assistant",
		EscalationURL: "http://assistant/summary",
		HandoffURL:    "http://routing/handoff",
		Bucket:        "attachments",
		Region:        "us-east-1",
		Endpoint:      "http://minio:9000",
		Timezone:      "America/New_York",
		LogLevel:      "info",
		LogFormat:     "text",
		Metrics:       true,
	}))
	require.NoError(t, f.Close())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Assistant.SigningSecret)
	assert.True(t, cfg.Storage.PathStyle)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 17, cfg.Handoff.CloseHour)
}

func TestPrompt(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("\ncustom\n"))
	assert.Equal(t, "def", prompt(reader, "q", "def"))
	assert.Equal(t, "custom", prompt(reader, "q", "def"))
	assert.Equal(t, "def", prompt(reader, "q", "def"), "EOF falls back to default")
}
