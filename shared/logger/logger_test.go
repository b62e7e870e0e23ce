package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew_JSONLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logDebug  bool
		wantLevel string
	}{
		{name: "debug enabled", level: "debug", logDebug: true, wantLevel: "DEBUG"},
		{name: "info drops debug", level: "info", logDebug: false, wantLevel: "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("debug message")
			if !tt.logDebug {
				assert.Empty(t, output.String())
				logger.Info("info message")
			}

			entry := decode(t, output)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Contains(t, entry, "time")
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	logger.Info("job enqueued", slog.String("job_id", "job_abc"))

	assert.Contains(t, output.String(), "job enqueued")
	assert.Contains(t, output.String(), "job_id=job_abc")
	assert.NotContains(t, output.String(), "\x1b[", "colors are off for test writers")
}

func TestNew_ServiceAttribute(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", Service: "clipping-worker-service", writer: output})
	require.NoError(t, err)

	logger.Info("started")
	assert.Equal(t, "clipping-worker-service", decode(t, output)["service"])
}

func TestNew_RedactsSecrets(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", writer: output})
	require.NoError(t, err)

	logger.Info("connecting",
		slog.String("host", "browserless"),
		slog.String("Token", "s3cr3t"),
		slog.String("api_key", "sk-ant-123"),
		slog.String("password", ""),
	)

	entry := decode(t, output)
	assert.Equal(t, "browserless", entry["host"])
	assert.Equal(t, redacted, entry["Token"])
	assert.Equal(t, redacted, entry["api_key"])
	assert.Equal(t, "", entry["password"], "empty values stay empty")
	assert.NotContains(t, output.String(), "s3cr3t")
}

func TestNew_CustomRedactKeys(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", RedactKeys: []string{"webhook_url"}, writer: output})
	require.NoError(t, err)

	logger.Info("notifying", slog.String("webhook_url", "https://hooks.slack.com/x"), slog.String("token", "kept"))

	entry := decode(t, output)
	assert.Equal(t, redacted, entry["webhook_url"])
	assert.Equal(t, "kept", entry["token"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("job completed", slog.String("job_id", "job_abc"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"job_id":"job_abc"`)
}

func TestNew_BadFileOutput(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	l := Discard()
	require.NotNil(t, l)
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
