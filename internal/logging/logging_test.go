package logging

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/paxtone-io/openkodo/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"}, nil)
	require.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "kodo.log")

	logger, err := New(config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		File:       logFile,
		MaxSizeMB:  10,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}, nil)
	require.NoError(t, err)

	logger.Info("reflection complete", zap.String("session", "sess-1"))
	require.NoError(t, Sync(logger))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "reflection complete", entry["msg"])
	assert.Equal(t, "sess-1", entry["session"])
	assert.NotEmpty(t, entry["ts"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewConsoleToStderr(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "console"}, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Debug is below the configured level.
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestSyncToleratesTerminalErrors(t *testing.T) {
	assert.True(t, isTerminalSyncError(syscall.EINVAL))
	assert.True(t, isTerminalSyncError(syscall.ENOTTY))
	assert.True(t, isTerminalSyncError(&fs.PathError{Op: "sync", Path: "/dev/stderr", Err: syscall.EINVAL}))
	assert.False(t, isTerminalSyncError(errors.New("disk full")))
	assert.False(t, isTerminalSyncError(nil))

	logger, err := New(config.LoggingConfig{Level: "info", Format: "console"}, nil)
	require.NoError(t, err)
	logger.Info("flush me")
	assert.NoError(t, Sync(logger))
}
