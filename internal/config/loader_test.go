package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Learning.AutoReflect)
	assert.Equal(t, "medium", cfg.Learning.ConfidenceThreshold)
	assert.Equal(t, 10, cfg.Learning.MessageThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Learning.Interval())
	assert.Equal(t, 0.6, cfg.Learning.DedupThreshold)

	assert.Equal(t, 0.3, cfg.Index.EmbeddingBlend)
	assert.Equal(t, 30*24*time.Hour, cfg.Index.HalfLife())

	assert.False(t, cfg.Embeddings.Enabled)
	assert.Equal(t, "none", cfg.Embeddings.EffectiveProvider())
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)

	assert.False(t, cfg.Qdrant.Enabled)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)

	assert.True(t, cfg.Scrub.Enabled)
	assert.Equal(t, "127.0.0.1:7433", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ExportInterval)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
learning:
  message_threshold: 5
embeddings:
  enabled: true
  provider: openai
  base_url: http://localhost:8080
  api_key: sk-test
qdrant:
  enabled: true
  host: qdrant.internal
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Learning.MessageThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30, cfg.Learning.IntervalMinutes)

	assert.Equal(t, "openai", cfg.Embeddings.EffectiveProvider())
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey.Value())
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, "learning:\n  message_threshold: 5\n")

	t.Setenv("KODO_LEARNING_MESSAGE_THRESHOLD", "3")
	t.Setenv("KODO_INDEX_EMBEDDING_BLEND", "0.5")
	t.Setenv("KODO_SCRUB_ENABLED", "false")
	t.Setenv("KODO_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("KODO_EMBEDDINGS_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Learning.MessageThreshold)
	assert.Equal(t, 0.5, cfg.Index.EmbeddingBlend)
	assert.False(t, cfg.Scrub.Enabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Embeddings.APIKey.Value())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Learning.MessageThreshold)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "insecure permissions")
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	big := "# " + strings.Repeat("x", maxConfigFileSize)
	require.NoError(t, os.WriteFile(path, []byte(big), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "too large")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad confidence", "learning:\n  confidence_threshold: extreme\n", "confidence_threshold"},
		{"zero threshold", "learning:\n  message_threshold: 0\n", "message_threshold"},
		{"blend too big", "index:\n  embedding_blend: 1.5\n", "embedding_blend"},
		{"unknown provider", "embeddings:\n  enabled: true\n  provider: cohere\n", "embeddings.provider"},
		{"enabled without provider", "embeddings:\n  enabled: true\n", "provider is none"},
		{"bad qdrant port", "qdrant:\n  enabled: true\n  port: 99999\n", "qdrant.port"},
		{"bad addr", "server:\n  addr: not-an-addr\n", "server.addr"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"bad telemetry protocol", "telemetry:\n  enabled: true\n  protocol: thrift\n", "telemetry.protocol"},
		{"insecure remote collector", "telemetry:\n  enabled: true\n  endpoint: otel.example.com:4317\n", "local endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefault(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	// The starter file parses and matches the built-in defaults.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Learning.MessageThreshold)

	// A second call never clobbers an existing file.
	require.NoError(t, os.WriteFile(path, []byte("learning:\n  message_threshold: 7\n"), 0o600))
	require.NoError(t, WriteDefault(path))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Learning.MessageThreshold)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-live-1234")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-1234", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.Equal(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
