package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize caps config files at 1MB.
const maxConfigFileSize = 1024 * 1024

const envPrefix = "KODO_"

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty or the file does not exist), and
// KODO_-prefixed environment variables, in that precedence order.
//
// The config file can hold API keys, so files readable by other users
// are rejected: permissions must be 0600 or 0400.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	// Fold a .env file into the environment before reading it. Missing
	// files are fine.
	_ = godotenv.Load()

	// KODO_LEARNING_MESSAGE_THRESHOLD -> learning.message_threshold.
	// The first underscore separates section from field; later
	// underscores stay in the field name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(key, "_", 2)
		if len(parts) == 1 {
			return key
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadFile reads the config file into k. The file is opened once and
// validated through its descriptor so permissions and size are checked
// on the same file that gets read.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("checking config file: %w", err)
	}
	if err := validateFileProperties(info); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// validateFileProperties rejects world-readable and oversized files.
func validateFileProperties(info os.FileInfo) error {
	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure permissions %v (expected 0600 or 0400; run chmod 600)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// defaultTemplate is the starter file written by 'kodo init'. Values
// mirror the built-in defaults.
const defaultTemplate = `# kodo project settings. Environment variables with a KODO_ prefix
# override any key here, e.g. KODO_LEARNING_MESSAGE_THRESHOLD=5.

learning:
  # Let hook events run the capture pipeline automatically.
  auto_reflect: true
  # Minimum confidence served by default: high, medium or low.
  confidence_threshold: medium
  # Reflect every N session events, or after this many quiet minutes.
  message_threshold: 10
  interval_minutes: 30
  # Statement similarity at which two candidates merge (0-1].
  dedup_threshold: 0.6

index:
  # Semantic share of a blended relevance score (0-1].
  embedding_blend: 0.3
  # Recency decay half-life.
  half_life_days: 30

embeddings:
  # Semantic search is off until a provider is configured.
  enabled: false
  # none, fastembed (local ONNX), openai or tei.
  provider: none
  model: BAAI/bge-small-en-v1.5
  # base_url: http://localhost:8080
  # api_key: ""

# Store vectors in a qdrant server instead of the embedded database.
# qdrant:
#   enabled: true
#   host: localhost
#   port: 6334

scrub:
  # Redact detected credentials from captured statements.
  enabled: true

server:
  addr: 127.0.0.1:7433

logging:
  level: info
  format: console

# Export traces and metrics to an OTLP collector.
# telemetry:
#   enabled: true
#   endpoint: localhost:4317
`

// WriteDefault writes the starter config at path unless one already
// exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking config file: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
