// Package config loads project settings for kodo.
//
// Settings come from three layers, lowest precedence first: built-in
// defaults, the project's .kodo/config.yaml, and KODO_-prefixed
// environment variables (a .env file in the working directory is
// folded into the environment before the last layer applies).
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds the complete kodo configuration.
type Config struct {
	Learning   LearningConfig   `koanf:"learning"`
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Scrub      ScrubConfig      `koanf:"scrub"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// LearningConfig tunes the capture pipeline.
type LearningConfig struct {
	// AutoReflect lets hook events run the capture pipeline when the
	// trigger controller fires.
	AutoReflect bool `koanf:"auto_reflect"`

	// ConfidenceThreshold is the minimum confidence served by default:
	// high, medium or low.
	ConfidenceThreshold string `koanf:"confidence_threshold"`

	// MessageThreshold fires a reflection every N session events.
	MessageThreshold int `koanf:"message_threshold"`

	// IntervalMinutes fires a reflection after this much wall-clock
	// time since the previous one.
	IntervalMinutes int `koanf:"interval_minutes"`

	// DedupThreshold is the statement similarity at which two
	// candidates merge, in (0,1].
	DedupThreshold float64 `koanf:"dedup_threshold"`
}

// Interval returns the reflection interval as a duration.
func (c LearningConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// IndexConfig tunes relevance ranking.
type IndexConfig struct {
	// EmbeddingBlend is the semantic share of a blended score, in (0,1].
	EmbeddingBlend float64 `koanf:"embedding_blend"`

	// HalfLifeDays controls recency decay.
	HalfLifeDays int `koanf:"half_life_days"`
}

// HalfLife returns the recency half-life as a duration.
func (c IndexConfig) HalfLife() time.Duration {
	return time.Duration(c.HalfLifeDays) * 24 * time.Hour
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Enabled bool `koanf:"enabled"`

	// Provider is one of none, fastembed, openai, tei.
	Provider string `koanf:"provider"`

	Model string `koanf:"model"`

	// BaseURL points remote providers at an OpenAI-compatible endpoint.
	BaseURL string `koanf:"base_url"`

	APIKey Secret `koanf:"api_key"`

	// RequestsPerSecond caps remote embedding calls. Zero disables the
	// limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// EffectiveProvider returns the provider honoring the Enabled switch.
func (c EmbeddingsConfig) EffectiveProvider() string {
	if !c.Enabled {
		return "none"
	}
	return c.Provider
}

// QdrantConfig switches the vector backend from embedded chromem to a
// qdrant server.
type QdrantConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	APIKey  Secret `koanf:"api_key"`
	UseTLS  bool   `koanf:"use_tls"`
}

// ScrubConfig controls secret redaction on captured statements.
type ScrubConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ServerConfig holds the read-only HTTP API settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is console or json.
	Format string `koanf:"format"`

	// File switches output from stderr to a rotated log file.
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// TelemetryConfig controls OTLP trace and metric export. Disabled by
// default; every command works fully without a collector.
type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP collector address as host:port.
	Endpoint string `koanf:"endpoint"`

	// Protocol is grpc or http/protobuf.
	Protocol string `koanf:"protocol"`

	// Insecure skips TLS. Accepted only for local endpoints.
	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `koanf:"sample_rate"`

	MetricsEnabled bool          `koanf:"metrics_enabled"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// defaultsYAML is the lowest layer of the precedence stack. Every knob
// appears here so the zero value of a section never leaks through.
const defaultsYAML = `
learning:
  auto_reflect: true
  confidence_threshold: medium
  message_threshold: 10
  interval_minutes: 30
  dedup_threshold: 0.6
index:
  embedding_blend: 0.3
  half_life_days: 30
embeddings:
  enabled: false
  provider: none
  model: BAAI/bge-small-en-v1.5
  requests_per_second: 0
qdrant:
  enabled: false
  host: localhost
  port: 6334
  use_tls: false
scrub:
  enabled: true
server:
  addr: 127.0.0.1:7433
  shutdown_timeout: 10s
logging:
  level: info
  format: console
  max_size_mb: 10
  max_backups: 3
  max_age_days: 30
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  insecure: true
  sample_rate: 1.0
  metrics_enabled: true
  export_interval: 15s
`

// Validate checks ranges and enums after all layers have merged.
func (c *Config) Validate() error {
	switch c.Learning.ConfidenceThreshold {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("invalid learning.confidence_threshold: %q (must be high, medium or low)",
			c.Learning.ConfidenceThreshold)
	}
	if c.Learning.MessageThreshold < 1 {
		return fmt.Errorf("invalid learning.message_threshold: %d (must be at least 1)",
			c.Learning.MessageThreshold)
	}
	if c.Learning.IntervalMinutes < 1 {
		return fmt.Errorf("invalid learning.interval_minutes: %d (must be at least 1)",
			c.Learning.IntervalMinutes)
	}
	if c.Learning.DedupThreshold <= 0 || c.Learning.DedupThreshold > 1 {
		return fmt.Errorf("invalid learning.dedup_threshold: %g (must be in (0,1])",
			c.Learning.DedupThreshold)
	}

	if c.Index.EmbeddingBlend <= 0 || c.Index.EmbeddingBlend > 1 {
		return fmt.Errorf("invalid index.embedding_blend: %g (must be in (0,1])",
			c.Index.EmbeddingBlend)
	}
	if c.Index.HalfLifeDays < 1 {
		return fmt.Errorf("invalid index.half_life_days: %d (must be at least 1)",
			c.Index.HalfLifeDays)
	}

	switch c.Embeddings.EffectiveProvider() {
	case "none", "fastembed", "openai", "tei":
	default:
		return fmt.Errorf("invalid embeddings.provider: %q (must be none, fastembed, openai or tei)",
			c.Embeddings.Provider)
	}
	if c.Embeddings.Enabled && (c.Embeddings.Provider == "" || c.Embeddings.Provider == "none") {
		return errors.New("embeddings.enabled is true but embeddings.provider is none")
	}

	if c.Qdrant.Enabled {
		if c.Qdrant.Host == "" {
			return errors.New("qdrant.enabled is true but qdrant.host is empty")
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant.port: %d (must be 1-65535)", c.Qdrant.Port)
		}
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server.addr: %q: %w", c.Server.Addr, err)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn or error)",
			c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format: %q (must be console or json)",
			c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.enabled is true but telemetry.endpoint is empty")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("invalid telemetry.protocol: %q (must be grpc or http/protobuf)",
				c.Telemetry.Protocol)
		}
		if c.Telemetry.Insecure && !isLocalEndpoint(c.Telemetry.Endpoint) {
			return fmt.Errorf("telemetry.insecure requires a local endpoint, got %q", c.Telemetry.Endpoint)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("invalid telemetry.sample_rate: %g (must be in [0,1])",
				c.Telemetry.SampleRate)
		}
		if c.Telemetry.MetricsEnabled && c.Telemetry.ExportInterval <= 0 {
			return errors.New("telemetry.export_interval must be positive when metrics are enabled")
		}
	}
	return nil
}

// isLocalEndpoint reports whether an OTLP endpoint points at this host.
func isLocalEndpoint(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
