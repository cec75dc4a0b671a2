// Package embeddings generates vector embeddings for learning records.
//
// Three providers are supported: fastembed runs local ONNX models and
// needs a cgo build, openai talks to any OpenAI-compatible HTTP API
// (including TEI servers), and none disables embeddings entirely, in
// which case relevance ranking falls back to lexical scoring alone.
package embeddings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/vectorstore"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// DefaultFastEmbedModel is the model used when none is configured.
const DefaultFastEmbedModel = "BAAI/bge-small-en-v1.5"

// Provider is the interface embedding providers implement.
type Provider interface {
	vectorstore.Embedder

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is one of "none", "fastembed", or "openai".
	// Empty means none.
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the endpoint for the openai provider. Any
	// OpenAI-compatible server works, including TEI.
	BaseURL string
	// APIKey authenticates against the openai provider. Optional for
	// keyless local endpoints.
	APIKey string
	// CacheDir overrides where fastembed caches downloaded models.
	CacheDir string
	// RequestsPerSecond caps outbound calls for the openai provider.
	// Zero means unlimited.
	RequestsPerSecond float64
}

// FastEmbedConfig holds configuration for the local ONNX provider.
type FastEmbedConfig struct {
	// Model is the embedding model. Defaults to DefaultFastEmbedModel.
	Model string
	// CacheDir is where model files are cached.
	// Defaults to ~/.cache/kodo/models.
	CacheDir string
	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// New builds the provider named by cfg. A nil Provider with a nil
// error means embeddings are disabled.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "openai", "tei":
		return NewRemoteProvider(RemoteConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: none, fastembed, openai)", ErrInvalidConfig, cfg.Provider)
	}
}

// modelDimensions maps known model names to their embedding dimensions.
var modelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// detectDimension returns the embedding dimension for a model name,
// falling back to naming-convention heuristics for unknown models.
func detectDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "base"):
		return 768
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "small"), strings.Contains(lower, "mini"):
		return 384
	default:
		return 384
	}
}

func defaultModelCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "models")
	}
	return filepath.Join(home, ".cache", "kodo", "models")
}
