package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RemoteConfig holds configuration for the OpenAI-compatible provider.
type RemoteConfig struct {
	// BaseURL is the API endpoint, e.g. https://api.openai.com/v1 or a
	// local TEI server.
	BaseURL string
	// Model is the embedding model name.
	Model string
	// APIKey authenticates requests. Optional for keyless endpoints.
	APIKey string
	// RequestsPerSecond caps outbound calls. Zero means unlimited.
	RequestsPerSecond float64
}

// RemoteProvider generates embeddings through an OpenAI-compatible API.
type RemoteProvider struct {
	embedder  *embeddings.EmbedderImpl
	limiter   *rate.Limiter
	modelName string
	dimension int
}

// NewRemoteProvider creates a provider backed by an OpenAI-compatible
// endpoint. TEI servers work with an empty API key.
func NewRemoteProvider(cfg RemoteConfig, logger *zap.Logger) (*RemoteProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for keyless endpoints.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return newRemoteProvider(llm, cfg, logger)
}

// newRemoteProvider wires an EmbedderClient directly so tests can
// substitute a fake client.
func newRemoteProvider(client embeddings.EmbedderClient, cfg RemoteConfig, logger *zap.Logger) (*RemoteProvider, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("remote embedding provider configured",
		zap.String("model", cfg.Model),
		zap.String("base_url", cfg.BaseURL),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond))

	return &RemoteProvider{
		embedder:  embedder,
		limiter:   limiter,
		modelName: cfg.Model,
		dimension: detectDimension(cfg.Model),
	}, nil
}

// EmbedDocuments generates embeddings for a batch of texts.
func (p *RemoteProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query string.
func (p *RemoteProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *RemoteProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the provider holds no persistent connections.
func (p *RemoteProvider) Close() error {
	return nil
}

func (p *RemoteProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

var _ Provider = (*RemoteProvider)(nil)
