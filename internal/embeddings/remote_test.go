package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedderClient stands in for the OpenAI-compatible backend.
type fakeEmbedderClient struct {
	calls int
	fail  bool
}

func (f *fakeEmbedderClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("backend down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5, 0.25, 0.125}
	}
	return out, nil
}

func TestRemoteEmbedDocuments(t *testing.T) {
	fake := &fakeEmbedderClient{}
	p, err := newRemoteProvider(fake, RemoteConfig{Model: "BAAI/bge-small-en-v1.5"}, nil)
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, 384, p.Dimension())
}

func TestRemoteEmbedQuery(t *testing.T) {
	fake := &fakeEmbedderClient{}
	p, err := newRemoteProvider(fake, RemoteConfig{Model: "text-embedding-3-small"}, nil)
	require.NoError(t, err)

	vector, err := p.EmbedQuery(context.Background(), "what changed in auth")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
}

func TestRemoteEmptyInput(t *testing.T) {
	p, err := newRemoteProvider(&fakeEmbedderClient{}, RemoteConfig{Model: "m"}, nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestRemoteBackendFailure(t *testing.T) {
	p, err := newRemoteProvider(&fakeEmbedderClient{fail: true}, RemoteConfig{Model: "m"}, nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"alpha"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestRemoteRateLimiter(t *testing.T) {
	fake := &fakeEmbedderClient{}
	p, err := newRemoteProvider(fake, RemoteConfig{Model: "m", RequestsPerSecond: 1}, nil)
	require.NoError(t, err)

	// First call fits in the burst.
	_, err = p.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	// A cancelled context fails at the limiter, before the backend.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedQuery(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestRemoteNoLimiterWhenUnset(t *testing.T) {
	fake := &fakeEmbedderClient{}
	p, err := newRemoteProvider(fake, RemoteConfig{Model: "m"}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = p.EmbedQuery(context.Background(), "q")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, fake.calls)
}
