package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/vectorstore"
)

// hashEmbedder returns deterministic unit vectors so searches are
// reproducible without a model.
type hashEmbedder struct {
	size int
}

func (e *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *hashEmbedder) embed(text string) []float32 {
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 1000
	}
	vec := make([]float32, e.size)
	var sumSq float32
	for i := range vec {
		vec[i] = float32((hash+i)%100) / 100.0
		sumSq += vec[i] * vec[i]
	}
	norm := sqrt32(sumSq)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x / 2
	for i := 0; i < 12; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func newTestStore(t *testing.T) (*vectorstore.ChromemStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := vectorstore.NewChromemStore(
		vectorstore.ChromemConfig{Path: dir},
		&hashEmbedder{size: 16},
		zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestChromemAddAndSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.AddDocuments(ctx, "proj_learnings", []vectorstore.Document{
		{ID: "a", Content: "always run lint before pushing", Metadata: map[string]string{"category": "workflow"}},
		{ID: "b", Content: "the payments api speaks grpc"},
	})
	require.NoError(t, err)

	results, err := s.Search(ctx, "proj_learnings", "always run lint before pushing", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "workflow", results[0].Metadata["category"])
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
}

func TestChromemUpsertReplacesByID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "proj_learnings", []vectorstore.Document{
		{ID: "a", Content: "first version"},
	}))
	require.NoError(t, s.AddDocuments(ctx, "proj_learnings", []vectorstore.Document{
		{ID: "a", Content: "second version"},
	}))

	info, err := s.Info(ctx, "proj_learnings")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PointCount)

	results, err := s.Search(ctx, "proj_learnings", "second version", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second version", results[0].Content)
}

func TestChromemDeleteDocuments(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "proj_learnings", []vectorstore.Document{
		{ID: "a", Content: "keep"},
		{ID: "b", Content: "drop"},
	}))
	require.NoError(t, s.DeleteDocuments(ctx, "proj_learnings", []string{"b"}))

	info, err := s.Info(ctx, "proj_learnings")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PointCount)
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "proj_learnings", []vectorstore.Document{
		{ID: "a", Content: "durable"},
	}))
	require.NoError(t, s.Close())

	reopened, err := vectorstore.NewChromemStore(
		vectorstore.ChromemConfig{Path: dir},
		&hashEmbedder{size: 16},
		zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	exists, err := reopened.CollectionExists(ctx, "proj_learnings")
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := reopened.Info(ctx, "proj_learnings")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PointCount)
}

func TestChromemSearchCapsKAtCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddDocuments(ctx, "proj_learnings", []vectorstore.Document{
		{ID: "a", Content: "only one"},
	}))
	results, err := s.Search(ctx, "proj_learnings", "only one", 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, "proj_learnings", 16))
	results, err := s.Search(ctx, "proj_learnings", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemSearchMissingCollection(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Search(context.Background(), "nope_learnings", "anything", 5)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestChromemRejectsInvalidCollectionName(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.AddDocuments(ctx, "Bad-Name!", []vectorstore.Document{{ID: "a", Content: "x"}})
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	err = s.EnsureCollection(ctx, "", 16)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)
}

func TestFactorySelectsProvider(t *testing.T) {
	s, err := vectorstore.New(vectorstore.Config{
		Provider: "chromem",
		Chromem:  vectorstore.ChromemConfig{Path: t.TempDir()},
	}, &hashEmbedder{size: 16}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &vectorstore.ChromemStore{}, s)

	_, err = vectorstore.New(vectorstore.Config{Provider: "pinecone"}, &hashEmbedder{size: 16}, zap.NewNop())
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
