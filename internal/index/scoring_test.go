package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paxtone-io/openkodo/internal/store"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"lowercases and splits", "Always use Error handling!", []string{"always", "use", "error", "handling"}},
		{"drops stopwords", "the cache is in the pool", []string{"cache", "pool"}},
		{"dedupes", "retry retry RETRY", []string{"retry"}},
		{"keeps digits", "use sqlite3 everywhere", []string{"use", "sqlite3", "everywhere"}},
		{"splits punctuation", "store/layout.go: DirName", []string{"store", "layout", "go", "dirname"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.input))
		})
	}

	assert.Empty(t, tokenize(""))
	assert.Empty(t, tokenize("--- ///"))
	assert.Empty(t, tokenize("the and or"))
}

func TestLexicalScore(t *testing.T) {
	d := &doc{Tokens: tokenize("retry logic needs careful limits")}
	d.buildTokenSet()

	assert.Equal(t, 1.0, lexicalScore([]string{"retry", "logic"}, d))
	assert.Equal(t, 0.5, lexicalScore([]string{"retry", "missing"}, d))
	assert.Equal(t, 0.0, lexicalScore([]string{"absent"}, d))
	assert.Equal(t, 0.0, lexicalScore(nil, d))
}

func TestConfidenceWeight(t *testing.T) {
	assert.Equal(t, 1.0, confidenceWeight(store.ConfidenceHigh))
	assert.Equal(t, 0.7, confidenceWeight(store.ConfidenceMedium))
	assert.Equal(t, 0.4, confidenceWeight(store.ConfidenceLow))
	assert.Equal(t, 0.4, confidenceWeight(store.Confidence("unknown")))
}

func TestRecencyWeight(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	ix := &Index{halfLife: DefaultHalfLife, now: func() time.Time { return now }}

	assert.Equal(t, 1.0, ix.recencyWeight(now))
	assert.Equal(t, 1.0, ix.recencyWeight(now.Add(time.Hour)))
	assert.InDelta(t, 0.5, ix.recencyWeight(now.Add(-DefaultHalfLife)), 0.0001)
	assert.InDelta(t, 0.25, ix.recencyWeight(now.Add(-2*DefaultHalfLife)), 0.0001)
}
