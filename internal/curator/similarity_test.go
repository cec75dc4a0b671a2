package curator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintCollapsesFormatting(t *testing.T) {
	a := Fingerprint("Always use table-driven tests.")
	b := Fingerprint("always   use table driven tests!")
	assert.Equal(t, a, b)

	c := Fingerprint("never use table-driven tests")
	assert.NotEqual(t, a, c)
}

func TestTokenSimilarityExactMatch(t *testing.T) {
	var sim TokenSimilarity
	score := sim.Score("Run make lint before pushing", "run MAKE lint before pushing.")
	assert.Equal(t, 1.0, score)
}

func TestTokenSimilarityIgnoresStopwords(t *testing.T) {
	var sim TokenSimilarity
	score := sim.Score("use the cache for the hot path", "use cache for hot path")
	assert.Equal(t, 1.0, score)
}

func TestTokenSimilarityPartialOverlap(t *testing.T) {
	var sim TokenSimilarity
	score := sim.Score(
		"Always use table-driven tests for parsers",
		"Always use table-driven tests when building parsers")
	assert.InDelta(t, 0.75, score, 0.0001)
}

func TestTokenSimilarityDisjoint(t *testing.T) {
	var sim TokenSimilarity
	assert.Zero(t, sim.Score("deploy on fridays", "sqlite cursors"))
	assert.Zero(t, sim.Score("", "anything"))
}
