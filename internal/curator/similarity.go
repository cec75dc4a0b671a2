package curator

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// DefaultDedupThreshold is the similarity score at or above which two
// statements are treated as duplicates. A tuning parameter, not a
// derived constant; override it through Options.
const DefaultDedupThreshold = 0.6

// Similarity scores how alike two statements are, in [0, 1]. The
// curator consults it on the dedup and contradiction paths; swapping
// the implementation never touches the state machine.
type Similarity interface {
	Score(a, b string) float64
}

// TokenSimilarity is the default Similarity: exact normalized
// fingerprint first, then Jaccard overlap of content tokens.
type TokenSimilarity struct{}

// Score returns 1 for fingerprint-identical statements, otherwise the
// Jaccard overlap of their content tokens.
func (TokenSimilarity) Score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if Fingerprint(a) == Fingerprint(b) {
		return 1
	}
	return jaccard(contentTokens(a), contentTokens(b))
}

// Fingerprint hashes the normalized form of a statement. Case,
// punctuation, and whitespace differences collapse to the same value.
func Fingerprint(statement string) string {
	normalized := strings.Join(normalizeTokens(statement), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// stopwords are dropped from similarity tokens so overlap scores key on
// the words that carry meaning. Fingerprints keep them: a fingerprint
// is exact normalized content, not a semantic digest.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "to": true, "of": true,
	"in": true, "for": true, "with": true, "on": true, "at": true,
	"is": true, "are": true, "be": true, "and": true, "or": true,
	"this": true, "that": true, "it": true, "its": true,
}

func normalizeTokens(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func contentTokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range normalizeTokens(s) {
		if !stopwords[tok] {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
