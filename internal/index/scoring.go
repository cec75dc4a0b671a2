package index

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/paxtone-io/openkodo/internal/store"
)

// stopwords are function words dropped from lexical features.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "in": {},
	"for": {}, "with": {}, "on": {}, "at": {}, "is": {}, "are": {},
	"be": {}, "and": {}, "or": {}, "this": {}, "that": {}, "it": {},
	"its": {},
}

// tokenize lowercases text and returns its unique content tokens in
// first-seen order.
func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	fields := strings.Fields(cleaned)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// lexicalScore is the fraction of query terms found in the document.
func lexicalScore(terms []string, d *doc) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, t := range terms {
		if _, ok := d.tokenSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// confidenceWeight scales scores so trusted records outrank tentative
// ones at equal relevance.
func confidenceWeight(c store.Confidence) float64 {
	switch c {
	case store.ConfidenceHigh:
		return 1.0
	case store.ConfidenceMedium:
		return 0.7
	default:
		return 0.4
	}
}

// recencyWeight halves a record's weight every half-life.
func (ix *Index) recencyWeight(updatedAt time.Time) float64 {
	age := ix.now().UTC().Sub(updatedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/ix.halfLife.Hours())
}
