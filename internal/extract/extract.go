// Package extract turns session transcript events into typed learning
// candidates using per-category pattern rules. Extraction is pure: it
// never touches the store, and a sentence that fails to normalize is
// dropped rather than failing the batch.
package extract

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/store"
	"github.com/paxtone-io/openkodo/internal/transcript"
)

const (
	// maxEventText bounds how much of one event is scanned.
	maxEventText = 100_000

	// minStatementLen drops fragments too short to carry meaning.
	minStatementLen = 12

	// maxStatementLen caps a normalized statement.
	maxStatementLen = 280

	// maxExcerptLen caps the evidence excerpt kept with a candidate.
	maxExcerptLen = 200
)

// Signal grades the language strength behind a candidate and maps to
// the initial confidence the curator assigns.
type Signal string

const (
	// SignalCorrective marks explicit corrective language ("never",
	// "must", "no, actually"). Starts records at high confidence.
	SignalCorrective Signal = "corrective"

	// SignalConfirmed marks statements describing something that worked
	// or was settled. Starts records at medium confidence.
	SignalConfirmed Signal = "confirmed"

	// SignalSpeculative marks hedged language ("maybe", "I think").
	// Starts records at low confidence.
	SignalSpeculative Signal = "speculative"
)

// ValidSignals enumerates the closed set of signal strengths.
var ValidSignals = map[Signal]bool{
	SignalCorrective:  true,
	SignalConfirmed:   true,
	SignalSpeculative: true,
}

// Confidence maps a signal to the confidence a fresh record starts at.
func (s Signal) Confidence() store.Confidence {
	switch s {
	case SignalCorrective:
		return store.ConfidenceHigh
	case SignalConfirmed:
		return store.ConfidenceMedium
	default:
		return store.ConfidenceLow
	}
}

// Candidate is a potential learning found in one event. The curator
// decides whether it becomes a record or merges into an existing one.
type Candidate struct {
	Category   store.Category
	Statement  string
	Signal     Signal
	Pattern    string
	AgentScope string
	Evidence   store.EvidenceRef
}

// Options configures an Extractor.
type Options struct {
	// CustomRules are evaluated before the built-in rules, so a project
	// can shadow them. Invalid patterns are skipped with a warning.
	CustomRules []CustomRule

	// AgentScope is stamped onto every candidate when set.
	AgentScope string

	Logger *zap.Logger
}

// Extractor applies pattern rules to transcript events. All regexes
// are compiled at construction; Extract is safe for concurrent use.
type Extractor struct {
	rules      []*rule
	agentScope string
	logger     *zap.Logger
}

// speculativeRe downgrades any match to a speculative signal. A hedge
// anywhere in the sentence outweighs the pattern's own strength.
var speculativeRe = regexp.MustCompile(`(?i)\b(?:maybe|perhaps|might|possibly|probably|i think|not sure|could try|tentative)\b`)

// New builds an Extractor with custom rules ahead of the built-ins.
func New(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := make([]*rule, 0, len(opts.CustomRules)+16)
	for _, cr := range opts.CustomRules {
		r, err := cr.compile()
		if err != nil {
			logger.Warn("skipping invalid custom pattern rule",
				zap.String("rule", cr.Name), zap.Error(err))
			continue
		}
		rules = append(rules, r)
	}
	rules = append(rules, builtinRules()...)

	return &Extractor{
		rules:      rules,
		agentScope: opts.AgentScope,
		logger:     logger,
	}
}

// Extract scans events sentence by sentence. A sentence can yield at
// most one candidate per category, and categories are independent, so
// one sentence may produce several candidates.
func (e *Extractor) Extract(events []transcript.Event) []Candidate {
	var out []Candidate
	for i := range events {
		out = append(out, e.extractEvent(&events[i])...)
	}
	return out
}

func (e *Extractor) extractEvent(ev *transcript.Event) []Candidate {
	text := ev.Text
	if text == "" {
		return nil
	}
	if len(text) > maxEventText {
		text = text[:maxEventText]
	}

	var out []Candidate
	for _, sentence := range splitSentences(text) {
		statement := normalizeStatement(sentence)
		if statement == "" {
			continue
		}

		matched := make(map[store.Category]bool, 2)
		for _, r := range e.rules {
			if matched[r.category] {
				continue
			}
			if !r.regex.MatchString(sentence) {
				continue
			}
			matched[r.category] = true

			signal := r.signal
			if signal != SignalSpeculative && speculativeRe.MatchString(sentence) {
				signal = SignalSpeculative
			}

			out = append(out, Candidate{
				Category:   r.category,
				Statement:  statement,
				Signal:     signal,
				Pattern:    r.name,
				AgentScope: e.agentScope,
				Evidence: store.EvidenceRef{
					SessionID: ev.SessionID,
					EventID:   ev.EventID,
					Branch:    ev.GitBranch,
					Excerpt:   clip(strings.TrimSpace(sentence), maxExcerptLen),
				},
			})
		}
	}
	return out
}

// splitSentences breaks text on sentence terminators and newlines.
// Markdown bullets arrive as their own lines, so a newline is treated
// as a boundary even without punctuation.
func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s|[.!?]+$|\n+`)

// normalizeStatement collapses whitespace, strips list markers and
// trailing punctuation, and enforces length bounds. Returns "" when the
// sentence cannot become a well-formed statement.
func normalizeStatement(sentence string) string {
	s := strings.TrimSpace(sentence)
	s = strings.TrimLeft(s, "-*>• \t")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".!?:;, ")
	if len(s) < minStatementLen {
		return ""
	}
	return clip(s, maxStatementLen)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
