// Package scrub removes secrets from captured text before it is
// persisted to the knowledge base, using the Gitleaks ruleset.
package scrub

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// previewLen is how many characters of a secret survive into the
// redaction marker. Enough to recognize which credential leaked,
// useless for replay.
const previewLen = 4

// Finding is one detected secret with its location in the input.
type Finding struct {
	RuleID      string
	Description string
	Line        int
	StartCol    int
	EndCol      int
	Secret      string
}

// Options configures a Scrubber.
type Options struct {
	// Enabled turns detection on. A disabled scrubber passes text
	// through untouched.
	Enabled bool

	// ProjectDir is searched for a .gitleaks.toml allowlist.
	ProjectDir string

	// AllowlistPath points at an extra allowlist file, typically
	// .kodo/allowlist.toml. Missing files are ignored.
	AllowlistPath string

	Logger *zap.Logger
}

// Scrubber detects and redacts secrets. The underlying detector
// compiles the full Gitleaks ruleset, so build one Scrubber and reuse
// it across records.
type Scrubber struct {
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a Scrubber. When opts.Enabled is false no detector is
// constructed and Scrub passes text through.
func New(opts Options) (*Scrubber, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scrubber{logger: logger}
	if !opts.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("scrub: building detector: %w", err)
	}
	allowlist, err := LoadAllowlist(opts.ProjectDir, opts.AllowlistPath)
	if err != nil {
		return nil, err
	}
	allowlist.apply(&detector.Config)
	s.detector = detector
	return s, nil
}

// Enabled reports whether the scrubber actually detects anything.
func (s *Scrubber) Enabled() bool {
	return s.detector != nil
}

// Scrub replaces each detected secret with a [REDACTED:rule:prefix]
// marker. The marker keeps the surrounding sentence readable so the
// record still carries its meaning after scrubbing.
func (s *Scrubber) Scrub(text string) (string, []Finding) {
	if s.detector == nil || text == "" {
		return text, nil
	}

	raw := s.detector.DetectString(text)
	if len(raw) == 0 {
		return text, nil
	}

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			StartCol:    f.StartColumn,
			EndCol:      f.EndColumn,
			Secret:      f.Secret,
		})
	}

	s.logger.Debug("scrubbed secrets from captured text",
		zap.Int("findings", len(findings)))
	return redact(text, findings), findings
}

// redact replaces findings with markers, walking backwards so earlier
// replacements do not shift later column indices.
func redact(text string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(text, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]
		if f.StartCol < 0 || f.EndCol > len(line) || f.StartCol > f.EndCol {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Secret))
		lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
	}
	return strings.Join(lines, "\n")
}

func preview(secret string) string {
	if len(secret) <= previewLen {
		return secret
	}
	return secret[:previewLen]
}
