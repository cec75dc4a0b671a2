package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/paxtone-io/openkodo/internal/store"
)

// rule pairs a compiled regex with the category it detects and the
// signal strength it implies. Within a category the first match wins,
// so more specific patterns are listed first.
type rule struct {
	name     string
	category store.Category
	regex    *regexp.Regexp
	signal   Signal
}

// CustomRule is a user-defined pattern loaded from patterns.toml.
// Projects use these to capture team-specific phrasing the built-in
// rules cannot know about.
type CustomRule struct {
	Name     string `toml:"name"`
	Category string `toml:"category"`
	Pattern  string `toml:"pattern"`
	Signal   string `toml:"signal"`
}

func (cr CustomRule) compile() (*rule, error) {
	category := store.Category(cr.Category)
	if !store.IsValidCategory(category) {
		return nil, fmt.Errorf("unknown category %q", cr.Category)
	}
	signal := Signal(cr.Signal)
	if cr.Signal == "" {
		signal = SignalConfirmed
	} else if !ValidSignals[signal] {
		return nil, fmt.Errorf("unknown signal %q", cr.Signal)
	}
	re, err := regexp.Compile(cr.Pattern)
	if err != nil {
		return nil, fmt.Errorf("bad pattern: %w", err)
	}
	name := cr.Name
	if name == "" {
		name = "custom"
	}
	return &rule{name: name, category: category, regex: re, signal: signal}, nil
}

// LoadRules reads custom rules from a patterns.toml file. A missing
// file is fine; a present but unparsable one is a configuration error.
func LoadRules(path string) ([]CustomRule, error) {
	if path == "" {
		return nil, nil
	}
	var doc struct {
		Rule []CustomRule `toml:"rule"`
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc.Rule, nil
}

// builtinRules returns the default per-category pattern rules. Bounded
// quantifiers ([^.!?\n]{n,m}) keep pathological inputs from blowing up
// the matcher.
func builtinRules() []*rule {
	return []*rule{
		// rule: imperatives with strong modal verbs. Corrective phrasing
		// outranks the plain modals.
		{
			name:     "correction",
			category: store.CategoryRule,
			regex:    regexp.MustCompile(`(?i)\b(?:no,\s+(?:always|never|use|don'?t)|actually[,:]?\s+(?:always|never|use|you should)|that'?s\s+(?:wrong|incorrect|not right)|stop\s+(?:doing|using)\s)`),
			signal:   SignalCorrective,
		},
		{
			name:     "always_never",
			category: store.CategoryRule,
			regex:    regexp.MustCompile(`(?i)\b(?:always|never)\s+[a-z][^.!?\n]{2,200}`),
			signal:   SignalCorrective,
		},
		{
			name:     "must_not",
			category: store.CategoryRule,
			regex:    regexp.MustCompile(`(?i)\b(?:must(?:\s+not)?|do\s+not|don'?t|avoid)\s+[a-z][^.!?\n]{2,200}`),
			signal:   SignalCorrective,
		},
		{
			name:     "should_prefer",
			category: store.CategoryRule,
			regex:    regexp.MustCompile(`(?i)\b(?:should(?:\s+not)?|prefer|stick\s+(?:to|with)|make\s+sure(?:\s+to)?)\s+[^.!?\n]{3,200}`),
			signal:   SignalConfirmed,
		},

		// decision: justification-shaped sentences.
		{
			name:     "chose_over",
			category: store.CategoryDecision,
			regex:    regexp.MustCompile(`(?i)\bcho(?:se|osing)\s+[^.!?\n]{2,120}\s+over\s+[^.!?\n]{2,120}`),
			signal:   SignalConfirmed,
		},
		{
			name:     "decided",
			category: store.CategoryDecision,
			regex:    regexp.MustCompile(`(?i)\b(?:decided\s+(?:to|on|against)|we\s+(?:chose|picked|settled\s+on)|let'?s\s+(?:go\s+with|use|stick\s+with)|going\s+with|opted\s+(?:for|to)|settled\s+on)\s+[^.!?\n]{2,200}`),
			signal:   SignalConfirmed,
		},
		{
			name:     "tradeoff",
			category: store.CategoryDecision,
			regex:    regexp.MustCompile(`(?i)\b(?:went\s+with|picked|using)\s+[^.!?\n]{2,120}\s+(?:because|since|instead\s+of)\s+[^.!?\n]{2,200}`),
			signal:   SignalConfirmed,
		},

		// tech_stack: what the project is built on.
		{
			name:     "version_req",
			category: store.CategoryTechStack,
			regex:    regexp.MustCompile(`(?i)\b(?:requires?|needs|pinned\s+(?:at|to)|upgraded?\s+to|downgraded?\s+to)\s+[^.!?\n]{0,60}?v?\d+(?:\.\d+)+`),
			signal:   SignalConfirmed,
		},
		{
			name:     "stack_uses",
			category: store.CategoryTechStack,
			regex:    regexp.MustCompile(`(?i)\b(?:the\s+)?(?:project|repo|codebase|service|app|backend|frontend|ci)\s+(?:uses|runs\s+on|is\s+built\s+(?:with|on)|depends\s+on)\s+[^.!?\n]{2,160}`),
			signal:   SignalConfirmed,
		},
		{
			name:     "lib_for",
			category: store.CategoryTechStack,
			regex:    regexp.MustCompile(`(?i)\b(?:use[sd]?|adopt(?:ed)?|switch(?:ed)?\s+to)\s+[A-Za-z][\w.\-/]{1,60}\s+for\s+[^.!?\n]{2,120}`),
			signal:   SignalConfirmed,
		},

		// workflow: ordered steps around project activities.
		{
			name:     "before_after",
			category: store.CategoryWorkflow,
			regex:    regexp.MustCompile(`(?i)\b(?:before|after)\s+(?:push(?:ing)?|committ?(?:ing)?|merg\w*|deploy\w*|releas\w*|every\s+(?:change|pr|merge))\b`),
			signal:   SignalConfirmed,
		},
		{
			name:     "run_to",
			category: store.CategoryWorkflow,
			regex:    regexp.MustCompile(`(?i)\b(?:run|execute|invoke)\s+[^.!?\n]{2,120}\s+(?:to|before|after|when(?:ever)?)\s+[^.!?\n]{2,120}`),
			signal:   SignalConfirmed,
		},
		{
			name:     "process_step",
			category: store.CategoryWorkflow,
			regex:    regexp.MustCompile(`(?i)\b(?:the\s+(?:release|deploy|review|build)\s+process|first\s+[^.!?\n]{2,120},?\s+then\s+)`),
			signal:   SignalConfirmed,
		},

		// domain: vocabulary definitions. Case-sensitive so the term must
		// be quoted or capitalized; "this means" style prose stays out.
		{
			name:     "term_definition",
			category: store.CategoryDomain,
			regex:    regexp.MustCompile(`(?:"[^"\n]{2,60}"|\b[A-Z][\w-]{1,40})\s+(?:means|refers\s+to|stands\s+for|is\s+short\s+for|is\s+the\s+term\s+for)\s+[^.!?\n]{3,200}`),
			signal:   SignalConfirmed,
		},
		{
			name:     "known_as",
			category: store.CategoryDomain,
			regex:    regexp.MustCompile(`(?i)\bis\s+(?:called|known\s+as|our\s+name\s+for)\s+[^.!?\n]{2,120}`),
			signal:   SignalConfirmed,
		},

		// convention: naming and formatting agreements.
		{
			name:     "case_style",
			category: store.CategoryConvention,
			regex:    regexp.MustCompile(`(?i)\b(?:camelCase|snake_case|kebab-case|PascalCase|SCREAMING_SNAKE)\b`),
			signal:   SignalConfirmed,
		},
		{
			name:     "naming_rule",
			category: store.CategoryConvention,
			regex:    regexp.MustCompile(`(?i)\b(?:naming\s+convention|are\s+named|is\s+named|named?\s+(?:with|using|after)|start\s+with|end\s+with|prefixed\s+(?:by|with)|suffixed\s+(?:by|with))\b[^.!?\n]{0,160}`),
			signal:   SignalConfirmed,
		},
		{
			name:     "style_rule",
			category: store.CategoryConvention,
			regex:    regexp.MustCompile(`(?i)\b(?:style\s+guide|format(?:ted)?\s+with|lint(?:er)?s?\s+(?:require|enforce|flag)|indent(?:ation)?\s+(?:is|uses)|tabs?\s+(?:over|not)\s+spaces|spaces?\s+(?:over|not)\s+tabs)\b`),
			signal:   SignalConfirmed,
		},
	}
}

// Polarity is the direction of an imperative rule statement.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNone     Polarity = "none"
)

// fillerTokens are leading words that carry no polarity of their own.
var fillerTokens = map[string]bool{
	"no": true, "yes": true, "ok": true, "okay": true,
	"actually": true, "wait": true, "also": true, "and": true,
	"please": true, "remember": true,
}

// RulePolarity splits an imperative statement into its polarity and the
// subject that remains once the polarity keywords are stripped. Two
// rule records whose subjects match but whose polarities oppose are
// contradictions ("always X" vs "never X").
func RulePolarity(statement string) (Polarity, string) {
	tokens := strings.Fields(strings.ToLower(statement))
	for len(tokens) > 0 && fillerTokens[strings.Trim(tokens[0], ",.:;")] {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return PolarityNone, ""
	}

	head := strings.Trim(tokens[0], ",.:;")
	next := ""
	if len(tokens) > 1 {
		next = strings.Trim(tokens[1], ",.:;")
	}

	switch head {
	case "never", "don't", "dont", "avoid", "stop":
		return PolarityNegative, strings.Join(tokens[1:], " ")
	case "do", "must", "should":
		if next == "not" {
			return PolarityNegative, strings.Join(tokens[2:], " ")
		}
		return PolarityPositive, strings.Join(tokens[1:], " ")
	case "always", "prefer":
		return PolarityPositive, strings.Join(tokens[1:], " ")
	}
	return PolarityNone, strings.Join(tokens, " ")
}
