// Package contextgen assembles relevance-ranked records into a
// token-budgeted block ready for prompt injection.
//
// The generator never touches the record store: the index projection
// carries everything the three detail levels render. Selection is by
// score; the timeline level re-orders the selected items
// chronologically for display.
package contextgen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/extract"
	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

// DefaultMaxItems bounds a bundle when the request does not.
const DefaultMaxItems = 10

var genTracer = otel.Tracer("openkodo.contextgen")

// Detail selects how much of each record a bundle renders.
type Detail string

const (
	// DetailCompact renders one summary line per record.
	DetailCompact Detail = "compact"

	// DetailTimeline renders dated excerpts in chronological order.
	DetailTimeline Detail = "timeline"

	// DetailFull renders complete record bodies.
	DetailFull Detail = "full"
)

// Valid reports whether d names a known detail level.
func (d Detail) Valid() bool {
	switch d {
	case DetailCompact, DetailTimeline, DetailFull:
		return true
	}
	return false
}

// budgetPerItem is the average token weight a detail level is expected
// to spend per record. MaxItems times this is the bundle budget.
func (d Detail) budgetPerItem() int {
	switch d {
	case DetailFull:
		return 200
	case DetailTimeline:
		return 80
	default:
		return 40
	}
}

// Request describes one context generation call.
type Request struct {
	// Prompt is free text to rank against, typically the user's
	// upcoming message.
	Prompt string

	// Files are paths the session is touching. They feed the query both
	// as raw path vocabulary and as suggested tags.
	Files []string

	// MaxItems caps the bundle. Zero means DefaultMaxItems.
	MaxItems int

	// MinScore drops records ranked below it.
	MinScore float64

	// AgentScope includes records scoped to this agent.
	AgentScope string

	// Detail picks the render level. Empty means DetailCompact.
	Detail Detail
}

// Item is one rendered record in a bundle.
type Item struct {
	ID         string           `json:"id"`
	Kind       store.RecordKind `json:"kind"`
	Title      string           `json:"title"`
	Category   store.Category   `json:"category,omitempty"`
	Domain     string           `json:"domain,omitempty"`
	Topic      string           `json:"topic,omitempty"`
	Confidence store.Confidence `json:"confidence"`
	Score      float64          `json:"score"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Tokens     int              `json:"tokens"`
	Text       string           `json:"text"`
}

// Bundle is the generated context block plus its accounting.
type Bundle struct {
	Items       []Item    `json:"items"`
	Query       string    `json:"query,omitempty"`
	Detail      Detail    `json:"detail"`
	TotalTokens int       `json:"total_tokens"`
	Budget      int       `json:"budget"`
	Truncated   bool      `json:"truncated"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Markdown renders the bundle for prompt injection.
func (b *Bundle) Markdown() string {
	if len(b.Items) == 0 {
		return ""
	}
	sep := "\n"
	if b.Detail == DetailFull {
		sep = "\n\n"
	}
	texts := make([]string, len(b.Items))
	for i, it := range b.Items {
		texts[i] = it.Text
	}
	return strings.Join(texts, sep) + "\n"
}

// Searcher is the index surface the generator consumes.
type Searcher interface {
	Search(ctx context.Context, query string, opts index.SearchOptions) ([]index.RankedResult, error)
}

// Options configures a Generator.
type Options struct {
	// Index serves the ranked candidates. Required.
	Index Searcher

	// Tagger converts file lists into tag signals. Nil skips tagging.
	Tagger *extract.Tagger

	// MinConfidence keeps records below this confidence level out of
	// bundles. Empty admits all levels. Explicit queries are not
	// affected; the floor only guards what gets injected unasked.
	MinConfidence store.Confidence

	Logger *zap.Logger
	Clock  func() time.Time
}

// Generator turns requests into context bundles.
type Generator struct {
	index         Searcher
	tagger        *extract.Tagger
	minConfidence store.Confidence
	logger        *zap.Logger
	now           func() time.Time
}

// New creates a Generator.
func New(opts Options) (*Generator, error) {
	if opts.Index == nil {
		return nil, errors.New("contextgen: index is required")
	}
	g := &Generator{
		index:         opts.Index,
		tagger:        opts.Tagger,
		minConfidence: opts.MinConfidence,
		logger:        opts.Logger,
		now:           opts.Clock,
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Generate queries the index with the request's prompt and file
// signals, then renders at most MaxItems records within the detail
// level's token budget. With neither prompt nor files the bundle holds
// the highest-confidence records overall.
func (g *Generator) Generate(ctx context.Context, req Request) (*Bundle, error) {
	ctx, span := genTracer.Start(ctx, "contextgen.generate")
	defer span.End()

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	detail := req.Detail
	if detail == "" {
		detail = DetailCompact
	}
	if !detail.Valid() {
		return nil, fmt.Errorf("contextgen: unknown detail level %q", req.Detail)
	}

	query := g.buildQuery(req)
	results, err := g.index.Search(ctx, query, index.SearchOptions{
		Limit:         maxItems + 1,
		MinScore:      req.MinScore,
		AgentScope:    req.AgentScope,
		MinConfidence: g.minConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("contextgen: querying index: %w", err)
	}

	truncated := false
	if len(results) > maxItems {
		results = results[:maxItems]
		truncated = true
	}

	bundle := &Bundle{
		Query:       query,
		Detail:      detail,
		Budget:      maxItems * detail.budgetPerItem(),
		GeneratedAt: g.now().UTC(),
	}
	for _, r := range results {
		text := render(r, detail)
		tokens := estimateTokens(text)
		if len(bundle.Items) > 0 && bundle.TotalTokens+tokens > bundle.Budget {
			truncated = true
			break
		}
		bundle.Items = append(bundle.Items, Item{
			ID:         r.ID,
			Kind:       r.Kind,
			Title:      r.Title,
			Category:   r.Category,
			Domain:     r.Domain,
			Topic:      r.Topic,
			Confidence: r.Confidence,
			Score:      r.Score,
			UpdatedAt:  r.UpdatedAt,
			Tokens:     tokens,
			Text:       text,
		})
		bundle.TotalTokens += tokens
	}
	bundle.Truncated = truncated

	if detail == DetailTimeline {
		sort.SliceStable(bundle.Items, func(i, j int) bool {
			return bundle.Items[i].UpdatedAt.Before(bundle.Items[j].UpdatedAt)
		})
	}

	span.SetAttributes(
		attribute.Int("items", len(bundle.Items)),
		attribute.Int("tokens", bundle.TotalTokens),
	)
	g.logger.Debug("context bundle generated",
		zap.String("detail", string(detail)),
		zap.Int("items", len(bundle.Items)),
		zap.Int("tokens", bundle.TotalTokens),
		zap.Bool("truncated", bundle.Truncated))
	return bundle, nil
}

// buildQuery folds the prompt, the raw file paths, and the tags those
// paths imply into one query string. The index tokenizer splits paths
// into their components, so "internal/payments/retry.go" contributes
// "payments" and "retry" as lexical signals.
func (g *Generator) buildQuery(req Request) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(req.Prompt); s != "" {
		parts = append(parts, s)
	}
	if len(req.Files) > 0 {
		parts = append(parts, strings.Join(req.Files, " "))
		if g.tagger != nil {
			if tags := g.tagger.TagsFromFiles(req.Files); len(tags) > 0 {
				parts = append(parts, strings.Join(tags, " "))
			}
		}
	}
	return strings.Join(parts, " ")
}
