// Package curator owns the learning lifecycle: ingesting extracted
// candidates with duplicate merging, promoting and demoting confidence,
// reviewing pending records, and archiving contradicted rules. The
// record store holds the resulting state; every lifecycle transition is
// also appended to the state audit log.
package curator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/extract"
	"github.com/paxtone-io/openkodo/internal/scrub"
	"github.com/paxtone-io/openkodo/internal/state"
	"github.com/paxtone-io/openkodo/internal/store"
)

const instrumentationName = "github.com/paxtone-io/openkodo/internal/curator"

// Indexer receives change notifications so the relevance index can
// refresh single records instead of rebuilding. A nil Indexer disables
// notifications; failures are logged and never block a transition.
type Indexer interface {
	Update(ctx context.Context, recordID string) error
}

// Options configures a Curator. Records and States are required.
type Options struct {
	// Records is the markdown-backed learning store.
	Records *store.Store

	// States is the sqlite sidecar holding the transition audit log.
	States *state.DB

	// Indexer, when set, is notified after every record change.
	Indexer Indexer

	// Similarity overrides the dedup scorer. Defaults to TokenSimilarity.
	Similarity Similarity

	// DedupThreshold is the score at or above which two statements
	// merge. Zero means DefaultDedupThreshold.
	DedupThreshold float64

	// Scrubber, when set, removes secrets from statements and evidence
	// excerpts before they are persisted.
	Scrubber *scrub.Scrubber

	Logger *zap.Logger

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Curator applies lifecycle transitions to learnings.
type Curator struct {
	records    *store.Store
	states     *state.DB
	indexer    Indexer
	similarity Similarity
	threshold  float64
	scrubber   *scrub.Scrubber
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a Curator.
func New(opts Options) (*Curator, error) {
	if opts.Records == nil {
		return nil, errors.New("curator: record store is required")
	}
	if opts.States == nil {
		return nil, errors.New("curator: state database is required")
	}
	c := &Curator{
		records:    opts.Records,
		states:     opts.States,
		indexer:    opts.Indexer,
		similarity: opts.Similarity,
		threshold:  opts.DedupThreshold,
		scrubber:   opts.Scrubber,
		logger:     opts.Logger,
		tracer:     otel.Tracer(instrumentationName),
		now:        opts.Clock,
	}
	if c.similarity == nil {
		c.similarity = TokenSimilarity{}
	}
	if c.threshold <= 0 {
		c.threshold = DefaultDedupThreshold
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	// Created holds the learnings recorded for the first time.
	Created []*store.Learning

	// Merged holds existing learnings that absorbed a duplicate
	// candidate as additional evidence.
	Merged []*store.Learning

	// Contradicted holds active rules archived because a new candidate
	// stated the opposite.
	Contradicted []*store.Learning

	// Skipped counts candidates dropped as malformed.
	Skipped int
}

// Ingest runs every candidate through scrubbing, contradiction
// detection, and dedup, then persists the survivors as pending
// learnings. Candidates are processed independently: a malformed one is
// skipped and logged, only store failures abort the batch.
func (c *Curator) Ingest(ctx context.Context, candidates []extract.Candidate) (*IngestResult, error) {
	ctx, span := c.tracer.Start(ctx, "curator.ingest",
		trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	defer span.End()

	result := &IngestResult{}
	if len(candidates) == 0 {
		return result, nil
	}

	// One store read per category, then the cache tracks in-batch
	// creations so twin candidates in the same batch still merge.
	cache := make(map[store.Category][]*store.Learning)

	for i := range candidates {
		if err := c.ingestOne(ctx, &candidates[i], cache, result); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("created", len(result.Created)),
		attribute.Int("merged", len(result.Merged)))
	c.logger.Info("ingest complete",
		zap.Int("created", len(result.Created)),
		zap.Int("merged", len(result.Merged)),
		zap.Int("contradicted", len(result.Contradicted)),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (c *Curator) ingestOne(ctx context.Context, cand *extract.Candidate, cache map[store.Category][]*store.Learning, result *IngestResult) error {
	statement := c.scrubText(cand.Statement)
	if statement == "" {
		c.logger.Warn("skipping candidate with empty statement",
			zap.String("pattern", cand.Pattern))
		result.Skipped++
		return nil
	}
	evidence := cand.Evidence
	evidence.Excerpt = c.scrubText(evidence.Excerpt)

	live, err := c.liveRecords(ctx, cache, cand.Category)
	if err != nil {
		return err
	}

	if cand.Category == store.CategoryRule {
		archived, err := c.archiveContradicted(ctx, live, statement)
		if err != nil {
			return err
		}
		result.Contradicted = append(result.Contradicted, archived...)
	}

	fingerprint := Fingerprint(statement)
	for _, rec := range live {
		if rec.Status == store.StatusArchived {
			continue
		}
		// "never X" overlaps "always X" on almost every token, but an
		// opposite-polarity rule is a contradiction, never a duplicate.
		if cand.Category == store.CategoryRule && oppositePolarity(statement, rec.Statement) {
			continue
		}
		if rec.Fingerprint != fingerprint && c.similarity.Score(statement, rec.Statement) < c.threshold {
			continue
		}
		if err := c.mergeEvidence(ctx, rec, evidence); err != nil {
			return err
		}
		result.Merged = append(result.Merged, rec)
		return nil
	}

	learning, err := store.NewLearning(cand.Category, statement, cand.Signal.Confidence(), c.now())
	if err != nil {
		c.logger.Warn("skipping malformed candidate",
			zap.String("pattern", cand.Pattern),
			zap.Error(err))
		result.Skipped++
		return nil
	}
	learning.Fingerprint = fingerprint
	learning.AgentScope = cand.AgentScope
	learning.Evidence = []store.EvidenceRef{evidence}

	if err := c.records.SaveLearning(ctx, learning); err != nil {
		return err
	}
	c.audit(ctx, learning.ID, "", stateLabel(learning))
	c.notifyIndex(ctx, learning.ID)
	c.logger.Info("learning recorded",
		zap.String("id", learning.ID),
		zap.String("category", string(learning.Category)),
		zap.String("confidence", string(learning.Confidence)))

	cache[cand.Category] = append(cache[cand.Category], learning)
	result.Created = append(result.Created, learning)
	return nil
}

// liveRecords returns the pending and active learnings for a category,
// reading the store at most once per Ingest batch.
func (c *Curator) liveRecords(ctx context.Context, cache map[store.Category][]*store.Learning, category store.Category) ([]*store.Learning, error) {
	if live, ok := cache[category]; ok {
		return live, nil
	}
	live, err := c.records.ListLearnings(ctx, store.LearningFilter{
		Category: &category,
		Statuses: []store.Status{store.StatusPending, store.StatusActive},
	})
	if err != nil {
		return nil, err
	}
	cache[category] = live
	return live, nil
}

// archiveContradicted archives every active rule whose subject matches
// the new statement's subject with the opposite polarity. Statements
// without an explicit polarity never contradict anything.
func (c *Curator) archiveContradicted(ctx context.Context, live []*store.Learning, statement string) ([]*store.Learning, error) {
	polarity, subject := extract.RulePolarity(statement)
	if polarity == extract.PolarityNone || subject == "" {
		return nil, nil
	}
	var archived []*store.Learning
	for _, rec := range live {
		if rec.Status != store.StatusActive {
			continue
		}
		recPolarity, recSubject := extract.RulePolarity(rec.Statement)
		if recPolarity == extract.PolarityNone || recPolarity == polarity {
			continue
		}
		if c.similarity.Score(subject, recSubject) < c.threshold {
			continue
		}
		from := stateLabel(rec)
		rec.Status = store.StatusArchived
		if err := c.records.SaveLearning(ctx, rec); err != nil {
			return nil, err
		}
		c.audit(ctx, rec.ID, from, stateLabel(rec))
		c.notifyIndex(ctx, rec.ID)
		c.logger.Info("rule contradicted, archived",
			zap.String("id", rec.ID),
			zap.String("statement", rec.Statement))
		archived = append(archived, rec)
	}
	return archived, nil
}

func oppositePolarity(a, b string) bool {
	pa, _ := extract.RulePolarity(a)
	pb, _ := extract.RulePolarity(b)
	return pa != extract.PolarityNone && pb != extract.PolarityNone && pa != pb
}

// mergeEvidence folds a duplicate candidate into an existing learning:
// the evidence list grows (once per distinct observation) and the
// confirmation timestamp advances. Confidence and status do not change.
func (c *Curator) mergeEvidence(ctx context.Context, rec *store.Learning, ev store.EvidenceRef) error {
	seen := false
	for _, existing := range rec.Evidence {
		if existing.SessionID == ev.SessionID && existing.EventID == ev.EventID {
			seen = true
			break
		}
	}
	if !seen {
		rec.Evidence = append(rec.Evidence, ev)
	}
	rec.LastConfirmedAt = c.now()
	if err := c.records.SaveLearning(ctx, rec); err != nil {
		return err
	}
	c.notifyIndex(ctx, rec.ID)
	c.logger.Info("duplicate candidate merged",
		zap.String("id", rec.ID),
		zap.Int("evidence", len(rec.Evidence)))
	return nil
}

func (c *Curator) scrubText(text string) string {
	if c.scrubber == nil || !c.scrubber.Enabled() || text == "" {
		return text
	}
	clean, findings := c.scrubber.Scrub(text)
	if len(findings) > 0 {
		c.logger.Info("secrets scrubbed from candidate text",
			zap.Int("findings", len(findings)))
	}
	return clean
}

// audit appends a transition row. The markdown store is the source of
// truth, so a failed audit write degrades to a warning.
func (c *Curator) audit(ctx context.Context, recordID, from, to string) {
	if err := c.states.AppendTransition(ctx, recordID, from, to); err != nil {
		c.logger.Warn("transition audit write failed",
			zap.String("id", recordID),
			zap.Error(err))
	}
}

func (c *Curator) notifyIndex(ctx context.Context, recordID string) {
	if c.indexer == nil {
		return
	}
	if err := c.indexer.Update(ctx, recordID); err != nil {
		c.logger.Warn("index update failed, will self-heal on next query",
			zap.String("id", recordID),
			zap.Error(err))
	}
}
