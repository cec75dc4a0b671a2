// Package index maintains the relevance ranking projection over the
// record store.
//
// Nothing here is authoritative: every structure is derived from the
// store and the whole index can be dropped and rebuilt at any time.
// Rebuild recomputes everything and is the expensive path; Update
// refreshes a single record and is the cheap one. Lexical ranking
// always works; a configured vector store adds a semantic arm that
// blends into the score and silently degrades away on failure.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/store"
	"github.com/paxtone-io/openkodo/internal/vectorstore"
)

const (
	// DefaultCollection is the vector collection records land in.
	DefaultCollection = "kodo_records"

	// DefaultEmbeddingBlend is the semantic share of a blended score.
	DefaultEmbeddingBlend = 0.3

	// DefaultHalfLife controls how fast stale records lose rank.
	DefaultHalfLife = 30 * 24 * time.Hour

	// DefaultSearchLimit bounds result sets when no limit is given.
	DefaultSearchLimit = 10

	snapshotVersion = 1
)

// ErrNoVectorStore is returned by vector maintenance operations when
// no embedding backend is configured.
var ErrNoVectorStore = errors.New("no vector store configured")

var indexTracer = otel.Tracer("openkodo.index")

// doc is one record's rebuildable ranking projection.
type doc struct {
	ID         string           `json:"id"`
	Kind       store.RecordKind `json:"kind"`
	Category   store.Category   `json:"category,omitempty"`
	Domain     string           `json:"domain,omitempty"`
	Topic      string           `json:"topic,omitempty"`
	Title      string           `json:"title"`
	Body       string           `json:"body,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Confidence store.Confidence `json:"confidence"`
	Status     store.Status     `json:"status"`
	AgentScope string           `json:"agent_scope,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Tokens     []string         `json:"tokens"`

	tokenSet map[string]struct{}
}

func (d *doc) buildTokenSet() {
	d.tokenSet = make(map[string]struct{}, len(d.Tokens))
	for _, t := range d.Tokens {
		d.tokenSet[t] = struct{}{}
	}
}

func (d *doc) embeddingText() string {
	if d.Body == "" {
		return d.Title
	}
	return d.Title + "\n\n" + d.Body
}

func learningDoc(l *store.Learning) *doc {
	d := &doc{
		ID:         l.ID,
		Kind:       store.KindLearning,
		Category:   l.Category,
		Title:      l.Statement,
		Confidence: l.Confidence,
		Status:     l.Status,
		AgentScope: l.AgentScope,
		UpdatedAt:  l.LastConfirmedAt,
		Tokens:     tokenize(l.Statement + " " + string(l.Category)),
	}
	d.buildTokenSet()
	return d
}

func entryDoc(e *store.ContextEntry) *doc {
	text := strings.Join([]string{
		e.Title, e.Body, e.Domain, e.Topic, e.Subtopic, strings.Join(e.Tags, " "),
	}, " ")
	d := &doc{
		ID:         e.ID,
		Kind:       store.KindEntry,
		Domain:     e.Domain,
		Topic:      e.Topic,
		Title:      e.Title,
		Body:       e.Body,
		Tags:       e.Tags,
		Confidence: e.Confidence,
		Status:     store.StatusActive,
		UpdatedAt:  e.UpdatedAt,
		Tokens:     tokenize(text),
	}
	d.buildTokenSet()
	return d
}

// RankedResult is one scored record reference.
type RankedResult struct {
	ID         string           `json:"id"`
	Kind       store.RecordKind `json:"kind"`
	Title      string           `json:"title"`
	Body       string           `json:"body,omitempty"`
	Category   store.Category   `json:"category,omitempty"`
	Domain     string           `json:"domain,omitempty"`
	Topic      string           `json:"topic,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Confidence store.Confidence `json:"confidence"`
	Status     store.Status     `json:"status"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Score      float64          `json:"score"`
	Lexical    float64          `json:"lexical"`
	Semantic   float64          `json:"semantic,omitempty"`
}

// SearchOptions narrow and bound a search.
type SearchOptions struct {
	// Limit caps returned results. Zero means DefaultSearchLimit.
	Limit int

	// MinScore drops results scoring below it.
	MinScore float64

	// Kinds restricts results to the given record kinds. Empty means all.
	Kinds []store.RecordKind

	// AgentScope matches records scoped to this agent. Unscoped
	// records always match.
	AgentScope string

	// MinConfidence drops records below this confidence level. Empty
	// admits all levels.
	MinConfidence store.Confidence

	// IncludePending adds pending learnings to the candidate set.
	IncludePending bool
}

// Options configures an Index.
type Options struct {
	// Records is the backing store. Required.
	Records *store.Store

	// Vectors enables the semantic arm when non-nil.
	Vectors vectorstore.Store

	// Collection names the vector collection. Defaults to
	// DefaultCollection.
	Collection string

	// VectorSize is the embedding dimension, required by backends that
	// create collections with a fixed size.
	VectorSize int

	// SnapshotPath caches the projection as JSON for fast startup.
	// Empty disables the cache.
	SnapshotPath string

	// EmbeddingBlend is the semantic weight in (0,1]. Out-of-range
	// values fall back to DefaultEmbeddingBlend.
	EmbeddingBlend float64

	// HalfLife controls recency decay. Zero means DefaultHalfLife.
	HalfLife time.Duration

	Logger *zap.Logger
	Clock  func() time.Time
}

// Index ranks records by lexical and semantic relevance.
type Index struct {
	records    *store.Store
	vectors    vectorstore.Store
	collection string
	vectorSize int
	snapshot   string
	blend      float64
	halfLife   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	docs    map[string]*doc
	builtAt time.Time
	loaded  bool
}

// New creates an index over the given store.
func New(opts Options) (*Index, error) {
	if opts.Records == nil {
		return nil, errors.New("index: record store is required")
	}
	ix := &Index{
		records:    opts.Records,
		vectors:    opts.Vectors,
		collection: opts.Collection,
		vectorSize: opts.VectorSize,
		snapshot:   opts.SnapshotPath,
		blend:      opts.EmbeddingBlend,
		halfLife:   opts.HalfLife,
		logger:     opts.Logger,
		now:        opts.Clock,
		docs:       make(map[string]*doc),
	}
	if ix.collection == "" {
		ix.collection = DefaultCollection
	}
	if ix.blend <= 0 || ix.blend > 1 {
		ix.blend = DefaultEmbeddingBlend
	}
	if ix.halfLife <= 0 {
		ix.halfLife = DefaultHalfLife
	}
	if ix.logger == nil {
		ix.logger = zap.NewNop()
	}
	if ix.now == nil {
		ix.now = time.Now
	}
	return ix, nil
}

// Search returns records ranked by relevance to query. The score is
// lexical overlap (blended with cosine similarity when a vector store
// is configured) weighted by confidence and recency; ties break by
// confidence, then recency, then ID. An empty query ranks by
// confidence and recency alone.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]RankedResult, error) {
	ctx, span := indexTracer.Start(ctx, "index.search")
	defer span.End()

	if err := ix.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	terms := tokenize(query)
	semantic := ix.semanticScores(ctx, query, limit)

	ix.mu.RLock()
	results := make([]RankedResult, 0, len(ix.docs))
	for _, d := range ix.docs {
		if !eligible(d, opts) {
			continue
		}
		lexical := lexicalScore(terms, d)
		sem, hasSem := semantic[d.ID]
		if len(terms) > 0 && lexical == 0 && !hasSem {
			continue
		}

		base := 1.0
		if len(terms) > 0 {
			base = lexical
			if hasSem {
				base = (1-ix.blend)*lexical + ix.blend*sem
			}
		}
		score := base * confidenceWeight(d.Confidence) * ix.recencyWeight(d.UpdatedAt)
		if score < opts.MinScore {
			continue
		}
		results = append(results, rankedResult(d, score, lexical, sem))
	}
	ix.mu.RUnlock()

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func eligible(d *doc, opts SearchOptions) bool {
	switch d.Status {
	case store.StatusActive:
	case store.StatusPending:
		if !opts.IncludePending {
			return false
		}
	default:
		return false
	}
	if len(opts.Kinds) > 0 {
		ok := false
		for _, k := range opts.Kinds {
			if d.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if d.AgentScope != "" && d.AgentScope != opts.AgentScope {
		return false
	}
	if opts.MinConfidence != "" && d.Confidence.Rank() < opts.MinConfidence.Rank() {
		return false
	}
	return true
}

// semanticScores queries the vector arm. Any failure degrades to
// lexical-only ranking.
func (ix *Index) semanticScores(ctx context.Context, query string, limit int) map[string]float64 {
	if ix.vectors == nil || query == "" {
		return nil
	}
	k := limit * 4
	if k < 20 {
		k = 20
	}
	hits, err := ix.vectors.Search(ctx, ix.collection, query, k)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			ix.logger.Debug("vector collection absent, lexical ranking only")
		} else {
			ix.logger.Warn("semantic search failed, lexical ranking only", zap.Error(err))
		}
		return nil
	}
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		scores[h.ID] = float64(h.Score)
	}
	return scores
}

func rankedResult(d *doc, score, lexical, semantic float64) RankedResult {
	return RankedResult{
		ID:         d.ID,
		Kind:       d.Kind,
		Title:      d.Title,
		Body:       d.Body,
		Category:   d.Category,
		Domain:     d.Domain,
		Topic:      d.Topic,
		Tags:       d.Tags,
		Confidence: d.Confidence,
		Status:     d.Status,
		UpdatedAt:  d.UpdatedAt,
		Score:      score,
		Lexical:    lexical,
		Semantic:   semantic,
	}
}

func sortResults(results []RankedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ar, br := a.Confidence.Rank(), b.Confidence.Rank(); ar != br {
			return ar > br
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// Rebuild recomputes every projection from the store, replaces the
// snapshot, and resyncs the vector collection.
func (ix *Index) Rebuild(ctx context.Context) error {
	ctx, span := indexTracer.Start(ctx, "index.rebuild")
	defer span.End()

	learnings, err := ix.records.ListLearnings(ctx, store.LearningFilter{
		Statuses: []store.Status{store.StatusPending, store.StatusActive},
	})
	if err != nil {
		return fmt.Errorf("listing learnings: %w", err)
	}
	entries, err := ix.records.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	docs := make(map[string]*doc, len(learnings)+len(entries))
	for _, l := range learnings {
		docs[l.ID] = learningDoc(l)
	}
	for _, e := range entries {
		docs[e.ID] = entryDoc(e)
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.builtAt = ix.now().UTC()
	ix.loaded = true
	ix.mu.Unlock()

	ix.writeSnapshot()
	ix.pushVectors(ctx, docs, true)

	ix.logger.Info("index rebuilt",
		zap.Int("learnings", len(learnings)),
		zap.Int("entries", len(entries)))
	return nil
}

// Update refreshes one record's projection after a store mutation.
// Records that are archived or deleted drop out of the index.
func (ix *Index) Update(ctx context.Context, id string) error {
	ctx, span := indexTracer.Start(ctx, "index.update")
	defer span.End()

	if err := ix.ensureLoaded(ctx); err != nil {
		return err
	}

	d, err := ix.project(ctx, id)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	if d != nil {
		ix.docs[id] = d
	} else {
		delete(ix.docs, id)
	}
	ix.mu.Unlock()

	ix.writeSnapshot()

	if ix.vectors != nil {
		if d != nil {
			ix.pushVectors(ctx, map[string]*doc{id: d}, false)
		} else if err := ix.vectors.DeleteDocuments(ctx, ix.collection, []string{id}); err != nil {
			ix.logger.Warn("vector delete failed",
				zap.String("record_id", id), zap.Error(err))
		}
	}

	ix.logger.Debug("index entry refreshed", zap.String("record_id", id))
	return nil
}

// project loads a record's current projection. A nil doc means the
// record should not be indexed.
func (ix *Index) project(ctx context.Context, id string) (*doc, error) {
	l, err := ix.records.GetLearning(ctx, id)
	if err == nil {
		if l.Status == store.StatusArchived {
			return nil, nil
		}
		return learningDoc(l), nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading learning %s: %w", id, err)
	}

	e, err := ix.records.GetEntry(ctx, id)
	if err == nil {
		return entryDoc(e), nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading entry %s: %w", id, err)
	}
	return nil, nil
}

// BackfillVectors re-embeds every indexed record from scratch. Unlike
// the background sync this is strict: it is driven by an explicit
// command and the user wants to know when it fails.
func (ix *Index) BackfillVectors(ctx context.Context) (int, error) {
	if ix.vectors == nil {
		return 0, ErrNoVectorStore
	}
	if err := ix.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	ix.mu.RLock()
	batch := make([]vectorstore.Document, 0, len(ix.docs))
	for _, d := range ix.docs {
		batch = append(batch, vectorstore.Document{
			ID:       d.ID,
			Content:  d.embeddingText(),
			Metadata: map[string]string{"kind": string(d.Kind)},
		})
	}
	ix.mu.RUnlock()

	err := ix.vectors.DeleteCollection(ctx, ix.collection)
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return 0, fmt.Errorf("resetting vector collection: %w", err)
	}
	if err := ix.vectors.EnsureCollection(ctx, ix.collection, ix.vectorSize); err != nil {
		return 0, fmt.Errorf("creating vector collection: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := ix.vectors.AddDocuments(ctx, ix.collection, batch); err != nil {
		return 0, fmt.Errorf("embedding records: %w", err)
	}
	return len(batch), nil
}

// Status summarizes the projection for maintenance commands.
type Status struct {
	Documents int       `json:"documents"`
	Pending   int       `json:"pending"`
	Active    int       `json:"active"`
	BuiltAt   time.Time `json:"built_at"`
	Semantic  bool      `json:"semantic"`
	Vectors   int       `json:"vectors,omitempty"`
}

// Status reports document counts and vector collection state.
func (ix *Index) Status(ctx context.Context) (*Status, error) {
	if err := ix.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	st := &Status{
		Documents: len(ix.docs),
		BuiltAt:   ix.builtAt,
		Semantic:  ix.vectors != nil,
	}
	for _, d := range ix.docs {
		switch d.Status {
		case store.StatusPending:
			st.Pending++
		case store.StatusActive:
			st.Active++
		}
	}
	ix.mu.RUnlock()

	if ix.vectors != nil {
		info, err := ix.vectors.Info(ctx, ix.collection)
		switch {
		case err == nil:
			st.Vectors = info.PointCount
		case !errors.Is(err, vectorstore.ErrCollectionNotFound):
			ix.logger.Warn("vector collection info failed", zap.Error(err))
		}
	}
	return st, nil
}

// ensureLoaded lazily primes the projection, preferring the snapshot
// cache. A missing, corrupt, or outdated snapshot self-heals with a
// rebuild.
func (ix *Index) ensureLoaded(ctx context.Context) error {
	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()
	if loaded {
		return nil
	}
	if ix.loadSnapshot() {
		return nil
	}
	return ix.Rebuild(ctx)
}

type snapshotFile struct {
	Version int       `json:"version"`
	BuiltAt time.Time `json:"built_at"`
	Docs    []*doc    `json:"docs"`
}

func (ix *Index) loadSnapshot() bool {
	if ix.snapshot == "" {
		return false
	}
	data, err := os.ReadFile(ix.snapshot)
	if err != nil {
		if !os.IsNotExist(err) {
			ix.logger.Warn("index snapshot unreadable, rebuilding", zap.Error(err))
		}
		return false
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		ix.logger.Warn("index snapshot corrupt, rebuilding", zap.Error(err))
		return false
	}
	if snap.Version != snapshotVersion {
		ix.logger.Debug("index snapshot version mismatch, rebuilding",
			zap.Int("found", snap.Version))
		return false
	}

	docs := make(map[string]*doc, len(snap.Docs))
	for _, d := range snap.Docs {
		d.buildTokenSet()
		docs[d.ID] = d
	}
	ix.mu.Lock()
	ix.docs = docs
	ix.builtAt = snap.BuiltAt
	ix.loaded = true
	ix.mu.Unlock()

	ix.logger.Debug("index snapshot loaded", zap.Int("documents", len(docs)))
	return true
}

// writeSnapshot persists the cache. Failures only cost startup time on
// the next invocation, so they log and move on.
func (ix *Index) writeSnapshot() {
	if ix.snapshot == "" {
		return
	}

	ix.mu.RLock()
	snap := snapshotFile{
		Version: snapshotVersion,
		BuiltAt: ix.builtAt,
		Docs:    make([]*doc, 0, len(ix.docs)),
	}
	for _, d := range ix.docs {
		snap.Docs = append(snap.Docs, d)
	}
	ix.mu.RUnlock()
	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].ID < snap.Docs[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		ix.logger.Warn("index snapshot encode failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(ix.snapshot), 0o700); err != nil {
		ix.logger.Warn("index snapshot write failed", zap.Error(err))
		return
	}
	tmp := ix.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		ix.logger.Warn("index snapshot write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, ix.snapshot); err != nil {
		ix.logger.Warn("index snapshot write failed", zap.Error(err))
	}
}

// pushVectors syncs projections into the vector collection. reset
// recreates the collection first so removed records do not linger.
// Vector failures never fail the caller.
func (ix *Index) pushVectors(ctx context.Context, docs map[string]*doc, reset bool) {
	if ix.vectors == nil {
		return
	}
	if reset {
		err := ix.vectors.DeleteCollection(ctx, ix.collection)
		if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			ix.logger.Warn("vector collection reset failed", zap.Error(err))
			return
		}
	}
	if err := ix.vectors.EnsureCollection(ctx, ix.collection, ix.vectorSize); err != nil {
		ix.logger.Warn("vector collection unavailable", zap.Error(err))
		return
	}
	if len(docs) == 0 {
		return
	}

	batch := make([]vectorstore.Document, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, vectorstore.Document{
			ID:       d.ID,
			Content:  d.embeddingText(),
			Metadata: map[string]string{"kind": string(d.Kind)},
		})
	}
	if err := ix.vectors.AddDocuments(ctx, ix.collection, batch); err != nil {
		ix.logger.Warn("vector sync failed, semantic arm degraded", zap.Error(err))
		return
	}
	ix.logger.Debug("vectors synced", zap.Int("documents", len(batch)))
}
