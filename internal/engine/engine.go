// Package engine assembles the kodo subsystems over one project store.
//
// Open discovers the .kodo root governing a directory, opens the record
// store and its sqlite sidecar, and wires the extractor, curator, index,
// trigger controller and context generator from one loaded
// configuration. Every surface (CLI, HTTP facade, MCP server) holds an
// Engine and reaches subsystems through its accessors; the composite
// methods cover the flows that cross subsystem boundaries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/config"
	"github.com/paxtone-io/openkodo/internal/contextgen"
	"github.com/paxtone-io/openkodo/internal/curator"
	"github.com/paxtone-io/openkodo/internal/embeddings"
	"github.com/paxtone-io/openkodo/internal/extract"
	"github.com/paxtone-io/openkodo/internal/gitinfo"
	"github.com/paxtone-io/openkodo/internal/importer"
	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/scrub"
	"github.com/paxtone-io/openkodo/internal/state"
	"github.com/paxtone-io/openkodo/internal/store"
	"github.com/paxtone-io/openkodo/internal/transcript"
	"github.com/paxtone-io/openkodo/internal/trigger"
	"github.com/paxtone-io/openkodo/internal/vectorstore"
)

// Options configures Open.
type Options struct {
	// Dir is where the .kodo search starts. Empty means the current
	// directory; any directory inside the project works because the
	// store is discovered by walking upward.
	Dir string

	// Config is the loaded project configuration. Required.
	Config *config.Config

	Logger *zap.Logger
	Clock  func() time.Time
}

// Engine holds every subsystem wired over one .kodo store.
type Engine struct {
	projectDir string
	layout     store.Layout

	records   *store.Store
	states    *state.DB
	scrubber  *scrub.Scrubber
	embedder  embeddings.Provider
	vectors   vectorstore.Store
	index     *index.Index
	extractor *extract.Extractor
	curator   *curator.Curator
	trigger   *trigger.Controller
	cursor    *transcript.Cursor
	generator *contextgen.Generator
	importer  *importer.Importer

	logger *zap.Logger
	now    func() time.Time
}

// Open wires an Engine over the store governing opts.Dir. A missing
// store surfaces as *store.NotInitializedError so callers can point the
// user at 'kodo init'. The caller owns the Engine and must Close it.
func Open(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.New("engine: Config is required")
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	cfg := opts.Config

	root, err := store.Find(dir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		projectDir: filepath.Dir(root),
		layout:     store.NewLayout(root),
		logger:     logger,
		now:        now,
	}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	e.records, err = store.Open(root, store.WithLogger(logger), store.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	e.states, err = state.Open(e.layout.StateDB(), state.WithLogger(logger), state.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	e.scrubber, err = scrub.New(scrub.Options{
		Enabled:       cfg.Scrub.Enabled,
		ProjectDir:    e.projectDir,
		AllowlistPath: e.layout.PatternsFile(),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating scrubber: %w", err)
	}

	e.embedder, err = embeddings.New(embeddings.Config{
		Provider:          cfg.Embeddings.EffectiveProvider(),
		Model:             cfg.Embeddings.Model,
		BaseURL:           cfg.Embeddings.BaseURL,
		APIKey:            cfg.Embeddings.APIKey.Value(),
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	// The semantic arm only exists when an embedding provider does.
	// Lexical ranking carries everything else.
	var vectorSize int
	var collection string
	if e.embedder != nil {
		vcfg := vectorstore.Config{
			Provider: "chromem",
			Chromem:  vectorstore.ChromemConfig{Path: e.layout.VectorsDir()},
		}
		if cfg.Qdrant.Enabled {
			vcfg = vectorstore.Config{
				Provider: "qdrant",
				Qdrant: vectorstore.QdrantConfig{
					Host:   cfg.Qdrant.Host,
					Port:   cfg.Qdrant.Port,
					UseTLS: cfg.Qdrant.UseTLS,
					APIKey: cfg.Qdrant.APIKey.Value(),
				},
			}
			// A qdrant server is shared between projects; the embedded
			// chromem DB never is, so the default name stays stable
			// across directory moves.
			collection = vectorstore.CollectionName(e.projectDir)
		}
		e.vectors, err = vectorstore.New(vcfg, e.embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("creating vector store: %w", err)
		}
		vectorSize = e.embedder.Dimension()
	}

	e.index, err = index.New(index.Options{
		Records:        e.records,
		Vectors:        e.vectors,
		Collection:     collection,
		VectorSize:     vectorSize,
		SnapshotPath:   e.layout.SnapshotFile(),
		EmbeddingBlend: cfg.Index.EmbeddingBlend,
		HalfLife:       cfg.Index.HalfLife(),
		Logger:         logger,
		Clock:          now,
	})
	if err != nil {
		return nil, err
	}

	rules, err := extract.LoadRules(e.layout.PatternsFile())
	if err != nil {
		return nil, fmt.Errorf("loading custom patterns: %w", err)
	}
	e.extractor = extract.New(extract.Options{CustomRules: rules, Logger: logger})

	e.curator, err = curator.New(curator.Options{
		Records:        e.records,
		States:         e.states,
		Indexer:        e.index,
		DedupThreshold: cfg.Learning.DedupThreshold,
		Scrubber:       e.scrubber,
		Logger:         logger,
		Clock:          now,
	})
	if err != nil {
		return nil, err
	}

	e.trigger, err = trigger.New(trigger.Options{
		States: e.states,
		Config: trigger.Config{
			MessageThreshold: cfg.Learning.MessageThreshold,
			Interval:         cfg.Learning.Interval(),
		},
		Logger: logger,
		Clock:  now,
	})
	if err != nil {
		return nil, err
	}

	e.cursor = transcript.NewCursor(e.states, logger)

	e.generator, err = contextgen.New(contextgen.Options{
		Index:         e.index,
		Tagger:        extract.NewTagger(nil),
		MinConfidence: store.Confidence(cfg.Learning.ConfidenceThreshold),
		Logger:        logger,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}

	e.importer, err = importer.New(importer.Options{
		Records: e.records,
		Logger:  logger,
		Clock:   now,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return e, nil
}

// Close releases the sqlite handle, the vector store and the embedding
// provider. Safe on a partially constructed Engine.
func (e *Engine) Close() error {
	var errs []error
	if e.states != nil {
		if err := e.states.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing state database: %w", err))
		}
	}
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vector store: %w", err))
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedding provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ProjectDir is the directory containing the .kodo root.
func (e *Engine) ProjectDir() string { return e.projectDir }

// Layout resolves paths inside the .kodo root.
func (e *Engine) Layout() store.Layout { return e.layout }

func (e *Engine) Records() *store.Store            { return e.records }
func (e *Engine) States() *state.DB                { return e.states }
func (e *Engine) Scrubber() *scrub.Scrubber        { return e.scrubber }
func (e *Engine) Embedder() embeddings.Provider    { return e.embedder }
func (e *Engine) Vectors() vectorstore.Store       { return e.vectors }
func (e *Engine) Index() *index.Index              { return e.index }
func (e *Engine) Extractor() *extract.Extractor    { return e.extractor }
func (e *Engine) Curator() *curator.Curator        { return e.curator }
func (e *Engine) Trigger() *trigger.Controller     { return e.trigger }
func (e *Engine) Cursor() *transcript.Cursor       { return e.cursor }
func (e *Engine) Generator() *contextgen.Generator { return e.generator }
func (e *Engine) Importer() *importer.Importer     { return e.importer }

// ReflectRequest names the session a capture run processes.
type ReflectRequest struct {
	// SessionID identifies the session cursor. Required.
	SessionID string

	// TranscriptPath locates the JSONL transcript. May be empty for a
	// session the cursor has seen before.
	TranscriptPath string

	// Force resets the cursor first, reprocessing the transcript from
	// the beginning. Fingerprint dedup absorbs the re-observed
	// statements.
	Force bool
}

// ReflectResult accounts for one capture run.
type ReflectResult struct {
	// Events is the number of new transcript events consumed.
	Events int

	// Candidates is the number of statements the pattern rules matched.
	Candidates int

	// Ingest reports what the curator did with them.
	Ingest *curator.IngestResult
}

// Reflect runs the capture pipeline once: advance the session cursor,
// extract candidates from the new events, stamp the current git
// position onto their evidence, and hand them to the curator. A
// missing or unchanged transcript yields an empty result, not an
// error, so hook-driven calls are safe to fire blindly.
func (e *Engine) Reflect(ctx context.Context, req ReflectRequest) (*ReflectResult, error) {
	if req.Force {
		if err := e.cursor.Reset(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}

	events, err := e.cursor.Advance(ctx, req.SessionID, req.TranscriptPath)
	if err != nil {
		return nil, err
	}
	result := &ReflectResult{Events: len(events), Ingest: &curator.IngestResult{}}
	if len(events) == 0 {
		return result, nil
	}

	candidates := e.extractor.Extract(events)
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	// Events carry the branch they were written under; the commit is
	// only observable now, so it is stamped at capture time.
	if git := gitinfo.Detect(e.projectDir); git.Commit != "" {
		for i := range candidates {
			candidates[i].Evidence.Commit = git.Commit
			if candidates[i].Evidence.Branch == "" {
				candidates[i].Evidence.Branch = git.Branch
			}
		}
	}

	ingest, err := e.curator.Ingest(ctx, candidates)
	if err != nil {
		return nil, err
	}
	result.Ingest = ingest

	e.logger.Info("reflection complete",
		zap.String("session_id", req.SessionID),
		zap.Int("events", result.Events),
		zap.Int("candidates", result.Candidates),
		zap.Int("created", len(ingest.Created)),
		zap.Int("merged", len(ingest.Merged)))
	return result, nil
}

// CurateRequest describes one manually filed context entry.
type CurateRequest struct {
	Domain   string
	Topic    string
	Subtopic string
	Title    string
	Body     string
	Tags     []string

	// Confidence defaults to medium: a deliberately written note
	// outranks a speculative capture without claiming verification.
	Confidence store.Confidence
}

// Curate files one context entry and refreshes its index projection.
func (e *Engine) Curate(ctx context.Context, req CurateRequest) (*store.ContextEntry, error) {
	confidence := req.Confidence
	if confidence == "" {
		confidence = store.ConfidenceMedium
	}
	entry, err := store.NewContextEntry(req.Domain, req.Topic, req.Title, confidence, e.now())
	if err != nil {
		return nil, err
	}
	entry.Subtopic = req.Subtopic
	entry.Body = req.Body
	entry.Tags = req.Tags

	if err := e.records.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}
	e.refreshIndex(ctx, entry.ID)
	return entry, nil
}

// ImportMarkdown files a markdown document's sections as context
// entries and refreshes their index projections.
func (e *Engine) ImportMarkdown(ctx context.Context, path, domain, topic string) (*importer.Result, error) {
	result, err := e.importer.ImportFile(ctx, path, domain, topic)
	if err != nil {
		return nil, err
	}
	for _, entry := range result.Entries() {
		e.refreshIndex(ctx, entry.ID)
	}
	return result, nil
}

// DeleteLearning removes a learning from the store and drops its index
// projection.
func (e *Engine) DeleteLearning(ctx context.Context, id string) error {
	if err := e.records.DeleteLearning(ctx, id); err != nil {
		return err
	}
	e.refreshIndex(ctx, id)
	return nil
}

// refreshIndex updates one projection. The index self-heals on the
// next rebuild, so a failed update degrades to a warning.
func (e *Engine) refreshIndex(ctx context.Context, id string) {
	if err := e.index.Update(ctx, id); err != nil {
		e.logger.Warn("index update failed, will self-heal on next rebuild",
			zap.String("record_id", id),
			zap.Error(err))
	}
}
