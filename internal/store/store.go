// Package store owns the on-disk record layout: markdown category files
// for learnings, a domain/topic tree for context entries, and the
// surrounding locking and atomic-write discipline. The store is the
// single source of truth; everything derived from it (the relevance
// index, embedding collections) must be reconstructible from here.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/paxtone-io/openkodo/internal/store"

// Store reads and writes learnings and context entries under one .kodo
// root. All writes serialize through per-file advisory locks so racing
// invocations cannot interleave partial rewrites.
type Store struct {
	layout Layout
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger falls back to a no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open returns a Store over an existing .kodo root created by Init.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		layout: NewLayout(root),
		logger: zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	info, err := os.Stat(s.layout.LearningsDir())
	if err != nil || !info.IsDir() {
		return nil, &NotInitializedError{Dir: filepath.Dir(root)}
	}
	return s, nil
}

// Layout exposes the path layout for collaborators (state DB, index).
func (s *Store) Layout() Layout { return s.layout }

// LearningFilter narrows ListLearnings results. Nil fields match all.
type LearningFilter struct {
	Category *Category
	Statuses []Status
}

func (f LearningFilter) matches(l *Learning) bool {
	if f.Category != nil && l.Category != *f.Category {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if l.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// SaveLearning inserts or replaces one learning in its category file.
func (s *Store) SaveLearning(ctx context.Context, l *Learning) error {
	return s.SaveLearnings(ctx, []*Learning{l})
}

// SaveLearnings upserts a batch, grouped by category so each file is
// locked and rewritten at most once.
func (s *Store) SaveLearnings(ctx context.Context, batch []*Learning) error {
	ctx, span := s.tracer.Start(ctx, "store.save_learnings",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()

	byCategory := make(map[Category][]*Learning)
	for _, l := range batch {
		if err := l.Validate(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("validating learning: %w", err)
		}
		byCategory[l.Category] = append(byCategory[l.Category], l)
	}
	for category, updates := range byCategory {
		if err := s.rewriteCategory(ctx, category, func(existing []*Learning) []*Learning {
			return upsertLearnings(existing, updates)
		}); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// GetLearning finds a learning by ID across all category files.
func (s *Store) GetLearning(ctx context.Context, id string) (*Learning, error) {
	for _, c := range Categories() {
		learnings, err := s.readCategory(ctx, c)
		if err != nil {
			return nil, err
		}
		for _, l := range learnings {
			if l.ID == id {
				return l, nil
			}
		}
	}
	return nil, fmt.Errorf("learning %s: %w", id, ErrRecordNotFound)
}

// ListLearnings returns learnings matching the filter, across all
// category files, in file order.
func (s *Store) ListLearnings(ctx context.Context, filter LearningFilter) ([]*Learning, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_learnings")
	defer span.End()

	categories := Categories()
	if filter.Category != nil {
		categories = []Category{*filter.Category}
	}
	var out []*Learning
	for _, c := range categories {
		learnings, err := s.readCategory(ctx, c)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		for _, l := range learnings {
			if filter.matches(l) {
				out = append(out, l)
			}
		}
	}
	span.SetAttributes(attribute.Int("result.count", len(out)))
	return out, nil
}

// DeleteLearning removes a learning permanently. Archiving is the
// normal retirement path; delete exists for operator cleanup.
func (s *Store) DeleteLearning(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "store.delete_learning",
		trace.WithAttributes(attribute.String("learning.id", id)))
	defer span.End()

	for _, c := range Categories() {
		found := false
		err := s.rewriteCategory(ctx, c, func(existing []*Learning) []*Learning {
			kept := existing[:0]
			for _, l := range existing {
				if l.ID == id {
					found = true
					continue
				}
				kept = append(kept, l)
			}
			return kept
		})
		if err != nil {
			span.RecordError(err)
			return err
		}
		if found {
			s.logger.Info("learning deleted",
				zap.String("learning_id", id),
				zap.String("category", string(c)))
			return nil
		}
	}
	return fmt.Errorf("learning %s: %w", id, ErrRecordNotFound)
}

// SaveEntry inserts or replaces one context entry in its domain/topic file.
func (s *Store) SaveEntry(ctx context.Context, e *ContextEntry) error {
	ctx, span := s.tracer.Start(ctx, "store.save_entry",
		trace.WithAttributes(
			attribute.String("entry.domain", e.Domain),
			attribute.String("entry.topic", e.Topic)))
	defer span.End()

	if err := e.Validate(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("validating entry: %w", err)
	}
	path := s.layout.ContextFile(e.Domain, e.Topic)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating context dir: %w", err)
	}
	return s.rewriteEntries(ctx, path, e.Domain, e.Topic, func(existing []*ContextEntry) []*ContextEntry {
		replaced := false
		for i, cur := range existing {
			if cur.ID == e.ID {
				existing[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, e)
		}
		return existing
	})
}

// GetEntry finds a context entry by ID across the whole tree.
func (s *Store) GetEntry(ctx context.Context, id string) (*ContextEntry, error) {
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("entry %s: %w", id, ErrRecordNotFound)
}

// ListEntries returns every context entry under the domain/topic tree.
func (s *Store) ListEntries(ctx context.Context) ([]*ContextEntry, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_entries")
	defer span.End()

	root := s.layout.ContextDir()
	var out []*ContextEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		domain, topic := entryPathParts(root, path)
		entries, rerr := s.readEntries(ctx, path, domain, topic)
		if rerr != nil {
			return rerr
		}
		out = append(out, entries...)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("result.count", len(out)))
	return out, nil
}

// DeleteEntry removes a context entry permanently.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	path := s.layout.ContextFile(e.Domain, e.Topic)
	return s.rewriteEntries(ctx, path, e.Domain, e.Topic, func(existing []*ContextEntry) []*ContextEntry {
		kept := existing[:0]
		for _, cur := range existing {
			if cur.ID != id {
				kept = append(kept, cur)
			}
		}
		return kept
	})
}

// Stats summarizes store contents for status surfaces.
type Stats struct {
	LearningsByStatus   map[Status]int   `json:"learnings_by_status"`
	LearningsByCategory map[Category]int `json:"learnings_by_category"`
	Entries             int              `json:"entries"`
}

// Stats counts records without loading bodies into long-lived state.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		LearningsByStatus:   make(map[Status]int),
		LearningsByCategory: make(map[Category]int),
	}
	learnings, err := s.ListLearnings(ctx, LearningFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range learnings {
		stats.LearningsByStatus[l.Status]++
		stats.LearningsByCategory[l.Category]++
	}
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	stats.Entries = len(entries)
	return stats, nil
}

// readCategory parses one category file. A missing file is an empty
// category; an unreadable file is fatal. Malformed sections are skipped
// and logged so one bad record never hides the rest.
func (s *Store) readCategory(ctx context.Context, c Category) ([]*Learning, error) {
	path := s.layout.CategoryFile(c)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &CorruptFileError{Path: path, Err: err}
	}
	var out []*Learning
	for _, sec := range splitSections(data) {
		l, derr := decodeLearning(sec, c)
		if derr != nil {
			s.logger.Warn("skipping malformed learning record",
				zap.String("file", path),
				zap.Error(derr))
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) readEntries(ctx context.Context, path, domain, topic string) ([]*ContextEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &CorruptFileError{Path: path, Err: err}
	}
	var out []*ContextEntry
	for _, sec := range splitSections(data) {
		e, derr := decodeEntry(sec, domain, topic)
		if derr != nil {
			s.logger.Warn("skipping malformed context entry",
				zap.String("file", path),
				zap.Error(derr))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// rewriteCategory applies a read-modify-write cycle to one category
// file under its advisory lock.
func (s *Store) rewriteCategory(ctx context.Context, c Category, mutate func([]*Learning) []*Learning) error {
	path := s.layout.CategoryFile(c)
	lock, err := acquireLock(ctx, path)
	if err != nil {
		return err
	}
	defer lock.release()

	existing, err := s.readCategory(ctx, c)
	if err != nil {
		return err
	}
	updated := mutate(existing)
	return writeFileAtomic(path, renderCategoryFile(c, updated))
}

func (s *Store) rewriteEntries(ctx context.Context, path, domain, topic string, mutate func([]*ContextEntry) []*ContextEntry) error {
	lock, err := acquireLock(ctx, path)
	if err != nil {
		return err
	}
	defer lock.release()

	existing, err := s.readEntries(ctx, path, domain, topic)
	if err != nil {
		return err
	}
	updated := mutate(existing)
	if len(updated) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing empty context file %s: %w", path, err)
		}
		return nil
	}
	return writeFileAtomic(path, renderContextFile(domain, topic, updated))
}

func upsertLearnings(existing, updates []*Learning) []*Learning {
	byID := make(map[string]int, len(existing))
	for i, l := range existing {
		byID[l.ID] = i
	}
	for _, u := range updates {
		if i, ok := byID[u.ID]; ok {
			existing[i] = u
		} else {
			byID[u.ID] = len(existing)
			existing = append(existing, u)
		}
	}
	return existing
}

// writeFileAtomic writes via an exclusive temp file and rename so a
// crash mid-write can never truncate the live file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	os.Remove(tmp)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

func entryPathParts(root, path string) (domain, topic string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", ""
	}
	rel = strings.TrimSuffix(rel, ".md")
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], strings.Join(parts[1:], "/")
}
