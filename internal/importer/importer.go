// Package importer files existing markdown notes as context entries.
//
// A document splits at its top-level headings: the first level-1
// heading names the topic, every following level-1 or level-2 heading
// starts a section, and each section becomes one entry titled by its
// heading with the raw markdown beneath it as the body. Languages of
// fenced code blocks become entry tags. Re-importing a file updates
// matching entries in place instead of duplicating them.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/store"
)

// DefaultTopic is used when neither the caller nor the document names
// one.
const DefaultTopic = "notes"

// maxImportSize caps imported files at 4MB.
const maxImportSize = 4 << 20

// Result summarizes an import run.
type Result struct {
	// Created holds entries new to the store.
	Created []*store.ContextEntry

	// Updated holds entries that matched an existing title under the
	// same domain and topic and were rewritten in place.
	Updated []*store.ContextEntry

	// Skipped counts content that belongs to no section, such as text
	// between the document title and the first section heading.
	Skipped int

	Domain string
	Topic  string
}

// Entries returns created and updated entries together, in document
// order, for incremental index updates.
func (r *Result) Entries() []*store.ContextEntry {
	out := make([]*store.ContextEntry, 0, len(r.Created)+len(r.Updated))
	out = append(out, r.Created...)
	return append(out, r.Updated...)
}

// Options configures an Importer.
type Options struct {
	// Records is the store entries are written to. Required.
	Records *store.Store

	Logger *zap.Logger
	Clock  func() time.Time
}

// Importer turns markdown documents into context entries.
type Importer struct {
	records *store.Store
	logger  *zap.Logger
	now     func() time.Time
	md      goldmark.Markdown
}

// New creates an Importer.
func New(opts Options) (*Importer, error) {
	if opts.Records == nil {
		return nil, errors.New("importer: Records is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Importer{
		records: opts.Records,
		logger:  logger,
		now:     now,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

// ImportFile reads the markdown file at path and files its sections.
// An empty domain falls back to the file name stem, an empty topic to
// the document's first level-1 heading and then to DefaultTopic.
func (i *Importer) ImportFile(ctx context.Context, path, domain, topic string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	if info.Size() > maxImportSize {
		return nil, fmt.Errorf("importer: %s is too large: %d bytes (max %d)", path, info.Size(), maxImportSize)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}

	if domain == "" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if domain = slug(stem); domain == "" {
			domain = "imported"
		}
	}
	return i.Import(ctx, src, domain, topic, "import:"+filepath.Base(path))
}

// Import parses src and files its sections under domain. sourceRef is
// stamped on every entry so its origin stays visible.
func (i *Importer) Import(ctx context.Context, src []byte, domain, topic, sourceRef string) (*Result, error) {
	if domain == "" {
		return nil, errors.New("importer: domain is required")
	}

	docTitle, sections, skipped := i.split(src)
	if topic == "" {
		if topic = slug(docTitle); topic == "" {
			topic = DefaultTopic
		}
	}

	res := &Result{Skipped: skipped, Domain: domain, Topic: topic}
	if len(sections) == 0 {
		return res, nil
	}

	existing, err := i.existingByTitle(ctx, domain, topic)
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	for _, sec := range sections {
		body := strings.TrimSpace(string(src[sec.start:sec.end]))
		tags := sec.tags()

		if prev, ok := existing[strings.ToLower(sec.title)]; ok {
			prev.Body = body
			prev.Tags = tags
			prev.SourceRef = sourceRef
			prev.UpdatedAt = now
			if err := i.records.SaveEntry(ctx, prev); err != nil {
				return nil, fmt.Errorf("importer: updating %q: %w", sec.title, err)
			}
			res.Updated = append(res.Updated, prev)
			continue
		}

		entry, err := store.NewContextEntry(domain, topic, sec.title, store.ConfidenceMedium, now)
		if err != nil {
			return nil, fmt.Errorf("importer: section %q: %w", sec.title, err)
		}
		entry.Body = body
		entry.Tags = tags
		entry.SourceRef = sourceRef
		if err := i.records.SaveEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("importer: saving %q: %w", sec.title, err)
		}
		// A repeated heading later in the same document updates this
		// entry instead of duplicating it.
		existing[strings.ToLower(sec.title)] = entry
		res.Created = append(res.Created, entry)
	}

	i.logger.Info("markdown import complete",
		zap.String("domain", domain),
		zap.String("topic", topic),
		zap.Int("created", len(res.Created)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// existingByTitle maps lower-cased titles of entries already filed
// under domain/topic, so re-imports update instead of duplicate.
func (i *Importer) existingByTitle(ctx context.Context, domain, topic string) (map[string]*store.ContextEntry, error) {
	all, err := i.records.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("importer: listing entries: %w", err)
	}
	m := make(map[string]*store.ContextEntry)
	for _, e := range all {
		if e.Domain == domain && e.Topic == topic {
			m[strings.ToLower(e.Title)] = e
		}
	}
	return m, nil
}

// mdSection is one heading-delimited slice of the source document.
type mdSection struct {
	title string
	start int
	end   int
	langs map[string]struct{}
}

func (s *mdSection) tags() []string {
	if len(s.langs) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.langs))
	for l := range s.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// split parses src and returns the document title, its sections, and
// a skip count for sectionless content. Only top-level headings open
// sections; deeper headings stay inside the surrounding body.
func (i *Importer) split(src []byte) (docTitle string, sections []*mdSection, skipped int) {
	root := i.md.Parser().Parse(text.NewReader(src))

	preambleStart := 0
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 {
			continue
		}
		title, lineStart, bodyStart := headingSpan(src, h)
		if title == "" {
			continue
		}
		if len(sections) == 0 {
			if len(bytes.TrimSpace(src[preambleStart:lineStart])) > 0 {
				skipped++
			}
			if h.Level == 1 && docTitle == "" {
				docTitle = title
				preambleStart = bodyStart
				continue
			}
		} else {
			sections[len(sections)-1].end = lineStart
		}
		sections = append(sections, &mdSection{
			title: title,
			start: bodyStart,
			end:   len(src),
			langs: make(map[string]struct{}),
		})
	}

	if len(sections) == 0 {
		if len(bytes.TrimSpace(src[preambleStart:])) > 0 {
			skipped++
		}
		return docTitle, nil, skipped
	}

	collectLanguages(root, src, sections)
	return docTitle, sections, skipped
}

// collectLanguages walks fenced code blocks and records each block's
// language on the section its offset falls into.
func collectLanguages(root ast.Node, src []byte, sections []*mdSection) {
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := string(fcb.Language(src))
		if lang == "" {
			return ast.WalkContinue, nil
		}

		offset := -1
		if lines := fcb.Lines(); lines.Len() > 0 {
			offset = lines.At(0).Start
		} else if fcb.Info != nil {
			offset = fcb.Info.Segment.Start
		}
		if offset < 0 {
			return ast.WalkContinue, nil
		}
		for _, sec := range sections {
			if offset >= sec.start && offset < sec.end {
				sec.langs[lang] = struct{}{}
				break
			}
		}
		return ast.WalkContinue, nil
	})
}

// headingSpan returns the heading text, the offset where its first
// line starts and the offset where the body after it begins.
func headingSpan(src []byte, h *ast.Heading) (title string, lineStart, bodyStart int) {
	lines := h.Lines()
	if lines.Len() == 0 {
		return "", -1, -1
	}
	first := lines.At(0)
	last := lines.At(lines.Len() - 1)

	lineStart = bytes.LastIndexByte(src[:first.Start], '\n') + 1
	bodyStart = nextLine(src, last.Stop)
	// A setext underline sits on the line after the heading text.
	if skip := setextUnderline(src[bodyStart:]); skip > 0 {
		bodyStart += skip
	}
	return strings.TrimSpace(string(first.Value(src))), lineStart, bodyStart
}

// nextLine returns the offset just past the newline at or after pos.
func nextLine(src []byte, pos int) int {
	if idx := bytes.IndexByte(src[pos:], '\n'); idx >= 0 {
		return pos + idx + 1
	}
	return len(src)
}

// setextUnderline reports the length of a ===/--- underline line at
// the start of b, or zero.
func setextUnderline(b []byte) int {
	i := 0
	for i < len(b) && (b[i] == '=' || b[i] == '-') {
		i++
	}
	if i == 0 {
		return 0
	}
	j := i
	for j < len(b) && (b[j] == ' ' || b[j] == '\t' || b[j] == '\r') {
		j++
	}
	switch {
	case j == len(b):
		return j
	case b[j] == '\n':
		return j + 1
	default:
		return 0
	}
}

// slug normalizes a derived name into a domain or topic identifier.
func slug(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}
