package store

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category and context files are plain markdown: one "## " section per
// record, metadata as "- _key: value" list items directly under the
// heading, free body text after. The format is stable so the files stay
// diffable and hand-editable.

const managedNotice = "<!-- Managed by kodo. Metadata lines start with \"- _\"; edit values, keep the shape. -->"

func categoryHeader(c Category) string {
	return fmt.Sprintf("# %s learnings\n\n%s\n", categoryTitle(c), managedNotice)
}

func categoryTitle(c Category) string {
	switch c {
	case CategoryTechStack:
		return "Tech stack"
	default:
		title := strings.ReplaceAll(string(c), "_", " ")
		if title == "" {
			return title
		}
		return strings.ToUpper(title[:1]) + title[1:]
	}
}

func contextHeader(domain, topic string) string {
	return fmt.Sprintf("# %s / %s\n\n%s\n", domain, topic, managedNotice)
}

// section is one parsed "## " block: heading line, metadata values
// (repeatable keys), and the remaining body lines.
type section struct {
	heading string
	meta    map[string][]string
	body    []string
}

func (s *section) first(key string) string {
	vals := s.meta[key]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// splitSections parses file content into record sections. Lines before
// the first "## " heading (the file header) are ignored.
func splitSections(data []byte) []*section {
	lines := strings.Split(string(data), "\n")
	var sections []*section
	var cur *section
	inMeta := false
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			cur = &section{
				heading: strings.TrimSpace(strings.TrimPrefix(line, "## ")),
				meta:    make(map[string][]string),
			}
			sections = append(sections, cur)
			inMeta = true
			continue
		}
		if cur == nil {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if inMeta {
			if trimmed == "" && len(cur.body) == 0 {
				continue
			}
			if key, val, ok := parseMetaLine(trimmed); ok {
				cur.meta[key] = append(cur.meta[key], val)
				continue
			}
			inMeta = false
		}
		cur.body = append(cur.body, unescapeBodyLine(line))
	}
	for _, s := range sections {
		s.body = trimBlankEdges(s.body)
	}
	return sections
}

func parseMetaLine(line string) (key, val string, ok bool) {
	if !strings.HasPrefix(line, "- _") {
		return "", "", false
	}
	rest := strings.TrimPrefix(line, "- _")
	idx := strings.Index(rest, ":")
	if idx <= 0 {
		return "", "", false
	}
	return rest[:idx], strings.TrimSpace(rest[idx+1:]), true
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

// Body lines that would themselves look like a section heading are
// escaped with a leading backslash on write and unescaped on read.
func escapeBodyLine(line string) string {
	if strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "\\") {
		return "\\" + line
	}
	return line
}

func unescapeBodyLine(line string) string {
	if strings.HasPrefix(line, "\\") {
		return line[1:]
	}
	return line
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.Join(strings.Fields(s), " ")
}

// encodeLearning renders one learning section. Free-form notes under a
// learning are not round-tripped; the metadata lines are authoritative.
func encodeLearning(l *Learning) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(singleLine(l.Statement))
	b.WriteString("\n\n")
	writeMeta(&b, "id", l.ID)
	writeMeta(&b, "status", string(l.Status))
	writeMeta(&b, "confidence", string(l.Confidence))
	if l.Fingerprint != "" {
		writeMeta(&b, "fingerprint", l.Fingerprint)
	}
	if l.AgentScope != "" {
		writeMeta(&b, "scope", l.AgentScope)
	}
	writeMeta(&b, "created", l.CreatedAt.UTC().Format(time.RFC3339))
	writeMeta(&b, "confirmed", l.LastConfirmedAt.UTC().Format(time.RFC3339))
	for _, ev := range l.Evidence {
		writeMeta(&b, "evidence", encodeEvidence(ev))
	}
	return b.String()
}

func decodeLearning(s *section, category Category) (*Learning, error) {
	if s.heading == "" {
		return nil, fmt.Errorf("learning section has empty statement")
	}
	id := s.first("id")
	if id == "" {
		return nil, fmt.Errorf("learning %q missing id", s.heading)
	}
	status := Status(s.first("status"))
	if !IsValidStatus(status) {
		return nil, fmt.Errorf("learning %s has invalid status %q", id, s.first("status"))
	}
	confidence := Confidence(s.first("confidence"))
	if !IsValidConfidence(confidence) {
		return nil, fmt.Errorf("learning %s has invalid confidence %q", id, s.first("confidence"))
	}
	created, err := parseMetaTime(s.first("created"))
	if err != nil {
		return nil, fmt.Errorf("learning %s: %w", id, err)
	}
	confirmed, err := parseMetaTime(s.first("confirmed"))
	if err != nil {
		return nil, fmt.Errorf("learning %s: %w", id, err)
	}
	l := &Learning{
		ID:              id,
		Category:        category,
		Statement:       s.heading,
		Confidence:      confidence,
		AgentScope:      s.first("scope"),
		Fingerprint:     s.first("fingerprint"),
		Status:          status,
		CreatedAt:       created,
		LastConfirmedAt: confirmed,
	}
	for _, raw := range s.meta["evidence"] {
		l.Evidence = append(l.Evidence, decodeEvidence(raw))
	}
	return l, nil
}

// encodeEntry renders one context entry section including its body.
func encodeEntry(e *ContextEntry) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(singleLine(e.Title))
	b.WriteString("\n\n")
	writeMeta(&b, "id", e.ID)
	if e.Subtopic != "" {
		writeMeta(&b, "subtopic", e.Subtopic)
	}
	writeMeta(&b, "confidence", string(e.Confidence))
	if len(e.Tags) > 0 {
		writeMeta(&b, "tags", strings.Join(e.Tags, ", "))
	}
	if e.SourceRef != "" {
		writeMeta(&b, "source", e.SourceRef)
	}
	writeMeta(&b, "created", e.CreatedAt.UTC().Format(time.RFC3339))
	writeMeta(&b, "updated", e.UpdatedAt.UTC().Format(time.RFC3339))
	if body := strings.TrimRight(e.Body, "\n"); body != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(body, "\n") {
			b.WriteString(escapeBodyLine(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func decodeEntry(s *section, domain, topic string) (*ContextEntry, error) {
	if s.heading == "" {
		return nil, fmt.Errorf("entry section has empty title")
	}
	id := s.first("id")
	if id == "" {
		return nil, fmt.Errorf("entry %q missing id", s.heading)
	}
	confidence := Confidence(s.first("confidence"))
	if !IsValidConfidence(confidence) {
		return nil, fmt.Errorf("entry %s has invalid confidence %q", id, s.first("confidence"))
	}
	created, err := parseMetaTime(s.first("created"))
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}
	updated, err := parseMetaTime(s.first("updated"))
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}
	e := &ContextEntry{
		ID:         id,
		Domain:     domain,
		Topic:      topic,
		Subtopic:   s.first("subtopic"),
		Title:      s.heading,
		Body:       strings.Join(s.body, "\n"),
		Confidence: confidence,
		SourceRef:  s.first("source"),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
	if tags := s.first("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				e.Tags = append(e.Tags, t)
			}
		}
	}
	return e, nil
}

func writeMeta(b *strings.Builder, key, val string) {
	b.WriteString("- _")
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(singleLine(val))
	b.WriteString("\n")
}

func parseMetaTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return t, nil
}

// Evidence lines pack the reference fields as k=v pairs, with the
// excerpt after a " :: " separator: "session=S event=E branch=B commit=C :: text".
func encodeEvidence(ev EvidenceRef) string {
	parts := make([]string, 0, 4)
	if ev.SessionID != "" {
		parts = append(parts, "session="+ev.SessionID)
	}
	if ev.EventID != "" {
		parts = append(parts, "event="+ev.EventID)
	}
	if ev.Branch != "" {
		parts = append(parts, "branch="+ev.Branch)
	}
	if ev.Commit != "" {
		parts = append(parts, "commit="+ev.Commit)
	}
	out := strings.Join(parts, " ")
	if ev.Excerpt != "" {
		out += " :: " + singleLine(ev.Excerpt)
	}
	return out
}

func decodeEvidence(raw string) EvidenceRef {
	var ev EvidenceRef
	raw = strings.TrimSpace(raw)
	fields := raw
	if idx := strings.Index(raw, " :: "); idx >= 0 {
		fields = raw[:idx]
		ev.Excerpt = raw[idx+4:]
	} else if rest, ok := strings.CutPrefix(raw, ":: "); ok {
		// No reference fields, excerpt only.
		fields = ""
		ev.Excerpt = rest
	}
	for _, f := range strings.Fields(fields) {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "session":
			ev.SessionID = v
		case "event":
			ev.EventID = v
		case "branch":
			ev.Branch = v
		case "commit":
			ev.Commit = v
		}
	}
	return ev
}

// renderCategoryFile assembles the full category file with learnings in
// stable creation order so rewrites produce minimal diffs.
func renderCategoryFile(c Category, learnings []*Learning) []byte {
	sorted := make([]*Learning, len(learnings))
	copy(sorted, learnings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	var b strings.Builder
	b.WriteString(categoryHeader(c))
	for _, l := range sorted {
		b.WriteString("\n")
		b.WriteString(encodeLearning(l))
	}
	return []byte(b.String())
}

// renderContextFile assembles one domain/topic file.
func renderContextFile(domain, topic string, entries []*ContextEntry) []byte {
	sorted := make([]*ContextEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	var b strings.Builder
	b.WriteString(contextHeader(domain, topic))
	for _, e := range sorted {
		b.WriteString("\n")
		b.WriteString(encodeEntry(e))
	}
	return []byte(b.String())
}
