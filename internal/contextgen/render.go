package contextgen

import (
	"fmt"
	"strings"

	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

const timelineExcerptLen = 160

func render(r index.RankedResult, detail Detail) string {
	switch detail {
	case DetailTimeline:
		return timelineEntry(r)
	case DetailFull:
		return fullEntry(r)
	default:
		return compactLine(r)
	}
}

// compactLine is one bullet: confidence, origin, title.
func compactLine(r index.RankedResult) string {
	return fmt.Sprintf("- [%s/%s] %s", r.Confidence, originLabel(r), r.Title)
}

// timelineEntry is a dated line with a clipped body excerpt.
func timelineEntry(r index.RankedResult) string {
	line := r.UpdatedAt.Format("2006-01-02") + "  " + r.Title
	if ex := excerpt(r.Body, timelineExcerptLen); ex != "" {
		line += "\n    " + ex
	}
	return line
}

// fullEntry is a markdown section with the complete body.
func fullEntry(r index.RankedResult) string {
	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(r.Title)
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("_%s confidence, %s, updated %s_\n",
		r.Confidence, originLabel(r), r.UpdatedAt.Format("2006-01-02")))
	if r.Body != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(r.Body, "\n"))
		b.WriteString("\n")
	}
	if len(r.Tags) > 0 {
		b.WriteString("\nTags: ")
		b.WriteString(strings.Join(r.Tags, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// originLabel names where a record came from: the learning category, or
// the entry's domain/topic.
func originLabel(r index.RankedResult) string {
	if r.Kind == store.KindEntry {
		if r.Topic != "" {
			return r.Domain + "/" + r.Topic
		}
		return r.Domain
	}
	return string(r.Category)
}

// excerpt collapses whitespace and clips to max runes.
func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}

// estimateTokens is a rough count. Simple estimate: ~4 chars per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
