package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTags(t *testing.T) {
	tagger := NewTagger(nil)

	tags := tagger.Tags("Run pytest and check coverage before the release")
	assert.Contains(t, tags, "python")
	assert.Contains(t, tags, "testing")
	assert.Contains(t, tags, "release")

	assert.Empty(t, tagger.Tags("nothing recognizable here"))
}

func TestTagsAreSorted(t *testing.T) {
	tagger := NewTagger(nil)
	tags := tagger.Tags("fix the panic in the grpc endpoint handler")
	assert.Equal(t, []string{"api", "debugging"}, tags)
}

func TestTagsFromFiles(t *testing.T) {
	tagger := NewTagger(nil)

	tags := tagger.TagsFromFiles([]string{"cmd/kodo/main.go", "Dockerfile", "db/schema.sql"})
	assert.Contains(t, tags, "go")
	assert.Contains(t, tags, "docker")
	assert.Contains(t, tags, "sql")
}

func TestTagsCustomRules(t *testing.T) {
	tagger := NewTagger(map[string][]string{"billing": {"invoice", "stripe"}})
	assert.Equal(t, []string{"billing"}, tagger.Tags("the invoice job failed"))
	assert.Empty(t, tagger.Tags("fix the panic in the handler"))
}
