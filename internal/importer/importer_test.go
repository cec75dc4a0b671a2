package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxtone-io/openkodo/internal/store"
)

func newImporter(t *testing.T) (*Importer, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	_, err := store.Init(dir)
	require.NoError(t, err)

	now := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	records, err := store.Open(filepath.Join(dir, store.DirName), store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	imp, err := New(Options{Records: records, Clock: func() time.Time { return now }})
	require.NoError(t, err)
	return imp, records
}

const paymentNotes = `# Payment Notes

These notes cover the payment service.

## Retry policy

Retries use exponential backoff with a cap of five attempts.

` + "```go" + `
backoff := time.Second * time.Duration(1<<attempt)
` + "```" + `

## Idempotency keys

Every mutating request carries an idempotency key header.
`

func TestImportSplitsSections(t *testing.T) {
	imp, _ := newImporter(t)

	res, err := imp.Import(context.Background(), []byte(paymentNotes), "payments", "", "import:notes.md")
	require.NoError(t, err)

	assert.Equal(t, "payments", res.Domain)
	assert.Equal(t, "payment-notes", res.Topic, "topic falls back to the level-1 heading")
	assert.Equal(t, 1, res.Skipped, "preamble text belongs to no section")
	require.Len(t, res.Created, 2)
	assert.Empty(t, res.Updated)

	retry := res.Created[0]
	assert.Equal(t, "Retry policy", retry.Title)
	assert.Contains(t, retry.Body, "exponential backoff")
	assert.Contains(t, retry.Body, "1<<attempt", "fenced code stays in the body")
	assert.Equal(t, []string{"go"}, retry.Tags)
	assert.Equal(t, store.ConfidenceMedium, retry.Confidence)
	assert.Equal(t, "import:notes.md", retry.SourceRef)

	keys := res.Created[1]
	assert.Equal(t, "Idempotency keys", keys.Title)
	assert.Contains(t, keys.Body, "idempotency key header")
	assert.NotContains(t, keys.Body, "exponential", "section bodies do not bleed into each other")
	assert.Empty(t, keys.Tags)
}

func TestImportExplicitTopicWins(t *testing.T) {
	imp, _ := newImporter(t)

	res, err := imp.Import(context.Background(), []byte(paymentNotes), "payments", "conventions", "import:notes.md")
	require.NoError(t, err)
	assert.Equal(t, "conventions", res.Topic)
}

func TestImportRequiresDomain(t *testing.T) {
	imp, _ := newImporter(t)

	_, err := imp.Import(context.Background(), []byte(paymentNotes), "", "", "import:notes.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain")
}

func TestReimportUpdatesInPlace(t *testing.T) {
	imp, records := newImporter(t)
	ctx := context.Background()

	first, err := imp.Import(ctx, []byte(paymentNotes), "payments", "", "import:notes.md")
	require.NoError(t, err)
	require.Len(t, first.Created, 2)

	revised := []byte(`# Payment Notes

## Retry policy

Retries now cap at three attempts.

## Idempotency keys

Every mutating request carries an idempotency key header.
`)
	second, err := imp.Import(ctx, revised, "payments", "", "import:notes.md")
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	require.Len(t, second.Updated, 2)

	assert.Equal(t, first.Created[0].ID, second.Updated[0].ID, "matching titles keep their identity")
	got, err := records.GetEntry(ctx, first.Created[0].ID)
	require.NoError(t, err)
	assert.Contains(t, got.Body, "three attempts")
	assert.NotContains(t, got.Body, "five attempts")

	all, err := records.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2, "re-import does not grow the store")
}

func TestImportHeadinglessDocument(t *testing.T) {
	imp, records := newImporter(t)

	res, err := imp.Import(context.Background(), []byte("just a loose paragraph\n"), "misc", "", "import:loose.md")
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, 1, res.Skipped)

	all, err := records.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImportRepeatedHeadingCollapses(t *testing.T) {
	imp, records := newImporter(t)

	doc := []byte(`## Setup

First version.

## Setup

Second version.
`)
	res, err := imp.Import(context.Background(), doc, "tools", "", "import:setup.md")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	require.Len(t, res.Updated, 1)

	all, err := records.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, all[0].Body, "Second version")
}

func TestImportSetextHeadings(t *testing.T) {
	imp, _ := newImporter(t)

	doc := []byte("Deploy Notes\n============\n\nRollbacks\n---------\n\nRoll back with the previous tag.\n")
	res, err := imp.Import(context.Background(), doc, "ops", "", "import:deploy.md")
	require.NoError(t, err)

	assert.Equal(t, "deploy-notes", res.Topic)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "Rollbacks", res.Created[0].Title)
	assert.Equal(t, "Roll back with the previous tag.", res.Created[0].Body)
}

func TestImportCollectsMultipleLanguages(t *testing.T) {
	imp, _ := newImporter(t)

	doc := []byte("## Queries\n\n```sql\nSELECT 1;\n```\n\n```go\nrows.Scan(&n)\n```\n")
	res, err := imp.Import(context.Background(), doc, "db", "", "import:q.md")
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, []string{"go", "sql"}, res.Created[0].Tags)
}

func TestImportFileDefaultsDomainFromFilename(t *testing.T) {
	imp, _ := newImporter(t)

	path := filepath.Join(t.TempDir(), "Team Conventions.md")
	require.NoError(t, os.WriteFile(path, []byte("## Reviews\n\nTwo approvals per change.\n"), 0o600))

	res, err := imp.ImportFile(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "team-conventions", res.Domain)
	assert.Equal(t, DefaultTopic, res.Topic)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "import:Team Conventions.md", res.Created[0].SourceRef)
}

func TestImportFileMissing(t *testing.T) {
	imp, _ := newImporter(t)

	_, err := imp.ImportFile(context.Background(), filepath.Join(t.TempDir(), "absent.md"), "docs", "")
	require.Error(t, err)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Payment Notes", "payment-notes"},
		{"team_conventions", "team-conventions"},
		{"  HTTP/2 Tips  ", "http-2-tips"},
		{"---", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slug(tt.in), tt.in)
	}
}
