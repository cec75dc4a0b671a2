package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxtone-io/openkodo/internal/state"
)

func writeTranscript(t *testing.T, path string, lines ...string) {
	t.Helper()
	var data []byte
	for _, line := range lines {
		data = append(data, line...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func appendTranscript(t *testing.T, path, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(raw)
	require.NoError(t, err)
}

func userLine(id, text string) string {
	return fmt.Sprintf(`{"type":"user","uuid":%q,"timestamp":"2026-08-25T10:00:00Z","sessionId":"sess-1","cwd":"/work/repo","gitBranch":"main","message":{"role":"user","content":[{"type":"text","text":%q}]}}`, id, text)
}

func assistantLine(id, text string) string {
	return fmt.Sprintf(`{"type":"assistant","uuid":%q,"parentUuid":"u1","timestamp":"2026-08-25T10:00:05Z","sessionId":"sess-1","message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`, id, text)
}

func TestReadFromMissingFile(t *testing.T) {
	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl"), 0)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, int64(0), res.NextOffset)
}

func TestReadFromDecodesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path,
		`{"type":"summary","summary":"earlier work"}`,
		userLine("u1", "Always run the linter before pushing"),
		`{"type":"assistant","uuid":"a1","parentUuid":"u1","timestamp":"2026-08-25T10:00:05Z","sessionId":"sess-1","message":{"role":"assistant","content":[{"type":"text","text":"Running it now."},{"type":"tool_use","name":"Bash","input":{"command":"make lint"}},{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`,
	)

	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Zero(t, res.SkippedLines)

	user := res.Events[0]
	assert.Equal(t, "sess-1", user.SessionID)
	assert.Equal(t, "u1", user.EventID)
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, "Always run the linter before pushing", user.Text)
	assert.Equal(t, "/work/repo", user.WorkDir)
	assert.Equal(t, "main", user.GitBranch)

	asst := res.Events[1]
	assert.Equal(t, RoleAssistant, asst.Role)
	assert.Equal(t, "u1", asst.ParentID)
	assert.Equal(t, "Running it now.", asst.Text)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "Bash", asst.ToolCalls[0].Name)
	assert.Equal(t, "make lint", asst.ToolCalls[0].Params["command"])
	assert.Equal(t, "ok", asst.ToolCalls[0].Result)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.NextOffset)
}

func TestReadFromBareStringUserContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path,
		`{"type":"user","uuid":"u1","timestamp":"2026-08-25T10:00:00Z","sessionId":"sess-1","message":"plain text prompt"}`,
	)

	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "plain text prompt", res.Events[0].Text)
}

func TestReadFromSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path,
		userLine("u1", "first"),
		`{this is not json`,
		assistantLine("a1", "second"),
	)

	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, 1, res.SkippedLines)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Line)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.NextOffset, "malformed lines still advance the cursor")
}

func TestReadFromHoldsPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path, userLine("u1", "complete"))
	appendTranscript(t, path, `{"type":"user","uuid":"u2","time`)

	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "u1", res.Events[0].EventID)
	complete := int64(len(userLine("u1", "complete")) + 1)
	assert.Equal(t, complete, res.NextOffset, "offset stops at the last newline")

	// The writer finishes the line; a second read picks up only the new event.
	appendTranscript(t, path, "stamp\":\"2026-08-25T10:01:00Z\",\"sessionId\":\"sess-1\",\"message\":\"later\"}\n")
	res, err = r.ReadFrom(context.Background(), path, res.NextOffset)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "u2", res.Events[0].EventID)
	assert.Equal(t, "later", res.Events[0].Text)
}

func TestReadFromHoldsWhenFileShrinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path, userLine("u1", "short"))

	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), path, 100000)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, int64(100000), res.NextOffset)
}

func TestReadFromSessionIDDefaultsToFilename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc-123.jsonl")
	writeTranscript(t, path,
		`{"type":"user","uuid":"u1","timestamp":"2026-08-25T10:00:00Z","message":"hello"}`,
	)

	r := NewReader(nil)
	res, err := r.ReadFrom(context.Background(), path, 0)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "abc-123", res.Events[0].SessionID)
}

func newTestCursor(t *testing.T) (*Cursor, *state.DB) {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCursor(db, nil), db
}

func TestCursorAdvanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cursor, _ := newTestCursor(t)

	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path, userLine("u1", "one"), assistantLine("a1", "two"))

	events, err := cursor.Advance(ctx, "sess-1", path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Nothing new: a second pass over the same bytes yields nothing.
	events, err = cursor.Advance(ctx, "sess-1", path)
	require.NoError(t, err)
	assert.Empty(t, events)

	appendTranscript(t, path, userLine("u2", "three")+"\n")
	events, err = cursor.Advance(ctx, "sess-1", path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u2", events[0].EventID)
}

func TestCursorUsesStoredPath(t *testing.T) {
	ctx := context.Background()
	cursor, _ := newTestCursor(t)

	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path, userLine("u1", "one"))

	_, err := cursor.Advance(ctx, "sess-1", path)
	require.NoError(t, err)

	appendTranscript(t, path, userLine("u2", "two")+"\n")
	events, err := cursor.Advance(ctx, "sess-1", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u2", events[0].EventID)
}

func TestCursorPathChangeRestartsFromZero(t *testing.T) {
	ctx := context.Background()
	cursor, db := newTestCursor(t)

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.jsonl")
	writeTranscript(t, oldPath, userLine("u1", "one"), userLine("u2", "two"))
	_, err := cursor.Advance(ctx, "sess-1", oldPath)
	require.NoError(t, err)

	newPath := filepath.Join(dir, "new.jsonl")
	writeTranscript(t, newPath, userLine("u9", "fresh"))
	events, err := cursor.Advance(ctx, "sess-1", newPath)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u9", events[0].EventID)

	stored, err := db.GetCursor(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, newPath, stored.TranscriptPath)
}

func TestCursorResetReplaysEverything(t *testing.T) {
	ctx := context.Background()
	cursor, _ := newTestCursor(t)

	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	writeTranscript(t, path, userLine("u1", "one"), assistantLine("a1", "two"))

	events, err := cursor.Advance(ctx, "sess-1", path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, cursor.Reset(ctx, "sess-1"))
	events, err = cursor.Advance(ctx, "sess-1", path)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCursorUnknownSessionNoPath(t *testing.T) {
	ctx := context.Background()
	cursor, _ := newTestCursor(t)

	events, err := cursor.Advance(ctx, "never-seen", "")
	require.NoError(t, err)
	assert.Empty(t, events)
}
