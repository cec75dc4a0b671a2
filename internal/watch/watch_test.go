package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatcher(t *testing.T, path string) *Watcher {
	t.Helper()
	w, err := New(Options{Path: path, Debounce: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	require.NoError(t, w.Start(context.Background()))
	return w
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event within 3s")
		return Event{}
	}
}

func TestNotifiesOnAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	appendLine(t, path, `{"type":"user"}`)

	w := newWatcher(t, path)
	appendLine(t, path, `{"type":"assistant"}`)

	ev := waitEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestNotifiesWhenFileAppearsLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	w := newWatcher(t, path)
	appendLine(t, path, `{"type":"user"}`)

	ev := waitEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	appendLine(t, path, "first")

	w := newWatcher(t, path)
	for i := 0; i < 5; i++ {
		appendLine(t, path, "more")
	}

	waitEvent(t, w)
	select {
	case <-w.Events():
		t.Fatal("burst produced a second event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	appendLine(t, path, "first")

	w := newWatcher(t, path)
	appendLine(t, filepath.Join(dir, "other.jsonl"), "noise")

	select {
	case <-w.Events():
		t.Fatal("sibling file produced an event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSurvivesReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	appendLine(t, path, "first")

	w := newWatcher(t, path)
	require.NoError(t, os.Remove(path))
	appendLine(t, path, "fresh file")

	ev := waitEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestStartRequiresDirectory(t *testing.T) {
	w, err := New(Options{Path: filepath.Join(t.TempDir(), "missing", "session.jsonl")})
	require.NoError(t, err)
	defer w.Stop()
	require.Error(t, w.Start(context.Background()))
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{Path: filepath.Join(dir, "session.jsonl")})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Options{})
	require.ErrorContains(t, err, "Path is required")
}
