package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFromTranscript(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "plain jsonl file",
			path: "/home/user/.agent/sessions/abc123.jsonl",
			want: "abc123",
		},
		{
			name: "relative path",
			path: "session.jsonl",
			want: "session",
		},
		{
			name: "dotted session id keeps inner dots",
			path: "/tmp/run.2026-08-25.jsonl",
			want: "run.2026-08-25",
		},
		{
			name: "no extension",
			path: "/tmp/transcript",
			want: "transcript",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionFromTranscript(tt.path))
		})
	}
}

// swapStdin points os.Stdin at a pipe carrying the given content for
// the duration of the test.
func swapStdin(t *testing.T, content string) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = orig
		_ = r.Close()
	})

	_, err = w.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestReadHookPayload(t *testing.T) {
	swapStdin(t, `{"session_id":"sess-9","transcript_path":"/tmp/sess-9.jsonl"}`)

	p := readHookPayload()
	require.NotNil(t, p)
	assert.Equal(t, "sess-9", p.SessionID)
	assert.Equal(t, "/tmp/sess-9.jsonl", p.TranscriptPath)
}

func TestReadHookPayloadMalformed(t *testing.T) {
	swapStdin(t, "not json at all")

	assert.Nil(t, readHookPayload())
}

func TestReadHookPayloadEmpty(t *testing.T) {
	swapStdin(t, "")

	assert.Nil(t, readHookPayload())
}
