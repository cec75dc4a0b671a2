package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/paxtone-io/openkodo/internal/store"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: exitGeneral,
		},
		{
			name: "usage error",
			err:  usageErr("--domain is required"),
			want: exitUsage,
		},
		{
			name: "config error",
			err:  &exitError{code: exitConfig, err: errors.New("bad yaml")},
			want: exitConfig,
		},
		{
			name: "store not initialized",
			err:  &store.NotInitializedError{Dir: "/tmp/p"},
			want: exitNotInitialized,
		},
		{
			name: "wrapped store not initialized",
			err:  fmt.Errorf("opening: %w", &store.NotInitializedError{Dir: "/tmp/p"}),
			want: exitNotInitialized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestExactArgsMapsToUsageExit(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}

	err := exactArgs(1)(cmd, nil)
	assert.Equal(t, exitUsage, exitCode(err))

	assert.NoError(t, exactArgs(1)(cmd, []string{"one"}))

	err = maxArgs(1)(cmd, []string{"one", "two"})
	assert.Equal(t, exitUsage, exitCode(err))

	assert.NoError(t, maxArgs(1)(cmd, nil))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "a1b2c3d4", shortID("a1b2c3d4-0000-4000-8000-000000000000"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "", shortID(""))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "string shorter than max",
			input:  "hello",
			maxLen: 10,
			want:   "hello",
		},
		{
			name:   "string equal to max",
			input:  "hello",
			maxLen: 5,
			want:   "hello",
		},
		{
			name:   "string longer than max",
			input:  "hello world",
			maxLen: 8,
			want:   "hello...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
