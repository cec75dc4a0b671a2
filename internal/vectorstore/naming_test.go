package vectorstore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxtone-io/openkodo/internal/vectorstore"
)

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		base string
	}{
		{name: "simple", dir: "/home/dev/payments", base: "kodo_payments_"},
		{name: "mixed case and spaces", dir: "/home/dev/My Project!", base: "kodo_my_project_"},
		{name: "dots and dashes", dir: "/srv/api.v2-beta", base: "kodo_api_v2_beta_"},
		{name: "nothing valid", dir: "/tmp/!!!", base: "kodo_project_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vectorstore.CollectionName(tt.dir)
			assert.True(t, strings.HasPrefix(got, tt.base), "got %q", got)
			require.NoError(t, vectorstore.ValidateCollectionName(got))
		})
	}
}

func TestCollectionNameIsStable(t *testing.T) {
	a := vectorstore.CollectionName("/home/dev/payments")
	b := vectorstore.CollectionName("/home/dev/payments")
	assert.Equal(t, a, b)
}

func TestCollectionNameSeparatesSameBasename(t *testing.T) {
	a := vectorstore.CollectionName("/home/alice/web")
	b := vectorstore.CollectionName("/home/bob/web")
	assert.NotEqual(t, a, b)
}

func TestCollectionNameTruncatesLongBasenames(t *testing.T) {
	long := "/srv/" + strings.Repeat("analytics", 12)
	got := vectorstore.CollectionName(long)
	assert.LessOrEqual(t, len(got), 64)
	require.NoError(t, vectorstore.ValidateCollectionName(got))
}
