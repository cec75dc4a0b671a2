package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paxtone-io/openkodo/internal/index"
	"github.com/paxtone-io/openkodo/internal/store"
)

func TestResultWhere(t *testing.T) {
	tests := []struct {
		name   string
		result index.RankedResult
		want   string
	}{
		{
			name: "learning shows its category",
			result: index.RankedResult{
				Kind:     store.KindLearning,
				Category: store.CategoryRule,
			},
			want: "rule",
		},
		{
			name: "entry shows domain and topic",
			result: index.RankedResult{
				Kind:   store.KindEntry,
				Domain: "payments",
				Topic:  "retries",
			},
			want: "payments/retries",
		},
		{
			name: "entry without topic shows domain alone",
			result: index.RankedResult{
				Kind:   store.KindEntry,
				Domain: "ops",
			},
			want: "ops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resultWhere(tt.result))
		})
	}
}

func TestCategoryNames(t *testing.T) {
	names := categoryNames()

	assert.Contains(t, names, "rule")
	assert.Contains(t, names, "tech_stack")
	assert.Contains(t, names, ", ")
}
