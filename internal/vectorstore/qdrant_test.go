package vectorstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"learnings", "proj_learnings", "a", "abc_123"}
	for _, name := range valid {
		assert.NoError(t, ValidateCollectionName(name), name)
	}

	invalid := []string{"", "Learnings", "has-dash", "has space", "emoji🐚"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidCollectionName, name)
	}
}

func TestQdrantPayloadRoundTrip(t *testing.T) {
	doc := Document{
		ID:      "rec-1",
		Content: "prefer table driven tests",
		Metadata: map[string]string{
			"category":   "convention",
			"confidence": "high",
		},
	}

	payload := encodePayload(doc)
	content, metadata := decodePayload(payload)

	assert.Equal(t, doc.Content, content)
	require.Equal(t, doc.Metadata, metadata)
	assert.NotContains(t, metadata, payloadContentKey)
}

func TestQdrantPayloadReservedKey(t *testing.T) {
	// A metadata key named "content" would shadow the document body.
	doc := Document{
		ID:       "rec-1",
		Content:  "the real body",
		Metadata: map[string]string{"content": "impostor"},
	}

	content, metadata := decodePayload(encodePayload(doc))
	assert.Equal(t, "the real body", content)
	assert.Empty(t, metadata)
}

func TestQdrantConfigDefaults(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.applyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)

	custom := QdrantConfig{Host: "qdrant.internal", Port: 7334, RequestTimeout: time.Second, RetryAttempts: 1}
	custom.applyDefaults()
	assert.Equal(t, "qdrant.internal", custom.Host)
	assert.Equal(t, 7334, custom.Port)
}

func TestIsTransient(t *testing.T) {
	transient := []error{
		status.Error(codes.Unavailable, "connection refused"),
		status.Error(codes.DeadlineExceeded, "took too long"),
		status.Error(codes.Aborted, "conflict"),
		status.Error(codes.ResourceExhausted, "rate limited"),
	}
	for _, err := range transient {
		assert.True(t, isTransient(err), err.Error())
	}

	permanent := []error{
		status.Error(codes.NotFound, "no such collection"),
		status.Error(codes.InvalidArgument, "bad vector size"),
		errors.New("plain error"),
	}
	for _, err := range permanent {
		assert.False(t, isTransient(err), err.Error())
	}
}
