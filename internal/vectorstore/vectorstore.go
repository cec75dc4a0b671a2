// Package vectorstore abstracts the vector database behind the optional
// semantic half of relevance ranking. The default backend is chromem-go,
// embedded and persisted inside the project's .kodo directory; an
// external Qdrant server can be configured instead. When no vector
// store is configured the index runs purely lexical.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per
	// input, all with the same dimension.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// prefix queries differently from documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is one record to store. ID doubles as the upsert key:
// re-adding an existing ID replaces the stored document.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is one similarity match, highest score first.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// CollectionInfo describes one collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}

// Store is the interface both backends implement. Every operation names
// its collection explicitly; names must satisfy ValidateCollectionName,
// which CollectionName-derived names always do.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, name string, vectorSize int) error

	// DeleteCollection deletes a collection and all its documents.
	DeleteCollection(ctx context.Context, name string) error

	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Info returns point count and vector size for a collection.
	Info(ctx context.Context, name string) (*CollectionInfo, error)

	// AddDocuments embeds and upserts documents into a collection.
	AddDocuments(ctx context.Context, collection string, docs []Document) error

	// DeleteDocuments removes documents by ID. Unknown IDs are ignored.
	DeleteDocuments(ctx context.Context, collection string, ids []string) error

	// Search embeds the query and returns up to k nearest documents.
	Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error)

	// Close releases backend resources.
	Close() error
}

var collectionNameRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names a backend could mangle. Both
// qdrant and chromem cap names at 64 characters.
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}
