package vectorstore

import (
	"context"
	"errors"
	"math"
)

// CollectionName is the name of the article collection in every backend.
const CollectionName = "rss_news"

// ErrDimensionMismatch is returned when a query embedding does not match stored embeddings.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Document is one entry of a collection: a unique ID, the embedded text,
// flat string metadata and the embedding vector.
type Document struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float64
}

// Match is a document returned by a similarity query.
type Match struct {
	Document
	// Distance is the cosine distance to the query (lower = more similar)
	Distance float64
}

// Collection stores documents with embeddings and answers nearest-neighbor queries.
// Implementations must be safe for concurrent use.
type Collection interface {
	// Upsert inserts or replaces documents keyed by ID
	Upsert(ctx context.Context, docs []Document) error

	// Query returns up to limit documents ordered by ascending distance
	Query(ctx context.Context, embedding []float64, limit int) ([]Match, error)

	// List returns every document without embeddings
	List(ctx context.Context) ([]Document, error)

	// Sample returns up to n distinct random documents whose IDs are not in exclude
	Sample(ctx context.Context, n int, exclude []string) ([]Document, error)

	// Count returns the number of stored documents
	Count(ctx context.Context) (int, error)

	// Delete removes documents by ID; unknown IDs are ignored
	Delete(ctx context.Context, ids []string) error

	// GetMeta reads a collection-level metadata value
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// SetMeta writes a collection-level metadata value
	SetMeta(ctx context.Context, key, value string) error

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}

// CosineDistance returns 1 - cosine similarity of a and b.
// Zero vectors are maximally distant.
func CosineDistance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
}
