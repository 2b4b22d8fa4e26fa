package retrieval

import (
	"context"
	"errors"
)

var (
	ErrValidation = errors.New("invalid search request")
	ErrEmbedding  = errors.New("embedding failed")
	ErrIndex      = errors.New("vector index failed")
)

// Embedder maps texts to vectors of a fixed length, one per input and in
// input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is one entry written to a VectorIndex.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Candidate is a query hit. Distance is the cosine distance 1-cos(q, v) and
// lies in [0, 2].
type Candidate struct {
	ID       string
	Distance float64
	Content  string
	Metadata map[string]any
}

// VectorIndex stores passages by ID. Add overwrites entries whose ID already
// exists. Query returns candidates by ascending distance that match every
// filter field exactly.
type VectorIndex interface {
	Add(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Candidate, error)
	AllMetadata(ctx context.Context) ([]map[string]any, error)
	Count(ctx context.Context) (int, error)
}
