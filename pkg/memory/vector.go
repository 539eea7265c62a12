package memory

import "context"

// VectorStore is the part of a vector database VectorMemory needs. Each
// point holds one memory entry.
type VectorStore interface {
	// EnsureCollection creates a collection of dim-sized vectors unless it
	// already exists.
	EnsureCollection(ctx context.Context, collection string, dim uint64) error
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns up to limit entries scoring at least minScore, best first.
	Search(ctx context.Context, collection string, vector []float32, limit int, minScore float32) ([]Match, error)
}

// Point is an embedded memory entry. Entry.ID is the point id.
type Point struct {
	Vector []float32
	Entry  Entry
}

// Match is an entry found near a query vector.
type Match struct {
	Entry Entry
	Score float32
}

// Embedder converts text to vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
