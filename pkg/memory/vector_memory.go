package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
)

// DefaultScoreThreshold is the minimum similarity for a vector match.
const DefaultScoreThreshold float32 = 0.6

// VectorMemory implements Store with semantic search over a vector store.
// Recency queries go to a journal store, since vector stores have no notion
// of insertion order worth relying on.
type VectorMemory struct {
	store      VectorStore
	embedder   Embedder
	journal    Store
	collection string
	threshold  float32
}

// VectorConfig configures VectorMemory.
type VectorConfig struct {
	Collection string
	// Threshold defaults to DefaultScoreThreshold.
	Threshold float32
	// Journal receives every write and answers Recent. Defaults to an
	// in-memory store.
	Journal Store
}

// NewVectorMemory creates a new VectorMemory. Call Initialize before use.
func NewVectorMemory(store VectorStore, embedder Embedder, cfg VectorConfig) (*VectorMemory, error) {
	if store == nil || embedder == nil {
		return nil, errors.New(errors.CodeInvalidInput, "vector memory needs a store and an embedder", nil)
	}
	if cfg.Collection == "" {
		cfg.Collection = "jarvis_memories"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultScoreThreshold
	}
	if cfg.Journal == nil {
		cfg.Journal = NewInMemory()
	}
	return &VectorMemory{
		store:      store,
		embedder:   embedder,
		journal:    cfg.Journal,
		collection: cfg.Collection,
		threshold:  cfg.Threshold,
	}, nil
}

// Initialize ensures the collection exists with the embedder's dimension.
func (vm *VectorMemory) Initialize(ctx context.Context) error {
	vec, err := vm.embedder.Embed(ctx, "hello")
	if err != nil {
		return errors.New(errors.CodeMemoryError, "get embedding dimension", err)
	}
	if err := vm.store.EnsureCollection(ctx, vm.collection, uint64(len(vec))); err != nil {
		return errors.New(errors.CodeMemoryError, "ensure collection", err).WithContext("collection", vm.collection)
	}
	return nil
}

// Store journals msgs and upserts one point per message.
func (vm *VectorMemory) Store(ctx context.Context, msgs []core.Message, userID string) error {
	now := time.Now()
	entries := entriesFrom(msgs, userID, now)
	if len(entries) == 0 {
		return nil
	}

	points := make([]Point, 0, len(entries))
	for _, e := range entries {
		vector, err := vm.embedder.Embed(ctx, e.Text)
		if err != nil {
			return errors.New(errors.CodeMemoryError, "embed memory", err)
		}
		e.ID = uuid.NewString()
		points = append(points, Point{Vector: vector, Entry: e})
	}
	if err := vm.store.Upsert(ctx, vm.collection, points); err != nil {
		return errors.New(errors.CodeMemoryError, "store points", err)
	}
	return vm.journal.Store(ctx, msgs, userID)
}

// Search embeds query and returns the texts of the nearest points.
func (vm *VectorMemory) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if trimText(query) == "" || limit <= 0 {
		return nil, nil
	}
	vector, err := vm.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "embed query", err)
	}
	matches, err := vm.store.Search(ctx, vm.collection, vector, limit, vm.threshold)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "search points", err)
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Entry.Text != "" {
			texts = append(texts, m.Entry.Text)
		}
	}
	return texts, nil
}

// Recent delegates to the journal.
func (vm *VectorMemory) Recent(ctx context.Context, n int) ([]string, error) {
	return vm.journal.Recent(ctx, n)
}

// Check reports the journal's health when it has a checker.
func (vm *VectorMemory) Check(ctx context.Context) core.HealthResult {
	if hc, ok := vm.journal.(core.HealthChecker); ok {
		return hc.Check(ctx)
	}
	return core.HealthResult{Status: core.HealthHealthy, Component: "memory", LastCheck: time.Now()}
}
