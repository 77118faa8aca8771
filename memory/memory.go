package memory

import (
	"context"
	"time"
)

// Fact is one stored, immutable (owner, text, embedding, timestamp) record.
// Once appended it is never mutated or deleted in normal operation; repeated
// statements accumulate as separate facts.
type Fact struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredFact pairs a fact with its cosine similarity to a search query.
type ScoredFact struct {
	Fact  Fact
	Score float64
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing/dev), onnx (local model), ollama (API).
//
// Embed is deterministic for identical input under a fixed model version and
// may block on model inference; callers pass a context for that reason.
// All embeddings from one Embedder have length Dimensions().
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// FactStore is the durable storage backend. It owns durability and knows
// nothing about embedding semantics.
//
// Implementations must serialize concurrent Append calls enough that writes
// never interleave, and must keep appends for one owner in their original
// relative order.
type FactStore interface {
	// Append durably persists the fact and returns its ID. It returns only
	// after the write is committed, so a crash immediately after a
	// successful Append never loses the fact.
	Append(ctx context.Context, fact Fact) (string, error)

	// Scan returns all facts for the owner in CreatedAt order. Order among
	// facts with identical timestamps is stable within one process
	// lifetime.
	Scan(ctx context.Context, ownerID string) ([]Fact, error)

	// WipeAll deletes every fact for every owner. Administrative reset
	// only; never called by the conversational flow.
	WipeAll(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// StoreStats describes the contents of a FactStore. Optional: backends that
// can report stats implement StatsProvider.
type StoreStats struct {
	TotalFacts  int            `json:"total_facts"`
	TotalOwners int            `json:"total_owners"`
	ByOwner     map[string]int `json:"by_owner"`
	SizeBytes   int64          `json:"size_bytes"`
}

// StatsProvider is implemented by stores that can report their contents.
type StatsProvider interface {
	Stats(ctx context.Context) (StoreStats, error)
}
