// Package chromem provides an ephemeral FactStore on chromem-go, a pure Go
// embedded vector database. It keeps everything in process memory: useful
// for development and tests, not for deployments that must survive a
// restart (use the sqlite backend for those).
package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/engram/memory"
)

// Store is the chromem-backed FactStore. Each owner gets its own collection
// for namespace isolation.
type Store struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	counts      map[string]int
	dims        int
	seq         int
}

// New creates an empty in-memory store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		counts:      make(map[string]int),
	}, nil
}

// getOrCreateCollection returns the collection for an owner, creating it on
// first use.
func (s *Store) getOrCreateCollection(ownerID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[ownerID]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, exists := s.collections[ownerID]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		fmt.Sprintf("owner_%s", ownerID),
		nil, // embeddings are provided by the caller
		nil, // default distance func is cosine
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", memory.ErrStorage, err)
	}

	s.collections[ownerID] = col
	return col, nil
}

// Append stores the fact in the owner's collection. The fact is serialized
// into document content and metadata; a per-store sequence number keeps
// scan order stable among facts with identical timestamps.
func (s *Store) Append(ctx context.Context, fact memory.Fact) (string, error) {
	col, err := s.getOrCreateCollection(fact.OwnerID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	if s.dims == 0 {
		s.dims = len(fact.Embedding)
	}
	s.mu.Unlock()

	doc := chromem.Document{
		ID:        fact.ID,
		Content:   fact.Text,
		Embedding: fact.Embedding,
		Metadata: map[string]string{
			"owner_id":   fact.OwnerID,
			"created_at": fact.CreatedAt.UTC().Format(time.RFC3339Nano),
			"seq":        strconv.Itoa(seq),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: add document: %v", memory.ErrStorage, err)
	}

	s.mu.Lock()
	s.counts[fact.OwnerID]++
	s.mu.Unlock()

	return fact.ID, nil
}

// Scan returns all facts for the owner in append order. chromem has no list
// operation, so the full collection is pulled through QueryEmbedding with
// nResults equal to the collection size and re-sorted by timestamp.
func (s *Store) Scan(ctx context.Context, ownerID string) ([]memory.Fact, error) {
	s.mu.RLock()
	col := s.collections[ownerID]
	count := s.counts[ownerID]
	dims := s.dims
	s.mu.RUnlock()

	if col == nil || count == 0 {
		return nil, nil
	}

	// Any unit vector works as a probe: we keep every result regardless of
	// similarity and re-sort below.
	probe := make([]float32, dims)
	probe[0] = 1

	results, err := col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query collection: %v", memory.ErrStorage, err)
	}

	type sequencedFact struct {
		fact memory.Fact
		seq  int
	}
	entries := make([]sequencedFact, 0, len(results))
	for _, result := range results {
		fact, err := factFromResult(result)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", memory.ErrStorage, err)
		}
		seq, _ := strconv.Atoi(result.Metadata["seq"])
		entries = append(entries, sequencedFact{fact: fact, seq: seq})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].fact.CreatedAt.Equal(entries[j].fact.CreatedAt) {
			return entries[i].fact.CreatedAt.Before(entries[j].fact.CreatedAt)
		}
		return entries[i].seq < entries[j].seq
	})

	facts := make([]memory.Fact, len(entries))
	for i, e := range entries {
		facts[i] = e.fact
	}
	return facts, nil
}

// WipeAll discards everything. The store is in-memory, so dropping the
// database and starting over is the cheapest correct implementation.
func (s *Store) WipeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.db = chromem.NewDB()
	s.collections = make(map[string]*chromem.Collection)
	s.counts = make(map[string]int)
	s.dims = 0
	s.seq = 0
	return nil
}

// Stats reports totals for the stats endpoint.
func (s *Store) Stats(ctx context.Context) (memory.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := memory.StoreStats{ByOwner: make(map[string]int, len(s.counts))}
	for owner, count := range s.counts {
		if count == 0 {
			continue
		}
		stats.ByOwner[owner] = count
		stats.TotalFacts += count
		stats.TotalOwners++
	}
	return stats, nil
}

// Close releases nothing: chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

func factFromResult(result chromem.Result) (memory.Fact, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, result.Metadata["created_at"])
	if err != nil {
		return memory.Fact{}, fmt.Errorf("parse created_at: %v", err)
	}

	return memory.Fact{
		ID:        result.ID,
		OwnerID:   result.Metadata["owner_id"],
		Text:      result.Content,
		Embedding: result.Embedding,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface checks.
var (
	_ memory.FactStore     = (*Store)(nil)
	_ memory.StatsProvider = (*Store)(nil)
)
