package chromem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/engram/memory"
)

func newFact(owner, text string, createdAt time.Time) memory.Fact {
	return memory.Fact{
		ID:        uuid.New().String(),
		OwnerID:   owner,
		Text:      text,
		Embedding: []float32{0.6, 0.8, 0},
		CreatedAt: createdAt,
	}
}

func TestStore_AppendAndScan(t *testing.T) {
	ctx := context.Background()
	store, err := New()
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	fact := newFact("u1", "I like tea", now)
	if _, err := store.Append(ctx, fact); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	facts, err := store.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	got := facts[0]
	if got.Text != fact.Text || got.ID != fact.ID || got.OwnerID != "u1" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.Embedding) != 3 {
		t.Errorf("embedding round-trip failed: %v", got.Embedding)
	}
	if !got.CreatedAt.Equal(fact.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, fact.CreatedAt)
	}
}

func TestStore_ScanPreservesAppendOrder(t *testing.T) {
	ctx := context.Background()
	store, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// Identical timestamps: the sequence number must keep append order.
	ts := time.Now().UTC()
	for i := 0; i < 4; i++ {
		if _, err := store.Append(ctx, newFact("u1", fmt.Sprintf("fact %d", i), ts)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	facts, err := store.Scan(ctx, "u1")
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(facts) != 4 {
		t.Fatalf("expected 4 facts, got %d", len(facts))
	}
	for i, f := range facts {
		if want := fmt.Sprintf("fact %d", i); f.Text != want {
			t.Errorf("position %d: got %q, want %q", i, f.Text, want)
		}
	}
}

func TestStore_OwnerPartitioning(t *testing.T) {
	ctx := context.Background()
	store, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	if _, err := store.Append(ctx, newFact("alice", "alice's fact", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, newFact("bob", "bob's fact", now)); err != nil {
		t.Fatal(err)
	}

	bobFacts, err := store.Scan(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobFacts) != 1 || bobFacts[0].Text != "bob's fact" {
		t.Errorf("bob's scan returned %v", bobFacts)
	}

	noneFacts, err := store.Scan(ctx, "nobody")
	if err != nil {
		t.Fatalf("Scan() for unknown owner must not error: %v", err)
	}
	if len(noneFacts) != 0 {
		t.Errorf("unknown owner returned %d facts", len(noneFacts))
	}
}

func TestStore_WipeAll(t *testing.T) {
	ctx := context.Background()
	store, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	if _, err := store.Append(ctx, newFact("u1", "a", now)); err != nil {
		t.Fatal(err)
	}
	if err := store.WipeAll(ctx); err != nil {
		t.Fatalf("WipeAll() error: %v", err)
	}

	facts, err := store.Scan(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 0 {
		t.Errorf("store still has %d facts after wipe", len(facts))
	}

	// The store must accept appends again after a wipe.
	if _, err := store.Append(ctx, newFact("u1", "fresh", now)); err != nil {
		t.Fatalf("Append() after wipe: %v", err)
	}
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	store, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if _, err := store.Append(ctx, newFact("u1", fmt.Sprintf("fact %d", i), now)); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.TotalFacts != 2 || stats.TotalOwners != 1 || stats.ByOwner["u1"] != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
