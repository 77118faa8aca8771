package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxTextLength caps fact and query text. The local embedding models
// truncate around 128 tokens anyway; anything near this cap contributes
// nothing past the truncation point.
const DefaultMaxTextLength = 10000

// Engine orchestrates the Embedder and FactStore. It exclusively owns the
// decision of what gets embedded and stored, and what "relevant" means on
// retrieval: nearest-neighbor cosine similarity against a caller-supplied
// threshold.
type Engine struct {
	store      FactStore
	embedder   Embedder
	maxTextLen int
	log        *logrus.Entry
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to the standard logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithMaxTextLength overrides the input length cap.
func WithMaxTextLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTextLen = n
		}
	}
}

// NewEngine creates an engine over the given store and embedder. The store
// is an injected collaborator with an explicit lifecycle owned by the
// caller: the engine never opens or closes it.
func NewEngine(store FactStore, embedder Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		embedder:   embedder,
		maxTextLen: DefaultMaxTextLength,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Save embeds text and appends it as a new fact for the owner, returning
// the fact ID. There is no deduplication against existing facts: repeated
// statements accumulate as separate rows. That is a deliberate simplicity
// trade-off, preserved on purpose.
func (e *Engine) Save(ctx context.Context, ownerID, text string) (string, error) {
	if err := e.validate(ownerID, text); err != nil {
		return "", err
	}

	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: embed fact: %v", ErrEmbedding, err)
	}
	if d := e.embedder.Dimensions(); d > 0 && len(embedding) != d {
		return "", fmt.Errorf("%w: embedder returned %d dimensions, want %d",
			ErrEmbedding, len(embedding), d)
	}

	fact := Fact{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Text:      text,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}

	id, err := e.store.Append(ctx, fact)
	if err != nil {
		return "", fmt.Errorf("append fact: %w", err)
	}

	e.log.WithFields(logrus.Fields{"owner_id": ownerID, "fact_id": id}).Debug("fact saved")
	return id, nil
}

// SearchOptions tunes a Search call.
type SearchOptions struct {
	// Threshold is the minimum cosine similarity for a fact to be
	// returned. Lower is more permissive (recall-favoring), higher more
	// precise; 0.2-0.3 is a reasonable operating point for the local
	// models.
	Threshold float64

	// Limit caps the number of results. Zero means uncapped.
	Limit int
}

// Search returns the owner's facts scoring at least opts.Threshold against
// the query, ordered by score descending with ties broken by CreatedAt
// descending (newer corrections beat older, possibly superseded,
// statements). An empty result is success, not failure: it means "nothing
// remembered".
func (e *Engine) Search(ctx context.Context, ownerID, query string, opts SearchOptions) ([]ScoredFact, error) {
	if err := e.validate(ownerID, query); err != nil {
		return nil, err
	}

	facts, err := e.store.Scan(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("scan facts: %w", err)
	}

	// Nothing stored for this owner: skip the embedding call entirely.
	if len(facts) == 0 {
		return nil, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrEmbedding, err)
	}

	results := make([]ScoredFact, 0, len(facts))
	for _, fact := range facts {
		score := cosineSimilarity(queryVec, fact.Embedding)
		if score >= opts.Threshold {
			results = append(results, ScoredFact{Fact: fact, Score: score})
		}
	}

	// Scan order is stable, so equal-score equal-timestamp facts keep a
	// consistent relative order across repeated searches.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Fact.CreatedAt.After(results[j].Fact.CreatedAt)
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	e.log.WithFields(logrus.Fields{
		"owner_id":   ownerID,
		"candidates": len(facts),
		"results":    len(results),
		"threshold":  opts.Threshold,
	}).Debug("search complete")

	return results, nil
}

func (e *Engine) validate(ownerID, text string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner_id must not be empty", ErrInvalidInput)
	}
	if text == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInvalidInput)
	}
	if len(text) > e.maxTextLen {
		return fmt.Errorf("%w: text exceeds maximum length of %d", ErrInvalidInput, e.maxTextLen)
	}
	return nil
}

// cosineSimilarity computes the cosine of the angle between two vectors:
// dot product over the product of Euclidean norms. Accumulates in float64
// for stability. Returns 0 for mismatched lengths or zero-magnitude input.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
