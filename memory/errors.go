package memory

import "errors"

// Error taxonomy. Every failure from Save and Search wraps exactly one of
// these sentinels, so callers classify with errors.Is and map each kind to
// its own user-visible behavior. The Engine adds no failure modes beyond
// ErrInvalidInput: embedder and store errors propagate, never downgraded.
var (
	// ErrInvalidInput marks empty or malformed request fields.
	// User-correctable; not retryable as-is.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbedding marks an embedding model failure. A fact with no vector
	// is useless for retrieval, so this always propagates to the caller.
	ErrEmbedding = errors.New("embedding failure")

	// ErrStorage marks a durability-layer I/O failure. A failed save must
	// surface as "fact not saved", never silently dropped.
	ErrStorage = errors.New("storage failure")
)
