// Package memory gives a conversational agent durable, per-user factual
// memory: statements saved in one session are retrievable by semantic
// similarity in a later one.
//
// Facts are namespaced by OwnerID. A search for one owner never surfaces
// another owner's facts.
//
// Architecture:
//   - FactStore: append-only durable storage (sqlite for production,
//     chromem for ephemeral dev/test runs)
//   - Embedder: text-to-vector conversion (ONNX local model, Ollama,
//     or a deterministic mock)
//   - Engine: orchestrates both; the only component that defines what
//     "relevant" means (cosine similarity against a caller-supplied
//     threshold)
//
// The conversational loop that feeds facts in and consumes search results
// is an external collaborator; it talks to the Engine through the HTTP
// boundary in package server.
package memory
