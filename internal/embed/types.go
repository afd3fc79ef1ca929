// Package embed provides text embedding for semantic indexing and search.
//
// Two providers are supported: an Ollama-backed embedder that calls a local
// Ollama server, and a deterministic hash embedder that needs no external
// process. The factory resolves a provider from the configured mode and
// caches instances per model.
package embed

import (
	"context"
	"math"
)

// StaticDimensions is the vector size produced by the hash embedder.
const StaticDimensions = 256

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 32

// Embedder generates vector embeddings for text. All vectors returned are
// L2-normalized so dot product equals cosine similarity.
type Embedder interface {
	// Embed generates an embedding for a single text. Empty or whitespace
	// text yields a zero vector of the embedder's dimensionality.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality, or 0 if it has not
	// been determined yet (remote providers detect it on first use).
	Dimensions() int

	// ModelName returns the model identifier recorded in index metadata.
	ModelName() string

	// Available reports whether the provider can currently serve requests.
	Available(ctx context.Context) bool

	// Close releases provider resources. The embedder is unusable afterwards.
	Close() error
}

// normalizeVector scales vec to unit length in place. Zero vectors are
// left unchanged.
func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
