// Package ann provides the approximate-nearest-neighbor build and search
// contract plus the HNSW implementation behind it.
//
// A Builder consumes chunk texts in presentation order and writes an opaque
// artifact; a Searcher opens the artifact and answers queries with
// (ordinal, score) hits, where ordinal is the zero-based AddText position
// during the build. Mapping ordinals back to chunk identity is the
// caller's job, never the library's.
package ann

import (
	"context"
	"fmt"
	"log/slog"

	"lodestone/internal/embed"
	"lodestone/internal/store"
)

// Hit is one search result: the build-time ordinal of the chunk and its
// cosine similarity to the query. Hits are returned in descending score
// order.
type Hit struct {
	Ordinal uint64
	Score   float32
}

// Builder accumulates texts and constructs an artifact. Builders are
// single-use: after Build returns, the builder is spent.
type Builder interface {
	// AddText appends one chunk's content. The call order defines the
	// ordinals recorded in the artifact.
	AddText(content string)

	// Count returns how many texts have been added.
	Count() int

	// Build embeds every added text, constructs the graph, and atomically
	// writes the artifact to path.
	Build(ctx context.Context, path string) error
}

// Searcher answers queries against a built artifact.
type Searcher interface {
	// Search embeds the query and returns up to topK hits in descending
	// score order. complexity tunes the graph traversal breadth; values
	// below topK are raised to topK.
	Search(ctx context.Context, query string, topK, complexity int) ([]Hit, error)

	// ModelName reports the embedding model recorded in the artifact.
	ModelName() string

	// Close releases the searcher's resources.
	Close() error
}

// BuildConfig carries the settings a build needs beyond the index settings
// themselves.
type BuildConfig struct {
	// Settings are the index settings the artifact is built against.
	Settings store.IndexSettings

	// Mode is the embedding provider mode recorded in the artifact for
	// operator visibility; resolution on open goes by model, not mode.
	Mode string

	// Workers bounds parallel embedding batches. Zero means one.
	Workers int

	// Logger receives build progress. Nil falls back to slog.Default.
	Logger *slog.Logger
}

// NewBuilder constructs a builder for the configured backend. Only hnsw is
// implemented; diskann passes settings validation for wire compatibility
// but cannot be built.
func NewBuilder(cfg BuildConfig, embedder embed.Embedder) (Builder, error) {
	switch cfg.Settings.Backend {
	case store.BackendHNSW:
		return newHNSWBuilder(cfg, embedder), nil
	case store.BackendDiskANN:
		return nil, fmt.Errorf("backend %q is not supported by this build", cfg.Settings.Backend)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Settings.Backend)
	}
}

// EmbedderResolver maps a model identifier recorded in an artifact to the
// embedder that produced it. embed.Factory.ForModel satisfies this.
type EmbedderResolver interface {
	ForModel(model string) embed.Embedder
}

// Open loads an artifact and returns a searcher over it. The resolver
// supplies the embedder matching the recorded model so queries embed the
// same way the indexed chunks did.
func Open(path string, resolver EmbedderResolver) (Searcher, error) {
	return openHNSW(path, resolver)
}
