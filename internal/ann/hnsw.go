package ann

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/coder/hnsw"
	"golang.org/x/sync/errgroup"

	"lodestone/internal/embed"
)

// artifactVersion guards the envelope layout.
const artifactVersion = 1

// embedBatchSize is the number of texts embedded per worker task during a
// build.
const embedBatchSize = 32

// artifact is the gob envelope written to index.leann. Graph holds the
// coder/hnsw export stream; everything else lets Open validate and resolve
// the right embedder without touching index metadata.
type artifact struct {
	Version    int
	Backend    string
	Model      string
	Mode       string
	Dimensions int
	Count      int
	Graph      []byte
}

// hnswBuilder accumulates texts and builds an HNSW graph keyed by ordinal.
type hnswBuilder struct {
	cfg      BuildConfig
	embedder embed.Embedder
	texts    []string
	logger   *slog.Logger
}

func newHNSWBuilder(cfg BuildConfig, embedder embed.Embedder) *hnswBuilder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &hnswBuilder{cfg: cfg, embedder: embedder, logger: logger}
}

// AddText appends one chunk's content; the append order defines ordinals.
func (b *hnswBuilder) AddText(content string) {
	b.texts = append(b.texts, content)
}

// Count returns how many texts have been added.
func (b *hnswBuilder) Count() int { return len(b.texts) }

// Build embeds all texts, constructs the graph, and writes the artifact.
func (b *hnswBuilder) Build(ctx context.Context, path string) error {
	if len(b.texts) == 0 {
		return fmt.Errorf("nothing to build: no texts added")
	}

	vectors, err := b.embedAll(ctx)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = b.cfg.Settings.GraphDegree
	graph.EfSearch = b.cfg.Settings.BuildComplexity
	graph.Ml = 0.25

	for i, vec := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		graph.Add(hnsw.MakeNode(uint64(i), vec))
	}

	var exported bytes.Buffer
	if err := graph.Export(&exported); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}

	env := artifact{
		Version:    artifactVersion,
		Backend:    b.cfg.Settings.Backend,
		Model:      b.embedder.ModelName(),
		Mode:       b.cfg.Mode,
		Dimensions: len(vectors[0]),
		Count:      len(vectors),
		Graph:      exported.Bytes(),
	}
	if err := writeArtifact(path, &env); err != nil {
		return err
	}

	b.logger.Debug("built ann artifact",
		"path", path,
		"vectors", env.Count,
		"dimensions", env.Dimensions,
		"model", env.Model)
	return nil
}

// embedAll embeds every text in parallel batches, preserving order.
func (b *hnswBuilder) embedAll(ctx context.Context) ([][]float32, error) {
	vectors := make([][]float32, len(b.texts))

	workers := b.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(b.texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(b.texts) {
			end = len(b.texts)
		}
		g.Go(func() error {
			batch, err := b.embedder.EmbedBatch(gctx, b.texts[start:end])
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// writeArtifact gob-encodes the envelope through a temp file and rename.
func writeArtifact(path string, env *artifact) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(env); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close artifact file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}

// hnswSearcher answers queries against an imported graph. The graph's
// EfSearch knob is mutated per query, so calls serialize on the mutex.
type hnswSearcher struct {
	mu       sync.Mutex
	graph    *hnsw.Graph[uint64]
	embedder embed.Embedder
	model    string
	closed   bool
}

// openHNSW reads and validates an artifact and prepares a searcher.
func openHNSW(path string, resolver EmbedderResolver) (*hnswSearcher, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	var env artifact
	if err := gob.NewDecoder(file).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if env.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", env.Version)
	}
	if env.Backend != "hnsw" {
		return nil, fmt.Errorf("artifact backend %q is not openable", env.Backend)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	// bytes.Reader satisfies the io.ByteReader that Import requires.
	if err := graph.Import(bytes.NewReader(env.Graph)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}

	return &hnswSearcher{
		graph:    graph,
		embedder: resolver.ForModel(env.Model),
		model:    env.Model,
	}, nil
}

// Search embeds the query and walks the graph.
func (s *hnswSearcher) Search(ctx context.Context, query string, topK, complexity int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("searcher is closed")
	}
	if s.graph.Len() == 0 {
		return nil, nil
	}

	if complexity < topK {
		complexity = topK
	}
	s.graph.EfSearch = complexity

	nodes := s.graph.Search(vec, topK)
	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		// Nearest-first traversal order is descending cosine similarity.
		score := 1 - hnsw.CosineDistance(vec, node.Value)
		hits = append(hits, Hit{Ordinal: node.Key, Score: score})
	}
	return hits, nil
}

// ModelName reports the embedding model recorded in the artifact.
func (s *hnswSearcher) ModelName() string { return s.model }

// Close releases the graph.
func (s *hnswSearcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = nil
	s.closed = true
	return nil
}

var (
	_ Builder  = (*hnswBuilder)(nil)
	_ Searcher = (*hnswSearcher)(nil)
)
