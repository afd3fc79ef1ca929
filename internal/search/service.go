// Package search serves the three retrieval modes — semantic (vector ANN),
// grep (literal substring), and hybrid (weighted fusion) — plus the batch
// mode that multiplexes semantic queries, over a per-index cache of opened
// ANN searchers.
package search

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lodestone/internal/ann"
	"lodestone/internal/config"
	"lodestone/internal/embed"
	serrors "lodestone/internal/errors"
	"lodestone/internal/filter"
	"lodestone/internal/store"
)

// batchParallelism bounds concurrent queries inside one batch request.
const batchParallelism = 4

// Service answers search requests for all indexes.
type Service struct {
	store     *store.Store
	cfg       *config.Config
	embedders *embed.Factory
	cache     *searcherCache
	logger    *slog.Logger
}

// NewService creates the search service.
func NewService(st *store.Store, cfg *config.Config, embedders *embed.Factory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "search")
	s := &Service{
		store:     st,
		cfg:       cfg,
		embedders: embedders,
		logger:    logger,
	}
	s.cache = newSearcherCache(cfg.Search.CacheSize, func(index string) (ann.Searcher, error) {
		return ann.Open(st.ANNArtifactPath(index), embedders)
	}, logger)
	return s
}

// Invalidate drops the cached ANN searcher for an index. Satisfies
// index.Invalidator.
func (s *Service) Invalidate(index string) {
	s.cache.Invalidate(index)
}

// Semantic runs a vector query. The ANN path serves it when an artifact is
// openable; otherwise — and on ANN failure — the brute-force fallback
// scans every filter-surviving chunk.
func (s *Service) Semantic(ctx context.Context, index, query string, opts SemanticOptions) ([]SemanticResult, time.Duration, error) {
	if !s.store.IndexExists(index) {
		return nil, 0, serrors.IndexNotFound(index)
	}
	if query == "" {
		return nil, 0, serrors.Validationf("Query must not be empty")
	}
	if err := s.validateSemantic(&opts); err != nil {
		return nil, 0, err
	}

	started := time.Now()

	if searcher := s.cache.get(index); searcher != nil {
		results, err := s.semanticANN(ctx, index, searcher, query, opts)
		if err != nil {
			s.logger.Warn("ann search failed, falling back to brute force",
				"index", index, "error", err)
		} else if len(results) > 0 {
			return results, time.Since(started), nil
		}
	}

	results, elapsed, err := s.fallback(ctx, index, query, opts)
	if err != nil {
		return nil, 0, err
	}
	if elapsed == 0 {
		// The no-embedder path reports zero duration by contract.
		return results, 0, nil
	}
	return results, time.Since(started), nil
}

// semanticANN maps graph hits back to chunks through the OrdinalMap and
// applies the metadata filter after loading each chunk.
func (s *Service) semanticANN(ctx context.Context, index string, searcher ann.Searcher, query string, opts SemanticOptions) ([]SemanticResult, error) {
	ordinals, err := s.store.LoadOrdinalMap(index)
	if err != nil {
		return nil, err
	}
	if len(ordinals) == 0 {
		return nil, nil
	}

	// Over-fetch when a filter may discard hits.
	fetchK := opts.TopK
	if len(opts.Filters) > 0 {
		fetchK = opts.TopK * 2
	}

	hits, err := searcher.Search(ctx, query, fetchK, opts.SearchComplexity)
	if err != nil {
		return nil, err
	}

	results := make([]SemanticResult, 0, opts.TopK)
	for _, hit := range hits {
		if hit.Score < opts.MinScore {
			continue
		}
		chunkID, ok := ordinals.ChunkIDAt(hit.Ordinal)
		if !ok {
			// Stale artifact pointing past the map; skip, never fail.
			continue
		}
		chunk, err := s.store.LoadChunk(index, chunkID)
		if err != nil {
			continue
		}
		if len(opts.Filters) > 0 {
			match, err := opts.Filters.Matches(chunk.Metadata)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		results = append(results, s.semanticResult(chunk, hit.Score, opts))
		if len(results) == opts.TopK {
			break
		}
	}
	return results, nil
}

// fallback is the brute-force path: embed the query and every
// filter-surviving chunk with the index's model, rank by dot product
// (cosine on unit vectors), truncate at the first score below MinScore.
// Without an embedder it returns empty results and zero duration, not an
// error.
func (s *Service) fallback(ctx context.Context, index, query string, opts SemanticOptions) ([]SemanticResult, time.Duration, error) {
	meta, err := s.store.LoadIndexMetadata(index)
	if err != nil {
		return nil, 0, err
	}
	embedder := s.embedders.ForModel(meta.Settings.EmbeddingModel)
	if embedder == nil || !embedder.Available(ctx) {
		s.logger.Warn("no embedder available for fallback search",
			"index", index, "model", meta.Settings.EmbeddingModel)
		return []SemanticResult{}, 0, nil
	}

	started := time.Now()

	chunkIDs, err := s.store.EnumerateChunks(index)
	if err != nil {
		return nil, 0, err
	}

	var chunks []*store.Chunk
	var texts []string
	for _, chunkID := range chunkIDs {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		chunk, err := s.store.LoadChunk(index, chunkID)
		if err != nil {
			continue
		}
		if len(opts.Filters) > 0 {
			match, err := opts.Filters.Matches(chunk.Metadata)
			if err != nil {
				return nil, 0, err
			}
			if !match {
				continue
			}
		}
		chunks = append(chunks, chunk)
		texts = append(texts, chunk.Content)
	}
	if len(chunks) == 0 {
		return []SemanticResult{}, time.Since(started), nil
	}

	queryVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, 0, serrors.Internal("Failed to embed query", err)
	}
	chunkVecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, 0, serrors.Internal("Failed to embed chunks", err)
	}

	type scored struct {
		chunk *store.Chunk
		score float32
	}
	ranked := make([]scored, len(chunks))
	for i, chunk := range chunks {
		ranked[i] = scored{chunk: chunk, score: dot(queryVec, chunkVecs[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	results := make([]SemanticResult, 0, opts.TopK)
	for _, r := range ranked {
		if r.score < opts.MinScore {
			break
		}
		results = append(results, s.semanticResult(r.chunk, r.score, opts))
		if len(results) == opts.TopK {
			break
		}
	}
	return results, time.Since(started), nil
}

// Grep runs a case-insensitive literal substring search over chunks in
// storage order, returning the first topK chunks with at least one match.
func (s *Service) Grep(ctx context.Context, index, query string, topK int, filters filter.Filter) ([]GrepResult, time.Duration, error) {
	if !s.store.IndexExists(index) {
		return nil, 0, serrors.IndexNotFound(index)
	}
	if query == "" {
		return nil, 0, serrors.Validationf("Query must not be empty")
	}
	if topK <= 0 {
		topK = s.cfg.Search.DefaultTopK
	}
	if topK > s.cfg.Search.MaxTopK {
		topK = s.cfg.Search.MaxTopK
	}

	started := time.Now()

	// The query is a literal, never a regex surface.
	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return nil, 0, serrors.Validation("Invalid grep query", err)
	}

	chunkIDs, err := s.store.EnumerateChunks(index)
	if err != nil {
		return nil, 0, err
	}

	results := make([]GrepResult, 0, topK)
	for _, chunkID := range chunkIDs {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		chunk, err := s.store.LoadChunk(index, chunkID)
		if err != nil {
			continue
		}
		if len(filters) > 0 {
			match, err := filters.Matches(chunk.Metadata)
			if err != nil {
				return nil, 0, err
			}
			if !match {
				continue
			}
		}
		spans := pattern.FindAllStringIndex(chunk.Content, -1)
		if len(spans) == 0 {
			continue
		}
		positions := make([][2]int, len(spans))
		for i, span := range spans {
			positions[i] = [2]int{span[0], span[1]}
		}
		results = append(results, GrepResult{
			ChunkID:        chunk.ChunkID,
			DocumentID:     chunk.DocumentID,
			Position:       chunk.Position,
			Content:        chunk.Content,
			Metadata:       chunk.Metadata,
			MatchPositions: positions,
		})
		if len(results) == topK {
			break
		}
	}
	return results, time.Since(started), nil
}

// Hybrid fuses semantic and grep rankings. Both sides over-fetch at 3×topK;
// grep ranks convert to normalized keyword scores; the weighted sum orders
// the union.
func (s *Service) Hybrid(ctx context.Context, index, query string, opts HybridOptions) ([]HybridResult, time.Duration, error) {
	if !s.store.IndexExists(index) {
		return nil, 0, serrors.IndexNotFound(index)
	}
	if err := s.validateHybrid(&opts); err != nil {
		return nil, 0, err
	}

	started := time.Now()
	fetchK := opts.TopK * 3

	semantic, _, err := s.Semantic(ctx, index, query, SemanticOptions{
		TopK:            fetchK,
		Filters:         opts.Filters,
		IncludeContent:  true,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, 0, err
	}
	grep, _, err := s.Grep(ctx, index, query, fetchK, opts.Filters)
	if err != nil {
		return nil, 0, err
	}

	fused := fuse(semantic, grep, opts.SemanticWeight, opts.KeywordWeight)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	for i := range fused {
		if !opts.IncludeContent {
			fused[i].Content = ""
		}
		if !opts.IncludeMetadata {
			fused[i].Metadata = nil
		}
	}
	return fused, time.Since(started), nil
}

// Batch runs each query as an independent semantic search, up to
// batchParallelism at a time. One failing query fails the batch; the
// per-query ANN fallback already absorbs degraded-mode errors.
func (s *Service) Batch(ctx context.Context, index string, queries []BatchQuery, filters filter.Filter) (*BatchResult, error) {
	if !s.store.IndexExists(index) {
		return nil, serrors.IndexNotFound(index)
	}
	if len(queries) == 0 || len(queries) > MaxBatchQueries {
		return nil, serrors.Validationf("Batch requires 1-%d queries, got %d", MaxBatchQueries, len(queries))
	}
	seen := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		if q.ID == "" {
			return nil, serrors.Validationf("Batch query id must not be empty")
		}
		if _, dup := seen[q.ID]; dup {
			return nil, serrors.Validationf("Duplicate batch query id '%s'", q.ID)
		}
		seen[q.ID] = struct{}{}
	}

	started := time.Now()
	entries := make(map[string]BatchEntry, len(queries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for _, q := range queries {
		g.Go(func() error {
			results, _, err := s.Semantic(gctx, index, q.Query, SemanticOptions{
				TopK:            q.TopK,
				Filters:         filters,
				IncludeContent:  true,
				IncludeMetadata: true,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			entries[q.ID] = BatchEntry{Results: results, TotalFound: len(results)}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &BatchResult{Entries: entries, Elapsed: time.Since(started)}, nil
}

// Close releases every cached searcher.
func (s *Service) Close() {
	s.cache.searchers.Purge()
}

func (s *Service) semanticResult(chunk *store.Chunk, score float32, opts SemanticOptions) SemanticResult {
	r := SemanticResult{
		ChunkID:    chunk.ChunkID,
		DocumentID: chunk.DocumentID,
		Position:   chunk.Position,
		Score:      score,
	}
	if opts.IncludeContent {
		r.Content = chunk.Content
	}
	if opts.IncludeMetadata {
		r.Metadata = chunk.Metadata
	}
	return r
}

// dot assumes unit-length vectors, making it cosine similarity.
func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
