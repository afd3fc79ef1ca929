// Package index manages tenant lifecycle: creation, settings, status,
// statistics, deletion, and the rebuild protocol that keeps the ANN
// artifact in sync with the chunk set.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"lodestone/internal/ann"
	"lodestone/internal/config"
	"lodestone/internal/embed"
	serrors "lodestone/internal/errors"
	"lodestone/internal/store"
)

// Index status values, computed from filesystem state on every read.
const (
	StatusEmpty    = "empty"    // no documents
	StatusReady    = "ready"    // ANN artifact present
	StatusBuilding = "building" // documents present, artifact missing or stale
)

// Index is a snapshot of one tenant.
type Index struct {
	Name            string              `json:"name"`
	Status          string              `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       *time.Time          `json:"updated_at"`
	ChunkCount      int                 `json:"chunk_count"`
	TotalCharacters int64               `json:"total_characters"`
	Settings        store.IndexSettings `json:"settings"`
}

// Statistics are computed on Get, never cached.
type Statistics struct {
	DocumentCount   int      `json:"document_count"`
	ChunkCount      int      `json:"chunk_count"`
	TotalCharacters int64    `json:"total_characters"`
	AvgChunkSize    float64  `json:"avg_chunk_size"`
	MetadataFields  []string `json:"metadata_fields"`
}

// RebuildResult reports what a rebuild did.
type RebuildResult struct {
	Chunks    int   `json:"chunks"`
	ElapsedMS int64 `json:"elapsed_ms"`
	// ArtifactBuilt is false when the rebuild had nothing to index or the
	// embedder was unavailable; the previous artifact, if any, survives.
	ArtifactBuilt bool `json:"artifact_built"`
}

// Invalidator drops a cached ANN searcher after a rebuild or delete. The
// search service provides it; the registry never opens searchers itself.
type Invalidator interface {
	Invalidate(index string)
}

// Registry owns index lifecycle. All rebuilds and counter updates for one
// index serialize on a per-index mutex; cross-process rebuilds additionally
// serialize on a file lock inside the index directory.
type Registry struct {
	store     *store.Store
	cfg       *config.Config
	embedders *embed.Factory
	logger    *slog.Logger

	invalidator Invalidator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates the registry.
func NewRegistry(st *store.Store, cfg *config.Config, embedders *embed.Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     st,
		cfg:       cfg,
		embedders: embedders,
		logger:    logger.With("component", "registry"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// SetInvalidator wires the searcher-cache invalidation callback. Must be
// called before serving; nil is tolerated for tests.
func (r *Registry) SetInvalidator(inv Invalidator) {
	r.invalidator = inv
}

// Store exposes the underlying store to sibling services.
func (r *Registry) Store() *store.Store { return r.store }

// DefaultSettings fills index settings from process configuration.
func (r *Registry) DefaultSettings() store.IndexSettings {
	return store.IndexSettings{
		Backend:         r.cfg.Index.Backend,
		EmbeddingModel:  r.cfg.Embedding.Model,
		GraphDegree:     r.cfg.Index.GraphDegree,
		BuildComplexity: r.cfg.Index.BuildComplexity,
		ChunkSize:       r.cfg.Chunking.Size,
		ChunkOverlap:    r.cfg.Chunking.Overlap,
	}
}

// lockFor returns the per-index mutex, creating it on first use.
func (r *Registry) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Create makes a new index. Partial settings are not supported: either the
// caller provides a full settings block or defaults apply.
func (r *Registry) Create(name string, settings *store.IndexSettings) (*Index, error) {
	if err := store.ValidateIndexName(name); err != nil {
		return nil, err
	}

	resolved := r.DefaultSettings()
	if settings != nil {
		resolved = *settings
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	if r.store.IndexExists(name) {
		return nil, serrors.IndexExists(name)
	}
	if err := r.store.CreateIndexDirs(name); err != nil {
		return nil, err
	}

	meta := &store.IndexMetadata{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Settings:  resolved,
	}
	if err := r.store.SaveIndexMetadata(name, meta); err != nil {
		return nil, err
	}

	r.logger.Info("index created", "index", name, "backend", resolved.Backend)
	return r.snapshot(meta), nil
}

// Get returns an index snapshot without statistics.
func (r *Registry) Get(name string) (*Index, error) {
	if !r.store.IndexExists(name) {
		return nil, serrors.IndexNotFound(name)
	}
	meta, err := r.store.LoadIndexMetadata(name)
	if err != nil {
		return nil, err
	}
	return r.snapshot(meta), nil
}

// GetWithStatistics returns the snapshot plus statistics computed on read.
// metadata_fields is the union of keys across all documents, sorted.
func (r *Registry) GetWithStatistics(name string) (*Index, *Statistics, error) {
	idx, err := r.Get(name)
	if err != nil {
		return nil, nil, err
	}

	ids, err := r.store.EnumerateDocuments(name)
	if err != nil {
		return nil, nil, err
	}
	fieldSet := make(map[string]struct{})
	for _, id := range ids {
		doc, err := r.store.LoadDocument(name, id)
		if err != nil {
			r.logger.Warn("skipping unreadable document in statistics", "index", name, "document", id, "error", err)
			continue
		}
		for key := range doc.Metadata {
			fieldSet[key] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for key := range fieldSet {
		fields = append(fields, key)
	}
	sort.Strings(fields)

	stats := &Statistics{
		DocumentCount:   len(ids),
		ChunkCount:      idx.ChunkCount,
		TotalCharacters: idx.TotalCharacters,
		MetadataFields:  fields,
	}
	if idx.ChunkCount > 0 {
		stats.AvgChunkSize = float64(idx.TotalCharacters) / float64(idx.ChunkCount)
	}
	return idx, stats, nil
}

// List returns snapshots of every index. Malformed index directories are
// skipped with a warning rather than failing the whole listing.
func (r *Registry) List() ([]*Index, error) {
	names, err := r.store.ListIndexes()
	if err != nil {
		return nil, err
	}
	indexes := make([]*Index, 0, len(names))
	for _, name := range names {
		meta, err := r.store.LoadIndexMetadata(name)
		if err != nil {
			r.logger.Warn("skipping malformed index directory", "index", name, "error", err)
			continue
		}
		indexes = append(indexes, r.snapshot(meta))
	}
	return indexes, nil
}

// Delete removes an index and everything it owns.
func (r *Registry) Delete(name string) error {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !r.store.IndexExists(name) {
		return serrors.IndexNotFound(name)
	}
	if err := r.store.DeleteIndexTree(name); err != nil {
		return err
	}
	if r.invalidator != nil {
		r.invalidator.Invalidate(name)
	}
	r.logger.Info("index deleted", "index", name)
	return nil
}

// UpdateCounters applies additive deltas to the running counters. Callers
// invoke it once per ingest batch, after the per-document loop.
func (r *Registry) UpdateCounters(name string, deltaChunks int, deltaCharacters int64) error {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	meta, err := r.store.LoadIndexMetadata(name)
	if err != nil {
		return err
	}
	meta.ChunkCount += deltaChunks
	if meta.ChunkCount < 0 {
		meta.ChunkCount = 0
	}
	meta.TotalCharacters += deltaCharacters
	if meta.TotalCharacters < 0 {
		meta.TotalCharacters = 0
	}
	meta.Touch(time.Now())
	return r.store.SaveIndexMetadata(name, meta)
}

// Rebuild re-embeds the chunk set into a fresh ANN artifact and replaces
// the OrdinalMap. Settings, when given, replace the stored settings before
// the build. Chunks written after enumeration begins are not in the new
// artifact; they surface through grep and the brute-force fallback until
// the next rebuild.
func (r *Registry) Rebuild(ctx context.Context, name string, settings *store.IndexSettings) (*RebuildResult, error) {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !r.store.IndexExists(name) {
		return nil, serrors.IndexNotFound(name)
	}

	// Cross-process guard. In-process rebuilds already serialized above.
	fileLock := flock.New(filepath.Join(r.store.IndexDir(name), ".rebuild.lock"))
	if err := fileLock.Lock(); err != nil {
		return nil, serrors.Internal(fmt.Sprintf("Failed to lock index '%s' for rebuild", name), err)
	}
	defer fileLock.Unlock()

	started := time.Now()

	meta, err := r.store.LoadIndexMetadata(name)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		meta.Settings = *settings
		meta.Touch(time.Now())
		// Persist immediately so the settings change survives even when the
		// rebuild stops short of producing an artifact.
		if err := r.store.SaveIndexMetadata(name, meta); err != nil {
			return nil, err
		}
	}

	chunkIDs, err := r.store.EnumerateChunks(name)
	if err != nil {
		return nil, err
	}
	if len(chunkIDs) == 0 {
		r.logger.Info("rebuild skipped, no chunks", "index", name)
		return &RebuildResult{Chunks: 0, ElapsedMS: time.Since(started).Milliseconds()}, nil
	}

	embedder, err := r.embedders.Resolve(ctx, r.cfg.Embedding.Mode, meta.Settings.EmbeddingModel)
	if err != nil {
		return nil, serrors.Wrap(serrors.CodeValidation, err)
	}
	if !embedder.Available(ctx) {
		r.logger.Warn("embedder unavailable, keeping previous artifact",
			"index", name, "model", meta.Settings.EmbeddingModel)
		return &RebuildResult{Chunks: len(chunkIDs), ElapsedMS: time.Since(started).Milliseconds()}, nil
	}

	builder, err := ann.NewBuilder(ann.BuildConfig{
		Settings: meta.Settings,
		Mode:     r.cfg.Embedding.Mode,
		Workers:  r.cfg.Embedding.Workers,
		Logger:   r.logger,
	}, embedder)
	if err != nil {
		return nil, serrors.Wrap(serrors.CodeValidation, err)
	}

	// Presentation order is the enumeration order; slot i of the map is
	// the chunk behind ANN ordinal i.
	ordinals := make(store.OrdinalMap, 0, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		chunk, err := r.store.LoadChunk(name, chunkID)
		if err != nil {
			r.logger.Warn("skipping unreadable chunk during rebuild", "index", name, "chunk", chunkID, "error", err)
			continue
		}
		builder.AddText(chunk.Content)
		ordinals = append(ordinals, chunkID)
	}
	if builder.Count() == 0 {
		return &RebuildResult{Chunks: 0, ElapsedMS: time.Since(started).Milliseconds()}, nil
	}

	if err := builder.Build(ctx, r.store.ANNArtifactPath(name)); err != nil {
		return nil, serrors.Internal(fmt.Sprintf("Failed to build index '%s'", name), err)
	}
	if err := r.store.SaveOrdinalMap(name, ordinals); err != nil {
		return nil, err
	}

	meta.ChunkCount = len(ordinals)
	meta.Touch(time.Now())
	if err := r.store.SaveIndexMetadata(name, meta); err != nil {
		return nil, err
	}

	if r.invalidator != nil {
		r.invalidator.Invalidate(name)
	}

	elapsed := time.Since(started)
	r.logger.Info("index rebuilt",
		"index", name,
		"chunks", len(ordinals),
		"elapsed_ms", elapsed.Milliseconds())
	return &RebuildResult{Chunks: len(ordinals), ElapsedMS: elapsed.Milliseconds(), ArtifactBuilt: true}, nil
}

// snapshot projects metadata plus computed status into an Index.
func (r *Registry) snapshot(meta *store.IndexMetadata) *Index {
	return &Index{
		Name:            meta.Name,
		Status:          r.status(meta.Name),
		CreatedAt:       meta.CreatedAt,
		UpdatedAt:       meta.UpdatedAt,
		ChunkCount:      meta.ChunkCount,
		TotalCharacters: meta.TotalCharacters,
		Settings:        meta.Settings,
	}
}

// status derives the index status purely from filesystem state. An index
// counts as ready only while the artifact covers the live chunk set; an
// ingest after the last rebuild flips it back to building.
func (r *Registry) status(name string) string {
	count, err := r.store.CountDocuments(name)
	if err != nil || count == 0 {
		return StatusEmpty
	}
	if !r.store.ANNArtifactExists(name) {
		return StatusBuilding
	}
	ordinals, err := r.store.LoadOrdinalMap(name)
	if err != nil {
		return StatusBuilding
	}
	chunks, err := r.store.EnumerateChunks(name)
	if err != nil || len(ordinals) != len(chunks) {
		return StatusBuilding
	}
	return StatusReady
}
