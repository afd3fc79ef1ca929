// Package document implements document ingestion and maintenance: chunking
// on write, chunk-set ownership, metadata snapshots, and the counter
// side-effects on the index registry.
package document

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lodestone/internal/chunk"
	serrors "lodestone/internal/errors"
	"lodestone/internal/filter"
	"lodestone/internal/index"
	"lodestone/internal/store"
)

// Per-document ingest outcomes.
const (
	OutcomeAdded   = "added"
	OutcomeUpdated = "updated"
	OutcomeFailed  = "failed"
)

// Input is one document in an ingest batch.
type Input struct {
	// ID is optional; a UUID is assigned when absent.
	ID string `json:"id,omitempty"`
	// Content is the document text. Must be non-empty.
	Content string `json:"content"`
	// Metadata is an optional string-keyed map of JSON scalars or lists.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AddOptions tune one ingest batch.
type AddOptions struct {
	// ChunkSize overrides the index's chunk size for this batch.
	ChunkSize int
	// ChunkOverlap overrides the index's chunk overlap for this batch.
	// Meaningful only together with ChunkSize or on its own; the merged
	// pair is validated as a whole.
	ChunkOverlap int
	// HasChunkSize / HasChunkOverlap distinguish explicit zero from unset.
	HasChunkSize    bool
	HasChunkOverlap bool
	// UpdateIfExists replaces existing documents instead of failing them.
	UpdateIfExists bool
}

// Outcome reports what happened to one input document. Outcomes are
// emitted in input order; a failed document never aborts the batch.
type Outcome struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// WithChunks is a document plus its chunk sequence in position order.
type WithChunks struct {
	Document *store.Document `json:"document"`
	Chunks   []*store.Chunk  `json:"chunks"`
}

// UpdateRequest mutates a document's content and/or metadata.
type UpdateRequest struct {
	// Content replaces the document text when non-nil; the chunk set is
	// rebuilt with the index's current settings.
	Content *string
	// Metadata replaces or merges into the stored metadata when non-nil.
	Metadata map[string]any
	// MergeMetadata selects shallow merge (new keys win) over replacement.
	MergeMetadata bool
}

// Service owns document write paths for all indexes.
type Service struct {
	store    *store.Store
	registry *index.Registry
	logger   *slog.Logger
}

// NewService creates the document service.
func NewService(st *store.Store, registry *index.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		registry: registry,
		logger:   logger.With("component", "documents"),
	}
}

// AddDocuments ingests a batch. Each document is chunked, its prior chunks
// removed on update, new chunks written in position order, then the
// document record. Counters are updated once after the loop, so readers
// may briefly observe chunk files ahead of the counter.
func (s *Service) AddDocuments(ctx context.Context, indexName string, docs []Input, opts AddOptions) ([]Outcome, error) {
	meta, err := s.store.LoadIndexMetadata(indexName)
	if err != nil {
		return nil, err
	}

	size := meta.Settings.ChunkSize
	overlap := meta.Settings.ChunkOverlap
	if opts.HasChunkSize {
		size = opts.ChunkSize
	}
	if opts.HasChunkOverlap {
		overlap = opts.ChunkOverlap
	}
	merged := meta.Settings
	merged.ChunkSize = size
	merged.ChunkOverlap = overlap
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(docs))
	var deltaChunks int
	var deltaChars int64

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}

		outcome := Outcome{ID: id}
		written, dChunks, dChars, err := s.writeOne(indexName, id, doc, size, overlap, opts.UpdateIfExists)
		if err != nil {
			outcome.Status = OutcomeFailed
			outcome.Error = serrors.AsService(err).Message
			s.logger.Warn("document ingest failed", "index", indexName, "document", id, "error", err)
		} else {
			outcome.Status = written
			outcome.ChunkCount = dChunks.newCount
			deltaChunks += dChunks.delta
			deltaChars += dChars
		}
		outcomes = append(outcomes, outcome)
	}

	if deltaChunks != 0 || deltaChars != 0 {
		if err := s.registry.UpdateCounters(indexName, deltaChunks, deltaChars); err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}

type chunkDelta struct {
	newCount int
	delta    int
}

// writeOne performs the write path for a single document: chunk, delete
// stale chunks, write chunks ascending by position, write the record.
func (s *Service) writeOne(indexName, id string, doc Input, size, overlap int, updateIfExists bool) (string, chunkDelta, int64, error) {
	if err := store.ValidateDocumentID(id); err != nil {
		return "", chunkDelta{}, 0, err
	}
	if doc.Content == "" {
		return "", chunkDelta{}, 0, serrors.Validationf("Document content must not be empty")
	}

	status := OutcomeAdded
	var prior *store.Document
	if existing, err := s.store.LoadDocument(indexName, id); err == nil {
		if !updateIfExists {
			return "", chunkDelta{}, 0, serrors.Validationf("Document already exists")
		}
		prior = existing
		status = OutcomeUpdated
	}

	removed := 0
	var removedChars int64
	if prior != nil {
		n, err := s.deleteChunksMeasured(indexName, id, &removedChars)
		if err != nil {
			return "", chunkDelta{}, 0, err
		}
		removed = n
	}

	pieces := chunk.Split(doc.Content, size, overlap)
	var addedChars int64
	for pos, content := range pieces {
		c := &store.Chunk{
			ChunkID:    store.ChunkID(id, pos),
			DocumentID: id,
			Position:   pos,
			Content:    content,
			Metadata:   doc.Metadata,
		}
		if err := s.store.WriteChunk(indexName, c); err != nil {
			return "", chunkDelta{}, 0, err
		}
		addedChars += int64(len(content))
	}

	now := time.Now().UTC()
	record := &store.Document{
		ID:         id,
		Content:    doc.Content,
		Metadata:   doc.Metadata,
		ChunkCount: len(pieces),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if prior != nil {
		record.CreatedAt = prior.CreatedAt
	}
	if err := s.store.SaveDocument(indexName, record); err != nil {
		return "", chunkDelta{}, 0, err
	}

	return status, chunkDelta{newCount: len(pieces), delta: len(pieces) - removed}, addedChars - removedChars, nil
}

// deleteChunksMeasured removes a document's chunks while summing their
// content lengths so counters can be decremented accurately.
func (s *Service) deleteChunksMeasured(indexName, docID string, chars *int64) (int, error) {
	ids, err := s.store.EnumerateChunks(indexName)
	if err != nil {
		return 0, err
	}
	for _, chunkID := range ids {
		owner, _, ok := store.ParseChunkID(chunkID)
		if !ok || owner != docID {
			continue
		}
		if c, err := s.store.LoadChunk(indexName, chunkID); err == nil {
			*chars += int64(len(c.Content))
		}
	}
	return s.store.DeleteChunksFor(indexName, docID)
}

// Get returns a document with its chunks in position order. Missing chunk
// files are skipped; a corrupt chunk set degrades the read, never fails it.
func (s *Service) Get(ctx context.Context, indexName, id string) (*WithChunks, error) {
	if !s.store.IndexExists(indexName) {
		return nil, serrors.IndexNotFound(indexName)
	}
	doc, err := s.store.LoadDocument(indexName, id)
	if err != nil {
		return nil, err
	}

	chunks := make([]*store.Chunk, 0, doc.ChunkCount)
	for pos := 0; pos < doc.ChunkCount; pos++ {
		c, err := s.store.LoadChunk(indexName, store.ChunkID(id, pos))
		if err != nil {
			s.logger.Warn("missing chunk while reading document", "index", indexName, "document", id, "position", pos)
			continue
		}
		chunks = append(chunks, c)
	}
	return &WithChunks{Document: doc, Chunks: chunks}, nil
}

// Update mutates content and/or metadata. A content change rechunks with
// the index's current settings; a metadata-only change rewrites the chunk
// snapshots in place without rechunking.
func (s *Service) Update(ctx context.Context, indexName, id string, req UpdateRequest) (*store.Document, error) {
	meta, err := s.store.LoadIndexMetadata(indexName)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.LoadDocument(indexName, id)
	if err != nil {
		return nil, err
	}
	if req.Content == nil && req.Metadata == nil {
		return nil, serrors.Validationf("Update requires content or metadata")
	}
	if req.Content != nil && *req.Content == "" {
		return nil, serrors.Validationf("Document content must not be empty")
	}

	effective := doc.Metadata
	if req.Metadata != nil {
		effective = mergeMetadata(doc.Metadata, req.Metadata, req.MergeMetadata)
	}

	if req.Content != nil {
		outcomeInput := Input{ID: id, Content: *req.Content, Metadata: effective}
		var deltaChars int64
		var dChunks chunkDelta
		_, dChunks, deltaChars, err = s.writeOne(indexName, id, outcomeInput, meta.Settings.ChunkSize, meta.Settings.ChunkOverlap, true)
		if err != nil {
			return nil, err
		}
		if err := s.registry.UpdateCounters(indexName, dChunks.delta, deltaChars); err != nil {
			return nil, err
		}
		return s.store.LoadDocument(indexName, id)
	}

	// Metadata-only path: rewrite snapshots, keep positions and content.
	for pos := 0; pos < doc.ChunkCount; pos++ {
		chunkID := store.ChunkID(id, pos)
		c, err := s.store.LoadChunk(indexName, chunkID)
		if err != nil {
			s.logger.Warn("missing chunk during metadata rewrite", "index", indexName, "chunk", chunkID)
			continue
		}
		c.Metadata = effective
		if err := s.store.WriteChunk(indexName, c); err != nil {
			return nil, err
		}
	}

	doc.Metadata = effective
	doc.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveDocument(indexName, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateMetadataOnly merges or replaces metadata without ever rechunking,
// returning the effective metadata map.
func (s *Service) UpdateMetadataOnly(ctx context.Context, indexName, id string, metadata map[string]any, merge bool) (map[string]any, error) {
	if metadata == nil {
		return nil, serrors.Validationf("Metadata must not be null")
	}
	doc, err := s.Update(ctx, indexName, id, UpdateRequest{Metadata: metadata, MergeMetadata: merge})
	if err != nil {
		return nil, err
	}
	return doc.Metadata, nil
}

// Delete removes a document and every chunk it owns.
func (s *Service) Delete(ctx context.Context, indexName, id string) error {
	if !s.store.IndexExists(indexName) {
		return serrors.IndexNotFound(indexName)
	}
	if !s.store.DocumentExists(indexName, id) {
		return serrors.DocumentNotFound(id)
	}

	var chars int64
	removed, err := s.deleteChunksMeasured(indexName, id, &chars)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(indexName, id); err != nil {
		return err
	}
	if err := s.registry.UpdateCounters(indexName, -removed, -chars); err != nil {
		return err
	}
	s.logger.Info("document deleted", "index", indexName, "document", id, "chunks", removed)
	return nil
}

// BulkDelete removes documents by explicit ids or by metadata filter. Ids
// take precedence when both are given. Returns the count actually removed;
// ids that match nothing are skipped silently.
func (s *Service) BulkDelete(ctx context.Context, indexName string, ids []string, f filter.Filter) (int, error) {
	if !s.store.IndexExists(indexName) {
		return 0, serrors.IndexNotFound(indexName)
	}
	if len(ids) == 0 && f == nil {
		return 0, serrors.Validationf("Bulk delete requires document_ids or metadata_filter")
	}

	targets := ids
	if len(targets) == 0 {
		all, err := s.store.EnumerateDocuments(indexName)
		if err != nil {
			return 0, err
		}
		for _, id := range all {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			doc, err := s.store.LoadDocument(indexName, id)
			if err != nil {
				continue
			}
			match, err := f.Matches(doc.Metadata)
			if err != nil {
				return 0, err
			}
			if match {
				targets = append(targets, id)
			}
		}
	}

	deleted := 0
	var deltaChunks int
	var deltaChars int64
	for _, id := range targets {
		if !s.store.DocumentExists(indexName, id) {
			continue
		}
		var chars int64
		removed, err := s.deleteChunksMeasured(indexName, id, &chars)
		if err != nil {
			return deleted, err
		}
		if err := s.store.DeleteDocument(indexName, id); err != nil {
			return deleted, err
		}
		deleted++
		deltaChunks -= removed
		deltaChars -= chars
	}

	if deleted > 0 {
		if err := s.registry.UpdateCounters(indexName, deltaChunks, deltaChars); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// mergeMetadata applies the shallow-merge rule: with merge, new keys win
// and untouched keys survive; without, the new map replaces the old whole.
func mergeMetadata(old, new map[string]any, merge bool) map[string]any {
	if !merge || old == nil {
		return new
	}
	out := make(map[string]any, len(old)+len(new))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range new {
		out[k] = v
	}
	return out
}
