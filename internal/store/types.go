package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	serrors "lodestone/internal/errors"
)

// ANN backends.
const (
	BackendHNSW    = "hnsw"
	BackendDiskANN = "diskann"
)

// Settings ranges enforced by IndexSettings.Validate.
const (
	MinGraphDegree     = 8
	MaxGraphDegree     = 128
	MinBuildComplexity = 32
	MaxBuildComplexity = 512
	MinChunkSize       = 64
	MaxChunkSize       = 4096
	MaxChunkOverlap    = 512
	MaxIndexNameLen    = 64
)

var indexNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateIndexName checks the tenant-name grammar: a letter followed by
// letters, digits, or underscores, at most 64 characters.
func ValidateIndexName(name string) error {
	if name == "" || len(name) > MaxIndexNameLen {
		return serrors.Validationf("Index name must be 1-64 characters, got %d", len(name))
	}
	if !indexNamePattern.MatchString(name) {
		return serrors.Validationf("Invalid index name '%s': must match ^[A-Za-z][A-Za-z0-9_]*$", name)
	}
	return nil
}

// ValidateDocumentID rejects ids that cannot serve as filenames. Document
// ids are opaque to the service but become <id>.json on disk.
func ValidateDocumentID(id string) error {
	if id == "" || len(id) > 256 {
		return serrors.Validationf("Document id must be 1-256 characters, got %d", len(id))
	}
	if id == "." || id == ".." || strings.ContainsAny(id, "/\\\x00") {
		return serrors.Validationf("Invalid document id '%s': must not contain path separators", id)
	}
	return nil
}

// IndexSettings are the per-index build parameters. They are replaceable
// only through a rebuild; the artifact on disk always reflects the settings
// it was built with.
type IndexSettings struct {
	// Backend selects the ANN engine: hnsw or diskann.
	Backend string `json:"backend"`
	// EmbeddingModel is the opaque model identifier recorded per index so
	// queries embed exactly as the indexed chunks did.
	EmbeddingModel string `json:"embedding_model"`
	// GraphDegree is the HNSW M parameter.
	GraphDegree int `json:"graph_degree"`
	// BuildComplexity is the ef parameter used during construction.
	BuildComplexity int `json:"build_complexity"`
	// ChunkSize is the chunker window in bytes.
	ChunkSize int `json:"chunk_size"`
	// ChunkOverlap is the chunker overlap in bytes; always < ChunkSize.
	ChunkOverlap int `json:"chunk_overlap"`
}

// Validate enforces the documented ranges. Overlap >= size is rejected here
// rather than at chunking time.
func (s IndexSettings) Validate() error {
	if s.Backend != BackendHNSW && s.Backend != BackendDiskANN {
		return serrors.Validationf("Unknown backend '%s': must be hnsw or diskann", s.Backend)
	}
	if s.GraphDegree < MinGraphDegree || s.GraphDegree > MaxGraphDegree {
		return serrors.Validationf("graph_degree must be in [%d,%d], got %d", MinGraphDegree, MaxGraphDegree, s.GraphDegree)
	}
	if s.BuildComplexity < MinBuildComplexity || s.BuildComplexity > MaxBuildComplexity {
		return serrors.Validationf("build_complexity must be in [%d,%d], got %d", MinBuildComplexity, MaxBuildComplexity, s.BuildComplexity)
	}
	if s.ChunkSize < MinChunkSize || s.ChunkSize > MaxChunkSize {
		return serrors.Validationf("chunk_size must be in [%d,%d], got %d", MinChunkSize, MaxChunkSize, s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap > MaxChunkOverlap {
		return serrors.Validationf("chunk_overlap must be in [0,%d], got %d", MaxChunkOverlap, s.ChunkOverlap)
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return serrors.Validationf("chunk_overlap (%d) must be smaller than chunk_size (%d)", s.ChunkOverlap, s.ChunkSize)
	}
	return nil
}

// IndexMetadata is the persisted per-index record: settings plus running
// counters. Status is computed from filesystem state, never stored.
type IndexMetadata struct {
	Name            string        `json:"name"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       *time.Time    `json:"updated_at"`
	ChunkCount      int           `json:"chunk_count"`
	TotalCharacters int64         `json:"total_characters"`
	Settings        IndexSettings `json:"settings"`
}

// Touch records a mutation time. UpdatedAt stays null until the first
// mutation after creation.
func (m *IndexMetadata) Touch(now time.Time) {
	t := now.UTC()
	m.UpdatedAt = &t
}

// Document is a persisted document record. Chunks live in their own files;
// ChunkCount ties the two together.
type Document struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Chunk is the unit of embedding and retrieval. Metadata is a snapshot of
// the parent document's metadata from the last write that touched the
// chunk; the document record stays the source of truth.
type Chunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Position   int            `json:"position"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// chunkIDSep joins a document id and a chunk position.
const chunkIDSep = "_chunk_"

// ChunkID formats the canonical chunk identifier.
func ChunkID(documentID string, position int) string {
	return fmt.Sprintf("%s%s%d", documentID, chunkIDSep, position)
}

// ChunkIDPrefix is the prefix shared by every chunk of a document, used for
// prefix deletes and ownership checks.
func ChunkIDPrefix(documentID string) string {
	return documentID + chunkIDSep
}

// ParseChunkID splits a chunk id back into document id and position. The
// document id may itself contain "_chunk_", so the split is on the last
// occurrence followed by digits.
func ParseChunkID(chunkID string) (documentID string, position int, ok bool) {
	i := strings.LastIndex(chunkID, chunkIDSep)
	if i < 0 {
		return "", 0, false
	}
	pos, err := strconv.Atoi(chunkID[i+len(chunkIDSep):])
	if err != nil || pos < 0 {
		return "", 0, false
	}
	return chunkID[:i], pos, true
}

// OrdinalMap records the order chunks were presented to the ANN builder.
// Slot i holds the chunk_id behind ANN ordinal i; it is the only durable
// link between graph ordinals and chunk identity.
type OrdinalMap []string

// ChunkIDAt resolves an ANN ordinal, reporting false for out-of-range
// ordinals so stale artifacts degrade to skipped hits instead of panics.
func (m OrdinalMap) ChunkIDAt(ordinal uint64) (string, bool) {
	if ordinal >= uint64(len(m)) {
		return "", false
	}
	return m[ordinal], true
}
