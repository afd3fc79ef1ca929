// Package store owns the per-index persistent layout.
//
// Every index lives under its own directory:
//
//	<root>/<name>/metadata.json        settings + counters
//	<root>/<name>/documents/<id>.json
//	<root>/<name>/chunks/<chunk_id>.json
//	<root>/<name>/chunk_mapping.json   ANN ordinal → chunk_id
//	<root>/<name>/index.leann          ANN artifact (opaque)
//
// All JSON writes are whole-file replacements through a temp file and
// rename. The store provides no cross-file transactions; callers order
// writes so an interruption leaves a consistent, possibly stale, state.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	serrors "lodestone/internal/errors"
)

// ANNArtifactName is the artifact filename within an index directory; the
// watcher matches on it.
const ANNArtifactName = "index.leann"

// Layout filenames within an index directory.
const (
	metadataFile   = "metadata.json"
	documentsDir   = "documents"
	chunksDir      = "chunks"
	ordinalMapFile = "chunk_mapping.json"
	artifactFile   = ANNArtifactName
)

// Store reads and writes the on-disk layout for every index under one root
// directory. It is safe for concurrent use; the OS arbitrates concurrent
// writers to the same file (last write wins).
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index root %s: %w", dir, err)
	}
	return &Store{root: dir, logger: logger}, nil
}

// Root returns the index root directory.
func (s *Store) Root() string { return s.root }

// IndexDir returns the directory holding one index.
func (s *Store) IndexDir(name string) string {
	return filepath.Join(s.root, name)
}

// IndexExists reports whether the index directory is present.
func (s *Store) IndexExists(name string) bool {
	info, err := os.Stat(s.IndexDir(name))
	return err == nil && info.IsDir()
}

// CreateIndexDirs lays out the directory skeleton for a new index.
func (s *Store) CreateIndexDirs(name string) error {
	for _, dir := range []string{
		s.IndexDir(name),
		filepath.Join(s.IndexDir(name), documentsDir),
		filepath.Join(s.IndexDir(name), chunksDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return serrors.Internal(fmt.Sprintf("Failed to create index directory for '%s'", name), err)
		}
	}
	return nil
}

// ListIndexes returns the names of all index directories, sorted. Entries
// are not validated here; callers decide how to treat malformed indexes.
func (s *Store) ListIndexes() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, serrors.Internal("Failed to list indexes", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteIndexTree removes an index and everything it owns.
func (s *Store) DeleteIndexTree(name string) error {
	if err := os.RemoveAll(s.IndexDir(name)); err != nil {
		return serrors.Internal(fmt.Sprintf("Failed to delete index '%s'", name), err)
	}
	return nil
}

// LoadIndexMetadata reads metadata.json for an index.
func (s *Store) LoadIndexMetadata(name string) (*IndexMetadata, error) {
	var meta IndexMetadata
	path := filepath.Join(s.IndexDir(name), metadataFile)
	if err := s.readJSON(path, &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, serrors.IndexNotFound(name)
		}
		return nil, serrors.Internal(fmt.Sprintf("Failed to load metadata for index '%s'", name), err)
	}
	return &meta, nil
}

// SaveIndexMetadata atomically replaces metadata.json.
func (s *Store) SaveIndexMetadata(name string, meta *IndexMetadata) error {
	path := filepath.Join(s.IndexDir(name), metadataFile)
	if err := s.writeJSON(path, meta); err != nil {
		return serrors.Internal(fmt.Sprintf("Failed to save metadata for index '%s'", name), err)
	}
	return nil
}

// LoadDocument reads one document record.
func (s *Store) LoadDocument(index, id string) (*Document, error) {
	var doc Document
	path := filepath.Join(s.IndexDir(index), documentsDir, id+".json")
	if err := s.readJSON(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, serrors.DocumentNotFound(id)
		}
		return nil, serrors.Internal(fmt.Sprintf("Failed to load document '%s'", id), err)
	}
	return &doc, nil
}

// SaveDocument atomically replaces one document record.
func (s *Store) SaveDocument(index string, doc *Document) error {
	path := filepath.Join(s.IndexDir(index), documentsDir, doc.ID+".json")
	if err := s.writeJSON(path, doc); err != nil {
		return serrors.Internal(fmt.Sprintf("Failed to save document '%s'", doc.ID), err)
	}
	return nil
}

// DeleteDocument removes a document record. Deleting a missing record is
// not an error; the caller decides whether absence matters.
func (s *Store) DeleteDocument(index, id string) error {
	path := filepath.Join(s.IndexDir(index), documentsDir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return serrors.Internal(fmt.Sprintf("Failed to delete document '%s'", id), err)
	}
	return nil
}

// DocumentExists reports whether a document record is on disk.
func (s *Store) DocumentExists(index, id string) bool {
	_, err := os.Stat(filepath.Join(s.IndexDir(index), documentsDir, id+".json"))
	return err == nil
}

// EnumerateDocuments returns all document ids, sorted lexicographically.
func (s *Store) EnumerateDocuments(index string) ([]string, error) {
	return s.listJSONNames(filepath.Join(s.IndexDir(index), documentsDir))
}

// CountDocuments counts document records without loading them.
func (s *Store) CountDocuments(index string) (int, error) {
	ids, err := s.EnumerateDocuments(index)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// LoadChunk reads one chunk record.
func (s *Store) LoadChunk(index, chunkID string) (*Chunk, error) {
	var chunk Chunk
	path := filepath.Join(s.IndexDir(index), chunksDir, chunkID+".json")
	if err := s.readJSON(path, &chunk); err != nil {
		if os.IsNotExist(err) {
			return nil, serrors.New(serrors.CodeDocumentNotFound, fmt.Sprintf("Chunk '%s' not found", chunkID), nil)
		}
		return nil, serrors.Internal(fmt.Sprintf("Failed to load chunk '%s'", chunkID), err)
	}
	return &chunk, nil
}

// WriteChunk atomically replaces one chunk record.
func (s *Store) WriteChunk(index string, chunk *Chunk) error {
	path := filepath.Join(s.IndexDir(index), chunksDir, chunk.ChunkID+".json")
	if err := s.writeJSON(path, chunk); err != nil {
		return serrors.Internal(fmt.Sprintf("Failed to write chunk '%s'", chunk.ChunkID), err)
	}
	return nil
}

// EnumerateChunks returns all chunk ids sorted lexicographically. The sort
// fixes the presentation order for rebuilds, making OrdinalMaps stable
// across rebuilds with an unchanged chunk set.
func (s *Store) EnumerateChunks(index string) ([]string, error) {
	return s.listJSONNames(filepath.Join(s.IndexDir(index), chunksDir))
}

// DeleteChunksFor removes every chunk owned by a document, returning how
// many were removed.
func (s *Store) DeleteChunksFor(index, documentID string) (int, error) {
	ids, err := s.EnumerateChunks(index)
	if err != nil {
		return 0, err
	}
	prefix := ChunkIDPrefix(documentID)
	removed := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		// Prefix sharing: "doc1" must not claim "doc1_extra_chunk_0".
		if owner, _, ok := ParseChunkID(id); !ok || owner != documentID {
			continue
		}
		path := filepath.Join(s.IndexDir(index), chunksDir, id+".json")
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, serrors.Internal(fmt.Sprintf("Failed to delete chunk '%s'", id), err)
		}
		removed++
	}
	return removed, nil
}

// LoadOrdinalMap reads chunk_mapping.json. A missing map is not an error:
// it returns nil, meaning the index has never been rebuilt.
func (s *Store) LoadOrdinalMap(index string) (OrdinalMap, error) {
	var m OrdinalMap
	path := filepath.Join(s.IndexDir(index), ordinalMapFile)
	if err := s.readJSON(path, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, serrors.Internal(fmt.Sprintf("Failed to load chunk mapping for index '%s'", index), err)
	}
	return m, nil
}

// SaveOrdinalMap atomically replaces chunk_mapping.json at the end of a
// successful rebuild.
func (s *Store) SaveOrdinalMap(index string, m OrdinalMap) error {
	path := filepath.Join(s.IndexDir(index), ordinalMapFile)
	if err := s.writeJSON(path, m); err != nil {
		return serrors.Internal(fmt.Sprintf("Failed to save chunk mapping for index '%s'", index), err)
	}
	return nil
}

// ANNArtifactPath returns where the ANN artifact lives for an index.
func (s *Store) ANNArtifactPath(index string) string {
	return filepath.Join(s.IndexDir(index), artifactFile)
}

// ANNArtifactExists reports whether a built artifact is on disk.
func (s *Store) ANNArtifactExists(index string) bool {
	_, err := os.Stat(s.ANNArtifactPath(index))
	return err == nil
}

// listJSONNames returns the ".json"-stripped names in a directory, sorted.
func (s *Store) listJSONNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, serrors.Internal(fmt.Sprintf("Failed to read %s", dir), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// readJSON decodes a whole file. Missing-file errors pass through
// unwrapped so callers can map them to not-found codes.
func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces a file atomically: marshal, write a temp file in the
// same directory, rename over the target.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
