package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "lodestone/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func testSettings() IndexSettings {
	return IndexSettings{
		Backend:         BackendHNSW,
		EmbeddingModel:  "static-hash-v1",
		GraphDegree:     32,
		BuildComplexity: 64,
		ChunkSize:       512,
		ChunkOverlap:    64,
	}
}

func TestIndexLifecycle(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.IndexExists("docs"))
	require.NoError(t, s.CreateIndexDirs("docs"))
	assert.True(t, s.IndexExists("docs"))

	meta := &IndexMetadata{
		Name:      "docs",
		CreatedAt: time.Now().UTC(),
		Settings:  testSettings(),
	}
	require.NoError(t, s.SaveIndexMetadata("docs", meta))

	loaded, err := s.LoadIndexMetadata("docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", loaded.Name)
	assert.Nil(t, loaded.UpdatedAt)
	assert.Equal(t, meta.Settings, loaded.Settings)

	names, err := s.ListIndexes()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)

	require.NoError(t, s.DeleteIndexTree("docs"))
	assert.False(t, s.IndexExists("docs"))
}

func TestLoadIndexMetadata_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadIndexMetadata("ghost")
	assert.Equal(t, serrors.CodeIndexNotFound, serrors.GetCode(err))
}

func TestMetadataJSONIsIndented(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))
	require.NoError(t, s.SaveIndexMetadata("docs", &IndexMetadata{Name: "docs", Settings: testSettings()}))

	raw, err := os.ReadFile(filepath.Join(s.IndexDir("docs"), "metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"name\": \"docs\"")
	assert.True(t, json.Valid(raw))
}

func TestDocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))

	doc := &Document{
		ID:        "a",
		Content:   "hello world",
		Metadata:  map[string]any{"category": "manual"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SaveDocument("docs", doc))
	assert.True(t, s.DocumentExists("docs", "a"))

	loaded, err := s.LoadDocument("docs", "a")
	require.NoError(t, err)
	assert.Equal(t, "hello world", loaded.Content)
	assert.Equal(t, map[string]any{"category": "manual"}, loaded.Metadata)

	require.NoError(t, s.DeleteDocument("docs", "a"))
	_, err = s.LoadDocument("docs", "a")
	assert.Equal(t, serrors.CodeDocumentNotFound, serrors.GetCode(err))

	// Deleting again stays quiet; callers own the not-found decision.
	require.NoError(t, s.DeleteDocument("docs", "a"))
}

func TestEnumerateDocuments_Sorted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.SaveDocument("docs", &Document{ID: id, Content: "x"}))
	}
	ids, err := s.EnumerateDocuments("docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	n, err := s.CountDocuments("docs")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestChunkWriteLoadEnumerate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))

	for pos := 2; pos >= 0; pos-- {
		require.NoError(t, s.WriteChunk("docs", &Chunk{
			ChunkID:    ChunkID("d1", pos),
			DocumentID: "d1",
			Position:   pos,
			Content:    "chunk body",
		}))
	}

	ids, err := s.EnumerateChunks("docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1_chunk_0", "d1_chunk_1", "d1_chunk_2"}, ids)

	chunk, err := s.LoadChunk("docs", "d1_chunk_1")
	require.NoError(t, err)
	assert.Equal(t, "d1", chunk.DocumentID)
	assert.Equal(t, 1, chunk.Position)
}

func TestDeleteChunksFor_OnlyOwnedChunks(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))

	write := func(docID string, pos int) {
		require.NoError(t, s.WriteChunk("docs", &Chunk{
			ChunkID: ChunkID(docID, pos), DocumentID: docID, Position: pos, Content: "x",
		}))
	}
	write("d1", 0)
	write("d1", 1)
	// Different document whose id shares d1's chunk prefix characters.
	write("d1_extra", 0)
	write("d2", 0)

	removed, err := s.DeleteChunksFor("docs", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ids, err := s.EnumerateChunks("docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1_extra_chunk_0", "d2_chunk_0"}, ids)
}

func TestOrdinalMapRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))

	m, err := s.LoadOrdinalMap("docs")
	require.NoError(t, err)
	assert.Nil(t, m)

	saved := OrdinalMap{"d1_chunk_0", "d1_chunk_1", "d2_chunk_0"}
	require.NoError(t, s.SaveOrdinalMap("docs", saved))

	m, err = s.LoadOrdinalMap("docs")
	require.NoError(t, err)
	assert.Equal(t, saved, m)

	id, ok := m.ChunkIDAt(2)
	assert.True(t, ok)
	assert.Equal(t, "d2_chunk_0", id)
	_, ok = m.ChunkIDAt(3)
	assert.False(t, ok)
}

func TestANNArtifact(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateIndexDirs("docs"))

	assert.False(t, s.ANNArtifactExists("docs"))
	path := s.ANNArtifactPath("docs")
	assert.Equal(t, filepath.Join(s.IndexDir("docs"), "index.leann"), path)

	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0o644))
	assert.True(t, s.ANNArtifactExists("docs"))
}

func TestValidateIndexName(t *testing.T) {
	valid := []string{"t", "docs", "My_Index_2", "A123"}
	for _, name := range valid {
		assert.NoError(t, ValidateIndexName(name), name)
	}
	invalid := []string{"", "1abc", "_abc", "a-b", "a b", "a/b", string(make([]byte, 65))}
	for _, name := range invalid {
		assert.Error(t, ValidateIndexName(name), name)
	}
}

func TestValidateDocumentID(t *testing.T) {
	assert.NoError(t, ValidateDocumentID("a"))
	assert.NoError(t, ValidateDocumentID("report-2024.v1"))
	for _, id := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.Error(t, ValidateDocumentID(id), id)
	}
}

func TestIndexSettingsValidate(t *testing.T) {
	base := testSettings()
	assert.NoError(t, base.Validate())

	diskann := base
	diskann.Backend = BackendDiskANN
	assert.NoError(t, diskann.Validate())

	cases := []struct {
		name   string
		mutate func(*IndexSettings)
	}{
		{"unknown backend", func(s *IndexSettings) { s.Backend = "faiss" }},
		{"graph degree low", func(s *IndexSettings) { s.GraphDegree = 4 }},
		{"graph degree high", func(s *IndexSettings) { s.GraphDegree = 256 }},
		{"build complexity low", func(s *IndexSettings) { s.BuildComplexity = 16 }},
		{"chunk size low", func(s *IndexSettings) { s.ChunkSize = 32 }},
		{"chunk size high", func(s *IndexSettings) { s.ChunkSize = 8192 }},
		{"negative overlap", func(s *IndexSettings) { s.ChunkOverlap = -1 }},
		{"overlap equals size", func(s *IndexSettings) { s.ChunkSize = 128; s.ChunkOverlap = 128 }},
		{"overlap above size", func(s *IndexSettings) { s.ChunkSize = 128; s.ChunkOverlap = 200 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testSettings()
			tc.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Equal(t, serrors.CodeValidation, serrors.GetCode(err))
		})
	}
}

func TestParseChunkID(t *testing.T) {
	doc, pos, ok := ParseChunkID("d1_chunk_4")
	require.True(t, ok)
	assert.Equal(t, "d1", doc)
	assert.Equal(t, 4, pos)

	// Document ids may themselves contain the separator.
	doc, pos, ok = ParseChunkID("a_chunk_b_chunk_2")
	require.True(t, ok)
	assert.Equal(t, "a_chunk_b", doc)
	assert.Equal(t, 2, pos)

	_, _, ok = ParseChunkID("no-separator")
	assert.False(t, ok)
	_, _, ok = ParseChunkID("d1_chunk_x")
	assert.False(t, ok)
}
