package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodestone/internal/config"
	"lodestone/internal/document"
	"lodestone/internal/embed"
	"lodestone/internal/index"
	"lodestone/internal/search"
	"lodestone/internal/store"
	"lodestone/internal/telemetry"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Index.Dir = t.TempDir()
	cfg.Embedding.Mode = config.ModeStatic
	cfg.Embedding.Model = embed.StaticModelName

	st, err := store.New(cfg.Index.Dir, nil)
	require.NoError(t, err)
	factory := embed.NewFactory("http://127.0.0.1:1", nil)
	t.Cleanup(func() { factory.Close() })

	registry := index.NewRegistry(st, cfg, factory, nil)
	documents := document.NewService(st, registry, nil)
	searchSvc := search.NewService(st, cfg, factory, nil)
	t.Cleanup(searchSvc.Close)
	registry.SetInvalidator(searchSvc)

	srv := New(cfg, registry, documents, searchSvc, factory, telemetry.NewMetrics(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type apiResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp.StatusCode, parsed
}

func createIndex(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes", map[string]any{"name": name})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
}

func addDocument(t *testing.T, ts *httptest.Server, indexName, id, content string, metadata map[string]any) {
	t.Helper()
	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes/"+indexName+"/documents", map[string]any{
		"documents": []map[string]any{{"id": id, "content": content, "metadata": metadata}},
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	require.Equal(t, float64(0), resp.Data["failed"])
	require.Len(t, resp.Data["documents"].([]any), 1)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, resp := doJSON(t, ts, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", resp.Data["status"])
	assert.Equal(t, embed.StaticModelName, resp.Data["embedding_model"])
}

func TestIndexLifecycle(t *testing.T) {
	ts := newTestServer(t)

	createIndex(t, ts, "docs")

	// Duplicate create conflicts.
	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes", map[string]any{"name": "docs"})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INDEX_ALREADY_EXISTS", resp.Error.Code)

	// Invalid name rejected.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes", map[string]any{"name": "9bad"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	// Listing includes the index.
	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp.Data["total"])

	// Get returns statistics.
	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes/docs", nil)
	require.Equal(t, http.StatusOK, status)
	stats := resp.Data["statistics"].(map[string]any)
	assert.Equal(t, float64(0), stats["document_count"])

	// Delete, then 404.
	status, _ = doJSON(t, ts, "DELETE", "/api/v1/indexes/docs", nil)
	require.Equal(t, http.StatusOK, status)
	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes/docs", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "INDEX_NOT_FOUND", resp.Error.Code)
}

func TestCreateIndexWithSettings(t *testing.T) {
	ts := newTestServer(t)
	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes", map[string]any{
		"name":     "tuned",
		"settings": map[string]any{"graph_degree": 16, "chunk_size": 256},
	})
	require.Equal(t, http.StatusOK, status)
	settings := resp.Data["settings"].(map[string]any)
	assert.Equal(t, float64(16), settings["graph_degree"])
	assert.Equal(t, float64(256), settings["chunk_size"])
	// Unspecified fields keep defaults.
	assert.Equal(t, "hnsw", settings["backend"])

	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes", map[string]any{
		"name":     "bad",
		"settings": map[string]any{"graph_degree": 4},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestDocumentEndpoints(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")

	addDocument(t, ts, "docs", "a", "hello world", map[string]any{"category": "greeting"})
	addDocument(t, ts, "docs", "b", "goodbye world", map[string]any{"category": "farewell"})

	// Listing with a filter.
	status, resp := doJSON(t, ts, "GET", `/api/v1/indexes/docs/documents?filter={"category":"greeting"}`, nil)
	require.Equal(t, http.StatusOK, status)
	docs := resp.Data["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].(map[string]any)["id"])
	pagination := resp.Data["pagination"].(map[string]any)
	assert.Equal(t, float64(1), pagination["total"])

	// Get with chunks.
	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes/docs/documents/a", nil)
	require.Equal(t, http.StatusOK, status)
	doc := resp.Data["document"].(map[string]any)
	assert.Equal(t, "hello world", doc["content"])
	chunks := resp.Data["chunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a_chunk_0", chunks[0].(map[string]any)["chunk_id"])

	// Update content.
	status, resp = doJSON(t, ts, "PUT", "/api/v1/indexes/docs/documents/a", map[string]any{
		"content": "replaced content",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "replaced content", resp.Data["content"])

	// Patch metadata with merge.
	status, resp = doJSON(t, ts, "PATCH", "/api/v1/indexes/docs/documents/a/metadata", map[string]any{
		"metadata": map[string]any{"reviewed": true},
		"merge":    true,
	})
	require.Equal(t, http.StatusOK, status)
	metadata := resp.Data["metadata"].(map[string]any)
	assert.Equal(t, true, metadata["reviewed"])
	assert.Equal(t, "greeting", metadata["category"])

	// Delete, then 404.
	status, _ = doJSON(t, ts, "DELETE", "/api/v1/indexes/docs/documents/a", nil)
	require.Equal(t, http.StatusOK, status)
	status, resp = doJSON(t, ts, "DELETE", "/api/v1/indexes/docs/documents/a", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", resp.Error.Code)
}

func TestBulkDeleteByFilter(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")
	addDocument(t, ts, "docs", "m1", "one", map[string]any{"category": "manual"})
	addDocument(t, ts, "docs", "m2", "two", map[string]any{"category": "manual"})
	addDocument(t, ts, "docs", "g1", "three", map[string]any{"category": "guide"})

	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes/docs/documents/bulk-delete", map[string]any{
		"metadata_filter": map[string]any{"category": map[string]any{"==": "manual"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp.Data["deleted"])

	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes/docs/documents", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, resp.Data["documents"].([]any), 1)
}

func TestBulkDeleteByIDs(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")
	addDocument(t, ts, "docs", "m1", "one", nil)
	addDocument(t, ts, "docs", "m2", "two", nil)
	addDocument(t, ts, "docs", "m3", "three", nil)

	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes/docs/documents/bulk-delete", map[string]any{
		"document_ids": []string{"m1", "m3", "ghost"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp.Data["deleted"])

	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes/docs/documents", nil)
	require.Equal(t, http.StatusOK, status)
	docs := resp.Data["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "m2", docs[0].(map[string]any)["id"])
}

func TestFileUpload(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")

	upload := func(filename, content string) (int, apiResponse) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("id", "uploaded"))
		require.NoError(t, mw.Close())

		req, err := http.NewRequest("POST", ts.URL+"/api/v1/indexes/docs/documents/file", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var parsed apiResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
		return resp.StatusCode, parsed
	}

	status, resp := upload("notes.md", "# Heading\n\nSome text.")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp.Data["added"])

	// Filename and file type land in metadata.
	status, resp = doJSON(t, ts, "GET", "/api/v1/indexes/docs/documents/uploaded", nil)
	require.Equal(t, http.StatusOK, status)
	metadata := resp.Data["document"].(map[string]any)["metadata"].(map[string]any)
	assert.Equal(t, "notes.md", metadata["filename"])
	assert.Equal(t, "markdown", metadata["file_type"])

	// Re-upload updates in place.
	status, resp = upload("notes.md", "updated body")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), resp.Data["updated"])

	// Unsupported extension names the supported set.
	status, resp = upload("report.pdf", "%PDF-1.4")
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "txt")
}

func TestSearchEndpoints(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")
	addDocument(t, ts, "docs", "log", "ERROR_CODE_001: Connection timeout.", nil)
	addDocument(t, ts, "docs", "db", "database connection pooling guide", nil)

	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes/docs/rebuild", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), resp.Data["chunks"])

	// Semantic.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/docs/search", map[string]any{
		"query": "database connection pooling", "top_k": 1,
	})
	require.Equal(t, http.StatusOK, status)
	results := resp.Data["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "db_chunk_0", results[0].(map[string]any)["chunk_id"])
	assert.Contains(t, resp.Data, "query_time_ms")
	assert.Equal(t, float64(1), resp.Data["total_found"])

	// Metadata filters narrow the candidate set.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/docs/search", map[string]any{
		"query":            "connection",
		"metadata_filters": map[string]any{"source": "nowhere"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Data["results"])

	// Grep with byte positions.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/docs/search/grep", map[string]any{
		"query": "error_code_001",
	})
	require.Equal(t, http.StatusOK, status)
	results = resp.Data["results"].([]any)
	require.Len(t, results, 1)
	positions := results[0].(map[string]any)["match_positions"].([]any)
	require.Len(t, positions, 1)
	span := positions[0].([]any)
	assert.Equal(t, float64(0), span[0])
	assert.Equal(t, float64(14), span[1])

	// Hybrid.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/docs/search/hybrid", map[string]any{
		"query": "connection", "top_k": 2,
	})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, resp.Data["results"].([]any))

	// Batch.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/docs/search/batch", map[string]any{
		"queries": []map[string]any{
			{"id": "q1", "query": "connection timeout"},
			{"id": "q2", "query": "pooling guide"},
		},
	})
	require.Equal(t, http.StatusOK, status)
	batch := resp.Data["results"].(map[string]any)
	assert.Len(t, batch, 2)
	assert.Contains(t, resp.Data, "total_query_time_ms")

	// Missing index is a 404 for every mode.
	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/ghost/search", map[string]any{"query": "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "INDEX_NOT_FOUND", resp.Error.Code)
}

func TestSearchValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")

	status, resp := doJSON(t, ts, "POST", "/api/v1/indexes/docs/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	status, resp = doJSON(t, ts, "POST", "/api/v1/indexes/docs/search/batch", map[string]any{
		"queries": []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest("POST", ts.URL+"/api/v1/indexes", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "lodestone_http_requests_total")
}

func TestDocumentListPagination(t *testing.T) {
	ts := newTestServer(t)
	createIndex(t, ts, "docs")
	for i := 0; i < 5; i++ {
		addDocument(t, ts, "docs", fmt.Sprintf("doc%d", i), "content", nil)
	}

	status, resp := doJSON(t, ts, "GET", "/api/v1/indexes/docs/documents?page=2&per_page=2&sort_by=id", nil)
	require.Equal(t, http.StatusOK, status)
	docs := resp.Data["documents"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc2", docs[0].(map[string]any)["id"])
	pagination := resp.Data["pagination"].(map[string]any)
	assert.Equal(t, float64(5), pagination["total"])
	assert.Equal(t, float64(3), pagination["total_pages"])
}
