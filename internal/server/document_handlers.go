package server

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"lodestone/internal/document"
	serrors "lodestone/internal/errors"
	"lodestone/internal/filter"
)

// Ingest-path request defaults.
const (
	uploadFieldName = "file"
)

// uploadExtensions is the supported set for file ingestion. Anything else
// needs external text extraction before hitting the API.
var uploadExtensions = map[string]string{
	".txt":      "txt",
	".md":       "markdown",
	".markdown": "markdown",
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req struct {
		Documents      []document.Input `json:"documents"`
		ChunkSize      *int             `json:"chunk_size"`
		ChunkOverlap   *int             `json:"chunk_overlap"`
		UpdateIfExists bool             `json:"update_if_exists"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, r, serrors.Validationf("documents must not be empty"))
		return
	}

	opts := document.AddOptions{UpdateIfExists: req.UpdateIfExists}
	if req.ChunkSize != nil {
		opts.ChunkSize = *req.ChunkSize
		opts.HasChunkSize = true
	}
	if req.ChunkOverlap != nil {
		opts.ChunkOverlap = *req.ChunkOverlap
		opts.HasChunkOverlap = true
	}

	outcomes, err := s.documents.AddDocuments(r.Context(), name, req.Documents, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondIngest(w, name, outcomes)
}

// respondIngest summarizes per-document outcomes and records ingest metrics.
func (s *Server) respondIngest(w http.ResponseWriter, name string, outcomes []document.Outcome) {
	var added, updated, failed, chunks int
	for _, o := range outcomes {
		switch o.Status {
		case document.OutcomeAdded:
			added++
		case document.OutcomeUpdated:
			updated++
		default:
			failed++
		}
		chunks += o.ChunkCount
	}
	if s.metrics != nil {
		s.metrics.RecordIngest(name, added+updated, chunks)
	}
	s.respond(w, http.StatusOK, map[string]any{
		"documents": outcomes,
		"total":     len(outcomes),
		"added":     added,
		"updated":   updated,
		"failed":    failed,
	})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit := s.cfg.MaxUploadBytes()

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		s.respondError(w, r, serrors.Validationf("Upload exceeds %d MB or is not valid multipart form data", s.cfg.Server.MaxUploadSizeMB))
		return
	}
	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		s.respondError(w, r, serrors.Validationf("Missing '%s' form field", uploadFieldName))
		return
	}
	defer file.Close()

	content, fileType, err := readUpload(file, header)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	metadata := map[string]any{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			s.respondError(w, r, serrors.Validation("metadata form field must be a JSON object", err))
			return
		}
	}
	metadata["filename"] = header.Filename
	metadata["file_type"] = fileType

	outcomes, err := s.documents.AddDocuments(r.Context(), name, []document.Input{{
		ID:       r.FormValue("id"),
		Content:  content,
		Metadata: metadata,
	}}, document.AddOptions{UpdateIfExists: true})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondIngest(w, name, outcomes)
}

// readUpload validates the extension and decodes the payload as UTF-8 text.
func readUpload(file multipart.File, header *multipart.FileHeader) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	fileType, ok := uploadExtensions[ext]
	if !ok {
		return "", "", serrors.Validationf("Unsupported file type '%s': supported extensions are txt, md, markdown", ext)
	}
	raw, err := io.ReadAll(file)
	if err != nil {
		return "", "", serrors.Internal("Failed to read uploaded file", err).WithDetail("filename", header.Filename)
	}
	if !utf8.Valid(raw) {
		return "", "", serrors.Validationf("File '%s' is not valid UTF-8 text", header.Filename)
	}
	return string(raw), fileType, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()

	opts := document.ListOptions{
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	var err error
	if opts.Page, err = queryInt(q.Get("page"), 0); err != nil {
		s.respondError(w, r, serrors.Validationf("page must be an integer"))
		return
	}
	if opts.PerPage, err = queryInt(q.Get("per_page"), 0); err != nil {
		s.respondError(w, r, serrors.Validationf("per_page must be an integer"))
		return
	}
	if raw := q.Get("filter"); raw != "" {
		var f filter.Filter
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			s.respondError(w, r, serrors.Validation("filter must be a JSON object", err))
			return
		}
		opts.Filter = f
	}

	docs, pagination, err := s.documents.List(r.Context(), name, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"documents":  docs,
		"pagination": pagination,
	})
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("name"), r.PathValue("id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content       *string        `json:"content"`
		Metadata      map[string]any `json:"metadata"`
		MergeMetadata bool           `json:"merge_metadata"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	doc, err := s.documents.Update(r.Context(), r.PathValue("name"), r.PathValue("id"), document.UpdateRequest{
		Content:       req.Content,
		Metadata:      req.Metadata,
		MergeMetadata: req.MergeMetadata,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metadata map[string]any `json:"metadata"`
		Merge    bool           `json:"merge"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Metadata == nil {
		s.respondError(w, r, serrors.Validationf("metadata must not be empty"))
		return
	}

	metadata, err := s.documents.UpdateMetadataOnly(r.Context(), r.PathValue("name"), r.PathValue("id"), req.Metadata, req.Merge)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"metadata": metadata})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.documents.Delete(r.Context(), r.PathValue("name"), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string      `json:"document_ids"`
		Filter filter.Filter `json:"metadata_filter"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	deleted, err := s.documents.BulkDelete(r.Context(), r.PathValue("name"), req.IDs, req.Filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": deleted})
}
