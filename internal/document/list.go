package document

import (
	"context"
	"sort"
	"strings"
	"time"

	serrors "lodestone/internal/errors"
	"lodestone/internal/filter"
	"lodestone/internal/store"
)

// Pagination bounds.
const (
	MaxPerPage     = 100
	DefaultPerPage = 20
	previewLen     = 200
)

// Sortable fields for listings.
const (
	SortByID        = "id"
	SortByCreatedAt = "created_at"
	SortByUpdatedAt = "updated_at"
)

// ListOptions control pagination, ordering, and filtering of a listing.
type ListOptions struct {
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string // "asc" or "desc"
	Filter    filter.Filter
}

// Summary is the listing projection of a document: everything except the
// full content, which is replaced by a bounded preview.
type Summary struct {
	ID             string         `json:"id"`
	ContentPreview string         `json:"content_preview"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ChunkCount     int            `json:"chunk_count"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// Pagination describes the page served and the filtered total.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// List returns one page of documents. The filter applies before
// pagination, so Total counts filter-surviving documents.
func (s *Service) List(ctx context.Context, indexName string, opts ListOptions) ([]Summary, *Pagination, error) {
	if !s.store.IndexExists(indexName) {
		return nil, nil, serrors.IndexNotFound(indexName)
	}

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = DefaultPerPage
	}
	if opts.PerPage > MaxPerPage {
		return nil, nil, serrors.Validationf("per_page must be at most %d, got %d", MaxPerPage, opts.PerPage)
	}
	switch opts.SortBy {
	case "", SortByID, SortByCreatedAt, SortByUpdatedAt:
	default:
		return nil, nil, serrors.Validationf("Unknown sort_by '%s'", opts.SortBy)
	}
	switch strings.ToLower(opts.SortOrder) {
	case "", "asc", "desc":
	default:
		return nil, nil, serrors.Validationf("sort_order must be asc or desc")
	}

	ids, err := s.store.EnumerateDocuments(indexName)
	if err != nil {
		return nil, nil, err
	}

	docs := make([]*store.Document, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		doc, err := s.store.LoadDocument(indexName, id)
		if err != nil {
			s.logger.Warn("skipping unreadable document in listing", "index", indexName, "document", id, "error", err)
			continue
		}
		if opts.Filter != nil {
			match, err := opts.Filter.Matches(doc.Metadata)
			if err != nil {
				return nil, nil, err
			}
			if !match {
				continue
			}
		}
		docs = append(docs, doc)
	}

	sortDocuments(docs, opts.SortBy, strings.EqualFold(opts.SortOrder, "desc"))

	total := len(docs)
	totalPages := (total + opts.PerPage - 1) / opts.PerPage
	start := (opts.Page - 1) * opts.PerPage
	if start > total {
		start = total
	}
	end := start + opts.PerPage
	if end > total {
		end = total
	}

	page := make([]Summary, 0, end-start)
	for _, doc := range docs[start:end] {
		page = append(page, Summary{
			ID:             doc.ID,
			ContentPreview: preview(doc.Content),
			Metadata:       doc.Metadata,
			ChunkCount:     doc.ChunkCount,
			CreatedAt:      doc.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      doc.UpdatedAt.Format(time.RFC3339),
		})
	}
	return page, &Pagination{
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// sortDocuments orders in place; id is the tie-break for timestamp sorts
// so listings stay stable across calls.
func sortDocuments(docs []*store.Document, by string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		var less bool
		switch by {
		case SortByCreatedAt:
			if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
				less = docs[i].ID < docs[j].ID
			} else {
				less = docs[i].CreatedAt.Before(docs[j].CreatedAt)
			}
		case SortByUpdatedAt:
			if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
				less = docs[i].ID < docs[j].ID
			} else {
				less = docs[i].UpdatedAt.Before(docs[j].UpdatedAt)
			}
		default:
			less = docs[i].ID < docs[j].ID
		}
		if desc {
			return !less
		}
		return less
	})
}

// preview truncates content for listings, marking the cut.
func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	return content[:previewLen] + "…"
}
