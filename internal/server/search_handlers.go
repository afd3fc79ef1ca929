package server

import (
	"net/http"

	"lodestone/internal/filter"
	"lodestone/internal/search"
)

// Transport-level search defaults. Service-level clamping to MAX_TOP_K
// still applies.
const (
	defaultGrepTopK      = 20
	defaultBatchTopK     = 5
	defaultIncludeExtras = true
)

// searchRequest is the shared request shape for semantic and hybrid
// queries; hybrid ignores the semantic-only knobs it does not carry.
type searchRequest struct {
	Query            string        `json:"query"`
	TopK             int           `json:"top_k"`
	Filters          filter.Filter `json:"metadata_filters"`
	SearchComplexity int           `json:"search_complexity"`
	MinScore         float32       `json:"min_score"`
	SemanticWeight   *float64      `json:"semantic_weight"`
	KeywordWeight    *float64      `json:"keyword_weight"`
	IncludeContent   *bool         `json:"include_content"`
	IncludeMetadata  *bool         `json:"include_metadata"`
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req searchRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	results, elapsed, err := s.search.Semantic(r.Context(), name, req.Query, search.SemanticOptions{
		TopK:             req.TopK,
		Filters:          req.Filters,
		SearchComplexity: req.SearchComplexity,
		MinScore:         req.MinScore,
		IncludeContent:   boolOr(req.IncludeContent, defaultIncludeExtras),
		IncludeMetadata:  boolOr(req.IncludeMetadata, defaultIncludeExtras),
	})
	if s.metrics != nil {
		s.metrics.RecordSearch("semantic", searchStatus(err), elapsed.Seconds())
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results":       results,
		"total_found":   len(results),
		"query_time_ms": elapsed.Milliseconds(),
	})
}

func (s *Server) handleGrepSearch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req searchRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.TopK == 0 {
		req.TopK = defaultGrepTopK
	}

	results, elapsed, err := s.search.Grep(r.Context(), name, req.Query, req.TopK, req.Filters)
	if s.metrics != nil {
		s.metrics.RecordSearch("grep", searchStatus(err), elapsed.Seconds())
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results":       results,
		"total_found":   len(results),
		"query_time_ms": elapsed.Milliseconds(),
	})
}

func (s *Server) handleHybridSearch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req searchRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	opts := search.HybridOptions{
		TopK:            req.TopK,
		SemanticWeight:  search.DefaultSemanticWeight,
		KeywordWeight:   search.DefaultKeywordWeight,
		Filters:         req.Filters,
		IncludeContent:  boolOr(req.IncludeContent, defaultIncludeExtras),
		IncludeMetadata: boolOr(req.IncludeMetadata, defaultIncludeExtras),
	}
	if req.SemanticWeight != nil {
		opts.SemanticWeight = *req.SemanticWeight
	}
	if req.KeywordWeight != nil {
		opts.KeywordWeight = *req.KeywordWeight
	}

	results, elapsed, err := s.search.Hybrid(r.Context(), name, req.Query, opts)
	if s.metrics != nil {
		s.metrics.RecordSearch("hybrid", searchStatus(err), elapsed.Seconds())
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results":       results,
		"total_found":   len(results),
		"query_time_ms": elapsed.Milliseconds(),
	})
}

func (s *Server) handleBatchSearch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req struct {
		Queries []search.BatchQuery `json:"queries"`
		Filters filter.Filter       `json:"metadata_filters"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	for i := range req.Queries {
		if req.Queries[i].TopK == 0 {
			req.Queries[i].TopK = defaultBatchTopK
		}
	}

	result, err := s.search.Batch(r.Context(), name, req.Queries, req.Filters)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSearch("batch", "error", 0)
		}
		s.respondError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSearch("batch", "success", result.Elapsed.Seconds())
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results":             result.Entries,
		"total_query_time_ms": result.Elapsed.Milliseconds(),
	})
}

func searchStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
