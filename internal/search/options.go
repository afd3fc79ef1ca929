package search

import (
	serrors "lodestone/internal/errors"
	"lodestone/internal/filter"
)

// Search tuning bounds.
const (
	MinSearchComplexity = 16
	MaxSearchComplexity = 256
	MaxBatchQueries     = 50
)

// Hybrid fusion weight defaults, matching the typical score distribution
// of normalized embeddings against rank-derived keyword scores.
const (
	DefaultSemanticWeight = 0.7
	DefaultKeywordWeight  = 0.3
)

// SemanticOptions tune one semantic query.
type SemanticOptions struct {
	// TopK is the number of results requested. The service clamps it to
	// the configured maximum.
	TopK int
	// Filters restricts hits to chunks whose metadata matches.
	Filters filter.Filter
	// SearchComplexity widens the ANN traversal. Zero uses the configured
	// default.
	SearchComplexity int
	// MinScore drops hits scoring below it.
	MinScore float32
	// IncludeContent / IncludeMetadata shape the result payload.
	IncludeContent  bool
	IncludeMetadata bool
}

// HybridOptions tune one hybrid query.
type HybridOptions struct {
	TopK            int
	SemanticWeight  float64
	KeywordWeight   float64
	Filters         filter.Filter
	IncludeContent  bool
	IncludeMetadata bool
}

// validateSemantic normalizes and checks option ranges.
func (s *Service) validateSemantic(opts *SemanticOptions) error {
	if opts.TopK <= 0 {
		opts.TopK = s.cfg.Search.DefaultTopK
	}
	if opts.TopK > s.cfg.Search.MaxTopK {
		opts.TopK = s.cfg.Search.MaxTopK
	}
	if opts.SearchComplexity == 0 {
		opts.SearchComplexity = s.cfg.Search.Complexity
	}
	if opts.SearchComplexity < MinSearchComplexity || opts.SearchComplexity > MaxSearchComplexity {
		return serrors.Validationf("search_complexity must be in [%d,%d], got %d",
			MinSearchComplexity, MaxSearchComplexity, opts.SearchComplexity)
	}
	if opts.MinScore < 0 || opts.MinScore > 1 {
		return serrors.Validationf("min_score must be in [0,1], got %g", opts.MinScore)
	}
	return nil
}

// validateHybrid normalizes and checks hybrid options.
func (s *Service) validateHybrid(opts *HybridOptions) error {
	if opts.TopK <= 0 {
		opts.TopK = s.cfg.Search.DefaultTopK
	}
	if opts.TopK > s.cfg.Search.MaxTopK {
		opts.TopK = s.cfg.Search.MaxTopK
	}
	if opts.SemanticWeight < 0 || opts.SemanticWeight > 1 {
		return serrors.Validationf("semantic_weight must be in [0,1], got %g", opts.SemanticWeight)
	}
	if opts.KeywordWeight < 0 || opts.KeywordWeight > 1 {
		return serrors.Validationf("keyword_weight must be in [0,1], got %g", opts.KeywordWeight)
	}
	return nil
}
