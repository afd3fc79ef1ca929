package search

import "time"

// SemanticResult is one vector-search hit. Score is cosine similarity in
// [-1, 1], whether it came from the ANN graph or the brute-force fallback.
type SemanticResult struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Position   int            `json:"position"`
	Score      float32        `json:"score"`
	Content    string         `json:"content,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GrepResult is one literal-match hit. MatchPositions holds every match's
// [start, end) byte range within the chunk's content.
type GrepResult struct {
	ChunkID        string         `json:"chunk_id"`
	DocumentID     string         `json:"document_id"`
	Position       int            `json:"position"`
	Content        string         `json:"content,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	MatchPositions [][2]int       `json:"match_positions"`
}

// HybridResult fuses the two sides. SemanticScore is the raw cosine score
// (0 when the chunk had no semantic hit); KeywordScore is the rank-derived
// grep score in [0, 1].
type HybridResult struct {
	ChunkID       string         `json:"chunk_id"`
	DocumentID    string         `json:"document_id"`
	Position      int            `json:"position"`
	CombinedScore float64        `json:"combined_score"`
	SemanticScore float64        `json:"semantic_score"`
	KeywordScore  float64        `json:"keyword_score"`
	Content       string         `json:"content,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// BatchQuery is one entry of a batch request.
type BatchQuery struct {
	ID    string `json:"id"`
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// BatchEntry is the per-query slice of a batch response.
type BatchEntry struct {
	Results    []SemanticResult `json:"results"`
	TotalFound int              `json:"total_found"`
}

// BatchResult maps query ids to their entries. Elapsed is wall time for
// the whole batch; with parallel execution it tracks the slowest query,
// not the sum.
type BatchResult struct {
	Entries map[string]BatchEntry
	Elapsed time.Duration
}
