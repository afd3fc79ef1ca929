package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

const (
	// tokenWeight and ngramWeight balance word-level matching against
	// character-level fuzziness in the blended vector.
	tokenWeight = 0.7
	ngramWeight = 0.3

	// ngramSize is the character n-gram width used for partial matches.
	ngramSize = 3
)

// StaticModelName identifies hash embeddings in index metadata.
const StaticModelName = "static-hash-v1"

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder produces deterministic embeddings by hashing word tokens
// and character n-grams into a fixed-size vector. It requires no external
// service, always reports available, and gives identical output for
// identical input, which keeps offline indexes reproducible. Semantic
// quality is far below a real model; it is a fallback, not a replacement.
type StaticEmbedder struct {
	dimensions int

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a hash embedder with StaticDimensions output.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{dimensions: StaticDimensions}
}

// Embed generates a deterministic embedding for the text.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("static embedder is closed")
	}
	return s.embed(text), nil
}

// EmbedBatch generates embeddings for multiple texts in order.
func (s *StaticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("static embedder is closed")
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = s.embed(text)
	}
	return results, nil
}

func (s *StaticEmbedder) embed(text string) []float32 {
	vec := make([]float32, s.dimensions)
	if strings.TrimSpace(text) == "" {
		return vec
	}

	tokens := tokenize(text)
	for _, tok := range tokens {
		vec[hashToIndex(tok, s.dimensions)] += tokenWeight
	}
	for _, gram := range extractNgrams(text, ngramSize) {
		vec[hashToIndex(gram, s.dimensions)] += ngramWeight
	}

	normalizeVector(vec)
	return vec
}

// Dimensions returns the fixed vector size.
func (s *StaticEmbedder) Dimensions() int {
	return s.dimensions
}

// ModelName identifies the hash embedder in index metadata.
func (s *StaticEmbedder) ModelName() string {
	return StaticModelName
}

// Available always reports true; hashing needs no external process.
func (s *StaticEmbedder) Available(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close marks the embedder closed. Further calls return an error.
func (s *StaticEmbedder) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tokenize lowercases the text and splits it into alphanumeric runs.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) > 1 {
			tokens = append(tokens, m)
		}
	}
	return tokens
}

// extractNgrams produces character n-grams from the normalized text.
// Whitespace runs collapse to a single space so formatting does not
// perturb the vector.
func extractNgrams(text string, n int) []string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	runes := []rune(normalized)
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// hashToIndex maps a string to a vector slot using FNV-1a.
func hashToIndex(s string, dimensions int) int {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int(h.Sum64() % uint64(dimensions))
}

var _ Embedder = (*StaticEmbedder)(nil)
