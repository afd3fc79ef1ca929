package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOllamaEndpoint is the local Ollama API address.
	DefaultOllamaEndpoint = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaRequestTimeout bounds a single embedding request. Cold model
	// loads can take tens of seconds on first use.
	ollamaRequestTimeout = 60 * time.Second

	// ollamaProbeTimeout bounds the availability check.
	ollamaProbeTimeout = 2 * time.Second
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Endpoint is the Ollama API base URL.
	Endpoint string

	// Model is the embedding model name, e.g. "nomic-embed-text".
	Model string

	// BatchSize is the number of texts per /api/embed request.
	BatchSize int

	// Timeout bounds a single API request.
	Timeout time.Duration
}

// DefaultOllamaConfig returns the standard local configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Endpoint:  DefaultOllamaEndpoint,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   ollamaRequestTimeout,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings through a local Ollama server.
// Availability is checked lazily; construction never contacts the server.
type OllamaEmbedder struct {
	config OllamaConfig
	client *http.Client

	mu         sync.RWMutex
	dimensions int
	closed     bool
}

// NewOllamaEmbedder creates an embedder for the configured endpoint and
// model. Zero-value config fields fall back to defaults.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	def := DefaultOllamaConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	// Pooled transport. Per-request deadlines come from context timeouts,
	// not a client-level timeout, so batch size does not race the clock.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	return &OllamaEmbedder{
		config: cfg,
		client: &http.Client{Transport: transport},
	}
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
// Empty texts map to zero vectors without being sent to the server.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("ollama embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type pending struct {
		idx  int
		text string
	}
	queue := make([]pending, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			queue = append(queue, pending{idx: i, text: t})
		}
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(queue); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.config.BatchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[start:end]

		input := make([]string, len(batch))
		for i, p := range batch {
			input[i] = p.text
		}
		embeddings, err := e.requestEmbeddings(ctx, input)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(embeddings), len(batch))
		}
		for i, vec := range embeddings {
			normalizeVector(vec)
			results[batch[i].idx] = vec
		}
	}

	dims := e.Dimensions()
	for i := range results {
		if results[i] == nil {
			results[i] = make([]float32, dims)
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) requestEmbeddings(ctx context.Context, input []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(parsed.Embeddings) > 0 && len(parsed.Embeddings[0]) > 0 {
		e.mu.Lock()
		if e.dimensions == 0 {
			e.dimensions = len(parsed.Embeddings[0])
		}
		e.mu.Unlock()
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the detected embedding size, or 0 before first use.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

// ModelName returns the configured model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the server responds and lists the configured
// model. Tag matching accepts an exact name or a base name ignoring the
// ":tag" suffix, so "nomic-embed-text" matches "nomic-embed-text:latest".
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, e.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	want := baseModelName(e.config.Model)
	for _, m := range tags.Models {
		if m.Name == e.config.Model || baseModelName(m.Name) == want {
			return true
		}
	}
	return false
}

func baseModelName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

// Close shuts down idle connections. The embedder is unusable afterwards.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.client.CloseIdleConnections()
	return nil
}

var _ Embedder = (*OllamaEmbedder)(nil)
