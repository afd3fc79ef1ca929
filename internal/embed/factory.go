package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Embedding modes. Mode "auto" probes Ollama once per resolution and falls
// back to the hash embedder when the server or model is unreachable.
const (
	ModeAuto   = "auto"
	ModeOllama = "ollama"
	ModeStatic = "static"
)

// Factory resolves embedders by mode and model, caching instances so the
// indexing and search paths share connections and embedding caches.
type Factory struct {
	endpoint string
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]Embedder
}

// NewFactory creates a factory that dials Ollama at the given endpoint.
// An empty endpoint uses the local default.
func NewFactory(endpoint string, logger *slog.Logger) *Factory {
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		endpoint: endpoint,
		logger:   logger,
		cache:    make(map[string]Embedder),
	}
}

// Resolve returns an embedder for the mode and model. Instances are cached
// by the resolved provider and model, so an "auto" resolution that settled
// on static shares the static instance with explicit "static" requests.
func (f *Factory) Resolve(ctx context.Context, mode, model string) (Embedder, error) {
	switch mode {
	case ModeOllama:
		return f.ollama(model), nil
	case ModeStatic:
		return f.static(), nil
	case ModeAuto, "":
		candidate := f.ollama(model)
		if candidate.Available(ctx) {
			return candidate, nil
		}
		f.logger.Warn("ollama unavailable, falling back to hash embeddings",
			"endpoint", f.endpoint,
			"model", model)
		return f.static(), nil
	default:
		return nil, fmt.Errorf("unknown embedding mode %q", mode)
	}
}

func (f *Factory) ollama(model string) Embedder {
	if model == "" {
		model = DefaultOllamaModel
	}
	key := ModeOllama + "/" + model
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.cache[key]; ok {
		return e
	}
	cfg := DefaultOllamaConfig()
	cfg.Endpoint = f.endpoint
	cfg.Model = model
	e := NewCachedEmbedder(NewOllamaEmbedder(cfg), DefaultEmbeddingCacheSize)
	f.cache[key] = e
	return e
}

func (f *Factory) static() Embedder {
	key := ModeStatic
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.cache[key]; ok {
		return e
	}
	e := NewCachedEmbedder(NewStaticEmbedder(), DefaultEmbeddingCacheSize)
	f.cache[key] = e
	return e
}

// Close closes every cached embedder. The factory can be reused; new
// resolutions create fresh instances.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for key, e := range f.cache {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close embedder %s: %w", key, err)
		}
		delete(f.cache, key)
	}
	return firstErr
}

// ForModel returns the embedder matching a model name recorded in an index
// artifact, so queries are embedded exactly as the indexed chunks were.
func (f *Factory) ForModel(model string) Embedder {
	if model == "" || model == StaticModelName {
		return f.static()
	}
	return f.ollama(model)
}
