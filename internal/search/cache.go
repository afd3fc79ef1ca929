package search

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"lodestone/internal/ann"
)

// searcherCache holds opened ANN searchers keyed by index name. Opening a
// searcher imports the whole graph, so hits are worth real money; the LRU
// bound keeps a process serving many tenants from pinning every graph at
// once. Double-checked locking makes concurrent openers of the same index
// share one searcher instead of racing.
type searcherCache struct {
	mu        sync.Mutex
	searchers *lru.Cache[string, ann.Searcher]
	open      func(index string) (ann.Searcher, error)
	logger    *slog.Logger
}

func newSearcherCache(size int, open func(index string) (ann.Searcher, error), logger *slog.Logger) *searcherCache {
	cache, _ := lru.NewWithEvict[string, ann.Searcher](size, func(index string, s ann.Searcher) {
		s.Close()
	})
	return &searcherCache{searchers: cache, open: open, logger: logger}
}

// get returns a cached or freshly opened searcher. A nil searcher with a
// nil error means "no artifact"; the caller takes the fallback path.
func (c *searcherCache) get(index string) ann.Searcher {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.searchers.Get(index); ok {
		return s
	}
	s, err := c.open(index)
	if err != nil {
		// Missing or unreadable artifacts are "no searcher", never an
		// error; the brute-force fallback serves the query.
		c.logger.Debug("no ann searcher available", "index", index, "error", err)
		return nil
	}
	c.searchers.Add(index, s)
	return s
}

// Invalidate drops and closes the cached searcher for an index. Called on
// rebuild, on delete, and by the artifact watcher.
func (c *searcherCache) Invalidate(index string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchers.Remove(index)
}
