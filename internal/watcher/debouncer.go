package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces rapid artifact events per index. A rebuild writes the
// artifact through a temp file and a rename, which surfaces as several
// fsnotify events in quick succession; one invalidation per window is
// enough.
type debouncer struct {
	window  time.Duration
	output  chan []string
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		output:  make(chan []string, 16),
		pending: make(map[string]struct{}),
	}
}

// add records an event for an index and (re)arms the flush timer.
func (d *debouncer) add(index string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[index] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]string, 0, len(d.pending))
	for index := range d.pending {
		batch = append(batch, index)
	}
	d.pending = make(map[string]struct{})

	select {
	case d.output <- batch:
	default:
		// Full buffer means the consumer is gone or stuck; dropping is
		// safe, invalidation is best-effort.
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
