package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodestone/internal/store"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	indexes []string
}

func (r *recordingInvalidator) Invalidate(index string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexes = append(r.indexes, index)
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.indexes...)
}

func writeArtifact(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, store.ANNArtifactName), []byte("graph"), 0o644))
}

func startWatcher(t *testing.T, root string) (*ArtifactWatcher, *recordingInvalidator) {
	t.Helper()
	inv := &recordingInvalidator{}
	w, err := New(root, inv, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(w.Stop)
	return w, inv
}

func TestArtifactWriteInvalidates(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))

	_, inv := startWatcher(t, root)
	writeArtifact(t, filepath.Join(root, "docs"))

	require.Eventually(t, func() bool {
		return len(inv.seen()) > 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, inv.seen(), "docs")
}

func TestNewIndexDirectoryPickedUp(t *testing.T) {
	root := t.TempDir()
	_, inv := startWatcher(t, root)

	// Index created after the watcher started.
	dir := filepath.Join(root, "late")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Give the root watch a moment to register the new directory.
	time.Sleep(300 * time.Millisecond)
	writeArtifact(t, dir)

	require.Eventually(t, func() bool {
		for _, index := range inv.seen() {
			if index == "late" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNonArtifactWritesIgnored(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, inv := startWatcher(t, root)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{}"), 0o644))

	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, inv.seen())
}

func TestDebouncerCoalesces(t *testing.T) {
	d := newDebouncer(50 * time.Millisecond)
	defer d.stop()

	d.add("a")
	d.add("a")
	d.add("b")

	select {
	case batch := <-d.output:
		assert.ElementsMatch(t, []string{"a", "b"}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w, _ := startWatcher(t, root)
	w.Stop()
	w.Stop()
}
