package asset

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Coordinator serialises work on string keys within one process.
//
// Each key maps to a reference-counted entry. The count covers holders and
// waiters and is only changed under mu, the same lock that removes entries, so
// an entry can never be reclaimed while someone still holds a pointer to it.
// This is process-local only; the metadata store's unique index is the
// durable backstop across instances.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Lock is a held coordinator key.
type Lock struct {
	c        *Coordinator
	key      string
	entry    *lockEntry
	released bool
	mu       sync.Mutex
}

// NewCoordinator builds an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{entries: make(map[string]*lockEntry)}
}

// DedupKey is the coordinator key for content within a project.
func DedupKey(projectID, contentHash string) string {
	return "dedup:" + projectID + ":" + contentHash
}

// AssetKey is the coordinator key for per-asset work such as generation.
func AssetKey(id uuid.UUID) string {
	return "asset:" + id.String()
}

// Acquire blocks until the caller holds key exclusively or ctx is done.
func (c *Coordinator) Acquire(ctx context.Context, key string) (*Lock, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		c.entries[key] = entry
	}
	entry.refs++
	c.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
		return &Lock{c: c, key: key, entry: entry}, nil
	case <-ctx.Done():
		c.unref(key, entry)
		return nil, ctx.Err()
	}
}

// Release frees the key. Calling it more than once is a no-op.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	<-l.entry.sem
	l.c.unref(l.key, l.entry)
}

// Len reports how many keys currently have holders or waiters.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Coordinator) unref(key string, entry *lockEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && c.entries[key] == entry {
		delete(c.entries, key)
	}
}
