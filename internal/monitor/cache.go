package monitor

import (
	"sync"
	"time"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// stateCache caches FileStateInfo snapshots with a TTL and a capacity cap.
// When full, the entry stored longest ago is evicted. Guarded by its own
// mutex so the watcher goroutines can invalidate entries while callers probe.
type stateCache struct {
	ttl      time.Duration
	capacity int
	clock    safety.Clock

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	state    *model.FileStateInfo
	storedAt time.Time
}

func newStateCache(ttl time.Duration, capacity int, clock safety.Clock) *stateCache {
	return &stateCache{
		ttl:      ttl,
		capacity: capacity,
		clock:    clock,
		entries:  make(map[string]*cacheEntry),
	}
}

// get returns a cached state that has not outlived the TTL.
func (c *stateCache) get(path string) (*model.FileStateInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, path)
		return nil, false
	}
	return entry.state, true
}

// put stores a state, evicting the oldest entry when the cache is full.
func (c *stateCache) put(path string, state *model.FileStateInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[path]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[path] = &cacheEntry{state: state, storedAt: c.clock.Now()}
}

// invalidate drops the entry for a path, if any.
func (c *stateCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// size returns the number of cached entries.
func (c *stateCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *stateCache) evictOldestLocked() {
	var oldestPath string
	var oldestAt time.Time
	for path, entry := range c.entries {
		if oldestPath == "" || entry.storedAt.Before(oldestAt) {
			oldestPath = path
			oldestAt = entry.storedAt
		}
	}
	if oldestPath != "" {
		delete(c.entries, oldestPath)
	}
}
