// Package statuscache memoizes working copy status between reads. Status is
// the most frequent and most expensive read operation; the cache makes
// repeated reads cheap while every mutating operation invalidates it
// explicitly. Staleness past an invalidation is a correctness bug, so the
// dirty flag always wins over a live TTL.
package statuscache

import (
	"sync"
	"time"

	"github.com/windvcs/wind/internal/worktree"
)

// DefaultTTL bounds how long a status result is served without rescanning
// even when nothing invalidated it. The working copy can change behind our
// back through plain filesystem writes.
const DefaultTTL = 2 * time.Second

// Cache is a single-value read-through cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	status  *worktree.Status
	fetched time.Time
	dirty   bool

	now func() time.Time // test hook
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, dirty: true, now: time.Now}
}

// Get returns the cached status, or calls fetch and caches its result when
// the entry is missing, expired or invalidated.
func (c *Cache) Get(fetch func() (*worktree.Status, error)) (*worktree.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty && c.status != nil && c.now().Sub(c.fetched) < c.ttl {
		return c.status, nil
	}
	status, err := fetch()
	if err != nil {
		return nil, err
	}
	c.status = status
	c.fetched = c.now()
	c.dirty = false
	return status, nil
}

// Invalidate drops the cached value. Every operation that mutates the
// working copy, the index or a branch head must call this.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}
