// Package cache holds fetched media. ResourceCache owns full resources until a
// playback session takes them; PreviewCache keeps lightweight preview images.
package cache

import (
	"log/slog"
	"sync"

	"github.com/jmylchreest/feedreel/internal/media"
	"github.com/jmylchreest/feedreel/internal/models"
)

// DefaultResourceCapacity is the advisory bound on held resources.
const DefaultResourceCapacity = 24

// ResourceCache maps item ids to ready resources. All mutations run on a
// single goroutine that owns the table. Entries are moved in and out: Take
// removes the entry so a resource is never handed to two consumers, and there
// is no implicit eviction. Callers drop ids explicitly when they leave scope.
type ResourceCache struct {
	capacity int
	logger   *slog.Logger

	cmds      chan func(entries map[models.ItemID]*media.Resource)
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

// NewResourceCache creates a cache and starts its owner goroutine.
func NewResourceCache(capacity int, logger *slog.Logger) *ResourceCache {
	if capacity <= 0 {
		capacity = DefaultResourceCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResourceCache{
		capacity: capacity,
		logger:   logger.With(slog.String("component", "resource_cache")),
		cmds:     make(chan func(map[models.ItemID]*media.Resource)),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *ResourceCache) run() {
	defer close(c.stopped)
	entries := make(map[models.ItemID]*media.Resource)
	for {
		select {
		case cmd := <-c.cmds:
			cmd(entries)
			resourceCacheEntries.Set(float64(len(entries)))
		case <-c.done:
			for id, res := range entries {
				_ = res.Close()
				delete(entries, id)
			}
			resourceCacheEntries.Set(0)
			return
		}
	}
}

// exec runs fn on the owner goroutine and waits for it. It reports false when
// the cache has been closed.
func (c *ResourceCache) exec(fn func(map[models.ItemID]*media.Resource)) bool {
	finished := make(chan struct{})
	select {
	case c.cmds <- func(m map[models.ItemID]*media.Resource) {
		fn(m)
		close(finished)
	}:
		<-finished
		return true
	case <-c.done:
		return false
	}
}

// Put stores res under id. A resource already held for id is closed and
// replaced. Inserting past capacity is accepted and logged.
func (c *ResourceCache) Put(id models.ItemID, res *media.Resource) {
	if res == nil {
		return
	}
	ok := c.exec(func(entries map[models.ItemID]*media.Resource) {
		if old, exists := entries[id]; exists && old != res {
			_ = old.Close()
			resourceCacheOps.WithLabelValues("put", "replaced").Inc()
		} else {
			resourceCacheOps.WithLabelValues("put", "stored").Inc()
		}
		entries[id] = res
		if len(entries) > c.capacity {
			c.logger.Warn("resource cache over capacity",
				slog.String("item_id", string(id)),
				slog.Int("entries", len(entries)),
				slog.Int("capacity", c.capacity),
			)
		}
	})
	if !ok {
		_ = res.Close()
	}
}

// Take removes and returns the resource for id, or nil.
func (c *ResourceCache) Take(id models.ItemID) *media.Resource {
	var res *media.Resource
	c.exec(func(entries map[models.ItemID]*media.Resource) {
		res = entries[id]
		if res == nil {
			resourceCacheOps.WithLabelValues("take", "miss").Inc()
			return
		}
		delete(entries, id)
		resourceCacheOps.WithLabelValues("take", "hit").Inc()
	})
	return res
}

// Drop closes and removes the resources for ids, returning how many were held.
func (c *ResourceCache) Drop(ids ...models.ItemID) int {
	dropped := 0
	c.exec(func(entries map[models.ItemID]*media.Resource) {
		for _, id := range ids {
			if res, ok := entries[id]; ok {
				_ = res.Close()
				delete(entries, id)
				dropped++
			}
		}
	})
	if dropped > 0 {
		resourceCacheOps.WithLabelValues("drop", "removed").Add(float64(dropped))
		c.logger.Debug("dropped resources", slog.Int("count", dropped))
	}
	return dropped
}

// Contains reports whether a resource is held for id.
func (c *ResourceCache) Contains(id models.ItemID) bool {
	var ok bool
	c.exec(func(entries map[models.ItemID]*media.Resource) {
		_, ok = entries[id]
	})
	return ok
}

// Len returns the number of held resources.
func (c *ResourceCache) Len() int {
	n := 0
	c.exec(func(entries map[models.ItemID]*media.Resource) {
		n = len(entries)
	})
	return n
}

// Capacity returns the advisory bound.
func (c *ResourceCache) Capacity() int {
	return c.capacity
}

// Keys returns the ids currently held, in no particular order.
func (c *ResourceCache) Keys() []models.ItemID {
	var keys []models.ItemID
	c.exec(func(entries map[models.ItemID]*media.Resource) {
		keys = make([]models.ItemID, 0, len(entries))
		for id := range entries {
			keys = append(keys, id)
		}
	})
	return keys
}

// Close releases every held resource and stops the owner goroutine.
// Later calls are no-ops and later Puts close the resource they are given.
func (c *ResourceCache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.stopped
	})
}
