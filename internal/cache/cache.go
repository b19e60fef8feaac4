package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// entry is one cached resolution. An empty value is a real entry: it records
// that resolution was attempted and came up empty, so we don't retry it.
type entry struct {
	value      string
	deleteHash string
}

// ResultCache is a bounded key->value store with insertion-order eviction.
// When an evicted entry carries a deletion handle, the injected deleter is
// invoked for it so the remote side can clean up the orphaned resource.
//
// Resolver goroutines running inside one publish touch the cache
// concurrently, hence the mutex. Mutation is append/evict only.
type ResultCache struct {
	logger  *zap.Logger
	deleter domain.Deleter // nil when entries never carry handles
	max     int

	mu      sync.Mutex
	entries map[string]entry
	order   []string // insertion order, oldest first
}

// New creates a cache holding at most max entries
func New(logger *zap.Logger, max int, deleter domain.Deleter) *ResultCache {
	return &ResultCache{
		logger:  logger,
		deleter: deleter,
		max:     max,
		entries: make(map[string]entry, max),
	}
}

// Get returns the cached value for key, if present
func (c *ResultCache) Get(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return e.value, ok
}

// Put stores value under key, overwriting any prior binding. The key takes a
// fresh insertion-order position either way. If the insertion pushes the
// cache past its bound, the oldest key is evicted and, when its entry holds
// a deletion handle, a best-effort remote delete is issued for it.
func (c *ResultCache) Put(ctx context.Context, key, value, deleteHash string) {
	if key == "" {
		return
	}

	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.removeFromOrder(key)
	}
	c.entries[key] = entry{value: value, deleteHash: deleteHash}
	c.order = append(c.order, key)

	var evicted []entry
	for len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		evicted = append(evicted, c.entries[oldest])
		delete(c.entries, oldest)
		c.logger.Debug("Cache entry evicted", zap.String("key", oldest))
	}
	c.mu.Unlock()

	// Remote deletes run outside the lock so a slow host cannot stall
	// concurrent resolutions. A failed delete leaves a dangling remote
	// resource, which is acceptable; a growing cache is not.
	for _, e := range evicted {
		if e.deleteHash == "" || c.deleter == nil {
			continue
		}
		if err := c.deleter.Delete(ctx, e.deleteHash); err != nil {
			c.logger.Warn("Failed to delete evicted upload",
				zap.String("deleteHash", e.deleteHash),
				zap.Error(err))
		}
	}
}

// Len returns the number of cached keys
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
