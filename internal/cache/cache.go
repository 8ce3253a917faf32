// Package cache is the process-local LRU cache of resolved addresses.
package cache

import (
	"iter"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geolookup/internal/model"
)

type entry struct {
	record     model.AddressRecord
	insertedAt time.Time
}

// Cache is a size-bounded LRU with a cache-wide TTL. It is safe for
// concurrent use; size and recency change together under one lock.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[model.Key, entry]
	ttl time.Duration
	now func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache holding at most maxEntries records. A zero ttl keeps
// entries until they are evicted.
func New(maxEntries int, ttl time.Duration, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, eris.Errorf("cache: max entries must be positive, got %d", maxEntries)
	}
	if ttl < 0 {
		return nil, eris.Errorf("cache: negative ttl %s", ttl)
	}
	lru, err := simplelru.NewLRU[model.Key, entry](maxEntries, nil)
	if err != nil {
		return nil, eris.Wrap(err, "cache: create lru")
	}
	c := &Cache{lru: lru, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get returns the live record for key and marks it most recently used.
// An expired entry is removed and reported as a miss.
func (c *Cache) Get(key model.Key) (model.AddressRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return model.AddressRecord{}, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		return model.AddressRecord{}, false
	}
	return e.record.Clone(), true
}

// Put inserts or replaces the record for key, evicting the least recently
// used entry when full.
func (c *Cache) Put(key model.Key, rec model.AddressRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{record: rec.Clone(), insertedAt: c.now()})
}

// Delete drops key if present.
func (c *Cache) Delete(key model.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of entries, including expired ones not yet removed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Candidates yields a snapshot of live entries, oldest first, without
// changing recency. The snapshot is taken when iteration starts.
func (c *Cache) Candidates() iter.Seq2[model.Key, model.AddressRecord] {
	return func(yield func(model.Key, model.AddressRecord) bool) {
		type kv struct {
			key model.Key
			rec model.AddressRecord
		}

		c.mu.Lock()
		live := make([]kv, 0, c.lru.Len())
		for _, k := range c.lru.Keys() {
			if e, ok := c.lru.Peek(k); ok && !c.expired(e) {
				live = append(live, kv{k, e.record.Clone()})
			}
		}
		c.mu.Unlock()

		for _, item := range live {
			if !yield(item.key, item.rec) {
				return
			}
		}
	}
}

func (c *Cache) expired(e entry) bool {
	return c.ttl > 0 && c.now().Sub(e.insertedAt) >= c.ttl
}
