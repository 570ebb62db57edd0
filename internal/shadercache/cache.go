// Package shadercache is the device-level cache of generated shader parts:
// vertex prologs, fragment epilogs and metadata kernels.
//
// Command buffers on many goroutines look parts up concurrently, so the
// cache is split into independently locked shards, each with its own LRU
// list. The only way to populate it is GetOrBuild, which guarantees a part
// is built at most once per residency in the cache.
package shadercache

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

const (
	// ShardCount is the number of shards. It must be a power of two.
	ShardCount = 16

	// DefaultCapacity is the per-shard capacity used when none is given.
	DefaultCapacity = 64

	shardMask = ShardCount - 1
)

// Hasher selects a shard for a key.
type Hasher[K any] func(K) uint64

// HashBytes returns the FNV-1a hash of b.
func HashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// StringHasher hashes string keys.
func StringHasher(s string) uint64 { return HashBytes([]byte(s)) }

// Uint64Hasher uses a key that is already a hash as-is.
func Uint64Hasher(u uint64) uint64 { return u }

// Stats is a snapshot of cache counters.
type Stats struct {
	Len           int
	Capacity      int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	BuildFailures uint64
	HitRate       float64
}

// Cache is a sharded LRU keyed by K. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	shards   [ShardCount]shard[K, V]
	hasher   Hasher[K]
	capacity int
	onEvict  func(K, V)

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	failures  atomic.Uint64

	logger atomic.Pointer[slog.Logger]
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	lru     recency[K, V]
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvict installs a callback run, with the shard locked, for every
// entry evicted or cleared. Parts that own GPU memory release it here.
func WithEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// New creates a cache holding up to capacity entries per shard. A
// non-positive capacity selects DefaultCapacity.
func New[K comparable, V any](capacity int, hasher Hasher[K], opts ...Option[K, V]) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[K, V]{hasher: hasher, capacity: capacity}
	for i := range c.shards {
		c.shards[i].entries = make(map[K]*entry[K, V])
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the logger for build failures and evictions. Nil
// disables logging.
func (c *Cache[K, V]) SetLogger(l *slog.Logger) {
	c.logger.Store(l)
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return &c.shards[c.hasher(key)&shardMask]
}

// Get returns the cached value for key without building it.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.lru.touch(e)
		c.hits.Add(1)
		return e.value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// GetOrBuild returns the cached value for key, building and inserting it
// on a miss. build runs with the shard locked, so concurrent callers for
// the same key wait for the first build instead of repeating it. A failed
// build is not cached.
func (c *Cache[K, V]) GetOrBuild(key K, build func() (V, error)) (V, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.lru.touch(e)
		c.hits.Add(1)
		return e.value, nil
	}
	c.misses.Add(1)

	v, err := build()
	if err != nil {
		c.failures.Add(1)
		if l := c.logger.Load(); l != nil {
			l.Warn("shadercache: build failed", slog.Any("key", key), slog.Any("err", err))
		}
		var zero V
		return zero, errors.Wrap(err, "shadercache: building part")
	}

	for s.lru.len() >= c.capacity {
		old, ok := s.lru.popBack()
		if !ok {
			break
		}
		delete(s.entries, old.key)
		c.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict(old.key, old.value)
		}
		if l := c.logger.Load(); l != nil && l.Enabled(context.Background(), slog.LevelDebug) {
			l.Debug("shadercache: evicted", slog.Any("key", old.key))
		}
	}

	e := &entry[K, V]{key: key, value: v}
	s.lru.pushFront(e)
	s.entries[key] = e
	return v, nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Clear drops every entry, running the eviction callback for each.
func (c *Cache[K, V]) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		if c.onEvict != nil {
			for k, e := range s.entries {
				c.onEvict(k, e.value)
			}
		}
		s.entries = make(map[K]*entry[K, V])
		s.lru.clear()
		s.mu.Unlock()
	}
}

// Stats returns the current counters.
func (c *Cache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	st := Stats{
		Len:           c.Len(),
		Capacity:      c.capacity * ShardCount,
		Hits:          hits,
		Misses:        misses,
		Evictions:     c.evictions.Load(),
		BuildFailures: c.failures.Load(),
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
