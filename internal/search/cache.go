package search

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/protlit/protlit/internal/store"
)

// Result cache defaults.
const (
	// DefaultResultCacheShards spreads fingerprints across locks so
	// concurrent queries do not contend.
	DefaultResultCacheShards = 16
	// DefaultResultCachePerShard bounds entries per shard.
	DefaultResultCachePerShard = 256
	// DefaultResultCacheTTL expires entries without ingestion activity.
	DefaultResultCacheTTL = 15 * time.Minute
	// maxDirtyScopes bounds the dirty list; beyond it the cache is purged
	// wholesale rather than scanned per lookup.
	maxDirtyScopes = 256
)

// cacheRecord is one retrieval's cached state: the raw per-path scores plus
// every final ranking fused from them so far, keyed by weight profile.
type cacheRecord struct {
	filter    store.Filter
	paths     *pathScores
	rankings  map[string][]*Result
	dirtySeq  uint64
	expiresAt time.Time
}

type cacheShard struct {
	mu      sync.RWMutex
	entries *lru.Cache[string, *cacheRecord]
}

// ResultCache caches final rankings and per-path raw scores keyed by query
// fingerprint. Invalidation is lazy: ingestion marks affected filter scopes
// dirty, and a lookup checks dirtiness before serving a hit rather than
// scanning all entries on every ingestion event.
type ResultCache struct {
	ttl    time.Duration
	now    func() time.Time
	shards []*cacheShard

	dirtyMu  sync.RWMutex
	dirtySeq uint64
	dirty    []dirtyScope
}

type dirtyScope struct {
	seq   uint64
	scope store.Filter
}

// ResultCacheOption configures the cache.
type ResultCacheOption func(*ResultCache)

// WithResultTTL overrides the default TTL.
func WithResultTTL(ttl time.Duration) ResultCacheOption {
	return func(c *ResultCache) { c.ttl = ttl }
}

// WithResultClock overrides the time source for tests.
func WithResultClock(now func() time.Time) ResultCacheOption {
	return func(c *ResultCache) { c.now = now }
}

// NewResultCache creates a sharded result cache.
func NewResultCache(perShard int, opts ...ResultCacheOption) *ResultCache {
	if perShard <= 0 {
		perShard = DefaultResultCachePerShard
	}
	c := &ResultCache{
		ttl:    DefaultResultCacheTTL,
		now:    time.Now,
		shards: make([]*cacheShard, DefaultResultCacheShards),
	}
	for i := range c.shards {
		entries, _ := lru.New[string, *cacheRecord](perShard)
		c.shards[i] = &cacheShard{entries: entries}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResultCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Lookup returns the cached ranking for (retrieval key, weights key) when
// present, or the cached path scores alone when only a different weight
// profile has been fused so far. Dirty or expired entries are evicted and
// miss.
func (c *ResultCache) Lookup(rk, wk string) (results []*Result, paths *pathScores, ok bool) {
	s := c.shard(rk)

	s.mu.RLock()
	rec, found := s.entries.Get(rk)
	if !found {
		s.mu.RUnlock()
		return nil, nil, false
	}
	if c.now().After(rec.expiresAt) || c.isDirty(rec) {
		s.mu.RUnlock()
		s.mu.Lock()
		s.entries.Remove(rk)
		s.mu.Unlock()
		return nil, nil, false
	}
	// The rankings read must stay under the shard lock: StoreRanking
	// writes this map under the same lock from concurrent queries.
	ranking, have := rec.rankings[wk]
	paths = rec.paths
	s.mu.RUnlock()

	if have {
		return ranking, paths, true
	}
	return nil, paths, true
}

// DirtySeq returns the current dirty sequence. Callers snapshot it before
// retrieval starts and hand it to StorePaths, so an ingestion that lands
// while the retrieval is in flight still invalidates the entry.
func (c *ResultCache) DirtySeq() uint64 {
	c.dirtyMu.RLock()
	defer c.dirtyMu.RUnlock()
	return c.dirtySeq
}

// StorePaths creates (or refreshes) the retrieval entry for rk. dirtySeq
// must be the DirtySeq observed before the retrieval producing paths began;
// dirty marks after that point evict the entry on its next lookup.
func (c *ResultCache) StorePaths(rk string, filter store.Filter, paths *pathScores, dirtySeq uint64) {
	rec := &cacheRecord{
		filter:    filter,
		paths:     paths,
		rankings:  make(map[string][]*Result),
		dirtySeq:  dirtySeq,
		expiresAt: c.now().Add(c.ttl),
	}

	s := c.shard(rk)
	s.mu.Lock()
	s.entries.Add(rk, rec)
	s.mu.Unlock()
}

// StoreRanking attaches a fused ranking to an existing retrieval entry.
// A no-op when the entry has been evicted meanwhile.
func (c *ResultCache) StoreRanking(rk, wk string, results []*Result) {
	s := c.shard(rk)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, found := s.entries.Get(rk); found {
		rec.rankings[wk] = results
	}
}

// MarkDirty records that ingestion changed documents within scope.
// Entries overlapping the scope die lazily on their next lookup. When the
// dirty list outgrows its bound the whole cache is purged instead, trading
// hit rate for bounded lookup cost.
func (c *ResultCache) MarkDirty(scope store.Filter) {
	c.dirtyMu.Lock()
	c.dirtySeq++
	c.dirty = append(c.dirty, dirtyScope{seq: c.dirtySeq, scope: scope})
	overflow := len(c.dirty) > maxDirtyScopes
	if overflow {
		c.dirty = c.dirty[:0]
	}
	c.dirtyMu.Unlock()

	if overflow {
		slog.Debug("result cache dirty list overflow, purging")
		c.Purge()
	}
}

// isDirty reports whether any scope marked after the record was created
// overlaps the record's filter.
func (c *ResultCache) isDirty(rec *cacheRecord) bool {
	c.dirtyMu.RLock()
	defer c.dirtyMu.RUnlock()

	for i := len(c.dirty) - 1; i >= 0; i-- {
		d := c.dirty[i]
		if d.seq <= rec.dirtySeq {
			break
		}
		if d.scope.Overlaps(rec.filter) {
			return true
		}
	}
	return false
}

// Invalidate eagerly removes entries overlapping scope.
// This is the administrative call; normal ingestion uses MarkDirty.
func (c *ResultCache) Invalidate(scope store.Filter) int {
	var removed int
	for _, s := range c.shards {
		s.mu.Lock()
		for _, key := range s.entries.Keys() {
			if rec, ok := s.entries.Peek(key); ok && rec.filter.Overlaps(scope) {
				s.entries.Remove(key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Purge drops every cached entry.
func (c *ResultCache) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries.Purge()
		s.mu.Unlock()
	}
}

// Len returns the total number of cached retrieval entries.
func (c *ResultCache) Len() int {
	var n int
	for _, s := range c.shards {
		s.mu.RLock()
		n += s.entries.Len()
		s.mu.RUnlock()
	}
	return n
}
