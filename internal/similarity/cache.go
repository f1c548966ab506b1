package similarity

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/protlit/protlit/internal/store"
)

// Cache defaults.
const (
	// DefaultCacheSize bounds the number of cached neighbor lists.
	DefaultCacheSize = 512
	// DefaultCacheTTL expires entries even without ingestion activity.
	DefaultCacheTTL = 15 * time.Minute
)

// IndexProvider returns the index over the current snapshot generation.
// The engine calls it per query so a snapshot swap is picked up immediately.
type IndexProvider func() Index

// cacheEntry is a cached neighbor list with its validity envelope.
type cacheEntry struct {
	neighbors  []Neighbor
	generation uint64
	filter     store.Filter
	expiresAt  time.Time
}

// Engine answers nearest-neighbor queries through the LRU similarity cache.
// Hits are served only when computed against the current snapshot generation
// and within TTL; ingestion additionally invalidates scopes explicitly.
type Engine struct {
	provider IndexProvider
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithTTL overrides the default cache TTL.
func WithTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = ttl }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a similarity engine over the given index provider.
func NewEngine(provider IndexProvider, cacheSize int, opts ...EngineOption) *Engine {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, cacheEntry](cacheSize)
	e := &Engine{
		provider: provider,
		ttl:      DefaultCacheTTL,
		now:      time.Now,
		cache:    cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NearestNeighbors serves from cache when valid, otherwise delegates to the
// index and caches the answer.
func (e *Engine) NearestNeighbors(ctx context.Context, query []float32, k int, filter store.Filter) ([]Neighbor, error) {
	idx := e.provider()
	key := cacheKey(query, k, filter)

	e.mu.Lock()
	if entry, ok := e.cache.Get(key); ok {
		if entry.generation == idx.Generation() && e.now().Before(entry.expiresAt) {
			e.mu.Unlock()
			return entry.neighbors, nil
		}
		// Stale generation or expired: drop before recomputing.
		e.cache.Remove(key)
	}
	e.mu.Unlock()

	neighbors, err := idx.NearestNeighbors(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache.Add(key, cacheEntry{
		neighbors:  neighbors,
		generation: idx.Generation(),
		filter:     filter,
		expiresAt:  e.now().Add(e.ttl),
	})
	e.mu.Unlock()

	return neighbors, nil
}

// Invalidate drops every cached entry whose filter scope overlaps the given
// scope. Called by the ingestion pipeline after a snapshot swap.
func (e *Engine) Invalidate(scope store.Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var dropped int
	for _, key := range e.cache.Keys() {
		entry, ok := e.cache.Peek(key)
		if !ok {
			continue
		}
		if entry.filter.Overlaps(scope) {
			e.cache.Remove(key)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("similarity cache invalidated",
			slog.Int("entries", dropped),
			slog.String("scope", scope.Canonical()))
	}
}

// Purge drops every cached entry.
func (e *Engine) Purge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Purge()
}

// Len returns the number of cached entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// cacheKey hashes the query vector, k, and filter into a cache key.
func cacheKey(query []float32, k int, filter store.Filter) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, f := range query {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		_, _ = h.Write(buf)
	}
	binary.LittleEndian.PutUint32(buf, uint32(k))
	_, _ = h.Write(buf)
	_, _ = h.Write([]byte(filter.Canonical()))
	return hex.EncodeToString(h.Sum(nil))
}
