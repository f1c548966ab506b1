package similarity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/protlit/protlit/internal/errors"
	"github.com/protlit/protlit/internal/store"
)

func buildSnapshot(t *testing.T, generation uint64, vectors map[string][]float32) *store.EmbeddingSnapshot {
	t.Helper()
	b := store.NewSnapshotBuilder("hash-fnv-v1", 0)
	published := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for id, vec := range vectors {
		require.NoError(t, b.Add(id, vec, published, store.SourcePubMed))
	}
	return b.Build(generation)
}

func TestLinearIndex_NearestNeighbors(t *testing.T) {
	snap := buildSnapshot(t, 1, map[string][]float32{
		"aligned":    {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 0, 1},
	})
	idx := NewLinearIndex(snap)

	neighbors, err := idx.NearestNeighbors(context.Background(), []float32{1, 0, 0}, 2, store.Filter{})
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "aligned", neighbors[0].DocID)
	assert.InDelta(t, 1.0, neighbors[0].Similarity, 1e-6)
	assert.Equal(t, "close", neighbors[1].DocID)
	assert.Greater(t, neighbors[0].Similarity, neighbors[1].Similarity)
}

func TestLinearIndex_EmptySnapshot(t *testing.T) {
	idx := NewLinearIndex(buildSnapshot(t, 1, nil))

	neighbors, err := idx.NearestNeighbors(context.Background(), []float32{1, 0}, 5, store.Filter{})
	require.NoError(t, err, "empty store is not an error")
	assert.Empty(t, neighbors)
}

func TestLinearIndex_DimensionMismatch(t *testing.T) {
	idx := NewLinearIndex(buildSnapshot(t, 1, map[string][]float32{"a": {1, 0, 0}}))

	_, err := idx.NearestNeighbors(context.Background(), []float32{1, 0}, 5, store.Filter{})
	require.Error(t, err)
	ce := coreerr.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerr.ErrCodeDimensionMismatch, ce.Code)
}

func TestLinearIndex_FilterApplied(t *testing.T) {
	b := store.NewSnapshotBuilder("hash-fnv-v1", 0)
	require.NoError(t, b.Add("old", []float32{1, 0},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), store.SourcePubMed))
	require.NoError(t, b.Add("new", []float32{1, 0},
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), store.SourcePubMed))
	idx := NewLinearIndex(b.Build(1))

	neighbors, err := idx.NearestNeighbors(context.Background(), []float32{1, 0}, 10,
		store.Filter{From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "new", neighbors[0].DocID)
}

func TestLinearIndex_TieBreakByDocID(t *testing.T) {
	snap := buildSnapshot(t, 1, map[string][]float32{
		"beta":  {1, 0},
		"alpha": {1, 0},
	})
	idx := NewLinearIndex(snap)

	neighbors, err := idx.NearestNeighbors(context.Background(), []float32{1, 0}, 2, store.Filter{})
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "alpha", neighbors[0].DocID)
	assert.Equal(t, "beta", neighbors[1].DocID)
}

func TestHNSWIndex_AgreesOnTopNeighbor(t *testing.T) {
	snap := buildSnapshot(t, 1, map[string][]float32{
		"target": {1, 0, 0, 0},
		"near":   {0.8, 0.2, 0, 0},
		"far":    {0, 0, 1, 0},
		"other":  {0, 0, 0, 1},
	})
	idx, err := NewHNSWIndex(snap, DefaultHNSWConfig())
	require.NoError(t, err)

	neighbors, err := idx.NearestNeighbors(context.Background(), []float32{1, 0, 0, 0}, 2, store.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, neighbors)
	assert.Equal(t, "target", neighbors[0].DocID)
}

// flakyIndex serves a fixed neighbor list and counts calls.
type countingIndex struct {
	generation uint64
	calls      int
	neighbors  []Neighbor
}

func (f *countingIndex) NearestNeighbors(context.Context, []float32, int, store.Filter) ([]Neighbor, error) {
	f.calls++
	return f.neighbors, nil
}
func (f *countingIndex) Generation() uint64 { return f.generation }

func TestEngine_CacheHitSameGeneration(t *testing.T) {
	idx := &countingIndex{generation: 1, neighbors: []Neighbor{{DocID: "a", Similarity: 0.9}}}
	e := NewEngine(func() Index { return idx }, 8)
	ctx := context.Background()
	query := []float32{1, 0}

	_, err := e.NearestNeighbors(ctx, query, 5, store.Filter{})
	require.NoError(t, err)
	_, err = e.NearestNeighbors(ctx, query, 5, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.calls, "second call must hit the cache")

	// A different k is a different cache key.
	_, err = e.NearestNeighbors(ctx, query, 6, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls)
}

func TestEngine_GenerationChangeInvalidates(t *testing.T) {
	idx := &countingIndex{generation: 1, neighbors: []Neighbor{{DocID: "a", Similarity: 0.9}}}
	e := NewEngine(func() Index { return idx }, 8)
	ctx := context.Background()
	query := []float32{1, 0}

	_, err := e.NearestNeighbors(ctx, query, 5, store.Filter{})
	require.NoError(t, err)

	idx.generation = 2
	_, err = e.NearestNeighbors(ctx, query, 5, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls, "stale generation must recompute")
}

func TestEngine_TTLExpiry(t *testing.T) {
	idx := &countingIndex{generation: 1, neighbors: []Neighbor{{DocID: "a", Similarity: 0.9}}}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e := NewEngine(func() Index { return idx }, 8, WithTTL(15*time.Minute), WithClock(clock))
	ctx := context.Background()
	query := []float32{1, 0}

	_, err := e.NearestNeighbors(ctx, query, 5, store.Filter{})
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = e.NearestNeighbors(ctx, query, 5, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls, "expired entry must recompute")
}

func TestEngine_InvalidateByScope(t *testing.T) {
	idx := &countingIndex{generation: 1, neighbors: []Neighbor{{DocID: "a", Similarity: 0.9}}}
	e := NewEngine(func() Index { return idx }, 8)
	ctx := context.Background()

	jan := store.Filter{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	jun := store.Filter{
		From: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	_, err := e.NearestNeighbors(ctx, []float32{1, 0}, 5, jan)
	require.NoError(t, err)
	_, err = e.NearestNeighbors(ctx, []float32{1, 0}, 5, jun)
	require.NoError(t, err)
	require.Equal(t, 2, e.Len())

	e.Invalidate(jan)
	assert.Equal(t, 1, e.Len(), "only the overlapping scope is dropped")
}
