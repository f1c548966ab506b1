package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(vectors map[string][]float32) VectorLookup {
	return func(docID string) ([]float32, bool) {
		v, ok := vectors[docID]
		return v, ok
	}
}

func resultList(ids ...string) []*Result {
	out := make([]*Result, len(ids))
	for i, id := range ids {
		out[i] = &Result{DocID: id, Score: 1.0 - float64(i)*0.1, Rank: i + 1}
	}
	return out
}

func TestDiversify_DefersNearDuplicates(t *testing.T) {
	vectors := map[string][]float32{
		"original":  {1, 0, 0},
		"duplicate": {0.999, 0.01, 0},
		"distinct":  {0, 1, 0},
	}
	results := resultList("original", "duplicate", "distinct")

	out := diversify(results, lookupFrom(vectors), 0.92, 50)
	require.Len(t, out, 3)
	assert.Equal(t, "original", out[0].DocID)
	assert.Equal(t, "distinct", out[1].DocID, "near-duplicate is deferred, not dropped")
	assert.Equal(t, "duplicate", out[2].DocID)

	for i, r := range out {
		assert.Equal(t, i+1, r.Rank, "ranks are reassigned after re-ordering")
	}
}

func TestDiversify_VectorlessPassThrough(t *testing.T) {
	vectors := map[string][]float32{
		"a": {1, 0},
		"c": {1, 0},
	}
	results := resultList("a", "no-vector", "c")

	out := diversify(results, lookupFrom(vectors), 0.92, 50)
	require.Len(t, out, 3)
	assert.Equal(t, "no-vector", out[1].DocID,
		"candidates without vectors cannot be judged duplicates")
	assert.Equal(t, "c", out[2].DocID)
}

func TestDiversify_NoOpCases(t *testing.T) {
	results := resultList("a", "b", "c")

	same := diversify(results, nil, 0.92, 50)
	assert.Equal(t, results, same, "nil lookup leaves order unchanged")

	two := resultList("a", "b")
	assert.Equal(t, two, diversify(two, lookupFrom(nil), 0.92, 50),
		"fewer than three results never re-rank")
}

func TestDiversify_TailKeepsOrder(t *testing.T) {
	vectors := map[string][]float32{
		"a": {1, 0},
		"b": {0.99, 0.01},
		"c": {0, 1},
		"d": {0.98, 0.02},
	}
	results := resultList("a", "b", "c", "d")

	// Only the top two are in diversity scope; c and d keep fused order.
	out := diversify(results, lookupFrom(vectors), 0.92, 2)
	require.Len(t, out, 4)
	assert.Equal(t, "a", out[0].DocID)
	assert.Equal(t, "c", out[2].DocID)
	assert.Equal(t, "d", out[3].DocID)
}
