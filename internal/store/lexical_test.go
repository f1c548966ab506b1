package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexical(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveLexicalIndex_SearchRanksRelevance(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	docs := []*Document{
		{ID: "kinase", Title: "Kinase inhibitor selectivity profiling",
			Abstract: "Kinase inhibitors were profiled against the human kinome."},
		{ID: "crispr", Title: "CRISPR base editing in hepatocytes",
			Abstract: "Base editors corrected the point mutation without double-strand breaks."},
		{ID: "folding", Title: "Protein folding kinetics",
			Abstract: "Folding intermediates observed by hydrogen exchange."},
	}
	require.NoError(t, idx.Index(ctx, docs))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	hits, err := idx.Search(ctx, "kinase inhibitor", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "kinase", hits[0].DocID)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.NotEmpty(t, hits[0].MatchedTerms)
}

func TestBleveLexicalIndex_MatchedTermsSorted(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Title: "Ubiquitin ligase recruitment by molecular glues",
			Abstract: "Molecular glue degraders recruit neosubstrates to the ligase."},
	}))

	hits, err := idx.Search(ctx, "molecular glue ligase degraders", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Greater(t, len(hits[0].MatchedTerms), 1)
	assert.IsIncreasing(t, hits[0].MatchedTerms,
		"matched terms come back in a stable sorted order")
}

func TestBleveLexicalIndex_TombstonesAreRemoved(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Title: "Proteasome inhibition", Abstract: "Bortezomib resistance mechanisms."},
	}))

	// Re-indexing the same document as a tombstone deletes it.
	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Title: "Proteasome inhibition", Tombstone: true},
	}))

	hits, err := idx.Search(ctx, "proteasome", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBleveLexicalIndex_Delete(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Title: "Autophagy in neurons", Abstract: "Lysosomal degradation pathways."},
		{ID: "b", Title: "Autophagy in glia", Abstract: "Glial clearance of aggregates."},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"a"}))

	hits, err := idx.Search(ctx, "autophagy", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].DocID)
}

func TestBleveLexicalIndex_EmptyQueryNoResults(t *testing.T) {
	idx := newTestLexical(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Document{
		{ID: "a", Title: "Membrane transport", Abstract: "ABC transporter structures.",
			PublishedAt: time.Now()},
	}))

	hits, err := idx.Search(ctx, "zzzzunmatched", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
