package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{}.Validate())
	assert.NoError(t, Filter{From: date(2026, 1, 1), To: date(2026, 6, 1)}.Validate())
	assert.NoError(t, Filter{Sources: []Source{SourceArxiv, SourceBiorxiv}}.Validate())

	assert.Error(t, Filter{From: date(2026, 6, 1), To: date(2026, 1, 1)}.Validate(),
		"inverted range must be rejected")
	assert.Error(t, Filter{Sources: []Source{"scholar"}}.Validate(),
		"unknown source must be rejected")
}

func TestFilter_MatchesDocument(t *testing.T) {
	f := Filter{From: date(2026, 1, 1), To: date(2026, 12, 31), Sources: []Source{SourcePubMed}}

	doc := &Document{ID: "a", Source: SourcePubMed, PublishedAt: date(2026, 5, 1)}
	assert.True(t, f.MatchesDocument(doc))

	tooOld := &Document{ID: "b", Source: SourcePubMed, PublishedAt: date(2025, 5, 1)}
	assert.False(t, f.MatchesDocument(tooOld))

	wrongSource := &Document{ID: "c", Source: SourceArxiv, PublishedAt: date(2026, 5, 1)}
	assert.False(t, f.MatchesDocument(wrongSource))

	tombstoned := &Document{ID: "d", Source: SourcePubMed, PublishedAt: date(2026, 5, 1), Tombstone: true}
	assert.False(t, f.MatchesDocument(tombstoned), "tombstones never match any filter")
}

func TestFilter_Overlaps(t *testing.T) {
	jan := Filter{From: date(2026, 1, 1), To: date(2026, 1, 31)}
	feb := Filter{From: date(2026, 2, 1), To: date(2026, 2, 28)}
	wide := Filter{From: date(2026, 1, 15), To: date(2026, 2, 15)}

	assert.False(t, jan.Overlaps(feb))
	assert.True(t, jan.Overlaps(wide))
	assert.True(t, feb.Overlaps(wide))
	assert.True(t, Filter{}.Overlaps(jan), "unbounded scope overlaps everything")

	// Source ranges only disjoint when both sides name sources with no
	// common member.
	pubmed := Filter{Sources: []Source{SourcePubMed}}
	arxiv := Filter{Sources: []Source{SourceArxiv}}
	both := Filter{Sources: []Source{SourcePubMed, SourceArxiv}}
	assert.False(t, pubmed.Overlaps(arxiv))
	assert.True(t, pubmed.Overlaps(both))
	assert.True(t, pubmed.Overlaps(Filter{}))
}

func TestFilter_CanonicalIsOrderIndependent(t *testing.T) {
	a := Filter{Sources: []Source{SourcePubMed, SourceArxiv}, From: date(2026, 1, 1)}
	b := Filter{Sources: []Source{SourceArxiv, SourcePubMed}, From: date(2026, 1, 1)}
	require.Equal(t, a.Canonical(), b.Canonical())

	c := Filter{Sources: []Source{SourceArxiv}, From: date(2026, 1, 1)}
	assert.NotEqual(t, a.Canonical(), c.Canonical())
}

func TestSnapshotBuilder(t *testing.T) {
	b := NewSnapshotBuilder("hash-fnv-v1", 3)
	require.NoError(t, b.Add("a", []float32{1, 0, 0}, date(2026, 1, 2), SourcePubMed))
	require.NoError(t, b.Add("b", []float32{0, 1, 0}, date(2026, 1, 3), SourceArxiv))

	// Same ID again overwrites in place.
	require.NoError(t, b.Add("a", []float32{0, 0, 1}, date(2026, 1, 4), SourcePubMed))

	err := b.Add("c", []float32{1, 2}, date(2026, 1, 5), SourcePubMed)
	require.Error(t, err, "mismatched dimension must be rejected")

	snap := b.Build(3)
	assert.Equal(t, uint64(3), snap.Generation)
	assert.Equal(t, 2, snap.Len())

	v, ok := snap.VectorByID("a")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 0, 1}, v)
	assert.True(t, snap.Meta(0).PublishedAt.Equal(date(2026, 1, 4)))

	_, ok = snap.VectorByID("ghost")
	assert.False(t, ok)
}

func TestSnapshotHolder_Swap(t *testing.T) {
	h := NewSnapshotHolder("hash-fnv-v1", 3)
	assert.Equal(t, uint64(0), h.Load().Generation)
	assert.Equal(t, 0, h.Load().Len())

	b := NewSnapshotBuilder("hash-fnv-v1", 3)
	require.NoError(t, b.Add("a", []float32{1, 0, 0}, date(2026, 1, 2), SourcePubMed))
	old := h.Swap(b.Build(1))

	assert.Equal(t, uint64(0), old.Generation)
	assert.Equal(t, uint64(1), h.Load().Generation)
	assert.Equal(t, 1, h.Load().Len())
}
