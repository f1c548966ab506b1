package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/protlit/protlit/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "protlit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(id string, published time.Time) *Document {
	return &Document{
		ID:          id,
		Title:       "CRISPR-Cas9 off-target analysis " + id,
		Abstract:    "We characterize off-target cleavage of Cas9 nucleases.",
		Authors:     []string{"Chen, L.", "Okafor, A."},
		Journal:     "Nature Methods",
		PublishedAt: published,
		Source:      SourcePubMed,
		DOI:         "10.1000/" + id,
		Entities: []EntityMention{
			{DocID: id, Text: "cas9", Type: EntityProtein, Confidence: 0.98, Start: 0, End: 4},
		},
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	published := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	doc := testDoc("pmid-1", published)
	require.NoError(t, s.UpsertDocuments(ctx, []*Document{doc}))

	got, err := s.GetDocument(ctx, "pmid-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Abstract, got.Abstract)
	assert.Equal(t, doc.Authors, got.Authors)
	assert.Equal(t, SourcePubMed, got.Source)
	assert.True(t, got.PublishedAt.Equal(published))
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "cas9", got.Entities[0].Text)
	assert.Equal(t, EntityProtein, got.Entities[0].Type)
}

func TestSQLiteStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	published := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	doc := testDoc("pmid-1", published)
	require.NoError(t, s.UpsertDocuments(ctx, []*Document{doc}))

	// Re-ingest the same ID with a new title and different entities.
	updated := testDoc("pmid-1", published)
	updated.Title = "Revised title"
	updated.Entities = []EntityMention{
		{DocID: "pmid-1", Text: "spcas9", Type: EntityProtein, Confidence: 0.9},
		{DocID: "pmid-1", Text: "crispr", Type: EntityMethod, Confidence: 0.95},
	}
	require.NoError(t, s.UpsertDocuments(ctx, []*Document{updated}))

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1, "upsert must overwrite, never duplicate")
	assert.Equal(t, "Revised title", docs[0].Title)
	assert.Len(t, docs[0].Entities, 2, "entities are replaced wholesale")
}

func TestSQLiteStore_GetDocument_Missing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), "absent")
	require.Error(t, err)
	ce := coreerr.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerr.ErrCodeDocumentMissing, ce.Code)
}

func TestSQLiteStore_GetDocuments_SkipsUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocuments(ctx, []*Document{
		testDoc("a", time.Now()),
		testDoc("b", time.Now()),
	}))

	docs, err := s.GetDocuments(ctx, []string{"a", "ghost", "b"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestSQLiteStore_Tombstone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocuments(ctx, []*Document{testDoc("a", time.Now())}))
	require.NoError(t, s.TombstoneDocument(ctx, "a"))

	// Tombstoned documents disappear from listings but stay fetchable.
	live, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	got, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Tombstone)

	// Re-ingesting the same ID revives it.
	require.NoError(t, s.UpsertDocuments(ctx, []*Document{testDoc("a", time.Now())}))
	live, err = s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, live, 1)
	assert.False(t, live[0].Tombstone)
}

func TestSQLiteStore_SetEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocuments(ctx, []*Document{testDoc("a", time.Now())}))

	vec := []float32{0.1, -0.5, 0.25}
	require.NoError(t, s.SetEmbedding(ctx, "a", vec, "hash-fnv-v1"))

	got, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)
	assert.Equal(t, "hash-fnv-v1", got.EmbeddingModel)
}

func TestSQLiteStore_State(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyGeneration)
	require.NoError(t, err)
	assert.Empty(t, v, "missing keys read as empty")

	require.NoError(t, s.SetState(ctx, StateKeyGeneration, "7"))
	require.NoError(t, s.SetState(ctx, StateKeyGeneration, "8"))

	v, err = s.GetState(ctx, StateKeyGeneration)
	require.NoError(t, err)
	assert.Equal(t, "8", v)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.UpsertDocuments(context.Background(), []*Document{testDoc("m", time.Now())}))
	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
