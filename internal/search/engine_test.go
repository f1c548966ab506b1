package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protlit/protlit/internal/embed"
	"github.com/protlit/protlit/internal/entity"
	coreerr "github.com/protlit/protlit/internal/errors"
	"github.com/protlit/protlit/internal/ingest"
	"github.com/protlit/protlit/internal/similarity"
	"github.com/protlit/protlit/internal/store"
)

type engineFixture struct {
	engine   *Engine
	pipeline *ingest.Pipeline
	meta     *store.SQLiteStore
}

// newEngineFixture assembles the full retrieval stack in memory and
// ingests the given documents through the pipeline, exactly as the
// application wires it. A nil embedder leaves the semantic path dark.
func newEngineFixture(t *testing.T, embedder embed.Embedder, docs []*store.Document) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	meta, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	lexical, err := store.NewBleveLexicalIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { lexical.Close() })

	snapshots := store.NewSnapshotHolder(embed.HashModelVersion, embed.HashDimensions)
	entities := entity.NewHolder()
	aliases := entity.DefaultAliases()
	neighbors := similarity.NewEngine(similarity.NewSnapshotProvider(snapshots), 128)

	eng := NewEngine(DefaultConfig(), Deps{
		Meta:      meta,
		Lexical:   lexical,
		Embedder:  embedder,
		Neighbors: neighbors,
		Snapshots: snapshots,
		Entities:  entities,
		Aliases:   aliases,
	}, logger)

	pipe := ingest.New(ingest.Config{}, meta, lexical, embedder, snapshots,
		entities, aliases, nil, eng, logger)

	if len(docs) > 0 {
		_, err = pipe.Ingest(context.Background(), docs)
		require.NoError(t, err)
	}

	return &engineFixture{engine: eng, pipeline: pipe, meta: meta}
}

func paperCorpus() []*store.Document {
	day := func(month time.Month, d int) time.Time {
		return time.Date(2026, month, d, 0, 0, 0, 0, time.UTC)
	}
	return []*store.Document{
		{
			ID:          "pmid-1001",
			Title:       "Genome-wide CRISPR screening identifies regulators of protein degradation",
			Abstract:    "A pooled CRISPR screen across the kinome reveals degradation pathways.",
			PublishedAt: day(time.July, 12),
			Source:      store.SourcePubMed,
			Entities: []store.EntityMention{
				{DocID: "pmid-1001", Text: "crispr", Type: store.EntityMethod, Confidence: 0.95},
				{DocID: "pmid-1001", Text: "cas9", Type: store.EntityProtein, Confidence: 0.9},
			},
		},
		{
			ID:          "pmid-1002",
			Title:       "AlphaFold structure prediction of membrane transporters",
			Abstract:    "Deep learning models predict conformational states of transporters.",
			PublishedAt: day(time.June, 3),
			Source:      store.SourcePubMed,
			Entities: []store.EntityMention{
				{DocID: "pmid-1002", Text: "alphafold", Type: store.EntityMethod, Confidence: 0.92},
			},
		},
		{
			ID:          "arxiv-2001",
			Title:       "Protein language models improve variant effect prediction",
			Abstract:    "Embeddings from protein language models score missense variants.",
			PublishedAt: day(time.August, 20),
			Source:      store.SourceArxiv,
			Entities: []store.EntityMention{
				{DocID: "arxiv-2001", Text: "esm 2", Type: store.EntityMethod, Confidence: 0.88},
			},
		},
		{
			ID:          "biorxiv-3001",
			Title:       "Cryo-EM structure of a CRISPR-Cas9 ribonucleoprotein complex",
			Abstract:    "High resolution cryo-EM maps of Cas9 bound to guide RNA.",
			PublishedAt: day(time.May, 9),
			Source:      store.SourceBiorxiv,
			Entities: []store.EntityMention{
				{DocID: "biorxiv-3001", Text: "cas9", Type: store.EntityProtein, Confidence: 0.97},
				{DocID: "biorxiv-3001", Text: "cryo em", Type: store.EntityMethod, Confidence: 0.85},
			},
		},
	}
}

func TestEngineSearch_InputErrors(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	_, err := fix.engine.Search(ctx, "   ", Options{})
	require.Error(t, err)
	ce := coreerr.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerr.ErrCodeEmptyQuery, ce.Code)
	assert.Equal(t, coreerr.CategoryInput, ce.Category)

	_, err = fix.engine.Search(ctx, "crispr", Options{
		Filter: store.Filter{
			From: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.Error(t, err)
	ce = coreerr.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerr.ErrCodeInvalidFilter, ce.Code)

	_, err = fix.engine.Search(ctx, "crispr", Options{
		Weights: &Weights{Semantic: -0.1, Lexical: 0.5},
	})
	require.Error(t, err)
	ce = coreerr.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerr.ErrCodeInvalidWeight, ce.Code)

	_, err = fix.engine.Search(ctx, "crispr", Options{Weights: &Weights{}})
	require.Error(t, err, "an all-zero profile has nothing to rank by")
}

func TestEngineSearch_RankedAndDeterministic(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	first, err := fix.engine.Search(ctx, "CRISPR Cas9 screening", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, first.Results)
	assert.False(t, first.FromCache)
	assert.False(t, first.Degraded.Any())

	seen := make(map[string]bool)
	for i, r := range first.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.False(t, seen[r.DocID], "duplicate doc %s", r.DocID)
		seen[r.DocID] = true
		require.NotNil(t, r.Document)
		if i > 0 {
			assert.GreaterOrEqual(t, first.Results[i-1].Score, r.Score)
		}
	}

	second, err := fix.engine.Search(ctx, "CRISPR Cas9 screening", Options{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	require.Len(t, second.Results, len(first.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].DocID, second.Results[i].DocID)
	}
}

func TestEngineSearch_QueryNormalizationSharesCache(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	_, err := fix.engine.Search(ctx, "crispr screening", Options{})
	require.NoError(t, err)

	resp, err := fix.engine.Search(ctx, "  CRISPR   Screening ", Options{})
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
}

func TestEngineSearch_WeightChangeReusesRetrieval(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	_, err := fix.engine.Search(ctx, "cas9 structure", Options{})
	require.NoError(t, err)

	// Same query and filter, different weight profile: the cached path
	// scores are re-fused without rerunning retrieval.
	resp, err := fix.engine.Search(ctx, "cas9 structure", Options{
		Weights: &Weights{Lexical: 1},
	})
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	for _, r := range resp.Results {
		assert.InDelta(t, r.Lexical, r.Score, 1e-9,
			"with only the lexical weight the score is the lexical component")
	}
}

func TestEngineSearch_SourceFilter(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "protein structure prediction", Options{
		Filter: store.Filter{Sources: []store.Source{store.SourceArxiv}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, store.SourceArxiv, r.Document.Source)
	}
}

func TestEngineSearch_DateFilter(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	resp, err := fix.engine.Search(ctx, "crispr protein", Options{
		Filter: store.Filter{From: from},
	})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.False(t, r.Document.PublishedAt.Before(from),
			"doc %s published %s precedes the filter", r.DocID, r.Document.PublishedAt)
	}
}

func TestEngineSearch_Limit(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "protein", Options{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	// A limit above the cap falls back to the cap rather than erroring.
	resp, err = fix.engine.Search(ctx, "protein", Options{Limit: 10_000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), DefaultConfig().MaxLimit)
}

func TestEngineSearch_EntityAliasMatch(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "cas9", Options{
		Weights: &Weights{Entity: 1},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	got := make(map[string]float64)
	for _, r := range resp.Results {
		got[r.DocID] = r.Entity
	}
	assert.InDelta(t, 1.0, got["pmid-1001"], 1e-9, "exact mention scores 1.0")
	assert.InDelta(t, 1.0, got["biorxiv-3001"], 1e-9)
}

func TestEngineSearch_NilEmbedderDegrades(t *testing.T) {
	fix := newEngineFixture(t, nil, paperCorpus())
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "crispr screening", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded.EmbedderUnavailable)
	require.NotEmpty(t, resp.Results, "lexical and entity paths still serve")
	for _, r := range resp.Results {
		assert.Zero(t, r.Semantic)
	}

	// Degraded retrievals are never cached.
	again, err := fix.engine.Search(ctx, "crispr screening", Options{})
	require.NoError(t, err)
	assert.False(t, again.FromCache)
}

func TestEngineSearch_IngestInvalidatesCache(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	_, err := fix.engine.Search(ctx, "crispr delivery", Options{})
	require.NoError(t, err)
	warm, err := fix.engine.Search(ctx, "crispr delivery", Options{})
	require.NoError(t, err)
	require.True(t, warm.FromCache)

	_, err = fix.pipeline.Ingest(ctx, []*store.Document{{
		ID:          "pmid-1005",
		Title:       "Lipid nanoparticle delivery of CRISPR ribonucleoproteins",
		Abstract:    "In vivo editing via transient RNP delivery.",
		PublishedAt: time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
		Source:      store.SourcePubMed,
	}})
	require.NoError(t, err)

	fresh, err := fix.engine.Search(ctx, "crispr delivery", Options{})
	require.NoError(t, err)
	assert.False(t, fresh.FromCache, "ingestion marks the scope dirty")

	ids := make([]string, 0, len(fresh.Results))
	for _, r := range fresh.Results {
		ids = append(ids, r.DocID)
	}
	assert.Contains(t, ids, "pmid-1005")
}

func TestEngineSearch_DeletedDocumentDisappears(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "crispr screening degradation", Options{})
	require.NoError(t, err)
	found := false
	for _, r := range resp.Results {
		if r.DocID == "pmid-1001" {
			found = true
		}
	}
	require.True(t, found)

	require.NoError(t, fix.pipeline.Delete(ctx, "pmid-1001"))

	resp, err = fix.engine.Search(ctx, "crispr screening degradation", Options{})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "pmid-1001", r.DocID, "tombstoned documents are never served")
	}
}

func TestEngineSearch_Diversify(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "crispr cas9", Options{Diversify: true})
	require.NoError(t, err)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank, "ranks are reassigned after the diversity pass")
	}
}

func TestEngineSimilar_RanksByEmbeddingProximity(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	results, err := fix.engine.Similar(ctx, "pmid-1001", 10, store.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i, r := range results {
		assert.NotEqual(t, "pmid-1001", r.DocID, "the paper itself is excluded")
		assert.Equal(t, i+1, r.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score,
				"neighbors are ordered most similar first")
		}
	}
}

func TestEngineSimilar_LimitAndFilter(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	results, err := fix.engine.Similar(ctx, "pmid-1001", 1, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = fix.engine.Similar(ctx, "pmid-1001", 10, store.Filter{
		Sources: []store.Source{store.SourceArxiv},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, store.SourceArxiv, r.Document.Source)
	}
}

func TestEngineSimilar_UnknownPaper(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), paperCorpus())
	ctx := context.Background()

	_, err := fix.engine.Similar(ctx, "pmid-9999", 10, store.Filter{})
	require.Error(t, err)
	ce := coreerr.AsCoreError(err)
	require.NotNil(t, ce)
	assert.Equal(t, coreerr.ErrCodeDocumentMissing, ce.Code)

	_, err = fix.engine.Similar(ctx, "  ", 10, store.Filter{})
	require.Error(t, err)
}

func TestEngineSimilar_UnembeddedPaper(t *testing.T) {
	fix := newEngineFixture(t, nil, paperCorpus())
	ctx := context.Background()

	results, err := fix.engine.Similar(ctx, "pmid-1001", 10, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, results, "a paper with no vector has no neighbors yet")
}

func TestEngineSearch_EmptyCorpus(t *testing.T) {
	fix := newEngineFixture(t, embed.NewHashEmbedder(), nil)
	ctx := context.Background()

	resp, err := fix.engine.Search(ctx, "anything at all", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
