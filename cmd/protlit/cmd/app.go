package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/protlit/protlit/internal/config"
	"github.com/protlit/protlit/internal/embed"
	"github.com/protlit/protlit/internal/entity"
	"github.com/protlit/protlit/internal/ingest"
	"github.com/protlit/protlit/internal/logging"
	"github.com/protlit/protlit/internal/search"
	"github.com/protlit/protlit/internal/similarity"
	"github.com/protlit/protlit/internal/store"
	"github.com/protlit/protlit/internal/trend"
)

// app wires the engine together for one CLI invocation.
type app struct {
	cfg       *config.Config
	meta      store.MetadataStore
	lexical   store.LexicalIndex
	embedder  embed.Embedder
	snapshots *store.SnapshotHolder
	entities  *entity.Holder
	aliases   *entity.AliasTable
	engine    *search.Engine
	pipeline  *ingest.Pipeline
	analyzer  *trend.Analyzer

	cleanups []func()
}

// openApp builds the full engine from configuration. Indexes are rebuilt
// from the metadata store so a fresh process serves queries immediately.
func openApp(ctx context.Context) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.WriteToStderr = cfg.Log.Stderr || verbose
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.cleanups = append(a.cleanups, logCleanup)

	meta, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.meta = meta
	a.cleanups = append(a.cleanups, func() { _ = meta.Close() })

	lexical, err := store.NewBleveLexicalIndex(cfg.LexicalIndexPath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.lexical = lexical
	a.cleanups = append(a.cleanups, func() { _ = lexical.Close() })

	var modelVersion string
	var dimensions int
	if strings.ToLower(cfg.Embeddings.Provider) == "hash" {
		a.embedder = embed.NewCachedEmbedder(embed.NewHashEmbedder(), cfg.Embeddings.CacheSize)
		modelVersion = a.embedder.ModelName()
		dimensions = a.embedder.Dimensions()
		a.cleanups = append(a.cleanups, func() { _ = a.embedder.Close() })
	}

	a.snapshots = store.NewSnapshotHolder(modelVersion, dimensions)
	a.entities = entity.NewHolder()
	a.aliases = entity.DefaultAliases()

	neighbors := similarity.NewEngine(
		similarity.NewSnapshotProvider(a.snapshots),
		cfg.Cache.SimilarityEntries,
		similarity.WithTTL(cfg.Cache.TTL),
	)

	a.engine = search.NewEngine(cfg.Search, search.Deps{
		Meta:      a.meta,
		Lexical:   a.lexical,
		Embedder:  a.embedder,
		Neighbors: neighbors,
		Snapshots: a.snapshots,
		Entities:  a.entities,
		Aliases:   a.aliases,
	}, logger, search.WithEngineCache(
		search.NewResultCache(cfg.Cache.ResultEntriesPerShard,
			search.WithResultTTL(cfg.Cache.TTL)),
	))

	ingestCfg := cfg.Ingest
	ingestCfg.LockPath = cfg.LockPath()
	a.pipeline = ingest.New(ingestCfg, a.meta, a.lexical, a.embedder,
		a.snapshots, a.entities, a.aliases, nil, a.engine, logger)

	if err := a.pipeline.LoadGeneration(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if _, err := a.pipeline.Rebuild(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.analyzer = trend.NewAnalyzer(cfg.Trend, a.meta, a.snapshots, logger)
	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
