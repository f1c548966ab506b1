// Package ingest writes documents through the full pipeline: metadata
// upsert, lexical indexing, entity extraction, embedding, and finally an
// atomic snapshot rebuild that publishes the new corpus state to readers.
// Queries keep serving the previous snapshot while a rebuild is running.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/protlit/protlit/internal/embed"
	"github.com/protlit/protlit/internal/entity"
	coreerr "github.com/protlit/protlit/internal/errors"
	"github.com/protlit/protlit/internal/store"
)

// Config tunes the ingest pipeline.
type Config struct {
	// LockPath is the advisory lock file guarding against concurrent
	// ingesters from separate processes. Empty disables locking.
	LockPath string `yaml:"lock_path"`

	// EmbedBatchSize bounds one embedding batch (default: 32).
	EmbedBatchSize int `yaml:"embed_batch_size"`

	// LockRetryInterval is the poll interval while waiting on the
	// ingest lock (default: 250ms).
	LockRetryInterval time.Duration `yaml:"lock_retry_interval"`
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		EmbedBatchSize:    32,
		LockRetryInterval: 250 * time.Millisecond,
	}
}

// DirtyNotifier receives the filter scope of changed documents after a
// rebuild, so cached query results covering that scope stop being served.
type DirtyNotifier interface {
	MarkDirty(scope store.Filter)
}

// Summary reports what one ingest call did.
type Summary struct {
	Upserted          int
	Embedded          int
	EmbeddingsSkipped int
	EntitiesExtracted int
	Generation        uint64
	Degraded          bool
}

// Pipeline is the single writer for the corpus.
type Pipeline struct {
	cfg        Config
	meta       store.MetadataStore
	lexical    store.LexicalIndex
	embedder   embed.Embedder
	snapshots  *store.SnapshotHolder
	entities   *entity.Holder
	aliases    *entity.AliasTable
	extractor  entity.Extractor
	notifier   DirtyNotifier
	lock       *flock.Flock
	logger     *slog.Logger
	generation atomic.Uint64
}

// New creates the pipeline. The embedder, extractor, and notifier may each
// be nil; ingestion then proceeds without that capability.
func New(cfg Config, meta store.MetadataStore, lexical store.LexicalIndex,
	embedder embed.Embedder, snapshots *store.SnapshotHolder,
	entities *entity.Holder, aliases *entity.AliasTable,
	extractor entity.Extractor, notifier DirtyNotifier,
	logger *slog.Logger) *Pipeline {

	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultConfig().EmbedBatchSize
	}
	if cfg.LockRetryInterval <= 0 {
		cfg.LockRetryInterval = DefaultConfig().LockRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:       cfg,
		meta:      meta,
		lexical:   lexical,
		embedder:  embedder,
		snapshots: snapshots,
		entities:  entities,
		aliases:   aliases,
		extractor: extractor,
		notifier:  notifier,
		logger:    logger,
	}
	if cfg.LockPath != "" {
		p.lock = flock.New(cfg.LockPath)
	}
	return p
}

// LoadGeneration restores the snapshot generation counter from the store.
// Call once at startup before the first rebuild.
func (p *Pipeline) LoadGeneration(ctx context.Context) error {
	raw, err := p.meta.GetState(ctx, store.StateKeyGeneration)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	gen, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return coreerr.New(coreerr.ErrCodeStoreCorrupt,
			fmt.Sprintf("state key %s holds %q", store.StateKeyGeneration, raw), err)
	}
	p.generation.Store(gen)
	return nil
}

// Generation returns the last published snapshot generation.
func (p *Pipeline) Generation() uint64 {
	return p.generation.Load()
}

// Ingest writes a batch of documents end to end. The call is idempotent:
// re-ingesting a known ID overwrites the prior version in place. Missing
// capabilities degrade (documents land without entities or embeddings and
// Summary.Degraded is set); only store failures abort.
func (p *Pipeline) Ingest(ctx context.Context, docs []*store.Document) (*Summary, error) {
	if len(docs) == 0 {
		return &Summary{Generation: p.Generation()}, nil
	}
	for _, d := range docs {
		if err := validateDocument(d); err != nil {
			return nil, err
		}
	}

	unlock, err := p.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	summary := &Summary{}
	summary.EntitiesExtracted = p.extractEntities(ctx, docs, summary)

	if err := p.meta.UpsertDocuments(ctx, docs); err != nil {
		return nil, err
	}
	summary.Upserted = len(docs)

	if err := p.lexical.Index(ctx, docs); err != nil {
		return nil, coreerr.StoreUnavailable("lexical index write failed", err)
	}

	if err := p.embedMissing(ctx, docs, summary); err != nil {
		return nil, err
	}

	gen, err := p.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	summary.Generation = gen

	p.markDirty(docs)
	return summary, nil
}

// Delete tombstones a document. The ID stays known so a later re-ingest of
// the same ID revives it.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	unlock, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := p.meta.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := p.meta.TombstoneDocument(ctx, id); err != nil {
		return err
	}
	if err := p.lexical.Delete(ctx, []string{id}); err != nil {
		return coreerr.StoreUnavailable("lexical index delete failed", err)
	}
	if _, err := p.Rebuild(ctx); err != nil {
		return err
	}
	p.markDirty([]*store.Document{doc})
	return nil
}

// Reindex re-runs extraction and embedding for one known document, then
// republishes. Used after an embedding model upgrade or extractor fix.
func (p *Pipeline) Reindex(ctx context.Context, id string) (*Summary, error) {
	doc, err := p.meta.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Entities = nil
	doc.Embedding = nil
	doc.EmbeddingModel = ""
	return p.Ingest(ctx, []*store.Document{doc})
}

// Rebuild constructs a fresh embedding snapshot and entity index from the
// store and publishes both atomically under the next generation. Documents
// whose embedding was produced by a different model version are excluded
// from the snapshot until re-embedded.
func (p *Pipeline) Rebuild(ctx context.Context) (uint64, error) {
	docs, err := p.meta.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	modelVersion := p.modelVersion()
	dims := p.dimensions()
	snapBuilder := store.NewSnapshotBuilder(modelVersion, dims)
	entBuilder := entity.NewBuilder(p.aliases)

	var stale int
	for _, doc := range docs {
		entBuilder.AddDocument(doc)
		if len(doc.Embedding) == 0 {
			continue
		}
		if modelVersion != "" && doc.EmbeddingModel != modelVersion {
			stale++
			continue
		}
		if err := snapBuilder.Add(doc.ID, doc.Embedding, doc.PublishedAt, doc.Source); err != nil {
			p.logger.Warn("excluding vector from snapshot",
				"doc_id", doc.ID, "error", err)
		}
	}
	if stale > 0 {
		p.logger.Warn("excluded stale embeddings from snapshot",
			"count", stale, "model_version", modelVersion,
			"code", coreerr.ErrCodeStaleEmbedding)
	}

	gen := p.generation.Add(1)
	p.snapshots.Swap(snapBuilder.Build(gen))
	p.entities.Swap(entBuilder.Build(gen))

	if err := p.meta.SetState(ctx, store.StateKeyGeneration, strconv.FormatUint(gen, 10)); err != nil {
		return gen, err
	}
	if modelVersion != "" {
		if err := p.meta.SetState(ctx, store.StateKeyModelVersion, modelVersion); err != nil {
			return gen, err
		}
	}

	p.logger.Info("published snapshot",
		"generation", gen, "documents", len(docs), "stale_embeddings", stale)
	return gen, nil
}

// extractEntities runs the extractor over documents that carry none.
// An absent or failing extractor leaves documents entity-less.
func (p *Pipeline) extractEntities(ctx context.Context, docs []*store.Document, summary *Summary) int {
	if p.extractor == nil || !p.extractor.Available(ctx) {
		if p.extractor != nil {
			summary.Degraded = true
		}
		return 0
	}

	var extracted int
	for _, doc := range docs {
		if len(doc.Entities) > 0 || doc.Tombstone {
			continue
		}
		mentions, err := p.extractor.Extract(ctx, doc.SearchText())
		if err != nil {
			p.logger.Warn("entity extraction failed",
				"doc_id", doc.ID, "error", err)
			summary.Degraded = true
			continue
		}
		for i := range mentions {
			mentions[i].DocID = doc.ID
		}
		doc.Entities = mentions
		extracted += len(mentions)
	}
	return extracted
}

// embedMissing embeds documents without a current-model vector, in batches,
// and persists each vector. An unavailable embedder skips embedding
// entirely; those documents stay lexically and entity searchable.
func (p *Pipeline) embedMissing(ctx context.Context, docs []*store.Document, summary *Summary) error {
	modelVersion := p.modelVersion()

	var pending []*store.Document
	for _, doc := range docs {
		if doc.Tombstone {
			continue
		}
		if len(doc.Embedding) > 0 && doc.EmbeddingModel == modelVersion {
			continue
		}
		pending = append(pending, doc)
	}
	if len(pending) == 0 {
		return nil
	}

	if p.embedder == nil || !p.embedder.Available(ctx) {
		summary.EmbeddingsSkipped = len(pending)
		summary.Degraded = true
		p.logger.Warn("embedder unavailable, skipping embeddings",
			"skipped", len(pending), "code", coreerr.ErrCodeEmbedderUnavailable)
		return nil
	}

	for start := 0; start < len(pending); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.SearchText()
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			summary.EmbeddingsSkipped += len(pending) - start
			summary.Degraded = true
			p.logger.Warn("embedding batch failed",
				"batch_start", start, "error", err)
			return nil
		}
		for i, doc := range batch {
			if err := p.meta.SetEmbedding(ctx, doc.ID, vecs[i], modelVersion); err != nil {
				return err
			}
			doc.Embedding = vecs[i]
			doc.EmbeddingModel = modelVersion
			summary.Embedded++
		}
	}
	return nil
}

// markDirty derives the narrowest filter scope covering the changed
// documents and notifies the cache layer.
func (p *Pipeline) markDirty(docs []*store.Document) {
	if p.notifier == nil || len(docs) == 0 {
		return
	}

	var scope store.Filter
	sources := make(map[store.Source]struct{})
	for _, doc := range docs {
		if scope.From.IsZero() || doc.PublishedAt.Before(scope.From) {
			scope.From = doc.PublishedAt
		}
		if scope.To.IsZero() || doc.PublishedAt.After(scope.To) {
			scope.To = doc.PublishedAt
		}
		sources[doc.Source] = struct{}{}
	}
	for s := range sources {
		scope.Sources = append(scope.Sources, s)
	}
	p.notifier.MarkDirty(scope)
}

// acquireLock takes the cross-process ingest lock, polling until the
// context expires. Returns a release func.
func (p *Pipeline) acquireLock(ctx context.Context) (func(), error) {
	if p.lock == nil {
		return func() {}, nil
	}
	ok, err := p.lock.TryLockContext(ctx, p.cfg.LockRetryInterval)
	if err != nil {
		return nil, coreerr.StoreUnavailable("ingest lock", err)
	}
	if !ok {
		return nil, coreerr.StoreUnavailable("ingest lock not acquired", nil)
	}
	return func() {
		if err := p.lock.Unlock(); err != nil {
			p.logger.Warn("ingest lock release failed", "error", err)
		}
	}, nil
}

func validateDocument(d *store.Document) error {
	if d.ID == "" {
		return coreerr.Input("document ID must not be empty")
	}
	if d.Title == "" && d.Abstract == "" {
		return coreerr.Input(fmt.Sprintf("document %s has no text", d.ID))
	}
	switch d.Source {
	case store.SourcePubMed, store.SourceArxiv, store.SourceBiorxiv, store.SourceMedrxiv:
	default:
		return coreerr.Input(fmt.Sprintf("document %s has unknown source %q", d.ID, d.Source))
	}
	return nil
}

func (p *Pipeline) modelVersion() string {
	if p.embedder == nil {
		return ""
	}
	return p.embedder.ModelName()
}

func (p *Pipeline) dimensions() int {
	if p.embedder == nil {
		return 0
	}
	return p.embedder.Dimensions()
}
