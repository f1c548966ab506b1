package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/protlit/protlit/internal/embed"
	"github.com/protlit/protlit/internal/entity"
	coreerr "github.com/protlit/protlit/internal/errors"
	"github.com/protlit/protlit/internal/similarity"
	"github.com/protlit/protlit/internal/store"
)

// Deps bundles the retrieval dependencies for the planner.
// Embedder and Extractor may be nil; the affected path then contributes
// nothing and the response is flagged degraded rather than failing.
type Deps struct {
	Meta      store.MetadataStore
	Lexical   store.LexicalIndex
	Embedder  embed.Embedder
	Neighbors *similarity.Engine
	Snapshots *store.SnapshotHolder
	Entities  *entity.Holder
	Aliases   *entity.AliasTable
	Extractor entity.Extractor
}

// Engine is the query planner. It runs the three retrieval paths
// concurrently under per-path budgets, fuses their scores into one
// deterministic ranking, and caches rankings by query fingerprint.
type Engine struct {
	cfg    Config
	deps   Deps
	cache  *ResultCache
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures the planner.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEngineCache substitutes the result cache, e.g. one with a test clock.
func WithEngineCache(cache *ResultCache) EngineOption {
	return func(e *Engine) { e.cache = cache }
}

// NewEngine creates the query planner.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		cache:  NewResultCache(DefaultResultCachePerShard),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pathKind identifies one retrieval path in the collector.
type pathKind int

const (
	pathSemantic pathKind = iota
	pathLexical
	pathEntity
)

// pathOutcome is what one retrieval path hands back to the collector.
type pathOutcome struct {
	kind        pathKind
	scores      map[string]float64
	matched     map[string][]string
	timedOut    bool
	unavailable bool
}

// Search executes one query. Empty queries, invalid filters, and invalid
// weight profiles fail with input errors; everything else degrades: a path
// that times out or a capability that is down contributes zero and sets the
// matching Degradation flag.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := e.now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, coreerr.New(coreerr.ErrCodeEmptyQuery, "query must not be empty", nil)
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, coreerr.New(coreerr.ErrCodeInvalidFilter, err.Error(), err)
	}
	weights := e.cfg.Weights
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	if !weights.Valid() {
		return nil, coreerr.New(coreerr.ErrCodeInvalidWeight,
			"weights must be non-negative with a positive sum", nil)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	rk := retrievalKey(query, opts.Filter)
	wk := weightsKey(weights, opts.Diversify)

	if ranking, paths, hit := e.cache.Lookup(rk, wk); hit {
		if ranking != nil {
			return &Response{
				Results:   truncate(ranking, limit),
				FromCache: true,
				Took:      e.now().Sub(start),
			}, nil
		}
		// Path scores are cached but this weight profile has not been
		// fused yet: re-fuse without rerunning retrieval.
		results, err := e.finish(ctx, paths, weights, opts.Diversify)
		if err != nil {
			return nil, err
		}
		e.cache.StoreRanking(rk, wk, results)
		return &Response{
			Results:   truncate(results, limit),
			FromCache: true,
			Took:      e.now().Sub(start),
		}, nil
	}

	// Snapshot the dirty sequence before retrieval: an ingestion landing
	// while this retrieval is in flight must still invalidate the entry.
	dirtySeq := e.cache.DirtySeq()

	budget := e.cfg.QueryTimeout
	if opts.Timeout > 0 && opts.Timeout < budget {
		budget = opts.Timeout
	}
	qctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// Retrieval depth is limit-independent so one cached retrieval can
	// serve any later limit.
	k := e.cfg.MaxLimit * e.cfg.CandidateMultiplier

	paths, deg := e.retrieve(qctx, query, k, opts.Filter)
	if err := ctx.Err(); err != nil {
		return nil, coreerr.New(coreerr.ErrCodeQueryTimeout, "query canceled", err)
	}

	if err := e.resolve(ctx, paths, opts.Filter); err != nil {
		return nil, err
	}

	results, err := e.finish(ctx, paths, weights, opts.Diversify)
	if err != nil {
		return nil, err
	}

	// Degraded retrievals are served but never cached: the missing path
	// would otherwise poison every later weight profile.
	if !deg.Any() {
		e.cache.StorePaths(rk, opts.Filter, paths, dirtySeq)
		e.cache.StoreRanking(rk, wk, results)
	}

	return &Response{
		Results:  truncate(results, limit),
		Degraded: deg,
		Took:     e.now().Sub(start),
	}, nil
}

// retrieve runs the three paths concurrently and collects whatever arrives
// within the query budget. A path missing the budget leaves its scores out
// and sets QueryTimeout; the ranking is then best-so-far.
func (e *Engine) retrieve(ctx context.Context, query string, k int, filter store.Filter) (*pathScores, Degradation) {
	outcomes := make(chan pathOutcome, 3)
	var wg sync.WaitGroup
	wg.Add(3)

	run := func(kind pathKind, fn func(context.Context) pathOutcome) {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, e.cfg.PathTimeout)
		defer cancel()
		out := fn(pctx)
		out.kind = kind
		outcomes <- out
	}

	go run(pathSemantic, func(pctx context.Context) pathOutcome {
		return e.semanticPath(pctx, query, k, filter)
	})
	go run(pathLexical, func(pctx context.Context) pathOutcome {
		return e.lexicalPath(pctx, query, k)
	})
	go run(pathEntity, func(pctx context.Context) pathOutcome {
		return e.entityPath(pctx, query)
	})
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	paths := newPathScores()
	var deg Degradation
	collected := 0

collect:
	for collected < 3 {
		select {
		case out, ok := <-outcomes:
			if !ok {
				break collect
			}
			collected++
			e.mergeOutcome(paths, &deg, out)
		case <-ctx.Done():
			deg.QueryTimeout = true
			e.logger.Warn("query budget expired, serving best-so-far",
				"collected_paths", collected)
			break collect
		}
	}
	return paths, deg
}

func (e *Engine) mergeOutcome(paths *pathScores, deg *Degradation, out pathOutcome) {
	switch out.kind {
	case pathSemantic:
		deg.SemanticTimeout = out.timedOut
		deg.EmbedderUnavailable = out.unavailable
		for id, s := range out.scores {
			paths.Semantic[id] = s
		}
	case pathLexical:
		deg.LexicalTimeout = out.timedOut
		for id, s := range out.scores {
			paths.Lexical[id] = s
		}
		for id, terms := range out.matched {
			paths.MatchedTerms[id] = terms
		}
	case pathEntity:
		deg.EntityTimeout = out.timedOut
		for id, s := range out.scores {
			paths.Entity[id] = s
		}
	}
}

// semanticPath embeds the query and asks the similarity engine for nearest
// neighbors. An absent or unreachable embedder degrades instead of failing.
func (e *Engine) semanticPath(ctx context.Context, query string, k int, filter store.Filter) pathOutcome {
	if e.deps.Embedder == nil || !e.deps.Embedder.Available(ctx) {
		return pathOutcome{unavailable: true}
	}

	vec, err := e.deps.Embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pathOutcome{timedOut: true}
		}
		e.logger.Warn("query embedding failed", "error", err)
		return pathOutcome{unavailable: true}
	}

	neighbors, err := e.deps.Neighbors.NearestNeighbors(ctx, vec, k, filter)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pathOutcome{timedOut: true}
		}
		e.logger.Warn("semantic retrieval failed", "error", err)
		return pathOutcome{}
	}

	scores := make(map[string]float64, len(neighbors))
	for _, n := range neighbors {
		scores[n.DocID] = clamp01(n.Similarity)
	}
	return pathOutcome{scores: scores}
}

// lexicalPath queries the full-text index and min-max normalizes the raw
// scores per query. Filtering happens later in resolve, against the
// metadata store.
func (e *Engine) lexicalPath(ctx context.Context, query string, k int) pathOutcome {
	hits, err := e.deps.Lexical.Search(ctx, query, k)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pathOutcome{timedOut: true}
		}
		e.logger.Warn("lexical retrieval failed", "error", err)
		return pathOutcome{}
	}

	raw := make(map[string]float64, len(hits))
	matched := make(map[string][]string, len(hits))
	for _, h := range hits {
		raw[h.DocID] = h.Score
		if len(h.MatchedTerms) > 0 {
			matched[h.DocID] = h.MatchedTerms
		}
	}
	return pathOutcome{scores: minMaxNormalize(raw), matched: matched}
}

// entityPath resolves query terms against the entity index, keeping the
// best match score per document. With no extractor the terms fall back to
// query n-grams, so this path never requires the NER capability.
func (e *Engine) entityPath(ctx context.Context, query string) pathOutcome {
	idx := e.deps.Entities.Load()
	if idx == nil {
		return pathOutcome{}
	}

	terms := entity.ExtractQueryTerms(ctx, e.deps.Extractor, query)
	scores := make(map[string]float64)
	for _, term := range terms {
		if ctx.Err() != nil {
			return pathOutcome{timedOut: true}
		}
		for _, m := range idx.Lookup(term, e.deps.Aliases) {
			if m.Score > scores[m.DocID] {
				scores[m.DocID] = m.Score
			}
		}
	}
	return pathOutcome{scores: scores}
}

// resolve reconciles path candidates against the metadata store: it fills
// publication times, drops candidates the filter excludes, and drops
// dangling candidates an index returned but the store no longer has.
// The store is the source of truth; a dangling candidate is logged and
// removed, never served.
func (e *Engine) resolve(ctx context.Context, paths *pathScores, filter store.Filter) error {
	ids := paths.candidates()
	if len(ids) == 0 {
		return nil
	}

	docs, err := e.deps.Meta.GetDocuments(ctx, ids)
	if err != nil {
		return err
	}

	byID := make(map[string]*store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	for _, id := range ids {
		doc, ok := byID[id]
		if !ok {
			e.logger.Warn("dropping dangling candidate",
				"doc_id", id, "code", coreerr.ErrCodeDanglingCandidate)
			paths.remove(id)
			continue
		}
		if !filter.MatchesDocument(doc) {
			paths.remove(id)
			continue
		}
		paths.Published[id] = doc.PublishedAt
	}
	return nil
}

// finish fuses path scores into the final ranking, attaches documents, and
// optionally applies the diversity pass.
func (e *Engine) finish(ctx context.Context, paths *pathScores, weights Weights, diversifyResults bool) ([]*Result, error) {
	results := fuse(paths, weights, e.now(), e.cfg.RecencyHalfLife)
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocID
	}
	docs, err := e.deps.Meta.GetDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	kept := results[:0]
	for _, r := range results {
		doc, ok := byID[r.DocID]
		if !ok || doc.Tombstone {
			continue
		}
		r.Document = doc
		kept = append(kept, r)
	}
	for i, r := range kept {
		r.Rank = i + 1
	}
	results = kept

	if diversifyResults {
		snap := e.deps.Snapshots.Load()
		var lookup VectorLookup
		if snap != nil {
			lookup = snap.VectorByID
		}
		results = diversify(results, lookup, e.cfg.DiversityThreshold, e.cfg.DiversityTopN)
	}
	return results, nil
}

// Similar returns the papers nearest to a known paper's embedding, most
// similar first, excluding the paper itself. A paper the current snapshot
// holds no vector for yields an empty list: it has nothing to compare by
// until it is embedded.
func (e *Engine) Similar(ctx context.Context, docID string, limit int, filter store.Filter) ([]*Result, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return nil, coreerr.Input("paper ID must not be empty")
	}
	if err := filter.Validate(); err != nil {
		return nil, coreerr.New(coreerr.ErrCodeInvalidFilter, err.Error(), err)
	}
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	if _, err := e.deps.Meta.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	snap := e.deps.Snapshots.Load()
	if snap == nil {
		return nil, nil
	}
	vec, ok := snap.VectorByID(docID)
	if !ok {
		return nil, nil
	}

	// Over-fetch by one so the paper's own vector does not eat a slot.
	neighbors, err := e.deps.Neighbors.NearestNeighbors(ctx, vec, limit+1, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n.DocID != docID {
			ids = append(ids, n.DocID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := e.deps.Meta.GetDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]*Result, 0, limit)
	for _, n := range neighbors {
		if n.DocID == docID {
			continue
		}
		doc, ok := byID[n.DocID]
		if !ok || doc.Tombstone {
			continue
		}
		results = append(results, &Result{
			Document: doc,
			DocID:    n.DocID,
			Score:    clamp01(n.Similarity),
			Semantic: clamp01(n.Similarity),
		})
		if len(results) == limit {
			break
		}
	}
	for i, r := range results {
		r.Rank = i + 1
	}
	return results, nil
}

// MarkDirty tells the result cache that documents within scope changed.
// Ingestion calls this after publishing a new snapshot.
func (e *Engine) MarkDirty(scope store.Filter) {
	e.cache.MarkDirty(scope)
}

// Invalidate eagerly clears cached rankings and similarity results
// overlapping scope. Returns the number of result cache entries removed.
func (e *Engine) Invalidate(scope store.Filter) int {
	e.deps.Neighbors.Invalidate(scope)
	return e.cache.Invalidate(scope)
}

// CacheLen reports the result cache size, for stats output.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

func truncate(results []*Result, limit int) []*Result {
	if len(results) <= limit {
		return results
	}
	return results[:limit]
}
