package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/analysis/tokenmap"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	coreerr "github.com/protlit/protlit/internal/errors"
)

const (
	// SciStopMapName is the registered name of the biomedical stopword map.
	SciStopMapName = "sci_stop_map"
	// SciStopFilterName is the registered name of the stopword filter.
	SciStopFilterName = "sci_stop"
	// SciAnalyzerName is the registered name of the scientific-text analyzer.
	SciAnalyzerName = "sci_text"
)

// SciStopWords are high-frequency terms in abstracts that carry no
// discriminative weight for literature queries.
var SciStopWords = []string{
	"the", "a", "an", "and", "or", "of", "in", "on", "for", "to", "with",
	"by", "from", "at", "as", "is", "are", "was", "were", "be", "been",
	"this", "that", "these", "those", "we", "our", "their", "its",
	"study", "studies", "results", "using", "show", "shown", "here",
	"paper", "abstract", "however", "also", "may", "can", "between",
}

// BleveLexicalIndex implements LexicalIndex on bleve with a custom
// scientific-text analyzer (unicode tokenization, lowercase, stopwords).
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// lexicalDocument is the shape indexed by bleve.
type lexicalDocument struct {
	Content string `json:"content"`
}

// NewBleveLexicalIndex creates a lexical index at path.
// An empty path creates an in-memory index for tests.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, coreerr.StoreUnavailable("create index directory", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, coreerr.StoreUnavailable("open lexical index", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

// createLexicalMapping builds the bleve mapping with the scientific analyzer.
func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	stopTokens := make([]interface{}, len(SciStopWords))
	for i, w := range SciStopWords {
		stopTokens[i] = w
	}

	if err := indexMapping.AddCustomTokenMap(SciStopMapName, map[string]interface{}{
		"type":   tokenmap.Name,
		"tokens": stopTokens,
	}); err != nil {
		return nil, fmt.Errorf("add stopword map: %w", err)
	}

	if err := indexMapping.AddCustomTokenFilter(SciStopFilterName, map[string]interface{}{
		"type":           stop.Name,
		"stop_token_map": SciStopMapName,
	}); err != nil {
		return nil, fmt.Errorf("add stopword filter: %w", err)
	}

	if err := indexMapping.AddCustomAnalyzer(SciAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			SciStopFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("add scientific analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = SciAnalyzerName
	return indexMapping, nil
}

// Index adds or replaces documents in the index.
// Tombstoned documents are removed instead of indexed.
func (b *BleveLexicalIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return coreerr.StoreUnavailable("lexical index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if doc.Tombstone {
			batch.Delete(doc.ID)
			continue
		}
		if err := batch.Index(doc.ID, lexicalDocument{Content: doc.SearchText()}); err != nil {
			return coreerr.StoreUnavailable("index document "+doc.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return coreerr.StoreUnavailable("execute index batch", err)
	}
	return nil
}

// Search returns raw-scored matches for query.
// An empty or whitespace query returns an empty list, not an error.
func (b *BleveLexicalIndex) Search(ctx context.Context, queryStr string, limit int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, coreerr.StoreUnavailable("lexical index is closed", nil)
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true // matched terms feed entity highlighting

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, coreerr.StoreUnavailable("lexical search", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents from the index.
func (b *BleveLexicalIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return coreerr.StoreUnavailable("lexical index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range docIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return coreerr.StoreUnavailable("delete from lexical index", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (b *BleveLexicalIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, coreerr.StoreUnavailable("lexical index is closed", nil)
	}
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// matchedTerms extracts the distinct matched terms from a hit, sorted so
// repeated queries report them in a stable order.
func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
