package similarity

import (
	"context"

	"github.com/coder/hnsw"

	coreerr "github.com/protlit/protlit/internal/errors"
	"github.com/protlit/protlit/internal/store"
)

// HNSWConfig tunes the approximate index.
type HNSWConfig struct {
	// M is the max connections per layer (default: 16).
	M int
	// EfSearch is the query-time search width (default: 64).
	EfSearch int
}

// DefaultHNSWConfig returns defaults suitable for document corpora.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfSearch: 64}
}

// HNSWIndex is the approximate nearest-neighbor substitute for LinearIndex,
// built once per snapshot generation. Filters are applied by over-fetching
// from the graph and discarding non-matching candidates, so heavily
// restrictive filters may return fewer than k neighbors.
type HNSWIndex struct {
	snapshot *store.EmbeddingSnapshot
	graph    *hnsw.Graph[uint64]
	meta     map[uint64]store.VectorMeta
}

var _ Index = (*HNSWIndex)(nil)

// NewHNSWIndex builds an HNSW graph over every vector in the snapshot.
func NewHNSWIndex(snapshot *store.EmbeddingSnapshot, cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	meta := make(map[uint64]store.VectorMeta, snapshot.Len())
	for i := 0; i < snapshot.Len(); i++ {
		key := uint64(i)
		// MakeNode keeps a reference; copy so the arena stays immutable.
		vec := make([]float32, snapshot.Dimensions)
		copy(vec, snapshot.Vector(i))
		graph.Add(hnsw.MakeNode(key, vec))
		meta[key] = snapshot.Meta(i)
	}

	return &HNSWIndex{snapshot: snapshot, graph: graph, meta: meta}, nil
}

// Generation returns the snapshot generation.
func (h *HNSWIndex) Generation() uint64 {
	return h.snapshot.Generation
}

// NearestNeighbors searches the graph, over-fetching when a filter is set.
func (h *HNSWIndex) NearestNeighbors(ctx context.Context, query []float32, k int, filter store.Filter) ([]Neighbor, error) {
	if h.snapshot.Len() == 0 {
		return []Neighbor{}, nil
	}
	if len(query) != h.snapshot.Dimensions {
		return nil, coreerr.DimensionMismatch(h.snapshot.Dimensions, len(query))
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetch := k
	if !filter.IsZero() {
		fetch = k * 4
		if fetch > h.snapshot.Len() {
			fetch = h.snapshot.Len()
		}
	}

	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return []Neighbor{}, nil
	}

	nodes := h.graph.Search(query, fetch)
	neighbors := make([]Neighbor, 0, len(nodes))
	for _, node := range nodes {
		m, ok := h.meta[node.Key]
		if !ok {
			continue
		}
		if !filter.MatchesMeta(m) {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			DocID:      m.DocID,
			Similarity: cosine(query, queryNorm, node.Value),
		})
	}

	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}
