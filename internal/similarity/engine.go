// Package similarity provides nearest-neighbor search over the embedding
// snapshot, with an LRU result cache invalidated on ingestion.
package similarity

import (
	"context"
	"math"
	"sort"

	coreerr "github.com/protlit/protlit/internal/errors"
	"github.com/protlit/protlit/internal/store"
)

// Neighbor is one nearest-neighbor hit.
type Neighbor struct {
	DocID      string
	Similarity float64 // cosine similarity in [-1,1], typically [0,1] for text
}

// Index finds nearest neighbors of a query vector.
// LinearIndex scans the snapshot arena; HNSWIndex approximates over a graph.
// Callers depend only on this interface, so the two are interchangeable.
type Index interface {
	// NearestNeighbors returns up to k neighbors passing the filter, ordered
	// by descending similarity with docID as the deterministic tie-break.
	// An empty store yields an empty list and nil error. A query vector whose
	// length disagrees with the stored dimension yields a consistency error.
	NearestNeighbors(ctx context.Context, query []float32, k int, filter store.Filter) ([]Neighbor, error)

	// Generation returns the snapshot generation the index reads from.
	Generation() uint64
}

// LinearIndex is the exact cosine scan over an embedding snapshot.
// Linear scan is acceptable up to tens of thousands of documents; beyond
// that, swap in HNSWIndex behind the same interface.
type LinearIndex struct {
	snapshot *store.EmbeddingSnapshot
}

var _ Index = (*LinearIndex)(nil)

// NewLinearIndex creates a linear index over a snapshot.
func NewLinearIndex(snapshot *store.EmbeddingSnapshot) *LinearIndex {
	return &LinearIndex{snapshot: snapshot}
}

// Generation returns the snapshot generation.
func (l *LinearIndex) Generation() uint64 {
	return l.snapshot.Generation
}

// NearestNeighbors scans every stored vector, keeping the k best.
func (l *LinearIndex) NearestNeighbors(ctx context.Context, query []float32, k int, filter store.Filter) ([]Neighbor, error) {
	s := l.snapshot
	if s.Len() == 0 {
		return []Neighbor{}, nil
	}
	if len(query) != s.Dimensions {
		return nil, coreerr.DimensionMismatch(s.Dimensions, len(query))
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return []Neighbor{}, nil
	}

	neighbors := make([]Neighbor, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		meta := s.Meta(i)
		if !filter.MatchesMeta(meta) {
			continue
		}
		sim := cosine(query, queryNorm, s.Vector(i))
		neighbors = append(neighbors, Neighbor{DocID: meta.DocID, Similarity: sim})
	}

	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// sortNeighbors orders by similarity descending, docID ascending on ties.
func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].DocID < neighbors[j].DocID
	})
}

// cosine computes cosine similarity given a precomputed query norm.
func cosine(query []float32, queryNorm float64, candidate []float32) float64 {
	var dot, candSq float64
	for i, q := range query {
		c := float64(candidate[i])
		dot += float64(q) * c
		candSq += c * c
	}
	if candSq == 0 {
		return 0
	}
	return dot / (queryNorm * math.Sqrt(candSq))
}

func vectorNorm(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	return math.Sqrt(sq)
}
