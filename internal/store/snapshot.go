package store

import (
	"sync/atomic"
	"time"

	coreerr "github.com/protlit/protlit/internal/errors"
)

// EmbeddingSnapshot is an immutable view of every live document vector.
// Vectors live in one contiguous arena; the parallel meta slice carries the
// per-document fields the similarity filter needs. Ingestion builds a fresh
// snapshot and publishes it through SnapshotHolder; readers never observe a
// partially built state.
type EmbeddingSnapshot struct {
	Generation   uint64
	ModelVersion string
	Dimensions   int

	arena []float32
	meta  []VectorMeta
	byID  map[string]int
}

// VectorMeta is the filterable metadata carried alongside each vector.
type VectorMeta struct {
	DocID       string
	PublishedAt time.Time
	Source      Source
}

// SnapshotBuilder accumulates vectors for the next snapshot generation.
type SnapshotBuilder struct {
	modelVersion string
	dimensions   int
	arena        []float32
	meta         []VectorMeta
	byID         map[string]int
}

// NewSnapshotBuilder starts a snapshot for the given model version.
// dimensions may be zero; it is fixed by the first vector added.
func NewSnapshotBuilder(modelVersion string, dimensions int) *SnapshotBuilder {
	return &SnapshotBuilder{
		modelVersion: modelVersion,
		dimensions:   dimensions,
		byID:         make(map[string]int),
	}
}

// Add appends a document vector. Documents whose embedding was produced by a
// different model version must not be offered; the builder rejects a vector
// whose length disagrees with the snapshot dimension.
func (b *SnapshotBuilder) Add(docID string, vec []float32, publishedAt time.Time, source Source) error {
	if len(vec) == 0 {
		return coreerr.New(coreerr.ErrCodeStaleEmbedding, "empty vector for "+docID, nil)
	}
	if b.dimensions == 0 {
		b.dimensions = len(vec)
	}
	if len(vec) != b.dimensions {
		return coreerr.DimensionMismatch(b.dimensions, len(vec)).WithDetail("doc_id", docID)
	}
	if idx, exists := b.byID[docID]; exists {
		// Idempotent by document ID: overwrite in place.
		copy(b.arena[idx*b.dimensions:], vec)
		b.meta[idx] = VectorMeta{DocID: docID, PublishedAt: publishedAt, Source: source}
		return nil
	}

	b.byID[docID] = len(b.meta)
	b.arena = append(b.arena, vec...)
	b.meta = append(b.meta, VectorMeta{DocID: docID, PublishedAt: publishedAt, Source: source})
	return nil
}

// Build freezes the builder into a snapshot at the given generation.
func (b *SnapshotBuilder) Build(generation uint64) *EmbeddingSnapshot {
	return &EmbeddingSnapshot{
		Generation:   generation,
		ModelVersion: b.modelVersion,
		Dimensions:   b.dimensions,
		arena:        b.arena,
		meta:         b.meta,
		byID:         b.byID,
	}
}

// Len returns the number of vectors in the snapshot.
func (s *EmbeddingSnapshot) Len() int {
	return len(s.meta)
}

// Vector returns the i-th vector as a subslice of the arena.
// Callers must not mutate the returned slice.
func (s *EmbeddingSnapshot) Vector(i int) []float32 {
	start := i * s.Dimensions
	return s.arena[start : start+s.Dimensions]
}

// Meta returns the i-th vector's metadata.
func (s *EmbeddingSnapshot) Meta(i int) VectorMeta {
	return s.meta[i]
}

// VectorByID returns the vector for docID, or false when absent.
func (s *EmbeddingSnapshot) VectorByID(docID string) ([]float32, bool) {
	i, ok := s.byID[docID]
	if !ok {
		return nil, false
	}
	return s.Vector(i), true
}

// SnapshotHolder publishes snapshots with an atomic pointer swap, so query
// readers never block on ingestion and vice versa.
type SnapshotHolder struct {
	current atomic.Pointer[EmbeddingSnapshot]
}

// NewSnapshotHolder starts with an empty generation-zero snapshot.
func NewSnapshotHolder(modelVersion string, dimensions int) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.current.Store(NewSnapshotBuilder(modelVersion, dimensions).Build(0))
	return h
}

// Load returns the current snapshot.
func (h *SnapshotHolder) Load() *EmbeddingSnapshot {
	return h.current.Load()
}

// Swap publishes a new snapshot and returns the previous one.
func (h *SnapshotHolder) Swap(s *EmbeddingSnapshot) *EmbeddingSnapshot {
	return h.current.Swap(s)
}
