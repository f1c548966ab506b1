// Package store provides the persistence layer for the retrieval core:
// document metadata (SQLite), the lexical full-text index (bleve), and the
// versioned embedding snapshot read by the similarity engine.
package store

import (
	"context"
	"time"
)

// Source identifies where a document was collected from.
type Source string

const (
	SourcePubMed  Source = "pubmed"
	SourceArxiv   Source = "arxiv"
	SourceBiorxiv Source = "biorxiv"
	SourceMedrxiv Source = "medrxiv"
)

// EntityType is the closed set of entity kinds produced by extraction.
type EntityType string

const (
	EntityProtein      EntityType = "protein"
	EntityGene         EntityType = "gene"
	EntityMethod       EntityType = "method"
	EntityOrganization EntityType = "organization"
)

// ValidEntityType reports whether t is a member of the closed entity set.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityProtein, EntityGene, EntityMethod, EntityOrganization:
		return true
	}
	return false
}

// EntityMention is one extracted entity occurrence in a document.
type EntityMention struct {
	DocID      string
	Text       string // normalized surface form
	Type       EntityType
	Confidence float64 // [0,1]
	Start      int     // rune offset in source text
	End        int
}

// Document is the unit of ingestion and retrieval.
// Documents are created by the collection pipeline, mutated only by
// re-processing jobs, and logically deleted via the Tombstone flag.
type Document struct {
	ID             string
	Title          string
	Abstract       string
	FullText       string
	Authors        []string
	Journal        string
	PublishedAt    time.Time
	Source         Source
	DOI            string
	Entities       []EntityMention
	Embedding      []float32
	EmbeddingModel string // model version tag; stale versions are excluded from semantic matching
	Tombstone      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SearchText returns the text indexed by the lexical path.
func (d *Document) SearchText() string {
	if d.FullText != "" {
		return d.Title + "\n" + d.Abstract + "\n" + d.FullText
	}
	return d.Title + "\n" + d.Abstract
}

// State keys for the metadata key-value table.
const (
	// StateKeyModelVersion stores the embedding model version the snapshot
	// was built against.
	StateKeyModelVersion = "embedding_model_version"
	// StateKeyGeneration stores the last published snapshot generation.
	StateKeyGeneration = "snapshot_generation"
)

// LexicalResult is a single lexical-path match with its raw bleve score.
// Raw scores are query-relative; the fusion layer min-max normalizes them.
type LexicalResult struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex provides full-text retrieval over document text.
type LexicalIndex interface {
	// Index adds or replaces documents in the index.
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query with raw relevance scores.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Delete removes documents from the index.
	Delete(ctx context.Context, docIDs []string) error

	// Count returns the number of indexed documents.
	Count() (uint64, error)

	// Close releases index resources.
	Close() error
}

// MetadataStore persists documents, entities, and embeddings.
// It is the source of truth; the lexical and vector indexes are derived.
type MetadataStore interface {
	// UpsertDocuments writes documents idempotently by ID: a known ID
	// overwrites the prior version in place, never duplicates it.
	UpsertDocuments(ctx context.Context, docs []*Document) error

	// GetDocument returns a document by ID, tombstones included.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// GetDocuments batch-fetches documents, skipping unknown IDs.
	GetDocuments(ctx context.Context, ids []string) ([]*Document, error)

	// ListDocuments returns all live (non-tombstoned) documents.
	ListDocuments(ctx context.Context) ([]*Document, error)

	// TombstoneDocument marks a document logically deleted.
	TombstoneDocument(ctx context.Context, id string) error

	// SetEmbedding stores a vector and model version for a document.
	SetEmbedding(ctx context.Context, id string, vec []float32, modelVersion string) error

	// State is a small key-value table for runtime state.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Close releases the database handle.
	Close() error
}
