// Package search implements the query planner and ranking fusion: three
// retrieval paths (semantic, lexical, entity) run concurrently, their scores
// are normalized and combined into one deterministic ranking, and final
// rankings are cached by query fingerprint.
package search

import (
	"time"

	"github.com/protlit/protlit/internal/store"
)

// Weights configures the relative contribution of each fusion component.
type Weights struct {
	// Semantic is the weight for cosine similarity (default: 0.4).
	Semantic float64 `yaml:"semantic"`

	// Lexical is the weight for full-text relevance (default: 0.3).
	Lexical float64 `yaml:"lexical"`

	// Entity is the weight for entity matches (default: 0.2).
	Entity float64 `yaml:"entity"`

	// Recency is the weight for the publication-age decay (default: 0.1).
	Recency float64 `yaml:"recency"`
}

// DefaultWeights returns the default fusion weight profile.
func DefaultWeights() Weights {
	return Weights{
		Semantic: 0.4,
		Lexical:  0.3,
		Entity:   0.2,
		Recency:  0.1,
	}
}

// Valid rejects negative weights and all-zero profiles.
func (w Weights) Valid() bool {
	if w.Semantic < 0 || w.Lexical < 0 || w.Entity < 0 || w.Recency < 0 {
		return false
	}
	return w.Semantic+w.Lexical+w.Entity+w.Recency > 0
}

// Options configures a single search call.
type Options struct {
	// Limit is the maximum number of results (default from config).
	Limit int

	// Filter scopes retrieval by date range and source.
	Filter store.Filter

	// Weights overrides the default weight profile.
	Weights *Weights

	// Diversify enables the MMR re-ranking pass over the result head.
	Diversify bool

	// Timeout overrides the total query budget when positive; it can only
	// shorten the configured budget, never extend it.
	Timeout time.Duration
}

// Result is one ranked document with its score decomposition.
type Result struct {
	// Document is the full document from the metadata store.
	Document *store.Document

	// DocID duplicates Document.ID for callers that only need the ID.
	DocID string

	// Score is the composite fusion score, clamped to [0,1].
	Score float64

	// Per-path components, each in [0,1]. A path the document did not
	// appear in contributes zero.
	Semantic float64
	Lexical  float64
	Entity   float64
	Recency  float64

	// Rank is the 1-indexed final position.
	Rank int

	// MatchedTerms are the lexical terms that matched, when any.
	MatchedTerms []string
}

// Degradation records which parts of a query were served partially.
// Degraded queries still succeed; callers surface the flags to users.
type Degradation struct {
	// SemanticTimeout: the semantic path exceeded its budget.
	SemanticTimeout bool
	// LexicalTimeout: the lexical path exceeded its budget.
	LexicalTimeout bool
	// EntityTimeout: the entity path exceeded its budget.
	EntityTimeout bool
	// EmbedderUnavailable: the embedding capability was unreachable.
	EmbedderUnavailable bool
	// QueryTimeout: the total budget expired; the ranking is best-so-far.
	QueryTimeout bool
}

// Any reports whether any degradation occurred.
func (d Degradation) Any() bool {
	return d.SemanticTimeout || d.LexicalTimeout || d.EntityTimeout ||
		d.EmbedderUnavailable || d.QueryTimeout
}

// Response is a complete answer to one search call.
type Response struct {
	Results   []*Result
	Degraded  Degradation
	FromCache bool
	Took      time.Duration
}

// Config tunes the query planner.
type Config struct {
	// DefaultLimit is used when Options.Limit is zero (default: 20).
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit caps Options.Limit (default: 100).
	MaxLimit int `yaml:"max_limit"`

	// CandidateMultiplier over-fetches each path by limit*multiplier so
	// fusion sees candidates a single path would have cut (default: 4).
	CandidateMultiplier int `yaml:"candidate_multiplier"`

	// PathTimeout bounds each retrieval path (default: 500ms).
	PathTimeout time.Duration `yaml:"path_timeout"`

	// QueryTimeout bounds the whole query (default: 2s).
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// RecencyHalfLife is the half-life of the exponential recency decay
	// (default: 180 days).
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`

	// DiversityThreshold is the cosine similarity above which a candidate
	// counts as a near-duplicate of an already selected result
	// (default: 0.92).
	DiversityThreshold float64 `yaml:"diversity_threshold"`

	// DiversityTopN bounds the MMR pass to the fused head (default: 50).
	DiversityTopN int `yaml:"diversity_top_n"`

	// Weights is the default weight profile.
	Weights Weights `yaml:"weights"`
}

// DefaultConfig returns planner defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:        20,
		MaxLimit:            100,
		CandidateMultiplier: 4,
		PathTimeout:         500 * time.Millisecond,
		QueryTimeout:        2 * time.Second,
		RecencyHalfLife:     180 * 24 * time.Hour,
		DiversityThreshold:  0.92,
		DiversityTopN:       50,
		Weights:             DefaultWeights(),
	}
}
