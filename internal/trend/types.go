// Package trend detects emerging research topics by clustering recent
// document embeddings and comparing cluster volume against the prior
// window. The whole analysis is deterministic: fixed clustering seed,
// stable iteration order, and a fixed significance threshold.
package trend

import "time"

// Config tunes trend analysis.
type Config struct {
	// WindowDays is the width of the sliding comparison window
	// (default: 30).
	WindowDays int `yaml:"window_days"`

	// MaxTopics bounds the number of clusters; the effective k is
	// min(MaxTopics, n/2) for n current-window documents (default: 5).
	MaxTopics int `yaml:"max_topics"`

	// ZThreshold is the two-proportion z-score above which growth counts
	// as statistically significant (default: 1.96, the 95% level).
	ZThreshold float64 `yaml:"z_threshold"`

	// MaxIterations bounds k-means refinement (default: 25).
	MaxIterations int `yaml:"max_iterations"`

	// Seed fixes centroid initialization so repeated runs over the same
	// snapshot produce identical clusters (default: 1).
	Seed int64 `yaml:"seed"`

	// LabelTerms is how many entity terms label each topic (default: 3).
	LabelTerms int `yaml:"label_terms"`
}

// DefaultConfig returns trend analysis defaults.
func DefaultConfig() Config {
	return Config{
		WindowDays:    30,
		MaxTopics:     5,
		ZThreshold:    1.96,
		MaxIterations: 25,
		Seed:          1,
		LabelTerms:    3,
	}
}

// Window is a half-open publication time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Topic is one clustered research theme with its window-over-window volume.
type Topic struct {
	// Label is the topic's display name, joined from its top entity terms.
	Label string

	// Terms are the most frequent entity surface forms among member
	// documents, most frequent first.
	Terms []string

	// CurrentCount and PriorCount are document volumes per window.
	CurrentCount int
	PriorCount   int

	// GrowthRate is (current - prior) / max(prior, 1).
	GrowthRate float64

	// ZScore is the two-proportion z-test statistic for the volume shift.
	ZScore float64

	// Emerging marks topics whose growth is positive and statistically
	// significant at the configured threshold.
	Emerging bool

	// DocIDs are the current-window member documents, score-agnostic,
	// sorted for stable output.
	DocIDs []string
}

// Report is one complete trend analysis run.
type Report struct {
	GeneratedAt  time.Time
	Current      Window
	Prior        Window
	TotalCurrent int
	TotalPrior   int

	// Topics are ordered by z-score descending, label ascending on ties.
	Topics []Topic
}
