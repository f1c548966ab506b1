package store

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filter scopes retrieval to a publication date range and source set.
// The zero value matches everything.
type Filter struct {
	From    time.Time
	To      time.Time
	Sources []Source
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.From.IsZero() && f.To.IsZero() && len(f.Sources) == 0
}

// Validate rejects inverted date ranges and unknown sources.
func (f Filter) Validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return fmt.Errorf("filter date range inverted: %s after %s",
			f.From.Format(time.DateOnly), f.To.Format(time.DateOnly))
	}
	for _, s := range f.Sources {
		switch s {
		case SourcePubMed, SourceArxiv, SourceBiorxiv, SourceMedrxiv:
		default:
			return fmt.Errorf("unknown source %q", s)
		}
	}
	return nil
}

// MatchesMeta reports whether a vector's metadata passes the filter.
func (f Filter) MatchesMeta(m VectorMeta) bool {
	return f.matches(m.PublishedAt, m.Source)
}

// MatchesDocument reports whether a document passes the filter.
// Tombstoned documents never match.
func (f Filter) MatchesDocument(d *Document) bool {
	if d.Tombstone {
		return false
	}
	return f.matches(d.PublishedAt, d.Source)
}

func (f Filter) matches(published time.Time, source Source) bool {
	if !f.From.IsZero() && published.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && published.After(f.To) {
		return false
	}
	if len(f.Sources) == 0 {
		return true
	}
	for _, s := range f.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Overlaps reports whether two filters can match a common document.
// Used by lazy cache invalidation to decide if a dirty scope touches a
// cached entry. Conservative: unknown overlap counts as overlap.
func (f Filter) Overlaps(other Filter) bool {
	if !f.From.IsZero() && !other.To.IsZero() && other.To.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !other.From.IsZero() && other.From.After(f.To) {
		return false
	}
	if len(f.Sources) == 0 || len(other.Sources) == 0 {
		return true
	}
	for _, a := range f.Sources {
		for _, b := range other.Sources {
			if a == b {
				return true
			}
		}
	}
	return false
}

// Canonical returns a stable string form of the filter for fingerprinting.
// Source order does not affect the result.
func (f Filter) Canonical() string {
	sources := make([]string, len(f.Sources))
	for i, s := range f.Sources {
		sources[i] = string(s)
	}
	sort.Strings(sources)

	var b strings.Builder
	b.WriteString("from=")
	if !f.From.IsZero() {
		b.WriteString(f.From.UTC().Format(time.RFC3339))
	}
	b.WriteString(";to=")
	if !f.To.IsZero() {
		b.WriteString(f.To.UTC().Format(time.RFC3339))
	}
	b.WriteString(";sources=")
	b.WriteString(strings.Join(sources, ","))
	return b.String()
}
