package entity

import (
	"context"

	"github.com/protlit/protlit/internal/store"
)

// Extractor is the optional entity-extraction capability. The same
// implementation serves ingestion and query-time extraction; when it is
// absent or failing, the entity path degrades to token matching via
// QueryTerms and the query still succeeds.
type Extractor interface {
	// Extract returns entity mentions found in text.
	Extract(ctx context.Context, text string) ([]store.EntityMention, error)

	// Available checks if the extractor is ready.
	Available(ctx context.Context) bool
}

// ExtractQueryTerms derives entity candidate terms for a query.
// With a working extractor the extracted surface forms are used; otherwise
// (nil extractor, unavailable, or error) it falls back to query n-grams.
// This function never fails.
func ExtractQueryTerms(ctx context.Context, ex Extractor, query string) []string {
	if ex == nil || !ex.Available(ctx) {
		return QueryTerms(query)
	}

	mentions, err := ex.Extract(ctx, query)
	if err != nil || len(mentions) == 0 {
		return QueryTerms(query)
	}

	seen := make(map[string]struct{}, len(mentions))
	terms := make([]string, 0, len(mentions))
	for _, m := range mentions {
		key := Normalize(m.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, key)
	}
	return terms
}
