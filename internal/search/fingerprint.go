package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/protlit/protlit/internal/store"
)

// normalizeQuery canonicalizes query text for fingerprinting: lowercase and
// collapsed whitespace. "CRISPR  screen" and "crispr screen" share a
// fingerprint.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// retrievalKey fingerprints everything retrieval depends on: the normalized
// query and the filter. Weights are deliberately excluded, so a weight-only
// change hits the same cached path scores and re-fuses them.
func retrievalKey(query string, filter store.Filter) string {
	h := sha256.New()
	_, _ = h.Write([]byte(normalizeQuery(query)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(filter.Canonical()))
	return hex.EncodeToString(h.Sum(nil))
}

// weightsKey fingerprints a weight profile plus the diversity toggle, which
// together determine the final ordering given fixed path scores.
func weightsKey(w Weights, diversify bool) string {
	return fmt.Sprintf("s=%.6f;l=%.6f;e=%.6f;r=%.6f;d=%t",
		w.Semantic, w.Lexical, w.Entity, w.Recency, diversify)
}
