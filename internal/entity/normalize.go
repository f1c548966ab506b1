// Package entity provides entity surface-form normalization, the alias
// table, and the entity index consumed by the entity retrieval path.
package entity

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes an entity surface form: case fold, strip
// punctuation, collapse internal whitespace. "PD-1" and "pd 1" normalize to
// the same key.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

// AliasTable maps normalized alias forms to a canonical normalized form.
// Lookups through an alias score lower than direct matches.
type AliasTable struct {
	canonical map[string]string
}

// NewAliasTable builds an alias table from raw surface-form pairs.
// Both sides are normalized; identity mappings are dropped.
func NewAliasTable(pairs map[string]string) *AliasTable {
	t := &AliasTable{canonical: make(map[string]string, len(pairs))}
	for alias, canon := range pairs {
		na, nc := Normalize(alias), Normalize(canon)
		if na == "" || nc == "" || na == nc {
			continue
		}
		t.canonical[na] = nc
	}
	return t
}

// DefaultAliases covers common protein-engineering surface-form variants.
func DefaultAliases() *AliasTable {
	return NewAliasTable(map[string]string{
		"PD-1":      "programmed death-1",
		"PD-L1":     "programmed death-ligand 1",
		"CRISPR":    "crispr-cas9",
		"Cas9":      "crispr-cas9",
		"mAb":       "monoclonal antibody",
		"scFv":      "single-chain variable fragment",
		"AlphaFold": "alphafold2",
		"MD":        "molecular dynamics",
	})
}

// Canonical resolves a normalized form through the alias table.
// Returns the canonical form and true when an alias mapping applied.
func (t *AliasTable) Canonical(normalized string) (string, bool) {
	if t == nil {
		return normalized, false
	}
	if canon, ok := t.canonical[normalized]; ok {
		return canon, true
	}
	return normalized, false
}

// QueryTerms produces the candidate entity terms of a query: normalized
// unigrams, bigrams, and trigrams. Used when no extractor capability is
// configured (graceful degradation to token matching).
func QueryTerms(query string) []string {
	words := strings.Fields(Normalize(query))
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var terms []string
	add := func(t string) {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}

	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(words); i++ {
			add(strings.Join(words[i:i+n], " "))
		}
	}
	return terms
}
