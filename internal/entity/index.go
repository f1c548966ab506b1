package entity

import (
	"sort"
	"sync/atomic"

	"github.com/protlit/protlit/internal/store"
)

// Match is one entity-path hit for a document.
type Match struct {
	DocID string
	Type  store.EntityType
	// Score is 1.0 for a direct surface-form match, 0.5 through an alias.
	Score float64
}

// Exact and alias match contributions per the entity path contract.
const (
	ExactMatchScore = 1.0
	AliasMatchScore = 0.5
)

// posting records one indexed entity occurrence.
type posting struct {
	docID    string
	etype    store.EntityType
	viaAlias bool // keyed under the canonical form of an alias surface form
}

// Index is an immutable normalized-surface-form -> document mapping.
// Ingestion builds a fresh Index per snapshot generation and publishes it
// through Holder; queries read it lock-free.
type Index struct {
	generation uint64
	byText     map[string][]posting
}

// Builder accumulates entity mentions for the next index generation.
type Builder struct {
	aliases *AliasTable
	byText  map[string][]posting
}

// NewBuilder starts an index build against the given alias table.
// A nil table disables alias resolution.
func NewBuilder(aliases *AliasTable) *Builder {
	return &Builder{
		aliases: aliases,
		byText:  make(map[string][]posting),
	}
}

// Add indexes one entity mention. Mentions with types outside the closed set
// are dropped; confidence is not indexed, only presence.
func (b *Builder) Add(m store.EntityMention) {
	if !store.ValidEntityType(m.Type) {
		return
	}
	key := Normalize(m.Text)
	if key == "" {
		return
	}

	b.byText[key] = append(b.byText[key], posting{docID: m.DocID, etype: m.Type})

	// Index the canonical form too, so a query using the long form still
	// finds a document that only mentioned the alias.
	if canon, ok := b.aliases.Canonical(key); ok {
		b.byText[canon] = append(b.byText[canon],
			posting{docID: m.DocID, etype: m.Type, viaAlias: true})
	}
}

// AddDocument indexes all mentions of a document, skipping tombstones.
func (b *Builder) AddDocument(doc *store.Document) {
	if doc.Tombstone {
		return
	}
	for _, m := range doc.Entities {
		if m.DocID == "" {
			m.DocID = doc.ID
		}
		b.Add(m)
	}
}

// Build freezes the builder into an index at the given generation.
func (b *Builder) Build(generation uint64) *Index {
	return &Index{generation: generation, byText: b.byText}
}

// Generation returns the snapshot generation the index was built against.
func (idx *Index) Generation() uint64 { return idx.generation }

// Terms returns the number of distinct indexed surface forms.
func (idx *Index) Terms() int { return len(idx.byText) }

// Lookup resolves one query term to per-document entity matches.
// Direct surface-form hits score 1.0; hits reached through the alias table
// score 0.5. Each document keeps its best score.
func (idx *Index) Lookup(term string, aliases *AliasTable) []Match {
	key := Normalize(term)
	if key == "" {
		return nil
	}

	best := make(map[string]Match)
	merge := func(p posting, score float64) {
		if cur, ok := best[p.docID]; ok && cur.Score >= score {
			return
		}
		best[p.docID] = Match{DocID: p.docID, Type: p.etype, Score: score}
	}

	for _, p := range idx.byText[key] {
		if p.viaAlias {
			merge(p, AliasMatchScore)
		} else {
			merge(p, ExactMatchScore)
		}
	}

	// The query term itself may be an alias for an indexed canonical form.
	if canon, ok := aliases.Canonical(key); ok {
		for _, p := range idx.byText[canon] {
			merge(p, AliasMatchScore)
		}
	}

	if len(best) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].DocID < matches[j].DocID
	})
	return matches
}

// Holder publishes entity indexes with an atomic pointer swap.
type Holder struct {
	current atomic.Pointer[Index]
}

// NewHolder starts with an empty generation-zero index.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(NewBuilder(nil).Build(0))
	return h
}

// Load returns the current index.
func (h *Holder) Load() *Index {
	return h.current.Load()
}

// Swap publishes a new index.
func (h *Holder) Swap(idx *Index) {
	h.current.Store(idx)
}
