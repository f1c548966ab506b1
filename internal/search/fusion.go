package search

import (
	"math"
	"sort"
	"time"
)

// pathScores holds the raw per-path scores for one query before fusion.
// The result cache stores this struct so a weight-only change can re-fuse
// without rerunning retrieval.
type pathScores struct {
	// Semantic maps docID to cosine similarity, clamped to [0,1].
	Semantic map[string]float64
	// Lexical maps docID to the min-max normalized full-text score.
	Lexical map[string]float64
	// Entity maps docID to the entity match score (1.0 exact, 0.5 alias).
	Entity map[string]float64
	// Published maps docID to its publication time, for the recency
	// component and the deterministic tie-break.
	Published map[string]time.Time
	// MatchedTerms maps docID to its matched lexical terms.
	MatchedTerms map[string][]string
}

func newPathScores() *pathScores {
	return &pathScores{
		Semantic:     make(map[string]float64),
		Lexical:      make(map[string]float64),
		Entity:       make(map[string]float64),
		Published:    make(map[string]time.Time),
		MatchedTerms: make(map[string][]string),
	}
}

// candidates returns the union of docIDs across all paths.
func (p *pathScores) candidates() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for id := range p.Semantic {
		add(id)
	}
	for id := range p.Lexical {
		add(id)
	}
	for id := range p.Entity {
		add(id)
	}
	return ids
}

// remove drops a candidate from every path.
func (p *pathScores) remove(id string) {
	delete(p.Semantic, id)
	delete(p.Lexical, id)
	delete(p.Entity, id)
	delete(p.Published, id)
	delete(p.MatchedTerms, id)
}

// minMaxNormalize rescales raw scores to [0,1] per query.
// A single candidate, or a flat score distribution, normalizes to 1.0.
// Chosen over z-score normalization because bleve's raw score range varies
// per query and min-max keeps the best lexical hit comparable to a perfect
// semantic or entity hit.
func minMaxNormalize(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return raw
	}

	min, max := math.Inf(1), math.Inf(-1)
	for _, s := range raw {
		min = math.Min(min, s)
		max = math.Max(max, s)
	}

	normalized := make(map[string]float64, len(raw))
	if max == min {
		for id := range raw {
			normalized[id] = 1.0
		}
		return normalized
	}
	for id, s := range raw {
		normalized[id] = (s - min) / (max - min)
	}
	return normalized
}

// recencyDecay returns the exponential half-life decay of a publication age,
// bounded to [0,1]. Future-dated documents score 1.0.
func recencyDecay(published, now time.Time, halfLife time.Duration) float64 {
	if published.IsZero() || halfLife <= 0 {
		return 0
	}
	age := now.Sub(published)
	if age <= 0 {
		return 1.0
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}

// clamp01 bounds a score to [0,1].
func clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// fuse combines per-path scores into the composite ranking.
//
//	score = wSem·semantic + wLex·lexical + wEnt·entity + wRec·recency
//
// A path a candidate is absent from contributes zero, so no single path is
// required for inclusion. The returned slice is strictly ordered by the
// deterministic tie-break chain: score desc, PublishedAt desc, docID asc.
func fuse(paths *pathScores, weights Weights, now time.Time, halfLife time.Duration) []*Result {
	ids := paths.candidates()
	results := make([]*Result, 0, len(ids))

	for _, id := range ids {
		r := &Result{
			DocID:        id,
			Semantic:     clamp01(paths.Semantic[id]),
			Lexical:      clamp01(paths.Lexical[id]),
			Entity:       clamp01(paths.Entity[id]),
			Recency:      recencyDecay(paths.Published[id], now, halfLife),
			MatchedTerms: paths.MatchedTerms[id],
		}
		r.Score = clamp01(weights.Semantic*r.Semantic +
			weights.Lexical*r.Lexical +
			weights.Entity*r.Entity +
			weights.Recency*r.Recency)
		results = append(results, r)
	}

	sortResults(results, paths.Published)

	for i, r := range results {
		r.Rank = i + 1
	}
	return results
}

// sortResults applies the deterministic total order.
func sortResults(results []*Result, published map[string]time.Time) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		pa, pb := published[a.DocID], published[b.DocID]
		if !pa.Equal(pb) {
			return pa.After(pb)
		}
		return a.DocID < b.DocID
	})
}
