package search

import "math"

// VectorLookup resolves a document's embedding from the current snapshot.
// Returns false when the document has no admitted vector.
type VectorLookup func(docID string) ([]float32, bool)

// diversify applies a greedy maximal-marginal-relevance pass over the head
// of a fused ranking: walking in fusion order, a candidate whose cosine
// similarity to any already selected result exceeds the threshold is
// deferred behind every non-duplicate, so near-identical papers do not
// dominate the head of the list.
//
// Candidates without a vector can never be recognized as duplicates and
// pass through unpenalized. Only the top topN fused results are considered
// for re-ordering; the tail keeps its fusion order.
func diversify(results []*Result, lookup VectorLookup, threshold float64, topN int) []*Result {
	if len(results) < 3 || lookup == nil || threshold <= 0 {
		return results
	}

	head := results
	var tail []*Result
	if topN > 0 && len(results) > topN {
		head = results[:topN]
		tail = results[topN:]
	}

	selected := make([]*Result, 0, len(head))
	deferred := make([]*Result, 0)
	selectedVecs := make([][]float32, 0, len(head))

	for _, r := range head {
		vec, ok := lookup(r.DocID)
		if !ok {
			selected = append(selected, r)
			continue
		}

		duplicate := false
		for _, sv := range selectedVecs {
			if cosine32(vec, sv) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			deferred = append(deferred, r)
			continue
		}

		selected = append(selected, r)
		selectedVecs = append(selectedVecs, vec)
	}

	reordered := append(selected, deferred...)
	reordered = append(reordered, tail...)

	for i, r := range reordered {
		r.Rank = i + 1
	}
	return reordered
}

// cosine32 computes cosine similarity between two equal-length vectors.
func cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aSq, bSq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aSq += x * x
		bSq += y * y
	}
	if aSq == 0 || bSq == 0 {
		return 0
	}
	return dot / (math.Sqrt(aSq) * math.Sqrt(bSq))
}
