package trend

import (
	"math"
	"math/rand"
)

// kmeans clusters unit-normalized vectors with a fixed seed so results are
// reproducible run to run. Initialization is k-means++ style: the first
// centroid comes from the seeded source, later ones are drawn proportional
// to squared distance from the nearest chosen centroid.
func kmeans(vectors [][]float32, k int, seed int64, maxIterations int) []int {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := initCentroids(vectors, k, rng)
	assignments := make([]int, n)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(v, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		recomputeCentroids(vectors, assignments, centroids)
	}
	return assignments
}

func initCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centroids := make([][]float64, 0, k)

	first := rng.Intn(n)
	centroids = append(centroids, toFloat64(vectors[first]))

	dists := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d := math.Inf(1)
			for _, c := range centroids {
				if sd := sqDist(v, c); sd < d {
					d = sd
				}
			}
			dists[i] = d
			total += d
		}
		// All remaining points coincide with a centroid: fall back to a
		// uniform draw.
		var next int
		if total == 0 {
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			var acc float64
			for i, d := range dists {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, toFloat64(vectors[next]))
	}
	return centroids
}

func recomputeCentroids(vectors [][]float32, assignments []int, centroids [][]float64) {
	dim := len(vectors[0])
	counts := make([]int, len(centroids))
	for c := range centroids {
		for j := 0; j < dim; j++ {
			centroids[c][j] = 0
		}
	}
	for i, v := range vectors {
		c := assignments[i]
		counts[c]++
		for j, x := range v {
			centroids[c][j] += float64(x)
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for j := range centroids[c] {
			centroids[c][j] /= float64(counts[c])
		}
	}
}

// nearestCentroid assigns a vector to its closest centroid.
func nearestCentroid(v []float32, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(v, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// centroidsFromAssignments rebuilds the final centroids for later
// prior-window assignment.
func centroidsFromAssignments(vectors [][]float32, assignments []int, k int) [][]float64 {
	dim := len(vectors[0])
	centroids := make([][]float64, k)
	for c := range centroids {
		centroids[c] = make([]float64, dim)
	}
	recomputeCentroids(vectors, assignments, centroids)
	return centroids
}

func sqDist(v []float32, c []float64) float64 {
	var sum float64
	for i, x := range v {
		d := float64(x) - c[i]
		sum += d * d
	}
	return sum
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
