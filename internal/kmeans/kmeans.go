// Package kmeans partitions numeric feature rows with Lloyd's algorithm.
//
// All randomness flows through the caller-supplied rand.Rand, so a fixed
// seed reproduces the exact same assignments run after run. Seeding uses
// the k-means++ scheme and the best of several restarts is kept, judged by
// within-cluster sum of squared distances.
package kmeans

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
)

const (
	// DefaultMaxIterations bounds a single Lloyd refinement run.
	DefaultMaxIterations = 100
	// DefaultRestarts is how many seedings are tried per Run call.
	DefaultRestarts = 10
)

// ErrEmptyMatrix is returned when there are no rows to cluster.
var ErrEmptyMatrix = errors.New("kmeans: empty feature matrix")

// Config controls one clustering run.
type Config struct {
	// K is the number of clusters. Required.
	K int
	// MaxIterations caps each refinement run. Zero means
	// DefaultMaxIterations.
	MaxIterations int
	// Restarts is the number of independent seedings tried; the lowest
	// inertia wins. Zero means DefaultRestarts.
	Restarts int
	// Rand is the sole randomness source. Required, never seeded
	// implicitly.
	Rand *rand.Rand
}

// Result is the winning run for one Config.
type Result struct {
	// Labels holds a 1-based cluster label per input row. Label i maps to
	// Centroids[i-1].
	Labels    []int
	Centroids [][]float64
	// Inertia is the within-cluster sum of squared distances.
	Inertia float64
	// Iterations is the number of assignment passes the winning run took.
	Iterations int
	// Converged reports whether assignments stabilized before the
	// iteration cap.
	Converged bool
}

// Run clusters rows into cfg.K groups and returns the best restart.
func Run(rows [][]float64, cfg Config) (*Result, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyMatrix
	}
	if cfg.K < 1 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", cfg.K)
	}
	if cfg.K > len(rows) {
		return nil, fmt.Errorf("kmeans: k=%d exceeds %d feature rows", cfg.K, len(rows))
	}
	if cfg.Rand == nil {
		return nil, errors.New("kmeans: Config.Rand is required")
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	restarts := cfg.Restarts
	if restarts <= 0 {
		restarts = DefaultRestarts
	}

	var best *Result
	for r := 0; r < restarts; r++ {
		res := lloyd(rows, cfg.K, maxIter, cfg.Rand)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// lloyd runs one seeded refinement to stabilization or the iteration cap.
func lloyd(rows [][]float64, k, maxIter int, rng *rand.Rand) *Result {
	centroids := seedPlusPlus(rows, k, rng)

	assignments := make([]int, len(rows))
	for i := range assignments {
		assignments[i] = -1
	}

	iterations := 0
	converged := false
	for iterations < maxIter {
		iterations++
		changed := false
		for i, row := range rows {
			c := nearestCentroid(centroids, row)
			if c != assignments[i] {
				assignments[i] = c
				changed = true
			}
		}
		if !changed {
			converged = true
			break
		}
		centroids = recompute(rows, assignments, centroids, k)
	}

	labels := make([]int, len(assignments))
	for i, a := range assignments {
		labels[i] = a + 1
	}
	return &Result{
		Labels:     labels,
		Centroids:  centroids,
		Inertia:    inertia(rows, assignments, centroids),
		Iterations: iterations,
		Converged:  converged,
	}
}

// seedPlusPlus picks k initial centroids: the first uniformly, each later
// one weighted by squared distance to the nearest centroid chosen so far.
func seedPlusPlus(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, slices.Clone(rows[rng.Intn(len(rows))]))

	nearest := make([]float64, len(rows))
	for i, row := range rows {
		nearest[i] = sqDist(row, centroids[0])
	}

	for len(centroids) < k {
		total := 0.0
		for _, d := range nearest {
			total += d
		}
		var idx int
		if total == 0 {
			// Every remaining point coincides with a chosen centroid.
			idx = rng.Intn(len(rows))
		} else {
			target := rng.Float64() * total
			acc := 0.0
			idx = len(rows) - 1
			for i, d := range nearest {
				acc += d
				if acc >= target {
					idx = i
					break
				}
			}
		}
		c := slices.Clone(rows[idx])
		centroids = append(centroids, c)
		for i, row := range rows {
			if d := sqDist(row, c); d < nearest[i] {
				nearest[i] = d
			}
		}
	}
	return centroids
}

// nearestCentroid returns the index of the closest centroid, lowest index
// winning ties.
func nearestCentroid(centroids [][]float64, row []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if d := sqDist(row, c); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// recompute replaces each centroid with the mean of its assigned rows. A
// cluster that lost every row keeps its previous centroid so the next
// assignment pass can still use it.
func recompute(rows [][]float64, assignments []int, prev [][]float64, k int) [][]float64 {
	dim := len(rows[0])
	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	counts := make([]int, k)

	for i, row := range rows {
		a := assignments[i]
		counts[a]++
		for j, v := range row {
			sums[a][j] += v
		}
	}

	centroids := make([][]float64, k)
	for i := range centroids {
		if counts[i] == 0 {
			centroids[i] = slices.Clone(prev[i])
			continue
		}
		c := make([]float64, dim)
		for j := range c {
			c[j] = sums[i][j] / float64(counts[i])
		}
		centroids[i] = c
	}
	return centroids
}

func inertia(rows [][]float64, assignments []int, centroids [][]float64) float64 {
	total := 0.0
	for i, row := range rows {
		total += sqDist(row, centroids[assignments[i]])
	}
	return total
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
