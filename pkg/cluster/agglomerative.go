// Package cluster groups flagged anomaly candidates by shape similarity and
// relabels whole groups as leak-like or operational.
package cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Linkage selects the rule for merging clusters.
type Linkage int

const (
	Ward Linkage = iota
	Complete
	Average
	Single
)

// ParseLinkage maps a configuration string to a linkage method.
func ParseLinkage(s string) (Linkage, error) {
	switch s {
	case "ward", "":
		return Ward, nil
	case "complete":
		return Complete, nil
	case "average":
		return Average, nil
	case "single":
		return Single, nil
	}
	return 0, fmt.Errorf("unknown linkage %q", s)
}

func (l Linkage) String() string {
	switch l {
	case Ward:
		return "ward"
	case Complete:
		return "complete"
	case Average:
		return "average"
	case Single:
		return "single"
	}
	return "unknown"
}

// Metric selects the pairwise distance function.
type Metric int

const (
	Euclidean Metric = iota
	Manhattan
	Cosine
	Correlation
)

// ParseMetric maps a configuration string to a distance metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "euclidean", "":
		return Euclidean, nil
	case "manhattan":
		return Manhattan, nil
	case "cosine":
		return Cosine, nil
	case "correlation":
		return Correlation, nil
	}
	return 0, fmt.Errorf("unknown distance metric %q", s)
}

func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Manhattan:
		return "manhattan"
	case Cosine:
		return "cosine"
	case Correlation:
		return "correlation"
	}
	return "unknown"
}

func (m Metric) distance(a, b []float64) float64 {
	switch m {
	case Manhattan:
		var d float64
		for i := range a {
			d += math.Abs(a[i] - b[i])
		}
		return d
	case Cosine:
		na := floats.Norm(a, 2)
		nb := floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - floats.Dot(a, b)/(na*nb)
	case Correlation:
		r := stat.Correlation(a, b, nil)
		if math.IsNaN(r) {
			return 1
		}
		return 1 - r
	default:
		var d2 float64
		for i := range a {
			d := a[i] - b[i]
			d2 += d * d
		}
		return math.Sqrt(d2)
	}
}

// Agglomerate performs bottom-up hierarchical clustering of the vectors and
// cuts the dendrogram into exactly k groups. Assignment ids are in [0, k).
// The procedure is fully deterministic for a fixed input ordering: merge ties
// are broken toward the lowest cluster indices.
//
// Ward linkage is only defined for euclidean distances; other metrics are
// rejected.
func Agglomerate(vectors [][]float64, k int, linkage Linkage, metric Metric) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	if k < 1 {
		return nil, fmt.Errorf("cluster count must be at least 1, got %d", k)
	}
	if linkage == Ward && metric != Euclidean {
		return nil, fmt.Errorf("ward linkage requires euclidean distances, got %s", metric)
	}
	if k > n {
		k = n
	}

	// Pairwise distances; ward works on squared euclidean distances.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := metric.distance(vectors[i], vectors[j])
			if linkage == Ward {
				d = d * d
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	active := make([]bool, n)
	size := make([]int, n)
	members := make([][]int, n)
	for i := 0; i < n; i++ {
		active[i] = true
		size[i] = 1
		members[i] = []int{i}
	}

	for remaining := n; remaining > k; remaining-- {
		// Closest active pair, lowest indices on ties.
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}

		// Merge bj into bi, then update distances via Lance-Williams.
		for c := 0; c < n; c++ {
			if !active[c] || c == bi || c == bj {
				continue
			}
			var d float64
			dac, dbc, dab := dist[bi][c], dist[bj][c], dist[bi][bj]
			na, nb, nc := float64(size[bi]), float64(size[bj]), float64(size[c])
			switch linkage {
			case Single:
				d = math.Min(dac, dbc)
			case Complete:
				d = math.Max(dac, dbc)
			case Average:
				d = (na*dac + nb*dbc) / (na + nb)
			default: // Ward, on squared distances
				d = ((na+nc)*dac + (nb+nc)*dbc - nc*dab) / (na + nb + nc)
			}
			dist[bi][c] = d
			dist[c][bi] = d
		}

		members[bi] = append(members[bi], members[bj]...)
		size[bi] += size[bj]
		active[bj] = false
	}

	// Relabel surviving clusters to compact ids in input order.
	assignments := make([]int, n)
	next := 0
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		for _, m := range members[i] {
			assignments[m] = next
		}
		next++
	}
	return assignments, nil
}
