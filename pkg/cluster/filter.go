package cluster

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Label is the aggregate classification of a cluster.
type Label int

const (
	Operational Label = iota // recurring non-leak pattern, members become false anomalies
	Leak                     // rare, strongly deviant pattern, members stay candidates
)

func (l Label) String() string {
	if l == Leak {
		return "leak"
	}
	return "operational"
}

// Cluster is one dendrogram leaf group with its aggregate verdict.
type Cluster struct {
	ID            int
	Members       []int // candidate indices in input order
	MeanDeviation float64
	Label         Label
}

// Config controls the false-positive filter.
type Config struct {
	NumClusters int
	Linkage     Linkage
	Metric      Metric

	// SignificanceFactor scales the mean |decision| over all candidates into
	// the deviation threshold at which a cluster is leak-like no matter how
	// many members it has.
	SignificanceFactor float64
}

// DefaultConfig returns the filter defaults.
func DefaultConfig() Config {
	return Config{
		NumClusters:        10,
		Linkage:            Ward,
		Metric:             Euclidean,
		SignificanceFactor: 1.0,
	}
}

// Filter clusters the candidate vectors and labels every cluster. deviations
// holds the |decision score| of each candidate, index-aligned with vectors.
// The returned assignment maps each candidate to its cluster id; every
// candidate belongs to exactly one cluster.
//
// A cluster is demoted to operational only when it is BOTH below the
// significance threshold and denser than an even share of candidates. Leaks
// produce many contiguous high-deviation windows, so size alone never demotes
// a cluster, and rare patterns stay leak-like even when their deviation is
// mild. Near-tie cases resolve toward keeping the leak label.
func Filter(vectors [][]float64, deviations []float64, cfg Config) ([]Cluster, []int, error) {
	if len(vectors) != len(deviations) {
		return nil, nil, fmt.Errorf("vector/deviation length mismatch: %d vs %d", len(vectors), len(deviations))
	}
	if len(vectors) == 0 {
		return nil, nil, nil
	}

	assignments, err := Agglomerate(vectors, cfg.NumClusters, cfg.Linkage, cfg.Metric)
	if err != nil {
		return nil, nil, err
	}

	k := 0
	for i, a := range assignments {
		if a < 0 {
			return nil, nil, fmt.Errorf("candidate %d left without a cluster", i)
		}
		if a+1 > k {
			k = a + 1
		}
	}

	clusters := make([]Cluster, k)
	for id := range clusters {
		clusters[id].ID = id
	}
	for i, a := range assignments {
		clusters[a].Members = append(clusters[a].Members, i)
	}

	overallMean := stat.Mean(deviations, nil)
	significance := overallMean * cfg.SignificanceFactor
	// Even split of candidates across requested clusters; larger is "dense".
	densityLimit := float64(len(vectors)) / float64(cfg.NumClusters)

	for id := range clusters {
		c := &clusters[id]
		sum := 0.0
		for _, m := range c.Members {
			sum += deviations[m]
		}
		c.MeanDeviation = sum / float64(len(c.Members))

		sparse := float64(len(c.Members)) < densityLimit
		switch {
		case c.MeanDeviation >= significance:
			c.Label = Leak
		case sparse:
			c.Label = Leak
		default:
			c.Label = Operational
		}
	}

	return clusters, assignments, nil
}
