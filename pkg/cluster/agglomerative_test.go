package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinkage(t *testing.T) {
	tests := []struct {
		in      string
		want    Linkage
		wantErr bool
	}{
		{in: "ward", want: Ward},
		{in: "", want: Ward},
		{in: "complete", want: Complete},
		{in: "average", want: Average},
		{in: "single", want: Single},
		{in: "centroid", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLinkage(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, l)
		})
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("manhattan")
	require.NoError(t, err)
	assert.Equal(t, Manhattan, m)

	_, err = ParseMetric("hamming")
	assert.Error(t, err)
}

// threeBlobs returns 30 points in three well-separated groups of 10.
func threeBlobs(rng *rand.Rand) [][]float64 {
	centers := [][2]float64{{0, 0}, {10, 10}, {-10, 10}}
	var out [][]float64
	for _, c := range centers {
		for i := 0; i < 10; i++ {
			out = append(out, []float64{
				c[0] + rng.NormFloat64()*0.3,
				c[1] + rng.NormFloat64()*0.3,
			})
		}
	}
	return out
}

func TestAgglomerateSeparatesBlobs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vectors := threeBlobs(rng)

	for _, linkage := range []Linkage{Ward, Complete, Average, Single} {
		t.Run(linkage.String(), func(t *testing.T) {
			assignments, err := Agglomerate(vectors, 3, linkage, Euclidean)
			require.NoError(t, err)
			require.Len(t, assignments, 30)

			// Each blob of 10 should map to a single cluster id.
			for blob := 0; blob < 3; blob++ {
				first := assignments[blob*10]
				for i := 1; i < 10; i++ {
					assert.Equal(t, first, assignments[blob*10+i],
						"blob %d split by %s linkage", blob, linkage)
				}
			}
		})
	}
}

func TestAgglomerateMetrics(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	vectors := threeBlobs(rng)

	for _, metric := range []Metric{Euclidean, Manhattan, Cosine, Correlation} {
		t.Run(metric.String(), func(t *testing.T) {
			assignments, err := Agglomerate(vectors, 3, Average, metric)
			require.NoError(t, err)
			assert.Len(t, assignments, 30)
		})
	}
}

func TestAgglomerateExactClusterCount(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	vectors := threeBlobs(rng)

	assignments, err := Agglomerate(vectors, 5, Ward, Euclidean)
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, a := range assignments {
		seen[a] = true
	}
	assert.Len(t, seen, 5)
	for id := range seen {
		assert.GreaterOrEqual(t, id, 0)
		assert.Less(t, id, 5)
	}
}

func TestAgglomerateDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	vectors := threeBlobs(rng)

	first, err := Agglomerate(vectors, 4, Complete, Manhattan)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Agglomerate(vectors, 4, Complete, Manhattan)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAgglomerateEdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assignments, err := Agglomerate(nil, 3, Ward, Euclidean)
		require.NoError(t, err)
		assert.Nil(t, assignments)
	})

	t.Run("fewer points than clusters", func(t *testing.T) {
		vectors := [][]float64{{1, 1}, {2, 2}}
		assignments, err := Agglomerate(vectors, 10, Ward, Euclidean)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, assignments)
	})

	t.Run("ward rejects non-euclidean", func(t *testing.T) {
		_, err := Agglomerate([][]float64{{1}, {2}}, 1, Ward, Cosine)
		assert.Error(t, err)
	})

	t.Run("invalid k", func(t *testing.T) {
		_, err := Agglomerate([][]float64{{1}}, 0, Ward, Euclidean)
		assert.Error(t, err)
	})
}

func TestFilterLabelsClusters(t *testing.T) {
	// Dense low-deviation group (recurring operational pattern) plus a small
	// strongly deviant group (leak-like).
	rng := rand.New(rand.NewSource(21))
	var vectors [][]float64
	var deviations []float64
	for i := 0; i < 16; i++ {
		vectors = append(vectors, []float64{rng.NormFloat64() * 0.2, rng.NormFloat64() * 0.2})
		deviations = append(deviations, 0.1+rng.Float64()*0.05)
	}
	for i := 0; i < 3; i++ {
		vectors = append(vectors, []float64{8 + rng.NormFloat64()*0.2, 8 + rng.NormFloat64()*0.2})
		deviations = append(deviations, 0.9+rng.Float64()*0.1)
	}

	cfg := DefaultConfig()
	cfg.NumClusters = 4
	clusters, assignments, err := Filter(vectors, deviations, cfg)
	require.NoError(t, err)
	require.Len(t, assignments, 19)

	// Every candidate belongs to exactly one cluster.
	for i, a := range assignments {
		require.GreaterOrEqual(t, a, 0, "candidate %d unassigned", i)
		require.Less(t, a, len(clusters))
	}

	leakID := assignments[16]
	assert.Equal(t, Leak, clusters[leakID].Label, "deviant sparse cluster must stay leak-like")

	sawOperational := false
	for _, c := range clusters {
		if c.Label == Operational {
			sawOperational = true
		}
	}
	assert.True(t, sawOperational, "dense low-deviation clusters must be demoted")
}

func TestFilterKeepsLargeDeviantClusters(t *testing.T) {
	// A long leak yields one big cluster of near-identical high-deviation
	// windows. Its size must never demote it.
	rng := rand.New(rand.NewSource(33))
	var vectors [][]float64
	var deviations []float64
	for i := 0; i < 30; i++ {
		vectors = append(vectors, []float64{6 + rng.NormFloat64()*0.1, 6 + rng.NormFloat64()*0.1})
		deviations = append(deviations, 0.9+rng.Float64()*0.05)
	}
	for i := 0; i < 10; i++ {
		vectors = append(vectors, []float64{rng.NormFloat64() * 0.2, rng.NormFloat64() * 0.2})
		deviations = append(deviations, 0.1+rng.Float64()*0.05)
	}

	cfg := DefaultConfig()
	cfg.NumClusters = 2
	clusters, assignments, err := Filter(vectors, deviations, cfg)
	require.NoError(t, err)

	leakID := assignments[0]
	require.Greater(t, len(clusters[leakID].Members), len(vectors)/cfg.NumClusters,
		"the deviant cluster must be dense for this test to bite")
	assert.Equal(t, Leak, clusters[leakID].Label,
		"high-deviation clusters are never demoted for size")
}

func TestFilterEmptyAndMismatch(t *testing.T) {
	clusters, assignments, err := Filter(nil, nil, DefaultConfig())
	require.NoError(t, err)
	assert.Nil(t, clusters)
	assert.Nil(t, assignments)

	_, _, err = Filter([][]float64{{1}}, []float64{1, 2}, DefaultConfig())
	assert.Error(t, err)
}

func TestFilterDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(33))
	vectors := threeBlobs(rng)
	deviations := make([]float64, len(vectors))
	for i := range deviations {
		deviations[i] = rng.Float64()
	}

	cfg := DefaultConfig()
	cfg.NumClusters = 3
	first, firstAssign, err := Filter(vectors, deviations, cfg)
	require.NoError(t, err)

	again, againAssign, err := Filter(vectors, deviations, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, firstAssign, againAssign)
}
