package ocsvm

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/pipeguard/pkg/detectors"
)

func TestParseKernel(t *testing.T) {
	tests := []struct {
		in      string
		want    Kernel
		wantErr bool
	}{
		{in: "rbf", want: RBF},
		{in: "", want: RBF},
		{in: "linear", want: Linear},
		{in: "poly", want: Poly},
		{in: "sigmoid", want: Sigmoid},
		{in: "laplacian", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKernel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
		})
	}
}

func TestParseGamma(t *testing.T) {
	g, err := ParseGamma("auto")
	require.NoError(t, err)
	assert.Equal(t, GammaAuto, g.Mode)

	g, err = ParseGamma("scale")
	require.NoError(t, err)
	assert.Equal(t, GammaScale, g.Mode)

	g, err = ParseGamma("0.25")
	require.NoError(t, err)
	assert.Equal(t, GammaFixed, g.Mode)
	assert.Equal(t, 0.25, g.Value)

	_, err = ParseGamma("-1")
	assert.Error(t, err)
	_, err = ParseGamma("bogus")
	assert.Error(t, err)
}

func TestFitErrors(t *testing.T) {
	t.Run("too few samples", func(t *testing.T) {
		o := New()
		err := o.Fit([][]float64{{1, 2}, {3, 4}})

		var ins *InsufficientTrainingDataError
		require.ErrorAs(t, err, &ins)
	})

	t.Run("zero variance everywhere", func(t *testing.T) {
		data := make([][]float64, 20)
		for i := range data {
			data[i] = []float64{1, 1, 1}
		}
		o := New()
		err := o.Fit(data)

		var ins *InsufficientTrainingDataError
		require.ErrorAs(t, err, &ins)
	})

	t.Run("invalid nu", func(t *testing.T) {
		o := New(WithNu(0.7))
		err := o.Fit(clusterData(rand.New(rand.NewSource(1)), 20, 0, 0))
		assert.Error(t, err)
	})
}

// clusterData draws n points around (cx, cy).
func clusterData(rng *rand.Rand, n int, cx, cy float64) [][]float64 {
	data := make([][]float64, n)
	for i := range data {
		data[i] = []float64{cx + rng.NormFloat64()*0.1, cy + rng.NormFloat64()*0.1}
	}
	return data
}

func TestDecisionSeparatesOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	train := clusterData(rng, 200, 0, 0)

	for _, kernel := range []Kernel{RBF, Linear, Poly, Sigmoid} {
		t.Run(kernel.String(), func(t *testing.T) {
			o := New(WithKernel(kernel), WithNu(0.1), WithGamma(Gamma{Mode: GammaScale}))
			require.NoError(t, o.Fit(train))

			inside, err := o.DecisionOne([]float64{0, 0})
			require.NoError(t, err)
			far, err := o.DecisionOne([]float64{10, 10})
			require.NoError(t, err)

			// An obvious outlier must score below the cluster centre.
			assert.Less(t, far, inside, "kernel %s", kernel)
		})
	}

	// RBF specifically must put a far point outside the boundary.
	o := New(WithKernel(RBF), WithNu(0.1), WithGamma(Gamma{Mode: GammaScale}))
	require.NoError(t, o.Fit(train))
	far, err := o.DecisionOne([]float64{10, 10})
	require.NoError(t, err)
	assert.Negative(t, far)
}

func TestNuBoundsTrainingViolations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	train := clusterData(rng, 200, 2, 2)

	for _, nu := range []float64{0.01, 0.05, 0.2, 0.5} {
		o := New(WithNu(nu), WithGamma(Gamma{Mode: GammaScale}), WithMaxIterations(5000))
		require.NoError(t, o.Fit(train))

		scores, err := o.Decisions(train)
		require.NoError(t, err)

		outside := 0
		for _, s := range scores {
			if s < 0 {
				outside++
			}
		}
		frac := float64(outside) / float64(len(train))
		// At most a nu fraction of training points outside, with slack for
		// points sitting exactly on the margin.
		assert.LessOrEqual(t, frac, nu+0.05, "nu=%g", nu)
	}
}

func TestNonConvergenceIsNotFatal(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	train := clusterData(rng, 100, 0, 0)

	o := New(WithMaxIterations(1), WithGamma(Gamma{Mode: GammaScale}))
	require.NoError(t, o.Fit(train))

	assert.False(t, o.Converged())

	// The best-effort boundary is still usable.
	_, err := o.DecisionOne([]float64{0, 0})
	assert.NoError(t, err)
}

func TestConvergedWithinIterationLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	train := clusterData(rng, 100, 0, 0)

	o := New(WithGamma(Gamma{Mode: GammaScale}), WithMaxIterations(10000))
	require.NoError(t, o.Fit(train))
	assert.True(t, o.Converged())
	assert.Positive(t, o.NumSupportVectors())
}

func TestDecisionsBeforeFit(t *testing.T) {
	o := New()
	_, err := o.Decisions([][]float64{{1, 2}})
	assert.Error(t, err)
	_, err = o.DecisionOne([]float64{1, 2})
	assert.Error(t, err)
	_, err = o.Save()
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	train := clusterData(rng, 150, 1, -1)

	original := New(WithNu(0.1), WithGamma(Gamma{Mode: GammaScale}))
	require.NoError(t, original.Fit(train))

	test := clusterData(rng, 30, 1, -1)
	want, err := original.Decisions(test)
	require.NoError(t, err)

	blob, err := original.Save()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(blob))

	got, err := loaded.Decisions(test)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecisionStream(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	train := clusterData(rng, 100, 0, 0)

	o := New(WithNu(0.1), WithGamma(Gamma{Mode: GammaScale}))
	require.NoError(t, o.Fit(train))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []float64, 4)
	output := make(chan detectors.Score, 4)

	go func() {
		assert.NoError(t, o.DecisionStream(ctx, input, output))
		close(output)
	}()

	input <- []float64{0, 0}
	input <- []float64{25, 25}
	close(input)

	var results []detectors.Score
	for s := range output {
		results = append(results, s)
	}
	require.Len(t, results, 2)
	assert.True(t, results[1].IsAnomaly)
}

func BenchmarkFit(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	train := clusterData(rng, 300, 0, 0)
	o := New(WithGamma(Gamma{Mode: GammaScale}))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.Fit(train)
	}
}

func BenchmarkDecisionOne(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	train := clusterData(rng, 300, 0, 0)
	o := New(WithGamma(Gamma{Mode: GammaScale}))
	o.Fit(train)
	sample := []float64{0.1, -0.1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.DecisionOne(sample)
	}
}
