package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

func regularSeries(n int, interval time.Duration, pressure func(i int) float64) timeseries.Series {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(timeseries.Series, n)
	for i := range s {
		s[i] = timeseries.Sample{
			Time:      base.Add(time.Duration(i) * interval),
			Pressure:  pressure(i),
			Frequency: 25 + 0.1*float64(i%7),
		}
	}
	return s
}

func defaultConfig() Config {
	return Config{WindowSize: 10, SamplingRate: 2, Interpolation: timeseries.Linear}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "tiny window", cfg: Config{WindowSize: 1, SamplingRate: 2}},
		{name: "zero rate", cfg: Config{WindowSize: 10, SamplingRate: 0}},
		{name: "bad gap fraction", cfg: Config{WindowSize: 10, SamplingRate: 2, MaxGapFraction: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestWindowPartitionIsTotalAndContiguous(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)

	s := regularSeries(95, 2*time.Second, func(i int) float64 { return 2.0 })
	it, err := e.Windows(s)
	require.NoError(t, err)

	// 95 samples, windows of 10: 9 full windows, trailing 5 dropped.
	assert.Equal(t, 9, it.Count())

	var prevEnd time.Time
	count := 0
	for {
		w, vec, ok := it.Next()
		if !ok {
			break
		}
		assert.Equal(t, count, w.Index)
		assert.Len(t, vec, NumFeatures)
		assert.Len(t, w.Samples, 10)
		if count > 0 {
			assert.Equal(t, prevEnd.Add(2*time.Second), w.Start, "windows must be contiguous")
		}
		prevEnd = w.Samples[len(w.Samples)-1].Time
		count++
	}
	assert.Equal(t, 9, count)
}

func TestIteratorRestartable(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)

	s := regularSeries(30, 2*time.Second, func(i int) float64 { return float64(i) })
	it, err := e.Windows(s)
	require.NoError(t, err)

	_, first, ok := it.Next()
	require.True(t, ok)
	for {
		if _, _, ok := it.Next(); !ok {
			break
		}
	}

	it.Reset()
	_, again, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, first, again)
}

func TestShortSeriesYieldsSingleWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.WindowSize = 400
	e, err := New(cfg)
	require.NoError(t, err)

	s := regularSeries(50, 2*time.Second, func(i int) float64 { return 2.0 })
	it, err := e.Windows(s)
	require.NoError(t, err)

	require.Equal(t, 1, it.Count())
	w, vec, ok := it.Next()
	require.True(t, ok)
	assert.Len(t, w.Samples, 50)
	assert.Len(t, vec, NumFeatures)

	_, _, ok = it.Next()
	assert.False(t, ok)
}

func TestFeatureValues(t *testing.T) {
	e, err := New(defaultConfig())
	require.NoError(t, err)

	// Pressure ramps 0..9 within the single window.
	s := regularSeries(10, 2*time.Second, func(i int) float64 { return float64(i) })
	it, err := e.Windows(s)
	require.NoError(t, err)

	_, vec, ok := it.Next()
	require.True(t, ok)

	assert.InDelta(t, 4.5, vec[0], 1e-9, "pressure mean")
	assert.InDelta(t, 0.0, vec[2], 1e-9, "pressure min")
	assert.InDelta(t, 9.0, vec[3], 1e-9, "pressure max")
	assert.InDelta(t, 4.5, vec[4], 1e-9, "pressure median")
	assert.InDelta(t, 1.0, vec[12], 1e-9, "pressure slope of unit ramp")
}

func TestNormalizationRequiresFittedScaler(t *testing.T) {
	cfg := defaultConfig()
	cfg.Normalize = true
	e, err := New(cfg)
	require.NoError(t, err)

	s := regularSeries(30, 2*time.Second, func(i int) float64 { return 2.0 })
	_, err = e.Windows(s)
	assert.Error(t, err)
}

func TestNormalizationUsesReferenceStatistics(t *testing.T) {
	cfg := defaultConfig()
	cfg.Normalize = true
	e, err := New(cfg)
	require.NoError(t, err)

	reference := regularSeries(100, 2*time.Second, func(i int) float64 {
		return 2.0 + 0.1*math.Sin(float64(i))
	})
	require.NoError(t, e.FitScaler(reference))

	it, err := e.Windows(reference)
	require.NoError(t, err)

	// Scaled reference vectors should be roughly centered.
	var sum float64
	n := 0
	for {
		_, vec, ok := it.Next()
		if !ok {
			break
		}
		sum += vec[0]
		n++
	}
	assert.InDelta(t, 0.0, sum/float64(n), 1e-6)
}

func TestOutlierClipping(t *testing.T) {
	values := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}
	clipped := clipOutliers(values)
	assert.Less(t, max64(clipped), 100.0)
	assert.Equal(t, 1.0, clipped[0])
}

func TestGapFailsExtraction(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxGapFraction = 0.1 // 10 samples * 2s * 0.1 = 2s max gap
	e, err := New(cfg)
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := timeseries.Series{
		{Time: base, Pressure: 2},
		{Time: base.Add(2 * time.Second), Pressure: 2},
		{Time: base.Add(time.Minute), Pressure: 2},
	}

	_, err = e.Windows(s)
	var gap *timeseries.DataGapError
	require.ErrorAs(t, err, &gap)
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	assert.InDelta(t, 2.5, quantile(values, 0.5), 1e-12)
	assert.InDelta(t, 1.0, quantile(values, 0), 1e-12)
	assert.InDelta(t, 4.0, quantile(values, 1), 1e-12)
}
