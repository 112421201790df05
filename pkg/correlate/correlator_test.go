package correlate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/pipeguard/pkg/features"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// pumpDrivenSeries builds a window where pressure tracks an almost idle pump:
// tiny frequency wiggle, pressure proportional to it.
func pumpDrivenSeries(n int) timeseries.Series {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(timeseries.Series, n)
	for i := range s {
		wiggle := 0.01 * float64(i%5)
		s[i] = timeseries.Sample{
			Time:      base.Add(time.Duration(2*i) * time.Second),
			Pressure:  2.0 + wiggle,
			Frequency: 25.0 + wiggle,
		}
	}
	return s
}

// leakSeries builds a window with a pressure drop against stable, noisy
// frequency that does not track pressure.
func leakSeries(n int, seed int64) timeseries.Series {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(timeseries.Series, n)
	for i := range s {
		s[i] = timeseries.Sample{
			Time:      base.Add(time.Duration(2*i) * time.Second),
			Pressure:  2.0 - 0.5*float64(i)/float64(n),
			Frequency: 25.0 + rng.NormFloat64()*0.05,
		}
	}
	return s
}

func window(s timeseries.Series) features.Window {
	return features.Window{Index: 0, Start: s[0].Time, Samples: s}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{name: "negative variance threshold", mod: func(c *Config) { c.VarianceThreshold = -1 }},
		{name: "correlation threshold above 1", mod: func(c *Config) { c.CorrelationThreshold = 1.5 }},
		{name: "negative horizon", mod: func(c *Config) { c.Horizon = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			_, err := New(pumpDrivenSeries(10), cfg)
			assert.Error(t, err)
		})
	}
}

func TestPumpDrivenCandidateReclassified(t *testing.T) {
	s := pumpDrivenSeries(100)
	c, err := New(s, DefaultConfig())
	require.NoError(t, err)

	stats, operational := c.Evaluate(window(s))
	assert.True(t, operational)
	assert.Less(t, stats.FrequencyVariance, 0.1)
	assert.Greater(t, stats.Correlation, 0.7)
}

func TestLeakCandidateRetained(t *testing.T) {
	s := leakSeries(100, 42)
	c, err := New(s, DefaultConfig())
	require.NoError(t, err)

	// Frequency variance is tiny but the drop does not correlate with the
	// pump, so the candidate must survive.
	_, operational := c.Evaluate(window(s))
	assert.False(t, operational)
}

func TestHighFrequencyVarianceRetained(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(timeseries.Series, 100)
	for i := range s {
		f := 20.0 + float64(i%2)*10 // variance well above threshold
		s[i] = timeseries.Sample{
			Time:      base.Add(time.Duration(2*i) * time.Second),
			Pressure:  2.0 + f*0.01,
			Frequency: f,
		}
	}

	c, err := New(s, DefaultConfig())
	require.NoError(t, err)
	_, operational := c.Evaluate(window(s))
	assert.False(t, operational, "busy pump means the pressure anomaly stands on its own")
}

func TestCorrelationThresholdOneDisablesStage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CorrelationThreshold = 1.0

	s := pumpDrivenSeries(100)
	c, err := New(s, cfg)
	require.NoError(t, err)

	// |corr| can never strictly exceed 1, so nothing is reclassified.
	_, operational := c.Evaluate(window(s))
	assert.False(t, operational)
}

func TestSurroundingHorizonClamps(t *testing.T) {
	s := pumpDrivenSeries(60)
	cfg := DefaultConfig()
	cfg.Horizon = 5
	cfg.TimeAlignment = false
	c, err := New(s, cfg)
	require.NoError(t, err)

	// Window covers the first 20 samples; a 5-window horizon would reach far
	// beyond the series on both sides and must clamp instead of panicking.
	w := features.Window{Index: 0, Start: s[0].Time, Samples: s[:20]}
	stats, _ := c.Evaluate(w)
	assert.NotZero(t, stats.Correlation)
}

func TestTimeAlignmentHandlesIrregularSpan(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := make(timeseries.Series, 0, 50)
	for i := 0; i < 50; i++ {
		jitter := time.Duration(i%3) * 300 * time.Millisecond
		wiggle := 0.01 * float64(i%5)
		s = append(s, timeseries.Sample{
			Time:      base.Add(time.Duration(2*i)*time.Second + jitter),
			Pressure:  2.0 + wiggle,
			Frequency: 25.0 + wiggle,
		})
	}

	cfg := DefaultConfig()
	cfg.TimeAlignment = true
	c, err := New(s, cfg)
	require.NoError(t, err)

	_, operational := c.Evaluate(window(s))
	assert.True(t, operational)
}
