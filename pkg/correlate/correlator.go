// Package correlate cross-checks surviving anomaly candidates against the
// pump frequency signal to catch operational anomalies the clustering stage
// missed.
package correlate

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/pipeguard/pkg/features"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// Config controls multi-source refinement.
type Config struct {
	// VarianceThreshold below which the pump is treated as effectively idle.
	VarianceThreshold float64
	// CorrelationThreshold the absolute pressure/frequency correlation must
	// strictly exceed for a candidate to be reclassified operational. A value
	// of 1 therefore disables reclassification entirely.
	CorrelationThreshold float64
	// Horizon is the number of extra windows examined on each side of the
	// candidate when computing the correlation.
	Horizon int
	// TimeAlignment resamples the surrounding span onto the nominal grid
	// before computing cross-signal statistics.
	TimeAlignment bool
	// SamplingRate is the nominal grid interval in seconds, used when
	// TimeAlignment is enabled.
	SamplingRate float64
	// Interpolation method for time alignment.
	Interpolation timeseries.Method
}

// DefaultConfig returns the correlator defaults.
func DefaultConfig() Config {
	return Config{
		VarianceThreshold:    0.1,
		CorrelationThreshold: 0.7,
		Horizon:              1,
		TimeAlignment:        true,
		SamplingRate:         2,
		Interpolation:        timeseries.Linear,
	}
}

// Stats captures the cross-signal evidence for one candidate.
type Stats struct {
	FrequencyVariance float64
	Correlation       float64
}

// Correlator evaluates candidates against the full resampled series.
type Correlator struct {
	cfg    Config
	series timeseries.Series
}

// New creates a correlator over the series the windows were cut from.
func New(series timeseries.Series, cfg Config) (*Correlator, error) {
	if cfg.VarianceThreshold < 0 {
		return nil, fmt.Errorf("variance threshold must be non-negative, got %g", cfg.VarianceThreshold)
	}
	if cfg.CorrelationThreshold < 0 || cfg.CorrelationThreshold > 1 {
		return nil, fmt.Errorf("correlation threshold must be in [0,1], got %g", cfg.CorrelationThreshold)
	}
	if cfg.Horizon < 0 {
		return nil, fmt.Errorf("correlation horizon must be non-negative, got %d", cfg.Horizon)
	}
	return &Correlator{cfg: cfg, series: series}, nil
}

// Evaluate computes the cross-signal statistics for a candidate window and
// reports whether the candidate should be reclassified operational: an
// effectively idle pump combined with high pressure/frequency correlation
// marks a pump-driven pressure change masquerading as a leak.
func (c *Correlator) Evaluate(w features.Window) (Stats, bool) {
	variance := stat.Variance(w.Samples.Frequencies(), nil)
	if math.IsNaN(variance) {
		variance = 0
	}

	span := c.surrounding(w)
	corr := stat.Correlation(span.Pressures(), span.Frequencies(), nil)
	if math.IsNaN(corr) {
		corr = 0
	}

	s := Stats{FrequencyVariance: variance, Correlation: corr}
	operational := variance < c.cfg.VarianceThreshold &&
		math.Abs(corr) > c.cfg.CorrelationThreshold
	return s, operational
}

// surrounding returns the candidate window extended by Horizon window-lengths
// on each side, clamped to the series, optionally realigned to the nominal
// sampling grid.
func (c *Correlator) surrounding(w features.Window) timeseries.Series {
	size := len(w.Samples)
	ext := c.cfg.Horizon * size

	lo := 0
	hi := len(c.series)
	for i, smp := range c.series {
		if smp.Time.Equal(w.Start) {
			lo = i
			break
		}
	}
	end := lo + size
	lo -= ext
	if lo < 0 {
		lo = 0
	}
	if end+ext < hi {
		hi = end + ext
	}
	span := c.series[lo:hi]

	if c.cfg.TimeAlignment && c.cfg.SamplingRate > 0 {
		interval := time.Duration(c.cfg.SamplingRate * float64(time.Second))
		aligned, err := span.Resample(interval, c.cfg.Interpolation, 0)
		if err == nil && len(aligned) > 1 {
			return aligned
		}
	}
	return span
}
