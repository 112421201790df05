// Package features partitions a sensor series into fixed windows and extracts
// statistical feature vectors from each one.
package features

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// NumFeatures is the length of every extracted feature vector.
const NumFeatures = 17

// Window is a contiguous span of WindowSize resampled samples. Windows do not
// overlap and together cover the whole series; a trailing remainder shorter
// than WindowSize is dropped, except when the series itself is shorter than
// one window, in which case the whole series forms a single short window.
type Window struct {
	Index   int
	Start   time.Time
	Samples timeseries.Series
}

// Config controls windowing and feature extraction.
type Config struct {
	WindowSize     int     // samples per window
	SamplingRate   float64 // seconds between resampled points
	Interpolation  timeseries.Method
	Normalize      bool
	RemoveOutliers bool
	MaxGapFraction float64 // raw gap tolerance as a fraction of a window; 0 disables the check
}

// Extractor turns a raw series into (Window, feature vector) pairs.
type Extractor struct {
	cfg    Config
	scaler *Scaler
}

// New validates the configuration and returns an extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.WindowSize < 2 {
		return nil, fmt.Errorf("window size must be at least 2 samples, got %d", cfg.WindowSize)
	}
	if cfg.SamplingRate <= 0 {
		return nil, fmt.Errorf("sampling rate must be positive, got %g", cfg.SamplingRate)
	}
	if cfg.MaxGapFraction < 0 || cfg.MaxGapFraction > 1 {
		return nil, fmt.Errorf("max gap fraction must be in [0,1], got %g", cfg.MaxGapFraction)
	}
	return &Extractor{cfg: cfg}, nil
}

// FitScaler computes z-score statistics from a normal-reference series.
// The reference must not contain held-out anomaly ranges, otherwise the
// scaler leaks anomaly information into every later vector.
func (e *Extractor) FitScaler(reference timeseries.Series) error {
	it, err := e.iterate(reference, false)
	if err != nil {
		return err
	}
	var vectors [][]float64
	for {
		_, vec, ok := it.Next()
		if !ok {
			break
		}
		vectors = append(vectors, vec)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("reference series too short for scaler: no complete windows")
	}
	e.scaler = FitScaler(vectors)
	return nil
}

// Windows resamples the series and returns a lazy, restartable iterator over
// its (Window, vector) pairs in timestamp order.
func (e *Extractor) Windows(s timeseries.Series) (*Iterator, error) {
	return e.iterate(s, e.cfg.Normalize)
}

func (e *Extractor) iterate(s timeseries.Series, normalize bool) (*Iterator, error) {
	if normalize && e.scaler == nil {
		return nil, fmt.Errorf("normalization enabled but scaler not fitted")
	}

	interval := time.Duration(e.cfg.SamplingRate * float64(time.Second))
	var maxGap time.Duration
	if e.cfg.MaxGapFraction > 0 {
		maxGap = time.Duration(e.cfg.MaxGapFraction * float64(e.cfg.WindowSize) * float64(interval))
	}

	resampled, err := s.Resample(interval, e.cfg.Interpolation, maxGap)
	if err != nil {
		return nil, err
	}

	it := &Iterator{ext: e, series: resampled, normalize: normalize}
	if len(resampled) > 0 && len(resampled) < e.cfg.WindowSize {
		it.short = true
	}
	return it, nil
}

// Iterator walks the windows of a resampled series, computing each feature
// vector on demand.
type Iterator struct {
	ext       *Extractor
	series    timeseries.Series
	normalize bool
	short     bool // series shorter than one window: emit it as a single window
	pos       int
}

// Series returns the resampled series the windows are cut from.
func (it *Iterator) Series() timeseries.Series { return it.series }

// Count returns the total number of windows the iterator will produce.
func (it *Iterator) Count() int {
	if it.short {
		return 1
	}
	return len(it.series) / it.ext.cfg.WindowSize
}

// Reset restarts iteration from the first window.
func (it *Iterator) Reset() { it.pos = 0 }

// Next returns the next window and its feature vector. The third return is
// false once the iterator is exhausted.
func (it *Iterator) Next() (Window, []float64, bool) {
	if it.pos >= it.Count() {
		return Window{}, nil, false
	}

	var span timeseries.Series
	if it.short {
		span = it.series
	} else {
		start := it.pos * it.ext.cfg.WindowSize
		span = it.series[start : start+it.ext.cfg.WindowSize]
	}

	w := Window{Index: it.pos, Start: span[0].Time, Samples: span}
	vec := it.ext.extract(span)
	if it.normalize {
		vec = it.ext.scaler.Transform(vec)
	}
	it.pos++
	return w, vec, true
}

// extract computes the 17 statistical features of a window.
func (e *Extractor) extract(span timeseries.Series) []float64 {
	pressure := span.Pressures()
	frequency := span.Frequencies()

	if e.cfg.RemoveOutliers {
		pressure = clipOutliers(pressure)
		frequency = clipOutliers(frequency)
	}

	pMean, pStd := stat.MeanStdDev(pressure, nil)
	fMean, fStd := stat.MeanStdDev(frequency, nil)

	vec := make([]float64, NumFeatures)
	vec[0] = pMean
	vec[1] = zeroIfNaN(pStd)
	vec[2] = min64(pressure)
	vec[3] = max64(pressure)
	vec[4] = median(pressure)
	vec[5] = quantile(pressure, 0.25)
	vec[6] = quantile(pressure, 0.75)
	vec[7] = fMean
	vec[8] = zeroIfNaN(fStd)
	vec[9] = min64(frequency)
	vec[10] = max64(frequency)
	vec[11] = median(frequency)
	vec[12] = slope(pressure)
	vec[13] = slope(frequency)
	vec[14] = zeroIfNaN(stat.Variance(pressure, nil))
	vec[15] = zeroIfNaN(stat.Variance(frequency, nil))
	vec[16] = zeroIfNaN(stat.Correlation(pressure, frequency, nil))
	return vec
}

// FeatureNames labels the vector dimensions, in order.
func FeatureNames() []string {
	return []string{
		"pressure_mean", "pressure_std", "pressure_min", "pressure_max",
		"pressure_median", "pressure_q25", "pressure_q75",
		"frequency_mean", "frequency_std", "frequency_min", "frequency_max",
		"frequency_median",
		"pressure_slope", "frequency_slope",
		"pressure_variance", "frequency_variance",
		"pressure_frequency_correlation",
	}
}
