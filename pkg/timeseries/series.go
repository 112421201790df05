// Package timeseries provides typed sensor time series and resampling.
package timeseries

import (
	"fmt"
	"sort"
	"time"
)

// Sample is a single pipeline sensor reading.
type Sample struct {
	Time      time.Time `json:"time"`
	Pressure  float64   `json:"pressure"`  // MPa
	Frequency float64   `json:"frequency"` // Hz
}

// Series is a time-ordered sequence of samples.
type Series []Sample

// DataGapError reports a gap in the raw series too large to interpolate over.
type DataGapError struct {
	Start time.Time
	End   time.Time
	Max   time.Duration
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap of %s between %s and %s exceeds maximum %s",
		e.End.Sub(e.Start), e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Max)
}

// Sort orders the series by timestamp, in place.
func (s Series) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
}

// Pressures returns the pressure channel as a slice.
func (s Series) Pressures() []float64 {
	out := make([]float64, len(s))
	for i, smp := range s {
		out[i] = smp.Pressure
	}
	return out
}

// Frequencies returns the pump frequency channel as a slice.
func (s Series) Frequencies() []float64 {
	out := make([]float64, len(s))
	for i, smp := range s {
		out[i] = smp.Frequency
	}
	return out
}

// Resample projects the series onto a regular grid starting at the first
// sample, with interval seconds between points, using the given interpolation
// method. A gap between consecutive raw samples larger than maxGap fails with
// DataGapError. The input must be time-ordered.
func (s Series) Resample(interval time.Duration, method Method, maxGap time.Duration) (Series, error) {
	if len(s) == 0 {
		return nil, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("resample interval must be positive, got %s", interval)
	}

	for i := 1; i < len(s); i++ {
		if gap := s[i].Time.Sub(s[i-1].Time); maxGap > 0 && gap > maxGap {
			return nil, &DataGapError{Start: s[i-1].Time, End: s[i].Time, Max: maxGap}
		}
	}

	start := s[0].Time
	end := s[len(s)-1].Time
	n := int(end.Sub(start)/interval) + 1

	out := make(Series, 0, n)
	for i := 0; i < n; i++ {
		t := start.Add(time.Duration(i) * interval)
		p, f := interpolate(s, t, method)
		out = append(out, Sample{Time: t, Pressure: p, Frequency: f})
	}
	return out, nil
}
