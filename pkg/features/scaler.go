package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Scaler applies per-dimension z-score scaling using statistics captured from
// a normal-reference window set.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes scaling statistics from the given vectors.
func FitScaler(vectors [][]float64) *Scaler {
	dims := len(vectors[0])
	s := &Scaler{Mean: make([]float64, dims), Std: make([]float64, dims)}

	col := make([]float64, len(vectors))
	for d := 0; d < dims; d++ {
		for i, v := range vectors {
			col[i] = v[d]
		}
		m, sd := stat.MeanStdDev(col, nil)
		if math.IsNaN(sd) || sd == 0 {
			sd = 1 // constant dimension: pass through centered
		}
		s.Mean[d] = m
		s.Std[d] = sd
	}
	return s
}

// Transform returns a scaled copy of vec.
func (s *Scaler) Transform(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// clipOutliers clamps values beyond the 1.5*IQR Tukey fences. It changes
// feature values, never window boundaries.
func clipOutliers(values []float64) []float64 {
	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v < lo:
			out[i] = lo
		case v > hi:
			out[i] = hi
		default:
			out[i] = v
		}
	}
	return out
}

// quantile returns the p-quantile of values using linear interpolation
// between order statistics.
func quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func median(values []float64) float64 { return quantile(values, 0.5) }

// slope returns the least-squares trend of values against sample index.
func slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, b := stat.LinearRegression(xs, values, nil, false)
	return zeroIfNaN(b)
}

func min64(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func max64(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func zeroIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
