package timeseries

import (
	"fmt"
	"time"
)

// Method selects how missing grid points are reconstructed during resampling.
type Method int

const (
	Linear Method = iota
	Nearest
	Cubic
	Polynomial
)

// ParseMethod maps a configuration string to an interpolation method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "linear", "":
		return Linear, nil
	case "nearest":
		return Nearest, nil
	case "cubic":
		return Cubic, nil
	case "polynomial":
		return Polynomial, nil
	}
	return 0, fmt.Errorf("unknown interpolation method %q", s)
}

func (m Method) String() string {
	switch m {
	case Linear:
		return "linear"
	case Nearest:
		return "nearest"
	case Cubic:
		return "cubic"
	case Polynomial:
		return "polynomial"
	}
	return "unknown"
}

// interpolate evaluates both channels of the series at time t. The series
// must be sorted; t outside the series range clamps to the nearest endpoint.
func interpolate(s Series, t time.Time, method Method) (pressure, frequency float64) {
	if !t.After(s[0].Time) {
		return s[0].Pressure, s[0].Frequency
	}
	last := len(s) - 1
	if !t.Before(s[last].Time) {
		return s[last].Pressure, s[last].Frequency
	}

	// Binary search for the bracketing pair [i, i+1].
	lo, hi := 0, last
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if s[mid].Time.After(t) {
			hi = mid
		} else {
			lo = mid
		}
	}

	if s[lo].Time.Equal(t) {
		return s[lo].Pressure, s[lo].Frequency
	}

	frac := float64(t.Sub(s[lo].Time)) / float64(s[hi].Time.Sub(s[lo].Time))

	switch method {
	case Nearest:
		if frac < 0.5 {
			return s[lo].Pressure, s[lo].Frequency
		}
		return s[hi].Pressure, s[hi].Frequency
	case Cubic:
		return catmullRom(s, lo, frac)
	case Polynomial:
		return lagrange(s, lo, t)
	default:
		p := s[lo].Pressure + frac*(s[hi].Pressure-s[lo].Pressure)
		f := s[lo].Frequency + frac*(s[hi].Frequency-s[lo].Frequency)
		return p, f
	}
}

// catmullRom evaluates a Catmull-Rom spline through the four samples around
// the segment [lo, lo+1], clamped at the series boundaries.
func catmullRom(s Series, lo int, u float64) (float64, float64) {
	i0, i1, i2, i3 := lo-1, lo, lo+1, lo+2
	if i0 < 0 {
		i0 = 0
	}
	if i3 > len(s)-1 {
		i3 = len(s) - 1
	}

	eval := func(p0, p1, p2, p3 float64) float64 {
		u2 := u * u
		u3 := u2 * u
		return 0.5 * ((2 * p1) +
			(-p0+p2)*u +
			(2*p0-5*p1+4*p2-p3)*u2 +
			(-p0+3*p1-3*p2+p3)*u3)
	}

	p := eval(s[i0].Pressure, s[i1].Pressure, s[i2].Pressure, s[i3].Pressure)
	f := eval(s[i0].Frequency, s[i1].Frequency, s[i2].Frequency, s[i3].Frequency)
	return p, f
}

// lagrange fits a degree-3 Lagrange polynomial through the four samples
// around the segment and evaluates it at t. Higher degrees oscillate too much
// on noisy sensor data to be useful.
func lagrange(s Series, lo int, t time.Time) (float64, float64) {
	start := lo - 1
	if start < 0 {
		start = 0
	}
	if start+3 > len(s)-1 {
		start = len(s) - 4
		if start < 0 {
			start = 0
		}
	}
	end := start + 4
	if end > len(s) {
		end = len(s)
	}
	pts := s[start:end]

	base := pts[0].Time
	xs := make([]float64, len(pts))
	for i, smp := range pts {
		xs[i] = smp.Time.Sub(base).Seconds()
	}
	x := t.Sub(base).Seconds()

	var p, f float64
	for i := range pts {
		w := 1.0
		for j := range pts {
			if i == j {
				continue
			}
			w *= (x - xs[j]) / (xs[i] - xs[j])
		}
		p += w * pts[i].Pressure
		f += w * pts[i].Frequency
	}
	return p, f
}
