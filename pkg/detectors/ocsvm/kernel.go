package ocsvm

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// Kernel selects the kernel function mapping feature space.
type Kernel int

const (
	RBF Kernel = iota
	Linear
	Poly
	Sigmoid
)

// ParseKernel maps a configuration string to a kernel.
func ParseKernel(s string) (Kernel, error) {
	switch s {
	case "rbf", "":
		return RBF, nil
	case "linear":
		return Linear, nil
	case "poly":
		return Poly, nil
	case "sigmoid":
		return Sigmoid, nil
	}
	return 0, fmt.Errorf("unknown kernel %q", s)
}

func (k Kernel) String() string {
	switch k {
	case RBF:
		return "rbf"
	case Linear:
		return "linear"
	case Poly:
		return "poly"
	case Sigmoid:
		return "sigmoid"
	}
	return "unknown"
}

// GammaMode selects how the kernel bandwidth is derived from the data.
type GammaMode int

const (
	GammaAuto  GammaMode = iota // 1 / n_features
	GammaScale                  // 1 / (n_features * variance)
	GammaFixed                  // explicit numeric value
)

// Gamma is a kernel bandwidth setting.
type Gamma struct {
	Mode  GammaMode
	Value float64 // used when Mode == GammaFixed
}

// ParseGamma accepts "auto", "scale", or a positive numeric string.
func ParseGamma(s string) (Gamma, error) {
	switch s {
	case "auto", "":
		return Gamma{Mode: GammaAuto}, nil
	case "scale":
		return Gamma{Mode: GammaScale}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return Gamma{}, fmt.Errorf("gamma must be \"auto\", \"scale\" or a positive number, got %q", s)
	}
	return Gamma{Mode: GammaFixed, Value: v}, nil
}

// resolve computes the effective bandwidth for a training matrix.
func (g Gamma) resolve(data [][]float64) float64 {
	switch g.Mode {
	case GammaFixed:
		return g.Value
	case GammaScale:
		v := matrixVariance(data)
		if v == 0 {
			v = 1
		}
		return 1 / (float64(len(data[0])) * v)
	default:
		return 1 / float64(len(data[0]))
	}
}

// matrixVariance is the population variance over every matrix entry.
func matrixVariance(data [][]float64) float64 {
	var sum, sumSq, n float64
	for _, row := range data {
		for _, v := range row {
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / n
	return sumSq/n - mean*mean
}

// eval computes the kernel value for a pair of vectors.
func (k Kernel) eval(a, b []float64, gamma, coef0 float64, degree int) float64 {
	switch k {
	case Linear:
		return floats.Dot(a, b)
	case Poly:
		return math.Pow(gamma*floats.Dot(a, b)+coef0, float64(degree))
	case Sigmoid:
		return math.Tanh(gamma*floats.Dot(a, b) + coef0)
	default:
		var d2 float64
		for i := range a {
			d := a[i] - b[i]
			d2 += d * d
		}
		return math.Exp(-gamma * d2)
	}
}
