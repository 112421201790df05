// Package ocsvm implements a one-class support vector machine for boundary
// classification of feature vectors drawn from normal operation.
package ocsvm

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"

	"github.com/hed1ad/pipeguard/pkg/detectors"
)

// MinTrainingSamples is the smallest training set the solver accepts.
const MinTrainingSamples = 10

// InsufficientTrainingDataError reports a training set the solver cannot
// learn a boundary from.
type InsufficientTrainingDataError struct {
	Reason string
}

func (e *InsufficientTrainingDataError) Error() string {
	return "insufficient training data: " + e.Reason
}

// OneClass learns a closed decision boundary around normal-only training data
// using the nu-parameterized one-class SVM formulation.
type OneClass struct {
	mu sync.RWMutex

	// Configuration
	kernel  Kernel
	nu      float64
	gamma   Gamma
	tol     float64
	maxIter int
	degree  int
	coef0   float64

	// Trained model
	supportVectors [][]float64
	alphas         []float64
	rho            float64
	gammaValue     float64
	trained        bool

	// Solver diagnostics
	converged  bool
	iterations int
}

// Option configures a OneClass detector.
type Option func(*OneClass)

// WithKernel sets the kernel function.
func WithKernel(k Kernel) Option {
	return func(o *OneClass) { o.kernel = k }
}

// WithNu sets the margin violation bound. Valid values lie in (0, 0.5].
func WithNu(nu float64) Option {
	return func(o *OneClass) { o.nu = nu }
}

// WithGamma sets the kernel bandwidth policy.
func WithGamma(g Gamma) Option {
	return func(o *OneClass) { o.gamma = g }
}

// WithTolerance sets the solver convergence tolerance.
func WithTolerance(tol float64) Option {
	return func(o *OneClass) { o.tol = tol }
}

// WithMaxIterations bounds the solver iteration count.
func WithMaxIterations(n int) Option {
	return func(o *OneClass) { o.maxIter = n }
}

// WithDegree sets the polynomial kernel degree.
func WithDegree(d int) Option {
	return func(o *OneClass) { o.degree = d }
}

// WithCoef0 sets the independent term for poly and sigmoid kernels.
func WithCoef0(c float64) Option {
	return func(o *OneClass) { o.coef0 = c }
}

// New creates a OneClass detector with the given options.
func New(opts ...Option) *OneClass {
	o := &OneClass{
		kernel:  RBF,
		nu:      0.05,
		gamma:   Gamma{Mode: GammaAuto},
		tol:     1e-3,
		maxIter: 1000,
		degree:  3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fit solves the dual margin-maximization problem over the kernel-mapped
// training data. Slow convergence is not fatal: if the solver runs out of
// iterations the best boundary found so far is kept and Converged reports
// false.
func (o *OneClass) Fit(data [][]float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.nu <= 0 || o.nu > 0.5 {
		return fmt.Errorf("nu must be in (0, 0.5], got %g", o.nu)
	}
	if len(data) < MinTrainingSamples {
		return &InsufficientTrainingDataError{
			Reason: fmt.Sprintf("%d samples, need at least %d", len(data), MinTrainingSamples),
		}
	}
	if !hasVariance(data) {
		return &InsufficientTrainingDataError{
			Reason: "feature matrix has zero variance in every dimension",
		}
	}

	n := len(data)
	gamma := o.gamma.resolve(data)

	// Kernel matrix. Training sets are window counts, small enough to keep dense.
	km := make([][]float64, n)
	for i := range km {
		km[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := o.kernel.eval(data[i], data[j], gamma, o.coef0, o.degree)
			km[i][j] = v
			km[j][i] = v
		}
	}

	// Initial feasible point: mass 1 spread over the first ceil(nu*n) points,
	// each bounded by C = 1/(nu*n).
	c := 1 / (o.nu * float64(n))
	alpha := make([]float64, n)
	remaining := 1.0
	for i := 0; i < n && remaining > 0; i++ {
		a := c
		if a > remaining {
			a = remaining
		}
		alpha[i] = a
		remaining -= a
	}

	// Gradient of the dual objective.
	grad := make([]float64, n)
	for i := 0; i < n; i++ {
		var g float64
		for j := 0; j < n; j++ {
			if alpha[j] > 0 {
				g += alpha[j] * km[i][j]
			}
		}
		grad[i] = g
	}

	converged := false
	iter := 0
	for ; iter < o.maxIter; iter++ {
		// Most-violating pair: move mass from the highest gradient with
		// alpha > 0 onto the lowest gradient with alpha < C.
		up, down := -1, -1
		for k := 0; k < n; k++ {
			if alpha[k] < c-1e-15 && (up == -1 || grad[k] < grad[up]) {
				up = k
			}
			if alpha[k] > 1e-15 && (down == -1 || grad[k] > grad[down]) {
				down = k
			}
		}
		if up == -1 || down == -1 || grad[down]-grad[up] <= o.tol {
			converged = true
			break
		}

		eta := km[up][up] + km[down][down] - 2*km[up][down]
		if eta <= 0 {
			eta = 1e-12
		}
		step := (grad[down] - grad[up]) / eta
		if room := c - alpha[up]; step > room {
			step = room
		}
		if step > alpha[down] {
			step = alpha[down]
		}

		alpha[up] += step
		alpha[down] -= step
		for k := 0; k < n; k++ {
			grad[k] += step * (km[up][k] - km[down][k])
		}
	}

	// Offset from the KKT conditions: free support vectors sit on the boundary.
	var rhoSum float64
	var freeCount int
	lower, upper := 0.0, 0.0
	hasLower, hasUpper := false, false
	for i := 0; i < n; i++ {
		switch {
		case alpha[i] > 1e-12 && alpha[i] < c-1e-12:
			rhoSum += grad[i]
			freeCount++
		case alpha[i] >= c-1e-12:
			if !hasLower || grad[i] > lower {
				lower = grad[i]
				hasLower = true
			}
		default:
			if !hasUpper || grad[i] < upper {
				upper = grad[i]
				hasUpper = true
			}
		}
	}
	var rho float64
	switch {
	case freeCount > 0:
		rho = rhoSum / float64(freeCount)
	case hasLower && hasUpper:
		rho = (lower + upper) / 2
	case hasLower:
		rho = lower
	default:
		rho = upper
	}

	// Keep only support vectors.
	o.supportVectors = o.supportVectors[:0]
	o.alphas = o.alphas[:0]
	for i := 0; i < n; i++ {
		if alpha[i] > 1e-12 {
			sv := make([]float64, len(data[i]))
			copy(sv, data[i])
			o.supportVectors = append(o.supportVectors, sv)
			o.alphas = append(o.alphas, alpha[i])
		}
	}

	o.rho = rho
	o.gammaValue = gamma
	o.converged = converged
	o.iterations = iter
	o.trained = true
	return nil
}

// hasVariance reports whether at least one feature dimension varies.
func hasVariance(data [][]float64) bool {
	for d := 0; d < len(data[0]); d++ {
		first := data[0][d]
		for _, row := range data[1:] {
			if row[d] != first {
				return true
			}
		}
	}
	return false
}

// Decisions returns signed decision scores for the given samples.
func (o *OneClass) Decisions(data [][]float64) ([]float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.trained {
		return nil, errors.New("model not trained")
	}

	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = o.decision(sample)
	}
	return scores, nil
}

// DecisionOne returns the signed decision score for a single sample.
func (o *OneClass) DecisionOne(sample []float64) (float64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.trained {
		return 0, errors.New("model not trained")
	}
	return o.decision(sample), nil
}

func (o *OneClass) decision(sample []float64) float64 {
	var f float64
	for i, sv := range o.supportVectors {
		f += o.alphas[i] * o.kernel.eval(sv, sample, o.gammaValue, o.coef0, o.degree)
	}
	return f - o.rho
}

// DecisionStream scores samples from a channel as they arrive.
func (o *OneClass) DecisionStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	o.mu.RLock()
	if !o.trained {
		o.mu.RUnlock()
		return errors.New("model not trained")
	}
	o.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			score, err := o.DecisionOne(sample)
			if err != nil {
				continue
			}

			select {
			case output <- detectors.Score{
				Decision:  score,
				IsAnomaly: score < 0,
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Converged reports whether the last Fit reached the tolerance within the
// iteration limit.
func (o *OneClass) Converged() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.converged
}

// Iterations returns the solver iteration count of the last Fit.
func (o *OneClass) Iterations() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.iterations
}

// NumSupportVectors returns the size of the trained model.
func (o *OneClass) NumSupportVectors() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.supportVectors)
}

// Save serializes the trained model.
func (o *OneClass) Save() ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.trained {
		return nil, errors.New("model not trained")
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	for _, v := range []any{
		int(o.kernel), o.nu, o.gammaValue, o.degree, o.coef0,
		o.supportVectors, o.alphas, o.rho, o.converged,
	} {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (o *OneClass) Load(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	dec := gob.NewDecoder(bytes.NewBuffer(data))

	var kernel int
	if err := dec.Decode(&kernel); err != nil {
		return err
	}
	for _, v := range []any{
		&o.nu, &o.gammaValue, &o.degree, &o.coef0,
		&o.supportVectors, &o.alphas, &o.rho, &o.converged,
	} {
		if err := dec.Decode(v); err != nil {
			return err
		}
	}

	o.kernel = Kernel(kernel)
	o.gamma = Gamma{Mode: GammaFixed, Value: o.gammaValue}
	o.trained = true
	return nil
}
