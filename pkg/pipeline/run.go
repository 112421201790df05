// Package pipeline sequences the anomaly classification stages and exposes a
// run as a single unit of work with observable progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/pipeguard/pkg/cluster"
	"github.com/hed1ad/pipeguard/pkg/correlate"
	"github.com/hed1ad/pipeguard/pkg/detectors/ocsvm"
	"github.com/hed1ad/pipeguard/pkg/features"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// State is the lifecycle state of a run context.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Verdict is the final per-candidate classification.
type Verdict int

const (
	TrueAnomaly Verdict = iota
	FalseAnomaly
)

func (v Verdict) String() string {
	if v == FalseAnomaly {
		return "false_anomaly"
	}
	return "true_anomaly"
}

// Stage names, recorded on each classification for auditability.
const (
	StageBoundary    = "boundary"
	StageCluster     = "cluster"
	StageCorrelation = "correlation"
)

// Candidate is a window flagged anomalous by the boundary classifier.
type Candidate struct {
	WindowIndex int
	Window      features.Window
	Vector      []float64
	Decision    float64 // negative; magnitude is the baseline confidence
}

// Classification is the final verdict for one candidate.
type Classification struct {
	WindowIndex int       `json:"window_index"`
	Start       time.Time `json:"start"`
	Verdict     string    `json:"verdict"`
	Stage       string    `json:"stage"` // stage that last changed the verdict
	Decision    float64   `json:"decision"`
	ClusterID   int       `json:"cluster_id"` // -1 when the cluster stage did not run
}

// Status is a progress snapshot of the run context.
type Status struct {
	RunID    string `json:"run_id"`
	State    string `json:"status"`
	Progress int    `json:"progress"`
	Step     string `json:"current_step"`
	Error    string `json:"error,omitempty"`
}

// Results holds everything a completed run produced.
type Results struct {
	RunID           string            `json:"run_id"`
	Config          Config            `json:"config"`
	Metrics         RunMetrics        `json:"metrics"`
	Classifications []Classification  `json:"classifications"`
	Clusters        []cluster.Cluster `json:"clusters"`

	// export inputs, not part of the API payload
	series     timeseries.Series
	windowSize int
	verdicts   map[int]Verdict
}

var (
	// ErrAlreadyRunning is returned when Start is called on a running context.
	ErrAlreadyRunning = errors.New("analysis already running")
	// ErrNotIdle is returned when Start is called on a terminal context
	// that has not been reset.
	ErrNotIdle = errors.New("run context not idle; reset first")
	// ErrNotCompleted is returned when results are requested too early.
	ErrNotCompleted = errors.New("no completed results available")
	// ErrNotTerminal is returned when Reset is called mid-run.
	ErrNotTerminal = errors.New("cannot reset a running context")
)

// Runner is an explicit run context. Multiple runners coexist independently;
// the only state surviving across runs is the optionally reused model, which
// the runner exclusively owns.
type Runner struct {
	mu       sync.Mutex
	state    State
	runID    uuid.UUID
	progress int
	step     string
	errMsg   string
	results  *Results
	model    *ocsvm.OneClass
	watchers []chan Status
	done     chan struct{}
	logger   *log.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger routes run diagnostics to the given logger.
func WithLogger(l *log.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates an idle run context.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{state: StateIdle, logger: log.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates the configuration and launches the analysis in the
// background. It is rejected while a run is in flight and from terminal
// states that have not been reset.
func (r *Runner) Start(ctx context.Context, ds timeseries.Dataset, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ds.Validate(); err != nil {
		return err
	}
	if len(ds.Samples) == 0 {
		return errors.New("empty input series")
	}

	r.mu.Lock()
	switch r.state {
	case StateRunning:
		r.mu.Unlock()
		return ErrAlreadyRunning
	case StateCompleted, StateError:
		r.mu.Unlock()
		return ErrNotIdle
	}
	r.state = StateRunning
	r.runID = uuid.New()
	r.progress = 0
	r.step = "Initializing"
	r.errMsg = ""
	r.results = nil
	r.done = make(chan struct{})
	r.mu.Unlock()
	r.notify()

	go r.execute(ctx, ds, cfg)
	return nil
}

// Status returns a progress snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Runner) statusLocked() Status {
	s := Status{
		State:    r.state.String(),
		Progress: r.progress,
		Step:     r.step,
		Error:    r.errMsg,
	}
	if r.runID != uuid.Nil {
		s.RunID = r.runID.String()
	}
	return s
}

// Watch returns a channel receiving status snapshots at every stage boundary.
// Slow consumers miss intermediate snapshots rather than blocking the run.
// The channel is closed once the run reaches a terminal state; on a context
// already terminal it delivers the final snapshot and closes immediately.
func (r *Runner) Watch() <-chan Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Status, 16)
	if r.state == StateCompleted || r.state == StateError {
		ch <- r.statusLocked()
		close(ch)
		return ch
	}
	r.watchers = append(r.watchers, ch)
	return ch
}

// Wait blocks until the current run reaches a terminal state.
func (r *Runner) Wait(ctx context.Context) (Status, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return r.Status(), nil
	}
	select {
	case <-done:
		return r.Status(), nil
	case <-ctx.Done():
		return r.Status(), ctx.Err()
	}
}

// Results returns the run output; valid only once completed.
func (r *Runner) Results() (*Results, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCompleted || r.results == nil {
		return nil, ErrNotCompleted
	}
	return r.results, nil
}

// Reset transitions a terminal context back to idle, discarding results.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return ErrNotTerminal
	}
	r.state = StateIdle
	r.runID = uuid.Nil
	r.progress = 0
	r.step = ""
	r.errMsg = ""
	r.results = nil
	return nil
}

// setProgress updates the monotone progress value and the step label.
func (r *Runner) setProgress(p int, step string) {
	r.mu.Lock()
	if p > r.progress {
		r.progress = p
	}
	r.step = step
	r.mu.Unlock()
	r.notify()
}

func (r *Runner) notify() {
	r.mu.Lock()
	s := r.statusLocked()
	watchers := r.watchers
	r.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- s:
		default:
		}
	}
}

func (r *Runner) fail(err error) {
	r.logger.Printf("analysis failed: %v", err)
	r.mu.Lock()
	r.state = StateError
	r.errMsg = err.Error()
	r.step = "Analysis failed"
	r.finishLocked()
}

func (r *Runner) complete(res *Results) {
	r.mu.Lock()
	r.state = StateCompleted
	r.progress = 100
	r.step = "Analysis complete"
	r.results = res
	r.finishLocked()
}

// finishLocked publishes the terminal status, closes every watcher and
// releases waiters. Callers hold r.mu.
func (r *Runner) finishLocked() {
	s := r.statusLocked()
	watchers := r.watchers
	r.watchers = nil
	done := r.done
	r.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- s:
		default:
		}
		close(ch)
	}
	close(done)
}

// checkpoint is the cooperative cancellation check at each stage boundary.
func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// execute runs the stages in order. Refinement is monotone: the final
// anomaly set is always a subset of the boundary-flagged set.
func (r *Runner) execute(ctx context.Context, ds timeseries.Dataset, cfg Config) {
	var warnings []string
	durations := map[string]float64{}
	started := time.Now()

	// Stage 1: preprocessing and feature extraction.
	r.setProgress(5, "Preprocessing")
	ext, err := features.New(features.Config{
		WindowSize:     cfg.WindowSize,
		SamplingRate:   cfg.SamplingRate,
		Interpolation:  mustMethod(cfg.InterpolationMethod),
		Normalize:      cfg.Normalize,
		RemoveOutliers: cfg.RemoveOutliers,
		MaxGapFraction: cfg.MaxGapFraction,
	})
	if err != nil {
		r.fail(err)
		return
	}

	reference := trainingReference(ds, cfg.TrainFraction)
	if cfg.Normalize {
		if err := ext.FitScaler(reference); err != nil {
			r.fail(err)
			return
		}
	}

	trainIt, err := ext.Windows(reference)
	if err != nil {
		r.fail(err)
		return
	}
	var trainVectors [][]float64
	for {
		_, vec, ok := trainIt.Next()
		if !ok {
			break
		}
		trainVectors = append(trainVectors, vec)
	}

	it, err := ext.Windows(ds.Samples)
	if err != nil {
		r.fail(err)
		return
	}
	var windows []features.Window
	var vectors [][]float64
	for {
		w, vec, ok := it.Next()
		if !ok {
			break
		}
		windows = append(windows, w)
		vectors = append(vectors, vec)
	}
	durations["preprocessing"] = time.Since(started).Seconds()
	if err := checkpoint(ctx); err != nil {
		r.fail(err)
		return
	}

	// Stage 2: boundary classifier training.
	stageStart := time.Now()
	r.setProgress(25, "Training boundary classifier")
	model := r.model
	if model == nil || !cfg.ReuseModel {
		model = ocsvm.New(
			ocsvm.WithKernel(mustKernel(cfg.Kernel)),
			ocsvm.WithNu(cfg.Nu),
			ocsvm.WithGamma(mustGamma(cfg.Gamma)),
			ocsvm.WithTolerance(cfg.ConvergenceTolerance),
			ocsvm.WithMaxIterations(cfg.MaxIterations),
		)
		if err := model.Fit(trainVectors); err != nil {
			r.fail(err)
			return
		}
		if !model.Converged() {
			msg := fmt.Sprintf("boundary solver stopped after %d iterations without reaching tolerance %g; using best boundary found",
				model.Iterations(), cfg.ConvergenceTolerance)
			r.logger.Printf("warning: %s", msg)
			warnings = append(warnings, msg)
		}
	}
	r.mu.Lock()
	r.model = model
	r.mu.Unlock()
	durations["training"] = time.Since(stageStart).Seconds()
	if err := checkpoint(ctx); err != nil {
		r.fail(err)
		return
	}

	// Stage 3: scoring.
	stageStart = time.Now()
	r.setProgress(50, "Scoring windows")
	scores, err := model.Decisions(vectors)
	if err != nil {
		r.fail(err)
		return
	}
	var candidates []Candidate
	for i, score := range scores {
		if score < 0 {
			candidates = append(candidates, Candidate{
				WindowIndex: windows[i].Index,
				Window:      windows[i],
				Vector:      vectors[i],
				Decision:    score,
			})
		}
	}
	durations["scoring"] = time.Since(stageStart).Seconds()
	if err := checkpoint(ctx); err != nil {
		r.fail(err)
		return
	}

	// Stage 4: cluster-based false positive filtering.
	stageStart = time.Now()
	r.setProgress(70, "Clustering anomaly patterns")
	verdicts := make(map[int]Verdict, len(candidates))
	stages := make(map[int]string, len(candidates))
	clusterIDs := make(map[int]int, len(candidates))
	for _, c := range candidates {
		verdicts[c.WindowIndex] = TrueAnomaly
		stages[c.WindowIndex] = StageBoundary
		clusterIDs[c.WindowIndex] = -1
	}

	var clusters []cluster.Cluster
	if len(candidates) > 0 {
		candVectors := make([][]float64, len(candidates))
		deviations := make([]float64, len(candidates))
		for i, c := range candidates {
			candVectors[i] = c.Vector
			deviations[i] = math.Abs(c.Decision)
		}
		var assignments []int
		clusters, assignments, err = cluster.Filter(candVectors, deviations, cluster.Config{
			NumClusters:        cfg.NClusters,
			Linkage:            mustLinkage(cfg.Linkage),
			Metric:             mustMetric(cfg.DistanceMetric),
			SignificanceFactor: cluster.DefaultConfig().SignificanceFactor,
		})
		if err != nil {
			r.fail(err)
			return
		}
		if len(assignments) != len(candidates) {
			// Defect, never swallowed: every candidate must own a cluster.
			r.fail(fmt.Errorf("internal: %d candidates but %d cluster assignments", len(candidates), len(assignments)))
			return
		}
		leakClusters := 0
		for _, cl := range clusters {
			if cl.Label == cluster.Leak {
				leakClusters++
			}
		}
		if leakClusters == 0 {
			// A filter that erases the whole candidate set has separated
			// nothing. Keep the boundary verdicts rather than lose every
			// potential leak.
			msg := fmt.Sprintf("cluster filter labeled all %d clusters operational; keeping all %d candidates",
				len(clusters), len(candidates))
			r.logger.Printf("warning: %s", msg)
			warnings = append(warnings, msg)
			for i, c := range candidates {
				clusterIDs[c.WindowIndex] = assignments[i]
			}
		} else {
			for i, c := range candidates {
				id := assignments[i]
				clusterIDs[c.WindowIndex] = id
				if clusters[id].Label == cluster.Operational && !leakShaped(c.Window, cfg.VarianceThreshold) {
					verdicts[c.WindowIndex] = FalseAnomaly
					stages[c.WindowIndex] = StageCluster
				}
			}
		}
	}
	durations["clustering"] = time.Since(stageStart).Seconds()
	if err := checkpoint(ctx); err != nil {
		r.fail(err)
		return
	}

	// Stage 5: multi-source correlation refinement. Removes only; a candidate
	// already marked false stays false.
	stageStart = time.Now()
	r.setProgress(85, "Multi-source correlation")
	corr, err := correlate.New(it.Series(), correlate.Config{
		VarianceThreshold:    cfg.VarianceThreshold,
		CorrelationThreshold: cfg.CorrelationThreshold,
		Horizon:              cfg.CorrelationHorizon,
		TimeAlignment:        cfg.TimeAlignment,
		SamplingRate:         cfg.SamplingRate,
		Interpolation:        mustMethod(cfg.InterpolationMethod),
	})
	if err != nil {
		r.fail(err)
		return
	}
	for _, c := range candidates {
		if verdicts[c.WindowIndex] != TrueAnomaly {
			continue
		}
		if _, operational := corr.Evaluate(c.Window); operational {
			verdicts[c.WindowIndex] = FalseAnomaly
			stages[c.WindowIndex] = StageCorrelation
		}
	}
	durations["correlation"] = time.Since(stageStart).Seconds()
	if err := checkpoint(ctx); err != nil {
		r.fail(err)
		return
	}

	// Final: metrics and results.
	r.setProgress(95, "Computing metrics")
	classifications := make([]Classification, 0, len(candidates))
	for _, c := range candidates {
		classifications = append(classifications, Classification{
			WindowIndex: c.WindowIndex,
			Start:       c.Window.Start,
			Verdict:     verdicts[c.WindowIndex].String(),
			Stage:       stages[c.WindowIndex],
			Decision:    c.Decision,
			ClusterID:   clusterIDs[c.WindowIndex],
		})
	}

	metrics := computeMetrics(ds, windows, candidates, verdicts)
	metrics.Warnings = warnings
	metrics.StageDurations = durations
	metrics.ProcessingSeconds = time.Since(started).Seconds()

	r.mu.Lock()
	id := r.runID.String()
	r.mu.Unlock()

	r.complete(&Results{
		RunID:           id,
		Config:          cfg,
		Metrics:         metrics,
		Classifications: classifications,
		Clusters:        clusters,
		series:          it.Series(),
		windowSize:      cfg.WindowSize,
		verdicts:        verdicts,
	})
}

// leakShaped reports whether a window carries the leak signature: pressure
// trending down while the pump signal stays quiet. The cluster stage never
// demotes such a window, whatever its cluster looks like; only the
// correlation stage's explicit pump-evidence rule may still reclassify it.
func leakShaped(w features.Window, varianceThreshold float64) bool {
	n := len(w.Samples)
	if n < 2 {
		return false
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, w.Samples.Pressures(), nil, false)
	variance := stat.Variance(w.Samples.Frequencies(), nil)
	// Twice the idle bound: the guard errs toward keeping candidates.
	return slope < 0 && variance < 2*varianceThreshold
}

// trainingReference selects the normal-operation sub-range the scaler and
// boundary classifier learn from: the chronological head of the series,
// stripped of ground-truth anomalies when labels are available so no anomaly
// information leaks into the model.
func trainingReference(ds timeseries.Dataset, fraction float64) timeseries.Series {
	cut := int(float64(len(ds.Samples)) * fraction)
	if cut < 1 {
		cut = 1
	}
	if !ds.Labeled() {
		return ds.Samples[:cut]
	}
	ref := make(timeseries.Series, 0, cut)
	for i := 0; i < cut; i++ {
		if ds.Labels[i] == timeseries.LabelNormal {
			ref = append(ref, ds.Samples[i])
		}
	}
	return ref
}

// The must* helpers follow Validate: a validated config cannot fail to parse.

func mustMethod(s string) timeseries.Method {
	m, _ := timeseries.ParseMethod(s)
	return m
}

func mustKernel(s string) ocsvm.Kernel {
	k, _ := ocsvm.ParseKernel(s)
	return k
}

func mustGamma(s string) ocsvm.Gamma {
	g, _ := ocsvm.ParseGamma(s)
	return g
}

func mustLinkage(s string) cluster.Linkage {
	l, _ := cluster.ParseLinkage(s)
	return l
}

func mustMetric(s string) cluster.Metric {
	m, _ := cluster.ParseMetric(s)
	return m
}
