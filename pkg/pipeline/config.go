package pipeline

import (
	"fmt"

	"github.com/hed1ad/pipeguard/pkg/cluster"
	"github.com/hed1ad/pipeguard/pkg/detectors/ocsvm"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// Config enumerates every recognized analysis option, its valid range and its
// default. It replaces the loosely-typed key/value maps the UI exchanges;
// ConfigFromMap bridges those.
type Config struct {
	// Boundary classifier
	Kernel               string  `json:"kernel"`
	Nu                   float64 `json:"nu"`
	Gamma                string  `json:"gamma"`
	ConvergenceTolerance float64 `json:"convergence_tolerance"`
	MaxIterations        int     `json:"max_iterations"`

	// Preprocessing
	WindowSize          int     `json:"window_size"`    // samples per window
	SamplingRate        float64 `json:"sampling_rate"`  // seconds between samples
	InterpolationMethod string  `json:"interpolation_method"`
	Normalize           bool    `json:"normalize"`
	RemoveOutliers      bool    `json:"remove_outliers"`
	MaxGapFraction      float64 `json:"max_gap_fraction"` // 0 disables gap checking
	TrainFraction       float64 `json:"train_fraction"`

	// Cluster filter
	NClusters      int    `json:"n_clusters"`
	Linkage        string `json:"linkage"`
	DistanceMetric string `json:"distance_metric"`

	// Multi-source correlation
	VarianceThreshold    float64 `json:"variance_threshold"`
	CorrelationThreshold float64 `json:"correlation_threshold"`
	CorrelationHorizon   int     `json:"correlation_horizon"`
	TimeAlignment        bool    `json:"time_alignment"`

	// Model reuse across runs; off by default, every start retrains.
	ReuseModel bool `json:"reuse_model"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Kernel:               "rbf",
		Nu:                   0.05,
		Gamma:                "auto",
		ConvergenceTolerance: 0.001,
		MaxIterations:        1000,
		WindowSize:           400,
		SamplingRate:         2,
		InterpolationMethod:  "linear",
		Normalize:            true,
		RemoveOutliers:       true,
		MaxGapFraction:       0,
		TrainFraction:        0.8,
		NClusters:            10,
		Linkage:              "ward",
		DistanceMetric:       "euclidean",
		VarianceThreshold:    0.1,
		CorrelationThreshold: 0.7,
		CorrelationHorizon:   1,
		TimeAlignment:        true,
	}
}

// Validate rejects invalid configurations before any stage executes.
func (c Config) Validate() error {
	if _, err := ocsvm.ParseKernel(c.Kernel); err != nil {
		return err
	}
	if c.Nu <= 0 || c.Nu > 0.5 {
		return fmt.Errorf("nu must be in (0, 0.5], got %g", c.Nu)
	}
	if _, err := ocsvm.ParseGamma(c.Gamma); err != nil {
		return err
	}
	if c.ConvergenceTolerance <= 0 {
		return fmt.Errorf("convergence tolerance must be positive, got %g", c.ConvergenceTolerance)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.WindowSize < 2 {
		return fmt.Errorf("window size must be at least 2 samples, got %d", c.WindowSize)
	}
	if c.SamplingRate <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %g", c.SamplingRate)
	}
	if _, err := timeseries.ParseMethod(c.InterpolationMethod); err != nil {
		return err
	}
	if c.MaxGapFraction < 0 || c.MaxGapFraction > 1 {
		return fmt.Errorf("max gap fraction must be in [0,1], got %g", c.MaxGapFraction)
	}
	if c.TrainFraction <= 0 || c.TrainFraction > 1 {
		return fmt.Errorf("train fraction must be in (0,1], got %g", c.TrainFraction)
	}
	if c.NClusters < 2 {
		return fmt.Errorf("n_clusters must be at least 2, got %d", c.NClusters)
	}
	linkage, err := cluster.ParseLinkage(c.Linkage)
	if err != nil {
		return err
	}
	metric, err := cluster.ParseMetric(c.DistanceMetric)
	if err != nil {
		return err
	}
	if linkage == cluster.Ward && metric != cluster.Euclidean {
		return fmt.Errorf("ward linkage requires euclidean distances, got %s", metric)
	}
	if c.VarianceThreshold < 0 {
		return fmt.Errorf("variance threshold must be non-negative, got %g", c.VarianceThreshold)
	}
	if c.CorrelationThreshold < 0 || c.CorrelationThreshold > 1 {
		return fmt.Errorf("correlation threshold must be in [0,1], got %g", c.CorrelationThreshold)
	}
	if c.CorrelationHorizon < 0 {
		return fmt.Errorf("correlation horizon must be non-negative, got %d", c.CorrelationHorizon)
	}
	return nil
}

// ConfigFromMap builds a Config from a loosely-typed key/value payload.
// Missing keys take defaults; unknown keys are ignored.
func ConfigFromMap(m map[string]any) (Config, error) {
	c := DefaultConfig()
	for key, raw := range m {
		var err error
		switch key {
		case "kernel":
			err = asString(raw, &c.Kernel)
		case "nu":
			err = asFloat(raw, &c.Nu)
		case "gamma":
			err = asGamma(raw, &c.Gamma)
		case "convergence_tolerance":
			err = asFloat(raw, &c.ConvergenceTolerance)
		case "max_iterations":
			err = asInt(raw, &c.MaxIterations)
		case "window_size":
			err = asInt(raw, &c.WindowSize)
		case "sampling_rate":
			err = asFloat(raw, &c.SamplingRate)
		case "interpolation_method":
			err = asString(raw, &c.InterpolationMethod)
		case "normalize":
			err = asBool(raw, &c.Normalize)
		case "remove_outliers":
			err = asBool(raw, &c.RemoveOutliers)
		case "max_gap_fraction":
			err = asFloat(raw, &c.MaxGapFraction)
		case "train_fraction":
			err = asFloat(raw, &c.TrainFraction)
		case "n_clusters":
			err = asInt(raw, &c.NClusters)
		case "linkage":
			err = asString(raw, &c.Linkage)
		case "distance_metric":
			err = asString(raw, &c.DistanceMetric)
		case "variance_threshold":
			err = asFloat(raw, &c.VarianceThreshold)
		case "correlation_threshold":
			err = asFloat(raw, &c.CorrelationThreshold)
		case "correlation_horizon":
			err = asInt(raw, &c.CorrelationHorizon)
		case "time_alignment":
			err = asBool(raw, &c.TimeAlignment)
		case "reuse_model":
			err = asBool(raw, &c.ReuseModel)
		default:
			// Unknown keys are ignored so older UI payloads keep working.
		}
		if err != nil {
			return Config{}, fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return c, c.Validate()
}

func asString(raw any, dst *string) error {
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", raw)
	}
	*dst = s
	return nil
}

// asGamma accepts "auto"/"scale" strings or JSON numbers.
func asGamma(raw any, dst *string) error {
	switch v := raw.(type) {
	case string:
		*dst = v
	case float64:
		*dst = fmt.Sprintf("%g", v)
	default:
		return fmt.Errorf("expected string or number, got %T", raw)
	}
	return nil
}

func asFloat(raw any, dst *float64) error {
	switch v := raw.(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	default:
		return fmt.Errorf("expected number, got %T", raw)
	}
	return nil
}

func asInt(raw any, dst *int) error {
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return fmt.Errorf("expected integer, got %g", v)
		}
		*dst = int(v)
	case int:
		*dst = v
	default:
		return fmt.Errorf("expected integer, got %T", raw)
	}
	return nil
}

func asBool(raw any, dst *bool) error {
	b, ok := raw.(bool)
	if !ok {
		return fmt.Errorf("expected boolean, got %T", raw)
	}
	*dst = b
	return nil
}
