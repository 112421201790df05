// Package detectors provides one-class boundary learning for anomaly detection.
package detectors

import "context"

// Detector is the common interface for boundary-based anomaly detectors.
type Detector interface {
	// Fit learns a decision boundary from normal-only data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Decisions returns signed decision scores for the given samples.
	// A negative score places the sample outside the boundary (anomalous);
	// the magnitude is the distance to the boundary.
	Decisions(data [][]float64) ([]float64, error)

	// DecisionOne returns the signed decision score for a single sample.
	DecisionOne(sample []float64) (float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// DecisionStream scores samples from a channel as they arrive.
	DecisionStream(ctx context.Context, input <-chan []float64, output chan<- Score) error
}

// Score represents a single scored sample.
type Score struct {
	// Decision is the signed distance to the boundary.
	Decision float64
	// IsAnomaly indicates the sample fell outside the boundary.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
	// Metadata contains additional information.
	Metadata map[string]any
}
