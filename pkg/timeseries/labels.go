package timeseries

import "fmt"

// Label is the ground-truth annotation of a sample, when available.
type Label int

const (
	LabelNormal Label = iota
	LabelLeak
	LabelOperational
)

// ParseLabel maps an anomaly_type column value to a label.
func ParseLabel(s string) (Label, error) {
	switch s {
	case "normal", "":
		return LabelNormal, nil
	case "leak":
		return LabelLeak, nil
	case "operational":
		return LabelOperational, nil
	}
	return 0, fmt.Errorf("unknown anomaly type %q", s)
}

func (l Label) String() string {
	switch l {
	case LabelLeak:
		return "leak"
	case LabelOperational:
		return "operational"
	}
	return "normal"
}

// Dataset is a series with optional per-sample ground truth. Labels is either
// empty (no ground truth) or index-aligned with Samples.
type Dataset struct {
	Samples Series
	Labels  []Label
}

// Validate checks label alignment.
func (d Dataset) Validate() error {
	if len(d.Labels) != 0 && len(d.Labels) != len(d.Samples) {
		return fmt.Errorf("labels misaligned: %d labels for %d samples", len(d.Labels), len(d.Samples))
	}
	return nil
}

// Labeled reports whether ground truth is available.
func (d Dataset) Labeled() bool { return len(d.Labels) == len(d.Samples) && len(d.Samples) > 0 }
