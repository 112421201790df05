package pipeline

import (
	"github.com/hed1ad/pipeguard/pkg/features"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// RunMetrics summarizes a completed analysis. Quality scores are only
// meaningful against labeled datasets; on unlabeled input every score is
// zero and RecallDefined is false.
type RunMetrics struct {
	Precision     float64 `json:"precision"`
	Recall        float64 `json:"recall"`
	F1            float64 `json:"f1"`
	RecallDefined bool    `json:"recall_defined"` // false when ground truth holds no leaks

	// ExclusionRate is the share of boundary-flagged candidates the later
	// stages reclassified as false anomalies, in percent.
	ExclusionRate float64 `json:"exclusion_rate"`

	TotalSamples           int `json:"total_samples"`
	TotalWindows           int `json:"total_windows"`
	FlaggedCandidates      int `json:"flagged_candidates"`
	TrueAnomalies          int `json:"true_anomalies"`
	ExcludedFalseAnomalies int `json:"excluded_false_anomalies"`

	Warnings          []string           `json:"warnings,omitempty"`
	StageDurations    map[string]float64 `json:"stage_durations_seconds,omitempty"`
	ProcessingSeconds float64            `json:"processing_seconds"`
}

// computeMetrics scores the final verdicts against ground-truth labels at
// window granularity: a window counts as a true leak when any leak-labeled
// raw sample falls inside its time span.
func computeMetrics(ds timeseries.Dataset, windows []features.Window, candidates []Candidate, verdicts map[int]Verdict) RunMetrics {
	m := RunMetrics{
		TotalSamples:      len(ds.Samples),
		TotalWindows:      len(windows),
		FlaggedCandidates: len(candidates),
	}
	for _, c := range candidates {
		if verdicts[c.WindowIndex] == TrueAnomaly {
			m.TrueAnomalies++
		} else {
			m.ExcludedFalseAnomalies++
		}
	}
	if m.FlaggedCandidates > 0 {
		m.ExclusionRate = 100 * float64(m.ExcludedFalseAnomalies) / float64(m.FlaggedCandidates)
	}

	if !ds.Labeled() {
		return m
	}

	truth := leakWindows(ds, windows)
	predicted := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		if verdicts[c.WindowIndex] == TrueAnomaly {
			predicted[c.WindowIndex] = true
		}
	}

	var tp, fp, fn int
	for _, w := range windows {
		switch {
		case truth[w.Index] && predicted[w.Index]:
			tp++
		case !truth[w.Index] && predicted[w.Index]:
			fp++
		case truth[w.Index] && !predicted[w.Index]:
			fn++
		}
	}

	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
		m.RecallDefined = true
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// leakWindows marks the windows whose time span contains at least one
// leak-labeled raw sample.
func leakWindows(ds timeseries.Dataset, windows []features.Window) map[int]bool {
	truth := make(map[int]bool)
	for _, w := range windows {
		if len(w.Samples) == 0 {
			continue
		}
		end := w.Samples[len(w.Samples)-1].Time
		for i, s := range ds.Samples {
			if ds.Labels[i] != timeseries.LabelLeak {
				continue
			}
			if !s.Time.Before(w.Start) && !s.Time.After(end) {
				truth[w.Index] = true
				break
			}
		}
	}
	return truth
}
