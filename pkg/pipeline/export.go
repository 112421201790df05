package pipeline

import (
	goio "io"

	"github.com/hed1ad/pipeguard/pkg/io"
	"github.com/hed1ad/pipeguard/pkg/io/csv"
)

// ExportCSV writes the analyzed series with per-sample verdicts. Samples in a
// window the boundary stage never flagged, and trailing samples outside any
// analyzed window, export as normal.
func (r *Results) ExportCSV(dst goio.Writer) error {
	w := csv.NewWriter(dst)
	if err := w.WriteAll(r.Rows()); err != nil {
		return err
	}
	return w.Close()
}

// Rows maps window-level verdicts back onto the resampled samples.
func (r *Results) Rows() []io.Row {
	rows := make([]io.Row, 0, len(r.series))
	for i, s := range r.series {
		row := io.Row{
			Time:        s.Time,
			Pressure:    s.Pressure,
			Frequency:   s.Frequency,
			AnomalyType: "normal",
		}
		if v, ok := r.verdicts[r.windowIndex(i)]; ok {
			if v == TrueAnomaly {
				row.IsAnomaly = true
				row.AnomalyType = "leak"
			} else {
				row.AnomalyType = "operational"
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// windowIndex maps a resampled sample position to its window, or -1 for
// trailing samples the windowing dropped.
func (r *Results) windowIndex(pos int) int {
	if len(r.series) < r.windowSize {
		return 0
	}
	idx := pos / r.windowSize
	if (idx+1)*r.windowSize > len(r.series) {
		return -1
	}
	return idx
}
