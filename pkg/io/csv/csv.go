// Package csv provides CSV reading and writing of pipeline sensor data.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	goio "io"
	"os"
	"strconv"
	"time"

	"github.com/hed1ad/pipeguard/pkg/io"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// Reader reads sensor datasets from CSV files with a
// timestamp,pressure,frequency[,anomaly_type] header.
type Reader struct {
	file      *os.File
	reader    *csv.Reader
	hasHeader bool
	headers   []string
	timeCol   int
	pressCol  int
	freqCol   int
	labelCol  int // -1 when absent
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// NewReader opens a CSV dataset file.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		file:      file,
		reader:    csv.NewReader(file),
		hasHeader: true,
		timeCol:   0,
		pressCol:  1,
		freqCol:   2,
		labelCol:  -1,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			file.Close()
			return nil, err
		}
		r.headers = headers
		r.mapColumns(headers)
	}

	return r, nil
}

func (r *Reader) mapColumns(headers []string) {
	for i, h := range headers {
		switch h {
		case "time", "timestamp":
			r.timeCol = i
		case "pressure", "pressure_mpa":
			r.pressCol = i
		case "frequency", "frequency_hz":
			r.freqCol = i
		case "anomaly_type":
			r.labelCol = i
		}
	}
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns the complete dataset, including ground-truth labels when the
// file has an anomaly_type column.
func (r *Reader) Read() (timeseries.Dataset, error) {
	var ds timeseries.Dataset

	for {
		record, err := r.reader.Read()
		if err == goio.EOF {
			break
		}
		if err != nil {
			return timeseries.Dataset{}, err
		}

		sample, label, err := r.parseRecord(record)
		if err != nil {
			continue // Skip malformed rows
		}
		ds.Samples = append(ds.Samples, sample)
		if r.labelCol >= 0 {
			ds.Labels = append(ds.Labels, label)
		}
	}

	return ds, nil
}

// Stream returns a channel of samples for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan timeseries.Sample, error) {
	out := make(chan timeseries.Sample, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				record, err := r.reader.Read()
				if err == goio.EOF {
					return
				}
				if err != nil {
					continue
				}

				sample, _, err := r.parseRecord(record)
				if err != nil {
					continue
				}

				select {
				case out <- sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Reader) parseRecord(record []string) (timeseries.Sample, timeseries.Label, error) {
	max := r.freqCol
	if r.pressCol > max {
		max = r.pressCol
	}
	if r.timeCol > max {
		max = r.timeCol
	}
	if len(record) <= max {
		return timeseries.Sample{}, 0, fmt.Errorf("short row: %d columns", len(record))
	}

	ts, err := parseTime(record[r.timeCol])
	if err != nil {
		return timeseries.Sample{}, 0, err
	}
	pressure, err := strconv.ParseFloat(record[r.pressCol], 64)
	if err != nil {
		return timeseries.Sample{}, 0, err
	}
	frequency, err := strconv.ParseFloat(record[r.freqCol], 64)
	if err != nil {
		return timeseries.Sample{}, 0, err
	}

	label := timeseries.LabelNormal
	if r.labelCol >= 0 && r.labelCol < len(record) {
		label, err = timeseries.ParseLabel(record[r.labelCol])
		if err != nil {
			return timeseries.Sample{}, 0, err
		}
	}

	return timeseries.Sample{Time: ts, Pressure: pressure, Frequency: frequency}, label, nil
}

func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	// Unix seconds fallback, fractional allowed.
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil
}

// Writer writes classified samples as CSV with a
// time,pressure,frequency,is_anomaly,anomaly_type header.
type Writer struct {
	w      *csv.Writer
	closer goio.Closer
	wrote  bool
}

// NewWriter writes CSV to an arbitrary destination, e.g. an HTTP response.
func NewWriter(dst goio.Writer) *Writer {
	return &Writer{w: csv.NewWriter(dst)}
}

// Create opens a CSV file for writing.
func Create(filename string) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &Writer{w: csv.NewWriter(file), closer: file}, nil
}

func (w *Writer) header() error {
	w.wrote = true
	return w.w.Write([]string{"time", "pressure", "frequency", "is_anomaly", "anomaly_type"})
}

// Write outputs a single row.
func (w *Writer) Write(row io.Row) error {
	if !w.wrote {
		if err := w.header(); err != nil {
			return err
		}
	}
	return w.w.Write([]string{
		row.Time.UTC().Format(time.RFC3339),
		strconv.FormatFloat(row.Pressure, 'f', 6, 64),
		strconv.FormatFloat(row.Frequency, 'f', 6, 64),
		strconv.FormatBool(row.IsAnomaly),
		row.AnomalyType,
	})
}

// WriteAll outputs multiple rows.
func (w *Writer) WriteAll(rows []io.Row) error {
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered output and releases resources.
func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
