// Package io provides input/output utilities for sensor data ingestion and
// classified-result export.
package io

import (
	"context"
	"time"

	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// Reader is the interface for reading sensor datasets from external sources.
type Reader interface {
	// Read returns the complete dataset, with ground-truth labels when the
	// source carries them.
	Read() (timeseries.Dataset, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan timeseries.Sample, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing classified samples.
type Writer interface {
	// Write outputs a single row.
	Write(row Row) error

	// WriteAll outputs multiple rows.
	WriteAll(rows []Row) error

	// Close flushes buffered output and releases resources.
	Close() error
}

// Row is one exported, classified sample.
type Row struct {
	Time        time.Time `json:"time"`
	Pressure    float64   `json:"pressure"`
	Frequency   float64   `json:"frequency"`
	IsAnomaly   bool      `json:"is_anomaly"`
	AnomalyType string    `json:"anomaly_type"` // normal, leak or operational
}
