// Package synthetic generates labeled pipeline sensor data for testing and
// demonstration: baseline pressure and pump frequency with daily cycles,
// plus injected leak and operational events.
package synthetic

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// Config controls the generated series.
type Config struct {
	Start          time.Time
	Duration       time.Duration
	SampleInterval time.Duration

	BasePressure   float64 // MPa
	BaseFrequency  float64 // Hz
	PressureNoise  float64
	FrequencyNoise float64

	Leaks       int // leak events to inject
	Operational int // operational events to inject
}

// DefaultConfig models a single trunk pipeline sampled every two seconds.
func DefaultConfig() Config {
	return Config{
		Start:          time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Duration:       24 * time.Hour,
		SampleInterval: 2 * time.Second,
		BasePressure:   2.0,
		BaseFrequency:  25.0,
		PressureNoise:  0.02,
		FrequencyNoise: 0.3,
		Leaks:          2,
		Operational:    3,
	}
}

type event struct {
	start, end int // sample indices
	label      timeseries.Label

	pressureDrop float64 // leaks: total drop reached at the end
	pressureAmp  float64 // operational: pump-driven pressure swing
	frequencyAmp float64 // operational: frequency swing
}

// Generate produces a labeled dataset. The rng makes runs reproducible;
// passing the same seed yields the same dataset.
func Generate(cfg Config, rng *rand.Rand) (timeseries.Dataset, error) {
	if cfg.SampleInterval <= 0 {
		return timeseries.Dataset{}, fmt.Errorf("sample interval must be positive")
	}
	n := int(cfg.Duration / cfg.SampleInterval)
	if n < 2 {
		return timeseries.Dataset{}, fmt.Errorf("duration %v too short for interval %v", cfg.Duration, cfg.SampleInterval)
	}

	events, err := placeEvents(cfg, n, rng)
	if err != nil {
		return timeseries.Dataset{}, err
	}

	ds := timeseries.Dataset{
		Samples: make(timeseries.Series, n),
		Labels:  make([]timeseries.Label, n),
	}
	for i := 0; i < n; i++ {
		ts := cfg.Start.Add(time.Duration(i) * cfg.SampleInterval)
		hours := ts.Sub(cfg.Start).Hours()

		// Baseline: slow daily pressure cycle plus a small hourly ripple,
		// pump frequency on a semi-daily cycle.
		pressure := cfg.BasePressure +
			0.1*math.Sin(2*math.Pi*hours/24) +
			0.02*math.Sin(2*math.Pi*hours) +
			rng.NormFloat64()*cfg.PressureNoise
		frequency := cfg.BaseFrequency +
			3*math.Sin(2*math.Pi*hours/12) +
			rng.NormFloat64()*cfg.FrequencyNoise

		label := timeseries.LabelNormal
		for _, ev := range events {
			if i < ev.start || i >= ev.end {
				continue
			}
			frac := float64(i-ev.start) / float64(ev.end-ev.start)
			switch ev.label {
			case timeseries.LabelLeak:
				// Gradual sustained pressure loss; the pumps keep running so
				// frequency stays on its baseline.
				pressure -= ev.pressureDrop * frac
			case timeseries.LabelOperational:
				// Pump regime change: frequency shifts and pressure follows.
				swing := math.Sin(math.Pi * frac)
				pressure += ev.pressureAmp * swing
				frequency += ev.frequencyAmp * swing
			}
			label = ev.label
		}

		ds.Samples[i] = timeseries.Sample{Time: ts, Pressure: pressure, Frequency: frequency}
		ds.Labels[i] = label
	}
	return ds, nil
}

// placeEvents picks non-overlapping spans for the requested events.
func placeEvents(cfg Config, n int, rng *rand.Rand) ([]event, error) {
	perSecond := float64(time.Second) / float64(cfg.SampleInterval)
	samples := func(d time.Duration) int { return int(d.Seconds() * perSecond) }

	var events []event
	overlaps := func(start, end int) bool {
		for _, ev := range events {
			if start < ev.end && ev.start < end {
				return true
			}
		}
		return false
	}
	place := func(length int, build func(start, end int) event) error {
		if length >= n {
			return fmt.Errorf("event of %d samples does not fit in %d", length, n)
		}
		for attempt := 0; attempt < 200; attempt++ {
			start := rng.Intn(n - length)
			if overlaps(start, start+length) {
				continue
			}
			events = append(events, build(start, start+length))
			return nil
		}
		return fmt.Errorf("could not place event of %d samples in %d", length, n)
	}

	for i := 0; i < cfg.Leaks; i++ {
		length := samples(30*time.Minute) + rng.Intn(samples(90*time.Minute)+1)
		err := place(length, func(start, end int) event {
			return event{
				start: start, end: end,
				label:        timeseries.LabelLeak,
				pressureDrop: 0.3 + rng.Float64()*0.5,
			}
		})
		if err != nil {
			return nil, err
		}
	}
	for i := 0; i < cfg.Operational; i++ {
		length := samples(5*time.Minute) + rng.Intn(samples(25*time.Minute)+1)
		err := place(length, func(start, end int) event {
			amp := 0.2 + rng.Float64()*0.2
			if rng.Intn(2) == 0 {
				amp = -amp
			}
			freq := 3 + rng.Float64()*2
			if amp < 0 {
				freq = -freq
			}
			return event{
				start: start, end: end,
				label:        timeseries.LabelOperational,
				pressureAmp:  amp,
				frequencyAmp: freq,
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return events, nil
}

// Fleet generates independent datasets for several pipelines from one seed
// stream, for multi-pipeline scenarios.
func Fleet(cfg Config, pipelines int, rng *rand.Rand) ([]timeseries.Dataset, error) {
	out := make([]timeseries.Dataset, 0, pipelines)
	for i := 0; i < pipelines; i++ {
		ds, err := Generate(cfg, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}
