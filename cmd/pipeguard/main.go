// Command pipeguard runs pipeline leak analysis from the command line: an
// HTTP service, one-shot batch analysis, and synthetic dataset generation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/pipeguard/pkg/api"
	"github.com/hed1ad/pipeguard/pkg/io"
	"github.com/hed1ad/pipeguard/pkg/io/csv"
	"github.com/hed1ad/pipeguard/pkg/pipeline"
	"github.com/hed1ad/pipeguard/pkg/synthetic"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

func main() {
	root := &cobra.Command{
		Use:           "pipeguard",
		Short:         "Pipeline sensor anomaly classification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), analyzeCmd(), generateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadDataset(path string) (timeseries.Dataset, error) {
	r, err := csv.NewReader(path)
	if err != nil {
		return timeseries.Dataset{}, err
	}
	defer r.Close()
	return r.Read()
}

func loadConfig(path string) (pipeline.Config, error) {
	if path == "" {
		return pipeline.DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Config{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return pipeline.Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pipeline.ConfigFromMap(m)
}

func serveCmd() *cobra.Command {
	var addr, data string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if data == "" {
				return fmt.Errorf("--data is required")
			}
			// Re-read per run so restarted analyses see fresh data.
			source := func() (timeseries.Dataset, error) { return loadDataset(data) }
			if _, err := source(); err != nil {
				return fmt.Errorf("checking dataset: %w", err)
			}

			srv := api.NewServer(pipeline.NewRunner(), source)
			log.Printf("serving on %s, dataset %s", addr, data)
			return http.ListenAndServe(addr, srv)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&data, "data", "", "sensor CSV to analyze")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var data, config, output string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis and print the metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if data == "" {
				return fmt.Errorf("--data is required")
			}
			ds, err := loadDataset(data)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(config)
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner()
			watch := runner.Watch()
			if err := runner.Start(cmd.Context(), ds, cfg); err != nil {
				return err
			}
			for st := range watch {
				log.Printf("%3d%% %s", st.Progress, st.Step)
			}
			st, err := runner.Wait(context.Background())
			if err != nil {
				return err
			}
			if st.State != pipeline.StateCompleted.String() {
				return fmt.Errorf("analysis failed: %s", st.Error)
			}

			res, err := runner.Results()
			if err != nil {
				return err
			}
			printMetrics(res)

			if output != "" {
				w, err := os.Create(output)
				if err != nil {
					return err
				}
				defer w.Close()
				if err := res.ExportCSV(w); err != nil {
					return err
				}
				log.Printf("classified samples written to %s", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "sensor CSV to analyze")
	cmd.Flags().StringVar(&config, "config", "", "JSON analysis configuration")
	cmd.Flags().StringVar(&output, "output", "", "write classified samples to this CSV")
	return cmd
}

func printMetrics(res *pipeline.Results) {
	m := res.Metrics
	fmt.Printf("run %s\n", res.RunID)
	fmt.Printf("  windows analyzed:   %d\n", m.TotalWindows)
	fmt.Printf("  flagged candidates: %d\n", m.FlaggedCandidates)
	fmt.Printf("  true anomalies:     %d\n", m.TrueAnomalies)
	fmt.Printf("  excluded:           %d (%.1f%%)\n", m.ExcludedFalseAnomalies, m.ExclusionRate)
	if m.RecallDefined {
		fmt.Printf("  precision/recall/F1: %.3f / %.3f / %.3f\n", m.Precision, m.Recall, m.F1)
	}
	for _, w := range m.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	fmt.Printf("  elapsed: %.2fs\n", m.ProcessingSeconds)
}

func generateCmd() *cobra.Command {
	var (
		output      string
		duration    time.Duration
		leaks, ops  int
		seed        int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a labeled synthetic sensor CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			gen := synthetic.DefaultConfig()
			gen.Duration = duration
			gen.Leaks = leaks
			gen.Operational = ops

			ds, err := synthetic.Generate(gen, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}

			w, err := csv.Create(output)
			if err != nil {
				return err
			}
			rows := make([]io.Row, len(ds.Samples))
			for i, s := range ds.Samples {
				rows[i] = io.Row{
					Time:        s.Time,
					Pressure:    s.Pressure,
					Frequency:   s.Frequency,
					IsAnomaly:   ds.Labels[i] == timeseries.LabelLeak,
					AnomalyType: ds.Labels[i].String(),
				}
			}
			if err := w.WriteAll(rows); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			log.Printf("%d samples written to %s", len(rows), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "destination CSV")
	cmd.Flags().DurationVar(&duration, "duration", 24*time.Hour, "length of the generated series")
	cmd.Flags().IntVar(&leaks, "leaks", 2, "leak events to inject")
	cmd.Flags().IntVar(&ops, "operational", 3, "operational events to inject")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	return cmd
}
