// Package api exposes the analysis pipeline over HTTP: run control, progress
// polling, result retrieval, CSV export and Prometheus instrumentation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hed1ad/pipeguard/pkg/pipeline"
	"github.com/hed1ad/pipeguard/pkg/timeseries"
)

// DatasetFunc supplies the sensor data a run analyzes.
type DatasetFunc func() (timeseries.Dataset, error)

// Server wires the run context to HTTP handlers.
type Server struct {
	runner  *pipeline.Runner
	source  DatasetFunc
	router  *mux.Router
	metrics *Metrics
	logger  *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithServerLogger routes request and run diagnostics to the given logger.
func WithServerLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the HTTP surface over a run context and a data source.
func NewServer(runner *pipeline.Runner, source DatasetFunc, opts ...Option) *Server {
	s := &Server{
		runner:  runner,
		source:  source,
		router:  mux.NewRouter(),
		metrics: NewMetrics(),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start-analysis", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/analysis-status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/analysis-results", s.handleResults).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.Handle("/prometheus", s.metrics.Handler()).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	cfg, err := pipeline.ConfigFromMap(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := s.source()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading dataset: "+err.Error())
		return
	}

	err = s.runner.Start(context.Background(), ds, cfg)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, pipeline.ErrNotIdle):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.RunsStarted.Inc()
	go s.observe()

	writeJSON(w, http.StatusAccepted, s.runner.Status())
}

// observe waits for the launched run and records its outcome.
func (s *Server) observe() {
	st, err := s.runner.Wait(context.Background())
	if err != nil {
		return
	}
	s.metrics.Progress.Set(float64(st.Progress))
	if st.State == pipeline.StateError.String() {
		s.metrics.RunsFailed.Inc()
		return
	}
	if st.State != pipeline.StateCompleted.String() {
		return
	}
	s.metrics.RunsCompleted.Inc()
	res, err := s.runner.Results()
	if err != nil {
		return
	}
	s.metrics.FlaggedCandidates.Add(float64(res.Metrics.FlaggedCandidates))
	s.metrics.ExcludedCandidates.Add(float64(res.Metrics.ExcludedFalseAnomalies))
	for stage, seconds := range res.Metrics.StageDurations {
		s.metrics.StageDuration.WithLabelValues(stage).Observe(seconds)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.runner.Status()
	s.metrics.Progress.Set(float64(st.Progress))
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Results()
	if err != nil {
		st := s.runner.Status()
		if st.State == pipeline.StateRunning.String() {
			writeError(w, http.StatusConflict, "analysis still running")
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" {
		writeError(w, http.StatusBadRequest, "unsupported export format "+format)
		return
	}

	res, err := s.runner.Results()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="analysis-`+res.RunID+`.csv"`)
	if err := res.ExportCSV(w); err != nil {
		s.logger.Printf("csv export aborted: %v", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Reset(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.metrics.Progress.Set(0)
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
