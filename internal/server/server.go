// Package server exposes the run control surface over HTTP: start, status,
// cancel, and force-reset, plus Prometheus metrics and a health probe.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/run"
)

// Runner executes one accepted generation run to completion. It is the
// pipeline orchestrator in production and a fake in handler tests.
type Runner interface {
	Execute(ctx context.Context, opts run.StartOptions) error
}

// Server wires the run manager and the pipeline runner into an HTTP API.
// Runs accepted by the start handler execute on a background goroutine
// bound to baseCtx, not to the request context, so a disconnecting caller
// cannot kill a run.
type Server struct {
	cfg     config.ServerConfig
	runs    *run.Manager
	runner  Runner
	baseCtx context.Context
	logger  *slog.Logger
}

// New creates the control-surface server.
func New(cfg config.ServerConfig, runs *run.Manager, runner Runner, baseCtx context.Context, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, runs: runs, runner: runner, baseCtx: baseCtx, logger: logger}
}

// Router builds the HTTP routes. Status polling is throttled per caller IP;
// the other run endpoints are rare administrative actions and are not.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/generation", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/cancel", s.handleCancel)
		r.Post("/reset", s.handleReset)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				s.cfg.StatusRateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
			r.Get("/status", s.handleStatus)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// short shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type startResponse struct {
	Accepted bool   `json:"accepted"`
	RunID    string `json:"run_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// an empty body means "all defaults"
	var opts run.StartOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.respond(w, http.StatusBadRequest, startResponse{Accepted: false, Reason: "invalid request body: " + err.Error()})
		return
	}

	rec, err := s.runs.Start()
	if errors.Is(err, run.ErrRunInProgress) {
		s.respond(w, http.StatusConflict, startResponse{Accepted: false, Reason: err.Error()})
		return
	}
	if err != nil {
		s.respond(w, http.StatusInternalServerError, startResponse{Accepted: false, Reason: err.Error()})
		return
	}

	go func() {
		if err := s.runner.Execute(s.baseCtx, opts); err != nil {
			s.logger.Error("generation run failed", "run_id", rec.RunID, "error", err)
		}
	}()

	s.respond(w, http.StatusAccepted, startResponse{Accepted: true, RunID: rec.RunID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respond(w, http.StatusOK, rec)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	accepted, err := s.runs.RequestCancel()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respond(w, http.StatusOK, acceptedResponse{Accepted: accepted})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.ForceReset(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respond(w, http.StatusOK, acceptedResponse{Accepted: true})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}
