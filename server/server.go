// Package server exposes batch analysis over HTTP.
//
//	POST /v1/analyses   {"cars": [...]} or {"text": "..."} -> batch report
//	GET  /v1/sessions/{id}
//	GET  /healthz
//	GET  /metrics       prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/dealmesh/aggregate"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/engine"
	"github.com/hupe1980/dealmesh/extract"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/session"
)

// Analyzer is the batch surface the server drives. *dealmesh.DealMesh
// implements it.
type Analyzer interface {
	Analyze(ctx context.Context, cars []core.Car) (*engine.Result, error)
	AnalyzeText(ctx context.Context, text string) (*engine.Result, error)
}

// SessionLookup resolves batch sessions. *dealmesh.DealMesh implements it.
type SessionLookup interface {
	Session(id string) (session.Session, error)
}

// errBadRequest marks client errors.
var errBadRequest = errors.New("bad request")

// Options configures the server.
type Options struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
	MaxCars        int
	Gatherer       prometheus.Gatherer
	// Sessions enables GET /v1/sessions/{id}.
	Sessions SessionLookup
	Logger   logging.Logger
}

// Server is the HTTP API.
type Server struct {
	analyzer Analyzer
	opts     Options
	router   chi.Router
	http     *http.Server
}

// New builds the router.
func New(a Analyzer, optFns ...func(o *Options)) *Server {
	opts := Options{
		Address:        ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   15 * time.Minute,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
		MaxCars:        50,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{analyzer: a, opts: opts}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         opts.Address,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyses", s.wrap(s.handleAnalyze))
		if s.opts.Sessions != nil {
			r.Get("/sessions/{id}", s.wrap(s.handleSession))
		}
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("HTTP server listening", "addr", s.opts.Address)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type analyzeRequest struct {
	Cars []core.Car `json:"cars"`
	Text string     `json:"text"`
}

type analyzeResponse struct {
	aggregate.Report
	Artifacts []string `json:"artifacts,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) error {
	var req analyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}

	var (
		res *engine.Result
		err error
	)
	switch {
	case len(req.Cars) > 0 && strings.TrimSpace(req.Text) != "":
		return fmt.Errorf("%w: send either cars or text", errBadRequest)
	case len(req.Cars) > s.opts.MaxCars:
		return fmt.Errorf("%w: at most %d cars per request", errBadRequest, s.opts.MaxCars)
	case len(req.Cars) > 0:
		for i, c := range req.Cars {
			if verr := c.Validate(); verr != nil {
				return fmt.Errorf("%w: car %d: %v", errBadRequest, i, verr)
			}
			req.Cars[i].Index = i
		}
		res, err = s.analyzer.Analyze(r.Context(), req.Cars)
	case strings.TrimSpace(req.Text) != "":
		res, err = s.analyzer.AnalyzeText(r.Context(), req.Text)
	default:
		return fmt.Errorf("%w: cars or text is required", errBadRequest)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Report: res.Report, Artifacts: res.Artifacts})
	return nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) error {
	sess, err := s.opts.Sessions.Session(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, sess)
	return nil
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, errBadRequest), errors.Is(err, extract.ErrEmptyInput):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, extract.ErrNoCars), errors.Is(err, engine.ErrNoCars):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		}
		if status == http.StatusInternalServerError {
			s.opts.Logger.Error("Request failed", "path", r.URL.Path, "error", err)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.opts.Logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
