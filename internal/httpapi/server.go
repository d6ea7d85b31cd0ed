// Package httpapi serves the copilot over HTTP: answering questions, passage
// search, schema and diagram inspection, the run history and a live progress
// stream.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rendis/copilot/internal/metrics"
	"github.com/rendis/copilot/internal/nodes"
	"github.com/rendis/copilot/internal/retrieval"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/streaming"
	"github.com/rendis/copilot/internal/validation"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Answerer runs one question to completion. Satisfied by *workflow.Engine.
type Answerer interface {
	Run(ctx context.Context, q schema.Question, obs workflow.Observer) (*workflow.Result, error)
}

// RunReader reads the run history. Satisfied by *store.LibSQLStore.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
}

// TraceReader rebuilds a run's node trace. Satisfied by *store.EventLog.
type TraceReader interface {
	ReplayTrace(ctx context.Context, runID string) ([]store.NodeVisit, error)
}

// Deps holds the collaborators of the server. Engine, Validator and Graph are
// required; a nil optional dependency disables its routes with 503.
type Deps struct {
	Engine    Answerer
	Validator *validation.RecordValidator
	Graph     *workflow.Graph
	Searcher  retrieval.Searcher
	Schema    nodes.SchemaDescriber
	Runs      RunReader
	Traces    TraceReader
	Hub       streaming.Hub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server is the copilot HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/answers", s.handleAnswer).Methods(http.MethodPost)
	v1.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	v1.HandleFunc("/schema", s.handleSchema).Methods(http.MethodGet)
	v1.HandleFunc("/diagram", s.handleDiagram).Methods(http.MethodGet)
	v1.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return r
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the event stream working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.DebugContext(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}
