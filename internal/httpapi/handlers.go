package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/rendis/copilot/internal/diagram"
	"github.com/rendis/copilot/internal/nodes"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/streaming"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	maxSearchK      = 50
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnswer runs one question through the workflow.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	if res := s.deps.Validator.ValidateQuestion(raw); !res.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid question",
			"issues": res.Issues,
		})
		return
	}
	var q schema.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	var obs workflow.Observer
	if s.deps.Hub != nil {
		obs = streaming.Observer(ctx, s.deps.Hub, q.ID)
	}
	res, err := s.deps.Engine.Run(ctx, q, obs)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "answer interrupted", "question_id", q.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("run interrupted: %v", err))
		return
	}
	if s.deps.Hub != nil {
		_ = streaming.Completed(ctx, s.deps.Hub, res)
	}

	w.Header().Set("X-Run-ID", res.RunID)
	writeJSON(w, http.StatusOK, res.Answer())
}

// handleSearch returns the top-k passages for a query.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	var body struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if body.K <= 0 {
		body.K = nodes.DefaultTopK
	}
	body.K = min(body.K, maxSearchK)

	passages, err := s.deps.Searcher.Search(r.Context(), body.Query, body.K)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passages": passages})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if s.deps.Schema == nil {
		writeError(w, http.StatusServiceUnavailable, "schema is not configured")
		return
	}
	desc, err := s.deps.Schema.Describe(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schema": desc})
}

// handleDiagram renders the workflow graph, optionally overlaid with a
// stored run's trace (?run=<id>).
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var trace []workflow.Step
	if runID := r.URL.Query().Get("run"); runID != "" {
		if s.deps.Traces == nil {
			writeError(w, http.StatusServiceUnavailable, "run store is not configured")
			return
		}
		visits, err := s.deps.Traces.ReplayTrace(ctx, runID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		trace = diagram.StepsFromVisits(visits)
	}
	model := diagram.Build(s.deps.Graph, trace)

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, diagram.RenderASCII(model))
	case "png":
		img, err := diagram.RenderImage(ctx, model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q (want mermaid, ascii or png)", format))
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}

	q := r.URL.Query()
	limit := queryInt(r, "limit", defaultRunLimit)
	if limit <= 0 || limit > maxRunLimit {
		limit = defaultRunLimit
	}
	filter := store.RunFilter{
		QuestionID: q.Get("question_id"),
		Route:      q.Get("route"),
		Status:     q.Get("status"),
		Limit:      limit,
		Offset:     max(queryInt(r, "offset", 0), 0),
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": limit, "offset": filter.Offset})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}

	ctx := r.Context()
	id := mux.Vars(r)["id"]
	run, err := s.deps.Runs.GetRun(ctx, id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	body := map[string]any{"run": run}
	if s.deps.Traces != nil {
		visits, err := s.deps.Traces.ReplayTrace(ctx, id)
		if err != nil {
			s.deps.Logger.WarnContext(ctx, "trace replay failed", "run_id", id, "error", err)
		} else {
			body["trace"] = visits
		}
	}
	writeJSON(w, http.StatusOK, body)
}
