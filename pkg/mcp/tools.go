package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/copilot/internal/diagram"
	"github.com/rendis/copilot/internal/nodes"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

const (
	defaultFormatHint = "str"
	defaultRunLimit   = 20
	maxRunLimit       = 200
	maxSearchK        = 50
)

// handleAsk runs one question through the workflow.
func (s *CopilotServer) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question is required"), nil
	}
	q := schema.Question{
		ID:         req.GetString("id", ""),
		Question:   question,
		FormatHint: req.GetString("format_hint", defaultFormatHint),
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	raw, _ := json.Marshal(q)
	if res := s.validator.ValidateQuestion(raw); !res.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid question: %v", res.ToError())), nil
	}

	result, runErr := s.engine.Run(ctx, q, s.notifier.Observer(ctx, q.ID))
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run interrupted: %v", runErr)), nil
	}

	return marshalResult(map[string]any{
		"run_id":       result.RunID,
		"route":        result.State.Route,
		"repair_steps": result.State.RepairSteps,
		"answer":       result.Answer(),
	})
}

// handleSearch returns the top-k passages for a query.
func (s *CopilotServer) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	if s.searcher == nil {
		return mcp.NewToolResultError("search is not configured"), nil
	}

	k := extractInt(req.GetArguments(), "k", nodes.DefaultTopK)
	if k <= 0 {
		k = nodes.DefaultTopK
	}
	k = min(k, maxSearchK)

	passages, searchErr := s.searcher.Search(ctx, query, k)
	if searchErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", searchErr)), nil
	}
	return marshalResult(map[string]any{"passages": passages})
}

// handleSchema describes the visible tables.
func (s *CopilotServer) handleSchema(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.schema == nil {
		return mcp.NewToolResultError("schema is not configured"), nil
	}
	desc, err := s.schema.Describe(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("describe failed: %v", err)), nil
	}
	return mcp.NewToolResultText(desc), nil
}

// handleDiagram draws the workflow in the requested format.
func (s *CopilotServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var trace []workflow.Step
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.traces == nil {
			return mcp.NewToolResultError("run store is not configured"), nil
		}
		visits, replayErr := s.traces.ReplayTrace(ctx, runID)
		if replayErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("trace replay failed: %v", replayErr)), nil
		}
		trace = diagram.StepsFromVisits(visits)
	}
	model := diagram.Build(s.graph, trace)

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// handleRuns lists runs, or returns one run with its trace.
func (s *CopilotServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil {
		return mcp.NewToolResultError("run store is not configured"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.runs.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		out := map[string]any{"run": run}
		if s.traces != nil {
			if visits, err := s.traces.ReplayTrace(ctx, runID); err == nil {
				out["trace"] = visits
			} else {
				s.logger.WarnContext(ctx, "trace replay failed", "run_id", runID, "error", err)
			}
		}
		return marshalResult(out)
	}

	limit := extractInt(req.GetArguments(), "limit", defaultRunLimit)
	if limit <= 0 || limit > maxRunLimit {
		limit = defaultRunLimit
	}
	runs, err := s.runs.ListRuns(ctx, store.RunFilter{
		QuestionID: req.GetString("question_id", ""),
		Route:      req.GetString("route", ""),
		Status:     req.GetString("status", ""),
		Limit:      limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %v", err)), nil
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return marshalResult(map[string]any{"runs": runs})
}

// extractInt safely extracts an integer from the tool arguments.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
