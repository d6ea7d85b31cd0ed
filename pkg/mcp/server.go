// Package mcp exposes the copilot as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/copilot/internal/nodes"
	"github.com/rendis/copilot/internal/retrieval"
	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/validation"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

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

// CopilotServerDeps holds the dependencies for creating a CopilotServer.
type CopilotServerDeps struct {
	Engine    Answerer
	Validator *validation.RecordValidator
	Graph     *workflow.Graph
	Searcher  retrieval.Searcher
	Schema    nodes.SchemaDescriber
	Runs      RunReader
	Traces    TraceReader
	Logger    *slog.Logger
}

// CopilotServer wraps an MCP server with the copilot tool handlers.
type CopilotServer struct {
	engine    Answerer
	validator *validation.RecordValidator
	graph     *workflow.Graph
	searcher  retrieval.Searcher
	schema    nodes.SchemaDescriber
	runs      RunReader
	traces    TraceReader
	logger    *slog.Logger
	notifier  *ProgressNotifier
	mcpServer *server.MCPServer
}

// NewCopilotServer creates a CopilotServer with all 5 tools registered.
func NewCopilotServer(deps CopilotServerDeps) *CopilotServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CopilotServer{
		engine:    deps.Engine,
		validator: deps.Validator,
		graph:     deps.Graph,
		searcher:  deps.Searcher,
		schema:    deps.Schema,
		runs:      deps.Runs,
		traces:    deps.Traces,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"copilot",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Retail analytics copilot over the Northwind database and the policy/KPI documents. Use copilot.ask to answer a question with a typed final_answer, copilot.search to read document passages, copilot.schema to see the tables, copilot.diagram to draw the workflow, and copilot.runs to inspect past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewProgressNotifier(mcpSrv)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CopilotServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CopilotServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *CopilotServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: askTool(), Handler: s.handleAsk},
		{Tool: searchTool(), Handler: s.handleSearch},
		{Tool: schemaTool(), Handler: s.handleSchema},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: runsTool(), Handler: s.handleRuns},
	}
}

// --- Tool definitions ---

func askTool() mcp.Tool {
	return mcp.NewTool("copilot.ask",
		mcp.WithDescription("Answer a retail analytics question from the database and the documents"),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural language question")),
		mcp.WithString("format_hint", mcp.Description("Expected answer shape, e.g. int, float, str, list[{product:str, revenue:float}] (default: str)")),
		mcp.WithString("id", mcp.Description("Question id echoed in the answer (default: generated)")),
	)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("copilot.search",
		mcp.WithDescription("Search the document corpus and return the best passages"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithNumber("k", mcp.Description("Number of passages (default: 5)")),
	)
}

func schemaTool() mcp.Tool {
	return mcp.NewTool("copilot.schema",
		mcp.WithDescription("Describe the tables visible to the SQL generator"),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("copilot.diagram",
		mcp.WithDescription("Draw the copilot workflow. Returns ASCII art, Mermaid flowchart syntax, or base64-encoded PNG image"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay the node trace of a stored run")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("copilot.runs",
		mcp.WithDescription("List past runs, or fetch one run with its node trace"),
		mcp.WithString("run_id", mcp.Description("Run to fetch; when empty, runs are listed")),
		mcp.WithString("question_id", mcp.Description("Only runs for this question id")),
		mcp.WithString("route", mcp.Enum("rag", "sql", "hybrid"), mcp.Description("Only runs that took this route")),
		mcp.WithString("status", mcp.Enum("running", "completed", "cancelled"), mcp.Description("Only runs in this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to list (default: 20)")),
	)
}
