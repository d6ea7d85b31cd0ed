// Package nodes implements the workflow steps. Every node turns collaborator
// failures into a documented fallback update; none of them returns an error.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/retrieval"
	"github.com/rendis/copilot/internal/workflow"
)

// QueryRunner executes one query and returns the {status, data, message} envelope.
type QueryRunner interface {
	Execute(ctx context.Context, query string) ([]byte, error)
}

// SchemaDescriber renders the tables visible to the model.
type SchemaDescriber interface {
	Describe(ctx context.Context) (string, error)
}

// Deps are the collaborators shared by the nodes.
type Deps struct {
	Predictor reasoning.Predictor
	Searcher  retrieval.Searcher
	Runner    QueryRunner
	Schema    SchemaDescriber
	// TopK is the number of passages retrieved. Zero means DefaultTopK.
	TopK   int
	Logger *slog.Logger
}

// DefaultTopK is the retrieval depth used when none is configured.
const DefaultTopK = 5

// Build constructs every node of the default graph.
func Build(d Deps) map[workflow.NodeID]workflow.Node {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.TopK <= 0 {
		d.TopK = DefaultTopK
	}
	return map[workflow.NodeID]workflow.Node{
		workflow.NodeRouter:      NewRouter(d.Predictor, d.Logger),
		workflow.NodeRetriever:   NewRetriever(d.Searcher, d.TopK, d.Logger),
		workflow.NodePlanner:     NewPlanner(d.Predictor, d.Logger),
		workflow.NodeSQLGen:      NewSQLGenerator(d.Predictor, d.Schema, d.Logger),
		workflow.NodeExecutor:    NewExecutor(d.Runner, d.Logger),
		workflow.NodeRepair:      NewRepairer(d.Predictor, d.Schema, d.Logger),
		workflow.NodeSynthesizer: NewSynthesizer(d.Predictor, d.Logger),
	}
}

// constraintsText renders constraints for a prompt. Empty becomes "None".
func constraintsText(c map[string]any) string {
	if len(c) == 0 {
		return "None"
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprint(c)
	}
	return string(b)
}

// schemaText returns the schema description, or the error text when it
// cannot be produced so generation still has something to read.
func schemaText(ctx context.Context, d SchemaDescriber, logger *slog.Logger) string {
	desc, err := d.Describe(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "schema description failed", "error", err)
		return "Error retrieving schema: " + err.Error()
	}
	return desc
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
