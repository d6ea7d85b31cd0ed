package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/textparse"
	"github.com/rendis/copilot/internal/workflow"
)

// ErrorQuery is the placeholder emitted when generation fails. The executor
// rejects it, which sends the run into repair.
const ErrorQuery = "-- Error generating SQL"

// SQLGenerator writes the query for the question.
type SQLGenerator struct {
	pred   reasoning.Predictor
	schema SchemaDescriber
	logger *slog.Logger
}

func NewSQLGenerator(pred reasoning.Predictor, schema SchemaDescriber, logger *slog.Logger) *SQLGenerator {
	return &SQLGenerator{pred: pred, schema: schema, logger: logger}
}

func (n *SQLGenerator) Run(ctx context.Context, s *workflow.State) workflow.Update {
	n.logger.InfoContext(ctx, "generating sql", "question", truncate(s.Question, 50))

	out, err := n.pred.Predict(ctx, reasoning.GenerateSQLSignature, map[string]string{
		"question":    s.Question,
		"db_schema":   schemaText(ctx, n.schema, n.logger),
		"constraints": constraintsText(s.Constraints),
		"format_hint": s.FormatHint,
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "sql generation failed", "error", err)
		return workflow.Update{SQLQuery: workflow.Ptr(ErrorQuery)}
	}

	query := textparse.CleanSQL(out["sql_query"])
	n.logger.InfoContext(ctx, "generated sql", "sql", query)
	return workflow.Update{SQLQuery: &query}
}
