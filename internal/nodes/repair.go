package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/textparse"
	"github.com/rendis/copilot/internal/workflow"
)

// Repairer rewrites a failing query from the error message. It always
// consumes one repair step; on failure the old query is resubmitted.
type Repairer struct {
	pred   reasoning.Predictor
	schema SchemaDescriber
	logger *slog.Logger
}

func NewRepairer(pred reasoning.Predictor, schema SchemaDescriber, logger *slog.Logger) *Repairer {
	return &Repairer{pred: pred, schema: schema, logger: logger}
}

func (n *Repairer) Run(ctx context.Context, s *workflow.State) workflow.Update {
	steps := s.RepairSteps + 1
	errMsg := "Unknown Error"
	if m := s.SQLResult.String(); s.SQLResult.Set && m != "" {
		errMsg = m
	}
	n.logger.InfoContext(ctx, "repairing sql", "attempt", steps, "error_message", errMsg)

	out, err := n.pred.Predict(ctx, reasoning.RepairSQLSignature, map[string]string{
		"question":      s.Question,
		"bad_query":     s.SQLQuery,
		"error_message": errMsg,
		"db_schema":     schemaText(ctx, n.schema, n.logger),
		"constraints":   constraintsText(s.Constraints),
		"format_hint":   s.FormatHint,
	})

	query := s.SQLQuery
	if err != nil {
		n.logger.ErrorContext(ctx, "repair failed, keeping original query", "error", err)
	} else {
		query = textparse.CleanSQL(out["fixed_sql"])
		n.logger.InfoContext(ctx, "fixed sql", "sql", query)
	}
	return workflow.Update{SQLQuery: &query, RepairSteps: &steps}
}
