package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/textparse"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

// Planner extracts query constraints from the retrieved passages.
// Any failure yields an empty constraint map.
type Planner struct {
	pred   reasoning.Predictor
	logger *slog.Logger
}

func NewPlanner(pred reasoning.Predictor, logger *slog.Logger) *Planner {
	return &Planner{pred: pred, logger: logger}
}

// PassageContext renders passages as "Source: <id>\nContent: <content>" blocks.
func PassageContext(docs []schema.Passage) string {
	blocks := make([]string, len(docs))
	for i, d := range docs {
		blocks[i] = fmt.Sprintf("Source: %s\nContent: %s", d.ID, d.Content)
	}
	return strings.Join(blocks, "\n\n")
}

func (n *Planner) Run(ctx context.Context, s *workflow.State) workflow.Update {
	if len(s.RetrievedDocs) == 0 {
		n.logger.WarnContext(ctx, "no docs in state, planner has no context")
	}

	constraints := map[string]any{}
	out, err := n.pred.Predict(ctx, reasoning.PlanSignature, map[string]string{
		"question": s.Question,
		"context":  PassageContext(s.RetrievedDocs),
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "planner failed", "error", err)
		return workflow.Update{Constraints: constraints}
	}

	raw := out["constraints"]
	parsed, err := textparse.ParseObject(raw)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to parse constraints", "raw", raw, "error", err)
		return workflow.Update{Constraints: constraints}
	}

	n.logger.InfoContext(ctx, "extracted constraints", "count", len(parsed))
	return workflow.Update{Constraints: parsed}
}
