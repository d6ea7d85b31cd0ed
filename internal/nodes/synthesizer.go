package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/textparse"
	"github.com/rendis/copilot/internal/workflow"
)

// Confidence penalties.
const (
	RepairPenalty      = 0.1
	EmptyResultPenalty = 0.5
)

// Synthesizer writes the final answer and scores it.
type Synthesizer struct {
	pred   reasoning.Predictor
	logger *slog.Logger
}

func NewSynthesizer(pred reasoning.Predictor, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{pred: pred, logger: logger}
}

// Confidence scores a state before synthesis: 1.0 minus 0.1 per repair,
// minus 0.5 when a query route returned no rows, 0 on a failed query,
// clamped to [0, 1].
func Confidence(s *workflow.State) float64 {
	if s.IsSQLError {
		return 0.0
	}
	c := 1.0 - float64(s.RepairSteps)*RepairPenalty
	if s.Route.UsesSQL() && s.SQLResult.IsEmpty() {
		c -= EmptyResultPenalty
	}
	return max(0.0, min(1.0, c))
}

// SynthesisContext renders the SQL outcome and the passages for the model.
func SynthesisContext(s *workflow.State) string {
	docs := make([]string, len(s.RetrievedDocs))
	for i, d := range s.RetrievedDocs {
		docs[i] = fmt.Sprintf("[%s] %s", d.ID, d.Content)
	}
	return fmt.Sprintf("SQL Query Run: %s\nSQL Result Data: %s\n\nReference Documents:\n%s",
		s.SQLQuery, s.SQLResult.String(), strings.Join(docs, "\n"))
}

func (n *Synthesizer) Run(ctx context.Context, s *workflow.State) workflow.Update {
	n.logger.InfoContext(ctx, "synthesizing answer", "question", truncate(s.Question, 50))

	confidence := Confidence(s)
	if s.Route.UsesSQL() && s.SQLResult.IsEmpty() {
		n.logger.WarnContext(ctx, "confidence penalty: sql returned 0 rows")
	}

	if s.IsSQLError {
		return workflow.Update{Final: &workflow.Final{
			Answer:      "N/A",
			Explanation: "I could not answer this because the SQL query failed to execute. Error: " + s.SQLResult.String(),
			Citations:   []string{},
			Confidence:  0.0,
		}}
	}

	out, err := n.pred.Predict(ctx, reasoning.SynthesizeSignature, map[string]string{
		"question":    s.Question,
		"context":     SynthesisContext(s),
		"sql_query":   s.SQLQuery,
		"sql_result":  s.SQLResult.String(),
		"format_hint": s.FormatHint,
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "synthesis failed", "error", err)
		return workflow.Update{Final: &workflow.Final{
			Answer:      "Error",
			Explanation: "Model failed to synthesize response.",
			Citations:   []string{},
			Confidence:  0.0,
		}}
	}

	answer, err := textparse.TypedAnswer(out["final_answer"], s.FormatHint)
	if err != nil {
		n.logger.WarnContext(ctx, "answer parsing failed, keeping raw text", "format_hint", s.FormatHint, "error", err)
	}

	return workflow.Update{Final: &workflow.Final{
		Answer:      answer,
		Explanation: strings.TrimSpace(out["explanation"]),
		Citations:   textparse.SplitCitations(out["citations"]),
		Confidence:  confidence,
	}}
}
