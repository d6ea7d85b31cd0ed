package nodes

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

var routeCleaner = strings.NewReplacer(".", "", "'", "", `"`, "", "`", "")

// NormalizeRoute maps raw classifier output onto a route. Anything that is not
// exactly rag, sql or hybrid after cleanup reports ok=false.
func NormalizeRoute(raw string) (schema.Route, bool) {
	s := routeCleaner.Replace(strings.ToLower(strings.TrimSpace(raw)))
	s = strings.TrimRight(strings.TrimSpace(s), "!?,;:")
	r := schema.Route(s)
	return r, r.Valid()
}

// Router classifies the question. Errors and unknown labels fall back to hybrid.
type Router struct {
	pred   reasoning.Predictor
	logger *slog.Logger
}

func NewRouter(pred reasoning.Predictor, logger *slog.Logger) *Router {
	return &Router{pred: pred, logger: logger}
}

func (n *Router) Run(ctx context.Context, s *workflow.State) workflow.Update {
	n.logger.InfoContext(ctx, "routing question", "question", truncate(s.Question, 50))

	route := schema.RouteHybrid
	out, err := n.pred.Predict(ctx, reasoning.RouteSignature, map[string]string{"question": s.Question})
	if err != nil {
		n.logger.ErrorContext(ctx, "router failed, defaulting to hybrid", "error", err)
	} else if r, ok := NormalizeRoute(out["classification"]); ok {
		route = r
	} else {
		n.logger.WarnContext(ctx, "router produced invalid route, defaulting to hybrid", "raw", out["classification"])
	}

	n.logger.InfoContext(ctx, "route selected", "route", string(route))
	return workflow.Update{Route: &route}
}
