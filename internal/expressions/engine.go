package expressions

import "context"

// Engine evaluates expressions against run data.
// Two implementations: CEL (transition guards) and GoJQ (answer extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data any) (any, error)
}
