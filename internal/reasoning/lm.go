// Package reasoning is the copilot's language-model capability: prompt
// signatures, backends, and the decorators that make calls safe to repeat.
package reasoning

import "context"

// Prompt is one rendered request. Task names the signature it came from.
type Prompt struct {
	Task   string
	System string
	User   string
}

// LM generates a completion for a prompt.
type LM interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Forgetter is implemented by LMs that remember replies. Forget drops the
// stored reply for p so the next Generate reaches the backend.
type Forgetter interface {
	Forget(ctx context.Context, p Prompt)
}

// Predictor runs a signature against its inputs and returns the parsed outputs.
// Nodes depend on this interface only.
type Predictor interface {
	Predict(ctx context.Context, sig *Signature, inputs map[string]string) (map[string]string, error)
}
