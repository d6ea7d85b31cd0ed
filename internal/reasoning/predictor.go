package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rendis/copilot/pkg/schema"
)

// Program runs signatures against a language model.
type Program struct {
	lm     LM
	logger *slog.Logger
}

// NewProgram binds an LM. A nil logger falls back to slog.Default().
func NewProgram(lm LM, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{lm: lm, logger: logger}
}

// Predict renders the signature, generates a reply and parses its outputs.
// An unparseable reply is re-asked once with the parse error appended.
func (p *Program) Predict(ctx context.Context, sig *Signature, inputs map[string]string) (map[string]string, error) {
	prompt := sig.Render(inputs)
	out, err := p.generate(ctx, sig, prompt)
	if !isParseError(err) {
		return out, err
	}

	p.logger.WarnContext(ctx, "re-asking after unparseable reply", "task", sig.Name, "error", err)
	return p.generate(ctx, sig, withCorrection(prompt, err))
}

func (p *Program) generate(ctx context.Context, sig *Signature, prompt Prompt) (map[string]string, error) {
	reply, err := p.lm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	out, err := sig.Parse(reply)
	if err != nil {
		p.logger.DebugContext(ctx, "unparseable reply", "task", sig.Name, "reply_len", len(reply), "error", err)
		if f, ok := p.lm.(Forgetter); ok {
			f.Forget(ctx, prompt)
		}
		return nil, err
	}
	if r := out[reasoningField.Name]; r != "" {
		p.logger.DebugContext(ctx, "model reasoning", "task", sig.Name, "reasoning", r)
	}
	return out, nil
}

func isParseError(err error) bool {
	var cErr *schema.CopilotError
	return errors.As(err, &cErr) && cErr.Code == schema.ErrCodeParse
}

func withCorrection(p Prompt, cause error) Prompt {
	p.User += fmt.Sprintf("\n\nYour previous reply could not be used: %v\n"+
		"Answer again with every [[ ## field ## ]] marker, ending with [[ ## completed ## ]].", cause)
	return p
}

var _ Predictor = (*Program)(nil)
