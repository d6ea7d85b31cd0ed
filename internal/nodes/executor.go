package nodes

import (
	"context"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/rendis/copilot/internal/workflow"
)

const msgBadEnvelope = "System Error: Failed to parse execution response."

// Executor runs the current query and records rows or the error message.
type Executor struct {
	runner QueryRunner
	logger *slog.Logger
}

func NewExecutor(runner QueryRunner, logger *slog.Logger) *Executor {
	return &Executor{runner: runner, logger: logger}
}

func (n *Executor) Run(ctx context.Context, s *workflow.State) workflow.Update {
	n.logger.InfoContext(ctx, "executing sql")

	raw, err := n.runner.Execute(ctx, s.SQLQuery)
	if err != nil {
		n.logger.ErrorContext(ctx, "execution failed", "error", err)
		return failed("System Error: " + err.Error())
	}
	n.logger.DebugContext(ctx, "executor raw output", "envelope", string(raw))

	if !gjson.ValidBytes(raw) {
		n.logger.ErrorContext(ctx, "malformed execution envelope", "envelope", string(raw))
		return failed(msgBadEnvelope)
	}
	env := gjson.ParseBytes(raw)
	if !env.IsObject() {
		n.logger.ErrorContext(ctx, "malformed execution envelope", "envelope", string(raw))
		return failed(msgBadEnvelope)
	}

	if env.Get("status").String() != "success" {
		msg := env.Get("message").String()
		n.logger.WarnContext(ctx, "sql execution error", "message", msg)
		return failed(msg)
	}

	rows := []map[string]any{}
	for _, r := range env.Get("data").Array() {
		if m, ok := r.Value().(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	n.logger.InfoContext(ctx, "sql succeeded", "message", env.Get("message").String())
	return workflow.Update{SQLResult: workflow.Ptr(workflow.RowsResult(rows)), IsSQLError: workflow.Ptr(false)}
}

func failed(msg string) workflow.Update {
	return workflow.Update{SQLResult: workflow.Ptr(workflow.ErrorResult(msg)), IsSQLError: workflow.Ptr(true)}
}
