package streaming

import (
	"context"

	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

// NodePayload summarizes what a node wrote.
type NodePayload struct {
	Fields      []string `json:"fields,omitempty"`
	Route       string   `json:"route,omitempty"`
	SQLQuery    string   `json:"sql_query,omitempty"`
	IsSQLError  *bool    `json:"is_sql_error,omitempty"`
	RepairSteps *int     `json:"repair_steps,omitempty"`
}

// RunPayload closes a question's stream.
type RunPayload struct {
	Answer   schema.Answer `json:"answer"`
	Duration int64         `json:"duration_ms"`
}

// Observer publishes one node.completed event per finished node.
func Observer(ctx context.Context, hub Hub, questionID string) workflow.Observer {
	return func(node workflow.NodeID, u workflow.Update) {
		p := NodePayload{Fields: u.Fields(), IsSQLError: u.IsSQLError, RepairSteps: u.RepairSteps}
		if u.Route != nil {
			p.Route = string(*u.Route)
		}
		if u.SQLQuery != nil {
			p.SQLQuery = *u.SQLQuery
		}
		_ = hub.Publish(ctx, Event{
			QuestionID: questionID,
			Node:       string(node),
			Type:       EventNodeCompleted,
			Payload:    p,
		})
	}
}

// Completed publishes the run.completed event for a finished run.
func Completed(ctx context.Context, hub Hub, res *workflow.Result) error {
	a := res.Answer()
	return hub.Publish(ctx, Event{
		QuestionID: a.ID,
		RunID:      res.RunID,
		Type:       EventRunCompleted,
		Payload:    RunPayload{Answer: a, Duration: res.Duration.Milliseconds()},
	})
}
