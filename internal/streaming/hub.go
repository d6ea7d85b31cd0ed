// Package streaming fans workflow progress out to live subscribers, such as
// the HTTP event stream.
package streaming

import "context"

// Event types.
const (
	EventNodeCompleted = "node.completed"
	EventRunCompleted  = "run.completed"
)

// Event is one progress notification for a question being answered.
type Event struct {
	QuestionID string `json:"question_id"`
	RunID      string `json:"run_id,omitempty"`
	Node       string `json:"node,omitempty"`
	Type       string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// Filter selects the events a subscriber receives. Zero values match everything.
type Filter struct {
	QuestionID string   `json:"question_id,omitempty"`
	Types      []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for progress events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
