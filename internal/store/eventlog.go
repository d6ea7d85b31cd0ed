package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/copilot/pkg/schema"
)

// EventLog provides trace operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide trace operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// NodePayload is the body of a node_completed event.
type NodePayload struct {
	Next   string   `json:"next,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// ReplayTrace rebuilds the ordered node visits of a run from its events.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayTrace(ctx context.Context, runID string) ([]NodeVisit, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	visits := []NodeVisit{}
	for _, e := range events {
		if e.Type != schema.EventNodeCompleted {
			continue
		}
		v := NodeVisit{Node: e.Node, DurationMs: e.DurationMs, Sequence: e.Sequence}
		if len(e.Payload) > 0 {
			var p NodePayload
			if err := json.Unmarshal(e.Payload, &p); err == nil {
				v.Next = p.Next
			}
		}
		visits = append(visits, v)
	}
	return visits, nil
}

// CountByNode tallies node_completed events across all runs.
func (el *EventLog) CountByNode(ctx context.Context) (map[string]int, error) {
	rows, err := el.store.DB().QueryContext(ctx,
		`SELECT node, COUNT(*) FROM events WHERE event_type = ? GROUP BY node`, schema.EventNodeCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var node string
		var n int
		if err := rows.Scan(&node, &n); err != nil {
			return nil, err
		}
		out[node] = n
	}
	return out, rows.Err()
}
