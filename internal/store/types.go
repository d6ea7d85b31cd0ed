package store

import (
	"encoding/json"
	"time"
)

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
)

// Run is the persisted record of one question passing through the workflow.
// Answer holds the final output record as JSON.
type Run struct {
	ID          string          `json:"id"`
	QuestionID  string          `json:"question_id"`
	Question    string          `json:"question"`
	FormatHint  string          `json:"format_hint"`
	Route       string          `json:"route,omitempty"`
	Status      string          `json:"status"`
	RepairSteps int             `json:"repair_steps"`
	Confidence  *float64        `json:"confidence,omitempty"`
	SQL         string          `json:"sql,omitempty"`
	Answer      json.RawMessage `json:"answer,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
}

// Event is an immutable entry in a run's node trace.
type Event struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Node       string          `json:"node,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// RunUpdate carries the fields written when a run finishes.
type RunUpdate struct {
	Status      *string
	Route       *string
	RepairSteps *int
	Confidence  *float64
	SQL         *string
	Answer      json.RawMessage
	CompletedAt *time.Time
	DurationMs  *int64
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	QuestionID string
	Route      string
	Status     string
	Since      *time.Time
	Limit      int
	Offset     int
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	RunID string
	Node  string
	Since *time.Time
	Limit int
}

// NodeVisit is one node execution reconstructed from the trace.
type NodeVisit struct {
	Node       string `json:"node"`
	Next       string `json:"next,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Sequence   int64  `json:"sequence"`
}
