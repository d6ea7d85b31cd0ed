package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/copilot/pkg/schema"
)

// SQLResult is the outcome of the last executor run: the returned rows, the
// error text, or nothing when no query has executed yet.
type SQLResult struct {
	Rows []map[string]any
	Err  string
	Set  bool
}

// RowsResult wraps a successful row set. A nil slice is stored as empty.
func RowsResult(rows []map[string]any) SQLResult {
	if rows == nil {
		rows = []map[string]any{}
	}
	return SQLResult{Rows: rows, Set: true}
}

// ErrorResult wraps an executor failure message.
func ErrorResult(msg string) SQLResult {
	return SQLResult{Err: msg, Set: true}
}

// IsError reports whether the result carries an error message.
func (r SQLResult) IsError() bool {
	return r.Set && r.Rows == nil
}

// IsEmpty reports whether the result is a successful, empty row set.
func (r SQLResult) IsEmpty() bool {
	return r.Set && r.Rows != nil && len(r.Rows) == 0
}

// String renders the result the way it is shown to the reasoning model:
// rows as JSON, errors verbatim, and "None" before any execution.
func (r SQLResult) String() string {
	switch {
	case !r.Set:
		return "None"
	case r.Rows == nil:
		return r.Err
	}
	b, err := json.Marshal(r.Rows)
	if err != nil {
		return fmt.Sprint(r.Rows)
	}
	return string(b)
}

// State is the per-question record threaded through the workflow.
// It is created by NewState and only changed through Apply.
type State struct {
	ID         string
	Question   string
	FormatHint string

	Route         schema.Route
	Constraints   map[string]any
	RetrievedDocs []schema.Passage
	SQLQuery      string
	SQLResult     SQLResult
	IsSQLError    bool
	RepairSteps   int

	FinalAnswer any
	Explanation string
	Citations   []string
	Confidence  float64
}

// NewState seeds a fresh state from a question.
func NewState(q schema.Question) *State {
	return &State{
		ID:            q.ID,
		Question:      q.Question,
		FormatHint:    q.FormatHint,
		Constraints:   map[string]any{},
		RetrievedDocs: []schema.Passage{},
		Citations:     []string{},
	}
}

// Final groups the synthesizer's outputs, which are always written together.
type Final struct {
	Answer      any
	Explanation string
	Citations   []string
	Confidence  float64
}

// Update is a partial state change returned by a node. Nil fields are not written.
type Update struct {
	Route         *schema.Route
	Constraints   map[string]any
	RetrievedDocs []schema.Passage
	SQLQuery      *string
	SQLResult     *SQLResult
	IsSQLError    *bool
	RepairSteps   *int
	Final         *Final
}

// Ptr returns a pointer to v, for building updates.
func Ptr[T any](v T) *T {
	return &v
}

// Empty reports whether the update writes nothing.
func (u Update) Empty() bool {
	return u.Route == nil && u.Constraints == nil && u.RetrievedDocs == nil &&
		u.SQLQuery == nil && u.SQLResult == nil && u.IsSQLError == nil &&
		u.RepairSteps == nil && u.Final == nil
}

// Fields lists the state fields the update writes, in declaration order.
func (u Update) Fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(u.Route != nil, "route")
	add(u.Constraints != nil, "constraints")
	add(u.RetrievedDocs != nil, "retrieved_docs")
	add(u.SQLQuery != nil, "sql_query")
	add(u.SQLResult != nil, "sql_result")
	add(u.IsSQLError != nil, "is_sql_error")
	add(u.RepairSteps != nil, "repair_steps")
	if u.Final != nil {
		out = append(out, "final_answer", "explanation", "citations", "confidence")
	}
	return out
}

// Apply merges u into s by field-wise overwrite.
// repair_steps never decreases; a lower value in an update is ignored.
func (s *State) Apply(u Update) {
	if u.Route != nil {
		s.Route = *u.Route
	}
	if u.Constraints != nil {
		s.Constraints = u.Constraints
	}
	if u.RetrievedDocs != nil {
		s.RetrievedDocs = u.RetrievedDocs
	}
	if u.SQLQuery != nil {
		s.SQLQuery = *u.SQLQuery
	}
	if u.SQLResult != nil {
		s.SQLResult = *u.SQLResult
	}
	if u.IsSQLError != nil {
		s.IsSQLError = *u.IsSQLError
	}
	if u.RepairSteps != nil && *u.RepairSteps > s.RepairSteps {
		s.RepairSteps = *u.RepairSteps
	}
	if f := u.Final; f != nil {
		s.FinalAnswer = f.Answer
		s.Explanation = f.Explanation
		s.Citations = f.Citations
		if s.Citations == nil {
			s.Citations = []string{}
		}
		s.Confidence = f.Confidence
	}
}

// Vars exposes the fields transition guards may read.
func (s *State) Vars() map[string]any {
	return map[string]any{
		"id":               s.ID,
		"format_hint":      s.FormatHint,
		"route":            string(s.Route),
		"is_sql_error":     s.IsSQLError,
		"repair_steps":     int64(s.RepairSteps),
		"has_sql_result":   s.SQLResult.Set,
		"constraint_count": int64(len(s.Constraints)),
		"doc_count":        int64(len(s.RetrievedDocs)),
	}
}

// Answer projects the state onto the output record.
func (s *State) Answer() schema.Answer {
	citations := s.Citations
	if citations == nil {
		citations = []string{}
	}
	return schema.Answer{
		ID:          s.ID,
		FinalAnswer: s.FinalAnswer,
		SQL:         s.SQLQuery,
		Confidence:  s.Confidence,
		Explanation: s.Explanation,
		Citations:   citations,
	}
}
