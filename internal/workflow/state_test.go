package workflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/copilot/pkg/schema"
)

var testQuestion = schema.Question{
	ID:         "sql_top3_products_by_revenue_alltime",
	Question:   "Top 3 products by total revenue all-time.",
	FormatHint: "list[{product:str, revenue:float}]",
}

func TestNewState_Initial(t *testing.T) {
	s := NewState(testQuestion)

	assert.Equal(t, testQuestion.ID, s.ID)
	assert.Equal(t, 0, s.RepairSteps)
	assert.NotNil(t, s.Citations)
	assert.Empty(t, s.Citations)
	assert.NotNil(t, s.Constraints)
	assert.False(t, s.SQLResult.Set)
	assert.Equal(t, "None", s.SQLResult.String())
}

func TestApply_FieldWiseOverwrite(t *testing.T) {
	s := NewState(testQuestion)
	s.Apply(Update{Route: Ptr(schema.RouteHybrid)})
	s.Apply(Update{Constraints: map[string]any{"category": "Beverages"}})
	s.Apply(Update{SQLQuery: Ptr("SELECT 1")})

	before := *s
	s.Apply(Update{})

	if diff := cmp.Diff(before, *s); diff != "" {
		t.Fatalf("empty update changed state (-before +after):\n%s", diff)
	}

	s.Apply(Update{SQLQuery: Ptr("SELECT 2")})
	assert.Equal(t, "SELECT 2", s.SQLQuery)
	assert.Equal(t, schema.RouteHybrid, s.Route)
	assert.Equal(t, "Beverages", s.Constraints["category"])
}

func TestApply_RepairStepsNeverDecrease(t *testing.T) {
	s := NewState(testQuestion)
	s.Apply(Update{RepairSteps: Ptr(2)})
	s.Apply(Update{RepairSteps: Ptr(1)})
	assert.Equal(t, 2, s.RepairSteps)
}

func TestApply_FinalNilCitations(t *testing.T) {
	s := NewState(testQuestion)
	s.Apply(Update{Final: &Final{Answer: 14, Explanation: "from policy", Confidence: 1}})
	assert.Equal(t, 14, s.FinalAnswer)
	assert.Equal(t, []string{}, s.Citations)
}

func TestSQLResult_Variants(t *testing.T) {
	rows := RowsResult([]map[string]any{{"Revenue": 12.5}})
	assert.False(t, rows.IsError())
	assert.False(t, rows.IsEmpty())
	assert.Equal(t, `[{"Revenue":12.5}]`, rows.String())

	empty := RowsResult(nil)
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, "[]", empty.String())

	failed := ErrorResult("SQL Error: no such column: x")
	assert.True(t, failed.IsError())
	assert.False(t, failed.IsEmpty())
	assert.Equal(t, "SQL Error: no such column: x", failed.String())
}

func TestUpdate_Fields(t *testing.T) {
	u := Update{SQLResult: Ptr(ErrorResult("boom")), IsSQLError: Ptr(true)}
	assert.Equal(t, []string{"sql_result", "is_sql_error"}, u.Fields())
	assert.False(t, u.Empty())
	assert.True(t, Update{}.Empty())

	f := Update{Final: &Final{}}
	assert.Equal(t, []string{"final_answer", "explanation", "citations", "confidence"}, f.Fields())
}

func TestState_VarsAndAnswer(t *testing.T) {
	s := NewState(testQuestion)
	s.Apply(Update{Route: Ptr(schema.RouteSQL), IsSQLError: Ptr(true), RepairSteps: Ptr(1)})

	vars := s.Vars()
	assert.Equal(t, "sql", vars["route"])
	assert.Equal(t, true, vars["is_sql_error"])
	assert.Equal(t, int64(1), vars["repair_steps"])

	s.Citations = nil
	a := s.Answer()
	require.NotNil(t, a.Citations)
	assert.Equal(t, testQuestion.ID, a.ID)
	assert.Equal(t, "", a.SQL)
}
