package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

func newTestEngine(t *testing.T, pred *fakePredictor, search *staticSearcher, runner *scriptedRunner) *workflow.Engine {
	t.Helper()
	g, err := workflow.DefaultGraph()
	require.NoError(t, err)
	eng, err := workflow.NewEngine(g, Build(Deps{
		Predictor: pred,
		Searcher:  search,
		Runner:    runner,
		Schema:    staticSchema{desc: "Table: orders"},
		Logger:    quiet,
	}), workflow.WithLogger(quiet))
	require.NoError(t, err)
	return eng
}

func visited(res *workflow.Result) []workflow.NodeID {
	out := make([]workflow.NodeID, len(res.Trace))
	for i, st := range res.Trace {
		out[i] = st.Node
	}
	return out
}

func TestFlow_SQLRoute(t *testing.T) {
	pred := newFakePredictor().
		on(reasoning.TaskRoute, map[string]string{"classification": "sql"}).
		on(reasoning.TaskGenerateSQL, map[string]string{"sql_query": "SELECT COUNT(*) AS n FROM orders"}).
		on(reasoning.TaskSynthesize, map[string]string{"final_answer": "830", "explanation": "Counted orders.", "citations": "Orders"})
	runner := &scriptedRunner{envelopes: [][]byte{[]byte(`{"status":"success","data":[{"n":830}],"message":"Successfully retrieved 1 rows."}`)}}

	res, err := newTestEngine(t, pred, &staticSearcher{}, runner).Run(context.Background(),
		schema.Question{ID: "q1", Question: "How many orders?", FormatHint: "int"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []workflow.NodeID{workflow.NodeRouter, workflow.NodeSQLGen, workflow.NodeExecutor, workflow.NodeSynthesizer}, visited(res))
	ans := res.Answer()
	assert.Equal(t, "q1", ans.ID)
	assert.Equal(t, 830, ans.FinalAnswer)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM orders", ans.SQL)
	assert.Equal(t, 1.0, ans.Confidence)
	assert.Equal(t, []string{"Orders"}, ans.Citations)
	assert.Equal(t, 0, pred.calls(reasoning.TaskPlan))
}

func TestFlow_RepairBudgetExhausted(t *testing.T) {
	pred := newFakePredictor().
		on(reasoning.TaskRoute, map[string]string{"classification": "sql"}).
		on(reasoning.TaskGenerateSQL, map[string]string{"sql_query": "SELECT nope FROM orders"}).
		on(reasoning.TaskRepairSQL, map[string]string{"fixed_sql": "SELECT still_nope FROM orders"})
	runner := &scriptedRunner{envelopes: [][]byte{[]byte(`{"status":"error","data":"no such column","message":"SQL Error: no such column"}`)}}

	res, err := newTestEngine(t, pred, &staticSearcher{}, runner).Run(context.Background(),
		schema.Question{ID: "q2", Question: "Broken?", FormatHint: "float"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []workflow.NodeID{
		workflow.NodeRouter, workflow.NodeSQLGen,
		workflow.NodeExecutor, workflow.NodeRepair,
		workflow.NodeExecutor, workflow.NodeRepair,
		workflow.NodeExecutor, workflow.NodeSynthesizer,
	}, visited(res))
	assert.Len(t, runner.queries, 3)
	assert.Equal(t, 2, pred.calls(reasoning.TaskRepairSQL))
	assert.Equal(t, 0, pred.calls(reasoning.TaskSynthesize))

	assert.Equal(t, 2, res.State.RepairSteps)
	ans := res.Answer()
	assert.Equal(t, "N/A", ans.FinalAnswer)
	assert.Equal(t, 0.0, ans.Confidence)
	assert.Contains(t, ans.Explanation, "SQL Error: no such column")
}

func TestFlow_RepairSucceeds(t *testing.T) {
	pred := newFakePredictor().
		on(reasoning.TaskRoute, map[string]string{"classification": "sql"}).
		on(reasoning.TaskGenerateSQL, map[string]string{"sql_query": "SELECT bad"}).
		on(reasoning.TaskRepairSQL, map[string]string{"fixed_sql": "SELECT 1.5 AS v"}).
		on(reasoning.TaskSynthesize, map[string]string{"final_answer": "1.5", "explanation": "ok", "citations": ""})
	runner := &scriptedRunner{envelopes: [][]byte{
		[]byte(`{"status":"error","data":"x","message":"SQL Error: x"}`),
		[]byte(`{"status":"success","data":[{"v":1.5}],"message":"Successfully retrieved 1 rows."}`),
	}}

	res, err := newTestEngine(t, pred, &staticSearcher{}, runner).Run(context.Background(),
		schema.Question{ID: "q3", Question: "v?", FormatHint: "float"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"SELECT bad", "SELECT 1.5 AS v"}, runner.queries)
	ans := res.Answer()
	assert.Equal(t, 1.5, ans.FinalAnswer)
	assert.InDelta(t, 0.9, ans.Confidence, 1e-9)
	assert.Empty(t, ans.Citations)
}

func TestFlow_RAGRoute(t *testing.T) {
	pred := newFakePredictor().
		on(reasoning.TaskRoute, map[string]string{"classification": "rag"}).
		on(reasoning.TaskSynthesize, map[string]string{"final_answer": "14", "explanation": "Policy.", "citations": "product_policy.md::chunk2"})
	search := &staticSearcher{docs: []schema.Passage{{ID: "product_policy.md::chunk2", Content: "Beverages unopened: 14 days"}}}
	runner := &scriptedRunner{}

	var observed []workflow.NodeID
	res, err := newTestEngine(t, pred, search, runner).Run(context.Background(),
		schema.Question{ID: "rag_policy", Question: "Return window for unopened Beverages?", FormatHint: "int"},
		func(node workflow.NodeID, _ workflow.Update) { observed = append(observed, node) })
	require.NoError(t, err)

	want := []workflow.NodeID{workflow.NodeRouter, workflow.NodeRetriever, workflow.NodeSynthesizer}
	assert.Equal(t, want, visited(res))
	assert.Equal(t, want, observed)
	assert.Empty(t, runner.queries)
	assert.Equal(t, 0, pred.calls(reasoning.TaskPlan))
	assert.Equal(t, 0, pred.calls(reasoning.TaskGenerateSQL))

	ans := res.Answer()
	assert.Equal(t, 14, ans.FinalAnswer)
	assert.Equal(t, "", ans.SQL)
	assert.Equal(t, 1.0, ans.Confidence)
}

func TestFlow_HybridRoute(t *testing.T) {
	pred := newFakePredictor().
		on(reasoning.TaskRoute, map[string]string{"classification": "hybrid"}).
		on(reasoning.TaskPlan, map[string]string{"constraints": `{"start_date": "1997-06-01", "end_date": "1997-06-30"}`}).
		on(reasoning.TaskGenerateSQL, map[string]string{"sql_query": "SELECT 0 WHERE 0"}).
		on(reasoning.TaskSynthesize, map[string]string{"final_answer": "0", "explanation": "none", "citations": "marketing_calendar.md::chunk1"})
	search := &staticSearcher{docs: []schema.Passage{{ID: "marketing_calendar.md::chunk1", Content: "Summer Beverages 1997"}}}
	runner := &scriptedRunner{envelopes: [][]byte{[]byte(`{"status":"success","data":[],"message":"Successfully retrieved 0 rows."}`)}}

	res, err := newTestEngine(t, pred, search, runner).Run(context.Background(),
		schema.Question{ID: "q4", Question: "Revenue during Summer Beverages 1997?", FormatHint: "float"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []workflow.NodeID{
		workflow.NodeRouter, workflow.NodeRetriever, workflow.NodePlanner,
		workflow.NodeSQLGen, workflow.NodeExecutor, workflow.NodeSynthesizer,
	}, visited(res))
	assert.Equal(t, `{"end_date":"1997-06-30","start_date":"1997-06-01"}`, pred.lastInput(reasoning.TaskGenerateSQL)["constraints"])
	assert.Equal(t, 0.5, res.Answer().Confidence)
}

func TestFlow_RouterFailureFallsBackToHybrid(t *testing.T) {
	pred := newFakePredictor().
		fail(reasoning.TaskRoute, errBoom).
		on(reasoning.TaskGenerateSQL, map[string]string{"sql_query": "SELECT 1 AS n"}).
		on(reasoning.TaskSynthesize, map[string]string{"final_answer": "1"})
	runner := &scriptedRunner{envelopes: [][]byte{[]byte(`{"status":"success","data":[{"n":1}],"message":"Successfully retrieved 1 rows."}`)}}

	res, err := newTestEngine(t, pred, &staticSearcher{}, runner).Run(context.Background(),
		schema.Question{ID: "q5", Question: "n?", FormatHint: "int"}, nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RouteHybrid, res.State.Route)
	assert.Equal(t, 1, pred.calls(reasoning.TaskPlan))
	assert.Equal(t, 1, res.Answer().FinalAnswer)
}
