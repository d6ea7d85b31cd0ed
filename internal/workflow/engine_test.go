package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/pkg/schema"
)

// --- Test doubles ---

type mockRecorder struct {
	mu      sync.Mutex
	runs    map[string]*store.Run
	updates map[string]store.RunUpdate
	events  []*store.Event
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{runs: map[string]*store.Run{}, updates: map[string]store.RunUpdate{}}
}

func (m *mockRecorder) CreateRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *mockRecorder) UpdateRun(_ context.Context, id string, u store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id] = u
	return nil
}

func (m *mockRecorder) AppendEvent(_ context.Context, e *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockRecorder) countType(typ string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type mockMetrics struct {
	mu          sync.Mutex
	nodes       map[string]int
	transitions int
	runs        int
}

func (m *mockMetrics) ObserveNode(node string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes == nil {
		m.nodes = map[string]int{}
	}
	m.nodes[node]++
}

func (m *mockMetrics) ObserveTransition(_, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
}

func (m *mockMetrics) ObserveRun(_ string, _ int, _ float64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

// scriptedNodes returns a full node set. route picks the classifier output;
// failExec makes every executor run fail. calls may be nil.
func scriptedNodes(route schema.Route, failExec bool, calls map[NodeID]int) map[NodeID]Node {
	count := func(id NodeID, f NodeFunc) Node {
		return NodeFunc(func(ctx context.Context, s *State) Update {
			if calls != nil {
				calls[id]++
			}
			return f(ctx, s)
		})
	}
	return map[NodeID]Node{
		NodeRouter: count(NodeRouter, func(context.Context, *State) Update {
			return Update{Route: Ptr(route)}
		}),
		NodeRetriever: count(NodeRetriever, func(context.Context, *State) Update {
			return Update{RetrievedDocs: []schema.Passage{{ID: "kpi_definitions.md::chunk1", Content: "AOV"}}}
		}),
		NodePlanner: count(NodePlanner, func(context.Context, *State) Update {
			return Update{Constraints: map[string]any{"year": 1997}}
		}),
		NodeSQLGen: count(NodeSQLGen, func(context.Context, *State) Update {
			return Update{SQLQuery: Ptr("SELECT SUM(x) AS Revenue FROM order_items")}
		}),
		NodeExecutor: count(NodeExecutor, func(context.Context, *State) Update {
			if failExec {
				return Update{SQLResult: Ptr(ErrorResult("SQL Error: no such table: x")), IsSQLError: Ptr(true)}
			}
			return Update{SQLResult: Ptr(RowsResult([]map[string]any{{"Revenue": 1234.5}})), IsSQLError: Ptr(false)}
		}),
		NodeRepair: count(NodeRepair, func(_ context.Context, s *State) Update {
			return Update{SQLQuery: Ptr(s.SQLQuery + " -- fixed"), RepairSteps: Ptr(s.RepairSteps + 1)}
		}),
		NodeSynthesizer: count(NodeSynthesizer, func(_ context.Context, s *State) Update {
			if s.IsSQLError {
				return Update{Final: &Final{Answer: "N/A", Confidence: 0}}
			}
			return Update{Final: &Final{Answer: 1234.5, Confidence: 1, Citations: []string{"order_items"}}}
		}),
	}
}

func newTestEngine(t *testing.T, nodes map[NodeID]Node, opts ...Option) *Engine {
	t.Helper()
	g, err := DefaultGraph()
	require.NoError(t, err)
	e, err := NewEngine(g, nodes, opts...)
	require.NoError(t, err)
	return e
}

func traceNodes(r *Result) []NodeID {
	out := make([]NodeID, 0, len(r.Trace))
	for _, s := range r.Trace {
		out = append(out, s.Node)
	}
	return out
}

// --- Tests ---

func TestEngine_SQLRoute(t *testing.T) {
	calls := map[NodeID]int{}
	e := newTestEngine(t, scriptedNodes(schema.RouteSQL, false, calls))

	res, err := e.Run(context.Background(), testQuestion, nil)
	require.NoError(t, err)

	assert.Equal(t, []NodeID{NodeRouter, NodeSQLGen, NodeExecutor, NodeSynthesizer}, traceNodes(res))
	assert.Equal(t, 0, calls[NodeRetriever])
	a := res.Answer()
	assert.Equal(t, 1234.5, a.FinalAnswer)
	assert.Equal(t, "SELECT SUM(x) AS Revenue FROM order_items", a.SQL)
	assert.Equal(t, 1.0, a.Confidence)
	assert.NotEmpty(t, res.RunID)
}

func TestEngine_RAGRouteSkipsSQL(t *testing.T) {
	calls := map[NodeID]int{}
	e := newTestEngine(t, scriptedNodes(schema.RouteRAG, false, calls))

	res, err := e.Run(context.Background(), testQuestion, nil)
	require.NoError(t, err)

	assert.Equal(t, []NodeID{NodeRouter, NodeRetriever, NodeSynthesizer}, traceNodes(res))
	assert.Zero(t, calls[NodePlanner])
	assert.Zero(t, calls[NodeSQLGen])
	assert.Zero(t, calls[NodeExecutor])
	assert.Equal(t, "", res.Answer().SQL)
}

func TestEngine_HybridRoute(t *testing.T) {
	calls := map[NodeID]int{}
	e := newTestEngine(t, scriptedNodes(schema.RouteHybrid, false, calls))

	res, err := e.Run(context.Background(), testQuestion, nil)
	require.NoError(t, err)
	assert.Equal(t,
		[]NodeID{NodeRouter, NodeRetriever, NodePlanner, NodeSQLGen, NodeExecutor, NodeSynthesizer},
		traceNodes(res))
	assert.Equal(t, 1997, res.State.Constraints["year"])
}

func TestEngine_RepairLoopTerminates(t *testing.T) {
	calls := map[NodeID]int{}
	e := newTestEngine(t, scriptedNodes(schema.RouteSQL, true, calls))

	res, err := e.Run(context.Background(), testQuestion, nil)
	require.NoError(t, err)

	assert.Equal(t, MaxRepairs, res.State.RepairSteps)
	assert.Equal(t, MaxRepairs, calls[NodeRepair])
	assert.Equal(t, MaxRepairs+1, calls[NodeExecutor])
	assert.True(t, res.State.IsSQLError)
	assert.Equal(t, "N/A", res.Answer().FinalAnswer)
	assert.Equal(t, 0.0, res.Answer().Confidence)
	assert.Equal(t, NodeSynthesizer, res.Trace[len(res.Trace)-1].Node)
}

func TestEngine_ObserverSeesEveryNode(t *testing.T) {
	e := newTestEngine(t, scriptedNodes(schema.RouteSQL, false, map[NodeID]int{}))

	var seen []NodeID
	_, err := e.Run(context.Background(), testQuestion, func(node NodeID, u Update) {
		seen = append(seen, node)
		assert.False(t, u.Empty(), node)
	})
	require.NoError(t, err)
	assert.Equal(t, []NodeID{NodeRouter, NodeSQLGen, NodeExecutor, NodeSynthesizer}, seen)
}

func TestEngine_RecorderAndMetrics(t *testing.T) {
	rec := newMockRecorder()
	m := &mockMetrics{}
	e := newTestEngine(t, scriptedNodes(schema.RouteSQL, true, map[NodeID]int{}), WithRecorder(rec), WithMetrics(m))

	res, err := e.Run(context.Background(), testQuestion, nil)
	require.NoError(t, err)

	require.Contains(t, rec.runs, res.RunID)
	assert.Equal(t, testQuestion.ID, rec.runs[res.RunID].QuestionID)
	u := rec.updates[res.RunID]
	require.NotNil(t, u.Status)
	assert.Equal(t, store.RunStatusCompleted, *u.Status)
	assert.Equal(t, "sql", *u.Route)
	assert.Equal(t, 2, *u.RepairSteps)
	assert.NotEmpty(t, u.Answer)

	assert.Equal(t, 1, rec.countType(schema.EventRunStarted))
	assert.Equal(t, 1, rec.countType(schema.EventRunCompleted))
	assert.Equal(t, len(res.Trace), rec.countType(schema.EventNodeCompleted))
	assert.Equal(t, 1, rec.countType(schema.EventRouteSelected))
	assert.Equal(t, 2, rec.countType(schema.EventRepairAttempt))
	assert.Equal(t, 1, rec.countType(schema.EventRepairExhausted))

	assert.Equal(t, 3, m.nodes["executor"])
	assert.Equal(t, len(res.Trace), m.transitions)
	assert.Equal(t, 1, m.runs)
}

func TestEngine_VisitCeilingForcesSynthesis(t *testing.T) {
	g, err := NewGraph(NodeRouter, map[NodeID][]Edge{
		NodeRouter:      {{To: NodeRouter}},
		NodeSynthesizer: {{To: NodeEnd}},
	})
	require.NoError(t, err)

	calls := map[NodeID]int{}
	rec := newMockRecorder()
	e, err := NewEngine(g, scriptedNodes(schema.RouteRAG, false, calls), WithRecorder(rec))
	require.NoError(t, err)

	res, err := e.Run(context.Background(), testQuestion, nil)
	require.NoError(t, err)

	assert.Equal(t, maxVisits, calls[NodeRouter])
	assert.Equal(t, 1, calls[NodeSynthesizer])
	assert.Equal(t, NodeSynthesizer, res.Trace[len(res.Trace)-1].Node)
	assert.Equal(t, 1, rec.countType(schema.EventVisitCeiling))
}

func TestEngine_CancelledContext(t *testing.T) {
	rec := newMockRecorder()
	e := newTestEngine(t, scriptedNodes(schema.RouteSQL, false, map[NodeID]int{}), WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, testQuestion, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, res.Trace)
	assert.Equal(t, testQuestion.ID, res.Answer().ID)
	assert.Equal(t, store.RunStatusCancelled, *rec.updates[res.RunID].Status)
}

func TestNewEngine_MissingNode(t *testing.T) {
	g, err := DefaultGraph()
	require.NoError(t, err)

	nodes := scriptedNodes(schema.RouteSQL, false, map[NodeID]int{})
	delete(nodes, NodeRepair)

	_, err = NewEngine(g, nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repair")
}

func TestEngine_ConcurrentRunsAreIsolated(t *testing.T) {
	e := newTestEngine(t, scriptedNodes(schema.RouteSQL, true, nil))

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := testQuestion
			q.ID = q.ID + "-" + string(rune('a'+i))
			res, err := e.Run(context.Background(), q, nil)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, MaxRepairs, r.State.RepairSteps)
		assert.Equal(t, testQuestion.ID+"-"+string(rune('a'+i)), r.Answer().ID)
		ids[r.RunID] = true
	}
	assert.Len(t, ids, len(results))
}
