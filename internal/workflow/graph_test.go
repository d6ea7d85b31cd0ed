package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/copilot/pkg/schema"
)

func stateWith(u Update) *State {
	s := NewState(testQuestion)
	s.Apply(u)
	return s
}

func TestDefaultGraph_Transitions(t *testing.T) {
	g, err := DefaultGraph()
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		name string
		from NodeID
		s    *State
		want NodeID
	}{
		{"router sql", NodeRouter, stateWith(Update{Route: Ptr(schema.RouteSQL)}), NodeSQLGen},
		{"router rag", NodeRouter, stateWith(Update{Route: Ptr(schema.RouteRAG)}), NodeRetriever},
		{"router hybrid", NodeRouter, stateWith(Update{Route: Ptr(schema.RouteHybrid)}), NodeRetriever},
		{"retriever hybrid", NodeRetriever, stateWith(Update{Route: Ptr(schema.RouteHybrid)}), NodePlanner},
		{"retriever rag", NodeRetriever, stateWith(Update{Route: Ptr(schema.RouteRAG)}), NodeSynthesizer},
		{"planner", NodePlanner, stateWith(Update{}), NodeSQLGen},
		{"sql_gen", NodeSQLGen, stateWith(Update{}), NodeExecutor},
		{"executor ok", NodeExecutor, stateWith(Update{IsSQLError: Ptr(false)}), NodeSynthesizer},
		{"executor error budget left", NodeExecutor, stateWith(Update{IsSQLError: Ptr(true), RepairSteps: Ptr(1)}), NodeRepair},
		{"executor error exhausted", NodeExecutor, stateWith(Update{IsSQLError: Ptr(true), RepairSteps: Ptr(MaxRepairs)}), NodeSynthesizer},
		{"repair", NodeRepair, stateWith(Update{}), NodeExecutor},
		{"synthesizer", NodeSynthesizer, stateWith(Update{}), NodeEnd},
		{"end", NodeEnd, stateWith(Update{}), NodeEnd},
		{"unknown", NodeID("nope"), stateWith(Update{}), NodeEnd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, g.Next(ctx, tc.from, tc.s))
		})
	}
}

func TestGraph_GuardErrorFallsThrough(t *testing.T) {
	g, err := NewGraph(NodeRouter, map[NodeID][]Edge{
		NodeRouter: {
			{To: NodeSQLGen, Guard: `state.no_such_field == 1`},
			{To: NodeSynthesizer},
		},
		NodeSQLGen:      {{To: NodeEnd}},
		NodeSynthesizer: {{To: NodeEnd}},
	})
	require.NoError(t, err)
	assert.Equal(t, NodeSynthesizer, g.Next(context.Background(), NodeRouter, NewState(testQuestion)))
}

func TestNewGraph_Validation(t *testing.T) {
	cases := map[string]map[NodeID][]Edge{
		"missing default": {
			NodeRouter: {{To: NodeEnd, Guard: GuardRouteSQL}},
		},
		"default not last": {
			NodeRouter: {{To: NodeEnd}, {To: NodeEnd, Guard: GuardRouteSQL}},
		},
		"unknown target": {
			NodeRouter: {{To: NodePlanner}},
		},
		"no edges": {
			NodeRouter: {},
		},
		"bad guard": {
			NodeRouter: {{To: NodeEnd, Guard: `state.route ==`}, {To: NodeEnd}},
		},
	}
	for name, edges := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewGraph(NodeRouter, edges)
			assert.Error(t, err)
		})
	}

	_, err := NewGraph(NodePlanner, map[NodeID][]Edge{NodeRouter: {{To: NodeEnd}}})
	assert.Error(t, err, "start node without transitions")
}

func TestGraph_NodesOrder(t *testing.T) {
	g, err := DefaultGraph()
	require.NoError(t, err)
	assert.Equal(t, NodeIDs, g.Nodes())
	assert.Equal(t, NodeRouter, g.Start())
	assert.Len(t, g.Edges(NodeExecutor), 2)
}

func TestGuardNeedsRepair_UsesBudget(t *testing.T) {
	assert.Equal(t, `state.is_sql_error && state.repair_steps < 2`, GuardNeedsRepair)
}
