package workflow

import (
	"context"
	"log/slog"

	"github.com/rendis/copilot/internal/expressions"
	"github.com/rendis/copilot/pkg/schema"
)

// NodeID names a workflow node.
type NodeID string

const (
	NodeRouter      NodeID = "router"
	NodeRetriever   NodeID = "retriever"
	NodePlanner     NodeID = "planner"
	NodeSQLGen      NodeID = "sql_gen"
	NodeExecutor    NodeID = "executor"
	NodeRepair      NodeID = "repair"
	NodeSynthesizer NodeID = "synthesizer"
	NodeEnd         NodeID = "end"
)

// NodeIDs lists the runnable nodes in pipeline order.
var NodeIDs = []NodeID{
	NodeRouter, NodeRetriever, NodePlanner, NodeSQLGen,
	NodeExecutor, NodeRepair, NodeSynthesizer,
}

// Edge is one outgoing transition. An empty Guard marks the default edge.
type Edge struct {
	To    NodeID
	Guard string
}

// Graph is a compiled transition table.
type Graph struct {
	start NodeID
	edges map[NodeID][]Edge
	cel   *expressions.CELEngine
}

// DefaultTransitions is the copilot's routing table.
func DefaultTransitions() map[NodeID][]Edge {
	return map[NodeID][]Edge{
		NodeRouter: {
			{To: NodeSQLGen, Guard: GuardRouteSQL},
			{To: NodeRetriever},
		},
		NodeRetriever: {
			{To: NodePlanner, Guard: GuardRouteHybrid},
			{To: NodeSynthesizer},
		},
		NodePlanner:  {{To: NodeSQLGen}},
		NodeSQLGen:   {{To: NodeExecutor}},
		NodeExecutor: {
			{To: NodeRepair, Guard: GuardNeedsRepair},
			{To: NodeSynthesizer},
		},
		NodeRepair:      {{To: NodeExecutor}},
		NodeSynthesizer: {{To: NodeEnd}},
	}
}

// DefaultGraph compiles DefaultTransitions starting at the router.
func DefaultGraph() (*Graph, error) {
	return NewGraph(NodeRouter, DefaultTransitions())
}

// NewGraph validates the table and compiles every guard.
// Each node must end with exactly one default edge and every target must be known.
func NewGraph(start NodeID, edges map[NodeID][]Edge) (*Graph, error) {
	engine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	if _, ok := edges[start]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "start node %q has no transitions", start)
	}

	for from, out := range edges {
		if len(out) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q has no outgoing edges", from)
		}
		for i, e := range out {
			if e.To != NodeEnd {
				if _, ok := edges[e.To]; !ok {
					return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "edge %s -> %s targets an unknown node", from, e.To)
				}
			}
			last := i == len(out)-1
			switch {
			case e.Guard == "" && !last:
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q: default edge must be last", from)
			case e.Guard != "" && last:
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q: missing default edge", from)
			case e.Guard != "":
				if err := engine.Compile(e.Guard); err != nil {
					return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %q guard: %s", from, err.Error()).WithCause(err)
				}
			}
		}
	}

	return &Graph{start: start, edges: edges, cel: engine}, nil
}

// Start returns the entry node.
func (g *Graph) Start() NodeID {
	return g.start
}

// Edges returns the outgoing edges of a node.
func (g *Graph) Edges(node NodeID) []Edge {
	return g.edges[node]
}

// Nodes returns every node with outgoing edges, pipeline order first.
func (g *Graph) Nodes() []NodeID {
	var out []NodeID
	seen := make(map[NodeID]bool, len(g.edges))
	for _, id := range NodeIDs {
		if _, ok := g.edges[id]; ok {
			out = append(out, id)
			seen[id] = true
		}
	}
	for id := range g.edges {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Next is the transition function. It returns the target of the first edge
// whose guard holds; a guard that fails to evaluate is treated as false.
// Unknown nodes and the end node transition to end.
func (g *Graph) Next(ctx context.Context, node NodeID, s *State) NodeID {
	out, ok := g.edges[node]
	if !ok {
		return NodeEnd
	}
	vars := s.Vars()
	for _, e := range out {
		if e.Guard == "" {
			return e.To
		}
		ok, err := g.cel.EvaluateBool(ctx, e.Guard, vars)
		if err != nil {
			slog.Default().DebugContext(ctx, "guard evaluation failed",
				"node", string(node), "guard", e.Guard, "error", err)
			continue
		}
		if ok {
			return e.To
		}
	}
	return NodeEnd
}
