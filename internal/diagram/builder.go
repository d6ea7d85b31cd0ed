package diagram

import (
	"time"

	"github.com/rendis/copilot/internal/store"
	"github.com/rendis/copilot/internal/workflow"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// DefaultTitle names the copilot workflow diagram.
const DefaultTitle = "Retail analytics copilot"

var nodeLabels = map[workflow.NodeID]string{
	workflow.NodeRouter:      "Router",
	workflow.NodeRetriever:   "Retriever",
	workflow.NodePlanner:     "Planner",
	workflow.NodeSQLGen:      "SQL Generator",
	workflow.NodeExecutor:    "Executor",
	workflow.NodeRepair:      "Repair",
	workflow.NodeSynthesizer: "Synthesizer",
}

var guardLabels = map[string]string{
	workflow.GuardRouteSQL:    "sql",
	workflow.GuardRouteHybrid: "hybrid",
	workflow.GuardNeedsRepair: "sql error, budget left",
}

// Build constructs a DiagramModel from a graph and an optional run trace.
// Nodes are listed start first, then in graph order, then end.
func Build(g *workflow.Graph, trace []workflow.Step) *DiagramModel {
	overlay := overlayFromTrace(trace)

	nodes := []*Node{{ID: startID, Label: "Start", Kind: NodeKindStart}}
	for _, id := range g.Nodes() {
		n := &Node{ID: string(id), Label: labelFor(id), Kind: kindFor(id)}
		if st, ok := overlay[id]; ok {
			n.Status = st
		}
		nodes = append(nodes, n)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	taken := takenEdges(trace)
	edges := []Edge{{From: startID, To: string(g.Start()), Taken: len(trace) > 0}}
	for _, id := range g.Nodes() {
		out := g.Edges(id)
		guarded := len(out) > 1
		for _, e := range out {
			edges = append(edges, Edge{
				From:  string(id),
				To:    diagramID(e.To),
				Label: edgeLabel(e.Guard, guarded),
				Taken: taken[[2]workflow.NodeID{id, e.To}],
			})
		}
	}

	return &DiagramModel{
		Title:  DefaultTitle,
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(nodes, edges),
	}
}

func labelFor(id workflow.NodeID) string {
	if l, ok := nodeLabels[id]; ok {
		return l
	}
	return string(id)
}

func kindFor(id workflow.NodeID) NodeKind {
	switch id {
	case workflow.NodeRetriever, workflow.NodeExecutor:
		return NodeKindTool
	}
	return NodeKindReasoning
}

func diagramID(id workflow.NodeID) string {
	if id == workflow.NodeEnd {
		return endID
	}
	return string(id)
}

// edgeLabel names a guard. The default edge of a branching node is labelled
// "otherwise"; an unconditional edge has no label.
func edgeLabel(guard string, branching bool) string {
	if guard == "" {
		if branching {
			return "otherwise"
		}
		return ""
	}
	if l, ok := guardLabels[guard]; ok {
		return l
	}
	return guard
}

// StepsFromVisits converts a trace replayed from the run store into steps.
func StepsFromVisits(visits []store.NodeVisit) []workflow.Step {
	steps := make([]workflow.Step, 0, len(visits))
	for _, v := range visits {
		steps = append(steps, workflow.Step{
			Node:     workflow.NodeID(v.Node),
			Next:     workflow.NodeID(v.Next),
			Duration: time.Duration(v.DurationMs) * time.Millisecond,
		})
	}
	return steps
}

func overlayFromTrace(trace []workflow.Step) map[workflow.NodeID]*StatusOverlay {
	out := make(map[workflow.NodeID]*StatusOverlay)
	for _, st := range trace {
		o, ok := out[st.Node]
		if !ok {
			o = &StatusOverlay{}
			out[st.Node] = o
		}
		o.Visits++
		o.DurationMs += st.Duration.Milliseconds()
	}
	return out
}

func takenEdges(trace []workflow.Step) map[[2]workflow.NodeID]bool {
	out := make(map[[2]workflow.NodeID]bool, len(trace))
	for _, st := range trace {
		out[[2]workflow.NodeID{st.Node, st.Next}] = true
	}
	return out
}

// buildLevels assigns each node its shortest distance from start. Back edges
// such as repair -> executor do not pull a node down.
func buildLevels(nodes []*Node, edges []Edge) [][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	depth := map[string]int{startID: 0}
	queue := []string{startID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := depth[next]; !seen {
				depth[next] = depth[cur] + 1
				queue = append(queue, next)
			}
		}
	}

	// End always sits on its own last level.
	maxDepth := 0
	for id, d := range depth {
		if id != endID && d > maxDepth {
			maxDepth = d
		}
	}
	if _, ok := depth[endID]; ok {
		depth[endID] = maxDepth + 1
	}

	var levels [][]string
	for _, n := range nodes {
		d, ok := depth[n.ID]
		if !ok {
			continue
		}
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n.ID)
	}
	return levels
}
