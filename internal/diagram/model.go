// Package diagram renders the workflow graph as Mermaid, ASCII or PNG, with an
// optional overlay of one run's trace.
package diagram

// NodeKind classifies a diagram node by what the step does.
type NodeKind string

const (
	NodeKindReasoning NodeKind = "reasoning"
	NodeKindTool      NodeKind = "tool"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what one run did at a node.
type StatusOverlay struct {
	Visits     int
	DurationMs int64
}

// Edge is one transition. Taken is set when the overlaid run followed it.
type Edge struct {
	From  string
	To    string
	Label string
	Taken bool
}
