package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const boxGap = 2

// statusTag returns a short ASCII indicator for an overlay.
func statusTag(st *StatusOverlay) string {
	switch {
	case st == nil || st.Visits == 0:
		return ""
	case st.Visits > 1:
		return fmt.Sprintf("[x%d]", st.Visits)
	default:
		return "[OK]"
	}
}

// RenderASCII renders a DiagramModel as boxes laid out by level, followed by
// the full transition list. Loops cannot be drawn in a level layout, so the
// list is the authoritative view of the edges.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for i, level := range model.Levels {
		var row []asciiBox
		for _, id := range level {
			if node := findNode(model.Nodes, id); node != nil {
				row = append(row, makeBox(node))
			}
		}
		renderBoxRow(&b, row)
		if i < len(model.Levels)-1 {
			renderConnectors(&b, row)
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- transitions ---\n")
		for _, edge := range model.Edges {
			renderEdge(&b, edge)
		}
	}
	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	content := []string{firstLine(node.Label)}
	if st := node.Status; st != nil {
		if tag := statusTag(st); tag != "" {
			content = append(content, tag)
		}
		if st.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", st.DurationMs))
		}
	}

	inner := 0
	for _, line := range content {
		inner = max(inner, utf8.RuneCountInString(line))
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", inner+2)+"┐")
	for _, line := range content {
		pad := inner - utf8.RuneCountInString(line)
		lines = append(lines, "│ "+line+strings.Repeat(" ", pad)+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", inner+2)+"┘")
	return asciiBox{lines: lines, width: inner + 4}
}

// renderBoxRow writes boxes side by side, bottom-padding shorter ones.
func renderBoxRow(b *strings.Builder, row []asciiBox) {
	height := 0
	for _, box := range row {
		height = max(height, len(box.lines))
	}
	for line := 0; line < height; line++ {
		for i, box := range row {
			if i > 0 {
				b.WriteString(strings.Repeat(" ", boxGap))
			}
			if line < len(box.lines) {
				b.WriteString(box.lines[line])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnectors draws an arrow under the middle of every box in the row.
func renderConnectors(b *strings.Builder, row []asciiBox) {
	if len(row) == 0 {
		return
	}
	var stem, head strings.Builder
	for i, box := range row {
		if i > 0 {
			stem.WriteString(strings.Repeat(" ", boxGap))
			head.WriteString(strings.Repeat(" ", boxGap))
		}
		left := box.width / 2
		right := box.width - left - 1
		stem.WriteString(strings.Repeat(" ", left) + "│" + strings.Repeat(" ", right))
		head.WriteString(strings.Repeat(" ", left) + "▼" + strings.Repeat(" ", right))
	}
	b.WriteString(strings.TrimRight(stem.String(), " ") + "\n")
	b.WriteString(strings.TrimRight(head.String(), " ") + "\n")
}

// renderEdge writes one transition, starred when the overlaid run took it.
func renderEdge(b *strings.Builder, edge Edge) {
	mark := " "
	if edge.Taken {
		mark = "*"
	}
	label := ""
	if edge.Label != "" {
		label = " [" + edge.Label + "]"
	}
	b.WriteString(fmt.Sprintf("  %s %s ─→ %s%s\n", mark, edge.From, edge.To, label))
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
