package ir

import (
	"fmt"
	"strings"
)

// maxDotInstrs limits how many instructions a node label lists.
const maxDotInstrs = 24

// Dot returns a Graphviz DOT representation of the graph. Entry is filled
// green and Exit red; conditional fallthrough edges are dashed.
func (g *Graph) Dot(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", name)
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, fontname=\"Courier\"];\n")

	for _, b := range g.Blocks {
		var label string
		attrs := ""
		switch b.Kind {
		case BlockEntry:
			label = "Entry"
			attrs = ", style=filled, fillcolor=green"
		case BlockExit:
			label = "Exit"
			attrs = ", style=filled, fillcolor=lightcoral"
		default:
			label = dotBlockLabel(g, b)
		}
		fmt.Fprintf(&sb, "  %d [label=\"%s\"%s];\n", b.ID, label, attrs)
	}

	for _, b := range g.Blocks {
		last := g.LastInstr(b)
		for i, s := range b.Succs {
			style := ""
			if last != nil && last.IsConditional() && i == 0 {
				style = " [style=dashed]"
			}
			fmt.Fprintf(&sb, "  %d -> %d%s;\n", b.ID, s.ID, style)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotBlockLabel(g *Graph, b *Block) string {
	label := b.String()
	for i, in := range g.Instrs(b) {
		if i >= maxDotInstrs {
			label += "\\l..."
			break
		}
		text := formatInstr(g.Method, in)
		text = strings.ReplaceAll(text, "\\", "\\\\")
		text = strings.ReplaceAll(text, "\"", "\\\"")
		label += "\\l" + text
	}
	return label + "\\l"
}
