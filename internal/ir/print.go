package ir

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/you-not-fish/lifter/internal/mil"
)

// Fprint writes the method to w. Without a graph the flat instruction list
// is printed; otherwise each block is printed with its edges.
//
// Format:
//
//	func name(r0, r1):
//	  b0: (entry)
//	    -> b1
//	  b1: <- b0
//	    0: move r2, r0
//	    1: return r2
//	    -> b2
//	  b2: (exit) <- b1
func Fprint(w io.Writer, m *Method) {
	fprintHeader(w, m)
	if m.Graph == nil {
		for _, in := range m.Instrs {
			fmt.Fprintf(w, "    %s\n", formatInstr(m, in))
		}
	} else {
		for _, b := range m.Graph.Blocks {
			fprintBlock(w, m, b)
		}
	}
	if len(m.Locals) > 0 {
		fmt.Fprintf(w, "  locals: %s\n", formatLocals(m.Locals))
	}
}

func fprintHeader(w io.Writer, m *Method) {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.String()
	}
	fmt.Fprintf(w, "func %s(%s):\n", m.Name, strings.Join(params, ", "))
}

func fprintBlock(w io.Writer, m *Method, b *Block) {
	label := ""
	switch b.Kind {
	case BlockEntry:
		label = " (entry)"
	case BlockExit:
		label = " (exit)"
	}
	predsStr := ""
	if len(b.Preds) > 0 {
		predsStr = " <- " + blockList(b.Preds)
	}
	fmt.Fprintf(w, "  %s:%s%s\n", b, label, predsStr)

	for _, in := range m.Graph.Instrs(b) {
		fmt.Fprintf(w, "    %s\n", formatInstr(m, in))
	}
	if len(b.Succs) > 0 {
		fmt.Fprintf(w, "    -> %s\n", blockList(b.Succs))
	}
}

func formatInstr(m *Method, in *mil.Instr) string {
	return fmt.Sprintf("%d: %s", in.Index, in.Format(m.FormatOperand))
}

func formatLocals(locals []mil.Local) string {
	parts := make([]string, len(locals))
	for i, l := range locals {
		parts[i] = l.String()
		if l.Type != "" {
			parts[i] += ":" + l.Type
		}
	}
	return strings.Join(parts, " ")
}

func blockList(bs []*Block) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.String()
	}
	return strings.Join(parts, " ")
}

// Sprint returns the printed form of the method.
func Sprint(m *Method) string {
	var sb strings.Builder
	Fprint(&sb, m)
	return sb.String()
}

// Print writes the method to stdout.
func Print(m *Method) {
	Fprint(os.Stdout, m)
}

// FprintDom writes the dominance information of m to w, one block per line:
//
//	b3: idom=b1 ipdom=b4 df=[b1] dom=[b0 b1 b3]
func FprintDom(w io.Writer, m *Method) {
	fprintHeader(w, m)
	d := m.Dom
	if d == nil {
		fmt.Fprintf(w, "  (no dominance information)\n")
		return
	}
	name := func(b *Block) string {
		if b == nil {
			return "-"
		}
		return b.String()
	}
	for _, b := range d.blocks {
		fmt.Fprintf(w, "  %s: idom=%s ipdom=%s df=[%s] dom=[%s] pdom=[%s]\n",
			b, name(d.Idom(b)), name(d.Ipdom(b)),
			blockList(d.Frontier(b)), blockList(d.Dominators(b)), blockList(d.PostDominators(b)))
	}
}
