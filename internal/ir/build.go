package ir

import (
	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/mil"
)

const buildComponent = "BuildCFG"

// BuildGraph partitions the method's instructions into basic blocks and
// wires the edges implied by branches, calls and returns. The graph is
// stored in m.Graph and returned.
//
// Unresolvable branch targets and a method that does not end with a control
// transfer are reported as warnings; blocks left without a successor are
// routed to Exit.
func BuildGraph(m *Method, log diag.Logger) *Graph {
	if log == nil {
		log = diag.Discard
	}
	g := NewGraph(m)
	m.Graph = g
	m.Dom = nil

	if len(m.Instrs) == 0 {
		g.Entry.AddSucc(g.Exit)
		m.Advance(StageGraphBuilt)
		return g
	}

	cur := g.NewBlock()
	g.Entry.AddSucc(cur)

	for i, in := range m.Instrs {
		if cur == nil {
			cur = g.NewBlock()
		}
		g.Append(cur, in.ID)

		switch {
		case in.Op == mil.OpJump:
			tgt, ok := in.Target()
			if ok && g.BlockOf(tgt) != nil {
				g.link(in, tgt, log)
			} else {
				cur.Dirty = true
			}
			cur = nil

		case in.IsConditional():
			next := g.NewBlock()
			cur.AddSucc(next)
			cur.Dirty = true
			cur = next

		case in.IsReturn():
			cur.AddSucc(g.Exit)
			cur = nil

		case in.IsCall():
			next := g.NewBlock()
			cur.AddSucc(next)
			cur = next

		case in.Op == mil.OpIndirectJump:
			diag.Warnf(log, buildComponent, "%s: indirect jump at %d through %v is not resolved",
				m.Name, in.Index, in.Args)
			cur = nil

		default:
			if i == len(m.Instrs)-1 {
				diag.Warnf(log, buildComponent, "%s: method should end with control-flow instruction (last is %v)",
					m.Name, in)
			}
		}
	}

	// A trailing conditional branch leaves an empty fallthrough block. A
	// trailing call is a tail call and returns through the callee.
	if cur != nil && len(cur.Instrs) == 0 && !m.Instrs[len(m.Instrs)-1].IsCall() {
		diag.Warnf(log, buildComponent, "%s: control falls off the end of the method", m.Name)
	}

	for {
		b := g.firstDirty()
		if b == nil {
			break
		}
		b.Dirty = false
		last := g.LastInstr(b)
		if last == nil {
			continue
		}
		tgt, ok := last.Target()
		if !ok {
			continue
		}
		g.link(last, tgt, log)
	}

	for _, b := range g.Blocks {
		if b != g.Exit && len(b.Succs) == 0 {
			b.AddSucc(g.Exit)
		}
	}

	g.Renumber()
	m.Advance(StageGraphBuilt)
	return g
}

// link adds the edge for branch instruction in to its target, splitting the
// target block when the target is not its first instruction.
func (g *Graph) link(in *mil.Instr, tgt mil.ID, log diag.Logger) {
	tb := g.BlockOf(tgt)
	if tb == nil {
		diag.Warnf(log, buildComponent, "%s: branch at %d targets %v outside the method",
			g.Method.Name, in.Index, in.Args[0])
		return
	}
	tb = g.Split(tb, tgt)
	g.BlockOf(in.ID).AddSucc(tb)
}

func (g *Graph) firstDirty() *Block {
	for _, b := range g.Blocks {
		if b.Dirty {
			return b
		}
	}
	return nil
}
