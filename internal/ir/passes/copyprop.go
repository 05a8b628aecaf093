package passes

import (
	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

const copyPropComponent = "CopyProp"

// PropagateCopies replaces reads of a local defined by "move v, x" with x,
// where x is another local or a constant, and removes the moves left
// without readers. A phi source is only replaced when x is available at the
// end of the corresponding predecessor.
func PropagateCopies(m *ir.Method, log diag.Logger) error {
	if err := m.Require("copyprop", ir.StageSSA); err != nil {
		return err
	}
	if log == nil {
		log = diag.Discard
	}

	copies := make(map[localKey]mil.Operand)
	moves := make(map[localKey]*mil.Instr)
	defBlock := make(map[localKey]*ir.Block)
	for _, b := range m.Graph.Blocks {
		for _, in := range m.Graph.Instrs(b) {
			d, ok := in.Dest()
			if !ok || !d.IsLocal() {
				continue
			}
			k := keyOf(d.Local)
			defBlock[k] = b
			if in.Op == mil.OpMove && len(in.Args) == 2 && copySource(in.Args[1]) {
				copies[k] = in.Args[1]
				moves[k] = in
			}
		}
	}
	if len(copies) == 0 {
		return nil
	}

	// resolve follows a chain of copies to its first non-copy source.
	resolve := func(o mil.Operand) (mil.Operand, bool) {
		src, ok := copies[keyOf(o.Local)]
		if !ok {
			return o, false
		}
		for i := 0; i < len(copies) && src.IsLocal(); i++ {
			next, ok := copies[keyOf(src.Local)]
			if !ok {
				break
			}
			src = next
		}
		return src, true
	}
	available := func(src mil.Operand, at *ir.Block) bool {
		if !src.IsLocal() || src.Local.Version <= 1 {
			return true
		}
		db := defBlock[keyOf(src.Local)]
		return db != nil && m.Dom.Dominates(db, at)
	}

	replaced := 0
	for _, b := range m.Graph.Blocks {
		for _, in := range m.Graph.Instrs(b) {
			if in.Op == mil.OpPhi {
				for i := 1; i < len(in.Args) && i-1 < len(b.Preds); i++ {
					o := &in.Args[i]
					if !o.IsLocal() {
						continue
					}
					if src, ok := resolve(*o); ok && available(src, b.Preds[i-1]) {
						*o = src
						replaced++
					}
				}
				continue
			}
			in.Uses(func(o *mil.Operand) {
				switch {
				case o.IsLocal():
					if src, ok := resolve(*o); ok {
						*o = src
						replaced++
					}
				case o.BaseLocal():
					if src, ok := resolve(mil.LocalOp(o.Local)); ok && src.IsLocal() {
						o.Local = src.Local
						replaced++
					}
				}
			})
		}
	}

	read := make(map[localKey]bool)
	for _, in := range m.Instrs {
		in.Uses(func(o *mil.Operand) {
			if o.IsLocal() || o.BaseLocal() {
				read[keyOf(o.Local)] = true
			}
		})
	}
	dead := make(map[mil.ID]bool)
	for k, in := range moves {
		if !read[k] {
			dead[in.ID] = true
		}
	}
	removed := m.RemoveInstrs(dead)
	m.Locals = collectLocals(m)

	if replaced > 0 {
		diag.Infof(log, copyPropComponent, "%s: replaced %d reads, removed %d moves", m.Name, replaced, removed)
	}
	return nil
}

// copySource reports whether a move from o is a plain copy: o is a local or
// a constant, not a memory read.
func copySource(o mil.Operand) bool {
	switch o.Kind {
	case mil.KindLocal, mil.KindInt, mil.KindFloat, mil.KindString:
		return true
	}
	return false
}

func keyOf(l mil.Local) localKey {
	return localKey{l.Reg, l.Version}
}
