// Package ir holds the method-level representation the lifter works on: the
// instruction arena, the control-flow graph, and dominance information.
package ir

import (
	"maps"

	"github.com/you-not-fish/lifter/internal/mil"
)

// Method is a function being decompiled. It owns its instructions and every
// structure derived from them.
type Method struct {
	// Name identifies the method in output and logs.
	Name string

	// PtrSize is the target pointer size in bytes (4 or 8).
	PtrSize int

	// Params are the locations of the parameters on entry
	// (registers or stack slots).
	Params []mil.Operand

	// Instrs is the instruction list in layout order.
	Instrs []*mil.Instr

	// Graph is the control-flow graph, nil until built.
	Graph *Graph

	// Dom is the dominance information, nil until computed or after the
	// graph changed.
	Dom *Dominance

	// Locals lists the SSA variables, filled by SSA construction.
	Locals []mil.Local

	// Stage is the last pipeline stage completed.
	Stage Stage

	arena []*mil.Instr // indexed by mil.ID; nil once removed
}

// NewMethod creates a method from a flat instruction list. Instruction IDs
// are reset to their positions, so branch operands written as positions
// refer to the right instructions.
func NewMethod(name string, ptrSize int, params []mil.Operand, instrs []*mil.Instr) *Method {
	m := &Method{
		Name:    name,
		PtrSize: ptrSize,
		Params:  params,
		Instrs:  instrs,
		arena:   make([]*mil.Instr, len(instrs)),
	}
	for i, in := range instrs {
		in.ID = mil.ID(i)
		in.Index = i
		m.arena[i] = in
	}
	return m
}

// Instr returns the live instruction with the given ID, or nil.
func (m *Method) Instr(id mil.ID) *mil.Instr {
	if id < 0 || int(id) >= len(m.arena) {
		return nil
	}
	return m.arena[id]
}

// NewInstr allocates an instruction with a fresh ID. The caller must place
// it with InsertAt.
func (m *Method) NewInstr(op mil.Op, args ...mil.Operand) *mil.Instr {
	in := &mil.Instr{ID: mil.ID(len(m.arena)), Index: -1, Op: op, Args: args}
	m.arena = append(m.arena, in)
	return in
}

// InsertAt inserts ins into the instruction list before position pos and
// renumbers. It does not touch block membership.
func (m *Method) InsertAt(pos int, ins ...*mil.Instr) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(m.Instrs) {
		pos = len(m.Instrs)
	}
	list := make([]*mil.Instr, 0, len(m.Instrs)+len(ins))
	list = append(list, m.Instrs[:pos]...)
	list = append(list, ins...)
	list = append(list, m.Instrs[pos:]...)
	m.Instrs = list
	m.Renumber()
}

// RemoveInstrs deletes the instructions in dead from the list and from their
// blocks. Branches to a removed instruction are moved to the next surviving
// instruction in layout order. When a surviving branch targets the removed
// tail of the list, the last instruction is kept instead. It returns the
// number removed.
func (m *Method) RemoveInstrs(dead map[mil.ID]bool) int {
	if len(dead) == 0 {
		return 0
	}
	if last := m.Instrs[len(m.Instrs)-1]; dead[last.ID] && m.branchesIntoTail(dead) {
		// Nothing survives after the tail, so the last instruction stays as
		// the landing point of those branches.
		dead = maps.Clone(dead)
		delete(dead, last.ID)
	}

	// Next surviving instruction for every removed one, scanning backwards.
	next := make(map[mil.ID]mil.ID, len(dead))
	follow := mil.ID(-1)
	for i := len(m.Instrs) - 1; i >= 0; i-- {
		in := m.Instrs[i]
		if dead[in.ID] {
			next[in.ID] = follow
			continue
		}
		follow = in.ID
	}

	kept := m.Instrs[:0]
	n := 0
	for _, in := range m.Instrs {
		if dead[in.ID] {
			m.arena[in.ID] = nil
			n++
			continue
		}
		kept = append(kept, in)
	}
	for i := len(kept); i < len(m.Instrs); i++ {
		m.Instrs[i] = nil
	}
	m.Instrs = kept

	for _, in := range m.Instrs {
		if tgt, ok := in.Target(); ok && dead[tgt] {
			if nt := next[tgt]; nt >= 0 {
				in.Args[0] = mil.BranchOp(nt)
			}
		}
	}
	if m.Graph != nil {
		m.Graph.dropInstrs(dead)
	}
	m.Renumber()
	return n
}

// branchesIntoTail reports whether a surviving instruction branches into the
// run of dead instructions at the end of the list.
func (m *Method) branchesIntoTail(dead map[mil.ID]bool) bool {
	tail := make(map[mil.ID]bool)
	for i := len(m.Instrs) - 1; i >= 0 && dead[m.Instrs[i].ID]; i-- {
		tail[m.Instrs[i].ID] = true
	}
	for _, in := range m.Instrs {
		if dead[in.ID] {
			continue
		}
		if tgt, ok := in.Target(); ok && tail[tgt] {
			return true
		}
	}
	return false
}

// Renumber assigns dense indices 0..n-1 in list order.
func (m *Method) Renumber() {
	for i, in := range m.Instrs {
		in.Index = i
	}
}

// TargetIndex returns the current index of the instruction a Branch operand
// refers to, or -1 if it is not a live instruction.
func (m *Method) TargetIndex(o mil.Operand) int {
	if !o.IsBranch() {
		return -1
	}
	if in := m.Instr(o.Target()); in != nil {
		return in.Index
	}
	return -1
}

// FormatOperand formats o, printing branch targets as instruction indices.
func (m *Method) FormatOperand(o mil.Operand) string {
	if o.IsBranch() {
		if idx := m.TargetIndex(o); idx >= 0 {
			return mil.BranchOp(mil.ID(idx)).String()
		}
		return "@?"
	}
	return o.String()
}

// MaxRegister returns the highest register number referenced by the
// parameters or any instruction, including memory base registers.
func (m *Method) MaxRegister() (uint32, bool) {
	var hi uint32
	found := false
	see := func(o mil.Operand) {
		if o.IsRegister() || (o.Kind == mil.KindMemory && o.HasReg) {
			if !found || o.Reg > hi {
				hi = o.Reg
			}
			found = true
		}
	}
	for _, p := range m.Params {
		see(p)
	}
	for _, in := range m.Instrs {
		for _, a := range in.Args {
			see(a)
		}
	}
	return hi, found
}

// Advance records that stage s has completed.
func (m *Method) Advance(s Stage) {
	if s > m.Stage {
		m.Stage = s
	}
}

// InvalidateDominance drops dominance information after a graph change.
func (m *Method) InvalidateDominance() {
	m.Dom = nil
	if m.Stage >= StageDominanceBuilt {
		m.Stage = StageStackAnalyzed
	}
}
