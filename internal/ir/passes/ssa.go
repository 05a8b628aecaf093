package passes

import (
	"fmt"
	"sort"

	"golang.org/x/tools/container/intsets"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

const ssaComponent = "SSA"

// ssaBuilder carries the per-method state of SSA construction.
type ssaBuilder struct {
	m   *ir.Method
	g   *ir.Graph
	dom *ir.Dominance
	log diag.Logger

	vars   map[uint32]mil.Local // canonical local per register
	regs   []uint32             // registers in ascending order
	params map[uint32]bool

	defBlocks map[uint32][]*ir.Block
	phis      map[*ir.Block][]*mil.Instr

	stacks map[uint32][]int
	next   map[uint32]int

	// defs maps each defining instruction to the local it defines.
	defs map[mil.ID]mil.Local
	// lastDef holds, per block, the last version of each variable it
	// defines.
	lastDef map[*ir.Block]map[uint32]mil.Local

	undef []undefRead
}

type undefRead struct {
	in    *mil.Instr
	local mil.Local
}

// BuildSSA rewrites the registers of m into versioned locals and inserts
// phi functions at the iterated dominance frontiers of their definitions.
// It needs dominance information and fails if it is missing.
func BuildSSA(m *ir.Method, log diag.Logger) error {
	if err := m.Require("ssa", ir.StageDominanceBuilt); err != nil {
		return err
	}
	if log == nil {
		log = diag.Discard
	}

	s := &ssaBuilder{
		m:         m,
		g:         m.Graph,
		dom:       m.Dom,
		log:       log,
		vars:      make(map[uint32]mil.Local),
		params:    make(map[uint32]bool),
		defBlocks: make(map[uint32][]*ir.Block),
		phis:      make(map[*ir.Block][]*mil.Instr),
		stacks:    make(map[uint32][]int),
		next:      make(map[uint32]int),
		defs:      make(map[mil.ID]mil.Local),
		lastDef:   make(map[*ir.Block]map[uint32]mil.Local),
	}

	s.expandTwoAddress()
	s.toLocals()
	s.findDefBlocks()

	s.branchesToBlocks()
	nphi := s.insertPhis()
	s.branchesToInstrs()

	s.rename()
	s.reportUndefined()

	m.Locals = collectLocals(m)
	m.Renumber()
	m.Advance(ir.StageSSA)

	diag.Infof(log, ssaComponent, "%s: %d variables, %d phi functions, %d locals",
		m.Name, len(s.regs), nphi, len(m.Locals))
	return nil
}

// expandTwoAddress turns "op d, s" into "op d, d, s" so the read of the
// destination survives renaming.
func (s *ssaBuilder) expandTwoAddress() {
	for _, in := range s.m.Instrs {
		if in.IsTwoAddress() {
			in.Args = []mil.Operand{in.Args[0], in.Args[0], in.Args[1]}
		}
	}
}

func (s *ssaBuilder) variable(reg uint32) mil.Local {
	v, ok := s.vars[reg]
	if !ok {
		v = mil.Local{Name: fmt.Sprintf("v%d", reg), Reg: reg}
		s.vars[reg] = v
		s.regs = append(s.regs, reg)
	}
	return v
}

// toLocals replaces every register operand, and every memory base register,
// with the canonical local of that register.
func (s *ssaBuilder) toLocals() {
	conv := func(o *mil.Operand) {
		switch {
		case o.IsRegister():
			*o = mil.LocalOp(s.variable(o.Reg))
		case o.Kind == mil.KindMemory && o.HasReg:
			o.Local = s.variable(o.Reg)
		}
	}
	for i := range s.m.Params {
		if s.m.Params[i].IsRegister() {
			s.params[s.m.Params[i].Reg] = true
		}
		conv(&s.m.Params[i])
	}
	for _, in := range s.m.Instrs {
		for i := range in.Args {
			conv(&in.Args[i])
		}
	}
	sort.Slice(s.regs, func(i, j int) bool { return s.regs[i] < s.regs[j] })
}

// findDefBlocks records, per variable, the blocks assigning it. Entry
// counts as a definition of every variable (the value bound on entry).
func (s *ssaBuilder) findDefBlocks() {
	for _, reg := range s.regs {
		s.defBlocks[reg] = []*ir.Block{s.g.Entry}
	}
	for _, b := range s.g.Blocks {
		for _, in := range s.g.Instrs(b) {
			d, ok := in.Dest()
			if !ok || !d.IsLocal() {
				continue
			}
			list := s.defBlocks[d.Local.Reg]
			if list[len(list)-1] != b {
				s.defBlocks[d.Local.Reg] = append(list, b)
			}
		}
	}
}

// branchesToBlocks resolves branch operands to the block they enter.
func (s *ssaBuilder) branchesToBlocks() {
	for _, in := range s.m.Instrs {
		tgt, ok := in.Target()
		if !ok {
			continue
		}
		if b := s.g.BlockOf(tgt); b != nil {
			in.Args[0] = mil.BlockOp(b.ID)
		}
	}
}

// branchesToInstrs turns block operands back into the first instruction of
// the block, which is a phi if the block got one.
func (s *ssaBuilder) branchesToInstrs() {
	for _, in := range s.m.Instrs {
		if !in.Op.IsBranch() || len(in.Args) == 0 || in.Args[0].Kind != mil.KindBlock {
			continue
		}
		b := s.g.Block(int(in.Args[0].Int))
		if b == nil {
			continue
		}
		if first, ok := b.First(); ok {
			in.Args[0] = mil.BranchOp(first)
		}
	}
}

// insertPhis places a phi for every variable at the iterated dominance
// frontier of its definitions. Phis of a block are inserted together at its
// front, in register order. It returns the number of phis inserted.
func (s *ssaBuilder) insertPhis() int {
	n := 0
	for _, reg := range s.regs {
		defs := s.defBlocks[reg]
		if len(defs) < 2 {
			// Only the entry binding.
			continue
		}
		v := s.vars[reg]
		for _, b := range s.iteratedDF(defs) {
			if b.Kind != ir.BlockPlain {
				continue
			}
			args := make([]mil.Operand, len(b.Preds)+1)
			for i := range args {
				args[i] = mil.LocalOp(v)
			}
			phi := s.m.NewInstr(mil.OpPhi, args...)
			s.phis[b] = append(s.phis[b], phi)
			n++
		}
	}

	for _, b := range s.g.Blocks {
		list := s.phis[b]
		if len(list) == 0 {
			continue
		}
		ids := make([]mil.ID, len(list))
		for i, phi := range list {
			ids[i] = phi.ID
		}
		s.m.InsertAt(s.g.InsertPos(b), list...)
		s.g.Prepend(b, ids...)
	}
	return n
}

// iteratedDF computes the closure of the dominance frontier of defs,
// breadth-first.
func (s *ssaBuilder) iteratedDF(defs []*ir.Block) []*ir.Block {
	var result []*ir.Block
	var inResult, queued intsets.Sparse
	queue := append([]*ir.Block(nil), defs...)
	for _, b := range defs {
		queued.Insert(b.ID)
	}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, d := range s.dom.Frontier(b) {
			if inResult.Has(d.ID) {
				continue
			}
			inResult.Insert(d.ID)
			result = append(result, d)
			if !queued.Has(d.ID) {
				queued.Insert(d.ID)
				queue = append(queue, d)
			}
		}
	}
	return result
}

// rename walks the dominator tree in preorder, giving every definition a
// fresh version and every read the version on top of its stack.
func (s *ssaBuilder) rename() {
	for _, reg := range s.regs {
		s.stacks[reg] = []int{1}
		s.next[reg] = 2
	}

	for i := range s.m.Params {
		if p := &s.m.Params[i]; p.IsLocal() {
			p.Local.Version = 1
		}
	}

	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		pushed := make(map[uint32]int)
		define := func(in *mil.Instr, o *mil.Operand) {
			reg := o.Local.Reg
			ver := s.next[reg]
			s.next[reg]++
			s.stacks[reg] = append(s.stacks[reg], ver)
			pushed[reg]++
			o.Local.Version = ver
			s.defs[in.ID] = o.Local
			if s.lastDef[b] == nil {
				s.lastDef[b] = make(map[uint32]mil.Local)
			}
			s.lastDef[b][reg] = o.Local
		}

		for _, in := range s.g.Instrs(b) {
			if in.Op != mil.OpPhi {
				in.Uses(func(o *mil.Operand) { s.read(in, o) })
			}
			if d, ok := in.Dest(); ok && d.IsLocal() {
				define(in, &in.Args[0])
			}
		}

		for _, succ := range b.Succs {
			idx := succ.PredIndex(b)
			if idx < 0 {
				continue
			}
			for _, phi := range s.phis[succ] {
				src := &phi.Args[idx+1]
				s.read(phi, src)
			}
		}

		for _, c := range s.dom.Children(b) {
			visit(c)
		}

		for reg, n := range pushed {
			st := s.stacks[reg]
			s.stacks[reg] = st[:len(st)-n]
		}
	}
	visit(s.g.Entry)
}

// read rewrites a local, or the base local of a memory operand, to the
// reaching version.
func (s *ssaBuilder) read(in *mil.Instr, o *mil.Operand) {
	if !o.IsLocal() && !o.BaseLocal() {
		return
	}
	l := &o.Local
	st := s.stacks[l.Reg]
	if len(st) == 0 {
		return
	}
	l.Version = st[len(st)-1]
	if l.Version == 1 && !s.params[l.Reg] {
		s.undef = append(s.undef, undefRead{in, *l})
	}
}

// reportUndefined warns about reads of variables that have no definition on
// some path. Phi sources only count when the phi result is used.
func (s *ssaBuilder) reportUndefined() {
	if len(s.undef) == 0 {
		return
	}
	live := livePhis(s.m)
	seen := make(map[string]bool)
	for _, u := range s.undef {
		if u.in.Op == mil.OpPhi && !live[u.in.ID] {
			continue
		}
		key := fmt.Sprintf("%d/%s", u.in.ID, u.local)
		if seen[key] {
			continue
		}
		seen[key] = true
		diag.Warnf(s.log, ssaComponent, "%s: %s at %d reads %s, which is not assigned on every path",
			s.m.Name, u.in.Op, u.in.Index, u.local)
	}
}

// livePhis returns the phis whose result is read, directly or through other
// live phis, by a non-phi instruction.
func livePhis(m *ir.Method) map[mil.ID]bool {
	type key struct {
		reg uint32
		ver int
	}
	defPhi := make(map[key]*mil.Instr)
	for _, in := range m.Instrs {
		if in.Op == mil.OpPhi && len(in.Args) > 0 && in.Args[0].IsLocal() {
			l := in.Args[0].Local
			defPhi[key{l.Reg, l.Version}] = in
		}
	}

	live := make(map[mil.ID]bool)
	var work []*mil.Instr
	mark := func(o *mil.Operand) {
		if !o.IsLocal() && !o.BaseLocal() {
			return
		}
		if phi := defPhi[key{o.Local.Reg, o.Local.Version}]; phi != nil && !live[phi.ID] {
			live[phi.ID] = true
			work = append(work, phi)
		}
	}
	for _, in := range m.Instrs {
		if in.Op != mil.OpPhi {
			in.Uses(mark)
		}
	}
	for len(work) > 0 {
		phi := work[len(work)-1]
		work = work[:len(work)-1]
		phi.Uses(mark)
	}
	return live
}

// collectLocals returns every distinct local referenced by the parameters
// and instructions of m, ordered by register and version.
func collectLocals(m *ir.Method) []mil.Local {
	type key struct {
		reg uint32
		ver int
	}
	seen := make(map[key]bool)
	var out []mil.Local
	add := func(o mil.Operand) {
		if !o.IsLocal() && !o.BaseLocal() {
			return
		}
		k := key{o.Local.Reg, o.Local.Version}
		if !seen[k] {
			seen[k] = true
			out = append(out, o.Local)
		}
	}
	for _, p := range m.Params {
		add(p)
	}
	for _, in := range m.Instrs {
		for _, a := range in.Args {
			add(a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reg != out[j].Reg {
			return out[i].Reg < out[j].Reg
		}
		return out[i].Version < out[j].Version
	})
	return out
}
