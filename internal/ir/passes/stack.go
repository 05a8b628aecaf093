package passes

import (
	"tlog.app/go/errors"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

const stackComponent = "StackAnalysis"

// StackDepths is the result of walking the graph with a stack depth counter.
// Depths count pointer-sized slots, not bytes.
type StackDepths struct {
	// Before holds the depth in effect before each visited instruction.
	Before map[mil.ID]int

	// In holds the incoming depth of each visited block.
	In map[*ir.Block]int

	// Exit is the depth with which control reaches Exit; valid only if
	// ExitReached.
	Exit        int
	ExitReached bool

	// Errors counts the inconsistencies reported.
	Errors int
}

type stackWalk struct {
	m     *ir.Method
	g     *ir.Graph
	log   diag.Logger
	ptr   int64
	res   *StackDepths
	stack []stackItem
}

type stackItem struct {
	b     *ir.Block
	depth int
}

// ComputeStackDepths walks the graph of m depth-first from Entry, tracking
// the number of pushed slots. Misaligned shifts, depth mismatches where
// paths join, underflow, and a non-empty stack at Exit are reported as
// errors and the walk continues.
func ComputeStackDepths(m *ir.Method, log diag.Logger) (*StackDepths, error) {
	if err := m.Require("stack", ir.StageGraphBuilt); err != nil {
		return nil, err
	}
	if m.PtrSize != 4 && m.PtrSize != 8 {
		return nil, errors.New("%s: unsupported pointer size %d", m.Name, m.PtrSize)
	}
	if log == nil {
		log = diag.Discard
	}

	w := &stackWalk{
		m:   m,
		g:   m.Graph,
		log: log,
		ptr: int64(m.PtrSize),
		res: &StackDepths{
			Before: make(map[mil.ID]int, len(m.Instrs)),
			In:     make(map[*ir.Block]int, len(m.Graph.Blocks)),
		},
	}
	w.stack = append(w.stack, stackItem{w.g.Entry, 0})

	for len(w.stack) > 0 {
		it := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		if prev, ok := w.res.In[it.b]; ok {
			if prev != it.depth {
				w.errorf("%s: unbalanced stack at %s: reached with depth %d, previously %d",
					m.Name, it.b, it.depth, prev)
				w.res.In[it.b] = it.depth
			}
			continue
		}
		w.res.In[it.b] = it.depth

		out := w.block(it.b, it.depth)

		for i := len(it.b.Succs) - 1; i >= 0; i-- {
			w.stack = append(w.stack, stackItem{it.b.Succs[i], out})
		}
	}

	if d, ok := w.res.In[w.g.Exit]; ok {
		w.res.Exit = d
		w.res.ExitReached = true
		if d != 0 {
			w.errorf("%s: method ends with non-empty stack (depth %d)", m.Name, d)
		}
	}
	return w.res, nil
}

// block records the depth before each instruction of b and returns the
// depth with which control leaves it.
func (w *stackWalk) block(b *ir.Block, depth int) int {
	tail := w.g.IsTailCall(b)
	for _, in := range w.g.Instrs(b) {
		w.res.Before[in.ID] = depth
		if in.Op != mil.OpShiftStack || len(in.Args) == 0 {
			continue
		}
		shift := in.Args[0].Int
		if shift%w.ptr != 0 && !tail {
			w.errorf("%s: misaligned stack shift of %d bytes at %d", w.m.Name, shift, in.Index)
		}
		depth -= int(shift / w.ptr)
		if depth < 0 {
			if !tail {
				w.errorf("%s: stack underflow at %d", w.m.Name, in.Index)
			}
			depth = 0
		}
	}
	if tail {
		// The callee cleans up.
		return 0
	}
	return depth
}

func (w *stackWalk) errorf(format string, args ...any) {
	w.res.Errors++
	diag.Errorf(w.log, stackComponent, format, args...)
}

// AnalyzeStack eliminates explicit stack pointer adjustments. Stack operands,
// written relative to the current top, are resolved to absolute slots using
// the depth at their instruction; every distinct slot is then promoted to a
// fresh register above the highest one in use. Shift instructions become
// nops, and all nops are removed.
func AnalyzeStack(m *ir.Method, log diag.Logger) error {
	depths, err := ComputeStackDepths(m, log)
	if err != nil {
		return err
	}

	next := uint32(0)
	if hi, ok := m.MaxRegister(); ok {
		next = hi + 1
	}
	first := next
	slots := make(map[int64]uint32)
	promote := func(o *mil.Operand, depth int) {
		if !o.IsStack() {
			return
		}
		pos := int64(depth)*int64(m.PtrSize) - o.Int
		r, ok := slots[pos]
		if !ok {
			r = next
			slots[pos] = r
			next++
		}
		*o = mil.RegOp(r)
	}

	for i := range m.Params {
		promote(&m.Params[i], 0)
	}
	for _, in := range m.Instrs {
		if in.Op == mil.OpShiftStack {
			in.Op = mil.OpNop
			in.Args = nil
			continue
		}
		depth := depths.Before[in.ID]
		for i := range in.Args {
			promote(&in.Args[i], depth)
		}
	}
	if len(slots) > 0 {
		diag.Infof(log, stackComponent, "%s: promoted %d stack slots to r%d..r%d",
			m.Name, len(slots), first, next-1)
	}

	if err := RemoveNops(m, log); err != nil {
		return err
	}
	m.Advance(ir.StageStackAnalyzed)
	return nil
}

// RemoveNops physically removes nop instructions from the method and its
// blocks and drops blocks left empty. A trailing nop that a branch lands on
// is kept.
func RemoveNops(m *ir.Method, log diag.Logger) error {
	dead := make(map[mil.ID]bool)
	for _, in := range m.Instrs {
		if in.Op == mil.OpNop {
			dead[in.ID] = true
		}
	}
	n := m.RemoveInstrs(dead)
	if n > 0 {
		diag.Infof(log, "RemoveNops", "%s: removed %d nop instructions", m.Name, n)
	}
	if m.Graph != nil {
		m.Graph.RemoveEmptyBlocks()
	}
	return nil
}
