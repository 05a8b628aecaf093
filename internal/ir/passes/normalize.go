package passes

import (
	"tlog.app/go/errors"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

// BuildCFG partitions the instructions of m into a control-flow graph.
func BuildCFG(m *ir.Method, log diag.Logger) error {
	ir.BuildGraph(m, log)
	return nil
}

// RemoveUnreachable deletes blocks that cannot be reached from Entry along
// with their instructions, then drops empty blocks left by the builder.
func RemoveUnreachable(m *ir.Method, log diag.Logger) error {
	if err := m.Require("unreachable", ir.StageGraphBuilt); err != nil {
		return err
	}
	blocks, instrs := m.Graph.PruneUnreachable()
	if blocks > 0 {
		diag.Infof(log, "RemoveUnreachable", "%s: removed %d unreachable blocks and %d instructions",
			m.Name, blocks, instrs)
	}
	m.Graph.RemoveEmptyBlocks()
	m.Advance(ir.StageNormalized)
	return nil
}

// MergeCalls folds the blocks the builder split off after calls back into
// the calling block.
func MergeCalls(m *ir.Method, log diag.Logger) error {
	if err := m.Require("mergecalls", ir.StageGraphBuilt); err != nil {
		return err
	}
	if n := m.Graph.MergeCallBlocks(); n > 0 {
		diag.Infof(log, "MergeCalls", "%s: merged %d call blocks", m.Name, n)
	}
	return nil
}

// BuildDominance returns a pass computing dominance with the given
// iteration cap.
func BuildDominance(maxIter int) func(*ir.Method, diag.Logger) error {
	return func(m *ir.Method, log diag.Logger) error {
		if err := m.Require("dominance", ir.StageNormalized); err != nil {
			return err
		}
		d, err := ir.ComputeDominance(m.Graph, maxIter)
		if err != nil {
			return errors.Wrap(err, "%s", m.Name)
		}
		m.Dom = d
		m.Advance(ir.StageDominanceBuilt)
		diag.Infof(log, "Dominance", "%s: %d blocks, fixed point after %d sweeps",
			m.Name, len(m.Graph.Blocks), d.Iterations)
		return nil
	}
}

// XorToMove rewrites "xor r, r" into "move r, 0".
func XorToMove(m *ir.Method, log diag.Logger) error {
	n := 0
	for _, in := range m.Instrs {
		if in.Op != mil.OpXor || !selfXor(in) {
			continue
		}
		in.Op = mil.OpMove
		in.Args = []mil.Operand{in.Args[0], mil.IntOp(0)}
		n++
	}
	if n > 0 {
		diag.Infof(log, "XorToMove", "%s: %d xor reg, reg instructions replaced with move reg, 0", m.Name, n)
	}
	return nil
}

func selfXor(in *mil.Instr) bool {
	switch len(in.Args) {
	case 2:
		return in.Args[0].IsRegister() && in.Args[0].Equal(in.Args[1])
	case 3:
		return in.Args[0].IsRegister() && in.Args[1].Equal(in.Args[2])
	}
	return false
}
