package passes

import (
	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

// PruneDeadPhis removes phi functions whose result is never read, including
// cycles of phis that only feed each other.
func PruneDeadPhis(m *ir.Method, log diag.Logger) error {
	if err := m.Require("deadphi", ir.StageSSA); err != nil {
		return err
	}
	live := livePhis(m)
	dead := make(map[mil.ID]bool)
	for _, in := range m.Instrs {
		if in.Op == mil.OpPhi && !live[in.ID] {
			dead[in.ID] = true
		}
	}
	if len(dead) == 0 {
		return nil
	}
	n := m.RemoveInstrs(dead)
	m.Locals = collectLocals(m)
	diag.Infof(log, "DeadPhi", "%s: removed %d dead phi functions", m.Name, n)
	return nil
}
