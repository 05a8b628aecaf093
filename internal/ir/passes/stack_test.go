package passes

import (
	"strings"
	"testing"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

// stackDepths builds the graph of m and computes its stack depths.
func stackDepths(t *testing.T, m *ir.Method, prune bool) (*StackDepths, *diag.Recorder) {
	t.Helper()
	log := &diag.Recorder{}
	ir.BuildGraph(m, nil)
	if prune {
		if err := RemoveUnreachable(m, nil); err != nil {
			t.Fatal(err)
		}
	}
	d, err := ComputeStackDepths(m, log)
	if err != nil {
		t.Fatalf("ComputeStackDepths: %v", err)
	}
	return d, log
}

// TestStackPushPopAroundCall checks
//
//	shiftStack -8; move [stack:0], r2; call f; shiftStack 8; return
//
// The shifts are removed and the slot becomes r3.
func TestStackPushPopAroundCall(t *testing.T) {
	build := func() *ir.Method {
		return newMethod("push", []mil.Operand{mil.RegOp(2)}, func(b *mil.Builder) {
			b.ShiftStack(-8)
			b.Move(mil.StackOp(0), mil.RegOp(2))
			b.Call(mil.None, "f")
			b.ShiftStack(8)
			b.Return()
		})
	}

	d, log := stackDepths(t, build(), false)
	if d.Errors != 0 || log.Count(diag.LevelError) != 0 {
		t.Errorf("balanced method reported errors: %v", log.Entries())
	}
	if !d.ExitReached || d.Exit != 0 {
		t.Errorf("exit depth = %d (reached %v), want 0", d.Exit, d.ExitReached)
	}

	m := build()
	want := []int{0, 1, 1, 1, 0}
	ir.BuildGraph(m, nil)
	d, _ = ComputeStackDepths(m, nil)
	for i, in := range m.Instrs {
		if got := d.Before[in.ID]; got != want[i] {
			t.Errorf("depth before %d (%s) = %d, want %d", i, in, got, want[i])
		}
	}

	m = build()
	run(t, m, pass("buildcfg", BuildCFG), pass("unreachable", RemoveUnreachable), pass("stack", AnalyzeStack))
	if countOp(m, mil.OpShiftStack) != 0 || countOp(m, mil.OpNop) != 0 {
		t.Errorf("stack shifts left behind:\n%s", ir.Sprint(m))
	}
	if len(m.Instrs) != 3 {
		t.Fatalf("got %d instructions, want 3:\n%s", len(m.Instrs), ir.Sprint(m))
	}
	if got := m.Instrs[0].String(); got != "move r3, r2" {
		t.Errorf("push = %s, want move r3, r2", got)
	}
	if m.Stage != ir.StageStackAnalyzed {
		t.Errorf("Stage = %v, want %v", m.Stage, ir.StageStackAnalyzed)
	}
}

// TestStackPushPop checks that a pushed value read back by a pop lands in
// the same register, and that a nested push gets a different one.
func TestStackPushPop(t *testing.T) {
	m := newMethod("pair", []mil.Operand{mil.RegOp(0), mil.RegOp(1)}, func(b *mil.Builder) {
		b.Push(mil.RegOp(0))
		b.Push(mil.RegOp(1))
		b.Call(mil.None, "g")
		b.Pop(mil.RegOp(1))
		b.Pop(mil.RegOp(0))
		b.Return(mil.RegOp(0))
	})
	log := run(t, m, pass("buildcfg", BuildCFG), pass("unreachable", RemoveUnreachable), pass("stack", AnalyzeStack))
	if log.Count(diag.LevelError) != 0 {
		t.Errorf("unexpected errors: %v", log.Entries())
	}

	want := []string{
		"move r2, r0",
		"move r3, r1",
		"call _, g",
		"move r1, r3",
		"move r0, r2",
		"return r0",
	}
	if len(m.Instrs) != len(want) {
		t.Fatalf("got %d instructions, want %d:\n%s", len(m.Instrs), len(want), ir.Sprint(m))
	}
	for i, w := range want {
		if got := m.Instrs[i].String(); got != w {
			t.Errorf("instrs[%d] = %s, want %s", i, got, w)
		}
	}
}

// TestStackUnbalanced verifies:
//
//	0: jumpTrue @3, r0
//	1: shiftStack -8
//	2: move [stack:0], r0
//	3: return
//
// The join at 3 is reached with depths 1 and 0.
func TestStackUnbalanced(t *testing.T) {
	m := newMethod("unbalanced", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Branch(mil.OpJumpTrue, 3, mil.RegOp(0))
		b.ShiftStack(-8)
		b.Move(mil.StackOp(0), mil.RegOp(0))
		b.Return()
	})
	d, log := stackDepths(t, m, true)

	if d.Errors != 2 {
		t.Errorf("Errors = %d, want 2: %v", d.Errors, log.Entries())
	}
	if !log.Contains(diag.LevelError, "unbalanced stack") {
		t.Errorf("missing unbalanced stack error: %v", log.Entries())
	}
	if !log.Contains(diag.LevelError, "non-empty stack") {
		t.Errorf("missing exit depth error: %v", log.Entries())
	}
	for _, e := range log.Entries() {
		if e.Level == diag.LevelError && e.Component != "StackAnalysis" {
			t.Errorf("error from component %q, want StackAnalysis", e.Component)
		}
	}
}

func TestStackMisaligned(t *testing.T) {
	m := newMethod("odd", nil, func(b *mil.Builder) {
		b.ShiftStack(-4)
		b.ShiftStack(4)
		b.Return()
	})
	d, log := stackDepths(t, m, true)
	if d.Errors != 2 {
		t.Errorf("Errors = %d, want 2: %v", d.Errors, log.Entries())
	}
	if !log.Contains(diag.LevelError, "misaligned stack shift of -4 bytes") {
		t.Errorf("missing misalignment error: %v", log.Entries())
	}
}

func TestStackUnderflow(t *testing.T) {
	m := newMethod("under", nil, func(b *mil.Builder) {
		b.ShiftStack(8)
		b.Return()
	})
	d, log := stackDepths(t, m, true)
	if !log.Contains(diag.LevelError, "stack underflow at 0") {
		t.Errorf("missing underflow error: %v", log.Entries())
	}
	if d.Exit != 0 {
		t.Errorf("exit depth = %d, want 0 after clamping", d.Exit)
	}
}

// TestStackTailCall checks that a block ending in a call to Exit leaves the
// stack to the callee.
func TestStackTailCall(t *testing.T) {
	m := newMethod("tail", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Push(mil.RegOp(0))
		b.Call(mil.None, "exit")
	})
	d, log := stackDepths(t, m, true)
	if d.Errors != 0 {
		t.Errorf("tail call reported errors: %v", log.Entries())
	}
	if !d.ExitReached || d.Exit != 0 {
		t.Errorf("exit depth = %d, want 0", d.Exit)
	}
}

func TestStackParams(t *testing.T) {
	m := newMethod("params", []mil.Operand{mil.RegOp(0), mil.StackOp(8)}, func(b *mil.Builder) {
		b.Push(mil.RegOp(0))
		b.Move(mil.RegOp(0), mil.StackOp(16))
		b.Pop(mil.RegOp(0))
		b.Return(mil.RegOp(0))
	})
	run(t, m, pass("buildcfg", BuildCFG), pass("unreachable", RemoveUnreachable), pass("stack", AnalyzeStack))

	if !m.Params[1].Equal(mil.RegOp(1)) {
		t.Errorf("stack parameter = %s, want r1", m.Params[1])
	}
	// [stack:16] one slot below the top is the parameter slot.
	if got := m.Instrs[1].String(); got != "move r0, r1" {
		t.Errorf("instrs[1] = %s, want move r0, r1", got)
	}
}

func TestStackBadPointerSize(t *testing.T) {
	m := ir.NewMethod("ptr", 3, nil, []*mil.Instr{{Op: mil.OpReturn}})
	ir.BuildGraph(m, nil)
	_, err := ComputeStackDepths(m, nil)
	if err == nil || !strings.Contains(err.Error(), "unsupported pointer size 3") {
		t.Errorf("ComputeStackDepths = %v, want pointer size error", err)
	}
}

func TestRemoveNops(t *testing.T) {
	m := newMethod("nops", nil, func(b *mil.Builder) {
		b.Jump(1)
		b.Nop()
		b.Return()
	})
	log := run(t, m, pass("buildcfg", BuildCFG), pass("nops", RemoveNops))
	if len(m.Instrs) != 2 {
		t.Fatalf("got %d instructions, want 2", len(m.Instrs))
	}
	if got := m.TargetIndex(m.Instrs[0].Args[0]); got != 1 {
		t.Errorf("jump target index = %d, want 1", got)
	}
	if !log.Contains(diag.LevelInfo, "removed 1 nop") {
		t.Errorf("missing info message: %v", log.Entries())
	}
}

// TestStackShiftAtTail checks that a branch to a trailing stack shift still
// lands on an instruction once the shift is gone.
func TestStackShiftAtTail(t *testing.T) {
	m := newMethod("tail", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Branch(mil.OpJumpTrue, 2, mil.RegOp(0))
		b.Return(mil.RegOp(0))
		b.ShiftStack(0)
	})
	run(t, m, pass("buildcfg", BuildCFG), pass("unreachable", RemoveUnreachable), pass("stack", AnalyzeStack))

	if len(m.Instrs) != 3 || m.Instrs[2].Op != mil.OpNop {
		t.Fatalf("instrs = %v, want the shift kept as a nop", m.Instrs)
	}
	if got := m.TargetIndex(m.Instrs[0].Args[0]); got != 2 {
		t.Errorf("branch target index = %d, want 2", got)
	}
	if strings.Contains(ir.Sprint(m), "@?") {
		t.Errorf("dangling branch:\n%s", ir.Sprint(m))
	}
}
