package ir

import (
	"regexp"
	"testing"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/mil"
)

// newMethod builds a method from the instructions emitted by fn.
func newMethod(name string, params []mil.Operand, fn func(b *mil.Builder)) *Method {
	b := mil.NewBuilder(8)
	fn(b)
	return NewMethod(name, 8, params, b.Instrs)
}

func realBlocks(g *Graph) []*Block {
	var out []*Block
	for _, b := range g.Blocks {
		if b.Kind == BlockPlain {
			out = append(out, b)
		}
	}
	return out
}

func assertSuccs(t *testing.T, b *Block, want ...*Block) {
	t.Helper()
	if len(b.Succs) != len(want) {
		t.Errorf("%s.Succs = [%s], want [%s]", b, blockList(b.Succs), blockList(want))
		return
	}
	for i := range want {
		if b.Succs[i] != want[i] {
			t.Errorf("%s.Succs = [%s], want [%s]", b, blockList(b.Succs), blockList(want))
			return
		}
	}
}

func assertInstrs(t *testing.T, g *Graph, b *Block, want ...int) {
	t.Helper()
	got := g.Instrs(b)
	if len(got) != len(want) {
		t.Errorf("%s has %d instructions, want %d", b, len(got), len(want))
		return
	}
	for i, in := range got {
		if in.Index != want[i] {
			t.Errorf("%s instr %d has index %d, want %d", b, i, in.Index, want[i])
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	m := NewMethod("empty", 8, nil, nil)
	var log diag.Recorder
	g := BuildGraph(m, &log)

	if len(g.Blocks) != 2 {
		t.Fatalf("got %d blocks, want entry and exit only", len(g.Blocks))
	}
	assertSuccs(t, g.Entry, g.Exit)
	if n := len(log.Entries()); n != 0 {
		t.Errorf("empty method produced %d messages", n)
	}
	if m.Stage != StageGraphBuilt {
		t.Errorf("Stage = %v, want %v", m.Stage, StageGraphBuilt)
	}
}

// TestBuildLinearCall verifies that the call in
//
//	move r2, r0; add r2, r1; call r2, f, r2; return r2
//
// splits the method in two blocks and that merging leaves a single one.
func TestBuildLinearCall(t *testing.T) {
	m := newMethod("linear", []mil.Operand{mil.RegOp(0), mil.RegOp(1)}, func(b *mil.Builder) {
		b.Move(mil.RegOp(2), mil.RegOp(0))
		b.Binary(mil.OpAdd, mil.RegOp(2), mil.RegOp(1))
		b.Call(mil.RegOp(2), "f", mil.RegOp(2))
		b.Return(mil.RegOp(2))
	})
	g := BuildGraph(m, nil)

	blocks := realBlocks(g)
	if len(blocks) != 2 {
		t.Fatalf("got %d real blocks before merging, want 2", len(blocks))
	}
	assertInstrs(t, g, blocks[0], 0, 1, 2)
	assertInstrs(t, g, blocks[1], 3)
	assertSuccs(t, blocks[0], blocks[1])
	assertSuccs(t, blocks[1], g.Exit)

	if n := g.MergeCallBlocks(); n != 1 {
		t.Errorf("MergeCallBlocks = %d, want 1", n)
	}
	blocks = realBlocks(g)
	if len(blocks) != 1 {
		t.Fatalf("got %d real blocks after merging, want 1", len(blocks))
	}
	assertInstrs(t, g, blocks[0], 0, 1, 2, 3)
	assertSuccs(t, g.Entry, blocks[0])
	assertSuccs(t, blocks[0], g.Exit)
	if err := Verify(m); err != nil {
		t.Error(err)
	}
}

// TestBuildDiamond verifies:
//
//	0: jumpTrue @3, r0   A
//	1: move r1, 1        B
//	2: jump @4
//	3: move r1, 2        C
//	4: return r1         D
//
// A -> B, C; B -> D; C -> D; D -> exit. Block C is split at the jump target 4.
func TestBuildDiamond(t *testing.T) {
	m := newMethod("diamond", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Branch(mil.OpJumpTrue, 3, mil.RegOp(0))
		b.Move(mil.RegOp(1), mil.IntOp(1))
		b.Jump(4)
		b.Move(mil.RegOp(1), mil.IntOp(2))
		b.Return(mil.RegOp(1))
	})
	g := BuildGraph(m, nil)

	blocks := realBlocks(g)
	if len(blocks) != 4 {
		t.Fatalf("got %d real blocks, want 4", len(blocks))
	}
	a, bb, c, d := blocks[0], blocks[1], blocks[2], blocks[3]
	assertInstrs(t, g, a, 0)
	assertInstrs(t, g, bb, 1, 2)
	assertInstrs(t, g, c, 3)
	assertInstrs(t, g, d, 4)

	assertSuccs(t, g.Entry, a)
	assertSuccs(t, a, bb, c)
	assertSuccs(t, bb, d)
	assertSuccs(t, c, d)
	assertSuccs(t, d, g.Exit)

	for i, b := range g.Blocks {
		if b.ID != i {
			t.Errorf("block at layout %d has id %d", i, b.ID)
		}
		if b.Dirty {
			t.Errorf("%s still dirty", b)
		}
	}
	if err := Verify(m); err != nil {
		t.Error(err)
	}
}

// TestBuildLoop verifies a backward conditional branch into the middle of
// the first block:
//
//	0: move r0, 0
//	1: add r0, 1         <- loop head
//	2: jumpLess @1, r0, 10
//	3: return r0
func TestBuildLoop(t *testing.T) {
	m := newMethod("loop", nil, func(b *mil.Builder) {
		b.Move(mil.RegOp(0), mil.IntOp(0))
		b.Binary(mil.OpAdd, mil.RegOp(0), mil.IntOp(1))
		b.Branch(mil.OpJumpLess, 1, mil.RegOp(0), mil.IntOp(10))
		b.Return(mil.RegOp(0))
	})
	g := BuildGraph(m, nil)

	blocks := realBlocks(g)
	if len(blocks) != 3 {
		t.Fatalf("got %d real blocks, want 3", len(blocks))
	}
	pre, body, tail := blocks[0], blocks[1], blocks[2]
	assertInstrs(t, g, pre, 0)
	assertInstrs(t, g, body, 1, 2)
	assertInstrs(t, g, tail, 3)

	assertSuccs(t, pre, body)
	assertSuccs(t, body, tail, body)
	assertSuccs(t, tail, g.Exit)
	if len(body.Preds) != 2 {
		t.Errorf("loop body has %d preds, want 2", len(body.Preds))
	}
}

// TestBuildBackwardJump verifies that an unconditional backward jump is
// wired while the method is scanned, and that Exit may end up without
// predecessors.
func TestBuildBackwardJump(t *testing.T) {
	m := newMethod("spin", nil, func(b *mil.Builder) {
		b.Move(mil.RegOp(0), mil.IntOp(0))
		b.Binary(mil.OpAdd, mil.RegOp(0), mil.IntOp(1))
		b.Jump(1)
	})
	var log diag.Recorder
	g := BuildGraph(m, &log)

	blocks := realBlocks(g)
	if len(blocks) != 2 {
		t.Fatalf("got %d real blocks, want 2", len(blocks))
	}
	assertSuccs(t, blocks[0], blocks[1])
	assertSuccs(t, blocks[1], blocks[1])
	if len(g.Exit.Preds) != 0 {
		t.Errorf("exit has %d preds, want 0", len(g.Exit.Preds))
	}
	if log.Count(diag.LevelWarn) != 0 {
		t.Errorf("unexpected warnings: %v", log.Entries())
	}
}

func TestBuildWarnings(t *testing.T) {
	t.Run("not terminated", func(t *testing.T) {
		m := newMethod("open", nil, func(b *mil.Builder) {
			b.Move(mil.RegOp(0), mil.IntOp(1))
		})
		var log diag.Recorder
		g := BuildGraph(m, &log)
		if !log.Contains(diag.LevelWarn, "should end with control-flow instruction") {
			t.Errorf("missing warning, got %v", log.Entries())
		}
		assertSuccs(t, realBlocks(g)[0], g.Exit)
	})

	t.Run("indirect jump", func(t *testing.T) {
		m := newMethod("indirect", nil, func(b *mil.Builder) {
			b.IndirectJump(mil.MemBase(3))
		})
		var log diag.Recorder
		g := BuildGraph(m, &log)
		if !log.Contains(diag.LevelWarn, "indirect jump") {
			t.Errorf("missing warning, got %v", log.Entries())
		}
		assertSuccs(t, realBlocks(g)[0], g.Exit)
		if err := Verify(m); err != nil {
			t.Error(err)
		}
	})

	t.Run("target outside method", func(t *testing.T) {
		m := newMethod("outside", nil, func(b *mil.Builder) {
			b.Jump(40)
		})
		var log diag.Recorder
		g := BuildGraph(m, &log)
		if !log.Contains(diag.LevelWarn, "outside the method") {
			t.Errorf("missing warning, got %v", log.Entries())
		}
		assertSuccs(t, realBlocks(g)[0], g.Exit)
	})
}

// TestBuildConditionalToNext verifies that a branch to the next instruction
// yields a single edge.
func TestBuildConditionalToNext(t *testing.T) {
	m := newMethod("next", nil, func(b *mil.Builder) {
		b.Branch(mil.OpJumpFalse, 1, mil.RegOp(0))
		b.Return()
	})
	g := BuildGraph(m, nil)
	blocks := realBlocks(g)
	if len(blocks) != 2 {
		t.Fatalf("got %d real blocks, want 2", len(blocks))
	}
	assertSuccs(t, blocks[0], blocks[1])
	if len(blocks[1].Preds) != 1 {
		t.Errorf("%s has %d preds, want 1", blocks[1], len(blocks[1].Preds))
	}
}

func TestSplit(t *testing.T) {
	m := newMethod("split", nil, func(b *mil.Builder) {
		b.Move(mil.RegOp(0), mil.IntOp(1))
		b.Move(mil.RegOp(1), mil.IntOp(2))
		b.Move(mil.RegOp(2), mil.IntOp(3))
		b.Return()
	})
	g := BuildGraph(m, nil)
	b := realBlocks(g)[0]
	id := b.ID

	if got := g.Split(b, m.Instrs[0].ID); got != b {
		t.Errorf("split at first instruction returned %s, want %s", got, b)
	}

	b.Dirty = true
	nb := g.Split(b, m.Instrs[2].ID)
	if nb == b {
		t.Fatal("split returned the original block")
	}
	if b.ID != id {
		t.Errorf("prefix id = %d, want %d", b.ID, id)
	}
	assertInstrs(t, g, b, 0, 1)
	assertInstrs(t, g, nb, 2, 3)
	assertSuccs(t, b, nb)
	assertSuccs(t, nb, g.Exit)
	if g.Exit.PredIndex(nb) < 0 || g.Exit.PredIndex(b) >= 0 {
		t.Errorf("exit preds = [%s], want the suffix only", blockList(g.Exit.Preds))
	}
	if b.Dirty || !nb.Dirty {
		t.Errorf("dirty flag: prefix %v, suffix %v; want false, true", b.Dirty, nb.Dirty)
	}
	if g.BlockOf(m.Instrs[3].ID) != nb {
		t.Error("owner of moved instruction not updated")
	}
	if g.Blocks[2] != nb {
		t.Errorf("suffix not placed right after the prefix in layout")
	}
}

// TestPruneUnreachable verifies that the block after an unconditional jump
// that nothing branches to is removed together with its instructions:
//
//	0: jump @2
//	1: move r1, 5        dead
//	2: return r0
func TestPruneUnreachable(t *testing.T) {
	m := newMethod("dead", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Jump(2)
		b.Move(mil.RegOp(1), mil.IntOp(5))
		b.Return(mil.RegOp(0))
	})
	g := BuildGraph(m, nil)
	if n := len(realBlocks(g)); n != 3 {
		t.Fatalf("got %d real blocks before pruning, want 3", n)
	}

	blocks, instrs := g.PruneUnreachable()
	if blocks != 1 || instrs != 1 {
		t.Errorf("PruneUnreachable = %d blocks, %d instrs; want 1, 1", blocks, instrs)
	}
	m.Advance(StageNormalized)

	if len(m.Instrs) != 2 {
		t.Fatalf("method has %d instructions, want 2", len(m.Instrs))
	}
	if m.Instrs[1].Op != mil.OpReturn || m.Instrs[1].Index != 1 {
		t.Errorf("instrs[1] = %s (index %d), want return at 1", m.Instrs[1], m.Instrs[1].Index)
	}
	if got := m.TargetIndex(m.Instrs[0].Args[0]); got != 1 {
		t.Errorf("jump target index = %d, want 1", got)
	}
	if g.Entry.ID != 0 || g.Exit.ID != len(g.Blocks)-1 {
		t.Errorf("block ids not renumbered: entry %d exit %d", g.Entry.ID, g.Exit.ID)
	}
	if err := Verify(m); err != nil {
		t.Error(err)
	}

	// Entry and exit survive even when exit is unreachable.
	spin := newMethod("spin", nil, func(b *mil.Builder) { b.Jump(0) })
	sg := BuildGraph(spin, nil)
	sg.PruneUnreachable()
	if sg.Blocks[0] != sg.Entry || sg.Blocks[len(sg.Blocks)-1] != sg.Exit {
		t.Error("entry or exit pruned")
	}
}

func TestRemoveInstrsRetargets(t *testing.T) {
	m := newMethod("retarget", nil, func(b *mil.Builder) {
		b.Jump(2)
		b.Nop()
		b.Nop()
		b.Return()
	})
	BuildGraph(m, nil)
	dead := map[mil.ID]bool{m.Instrs[1].ID: true, m.Instrs[2].ID: true}
	if n := m.RemoveInstrs(dead); n != 2 {
		t.Errorf("RemoveInstrs = %d, want 2", n)
	}
	if got := m.TargetIndex(m.Instrs[0].Args[0]); got != 1 {
		t.Errorf("jump target index = %d, want 1 (the return)", got)
	}
	for _, b := range m.Graph.Blocks {
		for _, id := range b.Instrs {
			if dead[id] {
				t.Errorf("%s still holds removed instruction %d", b, id)
			}
		}
	}
}

var locSuffix = regexp.MustCompile(`\(\w+\.go:\d+\)$`)

func TestRequire(t *testing.T) {
	m := newMethod("req", nil, func(b *mil.Builder) { b.Return() })
	err := m.Require("ssa", StageDominanceBuilt)
	se, ok := err.(*StageError)
	if !ok {
		t.Fatalf("Require = %v, want *StageError", err)
	}
	if se.Need != StageDominanceBuilt || se.Have != StageRaw || se.Method != "req" {
		t.Errorf("StageError = %+v", se)
	}
	if !locSuffix.MatchString(err.Error()) {
		t.Errorf("Require = %q, want a source location", err)
	}

	BuildGraph(m, nil)
	if err := m.Require("stack", StageGraphBuilt); err != nil {
		t.Errorf("Require(graph) after build = %v", err)
	}
}

// TestRemoveEmptyBlocks checks that a method ending in a call loses the
// empty fallthrough block and the call becomes a tail call.
func TestRemoveEmptyBlocks(t *testing.T) {
	m := newMethod("tail", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Move(mil.RegOp(0), mil.IntOp(1))
		b.Call(mil.None, "exit", mil.RegOp(0))
	})
	log := &diag.Recorder{}
	g := BuildGraph(m, log)
	if log.Count(diag.LevelWarn) != 0 {
		t.Errorf("tail call reported: %v", log.Entries())
	}
	if n := len(realBlocks(g)); n != 2 {
		t.Fatalf("got %d real blocks, want 2", n)
	}
	if g.IsTailCall(realBlocks(g)[0]) {
		t.Error("call followed by an empty block is not a tail call yet")
	}
	if n := g.RemoveEmptyBlocks(); n != 1 {
		t.Errorf("RemoveEmptyBlocks = %d, want 1", n)
	}
	blocks := realBlocks(g)
	if len(blocks) != 1 {
		t.Fatalf("got %d real blocks after removal, want 1", len(blocks))
	}
	assertSuccs(t, g.Entry, blocks[0])
	assertSuccs(t, blocks[0], g.Exit)
	if !g.IsTailCall(blocks[0]) {
		t.Errorf("%s should end with a tail call", blocks[0])
	}
	if err := Verify(m); err != nil {
		t.Error(err)
	}
}

func TestRemoveInstrsKeepsTargetedTail(t *testing.T) {
	m := newMethod("tail", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Branch(mil.OpJumpTrue, 2, mil.RegOp(0))
		b.Return(mil.RegOp(0))
		b.Nop()
		b.Nop()
	})
	BuildGraph(m, nil)
	tail := m.Instrs[3].ID
	dead := map[mil.ID]bool{m.Instrs[2].ID: true, tail: true}
	if n := m.RemoveInstrs(dead); n != 1 {
		t.Errorf("RemoveInstrs = %d, want 1", n)
	}
	if got := m.TargetIndex(m.Instrs[0].Args[0]); got != 2 {
		t.Errorf("branch target index = %d, want 2 (the kept nop)", got)
	}
	if m.Instrs[2].ID != tail {
		t.Errorf("kept %v, want the last instruction", m.Instrs[2])
	}
	if !dead[tail] {
		t.Error("caller's set was modified")
	}
	if err := Verify(m); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestBuildTrailingBranchFallsOff(t *testing.T) {
	m := newMethod("off", []mil.Operand{mil.RegOp(0)}, func(b *mil.Builder) {
		b.Branch(mil.OpJumpTrue, 0, mil.RegOp(0))
	})
	log := &diag.Recorder{}
	BuildGraph(m, log)
	if !log.Contains(diag.LevelWarn, "control falls off the end") {
		t.Errorf("missing fall-off warning: %v", log.Entries())
	}
}
