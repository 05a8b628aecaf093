package ir

import (
	"github.com/you-not-fish/lifter/internal/mil"
)

// Graph is the control-flow graph of a method.
type Graph struct {
	Method *Method

	// Blocks in layout order: Entry first, Exit last, and the real blocks in
	// the order their instructions appear in the method.
	Blocks []*Block

	Entry *Block
	Exit  *Block

	owner  map[mil.ID]*Block
	nextID int
}

// NewGraph returns a graph with only Entry and Exit.
func NewGraph(m *Method) *Graph {
	g := &Graph{Method: m, owner: make(map[mil.ID]*Block)}
	g.Entry = g.alloc(BlockEntry)
	g.Exit = g.alloc(BlockExit)
	g.Blocks = []*Block{g.Entry, g.Exit}
	return g
}

func (g *Graph) alloc(kind BlockKind) *Block {
	b := &Block{ID: g.nextID, Kind: kind}
	g.nextID++
	return b
}

// NewBlock appends a plain block at the end of the layout, before Exit.
func (g *Graph) NewBlock() *Block {
	b := g.alloc(BlockPlain)
	n := len(g.Blocks)
	g.Blocks = append(g.Blocks[:n-1], b, g.Exit)
	return b
}

func (g *Graph) newBlockAfter(at *Block) *Block {
	b := g.alloc(BlockPlain)
	for i, x := range g.Blocks {
		if x == at {
			g.Blocks = append(g.Blocks[:i+1], append([]*Block{b}, g.Blocks[i+1:]...)...)
			return b
		}
	}
	n := len(g.Blocks)
	g.Blocks = append(g.Blocks[:n-1], b, g.Exit)
	return b
}

// BlockOf returns the block containing the instruction, or nil.
func (g *Graph) BlockOf(id mil.ID) *Block {
	return g.owner[id]
}

// Append adds an instruction to the end of b.
func (g *Graph) Append(b *Block, id mil.ID) {
	b.Instrs = append(b.Instrs, id)
	g.owner[id] = b
}

// Prepend adds instructions to the front of b, in order.
func (g *Graph) Prepend(b *Block, ids ...mil.ID) {
	list := make([]mil.ID, 0, len(ids)+len(b.Instrs))
	list = append(list, ids...)
	b.Instrs = append(list, b.Instrs...)
	for _, id := range ids {
		g.owner[id] = b
	}
}

// Instrs returns the instructions of b.
func (g *Graph) Instrs(b *Block) []*mil.Instr {
	out := make([]*mil.Instr, 0, len(b.Instrs))
	for _, id := range b.Instrs {
		if in := g.Method.Instr(id); in != nil {
			out = append(out, in)
		}
	}
	return out
}

// LastInstr returns the last instruction of b, or nil if b is empty.
func (g *Graph) LastInstr(b *Block) *mil.Instr {
	id, ok := b.Last()
	if !ok {
		return nil
	}
	return g.Method.Instr(id)
}

// IsCallBlock reports whether b ends with a call.
func (g *Graph) IsCallBlock(b *Block) bool {
	last := g.LastInstr(b)
	return last != nil && last.IsCall()
}

// IsTailCall reports whether b ends with a call and its only successor is
// Exit.
func (g *Graph) IsTailCall(b *Block) bool {
	return g.IsCallBlock(b) && len(b.Succs) == 1 && b.Succs[0] == g.Exit
}

// InsertPos returns the position in the method instruction list where an
// instruction placed at the front of b belongs.
func (g *Graph) InsertPos(b *Block) int {
	start := -1
	for i, x := range g.Blocks {
		if x == b {
			start = i
			break
		}
	}
	if start < 0 {
		return len(g.Method.Instrs)
	}
	for _, x := range g.Blocks[start:] {
		if id, ok := x.First(); ok {
			if in := g.Method.Instr(id); in != nil {
				return in.Index
			}
		}
	}
	return len(g.Method.Instrs)
}

// Split splits b before the instruction at and returns the block that starts
// with at. The prefix keeps b's ID and predecessors; the suffix takes over
// b's successors and dirty flag, and b falls through into it. If at is
// already b's first instruction, or not in b, b is returned unchanged.
func (g *Graph) Split(b *Block, at mil.ID) *Block {
	pos := -1
	for i, id := range b.Instrs {
		if id == at {
			pos = i
			break
		}
	}
	if pos <= 0 {
		return b
	}

	nb := g.newBlockAfter(b)
	nb.Instrs = append([]mil.ID(nil), b.Instrs[pos:]...)
	b.Instrs = b.Instrs[:pos:pos]
	for _, id := range nb.Instrs {
		g.owner[id] = nb
	}

	nb.Succs = b.Succs
	for _, s := range nb.Succs {
		s.replacePred(b, nb)
	}
	b.Succs = nil
	b.AddSucc(nb)

	nb.Dirty = b.Dirty
	b.Dirty = false

	g.Method.InvalidateDominance()
	return nb
}

// MergeCallBlocks folds every block that follows a call into the call's
// block when the call block is its only predecessor and it is the call
// block's only successor. It returns the number of blocks merged.
func (g *Graph) MergeCallBlocks() int {
	merged := 0
	for changed := true; changed; {
		changed = false
		for _, b := range g.Blocks {
			if b.Kind != BlockPlain || !g.IsCallBlock(b) || len(b.Succs) != 1 {
				continue
			}
			s := b.Succs[0]
			if s == b || s.Kind != BlockPlain || len(s.Preds) != 1 {
				continue
			}
			g.absorb(b, s)
			merged++
			changed = true
			break
		}
	}
	if merged > 0 {
		g.Method.InvalidateDominance()
		g.Renumber()
	}
	return merged
}

// absorb moves s's instructions and successors into b and deletes s.
func (g *Graph) absorb(b, s *Block) {
	for _, id := range s.Instrs {
		g.owner[id] = b
	}
	b.Instrs = append(b.Instrs, s.Instrs...)
	s.Instrs = nil

	b.Succs = s.Succs
	for _, ss := range b.Succs {
		ss.replacePred(s, b)
	}
	s.Succs = nil
	s.Preds = nil
	g.Blocks = removeBlock(g.Blocks, s)
}

// Reachable returns the set of blocks reachable from Entry, visited
// breadth-first.
func (g *Graph) Reachable() map[*Block]bool {
	seen := map[*Block]bool{g.Entry: true}
	queue := []*Block{g.Entry}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, s := range b.Succs {
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	return seen
}

// PruneUnreachable deletes every block not reachable from Entry, except
// Entry and Exit, and removes its instructions from the method. It returns
// the number of blocks and instructions removed.
func (g *Graph) PruneUnreachable() (blocks, instrs int) {
	live := g.Reachable()
	dead := make(map[mil.ID]bool)
	kept := make([]*Block, 0, len(g.Blocks))
	for _, b := range g.Blocks {
		if live[b] || b == g.Entry || b == g.Exit {
			kept = append(kept, b)
			continue
		}
		for _, id := range b.Instrs {
			dead[id] = true
			delete(g.owner, id)
		}
		for _, s := range b.Succs {
			s.Preds = removeBlock(s.Preds, b)
		}
		for _, p := range b.Preds {
			p.Succs = removeBlock(p.Succs, b)
		}
		b.Instrs, b.Preds, b.Succs = nil, nil, nil
		blocks++
	}
	if blocks == 0 {
		return 0, 0
	}
	g.Blocks = kept
	instrs = g.Method.RemoveInstrs(dead)
	g.Method.InvalidateDominance()
	g.Renumber()
	return blocks, instrs
}

func (g *Graph) dropInstrs(dead map[mil.ID]bool) {
	for _, b := range g.Blocks {
		kept := b.Instrs[:0]
		for _, id := range b.Instrs {
			if dead[id] {
				delete(g.owner, id)
				continue
			}
			kept = append(kept, id)
		}
		b.Instrs = kept
	}
}

// Renumber reassigns block IDs in layout order.
func (g *Graph) Renumber() {
	for i, b := range g.Blocks {
		b.ID = i
	}
	g.nextID = len(g.Blocks)
}

// Block returns the block with the given ID, or nil.
func (g *Graph) Block(id int) *Block {
	for _, b := range g.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// RemoveEmptyBlocks deletes plain blocks without instructions, routing each
// predecessor straight to the block's single successor. It returns the
// number of blocks removed.
func (g *Graph) RemoveEmptyBlocks() int {
	removed := 0
	for changed := true; changed; {
		changed = false
		for _, b := range g.Blocks {
			if b.Kind != BlockPlain || len(b.Instrs) != 0 || len(b.Succs) != 1 || b.Succs[0] == b {
				continue
			}
			s := b.Succs[0]
			b.RemoveSucc(s)
			for _, p := range b.Preds {
				p.replaceSucc(b, s)
			}
			b.Preds = nil
			g.Blocks = removeBlock(g.Blocks, b)
			removed++
			changed = true
			break
		}
	}
	if removed > 0 {
		g.Method.InvalidateDominance()
		g.Renumber()
	}
	return removed
}
