package ir

import (
	"fmt"

	"github.com/you-not-fish/lifter/internal/mil"
)

// BlockKind distinguishes the synthetic Entry and Exit blocks from blocks
// holding instructions.
type BlockKind int

const (
	BlockPlain BlockKind = iota
	BlockEntry           // no instructions; single successor
	BlockExit            // no instructions; sink for returns
)

var blockKindNames = [...]string{
	BlockPlain: "plain",
	BlockEntry: "entry",
	BlockExit:  "exit",
}

func (k BlockKind) String() string {
	if k >= 0 && int(k) < len(blockKindNames) {
		return blockKindNames[k]
	}
	return "unknown"
}

// Block is a basic block. It refers to instructions by ID; the instructions
// themselves belong to the method.
type Block struct {
	// ID is unique within the graph and reassigned by Graph.Renumber.
	ID int

	Kind BlockKind

	// Instrs are the member instructions in order.
	Instrs []mil.ID

	Preds []*Block
	Succs []*Block

	// Dirty marks a block whose branch target still needs an edge.
	// Only used while the graph is built.
	Dirty bool
}

// String returns a short name (e.g., "b3").
func (b *Block) String() string {
	return fmt.Sprintf("b%d", b.ID)
}

// AddSucc adds an edge b -> s unless it already exists.
func (b *Block) AddSucc(s *Block) {
	for _, x := range b.Succs {
		if x == s {
			return
		}
	}
	b.Succs = append(b.Succs, s)
	s.Preds = append(s.Preds, b)
}

// RemoveSucc removes the edge b -> s.
func (b *Block) RemoveSucc(s *Block) {
	b.Succs = removeBlock(b.Succs, s)
	s.Preds = removeBlock(s.Preds, b)
}

// PredIndex returns the position of p in b.Preds, or -1.
func (b *Block) PredIndex(p *Block) int {
	for i, x := range b.Preds {
		if x == p {
			return i
		}
	}
	return -1
}

// First returns the ID of the first instruction.
func (b *Block) First() (mil.ID, bool) {
	if len(b.Instrs) == 0 {
		return 0, false
	}
	return b.Instrs[0], true
}

// Last returns the ID of the last instruction.
func (b *Block) Last() (mil.ID, bool) {
	if len(b.Instrs) == 0 {
		return 0, false
	}
	return b.Instrs[len(b.Instrs)-1], true
}

func (b *Block) replacePred(old, nb *Block) {
	if b.PredIndex(nb) >= 0 {
		b.Preds = removeBlock(b.Preds, old)
		return
	}
	for i, p := range b.Preds {
		if p == old {
			b.Preds[i] = nb
		}
	}
}

// replaceSucc redirects the edge b -> old to nb, keeping its position
// among b's successors.
func (b *Block) replaceSucc(old, nb *Block) {
	if containsBlock(b.Succs, nb) {
		b.Succs = removeBlock(b.Succs, old)
		return
	}
	for i, s := range b.Succs {
		if s == old {
			b.Succs[i] = nb
		}
	}
	nb.Preds = append(nb.Preds, b)
}

func removeBlock(list []*Block, b *Block) []*Block {
	out := list[:0]
	for _, x := range list {
		if x != b {
			out = append(out, x)
		}
	}
	return out
}
