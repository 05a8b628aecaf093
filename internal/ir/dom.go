package ir

import (
	"golang.org/x/tools/container/intsets"
	"tlog.app/go/errors"
)

// DefaultMaxIterations bounds the fixed-point loops when no limit is given.
const DefaultMaxIterations = 1000

// ErrNoFixedPoint is wrapped by errors from fixed-point computations that
// hit their iteration limit.
var ErrNoFixedPoint = errors.New("no fixed point within iteration limit")

// Dominance holds dominator and post-dominator information for a graph.
// It is read-only once computed and describes the graph as it was at that
// time.
type Dominance struct {
	g      *Graph
	blocks []*Block
	index  map[*Block]int

	dom  []intsets.Sparse // dom[i] = blocks dominating blocks[i]
	pdom []intsets.Sparse // pdom[i] = blocks post-dominating blocks[i]

	idom  []*Block
	ipdom []*Block
	df    [][]*Block
	kids  [][]*Block

	// Iterations is the number of sweeps the dominator and post-dominator
	// fixed points took together.
	Iterations int
}

// ComputeDominance computes dominators, post-dominators, immediate
// (post-)dominators, dominance frontiers and the dominator tree of g by
// iterating set equations to a fixed point. maxIter <= 0 selects
// DefaultMaxIterations.
func ComputeDominance(g *Graph, maxIter int) (*Dominance, error) {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	n := len(g.Blocks)
	d := &Dominance{
		g:      g,
		blocks: append([]*Block(nil), g.Blocks...),
		index:  make(map[*Block]int, n),
		dom:    make([]intsets.Sparse, n),
		pdom:   make([]intsets.Sparse, n),
		idom:   make([]*Block, n),
		ipdom:  make([]*Block, n),
		df:     make([][]*Block, n),
		kids:   make([][]*Block, n),
	}
	for i, b := range d.blocks {
		d.index[b] = i
	}

	preds := func(b *Block) []*Block { return b.Preds }
	succs := func(b *Block) []*Block { return b.Succs }

	it, err := d.solve(d.dom, g.Entry, preds, maxIter)
	if err != nil {
		return nil, errors.Wrap(err, "dominators")
	}
	d.Iterations += it

	it, err = d.solve(d.pdom, g.Exit, succs, maxIter)
	if err != nil {
		return nil, errors.Wrap(err, "post-dominators")
	}
	d.Iterations += it

	for i, b := range d.blocks {
		if b != g.Entry && len(b.Preds) > 0 {
			d.idom[i] = d.closest(d.dom, i)
		}
		if b != g.Exit && len(b.Succs) > 0 {
			d.ipdom[i] = d.closest(d.pdom, i)
		}
	}

	d.frontiers()

	for i, b := range d.blocks {
		if p := d.idom[i]; p != nil {
			pi := d.index[p]
			d.kids[pi] = append(d.kids[pi], b)
		}
	}
	return d, nil
}

// solve iterates sets[b] = {b} ∪ ⋂ sets[p] for p in edges(b), starting from
// sets[root] = {root} and the full set elsewhere. Blocks without incoming
// edges only contain themselves.
func (d *Dominance) solve(sets []intsets.Sparse, root *Block, edges func(*Block) []*Block, maxIter int) (int, error) {
	var all intsets.Sparse
	for i := range d.blocks {
		all.Insert(i)
	}
	for i, b := range d.blocks {
		if b == root || len(edges(b)) == 0 {
			sets[i].Insert(i)
			continue
		}
		sets[i].Copy(&all)
	}

	var next intsets.Sparse
	for iter := 1; ; iter++ {
		if iter > maxIter {
			return iter - 1, errors.Wrap(ErrNoFixedPoint, "%d blocks, %d iterations", len(d.blocks), maxIter)
		}
		changed := false
		for i, b := range d.blocks {
			in := edges(b)
			if b == root || len(in) == 0 {
				continue
			}
			next.Clear()
			for k, p := range in {
				pi, ok := d.index[p]
				if !ok {
					continue
				}
				if k == 0 {
					next.Copy(&sets[pi])
				} else {
					next.IntersectionWith(&sets[pi])
				}
			}
			next.Insert(i)
			if !next.Equals(&sets[i]) {
				sets[i].Copy(&next)
				changed = true
			}
		}
		if !changed {
			return iter, nil
		}
	}
}

// closest returns the strict dominator of blocks[i] that dominates none of
// the other strict dominators.
func (d *Dominance) closest(sets []intsets.Sparse, i int) *Block {
	var cands []int
	for _, c := range sets[i].AppendTo(nil) {
		if c != i {
			cands = append(cands, c)
		}
	}
	for _, c := range cands {
		nearest := true
		for _, c2 := range cands {
			if c2 != c && sets[c2].Has(c) {
				nearest = false
				break
			}
		}
		if nearest {
			return d.blocks[c]
		}
	}
	return nil
}

// frontiers computes dominance frontiers by walking up from the
// predecessors of every join block until its immediate dominator.
func (d *Dominance) frontiers() {
	for i, b := range d.blocks {
		if len(b.Preds) < 2 {
			continue
		}
		stop := d.idom[i]
		for _, p := range b.Preds {
			runner := p
			for runner != nil && runner != stop {
				ri, ok := d.index[runner]
				if !ok {
					break
				}
				d.df[ri] = appendUnique(d.df[ri], b)
				runner = d.idom[ri]
			}
		}
	}
}

func appendUnique(list []*Block, b *Block) []*Block {
	for _, x := range list {
		if x == b {
			return list
		}
	}
	return append(list, b)
}

func (d *Dominance) members(sets []intsets.Sparse, b *Block) []*Block {
	i, ok := d.index[b]
	if !ok {
		return nil
	}
	var out []*Block
	for _, x := range sets[i].AppendTo(nil) {
		out = append(out, d.blocks[x])
	}
	return out
}

// Graph returns the graph the information was computed for.
func (d *Dominance) Graph() *Graph { return d.g }

// Dominators returns the blocks dominating b, b included, in layout order.
func (d *Dominance) Dominators(b *Block) []*Block { return d.members(d.dom, b) }

// PostDominators returns the blocks post-dominating b, b included.
func (d *Dominance) PostDominators(b *Block) []*Block { return d.members(d.pdom, b) }

// Idom returns the immediate dominator of b, nil for Entry.
func (d *Dominance) Idom(b *Block) *Block {
	if i, ok := d.index[b]; ok {
		return d.idom[i]
	}
	return nil
}

// Ipdom returns the immediate post-dominator of b, nil for Exit.
func (d *Dominance) Ipdom(b *Block) *Block {
	if i, ok := d.index[b]; ok {
		return d.ipdom[i]
	}
	return nil
}

// Frontier returns the dominance frontier of b.
func (d *Dominance) Frontier(b *Block) []*Block {
	if i, ok := d.index[b]; ok {
		return d.df[i]
	}
	return nil
}

// Children returns the blocks immediately dominated by b.
func (d *Dominance) Children(b *Block) []*Block {
	if i, ok := d.index[b]; ok {
		return d.kids[i]
	}
	return nil
}

// Dominates reports whether a dominates b. Every block dominates itself.
func (d *Dominance) Dominates(a, b *Block) bool {
	if a == b {
		return true
	}
	ai, ok1 := d.index[a]
	bi, ok2 := d.index[b]
	return ok1 && ok2 && d.dom[bi].Has(ai)
}

// PostDominates reports whether a post-dominates b.
func (d *Dominance) PostDominates(a, b *Block) bool {
	if a == b {
		return true
	}
	ai, ok1 := d.index[a]
	bi, ok2 := d.index[b]
	return ok1 && ok2 && d.pdom[bi].Has(ai)
}

// PreOrder returns the dominator tree in pre-order starting at Entry.
func (d *Dominance) PreOrder() []*Block {
	var out []*Block
	stack := []*Block{d.g.Entry}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, b)
		kids := d.Children(b)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}
