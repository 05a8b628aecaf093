package ir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/you-not-fish/lifter/internal/mil"
	"golang.org/x/tools/container/intsets"
	"tlog.app/go/errors"
)

// Verify checks the instruction list and, when present, the graph of m.
// It returns an error describing all violations found, or nil if valid.
func Verify(m *Method) error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	seen := make(map[mil.ID]bool, len(m.Instrs))
	for i, in := range m.Instrs {
		if in.Index != i {
			add("method %s: instruction %d has index %d", m.Name, i, in.Index)
		}
		if m.Instr(in.ID) != in {
			add("method %s: instruction %d (id %d) is not in the arena", m.Name, i, in.ID)
		}
		if seen[in.ID] {
			add("method %s: instruction id %d listed twice", m.Name, in.ID)
		}
		seen[in.ID] = true
		if tgt, ok := in.Target(); ok && m.Instr(tgt) == nil {
			add("method %s: %s at %d branches to a removed instruction", m.Name, in.Op, i)
		}
	}

	g := m.Graph
	if g == nil {
		return combineErrors("MIL", errs)
	}

	if len(g.Blocks) < 2 || g.Blocks[0] != g.Entry || g.Blocks[len(g.Blocks)-1] != g.Exit {
		add("method %s: layout must start with entry and end with exit", m.Name)
	}
	if len(g.Entry.Preds) != 0 {
		add("method %s: entry has %d predecessors, want 0", m.Name, len(g.Entry.Preds))
	}
	if len(g.Entry.Succs) != 1 {
		add("method %s: entry has %d successors, want 1", m.Name, len(g.Entry.Succs))
	}
	if len(g.Exit.Succs) != 0 {
		add("method %s: exit has %d successors, want 0", m.Name, len(g.Exit.Succs))
	}
	if len(g.Entry.Instrs) != 0 || len(g.Exit.Instrs) != 0 {
		add("method %s: entry and exit must not hold instructions", m.Name)
	}

	blockSet := make(map[*Block]bool, len(g.Blocks))
	ids := make(map[int]bool, len(g.Blocks))
	for _, b := range g.Blocks {
		blockSet[b] = true
		if ids[b.ID] {
			add("method %s: duplicate block id %d", m.Name, b.ID)
		}
		ids[b.ID] = true
	}

	owned := make(map[mil.ID]*Block, len(m.Instrs))
	for _, b := range g.Blocks {
		if b != g.Exit && len(b.Succs) == 0 {
			add("method %s, %s: block has no successors", m.Name, b)
		}
		if m.Stage >= StageNormalized && b != g.Entry && b != g.Exit && len(b.Preds) == 0 {
			add("method %s, %s: block has no predecessors", m.Name, b)
		}
		for _, id := range b.Instrs {
			if prev, ok := owned[id]; ok {
				add("method %s: instruction id %d in both %s and %s", m.Name, id, prev, b)
			}
			owned[id] = b
			if !seen[id] {
				add("method %s, %s: instruction id %d is not in the method", m.Name, b, id)
			}
			if g.BlockOf(id) != b {
				add("method %s, %s: owner of instruction id %d is %v", m.Name, b, id, g.BlockOf(id))
			}
		}
		for _, s := range b.Succs {
			if !blockSet[s] {
				add("method %s, %s: successor %s not in graph", m.Name, b, s)
			} else if s.PredIndex(b) < 0 {
				add("method %s, %s: successor %s does not have %s as predecessor", m.Name, b, s, b)
			}
		}
		for _, p := range b.Preds {
			if !blockSet[p] {
				add("method %s, %s: predecessor %s not in graph", m.Name, b, p)
			} else if !containsBlock(p.Succs, b) {
				add("method %s, %s: predecessor %s does not have %s as successor", m.Name, b, p, b)
			}
		}
	}
	for _, in := range m.Instrs {
		if owned[in.ID] == nil {
			add("method %s: instruction %d (%s) belongs to no block", m.Name, in.Index, in)
		}
	}

	if m.Stage >= StageNormalized {
		live := g.Reachable()
		for _, b := range g.Blocks {
			if !live[b] && b != g.Exit {
				add("method %s, %s: block is unreachable from entry", m.Name, b)
			}
		}
	}

	return combineErrors("CFG", errs)
}

// VerifyDom checks the dominance information of m against its definition:
// every block dominates itself, the immediate dominator of every non-entry
// block is one of its dominators, and Dominators[b] = {b} ∪
// Dominators[idom(b)].
func VerifyDom(m *Method) error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	d := m.Dom
	if d == nil {
		add("method %s: no dominance information", m.Name)
		return combineErrors("dominance", errs)
	}
	g := d.Graph()
	if g != m.Graph {
		add("method %s: dominance computed for a different graph", m.Name)
		return combineErrors("dominance", errs)
	}

	if d.Idom(g.Entry) != nil {
		add("method %s: entry has immediate dominator %s", m.Name, d.Idom(g.Entry))
	}

	for _, b := range g.Blocks {
		if !d.Dominates(b, b) {
			add("method %s, %s: block does not dominate itself", m.Name, b)
		}
		if len(b.Preds) > 0 && !d.Dominates(g.Entry, b) {
			add("method %s, %s: entry does not dominate block", m.Name, b)
		}
		if b == g.Entry {
			continue
		}
		if len(b.Preds) == 0 {
			// Exit of a method that never returns.
			continue
		}
		p := d.Idom(b)
		if p == nil {
			add("method %s, %s: no immediate dominator", m.Name, b)
			continue
		}
		if p == b || !d.Dominates(p, b) {
			add("method %s, %s: immediate dominator %s does not strictly dominate it", m.Name, b, p)
		}

		var want, got intsets.Sparse
		for _, x := range d.Dominators(p) {
			want.Insert(x.ID)
		}
		want.Insert(b.ID)
		for _, x := range d.Dominators(b) {
			got.Insert(x.ID)
		}
		if !want.Equals(&got) {
			add("method %s, %s: dominators %v, want %v", m.Name, b, got.String(), want.String())
		}

		found := false
		for _, c := range d.Children(p) {
			if c == b {
				found = true
			}
		}
		if !found {
			add("method %s, %s: not a child of its immediate dominator %s in the tree", m.Name, b, p)
		}
	}

	return combineErrors("dominance", errs)
}

// VerifySSA checks single assignment of every versioned local and that
// every phi has one source per predecessor of its block.
func VerifySSA(m *Method) error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	defs := make(map[string]int)
	for _, in := range m.Instrs {
		if d, ok := in.Dest(); ok && d.IsLocal() {
			if d.Local.Version < 2 {
				add("method %s: %s at %d assigns %s, want version >= 2", m.Name, in.Op, in.Index, d.Local)
			}
			defs[d.Local.String()]++
		}
		for _, a := range in.Args {
			if a.IsRegister() || a.IsStack() {
				add("method %s: %s at %d still uses %s", m.Name, in.Op, in.Index, a)
			}
		}
		if in.Op != mil.OpPhi || m.Graph == nil {
			continue
		}
		b := m.Graph.BlockOf(in.ID)
		if b == nil {
			add("method %s: phi at %d belongs to no block", m.Name, in.Index)
			continue
		}
		if got, want := len(in.Args)-1, len(b.Preds); got != want {
			add("method %s, %s: phi at %d has %d sources, block has %d predecessors",
				m.Name, b, in.Index, got, want)
		}
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if n := defs[name]; n != 1 {
			add("method %s: %s assigned %d times", m.Name, name, n)
		}
	}

	return combineErrors("SSA", errs)
}

func containsBlock(list []*Block, b *Block) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

func combineErrors(what string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New("%s verification failed:\n  %s", what, strings.Join(errs, "\n  "))
}
