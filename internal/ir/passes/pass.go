// Package passes implements the analysis pipeline that takes a method from a
// flat MIL listing to SSA form, and the pass manager that runs it.
package passes

import (
	"fmt"
	"io"
	"os"

	"tlog.app/go/errors"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
)

// Pass describes a single step of the pipeline. An error returned by Fn is
// fatal for the method; recoverable problems are reported through log.
type Pass struct {
	Name string
	Fn   func(m *ir.Method, log diag.Logger) error
}

// Config controls pass execution behavior.
type Config struct {
	DumpBefore string    // dump the method before this pass ("*" for all)
	DumpAfter  string    // dump the method after this pass ("*" for all)
	Verify     bool      // verify the method before/after each pass
	DumpFunc   string    // restrict dumps to this method name
	DumpOut    io.Writer // dump destination; nil means stderr

	MaxIterations int  // fixed-point cap; <= 0 selects ir.DefaultMaxIterations
	CopyProp      bool // replace reads of copied locals with the copy source
	PrunePhis     bool // remove phis whose result is never read
}

// Default returns the standard pipeline.
func Default(cfg Config) []Pass {
	ps := []Pass{
		{Name: "buildcfg", Fn: BuildCFG},
		{Name: "unreachable", Fn: RemoveUnreachable},
		{Name: "xor2move", Fn: XorToMove},
		{Name: "stack", Fn: AnalyzeStack},
		{Name: "mergecalls", Fn: MergeCalls},
		{Name: "dominance", Fn: BuildDominance(cfg.MaxIterations)},
		{Name: "ssa", Fn: BuildSSA},
	}
	if cfg.CopyProp {
		ps = append(ps, Pass{Name: "copyprop", Fn: PropagateCopies})
	}
	if cfg.PrunePhis {
		ps = append(ps, Pass{Name: "deadphi", Fn: PruneDeadPhis})
	}
	ps = append(ps, Pass{Name: "types", Fn: PropagateTypes(cfg.MaxIterations)})
	return ps
}

// Run executes the given passes on m in order and stops at the first fatal
// error.
func Run(m *ir.Method, passes []Pass, cfg Config, log diag.Logger) error {
	if log == nil {
		log = diag.Discard
	}
	out := cfg.DumpOut
	if out == nil {
		out = os.Stderr
	}

	for _, p := range passes {
		if shouldDump(cfg.DumpBefore, p.Name) && matchFunc(cfg.DumpFunc, m.Name) {
			fmt.Fprintf(out, "--- before %s (%s) ---\n", p.Name, m.Name)
			ir.Fprint(out, m)
			fmt.Fprintln(out)
		}

		if cfg.Verify {
			if err := verify(m); err != nil {
				return errors.Wrap(err, "verify before %s", p.Name)
			}
		}

		if err := p.Fn(m, log); err != nil {
			return errors.Wrap(err, "pass %s", p.Name)
		}

		if cfg.Verify {
			if err := verify(m); err != nil {
				return errors.Wrap(err, "verify after %s", p.Name)
			}
		}

		if shouldDump(cfg.DumpAfter, p.Name) && matchFunc(cfg.DumpFunc, m.Name) {
			fmt.Fprintf(out, "--- after %s (%s) ---\n", p.Name, m.Name)
			ir.Fprint(out, m)
			fmt.Fprintln(out)
		}
	}
	return nil
}

// verify runs every check the method's stage allows.
func verify(m *ir.Method) error {
	if err := ir.Verify(m); err != nil {
		return err
	}
	if m.Dom != nil {
		if err := ir.VerifyDom(m); err != nil {
			return err
		}
	}
	if m.Stage >= ir.StageSSA {
		return ir.VerifySSA(m)
	}
	return nil
}

func shouldDump(pattern, name string) bool {
	return pattern == "*" || pattern == name
}

func matchFunc(filter, name string) bool {
	return filter == "" || filter == name
}
