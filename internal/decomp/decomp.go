// Package decomp runs the analysis pipeline over batches of methods. A method
// that fails is replaced by a placeholder and never stops the batch.
package decomp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/ir/passes"
)

// Result is the outcome of decompiling one method.
type Result struct {
	Method *ir.Method

	// Output is the listing of the method after the pipeline, or the
	// placeholder when Err is set.
	Output string

	// Err is the fatal error that aborted the pipeline, if any.
	Err error

	// Diagnostics holds every message reported for the method, in order.
	Diagnostics []diag.Entry
}

// Failed reports whether the pipeline was aborted.
func (r *Result) Failed() bool { return r.Err != nil }

// PanicError wraps a panic raised by a pass.
type PanicError struct {
	Method string
	Value  any
	From   loc.PCs // stack at the recover, innermost first
}

func (e *PanicError) Error() string {
	msg := fmt.Sprintf("%s: panic: %v", e.Method, e.Value)
	if pc := e.Site(); pc != 0 {
		msg += " (" + pc.String() + ")"
	}
	return msg
}

// Site returns the frame that raised the panic: the innermost one outside
// the runtime and the recovering closure.
func (e *PanicError) Site() loc.PC {
	for _, pc := range e.From {
		name, _, _ := pc.NameFileLine()
		if strings.HasPrefix(name, "runtime.") || strings.Contains(name, "(*Decompiler).Decompile.") {
			continue
		}
		return pc
	}
	return 0
}

// Placeholder returns the marker emitted instead of a listing for a method
// whose pipeline failed.
func Placeholder(name string, err error) string {
	return fmt.Sprintf("func %s: <decompilation failed: %v>\n", name, err)
}

// Decompiler runs the pipeline with a fixed configuration. It is safe for
// concurrent use as long as every method is handed to it only once.
type Decompiler struct {
	cfg    Config
	passes []passes.Pass

	// Observer, if set, receives every diagnostic as well. It must be safe
	// for concurrent use when DecompileAll runs several workers.
	Observer diag.Logger

	dumpMu sync.Mutex
}

// New returns a Decompiler for cfg.
func New(cfg Config) (*Decompiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Decompiler{cfg: cfg, passes: cfg.pipeline()}, nil
}

// Config returns the configuration the Decompiler was created with.
func (d *Decompiler) Config() Config { return d.cfg }

// Decompile runs the pipeline on m. Fatal errors and panics are captured in
// the result.
func (d *Decompiler) Decompile(ctx context.Context, m *ir.Method) (res *Result) {
	var err error

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "decompile", "method", m.Name, "instrs", len(m.Instrs))
	defer tr.Finish("err", &err)

	rec := &diag.Recorder{}
	logs := []diag.Logger{rec, diag.NewSpan(tr)}
	if d.Observer != nil {
		logs = append(logs, d.Observer)
	}
	log := diag.Tee(logs...)

	res = &Result{Method: m}
	defer func() {
		if p := recover(); p != nil {
			pe := &PanicError{Method: m.Name, Value: p, From: loc.Callers(1, 16)}
			tr.Printw("pass panicked", "panic", fmt.Sprint(p), "at", pe.Site(), "from", pe.From)
			err = pe
		}
		res.Err = err
		res.Diagnostics = rec.Entries()
		if err != nil {
			res.Output = Placeholder(m.Name, err)
			diag.Errorf(log, "Decompiler", "%s: %v", m.Name, err)
			return
		}
		res.Output = ir.Sprint(m)
	}()

	if err = ctx.Err(); err != nil {
		return res
	}
	if m.PtrSize == 0 {
		m.PtrSize = d.cfg.PtrSize
	}

	var dump bytes.Buffer
	pcfg := d.cfg.passConfig()
	pcfg.DumpOut = &dump

	err = passes.Run(m, d.passes, pcfg, log)
	d.flushDump(&dump)

	if tr.If("dump_result") && err == nil {
		tr.Printw("result", "listing", ir.Sprint(m))
	}
	return res
}

// DecompileAll decompiles methods with at most Config.Workers running at
// once. Results are in input order; failed methods carry placeholders.
func (d *Decompiler) DecompileAll(ctx context.Context, methods []*ir.Method) []*Result {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "decompile batch", "methods", len(methods), "workers", d.cfg.Workers)
	defer tr.Finish()

	results := make([]*Result, len(methods))

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i, m := range methods {
		i, m := i, m
		g.Go(func() error {
			results[i] = d.Decompile(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	tr.Printw("batch done", "methods", len(methods), "failed", failed)
	return results
}

func (d *Decompiler) flushDump(b *bytes.Buffer) {
	if b.Len() == 0 {
		return
	}
	out := d.cfg.DumpOut
	if out == nil {
		out = os.Stderr
	}
	d.dumpMu.Lock()
	defer d.dumpMu.Unlock()
	_, _ = io.Copy(out, b)
}
