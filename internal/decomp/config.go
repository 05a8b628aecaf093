package decomp

import (
	"io"
	"runtime"

	"tlog.app/go/errors"

	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/ir/passes"
)

// Config controls a Decompiler.
type Config struct {
	PtrSize int // pointer size for methods that do not set one
	Workers int // methods decompiled concurrently; <= 0 means GOMAXPROCS

	Verify        bool // check the method before and after every pass
	CopyProp      bool // propagate plain copies after SSA construction
	PrunePhis     bool // drop phis whose result is never read
	MaxIterations int  // fixed-point cap for dominance and type propagation

	// StopAfter ends the pipeline after the named pass; empty runs it all.
	StopAfter string

	DumpBefore string    // dump methods before this pass ("*" for all)
	DumpAfter  string    // dump methods after this pass ("*" for all)
	DumpFunc   string    // restrict dumps to this method name
	DumpOut    io.Writer // dump destination; nil means stderr
}

// DefaultConfig returns the configuration used by the command line tool
// when no flags are given.
func DefaultConfig() Config {
	return Config{
		PtrSize:       8,
		Workers:       runtime.GOMAXPROCS(0),
		MaxIterations: ir.DefaultMaxIterations,
	}
}

// Validate reports settings the pipeline cannot work with.
func (c Config) Validate() error {
	if c.PtrSize != 4 && c.PtrSize != 8 {
		return errors.New("pointer size must be 4 or 8, got %d", c.PtrSize)
	}
	if c.MaxIterations < 0 {
		return errors.New("max iterations must not be negative, got %d", c.MaxIterations)
	}
	if c.StopAfter != "" && !hasPass(c.pipeline(), c.StopAfter) {
		return errors.New("unknown pass %q", c.StopAfter)
	}
	return nil
}

func (c Config) passConfig() passes.Config {
	return passes.Config{
		DumpBefore:    c.DumpBefore,
		DumpAfter:     c.DumpAfter,
		Verify:        c.Verify,
		DumpFunc:      c.DumpFunc,
		MaxIterations: c.MaxIterations,
		CopyProp:      c.CopyProp,
		PrunePhis:     c.PrunePhis,
	}
}

// pipeline returns the passes to run, cut after StopAfter.
func (c Config) pipeline() []passes.Pass {
	ps := passes.Default(c.passConfig())
	if c.StopAfter == "" {
		return ps
	}
	for i, p := range ps {
		if p.Name == c.StopAfter {
			return ps[:i+1]
		}
	}
	return ps
}

func hasPass(ps []passes.Pass, name string) bool {
	for _, p := range ps {
		if p.Name == name {
			return true
		}
	}
	return false
}
