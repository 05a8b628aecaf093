// Package main implements the lifter command: it loads MIL listings, runs
// the analysis pipeline over every method, and prints the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"tlog.app/go/tlog"

	"github.com/you-not-fish/lifter/internal/decomp"
	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/milasm"
)

var (
	emitMIL    = flag.Bool("emit-mil", false, "Output the parsed instruction listing")
	emitCFG    = flag.Bool("emit-cfg", false, "Output the normalized control flow graph")
	emitDot    = flag.Bool("emit-dot", false, "Output the normalized control flow graph in DOT format")
	emitDom    = flag.Bool("emit-dom", false, "Output dominance information")
	emitSSA    = flag.Bool("emit-ssa", false, "Output SSA form (default)")
	ptrSize    = flag.Int("ptr-size", 8, "Pointer size in bytes (4 or 8)")
	jobs       = flag.Int("j", 0, "Methods decompiled concurrently (0 = GOMAXPROCS)")
	verify     = flag.Bool("verify", false, "Verify the method before and after each pass")
	copyProp   = flag.Bool("copyprop", false, "Replace reads of copied variables with the copy source")
	prunePhis  = flag.Bool("prune-phis", false, "Remove phi functions whose result is never read")
	maxIter    = flag.Int("max-iter", 0, "Iteration limit for fixed-point analyses (0 = default)")
	dumpBefore = flag.String("dump-before", "", "Dump methods before pass (name or \"*\")")
	dumpAfter  = flag.String("dump-after", "", "Dump methods after pass (name or \"*\")")
	dumpFunc   = flag.String("dump-func", "", "Only dump and print a specific method")
	showInfo   = flag.Bool("info", false, "Print informational diagnostics as well")
	logSpans   = flag.Bool("log", false, "Log pipeline spans to stderr")
	verbosity  = flag.String("v", "", "Verbosity topics for span logging (implies -log)")
	version    = flag.Bool("version", false, "Print version")
)

// Version information
const Version = "0.1.0-dev"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Lifter %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: lifter [options] <file.mil>...\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *version {
		fmt.Printf("lifter version %s\n", Version)
		fmt.Printf("go version %s\n", runtime.Version())
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "error: no input file")
		fmt.Fprintln(os.Stderr, "usage: lifter [options] <file.mil>...")
		os.Exit(1)
	}

	setupLogger()

	os.Exit(run(args))
}

func setupLogger() {
	if !*logSpans && *verbosity == "" {
		tlog.DefaultLogger = tlog.New(io.Discard)
		return
	}
	tlog.DefaultLogger = tlog.New(tlog.NewConsoleWriter(os.Stderr, tlog.LstdFlags))
	if *verbosity != "" {
		tlog.SetVerbosity(*verbosity)
	}
}

// run loads every file, decompiles all methods, and prints the results.
// A method that fails is printed as a placeholder and makes the exit code 1.
func run(files []string) int {
	var methods []*ir.Method
	for _, f := range files {
		ms, err := milasm.ParseFile(f, *ptrSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		methods = append(methods, ms...)
	}

	if *emitMIL {
		return runEmitMIL(methods)
	}

	cfg := decomp.DefaultConfig()
	cfg.PtrSize = *ptrSize
	cfg.Workers = *jobs
	cfg.Verify = *verify
	cfg.CopyProp = *copyProp
	cfg.PrunePhis = *prunePhis
	if *maxIter > 0 {
		cfg.MaxIterations = *maxIter
	}
	cfg.DumpBefore = *dumpBefore
	cfg.DumpAfter = *dumpAfter
	cfg.DumpFunc = *dumpFunc

	switch {
	case *emitSSA:
	case *emitCFG || *emitDot:
		cfg.StopAfter = "mergecalls"
	case *emitDom:
		cfg.StopAfter = "dominance"
	}

	d, err := decomp.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	results := d.DecompileAll(context.Background(), methods)

	failed := 0
	printed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		if *dumpFunc != "" && r.Method.Name != *dumpFunc {
			continue
		}
		if printed > 0 {
			fmt.Println()
		}
		printed++

		switch {
		case r.Failed():
			fmt.Print(r.Output)
		case *emitDot:
			fmt.Print(r.Method.Graph.Dot(r.Method.Name))
		case *emitDom:
			ir.FprintDom(os.Stdout, r.Method)
		default:
			fmt.Print(r.Output)
		}

		for _, e := range r.Diagnostics {
			if e.Level == diag.LevelInfo && !*showInfo {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Method.Name, e)
		}
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d methods failed\n", failed, len(results))
		return 1
	}
	return 0
}

// runEmitMIL prints the methods as loaded.
func runEmitMIL(methods []*ir.Method) int {
	printed := 0
	for _, m := range methods {
		if *dumpFunc != "" && m.Name != *dumpFunc {
			continue
		}
		if printed > 0 {
			fmt.Println()
		}
		printed++
		ir.Print(m)
	}
	return 0
}
