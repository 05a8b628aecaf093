package e2e

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/you-not-fish/lifter/internal/decomp"
	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/milasm"
)

// TestE2E decompiles every listing in testdata/ with verification enabled
// and checks the directives written as comments in the listing:
//
//	; want: text   the printed result contains text
//	; warn: text   a warning contains text
//
// A listing without warn directives must decompile without warnings.
func TestE2E(t *testing.T) {
	testFiles, err := filepath.Glob("testdata/*.mil")
	if err != nil {
		t.Fatal(err)
	}
	if len(testFiles) == 0 {
		t.Fatal("no .mil test files found in testdata/")
	}

	for _, testFile := range testFiles {
		name := strings.TrimSuffix(filepath.Base(testFile), ".mil")
		t.Run(name, func(t *testing.T) {
			runE2ETest(t, testFile)
		})
	}
}

type directive struct {
	kind string
	text string
	line int
}

func runE2ETest(t *testing.T, milFile string) {
	t.Helper()

	src, err := os.ReadFile(milFile)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	methods, err := milasm.Parse(milFile, src, 8)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := decomp.DefaultConfig()
	cfg.Verify = true
	d, err := decomp.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	var warnings []string
	for _, r := range d.DecompileAll(context.Background(), methods) {
		if r.Failed() {
			t.Errorf("%s failed: %v", r.Method.Name, r.Err)
		}
		out.WriteString(r.Output)
		for _, e := range r.Diagnostics {
			if e.Level != diag.LevelInfo {
				warnings = append(warnings, e.String())
			}
		}
	}

	dirs := directives(src)
	expectWarn := false
	for _, dir := range dirs {
		switch dir.kind {
		case "want":
			if !strings.Contains(out.String(), dir.text) {
				t.Errorf("%s:%d: output missing %q:\n%s", milFile, dir.line, dir.text, out.String())
			}
		case "warn":
			expectWarn = true
			if !containsAny(warnings, dir.text) {
				t.Errorf("%s:%d: no warning contains %q: %q", milFile, dir.line, dir.text, warnings)
			}
		}
	}
	if !expectWarn && len(warnings) != 0 {
		t.Errorf("unexpected warnings: %q", warnings)
	}
}

// directives extracts "; kind: text" comment lines.
func directives(src []byte) []directive {
	var dirs []directive
	sc := bufio.NewScanner(bytes.NewReader(src))
	for line := 1; sc.Scan(); line++ {
		s := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(s, ";") {
			continue
		}
		s = strings.TrimSpace(strings.TrimPrefix(s, ";"))
		kind, text, ok := strings.Cut(s, ":")
		if !ok || (kind != "want" && kind != "warn") {
			continue
		}
		dirs = append(dirs, directive{kind: kind, text: strings.TrimSpace(text), line: line})
	}
	return dirs
}

func containsAny(ss []string, sub string) bool {
	for _, s := range ss {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
