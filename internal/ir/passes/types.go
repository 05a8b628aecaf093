package passes

import (
	"tlog.app/go/errors"

	"github.com/you-not-fish/lifter/internal/diag"
	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

// Recovered local types.
const (
	TypeInt    = "int64"
	TypeFloat  = "float64"
	TypeString = "string"
	TypeObject = "object"
)

type localKey struct {
	reg uint32
	ver int
}

// PropagateTypes returns a pass that recovers a type for every SSA local
// from constants, moves, arithmetic and phis. Locals whose sources disagree
// or cannot be typed get TypeObject.
func PropagateTypes(maxIter int) func(*ir.Method, diag.Logger) error {
	if maxIter <= 0 {
		maxIter = ir.DefaultMaxIterations
	}
	return func(m *ir.Method, log diag.Logger) error {
		if err := m.Require("types", ir.StageSSA); err != nil {
			return err
		}

		types := make(map[localKey]string)
		typeOf := func(o mil.Operand) string {
			switch o.Kind {
			case mil.KindInt:
				return TypeInt
			case mil.KindFloat:
				return TypeFloat
			case mil.KindString:
				return TypeString
			case mil.KindLocal:
				return types[localKey{o.Local.Reg, o.Local.Version}]
			}
			return ""
		}

		iter := 0
		for changed := true; changed; {
			if iter >= maxIter {
				return errors.Wrap(ir.ErrNoFixedPoint, "%s: type propagation after %d sweeps", m.Name, iter)
			}
			iter++
			changed = false
			for _, in := range m.Instrs {
				d, ok := in.Dest()
				if !ok || !d.IsLocal() {
					continue
				}
				t := inferType(in, typeOf)
				if t == "" {
					continue
				}
				k := localKey{d.Local.Reg, d.Local.Version}
				if nt := joinType(types[k], t); nt != types[k] {
					types[k] = nt
					changed = true
				}
			}
		}

		set := func(l *mil.Local) {
			t := types[localKey{l.Reg, l.Version}]
			if t == "" {
				t = TypeObject
			}
			l.Type = t
		}
		apply := func(o *mil.Operand) {
			if o.IsLocal() || o.BaseLocal() {
				set(&o.Local)
			}
		}
		for i := range m.Params {
			apply(&m.Params[i])
		}
		for _, in := range m.Instrs {
			for i := range in.Args {
				apply(&in.Args[i])
			}
		}
		for i := range m.Locals {
			set(&m.Locals[i])
		}

		diag.Infof(log, "Types", "%s: typed %d locals in %d sweeps", m.Name, len(types), iter)
		return nil
	}
}

// inferType returns the type of the value the instruction defines, or "" if
// its operands are not typed yet.
func inferType(in *mil.Instr, typeOf func(mil.Operand) string) string {
	switch in.Op {
	case mil.OpMove, mil.OpNot, mil.OpNegate:
		if len(in.Args) < 2 {
			return ""
		}
		return typeOf(in.Args[1])

	case mil.OpPhi:
		t := ""
		for _, a := range in.Args[1:] {
			t = joinType(t, typeOf(a))
		}
		return t

	case mil.OpCheckEqual, mil.OpCheckGreater, mil.OpCheckLess,
		mil.OpAnd, mil.OpOr, mil.OpXor, mil.OpShiftLeft, mil.OpShiftRight:
		return TypeInt

	case mil.OpAdd, mil.OpSubtract, mil.OpMultiply, mil.OpDivide:
		t := ""
		for _, a := range in.Args[1:] {
			switch typeOf(a) {
			case TypeFloat:
				t = TypeFloat
			case TypeInt:
				if t == "" {
					t = TypeInt
				}
			case "":
			default:
				return TypeObject
			}
		}
		return t

	case mil.OpCall:
		return TypeObject
	}
	return ""
}

// joinType merges two facts about a local. Unknown yields to anything and
// disagreement is TypeObject.
func joinType(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	}
	return TypeObject
}
