package mil

import (
	"fmt"
	"strconv"
)

// OperandKind tags the payload carried by an Operand.
type OperandKind uint8

const (
	KindNone     OperandKind = iota
	KindInt                  // Int = value
	KindFloat                // Float = value
	KindString               // Text = value
	KindRegister             // Reg = register number
	KindStack                // Int = byte offset (relative to top before stack analysis)
	KindMemory               // Reg/HasReg = base, Int/HasOff = displacement, Local = promoted base
	KindBranch               // Int = target instruction ID
	KindCallee               // Text = callee name
	KindLocal                // Local
	KindBlock                // Int = target block ID; only while phis are inserted
)

var operandKindNames = [...]string{
	KindNone:     "none",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindRegister: "register",
	KindStack:    "stack",
	KindMemory:   "memory",
	KindBranch:   "branch",
	KindCallee:   "callee",
	KindLocal:    "local",
	KindBlock:    "block",
}

// String returns the name of the kind.
func (k OperandKind) String() string {
	if int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return "unknown"
}

// Operand is a MIL operand. Only the fields named by Kind are meaningful.
// The zero Operand is None.
type Operand struct {
	Kind   OperandKind
	Int    int64
	Float  float64
	Text   string
	Reg    uint32
	HasReg bool
	HasOff bool
	Local  Local
}

// Local is a named variable introduced by SSA construction.
// Version 0 is the canonical variable, 1 is the value bound on entry,
// 2 and up are the values of each assignment.
type Local struct {
	Name    string
	Reg     uint32
	Version int
	Type    string // recovered type; empty if unknown
}

// Equal reports whether l and o denote the same versioned variable.
func (l Local) Equal(o Local) bool {
	return l.Name == o.Name && l.Version == o.Version
}

// Canonical returns the unversioned variable.
func (l Local) Canonical() Local {
	return Local{Name: l.Name, Reg: l.Reg}
}

func (l Local) String() string {
	if l.Version == 0 {
		return l.Name
	}
	return fmt.Sprintf("%s_%d", l.Name, l.Version)
}

// None is the absent operand.
var None = Operand{}

func IntOp(v int64) Operand        { return Operand{Kind: KindInt, Int: v} }
func FloatOp(v float64) Operand    { return Operand{Kind: KindFloat, Float: v} }
func StringOp(s string) Operand    { return Operand{Kind: KindString, Text: s} }
func RegOp(n uint32) Operand       { return Operand{Kind: KindRegister, Reg: n} }
func StackOp(off int32) Operand    { return Operand{Kind: KindStack, Int: int64(off)} }
func BranchOp(target ID) Operand   { return Operand{Kind: KindBranch, Int: int64(target)} }
func CalleeOp(name string) Operand { return Operand{Kind: KindCallee, Text: name} }
func LocalOp(l Local) Operand      { return Operand{Kind: KindLocal, Local: l} }
func BlockOp(id int) Operand       { return Operand{Kind: KindBlock, Int: int64(id)} }

// MemOp returns a memory operand [reg+off].
func MemOp(reg uint32, off int32) Operand {
	return Operand{Kind: KindMemory, Reg: reg, HasReg: true, Int: int64(off), HasOff: true}
}

// MemBase returns a memory operand [reg].
func MemBase(reg uint32) Operand {
	return Operand{Kind: KindMemory, Reg: reg, HasReg: true}
}

// MemAbs returns a memory operand [off].
func MemAbs(off int32) Operand {
	return Operand{Kind: KindMemory, Int: int64(off), HasOff: true}
}

func (o Operand) IsNone() bool     { return o.Kind == KindNone }
func (o Operand) IsRegister() bool { return o.Kind == KindRegister }
func (o Operand) IsStack() bool    { return o.Kind == KindStack }
func (o Operand) IsLocal() bool    { return o.Kind == KindLocal }
func (o Operand) IsBranch() bool   { return o.Kind == KindBranch }

// Target returns the instruction ID a Branch operand refers to.
func (o Operand) Target() ID { return ID(o.Int) }

// BaseLocal reports whether o is a memory operand whose base register has
// been promoted to a local.
func (o Operand) BaseLocal() bool {
	return o.Kind == KindMemory && o.HasReg && o.Local.Name != ""
}

// Equal reports whether o and p are the same operand.
func (o Operand) Equal(p Operand) bool {
	if o.Kind != p.Kind {
		return false
	}
	switch o.Kind {
	case KindNone:
		return true
	case KindInt, KindStack, KindBranch, KindBlock:
		return o.Int == p.Int
	case KindFloat:
		return o.Float == p.Float
	case KindString, KindCallee:
		return o.Text == p.Text
	case KindRegister:
		return o.Reg == p.Reg
	case KindMemory:
		if o.HasReg != p.HasReg || o.HasOff != p.HasOff {
			return false
		}
		if o.BaseLocal() || p.BaseLocal() {
			if !o.Local.Equal(p.Local) {
				return false
			}
		} else if o.HasReg && o.Reg != p.Reg {
			return false
		}
		return !o.HasOff || o.Int == p.Int
	case KindLocal:
		return o.Local.Equal(p.Local)
	}
	return false
}

// String formats the operand in the syntax accepted by the assembler.
// Branch targets print as instruction IDs; use Method-aware printers to show
// indices.
func (o Operand) String() string {
	switch o.Kind {
	case KindNone:
		return "_"
	case KindInt:
		return strconv.FormatInt(o.Int, 10)
	case KindFloat:
		s := strconv.FormatFloat(o.Float, 'g', -1, 64)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			s += ".0"
		}
		return s
	case KindString:
		return strconv.Quote(o.Text)
	case KindRegister:
		return fmt.Sprintf("r%d", o.Reg)
	case KindStack:
		return fmt.Sprintf("[stack:%d]", o.Int)
	case KindMemory:
		return o.memString()
	case KindBranch:
		return fmt.Sprintf("@%d", o.Int)
	case KindCallee:
		return o.Text
	case KindLocal:
		return o.Local.String()
	case KindBlock:
		return fmt.Sprintf("@b%d", o.Int)
	}
	return "?"
}

func (o Operand) memString() string {
	var base string
	switch {
	case o.BaseLocal():
		base = o.Local.String()
	case o.HasReg:
		base = fmt.Sprintf("r%d", o.Reg)
	}
	switch {
	case base == "" && !o.HasOff:
		return "[]"
	case base == "":
		return fmt.Sprintf("[%#x]", o.Int)
	case !o.HasOff:
		return "[" + base + "]"
	case o.Int < 0:
		return fmt.Sprintf("[%s-%d]", base, -o.Int)
	default:
		return fmt.Sprintf("[%s+%d]", base, o.Int)
	}
}
