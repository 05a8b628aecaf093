// Package milasm loads methods from MIL listings.
//
// A listing is line oriented:
//
//	; comment
//	func name(r0, r1, [stack:8])
//	loop:  add r2, r1
//	       jumpLess @loop, r2, 10
//	0x1c:  return r2
//
// A func line opens a method and lists its parameters. An instruction may be
// prefixed with labels and with a raw offset written as a hex number.
// Branch targets are either @label or @N, the position of the target within
// the method. push and pop expand to a stack shift and a move.
package milasm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/you-not-fish/lifter/internal/ir"
	"github.com/you-not-fish/lifter/internal/mil"
)

// Error is a syntax error in a listing.
type Error struct {
	File string
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.File == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// ParseFile reads and parses the listing at path.
func ParseFile(path string, ptrSize int) ([]*ir.Method, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read listing")
	}
	return Parse(path, src, ptrSize)
}

// Parse parses every method of a listing. file is only used in error
// messages. The first syntax error stops parsing and is returned as *Error.
func Parse(file string, src []byte, ptrSize int) (methods []*ir.Method, err error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, errors.New("pointer size must be 4 or 8, got %d", ptrSize)
	}

	p := &parser{file: file, ptrSize: ptrSize, names: map[string]bool{}}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		methods, err = nil, e
	}()

	p.scanner = *newScanner(src, p.errorAt)
	p.next()
	for p.tok != _EOF {
		p.parseLine()
	}
	p.finish()

	return p.methods, nil
}

type parser struct {
	scanner

	file    string
	ptrSize int

	methods []*ir.Method
	names   map[string]bool
	cur     *method
}

// method is a method being assembled.
type method struct {
	name   string
	params []mil.Operand
	b      *mil.Builder
	labels map[string]label
	fixups []fixup
}

type label struct {
	pos  int
	line int
}

// fixup is a branch operand naming a label.
type fixup struct {
	in    *mil.Instr
	arg   int
	label string
	line  int
}

// arg is a parsed operand. label is set for @label targets, which are
// resolved when the method is complete.
type arg struct {
	op    mil.Operand
	label string
}

// arity holds the operand count range of each op.
var arity = map[mil.Op][2]int{
	mil.OpNop:          {0, 0},
	mil.OpMove:         {2, 2},
	mil.OpShiftStack:   {1, 1},
	mil.OpReturn:       {0, 1},
	mil.OpJump:         {1, 1},
	mil.OpJumpTrue:     {2, 2},
	mil.OpJumpFalse:    {2, 2},
	mil.OpJumpEqual:    {3, 3},
	mil.OpJumpGreater:  {3, 3},
	mil.OpJumpLess:     {3, 3},
	mil.OpIndirectJump: {1, 1},
	mil.OpCheckEqual:   {3, 3},
	mil.OpCheckGreater: {3, 3},
	mil.OpCheckLess:    {3, 3},
	mil.OpNot:          {2, 2},
	mil.OpNegate:       {2, 2},
}

func (p *parser) errorAt(line int, msg string) {
	panic(&Error{File: p.file, Line: line, Msg: msg})
}

func (p *parser) errorf(format string, args ...any) {
	p.errorAt(p.tokLine, fmt.Sprintf(format, args...))
}

func (p *parser) want(t token) {
	if p.tok != t {
		p.errorf("expected %s, found %s", t, p.describe())
	}
	p.next()
}

func (p *parser) describe() string {
	switch p.tok {
	case _Name, _Int, _Float:
		return fmt.Sprintf("%s %s", p.tok, p.lit)
	case _String:
		return fmt.Sprintf("string %q", p.lit)
	}
	return p.tok.String()
}

func (p *parser) method(what string) *method {
	if p.cur == nil {
		p.errorf("%s outside of a func", what)
	}
	return p.cur
}

func (p *parser) parseLine() {
	for {
		switch p.tok {
		case _EOF:
			return
		case _Newline:
			p.next()
			return
		case _Int:
			off := p.uint(p.lit)
			p.next()
			p.want(_Colon)
			p.method("offset").b.SetOffset(off)
		case _Name:
			name, line := p.lit, p.tokLine
			p.next()
			if p.tok == _Colon {
				p.next()
				p.label(name, line)
				continue
			}
			if name == "func" {
				p.header()
			} else {
				p.instr(name)
			}
			if p.tok != _Newline && p.tok != _EOF {
				p.errorf("unexpected %s at end of line", p.describe())
			}
		default:
			p.errorf("unexpected %s at start of line", p.describe())
		}
	}
}

func (p *parser) label(name string, line int) {
	m := p.method("label")
	if l, ok := m.labels[name]; ok {
		p.errorAt(line, fmt.Sprintf("label %s already defined at line %d", name, l.line))
	}
	m.labels[name] = label{pos: m.b.Len(), line: line}
}

// header parses the rest of a func line and opens a new method.
func (p *parser) header() {
	p.finish()

	if p.tok != _Name {
		p.errorf("expected method name, found %s", p.describe())
	}
	name := p.lit
	if p.names[name] {
		p.errorf("duplicate func %s", name)
	}
	p.names[name] = true
	p.next()

	p.want(_Lparen)
	var params []mil.Operand
	for p.tok != _Rparen {
		if len(params) != 0 {
			p.want(_Comma)
		}
		a := p.operand()
		if !a.op.IsRegister() && !a.op.IsStack() {
			p.errorf("parameter %d of %s must be a register or a stack slot, found %s", len(params), name, a.op)
		}
		params = append(params, a.op)
	}
	p.next()

	p.cur = &method{
		name:   name,
		params: params,
		b:      mil.NewBuilder(p.ptrSize),
		labels: map[string]label{},
	}
}

func (p *parser) instr(name string) {
	m := p.method("instruction")
	line := p.tokLine

	var args []arg
	if p.tok != _Newline && p.tok != _EOF {
		args = append(args, p.operand())
		for p.tok == _Comma {
			p.next()
			args = append(args, p.operand())
		}
	}

	switch name {
	case "push", "pop":
		if len(args) != 1 || args[0].label != "" {
			p.errorAt(line, fmt.Sprintf("%s takes one operand", name))
		}
		if name == "push" {
			m.b.Push(args[0].op)
		} else {
			m.b.Pop(args[0].op)
		}
		return
	}

	op, ok := mil.LookupOp(name)
	if !ok || op == mil.OpPhi {
		p.errorAt(line, fmt.Sprintf("unknown instruction %s", name))
	}

	if op == mil.OpCall && len(args) != 0 && args[0].op.Kind == mil.KindCallee {
		args = append([]arg{{op: mil.None}}, args...)
	}
	p.checkArgs(op, args, line)

	ops := make([]mil.Operand, len(args))
	for i, a := range args {
		ops[i] = a.op
	}
	in := m.b.Emit(op, ops...)
	for i, a := range args {
		if a.label != "" {
			m.fixups = append(m.fixups, fixup{in: in, arg: i, label: a.label, line: line})
		}
	}
}

func (p *parser) checkArgs(op mil.Op, args []arg, line int) {
	n := len(args)
	if r, ok := arity[op]; ok && (n < r[0] || n > r[1]) {
		if r[0] == r[1] {
			p.errorAt(line, fmt.Sprintf("%s takes %d operands, found %d", op, r[0], n))
		}
		p.errorAt(line, fmt.Sprintf("%s takes %d to %d operands, found %d", op, r[0], r[1], n))
	}
	if op.ReadsDest() && (n < 2 || n > 3) {
		p.errorAt(line, fmt.Sprintf("%s takes 2 or 3 operands, found %d", op, n))
	}

	for i, a := range args {
		isTarget := a.op.IsBranch() || a.label != ""
		if isTarget != (op.IsBranch() && i == 0) {
			if isTarget {
				p.errorAt(line, fmt.Sprintf("unexpected branch target in operand %d of %s", i, op))
			}
			p.errorAt(line, fmt.Sprintf("%s needs a branch target, found %s", op, a.op))
		}
	}

	switch op {
	case mil.OpShiftStack:
		if args[0].op.Kind != mil.KindInt {
			p.errorAt(line, fmt.Sprintf("shiftStack needs an integer, found %s", args[0].op))
		}
	case mil.OpCall:
		if n < 2 {
			p.errorAt(line, "call needs a callee")
		}
	}
}

func (p *parser) operand() arg {
	switch p.tok {
	case _Name:
		name := p.lit
		p.next()
		if name == "_" {
			return arg{op: mil.None}
		}
		if r, ok := register(name); ok {
			return arg{op: mil.RegOp(r)}
		}
		return arg{op: mil.CalleeOp(name)}

	case _Hash:
		p.next()
		return arg{op: p.number()}

	case _Int, _Float, _Minus:
		return arg{op: p.number()}

	case _String:
		s := p.lit
		p.next()
		return arg{op: mil.StringOp(s)}

	case _Lbrack:
		p.next()
		return arg{op: p.memory()}

	case _At:
		p.next()
		switch p.tok {
		case _Name:
			l := p.lit
			p.next()
			return arg{op: mil.BranchOp(-1), label: l}
		case _Int:
			pos := p.uint(p.lit)
			if pos > 1<<31-1 {
				p.errorf("branch target %s out of range", p.lit)
			}
			p.next()
			return arg{op: mil.BranchOp(mil.ID(pos))}
		}
		p.errorf("expected label or position after @, found %s", p.describe())
	}

	p.errorf("expected operand, found %s", p.describe())
	panic("unreachable")
}

// number parses an optionally negated integer or float.
func (p *parser) number() mil.Operand {
	neg := p.tok == _Minus
	if neg {
		p.next()
	}

	switch p.tok {
	case _Int:
		v := int64(p.uint(p.lit))
		p.next()
		if neg {
			v = -v
		}
		return mil.IntOp(v)
	case _Float:
		v, err := strconv.ParseFloat(p.lit, 64)
		if err != nil {
			p.errorf("invalid float %s", p.lit)
		}
		p.next()
		if neg {
			v = -v
		}
		return mil.FloatOp(v)
	}

	p.errorf("expected number, found %s", p.describe())
	panic("unreachable")
}

// memory parses a memory or stack operand after the opening bracket.
func (p *parser) memory() mil.Operand {
	switch p.tok {
	case _Name:
		if p.lit == "stack" {
			p.next()
			p.want(_Colon)
			off := p.number()
			if off.Kind != mil.KindInt {
				p.errorf("stack offset must be an integer")
			}
			p.want(_Rbrack)
			return mil.StackOp(p.int32(off.Int))
		}

		r, ok := register(p.lit)
		if !ok {
			p.errorf("expected register or stack in memory operand, found %s", p.describe())
		}
		p.next()

		switch p.tok {
		case _Rbrack:
			p.next()
			return mil.MemBase(r)
		case _Plus, _Minus:
			neg := p.tok == _Minus
			p.next()
			if p.tok != _Int {
				p.errorf("expected displacement, found %s", p.describe())
			}
			off := int64(p.uint(p.lit))
			if neg {
				off = -off
			}
			p.next()
			p.want(_Rbrack)
			return mil.MemOp(r, p.int32(off))
		}
		p.errorf("expected '+', '-' or ']', found %s", p.describe())

	case _Int:
		addr := int64(p.uint(p.lit))
		p.next()
		p.want(_Rbrack)
		return mil.MemAbs(p.int32(addr))
	}

	p.errorf("expected memory operand, found %s", p.describe())
	panic("unreachable")
}

// finish resolves the labels of the current method and adds it to the list.
func (p *parser) finish() {
	m := p.cur
	if m == nil {
		return
	}
	p.cur = nil

	n := m.b.Len()
	for _, f := range m.fixups {
		l, ok := m.labels[f.label]
		if !ok {
			p.errorAt(f.line, fmt.Sprintf("undefined label %s", f.label))
		}
		if l.pos >= n {
			p.errorAt(f.line, fmt.Sprintf("label %s does not mark an instruction", f.label))
		}
		f.in.Args[f.arg] = mil.BranchOp(mil.ID(l.pos))
	}

	p.methods = append(p.methods, ir.NewMethod(m.name, p.ptrSize, m.params, m.b.Instrs))
}

func (p *parser) uint(lit string) uint64 {
	base := 10
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
		base = 0
	}
	v, err := strconv.ParseUint(lit, base, 64)
	if err != nil {
		p.errorf("invalid integer %s", lit)
	}
	return v
}

func (p *parser) int32(v int64) int32 {
	if v < -1<<31 || v > 1<<31-1 {
		p.errorf("offset %d out of range", v)
	}
	return int32(v)
}

// register parses a register name of the form rN.
func register(name string) (uint32, bool) {
	if len(name) < 2 || name[0] != 'r' {
		return 0, false
	}
	v, err := strconv.ParseUint(name[1:], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
