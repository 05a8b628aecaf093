package mil

// Builder accumulates a flat instruction list. Branch targets are written as
// instruction positions, which become IDs when the list is handed to a method.
type Builder struct {
	PtrSize int
	Instrs  []*Instr

	offset uint64
}

// NewBuilder returns a builder for a target with the given pointer size.
func NewBuilder(ptrSize int) *Builder {
	return &Builder{PtrSize: ptrSize}
}

// Len returns the number of instructions emitted so far. It is the position
// the next instruction will get.
func (b *Builder) Len() int { return len(b.Instrs) }

// SetOffset sets the raw offset recorded on the next emitted instruction.
func (b *Builder) SetOffset(off uint64) { b.offset = off }

// Emit appends an instruction and returns it.
func (b *Builder) Emit(op Op, args ...Operand) *Instr {
	in := &Instr{
		ID:     ID(len(b.Instrs)),
		Index:  len(b.Instrs),
		Offset: b.offset,
		Op:     op,
		Args:   args,
	}
	b.Instrs = append(b.Instrs, in)
	b.offset++
	return in
}

func (b *Builder) Nop() *Instr                      { return b.Emit(OpNop) }
func (b *Builder) Move(dst, src Operand) *Instr     { return b.Emit(OpMove, dst, src) }
func (b *Builder) ShiftStack(bytes int64) *Instr    { return b.Emit(OpShiftStack, IntOp(bytes)) }
func (b *Builder) Jump(target int) *Instr           { return b.Emit(OpJump, BranchOp(ID(target))) }
func (b *Builder) IndirectJump(addr Operand) *Instr { return b.Emit(OpIndirectJump, addr) }

// Return emits a return with an optional value.
func (b *Builder) Return(val ...Operand) *Instr {
	return b.Emit(OpReturn, val...)
}

// Call emits "call ret, callee, args...". ret may be None.
func (b *Builder) Call(ret Operand, callee string, args ...Operand) *Instr {
	ops := make([]Operand, 0, len(args)+2)
	ops = append(ops, ret, CalleeOp(callee))
	ops = append(ops, args...)
	return b.Emit(OpCall, ops...)
}

// Branch emits a conditional branch op to target with the given operands.
func (b *Builder) Branch(op Op, target int, args ...Operand) *Instr {
	ops := append([]Operand{BranchOp(ID(target))}, args...)
	return b.Emit(op, ops...)
}

// Binary emits a two-address arithmetic instruction.
func (b *Builder) Binary(op Op, dst, src Operand) *Instr {
	return b.Emit(op, dst, src)
}

// Push emits the push sequence: grow the stack by one slot, then store src
// at the new top. Both instructions share one offset.
func (b *Builder) Push(src Operand) {
	off := b.offset
	b.ShiftStack(-int64(b.PtrSize))
	b.offset = off
	b.Move(StackOp(0), src)
}

// Pop emits the pop sequence: load the top slot into dst, then shrink the
// stack by one slot. Both instructions share one offset.
func (b *Builder) Pop(dst Operand) {
	off := b.offset
	b.Move(dst, StackOp(0))
	b.offset = off
	b.ShiftStack(int64(b.PtrSize))
}
