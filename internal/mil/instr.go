package mil

import (
	"fmt"
	"strings"
)

// ID is a stable handle for an instruction within its method. IDs never
// change once assigned, unlike Index.
type ID int32

// Instr is a single MIL instruction.
type Instr struct {
	// ID is the arena handle of the instruction.
	ID ID

	// Index is the current position in the method's instruction list.
	// It is reassigned whenever the list is mutated.
	Index int

	// Offset is the raw byte offset reported by the loader.
	Offset uint64

	// Op is the operation performed.
	Op Op

	// Args are the operands; their layout depends on Op.
	Args []Operand
}

// Dest returns the destination operand of a defining instruction.
func (in *Instr) Dest() (Operand, bool) {
	if !in.Op.Defines() || len(in.Args) == 0 || in.Args[0].IsNone() {
		return None, false
	}
	return in.Args[0], true
}

// IsBranch reports whether the instruction jumps to a Branch operand.
func (in *Instr) IsBranch() bool { return in.Op.IsBranch() }

// IsConditional reports whether the instruction is a conditional branch.
func (in *Instr) IsConditional() bool { return in.Op.IsConditional() }

// IsCall reports whether the instruction is a call.
func (in *Instr) IsCall() bool { return in.Op == OpCall }

// IsReturn reports whether the instruction is a return.
func (in *Instr) IsReturn() bool { return in.Op == OpReturn }

// IsTransfer reports whether the instruction ends straight-line execution.
func (in *Instr) IsTransfer() bool {
	return in.Op.IsBranch() || in.Op == OpReturn || in.Op == OpIndirectJump
}

// Target returns the branch target of a branch instruction.
func (in *Instr) Target() (ID, bool) {
	if !in.Op.IsBranch() || len(in.Args) == 0 || !in.Args[0].IsBranch() {
		return 0, false
	}
	return in.Args[0].Target(), true
}

// IsTwoAddress reports whether the instruction uses the two-address form
// (dest, src) of a binary operation.
func (in *Instr) IsTwoAddress() bool {
	return in.Op.ReadsDest() && len(in.Args) == 2
}

// Uses calls fn with a pointer to every operand the instruction reads.
// For defining instructions in two-address form the destination is both read
// and written and is reported here as well. Memory operands in destination
// position are reported since their base is read.
func (in *Instr) Uses(fn func(*Operand)) {
	for i := range in.Args {
		a := &in.Args[i]
		if i == 0 && in.Op.Defines() && !in.IsTwoAddress() && a.Kind != KindMemory {
			continue
		}
		if in.Op == OpPhi && i == 0 {
			continue
		}
		fn(a)
	}
}

// String formats the instruction as "op a, b, c".
func (in *Instr) String() string {
	return in.Format(Operand.String)
}

// Format formats the instruction using str to print operands.
func (in *Instr) Format(str func(Operand) string) string {
	if len(in.Args) == 0 {
		return in.Op.String()
	}
	parts := make([]string, len(in.Args))
	for i, a := range in.Args {
		parts[i] = str(a)
	}
	return in.Op.String() + " " + strings.Join(parts, ", ")
}

// LongString includes the index and raw offset.
func (in *Instr) LongString() string {
	return fmt.Sprintf("%4d %#06x  %s", in.Index, in.Offset, in)
}
