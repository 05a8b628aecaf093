// Package mil implements the medium-level instruction language (MIL) that the
// lifter consumes: opcodes, operands, and instructions.
package mil

// Op represents a MIL operation code.
type Op int

const (
	OpInvalid Op = iota

	OpUnknown    // undecoded instruction; Args[0] = optional text
	OpNop        // no operation
	OpMove       // Args[0] = dest, Args[1] = src
	OpShiftStack // stack pointer adjustment; Args[0] = Int bytes (negative = push)

	// Calls and returns
	OpCall   // Args[0] = ret or None, Args[1] = callee, Args[2:] = arguments
	OpReturn // Args[0] = optional value

	// Branches; Args[0] = Branch target
	OpJump         // unconditional
	OpJumpTrue     // Args[1] = cond
	OpJumpFalse    // Args[1] = cond
	OpJumpEqual    // Args[1] == Args[2]
	OpJumpGreater  // Args[1] > Args[2]
	OpJumpLess     // Args[1] < Args[2]
	OpIndirectJump // computed target; Args[0] = address operand

	// Comparisons; Args[0] = dest, Args[1], Args[2] = operands
	OpCheckEqual
	OpCheckGreater
	OpCheckLess

	// Binary arithmetic: dest, src (two-address) or dest, l, r (three-address)
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpAnd
	OpOr
	OpXor
	OpShiftLeft
	OpShiftRight

	// Unary arithmetic; Args[0] = dest, Args[1] = src
	OpNot
	OpNegate

	// SSA
	OpPhi // Args[0] = dest, Args[1:] = one source per predecessor

	opCount // sentinel; must be last
)

// OpInfo holds metadata about a MIL operation.
type OpInfo struct {
	Name        string // mnemonic used by the printer and the assembler
	Branch      bool   // transfers control to Args[0]
	Conditional bool   // branch that may fall through
	Defines     bool   // Args[0] is written
	ReadsDest   bool   // two-address form also reads Args[0]
}

var opInfoTable = [opCount]OpInfo{
	OpInvalid: {Name: "invalid"},

	OpUnknown:    {Name: "unknown"},
	OpNop:        {Name: "nop"},
	OpMove:       {Name: "move", Defines: true},
	OpShiftStack: {Name: "shiftStack"},

	OpCall:   {Name: "call", Defines: true},
	OpReturn: {Name: "return"},

	OpJump:         {Name: "jump", Branch: true},
	OpJumpTrue:     {Name: "jumpTrue", Branch: true, Conditional: true},
	OpJumpFalse:    {Name: "jumpFalse", Branch: true, Conditional: true},
	OpJumpEqual:    {Name: "jumpEqual", Branch: true, Conditional: true},
	OpJumpGreater:  {Name: "jumpGreater", Branch: true, Conditional: true},
	OpJumpLess:     {Name: "jumpLess", Branch: true, Conditional: true},
	OpIndirectJump: {Name: "indirectJump"},

	OpCheckEqual:   {Name: "checkEqual", Defines: true},
	OpCheckGreater: {Name: "checkGreater", Defines: true},
	OpCheckLess:    {Name: "checkLess", Defines: true},

	OpAdd:        {Name: "add", Defines: true, ReadsDest: true},
	OpSubtract:   {Name: "subtract", Defines: true, ReadsDest: true},
	OpMultiply:   {Name: "multiply", Defines: true, ReadsDest: true},
	OpDivide:     {Name: "divide", Defines: true, ReadsDest: true},
	OpAnd:        {Name: "and", Defines: true, ReadsDest: true},
	OpOr:         {Name: "or", Defines: true, ReadsDest: true},
	OpXor:        {Name: "xor", Defines: true, ReadsDest: true},
	OpShiftLeft:  {Name: "shiftLeft", Defines: true, ReadsDest: true},
	OpShiftRight: {Name: "shiftRight", Defines: true, ReadsDest: true},

	OpNot:    {Name: "not", Defines: true},
	OpNegate: {Name: "negate", Defines: true},

	OpPhi: {Name: "phi", Defines: true},
}

// String returns the mnemonic of the op.
func (o Op) String() string {
	return o.Info().Name
}

// Info returns the OpInfo for this op.
func (o Op) Info() OpInfo {
	if o >= 0 && int(o) < len(opInfoTable) {
		return opInfoTable[o]
	}
	return OpInfo{Name: "invalid"}
}

// IsBranch reports whether the op transfers control to a Branch operand.
func (o Op) IsBranch() bool { return o.Info().Branch }

// IsConditional reports whether the op is a branch that may fall through.
func (o Op) IsConditional() bool { return o.Info().Conditional }

// Defines reports whether Args[0] is a destination.
func (o Op) Defines() bool { return o.Info().Defines }

// ReadsDest reports whether the two-address form of the op reads Args[0].
func (o Op) ReadsDest() bool { return o.Info().ReadsDest }

// LookupOp returns the op with the given mnemonic.
func LookupOp(name string) (Op, bool) {
	for op := OpUnknown; op < opCount; op++ {
		if opInfoTable[op].Name == name {
			return op, true
		}
	}
	return OpInvalid, false
}
