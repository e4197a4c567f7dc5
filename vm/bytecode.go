package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// Register identifies a slot in the renderer's register file.
type Register int8

// NoRegister marks an unused operand.
const NoRegister Register = -1

// PoolSize is the number of registers available to a program.
const PoolSize = 10

// Valid reports whether r names a slot of the register file.
func (r Register) Valid() bool {
	return r >= 0 && r < PoolSize
}

func (r Register) String() string {
	if r == NoRegister {
		return "-"
	}
	return fmt.Sprintf("r%d", int(r))
}

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single instruction kind.
type Opcode byte

// Output
const (
	OpText   Opcode = 0x00 // emit the code of the instruction's location
	OpPrint  Opcode = 0x01 // emit str(r1)
	OpPrintX Opcode = 0x02 // emit xmlescape(r1)
)

// Loads
const (
	OpLoadNone  Opcode = 0x10 // r1 = None
	OpLoadFalse Opcode = 0x11 // r1 = False
	OpLoadTrue  Opcode = 0x12 // r1 = True
	OpLoadInt   Opcode = 0x13 // r1 = int(arg)
	OpLoadFloat Opcode = 0x14 // r1 = float(arg)
	OpLoadStr   Opcode = 0x15 // r1 = arg
	OpLoadVar   Opcode = 0x16 // r1 = vars[arg]
)

// Variables
const (
	OpStoreVar    Opcode = 0x20 // vars[arg] = r1
	OpAddVar      Opcode = 0x21 // vars[arg] += r1
	OpSubVar      Opcode = 0x22 // vars[arg] -= r1
	OpMulVar      Opcode = 0x23 // vars[arg] *= r1
	OpTrueDivVar  Opcode = 0x24 // vars[arg] /= r1
	OpFloorDivVar Opcode = 0x25 // vars[arg] //= r1
	OpModVar      Opcode = 0x26 // vars[arg] %= r1
	OpDelVar      Opcode = 0x27 // delete vars[arg]
)

// Access
const (
	OpGetAttr    Opcode = 0x30 // r1 = r2.arg
	OpGetItem    Opcode = 0x31 // r1 = r2[r3]
	OpGetSlice12 Opcode = 0x32 // r1 = r2[r3:r4]
	OpGetSlice1  Opcode = 0x33 // r1 = r2[r3:]
	OpGetSlice2  Opcode = 0x34 // r1 = r2[:r3]
	OpGetSlice   Opcode = 0x35 // r1 = r2[:]
)

// Operators
const (
	OpNot         Opcode = 0x40 // r1 = not r2
	OpNeg         Opcode = 0x41 // r1 = -r2
	OpContains    Opcode = 0x42 // r1 = r2 in r3
	OpNotContains Opcode = 0x43 // r1 = r2 not in r3
	OpEquals      Opcode = 0x44 // r1 = r2 == r3
	OpNotEquals   Opcode = 0x45 // r1 = r2 != r3
	OpLT          Opcode = 0x46 // r1 = r2 < r3
	OpLE          Opcode = 0x47 // r1 = r2 <= r3
	OpGT          Opcode = 0x48 // r1 = r2 > r3
	OpGE          Opcode = 0x49 // r1 = r2 >= r3
	OpAdd         Opcode = 0x4A // r1 = r2 + r3
	OpSub         Opcode = 0x4B // r1 = r2 - r3
	OpMul         Opcode = 0x4C // r1 = r2 * r3
	OpFloorDiv    Opcode = 0x4D // r1 = r2 // r3
	OpTrueDiv     Opcode = 0x4E // r1 = r2 / r3
	OpAnd         Opcode = 0x4F // r1 = r2 and r3
	OpOr          Opcode = 0x50 // r1 = r2 or r3
	OpMod         Opcode = 0x51 // r1 = r2 % r3
)

// Calls
const (
	OpCallFunc0 Opcode = 0x60 // r1 = arg()
	OpCallFunc1 Opcode = 0x61 // r1 = arg(r2)
	OpCallFunc2 Opcode = 0x62 // r1 = arg(r2, r3)
	OpCallFunc3 Opcode = 0x63 // r1 = arg(r2, r3, r4)
	OpCallMeth0 Opcode = 0x64 // r1 = r2.arg()
	OpCallMeth1 Opcode = 0x65 // r1 = r2.arg(r3)
	OpCallMeth2 Opcode = 0x66 // r1 = r2.arg(r3, r4)
	OpCallMeth3 Opcode = 0x67 // r1 = r2.arg(r3, r4, r5)
)

// Control flow
const (
	OpIf     Opcode = 0x70 // if not r1: jump past jump target
	OpElse   Opcode = 0x71 // jump past jump target
	OpEndIf  Opcode = 0x72 // landing pad
	OpFor    Opcode = 0x73 // for r1 in r2
	OpEndFor Opcode = 0x74 // next iteration of the innermost loop
	OpRender Opcode = 0x75 // render template arg with r1 as data
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name      string // mnemonic used by the binary format
	Registers int    // number of register operands
	HasArg    bool   // whether the instruction carries an argument
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	// Output
	OpText:   {"text", 0, false},
	OpPrint:  {"print", 1, false},
	OpPrintX: {"printx", 1, false},

	// Loads
	OpLoadNone:  {"loadnone", 1, false},
	OpLoadFalse: {"loadfalse", 1, false},
	OpLoadTrue:  {"loadtrue", 1, false},
	OpLoadInt:   {"loadint", 1, true},
	OpLoadFloat: {"loadfloat", 1, true},
	OpLoadStr:   {"loadstr", 1, true},
	OpLoadVar:   {"loadvar", 1, true},

	// Variables
	OpStoreVar:    {"storevar", 1, true},
	OpAddVar:      {"addvar", 1, true},
	OpSubVar:      {"subvar", 1, true},
	OpMulVar:      {"mulvar", 1, true},
	OpTrueDivVar:  {"truedivvar", 1, true},
	OpFloorDivVar: {"floordivvar", 1, true},
	OpModVar:      {"modvar", 1, true},
	OpDelVar:      {"delvar", 0, true},

	// Access
	OpGetAttr:    {"getattr", 2, true},
	OpGetItem:    {"getitem", 3, false},
	OpGetSlice12: {"getslice12", 4, false},
	OpGetSlice1:  {"getslice1", 3, false},
	OpGetSlice2:  {"getslice2", 3, false},
	OpGetSlice:   {"getslice", 2, false},

	// Operators
	OpNot:         {"not", 2, false},
	OpNeg:         {"neg", 2, false},
	OpContains:    {"contains", 3, false},
	OpNotContains: {"notcontains", 3, false},
	OpEquals:      {"equals", 3, false},
	OpNotEquals:   {"notequals", 3, false},
	OpLT:          {"lt", 3, false},
	OpLE:          {"le", 3, false},
	OpGT:          {"gt", 3, false},
	OpGE:          {"ge", 3, false},
	OpAdd:         {"add", 3, false},
	OpSub:         {"sub", 3, false},
	OpMul:         {"mul", 3, false},
	OpFloorDiv:    {"floordiv", 3, false},
	OpTrueDiv:     {"truediv", 3, false},
	OpAnd:         {"and", 3, false},
	OpOr:          {"or", 3, false},
	OpMod:         {"mod", 3, false},

	// Calls
	OpCallFunc0: {"callfunc0", 1, true},
	OpCallFunc1: {"callfunc1", 2, true},
	OpCallFunc2: {"callfunc2", 3, true},
	OpCallFunc3: {"callfunc3", 4, true},
	OpCallMeth0: {"callmeth0", 2, true},
	OpCallMeth1: {"callmeth1", 3, true},
	OpCallMeth2: {"callmeth2", 4, true},
	OpCallMeth3: {"callmeth3", 5, true},

	// Control flow
	OpIf:     {"if", 1, false},
	OpElse:   {"else", 0, false},
	OpEndIf:  {"endif", 0, false},
	OpFor:    {"for", 2, false},
	OpEndFor: {"endfor", 0, false},
	OpRender: {"render", 1, true},
}

// opcodesByName is the reverse of opcodeTable.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Known reports whether op is part of the instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// OpcodeByName looks up an opcode by its mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// MustOpcode looks up an opcode by its mnemonic and panics if it is unknown.
// It is meant for code generators, where an unknown name is a bug.
func MustOpcode(name string) Opcode {
	op, ok := opcodesByName[name]
	if !ok {
		panic(fmt.Sprintf("vm: unknown opcode %q", name))
	}
	return op
}

// AugmentedOpcode returns the compound-assignment opcode for a binary
// operator mnemonic ("add" -> addvar).
func AugmentedOpcode(op string) Opcode {
	return MustOpcode(op + "var")
}

// CallFuncOpcode returns the function call opcode for n arguments.
func CallFuncOpcode(n int) Opcode {
	if n < 0 || n > MaxArgs {
		panic(fmt.Sprintf("vm: no call opcode for %d arguments", n))
	}
	return OpCallFunc0 + Opcode(n)
}

// CallMethOpcode returns the method call opcode for n arguments.
func CallMethOpcode(n int) Opcode {
	if n < 0 || n > MaxArgs {
		panic(fmt.Sprintf("vm: no method call opcode for %d arguments", n))
	}
	return OpCallMeth0 + Opcode(n)
}
