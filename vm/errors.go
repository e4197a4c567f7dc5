package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Run-time errors
// ---------------------------------------------------------------------------

var (
	ErrUnsupportedOperand = errors.New("unsupported operand type(s)")
	ErrUnknownFunction    = errors.New("unknown function")
	ErrUnknownMethod      = errors.New("unknown method")
	ErrUndefinedVariable  = errors.New("undefined variable")
	ErrUnknownTemplate    = errors.New("unknown template")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrInvalidCodePoint   = errors.New("invalid code point")
	ErrZeroDivision       = errors.New("division by zero")
	ErrNotIterable        = errors.New("value is not iterable")
	ErrBadArgument        = errors.New("bad argument")
	ErrRenderDepth        = errors.New("sub-template nesting too deep")
	ErrPanic              = errors.New("renderer panicked")
)

// TypeError reports an operation applied to operands of unsupported types.
type TypeError struct {
	Op    string   // operation name, e.g. "add" or "getitem"
	Types []string // type names of the operands, in order
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("unsupported operand type(s) for %s: %s", e.Op, strings.Join(e.Types, " and "))
}

func (e *TypeError) Unwrap() error {
	return ErrUnsupportedOperand
}

// typeError builds a TypeError for the given operation and operands.
func typeError(op string, operands ...Value) error {
	types := make([]string, len(operands))
	for i, v := range operands {
		types[i] = TypeName(v)
	}
	return &TypeError{Op: op, Types: types}
}

// RenderError wraps a run-time failure with the instruction that raised it.
type RenderError struct {
	Location *Location
	PC       int
	Err      error
}

func (e *RenderError) Error() string {
	if e.Location == nil {
		return fmt.Sprintf("instruction %d: %v", e.PC, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Location, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Decode errors
// ---------------------------------------------------------------------------

var (
	ErrBadHeader          = errors.New("invalid header")
	ErrBadVersion         = errors.New("version mismatch")
	ErrShortRead          = errors.New("short read")
	ErrBadTerminator      = errors.New("invalid terminator")
	ErrNonCanonical       = errors.New("non-canonical encoding")
	ErrBadRegister        = errors.New("invalid register spec")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrNoPreviousLocation = errors.New("no previous location")
	ErrBadLocation        = errors.New("invalid location spec")
	ErrUnbalancedBlocks   = errors.New("unbalanced block markers")
	ErrMissingLocation    = errors.New("instruction has no location")
	ErrTrailingData       = errors.New("trailing data after last instruction")
)

// DecodeError reports where in a serialized program decoding failed.
type DecodeError struct {
	Offset int      // byte offset of the failure
	Path   []string // enclosing structure, outermost first
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d (%s): %v", e.Offset, strings.Join(e.Path, "/"), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
