package vm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Location: a tag or text run in the template source
// ---------------------------------------------------------------------------

// Location identifies the source fragment an instruction was compiled from.
// Offsets are byte offsets into Source forming half-open ranges. Every
// instruction compiled from one fragment shares the same *Location.
type Location struct {
	Source    string
	Type      string // tag type ("print", "for", ...); empty for literal text
	StartTag  int
	EndTag    int
	StartCode int
	EndCode   int
}

// Tag returns the full text of the tag, including delimiters.
func (l *Location) Tag() string {
	return l.Source[l.StartTag:l.EndTag]
}

// Code returns the text between the tag's delimiters, or the literal text.
func (l *Location) Code() string {
	return l.Source[l.StartCode:l.EndCode]
}

// LineCol returns the 1-based line and column of the start of the tag.
func (l *Location) LineCol() (line, col int) {
	line, col = 1, 1
	for _, r := range l.Source[:l.StartTag] {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func (l *Location) String() string {
	line, col := l.LineCol()
	if l.Type == "" {
		return fmt.Sprintf("text at %d (line %d, col %d)", l.StartTag, line, col)
	}
	return fmt.Sprintf("<?%s?> tag at %d (line %d, col %d)", l.Type, l.StartTag, line, col)
}

// ---------------------------------------------------------------------------
// Instruction and Program
// ---------------------------------------------------------------------------

// Instruction is one step of a compiled program.
type Instruction struct {
	Op       Opcode
	R1       Register
	R2       Register
	R3       Register
	R4       Register
	R5       Register
	Arg      string
	Location *Location
	Jump     int // index of the matching else/endif/endfor; -1 if unresolved
}

// Registers returns the five operand slots in order.
func (in *Instruction) Registers() [5]Register {
	return [5]Register{in.R1, in.R2, in.R3, in.R4, in.R5}
}

func (in *Instruction) setRegisters(regs [5]Register) {
	in.R1, in.R2, in.R3, in.R4, in.R5 = regs[0], regs[1], regs[2], regs[3], regs[4]
}

// Program is a compiled template: its source and a flat instruction list.
// A Program must not be modified once compiled or decoded; it can then be
// rendered from many goroutines at once.
type Program struct {
	Source       string
	Instructions []Instruction
}

// NewProgram creates an empty program for source.
func NewProgram(source string) *Program {
	return &Program{Source: source}
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Instructions)
}

// Emit appends an instruction and returns its index. The number of
// registers must match the opcode's operand count.
func (p *Program) Emit(op Opcode, arg string, loc *Location, regs ...Register) int {
	info, ok := opcodeTable[op]
	if !ok {
		panic(fmt.Sprintf("vm: emit of unknown opcode 0x%02X", byte(op)))
	}
	if len(regs) != info.Registers {
		panic(fmt.Sprintf("vm: %s takes %d registers, got %d", info.Name, info.Registers, len(regs)))
	}
	in := Instruction{
		Op:       op,
		R1:       NoRegister,
		R2:       NoRegister,
		R3:       NoRegister,
		R4:       NoRegister,
		R5:       NoRegister,
		Arg:      arg,
		Location: loc,
		Jump:     -1,
	}
	var slots [5]Register
	for i := range slots {
		slots[i] = NoRegister
	}
	copy(slots[:], regs)
	in.setRegisters(slots)
	p.Instructions = append(p.Instructions, in)
	return len(p.Instructions) - 1
}

// ---------------------------------------------------------------------------
// Jump resolution
// ---------------------------------------------------------------------------

// ResolveJumps links every if, else and for to its matching else, endif or
// endfor. It runs iteratively with an explicit stack of open blocks.
func (p *Program) ResolveJumps() error {
	var stack []int
	for i := range p.Instructions {
		in := &p.Instructions[i]
		switch in.Op {
		case OpIf, OpFor:
			stack = append(stack, i)
		case OpElse:
			if len(stack) == 0 || p.Instructions[stack[len(stack)-1]].Op == OpFor {
				return fmt.Errorf("%w: else at instruction %d has no matching if", ErrUnbalancedBlocks, i)
			}
			p.Instructions[stack[len(stack)-1]].Jump = i
			stack[len(stack)-1] = i
		case OpEndIf:
			if len(stack) == 0 || p.Instructions[stack[len(stack)-1]].Op == OpFor {
				return fmt.Errorf("%w: endif at instruction %d has no matching if", ErrUnbalancedBlocks, i)
			}
			p.Instructions[stack[len(stack)-1]].Jump = i
			stack = stack[:len(stack)-1]
		case OpEndFor:
			if len(stack) == 0 || p.Instructions[stack[len(stack)-1]].Op != OpFor {
				return fmt.Errorf("%w: endfor at instruction %d has no matching for", ErrUnbalancedBlocks, i)
			}
			p.Instructions[stack[len(stack)-1]].Jump = i
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return fmt.Errorf("%w: %s at instruction %d is never closed", ErrUnbalancedBlocks, p.Instructions[top].Op, top)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Comparison and listing
// ---------------------------------------------------------------------------

// Equal reports whether p and q have the same source and instructions,
// comparing locations by value.
func (p *Program) Equal(q *Program) bool {
	if p.Source != q.Source || len(p.Instructions) != len(q.Instructions) {
		return false
	}
	for i := range p.Instructions {
		a, b := &p.Instructions[i], &q.Instructions[i]
		if a.Op != b.Op || a.Registers() != b.Registers() || a.Arg != b.Arg || a.Jump != b.Jump {
			return false
		}
		if (a.Location == nil) != (b.Location == nil) {
			return false
		}
		if a.Location != nil && *a.Location != *b.Location {
			return false
		}
	}
	return true
}

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; stencil program v%d\n", FormatVersion))
	sb.WriteString(fmt.Sprintf("; %d instructions, %d bytes of source\n", len(p.Instructions), len(p.Source)))

	var last *Location
	for i := range p.Instructions {
		in := &p.Instructions[i]
		if in.Location != nil && in.Location != last {
			sb.WriteString(fmt.Sprintf("; %s\n", in.Location))
			last = in.Location
		}
		sb.WriteString(fmt.Sprintf("%04d  %-12s", i, in.Op.Name()))

		var regs []string
		for _, r := range in.Registers() {
			if r != NoRegister {
				regs = append(regs, r.String())
			}
		}
		if len(regs) > 0 {
			sb.WriteString(" " + strings.Join(regs, ", "))
		}

		arg := in.Arg
		if in.Op == OpText && in.Location != nil {
			arg = in.Location.Code()
		}
		if arg != "" || in.Info().HasArg {
			arg = truncate(arg, 40)
			sb.WriteString(fmt.Sprintf(" %q", arg))
		}
		if in.Jump >= 0 {
			sb.WriteString(fmt.Sprintf(" -> %04d", in.Jump))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Info returns the metadata of the instruction's opcode.
func (in *Instruction) Info() OpcodeInfo {
	return in.Op.Info()
}

// truncate shortens s to at most n bytes, cutting on a rune boundary and
// marking the cut with "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
