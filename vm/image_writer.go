package vm

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ---------------------------------------------------------------------------
// Program Format Constants
// ---------------------------------------------------------------------------

// FormatTag is the first line of a serialized program.
const FormatTag = "stencil"

// Program format version
// v1: initial format
const FormatVersion = 1

// ---------------------------------------------------------------------------
// ProgramWriter: Serializes a compiled program
// ---------------------------------------------------------------------------

// ProgramWriter serializes programs to the line-oriented binary format.
type ProgramWriter struct {
	buf *bytes.Buffer

	// Location of the previous instruction, for ^ backreferences
	last *Location
}

// NewProgramWriter creates a new program writer.
func NewProgramWriter() *ProgramWriter {
	return &ProgramWriter{buf: bytes.NewBuffer(nil)}
}

// writeInt writes n followed by its terminator.
func (w *ProgramWriter) writeInt(n int, term byte) {
	w.buf.WriteString(strconv.Itoa(n))
	w.buf.WriteByte(term)
}

// writeString writes a length-prefixed string. An empty string is written
// in absent form (the uppercase terminator alone).
func (w *ProgramWriter) writeString(s string, term byte) {
	if s == "" {
		w.buf.WriteByte(upper(term))
		return
	}
	w.writeInt(len(s), term)
	w.buf.WriteString(s)
}

func (w *ProgramWriter) writeRegister(r Register) {
	if r == NoRegister {
		w.buf.WriteByte('-')
		return
	}
	w.buf.WriteByte('0' + byte(r))
}

func (w *ProgramWriter) writeHeader(p *Program) {
	w.buf.WriteString(FormatTag)
	w.buf.WriteByte('\n')
	w.buf.WriteString(strconv.Itoa(FormatVersion))
	w.buf.WriteByte('\n')
	w.writeString(p.Source, 's')
	w.buf.WriteByte('\n')
	w.writeInt(len(p.Instructions), '#')
	w.buf.WriteByte('\n')
}

func (w *ProgramWriter) writeLocation(p *Program, loc *Location) error {
	if loc == w.last {
		w.buf.WriteByte('^')
		return nil
	}
	if loc.Source != p.Source {
		return fmt.Errorf("%w: location %s belongs to another source", ErrBadLocation, loc)
	}
	w.buf.WriteByte('*')
	w.writeString(loc.Type, 't')
	w.writeInt(loc.StartTag, '<')
	w.writeInt(loc.EndTag, '>')
	w.writeInt(loc.StartCode, '[')
	w.writeInt(loc.EndCode, ']')
	w.last = loc
	return nil
}

func (w *ProgramWriter) writeInstruction(p *Program, i int) error {
	in := &p.Instructions[i]
	if in.Location == nil {
		return fmt.Errorf("instruction %d (%s): %w", i, in.Op, ErrMissingLocation)
	}
	if !in.Op.Known() {
		return fmt.Errorf("instruction %d: %w: 0x%02X", i, ErrUnknownOpcode, byte(in.Op))
	}
	for _, r := range in.Registers() {
		if r != NoRegister && !r.Valid() {
			return fmt.Errorf("instruction %d (%s): %w: %d", i, in.Op, ErrBadRegister, r)
		}
		w.writeRegister(r)
	}
	w.writeString(in.Op.Name(), 'c')
	w.writeString(in.Arg, 'a')
	if err := w.writeLocation(p, in.Location); err != nil {
		return fmt.Errorf("instruction %d: %w", i, err)
	}
	w.buf.WriteByte('\n')
	return nil
}

// Write serializes p into the writer's buffer.
func (w *ProgramWriter) Write(p *Program) error {
	w.writeHeader(p)
	for i := range p.Instructions {
		if err := w.writeInstruction(p, i); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo writes the serialized program to the given writer.
func (w *ProgramWriter) WriteTo(out io.Writer) (int64, error) {
	n, err := out.Write(w.buf.Bytes())
	return int64(n), err
}

// Bytes returns the serialized program.
func (w *ProgramWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// upper returns the absent-form terminator for term.
func upper(term byte) byte {
	if term >= 'a' && term <= 'z' {
		return term - 'a' + 'A'
	}
	return term
}

// ---------------------------------------------------------------------------
// Program integration
// ---------------------------------------------------------------------------

// Encode serializes the program.
func (p *Program) Encode() ([]byte, error) {
	w := NewProgramWriter()
	if err := w.Write(p); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Save writes the serialized program to a file.
func (p *Program) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return p.SaveTo(f)
}

// SaveTo writes the serialized program to a writer.
func (p *Program) SaveTo(out io.Writer) error {
	w := NewProgramWriter()
	if err := w.Write(p); err != nil {
		return err
	}
	_, err := w.WriteTo(out)
	return err
}
