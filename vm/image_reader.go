package vm

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ---------------------------------------------------------------------------
// ProgramReader: Reads a serialized program
// ---------------------------------------------------------------------------

// ProgramReader decodes the line-oriented binary program format. Decoding
// is strict: the first malformed field rejects the whole stream.
type ProgramReader struct {
	data   []byte // Full serialized program
	offset int    // Current read position

	// Enclosing structure, for error reports
	path []string

	source string
	last   *Location
}

// NewProgramReader creates a ProgramReader from an io.Reader.
func NewProgramReader(r io.Reader) (*ProgramReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read program data: %w", err)
	}
	return NewProgramReaderFromBytes(data), nil
}

// NewProgramReaderFromBytes creates a ProgramReader from a byte slice.
func NewProgramReaderFromBytes(data []byte) *ProgramReader {
	return &ProgramReader{data: data}
}

// fail builds a DecodeError at the current position.
func (r *ProgramReader) fail(err error) error {
	path := make([]string, len(r.path))
	copy(path, r.path)
	return &DecodeError{Offset: r.offset, Path: path, Err: err}
}

func (r *ProgramReader) push(name string) {
	r.path = append(r.path, name)
}

func (r *ProgramReader) pop() {
	r.path = r.path[:len(r.path)-1]
}

// readByte reads one byte from the current position.
func (r *ProgramReader) readByte() (byte, error) {
	if r.offset >= len(r.data) {
		return 0, r.fail(ErrShortRead)
	}
	c := r.data[r.offset]
	r.offset++
	return c, nil
}

// expect consumes c or fails with ErrBadTerminator.
func (r *ProgramReader) expect(c byte) error {
	got, err := r.readByte()
	if err != nil {
		return err
	}
	if got != c {
		r.offset--
		return r.fail(fmt.Errorf("%w: expected %q, got %q", ErrBadTerminator, c, got))
	}
	return nil
}

// readInt reads decimal digits ended by term. If the uppercase form of term
// appears with no digits, the value is absent and -1 is returned.
func (r *ProgramReader) readInt(term byte) (int, error) {
	start := r.offset
	for r.offset < len(r.data) && r.data[r.offset] >= '0' && r.data[r.offset] <= '9' {
		r.offset++
	}
	digits := r.data[start:r.offset]
	c, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case c == term && len(digits) > 1 && digits[0] == '0':
		r.offset = start
		return 0, r.fail(fmt.Errorf("%w: integer %s has leading zeros", ErrNonCanonical, digits))
	case c == term && len(digits) > 0:
		n, err := strconv.Atoi(string(digits))
		if err != nil {
			r.offset = start
			return 0, r.fail(fmt.Errorf("%w: %v", ErrBadTerminator, err))
		}
		return n, nil
	case c == upper(term) && upper(term) != term && len(digits) == 0:
		return -1, nil
	}
	r.offset--
	return 0, r.fail(fmt.Errorf("%w: expected %q, got %q", ErrBadTerminator, term, c))
}

// readString reads a length-prefixed string ended by term. The absent form
// decodes to the empty string.
func (r *ProgramReader) readString(term byte) (string, error) {
	start := r.offset
	n, err := r.readInt(term)
	if err != nil || n < 0 {
		return "", err
	}
	if n == 0 {
		r.offset = start
		return "", r.fail(fmt.Errorf("%w: empty string must use the absent form %q", ErrNonCanonical, upper(term)))
	}
	if n > len(r.data)-r.offset {
		return "", r.fail(ErrShortRead)
	}
	s := string(r.data[r.offset : r.offset+n])
	r.offset += n
	return s, nil
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

func (r *ProgramReader) readLine() (string, error) {
	i := bytes.IndexByte(r.data[r.offset:], '\n')
	if i < 0 {
		return "", r.fail(ErrShortRead)
	}
	line := string(r.data[r.offset : r.offset+i])
	r.offset += i + 1
	return line, nil
}

// readHeader reads and validates the format tag and version.
func (r *ProgramReader) readHeader() error {
	r.push("header")
	defer r.pop()

	start := r.offset
	tag, err := r.readLine()
	if err != nil {
		return err
	}
	if tag != FormatTag {
		r.offset = start
		return r.fail(fmt.Errorf("%w: got %q", ErrBadHeader, tag))
	}
	start = r.offset
	version, err := r.readLine()
	if err != nil {
		return err
	}
	if version != strconv.Itoa(FormatVersion) {
		r.offset = start
		return r.fail(fmt.Errorf("%w: expected %d, got %q", ErrBadVersion, FormatVersion, version))
	}
	return nil
}

func (r *ProgramReader) readSource() error {
	r.push("source")
	defer r.pop()

	s, err := r.readString('s')
	if err != nil {
		return err
	}
	r.source = s
	return r.expect('\n')
}

func (r *ProgramReader) readRegisters() ([5]Register, error) {
	r.push("registers")
	defer r.pop()

	var regs [5]Register
	for i := range regs {
		c, err := r.readByte()
		if err != nil {
			return regs, err
		}
		switch {
		case c == '-':
			regs[i] = NoRegister
		case c >= '0' && c <= '9':
			regs[i] = Register(c - '0')
		default:
			r.offset--
			return regs, r.fail(fmt.Errorf("%w: %q", ErrBadRegister, c))
		}
	}
	return regs, nil
}

func (r *ProgramReader) readOpcode() (Opcode, error) {
	r.push("opcode")
	defer r.pop()

	start := r.offset
	n, err := r.readInt('c')
	if err != nil {
		return 0, err
	}
	if n < 0 {
		r.offset = start
		return 0, r.fail(fmt.Errorf("%w: missing opcode", ErrUnknownOpcode))
	}
	if n > len(r.data)-r.offset {
		return 0, r.fail(ErrShortRead)
	}
	name := string(r.data[r.offset : r.offset+n])
	op, ok := OpcodeByName(name)
	if !ok {
		return 0, r.fail(fmt.Errorf("%w: %q", ErrUnknownOpcode, name))
	}
	r.offset += n
	return op, nil
}

func (r *ProgramReader) readLocation() (*Location, error) {
	r.push("location")
	defer r.pop()

	c, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch c {
	case '^':
		if r.last == nil {
			r.offset--
			return nil, r.fail(ErrNoPreviousLocation)
		}
		return r.last, nil
	case '*':
	default:
		r.offset--
		return nil, r.fail(fmt.Errorf("%w: expected '^' or '*', got %q", ErrBadLocation, c))
	}

	start := r.offset
	typ, err := r.readString('t')
	if err != nil {
		return nil, err
	}
	var offsets [4]int
	for i, term := range []byte{'<', '>', '[', ']'} {
		if offsets[i], err = r.readInt(term); err != nil {
			return nil, err
		}
	}
	loc := &Location{
		Source:    r.source,
		Type:      typ,
		StartTag:  offsets[0],
		EndTag:    offsets[1],
		StartCode: offsets[2],
		EndCode:   offsets[3],
	}
	if !validSpan(loc.StartTag, loc.EndTag, len(r.source)) || !validSpan(loc.StartCode, loc.EndCode, len(r.source)) {
		r.offset = start
		return nil, r.fail(fmt.Errorf("%w: span %d<%d>%d[%d] outside source of %d bytes",
			ErrBadLocation, loc.StartTag, loc.EndTag, loc.StartCode, loc.EndCode, len(r.source)))
	}
	r.last = loc
	return loc, nil
}

// operandsMatch reports whether exactly the first n slots are in use.
func operandsMatch(regs [5]Register, n int) bool {
	for i, reg := range regs {
		if (i < n) != (reg != NoRegister) {
			return false
		}
	}
	return true
}

func validSpan(start, end, n int) bool {
	return start >= 0 && start <= end && end <= n
}

func (r *ProgramReader) readInstruction(i int) (Instruction, error) {
	r.push(fmt.Sprintf("instruction[%d]", i))
	defer r.pop()

	in := Instruction{Jump: -1}
	start := r.offset
	regs, err := r.readRegisters()
	if err != nil {
		return in, err
	}
	in.setRegisters(regs)
	if in.Op, err = r.readOpcode(); err != nil {
		return in, err
	}
	if n := in.Info().Registers; !operandsMatch(regs, n) {
		r.offset = start
		r.push("registers")
		defer r.pop()
		return in, r.fail(fmt.Errorf("%w: %s takes %d registers", ErrBadRegister, in.Op, n))
	}
	r.push("arg")
	in.Arg, err = r.readString('a')
	r.pop()
	if err != nil {
		return in, err
	}
	if in.Location, err = r.readLocation(); err != nil {
		return in, err
	}
	return in, r.expect('\n')
}

// Read decodes a complete program. Trailing data after the last
// instruction is rejected.
func (r *ProgramReader) Read() (*Program, error) {
	r.offset = 0
	r.path = []string{"program"}
	r.last = nil

	if err := r.readHeader(); err != nil {
		return nil, err
	}
	if err := r.readSource(); err != nil {
		return nil, err
	}

	r.push("count")
	count, err := r.readInt('#')
	if err == nil {
		err = r.expect('\n')
	}
	r.pop()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, r.fail(fmt.Errorf("%w: missing instruction count", ErrBadTerminator))
	}

	p := NewProgram(r.source)
	// An instruction record is at least 11 bytes long.
	p.Instructions = make([]Instruction, 0, min(count, (len(r.data)-r.offset)/11+1))
	for i := 0; i < count; i++ {
		in, err := r.readInstruction(i)
		if err != nil {
			return nil, err
		}
		p.Instructions = append(p.Instructions, in)
	}
	if r.offset != len(r.data) {
		return nil, r.fail(ErrTrailingData)
	}
	if err := p.ResolveJumps(); err != nil {
		return nil, r.fail(err)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Program Load Functions
// ---------------------------------------------------------------------------

// Decode parses a serialized program. Only the canonical form the encoder
// writes is accepted, so re-encoding a decoded program reproduces its input.
func Decode(data []byte) (*Program, error) {
	return NewProgramReaderFromBytes(data).Read()
}

// LoadProgram reads a serialized program from a file.
func LoadProgram(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open program file: %w", err)
	}
	defer f.Close()

	return LoadProgramFrom(f)
}

// LoadProgramFrom reads a serialized program from an io.Reader.
func LoadProgramFrom(in io.Reader) (*Program, error) {
	r, err := NewProgramReader(in)
	if err != nil {
		return nil, err
	}
	return r.Read()
}
