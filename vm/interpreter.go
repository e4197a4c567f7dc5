package vm

import (
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("stencil.vm")

// MaxRenderDepth bounds how deeply render tags may nest at run time.
const MaxRenderDepth = 64

// Templates maps template names to compiled programs for render tags.
type Templates map[string]*Program

// ---------------------------------------------------------------------------
// loopFrame: Execution state for an active for loop
// ---------------------------------------------------------------------------

// loopFrame tracks one loop that has not been exhausted yet.
type loopFrame struct {
	reg  Register // register receiving each element
	body int      // index of the first instruction of the loop body
	seq  *Iter    // remaining elements
}

// ---------------------------------------------------------------------------
// Renderer: Resumable bytecode execution
// ---------------------------------------------------------------------------

// Renderer executes a program and produces its output one chunk at a time.
// It follows the bufio.Scanner pattern: call Next until it returns false,
// read each chunk with Chunk, then check Err.
type Renderer struct {
	program   *Program
	templates Templates
	depth     int

	pc    int
	regs  [PoolSize]Value
	vars  map[string]Value
	loops []loopFrame

	// Active sub-template; drained before the program counter advances
	sub   *Renderer
	subPC int

	chunk string
	err   error
	done  bool
}

// Render starts rendering p with data bound to the variable "data".
// Nothing is executed until the first call to Next.
func (p *Program) Render(data Value, templates Templates) *Renderer {
	return p.render(data, templates, 0)
}

func (p *Program) render(data Value, templates Templates, depth int) *Renderer {
	if data == nil {
		data = Nil
	}
	r := &Renderer{
		program:   p,
		templates: templates,
		depth:     depth,
		vars:      map[string]Value{"data": data},
	}
	for i := range r.regs {
		r.regs[i] = Nil
	}
	return r
}

// RenderString renders p completely and returns the output.
func (p *Program) RenderString(data Value, templates Templates) (string, error) {
	var sb strings.Builder
	err := p.RenderTo(&sb, data, templates)
	return sb.String(), err
}

// RenderTo renders p completely into w. Output produced before a failure
// has already been written when the error is returned.
func (p *Program) RenderTo(w io.Writer, data Value, templates Templates) error {
	r := p.Render(data, templates)
	for r.Next() {
		if _, err := io.WriteString(w, r.Chunk()); err != nil {
			return err
		}
	}
	return r.Err()
}

// Next advances to the next chunk of output. It returns false when the
// output is exhausted or rendering failed.
func (r *Renderer) Next() bool {
	if r.done {
		return false
	}
	for {
		if r.sub != nil {
			if r.sub.Next() {
				r.chunk = r.sub.chunk
				return true
			}
			if err := r.sub.Err(); err != nil {
				return r.fail(r.subPC, err)
			}
			r.sub = nil
			continue
		}
		if r.pc >= len(r.program.Instructions) {
			r.done = true
			r.chunk = ""
			return false
		}
		pc := r.pc
		r.pc++
		emitted, err := r.run(pc)
		if err != nil {
			return r.fail(pc, err)
		}
		if emitted {
			return true
		}
	}
}

// Chunk returns the chunk produced by the last successful call to Next.
func (r *Renderer) Chunk() string {
	return r.chunk
}

// Err returns the error that stopped rendering, if any.
func (r *Renderer) Err() error {
	return r.err
}

// LoopDepth returns the number of active loops of this renderer.
func (r *Renderer) LoopDepth() int {
	return len(r.loops)
}

// All returns an iterator over the remaining chunks. A failure is yielded
// once as the final pair.
func (r *Renderer) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for r.Next() {
			if !yield(r.Chunk(), nil) {
				return
			}
		}
		if err := r.Err(); err != nil {
			yield("", err)
		}
	}
}

func (r *Renderer) fail(pc int, err error) bool {
	r.err = &RenderError{Location: r.program.Instructions[pc].Location, PC: pc, Err: err}
	r.done = true
	r.chunk = ""
	r.sub = nil
	return false
}

// run executes one instruction. A panic inside it becomes an error so that
// a faulty template cannot take down its caller.
func (r *Renderer) run(pc int) (emitted bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("instruction %d of %s panicked: %v", pc, r.program.Instructions[pc].Op, p)
			emitted, err = false, fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return r.step(pc)
}

// jump continues execution after the instruction's jump target.
func (r *Renderer) jump(in *Instruction) error {
	if in.Jump < 0 {
		return fmt.Errorf("%w: %s without resolved jump", ErrUnbalancedBlocks, in.Op)
	}
	r.pc = in.Jump + 1
	return nil
}

// step executes the instruction at pc. It reports whether a chunk was
// produced.
func (r *Renderer) step(pc int) (bool, error) {
	in := &r.program.Instructions[pc]
	regs := &r.regs

	switch in.Op {
	// Output
	case OpText:
		if in.Location == nil {
			return false, ErrMissingLocation
		}
		r.chunk = in.Location.Code()
		return true, nil
	case OpPrint:
		r.chunk = ToString(regs[in.R1])
		return true, nil
	case OpPrintX:
		r.chunk = XMLEscape(ToString(regs[in.R1]))
		return true, nil

	// Loads
	case OpLoadNone:
		regs[in.R1] = Nil
	case OpLoadFalse:
		regs[in.R1] = Bool(false)
	case OpLoadTrue:
		regs[in.R1] = Bool(true)
	case OpLoadInt:
		n, err := strconv.ParseInt(in.Arg, 10, 64)
		if err != nil {
			return false, fmt.Errorf("%w: int literal %q", ErrBadArgument, in.Arg)
		}
		regs[in.R1] = Int(n)
	case OpLoadFloat:
		f, err := strconv.ParseFloat(in.Arg, 64)
		if err != nil {
			return false, fmt.Errorf("%w: float literal %q", ErrBadArgument, in.Arg)
		}
		regs[in.R1] = Float(f)
	case OpLoadStr:
		regs[in.R1] = Str(in.Arg)
	case OpLoadVar:
		v, ok := r.vars[in.Arg]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUndefinedVariable, in.Arg)
		}
		regs[in.R1] = v

	// Variables
	case OpStoreVar:
		r.vars[in.Arg] = regs[in.R1]
	case OpAddVar, OpSubVar, OpMulVar, OpTrueDivVar, OpFloorDivVar, OpModVar:
		cur, ok := r.vars[in.Arg]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUndefinedVariable, in.Arg)
		}
		v, err := augmentedOps[in.Op](cur, regs[in.R1])
		if err != nil {
			return false, err
		}
		r.vars[in.Arg] = v
	case OpDelVar:
		if _, ok := r.vars[in.Arg]; !ok {
			return false, fmt.Errorf("%w: %s", ErrUndefinedVariable, in.Arg)
		}
		delete(r.vars, in.Arg)

	// Access
	case OpGetAttr:
		return false, r.set(in.R1, func() (Value, error) { return GetAttr(regs[in.R2], in.Arg) })
	case OpGetItem:
		return false, r.set(in.R1, func() (Value, error) { return GetItem(regs[in.R2], regs[in.R3]) })
	case OpGetSlice12:
		return false, r.set(in.R1, func() (Value, error) { return GetSlice(regs[in.R2], regs[in.R3], regs[in.R4]) })
	case OpGetSlice1:
		return false, r.set(in.R1, func() (Value, error) { return GetSlice(regs[in.R2], regs[in.R3], nil) })
	case OpGetSlice2:
		return false, r.set(in.R1, func() (Value, error) { return GetSlice(regs[in.R2], nil, regs[in.R3]) })
	case OpGetSlice:
		return false, r.set(in.R1, func() (Value, error) { return GetSlice(regs[in.R2], nil, nil) })

	// Operators
	case OpNot:
		regs[in.R1] = Bool(!Truth(regs[in.R2]))
	case OpNeg:
		return false, r.set(in.R1, func() (Value, error) { return Neg(regs[in.R2]) })
	case OpContains, OpNotContains:
		ok, err := Contains(regs[in.R2], regs[in.R3])
		if err != nil {
			return false, err
		}
		regs[in.R1] = Bool(ok == (in.Op == OpContains))
	case OpEquals:
		regs[in.R1] = Bool(Equal(regs[in.R2], regs[in.R3]))
	case OpNotEquals:
		regs[in.R1] = Bool(!Equal(regs[in.R2], regs[in.R3]))
	case OpLT, OpLE, OpGT, OpGE:
		c, err := Compare(in.Op.Name(), regs[in.R2], regs[in.R3])
		if err != nil {
			return false, err
		}
		regs[in.R1] = Bool(ordered(in.Op, c))
	case OpAnd:
		regs[in.R1] = Bool(Truth(regs[in.R2]) && Truth(regs[in.R3]))
	case OpOr:
		regs[in.R1] = Bool(Truth(regs[in.R2]) || Truth(regs[in.R3]))
	case OpAdd, OpSub, OpMul, OpFloorDiv, OpTrueDiv, OpMod:
		return false, r.set(in.R1, func() (Value, error) { return binaryOps[in.Op](regs[in.R2], regs[in.R3]) })

	// Calls
	case OpCallFunc0:
		return false, r.set(in.R1, func() (Value, error) { return CallFunction(in.Arg) })
	case OpCallFunc1:
		return false, r.set(in.R1, func() (Value, error) { return CallFunction(in.Arg, regs[in.R2]) })
	case OpCallFunc2:
		return false, r.set(in.R1, func() (Value, error) { return CallFunction(in.Arg, regs[in.R2], regs[in.R3]) })
	case OpCallFunc3:
		return false, r.set(in.R1, func() (Value, error) {
			return CallFunction(in.Arg, regs[in.R2], regs[in.R3], regs[in.R4])
		})
	case OpCallMeth0:
		return false, r.set(in.R1, func() (Value, error) { return CallMethod(in.Arg, regs[in.R2]) })
	case OpCallMeth1:
		return false, r.set(in.R1, func() (Value, error) { return CallMethod(in.Arg, regs[in.R2], regs[in.R3]) })
	case OpCallMeth2:
		return false, r.set(in.R1, func() (Value, error) {
			return CallMethod(in.Arg, regs[in.R2], regs[in.R3], regs[in.R4])
		})
	case OpCallMeth3:
		return false, r.set(in.R1, func() (Value, error) {
			return CallMethod(in.Arg, regs[in.R2], regs[in.R3], regs[in.R4], regs[in.R5])
		})

	// Control flow
	case OpIf:
		if !Truth(regs[in.R1]) {
			return false, r.jump(in)
		}
	case OpElse:
		return false, r.jump(in)
	case OpEndIf:
	case OpFor:
		seq, err := Iterate(regs[in.R2])
		if err != nil {
			return false, err
		}
		v, ok := seq.Next()
		if !ok {
			return false, r.jump(in)
		}
		regs[in.R1] = v
		r.loops = append(r.loops, loopFrame{reg: in.R1, body: r.pc, seq: seq})
	case OpEndFor:
		if len(r.loops) == 0 {
			return false, fmt.Errorf("%w: endfor without active loop", ErrUnbalancedBlocks)
		}
		top := &r.loops[len(r.loops)-1]
		if v, ok := top.seq.Next(); ok {
			regs[top.reg] = v
			r.pc = top.body
		} else {
			r.loops = r.loops[:len(r.loops)-1]
		}
	case OpRender:
		p, ok := r.templates[in.Arg]
		if !ok || p == nil {
			return false, fmt.Errorf("%w: %s", ErrUnknownTemplate, in.Arg)
		}
		if r.depth+1 > MaxRenderDepth {
			return false, fmt.Errorf("%w: %s", ErrRenderDepth, in.Arg)
		}
		log.Debugf("render %s at depth %d", in.Arg, r.depth+1)
		r.sub = p.render(regs[in.R1], r.templates, r.depth+1)
		r.subPC = pc

	default:
		panic(fmt.Sprintf("vm: unknown opcode %s at instruction %d", in.Op, pc))
	}
	return false, nil
}

// set stores the result of fn into reg.
func (r *Renderer) set(reg Register, fn func() (Value, error)) error {
	v, err := fn()
	if err != nil {
		return err
	}
	r.regs[reg] = v
	return nil
}

var binaryOps = map[Opcode]func(a, b Value) (Value, error){
	OpAdd:      Add,
	OpSub:      Sub,
	OpMul:      Mul,
	OpFloorDiv: FloorDiv,
	OpTrueDiv:  TrueDiv,
	OpMod:      Mod,
}

var augmentedOps = map[Opcode]func(a, b Value) (Value, error){
	OpAddVar:      Add,
	OpSubVar:      Sub,
	OpMulVar:      Mul,
	OpTrueDivVar:  TrueDiv,
	OpFloorDivVar: FloorDiv,
	OpModVar:      Mod,
}

func ordered(op Opcode, c int) bool {
	switch op {
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpGT:
		return c > 0
	default:
		return c >= 0
	}
}
