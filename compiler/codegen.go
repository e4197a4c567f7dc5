package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/stencil/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to register bytecode
// ---------------------------------------------------------------------------

// Statement is one parsed template fragment with its source location.
type Statement struct {
	Node     Node
	Location *vm.Location
}

// Generate compiles parsed statements into a program and resolves its
// jumps. Statements must come from Parse, which guarantees balanced
// blocks; an unbalanced list panics.
func Generate(source string, stmts []Statement) *vm.Program {
	p := vm.NewProgram(source)
	regs := NewRegisters()
	for _, st := range stmts {
		if r := st.Node.Compile(p, regs, st.Location); r != vm.NoRegister {
			regs.Free(r)
		}
		if n := regs.InUse(); n != 0 {
			panic(fmt.Sprintf("compiler: %d registers leaked at %s", n, st.Location))
		}
	}
	if err := p.ResolveJumps(); err != nil {
		panic(fmt.Sprintf("compiler: %v", err))
	}
	return p
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (n *NoneLiteral) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := regs.Alloc()
	p.Emit(vm.OpLoadNone, "", loc, r)
	return r
}

func (n *BoolLiteral) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := regs.Alloc()
	if n.Value {
		p.Emit(vm.OpLoadTrue, "", loc, r)
	} else {
		p.Emit(vm.OpLoadFalse, "", loc, r)
	}
	return r
}

func (n *IntLiteral) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := regs.Alloc()
	p.Emit(vm.OpLoadInt, strconv.FormatInt(n.Value, 10), loc, r)
	return r
}

func (n *FloatLiteral) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := regs.Alloc()
	p.Emit(vm.OpLoadFloat, strconv.FormatFloat(n.Value, 'g', -1, 64), loc, r)
	return r
}

func (n *StringLiteral) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := regs.Alloc()
	p.Emit(vm.OpLoadStr, n.Value, loc, r)
	return r
}

func (n *Variable) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := regs.Alloc()
	p.Emit(vm.OpLoadVar, n.Name, loc, r)
	return r
}

// Unary operators work in place.
func (n *UnaryExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Operand.Compile(p, regs, loc)
	p.Emit(vm.MustOpcode(n.Op), "", loc, r, r)
	return r
}

// Binary operators leave the result in the left operand's register.
func (n *BinaryExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r1 := n.Left.Compile(p, regs, loc)
	r2 := n.Right.Compile(p, regs, loc)
	p.Emit(vm.MustOpcode(n.Op), "", loc, r1, r1, r2)
	regs.Free(r2)
	return r1
}

func (n *AttrExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Object.Compile(p, regs, loc)
	p.Emit(vm.OpGetAttr, n.Name, loc, r, r)
	return r
}

func (n *ItemExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r1 := n.Object.Compile(p, regs, loc)
	r2 := n.Index.Compile(p, regs, loc)
	p.Emit(vm.OpGetItem, "", loc, r1, r1, r2)
	regs.Free(r2)
	return r1
}

func (n *SliceExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r1 := n.Object.Compile(p, regs, loc)
	switch {
	case n.Start != nil && n.Stop != nil:
		r2 := n.Start.Compile(p, regs, loc)
		r3 := n.Stop.Compile(p, regs, loc)
		p.Emit(vm.OpGetSlice12, "", loc, r1, r1, r2, r3)
		regs.Free(r3)
		regs.Free(r2)
	case n.Start != nil:
		r2 := n.Start.Compile(p, regs, loc)
		p.Emit(vm.OpGetSlice1, "", loc, r1, r1, r2)
		regs.Free(r2)
	case n.Stop != nil:
		r2 := n.Stop.Compile(p, regs, loc)
		p.Emit(vm.OpGetSlice2, "", loc, r1, r1, r2)
		regs.Free(r2)
	default:
		p.Emit(vm.OpGetSlice, "", loc, r1, r1)
	}
	return r1
}

// A called function's result goes into its first argument's register, or a
// fresh one without arguments.
func (n *CallExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	args := make([]vm.Register, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.Compile(p, regs, loc)
	}
	var result vm.Register
	if len(args) > 0 {
		result = args[0]
	} else {
		result = regs.Alloc()
	}
	operands := append([]vm.Register{result}, args...)
	p.Emit(vm.CallFuncOpcode(len(args)), n.Name, loc, operands...)
	for i := len(args) - 1; i >= 1; i-- {
		regs.Free(args[i])
	}
	return result
}

func (n *MethodCallExpr) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	recv := n.Receiver.Compile(p, regs, loc)
	operands := []vm.Register{recv, recv}
	for _, a := range n.Args {
		operands = append(operands, a.Compile(p, regs, loc))
	}
	p.Emit(vm.CallMethOpcode(len(n.Args)), n.Name, loc, operands...)
	for i := len(operands) - 1; i >= 2; i-- {
		regs.Free(operands[i])
	}
	return recv
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (n *Text) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	p.Emit(vm.OpText, "", loc)
	return vm.NoRegister
}

func (n *Print) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Value.Compile(p, regs, loc)
	op := vm.OpPrint
	if n.Escape {
		op = vm.OpPrintX
	}
	p.Emit(op, "", loc, r)
	regs.Free(r)
	return vm.NoRegister
}

func (n *Assign) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Value.Compile(p, regs, loc)
	p.Emit(vm.OpStoreVar, n.Name, loc, r)
	regs.Free(r)
	return vm.NoRegister
}

func (n *AugAssign) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Value.Compile(p, regs, loc)
	p.Emit(vm.AugmentedOpcode(n.Op), n.Name, loc, r)
	regs.Free(r)
	return vm.NoRegister
}

func (n *Delete) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	p.Emit(vm.OpDelVar, n.Name, loc)
	return vm.NoRegister
}

func (n *For) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	rc := n.Container.Compile(p, regs, loc)
	ri := regs.Alloc()
	p.Emit(vm.OpFor, "", loc, ri, rc)
	p.Emit(vm.OpStoreVar, n.Var, loc, ri)
	regs.Free(ri)
	regs.Free(rc)
	return vm.NoRegister
}

// Each element is projected to its items 0 and 1 before being stored.
func (n *ForPair) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	rc := n.Container.Compile(p, regs, loc)
	ri := regs.Alloc()
	p.Emit(vm.OpFor, "", loc, ri, rc)
	for i, name := range n.Vars {
		rii := regs.Alloc()
		p.Emit(vm.OpLoadInt, strconv.Itoa(i), loc, rii)
		p.Emit(vm.OpGetItem, "", loc, rii, ri, rii)
		p.Emit(vm.OpStoreVar, name, loc, rii)
		regs.Free(rii)
	}
	regs.Free(ri)
	regs.Free(rc)
	return vm.NoRegister
}

func (n *If) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Cond.Compile(p, regs, loc)
	p.Emit(vm.OpIf, "", loc, r)
	regs.Free(r)
	return vm.NoRegister
}

func (n *Marker) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	p.Emit(n.Op, "", loc)
	return vm.NoRegister
}

func (n *Render) Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register {
	r := n.Arg.Compile(p, regs, loc)
	p.Emit(vm.OpRender, n.Name, loc, r)
	regs.Free(r)
	return vm.NoRegister
}

// ---------------------------------------------------------------------------
// Register pressure
// ---------------------------------------------------------------------------

// pressure returns the peak number of registers compiling n holds at once.
// It mirrors the allocation order of the Compile methods.
func pressure(n Node) int {
	switch n := n.(type) {
	case *NoneLiteral, *BoolLiteral, *IntLiteral, *FloatLiteral, *StringLiteral, *Variable:
		return 1
	case *UnaryExpr:
		return pressure(n.Operand)
	case *BinaryExpr:
		return max(pressure(n.Left), 1+pressure(n.Right))
	case *AttrExpr:
		return pressure(n.Object)
	case *ItemExpr:
		return max(pressure(n.Object), 1+pressure(n.Index))
	case *SliceExpr:
		peak, live := pressure(n.Object), 1
		for _, bound := range []Expr{n.Start, n.Stop} {
			if bound != nil {
				peak = max(peak, live+pressure(bound))
				live++
			}
		}
		return peak
	case *CallExpr:
		peak := 1
		for i, a := range n.Args {
			peak = max(peak, i+pressure(a))
		}
		return peak
	case *MethodCallExpr:
		peak := pressure(n.Receiver)
		for i, a := range n.Args {
			peak = max(peak, i+1+pressure(a))
		}
		return peak
	case *Print:
		return pressure(n.Value)
	case *Assign:
		return pressure(n.Value)
	case *AugAssign:
		return pressure(n.Value)
	case *For:
		return max(pressure(n.Container), 2)
	case *ForPair:
		return max(pressure(n.Container), 3)
	case *If:
		return pressure(n.Cond)
	case *Render:
		return pressure(n.Arg)
	}
	return 0
}
