package compiler

import (
	"strings"
	"testing"

	"github.com/chazu/stencil/vm"
)

func TestCompileExpressionUsesOneRegister(t *testing.T) {
	exprs := []string{
		"1",
		"None",
		"'s'",
		"x",
		"-x",
		"not x",
		"a + b * c",
		"(a + b) * (c - d)",
		"a and b or not c",
		"x in y",
		"x not in y",
		"x.y.z",
		"x[1]",
		"x[1:2]",
		"x[:2]",
		"x[1:]",
		"x[:]",
		"f()",
		"len(x)",
		"range(1, 2)",
		"range(a + 1, b * 2, c)",
		"s.upper()",
		"s.split(',')",
		"s.replace(a, b)",
		"d.get(k, v).strip()[0:len(s) - 1]",
	}

	for _, code := range exprs {
		t.Run(code, func(t *testing.T) {
			e := parseExpr(t, code)
			p := vm.NewProgram("")
			regs := NewRegisters()
			r := e.Compile(p, regs, &vm.Location{})
			if !r.Valid() {
				t.Fatalf("result register %s is invalid", r)
			}
			if n := regs.InUse(); n != 1 {
				t.Errorf("%d registers in use after compiling, want 1", n)
			}
		})
	}
}

func TestCompileStatementsLeaveNoRegisters(t *testing.T) {
	src := `<?code x = 1?><?code x *= 3?><?for a, b in d.items()?><?print a?><?printx b?><?end for?><?if x?><?render r(x)?><?end?><?code del x?>`
	stmts, err := Parse(src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	regs := NewRegisters()
	p := vm.NewProgram(src)
	for _, st := range stmts {
		if r := st.Node.Compile(p, regs, st.Location); r != vm.NoRegister {
			t.Errorf("statement %T returned register %s", st.Node, r)
		}
		if regs.InUse() != 0 {
			t.Fatalf("statement %T leaked %d registers", st.Node, regs.InUse())
		}
	}
}

func TestRegistersStack(t *testing.T) {
	regs := NewRegisters()
	a := regs.Alloc()
	b := regs.Alloc()
	if a != 0 || b != 1 {
		t.Fatalf("first allocations = %s, %s; want r0, r1", a, b)
	}
	regs.Free(a)
	if c := regs.Alloc(); c != a {
		t.Errorf("most recently freed register should be reused, got %s", c)
	}
}

func TestRegistersExhaustionPanics(t *testing.T) {
	regs := NewRegisters()
	for range vm.PoolSize {
		regs.Alloc()
	}
	defer func() {
		if recover() == nil {
			t.Error("Alloc on an empty pool should panic")
		}
	}()
	regs.Alloc()
}

func TestRegistersDoubleFreePanics(t *testing.T) {
	regs := NewRegisters()
	r := regs.Alloc()
	regs.Free(r)
	defer func() {
		if recover() == nil {
			t.Error("double free should panic")
		}
	}()
	regs.Free(r)
}

func TestCompileBinaryOperandLayout(t *testing.T) {
	p, err := Compile("<?print a - b?>")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	want := []struct {
		op   vm.Opcode
		regs [5]vm.Register
		arg  string
	}{
		{vm.OpLoadVar, [5]vm.Register{0, -1, -1, -1, -1}, "a"},
		{vm.OpLoadVar, [5]vm.Register{1, -1, -1, -1, -1}, "b"},
		{vm.OpSub, [5]vm.Register{0, 0, 1, -1, -1}, ""},
		{vm.OpPrint, [5]vm.Register{0, -1, -1, -1, -1}, ""},
	}
	if p.Len() != len(want) {
		t.Fatalf("got %d instructions:\n%s", p.Len(), p.Disassemble())
	}
	for i, w := range want {
		in := p.Instructions[i]
		if in.Op != w.op || in.Registers() != w.regs || in.Arg != w.arg {
			t.Errorf("instruction %d = %s %v %q, want %s %v %q",
				i, in.Op, in.Registers(), in.Arg, w.op, w.regs, w.arg)
		}
	}
}

func TestCompileCallOperandLayout(t *testing.T) {
	p := MustCompile("<?print f(a, b)?><?print s.join(l)?><?print g()?>")
	var calls []vm.Instruction
	for _, in := range p.Instructions {
		if strings.HasPrefix(in.Op.Name(), "call") {
			calls = append(calls, in)
		}
	}
	if len(calls) != 3 {
		t.Fatalf("got %d calls", len(calls))
	}
	if c := calls[0]; c.Op != vm.OpCallFunc2 || c.Registers() != [5]vm.Register{0, 0, 1, -1, -1} || c.Arg != "f" {
		t.Errorf("f(a, b) = %s %v %q", c.Op, c.Registers(), c.Arg)
	}
	if c := calls[1]; c.Op != vm.OpCallMeth1 || c.Registers() != [5]vm.Register{0, 0, 1, -1, -1} || c.Arg != "join" {
		t.Errorf("s.join(l) = %s %v %q", c.Op, c.Registers(), c.Arg)
	}
	if c := calls[2]; c.Op != vm.OpCallFunc0 || c.Registers() != [5]vm.Register{0, -1, -1, -1, -1} {
		t.Errorf("g() = %s %v", c.Op, c.Registers())
	}
}

func TestCompileJumpTargets(t *testing.T) {
	p := MustCompile("<?if x?>a<?else?>b<?end if?><?for i in l?>c<?end for?>")
	ops := make([]vm.Opcode, p.Len())
	for i, in := range p.Instructions {
		ops[i] = in.Op
	}
	want := []vm.Opcode{
		vm.OpLoadVar, vm.OpIf, vm.OpText, vm.OpElse, vm.OpText, vm.OpEndIf,
		vm.OpLoadVar, vm.OpFor, vm.OpStoreVar, vm.OpText, vm.OpEndFor,
	}
	if len(ops) != len(want) {
		t.Fatalf("got %v\n%s", ops, p.Disassemble())
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("instruction %d = %s, want %s\n%s", i, ops[i], want[i], p.Disassemble())
		}
	}

	jumps := map[int]int{1: 3, 3: 5, 7: 10}
	for pc, target := range jumps {
		if got := p.Instructions[pc].Jump; got != target {
			t.Errorf("%s at %d jumps to %d, want %d", p.Instructions[pc].Op, pc, got, target)
		}
	}
}

func TestCompileSharedLocations(t *testing.T) {
	p := MustCompile("<?print a + b?>")
	first := p.Instructions[0].Location
	for i, in := range p.Instructions {
		if in.Location != first {
			t.Errorf("instruction %d has a different location", i)
		}
	}
	if first.Tag() != "<?print a + b?>" {
		t.Errorf("location tag = %q", first.Tag())
	}
}

func TestCompileForPair(t *testing.T) {
	p := MustCompile("<?for k, v in d?><?end?>")
	var names []string
	for _, in := range p.Instructions {
		if in.Op == vm.OpStoreVar {
			names = append(names, in.Arg)
		}
	}
	if strings.Join(names, ",") != "k,v" {
		t.Errorf("stored names = %v", names)
	}
}

func TestDisassemble(t *testing.T) {
	p := MustCompile("hi<?if x?><?print x?><?end?>")
	out := p.Disassemble()
	for _, want := range []string{
		"; stencil program v1",
		"text at 0",
		`text         "hi"`,
		"if           r0 -> 0005",
		"<?print?> tag at 10",
		"print        r0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
