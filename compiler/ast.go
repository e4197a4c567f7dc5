package compiler

import "github.com/chazu/stencil/vm"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for template tags
// ---------------------------------------------------------------------------

// Span is a half-open range of byte offsets in the template source.
type Span struct {
	Start int
	End   int
}

// Node is the interface implemented by all AST nodes. Compile emits the
// node's instructions into p and returns the register holding its value,
// or vm.NoRegister for statements.
type Node interface {
	Span() Span
	Compile(p *vm.Program, regs *Registers, loc *vm.Location) vm.Register
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NoneLiteral represents None.
type NoneLiteral struct {
	SpanVal Span
}

func (n *NoneLiteral) Span() Span { return n.SpanVal }
func (n *NoneLiteral) node()      {}
func (n *NoneLiteral) expr()      {}

// BoolLiteral represents True or False.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// Variable represents a variable reference.
type Variable struct {
	SpanVal Span
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// UnaryExpr represents "not x" or "-x". Op is the opcode mnemonic.
type UnaryExpr struct {
	SpanVal Span
	Op      string
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr represents a binary operator. Op is the opcode mnemonic
// ("add", "contains", "lt", ...).
type BinaryExpr struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// AttrExpr represents obj.name.
type AttrExpr struct {
	SpanVal Span
	Object  Expr
	Name    string
}

func (n *AttrExpr) Span() Span { return n.SpanVal }
func (n *AttrExpr) node()      {}
func (n *AttrExpr) expr()      {}

// ItemExpr represents obj[index].
type ItemExpr struct {
	SpanVal Span
	Object  Expr
	Index   Expr
}

func (n *ItemExpr) Span() Span { return n.SpanVal }
func (n *ItemExpr) node()      {}
func (n *ItemExpr) expr()      {}

// SliceExpr represents obj[start:stop]. Start and Stop may be nil.
type SliceExpr struct {
	SpanVal Span
	Object  Expr
	Start   Expr
	Stop    Expr
}

func (n *SliceExpr) Span() Span { return n.SpanVal }
func (n *SliceExpr) node()      {}
func (n *SliceExpr) expr()      {}

// CallExpr represents a call of a built-in function.
type CallExpr struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// MethodCallExpr represents obj.name(args).
type MethodCallExpr struct {
	SpanVal  Span
	Receiver Expr
	Name     string
	Args     []Expr
}

func (n *MethodCallExpr) Span() Span { return n.SpanVal }
func (n *MethodCallExpr) node()      {}
func (n *MethodCallExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Text represents a run of literal template text.
type Text struct {
	SpanVal Span
}

func (n *Text) Span() Span { return n.SpanVal }
func (n *Text) node()      {}

// Print represents <?print expr?>; Escape selects <?printx?>.
type Print struct {
	SpanVal Span
	Value   Expr
	Escape  bool
}

func (n *Print) Span() Span { return n.SpanVal }
func (n *Print) node()      {}

// Assign represents "name = expr".
type Assign struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}

// AugAssign represents "name op= expr". Op is the operator mnemonic.
type AugAssign struct {
	SpanVal Span
	Op      string
	Name    string
	Value   Expr
}

func (n *AugAssign) Span() Span { return n.SpanVal }
func (n *AugAssign) node()      {}

// Delete represents "del name".
type Delete struct {
	SpanVal Span
	Name    string
}

func (n *Delete) Span() Span { return n.SpanVal }
func (n *Delete) node()      {}

// For represents a loop header binding one variable per element.
type For struct {
	SpanVal   Span
	Var       string
	Container Expr
}

func (n *For) Span() Span { return n.SpanVal }
func (n *For) node()      {}

// ForPair represents a loop header unpacking each element into two
// variables.
type ForPair struct {
	SpanVal   Span
	Vars      [2]string
	Container Expr
}

func (n *ForPair) Span() Span { return n.SpanVal }
func (n *ForPair) node()      {}

// If represents a conditional header (also the test of an elif).
type If struct {
	SpanVal Span
	Cond    Expr
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}

// Marker is a block marker without operands: else, endif or endfor.
type Marker struct {
	SpanVal Span
	Op      vm.Opcode
}

func (n *Marker) Span() Span { return n.SpanVal }
func (n *Marker) node()      {}

// Render represents <?render name(expr)?>.
type Render struct {
	SpanVal Span
	Name    string
	Arg     Expr
}

func (n *Render) Span() Span { return n.SpanVal }
func (n *Render) node()      {}
