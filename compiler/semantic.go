package compiler

import (
	"fmt"

	"github.com/chazu/stencil/vm"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: Pre-render checks on parsed templates
// ---------------------------------------------------------------------------

// Warning is a semantic problem that does not stop compilation. The
// renderer would report the same condition as a run-time error, if the
// offending code is reached.
type Warning struct {
	Location *vm.Location
	Offset   int
	Message  string
}

// Position returns the 0-based line and column (in runes) of Offset.
func (w Warning) Position() (line, col int) {
	return position(w.Location.Source, w.Offset)
}

func (w Warning) String() string {
	line, col := w.Position()
	return fmt.Sprintf("warning: line %d, column %d: %s", line+1, col+1, w.Message)
}

// SemanticAnalyzer checks built-in names, arities, variable bindings and
// sub-template names. Templates execute top to bottom, so a variable is
// bound from its first assignment or loop header onward.
type SemanticAnalyzer struct {
	warnings []Warning

	// Known globals that are always defined
	knownGlobals map[string]bool

	// Variables bound so far
	bound map[string]bool

	// Template names accepted by render; nil disables the check
	templates map[string]bool

	loc *vm.Location
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{
		knownGlobals: map[string]bool{"data": true},
		bound:        make(map[string]bool),
	}
}

// AddKnownGlobal adds a name that is bound before rendering starts.
func (s *SemanticAnalyzer) AddKnownGlobal(name string) {
	s.knownGlobals[name] = true
}

// SetTemplates enables checking render tags against the given names.
func (s *SemanticAnalyzer) SetTemplates(names []string) {
	s.templates = make(map[string]bool, len(names))
	for _, name := range names {
		s.templates[name] = true
	}
}

// Warnings returns accumulated warnings in source order.
func (s *SemanticAnalyzer) Warnings() []Warning {
	return s.warnings
}

func (s *SemanticAnalyzer) warnAt(n Node, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{
		Location: s.loc,
		Offset:   n.Span().Start,
		Message:  fmt.Sprintf(format, args...),
	})
}

// AnalyzeStatements checks a parsed template.
func (s *SemanticAnalyzer) AnalyzeStatements(stmts []Statement) {
	for _, st := range stmts {
		s.loc = st.Location
		s.analyzeStmt(st.Node)
	}
}

func (s *SemanticAnalyzer) analyzeStmt(n Node) {
	switch st := n.(type) {
	case *Print:
		s.analyzeExpr(st.Value)
	case *Assign:
		s.analyzeExpr(st.Value)
		s.bound[st.Name] = true
	case *AugAssign:
		s.analyzeExpr(st.Value)
		s.checkBound(st, st.Name)
	case *Delete:
		s.checkBound(st, st.Name)
		delete(s.bound, st.Name)
	case *For:
		s.analyzeExpr(st.Container)
		s.bound[st.Var] = true
	case *ForPair:
		s.analyzeExpr(st.Container)
		s.bound[st.Vars[0]] = true
		s.bound[st.Vars[1]] = true
	case *If:
		s.analyzeExpr(st.Cond)
	case *Render:
		s.analyzeExpr(st.Arg)
		if s.templates != nil && !s.templates[st.Name] {
			s.warnAt(st, "unknown template %q", st.Name)
		}
	case *Text, *Marker:
		// OK
	}
}

func (s *SemanticAnalyzer) analyzeExpr(e Expr) {
	switch e := e.(type) {
	case *Variable:
		s.checkBound(e, e.Name)
	case *UnaryExpr:
		s.analyzeExpr(e.Operand)
	case *BinaryExpr:
		s.analyzeExpr(e.Left)
		s.analyzeExpr(e.Right)
	case *AttrExpr:
		s.analyzeExpr(e.Object)
	case *ItemExpr:
		s.analyzeExpr(e.Object)
		s.analyzeExpr(e.Index)
	case *SliceExpr:
		s.analyzeExpr(e.Object)
		if e.Start != nil {
			s.analyzeExpr(e.Start)
		}
		if e.Stop != nil {
			s.analyzeExpr(e.Stop)
		}
	case *CallExpr:
		for _, a := range e.Args {
			s.analyzeExpr(a)
		}
		if !vm.HasFunction(e.Name, len(e.Args)) {
			s.warnAt(e, "unknown function %s() with %d argument(s)", e.Name, len(e.Args))
		}
	case *MethodCallExpr:
		s.analyzeExpr(e.Receiver)
		for _, a := range e.Args {
			s.analyzeExpr(a)
		}
		if !vm.HasMethod(e.Name, len(e.Args)) {
			s.warnAt(e, "unknown method .%s() with %d argument(s)", e.Name, len(e.Args))
		}
	case *NoneLiteral, *BoolLiteral, *IntLiteral, *FloatLiteral, *StringLiteral:
		// OK
	}
}

func (s *SemanticAnalyzer) checkBound(n Node, name string) {
	if s.bound[name] || s.knownGlobals[name] {
		return
	}
	s.warnAt(n, "variable %q may be undefined", name)
}

// ---------------------------------------------------------------------------
// Integration with Parse
// ---------------------------------------------------------------------------

// Analyze parses source and runs semantic analysis on it. templates, when
// non-nil, lists the names render tags may refer to.
func Analyze(source string, templates []string) ([]Warning, error) {
	stmts, err := Parse(source)
	if err != nil {
		return nil, err
	}
	analyzer := NewSemanticAnalyzer()
	if templates != nil {
		analyzer.SetTemplates(templates)
	}
	analyzer.AnalyzeStatements(stmts)
	return analyzer.Warnings(), nil
}
