package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/stencil/vm"
)

// ---------------------------------------------------------------------------
// Parse errors
// ---------------------------------------------------------------------------

// ParseError reports malformed template source.
type ParseError struct {
	Location *vm.Location // tag containing the error
	Offset   int          // byte offset of the error in the source
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

// Position returns the 0-based line and column (in runes) of Offset.
func (e *ParseError) Position() (line, col int) {
	return position(e.Location.Source, e.Offset)
}

func position(src string, offset int) (line, col int) {
	end := min(max(offset, 0), len(src))
	for _, r := range src[:end] {
		if r == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return line, col
}

// ---------------------------------------------------------------------------
// Template parsing
// ---------------------------------------------------------------------------

// block is an open if or for awaiting its end tag.
type block struct {
	kind    string // "if" or "for"
	loc     *vm.Location
	ifs     int // number of IF instructions opened by the if/elif chain
	hadElse bool
}

// Parse splits source into tags and parses each one, checking that blocks
// nest properly.
func Parse(source string) ([]Statement, error) {
	locs, err := SplitTags(source)
	if err != nil {
		return nil, err
	}

	var stmts []Statement
	var blocks []*block
	add := func(n Node, loc *vm.Location) {
		stmts = append(stmts, Statement{Node: n, Location: loc})
	}
	fail := func(loc *vm.Location, format string, args ...any) error {
		return &ParseError{Location: loc, Offset: loc.StartTag, Message: fmt.Sprintf(format, args...)}
	}
	top := func() *block {
		if len(blocks) == 0 {
			return nil
		}
		return blocks[len(blocks)-1]
	}

	for _, loc := range locs {
		span := Span{Start: loc.StartTag, End: loc.EndTag}
		switch loc.Type {
		case "":
			add(&Text{SpanVal: span}, loc)

		case "print", "printx":
			e, err := newParser(loc).parseExprTag()
			if err != nil {
				return nil, err
			}
			add(&Print{SpanVal: span, Value: e, Escape: loc.Type == "printx"}, loc)

		case "code":
			n, err := newParser(loc).parseCodeTag()
			if err != nil {
				return nil, err
			}
			add(n, loc)

		case "for":
			n, err := newParser(loc).parseForTag()
			if err != nil {
				return nil, err
			}
			add(n, loc)
			blocks = append(blocks, &block{kind: "for", loc: loc})

		case "if":
			e, err := newParser(loc).parseExprTag()
			if err != nil {
				return nil, err
			}
			add(&If{SpanVal: span, Cond: e}, loc)
			blocks = append(blocks, &block{kind: "if", loc: loc, ifs: 1})

		case "elif":
			b := top()
			if b == nil || b.kind != "if" {
				return nil, fail(loc, "elif outside of if")
			}
			if b.hadElse {
				return nil, fail(loc, "elif after else")
			}
			e, err := newParser(loc).parseExprTag()
			if err != nil {
				return nil, err
			}
			add(&Marker{SpanVal: span, Op: vm.OpElse}, loc)
			add(&If{SpanVal: span, Cond: e}, loc)
			b.ifs++

		case "else":
			b := top()
			if b == nil || b.kind != "if" {
				return nil, fail(loc, "else outside of if")
			}
			if b.hadElse {
				return nil, fail(loc, "duplicate else")
			}
			if loc.Code() != "" {
				return nil, fail(loc, "else takes no code")
			}
			add(&Marker{SpanVal: span, Op: vm.OpElse}, loc)
			b.hadElse = true

		case "end":
			b := top()
			if b == nil {
				return nil, fail(loc, "end without matching if or for")
			}
			switch code := loc.Code(); code {
			case "", b.kind:
			case "if", "for":
				return nil, fail(loc, "end %s closes <?%s?> at %d", code, b.kind, b.loc.StartTag)
			default:
				return nil, fail(loc, "invalid end tag %q", code)
			}
			if b.kind == "for" {
				add(&Marker{SpanVal: span, Op: vm.OpEndFor}, loc)
			} else {
				for range b.ifs {
					add(&Marker{SpanVal: span, Op: vm.OpEndIf}, loc)
				}
			}
			blocks = blocks[:len(blocks)-1]

		case "render":
			n, err := newParser(loc).parseRenderTag()
			if err != nil {
				return nil, err
			}
			add(n, loc)

		case "note":

		default:
			return nil, fail(loc, "unknown tag type %q", loc.Type)
		}
	}
	if b := top(); b != nil {
		return nil, fail(b.loc, "unclosed %s block", b.kind)
	}
	return stmts, nil
}

// Compile parses and compiles a template.
func Compile(source string) (*vm.Program, error) {
	stmts, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return Generate(source, stmts), nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *vm.Program {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for tag code
// ---------------------------------------------------------------------------

// Parser parses the code of one tag.
type Parser struct {
	lexer     *Lexer
	loc       *vm.Location
	curToken  Token
	peekToken Token
	err       *ParseError
}

func newParser(loc *vm.Location) *Parser {
	p := &Parser{
		lexer: NewLexer(loc.Code(), loc.StartCode),
		loc:   loc,
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
	if p.curToken.Type == TokenError {
		p.errorf("%s", p.curToken.Literal)
	}
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records the first parse error at the current token.
func (p *Parser) errorf(format string, args ...any) {
	if p.err != nil {
		return
	}
	p.err = &ParseError{Location: p.loc, Offset: p.curToken.Pos, Message: fmt.Sprintf(format, args...)}
}

// finish checks that all code was consumed and that n fits in the register
// file.
func (p *Parser) finish(n Node) (Node, error) {
	if p.err == nil && !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s", p.curToken)
	}
	if p.err == nil && pressure(n) > vm.PoolSize {
		p.err = &ParseError{Location: p.loc, Offset: p.loc.StartCode, Message: "expression too deeply nested"}
	}
	if p.err != nil {
		return nil, p.err
	}
	return n, nil
}

func (p *Parser) span(start int) Span {
	return Span{Start: start, End: p.curToken.Pos}
}

// ---------------------------------------------------------------------------
// Tag bodies
// ---------------------------------------------------------------------------

func (p *Parser) parseExprTag() (Expr, error) {
	e := p.parseExpr()
	n, err := p.finish(e)
	if err != nil {
		return nil, err
	}
	return n.(Expr), nil
}

// parseCodeTag parses "name = expr", "name op= expr" or "del name".
func (p *Parser) parseCodeTag() (Node, error) {
	start := p.curToken.Pos
	if p.curTokenIs(TokenDel) {
		p.nextToken()
		name := p.curToken.Literal
		p.expect(TokenIdentifier)
		return p.finish(&Delete{SpanVal: p.span(start), Name: name})
	}

	name := p.curToken.Literal
	if !p.expect(TokenIdentifier) {
		return nil, p.err
	}
	op := p.curToken.Type
	if op != TokenAssign && augmentedOps[op] == "" {
		p.errorf("expected assignment operator after %s, got %s", name, p.curToken)
		return nil, p.err
	}
	p.nextToken()
	value := p.parseExpr()
	if op == TokenAssign {
		return p.finish(&Assign{SpanVal: p.span(start), Name: name, Value: value})
	}
	return p.finish(&AugAssign{SpanVal: p.span(start), Op: augmentedOps[op], Name: name, Value: value})
}

// parseForTag parses "name in expr", "a, b in expr" or "(a, b) in expr".
func (p *Parser) parseForTag() (Node, error) {
	start := p.curToken.Pos
	var names []string
	parens := p.curTokenIs(TokenLParen)
	if parens {
		p.nextToken()
	}
	for p.err == nil {
		names = append(names, p.curToken.Literal)
		p.expect(TokenIdentifier)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if parens {
		p.expect(TokenRParen)
	}
	p.expect(TokenIn)
	container := p.parseExpr()

	switch {
	case p.err != nil:
		return nil, p.err
	case len(names) == 1 && !parens:
		return p.finish(&For{SpanVal: p.span(start), Var: names[0], Container: container})
	case len(names) == 2:
		return p.finish(&ForPair{SpanVal: p.span(start), Vars: [2]string{names[0], names[1]}, Container: container})
	}
	p.errorf("for loops bind one name or a pair of names, got %d", len(names))
	return nil, p.err
}

// parseRenderTag parses "name(expr)" where name may be dotted.
func (p *Parser) parseRenderTag() (Node, error) {
	start := p.curToken.Pos
	parts := []string{p.curToken.Literal}
	p.expect(TokenIdentifier)
	for p.err == nil && p.curTokenIs(TokenPeriod) {
		p.nextToken()
		parts = append(parts, p.curToken.Literal)
		p.expect(TokenIdentifier)
	}
	p.expect(TokenLParen)
	arg := p.parseExpr()
	p.expect(TokenRParen)
	return p.finish(&Render{SpanVal: p.span(start), Name: strings.Join(parts, "/"), Arg: arg})
}

// ---------------------------------------------------------------------------
// Expressions (lowest to highest precedence)
// ---------------------------------------------------------------------------

func (p *Parser) parseExpr() Expr {
	return p.parseOr()
}

func (p *Parser) parseOr() Expr {
	start := p.curToken.Pos
	left := p.parseAnd()
	for p.err == nil && p.curTokenIs(TokenOr) {
		p.nextToken()
		right := p.parseAnd()
		left = &BinaryExpr{SpanVal: p.span(start), Op: "or", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() Expr {
	start := p.curToken.Pos
	left := p.parseNot()
	for p.err == nil && p.curTokenIs(TokenAnd) {
		p.nextToken()
		right := p.parseNot()
		left = &BinaryExpr{SpanVal: p.span(start), Op: "and", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseNot() Expr {
	start := p.curToken.Pos
	if p.curTokenIs(TokenNot) {
		p.nextToken()
		operand := p.parseNot()
		return &UnaryExpr{SpanVal: p.span(start), Op: "not", Operand: operand}
	}
	return p.parseComparison()
}

var comparisonOps = map[TokenType]string{
	TokenEQ: "equals",
	TokenNE: "notequals",
	TokenLT: "lt",
	TokenLE: "le",
	TokenGT: "gt",
	TokenGE: "ge",
	TokenIn: "contains",
}

func (p *Parser) parseComparison() Expr {
	start := p.curToken.Pos
	left := p.parseAdditive()
	for p.err == nil {
		op, ok := comparisonOps[p.curToken.Type]
		if p.curTokenIs(TokenNot) && p.peekToken.Type == TokenIn {
			op, ok = "notcontains", true
			p.nextToken()
		}
		if !ok {
			break
		}
		p.nextToken()
		right := p.parseAdditive()
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() Expr {
	start := p.curToken.Pos
	left := p.parseMultiplicative()
	for p.err == nil {
		var op string
		switch p.curToken.Type {
		case TokenPlus:
			op = "add"
		case TokenMinus:
			op = "sub"
		default:
			return left
		}
		p.nextToken()
		right := p.parseMultiplicative()
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	start := p.curToken.Pos
	left := p.parseUnary()
	for p.err == nil {
		var op string
		switch p.curToken.Type {
		case TokenStar:
			op = "mul"
		case TokenSlash:
			op = "truediv"
		case TokenSlashSlash:
			op = "floordiv"
		case TokenPercent:
			op = "mod"
		default:
			return left
		}
		p.nextToken()
		right := p.parseUnary()
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

// parseUnary folds the sign into numeric literals.
func (p *Parser) parseUnary() Expr {
	start := p.curToken.Pos
	if !p.curTokenIs(TokenMinus) {
		return p.parsePostfix()
	}
	p.nextToken()
	operand := p.parseUnary()
	switch lit := operand.(type) {
	case *IntLiteral:
		return &IntLiteral{SpanVal: p.span(start), Value: -lit.Value}
	case *FloatLiteral:
		return &FloatLiteral{SpanVal: p.span(start), Value: -lit.Value}
	}
	return &UnaryExpr{SpanVal: p.span(start), Op: "neg", Operand: operand}
}

func (p *Parser) parsePostfix() Expr {
	start := p.curToken.Pos
	e := p.parseAtom()
	for p.err == nil {
		switch p.curToken.Type {
		case TokenPeriod:
			p.nextToken()
			name := p.curToken.Literal
			if !p.expect(TokenIdentifier) {
				return e
			}
			if p.curTokenIs(TokenLParen) {
				args := p.parseArgs()
				e = &MethodCallExpr{SpanVal: p.span(start), Receiver: e, Name: name, Args: args}
			} else {
				e = &AttrExpr{SpanVal: p.span(start), Object: e, Name: name}
			}
		case TokenLBracket:
			p.nextToken()
			e = p.parseSubscript(start, e)
		default:
			return e
		}
	}
	return e
}

// parseSubscript parses the inside of [...] after the opening bracket.
func (p *Parser) parseSubscript(start int, obj Expr) Expr {
	var first Expr
	if !p.curTokenIs(TokenColon) {
		first = p.parseExpr()
		if p.curTokenIs(TokenRBracket) {
			p.nextToken()
			return &ItemExpr{SpanVal: p.span(start), Object: obj, Index: first}
		}
	}
	p.expect(TokenColon)
	var stop Expr
	if p.err == nil && !p.curTokenIs(TokenRBracket) {
		stop = p.parseExpr()
	}
	p.expect(TokenRBracket)
	return &SliceExpr{SpanVal: p.span(start), Object: obj, Start: first, Stop: stop}
}

// parseArgs parses a parenthesized argument list.
func (p *Parser) parseArgs() []Expr {
	p.expect(TokenLParen)
	var args []Expr
	for p.err == nil && !p.curTokenIs(TokenRParen) {
		args = append(args, p.parseExpr())
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRParen)
	if p.err == nil && len(args) > vm.MaxArgs {
		p.errorf("calls take at most %d arguments, got %d", vm.MaxArgs, len(args))
	}
	return args
}

func (p *Parser) parseAtom() Expr {
	tok := p.curToken
	span := Span{Start: tok.Pos, End: tok.Pos + len(tok.Literal)}

	switch tok.Type {
	case TokenNone:
		p.nextToken()
		return &NoneLiteral{SpanVal: span}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{SpanVal: span, Value: tok.Type == TokenTrue}
	case TokenInteger:
		p.nextToken()
		base := 10
		if len(tok.Literal) > 1 && isLetter(rune(tok.Literal[1])) {
			base = 0
		}
		n, _ := strconv.ParseInt(tok.Literal, base, 64)
		return &IntLiteral{SpanVal: span, Value: n}
	case TokenFloat:
		p.nextToken()
		f, _ := strconv.ParseFloat(tok.Literal, 64)
		return &FloatLiteral{SpanVal: span, Value: f}
	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: p.span(tok.Pos), Value: tok.Literal}
	case TokenIdentifier:
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			args := p.parseArgs()
			return &CallExpr{SpanVal: p.span(tok.Pos), Name: tok.Literal, Args: args}
		}
		return &Variable{SpanVal: span, Name: tok.Literal}
	case TokenLParen:
		p.nextToken()
		e := p.parseExpr()
		p.expect(TokenRParen)
		return e
	}

	p.errorf("expected expression, got %s", tok)
	return &NoneLiteral{SpanVal: span}
}
