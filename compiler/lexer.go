package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/stencil/vm"
)

// ---------------------------------------------------------------------------
// Tag splitting
// ---------------------------------------------------------------------------

const (
	tagOpen  = "<?"
	tagClose = "?>"
)

// SplitTags cuts a template into literal text runs and tags. Text runs get
// a location with an empty type; tags get their type and the span of the
// trimmed code between the type and the closing delimiter.
func SplitTags(source string) ([]*vm.Location, error) {
	var locs []*vm.Location
	pos := 0
	for pos < len(source) {
		start := strings.Index(source[pos:], tagOpen)
		if start < 0 {
			locs = append(locs, textLocation(source, pos, len(source)))
			break
		}
		start += pos
		if start > pos {
			locs = append(locs, textLocation(source, pos, start))
		}

		typeStart := start + len(tagOpen)
		typeEnd := typeStart
		for typeEnd < len(source) && isLetter(rune(source[typeEnd])) {
			typeEnd++
		}

		end := strings.Index(source[typeEnd:], tagClose)
		if end < 0 {
			loc := &vm.Location{
				Source:    source,
				Type:      source[typeStart:typeEnd],
				StartTag:  start,
				EndTag:    len(source),
				StartCode: typeEnd,
				EndCode:   len(source),
			}
			return nil, &ParseError{Location: loc, Offset: start, Message: "unterminated tag"}
		}
		end += typeEnd

		codeStart, codeEnd := typeEnd, end
		for codeStart < codeEnd && isSpace(source[codeStart]) {
			codeStart++
		}
		for codeEnd > codeStart && isSpace(source[codeEnd-1]) {
			codeEnd--
		}
		locs = append(locs, &vm.Location{
			Source:    source,
			Type:      source[typeStart:typeEnd],
			StartTag:  start,
			EndTag:    end + len(tagClose),
			StartCode: codeStart,
			EndCode:   codeEnd,
		})
		pos = end + len(tagClose)
	}
	return locs, nil
}

func textLocation(source string, start, end int) *vm.Location {
	return &vm.Location{
		Source:    source,
		StartTag:  start,
		EndTag:    end,
		StartCode: start,
		EndCode:   end,
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for tag code
// ---------------------------------------------------------------------------

// Lexer tokenizes the code of a single tag.
type Lexer struct {
	input   string
	base    int  // offset of input within the template source
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
}

// NewLexer creates a lexer for code that starts at byte offset base of the
// template source.
func NewLexer(input string, base int) *Lexer {
	l := &Lexer{input: input, base: base}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) token(t TokenType, start int) Token {
	return Token{Type: t, Literal: l.input[start:l.pos], Pos: l.base + start}
}

func (l *Lexer) errorToken(start int, format string, args ...any) Token {
	return Token{Type: TokenError, Literal: fmt.Sprintf(format, args...), Pos: l.base + start}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	for unicode.IsSpace(l.ch) {
		l.readChar()
	}

	start := l.pos
	switch {
	case l.ch == 0 && l.pos >= len(l.input):
		return Token{Type: TokenEOF, Pos: l.base + l.pos}

	case l.ch == '\'' || l.ch == '"':
		return l.readString(start)

	case isDigit(l.ch):
		return l.readNumber(start)

	case l.ch == '.' && isDigit(l.peekChar()):
		return l.readNumber(start)

	case isLetter(l.ch) || l.ch == '_':
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		tok := l.token(TokenIdentifier, start)
		if t, ok := reservedWords[tok.Literal]; ok {
			tok.Type = t
		}
		return tok
	}

	ch := l.ch
	l.readChar()
	switch ch {
	case '(':
		return l.token(TokenLParen, start)
	case ')':
		return l.token(TokenRParen, start)
	case '[':
		return l.token(TokenLBracket, start)
	case ']':
		return l.token(TokenRBracket, start)
	case ',':
		return l.token(TokenComma, start)
	case '.':
		return l.token(TokenPeriod, start)
	case ':':
		return l.token(TokenColon, start)
	case '+':
		return l.withAssign(start, TokenPlus, TokenPlusAssign)
	case '-':
		return l.withAssign(start, TokenMinus, TokenMinusAssign)
	case '*':
		return l.withAssign(start, TokenStar, TokenStarAssign)
	case '%':
		return l.withAssign(start, TokenPercent, TokenModAssign)
	case '/':
		if l.ch == '/' {
			l.readChar()
			return l.withAssign(start, TokenSlashSlash, TokenFloorAssign)
		}
		return l.withAssign(start, TokenSlash, TokenSlashAssign)
	case '=':
		return l.withAssign(start, TokenAssign, TokenEQ)
	case '<':
		return l.withAssign(start, TokenLT, TokenLE)
	case '>':
		return l.withAssign(start, TokenGT, TokenGE)
	case '!':
		if l.ch == '=' {
			l.readChar()
			return l.token(TokenNE, start)
		}
	}
	return l.errorToken(start, "unexpected character: %q", ch)
}

// withAssign returns withEq if the next character is '=', else plain.
func (l *Lexer) withAssign(start int, plain, withEq TokenType) Token {
	if l.ch == '=' {
		l.readChar()
		return l.token(withEq, start)
	}
	return l.token(plain, start)
}

// readNumber reads an integer or float literal. Integers may carry a
// 0x, 0o or 0b prefix.
func (l *Lexer) readNumber(start int) Token {
	if l.ch == '0' {
		switch l.peekChar() {
		case 'x', 'X', 'o', 'O', 'b', 'B':
			l.readChar()
			l.readChar()
			for isHexDigit(l.ch) || l.ch == '_' {
				l.readChar()
			}
			tok := l.token(TokenInteger, start)
			if _, err := strconv.ParseInt(tok.Literal, 0, 64); err != nil {
				return l.errorToken(start, "invalid integer literal %q", tok.Literal)
			}
			return tok
		}
	}

	isFloat := false
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		save, saveRead, saveCh := l.pos, l.readPos, l.ch
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if isDigit(l.ch) {
			isFloat = true
			for isDigit(l.ch) {
				l.readChar()
			}
		} else {
			l.pos, l.readPos, l.ch = save, saveRead, saveCh
		}
	}

	if isFloat {
		tok := l.token(TokenFloat, start)
		if _, err := strconv.ParseFloat(tok.Literal, 64); err != nil {
			return l.errorToken(start, "invalid float literal %q", tok.Literal)
		}
		return tok
	}
	tok := l.token(TokenInteger, start)
	if _, err := strconv.ParseInt(tok.Literal, 10, 64); err != nil {
		return l.errorToken(start, "integer literal %s out of range", tok.Literal)
	}
	return tok
}

// readString reads a quoted string with backslash escapes. The token's
// literal is the decoded value.
func (l *Lexer) readString(start int) Token {
	quote := l.ch
	l.readChar()

	var sb strings.Builder
	for {
		switch {
		case l.ch == 0 && l.pos >= len(l.input):
			return l.errorToken(start, "unterminated string")
		case l.ch == quote:
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: l.base + start}
		case l.ch == '\\':
			escStart := l.pos
			l.readChar()
			if !l.readEscape(&sb) {
				return l.errorToken(escStart, "invalid escape sequence")
			}
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
}

// readEscape decodes the escape sequence after a backslash.
func (l *Lexer) readEscape(sb *strings.Builder) bool {
	simple := map[rune]rune{
		'\\': '\\', '\'': '\'', '"': '"', 'n': '\n', 't': '\t',
		'r': '\r', 'f': '\f', 'b': '\b', 'a': '\a', '0': 0,
	}
	if r, ok := simple[l.ch]; ok {
		sb.WriteRune(r)
		l.readChar()
		return true
	}
	digits := map[rune]int{'x': 2, 'u': 4, 'U': 8}[l.ch]
	if digits == 0 {
		return false
	}
	l.readChar()
	if l.pos+digits > len(l.input) {
		return false
	}
	hex := l.input[l.pos : l.pos+digits]
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || !utf8.ValidRune(rune(n)) {
		return false
	}
	sb.WriteRune(rune(n))
	for i := 0; i < digits; i++ {
		l.readChar()
	}
	return true
}

func isLetter(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F'
}
