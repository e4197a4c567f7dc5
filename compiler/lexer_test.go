package compiler

import (
	"errors"
	"testing"
)

func TestSplitTags(t *testing.T) {
	src := "a<?print x ?>b<?end?>"
	locs, err := SplitTags(src)
	if err != nil {
		t.Fatalf("SplitTags error: %v", err)
	}
	if len(locs) != 4 {
		t.Fatalf("got %d locations, want 4", len(locs))
	}

	want := []struct {
		typ, tag, code string
	}{
		{"", "a", "a"},
		{"print", "<?print x ?>", "x"},
		{"", "b", "b"},
		{"end", "<?end?>", ""},
	}
	for i, w := range want {
		loc := locs[i]
		if loc.Type != w.typ || loc.Tag() != w.tag || loc.Code() != w.code {
			t.Errorf("loc[%d] = (%q, %q, %q), want (%q, %q, %q)",
				i, loc.Type, loc.Tag(), loc.Code(), w.typ, w.tag, w.code)
		}
		if loc.Source != src {
			t.Errorf("loc[%d] does not reference the template source", i)
		}
	}
}

func TestSplitTagsCodeSpan(t *testing.T) {
	src := "<?if  a == 1\n?>"
	locs, err := SplitTags(src)
	if err != nil {
		t.Fatalf("SplitTags error: %v", err)
	}
	loc := locs[0]
	if loc.StartTag != 0 || loc.EndTag != len(src) {
		t.Errorf("tag span = [%d,%d), want [0,%d)", loc.StartTag, loc.EndTag, len(src))
	}
	if loc.StartCode != 5 || loc.Code() != "a == 1" {
		t.Errorf("code = %q at %d, want %q at 5", loc.Code(), loc.StartCode, "a == 1")
	}
}

func TestSplitTagsEmptyAndTextOnly(t *testing.T) {
	locs, err := SplitTags("")
	if err != nil || len(locs) != 0 {
		t.Errorf("SplitTags(\"\") = %v, %v; want no locations", locs, err)
	}

	locs, err = SplitTags("plain text")
	if err != nil || len(locs) != 1 || locs[0].Type != "" {
		t.Fatalf("SplitTags(text) = %v, %v", locs, err)
	}
	if locs[0].Code() != "plain text" {
		t.Errorf("text = %q", locs[0].Code())
	}
}

func TestSplitTagsUnterminated(t *testing.T) {
	_, err := SplitTags("abc<?print x")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Offset != 3 || pe.Message != "unterminated tag" {
		t.Errorf("error = %+v", pe)
	}
}

func TestLexerTokens(t *testing.T) {
	input := `x.y(1, 2.5) [a:b] + - * / // % == != < <= > >= = += -= *= /= //= %= and or not in del None True False`
	expected := []TokenType{
		TokenIdentifier, TokenPeriod, TokenIdentifier, TokenLParen, TokenInteger, TokenComma, TokenFloat, TokenRParen,
		TokenLBracket, TokenIdentifier, TokenColon, TokenIdentifier, TokenRBracket,
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenSlashSlash, TokenPercent,
		TokenEQ, TokenNE, TokenLT, TokenLE, TokenGT, TokenGE,
		TokenAssign, TokenPlusAssign, TokenMinusAssign, TokenStarAssign, TokenSlashAssign, TokenFloorAssign, TokenModAssign,
		TokenAnd, TokenOr, TokenNot, TokenIn, TokenDel, TokenNone, TokenTrue, TokenFalse,
		TokenEOF,
	}

	l := NewLexer(input, 0)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp {
			t.Fatalf("token %d: got %s (%q), want %s", i, tok.Type, tok.Literal, exp)
		}
	}
}

func TestLexerPositionsAreAbsolute(t *testing.T) {
	l := NewLexer("ab  cd", 100)
	if tok := l.NextToken(); tok.Pos != 100 {
		t.Errorf("first token at %d, want 100", tok.Pos)
	}
	if tok := l.NextToken(); tok.Pos != 104 {
		t.Errorf("second token at %d, want 104", tok.Pos)
	}
	if tok := l.NextToken(); tok.Type != TokenEOF || tok.Pos != 106 {
		t.Errorf("EOF = %v", tok)
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
	}{
		{"42", TokenInteger},
		{"0", TokenInteger},
		{"0x1F", TokenInteger},
		{"0o17", TokenInteger},
		{"0b101", TokenInteger},
		{"3.14", TokenFloat},
		{".5", TokenFloat},
		{"1e3", TokenFloat},
		{"2.5E-2", TokenFloat},
		{"0xZZ", TokenError},
		{"99999999999999999999", TokenError},
	}
	for _, tt := range tests {
		tok := NewLexer(tt.input, 0).NextToken()
		if tok.Type != tt.typ {
			t.Errorf("%q: got %s, want %s", tt.input, tok.Type, tt.typ)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`'hello'`, "hello"},
		{`"it's"`, "it's"},
		{`'a\nb'`, "a\nb"},
		{`'tab\there'`, "tab\there"},
		{`'\'q\''`, "'q'"},
		{`"\x41é\U0001F600"`, "Aé😀"},
		{`'back\\slash'`, `back\slash`},
	}
	for _, tt := range tests {
		tok := NewLexer(tt.input, 0).NextToken()
		if tok.Type != TokenString {
			t.Errorf("%s: got %s (%q)", tt.input, tok.Type, tok.Literal)
			continue
		}
		if tok.Literal != tt.want {
			t.Errorf("%s: literal = %q, want %q", tt.input, tok.Literal, tt.want)
		}
	}
}

func TestLexerStringErrors(t *testing.T) {
	for _, input := range []string{`'open`, `'bad \q escape'`, `'\x4'`} {
		tok := NewLexer(input, 0).NextToken()
		if tok.Type != TokenError {
			t.Errorf("%s: got %s, want error", input, tok.Type)
		}
	}
}

func TestLexerUnexpectedCharacter(t *testing.T) {
	tok := NewLexer("a ! b", 0).NextToken()
	if tok.Type != TokenIdentifier {
		t.Fatalf("first token = %v", tok)
	}
	l := NewLexer("@", 7)
	tok = l.NextToken()
	if tok.Type != TokenError || tok.Pos != 7 {
		t.Errorf("got %v, want error at 7", tok)
	}
}
