package compiler

import (
	"testing"

	"github.com/chazu/stencil/vm"
)

// ---------------------------------------------------------------------------
// FuzzLexer: ensure the lexer never panics on arbitrary input.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	seeds := []string{
		`( ) [ ] , . : + - * / // % == != < <= > >= = += -= *= /= //= %=`,
		`42`, `0`, `0x1F`, `0o17`, `0b1`, `0b`, `99999999999999999999`,
		`3.14`, `.5`, `1e10`, `1.5e-3`, `2.0E+5`, `1e`,
		`'hello'`, `"it's"`, `''`, `'\n\t\x41é\U0001F600'`, `'\x'`, `'unterminated`,
		`foo`, `_private`, `None`, `True`, `False`, `and or not in del`,
		`data.items[0:2].upper()`,
		`'こんにちは'`, `café`,
		``, `   `, "\t\n\r", `!`, `@#$`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		l := NewLexer(input, 0)
		for i := 0; i <= len(input)+1; i++ {
			tok := l.NextToken()
			if tok.Pos < 0 || tok.Pos > len(input) {
				t.Fatalf("token %v has position outside the input", tok)
			}
			if tok.Type == TokenEOF {
				return
			}
		}
		t.Fatalf("lexer did not reach EOF on %q", input)
	})
}

// ---------------------------------------------------------------------------
// FuzzCompile: ensure compilation never panics and that every compiled
// program survives an encode/decode round trip.
// ---------------------------------------------------------------------------

func FuzzCompile(f *testing.F) {
	seeds := []string{
		"",
		"text only",
		"<?print data?>",
		"<?printx '<&>'?>",
		"<?if data?>a<?elif 1?>b<?else?>c<?end if?>",
		"<?for x in data?><?for y in x?><?print y?><?end for?>|<?end for?>",
		"<?for k, v in data.items()?><?print k?><?end?>",
		"<?code x = 1?><?code x += 2?><?code del x?>",
		"<?render row(data)?>",
		"<?note hi?>",
		"<?print ((((((((((1))))))))))?>",
		"<?print 1 + (2 + (3 + (4 + (5 + (6 + (7 + (8 + (9 + (10 + 11)))))))))?>",
		"<?print f(g(h(1, 2, 3), 2, 3), 2, 3)?>",
		"<?if?>", "<?end?>", "<?for?>", "<?", "?>", "<?print",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, src string) {
		p, err := Compile(src)
		if err != nil {
			return
		}

		data, err := p.Encode()
		if err != nil {
			t.Fatalf("encode of compiled program failed: %v", err)
		}
		q, err := vm.Decode(data)
		if err != nil {
			t.Fatalf("decode of encoded program failed: %v\n%s", err, data)
		}
		if !p.Equal(q) {
			t.Fatalf("round trip changed the program\n%s\n%s", p.Disassemble(), q.Disassemble())
		}
	})
}
