package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for tag expressions
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42, 0x2a, 0o52, 0b101010
	TokenFloat      // 3.14, 1e10
	TokenString     // 'hello', "hello"
	TokenIdentifier // foo, bar_2

	// Reserved words
	TokenNone
	TokenTrue
	TokenFalse
	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenDel

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenComma    // ,
	TokenPeriod   // .
	TokenColon    // :

	// Operators
	TokenPlus        // +
	TokenMinus       // -
	TokenStar        // *
	TokenSlash       // /
	TokenSlashSlash  // //
	TokenPercent     // %
	TokenEQ          // ==
	TokenNE          // !=
	TokenLT          // <
	TokenLE          // <=
	TokenGT          // >
	TokenGE          // >=
	TokenAssign      // =
	TokenPlusAssign  // +=
	TokenMinusAssign // -=
	TokenStarAssign  // *=
	TokenSlashAssign // /=
	TokenFloorAssign // //=
	TokenModAssign   // %=
)

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenInteger:     "INTEGER",
	TokenFloat:       "FLOAT",
	TokenString:      "STRING",
	TokenIdentifier:  "IDENTIFIER",
	TokenNone:        "None",
	TokenTrue:        "True",
	TokenFalse:       "False",
	TokenAnd:         "and",
	TokenOr:          "or",
	TokenNot:         "not",
	TokenIn:          "in",
	TokenDel:         "del",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenLBracket:    "[",
	TokenRBracket:    "]",
	TokenComma:       ",",
	TokenPeriod:      ".",
	TokenColon:       ":",
	TokenPlus:        "+",
	TokenMinus:       "-",
	TokenStar:        "*",
	TokenSlash:       "/",
	TokenSlashSlash:  "//",
	TokenPercent:     "%",
	TokenEQ:          "==",
	TokenNE:          "!=",
	TokenLT:          "<",
	TokenLE:          "<=",
	TokenGT:          ">",
	TokenGE:          ">=",
	TokenAssign:      "=",
	TokenPlusAssign:  "+=",
	TokenMinusAssign: "-=",
	TokenStarAssign:  "*=",
	TokenSlashAssign: "/=",
	TokenFloorAssign: "//=",
	TokenModAssign:   "%=",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string // the raw text; for strings the decoded value
	Pos     int    // byte offset in the template source
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"None":  TokenNone,
	"True":  TokenTrue,
	"False": TokenFalse,
	"and":   TokenAnd,
	"or":    TokenOr,
	"not":   TokenNot,
	"in":    TokenIn,
	"del":   TokenDel,
}

// augmentedOps maps compound-assignment tokens to operator mnemonics.
var augmentedOps = map[TokenType]string{
	TokenPlusAssign:  "add",
	TokenMinusAssign: "sub",
	TokenStarAssign:  "mul",
	TokenSlashAssign: "truediv",
	TokenFloorAssign: "floordiv",
	TokenModAssign:   "mod",
}
