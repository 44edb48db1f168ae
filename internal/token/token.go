package token

import "fmt"

type Kind int

const (
	Illegal Kind = iota
	EOF

	Ident  // Identifier
	Number // Numeric literal
	String // String literal

	// Keywords
	Let
	In
	If
	Then
	Else
	Fn
	Rec
	True
	False
	Null
	Comptime
	Runtime
	Assert
	Trust
	Typeof
	Import

	// Operators
	Assign // =

	Plus    // +
	Minus   // -
	Star    // *
	Slash   // /
	Percent // %

	Bang   // !
	AndAnd // &&
	OrOr   // ||

	Eq    // ==
	NotEq // !=
	Lt    // <
	LtEq  // <=
	Gt    // >
	GtEq  // >=

	Arrow // =>

	// Symbols
	Comma     // ,
	Semicolon // ;
	Dot       // .
	Colon     // :

	LParen   // (
	RParen   // )
	LBrace   // {
	RBrace   // }
	LBracket // [
	RBracket // ]
)

type Position struct {
	Line   int
	Column int
}

type Token struct {
	Kind   Kind
	Lexeme string
	Pos    Position
}

func (k Kind) String() string {
	switch k {
	case Illegal:
		return "Illegal"
	case EOF:
		return "EOF"
	case Ident:
		return "Ident"
	case Number:
		return "Number"
	case String:
		return "String"
	case Let:
		return "Let"
	case In:
		return "In"
	case If:
		return "If"
	case Then:
		return "Then"
	case Else:
		return "Else"
	case Fn:
		return "Fn"
	case Rec:
		return "Rec"
	case True:
		return "True"
	case False:
		return "False"
	case Null:
		return "Null"
	case Comptime:
		return "Comptime"
	case Runtime:
		return "Runtime"
	case Assert:
		return "Assert"
	case Trust:
		return "Trust"
	case Typeof:
		return "Typeof"
	case Import:
		return "Import"
	case Assign:
		return "Assign"
	case Plus:
		return "Plus"
	case Minus:
		return "Minus"
	case Star:
		return "Star"
	case Slash:
		return "Slash"
	case Percent:
		return "Percent"
	case Bang:
		return "Bang"
	case AndAnd:
		return "AndAnd"
	case OrOr:
		return "OrOr"
	case Eq:
		return "Eq"
	case NotEq:
		return "NotEq"
	case Lt:
		return "Lt"
	case LtEq:
		return "LtEq"
	case Gt:
		return "Gt"
	case GtEq:
		return "GtEq"
	case Arrow:
		return "Arrow"
	case Comma:
		return "Comma"
	case Semicolon:
		return "Semicolon"
	case Dot:
		return "Dot"
	case Colon:
		return "Colon"
	case LParen:
		return "LParen"
	case RParen:
		return "RParen"
	case LBrace:
		return "LBrace"
	case RBrace:
		return "RBrace"
	case LBracket:
		return "LBracket"
	case RBracket:
		return "RBracket"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var keywords = map[string]Kind{
	"let":      Let,
	"in":       In,
	"if":       If,
	"then":     Then,
	"else":     Else,
	"fn":       Fn,
	"rec":      Rec,
	"true":     True,
	"false":    False,
	"null":     Null,
	"comptime": Comptime,
	"runtime":  Runtime,
	"assert":   Assert,
	"trust":    Trust,
	"typeof":   Typeof,
	"import":   Import,
}

func LookupIdent(lit string) Kind {
	if kind, ok := keywords[lit]; ok {
		return kind
	}
	return Ident
}
