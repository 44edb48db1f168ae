package lexer

import (
	"fmt"
	"unicode"

	"presage/internal/token"
)

type Lexer struct {
	input []rune

	pos int

	ch   rune
	line int
	col  int

	errors []string
}

func New(input string) *Lexer {
	l := &Lexer{
		input: []rune(input),
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

func (l *Lexer) Errors() []string {
	return l.errors
}

func (l *Lexer) NextToken() token.Token {
	l.skipWhitespaceAndComments()

	pos := token.Position{
		Line:   l.line,
		Column: l.col,
	}

	ch := l.ch

	// EOF
	if ch == 0 {
		return token.Token{
			Kind:   token.EOF,
			Lexeme: "",
			Pos:    pos,
		}
	}

	// Numbers
	if isDigit(ch) {
		lit := l.readNumber()
		return token.Token{
			Kind:   token.Number,
			Lexeme: lit,
			Pos:    pos,
		}
	}

	// Identifiers / keywords
	if isLetter(ch) {
		lit := l.readIdentifier()
		kind := token.LookupIdent(lit)
		return token.Token{
			Kind:   kind,
			Lexeme: lit,
			Pos:    pos,
		}
	}

	// Strings
	if ch == '"' {
		l.readChar() // consume opening quote
		lit, ok := l.readString()
		if !ok {
			l.errorf(pos, "unterminated string literal")
			return token.Token{Kind: token.Illegal, Lexeme: lit, Pos: pos}
		}
		return token.Token{
			Kind:   token.String,
			Lexeme: lit,
			Pos:    pos,
		}
	}

	// Single- and two-character tokens
	var kind token.Kind
	var lexeme string

	switch ch {
	case ';':
		kind = token.Semicolon
		lexeme = ";"
	case ',':
		kind = token.Comma
		lexeme = ","
	case '.':
		kind = token.Dot
		lexeme = "."
	case ':':
		kind = token.Colon
		lexeme = ":"
	case '(':
		kind = token.LParen
		lexeme = "("
	case ')':
		kind = token.RParen
		lexeme = ")"
	case '{':
		kind = token.LBrace
		lexeme = "{"
	case '}':
		kind = token.RBrace
		lexeme = "}"
	case '[':
		kind = token.LBracket
		lexeme = "["
	case ']':
		kind = token.RBracket
		lexeme = "]"
	case '+':
		kind = token.Plus
		lexeme = "+"
	case '-':
		kind = token.Minus
		lexeme = "-"
	case '*':
		kind = token.Star
		lexeme = "*"
	case '/':
		kind = token.Slash
		lexeme = "/"
	case '%':
		kind = token.Percent
		lexeme = "%"
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			kind = token.OrOr
			lexeme = "||"
		} else {
			kind = token.Illegal
			lexeme = "|"
		}
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			kind = token.AndAnd
			lexeme = "&&"
		} else {
			kind = token.Illegal
			lexeme = "&"
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			kind = token.NotEq
			lexeme = "!="
		} else {
			kind = token.Bang
			lexeme = "!"
		}
	case '=':
		switch l.peekChar() {
		case '=':
			l.readChar()
			kind = token.Eq
			lexeme = "=="
		case '>':
			l.readChar()
			kind = token.Arrow
			lexeme = "=>"
		default:
			kind = token.Assign
			lexeme = "="
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			kind = token.LtEq
			lexeme = "<="
		} else {
			kind = token.Lt
			lexeme = "<"
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			kind = token.GtEq
			lexeme = ">="
		} else {
			kind = token.Gt
			lexeme = ">"
		}
	default:
		kind = token.Illegal
		lexeme = string(ch)
	}

	l.readChar()

	return token.Token{
		Kind:   kind,
		Lexeme: lexeme,
		Pos:    pos,
	}
}

// Helpers

func (l *Lexer) errorf(pos token.Position, format string, args ...interface{}) {
	msg := fmt.Sprintf("%d:%d: ", pos.Line, pos.Column) + fmt.Sprintf(format, args...)
	l.errors = append(l.errors, msg)
}

func (l *Lexer) readChar() {
	if l.pos >= len(l.input) {
		// Keep the "l.pos is one past l.ch" invariant at EOF so the
		// slicing in readIdentifier/readNumber sees the final rune.
		l.ch = 0
		l.pos = len(l.input) + 1
		return
	}

	l.ch = l.input[l.pos]
	l.pos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		// Skip whitespace
		for unicode.IsSpace(l.ch) {
			l.readChar()
		}

		// Comments
		if l.ch == '/' {
			switch l.peekChar() {
			case '/':
				// Single-line comment
				l.readChar() // '/'
				l.readChar() // second '/'
				for l.ch != '\n' && l.ch != 0 {
					l.readChar()
				}
				continue
			case '*':
				// Multi-line comment
				l.readChar() // '/'
				l.readChar() // '*'
				for {
					if l.ch == 0 {
						// EOF inside comment
						return
					}
					if l.ch == '*' && l.peekChar() == '/' {
						l.readChar() // '*'
						l.readChar() // '/'
						break
					}
					l.readChar()
				}
				continue
			}
		}

		break
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos - 1 // current rune is already in l.ch
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return string(l.input[start : l.pos-1])
}

func (l *Lexer) readNumber() string {
	start := l.pos - 1
	for isDigit(l.ch) {
		l.readChar()
	}
	// Decimal point
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	// Exponent
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return string(l.input[start : l.pos-1])
}

// readString consumes until the closing quote, handling escapes.
// Returns the decoded string and whether the literal was terminated.
func (l *Lexer) readString() (string, bool) {
	var out []rune
	for {
		switch l.ch {
		case 0, '\n':
			return string(out), false
		case '"':
			l.readChar() // consume closing quote
			return string(out), true
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			case '0':
				out = append(out, 0)
			default:
				out = append(out, l.ch)
			}
			l.readChar()
		default:
			out = append(out, l.ch)
			l.readChar()
		}
	}
}

func isLetter(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
