package lexer_test

import (
	"testing"

	"presage/internal/lexer"
	"presage/internal/token"
)

func TestNextToken_Operators(t *testing.T) {
	input := `let x = 1 in if x <= 2 && x != 3 then fn(a) => a else x`

	expected := []struct {
		kind   token.Kind
		lexeme string
	}{
		{token.Let, "let"},
		{token.Ident, "x"},
		{token.Assign, "="},
		{token.Number, "1"},
		{token.In, "in"},
		{token.If, "if"},
		{token.Ident, "x"},
		{token.LtEq, "<="},
		{token.Number, "2"},
		{token.AndAnd, "&&"},
		{token.Ident, "x"},
		{token.NotEq, "!="},
		{token.Number, "3"},
		{token.Then, "then"},
		{token.Fn, "fn"},
		{token.LParen, "("},
		{token.Ident, "a"},
		{token.RParen, ")"},
		{token.Arrow, "=>"},
		{token.Ident, "a"},
		{token.Else, "else"},
		{token.Ident, "x"},
		{token.EOF, ""},
	}

	l := lexer.New(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Kind != exp.kind {
			t.Fatalf("token %d: expected kind %s, got %s (%q)", i, exp.kind, tok.Kind, tok.Lexeme)
		}
		if tok.Lexeme != exp.lexeme {
			t.Fatalf("token %d: expected lexeme %q, got %q", i, exp.lexeme, tok.Lexeme)
		}
	}
	if errs := l.Errors(); len(errs) > 0 {
		t.Fatalf("expected no lexer errors, got %v", errs)
	}
}

func TestNextToken_NumbersAndStrings(t *testing.T) {
	input := `3.14 1e6 2.5e-3 "hi\nthere" "esc\"aped"`

	l := lexer.New(input)
	wantLexemes := []string{"3.14", "1e6", "2.5e-3", "hi\nthere", `esc"aped`}
	wantKinds := []token.Kind{token.Number, token.Number, token.Number, token.String, token.String}
	for i := range wantLexemes {
		tok := l.NextToken()
		if tok.Kind != wantKinds[i] {
			t.Fatalf("token %d: expected %s, got %s", i, wantKinds[i], tok.Kind)
		}
		if tok.Lexeme != wantLexemes[i] {
			t.Fatalf("token %d: expected lexeme %q, got %q", i, wantLexemes[i], tok.Lexeme)
		}
	}
	if errs := l.Errors(); len(errs) > 0 {
		t.Fatalf("expected no lexer errors, got %v", errs)
	}
}

func TestNextToken_Comments(t *testing.T) {
	input := `
// line comment
1 /* block
comment */ 2`

	l := lexer.New(input)
	a := l.NextToken()
	b := l.NextToken()
	if a.Kind != token.Number || a.Lexeme != "1" {
		t.Fatalf("expected number 1, got %s %q", a.Kind, a.Lexeme)
	}
	if b.Kind != token.Number || b.Lexeme != "2" {
		t.Fatalf("expected number 2, got %s %q", b.Kind, b.Lexeme)
	}
}

func TestNextToken_Positions(t *testing.T) {
	input := "let x = 1\nin x"
	l := lexer.New(input)

	tok := l.NextToken()
	if tok.Pos.Line != 1 || tok.Pos.Column != 1 {
		t.Fatalf("let: expected 1:1, got %d:%d", tok.Pos.Line, tok.Pos.Column)
	}
	l.NextToken() // x
	l.NextToken() // =
	l.NextToken() // 1
	tok = l.NextToken()
	if tok.Kind != token.In {
		t.Fatalf("expected in, got %s", tok.Kind)
	}
	if tok.Pos.Line != 2 || tok.Pos.Column != 1 {
		t.Fatalf("in: expected 2:1, got %d:%d", tok.Pos.Line, tok.Pos.Column)
	}
}

func TestNextToken_UnterminatedString(t *testing.T) {
	l := lexer.New(`"oops`)
	l.NextToken()
	if errs := l.Errors(); len(errs) == 0 {
		t.Fatal("expected a lexer error for unterminated string")
	}
}

func TestNextToken_Keywords(t *testing.T) {
	input := `comptime runtime assert trust typeof import rec true false null`
	kinds := []token.Kind{
		token.Comptime, token.Runtime, token.Assert, token.Trust,
		token.Typeof, token.Import, token.Rec, token.True, token.False, token.Null,
	}
	l := lexer.New(input)
	for i, k := range kinds {
		tok := l.NextToken()
		if tok.Kind != k {
			t.Fatalf("keyword %d: expected %s, got %s (%q)", i, k, tok.Kind, tok.Lexeme)
		}
	}
}

func TestNextToken_TokenAtEndOfInput(t *testing.T) {
	// Tokens flush against end-of-input must keep their final rune.
	cases := []struct {
		input  string
		kind   token.Kind
		lexeme string
	}{
		{`a`, token.Ident, "a"},
		{`abc`, token.Ident, "abc"},
		{`12`, token.Number, "12"},
		{`3.5`, token.Number, "3.5"},
		{`1e6`, token.Number, "1e6"},
		{`x + ext`, token.Ident, "ext"},
		{`1 + 2`, token.Number, "2"},
	}
	for _, c := range cases {
		l := lexer.New(c.input)
		var last token.Token
		for tok := l.NextToken(); tok.Kind != token.EOF; tok = l.NextToken() {
			last = tok
		}
		if last.Kind != c.kind || last.Lexeme != c.lexeme {
			t.Errorf("%q: last token = %s %q, want %s %q", c.input, last.Kind, last.Lexeme, c.kind, c.lexeme)
		}
	}
}
