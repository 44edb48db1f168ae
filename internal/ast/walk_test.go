package ast_test

import (
	"testing"

	"presage/internal/ast"
	"presage/internal/parser"
)

func parse(t *testing.T, src string) ast.Expr {
	t.Helper()
	expr, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return expr
}

func TestUses_Shadowing(t *testing.T) {
	cases := []struct {
		src  string
		name string
		want bool
	}{
		{`x + 1`, "x", true},
		{`y + 1`, "x", false},
		{`let x = 1 in x`, "x", false},
		{`let x = x in 2`, "x", true},
		{`fn(x) => x + 1`, "x", false},
		{`fn(y) => x + y`, "x", true},
		{`rec f(n) => f(n - 1)`, "f", false},
		{`let {a, b} = o in a`, "a", false},
		{`let {a, b} = o in c`, "o", true},
		{`{f: x}`, "x", true},
		{`typeof(x)`, "x", true},
		{`import "m" (x) in x`, "x", false},
	}
	for _, c := range cases {
		if got := ast.Uses(c.name, parse(t, c.src)); got != c.want {
			t.Errorf("Uses(%q, %q) = %v, want %v", c.name, c.src, got, c.want)
		}
	}
}

func TestFreeVars(t *testing.T) {
	fv := ast.FreeVars(parse(t, `let x = a in fn(y) => x + y + b`))
	for _, name := range []string{"a", "b"} {
		if !fv.Contains(name) {
			t.Errorf("expected %s free", name)
		}
	}
	for _, name := range []string{"x", "y"} {
		if fv.Contains(name) {
			t.Errorf("%s is bound, not free", name)
		}
	}
}

func TestIsTrivial(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{`x`, true},
		{`1`, true},
		{`"s"`, true},
		{`true`, true},
		{`null`, true},
		{`x + 1`, false},
		{`[1]`, false},
		{`f(x)`, false},
	}
	for _, c := range cases {
		if got := ast.IsTrivial(parse(t, c.src)); got != c.want {
			t.Errorf("IsTrivial(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestRewrite_ReplacesLeaves(t *testing.T) {
	expr := parse(t, `1 + f(2, x)`)
	out := ast.Rewrite(expr, func(n ast.Expr) ast.Expr {
		if num, ok := n.(*ast.NumberLit); ok {
			return &ast.NumberLit{Value: num.Value * 10}
		}
		return n
	})
	if got := ast.Print(out); got != "10 + f(20, x)" {
		t.Errorf("got %q", got)
	}
	// The original is untouched.
	if got := ast.Print(expr); got != "1 + f(2, x)" {
		t.Errorf("original mutated: %q", got)
	}
}

func TestPrint_NumberFormatting(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{`1`, "1"},
		{`1.5`, "1.5"},
		{`0.25`, "0.25"},
		{`1e6`, "1e+06"},
	}
	for _, c := range cases {
		if got := ast.Print(parse(t, c.src)); got != c.want {
			t.Errorf("%q printed as %q, want %q", c.src, got, c.want)
		}
	}
}
