package parser_test

import (
	"strings"
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

// Printed form doubles as the structural check: the printer is
// deterministic and fully parenthesized only where needed.
func TestParse_Precedence(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "1 + 2 * 3"},
		{"(1 + 2) * 3", "(1 + 2) * 3"},
		{"-a.b", "-a.b"},
		{"a || b && c", "a || b && c"},
		{"(a || b) && c", "(a || b) && c"},
		{"!a == b", "!a == b"},
		{"a < b == (c > d)", "a < b == (c > d)"},
		{"a - b - c", "a - b - c"},
		{"a[0].b(1)[2]", "a[0].b(1)[2]"},
	}
	for _, c := range cases {
		got := ast.Print(parse(t, c.src))
		if got != c.want {
			t.Errorf("%q: printed as %q, want %q", c.src, got, c.want)
		}
	}
}

func TestParse_Binders(t *testing.T) {
	cases := []string{
		`let x = 1 in x + 2`,
		`let {a, b} = obj in a + b`,
		`if x then 1 else 2`,
		`fn(a, b) => a + b`,
		`fn(comptime n, x) => x * n`,
		`rec fac(n) => if n <= 1 then 1 else n * fac(n - 1)`,
		`import "math" (pi, tau) in pi + tau`,
	}
	for _, src := range cases {
		expr := parse(t, src)
		reparsed, err := parser.Parse(ast.Print(expr))
		if err != nil {
			t.Errorf("%q: reparse of %q failed: %v", src, ast.Print(expr), err)
			continue
		}
		if ast.Print(reparsed) != ast.Print(expr) {
			t.Errorf("%q: print not stable: %q vs %q", src, ast.Print(expr), ast.Print(reparsed))
		}
	}
}

func TestParse_ComptimeParam(t *testing.T) {
	expr := parse(t, `fn(comptime n, x) => x`)
	fn, ok := expr.(*ast.FnExpr)
	if !ok {
		t.Fatalf("expected FnExpr, got %T", expr)
	}
	if len(fn.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Params))
	}
	if !fn.Params[0].Comptime || fn.Params[0].Name != "n" {
		t.Errorf("param 0: got %+v", fn.Params[0])
	}
	if fn.Params[1].Comptime || fn.Params[1].Name != "x" {
		t.Errorf("param 1: got %+v", fn.Params[1])
	}
}

func TestParse_StagingForms(t *testing.T) {
	cases := []struct {
		src  string
		node string
	}{
		{`comptime(1 + 2)`, "*ast.ComptimeExpr"},
		{`runtime(x)`, "*ast.RuntimeExpr"},
		{`assert(x, Num)`, "*ast.AssertExpr"},
		{`assert(x > 0)`, "*ast.AssertExpr"},
		{`trust(x, Num)`, "*ast.TrustExpr"},
		{`typeof(x)`, "*ast.TypeofExpr"},
	}
	for _, c := range cases {
		expr := parse(t, c.src)
		got := typeName(expr)
		if got != c.node {
			t.Errorf("%q: expected %s, got %s", c.src, c.node, got)
		}
	}
}

func typeName(x interface{}) string {
	switch x.(type) {
	case *ast.ComptimeExpr:
		return "*ast.ComptimeExpr"
	case *ast.RuntimeExpr:
		return "*ast.RuntimeExpr"
	case *ast.AssertExpr:
		return "*ast.AssertExpr"
	case *ast.TrustExpr:
		return "*ast.TrustExpr"
	case *ast.TypeofExpr:
		return "*ast.TypeofExpr"
	}
	return "?"
}

func TestParse_AssertOneArg(t *testing.T) {
	expr := parse(t, `assert(x > 0)`)
	a, ok := expr.(*ast.AssertExpr)
	if !ok {
		t.Fatalf("expected AssertExpr, got %T", expr)
	}
	if a.Type != nil {
		t.Error("one-argument assert should have nil Type")
	}
}

func TestParse_Blocks(t *testing.T) {
	expr := parse(t, `(print("x"); 1 + 2)`)
	blk, ok := expr.(*ast.BlockExpr)
	if !ok {
		t.Fatalf("expected BlockExpr, got %T", expr)
	}
	if len(blk.Exprs) != 2 {
		t.Fatalf("expected 2 expressions, got %d", len(blk.Exprs))
	}
}

func TestParse_ObjectsAndArrays(t *testing.T) {
	got := ast.Print(parse(t, `{b: 2, a: [1, "two", true]}`))
	// Printer sorts object fields.
	want := `{a: [1, "two", true], b: 2}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`let x = in 1`,
		`fn(a => a`,
		`if x then 1`,
		`1 +`,
		`{a: }`,
		`let x = 1 in`,
	}
	for _, src := range cases {
		if _, err := parser.Parse(src); err == nil {
			t.Errorf("%q: expected a parse error", src)
		}
	}
}

func TestParse_TrailingInput(t *testing.T) {
	_, err := parser.Parse(`1 2`)
	if err == nil {
		t.Fatal("expected an error for trailing input")
	}
	if !strings.Contains(err.Error(), "expected") && !strings.Contains(err.Error(), "unexpected") {
		t.Errorf("unhelpful error: %v", err)
	}
}
