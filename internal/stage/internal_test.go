package stage

import (
	"testing"

	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/parser"
	"presage/internal/token"
	"presage/internal/value"
)

func mustParse(t *testing.T, src string) ast.Expr {
	t.Helper()
	expr, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return expr
}

func TestEnv_Persistence(t *testing.T) {
	base := EmptyEnv().Set("a", &Now{Value: value.NumVal(1), Constr: constraint.Num})
	child := base.Set("b", &Now{Value: value.NumVal(2), Constr: constraint.Num})

	if base.Has("b") {
		t.Error("parent frame must not see child bindings")
	}
	if !child.Has("a") || !child.Has("b") {
		t.Error("child frame must see both bindings")
	}

	if _, err := base.Get("b", token.Position{Line: 3, Column: 7}); err == nil {
		t.Error("expected unbound error")
	} else if ub, ok := err.(*UnboundVariableError); !ok || ub.Name != "b" {
		t.Errorf("expected UnboundVariableError for b, got %v", err)
	}
}

func TestEnv_Shadowing(t *testing.T) {
	env := EmptyEnv().
		Set("x", &Now{Value: value.NumVal(1), Constr: constraint.Num}).
		Set("x", &Now{Value: value.NumVal(2), Constr: constraint.Num})

	sv, err := env.Get("x", token.Position{})
	if err != nil {
		t.Fatal(err)
	}
	if sv.(*Now).Value.Num != 2 {
		t.Errorf("expected innermost binding, got %v", sv.(*Now).Value.Num)
	}

	seen := 0
	for name := range env.Entries() {
		if name == "x" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("Entries must yield shadowed names once, got %d", seen)
	}
}

func TestCondRefinements_Equality(t *testing.T) {
	pos, neg := condRefinements(mustParse(t, `x == 5`))
	want := &constraint.Exact{Val: value.NumVal(5)}
	if !constraint.Equal(pos["x"], want) {
		t.Errorf("then-branch: got %v", pos["x"])
	}
	if !constraint.Equal(neg["x"], &constraint.Negate{Inner: want}) {
		t.Errorf("else-branch: got %v", neg["x"])
	}

	// Flipped operand order is recognized too.
	pos, _ = condRefinements(mustParse(t, `5 == x`))
	if !constraint.Equal(pos["x"], want) {
		t.Errorf("flipped: got %v", pos["x"])
	}
}

func TestCondRefinements_Typeof(t *testing.T) {
	pos, neg := condRefinements(mustParse(t, `typeof(x) == Num`))
	if !constraint.Equal(pos["x"], constraint.Num) {
		t.Errorf("then-branch: got %v", pos["x"])
	}
	if !constraint.Equal(neg["x"], &constraint.Negate{Inner: constraint.Num}) {
		t.Errorf("else-branch: got %v", neg["x"])
	}
}

func TestCondRefinements_Negation(t *testing.T) {
	pos, _ := condRefinements(mustParse(t, `!(x == 1)`))
	want := &constraint.Negate{Inner: &constraint.Exact{Val: value.NumVal(1)}}
	if !constraint.Equal(pos["x"], want) {
		t.Errorf("got %v", pos["x"])
	}
}

func TestCondRefinements_Conjunction(t *testing.T) {
	pos, neg := condRefinements(mustParse(t, `x == 1 && y == 2`))
	if !constraint.Equal(pos["x"], &constraint.Exact{Val: value.NumVal(1)}) {
		t.Errorf("x: got %v", pos["x"])
	}
	if !constraint.Equal(pos["y"], &constraint.Exact{Val: value.NumVal(2)}) {
		t.Errorf("y: got %v", pos["y"])
	}
	// Negating a conjunction is a disjunction: nothing per-variable.
	if len(neg) != 0 {
		t.Errorf("else-branch must learn nothing, got %v", neg)
	}
}

func TestRefCtx_ConjunctiveLookup(t *testing.T) {
	var r *RefCtx
	r = r.With("x", &constraint.Union{Variants: []constraint.Constraint{constraint.Num, constraint.Str}})
	r = r.With("x", constraint.Num)
	got := r.Lookup("x")
	if !constraint.Implies(got, constraint.Num) {
		t.Errorf("nested refinements must conjoin, got %v", got)
	}
	if r.Lookup("y") != nil {
		t.Error("unknown name must yield nil")
	}
}

func TestNeedsBinding(t *testing.T) {
	later := &Later{Constr: constraint.Num, Residual: mustParse(t, `f(1)`)}
	trivialLater := &Later{Constr: constraint.Num, Residual: mustParse(t, `y`)}
	scalar := &Now{Value: value.NumVal(1), Constr: constraint.Num}
	compound := &Now{
		Value:  value.ArrayVal([]value.Value{value.NumVal(1), value.NumVal(2)}),
		Constr: constraint.OfValue(value.ArrayVal([]value.Value{value.NumVal(1), value.NumVal(2)})),
	}

	cases := []struct {
		name  string
		bound SValue
		body  string
		want  bool
	}{
		{"later used", later, `x + x`, true},
		{"later used once", later, `x + 1`, true},
		{"later unused", later, `1 + 2`, false},
		{"later shadowed", later, `let x = 1 in x`, false},
		{"trivial residual", trivialLater, `x + x`, false},
		{"scalar now", scalar, `x + x`, false},
		{"compound now used", compound, `x[0]`, true},
		{"compound now unused", compound, `7`, false},
	}
	for _, c := range cases {
		if got := needsBinding(c.bound, "x", mustParse(t, c.body)); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestReboundFor(t *testing.T) {
	la := &LaterArray{
		Elems: []SValue{
			&Now{Value: value.NumVal(1), Constr: constraint.Num},
			&Later{Constr: constraint.Num, Residual: mustParse(t, `f(2)`)},
		},
		Constr: &constraint.Array{Elems: []constraint.Constraint{constraint.Num, constraint.Num}},
	}
	rb := reboundFor(la, "xs").(*LaterArray)
	if _, ok := rb.Elems[0].(*Now); !ok {
		t.Error("known elements stay known through rebinding")
	}
	el1 := rb.Elems[1].(*Later)
	if got := ast.Print(el1.Residual); got != "xs[1]" {
		t.Errorf("deferred element must re-read through the binding, got %q", got)
	}
}
