package constraint_test

import (
	"testing"

	"presage/internal/constraint"
	"presage/internal/value"
)

func exact(v value.Value) constraint.Constraint {
	return &constraint.Exact{Val: v}
}

func union(cs ...constraint.Constraint) constraint.Constraint {
	return &constraint.Union{Variants: cs}
}

func TestImplies_Basics(t *testing.T) {
	five := exact(value.NumVal(5))
	cases := []struct {
		a, b constraint.Constraint
		want bool
	}{
		{constraint.Num, constraint.Any, true},
		{constraint.Any, constraint.Num, false},
		{constraint.Never, constraint.Num, true},
		{constraint.Num, constraint.Never, false},
		{five, constraint.Num, true},
		{constraint.Num, five, false},
		{five, five, true},
		{constraint.Num, union(constraint.Num, constraint.Str), true},
		{union(constraint.Num, constraint.Str), constraint.Num, false},
		{union(five, exact(value.NumVal(6))), constraint.Num, true},
		{constraint.Str, &constraint.Negate{Inner: constraint.Num}, true},
		{five, &constraint.Negate{Inner: constraint.Str}, true},
	}
	for _, c := range cases {
		if got := constraint.Implies(c.a, c.b); got != c.want {
			t.Errorf("Implies(%s, %s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestImplies_Objects(t *testing.T) {
	wide := &constraint.Object{Fields: map[string]constraint.Constraint{
		"a": constraint.Num,
		"b": constraint.Str,
	}, Closed: true}
	narrow := &constraint.Object{Fields: map[string]constraint.Constraint{
		"a": constraint.Num,
	}}
	if !constraint.Implies(wide, narrow) {
		t.Error("an object with more fields should imply one demanding fewer")
	}
	if constraint.Implies(narrow, wide) {
		t.Error("missing field b must not imply")
	}

	deep := &constraint.Object{Fields: map[string]constraint.Constraint{
		"a": exact(value.NumVal(1)),
	}}
	if !constraint.Implies(deep, narrow) {
		t.Error("field constraints should be checked covariantly")
	}
}

func TestImplies_Arrays(t *testing.T) {
	tuple := &constraint.Array{Elems: []constraint.Constraint{constraint.Num, constraint.Num}}
	of := &constraint.ArrayOf{Elem: constraint.Num}
	if !constraint.Implies(tuple, of) {
		t.Error("a numeric tuple is an array of numbers")
	}
	mixed := &constraint.Array{Elems: []constraint.Constraint{constraint.Num, constraint.Str}}
	if constraint.Implies(mixed, of) {
		t.Error("a mixed tuple is not an array of numbers")
	}
}

func TestDisjoint(t *testing.T) {
	cases := []struct {
		a, b constraint.Constraint
		want bool
	}{
		{constraint.Num, constraint.Str, true},
		{constraint.Num, constraint.Num, false},
		{exact(value.NumVal(1)), exact(value.NumVal(2)), true},
		{exact(value.NumVal(1)), constraint.Num, false},
		{union(constraint.Num, constraint.Str), constraint.Str, false},
		{union(constraint.Num, constraint.Bool), constraint.Str, true},
	}
	for _, c := range cases {
		if got := constraint.Disjoint(c.a, c.b); got != c.want {
			t.Errorf("Disjoint(%s, %s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestUnify(t *testing.T) {
	u := constraint.Unify(constraint.Num, constraint.Num)
	if !constraint.Equal(u, constraint.Num) {
		t.Errorf("Unify(Num, Num) = %s", u)
	}
	u = constraint.Unify(exact(value.NumVal(1)), constraint.Num)
	if !constraint.Equal(u, constraint.Num) {
		t.Errorf("an exact number folds into Num: got %s", u)
	}
	u = constraint.Unify(constraint.Num, constraint.Str)
	if !constraint.Implies(constraint.Num, u) || !constraint.Implies(constraint.Str, u) {
		t.Errorf("Unify(Num, Str) = %s must cover both sides", u)
	}
}

func TestNarrowOr(t *testing.T) {
	// Narrowing a union by a prim keeps the matching variants.
	u := union(constraint.Num, constraint.Str)
	n := constraint.NarrowOr(u, constraint.Num)
	if !constraint.Equal(n, constraint.Num) {
		t.Errorf("NarrowOr(Num|Str, Num) = %s, want Num", n)
	}

	// Narrowing by a negation drops the excluded variant.
	n = constraint.NarrowOr(u, &constraint.Negate{Inner: constraint.Str})
	if !constraint.Equal(n, constraint.Num) {
		t.Errorf("NarrowOr(Num|Str, !Str) = %s, want Num", n)
	}

	// No gain returns the original.
	n = constraint.NarrowOr(constraint.Num, constraint.Any)
	if !constraint.Equal(n, constraint.Num) {
		t.Errorf("NarrowOr(Num, Any) = %s, want Num", n)
	}
}

func TestSimplify(t *testing.T) {
	flat := constraint.Simplify(union(constraint.Num, union(constraint.Num, constraint.Str)))
	want := union(constraint.Num, constraint.Str)
	if !constraint.Equal(flat, want) && !constraint.Equal(flat, union(constraint.Str, constraint.Num)) {
		t.Errorf("Simplify flattening: got %s", flat)
	}

	dn := constraint.Simplify(&constraint.Negate{Inner: &constraint.Negate{Inner: constraint.Num}})
	if !constraint.Equal(dn, constraint.Num) {
		t.Errorf("double negation: got %s", dn)
	}

	absorbed := constraint.Simplify(union(exact(value.NumVal(1)), constraint.Num))
	if !constraint.Equal(absorbed, constraint.Num) {
		t.Errorf("absorption: got %s", absorbed)
	}
}

func TestOfValue(t *testing.T) {
	if c := constraint.OfValue(value.NumVal(3)); !constraint.Equal(c, exact(value.NumVal(3))) {
		t.Errorf("scalar: got %s", c)
	}

	obj := value.ObjectVal(map[string]value.Value{"a": value.NumVal(1)})
	oc, ok := constraint.OfValue(obj).(*constraint.Object)
	if !ok || !oc.Closed {
		t.Fatalf("object value should yield a closed object constraint, got %s", constraint.OfValue(obj))
	}
	if !constraint.ValueSatisfies(obj, oc) {
		t.Error("a value must satisfy its own constraint")
	}
}

func TestValueSatisfies(t *testing.T) {
	arr := value.ArrayVal([]value.Value{value.NumVal(1), value.StrVal("x")})
	tuple := &constraint.Array{Elems: []constraint.Constraint{constraint.Num, constraint.Str}}
	if !constraint.ValueSatisfies(arr, tuple) {
		t.Error("tuple check failed")
	}
	if constraint.ValueSatisfies(arr, &constraint.ArrayOf{Elem: constraint.Num}) {
		t.Error("mixed array is not all-numbers")
	}
	if !constraint.ValueSatisfies(value.NullVal(), constraint.Null) {
		t.Error("null check failed")
	}
	if !constraint.ValueSatisfies(value.NumVal(1), &constraint.Negate{Inner: constraint.Str}) {
		t.Error("negation check failed")
	}
}

func TestFieldOps(t *testing.T) {
	obj := &constraint.Object{Fields: map[string]constraint.Constraint{"a": constraint.Num}, Closed: true}
	if fc, ok := constraint.HasField(obj, "a"); !ok || !constraint.Equal(fc, constraint.Num) {
		t.Errorf("HasField a: %v %v", fc, ok)
	}
	if !constraint.ProvesNoField(obj, "b") {
		t.Error("closed object proves absence of unlisted fields")
	}
	open := &constraint.Object{Fields: map[string]constraint.Constraint{"a": constraint.Num}}
	if constraint.ProvesNoField(open, "b") {
		t.Error("open object proves nothing about unlisted fields")
	}
}

func TestElementOps(t *testing.T) {
	tuple := &constraint.Array{Elems: []constraint.Constraint{constraint.Num, constraint.Str}}
	if ec, ok := constraint.ElementAt(tuple, 1); !ok || !constraint.Equal(ec, constraint.Str) {
		t.Errorf("ElementAt 1: %v %v", ec, ok)
	}
	if _, ok := constraint.ElementAt(tuple, 5); ok {
		t.Error("out-of-range index must not resolve")
	}
	if n, ok := constraint.Length(tuple); !ok || n != 2 {
		t.Errorf("Length: %d %v", n, ok)
	}
	if _, ok := constraint.Length(&constraint.ArrayOf{Elem: constraint.Num}); ok {
		t.Error("ArrayOf has no static length")
	}
}
