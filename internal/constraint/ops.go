package constraint

import (
	set "github.com/hashicorp/go-set/v3"

	"presage/internal/value"
)

// ValueSatisfies reports whether the concrete value v conforms to c.
// This is the ground truth the staged-value soundness invariant is
// stated against.
func ValueSatisfies(v value.Value, c Constraint) bool {
	switch c := c.(type) {
	case *anyC:
		return true
	case *neverC:
		return false
	case *Prim:
		switch c.Kind {
		case PrimNum:
			return v.Kind == value.KindNum
		case PrimStr:
			return v.Kind == value.KindStr
		case PrimBool:
			return v.Kind == value.KindBool
		case PrimNull:
			return v.Kind == value.KindNull
		case PrimFunc:
			return v.Kind == value.KindClosure || v.Kind == value.KindBuiltin
		case PrimType:
			return v.Kind == value.KindType
		}
		return false
	case *Exact:
		return value.Equal(v, c.Val)
	case *Object:
		if v.Kind != value.KindObject {
			return false
		}
		for name, fc := range c.Fields {
			fv, ok := v.Object[name]
			if !ok || !ValueSatisfies(fv, fc) {
				return false
			}
		}
		if c.Closed {
			for name := range v.Object {
				if _, ok := c.Fields[name]; !ok {
					return false
				}
			}
		}
		return true
	case *Array:
		if v.Kind != value.KindArray || len(v.Array) != len(c.Elems) {
			return false
		}
		for i, ec := range c.Elems {
			if !ValueSatisfies(v.Array[i], ec) {
				return false
			}
		}
		return true
	case *ArrayOf:
		if v.Kind != value.KindArray {
			return false
		}
		for _, el := range v.Array {
			if !ValueSatisfies(el, c.Elem) {
				return false
			}
		}
		return true
	case *Union:
		for _, variant := range c.Variants {
			if ValueSatisfies(v, variant) {
				return true
			}
		}
		return false
	case *Negate:
		return !ValueSatisfies(v, c.Inner)
	}
	return false
}

// OfValue returns the exact-value constraint of v: Exact for scalars,
// structural per-field / per-element constraints for compound data.
func OfValue(v value.Value) Constraint {
	switch v.Kind {
	case value.KindNum, value.KindStr, value.KindBool, value.KindNull:
		return &Exact{Val: v}
	case value.KindObject:
		fields := make(map[string]Constraint, len(v.Object))
		for name, fv := range v.Object {
			fields[name] = OfValue(fv)
		}
		return &Object{Fields: fields, Closed: true}
	case value.KindArray:
		elems := make([]Constraint, len(v.Array))
		for i, el := range v.Array {
			elems[i] = OfValue(el)
		}
		return &Array{Elems: elems}
	case value.KindClosure, value.KindBuiltin:
		return Func
	case value.KindType:
		return Type
	}
	return Any
}

// Implies reports whether every value satisfying a also satisfies b
// (structural subtyping).
func Implies(a, b Constraint) bool {
	if Equal(a, b) {
		return true
	}
	if _, ok := b.(*anyC); ok {
		return true
	}
	if _, ok := a.(*neverC); ok {
		return true
	}

	// Union on the left: every variant must imply b.
	if ua, ok := a.(*Union); ok {
		for _, v := range ua.Variants {
			if !Implies(v, b) {
				return false
			}
		}
		return len(ua.Variants) > 0
	}

	// Union on the right: a must imply some variant.
	if ub, ok := b.(*Union); ok {
		for _, v := range ub.Variants {
			if Implies(a, v) {
				return true
			}
		}
		return false
	}

	// Negation on the right: a implies !i iff a and i are provably
	// disjoint.
	if nb, ok := b.(*Negate); ok {
		return Disjoint(a, nb.Inner)
	}

	switch a := a.(type) {
	case *Exact:
		return ValueSatisfies(a.Val, b)
	case *Prim:
		o, ok := b.(*Prim)
		return ok && a.Kind == o.Kind
	case *Object:
		o, ok := b.(*Object)
		if !ok {
			return false
		}
		for name, bc := range o.Fields {
			ac, ok := a.Fields[name]
			if !ok || !Implies(ac, bc) {
				return false
			}
		}
		if o.Closed {
			// The subtype must be closed and must not carry fields the
			// supertype rules out.
			if !a.Closed {
				return false
			}
			fieldNames := set.New[string](len(a.Fields))
			for name := range o.Fields {
				fieldNames.Insert(name)
			}
			for name := range a.Fields {
				if !fieldNames.Contains(name) {
					return false
				}
			}
		}
		return true
	case *Array:
		switch o := b.(type) {
		case *Array:
			if len(a.Elems) != len(o.Elems) {
				return false
			}
			for i, ac := range a.Elems {
				if !Implies(ac, o.Elems[i]) {
					return false
				}
			}
			return true
		case *ArrayOf:
			for _, ac := range a.Elems {
				if !Implies(ac, o.Elem) {
					return false
				}
			}
			return true
		}
		return false
	case *ArrayOf:
		o, ok := b.(*ArrayOf)
		return ok && Implies(a.Elem, o.Elem)
	}
	return false
}

// Disjoint reports whether a and b provably share no value. False means
// "unknown", not "overlapping".
func Disjoint(a, b Constraint) bool {
	if ea, ok := a.(*Exact); ok {
		return !ValueSatisfies(ea.Val, b)
	}
	if eb, ok := b.(*Exact); ok {
		return !ValueSatisfies(eb.Val, a)
	}
	pa, aok := a.(*Prim)
	pb, bok := b.(*Prim)
	if aok && bok {
		return pa.Kind != pb.Kind
	}
	if ua, ok := a.(*Union); ok {
		for _, v := range ua.Variants {
			if !Disjoint(v, b) {
				return false
			}
		}
		return true
	}
	if ub, ok := b.(*Union); ok {
		return Disjoint(ub, a)
	}
	// Prim vs structural shapes never overlap.
	if aok {
		switch b.(type) {
		case *Object, *Array, *ArrayOf:
			return true
		}
	}
	if bok {
		switch a.(type) {
		case *Object, *Array, *ArrayOf:
			return true
		}
	}
	return false
}

// Unify returns the least upper bound of a and b.
func Unify(a, b Constraint) Constraint {
	if Implies(a, b) {
		return b
	}
	if Implies(b, a) {
		return a
	}
	return Simplify(&Union{Variants: []Constraint{a, b}})
}

// Simplify flattens unions, dedupes variants, absorbs variants implied
// by siblings, and reduces double negation. Idempotent.
func Simplify(c Constraint) Constraint {
	switch c := c.(type) {
	case *Union:
		var flat []Constraint
		for _, v := range c.Variants {
			sv := Simplify(v)
			if _, ok := sv.(*neverC); ok {
				continue
			}
			if u, ok := sv.(*Union); ok {
				flat = append(flat, u.Variants...)
				continue
			}
			flat = append(flat, sv)
		}
		// Drop variants implied by another (keeps the union minimal and
		// makes Any absorb everything).
		var kept []Constraint
		for i, v := range flat {
			absorbed := false
			for j, w := range flat {
				if i == j {
					continue
				}
				if Equal(v, w) && j < i {
					absorbed = true // dedupe, keep first
					break
				}
				if !Equal(v, w) && Implies(v, w) {
					absorbed = true
					break
				}
			}
			if !absorbed {
				kept = append(kept, v)
			}
		}
		switch len(kept) {
		case 0:
			return Never
		case 1:
			return kept[0]
		}
		return &Union{Variants: kept}
	case *Negate:
		inner := Simplify(c.Inner)
		switch inner := inner.(type) {
		case *Negate:
			return inner.Inner
		case *anyC:
			return Never
		case *neverC:
			return Any
		}
		return &Negate{Inner: inner}
	case *Object:
		fields := make(map[string]Constraint, len(c.Fields))
		for name, fc := range c.Fields {
			fields[name] = Simplify(fc)
		}
		return &Object{Fields: fields, Closed: c.Closed}
	case *Array:
		elems := make([]Constraint, len(c.Elems))
		for i, el := range c.Elems {
			elems[i] = Simplify(el)
		}
		return &Array{Elems: elems}
	case *ArrayOf:
		return &ArrayOf{Elem: Simplify(c.Elem)}
	}
	return c
}

// NarrowOr narrows c by a flow refinement. Returns c unchanged when the
// refinement buys no precision; the result always implies c (narrowing
// never widens).
func NarrowOr(c, refinement Constraint) Constraint {
	if refinement == nil {
		return c
	}
	if n := narrow(c, refinement); n != nil {
		return Simplify(n)
	}
	return c
}

// narrow intersects c with r, or returns nil when no precision is
// gained.
func narrow(c, r Constraint) Constraint {
	if _, ok := r.(*anyC); ok {
		return nil
	}
	if Implies(c, r) {
		return nil
	}
	if Implies(r, c) {
		return r
	}
	if nr, ok := r.(*Negate); ok {
		if Implies(c, nr.Inner) {
			return Never
		}
		if u, ok := c.(*Union); ok {
			var kept []Constraint
			for _, v := range u.Variants {
				if Implies(v, nr.Inner) {
					continue
				}
				kept = append(kept, v)
			}
			if len(kept) < len(u.Variants) {
				return &Union{Variants: kept}
			}
		}
		return nil
	}
	if u, ok := c.(*Union); ok {
		var kept []Constraint
		for _, v := range u.Variants {
			if Disjoint(v, r) {
				continue
			}
			nv := narrow(v, r)
			if nv == nil {
				nv = v
			}
			kept = append(kept, nv)
		}
		return &Union{Variants: kept}
	}
	oc, cok := c.(*Object)
	or, rok := r.(*Object)
	if cok && rok {
		fields := make(map[string]Constraint, len(oc.Fields)+len(or.Fields))
		for name, fc := range oc.Fields {
			fields[name] = fc
		}
		for name, rc := range or.Fields {
			if fc, ok := fields[name]; ok {
				fields[name] = NarrowOr(fc, rc)
			} else {
				fields[name] = rc
			}
		}
		return &Object{Fields: fields, Closed: oc.Closed || or.Closed}
	}
	if Disjoint(c, r) {
		return Never
	}
	return nil
}

// Boolean composition

// And conjoins two constraints by mutual narrowing.
func And(a, b Constraint) Constraint {
	if Implies(a, b) {
		return a
	}
	if Implies(b, a) {
		return b
	}
	if n := narrow(a, b); n != nil {
		return Simplify(n)
	}
	if n := narrow(b, a); n != nil {
		return Simplify(n)
	}
	// No structural intersection available; a alone is still sound.
	return a
}

// Or disjoins two constraints.
func Or(a, b Constraint) Constraint {
	return Unify(a, b)
}

// Not negates a constraint.
func Not(a Constraint) Constraint {
	return Simplify(&Negate{Inner: a})
}

// Structural queries

// HasField returns the constraint of the named field when c proves the
// field exists.
func HasField(c Constraint, name string) (Constraint, bool) {
	switch c := c.(type) {
	case *Object:
		fc, ok := c.Fields[name]
		return fc, ok
	case *Exact:
		if c.Val.Kind == value.KindObject {
			if fv, ok := c.Val.Object[name]; ok {
				return OfValue(fv), true
			}
		}
		return nil, false
	case *Union:
		var merged Constraint
		for _, v := range c.Variants {
			fc, ok := HasField(v, name)
			if !ok {
				return nil, false
			}
			if merged == nil {
				merged = fc
			} else {
				merged = Unify(merged, fc)
			}
		}
		return merged, merged != nil
	}
	return nil, false
}

// ProvesNoField reports whether c proves the named field cannot exist.
func ProvesNoField(c Constraint, name string) bool {
	switch c := c.(type) {
	case *Object:
		if !c.Closed {
			return false
		}
		_, ok := c.Fields[name]
		return !ok
	case *Exact:
		if c.Val.Kind != value.KindObject {
			return false
		}
		_, ok := c.Val.Object[name]
		return !ok
	case *Union:
		for _, v := range c.Variants {
			if !ProvesNoField(v, name) {
				return false
			}
		}
		return len(c.Variants) > 0
	}
	return false
}

// ElementAt returns the constraint of element i when c tracks it.
func ElementAt(c Constraint, i int) (Constraint, bool) {
	switch c := c.(type) {
	case *Array:
		if i < 0 || i >= len(c.Elems) {
			return nil, false
		}
		return c.Elems[i], true
	case *ArrayOf:
		if i < 0 {
			return nil, false
		}
		return c.Elem, true
	case *Exact:
		if c.Val.Kind == value.KindArray && i >= 0 && i < len(c.Val.Array) {
			return OfValue(c.Val.Array[i]), true
		}
		return nil, false
	}
	return nil, false
}

// Elements returns the per-index element constraints when c has a known
// arity.
func Elements(c Constraint) ([]Constraint, bool) {
	switch c := c.(type) {
	case *Array:
		return c.Elems, true
	case *Exact:
		if c.Val.Kind == value.KindArray {
			elems := make([]Constraint, len(c.Val.Array))
			for i, el := range c.Val.Array {
				elems[i] = OfValue(el)
			}
			return elems, true
		}
	}
	return nil, false
}

// Length returns the array arity when c pins it down.
func Length(c Constraint) (int, bool) {
	switch c := c.(type) {
	case *Array:
		return len(c.Elems), true
	case *Exact:
		if c.Val.Kind == value.KindArray {
			return len(c.Val.Array), true
		}
	}
	return 0, false
}
