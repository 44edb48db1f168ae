package stage

import (
	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/value"
)

// RefCtx is the flow-sensitive refinement context: extra constraints
// keyed by variable name, layered as scopes nest and merged
// conjunctively on lookup. It is consumed read-only by the engine via
// NarrowOr; like Env it is persistent, so refining one branch never
// leaks into the other.
type RefCtx struct {
	parent *RefCtx
	name   string
	c      constraint.Constraint
}

// With returns a new context with an extra refinement for name.
func (r *RefCtx) With(name string, c constraint.Constraint) *RefCtx {
	return &RefCtx{parent: r, name: name, c: c}
}

// WithAll layers a whole refinement map.
func (r *RefCtx) WithAll(refs map[string]constraint.Constraint) *RefCtx {
	out := r
	for name, c := range refs {
		out = out.With(name, c)
	}
	return out
}

// Lookup returns the conjunction of every refinement recorded for name,
// or nil when there is none.
func (r *RefCtx) Lookup(name string) constraint.Constraint {
	var merged constraint.Constraint
	for ctx := r; ctx != nil; ctx = ctx.parent {
		if ctx.name != name {
			continue
		}
		if merged == nil {
			merged = ctx.c
		} else {
			merged = constraint.And(merged, ctx.c)
		}
	}
	return merged
}

// condRefinements derives flow refinements from the syntactic shape of
// a condition: the first map applies on the then branch, the second on
// the else branch. Extraction is best-effort and purely syntactic;
// shapes it does not recognize refine nothing.
func condRefinements(cond ast.Expr) (pos, neg map[string]constraint.Constraint) {
	pos = map[string]constraint.Constraint{}
	neg = map[string]constraint.Constraint{}
	collectRefinements(cond, pos, neg)
	return pos, neg
}

func collectRefinements(cond ast.Expr, pos, neg map[string]constraint.Constraint) {
	switch e := cond.(type) {
	case *ast.Ident:
		// `if x` takes the then branch only when x is truthy.
		falsy := &constraint.Union{Variants: []constraint.Constraint{
			&constraint.Exact{Val: value.BoolVal(false)},
			constraint.Null,
		}}
		addRefinement(pos, e.Name, &constraint.Negate{Inner: falsy})
		addRefinement(neg, e.Name, falsy)
	case *ast.UnaryExpr:
		if e.Op == "!" {
			collectRefinements(e.Operand, neg, pos)
		}
	case *ast.BinaryExpr:
		switch e.Op {
		case "&&":
			// Both conjuncts hold on the then branch. The negation of a
			// conjunction is disjunctive, so the else branch learns
			// nothing per-variable.
			collectRefinements(e.Left, pos, map[string]constraint.Constraint{})
			collectRefinements(e.Right, pos, map[string]constraint.Constraint{})
		case "==":
			name, c, ok := eqRefinement(e.Left, e.Right)
			if !ok {
				name, c, ok = eqRefinement(e.Right, e.Left)
			}
			if ok {
				addRefinement(pos, name, c)
				addRefinement(neg, name, &constraint.Negate{Inner: c})
			}
		case "!=":
			name, c, ok := eqRefinement(e.Left, e.Right)
			if !ok {
				name, c, ok = eqRefinement(e.Right, e.Left)
			}
			if ok {
				addRefinement(pos, name, &constraint.Negate{Inner: c})
				addRefinement(neg, name, c)
			}
		}
	}
}

// eqRefinement recognizes `x == <literal>` and `typeof(x) == <type name>`
// shapes, returning the refined name and the learned constraint.
func eqRefinement(lhs, rhs ast.Expr) (string, constraint.Constraint, bool) {
	if id, ok := lhs.(*ast.Ident); ok {
		if v, ok := literalValue(rhs); ok {
			return id.Name, &constraint.Exact{Val: v}, true
		}
		return "", nil, false
	}
	if tf, ok := lhs.(*ast.TypeofExpr); ok {
		id, ok := tf.Inner.(*ast.Ident)
		if !ok {
			return "", nil, false
		}
		tn, ok := rhs.(*ast.Ident)
		if !ok {
			return "", nil, false
		}
		if c, ok := primByName(tn.Name); ok {
			return id.Name, c, true
		}
	}
	return "", nil, false
}

func literalValue(e ast.Expr) (value.Value, bool) {
	switch e := e.(type) {
	case *ast.NumberLit:
		return value.NumVal(e.Value), true
	case *ast.StringLit:
		return value.StrVal(e.Value), true
	case *ast.BoolLit:
		return value.BoolVal(e.Value), true
	case *ast.NullLit:
		return value.NullVal(), true
	}
	return value.Value{}, false
}

func primByName(name string) (constraint.Constraint, bool) {
	switch name {
	case "Num":
		return constraint.Num, true
	case "Str":
		return constraint.Str, true
	case "Bool":
		return constraint.Bool, true
	case "Null":
		return constraint.Null, true
	case "Func":
		return constraint.Func, true
	case "Any":
		return constraint.Any, true
	}
	return nil, false
}

func addRefinement(m map[string]constraint.Constraint, name string, c constraint.Constraint) {
	if prev, ok := m[name]; ok {
		m[name] = constraint.And(prev, c)
		return
	}
	m[name] = c
}
