package ast

import (
	set "github.com/hashicorp/go-set/v3"
)

// Uses reports whether name occurs free in expr. Shadowing binders
// (let, destructuring let, fn parameters, rec self-names, imports) stop
// the walk for the shadowed name. The staging engine asks this of the
// pre-staging body when deciding whether a binding must be materialized.
func Uses(name string, expr Expr) bool {
	switch e := expr.(type) {
	case nil:
		return false
	case *NumberLit, *StringLit, *BoolLit, *NullLit:
		return false
	case *Ident:
		return e.Name == name
	case *UnaryExpr:
		return Uses(name, e.Operand)
	case *BinaryExpr:
		return Uses(name, e.Left) || Uses(name, e.Right)
	case *IfExpr:
		return Uses(name, e.Cond) || Uses(name, e.Then) || Uses(name, e.Else)
	case *LetExpr:
		if Uses(name, e.Value) {
			return true
		}
		if e.Name == name {
			return false // shadowed in body
		}
		return Uses(name, e.Body)
	case *DestructureExpr:
		if Uses(name, e.Value) {
			return true
		}
		for _, n := range e.Names {
			if n == name {
				return false
			}
		}
		return Uses(name, e.Body)
	case *FnExpr:
		if e.SelfName == name {
			return false
		}
		for _, p := range e.Params {
			if p.Name == name {
				return false
			}
		}
		return Uses(name, e.Body)
	case *CallExpr:
		if Uses(name, e.Callee) {
			return true
		}
		for _, a := range e.Args {
			if Uses(name, a) {
				return true
			}
		}
		return false
	case *ObjectLit:
		for _, f := range e.Fields {
			if Uses(name, f.Value) {
				return true
			}
		}
		return false
	case *ArrayLit:
		for _, el := range e.Elems {
			if Uses(name, el) {
				return true
			}
		}
		return false
	case *FieldExpr:
		return Uses(name, e.Recv)
	case *IndexExpr:
		return Uses(name, e.Recv) || Uses(name, e.Index)
	case *MethodExpr:
		if Uses(name, e.Recv) {
			return true
		}
		for _, a := range e.Args {
			if Uses(name, a) {
				return true
			}
		}
		return false
	case *BlockExpr:
		for _, sub := range e.Exprs {
			if Uses(name, sub) {
				return true
			}
		}
		return false
	case *ComptimeExpr:
		return Uses(name, e.Inner)
	case *RuntimeExpr:
		return Uses(name, e.Inner)
	case *AssertExpr:
		return Uses(name, e.Value) || (e.Type != nil && Uses(name, e.Type))
	case *TrustExpr:
		return Uses(name, e.Value) || (e.Type != nil && Uses(name, e.Type))
	case *TypeofExpr:
		return Uses(name, e.Inner)
	case *ImportExpr:
		for _, n := range e.Names {
			if n == name {
				return false
			}
		}
		return Uses(name, e.Body)
	}
	return false
}

// FreeVars returns the set of names occurring free in expr.
func FreeVars(expr Expr) *set.Set[string] {
	free := set.New[string](8)
	collectFree(expr, set.New[string](8), free)
	return free
}

func collectFree(expr Expr, bound, free *set.Set[string]) {
	switch e := expr.(type) {
	case nil:
	case *NumberLit, *StringLit, *BoolLit, *NullLit:
	case *Ident:
		if !bound.Contains(e.Name) {
			free.Insert(e.Name)
		}
	case *UnaryExpr:
		collectFree(e.Operand, bound, free)
	case *BinaryExpr:
		collectFree(e.Left, bound, free)
		collectFree(e.Right, bound, free)
	case *IfExpr:
		collectFree(e.Cond, bound, free)
		collectFree(e.Then, bound, free)
		collectFree(e.Else, bound, free)
	case *LetExpr:
		collectFree(e.Value, bound, free)
		collectFree(e.Body, withBound(bound, e.Name), free)
	case *DestructureExpr:
		collectFree(e.Value, bound, free)
		collectFree(e.Body, withBound(bound, e.Names...), free)
	case *FnExpr:
		inner := bound
		if e.SelfName != "" {
			inner = withBound(inner, e.SelfName)
		}
		for _, p := range e.Params {
			inner = withBound(inner, p.Name)
		}
		collectFree(e.Body, inner, free)
	case *CallExpr:
		collectFree(e.Callee, bound, free)
		for _, a := range e.Args {
			collectFree(a, bound, free)
		}
	case *ObjectLit:
		for _, f := range e.Fields {
			collectFree(f.Value, bound, free)
		}
	case *ArrayLit:
		for _, el := range e.Elems {
			collectFree(el, bound, free)
		}
	case *FieldExpr:
		collectFree(e.Recv, bound, free)
	case *IndexExpr:
		collectFree(e.Recv, bound, free)
		collectFree(e.Index, bound, free)
	case *MethodExpr:
		collectFree(e.Recv, bound, free)
		for _, a := range e.Args {
			collectFree(a, bound, free)
		}
	case *BlockExpr:
		for _, sub := range e.Exprs {
			collectFree(sub, bound, free)
		}
	case *ComptimeExpr:
		collectFree(e.Inner, bound, free)
	case *RuntimeExpr:
		collectFree(e.Inner, bound, free)
	case *AssertExpr:
		collectFree(e.Value, bound, free)
		if e.Type != nil {
			collectFree(e.Type, bound, free)
		}
	case *TrustExpr:
		collectFree(e.Value, bound, free)
		if e.Type != nil {
			collectFree(e.Type, bound, free)
		}
	case *TypeofExpr:
		collectFree(e.Inner, bound, free)
	case *ImportExpr:
		collectFree(e.Body, withBound(bound, e.Names...), free)
	}
}

func withBound(bound *set.Set[string], names ...string) *set.Set[string] {
	out := bound.Copy()
	out.InsertSlice(names)
	return out
}
