package stage

import (
	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/value"
)

// SValue is a staged value: a value about which some amount is known at
// staging time, with enough structure to recover code for whatever is
// not. SValues are created fresh by every staging rule and never
// mutated.
//
// Soundness invariant: every concrete value an SValue can ultimately
// produce satisfies its Constraint. Every staging rule must preserve
// this.
type SValue interface {
	Constraint() constraint.Constraint
	svalue()
}

// Now is a value fully known at staging time. Residual, when set, is a
// cheap origin reference (typically a variable) used in emitted code
// instead of re-embedding a compound literal.
type Now struct {
	Value    value.Value
	Constr   constraint.Constraint
	Residual ast.Expr
}

func (n *Now) Constraint() constraint.Constraint { return n.Constr }

// Later is a value unknown until execution time. Residual is mandatory:
// it is exactly the code that will compute the value.
type Later struct {
	Constr   constraint.Constraint
	Residual ast.Expr
}

func (l *Later) Constraint() constraint.Constraint { return l.Constr }

// LaterArray is an array whose arity is known but whose elements are
// individually staged. Constr stays consistent with the per-element
// constraints, so index-known reads bypass materialization.
type LaterArray struct {
	Elems  []SValue
	Constr constraint.Constraint
}

func (l *LaterArray) Constraint() constraint.Constraint { return l.Constr }

// StagedClosure is a function whose identity is known but whose body
// staging is deferred until call sites are. All closure metadata lives
// here: body, captured environment, optional self-name, and the
// session-unique ID the specialization registry is keyed by.
type StagedClosure struct {
	Params []ast.Param
	Body   ast.Expr
	Env    *Env
	Ref    *RefCtx
	Name   string
	ID     int
	// Extern marks a synthetic closure built from a declaration body
	// template: free variables of its body resolve to external
	// references instead of erroring.
	Extern bool
}

func (c *StagedClosure) Constraint() constraint.Constraint { return constraint.Func }

// ComptimeParams returns the names of parameters that must resolve to
// Now values before the body can be specialized.
func (c *StagedClosure) ComptimeParams() []string {
	var names []string
	for _, p := range c.Params {
		if p.Comptime {
			names = append(names, p.Name)
		}
	}
	return names
}

func (*Now) svalue()           {}
func (*Later) svalue()         {}
func (*LaterArray) svalue()    {}
func (*StagedClosure) svalue() {}

// AllNow reports whether every staged value in the sequence is Now.
func AllNow(svs []SValue) bool {
	for _, sv := range svs {
		if _, ok := sv.(*Now); !ok {
			return false
		}
	}
	return true
}

// NowValues extracts the concrete values of an all-Now sequence.
func NowValues(svs []SValue) ([]value.Value, bool) {
	out := make([]value.Value, len(svs))
	for i, sv := range svs {
		n, ok := sv.(*Now)
		if !ok {
			return nil, false
		}
		out[i] = n.Value
	}
	return out, true
}
