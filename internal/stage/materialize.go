package stage

import (
	"presage/internal/ast"
)

// needsBinding decides whether a let-bound staged value must be kept as
// an explicit residual binding rather than inlined at its use sites.
//
// Materialize iff:
//   - the value is Later/LaterArray (its residual may be expensive or
//     effectful) and the name is used in the body, unless the residual
//     is already trivial (bare variable or literal, safe to duplicate);
//   - or the value is Now but structurally compound and the name is
//     used (inlining would duplicate the literal data).
//
// Use is checked against the original pre-staging body so the question
// never requires staging the body first. Now scalars always inline.
func needsBinding(bound SValue, name string, body ast.Expr) bool {
	switch sv := bound.(type) {
	case *Later:
		if ast.IsTrivial(sv.Residual) {
			return false
		}
		return ast.Uses(name, body)
	case *LaterArray:
		return ast.Uses(name, body)
	case *Now:
		if !sv.Value.IsCompound() {
			return false
		}
		return ast.Uses(name, body)
	case *StagedClosure:
		// Closures materialize through the specialization registry,
		// not through let bindings.
		return false
	}
	return false
}
