package stage

import (
	"fmt"

	"presage/internal/constraint"
	"presage/internal/token"
	"presage/internal/value"
)

// Staging failures fall into four categories, all fatal and propagated
// synchronously to the top-level staging call; nothing is retried.

// UnboundVariableError reports a reference to a name with no binding.
type UnboundVariableError struct {
	Name string
	Pos  token.Position
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("%d:%d: unbound variable %q", e.Pos.Line, e.Pos.Column, e.Name)
}

// TypeError reports an operand, argument or field that fails its
// required constraint.
type TypeError struct {
	Expected constraint.Constraint
	Actual   constraint.Constraint
	Context  string
	Pos      token.Position
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%d:%d: %s: expected %s, got %s",
		e.Pos.Line, e.Pos.Column, e.Context, e.Expected, e.Actual)
}

// AssertionError reports a compile-time-known assertion that failed.
type AssertionError struct {
	Value  value.Value
	Constr constraint.Constraint
	Pos    token.Position
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%d:%d: assertion failed: %s does not satisfy %s",
		e.Pos.Line, e.Pos.Column, e.Value, e.Constr)
}

// StagingError reports an expression required to be known at staging
// time that turned out to be runtime-only. Rendered carries the
// offending expression so the user sees exactly what was missing.
type StagingError struct {
	Rendered string
	Constr   constraint.Constraint
	Pos      token.Position
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("%d:%d: not known at staging time: %s (constraint %s)",
		e.Pos.Line, e.Pos.Column, e.Rendered, e.Constr)
}
