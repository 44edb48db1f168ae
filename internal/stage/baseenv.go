package stage

import (
	"presage/internal/ast"
	"presage/internal/builtins"
	"presage/internal/constraint"
	"presage/internal/value"
)

// typeNames are the built-in type values usable in type positions and
// with typeof comparisons.
var typeNames = map[string]constraint.Constraint{
	"Num":   constraint.Num,
	"Str":   constraint.Str,
	"Bool":  constraint.Bool,
	"Null":  constraint.Null,
	"Func":  constraint.Func,
	"Any":   constraint.Any,
	"Never": constraint.Never,
}

// BaseEnv is the root environment: every registered builtin, bound
// with a variable-reference residual so deferred calls print as plain
// names, and the built-in type values.
func (e *Engine) BaseEnv() *Env {
	env := EmptyEnv()
	for _, m := range builtins.All() {
		env = env.Set(m.Name, &Now{
			Value:    value.BuiltinVal(m.Name),
			Constr:   constraint.Func,
			Residual: &ast.Ident{Name: m.Name},
		})
	}
	for name, c := range typeNames {
		env = env.Set(name, &Now{
			Value:  value.TypeVal(c),
			Constr: constraint.Type,
		})
	}
	return env
}
