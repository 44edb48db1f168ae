package builtins

import (
	"fmt"
	"sync"

	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/value"
)

// Context is the restricted view of the staging engine handed to staged
// builtins. Staged values travel as interface{} to keep this package
// below the engine in the import graph; handlers use the accessors here
// instead of asserting concrete engine types.
type Context interface {
	// CallClosure stages a call of a staged closure or closure value
	// with the given staged arguments.
	CallClosure(fn interface{}, args []interface{}) (interface{}, error)
	// Residual returns an expression that recomputes the staged value
	// at execution time.
	Residual(sv interface{}) (ast.Expr, error)
	// FreshVar mints a unique residual binding name.
	FreshVar(prefix string) string

	// Staged-value constructors and accessors.
	Now(v value.Value) interface{}
	Later(c constraint.Constraint, residual ast.Expr) interface{}
	LaterArray(elems []interface{}, c constraint.Constraint) interface{}
	NowValue(sv interface{}) (value.Value, bool)
	ElementsOf(sv interface{}) ([]interface{}, bool)
	ConstraintOf(sv interface{}) constraint.Constraint
}

// Meta describes a builtin's signature: parameter constraints checked at
// staging time and a result-constraint transfer function.
type Meta struct {
	Name       string
	Arity      int
	ParamNames []string
	Params     []constraint.Constraint
	// Result computes the result constraint from the argument
	// constraints. Nil means "exact constraint of the computed value"
	// for pure builtins and Any for residualized calls.
	Result func(args []constraint.Constraint) constraint.Constraint
	// Method marks the builtin as reachable through `recv.name(args)`
	// sugar (the receiver becomes the first argument).
	Method bool
}

// Builtin is a registered builtin function. Exactly one of Call and
// Stage must be set: Call is a pure value-level implementation invoked
// when every argument is known; Stage receives the restricted engine
// context and takes over the staging of the whole call.
type Builtin struct {
	Meta Meta

	Call  func(args []value.Value) (value.Value, error)
	Stage func(ctx Context, args []interface{}) (interface{}, error)
}

type registry struct {
	mu     sync.RWMutex
	byName map[string]*Builtin
}

var globalRegistry = &registry{
	byName: make(map[string]*Builtin),
}

// Register registers a builtin. Called from init() functions; panics on
// invalid metadata or duplicate names.
func Register(b Builtin) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if len(b.Meta.ParamNames) != b.Meta.Arity {
		panic(fmt.Sprintf("builtin %s: ParamNames length (%d) != Arity (%d)",
			b.Meta.Name, len(b.Meta.ParamNames), b.Meta.Arity))
	}
	if len(b.Meta.Params) != b.Meta.Arity {
		panic(fmt.Sprintf("builtin %s: Params length (%d) != Arity (%d)",
			b.Meta.Name, len(b.Meta.Params), b.Meta.Arity))
	}
	if (b.Call == nil) == (b.Stage == nil) {
		panic(fmt.Sprintf("builtin %s: exactly one of Call and Stage must be set", b.Meta.Name))
	}
	if _, exists := globalRegistry.byName[b.Meta.Name]; exists {
		panic(fmt.Sprintf("builtin name %q is already registered", b.Meta.Name))
	}
	globalRegistry.byName[b.Meta.Name] = &b
}

// Lookup finds a builtin by name. Returns nil if not found.
func Lookup(name string) *Builtin {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return globalRegistry.byName[name]
}

// All returns the metadata of every registered builtin.
func All() []Meta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	result := make([]Meta, 0, len(globalRegistry.byName))
	for _, b := range globalRegistry.byName {
		result = append(result, b.Meta)
	}
	return result
}
