package stage

import (
	"iter"

	set "github.com/hashicorp/go-set/v3"

	"presage/internal/token"
)

// Env is the staged environment: a persistent name→SValue map built
// from parent-linked frames. Set allocates one frame and shares the
// rest, so extending an environment never disturbs any other holder —
// required because the engine stages both branches of unresolved
// conditionals against the same base.
type Env struct {
	parent *Env
	name   string
	sv     SValue
}

// EmptyEnv returns the empty environment.
func EmptyEnv() *Env { return nil }

// Set returns a new environment with name bound to sv. The receiver is
// unchanged.
func (e *Env) Set(name string, sv SValue) *Env {
	return &Env{parent: e, name: name, sv: sv}
}

// Get returns the innermost binding of name.
func (e *Env) Get(name string, pos token.Position) (SValue, error) {
	for frame := e; frame != nil; frame = frame.parent {
		if frame.name == name {
			return frame.sv, nil
		}
	}
	return nil, &UnboundVariableError{Name: name, Pos: pos}
}

// Has reports whether name is bound.
func (e *Env) Has(name string) bool {
	for frame := e; frame != nil; frame = frame.parent {
		if frame.name == name {
			return true
		}
	}
	return false
}

// Entries yields each visible binding exactly once, innermost binding
// winning over shadowed outer ones. The sequence is lazy and
// single-use; closure-capture analysis walks it without forcing the
// whole chain when it stops early.
func (e *Env) Entries() iter.Seq2[string, SValue] {
	return func(yield func(string, SValue) bool) {
		seen := set.New[string](8)
		for frame := e; frame != nil; frame = frame.parent {
			if seen.Contains(frame.name) {
				continue
			}
			seen.Insert(frame.name)
			if !yield(frame.name, frame.sv) {
				return
			}
		}
	}
}
