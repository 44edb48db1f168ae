package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"presage/internal/ast"
)

// Kind is the type of a concrete value.
type Kind int

const (
	KindInvalid Kind = iota
	KindNum
	KindStr
	KindBool
	KindNull
	KindObject
	KindArray
	KindClosure
	KindType
	KindBuiltin
)

// Closure is an unevaluated function body with its captured environment.
// SelfName is non-empty for recursive closures.
type Closure struct {
	Params   []ast.Param
	Body     ast.Expr
	Env      map[string]Value
	SelfName string
}

// TypeRep is the constraint a type value wraps. It is an interface here
// so this package stays below the constraint algebra in the import
// graph; the algebra's Constraint satisfies it and consumers assert
// back. (Same inversion the builtin registry uses for host services.)
type TypeRep interface {
	String() string
}

// Value is a concrete, fully-materialized datum. Values are immutable
// once constructed.
type Value struct {
	Kind    Kind
	Num     float64
	Str     string
	Bool    bool
	Object  map[string]Value
	Array   []Value
	Closure *Closure
	Type    TypeRep
	Builtin string // name into the builtin registry
}

// Constructors

func NumVal(v float64) Value   { return Value{Kind: KindNum, Num: v} }
func StrVal(s string) Value    { return Value{Kind: KindStr, Str: s} }
func BoolVal(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func NullVal() Value           { return Value{Kind: KindNull} }
func ObjectVal(fields map[string]Value) Value { return Value{Kind: KindObject, Object: fields} }
func ArrayVal(elems []Value) Value            { return Value{Kind: KindArray, Array: elems} }
func ClosureVal(c *Closure) Value             { return Value{Kind: KindClosure, Closure: c} }
func TypeVal(t TypeRep) Value                 { return Value{Kind: KindType, Type: t} }
func BuiltinVal(name string) Value            { return Value{Kind: KindBuiltin, Builtin: name} }

// IsCompound reports whether the value is structurally compound:
// duplicating its literal form in residual code is what the
// materialization policy exists to avoid.
func (v Value) IsCompound() bool {
	switch v.Kind {
	case KindObject, KindArray, KindClosure:
		return true
	}
	return false
}

func (v Value) IsTruthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNull:
		return false
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNum:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindStr:
		return strconv.Quote(v.Str)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNull:
		return "null"
	case KindObject:
		names := make([]string, 0, len(v.Object))
		for name := range v.Object {
			names = append(names, name)
		}
		sort.Strings(names)
		var b strings.Builder
		b.WriteByte('{')
		for i, name := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v.Object[name].String())
		}
		b.WriteByte('}')
		return b.String()
	case KindArray:
		var b strings.Builder
		b.WriteByte('[')
		for i, el := range v.Array {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(el.String())
		}
		b.WriteByte(']')
		return b.String()
	case KindClosure:
		if v.Closure != nil && v.Closure.SelfName != "" {
			return "<fn " + v.Closure.SelfName + ">"
		}
		return "<fn>"
	case KindType:
		if v.Type == nil {
			return "<type>"
		}
		return v.Type.String()
	case KindBuiltin:
		return "<builtin " + v.Builtin + ">"
	default:
		return fmt.Sprintf("<invalid kind %d>", v.Kind)
	}
}

// Equal deep-compares two values. Closures compare by identity,
// builtins by name, type values by rendered form.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNum:
		return a.Num == b.Num
	case KindStr:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindNull:
		return true
	case KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for name, av := range a.Object {
			bv, ok := b.Object[name]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindClosure:
		return a.Closure == b.Closure
	case KindType:
		if a.Type == nil || b.Type == nil {
			return a.Type == b.Type
		}
		return a.Type.String() == b.Type.String()
	case KindBuiltin:
		return a.Builtin == b.Builtin
	}
	return false
}

// ToExpr renders a value as a literal expression, for embedding known
// values in residual code. Closures, types and builtins have no literal
// form; callers must residualize those through the staging engine.
func ToExpr(v Value) (ast.Expr, bool) {
	switch v.Kind {
	case KindNum:
		return &ast.NumberLit{Value: v.Num}, true
	case KindStr:
		return &ast.StringLit{Value: v.Str}, true
	case KindBool:
		return &ast.BoolLit{Value: v.Bool}, true
	case KindNull:
		return &ast.NullLit{}, true
	case KindObject:
		fields := make([]ast.ObjectField, 0, len(v.Object))
		names := make([]string, 0, len(v.Object))
		for name := range v.Object {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fv, ok := ToExpr(v.Object[name])
			if !ok {
				return nil, false
			}
			fields = append(fields, ast.ObjectField{Name: name, Value: fv})
		}
		return &ast.ObjectLit{Fields: fields}, true
	case KindArray:
		elems := make([]ast.Expr, 0, len(v.Array))
		for _, el := range v.Array {
			ev, ok := ToExpr(el)
			if !ok {
				return nil, false
			}
			elems = append(elems, ev)
		}
		return &ast.ArrayLit{Elems: elems}, true
	}
	return nil, false
}
