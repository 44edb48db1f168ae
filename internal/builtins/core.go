package builtins

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"presage/internal/constraint"
	"presage/internal/value"
)

func constNum(args []constraint.Constraint) constraint.Constraint { return constraint.Num }
func constStr(args []constraint.Constraint) constraint.Constraint { return constraint.Str }
func constBool(args []constraint.Constraint) constraint.Constraint { return constraint.Bool }

func init() {
	Register(Builtin{
		Meta: Meta{
			Name:       "str",
			Arity:      1,
			ParamNames: []string{"v"},
			Params:     []constraint.Constraint{constraint.Any},
			Result:     constStr,
			Method:     true,
		},
		Call: func(args []value.Value) (value.Value, error) {
			v := args[0]
			if v.Kind == value.KindStr {
				return v, nil
			}
			return value.StrVal(v.String()), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "num",
			Arity:      1,
			ParamNames: []string{"v"},
			Params:     []constraint.Constraint{constraint.Any},
			Result:     constNum,
			Method:     true,
		},
		Call: func(args []value.Value) (value.Value, error) {
			v := args[0]
			switch v.Kind {
			case value.KindNum:
				return v, nil
			case value.KindStr:
				n, err := strconv.ParseFloat(v.Str, 64)
				if err != nil {
					return value.Value{}, fmt.Errorf("num: cannot parse %q", v.Str)
				}
				return value.NumVal(n), nil
			case value.KindBool:
				if v.Bool {
					return value.NumVal(1), nil
				}
				return value.NumVal(0), nil
			}
			return value.Value{}, fmt.Errorf("num: cannot convert %s", v.String())
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "floor",
			Arity:      1,
			ParamNames: []string{"n"},
			Params:     []constraint.Constraint{constraint.Num},
			Result:     constNum,
		},
		Call: func(args []value.Value) (value.Value, error) {
			return value.NumVal(math.Floor(args[0].Num)), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "abs",
			Arity:      1,
			ParamNames: []string{"n"},
			Params:     []constraint.Constraint{constraint.Num},
			Result:     constNum,
		},
		Call: func(args []value.Value) (value.Value, error) {
			return value.NumVal(math.Abs(args[0].Num)), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "min",
			Arity:      2,
			ParamNames: []string{"a", "b"},
			Params:     []constraint.Constraint{constraint.Num, constraint.Num},
			Result:     constNum,
		},
		Call: func(args []value.Value) (value.Value, error) {
			return value.NumVal(math.Min(args[0].Num, args[1].Num)), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "max",
			Arity:      2,
			ParamNames: []string{"a", "b"},
			Params:     []constraint.Constraint{constraint.Num, constraint.Num},
			Result:     constNum,
		},
		Call: func(args []value.Value) (value.Value, error) {
			return value.NumVal(math.Max(args[0].Num, args[1].Num)), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "print",
			Arity:      1,
			ParamNames: []string{"v"},
			Params:     []constraint.Constraint{constraint.Any},
			Result: func(args []constraint.Constraint) constraint.Constraint {
				return constraint.Null
			},
		},
		Call: func(args []value.Value) (value.Value, error) {
			fmt.Println(args[0].String())
			return value.NullVal(), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "keys",
			Arity:      1,
			ParamNames: []string{"obj"},
			Params:     []constraint.Constraint{constraint.Any},
			Result: func(args []constraint.Constraint) constraint.Constraint {
				return &constraint.ArrayOf{Elem: constraint.Str}
			},
			Method: true,
		},
		Call: func(args []value.Value) (value.Value, error) {
			if args[0].Kind != value.KindObject {
				return value.Value{}, fmt.Errorf("keys: expected object, got %s", args[0].String())
			}
			names := make([]string, 0, len(args[0].Object))
			for name := range args[0].Object {
				names = append(names, name)
			}
			sort.Strings(names)
			elems := make([]value.Value, len(names))
			for i, name := range names {
				elems[i] = value.StrVal(name)
			}
			return value.ArrayVal(elems), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "has",
			Arity:      2,
			ParamNames: []string{"obj", "name"},
			Params:     []constraint.Constraint{constraint.Any, constraint.Str},
			Result:     constBool,
			Method:     true,
		},
		Call: func(args []value.Value) (value.Value, error) {
			if args[0].Kind != value.KindObject {
				return value.Value{}, fmt.Errorf("has: expected object, got %s", args[0].String())
			}
			_, ok := args[0].Object[args[1].Str]
			return value.BoolVal(ok), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "union",
			Arity:      2,
			ParamNames: []string{"a", "b"},
			Params:     []constraint.Constraint{constraint.Type, constraint.Type},
			Result: func(args []constraint.Constraint) constraint.Constraint {
				return constraint.Type
			},
		},
		Call: func(args []value.Value) (value.Value, error) {
			a, aok := args[0].Type.(constraint.Constraint)
			b, bok := args[1].Type.(constraint.Constraint)
			if !aok || !bok {
				return value.Value{}, fmt.Errorf("union: expected type values")
			}
			return value.TypeVal(constraint.Or(a, b)), nil
		},
	})
}
