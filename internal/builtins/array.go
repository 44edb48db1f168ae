package builtins

import (
	"fmt"

	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/value"
)

func init() {
	// len is staged: a LaterArray's arity is known even when its
	// elements are not, so length never forces materialization.
	Register(Builtin{
		Meta: Meta{
			Name:       "len",
			Arity:      1,
			ParamNames: []string{"v"},
			Params:     []constraint.Constraint{constraint.Any},
			Result:     constNum,
			Method:     true,
		},
		Stage: func(ctx Context, args []interface{}) (interface{}, error) {
			if v, ok := ctx.NowValue(args[0]); ok {
				switch v.Kind {
				case value.KindStr:
					return ctx.Now(value.NumVal(float64(len([]rune(v.Str))))), nil
				case value.KindArray:
					return ctx.Now(value.NumVal(float64(len(v.Array)))), nil
				case value.KindObject:
					return ctx.Now(value.NumVal(float64(len(v.Object)))), nil
				}
				return nil, fmt.Errorf("len: expected string, array or object, got %s", v.String())
			}
			if n, ok := constraint.Length(ctx.ConstraintOf(args[0])); ok {
				return ctx.Now(value.NumVal(float64(n))), nil
			}
			r, err := ctx.Residual(args[0])
			if err != nil {
				return nil, err
			}
			return ctx.Later(constraint.Num, &ast.CallExpr{
				Callee: &ast.Ident{Name: "len"},
				Args:   []ast.Expr{r},
			}), nil
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "concat",
			Arity:      2,
			ParamNames: []string{"a", "b"},
			Params:     []constraint.Constraint{constraint.Any, constraint.Any},
			Result:     nil,
			Method:     true,
		},
		Stage: func(ctx Context, args []interface{}) (interface{}, error) {
			av, aok := ctx.NowValue(args[0])
			bv, bok := ctx.NowValue(args[1])
			if aok && bok && av.Kind == value.KindStr && bv.Kind == value.KindStr {
				return ctx.Now(value.StrVal(av.Str + bv.Str)), nil
			}
			ae, aelems := ctx.ElementsOf(args[0])
			be, belems := ctx.ElementsOf(args[1])
			if aelems && belems {
				// Per-element staging survives concatenation.
				elems := append(append([]interface{}{}, ae...), be...)
				cs := make([]constraint.Constraint, len(elems))
				for i, el := range elems {
					cs[i] = ctx.ConstraintOf(el)
				}
				return ctx.LaterArray(elems, &constraint.Array{Elems: cs}), nil
			}
			ra, err := ctx.Residual(args[0])
			if err != nil {
				return nil, err
			}
			rb, err := ctx.Residual(args[1])
			if err != nil {
				return nil, err
			}
			return ctx.Later(constraint.Any, &ast.CallExpr{
				Callee: &ast.Ident{Name: "concat"},
				Args:   []ast.Expr{ra, rb},
			}), nil
		},
	})

	// Higher-order array builtins. These need the engine to invoke the
	// function argument per element, so they are staged and work
	// through the restricted context only.
	Register(Builtin{
		Meta: Meta{
			Name:       "map",
			Arity:      2,
			ParamNames: []string{"xs", "f"},
			Params:     []constraint.Constraint{constraint.Any, constraint.Func},
			Result:     nil,
			Method:     true,
		},
		Stage: func(ctx Context, args []interface{}) (interface{}, error) {
			if elems, ok := ctx.ElementsOf(args[0]); ok {
				out := make([]interface{}, len(elems))
				cs := make([]constraint.Constraint, len(elems))
				for i, el := range elems {
					r, err := ctx.CallClosure(args[1], []interface{}{el})
					if err != nil {
						return nil, err
					}
					out[i] = r
					cs[i] = ctx.ConstraintOf(r)
				}
				return ctx.LaterArray(out, &constraint.Array{Elems: cs}), nil
			}
			return residualCall(ctx, "map", args, &constraint.ArrayOf{Elem: constraint.Any})
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "filter",
			Arity:      2,
			ParamNames: []string{"xs", "f"},
			Params:     []constraint.Constraint{constraint.Any, constraint.Func},
			Result:     nil,
			Method:     true,
		},
		Stage: func(ctx Context, args []interface{}) (interface{}, error) {
			elems, ok := ctx.ElementsOf(args[0])
			if ok {
				var kept []interface{}
				var cs []constraint.Constraint
				decided := true
				for _, el := range elems {
					r, err := ctx.CallClosure(args[1], []interface{}{el})
					if err != nil {
						return nil, err
					}
					v, now := ctx.NowValue(r)
					if !now {
						// Keeping or dropping this element is a
						// runtime decision; the whole filter is.
						decided = false
						break
					}
					if v.IsTruthy() {
						kept = append(kept, el)
						cs = append(cs, ctx.ConstraintOf(el))
					}
				}
				if decided {
					return ctx.LaterArray(kept, &constraint.Array{Elems: cs}), nil
				}
			}
			return residualCall(ctx, "filter", args, &constraint.ArrayOf{Elem: constraint.Any})
		},
	})

	Register(Builtin{
		Meta: Meta{
			Name:       "fold",
			Arity:      3,
			ParamNames: []string{"xs", "init", "f"},
			Params:     []constraint.Constraint{constraint.Any, constraint.Any, constraint.Func},
			Result:     nil,
			Method:     true,
		},
		Stage: func(ctx Context, args []interface{}) (interface{}, error) {
			if elems, ok := ctx.ElementsOf(args[0]); ok {
				acc := args[1]
				for _, el := range elems {
					r, err := ctx.CallClosure(args[2], []interface{}{acc, el})
					if err != nil {
						return nil, err
					}
					acc = r
				}
				return acc, nil
			}
			return residualCall(ctx, "fold", args, constraint.Any)
		},
	})
}

func residualCall(ctx Context, name string, args []interface{}, result constraint.Constraint) (interface{}, error) {
	out := make([]ast.Expr, len(args))
	for i, a := range args {
		r, err := ctx.Residual(a)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return ctx.Later(result, &ast.CallExpr{
		Callee: &ast.Ident{Name: name},
		Args:   out,
	}), nil
}
