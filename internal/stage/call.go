package stage

import (
	"fmt"

	"presage/internal/ast"
	"presage/internal/builtins"
	"presage/internal/constraint"
	"presage/internal/token"
	"presage/internal/value"
)

func (e *Engine) stageCall(env *Env, ref *RefCtx, x *ast.CallExpr) (SValue, error) {
	callee, err := e.Stage(env, ref, x.Callee)
	if err != nil {
		return nil, err
	}
	args := make([]SValue, len(x.Args))
	for i, a := range x.Args {
		sv, err := e.Stage(env, ref, a)
		if err != nil {
			return nil, err
		}
		args[i] = sv
	}
	return e.apply(callee, args, x.Pos())
}

func (e *Engine) stageMethod(env *Env, ref *RefCtx, x *ast.MethodExpr) (SValue, error) {
	recv, err := e.Stage(env, ref, x.Recv)
	if err != nil {
		return nil, err
	}
	args := make([]SValue, len(x.Args))
	for i, a := range x.Args {
		sv, err := e.Stage(env, ref, a)
		if err != nil {
			return nil, err
		}
		args[i] = sv
	}

	// The builtin method sugar: `xs.map(f)` is `map(xs, f)`.
	if b := builtins.Lookup(x.Name); b != nil && b.Meta.Method {
		return e.applyBuiltin(b, append([]SValue{recv}, args...), x.Pos())
	}

	// Otherwise a callable field on the receiver.
	fn, err := e.extractField(recv, x.Name, x.Pos(), nil)
	if err != nil {
		return nil, err
	}
	return e.apply(fn, args, x.Pos())
}

// apply dispatches a staged call over callee shape: builtin, closure,
// or an unknown callable deferred wholesale.
func (e *Engine) apply(callee SValue, args []SValue, pos token.Position) (SValue, error) {
	switch c := callee.(type) {
	case *StagedClosure:
		return e.applyClosure(c, args, pos)
	case *Now:
		switch c.Value.Kind {
		case value.KindBuiltin:
			b := builtins.Lookup(c.Value.Builtin)
			if b == nil {
				return nil, fmt.Errorf("%d:%d: unknown builtin %q", pos.Line, pos.Column, c.Value.Builtin)
			}
			return e.applyBuiltin(b, args, pos)
		case value.KindClosure:
			return e.applyClosure(e.liftClosure(c.Value.Closure), args, pos)
		default:
			return nil, &TypeError{
				Expected: constraint.Func,
				Actual:   c.Constr,
				Context:  "callee",
				Pos:      pos,
			}
		}
	}

	if constraint.Disjoint(callee.Constraint(), constraint.Func) {
		return nil, &TypeError{
			Expected: constraint.Func,
			Actual:   callee.Constraint(),
			Context:  "callee",
			Pos:      pos,
		}
	}

	// The callee itself is only known at execution time, so the whole
	// call is deferred.
	cr, err := e.residualOf(callee)
	if err != nil {
		return nil, err
	}
	argRs, err := e.residualsOf(args)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   constraint.Any,
		Residual: &ast.CallExpr{Callee: cr, Args: argRs},
	}, nil
}

// liftClosure raises a concrete closure value into the staged world.
func (e *Engine) liftClosure(c *value.Closure) *StagedClosure {
	env := EmptyEnv()
	for name, v := range c.Env {
		env = env.Set(name, nowOf(v))
	}
	return &StagedClosure{
		Params: c.Params,
		Body:   c.Body,
		Env:    env,
		Name:   c.SelfName,
		ID:     e.Sess.nextClosureID(),
	}
}

func (e *Engine) applyBuiltin(b *builtins.Builtin, args []SValue, pos token.Position) (SValue, error) {
	if len(args) != b.Meta.Arity {
		return nil, fmt.Errorf("%d:%d: %s expects %d arguments, got %d",
			pos.Line, pos.Column, b.Meta.Name, b.Meta.Arity, len(args))
	}
	for i, a := range args {
		req := b.Meta.Params[i]
		ctx := fmt.Sprintf("argument %s of %s", b.Meta.ParamNames[i], b.Meta.Name)
		if n, ok := a.(*Now); ok {
			if !constraint.ValueSatisfies(n.Value, req) {
				return nil, &TypeError{Expected: req, Actual: n.Constr, Context: ctx, Pos: pos}
			}
			continue
		}
		if constraint.Disjoint(a.Constraint(), req) {
			return nil, &TypeError{Expected: req, Actual: a.Constraint(), Context: ctx, Pos: pos}
		}
	}

	if b.Stage != nil {
		iargs := make([]interface{}, len(args))
		for i := range args {
			iargs[i] = args[i]
		}
		out, err := b.Stage(&builtinCtx{eng: e, pos: pos}, iargs)
		if err != nil {
			return nil, err
		}
		sv, ok := out.(SValue)
		if !ok {
			return nil, fmt.Errorf("builtin %s produced a non-staged result", b.Meta.Name)
		}
		return sv, nil
	}

	if vals, ok := NowValues(args); ok {
		v, err := b.Call(vals)
		if err != nil {
			return nil, fmt.Errorf("%d:%d: %s: %w", pos.Line, pos.Column, b.Meta.Name, err)
		}
		return nowOf(v), nil
	}

	argRs, err := e.residualsOf(args)
	if err != nil {
		return nil, err
	}
	rc := constraint.Any
	if b.Meta.Result != nil {
		cs := make([]constraint.Constraint, len(args))
		for i, a := range args {
			cs[i] = a.Constraint()
		}
		rc = b.Meta.Result(cs)
	}
	return &Later{
		Constr:   rc,
		Residual: &ast.CallExpr{Callee: &ast.Ident{Name: b.Meta.Name}, Args: argRs},
	}, nil
}

func (e *Engine) residualsOf(args []SValue) ([]ast.Expr, error) {
	out := make([]ast.Expr, len(args))
	for i, a := range args {
		r, err := e.residualOf(a)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// builtinCtx adapts the engine to the restricted context staged
// builtins see. Staged values cross the boundary as interface{}.
type builtinCtx struct {
	eng *Engine
	pos token.Position
}

func (c *builtinCtx) CallClosure(fn interface{}, args []interface{}) (interface{}, error) {
	fsv, ok := fn.(SValue)
	if !ok {
		return nil, fmt.Errorf("CallClosure: not a staged value: %T", fn)
	}
	sargs := make([]SValue, len(args))
	for i, a := range args {
		sv, ok := a.(SValue)
		if !ok {
			return nil, fmt.Errorf("CallClosure: not a staged value: %T", a)
		}
		sargs[i] = sv
	}
	return c.eng.apply(fsv, sargs, c.pos)
}

func (c *builtinCtx) Residual(sv interface{}) (ast.Expr, error) {
	s, ok := sv.(SValue)
	if !ok {
		return nil, fmt.Errorf("Residual: not a staged value: %T", sv)
	}
	return c.eng.residualOf(s)
}

func (c *builtinCtx) FreshVar(prefix string) string {
	return c.eng.Sess.FreshVar(prefix)
}

func (c *builtinCtx) Now(v value.Value) interface{} {
	return nowOf(v)
}

func (c *builtinCtx) Later(con constraint.Constraint, residual ast.Expr) interface{} {
	return &Later{Constr: con, Residual: residual}
}

func (c *builtinCtx) LaterArray(elems []interface{}, con constraint.Constraint) interface{} {
	svs := make([]SValue, len(elems))
	for i, el := range elems {
		svs[i], _ = el.(SValue)
	}
	return &LaterArray{Elems: svs, Constr: con}
}

func (c *builtinCtx) NowValue(sv interface{}) (value.Value, bool) {
	if n, ok := sv.(*Now); ok {
		return n.Value, true
	}
	return value.Value{}, false
}

func (c *builtinCtx) ElementsOf(sv interface{}) ([]interface{}, bool) {
	switch sv := sv.(type) {
	case *LaterArray:
		out := make([]interface{}, len(sv.Elems))
		for i, el := range sv.Elems {
			out[i] = el
		}
		return out, true
	case *Now:
		if sv.Value.Kind != value.KindArray {
			return nil, false
		}
		out := make([]interface{}, len(sv.Value.Array))
		for i, el := range sv.Value.Array {
			n := &Now{Value: el, Constr: constraint.OfValue(el)}
			if sv.Residual != nil && el.IsCompound() {
				n.Residual = &ast.IndexExpr{
					Recv:  sv.Residual,
					Index: &ast.NumberLit{Value: float64(i)},
				}
			}
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func (c *builtinCtx) ConstraintOf(sv interface{}) constraint.Constraint {
	if s, ok := sv.(SValue); ok {
		return s.Constraint()
	}
	return constraint.Any
}
