package stage

import (
	"fmt"
	"math"

	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/token"
	"presage/internal/value"
)

// Decl is one export resolved by the declaration loader: either a bare
// constraint (the import is an opaque external value of that type) or a
// type-parameter signature with a body template, from which the engine
// builds a synthetic staged closure instead of inlining the import.
type Decl struct {
	Constraint constraint.Constraint
	Params     []ast.Param
	Body       ast.Expr
}

// Loader resolves import specifiers to declared exports.
type Loader interface {
	Load(specifier string, names []string) (map[string]Decl, error)
}

// Engine is the recursive staging evaluator. It is single-threaded and
// synchronous: every call either returns an SValue or raises.
type Engine struct {
	Sess   *Session
	Loader Loader

	// ExternFree makes unbound variables resolve to external Later
	// references instead of erroring, for staging program fragments
	// whose inputs are supplied at execution time. The engine switches
	// it on itself while staging declaration body templates, whose
	// free names are external by construction.
	ExternFree bool

	// TransparentRuntime makes runtime(...) markers pass their inner
	// value through instead of deferring it. This is full evaluation:
	// with it set, a closed program stages to a plain value.
	TransparentRuntime bool
}

// NewEngine creates an engine bound to a session.
func NewEngine(sess *Session, loader Loader) *Engine {
	return &Engine{Sess: sess, Loader: loader}
}

// Stage evaluates expr as far as its inputs allow, deferring the rest
// into residual code.
func (e *Engine) Stage(env *Env, ref *RefCtx, expr ast.Expr) (SValue, error) {
	if err := e.Sess.charge(); err != nil {
		return nil, err
	}

	switch x := expr.(type) {
	case *ast.NumberLit:
		return nowOf(value.NumVal(x.Value)), nil
	case *ast.StringLit:
		return nowOf(value.StrVal(x.Value)), nil
	case *ast.BoolLit:
		return nowOf(value.BoolVal(x.Value)), nil
	case *ast.NullLit:
		return nowOf(value.NullVal()), nil

	case *ast.Ident:
		return e.stageIdent(env, ref, x)
	case *ast.UnaryExpr:
		return e.stageUnary(env, ref, x)
	case *ast.BinaryExpr:
		return e.stageBinary(env, ref, x)
	case *ast.IfExpr:
		return e.stageIf(env, ref, x)
	case *ast.LetExpr:
		return e.stageLet(env, ref, x)
	case *ast.DestructureExpr:
		return e.stageDestructure(env, ref, x)
	case *ast.FnExpr:
		// Functions are known as soon as defined; body staging is
		// deferred until call sites are known.
		return &StagedClosure{
			Params: x.Params,
			Body:   x.Body,
			Env:    env,
			Ref:    ref,
			Name:   x.SelfName,
			ID:     e.Sess.nextClosureID(),
		}, nil
	case *ast.CallExpr:
		return e.stageCall(env, ref, x)
	case *ast.MethodExpr:
		return e.stageMethod(env, ref, x)
	case *ast.ObjectLit:
		return e.stageObject(env, ref, x)
	case *ast.ArrayLit:
		return e.stageArray(env, ref, x)
	case *ast.FieldExpr:
		return e.stageField(env, ref, x)
	case *ast.IndexExpr:
		return e.stageIndex(env, ref, x)
	case *ast.BlockExpr:
		return e.stageBlock(env, ref, x)
	case *ast.ComptimeExpr:
		return e.stageComptime(env, ref, x)
	case *ast.RuntimeExpr:
		return e.stageRuntime(env, ref, x)
	case *ast.AssertExpr:
		return e.stageAssert(env, ref, x)
	case *ast.TrustExpr:
		return e.stageTrust(env, ref, x)
	case *ast.TypeofExpr:
		sv, err := e.Stage(env, ref, x.Inner)
		if err != nil {
			return nil, err
		}
		return &Now{
			Value:  value.TypeVal(sv.Constraint()),
			Constr: constraint.Type,
		}, nil
	case *ast.ImportExpr:
		return e.stageImport(env, ref, x)
	}
	return nil, fmt.Errorf("staging: unhandled expression %T", expr)
}

func nowOf(v value.Value) *Now {
	return &Now{Value: v, Constr: constraint.OfValue(v)}
}

// withConstraint rebuilds sv with a narrowed constraint.
func withConstraint(sv SValue, c constraint.Constraint) SValue {
	switch sv := sv.(type) {
	case *Now:
		return &Now{Value: sv.Value, Constr: c, Residual: sv.Residual}
	case *Later:
		return &Later{Constr: c, Residual: sv.Residual}
	case *LaterArray:
		return &LaterArray{Elems: sv.Elems, Constr: c}
	}
	return sv
}

// ---------- Variables ----------

func (e *Engine) stageIdent(env *Env, ref *RefCtx, x *ast.Ident) (SValue, error) {
	sv, err := env.Get(x.Name, x.NamePos)
	if err != nil {
		if e.ExternFree {
			// Free variable of a residualized closure: an external
			// reference bound at execution time.
			return &Later{Constr: constraint.Any, Residual: x}, nil
		}
		return nil, err
	}

	// Flow-sensitive narrowing from the refinement context.
	if r := ref.Lookup(x.Name); r != nil {
		sv = withConstraint(sv, constraint.NarrowOr(sv.Constraint(), r))
	}

	// A compound Now without a residual gets a variable-reference
	// residual so consumers don't re-embed the literal.
	if n, ok := sv.(*Now); ok && n.Value.IsCompound() && n.Residual == nil {
		sv = &Now{Value: n.Value, Constr: n.Constr, Residual: x}
	}
	return sv, nil
}

// ---------- Operators ----------

func (e *Engine) stageUnary(env *Env, ref *RefCtx, x *ast.UnaryExpr) (SValue, error) {
	operand, err := e.Stage(env, ref, x.Operand)
	if err != nil {
		return nil, err
	}

	var req, result constraint.Constraint
	switch x.Op {
	case "-":
		req, result = constraint.Num, constraint.Num
	case "!":
		req, result = constraint.Bool, constraint.Bool
	default:
		return nil, fmt.Errorf("staging: unknown unary operator %q", x.Op)
	}

	if n, ok := operand.(*Now); ok {
		if !constraint.ValueSatisfies(n.Value, req) {
			return nil, &TypeError{
				Expected: req,
				Actual:   n.Constr,
				Context:  "operand of unary " + x.Op,
				Pos:      x.OpPos,
			}
		}
		switch x.Op {
		case "-":
			return nowOf(value.NumVal(-n.Value.Num)), nil
		case "!":
			return nowOf(value.BoolVal(!n.Value.Bool)), nil
		}
	}

	if constraint.Disjoint(operand.Constraint(), req) {
		return nil, &TypeError{
			Expected: req,
			Actual:   operand.Constraint(),
			Context:  "operand of unary " + x.Op,
			Pos:      x.OpPos,
		}
	}
	r, err := e.residualOf(operand)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   result,
		Residual: &ast.UnaryExpr{Op: x.Op, Operand: r, OpPos: x.OpPos},
	}, nil
}

func (e *Engine) stageBinary(env *Env, ref *RefCtx, x *ast.BinaryExpr) (SValue, error) {
	switch x.Op {
	case "&&", "||":
		return e.stageShortCircuit(env, ref, x)
	}

	left, err := e.Stage(env, ref, x.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.Stage(env, ref, x.Right)
	if err != nil {
		return nil, err
	}

	ln, lNow := left.(*Now)
	rn, rNow := right.(*Now)

	switch x.Op {
	case "==", "!=":
		if lNow && rNow {
			eq := value.Equal(ln.Value, rn.Value)
			if x.Op == "!=" {
				eq = !eq
			}
			return nowOf(value.BoolVal(eq)), nil
		}
		return e.residualBinary(x, left, right, constraint.Bool)

	case "<", "<=", ">", ">=":
		if err := e.checkOperand(left, constraint.Num, x, "left"); err != nil {
			return nil, err
		}
		if err := e.checkOperand(right, constraint.Num, x, "right"); err != nil {
			return nil, err
		}
		if lNow && rNow {
			var v bool
			switch x.Op {
			case "<":
				v = ln.Value.Num < rn.Value.Num
			case "<=":
				v = ln.Value.Num <= rn.Value.Num
			case ">":
				v = ln.Value.Num > rn.Value.Num
			case ">=":
				v = ln.Value.Num >= rn.Value.Num
			}
			return nowOf(value.BoolVal(v)), nil
		}
		return e.residualBinary(x, left, right, constraint.Bool)

	case "+":
		numOrStr := &constraint.Union{Variants: []constraint.Constraint{constraint.Num, constraint.Str}}
		if err := e.checkOperand(left, numOrStr, x, "left"); err != nil {
			return nil, err
		}
		if err := e.checkOperand(right, numOrStr, x, "right"); err != nil {
			return nil, err
		}
		if lNow && rNow {
			if ln.Value.Kind == value.KindStr && rn.Value.Kind == value.KindStr {
				return nowOf(value.StrVal(ln.Value.Str + rn.Value.Str)), nil
			}
			if ln.Value.Kind == value.KindNum && rn.Value.Kind == value.KindNum {
				return nowOf(value.NumVal(ln.Value.Num + rn.Value.Num)), nil
			}
			return nil, &TypeError{
				Expected: constraint.OfValue(ln.Value),
				Actual:   constraint.OfValue(rn.Value),
				Context:  "mixed operands of +",
				Pos:      x.Pos(),
			}
		}
		rc := numOrStr
		if constraint.Implies(left.Constraint(), constraint.Num) && constraint.Implies(right.Constraint(), constraint.Num) {
			return e.residualBinary(x, left, right, constraint.Num)
		}
		if constraint.Implies(left.Constraint(), constraint.Str) && constraint.Implies(right.Constraint(), constraint.Str) {
			return e.residualBinary(x, left, right, constraint.Str)
		}
		// Provably mixed operands can never succeed.
		if (constraint.Implies(left.Constraint(), constraint.Num) && constraint.Disjoint(right.Constraint(), constraint.Num)) ||
			(constraint.Implies(left.Constraint(), constraint.Str) && constraint.Disjoint(right.Constraint(), constraint.Str)) {
			return nil, &TypeError{
				Expected: left.Constraint(),
				Actual:   right.Constraint(),
				Context:  "mixed operands of +",
				Pos:      x.Pos(),
			}
		}
		return e.residualBinary(x, left, right, rc)

	case "-", "*", "/", "%":
		if err := e.checkOperand(left, constraint.Num, x, "left"); err != nil {
			return nil, err
		}
		if err := e.checkOperand(right, constraint.Num, x, "right"); err != nil {
			return nil, err
		}
		if lNow && rNow {
			a, b := ln.Value.Num, rn.Value.Num
			var v float64
			switch x.Op {
			case "-":
				v = a - b
			case "*":
				v = a * b
			case "/":
				if b == 0 {
					return nil, fmt.Errorf("%d:%d: division by zero", x.Pos().Line, x.Pos().Column)
				}
				v = a / b
			case "%":
				if b == 0 {
					return nil, fmt.Errorf("%d:%d: division by zero", x.Pos().Line, x.Pos().Column)
				}
				v = math.Mod(a, b)
			}
			return nowOf(value.NumVal(v)), nil
		}
		return e.residualBinary(x, left, right, constraint.Num)
	}
	return nil, fmt.Errorf("staging: unknown binary operator %q", x.Op)
}

// checkOperand statically checks an operand against an operator's
// declared parameter constraint: a Now operand must satisfy it, a
// deferred operand must at least not be provably disjoint from it.
func (e *Engine) checkOperand(sv SValue, req constraint.Constraint, x *ast.BinaryExpr, side string) error {
	if n, ok := sv.(*Now); ok {
		if !constraint.ValueSatisfies(n.Value, req) {
			return &TypeError{
				Expected: req,
				Actual:   n.Constr,
				Context:  side + " operand of " + x.Op,
				Pos:      x.Pos(),
			}
		}
		return nil
	}
	if constraint.Disjoint(sv.Constraint(), req) {
		return &TypeError{
			Expected: req,
			Actual:   sv.Constraint(),
			Context:  side + " operand of " + x.Op,
			Pos:      x.Pos(),
		}
	}
	return nil
}

func (e *Engine) residualBinary(x *ast.BinaryExpr, left, right SValue, result constraint.Constraint) (SValue, error) {
	lr, err := e.residualOf(left)
	if err != nil {
		return nil, err
	}
	rr, err := e.residualOf(right)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   result,
		Residual: &ast.BinaryExpr{Op: x.Op, Left: lr, Right: rr},
	}, nil
}

func (e *Engine) stageShortCircuit(env *Env, ref *RefCtx, x *ast.BinaryExpr) (SValue, error) {
	left, err := e.Stage(env, ref, x.Left)
	if err != nil {
		return nil, err
	}
	if err := e.checkOperand(left, constraint.Bool, x, "left"); err != nil {
		return nil, err
	}

	if ln, ok := left.(*Now); ok {
		// Short-circuit simplification: a known left side either
		// decides the result or makes it exactly the right side.
		if (x.Op == "&&" && !ln.Value.Bool) || (x.Op == "||" && ln.Value.Bool) {
			return nowOf(value.BoolVal(ln.Value.Bool)), nil
		}
		right, err := e.Stage(env, ref, x.Right)
		if err != nil {
			return nil, err
		}
		if err := e.checkOperand(right, constraint.Bool, x, "right"); err != nil {
			return nil, err
		}
		return withConstraint(right, constraint.NarrowOr(right.Constraint(), constraint.Bool)), nil
	}

	right, err := e.Stage(env, ref, x.Right)
	if err != nil {
		return nil, err
	}
	if err := e.checkOperand(right, constraint.Bool, x, "right"); err != nil {
		return nil, err
	}
	return e.residualBinary(x, left, right, constraint.Bool)
}

// ---------- Conditionals ----------

func (e *Engine) stageIf(env *Env, ref *RefCtx, x *ast.IfExpr) (SValue, error) {
	cond, err := e.Stage(env, ref, x.Cond)
	if err != nil {
		return nil, err
	}
	pos, neg := condRefinements(x.Cond)

	if n, ok := cond.(*Now); ok {
		// Dead-branch elimination: only the taken branch is staged,
		// under the refinements the condition grants it.
		if n.Value.IsTruthy() {
			return e.Stage(env, ref.WithAll(pos), x.Then)
		}
		return e.Stage(env, ref.WithAll(neg), x.Else)
	}

	// Undecided condition: both branches are staged — for the union
	// constraint and to surface type errors in code only reachable at
	// execution time.
	thenSV, err := e.Stage(env, ref.WithAll(pos), x.Then)
	if err != nil {
		return nil, err
	}
	elseSV, err := e.Stage(env, ref.WithAll(neg), x.Else)
	if err != nil {
		return nil, err
	}

	cr, err := e.residualOf(cond)
	if err != nil {
		return nil, err
	}
	tr, err := e.residualOf(thenSV)
	if err != nil {
		return nil, err
	}
	er, err := e.residualOf(elseSV)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   constraint.Unify(thenSV.Constraint(), elseSV.Constraint()),
		Residual: &ast.IfExpr{Cond: cr, Then: tr, Else: er, IfPos: x.IfPos},
	}, nil
}

// ---------- Bindings ----------

func (e *Engine) stageLet(env *Env, ref *RefCtx, x *ast.LetExpr) (SValue, error) {
	val, err := e.Stage(env, ref, x.Value)
	if err != nil {
		return nil, err
	}

	// A closure bound to a name inherits it; the recursion table and
	// emitted specializations are keyed by that name.
	if sc, ok := val.(*StagedClosure); ok && sc.Name == "" {
		val = &StagedClosure{
			Params: sc.Params, Body: sc.Body, Env: sc.Env, Ref: sc.Ref,
			Name: x.Name, ID: sc.ID,
		}
	}

	if !needsBinding(val, x.Name, x.Body) {
		return e.Stage(env.Set(x.Name, val), ref, x.Body)
	}

	body, err := e.Stage(env.Set(x.Name, reboundFor(val, x.Name)), ref, x.Body)
	if err != nil {
		return nil, err
	}
	// A Later input can still yield a fully known output (e.g. only
	// compile-time metadata of the binding was used).
	switch body.(type) {
	case *Now, *StagedClosure:
		return body, nil
	}

	vr, err := e.residualOf(val)
	if err != nil {
		return nil, err
	}
	br, err := e.residualOf(body)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   body.Constraint(),
		Residual: &ast.LetExpr{Name: x.Name, Value: vr, Body: br, LetPos: x.LetPos},
	}, nil
}

// reboundFor is the environment image of a materialized binding: uses
// in the body refer to the bound name rather than re-running (or
// re-embedding) the bound expression.
func reboundFor(sv SValue, name string) SValue {
	nameRef := &ast.Ident{Name: name}
	switch sv := sv.(type) {
	case *Now:
		return &Now{Value: sv.Value, Constr: sv.Constr, Residual: nameRef}
	case *Later:
		return &Later{Constr: sv.Constr, Residual: nameRef}
	case *LaterArray:
		elems := make([]SValue, len(sv.Elems))
		for i, el := range sv.Elems {
			if n, ok := el.(*Now); ok {
				elems[i] = n
				continue
			}
			elems[i] = &Later{
				Constr: el.Constraint(),
				Residual: &ast.IndexExpr{
					Recv:  nameRef,
					Index: &ast.NumberLit{Value: float64(i)},
				},
			}
		}
		return &LaterArray{Elems: elems, Constr: sv.Constr}
	}
	return sv
}

func (e *Engine) stageDestructure(env *Env, ref *RefCtx, x *ast.DestructureExpr) (SValue, error) {
	val, err := e.Stage(env, ref, x.Value)
	if err != nil {
		return nil, err
	}

	anyUsed := false
	for _, name := range x.Names {
		if ast.Uses(name, x.Body) {
			anyUsed = true
			break
		}
	}

	materialize := false
	switch sv := val.(type) {
	case *Later:
		materialize = anyUsed && !ast.IsTrivial(sv.Residual)
	case *Now:
		if sv.Value.Kind != value.KindObject {
			return nil, &TypeError{
				Expected: &constraint.Object{Fields: map[string]constraint.Constraint{}},
				Actual:   sv.Constr,
				Context:  "destructuring let",
				Pos:      x.LetPos,
			}
		}
	default:
		return nil, &TypeError{
			Expected: &constraint.Object{Fields: map[string]constraint.Constraint{}},
			Actual:   val.Constraint(),
			Context:  "destructuring let",
			Pos:      x.LetPos,
		}
	}

	matName := ""
	ref2 := ref
	env2 := env
	var fieldRef func(name string) ast.Expr
	if materialize {
		matName = e.Sess.FreshVar("d")
		fieldRef = func(name string) ast.Expr {
			return &ast.FieldExpr{Recv: &ast.Ident{Name: matName}, Name: name}
		}
	} else {
		fieldRef = func(name string) ast.Expr { return nil }
	}

	for _, name := range x.Names {
		fieldSV, err := e.extractField(val, name, x.LetPos, fieldRef(name))
		if err != nil {
			return nil, err
		}
		env2 = env2.Set(name, fieldSV)
	}

	body, err := e.Stage(env2, ref2, x.Body)
	if err != nil {
		return nil, err
	}
	if !materialize {
		return body, nil
	}
	switch body.(type) {
	case *Now, *StagedClosure:
		return body, nil
	}
	vr, err := e.residualOf(val)
	if err != nil {
		return nil, err
	}
	br, err := e.residualOf(body)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   body.Constraint(),
		Residual: &ast.LetExpr{Name: matName, Value: vr, Body: br, LetPos: x.LetPos},
	}, nil
}

// extractField projects one field out of a staged receiver. ref, when
// non-nil, is the residual expression uses should flow through.
func (e *Engine) extractField(recv SValue, name string, pos token.Position, ref ast.Expr) (SValue, error) {
	switch sv := recv.(type) {
	case *Now:
		if sv.Value.Kind != value.KindObject {
			return nil, &TypeError{
				Expected: &constraint.Object{Fields: map[string]constraint.Constraint{name: constraint.Any}},
				Actual:   sv.Constr,
				Context:  "field access ." + name,
				Pos:      pos,
			}
		}
		fv, ok := sv.Value.Object[name]
		if !ok {
			return nil, &TypeError{
				Expected: &constraint.Object{Fields: map[string]constraint.Constraint{name: constraint.Any}},
				Actual:   sv.Constr,
				Context:  "missing field ." + name,
				Pos:      pos,
			}
		}
		var fieldRes ast.Expr
		if ref != nil && fv.IsCompound() {
			fieldRes = ref
		} else if sv.Residual != nil {
			fieldRes = &ast.FieldExpr{Recv: sv.Residual, Name: name}
		}
		return &Now{Value: fv, Constr: constraint.OfValue(fv), Residual: fieldRes}, nil
	case *StagedClosure:
		return nil, &TypeError{
			Expected: &constraint.Object{Fields: map[string]constraint.Constraint{name: constraint.Any}},
			Actual:   constraint.Func,
			Context:  "field access ." + name,
			Pos:      pos,
		}
	default:
		c := recv.Constraint()
		// A closed object constraint can prove the field absent.
		if constraint.ProvesNoField(c, name) {
			return nil, &TypeError{
				Expected: &constraint.Object{Fields: map[string]constraint.Constraint{name: constraint.Any}},
				Actual:   c,
				Context:  "field access ." + name,
				Pos:      pos,
			}
		}
		fc, ok := constraint.HasField(c, name)
		if !ok {
			fc = constraint.Any
		}
		if ref == nil {
			r, err := e.residualOf(recv)
			if err != nil {
				return nil, err
			}
			ref = &ast.FieldExpr{Recv: r, Name: name}
		}
		return &Later{Constr: fc, Residual: ref}, nil
	}
}

// ---------- Literals ----------

func (e *Engine) stageObject(env *Env, ref *RefCtx, x *ast.ObjectLit) (SValue, error) {
	staged := make([]SValue, len(x.Fields))
	for i, f := range x.Fields {
		sv, err := e.Stage(env, ref, f.Value)
		if err != nil {
			return nil, err
		}
		staged[i] = sv
	}

	if vals, ok := NowValues(staged); ok {
		fields := make(map[string]value.Value, len(vals))
		for i, f := range x.Fields {
			fields[f.Name] = vals[i]
		}
		return nowOf(value.ObjectVal(fields)), nil
	}

	// Residual object literal with a closed-object marker: no unlisted
	// fields can appear at execution time.
	fieldCs := make(map[string]constraint.Constraint, len(x.Fields))
	resFields := make([]ast.ObjectField, len(x.Fields))
	for i, f := range x.Fields {
		fieldCs[f.Name] = staged[i].Constraint()
		r, err := e.residualOf(staged[i])
		if err != nil {
			return nil, err
		}
		resFields[i] = ast.ObjectField{Name: f.Name, Value: r}
	}
	return &Later{
		Constr:   &constraint.Object{Fields: fieldCs, Closed: true},
		Residual: &ast.ObjectLit{Fields: resFields, LPos: x.LPos},
	}, nil
}

func (e *Engine) stageArray(env *Env, ref *RefCtx, x *ast.ArrayLit) (SValue, error) {
	staged := make([]SValue, len(x.Elems))
	for i, el := range x.Elems {
		sv, err := e.Stage(env, ref, el)
		if err != nil {
			return nil, err
		}
		staged[i] = sv
	}

	if vals, ok := NowValues(staged); ok {
		return nowOf(value.ArrayVal(vals)), nil
	}

	// Arrays keep per-element staging: the shape is known even though
	// some elements are not.
	cs := make([]constraint.Constraint, len(staged))
	for i, sv := range staged {
		cs[i] = sv.Constraint()
	}
	return &LaterArray{Elems: staged, Constr: &constraint.Array{Elems: cs}}, nil
}

// ---------- Access ----------

func (e *Engine) stageField(env *Env, ref *RefCtx, x *ast.FieldExpr) (SValue, error) {
	recv, err := e.Stage(env, ref, x.Recv)
	if err != nil {
		return nil, err
	}
	return e.extractField(recv, x.Name, x.Pos(), nil)
}

func (e *Engine) stageIndex(env *Env, ref *RefCtx, x *ast.IndexExpr) (SValue, error) {
	recv, err := e.Stage(env, ref, x.Recv)
	if err != nil {
		return nil, err
	}
	idx, err := e.Stage(env, ref, x.Index)
	if err != nil {
		return nil, err
	}

	idxNow, idxKnown := idx.(*Now)
	var i int
	if idxKnown {
		if idxNow.Value.Kind != value.KindNum || idxNow.Value.Num != math.Trunc(idxNow.Value.Num) {
			return nil, &TypeError{
				Expected: constraint.Num,
				Actual:   idxNow.Constr,
				Context:  "array index",
				Pos:      x.Pos(),
			}
		}
		i = int(idxNow.Value.Num)
	}

	switch sv := recv.(type) {
	case *LaterArray:
		// Index-known reads bypass materializing the whole array.
		if idxKnown {
			if i < 0 || i >= len(sv.Elems) {
				return nil, fmt.Errorf("%d:%d: index %d out of range for array of length %d",
					x.Pos().Line, x.Pos().Column, i, len(sv.Elems))
			}
			return sv.Elems[i], nil
		}
	case *Now:
		if sv.Value.Kind != value.KindArray {
			return nil, &TypeError{
				Expected: &constraint.ArrayOf{Elem: constraint.Any},
				Actual:   sv.Constr,
				Context:  "indexed value",
				Pos:      x.Pos(),
			}
		}
		if idxKnown {
			if i < 0 || i >= len(sv.Value.Array) {
				return nil, fmt.Errorf("%d:%d: index %d out of range for array of length %d",
					x.Pos().Line, x.Pos().Column, i, len(sv.Value.Array))
			}
			el := sv.Value.Array[i]
			var res ast.Expr
			if sv.Residual != nil && el.IsCompound() {
				res = &ast.IndexExpr{Recv: sv.Residual, Index: &ast.NumberLit{Value: float64(i)}}
			}
			return &Now{Value: el, Constr: constraint.OfValue(el), Residual: res}, nil
		}
	case *StagedClosure:
		return nil, &TypeError{
			Expected: &constraint.ArrayOf{Elem: constraint.Any},
			Actual:   constraint.Func,
			Context:  "indexed value",
			Pos:      x.Pos(),
		}
	}

	ec := constraint.Any
	if idxKnown {
		if c, ok := constraint.ElementAt(recv.Constraint(), i); ok {
			ec = c
		}
	}
	rr, err := e.residualOf(recv)
	if err != nil {
		return nil, err
	}
	ir, err := e.residualOf(idx)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   ec,
		Residual: &ast.IndexExpr{Recv: rr, Index: ir},
	}, nil
}

// ---------- Blocks ----------

func (e *Engine) stageBlock(env *Env, ref *RefCtx, x *ast.BlockExpr) (SValue, error) {
	staged := make([]SValue, len(x.Exprs))
	for i, sub := range x.Exprs {
		sv, err := e.Stage(env, ref, sub)
		if err != nil {
			return nil, err
		}
		staged[i] = sv
	}
	last := staged[len(staged)-1]

	// Deferred prefix expressions may carry effects and must survive
	// into the residual program.
	var deferred []ast.Expr
	for _, sv := range staged[:len(staged)-1] {
		if _, ok := sv.(*Now); ok {
			continue
		}
		if _, ok := sv.(*StagedClosure); ok {
			continue
		}
		r, err := e.residualOf(sv)
		if err != nil {
			return nil, err
		}
		deferred = append(deferred, r)
	}
	if len(deferred) == 0 {
		return last, nil
	}
	lr, err := e.residualOf(last)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   last.Constraint(),
		Residual: &ast.BlockExpr{Exprs: append(deferred, lr), LPos: x.LPos},
	}, nil
}

// ---------- Staging markers ----------

func (e *Engine) stageComptime(env *Env, ref *RefCtx, x *ast.ComptimeExpr) (SValue, error) {
	sv, err := e.Stage(env, ref, x.Inner)
	if err != nil {
		return nil, err
	}
	switch sv.(type) {
	case *Now, *StagedClosure:
		return sv, nil
	}
	r, err := e.residualOf(sv)
	if err != nil {
		r = x.Inner
	}
	return nil, &StagingError{
		Rendered: ast.Print(r),
		Constr:   sv.Constraint(),
		Pos:      x.MarkerPos,
	}
}

func (e *Engine) stageRuntime(env *Env, ref *RefCtx, x *ast.RuntimeExpr) (SValue, error) {
	// The inner expression is still staged: its constraint is tracked
	// statically and its errors surface now, only its value is
	// deliberately deferred.
	sv, err := e.Stage(env, ref, x.Inner)
	if err != nil {
		return nil, err
	}
	if e.TransparentRuntime {
		return sv, nil
	}
	ir, err := e.residualOf(sv)
	if err != nil {
		return nil, err
	}
	name := x.Name
	if name == "" && !ast.IsTrivial(ir) {
		name = e.Sess.FreshVar("r")
	}
	return &Later{
		Constr:   sv.Constraint(),
		Residual: &ast.RuntimeExpr{Inner: ir, Name: name, MarkerPos: x.MarkerPos},
	}, nil
}

func (e *Engine) stageAssert(env *Env, ref *RefCtx, x *ast.AssertExpr) (SValue, error) {
	sv, err := e.Stage(env, ref, x.Value)
	if err != nil {
		return nil, err
	}

	if x.Type == nil {
		// Condition form.
		if n, ok := sv.(*Now); ok {
			if !n.Value.IsTruthy() {
				return nil, &AssertionError{
					Value:  n.Value,
					Constr: &constraint.Exact{Val: value.BoolVal(true)},
					Pos:    x.MarkerPos,
				}
			}
			return n, nil
		}
		r, err := e.residualOf(sv)
		if err != nil {
			return nil, err
		}
		return &Later{
			Constr:   sv.Constraint(),
			Residual: &ast.AssertExpr{Value: r, MarkerPos: x.MarkerPos},
		}, nil
	}

	tc, err := e.evalTypeExpr(env, ref, x.Type)
	if err != nil {
		return nil, err
	}

	if n, ok := sv.(*Now); ok {
		if !constraint.ValueSatisfies(n.Value, tc) {
			return nil, &AssertionError{Value: n.Value, Constr: tc, Pos: x.MarkerPos}
		}
		return &Now{
			Value:    n.Value,
			Constr:   constraint.NarrowOr(n.Constr, tc),
			Residual: n.Residual,
		}, nil
	}

	if constraint.Disjoint(sv.Constraint(), tc) {
		return nil, &TypeError{
			Expected: tc,
			Actual:   sv.Constraint(),
			Context:  "assert",
			Pos:      x.MarkerPos,
		}
	}
	// The check itself stays in the output program; the tracked
	// constraint is refined either way.
	r, err := e.residualOf(sv)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   constraint.NarrowOr(sv.Constraint(), tc),
		Residual: &ast.AssertExpr{Value: r, Type: x.Type, MarkerPos: x.MarkerPos},
	}, nil
}

func (e *Engine) stageTrust(env *Env, ref *RefCtx, x *ast.TrustExpr) (SValue, error) {
	sv, err := e.Stage(env, ref, x.Value)
	if err != nil {
		return nil, err
	}
	tc := constraint.Any
	if x.Type != nil {
		tc, err = e.evalTypeExpr(env, ref, x.Type)
		if err != nil {
			return nil, err
		}
	}
	// No check at all: this is the explicit "believe me" escape hatch,
	// so the asserted type wins even against the tracked constraint.
	// A Never intersection means the two disagree outright; the
	// trusted type still wins.
	narrowed := constraint.NarrowOr(sv.Constraint(), tc)
	if constraint.Implies(narrowed, constraint.Never) || !constraint.Implies(narrowed, tc) {
		narrowed = tc
	}
	return withConstraint(sv, narrowed), nil
}

// EvalType stages an expression in type position down to its
// constraint, in the base environment.
func (e *Engine) EvalType(x ast.Expr) (constraint.Constraint, error) {
	return e.evalTypeExpr(e.BaseEnv(), nil, x)
}

// evalTypeExpr stages an expression in type position; it must resolve
// to a Now value with a type reading: a type value, or an object or
// array of them (structural types are written as literals of types).
func (e *Engine) evalTypeExpr(env *Env, ref *RefCtx, x ast.Expr) (constraint.Constraint, error) {
	sv, err := e.Stage(env, ref, x)
	if err != nil {
		return nil, err
	}
	n, ok := sv.(*Now)
	if !ok {
		return nil, &StagingError{
			Rendered: ast.Print(x),
			Constr:   sv.Constraint(),
			Pos:      x.Pos(),
		}
	}
	c, ok := typeFromValue(n.Value)
	if !ok {
		return nil, &TypeError{
			Expected: constraint.Type,
			Actual:   n.Constr,
			Context:  "type position",
			Pos:      x.Pos(),
		}
	}
	return c, nil
}

// typeFromValue reads a value as a type. `{host: Str}` is a closed
// object type, `[Num]` an array-of type, `[Num, Str]` a tuple type.
func typeFromValue(v value.Value) (constraint.Constraint, bool) {
	switch v.Kind {
	case value.KindType:
		c, ok := v.Type.(constraint.Constraint)
		return c, ok
	case value.KindObject:
		fields := make(map[string]constraint.Constraint, len(v.Object))
		for name, fv := range v.Object {
			fc, ok := typeFromValue(fv)
			if !ok {
				return nil, false
			}
			fields[name] = fc
		}
		return &constraint.Object{Fields: fields, Closed: true}, true
	case value.KindArray:
		if len(v.Array) == 1 {
			ec, ok := typeFromValue(v.Array[0])
			if !ok {
				return nil, false
			}
			return &constraint.ArrayOf{Elem: ec}, true
		}
		elems := make([]constraint.Constraint, len(v.Array))
		for i, ev := range v.Array {
			ec, ok := typeFromValue(ev)
			if !ok {
				return nil, false
			}
			elems[i] = ec
		}
		return &constraint.Array{Elems: elems}, true
	}
	return nil, false
}

// ---------- Imports ----------

func (e *Engine) stageImport(env *Env, ref *RefCtx, x *ast.ImportExpr) (SValue, error) {
	if e.Loader == nil {
		return nil, fmt.Errorf("%d:%d: no declaration loader configured for import %q",
			x.ImportPos.Line, x.ImportPos.Column, x.Specifier)
	}
	decls, err := e.Loader.Load(x.Specifier, x.Names)
	if err != nil {
		return nil, err
	}

	env2 := env
	var opaque []string
	for _, name := range x.Names {
		d, ok := decls[name]
		if !ok {
			return nil, fmt.Errorf("%d:%d: %q does not export %q",
				x.ImportPos.Line, x.ImportPos.Column, x.Specifier, name)
		}
		if d.Body != nil {
			// Type-parameter signature: a synthetic staged closure
			// from the body template, not an inlined import. The
			// source name is reserved so specializations never
			// collide with (and get shadowed by) a residual import
			// binding of the same name.
			e.Sess.usedNames[name] = true
			env2 = env2.Set(name, &StagedClosure{
				Params: d.Params,
				Body:   d.Body,
				Env:    env,
				Ref:    ref,
				Name:   name,
				ID:     e.Sess.nextClosureID(),
				Extern: true,
			})
			continue
		}
		// An opaque external value: known only by its declared
		// constraint, referenced by name at execution time.
		opaque = append(opaque, name)
		env2 = env2.Set(name, &Later{
			Constr:   d.Constraint,
			Residual: &ast.Ident{Name: name},
		})
	}

	body, err := e.Stage(env2, ref, x.Body)
	if err != nil {
		return nil, err
	}
	switch body.(type) {
	case *Now, *StagedClosure:
		return body, nil
	}
	br, err := e.residualOf(body)
	if err != nil {
		return nil, err
	}
	// Template exports are fully consumed during staging (their
	// specializations are emitted as ordinary bindings); only opaque
	// names still need the import at execution time.
	if len(opaque) == 0 {
		return &Later{Constr: body.Constraint(), Residual: br}, nil
	}
	return &Later{
		Constr: body.Constraint(),
		Residual: &ast.ImportExpr{
			Specifier: x.Specifier,
			Names:     opaque,
			Body:      br,
			ImportPos: x.ImportPos,
		},
	}, nil
}
