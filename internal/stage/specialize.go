package stage

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"presage/internal/ast"
	"presage/internal/constraint"
	"presage/internal/token"
	"presage/internal/value"
)

// applyClosure stages one closure call. Fully known calls unfold at
// staging time; calls with deferred arguments become references to an
// emitted specialization of the closure body.
func (e *Engine) applyClosure(sc *StagedClosure, args []SValue, pos token.Position) (SValue, error) {
	if err := e.Sess.charge(); err != nil {
		return nil, err
	}
	if len(args) != len(sc.Params) {
		return nil, fmt.Errorf("%d:%d: %s expects %d arguments, got %d",
			pos.Line, pos.Column, closureLabel(sc), len(sc.Params), len(args))
	}

	for i, p := range sc.Params {
		if !p.Comptime || knownArg(args[i]) {
			continue
		}
		rendered := p.Name
		if r, err := e.residualOf(args[i]); err == nil {
			rendered = ast.Print(r)
		}
		return nil, &StagingError{Rendered: rendered, Constr: args[i].Constraint(), Pos: pos}
	}

	if allKnown(args) {
		env := sc.Env
		if sc.Name != "" {
			env = env.Set(sc.Name, sc)
		}
		for i, p := range sc.Params {
			env = env.Set(p.Name, args[i])
		}
		return e.stageBody(env, sc)
	}

	return e.specializeCall(sc, args, pos)
}

// stageBody stages a closure body, switching on extern-free resolution
// for declaration body templates.
func (e *Engine) stageBody(env *Env, sc *StagedClosure) (SValue, error) {
	saved := e.ExternFree
	e.ExternFree = saved || sc.Extern
	defer func() { e.ExternFree = saved }()
	return e.Stage(env, sc.Ref, sc.Body)
}

func knownArg(sv SValue) bool {
	switch sv.(type) {
	case *Now, *StagedClosure:
		return true
	}
	return false
}

func allKnown(args []SValue) bool {
	for _, a := range args {
		if !knownArg(a) {
			return false
		}
	}
	return true
}

func closureLabel(sc *StagedClosure) string {
	if sc.Name != "" {
		return sc.Name
	}
	return "anonymous function"
}

// bakes decides whether a parameter's argument is burned into the
// specialized body (comptime parameters, closures, and other values
// with no literal form) or passed at execution time.
func bakes(p ast.Param, arg SValue) bool {
	if p.Comptime {
		return true
	}
	switch a := arg.(type) {
	case *StagedClosure:
		return true
	case *Now:
		switch a.Value.Kind {
		case value.KindClosure, value.KindType:
			return true
		}
	}
	return false
}

// specKey identifies the specialization a call site resolves to: the
// closure's identity, the baked argument values, and the constraints
// of the deferred ones.
func (e *Engine) specKey(sc *StagedClosure, args []SValue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", sc.ID)
	for i, p := range sc.Params {
		if bakes(p, args[i]) {
			b.WriteString("|!")
			b.WriteString(bakedKey(args[i]))
		} else {
			b.WriteString("|?")
			b.WriteString(args[i].Constraint().String())
		}
	}
	return b.String()
}

func bakedKey(sv SValue) string {
	switch sv := sv.(type) {
	case *Now:
		return sv.Value.String()
	case *StagedClosure:
		return fmt.Sprintf("fn#%d", sv.ID)
	}
	return "?"
}

func (e *Engine) specializeCall(sc *StagedClosure, args []SValue, pos token.Position) (SValue, error) {
	key := e.specKey(sc, args)

	// Coinductive step: a self-call reached while this very
	// specialization's body is still being staged does not recurse; it
	// closes the cycle with a residual reference.
	if p := e.Sess.inProgress[key]; p != nil {
		rargs, err := e.runtimeArgResiduals(sc, args)
		if err != nil {
			return nil, err
		}
		return &Later{
			Constr:   p.Result,
			Residual: &ast.CallExpr{Callee: &ast.Ident{Name: p.Name}, Args: rargs},
		}, nil
	}

	if spec := e.Sess.specByKey[key]; spec != nil {
		rargs, err := e.runtimeArgResiduals(sc, args)
		if err != nil {
			return nil, err
		}
		return &Later{
			Constr:   spec.Result,
			Residual: &ast.CallExpr{Callee: &ast.Ident{Name: spec.Name}, Args: rargs},
		}, nil
	}

	spec, direct, err := e.emitSpecialization(key, sc, args)
	if err != nil {
		return nil, err
	}
	if direct != nil {
		return direct, nil
	}
	rargs, err := e.runtimeArgResiduals(sc, args)
	if err != nil {
		return nil, err
	}
	return &Later{
		Constr:   spec.Result,
		Residual: &ast.CallExpr{Callee: &ast.Ident{Name: spec.Name}, Args: rargs},
	}, nil
}

func (e *Engine) runtimeArgResiduals(sc *StagedClosure, args []SValue) ([]ast.Expr, error) {
	var out []ast.Expr
	for i, p := range sc.Params {
		if bakes(p, args[i]) {
			continue
		}
		r, err := e.residualOf(args[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// emitSpecialization stages the closure body with baked arguments
// bound and deferred parameters abstract, and registers the emitted
// function. A body that folds to a known value is returned directly
// instead (direct non-nil), with nothing emitted.
func (e *Engine) emitSpecialization(key string, sc *StagedClosure, args []SValue) (*specialization, SValue, error) {
	name := e.uniqueSpecName(sc)
	e.Sess.inProgress[key] = &pending{Name: name, Result: constraint.Any}
	defer delete(e.Sess.inProgress, key)

	env := sc.Env
	if sc.Name != "" {
		env = env.Set(sc.Name, sc)
	}
	var runtimeParams []ast.Param
	for i, p := range sc.Params {
		if bakes(p, args[i]) {
			env = env.Set(p.Name, args[i])
			continue
		}
		runtimeParams = append(runtimeParams, ast.Param{Name: p.Name, NamePos: p.NamePos})
		env = env.Set(p.Name, &Later{
			Constr:   args[i].Constraint(),
			Residual: &ast.Ident{Name: p.Name},
		})
	}

	body, err := e.stageBody(env, sc)
	if err != nil {
		return nil, nil, err
	}
	switch body.(type) {
	case *Now, *StagedClosure:
		// The deferred arguments turned out not to matter.
		return nil, body, nil
	}

	br, err := e.residualOf(body)
	if err != nil {
		return nil, nil, err
	}
	selfName := ""
	if ast.Uses(name, br) {
		selfName = name
	}
	fn := &ast.FnExpr{SelfName: selfName, Params: runtimeParams, Body: br}

	fp := fingerprint(ast.Print(fn))
	if prev := e.Sess.specByFp[fp]; prev != nil {
		// Identical body already emitted under another call pattern.
		e.Sess.specByKey[key] = prev
		return prev, nil, nil
	}

	spec := &specialization{
		Name:        name,
		Fn:          fn,
		Fingerprint: fp,
		ClosureID:   sc.ID,
		Result:      body.Constraint(),
	}
	e.Sess.specs = append(e.Sess.specs, spec)
	e.Sess.specByKey[key] = spec
	e.Sess.specByFp[fp] = spec
	e.Sess.Log.Debug("emitted specialization",
		"closure", closureLabel(sc),
		"name", name,
		"params", len(runtimeParams),
		"result", spec.Result.String())
	return spec, nil, nil
}

// uniqueSpecName picks the emitted function's name: a named closure's
// first specialization keeps the source name, later ones and anonymous
// closures get suffixed or fresh names.
func (e *Engine) uniqueSpecName(sc *StagedClosure) string {
	base := sc.Name
	if base == "" {
		return e.Sess.FreshVar("fn")
	}
	if !e.Sess.usedNames[base] {
		e.Sess.usedNames[base] = true
		return base
	}
	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d", base, n)
		if !e.Sess.usedNames[cand] {
			e.Sess.usedNames[cand] = true
			return cand
		}
	}
}

// residualizeClosure turns a closure escaping into residual code (as a
// call argument, object field, or the program result) into a reference
// to a fully abstract specialization.
func (e *Engine) residualizeClosure(sc *StagedClosure) (ast.Expr, error) {
	if cps := sc.ComptimeParams(); len(cps) > 0 {
		return nil, &StagingError{
			Rendered: closureLabel(sc),
			Constr:   constraint.Func,
			Pos:      sc.Body.Pos(),
		}
	}
	args := make([]SValue, len(sc.Params))
	for i, p := range sc.Params {
		args[i] = &Later{Constr: constraint.Any, Residual: &ast.Ident{Name: p.Name}}
	}
	key := e.specKey(sc, args)
	if p := e.Sess.inProgress[key]; p != nil {
		return &ast.Ident{Name: p.Name}, nil
	}
	if spec := e.Sess.specByKey[key]; spec != nil {
		return &ast.Ident{Name: spec.Name}, nil
	}
	spec, direct, err := e.emitSpecialization(key, sc, args)
	if err != nil {
		return nil, err
	}
	if direct != nil {
		// A constant body still needs a function form in residual
		// position.
		r, err := e.residualOf(direct)
		if err != nil {
			return nil, err
		}
		params := make([]ast.Param, len(sc.Params))
		for i, p := range sc.Params {
			params[i] = ast.Param{Name: p.Name, NamePos: p.NamePos}
		}
		return &ast.FnExpr{Params: params, Body: r}, nil
	}
	return &ast.Ident{Name: spec.Name}, nil
}

func fingerprint(printed string) string {
	sum := blake2b.Sum256([]byte(printed))
	return hex.EncodeToString(sum[:])
}
