package stage

import (
	"fmt"

	"presage/internal/ast"
	"presage/internal/value"
)

// residualOf returns an expression that recomputes sv at execution
// time.
func (e *Engine) residualOf(sv SValue) (ast.Expr, error) {
	switch sv := sv.(type) {
	case *Now:
		if sv.Residual != nil {
			return sv.Residual, nil
		}
		if x, ok := value.ToExpr(sv.Value); ok {
			return x, nil
		}
		if sv.Value.Kind == value.KindClosure {
			return e.residualizeClosure(e.liftClosure(sv.Value.Closure))
		}
		if sv.Value.Kind == value.KindBuiltin {
			return &ast.Ident{Name: sv.Value.Builtin}, nil
		}
		return nil, fmt.Errorf("value %s has no residual form", sv.Value.String())
	case *Later:
		return sv.Residual, nil
	case *LaterArray:
		elems := make([]ast.Expr, len(sv.Elems))
		for i, el := range sv.Elems {
			r, err := e.residualOf(el)
			if err != nil {
				return nil, err
			}
			elems[i] = r
		}
		return &ast.ArrayLit{Elems: elems}, nil
	case *StagedClosure:
		return e.residualizeClosure(sv)
	}
	return nil, fmt.Errorf("no residual form for %T", sv)
}

// Result is the outcome of staging a whole program: the staged value
// and, when anything was deferred, the assembled residual program.
type Result struct {
	Value   SValue
	Program ast.Expr
}

// Known reports whether staging fully evaluated the program.
func (r *Result) Known() (value.Value, bool) {
	if n, ok := r.Value.(*Now); ok {
		return n.Value, true
	}
	return value.Value{}, false
}

// StageProgram stages expr in the base environment and assembles the
// residual program: every emitted function the main expression
// (transitively) references, bound callee-first, then the main
// expression itself.
func (e *Engine) StageProgram(expr ast.Expr) (*Result, error) {
	sv, err := e.Stage(e.BaseEnv(), nil, expr)
	if err != nil {
		return nil, err
	}
	if n, ok := sv.(*Now); ok {
		res := &Result{Value: n}
		if x, ok := value.ToExpr(n.Value); ok {
			res.Program = x
		}
		return res, nil
	}

	main, err := e.residualOf(sv)
	if err != nil {
		return nil, err
	}
	if !e.Sess.opts.NoCluster {
		main = e.cluster(main)
	}
	return &Result{Value: sv, Program: e.assemble(main)}, nil
}

// assemble wraps main with let bindings for every reachable emitted
// function, in dependency order. Mutually recursive groups have no
// direct binding form, so within a strongly connected group each
// member's binding re-nests the other members it needs inside its own
// body.
func (e *Engine) assemble(main ast.Expr) ast.Expr {
	byName := make(map[string]*specialization, len(e.Sess.specs))
	for _, s := range e.Sess.specs {
		byName[s.Name] = s
	}

	// Reachability from the main expression, one free-variable pass
	// per expression.
	reached := make(map[string]bool)
	var visit func(x ast.Expr)
	visit = func(x ast.Expr) {
		for _, name := range ast.FreeVars(x).Slice() {
			s := byName[name]
			if s == nil || reached[name] {
				continue
			}
			reached[name] = true
			visit(s.Fn)
		}
	}
	visit(main)
	if len(reached) == 0 {
		return main
	}

	sccs := e.condense(byName, reached)

	out := main
	for i := len(sccs) - 1; i >= 0; i-- {
		group := sccs[i]
		groupSet := make(map[string]bool, len(group))
		for _, s := range group {
			groupSet[s.Name] = true
		}
		for j := len(group) - 1; j >= 0; j-- {
			m := group[j]
			fn := m.Fn
			if len(group) > 1 {
				fn = e.groupFn(byName, groupSet, m, map[string]bool{})
			}
			out = &ast.LetExpr{Name: m.Name, Value: fn, Body: out}
		}
	}
	return out
}

// condense runs Tarjan's algorithm over the call graph of reachable
// emitted functions and returns the strongly connected components in
// callee-first order.
func (e *Engine) condense(byName map[string]*specialization, reached map[string]bool) [][]*specialization {
	var order []*specialization
	for _, s := range e.Sess.specs {
		if reached[s.Name] {
			order = append(order, s)
		}
	}
	succs := func(s *specialization) []*specialization {
		free := ast.FreeVars(s.Fn)
		var out []*specialization
		for _, t := range order {
			if t != s && free.Contains(t.Name) {
				out = append(out, t)
			}
		}
		return out
	}

	index := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []*specialization
	var sccs [][]*specialization
	next := 0

	var strongconnect func(s *specialization)
	strongconnect = func(s *specialization) {
		index[s.Name] = next
		low[s.Name] = next
		next++
		stack = append(stack, s)
		onStack[s.Name] = true

		for _, t := range succs(s) {
			if _, seen := index[t.Name]; !seen {
				strongconnect(t)
				if low[t.Name] < low[s.Name] {
					low[s.Name] = low[t.Name]
				}
			} else if onStack[t.Name] && index[t.Name] < low[s.Name] {
				low[s.Name] = index[t.Name]
			}
		}

		if low[s.Name] == index[s.Name] {
			var scc []*specialization
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top.Name] = false
				scc = append(scc, top)
				if top == s {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}
	for _, s := range order {
		if _, seen := index[s.Name]; !seen {
			strongconnect(s)
		}
	}
	return sccs
}

// groupFn renders one member of a mutually recursive group: a
// self-recursive function whose body let-binds the other members it
// references, each rendered the same way with the enclosing names in
// scope. Bodies duplicate across members; groups are small.
func (e *Engine) groupFn(byName map[string]*specialization, group map[string]bool, m *specialization, visible map[string]bool) *ast.FnExpr {
	vis := make(map[string]bool, len(visible)+1)
	for k := range visible {
		vis[k] = true
	}
	vis[m.Name] = true

	var chosen []*specialization
	for _, s := range e.Sess.specs {
		if !group[s.Name] || vis[s.Name] || !ast.Uses(s.Name, m.Fn.Body) {
			continue
		}
		chosen = append(chosen, s)
	}

	out := m.Fn.Body
	for i := len(chosen) - 1; i >= 0; i-- {
		visAt := make(map[string]bool, len(vis)+i)
		for k := range vis {
			visAt[k] = true
		}
		for _, earlier := range chosen[:i] {
			visAt[earlier.Name] = true
		}
		fn := e.groupFn(byName, group, chosen[i], visAt)
		out = &ast.LetExpr{Name: chosen[i].Name, Value: fn, Body: out}
	}

	selfName := ""
	if ast.Uses(m.Name, out) {
		selfName = m.Name
	}
	return &ast.FnExpr{SelfName: selfName, Params: m.Fn.Params, Body: out}
}
