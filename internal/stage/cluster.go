package stage

import (
	"fmt"

	"presage/internal/ast"
	"presage/internal/constraint"
)

// cluster merges specializations of the same closure whose emitted
// bodies are identical except for scalar literals. The survivors'
// differing literals become leading parameters of a shared template;
// every call site passes its own literals. Returns the rewritten main
// expression; the specialization list is updated in place.
func (e *Engine) cluster(main ast.Expr) ast.Expr {
	if len(e.Sess.specs) < 2 {
		return main
	}

	escaped := make(map[string]bool)
	nonCallUses(main, escaped)
	for _, s := range e.Sess.specs {
		nonCallUses(s.Fn.Body, escaped)
	}

	// Group by closure and body shape. Recursive bodies embed their
	// own names and never share a shape; names referenced outside call
	// position cannot be retargeted.
	byShape := make(map[string][]*specialization)
	var shapeOrder []string
	for _, s := range e.Sess.specs {
		if s.Fn.SelfName != "" || escaped[s.Name] {
			continue
		}
		key := fmt.Sprintf("%d|%s", s.ClosureID, ast.Print(maskLiterals(s.Fn)))
		if _, seen := byShape[key]; !seen {
			shapeOrder = append(shapeOrder, key)
		}
		byShape[key] = append(byShape[key], s)
	}

	type target struct {
		tpl   string
		holes []ast.Expr
	}
	retarget := make(map[string]*target)
	dropped := make(map[string]bool)

	for _, key := range shapeOrder {
		members := byShape[key]
		if len(members) < 2 {
			continue
		}
		seed := members[0]
		lits := make([][]ast.Expr, len(members))
		for i, m := range members {
			lits[i] = collectLiterals(m.Fn.Body)
		}

		// Hole sites are the literal positions that actually differ
		// across members; shared literals stay inline.
		var holes []int
		for site := range lits[0] {
			base := ast.Print(lits[0][site])
			for _, ml := range lits[1:] {
				if ast.Print(ml[site]) != base {
					holes = append(holes, site)
					break
				}
			}
		}
		if len(holes) == 0 {
			continue
		}

		holeAt := make(map[int]int, len(holes))
		params := make([]ast.Param, 0, len(holes)+len(seed.Fn.Params))
		for i, site := range holes {
			holeAt[site] = i
			params = append(params, ast.Param{Name: e.Sess.FreshVar("h")})
		}
		params = append(params, seed.Fn.Params...)

		site := 0
		tplBody := ast.Rewrite(seed.Fn.Body, func(n ast.Expr) ast.Expr {
			if !isScalarLiteral(n) {
				return n
			}
			i, hole := holeAt[site]
			site++
			if !hole {
				return n
			}
			return &ast.Ident{Name: params[i].Name}
		})

		result := seed.Result
		for _, m := range members[1:] {
			result = constraint.Unify(result, m.Result)
		}
		seed.Fn = &ast.FnExpr{Params: params, Body: tplBody}
		seed.Result = result

		for i, m := range members {
			holeArgs := make([]ast.Expr, len(holes))
			for j, h := range holes {
				holeArgs[j] = lits[i][h]
			}
			retarget[m.Name] = &target{tpl: seed.Name, holes: holeArgs}
			if m != seed {
				dropped[m.Name] = true
			}
		}
		e.Sess.Log.Debug("clustered specializations",
			"template", seed.Name,
			"members", len(members),
			"holes", len(holes))
	}
	if len(retarget) == 0 {
		return main
	}

	kept := e.Sess.specs[:0]
	for _, s := range e.Sess.specs {
		if dropped[s.Name] {
			continue
		}
		kept = append(kept, s)
	}
	e.Sess.specs = kept

	rw := func(x ast.Expr) ast.Expr {
		return ast.Rewrite(x, func(n ast.Expr) ast.Expr {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return n
			}
			id, ok := call.Callee.(*ast.Ident)
			if !ok {
				return n
			}
			t := retarget[id.Name]
			if t == nil {
				return n
			}
			args := make([]ast.Expr, 0, len(t.holes)+len(call.Args))
			args = append(args, t.holes...)
			args = append(args, call.Args...)
			return &ast.CallExpr{Callee: &ast.Ident{Name: t.tpl}, Args: args}
		})
	}
	for _, s := range e.Sess.specs {
		s.Fn = &ast.FnExpr{SelfName: s.Fn.SelfName, Params: s.Fn.Params, Body: rw(s.Fn.Body)}
	}
	return rw(main)
}

func isScalarLiteral(x ast.Expr) bool {
	switch x.(type) {
	case *ast.NumberLit, *ast.StringLit, *ast.BoolLit, *ast.NullLit:
		return true
	}
	return false
}

// maskLiterals replaces every scalar literal with a fixed marker, so
// printing yields a literal-insensitive body shape.
func maskLiterals(x ast.Expr) ast.Expr {
	return ast.Rewrite(x, func(n ast.Expr) ast.Expr {
		if isScalarLiteral(n) {
			return &ast.Ident{Name: "\x00"}
		}
		return n
	})
}

// collectLiterals returns the scalar literal nodes of x in rewrite
// traversal order; two bodies with equal masked shapes yield literals
// at matching positions.
func collectLiterals(x ast.Expr) []ast.Expr {
	var out []ast.Expr
	ast.Rewrite(x, func(n ast.Expr) ast.Expr {
		if isScalarLiteral(n) {
			out = append(out, n)
		}
		return n
	})
	return out
}

// nonCallUses marks every name referenced outside direct-callee
// position.
func nonCallUses(x ast.Expr, out map[string]bool) {
	switch n := x.(type) {
	case nil:
		return
	case *ast.Ident:
		out[n.Name] = true
	case *ast.CallExpr:
		if _, direct := n.Callee.(*ast.Ident); !direct {
			nonCallUses(n.Callee, out)
		}
		for _, a := range n.Args {
			nonCallUses(a, out)
		}
	case *ast.UnaryExpr:
		nonCallUses(n.Operand, out)
	case *ast.BinaryExpr:
		nonCallUses(n.Left, out)
		nonCallUses(n.Right, out)
	case *ast.IfExpr:
		nonCallUses(n.Cond, out)
		nonCallUses(n.Then, out)
		nonCallUses(n.Else, out)
	case *ast.LetExpr:
		nonCallUses(n.Value, out)
		nonCallUses(n.Body, out)
	case *ast.DestructureExpr:
		nonCallUses(n.Value, out)
		nonCallUses(n.Body, out)
	case *ast.FnExpr:
		nonCallUses(n.Body, out)
	case *ast.ObjectLit:
		for _, f := range n.Fields {
			nonCallUses(f.Value, out)
		}
	case *ast.ArrayLit:
		for _, el := range n.Elems {
			nonCallUses(el, out)
		}
	case *ast.FieldExpr:
		nonCallUses(n.Recv, out)
	case *ast.IndexExpr:
		nonCallUses(n.Recv, out)
		nonCallUses(n.Index, out)
	case *ast.MethodExpr:
		nonCallUses(n.Recv, out)
		for _, a := range n.Args {
			nonCallUses(a, out)
		}
	case *ast.BlockExpr:
		for _, el := range n.Exprs {
			nonCallUses(el, out)
		}
	case *ast.ComptimeExpr:
		nonCallUses(n.Inner, out)
	case *ast.RuntimeExpr:
		nonCallUses(n.Inner, out)
	case *ast.AssertExpr:
		nonCallUses(n.Value, out)
		nonCallUses(n.Type, out)
	case *ast.TrustExpr:
		nonCallUses(n.Value, out)
		nonCallUses(n.Type, out)
	case *ast.TypeofExpr:
		nonCallUses(n.Inner, out)
	case *ast.ImportExpr:
		nonCallUses(n.Body, out)
	}
}
