package ast

// Rewrite returns a copy of expr transformed bottom-up: children are
// rewritten first, then f is applied to the rebuilt node. f is called
// exactly once per original node; nodes f returns are not revisited.
func Rewrite(expr Expr, f func(Expr) Expr) Expr {
	if expr == nil {
		return nil
	}
	switch x := expr.(type) {
	case *NumberLit, *StringLit, *BoolLit, *NullLit, *Ident:
		return f(expr)
	case *UnaryExpr:
		return f(&UnaryExpr{Op: x.Op, Operand: Rewrite(x.Operand, f), OpPos: x.OpPos})
	case *BinaryExpr:
		return f(&BinaryExpr{Op: x.Op, Left: Rewrite(x.Left, f), Right: Rewrite(x.Right, f)})
	case *IfExpr:
		return f(&IfExpr{
			Cond:  Rewrite(x.Cond, f),
			Then:  Rewrite(x.Then, f),
			Else:  Rewrite(x.Else, f),
			IfPos: x.IfPos,
		})
	case *LetExpr:
		return f(&LetExpr{
			Name:   x.Name,
			Value:  Rewrite(x.Value, f),
			Body:   Rewrite(x.Body, f),
			LetPos: x.LetPos,
		})
	case *DestructureExpr:
		return f(&DestructureExpr{
			Names:  x.Names,
			Value:  Rewrite(x.Value, f),
			Body:   Rewrite(x.Body, f),
			LetPos: x.LetPos,
		})
	case *FnExpr:
		return f(&FnExpr{
			SelfName: x.SelfName,
			Params:   x.Params,
			Body:     Rewrite(x.Body, f),
			FnPos:    x.FnPos,
		})
	case *CallExpr:
		return f(&CallExpr{Callee: Rewrite(x.Callee, f), Args: rewriteAll(x.Args, f)})
	case *ObjectLit:
		fields := make([]ObjectField, len(x.Fields))
		for i, fld := range x.Fields {
			fields[i] = ObjectField{Name: fld.Name, Value: Rewrite(fld.Value, f)}
		}
		return f(&ObjectLit{Fields: fields, LPos: x.LPos})
	case *ArrayLit:
		return f(&ArrayLit{Elems: rewriteAll(x.Elems, f), LPos: x.LPos})
	case *FieldExpr:
		return f(&FieldExpr{Recv: Rewrite(x.Recv, f), Name: x.Name})
	case *IndexExpr:
		return f(&IndexExpr{Recv: Rewrite(x.Recv, f), Index: Rewrite(x.Index, f)})
	case *MethodExpr:
		return f(&MethodExpr{Recv: Rewrite(x.Recv, f), Name: x.Name, Args: rewriteAll(x.Args, f)})
	case *BlockExpr:
		return f(&BlockExpr{Exprs: rewriteAll(x.Exprs, f), LPos: x.LPos})
	case *ComptimeExpr:
		return f(&ComptimeExpr{Inner: Rewrite(x.Inner, f), MarkerPos: x.MarkerPos})
	case *RuntimeExpr:
		return f(&RuntimeExpr{Inner: Rewrite(x.Inner, f), Name: x.Name, MarkerPos: x.MarkerPos})
	case *AssertExpr:
		return f(&AssertExpr{Value: Rewrite(x.Value, f), Type: Rewrite(x.Type, f), MarkerPos: x.MarkerPos})
	case *TrustExpr:
		return f(&TrustExpr{Value: Rewrite(x.Value, f), Type: Rewrite(x.Type, f), MarkerPos: x.MarkerPos})
	case *TypeofExpr:
		return f(&TypeofExpr{Inner: Rewrite(x.Inner, f), MarkerPos: x.MarkerPos})
	case *ImportExpr:
		return f(&ImportExpr{
			Specifier: x.Specifier,
			Names:     x.Names,
			Body:      Rewrite(x.Body, f),
			ImportPos: x.ImportPos,
		})
	}
	return f(expr)
}

func rewriteAll(exprs []Expr, f func(Expr) Expr) []Expr {
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		out[i] = Rewrite(e, f)
	}
	return out
}
