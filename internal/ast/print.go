package ast

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Print renders expr back to parseable surface syntax. Rendering is
// deterministic (object fields sorted by name): specialization
// fingerprints are computed over printed bodies, so two structurally
// equal expressions must print identically.
func Print(expr Expr) string {
	var sb strings.Builder
	printExpr(&sb, expr, 0)
	return sb.String()
}

// Operator precedence, loosest binding first. Binder forms (let, fn, if,
// import) sit below every operator and get parenthesized whenever they
// appear as an operand.
const (
	precLowest = iota
	precBinder
	precOr
	precAnd
	precCmp
	precAdd
	precMul
	precUnary
	precPostfix
)

func binaryPrec(op string) int {
	switch op {
	case "||":
		return precOr
	case "&&":
		return precAnd
	case "==", "!=", "<", "<=", ">", ">=":
		return precCmp
	case "+", "-":
		return precAdd
	case "*", "/", "%":
		return precMul
	}
	return precLowest
}

func printExpr(sb *strings.Builder, expr Expr, min int) {
	switch e := expr.(type) {
	case *NumberLit:
		sb.WriteString(formatNumber(e.Value))
	case *StringLit:
		sb.WriteString(strconv.Quote(e.Value))
	case *BoolLit:
		if e.Value {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case *NullLit:
		sb.WriteString("null")
	case *Ident:
		sb.WriteString(e.Name)
	case *UnaryExpr:
		paren(sb, precUnary < min, func() {
			sb.WriteString(e.Op)
			printExpr(sb, e.Operand, precUnary)
		})
	case *BinaryExpr:
		p := binaryPrec(e.Op)
		paren(sb, p < min, func() {
			printExpr(sb, e.Left, p)
			sb.WriteString(" " + e.Op + " ")
			printExpr(sb, e.Right, p+1)
		})
	case *IfExpr:
		paren(sb, precBinder < min, func() {
			sb.WriteString("if ")
			printExpr(sb, e.Cond, precBinder)
			sb.WriteString(" then ")
			printExpr(sb, e.Then, precBinder)
			sb.WriteString(" else ")
			printExpr(sb, e.Else, precBinder)
		})
	case *LetExpr:
		paren(sb, precBinder < min, func() {
			sb.WriteString("let " + e.Name + " = ")
			printExpr(sb, e.Value, precBinder+1)
			sb.WriteString(" in ")
			printExpr(sb, e.Body, precBinder)
		})
	case *DestructureExpr:
		paren(sb, precBinder < min, func() {
			sb.WriteString("let {" + strings.Join(e.Names, ", ") + "} = ")
			printExpr(sb, e.Value, precBinder+1)
			sb.WriteString(" in ")
			printExpr(sb, e.Body, precBinder)
		})
	case *FnExpr:
		paren(sb, precBinder < min, func() {
			if e.SelfName != "" {
				sb.WriteString("rec " + e.SelfName)
			} else {
				sb.WriteString("fn")
			}
			sb.WriteByte('(')
			for i, p := range e.Params {
				if i > 0 {
					sb.WriteString(", ")
				}
				if p.Comptime {
					sb.WriteString("comptime ")
				}
				sb.WriteString(p.Name)
			}
			sb.WriteString(") => ")
			printExpr(sb, e.Body, precBinder)
		})
	case *CallExpr:
		printExpr(sb, e.Callee, precPostfix)
		printArgs(sb, e.Args)
	case *ObjectLit:
		fields := make([]ObjectField, len(e.Fields))
		copy(fields, e.Fields)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		sb.WriteByte('{')
		for i, f := range fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name + ": ")
			printExpr(sb, f.Value, precBinder+1)
		}
		sb.WriteByte('}')
	case *ArrayLit:
		sb.WriteByte('[')
		for i, el := range e.Elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			printExpr(sb, el, precBinder+1)
		}
		sb.WriteByte(']')
	case *FieldExpr:
		printExpr(sb, e.Recv, precPostfix)
		sb.WriteString("." + e.Name)
	case *IndexExpr:
		printExpr(sb, e.Recv, precPostfix)
		sb.WriteByte('[')
		printExpr(sb, e.Index, precLowest)
		sb.WriteByte(']')
	case *MethodExpr:
		printExpr(sb, e.Recv, precPostfix)
		sb.WriteString("." + e.Name)
		printArgs(sb, e.Args)
	case *BlockExpr:
		sb.WriteByte('(')
		for i, sub := range e.Exprs {
			if i > 0 {
				sb.WriteString("; ")
			}
			printExpr(sb, sub, precLowest)
		}
		sb.WriteByte(')')
	case *ComptimeExpr:
		sb.WriteString("comptime(")
		printExpr(sb, e.Inner, precLowest)
		sb.WriteByte(')')
	case *RuntimeExpr:
		sb.WriteString("runtime(")
		printExpr(sb, e.Inner, precLowest)
		if e.Name != "" {
			sb.WriteString(", " + strconv.Quote(e.Name))
		}
		sb.WriteByte(')')
	case *AssertExpr:
		sb.WriteString("assert(")
		printExpr(sb, e.Value, precLowest)
		if e.Type != nil {
			sb.WriteString(", ")
			printExpr(sb, e.Type, precLowest)
		}
		sb.WriteByte(')')
	case *TrustExpr:
		sb.WriteString("trust(")
		printExpr(sb, e.Value, precLowest)
		if e.Type != nil {
			sb.WriteString(", ")
			printExpr(sb, e.Type, precLowest)
		}
		sb.WriteByte(')')
	case *TypeofExpr:
		sb.WriteString("typeof(")
		printExpr(sb, e.Inner, precLowest)
		sb.WriteByte(')')
	case *ImportExpr:
		paren(sb, precBinder < min, func() {
			sb.WriteString("import " + strconv.Quote(e.Specifier) + " (" + strings.Join(e.Names, ", ") + ") in ")
			printExpr(sb, e.Body, precBinder)
		})
	default:
		sb.WriteString(fmt.Sprintf("/*?%T*/", expr))
	}
}

func printArgs(sb *strings.Builder, args []Expr) {
	sb.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		printExpr(sb, a, precBinder+1)
	}
	sb.WriteByte(')')
}

func paren(sb *strings.Builder, need bool, inner func()) {
	if need {
		sb.WriteByte('(')
	}
	inner()
	if need {
		sb.WriteByte(')')
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Dump returns a human-readable tree representation of the AST.
func Dump(node Node) string {
	var sb strings.Builder
	fprintNode(&sb, node, 0)
	return sb.String()
}

func fprintNode(w io.Writer, n Node, indent int) {
	if n == nil {
		return
	}

	ind := strings.Repeat("  ", indent)

	switch n := n.(type) {
	case *NumberLit:
		fmt.Fprintf(w, "%sNumberLit %s\n", ind, formatNumber(n.Value))
	case *StringLit:
		fmt.Fprintf(w, "%sStringLit %q\n", ind, n.Value)
	case *BoolLit:
		fmt.Fprintf(w, "%sBoolLit %v\n", ind, n.Value)
	case *NullLit:
		fmt.Fprintf(w, "%sNullLit\n", ind)
	case *Ident:
		fmt.Fprintf(w, "%sIdent %s\n", ind, n.Name)
	case *UnaryExpr:
		fmt.Fprintf(w, "%sUnaryExpr op=%s\n", ind, n.Op)
		fprintNode(w, n.Operand, indent+1)
	case *BinaryExpr:
		fmt.Fprintf(w, "%sBinaryExpr op=%s\n", ind, n.Op)
		fprintNode(w, n.Left, indent+1)
		fprintNode(w, n.Right, indent+1)
	case *IfExpr:
		fmt.Fprintf(w, "%sIfExpr\n", ind)
		fprintNode(w, n.Cond, indent+1)
		fprintNode(w, n.Then, indent+1)
		fprintNode(w, n.Else, indent+1)
	case *LetExpr:
		fmt.Fprintf(w, "%sLetExpr name=%s\n", ind, n.Name)
		fprintNode(w, n.Value, indent+1)
		fprintNode(w, n.Body, indent+1)
	case *DestructureExpr:
		fmt.Fprintf(w, "%sDestructureExpr names=%s\n", ind, strings.Join(n.Names, ","))
		fprintNode(w, n.Value, indent+1)
		fprintNode(w, n.Body, indent+1)
	case *FnExpr:
		var params []string
		for _, p := range n.Params {
			if p.Comptime {
				params = append(params, "comptime "+p.Name)
			} else {
				params = append(params, p.Name)
			}
		}
		fmt.Fprintf(w, "%sFnExpr self=%q params=[%s]\n", ind, n.SelfName, strings.Join(params, ", "))
		fprintNode(w, n.Body, indent+1)
	case *CallExpr:
		fmt.Fprintf(w, "%sCallExpr\n", ind)
		fprintNode(w, n.Callee, indent+1)
		for _, a := range n.Args {
			fprintNode(w, a, indent+1)
		}
	case *ObjectLit:
		fmt.Fprintf(w, "%sObjectLit\n", ind)
		for _, f := range n.Fields {
			fmt.Fprintf(w, "%s  %s:\n", ind, f.Name)
			fprintNode(w, f.Value, indent+2)
		}
	case *ArrayLit:
		fmt.Fprintf(w, "%sArrayLit\n", ind)
		for _, el := range n.Elems {
			fprintNode(w, el, indent+1)
		}
	case *FieldExpr:
		fmt.Fprintf(w, "%sFieldExpr name=%s\n", ind, n.Name)
		fprintNode(w, n.Recv, indent+1)
	case *IndexExpr:
		fmt.Fprintf(w, "%sIndexExpr\n", ind)
		fprintNode(w, n.Recv, indent+1)
		fprintNode(w, n.Index, indent+1)
	case *MethodExpr:
		fmt.Fprintf(w, "%sMethodExpr name=%s\n", ind, n.Name)
		fprintNode(w, n.Recv, indent+1)
		for _, a := range n.Args {
			fprintNode(w, a, indent+1)
		}
	case *BlockExpr:
		fmt.Fprintf(w, "%sBlockExpr\n", ind)
		for _, sub := range n.Exprs {
			fprintNode(w, sub, indent+1)
		}
	case *ComptimeExpr:
		fmt.Fprintf(w, "%sComptimeExpr\n", ind)
		fprintNode(w, n.Inner, indent+1)
	case *RuntimeExpr:
		fmt.Fprintf(w, "%sRuntimeExpr name=%q\n", ind, n.Name)
		fprintNode(w, n.Inner, indent+1)
	case *AssertExpr:
		fmt.Fprintf(w, "%sAssertExpr\n", ind)
		fprintNode(w, n.Value, indent+1)
		if n.Type != nil {
			fprintNode(w, n.Type, indent+1)
		}
	case *TrustExpr:
		fmt.Fprintf(w, "%sTrustExpr\n", ind)
		fprintNode(w, n.Value, indent+1)
		if n.Type != nil {
			fprintNode(w, n.Type, indent+1)
		}
	case *TypeofExpr:
		fmt.Fprintf(w, "%sTypeofExpr\n", ind)
		fprintNode(w, n.Inner, indent+1)
	case *ImportExpr:
		fmt.Fprintf(w, "%sImportExpr specifier=%q names=%s\n", ind, n.Specifier, strings.Join(n.Names, ","))
		fprintNode(w, n.Body, indent+1)
	default:
		fmt.Fprintf(w, "%s<unknown node %T>\n", ind, n)
	}
}
