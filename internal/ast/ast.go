package ast

import "presage/internal/token"

// Basic interfaces

type Node interface {
	Pos() token.Position
}

// Expr is a surface expression. Residual programs emitted by the staging
// engine are built from these same nodes, so every form here must be
// printable back to parseable source.
type Expr interface {
	Node
	exprNode()
}

// Literals

type NumberLit struct {
	Value  float64
	LitPos token.Position
}

func (e *NumberLit) Pos() token.Position { return e.LitPos }

type StringLit struct {
	Value  string
	LitPos token.Position
}

func (e *StringLit) Pos() token.Position { return e.LitPos }

type BoolLit struct {
	Value  bool
	LitPos token.Position
}

func (e *BoolLit) Pos() token.Position { return e.LitPos }

type NullLit struct {
	LitPos token.Position
}

func (e *NullLit) Pos() token.Position { return e.LitPos }

// Ident is a variable reference.
type Ident struct {
	Name    string
	NamePos token.Position
}

func (e *Ident) Pos() token.Position { return e.NamePos }

// Operators

type UnaryExpr struct {
	Op      string // "-" or "!"
	Operand Expr
	OpPos   token.Position
}

func (e *UnaryExpr) Pos() token.Position { return e.OpPos }

type BinaryExpr struct {
	Op    string // "+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=", "&&", "||"
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) Pos() token.Position { return e.Left.Pos() }

// IfExpr is `if cond then a else b`. Both branches are mandatory; the
// language has no statement-level if.
type IfExpr struct {
	Cond  Expr
	Then  Expr
	Else  Expr
	IfPos token.Position
}

func (e *IfExpr) Pos() token.Position { return e.IfPos }

// LetExpr is `let name = value in body`.
type LetExpr struct {
	Name   string
	Value  Expr
	Body   Expr
	LetPos token.Position
}

func (e *LetExpr) Pos() token.Position { return e.LetPos }

// DestructureExpr is `let {a, b} = value in body`.
type DestructureExpr struct {
	Names  []string
	Value  Expr
	Body   Expr
	LetPos token.Position
}

func (e *DestructureExpr) Pos() token.Position { return e.LetPos }

// Param is a function parameter, optionally marked comptime.
type Param struct {
	Name     string
	Comptime bool
	NamePos  token.Position
}

// FnExpr is a function literal. SelfName is non-empty for `rec f(...) => ...`
// forms, which may refer to themselves by that name.
type FnExpr struct {
	SelfName string
	Params   []Param
	Body     Expr
	FnPos    token.Position
}

func (e *FnExpr) Pos() token.Position { return e.FnPos }

type CallExpr struct {
	Callee Expr
	Args   []Expr
}

func (e *CallExpr) Pos() token.Position { return e.Callee.Pos() }

// ObjectField is one `name: value` entry of an object literal.
type ObjectField struct {
	Name  string
	Value Expr
}

type ObjectLit struct {
	Fields []ObjectField
	LPos   token.Position
}

func (e *ObjectLit) Pos() token.Position { return e.LPos }

type ArrayLit struct {
	Elems []Expr
	LPos  token.Position
}

func (e *ArrayLit) Pos() token.Position { return e.LPos }

type FieldExpr struct {
	Recv Expr
	Name string
}

func (e *FieldExpr) Pos() token.Position { return e.Recv.Pos() }

type IndexExpr struct {
	Recv  Expr
	Index Expr
}

func (e *IndexExpr) Pos() token.Position { return e.Recv.Pos() }

// MethodExpr is `recv.name(args)` — sugar for a builtin call with the
// receiver prepended to the arguments.
type MethodExpr struct {
	Recv Expr
	Name string
	Args []Expr
}

func (e *MethodExpr) Pos() token.Position { return e.Recv.Pos() }

// BlockExpr is `(e1; e2; e3)` — a sequence whose value is the last
// expression's.
type BlockExpr struct {
	Exprs []Expr
	LPos  token.Position
}

func (e *BlockExpr) Pos() token.Position { return e.LPos }

// Staging markers

// ComptimeExpr requires its inner expression to be fully known at staging
// time.
type ComptimeExpr struct {
	Inner     Expr
	MarkerPos token.Position
}

func (e *ComptimeExpr) Pos() token.Position { return e.MarkerPos }

// RuntimeExpr defers its inner expression to execution time. Name, when
// non-empty, supplies the residual variable name.
type RuntimeExpr struct {
	Inner     Expr
	Name      string
	MarkerPos token.Position
}

func (e *RuntimeExpr) Pos() token.Position { return e.MarkerPos }

// AssertExpr is `assert(value)` or `assert(value, type)`. Type is nil for
// the one-argument condition form.
type AssertExpr struct {
	Value     Expr
	Type      Expr
	MarkerPos token.Position
}

func (e *AssertExpr) Pos() token.Position { return e.MarkerPos }

// TrustExpr refines the static constraint with no runtime check.
type TrustExpr struct {
	Value     Expr
	Type      Expr // nil means trust(value) with no narrowing type
	MarkerPos token.Position
}

func (e *TrustExpr) Pos() token.Position { return e.MarkerPos }

type TypeofExpr struct {
	Inner     Expr
	MarkerPos token.Position
}

func (e *TypeofExpr) Pos() token.Position { return e.MarkerPos }

// ImportExpr is `import "spec" (a, b) in body`: the named exports of the
// declaration file are bound in body.
type ImportExpr struct {
	Specifier string
	Names     []string
	Body      Expr
	ImportPos token.Position
}

func (e *ImportExpr) Pos() token.Position { return e.ImportPos }

func (*NumberLit) exprNode()       {}
func (*StringLit) exprNode()       {}
func (*BoolLit) exprNode()         {}
func (*NullLit) exprNode()         {}
func (*Ident) exprNode()           {}
func (*UnaryExpr) exprNode()       {}
func (*BinaryExpr) exprNode()      {}
func (*IfExpr) exprNode()          {}
func (*LetExpr) exprNode()         {}
func (*DestructureExpr) exprNode() {}
func (*FnExpr) exprNode()          {}
func (*CallExpr) exprNode()        {}
func (*ObjectLit) exprNode()       {}
func (*ArrayLit) exprNode()        {}
func (*FieldExpr) exprNode()       {}
func (*IndexExpr) exprNode()       {}
func (*MethodExpr) exprNode()      {}
func (*BlockExpr) exprNode()       {}
func (*ComptimeExpr) exprNode()    {}
func (*RuntimeExpr) exprNode()     {}
func (*AssertExpr) exprNode()      {}
func (*TrustExpr) exprNode()       {}
func (*TypeofExpr) exprNode()      {}
func (*ImportExpr) exprNode()      {}

// IsLiteral reports whether e is a scalar literal.
func IsLiteral(e Expr) bool {
	switch e.(type) {
	case *NumberLit, *StringLit, *BoolLit, *NullLit:
		return true
	}
	return false
}

// IsTrivial reports whether e is cheap enough to duplicate in residual
// code: a bare variable or a scalar literal.
func IsTrivial(e Expr) bool {
	if _, ok := e.(*Ident); ok {
		return true
	}
	return IsLiteral(e)
}
