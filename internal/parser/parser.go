package parser

import (
	"fmt"
	"strconv"

	"presage/internal/ast"
	"presage/internal/lexer"
	"presage/internal/token"
)

type Parser struct {
	l *lexer.Lexer

	cur  token.Token
	peek token.Token

	errors []string
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	// init cur/peek
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) nextToken() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(pos token.Position, format string, args ...interface{}) {
	msg := fmt.Sprintf("%d:%d: ", pos.Line, pos.Column) + fmt.Sprintf(format, args...)
	p.errors = append(p.errors, msg)
}

func (p *Parser) expect(kind token.Kind) token.Token {
	if p.cur.Kind != kind {
		p.errorf(p.cur.Pos, "expected %s, got %s (%q)", kind, p.cur.Kind, p.cur.Lexeme)
	}
	tok := p.cur
	p.nextToken()
	return tok
}

// ---------- Top-level ----------

// ParseProgram parses a whole source file: one expression followed by EOF.
func (p *Parser) ParseProgram() ast.Expr {
	expr := p.ParseExpr()
	if p.cur.Kind != token.EOF {
		p.errorf(p.cur.Pos, "unexpected trailing token: %s (%q)", p.cur.Kind, p.cur.Lexeme)
	}
	return expr
}

// ParseExpr parses a single expression, binder forms included.
func (p *Parser) ParseExpr() ast.Expr {
	switch p.cur.Kind {
	case token.Let:
		return p.parseLet()
	case token.If:
		return p.parseIf()
	case token.Fn:
		return p.parseFn()
	case token.Rec:
		return p.parseRec()
	case token.Import:
		return p.parseImport()
	default:
		return p.parseOr()
	}
}

// ---------- Binder forms ----------

func (p *Parser) parseLet() ast.Expr {
	letTok := p.expect(token.Let)

	if p.cur.Kind == token.LBrace {
		// let {a, b} = value in body
		p.nextToken()
		names := p.parseIdentList(token.RBrace)
		p.expect(token.RBrace)
		p.expect(token.Assign)
		value := p.ParseExpr()
		p.expect(token.In)
		body := p.ParseExpr()
		return &ast.DestructureExpr{
			Names:  names,
			Value:  value,
			Body:   body,
			LetPos: letTok.Pos,
		}
	}

	nameTok := p.expect(token.Ident)
	p.expect(token.Assign)
	value := p.ParseExpr()
	p.expect(token.In)
	body := p.ParseExpr()
	return &ast.LetExpr{
		Name:   nameTok.Lexeme,
		Value:  value,
		Body:   body,
		LetPos: letTok.Pos,
	}
}

func (p *Parser) parseIf() ast.Expr {
	ifTok := p.expect(token.If)
	cond := p.ParseExpr()
	p.expect(token.Then)
	thenExpr := p.ParseExpr()
	p.expect(token.Else)
	elseExpr := p.ParseExpr()
	return &ast.IfExpr{
		Cond:  cond,
		Then:  thenExpr,
		Else:  elseExpr,
		IfPos: ifTok.Pos,
	}
}

func (p *Parser) parseFn() ast.Expr {
	fnTok := p.expect(token.Fn)
	params := p.parseParams()
	p.expect(token.Arrow)
	body := p.ParseExpr()
	return &ast.FnExpr{
		Params: params,
		Body:   body,
		FnPos:  fnTok.Pos,
	}
}

func (p *Parser) parseRec() ast.Expr {
	recTok := p.expect(token.Rec)
	nameTok := p.expect(token.Ident)
	params := p.parseParams()
	p.expect(token.Arrow)
	body := p.ParseExpr()
	return &ast.FnExpr{
		SelfName: nameTok.Lexeme,
		Params:   params,
		Body:     body,
		FnPos:    recTok.Pos,
	}
}

func (p *Parser) parseImport() ast.Expr {
	impTok := p.expect(token.Import)
	specTok := p.expect(token.String)
	p.expect(token.LParen)
	names := p.parseIdentList(token.RParen)
	p.expect(token.RParen)
	p.expect(token.In)
	body := p.ParseExpr()
	return &ast.ImportExpr{
		Specifier: specTok.Lexeme,
		Names:     names,
		Body:      body,
		ImportPos: impTok.Pos,
	}
}

func (p *Parser) parseParams() []ast.Param {
	p.expect(token.LParen)
	var params []ast.Param
	if p.cur.Kind != token.RParen {
		for {
			comptime := false
			if p.cur.Kind == token.Comptime {
				comptime = true
				p.nextToken()
			}
			nameTok := p.expect(token.Ident)
			params = append(params, ast.Param{
				Name:     nameTok.Lexeme,
				Comptime: comptime,
				NamePos:  nameTok.Pos,
			})
			if p.cur.Kind == token.Comma {
				p.nextToken()
				continue
			}
			break
		}
	}
	p.expect(token.RParen)
	return params
}

func (p *Parser) parseIdentList(stop token.Kind) []string {
	var names []string
	if p.cur.Kind == stop {
		return names
	}
	for {
		nameTok := p.expect(token.Ident)
		names = append(names, nameTok.Lexeme)
		if p.cur.Kind == token.Comma {
			p.nextToken()
			continue
		}
		break
	}
	return names
}

// ---------- Operators ----------

func (p *Parser) parseOr() ast.Expr {
	left := p.parseAnd()
	for p.cur.Kind == token.OrOr {
		opTok := p.cur
		p.nextToken()
		right := p.parseAnd()
		left = &ast.BinaryExpr{
			Op:    opTok.Lexeme,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expr {
	left := p.parseEquality()
	for p.cur.Kind == token.AndAnd {
		opTok := p.cur
		p.nextToken()
		right := p.parseEquality()
		left = &ast.BinaryExpr{
			Op:    opTok.Lexeme,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *Parser) parseEquality() ast.Expr {
	left := p.parseRelational()
	for p.cur.Kind == token.Eq || p.cur.Kind == token.NotEq {
		opTok := p.cur
		p.nextToken()
		right := p.parseRelational()
		left = &ast.BinaryExpr{
			Op:    opTok.Lexeme,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *Parser) parseRelational() ast.Expr {
	left := p.parseAdditive()
	for p.cur.Kind == token.Lt || p.cur.Kind == token.LtEq ||
		p.cur.Kind == token.Gt || p.cur.Kind == token.GtEq {
		opTok := p.cur
		p.nextToken()
		right := p.parseAdditive()
		left = &ast.BinaryExpr{
			Op:    opTok.Lexeme,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.cur.Kind == token.Plus || p.cur.Kind == token.Minus {
		opTok := p.cur
		p.nextToken()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{
			Op:    opTok.Lexeme,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	left := p.parseUnary()
	for p.cur.Kind == token.Star || p.cur.Kind == token.Slash || p.cur.Kind == token.Percent {
		opTok := p.cur
		p.nextToken()
		right := p.parseUnary()
		left = &ast.BinaryExpr{
			Op:    opTok.Lexeme,
			Left:  left,
			Right: right,
		}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	if p.cur.Kind == token.Bang || p.cur.Kind == token.Minus {
		opTok := p.cur
		p.nextToken()
		x := p.parseUnary()
		return &ast.UnaryExpr{
			Op:      opTok.Lexeme,
			Operand: x,
			OpPos:   opTok.Pos,
		}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ast.Expr {
	expr := p.parsePrimary()

	for {
		switch p.cur.Kind {
		case token.Dot:
			p.nextToken()
			if p.cur.Kind != token.Ident {
				p.errorf(p.cur.Pos, "expected identifier after '.'")
				return expr
			}
			nameTok := p.cur
			p.nextToken()
			if p.cur.Kind == token.LParen {
				// method call: expr.name(args)
				args := p.parseArgs()
				expr = &ast.MethodExpr{
					Recv: expr,
					Name: nameTok.Lexeme,
					Args: args,
				}
			} else {
				expr = &ast.FieldExpr{
					Recv: expr,
					Name: nameTok.Lexeme,
				}
			}
		case token.LParen:
			args := p.parseArgs()
			expr = &ast.CallExpr{
				Callee: expr,
				Args:   args,
			}
		case token.LBracket:
			p.nextToken()
			indexExpr := p.ParseExpr()
			p.expect(token.RBracket)
			expr = &ast.IndexExpr{
				Recv:  expr,
				Index: indexExpr,
			}
		default:
			return expr
		}
	}
}

func (p *Parser) parseArgs() []ast.Expr {
	p.expect(token.LParen)
	var args []ast.Expr
	if p.cur.Kind != token.RParen {
		for {
			args = append(args, p.ParseExpr())
			if p.cur.Kind == token.Comma {
				p.nextToken()
				continue
			}
			break
		}
	}
	p.expect(token.RParen)
	return args
}

// ---------- Primary ----------

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.cur

	switch tok.Kind {
	case token.Number:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			p.errorf(tok.Pos, "invalid number literal %q", tok.Lexeme)
		}
		return &ast.NumberLit{Value: v, LitPos: tok.Pos}

	case token.String:
		p.nextToken()
		return &ast.StringLit{Value: tok.Lexeme, LitPos: tok.Pos}

	case token.True:
		p.nextToken()
		return &ast.BoolLit{Value: true, LitPos: tok.Pos}

	case token.False:
		p.nextToken()
		return &ast.BoolLit{Value: false, LitPos: tok.Pos}

	case token.Null:
		p.nextToken()
		return &ast.NullLit{LitPos: tok.Pos}

	case token.Ident:
		p.nextToken()
		return &ast.Ident{Name: tok.Lexeme, NamePos: tok.Pos}

	case token.LParen:
		// grouping or block: (e) / (e1; e2; ...)
		p.nextToken()
		first := p.ParseExpr()
		if p.cur.Kind != token.Semicolon {
			p.expect(token.RParen)
			return first
		}
		exprs := []ast.Expr{first}
		for p.cur.Kind == token.Semicolon {
			p.nextToken()
			exprs = append(exprs, p.ParseExpr())
		}
		p.expect(token.RParen)
		return &ast.BlockExpr{Exprs: exprs, LPos: tok.Pos}

	case token.LBrace:
		return p.parseObjectLiteral()

	case token.LBracket:
		return p.parseArrayLiteral()

	case token.Comptime:
		p.nextToken()
		p.expect(token.LParen)
		inner := p.ParseExpr()
		p.expect(token.RParen)
		return &ast.ComptimeExpr{Inner: inner, MarkerPos: tok.Pos}

	case token.Runtime:
		p.nextToken()
		p.expect(token.LParen)
		inner := p.ParseExpr()
		name := ""
		if p.cur.Kind == token.Comma {
			p.nextToken()
			nameTok := p.expect(token.String)
			name = nameTok.Lexeme
		}
		p.expect(token.RParen)
		return &ast.RuntimeExpr{Inner: inner, Name: name, MarkerPos: tok.Pos}

	case token.Assert:
		p.nextToken()
		p.expect(token.LParen)
		value := p.ParseExpr()
		var typeExpr ast.Expr
		if p.cur.Kind == token.Comma {
			p.nextToken()
			typeExpr = p.ParseExpr()
		}
		p.expect(token.RParen)
		return &ast.AssertExpr{Value: value, Type: typeExpr, MarkerPos: tok.Pos}

	case token.Trust:
		p.nextToken()
		p.expect(token.LParen)
		value := p.ParseExpr()
		var typeExpr ast.Expr
		if p.cur.Kind == token.Comma {
			p.nextToken()
			typeExpr = p.ParseExpr()
		}
		p.expect(token.RParen)
		return &ast.TrustExpr{Value: value, Type: typeExpr, MarkerPos: tok.Pos}

	case token.Typeof:
		p.nextToken()
		p.expect(token.LParen)
		inner := p.ParseExpr()
		p.expect(token.RParen)
		return &ast.TypeofExpr{Inner: inner, MarkerPos: tok.Pos}

	// Binder forms reachable as operands through parentheses only, but a
	// user writing one bare in operand position deserves the real parse,
	// not a confusing "unexpected token" at the keyword.
	case token.Let, token.If, token.Fn, token.Rec, token.Import:
		return p.ParseExpr()

	default:
		p.errorf(tok.Pos, "unexpected token: %s (%q)", tok.Kind, tok.Lexeme)
		p.nextToken()
		return &ast.NullLit{LitPos: tok.Pos}
	}
}

func (p *Parser) parseObjectLiteral() ast.Expr {
	lbrace := p.expect(token.LBrace)
	var fields []ast.ObjectField
	if p.cur.Kind != token.RBrace {
		for {
			nameTok := p.expect(token.Ident)
			p.expect(token.Colon)
			value := p.ParseExpr()
			fields = append(fields, ast.ObjectField{Name: nameTok.Lexeme, Value: value})
			if p.cur.Kind == token.Comma {
				p.nextToken()
				continue
			}
			break
		}
	}
	p.expect(token.RBrace)
	return &ast.ObjectLit{Fields: fields, LPos: lbrace.Pos}
}

func (p *Parser) parseArrayLiteral() ast.Expr {
	lbracket := p.expect(token.LBracket)
	var elems []ast.Expr
	if p.cur.Kind != token.RBracket {
		for {
			elems = append(elems, p.ParseExpr())
			if p.cur.Kind == token.Comma {
				p.nextToken()
				continue
			}
			break
		}
	}
	p.expect(token.RBracket)
	return &ast.ArrayLit{Elems: elems, LPos: lbracket.Pos}
}

// Parse is a convenience wrapper: lex and parse src, returning the
// expression or the first error.
func Parse(src string) (ast.Expr, error) {
	l := lexer.New(src)
	p := New(l)
	expr := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("parse: %s", errs[0])
	}
	if errs := l.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("lex: %s", errs[0])
	}
	return expr, nil
}
