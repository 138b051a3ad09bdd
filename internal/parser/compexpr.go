package parser

import (
	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/token"
)

// ceStmt is one statement of a computation-expression body before
// desugaring.
type ceStmt struct {
	tok  token.Token
	kind token.TokenType // LET, LET!, DO!, RETURN, RETURN!, YIELD, YIELD!, or IDENT for a bare expression
	name string          // bound name for LET / LET!
	rec  bool            // let rec inside a CE body
	expr ast.Expr
}

// parseComputationExpr parses `builder { ... }` and applies the standard
// F#-style translation:
//
//	let! x = e  ⟶  builder.Bind e (fun x -> rest)
//	do! e       ⟶  builder.Bind e (fun _ -> rest)
//	return e    ⟶  builder.Return e
//	return! e   ⟶  builder.ReturnFrom e
//	yield e     ⟶  builder.Yield e   (combined with the rest)
//	yield! e    ⟶  builder.YieldFrom e
//
// The whole body is wrapped in builder.Delay (fun () -> ...) so nothing
// runs until the builder decides to run it.
func (p *Parser) parseComputationExpr(builder ast.Expr) ast.Expr {
	tok := p.curToken
	p.nextToken() // {

	var stmts []ceStmt
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		st, ok := p.parseCEStmt()
		if !ok {
			return nil
		}
		stmts = append(stmts, st)
		if p.curIs(token.SEMICOLON) {
			p.nextToken()
		}
	}
	if !p.expect(token.RBRACE) {
		return nil
	}
	if len(stmts) == 0 {
		p.unexpected("computation expression body")
		return nil
	}

	body := p.desugarCE(builder, stmts)
	if body == nil {
		return nil
	}
	// builder.Delay (fun () -> body)
	return &ast.Apply{
		Token: tok,
		Fn:    builderMethod(builder, tok, "Delay"),
		Arg:   &ast.Lambda{Token: tok, Param: "_", Body: body},
	}
}

// builderMethod resolves a builder operation: a capitalized builder name
// (Async, Seq, …) goes through the module namespace; anything else is a
// record of closures.
func builderMethod(builder ast.Expr, tok token.Token, method string) ast.Expr {
	if id, ok := builder.(*ast.Ident); ok && !id.Qualified() && isUpper(id.Name) {
		return &ast.Ident{Token: tok, Path: []string{id.Name}, Name: method}
	}
	return &ast.FieldAccess{Token: tok, Target: builder, Field: method}
}

func (p *Parser) parseCEStmt() (ceStmt, bool) {
	tok := p.curToken

	switch p.curToken.Type {
	case token.LET_BANG:
		p.nextToken()
		if !p.curIs(token.IDENT) {
			p.unexpected("name after let!")
			return ceStmt{}, false
		}
		name := p.curToken.Lexeme
		p.nextToken()
		if !p.expect(token.ASSIGN) {
			return ceStmt{}, false
		}
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.LET_BANG, name: name, expr: e}, true

	case token.LET:
		rec, bindings := p.parseLetBindings()
		if bindings == nil {
			return ceStmt{}, false
		}
		if len(bindings) != 1 {
			p.unexpected("single binding in computation expression let")
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.LET, name: bindings[0].Name, rec: rec, expr: bindings[0].Value}, true

	case token.DO_BANG:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.DO_BANG, expr: e}, true

	case token.RETURN_BANG:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.RETURN_BANG, expr: e}, true

	case token.RETURN:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.RETURN, expr: e}, true

	case token.YIELD_BANG:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.YIELD_BANG, expr: e}, true

	case token.YIELD:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.YIELD, expr: e}, true

	case token.DO:
		p.nextToken()
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.IDENT, expr: e}, true

	default:
		e := p.parseExpr()
		if e == nil {
			return ceStmt{}, false
		}
		return ceStmt{tok: tok, kind: token.IDENT, expr: e}, true
	}
}

// desugarCE lowers the statement list right-to-left.
func (p *Parser) desugarCE(builder ast.Expr, stmts []ceStmt) ast.Expr {
	call := func(tok token.Token, method string, args ...ast.Expr) ast.Expr {
		e := builderMethod(builder, tok, method)
		for _, a := range args {
			e = &ast.Apply{Token: tok, Fn: e, Arg: a}
		}
		return e
	}

	last := stmts[len(stmts)-1]
	var acc ast.Expr
	switch last.kind {
	case token.RETURN:
		acc = call(last.tok, "Return", last.expr)
	case token.RETURN_BANG:
		acc = call(last.tok, "ReturnFrom", last.expr)
	case token.YIELD:
		acc = call(last.tok, "Yield", last.expr)
	case token.YIELD_BANG:
		acc = call(last.tok, "YieldFrom", last.expr)
	case token.DO_BANG:
		acc = call(last.tok, "Bind", last.expr,
			&ast.Lambda{Token: last.tok, Param: "_", Body: call(last.tok, "Zero", &ast.UnitLit{Token: last.tok})})
	case token.LET_BANG, token.LET:
		p.errors = append(p.errors, diagnostics.NewPhaseError(
			diagnostics.PhaseParser, diagnostics.ErrP001,
			last.tok, "expression after binding in computation expression", last.tok.Lexeme))
		return nil
	default:
		// A trailing plain expression: evaluate for effect, finish Zero.
		acc = &ast.SequenceExpr{Token: last.tok, First: last.expr,
			Second: call(last.tok, "Zero", &ast.UnitLit{Token: last.tok})}
	}

	for i := len(stmts) - 2; i >= 0; i-- {
		st := stmts[i]
		switch st.kind {
		case token.LET_BANG:
			acc = call(st.tok, "Bind", st.expr, &ast.Lambda{Token: st.tok, Param: st.name, Body: acc})
		case token.DO_BANG:
			acc = call(st.tok, "Bind", st.expr, &ast.Lambda{Token: st.tok, Param: "_", Body: acc})
		case token.LET:
			acc = &ast.LetExpr{Token: st.tok, Rec: st.rec,
				Bindings: []*ast.Binding{{Token: st.tok, Name: st.name, Value: st.expr}},
				Body:     acc}
		case token.YIELD:
			acc = call(st.tok, "Combine", call(st.tok, "Yield", st.expr), acc)
		case token.YIELD_BANG:
			acc = call(st.tok, "Combine", call(st.tok, "YieldFrom", st.expr), acc)
		case token.RETURN, token.RETURN_BANG:
			// An early return combines with the rest of the body.
			var head ast.Expr
			if st.kind == token.RETURN {
				head = call(st.tok, "Return", st.expr)
			} else {
				head = call(st.tok, "ReturnFrom", st.expr)
			}
			acc = call(st.tok, "Combine", head, acc)
		default:
			acc = &ast.SequenceExpr{Token: st.tok, First: st.expr, Second: acc}
		}
	}
	return acc
}
