package parser

import (
	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/token"
)

// parsePattern parses a match pattern. Cons is right-associative:
// `x :: y :: rest` is `x :: (y :: rest)`.
func (p *Parser) parsePattern() ast.Pattern {
	left := p.parsePatternPrimary()
	if left == nil {
		return nil
	}
	if p.curIs(token.CONS) {
		tok := p.curToken
		p.nextToken()
		tail := p.parsePattern()
		if tail == nil {
			return nil
		}
		return &ast.ConsPat{Token: tok, Head: left, Tail: tail}
	}
	return left
}

func (p *Parser) parsePatternPrimary() ast.Pattern {
	tok := p.curToken

	switch p.curToken.Type {
	case token.UNDERSCORE:
		p.nextToken()
		return &ast.WildcardPat{Token: tok}

	case token.INT:
		v, _ := tok.Literal.(int64)
		p.nextToken()
		return &ast.LitPat{Token: tok, Value: &ast.IntLit{Token: tok, Value: v}}

	case token.MINUS:
		p.nextToken()
		if p.curIs(token.INT) {
			v, _ := p.curToken.Literal.(int64)
			p.nextToken()
			return &ast.LitPat{Token: tok, Value: &ast.IntLit{Token: tok, Value: -v}}
		}
		if p.curIs(token.FLOAT) {
			v, _ := p.curToken.Literal.(float64)
			p.nextToken()
			return &ast.LitPat{Token: tok, Value: &ast.FloatLit{Token: tok, Value: -v}}
		}
		p.unexpected("numeric literal after -")
		return nil

	case token.FLOAT:
		v, _ := tok.Literal.(float64)
		p.nextToken()
		return &ast.LitPat{Token: tok, Value: &ast.FloatLit{Token: tok, Value: v}}

	case token.STRING:
		v, _ := tok.Literal.(string)
		p.nextToken()
		return &ast.LitPat{Token: tok, Value: &ast.StringLit{Token: tok, Value: v}}

	case token.TRUE:
		p.nextToken()
		return &ast.LitPat{Token: tok, Value: &ast.BoolLit{Token: tok, Value: true}}

	case token.FALSE:
		p.nextToken()
		return &ast.LitPat{Token: tok, Value: &ast.BoolLit{Token: tok, Value: false}}

	case token.UNIT:
		p.nextToken()
		return &ast.LitPat{Token: tok, Value: &ast.UnitLit{Token: tok}}

	case token.IDENT:
		name := p.curToken.Lexeme
		if info, isCtor := p.constructors[name]; isCtor {
			return p.parseVariantPat(info)
		}
		p.nextToken()
		return &ast.VarPat{Token: tok, Name: name}

	case token.LPAREN:
		p.nextToken()
		first := p.parsePattern()
		if first == nil {
			return nil
		}
		if p.curIs(token.COMMA) {
			elems := []ast.Pattern{first}
			for p.curIs(token.COMMA) {
				p.nextToken()
				next := p.parsePattern()
				if next == nil {
					return nil
				}
				elems = append(elems, next)
			}
			if !p.expect(token.RPAREN) {
				return nil
			}
			return &ast.TuplePat{Token: tok, Elems: elems}
		}
		if !p.expect(token.RPAREN) {
			return nil
		}
		return first

	case token.LBRACKET:
		// [p1; p2; p3] desugars to p1 :: p2 :: p3 :: []
		p.nextToken()
		var elems []ast.Pattern
		for !p.curIs(token.RBRACKET) {
			e := p.parsePattern()
			if e == nil {
				return nil
			}
			elems = append(elems, e)
			if p.curIs(token.SEMICOLON) {
				p.nextToken()
				continue
			}
			break
		}
		if !p.expect(token.RBRACKET) {
			return nil
		}
		var pat ast.Pattern = &ast.NilPat{Token: tok}
		for i := len(elems) - 1; i >= 0; i-- {
			pat = &ast.ConsPat{Token: tok, Head: elems[i], Tail: pat}
		}
		return pat

	case token.LBRACE:
		p.nextToken()
		var fields []*ast.RecordFieldPat
		for !p.curIs(token.RBRACE) {
			if !p.curIs(token.IDENT) {
				p.unexpected("record field name in pattern")
				return nil
			}
			ftok := p.curToken
			fname := p.curToken.Lexeme
			p.nextToken()
			if !p.expect(token.ASSIGN) {
				return nil
			}
			fp := p.parsePattern()
			if fp == nil {
				return nil
			}
			fields = append(fields, &ast.RecordFieldPat{Token: ftok, Name: fname, Pat: fp})
			if p.curIs(token.SEMICOLON) {
				p.nextToken()
			}
		}
		p.nextToken() // }
		return &ast.RecordPat{Token: tok, Fields: fields}
	}

	p.unexpected("pattern")
	return nil
}

// parseVariantPat parses `Ctor p1 p2` or `Ctor (p1, p2)`. The owning type
// name is attached so the (type, variant) pair always travels together.
func (p *Parser) parseVariantPat(info duInfo) ast.Pattern {
	tok := p.curToken
	name := p.curToken.Lexeme
	p.nextToken()

	pat := &ast.VariantPat{Token: tok, TypeName: info.TypeName, Variant: name}
	if info.Arity == 0 {
		return pat
	}

	first := p.parsePatternPrimary()
	if first == nil {
		return nil
	}
	// A single tuple pattern of matching arity is spread into fields.
	if tup, ok := first.(*ast.TuplePat); ok && len(tup.Elems) == info.Arity {
		pat.Args = tup.Elems
		return pat
	}
	pat.Args = append(pat.Args, first)
	for len(pat.Args) < info.Arity {
		next := p.parsePatternPrimary()
		if next == nil {
			return nil
		}
		pat.Args = append(pat.Args, next)
	}
	return pat
}
