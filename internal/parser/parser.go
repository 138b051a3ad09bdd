// Package parser implements the recursive-descent parser for Fusabi. All
// surface sugar is lowered here: multi-parameter let and fun become nested
// single-parameter lambdas, pipelines become applications, and computation
// expressions become Bind/Return/Combine call chains.
package parser

import (
	"fmt"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/token"
)

// duInfo records a discriminated-union constructor known to the parser so
// that uses can be resolved to their (type, variant) pair at parse time.
type duInfo struct {
	TypeName string
	Arity    int
}

type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token

	errors []*diagnostics.DiagnosticError

	// Constructor registry: variant name -> owning type + field count.
	// Seeded with the built-in Option and Result constructors.
	constructors map[string]duInfo

	// Fresh-name counter for desugared lambda parameters.
	freshCount int

	// Type parameters of the type declaration being parsed, so type
	// expressions can resolve them as variables.
	curTypeParams map[string]bool
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l: l,
		constructors: map[string]duInfo{
			"Some":  {TypeName: "Option", Arity: 1},
			"None":  {TypeName: "Option", Arity: 0},
			"Ok":    {TypeName: "Result", Arity: 1},
			"Error": {TypeName: "Result", Arity: 1},
		},
	}
	// Prime curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Errors returns parse errors collected so far, including lexer errors.
func (p *Parser) Errors() []*diagnostics.DiagnosticError {
	return append(p.l.Errors(), p.errors...)
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t token.TokenType) bool { return p.peekToken.Type == t }

// expect advances past the current token if it has the given type, or
// records an UnexpectedToken error and returns false.
func (p *Parser) expect(t token.TokenType) bool {
	if p.curIs(t) {
		p.nextToken()
		return true
	}
	p.unexpected(string(t))
	return false
}

func (p *Parser) unexpected(expected string) {
	p.errors = append(p.errors, diagnostics.NewPhaseError(
		diagnostics.PhaseParser, diagnostics.ErrP001,
		p.curToken, expected, p.curToken.Lexeme))
}

func (p *Parser) fresh(prefix string) string {
	p.freshCount++
	return fmt.Sprintf("_%s%d", prefix, p.freshCount)
}

// ParseProgram parses a whole source file: directives, then declarations.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}

	for p.curIs(token.HASH_LOAD) {
		d := p.parseLoadDirective()
		if d != nil {
			prog.Directives = append(prog.Directives, d)
		}
	}

	for !p.curIs(token.EOF) {
		before := len(p.errors)
		decl := p.parseDecl()
		if decl != nil {
			prog.Decls = append(prog.Decls, decl)
		}
		if len(p.errors) > before {
			p.recoverToTopLevel()
		}
	}
	return prog
}

// recoverToTopLevel skips tokens until the next plausible declaration start,
// so one syntax error doesn't cascade through the rest of the file.
func (p *Parser) recoverToTopLevel() {
	for !p.curIs(token.EOF) {
		switch p.curToken.Type {
		case token.LET, token.MODULE, token.TYPE, token.OPEN:
			return
		}
		p.nextToken()
	}
}

func (p *Parser) parseLoadDirective() *ast.LoadDirective {
	tok := p.curToken
	p.nextToken() // #load
	if !p.curIs(token.STRING) {
		p.unexpected("string path after #load")
		return nil
	}
	path, _ := p.curToken.Literal.(string)
	p.nextToken()
	return &ast.LoadDirective{Token: tok, Path: path}
}

func (p *Parser) parseDecl() ast.Decl {
	switch p.curToken.Type {
	case token.LET:
		return p.parseLetDecl()
	case token.MODULE:
		return p.parseModuleDecl()
	case token.TYPE:
		return p.parseTypeDecl()
	case token.OPEN:
		return p.parseOpenDecl()
	case token.HASH_LOAD:
		p.errors = append(p.errors, diagnostics.NewPhaseError(
			diagnostics.PhaseParser, diagnostics.ErrP001,
			p.curToken, "directives before declarations", p.curToken.Lexeme))
		p.nextToken()
		return nil
	default:
		tok := p.curToken
		expr := p.parseExpr()
		if expr == nil {
			p.nextToken()
			return nil
		}
		return &ast.ExprDecl{Token: tok, Expr: expr}
	}
}

// parseLetDecl handles a top-level `let` group. When the group is followed
// by `in`, the whole thing is really an expression and is wrapped as one.
func (p *Parser) parseLetDecl() ast.Decl {
	tok := p.curToken
	rec, bindings := p.parseLetBindings()
	if bindings == nil {
		return nil
	}
	if p.curIs(token.IN) {
		p.nextToken()
		body := p.parseExpr()
		if body == nil {
			return nil
		}
		return &ast.ExprDecl{Token: tok, Expr: &ast.LetExpr{
			Token: tok, Rec: rec, Bindings: bindings, Body: body,
		}}
	}
	return &ast.LetDecl{Token: tok, Rec: rec, Bindings: bindings}
}

// parseLetBindings parses `let [rec] b (and b)*` and leaves the cursor on
// whatever follows the final binding (`in`, a new declaration, EOF …).
func (p *Parser) parseLetBindings() (bool, []*ast.Binding) {
	p.nextToken() // let
	rec := false
	if p.curIs(token.REC) {
		rec = true
		p.nextToken()
	}

	var bindings []*ast.Binding
	for {
		b := p.parseBinding()
		if b == nil {
			return rec, nil
		}
		bindings = append(bindings, b)
		if p.curIs(token.AND_KW) {
			p.nextToken()
			continue
		}
		return rec, bindings
	}
}

// parseBinding parses `name param* = expr`, currying parameters into
// nested lambdas.
func (p *Parser) parseBinding() *ast.Binding {
	tok := p.curToken
	if !p.curIs(token.IDENT) {
		p.unexpected("binding name")
		return nil
	}
	name := p.curToken.Lexeme
	p.nextToken()

	var params []string
	for p.curIs(token.IDENT) || p.curIs(token.UNIT) || p.curIs(token.UNDERSCORE) {
		if p.curIs(token.IDENT) {
			params = append(params, p.curToken.Lexeme)
		} else {
			params = append(params, "_")
		}
		p.nextToken()
	}

	if !p.expect(token.ASSIGN) {
		return nil
	}
	value := p.parseExpr()
	if value == nil {
		return nil
	}

	// let f x y = body  ==>  let f = fun x -> fun y -> body
	for i := len(params) - 1; i >= 0; i-- {
		value = &ast.Lambda{Token: tok, Param: params[i], Body: value}
	}
	return &ast.Binding{Token: tok, Name: name, Value: value}
}

func (p *Parser) parseModuleDecl() ast.Decl {
	tok := p.curToken
	p.nextToken() // module
	if !p.curIs(token.IDENT) {
		p.unexpected("module name")
		return nil
	}
	name := p.curToken.Lexeme
	p.nextToken()
	if !p.expect(token.ASSIGN) {
		return nil
	}

	// Verbose form: module Name = begin ... end. Without begin, the body
	// extends to the end of the file.
	delimited := false
	if p.curIs(token.BEGIN) {
		delimited = true
		p.nextToken()
	}

	var decls []ast.Decl
	for !p.curIs(token.EOF) {
		if delimited && p.curIs(token.END) {
			p.nextToken()
			break
		}
		d := p.parseDecl()
		if d != nil {
			decls = append(decls, d)
		} else if !p.curIs(token.EOF) && !(delimited && p.curIs(token.END)) {
			break
		}
	}
	return &ast.ModuleDecl{Token: tok, Name: name, Decls: decls}
}

func (p *Parser) parseOpenDecl() ast.Decl {
	tok := p.curToken
	p.nextToken() // open
	var path []string
	for {
		if !p.curIs(token.IDENT) {
			p.unexpected("module path segment")
			return nil
		}
		path = append(path, p.curToken.Lexeme)
		p.nextToken()
		if p.curIs(token.DOT) {
			p.nextToken()
			continue
		}
		break
	}
	return &ast.OpenDecl{Token: tok, Path: path}
}

// parseTypeDecl parses `type Name<'a> = | C of t * t | D` or a record type
// `type Name = { f : t; ... }`. Constructors are registered so later
// expressions and patterns resolve them.
func (p *Parser) parseTypeDecl() ast.Decl {
	tok := p.curToken
	p.nextToken() // type
	if !p.curIs(token.IDENT) {
		p.unexpected("type name")
		return nil
	}
	name := p.curToken.Lexeme
	p.nextToken()

	var params []string
	if p.curIs(token.LT) {
		p.nextToken()
		for {
			tv := p.parseTypeVarName()
			if tv == "" {
				return nil
			}
			params = append(params, tv)
			if p.curIs(token.COMMA) {
				p.nextToken()
				continue
			}
			break
		}
		if !p.expect(token.GT) {
			return nil
		}
	}

	if !p.expect(token.ASSIGN) {
		return nil
	}

	p.curTypeParams = make(map[string]bool, len(params))
	for _, tv := range params {
		p.curTypeParams[tv] = true
	}
	defer func() { p.curTypeParams = nil }()

	decl := &ast.TypeDecl{Token: tok, Name: name, Params: params}

	if p.curIs(token.LBRACE) {
		// Record type definition
		p.nextToken()
		for !p.curIs(token.RBRACE) {
			if !p.curIs(token.IDENT) {
				p.unexpected("record field name")
				return nil
			}
			ftok := p.curToken
			fname := p.curToken.Lexeme
			p.nextToken()
			if !p.expect(token.COLON) {
				return nil
			}
			ftype := p.parseTypeExpr()
			if ftype == nil {
				return nil
			}
			decl.RecordFields = append(decl.RecordFields, &ast.RecordFieldDecl{Token: ftok, Name: fname, Type: ftype})
			if p.curIs(token.SEMICOLON) {
				p.nextToken()
			}
		}
		p.nextToken() // }
	} else {
		// Discriminated union: optional leading |
		if p.curIs(token.PIPE) {
			p.nextToken()
		}
		for {
			v := p.parseDuVariant(name)
			if v == nil {
				return nil
			}
			decl.Variants = append(decl.Variants, v)
			if p.curIs(token.PIPE) {
				p.nextToken()
				continue
			}
			break
		}
	}

	// `type T = ... in expr` scopes the definition over an expression.
	if p.curIs(token.IN) {
		p.nextToken()
		body := p.parseExpr()
		if body == nil {
			return decl
		}
		return &ast.ExprDecl{Token: tok, Expr: &ast.TypeScopeExpr{Token: tok, Decl: decl, Body: body}}
	}
	return decl
}

func (p *Parser) parseDuVariant(typeName string) *ast.DuVariant {
	if !p.curIs(token.IDENT) {
		p.unexpected("variant name")
		return nil
	}
	vtok := p.curToken
	vname := p.curToken.Lexeme
	p.nextToken()

	var fields []ast.TypeExpr
	if p.curIs(token.OF) {
		p.nextToken()
		for {
			ft := p.parseTypeAtomOrArrow()
			if ft == nil {
				return nil
			}
			fields = append(fields, ft)
			if p.curIs(token.ASTERISK) {
				p.nextToken()
				continue
			}
			break
		}
	}

	p.constructors[vname] = duInfo{TypeName: typeName, Arity: len(fields)}
	return &ast.DuVariant{Token: vtok, Name: vname, Fields: fields}
}

func (p *Parser) parseTypeVarName() string {
	if p.curIs(token.IDENT) {
		n := p.curToken.Lexeme
		p.nextToken()
		return n
	}
	p.unexpected("type variable")
	return ""
}
