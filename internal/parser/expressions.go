package parser

import (
	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/token"
)

// Binding powers, low to high. Application binds tighter than any listed
// operator; postfix access binds tighter than application.
const (
	precLowest = iota
	precPipeline
	precCompose
	precOr
	precAnd
	precCompare
	precCons
	precSum
	precProduct
)

var binaryPrec = map[token.TokenType]int{
	token.PIPE_GT:       precPipeline,
	token.COMPOSE_RIGHT: precCompose,
	token.COMPOSE_LEFT:  precCompose,
	token.OR:            precOr,
	token.AND:           precAnd,
	token.ASSIGN:        precCompare, // `=` is equality in expression position
	token.NOT_EQ:        precCompare,
	token.LT:            precCompare,
	token.LTE:           precCompare,
	token.GT:            precCompare,
	token.GTE:           precCompare,
	token.CONS:          precCons,
	token.PLUS:          precSum,
	token.MINUS:         precSum,
	token.ASTERISK:      precProduct,
	token.SLASH:         precProduct,
	token.PERCENT:       precProduct,
}

// parseExpr parses a full expression.
func (p *Parser) parseExpr() ast.Expr {
	return p.parseBinary(precLowest)
}

// parseBinary implements precedence climbing over the binary operators,
// desugaring pipelines and composition as it goes.
func (p *Parser) parseBinary(minPrec int) ast.Expr {
	left := p.parseUnary()
	if left == nil {
		return nil
	}

	for {
		prec, ok := binaryPrec[p.curToken.Type]
		if !ok || prec < minPrec {
			return left
		}
		opTok := p.curToken
		op := p.curToken.Type
		p.nextToken()

		// :: is right-associative; everything else is left-associative.
		nextMin := prec + 1
		if op == token.CONS {
			nextMin = prec
		}
		right := p.parseBinary(nextMin)
		if right == nil {
			return nil
		}

		switch op {
		case token.PIPE_GT:
			// a |> f  ==>  f a
			left = &ast.Apply{Token: opTok, Fn: right, Arg: left}
		case token.COMPOSE_RIGHT:
			// f >> g  ==>  fun x -> g (f x)
			x := p.fresh("c")
			left = &ast.Lambda{Token: opTok, Param: x, Body: &ast.Apply{
				Token: opTok,
				Fn:    right,
				Arg:   &ast.Apply{Token: opTok, Fn: left, Arg: &ast.Ident{Token: opTok, Name: x}},
			}}
		case token.COMPOSE_LEFT:
			// g << f  ==>  fun x -> g (f x)
			x := p.fresh("c")
			left = &ast.Lambda{Token: opTok, Param: x, Body: &ast.Apply{
				Token: opTok,
				Fn:    left,
				Arg:   &ast.Apply{Token: opTok, Fn: right, Arg: &ast.Ident{Token: opTok, Name: x}},
			}}
		default:
			left = &ast.BinaryExpr{Token: opTok, Op: op, Left: left, Right: right}
		}
	}
}

func (p *Parser) parseUnary() ast.Expr {
	if p.curIs(token.MINUS) {
		tok := p.curToken
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		// Fold negation into numeric literals.
		switch lit := operand.(type) {
		case *ast.IntLit:
			return &ast.IntLit{Token: tok, Value: -lit.Value}
		case *ast.FloatLit:
			return &ast.FloatLit{Token: tok, Value: -lit.Value}
		}
		return &ast.UnaryExpr{Token: tok, Op: token.MINUS, Operand: operand}
	}
	return p.parseApplication()
}

// parseApplication parses juxtaposition: `f a b` is `(f a) b`. Constructor
// idents consume their declared field count.
func (p *Parser) parseApplication() ast.Expr {
	fn := p.parsePostfix()
	if fn == nil {
		return nil
	}

	// Constructor application: `Some 42` and `Pair (1, 2)` resolve to
	// VariantExpr here; zero-arity constructors resolve in parseAtom.
	if ident, ok := fn.(*ast.Ident); ok && !ident.Qualified() {
		if info, isCtor := p.constructors[ident.Name]; isCtor && info.Arity > 0 {
			return p.parseVariantExpr(ident, info)
		}
	}

	// A token in column 1 starts the next top-level declaration, not an argument.
	for p.startsAtom() && p.curToken.Column > 1 {
		arg := p.parsePostfix()
		if arg == nil {
			return nil
		}
		arg = p.etaExpandCtor(arg)
		fn = &ast.Apply{Token: arg.Tok(), Fn: fn, Arg: arg}
	}

	// `a.[i] <- v` — the only assignment form.
	if p.curIs(token.L_ARROW) {
		if ig, ok := fn.(*ast.IndexGet); ok {
			tok := p.curToken
			p.nextToken()
			val := p.parseExpr()
			if val == nil {
				return nil
			}
			return &ast.IndexSet{Token: tok, Target: ig.Target, Index: ig.Index, Value: val}
		}
		p.unexpected("array element on the left of <-")
		return nil
	}
	return fn
}

// etaExpandCtor turns a bare constructor name used as a value into a
// function, so `List.map Some xs` works.
func (p *Parser) etaExpandCtor(arg ast.Expr) ast.Expr {
	ident, ok := arg.(*ast.Ident)
	if !ok || ident.Qualified() {
		return arg
	}
	info, isCtor := p.constructors[ident.Name]
	if !isCtor || info.Arity == 0 {
		return arg
	}
	params := make([]string, info.Arity)
	args := make([]ast.Expr, info.Arity)
	for i := range params {
		params[i] = p.fresh("v")
		args[i] = &ast.Ident{Token: ident.Token, Name: params[i]}
	}
	var body ast.Expr = &ast.VariantExpr{Token: ident.Token, TypeName: info.TypeName, Variant: ident.Name, Args: args}
	for i := info.Arity - 1; i >= 0; i-- {
		body = &ast.Lambda{Token: ident.Token, Param: params[i], Body: body}
	}
	return body
}

func (p *Parser) parseVariantExpr(ident *ast.Ident, info duInfo) ast.Expr {
	v := &ast.VariantExpr{Token: ident.Token, TypeName: info.TypeName, Variant: ident.Name}
	if !p.startsAtom() {
		return p.etaExpandCtor(ident)
	}

	arg := p.parsePostfix()
	if arg == nil {
		return nil
	}
	// A single tuple argument of matching arity is spread into fields.
	if tup, ok := arg.(*ast.TupleLit); ok && len(tup.Elems) == info.Arity {
		v.Args = tup.Elems
		return v
	}
	v.Args = append(v.Args, arg)
	for len(v.Args) < info.Arity {
		if !p.startsAtom() {
			p.unexpected("arguments for constructor " + ident.Name)
			return nil
		}
		next := p.parsePostfix()
		if next == nil {
			return nil
		}
		v.Args = append(v.Args, next)
	}
	return v
}

// startsAtom reports whether the current token can begin an atom, i.e.
// whether juxtaposition application continues.
func (p *Parser) startsAtom() bool {
	switch p.curToken.Type {
	case token.IDENT, token.INT, token.FLOAT, token.STRING, token.TRUE, token.FALSE,
		token.UNIT, token.LPAREN, token.LBRACKET, token.LARRAY, token.LBRACE:
		return true
	}
	return false
}

// parsePostfix parses an atom followed by field access and indexing.
func (p *Parser) parsePostfix() ast.Expr {
	expr := p.parseAtom()
	if expr == nil {
		return nil
	}

	for {
		switch {
		case p.curIs(token.DOT) && p.peekIs(token.LBRACKET):
			tok := p.curToken
			p.nextToken() // .
			p.nextToken() // [
			idx := p.parseExpr()
			if idx == nil {
				return nil
			}
			if !p.expect(token.RBRACKET) {
				return nil
			}
			expr = &ast.IndexGet{Token: tok, Target: expr, Index: idx}

		case p.curIs(token.DOT) && p.peekIs(token.IDENT):
			tok := p.curToken
			p.nextToken() // .
			field := p.curToken.Lexeme
			p.nextToken()
			expr = &ast.FieldAccess{Token: tok, Target: expr, Field: field}

		case p.curIs(token.LBRACE):
			// builder { ... } — a computation expression.
			ce := p.parseComputationExpr(expr)
			if ce == nil {
				return nil
			}
			expr = ce

		default:
			return expr
		}
	}
}

func (p *Parser) parseAtom() ast.Expr {
	tok := p.curToken

	switch p.curToken.Type {
	case token.INT:
		v, _ := tok.Literal.(int64)
		p.nextToken()
		return &ast.IntLit{Token: tok, Value: v}

	case token.FLOAT:
		v, _ := tok.Literal.(float64)
		p.nextToken()
		return &ast.FloatLit{Token: tok, Value: v}

	case token.STRING:
		v, _ := tok.Literal.(string)
		p.nextToken()
		return &ast.StringLit{Token: tok, Value: v}

	case token.TRUE:
		p.nextToken()
		return &ast.BoolLit{Token: tok, Value: true}

	case token.FALSE:
		p.nextToken()
		return &ast.BoolLit{Token: tok, Value: false}

	case token.UNIT:
		p.nextToken()
		return &ast.UnitLit{Token: tok}

	case token.IDENT:
		// Zero-arity constructors are values on their own.
		if info, isCtor := p.constructors[p.curToken.Lexeme]; isCtor && info.Arity == 0 {
			name := p.curToken.Lexeme
			p.nextToken()
			return &ast.VariantExpr{Token: tok, TypeName: info.TypeName, Variant: name}
		}
		return p.parseIdent()

	case token.ASYNC:
		// `async { ... }` uses the built-in Async builder.
		p.nextToken()
		if !p.curIs(token.LBRACE) {
			p.unexpected("{ after async")
			return nil
		}
		return p.parseComputationExpr(&ast.Ident{Token: tok, Name: "Async"})

	case token.FUN:
		return p.parseLambda()

	case token.LET:
		rec, bindings := p.parseLetBindings()
		if bindings == nil {
			return nil
		}
		if !p.expect(token.IN) {
			return nil
		}
		body := p.parseExpr()
		if body == nil {
			return nil
		}
		return &ast.LetExpr{Token: tok, Rec: rec, Bindings: bindings, Body: body}

	case token.TYPE:
		// `type ... in expr` in expression position.
		decl := p.parseTypeDecl()
		if ed, ok := decl.(*ast.ExprDecl); ok {
			return ed.Expr
		}
		p.unexpected("in after expression-scoped type definition")
		return nil

	case token.IF:
		return p.parseIf()

	case token.MATCH:
		return p.parseMatch()

	case token.BEGIN:
		p.nextToken()
		inner := p.parseSequence(token.END)
		if inner == nil {
			return nil
		}
		if !p.expect(token.END) {
			return nil
		}
		return inner

	case token.LPAREN:
		p.nextToken()
		inner := p.parseSequence(token.RPAREN)
		if inner == nil {
			return nil
		}
		if p.curIs(token.COMMA) {
			elems := []ast.Expr{inner}
			for p.curIs(token.COMMA) {
				p.nextToken()
				e := p.parseExpr()
				if e == nil {
					return nil
				}
				elems = append(elems, e)
			}
			if !p.expect(token.RPAREN) {
				return nil
			}
			return &ast.TupleLit{Token: tok, Elems: elems}
		}
		if !p.expect(token.RPAREN) {
			return nil
		}
		return inner

	case token.LBRACKET:
		return p.parseListLit()

	case token.LARRAY:
		return p.parseArrayLit()

	case token.LBRACE:
		return p.parseRecordLit()
	}

	p.unexpected("expression")
	return nil
}

// parseSequence parses `e1; e2; ...` up to (not consuming) the closer.
func (p *Parser) parseSequence(closer token.TokenType) ast.Expr {
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	for p.curIs(token.SEMICOLON) {
		tok := p.curToken
		p.nextToken()
		if p.curIs(closer) {
			break
		}
		next := p.parseExpr()
		if next == nil {
			return nil
		}
		expr = &ast.SequenceExpr{Token: tok, First: expr, Second: next}
	}
	return expr
}

// parseIdent parses a possibly-qualified identifier. A capitalized head
// followed by dots is a module path: Geometry.Circle.area.
func (p *Parser) parseIdent() ast.Expr {
	tok := p.curToken
	name := p.curToken.Lexeme
	p.nextToken()

	if !isUpper(name) {
		return &ast.Ident{Token: tok, Name: name}
	}
	// Known constructor names stay unqualified idents so application
	// resolution sees them.
	if _, isCtor := p.constructors[name]; isCtor {
		return &ast.Ident{Token: tok, Name: name}
	}

	path := []string{name}
	for p.curIs(token.DOT) && p.peekIs(token.IDENT) {
		p.nextToken() // .
		seg := p.curToken.Lexeme
		p.nextToken()
		if isUpper(seg) {
			path = append(path, seg)
			continue
		}
		return &ast.Ident{Token: tok, Path: path, Name: seg}
	}
	// A bare capitalized name: a module value (e.g. a CE builder) or a
	// global like Async.
	if len(path) == 1 {
		return &ast.Ident{Token: tok, Name: name}
	}
	return &ast.Ident{Token: tok, Path: path[:len(path)-1], Name: path[len(path)-1]}
}

func isUpper(s string) bool {
	return len(s) > 0 && s[0] >= 'A' && s[0] <= 'Z'
}

func (p *Parser) parseLambda() ast.Expr {
	tok := p.curToken
	p.nextToken() // fun

	var params []string
	for p.curIs(token.IDENT) || p.curIs(token.UNIT) || p.curIs(token.UNDERSCORE) {
		if p.curIs(token.IDENT) {
			params = append(params, p.curToken.Lexeme)
		} else {
			params = append(params, "_")
		}
		p.nextToken()
	}
	if len(params) == 0 {
		p.unexpected("parameter after fun")
		return nil
	}
	if !p.expect(token.ARROW) {
		return nil
	}
	body := p.parseExpr()
	if body == nil {
		return nil
	}
	for i := len(params) - 1; i >= 0; i-- {
		body = &ast.Lambda{Token: tok, Param: params[i], Body: body}
	}
	return body
}

func (p *Parser) parseIf() ast.Expr {
	tok := p.curToken
	p.nextToken() // if
	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if !p.expect(token.THEN) {
		return nil
	}
	thenBranch := p.parseExpr()
	if thenBranch == nil {
		return nil
	}
	var elseBranch ast.Expr
	if p.curIs(token.ELSE) {
		p.nextToken()
		elseBranch = p.parseExpr()
		if elseBranch == nil {
			return nil
		}
	}
	return &ast.IfExpr{Token: tok, Cond: cond, Then: thenBranch, Else: elseBranch}
}

func (p *Parser) parseMatch() ast.Expr {
	tok := p.curToken
	p.nextToken() // match
	scrutinee := p.parseExpr()
	if scrutinee == nil {
		return nil
	}
	if !p.expect(token.WITH) {
		return nil
	}

	var arms []*ast.MatchArm
	for p.curIs(token.PIPE) {
		atok := p.curToken
		p.nextToken()
		pat := p.parsePattern()
		if pat == nil {
			return nil
		}
		var guard ast.Expr
		if p.curIs(token.WHEN) {
			p.nextToken()
			guard = p.parseExpr()
			if guard == nil {
				return nil
			}
		}
		if !p.expect(token.ARROW) {
			return nil
		}
		body := p.parseExpr()
		if body == nil {
			return nil
		}
		arms = append(arms, &ast.MatchArm{Token: atok, Pattern: pat, Guard: guard, Body: body})
	}
	if len(arms) == 0 {
		p.unexpected("| pattern arm after with")
		return nil
	}
	return &ast.MatchExpr{Token: tok, Scrutinee: scrutinee, Arms: arms}
}

func (p *Parser) parseListLit() ast.Expr {
	tok := p.curToken
	p.nextToken() // [
	var elems []ast.Expr
	for !p.curIs(token.RBRACKET) {
		e := p.parseExpr()
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
	return &ast.ListLit{Token: tok, Elems: elems}
}

func (p *Parser) parseArrayLit() ast.Expr {
	tok := p.curToken
	p.nextToken() // [|
	var elems []ast.Expr
	for !p.curIs(token.RARRAY) {
		e := p.parseExpr()
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
	if !p.expect(token.RARRAY) {
		return nil
	}
	return &ast.ArrayLit{Token: tok, Elems: elems}
}

// parseRecordLit parses `{ f = e; ... }` and `{ base with f = e; ... }`.
func (p *Parser) parseRecordLit() ast.Expr {
	tok := p.curToken
	p.nextToken() // {

	// Record update requires lookahead: `{ expr with ... }`. A literal
	// always starts `ident =`, so anything else is an update base.
	if p.curIs(token.IDENT) && p.peekIs(token.ASSIGN) {
		var fields []*ast.FieldInit
		for !p.curIs(token.RBRACE) {
			f := p.parseFieldInit()
			if f == nil {
				return nil
			}
			fields = append(fields, f)
			if p.curIs(token.SEMICOLON) {
				p.nextToken()
			}
		}
		p.nextToken() // }
		return &ast.RecordLit{Token: tok, Fields: fields}
	}

	base := p.parseExpr()
	if base == nil {
		return nil
	}
	if !p.expect(token.WITH) {
		return nil
	}
	var fields []*ast.FieldInit
	for !p.curIs(token.RBRACE) {
		f := p.parseFieldInit()
		if f == nil {
			return nil
		}
		fields = append(fields, f)
		if p.curIs(token.SEMICOLON) {
			p.nextToken()
		}
	}
	p.nextToken() // }
	return &ast.RecordUpdate{Token: tok, Base: base, Fields: fields}
}

func (p *Parser) parseFieldInit() *ast.FieldInit {
	if !p.curIs(token.IDENT) {
		p.unexpected("record field name")
		return nil
	}
	tok := p.curToken
	name := p.curToken.Lexeme
	p.nextToken()
	if !p.expect(token.ASSIGN) {
		return nil
	}
	val := p.parseExpr()
	if val == nil {
		return nil
	}
	return &ast.FieldInit{Token: tok, Name: name, Value: val}
}

// --- Type expressions ---

func (p *Parser) parseTypeExpr() ast.TypeExpr {
	left := p.parseTypeTuple()
	if left == nil {
		return nil
	}
	if p.curIs(token.ARROW) {
		tok := p.curToken
		p.nextToken()
		right := p.parseTypeExpr()
		if right == nil {
			return nil
		}
		return &ast.ArrowType{Token: tok, From: left, To: right}
	}
	return left
}

func (p *Parser) parseTypeTuple() ast.TypeExpr {
	first := p.parseTypeAtom()
	if first == nil {
		return nil
	}
	if !p.curIs(token.ASTERISK) {
		return first
	}
	elems := []ast.TypeExpr{first}
	for p.curIs(token.ASTERISK) {
		p.nextToken()
		next := p.parseTypeAtom()
		if next == nil {
			return nil
		}
		elems = append(elems, next)
	}
	return &ast.TupleType{Token: first.Tok(), Elems: elems}
}

// parseTypeAtomOrArrow is used in DU field position, where `*` separates
// fields, so tuples must be parenthesized but arrows are allowed.
func (p *Parser) parseTypeAtomOrArrow() ast.TypeExpr {
	left := p.parseTypeAtom()
	if left == nil {
		return nil
	}
	if p.curIs(token.ARROW) {
		tok := p.curToken
		p.nextToken()
		right := p.parseTypeAtomOrArrow()
		if right == nil {
			return nil
		}
		return &ast.ArrowType{Token: tok, From: left, To: right}
	}
	return left
}

func (p *Parser) parseTypeAtom() ast.TypeExpr {
	tok := p.curToken

	switch p.curToken.Type {
	case token.LPAREN:
		p.nextToken()
		inner := p.parseTypeExpr()
		if inner == nil {
			return nil
		}
		if !p.expect(token.RPAREN) {
			return nil
		}
		return inner

	case token.UNIT:
		p.nextToken()
		return &ast.NamedType{Token: tok, Name: "unit"}

	case token.IDENT:
		name := p.curToken.Lexeme
		p.nextToken()
		if p.curTypeParams[name] {
			return &ast.VarType{Token: tok, Name: name}
		}
		nt := &ast.NamedType{Token: tok, Name: name}
		if p.curIs(token.LT) {
			p.nextToken()
			for {
				arg := p.parseTypeExpr()
				if arg == nil {
					return nil
				}
				nt.Args = append(nt.Args, arg)
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
		return nt
	}

	p.unexpected("type")
	return nil
}
