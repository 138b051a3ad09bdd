// Package ast defines the syntax tree produced by the parser. The parser
// performs desugaring, so the tree here is the minimal core: currying,
// pipelines and computation expressions are already lowered by the time a
// node reaches inference or compilation.
package ast

import "github.com/fusabi-lang/fusabi/internal/token"

// Node is the common interface of every syntax node.
type Node interface {
	Tok() token.Token
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Pattern is a match pattern node.
type Pattern interface {
	Node
	patternNode()
}

// Decl is a top-level declaration.
type Decl interface {
	Node
	declNode()
}

// TypeExpr is a syntactic type annotation.
type TypeExpr interface {
	Node
	typeExprNode()
}

// Program is a parsed source file: directives first, then declarations.
type Program struct {
	File       string
	Directives []*LoadDirective
	Decls      []Decl
}

// LoadDirective is `#load "path"`, resolved by the module loader before the
// file's own declarations compile.
type LoadDirective struct {
	Token token.Token
	Path  string
}

func (d *LoadDirective) Tok() token.Token { return d.Token }

// Binding is one `name = value` in a let group. Params are already
// desugared into nested lambdas, so Value carries the full function.
type Binding struct {
	Token token.Token
	Name  string
	Value Expr
}

// LetDecl is a top-level `let` (or `let rec ... and ...`) group.
type LetDecl struct {
	Token    token.Token
	Rec      bool
	Bindings []*Binding
}

func (d *LetDecl) Tok() token.Token { return d.Token }
func (d *LetDecl) declNode()        {}

// ModuleDecl is `module Name = begin declarations end` (block form) or
// `module Name =` followed by declarations running to the end of the file.
type ModuleDecl struct {
	Token token.Token
	Name  string
	Decls []Decl
}

func (d *ModuleDecl) Tok() token.Token { return d.Token }
func (d *ModuleDecl) declNode()        {}

// OpenDecl is `open Module.Path`.
type OpenDecl struct {
	Token token.Token
	Path  []string
}

func (d *OpenDecl) Tok() token.Token { return d.Token }
func (d *OpenDecl) declNode()        {}

// ExprDecl is a bare top-level expression, evaluated for its value; the last
// one is the program result.
type ExprDecl struct {
	Token token.Token
	Expr  Expr
}

func (d *ExprDecl) Tok() token.Token { return d.Token }
func (d *ExprDecl) declNode()        {}

// DuVariant is one case of a discriminated union definition.
type DuVariant struct {
	Token  token.Token
	Name   string
	Fields []TypeExpr
}

// TypeDecl declares a named type: a discriminated union when Variants is
// non-empty, a record type when RecordFields is non-empty.
type TypeDecl struct {
	Token        token.Token
	Name         string
	Params       []string // 'a, 'b type parameters
	Variants     []*DuVariant
	RecordFields []*RecordFieldDecl
}

func (d *TypeDecl) Tok() token.Token { return d.Token }
func (d *TypeDecl) declNode()        {}

// RecordFieldDecl is one `name : type` in a record type definition.
type RecordFieldDecl struct {
	Token token.Token
	Name  string
	Type  TypeExpr
}

// --- Type expressions ---

// NamedType is `int`, `string`, `Option<int>` / `int option` style
// applications, or a user-defined type name.
type NamedType struct {
	Token token.Token
	Name  string
	Args  []TypeExpr
}

func (t *NamedType) Tok() token.Token { return t.Token }
func (t *NamedType) typeExprNode()    {}

// VarType is a type variable annotation 'a.
type VarType struct {
	Token token.Token
	Name  string
}

func (t *VarType) Tok() token.Token { return t.Token }
func (t *VarType) typeExprNode()    {}

// ArrowType is `a -> b`.
type ArrowType struct {
	Token token.Token
	From  TypeExpr
	To    TypeExpr
}

func (t *ArrowType) Tok() token.Token { return t.Token }
func (t *ArrowType) typeExprNode()    {}

// TupleType is `a * b * c`.
type TupleType struct {
	Token token.Token
	Elems []TypeExpr
}

func (t *TupleType) Tok() token.Token { return t.Token }
func (t *TupleType) typeExprNode()    {}
