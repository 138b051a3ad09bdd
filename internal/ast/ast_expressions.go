package ast

import "github.com/fusabi-lang/fusabi/internal/token"

// --- Literals ---

type IntLit struct {
	Token token.Token
	Value int64
}

func (e *IntLit) Tok() token.Token { return e.Token }
func (e *IntLit) exprNode()        {}

type FloatLit struct {
	Token token.Token
	Value float64
}

func (e *FloatLit) Tok() token.Token { return e.Token }
func (e *FloatLit) exprNode()        {}

type BoolLit struct {
	Token token.Token
	Value bool
}

func (e *BoolLit) Tok() token.Token { return e.Token }
func (e *BoolLit) exprNode()        {}

type StringLit struct {
	Token token.Token
	Value string
}

func (e *StringLit) Tok() token.Token { return e.Token }
func (e *StringLit) exprNode()        {}

type UnitLit struct {
	Token token.Token
}

func (e *UnitLit) Tok() token.Token { return e.Token }
func (e *UnitLit) exprNode()        {}

// --- Names ---

// Ident is a possibly-qualified name. Path holds the module prefix
// (`Geometry.Circle.area` → Path ["Geometry","Circle"], Name "area").
type Ident struct {
	Token token.Token
	Path  []string
	Name  string
}

func (e *Ident) Tok() token.Token { return e.Token }
func (e *Ident) exprNode()        {}

// Qualified reports whether the identifier carries a module path.
func (e *Ident) Qualified() bool { return len(e.Path) > 0 }

// --- Functions ---

// Lambda is a single-parameter function; multi-parameter forms are
// desugared into nested lambdas by the parser.
type Lambda struct {
	Token token.Token
	Param string
	Body  Expr
}

func (e *Lambda) Tok() token.Token { return e.Token }
func (e *Lambda) exprNode()        {}

// Apply is single-argument application; multi-argument calls are chains.
type Apply struct {
	Token token.Token
	Fn    Expr
	Arg   Expr
}

func (e *Apply) Tok() token.Token { return e.Token }
func (e *Apply) exprNode()        {}

// LetExpr is `let [rec] b1 and b2 ... in body`.
type LetExpr struct {
	Token    token.Token
	Rec      bool
	Bindings []*Binding
	Body     Expr
}

func (e *LetExpr) Tok() token.Token { return e.Token }
func (e *LetExpr) exprNode()        {}

// --- Control ---

type IfExpr struct {
	Token token.Token
	Cond  Expr
	Then  Expr
	Else  Expr // nil means unit else-branch
}

func (e *IfExpr) Tok() token.Token { return e.Token }
func (e *IfExpr) exprNode()        {}

// MatchArm is one `| pattern [when guard] -> body`.
type MatchArm struct {
	Token   token.Token
	Pattern Pattern
	Guard   Expr // nil when absent
	Body    Expr
}

type MatchExpr struct {
	Token     token.Token
	Scrutinee Expr
	Arms      []*MatchArm
}

func (e *MatchExpr) Tok() token.Token { return e.Token }
func (e *MatchExpr) exprNode()        {}

// SequenceExpr is `e1; e2` — evaluate e1 for effect, yield e2.
type SequenceExpr struct {
	Token  token.Token
	First  Expr
	Second Expr
}

func (e *SequenceExpr) Tok() token.Token { return e.Token }
func (e *SequenceExpr) exprNode()        {}

// --- Operators ---

type BinaryExpr struct {
	Token token.Token
	Op    token.TokenType
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) Tok() token.Token { return e.Token }
func (e *BinaryExpr) exprNode()        {}

type UnaryExpr struct {
	Token   token.Token
	Op      token.TokenType
	Operand Expr
}

func (e *UnaryExpr) Tok() token.Token { return e.Token }
func (e *UnaryExpr) exprNode()        {}

// --- Data ---

type TupleLit struct {
	Token token.Token
	Elems []Expr
}

func (e *TupleLit) Tok() token.Token { return e.Token }
func (e *TupleLit) exprNode()        {}

type ListLit struct {
	Token token.Token
	Elems []Expr
}

func (e *ListLit) Tok() token.Token { return e.Token }
func (e *ListLit) exprNode()        {}

type ArrayLit struct {
	Token token.Token
	Elems []Expr
}

func (e *ArrayLit) Tok() token.Token { return e.Token }
func (e *ArrayLit) exprNode()        {}

// FieldInit is one `name = expr` in a record literal or update.
type FieldInit struct {
	Token token.Token
	Name  string
	Value Expr
}

type RecordLit struct {
	Token  token.Token
	Fields []*FieldInit
}

func (e *RecordLit) Tok() token.Token { return e.Token }
func (e *RecordLit) exprNode()        {}

// RecordUpdate is `{ base with f = e; ... }`.
type RecordUpdate struct {
	Token  token.Token
	Base   Expr
	Fields []*FieldInit
}

func (e *RecordUpdate) Tok() token.Token { return e.Token }
func (e *RecordUpdate) exprNode()        {}

// FieldAccess is `r.f`.
type FieldAccess struct {
	Token  token.Token
	Target Expr
	Field  string
}

func (e *FieldAccess) Tok() token.Token { return e.Token }
func (e *FieldAccess) exprNode()        {}

// IndexGet is `a.[i]`.
type IndexGet struct {
	Token  token.Token
	Target Expr
	Index  Expr
}

func (e *IndexGet) Tok() token.Token { return e.Token }
func (e *IndexGet) exprNode()        {}

// IndexSet is `a.[i] <- v`; evaluates to unit, mutating the array.
type IndexSet struct {
	Token  token.Token
	Target Expr
	Index  Expr
	Value  Expr
}

func (e *IndexSet) Tok() token.Token { return e.Token }
func (e *IndexSet) exprNode()        {}

// VariantExpr constructs a DU inhabitant. TypeName is resolved from the
// definition registry during parsing of the enclosing scope.
type VariantExpr struct {
	Token    token.Token
	TypeName string
	Variant  string
	Args     []Expr
}

func (e *VariantExpr) Tok() token.Token { return e.Token }
func (e *VariantExpr) exprNode()        {}

// TypeScopeExpr scopes a type definition over an expression:
// `type Opt = Some of int | None in body`.
type TypeScopeExpr struct {
	Token token.Token
	Decl  *TypeDecl
	Body  Expr
}

func (e *TypeScopeExpr) Tok() token.Token { return e.Token }
func (e *TypeScopeExpr) exprNode()        {}

// --- Patterns ---

type WildcardPat struct {
	Token token.Token
}

func (p *WildcardPat) Tok() token.Token { return p.Token }
func (p *WildcardPat) patternNode()     {}

type VarPat struct {
	Token token.Token
	Name  string
}

func (p *VarPat) Tok() token.Token { return p.Token }
func (p *VarPat) patternNode()     {}

// LitPat matches an immutable literal: int, float, bool, string or unit.
type LitPat struct {
	Token token.Token
	Value Expr // one of the literal expression nodes
}

func (p *LitPat) Tok() token.Token { return p.Token }
func (p *LitPat) patternNode()     {}

type TuplePat struct {
	Token token.Token
	Elems []Pattern
}

func (p *TuplePat) Tok() token.Token { return p.Token }
func (p *TuplePat) patternNode()     {}

// NilPat matches the empty list.
type NilPat struct {
	Token token.Token
}

func (p *NilPat) Tok() token.Token { return p.Token }
func (p *NilPat) patternNode()     {}

// ConsPat matches `head :: tail`.
type ConsPat struct {
	Token token.Token
	Head  Pattern
	Tail  Pattern
}

func (p *ConsPat) Tok() token.Token { return p.Token }
func (p *ConsPat) patternNode()     {}

// VariantPat matches a DU case; TypeName is filled from the definition
// registry so the (type, variant) pair always travels together.
type VariantPat struct {
	Token    token.Token
	TypeName string
	Variant  string
	Args     []Pattern
}

func (p *VariantPat) Tok() token.Token { return p.Token }
func (p *VariantPat) patternNode()     {}

// RecordPat matches on field presence: `{ name = n; age = _ }`.
type RecordPat struct {
	Token  token.Token
	Fields []*RecordFieldPat
}

type RecordFieldPat struct {
	Token token.Token
	Name  string
	Pat   Pattern
}

func (p *RecordPat) Tok() token.Token { return p.Token }
func (p *RecordPat) patternNode()     {}
