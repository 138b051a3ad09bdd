package typesystem

import (
	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/token"
)

// Inferencer runs algorithm W over a program. Errors are accumulated with
// spans; the compiler refuses to emit bytecode when any are present.
type Inferencer struct {
	nextVar int
	subst   Subst
	errors  []*diagnostics.DiagnosticError

	// Dus is the discriminated-union definition registry, shared with the
	// compiler and the VM.
	Dus *DuRegistry

	// aliases maps record type-definition names to their structural types.
	aliases map[string]Type
}

func NewInferencer(dus *DuRegistry) *Inferencer {
	return &Inferencer{
		subst:   Subst{},
		Dus:     dus,
		aliases: make(map[string]Type),
	}
}

// Fresh returns a new type variable with a monotonically increasing id.
func (in *Inferencer) Fresh() TVar {
	in.nextVar++
	return TVar{ID: in.nextVar}
}

// Errors returns accumulated type errors.
func (in *Inferencer) Errors() []*diagnostics.DiagnosticError {
	return in.errors
}

// TakeErrors drains accumulated type errors; callers that reuse one
// inferencer across inputs (REPL, module loading) take per-input errors.
func (in *Inferencer) TakeErrors() []*diagnostics.DiagnosticError {
	errs := in.errors
	in.errors = nil
	return errs
}

// Resolve applies the current substitution to a type.
func (in *Inferencer) Resolve(t Type) Type {
	return t.Apply(in.subst)
}

func (in *Inferencer) unify(expected, found Type, tok token.Token) {
	s, err := Unify(expected.Apply(in.subst), found.Apply(in.subst))
	if err != nil {
		ue, _ := err.(*UnifyError)
		if ue != nil && ue.Occurs {
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT003, tok,
				ue.Expected.String(), ue.Found.String()))
			return
		}
		exp, fnd := expected.Apply(in.subst), found.Apply(in.subst)
		in.errors = append(in.errors, diagnostics.NewPhaseError(
			diagnostics.PhaseTypes, diagnostics.ErrT001, tok,
			exp.String(), fnd.String()))
		return
	}
	in.subst = in.subst.Compose(s)
}

// Instantiate replaces a scheme's quantified binders with fresh variables.
func (in *Inferencer) Instantiate(s Scheme) Type {
	if len(s.Vars) == 0 {
		return s.Body
	}
	sub := make(Subst, len(s.Vars))
	for _, v := range s.Vars {
		sub[v] = in.Fresh()
	}
	return s.Body.Apply(sub)
}

// InferProgram infers every declaration, binding top-level names as it
// goes. It returns the type of the final expression declaration, or Unit.
func (in *Inferencer) InferProgram(prog *ast.Program, env *TypeEnv) Type {
	var last Type = TUnit
	for _, decl := range prog.Decls {
		last = in.inferDecl(decl, env, nil)
	}
	return in.Resolve(last)
}

// inferDecl processes one declaration. prefix carries the enclosing module
// path for qualified re-binding.
func (in *Inferencer) inferDecl(decl ast.Decl, env *TypeEnv, prefix []string) Type {
	switch d := decl.(type) {
	case *ast.LetDecl:
		in.inferLetGroup(d.Rec, d.Bindings, env)
		return TUnit

	case *ast.TypeDecl:
		in.RegisterTypeDecl(d, env)
		return TUnit

	case *ast.OpenDecl:
		in.openModule(d, env)
		return TUnit

	case *ast.ModuleDecl:
		moduleEnv := env.Child()
		for _, inner := range d.Decls {
			in.inferDecl(inner, moduleEnv, append(prefix, d.Name))
		}
		// Re-bind the module's names, qualified, into the outer scope.
		for _, name := range moduleEnv.Names() {
			s, _ := moduleEnv.Lookup(name)
			env.Set(d.Name+"."+name, s)
		}
		return TUnit

	case *ast.ExprDecl:
		return in.inferExpr(d.Expr, env)
	}
	return TUnit
}

func (in *Inferencer) openModule(d *ast.OpenDecl, env *TypeEnv) {
	prefix := ""
	for _, seg := range d.Path {
		prefix += seg + "."
	}
	copied := make(map[string]Scheme)
	for e := env; e != nil; e = e.parent {
		for name, s := range e.vars {
			if len(name) > len(prefix) && name[:len(prefix)] == prefix {
				if _, seen := copied[name[len(prefix):]]; !seen {
					copied[name[len(prefix):]] = s
				}
			}
		}
	}
	for name, s := range copied {
		env.Set(name, s)
	}
	if len(copied) == 0 {
		in.errors = append(in.errors, diagnostics.NewPhaseError(
			diagnostics.PhaseTypes, diagnostics.ErrT002, d.Token, prefix[:len(prefix)-1]))
	}
}

// inferLetGroup handles both plain and recursive binding groups.
// For `let rec`, monomorphic fresh variables are pre-bound for each name,
// each right-hand side is inferred and unified against its variable, and
// only then is the group generalized.
func (in *Inferencer) inferLetGroup(rec bool, bindings []*ast.Binding, env *TypeEnv) {
	if rec {
		pre := make([]TVar, len(bindings))
		for i, b := range bindings {
			pre[i] = in.Fresh()
			env.Set(b.Name, Scheme{Body: pre[i]})
		}
		for i, b := range bindings {
			t := in.inferExpr(b.Value, env)
			in.unify(pre[i], t, b.Token)
		}
		env.ApplySubst(in.subst)
		for i, b := range bindings {
			t := in.Resolve(pre[i])
			if isSyntacticValue(b.Value) {
				env.Set(b.Name, Generalize(env, t))
			} else {
				env.Set(b.Name, Scheme{Body: t})
			}
		}
		return
	}

	for _, b := range bindings {
		t := in.inferExpr(b.Value, env)
		env.ApplySubst(in.subst)
		t = in.Resolve(t)
		// Value restriction: generalize only syntactic values, so
		// polymorphism never ranges over a shared mutable cell.
		if isSyntacticValue(b.Value) {
			env.Set(b.Name, Generalize(env, t))
		} else {
			env.Set(b.Name, Scheme{Body: t})
		}
	}
}

// isSyntacticValue reports whether an expression is a value form for the
// purpose of the value restriction. Array literals are not values: they
// allocate a mutable cell.
func isSyntacticValue(e ast.Expr) bool {
	switch v := e.(type) {
	case *ast.IntLit, *ast.FloatLit, *ast.BoolLit, *ast.StringLit, *ast.UnitLit,
		*ast.Lambda, *ast.Ident:
		return true
	case *ast.TupleLit:
		for _, el := range v.Elems {
			if !isSyntacticValue(el) {
				return false
			}
		}
		return true
	case *ast.ListLit:
		for _, el := range v.Elems {
			if !isSyntacticValue(el) {
				return false
			}
		}
		return true
	case *ast.VariantExpr:
		for _, a := range v.Args {
			if !isSyntacticValue(a) {
				return false
			}
		}
		return true
	}
	return false
}

func (in *Inferencer) inferExpr(expr ast.Expr, env *TypeEnv) Type {
	switch e := expr.(type) {
	case *ast.IntLit:
		return TInt
	case *ast.FloatLit:
		return TFloat
	case *ast.BoolLit:
		return TBool
	case *ast.StringLit:
		return TString
	case *ast.UnitLit:
		return TUnit

	case *ast.Ident:
		name := e.Name
		if e.Qualified() {
			name = ""
			for _, seg := range e.Path {
				name += seg + "."
			}
			name += e.Name
		}
		s, ok := env.Lookup(name)
		if !ok {
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT002, e.Token, name))
			return in.Fresh()
		}
		return in.Instantiate(s)

	case *ast.Lambda:
		a := in.Fresh()
		child := env.Child()
		child.Set(e.Param, Scheme{Body: a})
		bodyT := in.inferExpr(e.Body, child)
		return TArrow{From: a, To: bodyT}

	case *ast.Apply:
		fnT := in.inferExpr(e.Fn, env)
		argT := in.inferExpr(e.Arg, env)
		res := in.Fresh()
		in.unify(TArrow{From: argT, To: res}, fnT, e.Token)
		return res

	case *ast.LetExpr:
		child := env.Child()
		in.inferLetGroup(e.Rec, e.Bindings, child)
		return in.inferExpr(e.Body, child)

	case *ast.IfExpr:
		condT := in.inferExpr(e.Cond, env)
		in.unify(TBool, condT, e.Cond.Tok())
		thenT := in.inferExpr(e.Then, env)
		if e.Else == nil {
			in.unify(TUnit, thenT, e.Then.Tok())
			return TUnit
		}
		elseT := in.inferExpr(e.Else, env)
		in.unify(thenT, elseT, e.Else.Tok())
		return thenT

	case *ast.MatchExpr:
		scrutT := in.inferExpr(e.Scrutinee, env)
		result := in.Fresh()
		for _, arm := range e.Arms {
			armEnv := env.Child()
			patT := in.inferPattern(arm.Pattern, armEnv)
			in.unify(scrutT, patT, arm.Pattern.Tok())
			if arm.Guard != nil {
				guardT := in.inferExpr(arm.Guard, armEnv)
				in.unify(TBool, guardT, arm.Guard.Tok())
			}
			bodyT := in.inferExpr(arm.Body, armEnv)
			in.unify(result, bodyT, arm.Body.Tok())
		}
		return result

	case *ast.SequenceExpr:
		in.inferExpr(e.First, env)
		return in.inferExpr(e.Second, env)

	case *ast.BinaryExpr:
		return in.inferBinary(e, env)

	case *ast.UnaryExpr:
		operandT := in.inferExpr(e.Operand, env)
		// Unary minus over Int or Float; default to Int when unconstrained.
		if c, ok := in.Resolve(operandT).(TCon); ok && c.Name == "Float" {
			return TFloat
		}
		in.unify(TInt, operandT, e.Token)
		return TInt

	case *ast.TupleLit:
		elems := make([]Type, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = in.inferExpr(el, env)
		}
		return TTuple{Elems: elems}

	case *ast.ListLit:
		elem := Type(in.Fresh())
		for _, el := range e.Elems {
			t := in.inferExpr(el, env)
			in.unify(elem, t, el.Tok())
		}
		return TList(elem)

	case *ast.ArrayLit:
		elem := Type(in.Fresh())
		for _, el := range e.Elems {
			t := in.inferExpr(el, env)
			in.unify(elem, t, el.Tok())
		}
		return TArray(elem)

	case *ast.RecordLit:
		fields := make(map[string]Type, len(e.Fields))
		for _, f := range e.Fields {
			fields[f.Name] = in.inferExpr(f.Value, env)
		}
		return TRecord{Fields: fields}

	case *ast.RecordUpdate:
		baseT := in.inferExpr(e.Base, env)
		resolved := in.Resolve(baseT)
		rec, ok := resolved.(TRecord)
		if !ok {
			// The base must already be a known record; a fresh variable
			// here means the row is unconstrained, which the core's
			// record model (fixed field set) rejects.
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT001, e.Token,
				"record", resolved.String()))
			return baseT
		}
		for _, f := range e.Fields {
			fieldT, exists := rec.Fields[f.Name]
			if !exists {
				in.errors = append(in.errors, diagnostics.NewPhaseError(
					diagnostics.PhaseTypes, diagnostics.ErrT005, f.Token, f.Name))
				continue
			}
			valT := in.inferExpr(f.Value, env)
			in.unify(fieldT, valT, f.Token)
		}
		return baseT

	case *ast.FieldAccess:
		targetT := in.inferExpr(e.Target, env)
		resolved := in.Resolve(targetT)
		rec, ok := resolved.(TRecord)
		if !ok {
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT005, e.Token, e.Field))
			return in.Fresh()
		}
		fieldT, exists := rec.Fields[e.Field]
		if !exists {
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT005, e.Token, e.Field))
			return in.Fresh()
		}
		return fieldT

	case *ast.IndexGet:
		elem := in.Fresh()
		targetT := in.inferExpr(e.Target, env)
		in.unify(TArray(elem), targetT, e.Target.Tok())
		idxT := in.inferExpr(e.Index, env)
		in.unify(TInt, idxT, e.Index.Tok())
		return elem

	case *ast.IndexSet:
		elem := in.Fresh()
		targetT := in.inferExpr(e.Target, env)
		in.unify(TArray(elem), targetT, e.Target.Tok())
		idxT := in.inferExpr(e.Index, env)
		in.unify(TInt, idxT, e.Index.Tok())
		valT := in.inferExpr(e.Value, env)
		in.unify(elem, valT, e.Value.Tok())
		return TUnit

	case *ast.VariantExpr:
		return in.inferVariant(e, env)

	case *ast.TypeScopeExpr:
		in.RegisterTypeDecl(e.Decl, env)
		return in.inferExpr(e.Body, env)
	}

	in.errors = append(in.errors, diagnostics.NewPhaseError(
		diagnostics.PhaseTypes, diagnostics.ErrT001, expr.Tok(),
		"expression", "unsupported node"))
	return in.Fresh()
}

func (in *Inferencer) inferBinary(e *ast.BinaryExpr, env *TypeEnv) Type {
	leftT := in.inferExpr(e.Left, env)
	rightT := in.inferExpr(e.Right, env)

	switch e.Op {
	case token.PLUS, token.MINUS, token.ASTERISK, token.SLASH:
		in.unify(leftT, rightT, e.Token)
		// Arithmetic is Int or Float; an unconstrained variable defaults
		// to Int at compilation.
		resolved := in.Resolve(leftT)
		if c, ok := resolved.(TCon); ok && c.Name != "Int" && c.Name != "Float" {
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT001, e.Token,
				"Int or Float", resolved.String()))
		}
		return leftT

	case token.PERCENT:
		in.unify(TInt, leftT, e.Left.Tok())
		in.unify(TInt, rightT, e.Right.Tok())
		return TInt

	case token.ASSIGN, token.NOT_EQ:
		in.unify(leftT, rightT, e.Token)
		return TBool

	case token.LT, token.LTE, token.GT, token.GTE:
		in.unify(leftT, rightT, e.Token)
		return TBool

	case token.AND, token.OR:
		in.unify(TBool, leftT, e.Left.Tok())
		in.unify(TBool, rightT, e.Right.Tok())
		return TBool

	case token.CONS:
		in.unify(TList(leftT), rightT, e.Token)
		return rightT
	}

	in.errors = append(in.errors, diagnostics.NewPhaseError(
		diagnostics.PhaseTypes, diagnostics.ErrT001, e.Token,
		"operator", string(e.Op)))
	return in.Fresh()
}

func (in *Inferencer) inferVariant(e *ast.VariantExpr, env *TypeEnv) Type {
	s, ok := env.Lookup(e.Variant)
	if !ok {
		in.errors = append(in.errors, diagnostics.NewPhaseError(
			diagnostics.PhaseTypes, diagnostics.ErrT002, e.Token, e.Variant))
		return in.Fresh()
	}
	t := in.Instantiate(s)
	for _, arg := range e.Args {
		argT := in.inferExpr(arg, env)
		res := in.Fresh()
		in.unify(TArrow{From: argT, To: res}, t, arg.Tok())
		t = res
	}
	return t
}

// inferPattern infers a pattern's type, binding its variables
// (monomorphically) into env.
func (in *Inferencer) inferPattern(pat ast.Pattern, env *TypeEnv) Type {
	switch p := pat.(type) {
	case *ast.WildcardPat:
		return in.Fresh()

	case *ast.VarPat:
		t := in.Fresh()
		env.Set(p.Name, Scheme{Body: t})
		return t

	case *ast.LitPat:
		switch p.Value.(type) {
		case *ast.IntLit:
			return TInt
		case *ast.FloatLit:
			return TFloat
		case *ast.BoolLit:
			return TBool
		case *ast.StringLit:
			return TString
		case *ast.UnitLit:
			return TUnit
		}
		return in.Fresh()

	case *ast.TuplePat:
		elems := make([]Type, len(p.Elems))
		for i, el := range p.Elems {
			elems[i] = in.inferPattern(el, env)
		}
		return TTuple{Elems: elems}

	case *ast.NilPat:
		return TList(in.Fresh())

	case *ast.ConsPat:
		headT := in.inferPattern(p.Head, env)
		tailT := in.inferPattern(p.Tail, env)
		in.unify(TList(headT), tailT, p.Token)
		return tailT

	case *ast.VariantPat:
		s, ok := env.Lookup(p.Variant)
		if !ok {
			in.errors = append(in.errors, diagnostics.NewPhaseError(
				diagnostics.PhaseTypes, diagnostics.ErrT002, p.Token, p.Variant))
			return in.Fresh()
		}
		t := in.Instantiate(s)
		for _, arg := range p.Args {
			argT := in.inferPattern(arg, env)
			res := in.Fresh()
			in.unify(TArrow{From: argT, To: res}, t, arg.Tok())
			t = res
		}
		return t

	case *ast.RecordPat:
		// Field-presence matching: the scrutinee record must carry at
		// least the named fields; the core's fixed-field records make
		// this an exact-type requirement once unified.
		fields := make(map[string]Type, len(p.Fields))
		for _, f := range p.Fields {
			fields[f.Name] = in.inferPattern(f.Pat, env)
		}
		return TRecord{Fields: fields}
	}
	return in.Fresh()
}

// RegisterTypeDecl records a type definition: DU constructors become
// schemes in env and a registry entry; record definitions become aliases.
func (in *Inferencer) RegisterTypeDecl(d *ast.TypeDecl, env *TypeEnv) {
	if len(d.RecordFields) > 0 {
		params := in.paramVars(d.Params)
		fields := make(map[string]Type, len(d.RecordFields))
		for _, f := range d.RecordFields {
			fields[f.Name] = in.typeExprToType(f.Type, params)
		}
		in.aliases[d.Name] = TRecord{Fields: fields}
		return
	}

	def := &DuDef{Name: d.Name, Params: d.Params}
	for _, v := range d.Variants {
		def.Variants = append(def.Variants, DuVariantDef{Name: v.Name, Arity: len(v.Fields)})
	}
	in.Dus.Register(def)

	for _, v := range d.Variants {
		params := in.paramVars(d.Params)
		resultArgs := make([]Type, len(d.Params))
		varIDs := make([]int, 0, len(d.Params))
		for i, name := range d.Params {
			resultArgs[i] = params[name]
			varIDs = append(varIDs, params[name].(TVar).ID)
		}
		var result Type
		if len(resultArgs) == 0 {
			result = TApp{Name: d.Name}
		} else {
			result = TApp{Name: d.Name, Args: resultArgs}
		}
		t := result
		for i := len(v.Fields) - 1; i >= 0; i-- {
			t = TArrow{From: in.typeExprToType(v.Fields[i], params), To: t}
		}
		env.Set(v.Name, Scheme{Vars: varIDs, Body: t})
	}
}

func (in *Inferencer) paramVars(params []string) map[string]Type {
	m := make(map[string]Type, len(params))
	for _, p := range params {
		m[p] = in.Fresh()
	}
	return m
}

// typeExprToType converts a syntactic type annotation. Lowercase names map
// to base types; registered aliases expand; anything else is a nominal
// application.
func (in *Inferencer) typeExprToType(te ast.TypeExpr, params map[string]Type) Type {
	switch t := te.(type) {
	case *ast.VarType:
		if v, ok := params[t.Name]; ok {
			return v
		}
		return in.Fresh()

	case *ast.NamedType:
		if v, ok := params[t.Name]; ok && len(t.Args) == 0 {
			return v
		}
		switch t.Name {
		case "int":
			return TInt
		case "float":
			return TFloat
		case "bool":
			return TBool
		case "string":
			return TString
		case "unit":
			return TUnit
		}
		if alias, ok := in.aliases[t.Name]; ok {
			return alias
		}
		args := make([]Type, len(t.Args))
		for i, a := range t.Args {
			args[i] = in.typeExprToType(a, params)
		}
		// Normalize capitalization of the built-in constructors.
		name := t.Name
		switch name {
		case "list":
			name = "List"
		case "array":
			name = "Array"
		case "option":
			name = "Option"
		case "result":
			name = "Result"
		case "async":
			name = "Async"
		}
		return TApp{Name: name, Args: args}

	case *ast.ArrowType:
		return TArrow{From: in.typeExprToType(t.From, params), To: in.typeExprToType(t.To, params)}

	case *ast.TupleType:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = in.typeExprToType(e, params)
		}
		return TTuple{Elems: elems}
	}
	return in.Fresh()
}
