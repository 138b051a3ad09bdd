package parser

import (
	"testing"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/token"
)

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := New(lexer.New(input))
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse error: %s", errs[0].Error())
	}
	return prog
}

func exprOf(t *testing.T, prog *ast.Program) ast.Expr {
	t.Helper()
	if len(prog.Decls) == 0 {
		t.Fatal("no declarations parsed")
	}
	ed, ok := prog.Decls[len(prog.Decls)-1].(*ast.ExprDecl)
	if !ok {
		t.Fatalf("last decl is %T, want expression", prog.Decls[len(prog.Decls)-1])
	}
	return ed.Expr
}

func TestMultiParamLetCurries(t *testing.T) {
	prog := parse(t, `let f x y = x`)
	decl := prog.Decls[0].(*ast.LetDecl)
	outer, ok := decl.Bindings[0].Value.(*ast.Lambda)
	if !ok {
		t.Fatalf("binding value is %T, want Lambda", decl.Bindings[0].Value)
	}
	if outer.Param != "x" {
		t.Fatalf("outer param = %q", outer.Param)
	}
	inner, ok := outer.Body.(*ast.Lambda)
	if !ok || inner.Param != "y" {
		t.Fatalf("currying broken: body is %T", outer.Body)
	}
}

func TestMultiParamFunCurries(t *testing.T) {
	prog := parse(t, `fun a b -> a`)
	outer := exprOf(t, prog).(*ast.Lambda)
	if _, ok := outer.Body.(*ast.Lambda); !ok {
		t.Fatalf("fun a b should nest lambdas, body is %T", outer.Body)
	}
}

func TestPipelineDesugar(t *testing.T) {
	prog := parse(t, `let a = 1 in a |> f`)
	let := exprOf(t, prog).(*ast.LetExpr)
	app, ok := let.Body.(*ast.Apply)
	if !ok {
		t.Fatalf("pipeline should become application, got %T", let.Body)
	}
	if fn, ok := app.Fn.(*ast.Ident); !ok || fn.Name != "f" {
		t.Fatalf("a |> f should be f a, fn is %v", app.Fn)
	}
	if arg, ok := app.Arg.(*ast.Ident); !ok || arg.Name != "a" {
		t.Fatalf("a |> f should be f a, arg is %v", app.Arg)
	}
}

func TestComposeDesugar(t *testing.T) {
	// f >> g  ==>  fun x -> g (f x)
	prog := parse(t, `f >> g`)
	lam, ok := exprOf(t, prog).(*ast.Lambda)
	if !ok {
		t.Fatalf(">> should desugar to a lambda, got %T", exprOf(t, prog))
	}
	outer, ok := lam.Body.(*ast.Apply)
	if !ok {
		t.Fatalf("lambda body should be g (f x), got %T", lam.Body)
	}
	if fn := outer.Fn.(*ast.Ident); fn.Name != "g" {
		t.Fatalf("outer call should be g, got %s", fn.Name)
	}
	inner := outer.Arg.(*ast.Apply)
	if fn := inner.Fn.(*ast.Ident); fn.Name != "f" {
		t.Fatalf("inner call should be f, got %s", fn.Name)
	}
}

func TestApplicationIsLeftAssociative(t *testing.T) {
	prog := parse(t, `f 1 2`)
	outer := exprOf(t, prog).(*ast.Apply)
	inner, ok := outer.Fn.(*ast.Apply)
	if !ok {
		t.Fatalf("f 1 2 should be (f 1) 2, fn is %T", outer.Fn)
	}
	if _, ok := inner.Fn.(*ast.Ident); !ok {
		t.Fatalf("innermost fn should be f")
	}
}

func TestConsIsRightAssociative(t *testing.T) {
	prog := parse(t, `1 :: 2 :: []`)
	outer := exprOf(t, prog).(*ast.BinaryExpr)
	if outer.Op != token.CONS {
		t.Fatalf("want cons, got %s", outer.Op)
	}
	if _, ok := outer.Right.(*ast.BinaryExpr); !ok {
		t.Fatalf("cons should nest to the right, right is %T", outer.Right)
	}
}

func TestMatchArms(t *testing.T) {
	prog := parse(t, `match xs with | [] -> 0 | x :: rest when x > 1 -> x | _ -> 2`)
	m := exprOf(t, prog).(*ast.MatchExpr)
	if len(m.Arms) != 3 {
		t.Fatalf("want 3 arms, got %d", len(m.Arms))
	}
	if _, ok := m.Arms[0].Pattern.(*ast.NilPat); !ok {
		t.Fatalf("first arm should be nil pattern, got %T", m.Arms[0].Pattern)
	}
	cons, ok := m.Arms[1].Pattern.(*ast.ConsPat)
	if !ok {
		t.Fatalf("second arm should be cons pattern, got %T", m.Arms[1].Pattern)
	}
	if _, ok := cons.Head.(*ast.VarPat); !ok {
		t.Fatal("cons head should bind a variable")
	}
	if m.Arms[1].Guard == nil {
		t.Fatal("second arm should carry a guard")
	}
	if _, ok := m.Arms[2].Pattern.(*ast.WildcardPat); !ok {
		t.Fatal("third arm should be the wildcard")
	}
}

func TestTypeDeclRegistersConstructors(t *testing.T) {
	prog := parse(t, `type Shape = Circle of int | Square of int * int | Dot
match s with | Circle r -> r | Square (w, h) -> w | Dot -> 0`)

	td := prog.Decls[0].(*ast.TypeDecl)
	if len(td.Variants) != 3 {
		t.Fatalf("want 3 variants, got %d", len(td.Variants))
	}
	if td.Variants[1].Name != "Square" || len(td.Variants[1].Fields) != 2 {
		t.Fatalf("Square should carry two fields")
	}

	m := exprOf(t, prog).(*ast.MatchExpr)
	sq := m.Arms[1].Pattern.(*ast.VariantPat)
	if sq.TypeName != "Shape" || sq.Variant != "Square" || len(sq.Args) != 2 {
		t.Fatalf("variant pattern should resolve (type, variant) and spread the tuple: %+v", sq)
	}
}

func TestVariantExprResolvesTypeName(t *testing.T) {
	prog := parse(t, `Some 42`)
	v, ok := exprOf(t, prog).(*ast.VariantExpr)
	if !ok {
		t.Fatalf("Some 42 should be a variant expression, got %T", exprOf(t, prog))
	}
	if v.TypeName != "Option" || v.Variant != "Some" || len(v.Args) != 1 {
		t.Fatalf("constructor resolution wrong: %+v", v)
	}
}

func TestRecordLiteralAndUpdate(t *testing.T) {
	prog := parse(t, `let p = { name = "a"; age = 1 } in { p with age = 2 }`)
	let := exprOf(t, prog).(*ast.LetExpr)
	lit := let.Bindings[0].Value.(*ast.RecordLit)
	if len(lit.Fields) != 2 || lit.Fields[0].Name != "name" {
		t.Fatalf("record literal fields wrong: %+v", lit.Fields)
	}
	upd, ok := let.Body.(*ast.RecordUpdate)
	if !ok {
		t.Fatalf("update should parse as RecordUpdate, got %T", let.Body)
	}
	if len(upd.Fields) != 1 || upd.Fields[0].Name != "age" {
		t.Fatalf("update field wrong: %+v", upd.Fields)
	}
}

func TestArrayIndexing(t *testing.T) {
	prog := parse(t, `a.[0] <- 5`)
	set, ok := exprOf(t, prog).(*ast.IndexSet)
	if !ok {
		t.Fatalf("a.[i] <- v should be IndexSet, got %T", exprOf(t, prog))
	}
	if _, ok := set.Index.(*ast.IntLit); !ok {
		t.Fatal("index should be a literal")
	}
}

func TestComputationExprDesugar(t *testing.T) {
	prog := parse(t, `async { let! x = task
return x }`)
	// Whole CE: Async.Delay (fun _ -> Async.Bind task (fun x -> Async.Return x))
	delay, ok := exprOf(t, prog).(*ast.Apply)
	if !ok {
		t.Fatalf("CE should desugar to an application, got %T", exprOf(t, prog))
	}
	delayFn, ok := delay.Fn.(*ast.Ident)
	if !ok || delayFn.Name != "Delay" || len(delayFn.Path) != 1 || delayFn.Path[0] != "Async" {
		t.Fatalf("outer call should be Async.Delay, got %+v", delay.Fn)
	}
	thunk := delay.Arg.(*ast.Lambda)
	bindApp := thunk.Body.(*ast.Apply)
	cont, ok := bindApp.Arg.(*ast.Lambda)
	if !ok || cont.Param != "x" {
		t.Fatalf("let! should bind through a continuation lambda, got %+v", bindApp.Arg)
	}
	ret := cont.Body.(*ast.Apply)
	retFn := ret.Fn.(*ast.Ident)
	if retFn.Name != "Return" {
		t.Fatalf("return should call Async.Return, got %+v", ret.Fn)
	}
}

func TestLoadDirective(t *testing.T) {
	prog := parse(t, "#load \"lib/util.fz\"\nlet x = 1")
	if len(prog.Directives) != 1 || prog.Directives[0].Path != "lib/util.fz" {
		t.Fatalf("directive parsing wrong: %+v", prog.Directives)
	}
}

func TestModuleAndOpen(t *testing.T) {
	prog := parse(t, `module Geometry = begin
	let area r = r * r
	module Circle = begin
		let tau = 6
	end
end
open Geometry.Circle`)

	mod := prog.Decls[0].(*ast.ModuleDecl)
	if mod.Name != "Geometry" || len(mod.Decls) != 2 {
		t.Fatalf("module parsing wrong: %+v", mod)
	}
	if _, ok := mod.Decls[1].(*ast.ModuleDecl); !ok {
		t.Fatal("nested module missing")
	}
	open := prog.Decls[1].(*ast.OpenDecl)
	if len(open.Path) != 2 || open.Path[1] != "Circle" {
		t.Fatalf("open path wrong: %+v", open.Path)
	}
}

func TestQualifiedIdent(t *testing.T) {
	prog := parse(t, `List.map f xs`)
	outer := exprOf(t, prog).(*ast.Apply)
	inner := outer.Fn.(*ast.Apply)
	id := inner.Fn.(*ast.Ident)
	if !id.Qualified() || id.Path[0] != "List" || id.Name != "map" {
		t.Fatalf("qualified ident wrong: %+v", id)
	}
}

func TestParserErrorRecovery(t *testing.T) {
	p := New(lexer.New("let = 3\nlet ok = 1"))
	prog := p.ParseProgram()
	if len(p.Errors()) == 0 {
		t.Fatal("expected a parse error")
	}
	// Recovery should still pick up the following binding.
	found := false
	for _, d := range prog.Decls {
		if ld, ok := d.(*ast.LetDecl); ok && ld.Bindings[0].Name == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatal("parser did not recover at the next top-level let")
	}
}
