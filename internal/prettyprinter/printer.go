// Package prettyprinter renders an AST back to canonical source text.
// Printing a parsed program and re-parsing it yields the same tree, which
// the tests rely on.
package prettyprinter

import (
	"fmt"
	"strings"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/token"
)

// Print renders a whole program.
func Print(prog *ast.Program) string {
	var sb strings.Builder
	for _, d := range prog.Directives {
		fmt.Fprintf(&sb, "#load %q\n", d.Path)
	}
	for _, decl := range prog.Decls {
		sb.WriteString(printDecl(decl, ""))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// PrintExpr renders one expression.
func PrintExpr(e ast.Expr) string {
	return printExpr(e)
}

func printDecl(decl ast.Decl, indent string) string {
	switch d := decl.(type) {
	case *ast.LetDecl:
		return indent + printLetGroup(d.Rec, d.Bindings)
	case *ast.ModuleDecl:
		var sb strings.Builder
		fmt.Fprintf(&sb, "%smodule %s = begin\n", indent, d.Name)
		for _, inner := range d.Decls {
			sb.WriteString(printDecl(inner, indent+"  "))
			sb.WriteByte('\n')
		}
		sb.WriteString(indent + "end")
		return sb.String()
	case *ast.OpenDecl:
		return indent + "open " + strings.Join(d.Path, ".")
	case *ast.TypeDecl:
		return indent + printTypeDecl(d)
	case *ast.ExprDecl:
		return indent + printExpr(d.Expr)
	}
	return ""
}

func printLetGroup(rec bool, bindings []*ast.Binding) string {
	var sb strings.Builder
	sb.WriteString("let ")
	if rec {
		sb.WriteString("rec ")
	}
	for i, b := range bindings {
		if i > 0 {
			sb.WriteString(" and ")
		}
		fmt.Fprintf(&sb, "%s = %s", b.Name, printExpr(b.Value))
	}
	return sb.String()
}

func printTypeDecl(d *ast.TypeDecl) string {
	var sb strings.Builder
	sb.WriteString("type " + d.Name)
	if len(d.Params) > 0 {
		sb.WriteString("<" + strings.Join(d.Params, ", ") + ">")
	}
	sb.WriteString(" = ")
	if len(d.RecordFields) > 0 {
		parts := make([]string, len(d.RecordFields))
		for i, f := range d.RecordFields {
			parts[i] = f.Name + " : " + printType(f.Type)
		}
		sb.WriteString("{ " + strings.Join(parts, "; ") + " }")
		return sb.String()
	}
	for i, v := range d.Variants {
		if i > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(v.Name)
		if len(v.Fields) > 0 {
			parts := make([]string, len(v.Fields))
			for j, f := range v.Fields {
				parts[j] = printType(f)
			}
			sb.WriteString(" of " + strings.Join(parts, " * "))
		}
	}
	return sb.String()
}

func printType(t ast.TypeExpr) string {
	switch ty := t.(type) {
	case *ast.NamedType:
		if len(ty.Args) == 0 {
			return ty.Name
		}
		parts := make([]string, len(ty.Args))
		for i, a := range ty.Args {
			parts[i] = printType(a)
		}
		return ty.Name + "<" + strings.Join(parts, ", ") + ">"
	case *ast.VarType:
		return ty.Name
	case *ast.ArrowType:
		return "(" + printType(ty.From) + " -> " + printType(ty.To) + ")"
	case *ast.TupleType:
		parts := make([]string, len(ty.Elems))
		for i, e := range ty.Elems {
			parts[i] = printType(e)
		}
		return "(" + strings.Join(parts, " * ") + ")"
	}
	return "_"
}

func printExpr(e ast.Expr) string {
	switch x := e.(type) {
	case *ast.IntLit:
		return fmt.Sprintf("%d", x.Value)
	case *ast.FloatLit:
		s := fmt.Sprintf("%g", x.Value)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case *ast.BoolLit:
		return fmt.Sprintf("%t", x.Value)
	case *ast.StringLit:
		return fmt.Sprintf("%q", x.Value)
	case *ast.UnitLit:
		return "()"
	case *ast.Ident:
		if x.Qualified() {
			return strings.Join(x.Path, ".") + "." + x.Name
		}
		return x.Name
	case *ast.Lambda:
		return fmt.Sprintf("(fun %s -> %s)", x.Param, printExpr(x.Body))
	case *ast.Apply:
		return fmt.Sprintf("(%s %s)", printExpr(x.Fn), printExpr(x.Arg))
	case *ast.LetExpr:
		return fmt.Sprintf("(%s in %s)", printLetGroup(x.Rec, x.Bindings), printExpr(x.Body))
	case *ast.IfExpr:
		if x.Else == nil {
			return fmt.Sprintf("(if %s then %s)", printExpr(x.Cond), printExpr(x.Then))
		}
		return fmt.Sprintf("(if %s then %s else %s)", printExpr(x.Cond), printExpr(x.Then), printExpr(x.Else))
	case *ast.MatchExpr:
		var sb strings.Builder
		fmt.Fprintf(&sb, "(match %s with", printExpr(x.Scrutinee))
		for _, arm := range x.Arms {
			sb.WriteString(" | " + printPattern(arm.Pattern))
			if arm.Guard != nil {
				sb.WriteString(" when " + printExpr(arm.Guard))
			}
			sb.WriteString(" -> " + printExpr(arm.Body))
		}
		sb.WriteString(")")
		return sb.String()
	case *ast.SequenceExpr:
		return fmt.Sprintf("(%s; %s)", printExpr(x.First), printExpr(x.Second))
	case *ast.BinaryExpr:
		op := string(x.Op)
		if x.Op == token.ASSIGN {
			op = "="
		}
		return fmt.Sprintf("(%s %s %s)", printExpr(x.Left), op, printExpr(x.Right))
	case *ast.UnaryExpr:
		return fmt.Sprintf("(-%s)", printExpr(x.Operand))
	case *ast.TupleLit:
		parts := make([]string, len(x.Elems))
		for i, el := range x.Elems {
			parts[i] = printExpr(el)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *ast.ListLit:
		parts := make([]string, len(x.Elems))
		for i, el := range x.Elems {
			parts[i] = printExpr(el)
		}
		return "[" + strings.Join(parts, "; ") + "]"
	case *ast.ArrayLit:
		parts := make([]string, len(x.Elems))
		for i, el := range x.Elems {
			parts[i] = printExpr(el)
		}
		return "[|" + strings.Join(parts, "; ") + "|]"
	case *ast.RecordLit:
		parts := make([]string, len(x.Fields))
		for i, f := range x.Fields {
			parts[i] = f.Name + " = " + printExpr(f.Value)
		}
		return "{ " + strings.Join(parts, "; ") + " }"
	case *ast.RecordUpdate:
		parts := make([]string, len(x.Fields))
		for i, f := range x.Fields {
			parts[i] = f.Name + " = " + printExpr(f.Value)
		}
		return "{ " + printExpr(x.Base) + " with " + strings.Join(parts, "; ") + " }"
	case *ast.FieldAccess:
		return printExpr(x.Target) + "." + x.Field
	case *ast.IndexGet:
		return printExpr(x.Target) + ".[" + printExpr(x.Index) + "]"
	case *ast.IndexSet:
		return printExpr(x.Target) + ".[" + printExpr(x.Index) + "] <- " + printExpr(x.Value)
	case *ast.VariantExpr:
		if len(x.Args) == 0 {
			return x.Variant
		}
		parts := make([]string, len(x.Args))
		for i, a := range x.Args {
			parts[i] = printExpr(a)
		}
		return "(" + x.Variant + " (" + strings.Join(parts, ", ") + "))"
	case *ast.TypeScopeExpr:
		return "(" + printTypeDecl(x.Decl) + " in " + printExpr(x.Body) + ")"
	}
	return "()"
}

func printPattern(p ast.Pattern) string {
	switch q := p.(type) {
	case *ast.WildcardPat:
		return "_"
	case *ast.VarPat:
		return q.Name
	case *ast.LitPat:
		return printExpr(q.Value)
	case *ast.TuplePat:
		parts := make([]string, len(q.Elems))
		for i, el := range q.Elems {
			parts[i] = printPattern(el)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case *ast.NilPat:
		return "[]"
	case *ast.ConsPat:
		return printPattern(q.Head) + " :: " + printPattern(q.Tail)
	case *ast.VariantPat:
		if len(q.Args) == 0 {
			return q.Variant
		}
		parts := make([]string, len(q.Args))
		for i, a := range q.Args {
			parts[i] = printPattern(a)
		}
		return q.Variant + " (" + strings.Join(parts, ", ") + ")"
	case *ast.RecordPat:
		parts := make([]string, len(q.Fields))
		for i, f := range q.Fields {
			parts[i] = f.Name + " = " + printPattern(f.Pat)
		}
		return "{ " + strings.Join(parts, "; ") + " }"
	}
	return "_"
}
