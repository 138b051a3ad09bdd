package prettyprinter

import (
	"testing"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/parser"
)

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(input))
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse error in %q: %s", input, errs[0].Error())
	}
	return prog
}

// Printing a parsed program and re-parsing the output must reach a fixed
// point: print(parse(print(parse(src)))) == print(parse(src)).
func TestPrintParseFixedPoint(t *testing.T) {
	sources := []string{
		`let add x y = x + y in add 10 5`,
		`let rec fact n = if n <= 1 then 1 else n * fact (n - 1) in fact 5`,
		`match xs with | [] -> 0 | x :: rest when x > 1 -> x | _ -> 2`,
		`let p = { name = "a"; age = 1 } in { p with age = 2 }.age`,
		`type Shape = Circle of int | Dot
match s with | Circle r -> r | Dot -> 0`,
		`[1; 2; 3] |> List.map (fun x -> x * 2)`,
		`let a = [| 1; 2 |] in a.[0] <- 9`,
		`(1, (2, 3))`,
		"#load \"lib.fz\"\nlet x = 1",
		`module M = begin
let v = 1
end
open M`,
	}

	for _, src := range sources {
		first := Print(parse(t, src))
		second := Print(parse(t, first))
		if first != second {
			t.Errorf("not a fixed point for %q:\n--- first ---\n%s\n--- second ---\n%s", src, first, second)
		}
	}
}

func TestPrintPatterns(t *testing.T) {
	prog := parse(t, `match v with | Some (a, b) -> a | None -> 0`)
	out := Print(prog)
	reparsed := Print(parse(t, out))
	if out != reparsed {
		t.Errorf("pattern printing unstable:\n%s\nvs\n%s", out, reparsed)
	}
}
