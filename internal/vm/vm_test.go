package vm_test

import (
	"strings"
	"testing"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/parser"
	"github.com/fusabi-lang/fusabi/internal/typesystem"
	"github.com/fusabi-lang/fusabi/internal/vm"
)

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(input))
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse error: %s", errs[0].Error())
	}
	return prog
}

func compile(t *testing.T, input string) (*vm.Chunk, *typesystem.DuRegistry, []string) {
	t.Helper()
	prog := parse(t, input)

	dus := typesystem.NewDuRegistry()
	inf := typesystem.NewInferencer(dus)
	env := typesystem.BaseEnv(inf)
	inf.InferProgram(prog, env)
	if errs := inf.Errors(); len(errs) > 0 {
		t.Fatalf("type error: %s", errs[0].Error())
	}

	chunk, errs, warnings := vm.Compile(prog, dus, vm.CompilerOptions{DebugInfo: true})
	if len(errs) > 0 {
		t.Fatalf("compile error: %s", errs[0].Error())
	}
	return chunk, dus, warnings
}

func newMachine(dus *typesystem.DuRegistry, cfg vm.Config) *vm.VM {
	reg := vm.NewHostRegistry()
	vm.RegisterBuiltins(reg)
	return vm.New(reg, nil, dus, cfg)
}

func runVM(t *testing.T, input string) vm.Value {
	t.Helper()
	chunk, dus, _ := compile(t, input)
	machine := newMachine(dus, vm.Config{})
	result, err := machine.Run(chunk)
	if err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return result
}

func runVMErr(t *testing.T, input string, cfg vm.Config) error {
	t.Helper()
	chunk, dus, _ := compile(t, input)
	machine := newMachine(dus, cfg)
	_, err := machine.Run(chunk)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	return err
}

func testIntValue(t *testing.T, v vm.Value, expected int64) {
	t.Helper()
	if !v.IsInt() {
		t.Fatalf("value is not Int. got=%s (%s)", v.KindName(), v.Inspect())
	}
	if v.AsInt() != expected {
		t.Errorf("wrong value. got=%d, want=%d", v.AsInt(), expected)
	}
}

func testBoolValue(t *testing.T, v vm.Value, expected bool) {
	t.Helper()
	if !v.IsBool() {
		t.Fatalf("value is not Bool. got=%s", v.KindName())
	}
	if v.AsBool() != expected {
		t.Errorf("wrong value. got=%t, want=%t", v.AsBool(), expected)
	}
}

func TestCurriedApplication(t *testing.T) {
	testIntValue(t, runVM(t, `let add x y = x + y in add 10 5`), 15)
}

func TestPartialApplication(t *testing.T) {
	testIntValue(t, runVM(t, `let add x y = x + y in let inc = add 1 in inc 41`), 42)
}

func TestRecursiveFactorial(t *testing.T) {
	testIntValue(t, runVM(t, `let rec fact n = if n <= 1 then 1 else n * fact (n - 1) in fact 5`), 120)
}

func TestTupleMatch(t *testing.T) {
	testIntValue(t, runVM(t, `let pair = (1, 2) in match pair with | (x, y) -> x + y`), 3)
}

func TestListLengthRecursive(t *testing.T) {
	testIntValue(t, runVM(t,
		`let rec len xs = match xs with | [] -> 0 | _ :: ys -> 1 + len ys in len [1;2;3;4;5]`), 5)
}

func TestRecordUpdateField(t *testing.T) {
	testIntValue(t, runVM(t, `let p = { name = "Alice"; age = 30 } in { p with age = 31 }.age`), 31)
}

func TestUserVariantMatch(t *testing.T) {
	testIntValue(t, runVM(t,
		`type Opt = Just of int | Nothing in match Just 42 with | Just x -> x | Nothing -> 0`), 42)
}

func TestLetPolymorphismRuns(t *testing.T) {
	result := runVM(t, `let id x = x in (id 1, id true)`)
	tup, ok := result.Obj.(*vm.ObjTuple)
	if !ok {
		t.Fatalf("want tuple, got %s", result.KindName())
	}
	testIntValue(t, tup.Elems[0], 1)
	testBoolValue(t, tup.Elems[1], true)
}

func TestStackOverflowAtConfiguredDepth(t *testing.T) {
	err := runVMErr(t, `let rec f x = f x in f 0`, vm.Config{MaxFrames: 64})
	ve, ok := err.(*vm.VmError)
	if !ok {
		t.Fatalf("want VmError, got %T: %v", err, err)
	}
	if ve.Kind != vm.ErrStackOverflow {
		t.Fatalf("want StackOverflow, got %s", ve.Kind)
	}
}

func TestDeepNonTailRecursionWithinLimit(t *testing.T) {
	testIntValue(t, runVM(t,
		`let rec sum n = if n = 0 then 0 else n + sum (n - 1) in sum 500`), 125250)
}

func TestMatchFailureRaised(t *testing.T) {
	chunk, dus, warnings := compile(t, `match 3 with | 1 -> 10 | 2 -> 20`)
	if len(warnings) == 0 {
		t.Error("non-exhaustive match should warn at compile time")
	}
	machine := newMachine(dus, vm.Config{})
	_, err := machine.Run(chunk)
	ve, ok := err.(*vm.VmError)
	if !ok || ve.Kind != vm.ErrMatchFailure {
		t.Fatalf("want MatchFailure, got %v", err)
	}
}

func TestWildcardPreventsMatchFailure(t *testing.T) {
	_, _, warnings := compile(t, `match 3 with | 1 -> 10 | _ -> 20`)
	if len(warnings) != 0 {
		t.Errorf("wildcard arm should silence the warning: %v", warnings)
	}
	testIntValue(t, runVM(t, `match 3 with | 1 -> 10 | _ -> 20`), 20)
}

func TestGuardFallsThrough(t *testing.T) {
	testIntValue(t, runVM(t,
		`match 5 with | x when x > 10 -> 1 | x when x > 3 -> 2 | _ -> 3`), 2)
}

func TestNestedPatterns(t *testing.T) {
	testIntValue(t, runVM(t,
		`match (Some 1, [2; 3]) with | (Some a, b :: _) -> a + b | _ -> 0`), 3)
}

func TestArrayMutationIsShared(t *testing.T) {
	testIntValue(t, runVM(t, `
let a = [| 1; 2; 3 |]
let b = a
a.[1] <- 42
b.[1]`), 42)
}

func TestArrayIndexOutOfBounds(t *testing.T) {
	err := runVMErr(t, `let a = [| 1 |] in a.[5]`, vm.Config{})
	ve := err.(*vm.VmError)
	if ve.Kind != vm.ErrIndexOutOfBounds {
		t.Fatalf("want IndexOutOfBounds, got %s", ve.Kind)
	}
}

func TestDivisionByZero(t *testing.T) {
	err := runVMErr(t, `1 / 0`, vm.Config{})
	ve := err.(*vm.VmError)
	if ve.Kind != vm.ErrDivisionByZero {
		t.Fatalf("want DivisionByZero, got %s", ve.Kind)
	}
}

func TestClosureCapturesAndCloses(t *testing.T) {
	// The inner closure captures a let-bound local that dies before the
	// closure is called: the upvalue must close over its value.
	testIntValue(t, runVM(t, `
let mk = fun n -> let secret = n * 2 in fun () -> secret
let f = mk 21
f ()`), 42)
}

func TestSharedArrayThroughClosures(t *testing.T) {
	// Two closures over the same array observe shared mutation.
	testIntValue(t, runVM(t, `
let cell = [| 0 |]
let set = fun v -> cell.[0] <- v
let get = fun () -> cell.[0]
set 7
get ()`), 7)
}

func TestEqualitySemantics(t *testing.T) {
	testBoolValue(t, runVM(t, `(1, "a") = (1, "a")`), true)
	testBoolValue(t, runVM(t, `[1; 2] = [1; 2]`), true)
	testBoolValue(t, runVM(t, `{ a = 1 } = { a = 1 }`), true)
	testBoolValue(t, runVM(t, `Some 1 = Some 1`), true)
	testBoolValue(t, runVM(t, `Some 1 = None`), false)
	// Arrays compare by identity, not structure.
	testBoolValue(t, runVM(t, `[| 1 |] = [| 1 |]`), false)
	testBoolValue(t, runVM(t, `let a = [| 1 |] in a = a`), true)
}

func TestIntegerOverflowWraps(t *testing.T) {
	result := runVM(t, `9223372036854775807 + 1`)
	testIntValue(t, result, -9223372036854775808)
}

func TestConsOnLongListIsCheap(t *testing.T) {
	testIntValue(t, runVM(t, `
let rec build n acc = if n = 0 then acc else build (n - 1) (n :: acc)
List.length (build 1000 [])`), 1000)
}

func TestBuiltinsListPipeline(t *testing.T) {
	testIntValue(t, runVM(t,
		`[1; 2; 3; 4] |> List.map (fun x -> x * 2) |> List.filter (fun x -> x > 4) |> List.fold (fun acc x -> acc + x) 0`), 14)
}

func TestListReverseInvolution(t *testing.T) {
	testBoolValue(t, runVM(t, `let xs = [1; 2; 3] in List.reverse (List.reverse xs) = xs`), true)
}

func TestOptionDefaultValue(t *testing.T) {
	testIntValue(t, runVM(t, `Option.defaultValue 9 (Some 4)`), 4)
	testIntValue(t, runVM(t, `Option.defaultValue 9 None`), 9)
}

func TestGlobalShadowingKeepsEarlierView(t *testing.T) {
	testIntValue(t, runVM(t, `
let x = 1
let f () = x
let x = 2
f () + x`), 3)
}

func TestModulesAndOpen(t *testing.T) {
	testIntValue(t, runVM(t, `
module Geometry = begin
	let double r = r * 2
	module Circle = begin
		let tau = 6
	end
end
open Geometry
double Geometry.Circle.tau`), 12)
}

func TestSequenceAndUnit(t *testing.T) {
	testIntValue(t, runVM(t, `(ignore 1; 5)`), 5)
}

func TestFloatArithmetic(t *testing.T) {
	result := runVM(t, `1.5 + 2.25`)
	if !result.IsFloat() || result.AsFloat() != 3.75 {
		t.Fatalf("want 3.75, got %s", result.Inspect())
	}
	result = runVM(t, `float 3 + 0.5`)
	if !result.IsFloat() || result.AsFloat() != 3.5 {
		t.Fatalf("float conversion broken: %s", result.Inspect())
	}
}

func TestInstructionBudget(t *testing.T) {
	err := runVMErr(t, `let rec spin n = if n = 0 then 0 else spin (n - 1) in spin 100000`,
		vm.Config{MaxInstructions: 1000})
	ve := err.(*vm.VmError)
	if ve.Kind != vm.ErrResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %s", ve.Kind)
	}
}

func TestRuntimeErrorCarriesSpanAndTrace(t *testing.T) {
	err := runVMErr(t, `let boom x = x / 0 in boom 1`, vm.Config{})
	ve := err.(*vm.VmError)
	if ve.Span.Line == 0 {
		t.Error("error should carry a source span")
	}
	if len(ve.Trace) == 0 || !strings.Contains(ve.Trace[0], "boom") {
		t.Errorf("error should carry a stack trace, got %v", ve.Trace)
	}
}

// TestTailCallReusesFrame hand-assembles a self-recursive countdown with
// OP_TAIL_CALL and runs it under a tiny frame limit: frame reuse is what
// lets it finish.
func TestTailCallReusesFrame(t *testing.T) {
	dus := typesystem.NewDuRegistry()

	fn := vm.NewChunk("countdown")
	fn.Arity = 1
	fn.LocalCount = 1
	// if n = 0 then 0 else countdown (n - 1)
	zero := fn.AddConstant(vm.IntVal(0))
	one := fn.AddConstant(vm.IntVal(1))
	self := fn.AddConstant(vm.ObjVal(&vm.ObjSymbol{Name: "countdown"}))

	span := vm.Span{Line: 1}
	fn.WriteOp(vm.OP_LOAD_LOCAL, span)
	fn.WriteU8(0, span)
	fn.WriteOp(vm.OP_LOAD_CONST, span)
	fn.WriteU16(uint16(zero), span)
	fn.WriteOp(vm.OP_EQ, span)
	fn.WriteOp(vm.OP_JUMP_IF_FALSE, span)
	fn.WriteI16(4, span) // skip LOAD_CONST zero + RETURN
	fn.WriteOp(vm.OP_LOAD_CONST, span)
	fn.WriteU16(uint16(zero), span)
	fn.WriteOp(vm.OP_RETURN, span)
	fn.WriteOp(vm.OP_LOAD_GLOBAL, span)
	fn.WriteU16(uint16(self), span)
	fn.WriteOp(vm.OP_LOAD_LOCAL, span)
	fn.WriteU8(0, span)
	fn.WriteOp(vm.OP_LOAD_CONST, span)
	fn.WriteU16(uint16(one), span)
	fn.WriteOp(vm.OP_SUB, span)
	fn.WriteOp(vm.OP_TAIL_CALL, span)
	fn.WriteU8(1, span)
	fn.WriteOp(vm.OP_RETURN, span)

	script := vm.NewChunk("<script>")
	fnConst := script.AddConstant(vm.ObjVal(fn))
	selfSym := script.AddConstant(vm.ObjVal(&vm.ObjSymbol{Name: "countdown"}))
	start := script.AddConstant(vm.IntVal(10000))

	script.WriteOp(vm.OP_MAKE_CLOSURE, span)
	script.WriteU16(uint16(fnConst), span)
	script.WriteOp(vm.OP_STORE_GLOBAL, span)
	script.WriteU16(uint16(selfSym), span)
	script.WriteOp(vm.OP_LOAD_GLOBAL, span)
	script.WriteU16(uint16(selfSym), span)
	script.WriteOp(vm.OP_LOAD_CONST, span)
	script.WriteU16(uint16(start), span)
	script.WriteOp(vm.OP_CALL, span)
	script.WriteU8(1, span)
	script.WriteOp(vm.OP_RETURN, span)

	machine := newMachine(dus, vm.Config{MaxFrames: 8})
	result, err := machine.Run(script)
	if err != nil {
		t.Fatalf("tail call should reuse the frame: %v", err)
	}
	testIntValue(t, result, 0)
}

func TestClosureUpvalueInvariant(t *testing.T) {
	chunk, _, _ := compile(t, `let n = 3 in fun () -> n`)
	// The nested chunk is in the constant pool; its upvalue specs must
	// line up with what MAKE_CLOSURE will populate.
	var nested *vm.Chunk
	for _, c := range chunk.Constants {
		if nc, ok := c.Obj.(*vm.Chunk); ok {
			nested = nc
		}
	}
	if nested == nil {
		t.Fatal("nested chunk not found in constant pool")
	}
	if len(nested.UpvalueSpecs) != 1 {
		t.Fatalf("want 1 upvalue spec, got %d", len(nested.UpvalueSpecs))
	}
}
