package fusabi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/vm"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{})
	t.Cleanup(e.Close)
	return e
}

func evalInt(t *testing.T, e *Engine, source string, want int64) {
	t.Helper()
	result, err := e.Eval(source)
	if err != nil {
		t.Fatalf("eval %q: %v", source, err)
	}
	if !result.IsInt() || result.AsInt() != want {
		t.Fatalf("eval %q = %s, want %d", source, result.Inspect(), want)
	}
}

func TestEvalSeedScenarios(t *testing.T) {
	e := newTestEngine(t)
	evalInt(t, e, `let add2 x y = x + y in add2 10 5`, 15)
	evalInt(t, e, `let rec fact n = if n <= 1 then 1 else n * fact (n - 1) in fact 5`, 120)
	evalInt(t, e, `let pair = (1, 2) in match pair with | (x, y) -> x + y`, 3)
}

func TestEvalTypeErrorRefusesBytecode(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Eval(`1 + true`)
	if err == nil {
		t.Fatal("1 + true must fail at compile time")
	}
	if _, ok := err.(*diagnostics.DiagnosticError); !ok {
		t.Fatalf("want a diagnostic error, got %T", err)
	}
}

func TestEnvironmentAccumulates(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Eval(`let base = 40`); err != nil {
		t.Fatal(err)
	}
	evalInt(t, e, `base + 2`, 42)

	// Re-binding shadows into a new slot; closures keep their view.
	if _, err := e.Eval(`let probe () = base`); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Eval(`let base = 0`); err != nil {
		t.Fatal(err)
	}
	evalInt(t, e, `probe ()`, 40)
}

func TestCompileExecuteSplit(t *testing.T) {
	e := newTestEngine(t)
	chunk, err := e.Compile(`21 * 2`)
	if err != nil {
		t.Fatal(err)
	}
	result, err := e.Execute(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("got %s", result.Inspect())
	}
}

func TestRegisterHostFunction(t *testing.T) {
	e := newTestEngine(t)
	e.Register("Host.triple", 1, func(m *vm.VM, args []Value) (Value, error) {
		return vm.IntVal(args[0].AsInt() * 3), nil
	})
	evalInt(t, e, `Host.triple 14`, 42)

	// Higher-order natives re-enter the VM for script closures.
	e.Register("Host.twice", 2, func(m *vm.VM, args []Value) (Value, error) {
		once, err := m.CallValue(args[0], []Value{args[1]})
		if err != nil {
			return vm.UnitVal(), err
		}
		return m.CallValue(args[0], []Value{once})
	})
	evalInt(t, e, `Host.twice (fun x -> x + 1) 40`, 42)
}

func TestDuplicateRegistrationWarns(t *testing.T) {
	e := newTestEngine(t)
	fn := func(m *vm.VM, args []Value) (Value, error) { return vm.UnitVal(), nil }
	e.Register("Host.dup", 1, fn)
	e.Register("Host.dup", 1, fn)
	warnings := e.Warnings()
	found := false
	for _, w := range warnings {
		if len(w) > 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("duplicate registration should warn")
	}
}

func TestCallByName(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Eval(`let scale a b = a * b`); err != nil {
		t.Fatal(err)
	}
	result, err := e.Call("scale", 6, 7)
	if err != nil {
		t.Fatal(err)
	}
	if result.(int64) != 42 {
		t.Fatalf("Call returned %v", result)
	}

	if _, err := e.Call("missing", 1); err == nil {
		t.Fatal("calling an unknown binding must fail")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	v, err := ToValue([]interface{}{1, "two", true})
	if err != nil {
		t.Fatal(err)
	}
	back := FromValue(v).([]interface{})
	if back[0].(int64) != 1 || back[1].(string) != "two" || back[2].(bool) != true {
		t.Fatalf("round trip mangled: %v", back)
	}

	rec, err := ToValue(map[string]interface{}{"name": "a", "age": 3})
	if err != nil {
		t.Fatal(err)
	}
	m := FromValue(rec).(map[string]interface{})
	if m["age"].(int64) != 3 {
		t.Fatalf("record round trip mangled: %v", m)
	}

	tagged, err := ToValue(Tagged{Type: "Option", Case: "Some", Fields: []interface{}{5}})
	if err != nil {
		t.Fatal(err)
	}
	tv := FromValue(tagged).(Tagged)
	if tv.Case != "Some" || tv.Fields[0].(int64) != 5 {
		t.Fatalf("tagged round trip mangled: %v", tv)
	}
}

func TestAsyncEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	evalInt(t, e, `(async { return 21 } |> Async.run) * 2`, 42)
}

func TestAsyncBindSequences(t *testing.T) {
	e := newTestEngine(t)
	evalInt(t, e, `
let work = async {
	let! a = async { return 20 }
	let! b = async { return 22 }
	return a + b
}
Async.run work`, 42)
}

func TestAsyncCatchReifiesFailure(t *testing.T) {
	e := newTestEngine(t)
	result, err := e.Eval(`
let failing = async { return failwith "denied" }
match Async.run (Async.catch failing) with
| Ok _ -> 0
| Error _ -> 1`)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 1 {
		t.Fatalf("failure should surface as Error, got %s", result.Inspect())
	}
}

func TestAsyncParallelAndTimeout(t *testing.T) {
	e := newTestEngine(t)
	evalInt(t, e, `
let xs = Async.run (Async.parallel [async { return 1 }; async { return 2 }; async { return 3 }])
List.fold (fun acc x -> acc + x) 0 xs`, 6)

	result, err := e.Eval(`
match Async.run (Async.withTimeout 20 (Async.sleep 500)) with
| Some _ -> 0
| None -> 1`)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 1 {
		t.Fatalf("timeout should yield None, got %s", result.Inspect())
	}
}

func TestChannelsThroughScripts(t *testing.T) {
	e := newTestEngine(t)
	evalInt(t, e, `
let pair = Channel.create 4
let sender = fst pair
let receiver = snd pair
ignore (Async.run (Channel.send sender 41))
match Async.run (Channel.receive receiver) with
| Some v -> v + 1
| None -> 0`, 42)
}

func TestLoadDirectiveEndToEnd(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.fz")
	if err := os.WriteFile(lib, []byte(`let libAnswer = 42`), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "main.fz")
	if err := os.WriteFile(main, []byte("#load \"lib.fz\"\nlibAnswer"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t)
	result, err := e.EvalFile(main)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("got %s", result.Inspect())
	}
}

func TestFzbEndToEnd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.fz")
	if err := os.WriteFile(src, []byte(`let answer = 6 * 7 in answer`), 0o644); err != nil {
		t.Fatal(err)
	}

	compiler := newTestEngine(t)
	chunk, meta, err := compiler.CompileFile(src)
	if err != nil {
		t.Fatal(err)
	}
	data, err := vm.Serialize(chunk, meta)
	if err != nil {
		t.Fatal(err)
	}

	runner := newTestEngine(t)
	result, err := runner.ExecuteBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("got %s", result.Inspect())
	}
}

func TestStrictMatchesConfig(t *testing.T) {
	e := New(Config{StrictMatches: true})
	defer e.Close()
	if _, err := e.Eval(`match 3 with | 1 -> 10 | 2 -> 20`); err == nil {
		t.Fatal("strict mode must refuse non-exhaustive matches")
	}
}

func TestMaxStackDepthConfig(t *testing.T) {
	e := New(Config{MaxStackDepth: 32})
	defer e.Close()
	_, err := e.Eval(`let rec f x = f x in f 0`)
	ve, ok := err.(*vm.VmError)
	if !ok || ve.Kind != vm.ErrStackOverflow {
		t.Fatalf("want StackOverflow, got %v", err)
	}
}
