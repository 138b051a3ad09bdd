package typesystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/parser"
)

func parseProgram(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := parser.New(lexer.New(input))
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "parse errors")
	return prog
}

func inferSource(t *testing.T, input string) (Type, *Inferencer) {
	t.Helper()
	prog := parseProgram(t, input)
	in := NewInferencer(NewDuRegistry())
	env := BaseEnv(in)
	result := in.InferProgram(prog, env)
	return result, in
}

func TestInferLiterals(t *testing.T) {
	cases := map[string]Type{
		`42`:      TInt,
		`3.5`:     TFloat,
		`true`:    TBool,
		`"hello"`: TString,
		`()`:      TUnit,
	}
	for src, want := range cases {
		result, in := inferSource(t, src)
		require.Empty(t, in.Errors(), "errors for %s", src)
		assert.Equal(t, want, result, src)
	}
}

func TestInferArithmeticAndComparison(t *testing.T) {
	result, in := inferSource(t, `let add x y = x + y in add 10 5`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TInt, result)

	result, in = inferSource(t, `1 < 2`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TBool, result)
}

func TestTypeMismatchIntPlusBool(t *testing.T) {
	_, in := inferSource(t, `1 + true`)
	require.NotEmpty(t, in.Errors(), "1 + true must not typecheck")
}

func TestUnboundVariable(t *testing.T) {
	_, in := inferSource(t, `nope 1`)
	require.NotEmpty(t, in.Errors())
	assert.Contains(t, in.Errors()[0].Error(), "unbound variable")
}

func TestLetPolymorphism(t *testing.T) {
	// let id x = x in (id 1, id true)
	result, in := inferSource(t, `let id x = x in (id 1, id true)`)
	require.Empty(t, in.Errors())
	tup, ok := result.(TTuple)
	require.True(t, ok, "result should be a tuple, got %s", result)
	assert.Equal(t, TInt, tup.Elems[0])
	assert.Equal(t, TBool, tup.Elems[1])
}

func TestValueRestriction(t *testing.T) {
	// An array literal is not a syntactic value, so its element type must
	// not generalize: using it at two types is an error.
	_, in := inferSource(t, `let a = [| |] in (a.[0] + 1, a.[0] && true)`)
	require.NotEmpty(t, in.Errors(), "array element type must stay monomorphic")

	// A lambda is a value and generalizes fine.
	_, in = inferSource(t, `let pair = fun x -> (x, x) in (pair 1, pair true)`)
	require.Empty(t, in.Errors())
}

func TestOccursCheck(t *testing.T) {
	_, in := inferSource(t, `fun x -> x x`)
	require.NotEmpty(t, in.Errors())
	assert.Contains(t, in.Errors()[0].Error(), "occurs")
}

func TestLetRecAndMutualRecursion(t *testing.T) {
	result, in := inferSource(t, `
let rec isEven n = if n = 0 then true else isOdd (n - 1)
and isOdd n = if n = 0 then false else isEven (n - 1)
isEven 10`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TBool, result)
}

func TestMatchUnifiesArmsAndGuard(t *testing.T) {
	result, in := inferSource(t, `match [1; 2] with | [] -> 0 | x :: _ when x > 0 -> x | _ -> 9`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TInt, result)

	_, in = inferSource(t, `match 1 with | 0 -> true | _ -> 2`)
	require.NotEmpty(t, in.Errors(), "arm bodies at different types must fail")

	_, in = inferSource(t, `match 1 with | x when x -> 1 | _ -> 2`)
	require.NotEmpty(t, in.Errors(), "non-bool guard must fail")
}

func TestVariantConstructorsAndPatterns(t *testing.T) {
	result, in := inferSource(t, `type Opt = Just of int | Nothing in
match Just 42 with | Just x -> x | Nothing -> 0`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TInt, result)
}

func TestRecordUpdateKeepsType(t *testing.T) {
	result, in := inferSource(t, `let p = { name = "a"; age = 30 } in { p with age = 31 }.age`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TInt, result)

	_, in = inferSource(t, `let p = { age = 30 } in { p with nope = 1 }`)
	require.NotEmpty(t, in.Errors(), "unknown field in update must fail")
}

func TestAsyncCEType(t *testing.T) {
	result, in := inferSource(t, `async { return 1 }`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TAsync(TInt), result)

	result, in = inferSource(t, `async { let! x = Async.Return 2
return x + 1 }`)
	require.Empty(t, in.Errors())
	assert.Equal(t, TAsync(TInt), result)
}

func TestUnifyStructural(t *testing.T) {
	a := TVar{ID: 100}
	s, err := Unify(TList(a), TList(TInt))
	require.NoError(t, err)
	assert.Equal(t, TInt, a.Apply(s))

	_, err = Unify(TTuple{Elems: []Type{TInt}}, TTuple{Elems: []Type{TInt, TBool}})
	require.Error(t, err, "tuple arity must not unify")

	_, err = Unify(TArrow{From: TInt, To: TBool}, TArrow{From: TInt, To: TInt})
	require.Error(t, err)
}

func TestGeneralizeAndInstantiate(t *testing.T) {
	in := NewInferencer(NewDuRegistry())
	env := NewTypeEnv()

	v := in.Fresh()
	scheme := Generalize(env, TArrow{From: v, To: v})
	require.Len(t, scheme.Vars, 1)

	t1 := in.Instantiate(scheme)
	t2 := in.Instantiate(scheme)
	assert.NotEqual(t, t1, t2, "each instantiation gets fresh variables")

	// A variable free in the environment must not quantify.
	held := in.Fresh()
	env.Set("held", Scheme{Body: held})
	scheme = Generalize(env, TArrow{From: held, To: held})
	assert.Empty(t, scheme.Vars)
}
