package lexer

import (
	"testing"

	"github.com/fusabi-lang/fusabi/internal/token"
)

func TestNextTokenOperators(t *testing.T) {
	input := `let add x y = x + y in add |> f >> g << h :: xs <- <>`

	expected := []struct {
		typ    token.TokenType
		lexeme string
	}{
		{token.LET, "let"},
		{token.IDENT, "add"},
		{token.IDENT, "x"},
		{token.IDENT, "y"},
		{token.ASSIGN, "="},
		{token.IDENT, "x"},
		{token.PLUS, "+"},
		{token.IDENT, "y"},
		{token.IN, "in"},
		{token.IDENT, "add"},
		{token.PIPE_GT, "|>"},
		{token.IDENT, "f"},
		{token.COMPOSE_RIGHT, ">>"},
		{token.IDENT, "g"},
		{token.COMPOSE_LEFT, "<<"},
		{token.IDENT, "h"},
		{token.CONS, "::"},
		{token.IDENT, "xs"},
		{token.L_ARROW, "<-"},
		{token.NOT_EQ, "<>"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Fatalf("token %d: wrong type. got=%q, want=%q (lexeme %q)", i, tok.Type, exp.typ, tok.Lexeme)
		}
		if tok.Lexeme != exp.lexeme {
			t.Fatalf("token %d: wrong lexeme. got=%q, want=%q", i, tok.Lexeme, exp.lexeme)
		}
	}
	if len(l.Errors()) != 0 {
		t.Fatalf("unexpected lex errors: %v", l.Errors()[0])
	}
}

func TestBangKeywords(t *testing.T) {
	input := `let! do! return! yield! return yield`
	expected := []token.TokenType{
		token.LET_BANG, token.DO_BANG, token.RETURN_BANG, token.YIELD_BANG,
		token.RETURN, token.YIELD, token.EOF,
	}
	l := New(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp {
			t.Fatalf("token %d: got=%q, want=%q", i, tok.Type, exp)
		}
	}
}

func TestBrackets(t *testing.T) {
	input := `[1; 2] [| 3 |] { a = 1 } () (x)`
	expected := []token.TokenType{
		token.LBRACKET, token.INT, token.SEMICOLON, token.INT, token.RBRACKET,
		token.LARRAY, token.INT, token.RARRAY,
		token.LBRACE, token.IDENT, token.ASSIGN, token.INT, token.RBRACE,
		token.UNIT,
		token.LPAREN, token.IDENT, token.RPAREN,
		token.EOF,
	}
	l := New(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp {
			t.Fatalf("token %d: got=%q (lexeme %q), want=%q", i, tok.Type, tok.Lexeme, exp)
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	l := New(`42 3.14 1e3 7`)

	tok := l.NextToken()
	if tok.Type != token.INT || tok.Literal.(int64) != 42 {
		t.Fatalf("want INT 42, got %v", tok)
	}
	tok = l.NextToken()
	if tok.Type != token.FLOAT || tok.Literal.(float64) != 3.14 {
		t.Fatalf("want FLOAT 3.14, got %v", tok)
	}
	tok = l.NextToken()
	if tok.Type != token.FLOAT || tok.Literal.(float64) != 1000.0 {
		t.Fatalf("want FLOAT 1e3, got %v", tok)
	}
	tok = l.NextToken()
	if tok.Type != token.INT || tok.Literal.(int64) != 7 {
		t.Fatalf("want INT 7, got %v", tok)
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"a\nb\t\"q\"" @"raw\n""quoted"""`)

	tok := l.NextToken()
	if tok.Type != token.STRING {
		t.Fatalf("want STRING, got %q", tok.Type)
	}
	if got := tok.Literal.(string); got != "a\nb\t\"q\"" {
		t.Fatalf("escape handling wrong: %q", got)
	}

	tok = l.NextToken()
	if tok.Type != token.STRING {
		t.Fatalf("want verbatim STRING, got %q", tok.Type)
	}
	if got := tok.Literal.(string); got != `raw\n"quoted"` {
		t.Fatalf("verbatim handling wrong: %q", got)
	}
}

func TestUnterminatedString(t *testing.T) {
	l := New(`"abc`)
	tok := l.NextToken()
	if tok.Type != token.ILLEGAL {
		t.Fatalf("want ILLEGAL, got %q", tok.Type)
	}
	if len(l.Errors()) == 0 {
		t.Fatal("expected an UnterminatedString error")
	}
}

func TestDirectives(t *testing.T) {
	l := New("#load \"lib.fz\"\nlet x = 1")
	tok := l.NextToken()
	if tok.Type != token.HASH_LOAD {
		t.Fatalf("want #load, got %q", tok.Type)
	}
	tok = l.NextToken()
	if tok.Type != token.STRING || tok.Literal.(string) != "lib.fz" {
		t.Fatalf("want path string, got %v", tok)
	}

	l = New("#pragma thing")
	tok = l.NextToken()
	if tok.Type != token.ILLEGAL || len(l.Errors()) == 0 {
		t.Fatal("unknown directive should be an error")
	}
}

func TestComments(t *testing.T) {
	input := `1 // line comment
	(* block (* nested *) comment *) 2`
	l := New(input)
	tok := l.NextToken()
	if tok.Type != token.INT || tok.Literal.(int64) != 1 {
		t.Fatalf("want 1, got %v", tok)
	}
	tok = l.NextToken()
	if tok.Type != token.INT || tok.Literal.(int64) != 2 {
		t.Fatalf("comments not skipped, got %v", tok)
	}
}

func TestSpans(t *testing.T) {
	l := New("let x =\n  42")
	l.NextToken() // let
	l.NextToken() // x
	l.NextToken() // =
	tok := l.NextToken()
	if tok.Line != 2 || tok.Column != 3 {
		t.Fatalf("span tracking wrong: line=%d col=%d", tok.Line, tok.Column)
	}
}
