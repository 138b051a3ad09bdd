package diagnostics

import (
	"fmt"
	"strings"

	"github.com/fusabi-lang/fusabi/internal/token"
)

// Phase represents the processing phase where an error occurred
type Phase string

const (
	PhaseLexer    Phase = "lexer"
	PhaseParser   Phase = "parser"
	PhaseTypes    Phase = "types"
	PhaseCompiler Phase = "compiler"
	PhaseRuntime  Phase = "runtime"
	PhaseLoader   Phase = "loader"
)

type ErrorCode string

const (
	// Lexer errors
	ErrL001 ErrorCode = "L001" // Unexpected character
	ErrL002 ErrorCode = "L002" // Unterminated string
	ErrL003 ErrorCode = "L003" // Unknown directive

	// Parser errors
	ErrP001 ErrorCode = "P001" // Unexpected token
	ErrP002 ErrorCode = "P002" // Trailing input
	ErrP003 ErrorCode = "P003" // Malformed literal

	// Type errors
	ErrT001 ErrorCode = "T001" // Type mismatch
	ErrT002 ErrorCode = "T002" // Unbound variable
	ErrT003 ErrorCode = "T003" // Occurs check
	ErrT004 ErrorCode = "T004" // Arity mismatch
	ErrT005 ErrorCode = "T005" // Unknown field

	// Compiler errors
	ErrC001 ErrorCode = "C001" // Unresolved identifier
	ErrC002 ErrorCode = "C002" // Too many locals
	ErrC003 ErrorCode = "C003" // Too many constants
	ErrC004 ErrorCode = "C004" // Non-exhaustive match (strict mode)

	// Runtime errors
	ErrR001 ErrorCode = "R001" // Runtime error

	// Loader errors
	ErrM001 ErrorCode = "M001" // File not found
	ErrM002 ErrorCode = "M002" // Circular dependency
	ErrM003 ErrorCode = "M003" // I/O error
)

var errorTemplates = map[ErrorCode]string{
	ErrL001: "unexpected character: '%s'",
	ErrL002: "unterminated string",
	ErrL003: "unknown directive: %s",
	ErrP001: "unexpected token: expected %s, but got '%s'",
	ErrP002: "trailing input after top-level bindings: '%s'",
	ErrP003: "could not parse '%s' as %s",
	ErrT001: "type mismatch: expected %s, found %s",
	ErrT002: "unbound variable: '%s'",
	ErrT003: "occurs check: cannot construct the infinite type %s = %s",
	ErrT004: "arity mismatch: %s expects %d arguments, got %d",
	ErrT005: "unknown field: '%s'",
	ErrC001: "unresolved identifier past inference: '%s'",
	ErrC002: "too many local variables in function (limit %d)",
	ErrC003: "too many constants in one chunk (limit %d)",
	ErrC004: "match expression is not exhaustive; missing: %s",
	ErrR001: "%s",
	ErrM001: "file not found: %s",
	ErrM002: "circular dependency: %s",
	ErrM003: "i/o error: %s",
}

type DiagnosticError struct {
	Code  ErrorCode
	Phase Phase
	Args  []interface{}
	Token token.Token
	File  string
}

func (e *DiagnosticError) Error() string {
	template, ok := errorTemplates[e.Code]
	if !ok {
		return fmt.Sprintf("unknown error code: %s", e.Code)
	}

	message := fmt.Sprintf(template, e.Args...)

	prefix := ""
	if e.File != "" {
		prefix = fmt.Sprintf("%s: ", e.File)
	}

	phaseStr := ""
	if e.Phase != "" {
		phaseStr = fmt.Sprintf("[%s] ", e.Phase)
	}

	if e.Token.Line > 0 {
		return fmt.Sprintf("%s%serror at %d:%d [%s]: %s", prefix, phaseStr, e.Token.Line, e.Token.Column, e.Code, message)
	}
	return fmt.Sprintf("%s%serror [%s]: %s", prefix, phaseStr, e.Code, message)
}

// NewError creates an error with just code and token.
func NewError(code ErrorCode, tok token.Token, args ...interface{}) *DiagnosticError {
	return &DiagnosticError{Code: code, Token: tok, Args: args}
}

// NewPhaseError creates an error with phase information.
func NewPhaseError(phase Phase, code ErrorCode, tok token.Token, args ...interface{}) *DiagnosticError {
	return &DiagnosticError{Code: code, Phase: phase, Token: tok, Args: args}
}

// Render formats the error with a one-line source excerpt and a caret under
// the offending span. Used by the CLI; embedders receive the error value.
func (e *DiagnosticError) Render(source string) string {
	var sb strings.Builder
	sb.WriteString(e.Error())

	if e.Token.Line > 0 && source != "" {
		lines := strings.Split(source, "\n")
		if e.Token.Line <= len(lines) {
			excerpt := lines[e.Token.Line-1]
			sb.WriteString("\n  ")
			sb.WriteString(excerpt)
			sb.WriteString("\n  ")
			col := e.Token.Column
			if col < 1 {
				col = 1
			}
			for i := 1; i < col && i <= len(excerpt); i++ {
				if excerpt[i-1] == '\t' {
					sb.WriteByte('\t')
				} else {
					sb.WriteByte(' ')
				}
			}
			width := len(e.Token.Lexeme)
			if width < 1 {
				width = 1
			}
			sb.WriteString(strings.Repeat("^", width))
		}
	}
	return sb.String()
}
