package vm

import "fmt"

// VmErrorKind classifies dynamic failures.
type VmErrorKind string

const (
	ErrTypeMismatch      VmErrorKind = "TypeMismatch"
	ErrArity             VmErrorKind = "Arity"
	ErrNotCallable       VmErrorKind = "NotCallable"
	ErrDivisionByZero    VmErrorKind = "DivisionByZero"
	ErrIndexOutOfBounds  VmErrorKind = "IndexOutOfBounds"
	ErrMatchFailure      VmErrorKind = "MatchFailure"
	ErrUnknownField      VmErrorKind = "UnknownField"
	ErrStackUnderflow    VmErrorKind = "StackUnderflow"
	ErrStackOverflow     VmErrorKind = "StackOverflow"
	ErrResourceExhausted VmErrorKind = "ResourceExhausted"
	ErrCancelled         VmErrorKind = "Cancelled"
	ErrHost              VmErrorKind = "Host"
)

// VmError aborts the current execution and unwinds to the engine entry
// point. The VM tears down the failing frame and closes its upvalues
// before surfacing it.
type VmError struct {
	Kind    VmErrorKind
	Message string
	Span    Span
	Trace   []string
}

func (e *VmError) Error() string {
	loc := ""
	if e.Span.Line > 0 {
		loc = fmt.Sprintf(" at %d:%d", e.Span.Line, e.Span.Col)
	}
	msg := fmt.Sprintf("runtime error%s [%s]: %s", loc, e.Kind, e.Message)
	for _, frame := range e.Trace {
		msg += "\n  " + frame
	}
	return msg
}

func newVmError(kind VmErrorKind, format string, args ...interface{}) *VmError {
	return &VmError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewHostError builds the Host-kind error native functions return for
// domain failures.
func NewHostError(format string, args ...interface{}) error {
	return newVmError(ErrHost, format, args...)
}
