package value

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// ErrKind classifies shell errors so handlers and tests can distinguish
// lookup misses, type problems, and interruption without parsing messages.
type ErrKind uint8

const (
	ErrGeneric ErrKind = iota
	ErrVarNotFound
	ErrEnvVarNotFound
	ErrColumnNotFound
	ErrIndexOutOfBounds
	ErrTypeMismatch
	ErrOperatorUnsupported
	ErrDivisionByZero
	ErrOverflow
	ErrExternalCommand
	ErrMatchGuardNotBool
	ErrInterrupted
)

func (k ErrKind) String() string {
	switch k {
	case ErrVarNotFound:
		return "variable not found"
	case ErrEnvVarNotFound:
		return "environment variable not found"
	case ErrColumnNotFound:
		return "column not found"
	case ErrIndexOutOfBounds:
		return "index out of bounds"
	case ErrTypeMismatch:
		return "type mismatch"
	case ErrOperatorUnsupported:
		return "unsupported operator"
	case ErrDivisionByZero:
		return "division by zero"
	case ErrOverflow:
		return "integer overflow"
	case ErrExternalCommand:
		return "external command failed"
	case ErrMatchGuardNotBool:
		return "match guard not a boolean"
	case ErrInterrupted:
		return "interrupted"
	default:
		return "error"
	}
}

// ShellError is the span-carrying error used for every recoverable shell
// failure, at compile time and at runtime. It is a value in its own right:
// OnErrorInto captures it into a register as a KindError value.
type ShellError struct {
	Kind ErrKind
	Msg  string
	Span ast.Span
	Help string
	// Inner preserves a wrapped cause, if any.
	Inner error
}

func (e *ShellError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *ShellError) Unwrap() error { return e.Inner }

// Errorf builds a generic ShellError at a span.
func Errorf(span ast.Span, format string, args ...any) *ShellError {
	return &ShellError{Kind: ErrGeneric, Msg: fmt.Sprintf(format, args...), Span: span}
}

// TypeMismatch reports that a value of the wrong kind reached an operation.
func TypeMismatch(expected, actual string, span ast.Span) *ShellError {
	return &ShellError{
		Kind: ErrTypeMismatch,
		Msg:  fmt.Sprintf("expected %s, found %s", expected, actual),
		Span: span,
	}
}

// VarNotFound reports a variable lookup miss.
func VarNotFound(id ast.VarID, span ast.Span) *ShellError {
	return &ShellError{
		Kind: ErrVarNotFound,
		Msg:  fmt.Sprintf("variable with id %d not found", id),
		Span: span,
	}
}

// EnvVarNotFound reports an environment lookup miss.
func EnvVarNotFound(name string, span ast.Span) *ShellError {
	return &ShellError{
		Kind: ErrEnvVarNotFound,
		Msg:  fmt.Sprintf("environment variable %q not found", name),
		Span: span,
		Help: fmt.Sprintf("use $env.%s? to get nothing instead of an error", name),
	}
}

// Interrupted reports cooperative cancellation observed at a suspension
// point. Handlers can match on the kind to tell interruption apart from
// genuine failure.
func Interrupted(span ast.Span) *ShellError {
	return &ShellError{Kind: ErrInterrupted, Msg: "operation interrupted", Span: span}
}

// AsValue wraps the error as a KindError value for handler capture.
func (e *ShellError) AsValue() Value {
	return Error(e, e.Span)
}
