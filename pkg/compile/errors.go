package compile

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// Error is a span-carrying compile failure. Compilation is all-or-nothing:
// the first Error aborts the whole block and no partial IR is ever
// returned.
type Error struct {
	Msg  string
	Span ast.Span
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (at %d..%d)", e.Msg, e.Span.Start, e.Span.End)
}

func errorf(span ast.Span, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Span: span}
}

// unsupported reports an expression kind the IR cannot represent.
func unsupported(span ast.Span, what string) *Error {
	return errorf(span, "%s is not supported in this representation", what)
}
