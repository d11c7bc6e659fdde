package ir

import "fmt"

// RedirectMode is the policy for how a sub-expression's output streams
// relate to the parent. It is threaded through compilation recursively and
// only materialized as a RedirectOut/RedirectErr instruction ahead of
// calls.
type RedirectMode uint8

const (
	// RedirectModeCaller defers the decision to the calling block.
	RedirectModeCaller RedirectMode = iota
	// RedirectModePipe connects the stream to the next pipeline stage.
	RedirectModePipe
	// RedirectModeSeparate pipes stdout and stderr as distinct streams.
	RedirectModeSeparate
	// RedirectModeValue materializes the full output as a value.
	RedirectModeValue
	// RedirectModeNull discards the stream.
	RedirectModeNull
	// RedirectModeInherit attaches the stream to the ambient terminal.
	RedirectModeInherit
	// RedirectModePrint prints the stream to the console.
	RedirectModePrint
	// RedirectModeFile sends the stream to a numbered file handle.
	RedirectModeFile
)

var redirectModeNames = [...]string{
	RedirectModeCaller:   "caller",
	RedirectModePipe:     "pipe",
	RedirectModeSeparate: "separate",
	RedirectModeValue:    "value",
	RedirectModeNull:     "null",
	RedirectModeInherit:  "inherit",
	RedirectModePrint:    "print",
	RedirectModeFile:     "file",
}

func (m RedirectMode) String() string {
	if int(m) < len(redirectModeNames) {
		return redirectModeNames[m]
	}
	return fmt.Sprintf("RedirectMode(%d)", uint8(m))
}

// RedirectModes pairs the out and err policies threaded through
// compilation. A nil entry means "leave as the caller decided".
type RedirectModes struct {
	Out *RedirectMode
	Err *RedirectMode
}

// WithCapture returns modes that capture stdout into the pipeline while
// leaving stderr as-is. Used for inner pipeline stages.
func WithCapture() RedirectModes {
	pipe := RedirectModePipe
	return RedirectModes{Out: &pipe}
}
