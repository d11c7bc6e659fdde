package ast

// RedirectionSource selects which output streams a file redirection applies
// to.
type RedirectionSource uint8

const (
	RedirectStdout RedirectionSource = iota
	RedirectStderr
	RedirectBoth
)

func (s RedirectionSource) String() string {
	switch s {
	case RedirectStderr:
		return "err"
	case RedirectBoth:
		return "out+err"
	default:
		return "out"
	}
}

// RedirectionTarget is where a redirected stream goes: a file, or into the
// next pipeline stage.
type RedirectionTarget struct {
	// File is the target path expression; nil means pipe.
	File   *Expression
	Append bool
	Span   Span
}

// Redirection attaches to a pipeline element: either a single source
// redirected to one target, or separate targets for stdout and stderr.
type Redirection struct {
	Source RedirectionSource
	Target RedirectionTarget

	// Separate, when set, overrides Source/Target with distinct stdout and
	// stderr targets (`o> a e> b`).
	Separate *SeparateRedirection
}

// SeparateRedirection redirects stdout and stderr to distinct targets.
type SeparateRedirection struct {
	Out RedirectionTarget
	Err RedirectionTarget
}

// PipelineElement is one stage of a pipeline.
type PipelineElement struct {
	Expr        Expression
	Redirection *Redirection
}

// Pipeline is a chain of elements connected by pipes.
type Pipeline struct {
	Elements []PipelineElement
}

// Block is a parsed block: an ordered list of pipelines plus variable
// metadata the compiler and runtime need.
type Block struct {
	ID        BlockID
	Pipelines []Pipeline

	// Signature metadata, resolved by the parser.
	Params []VarID // positional parameters, bound before execution

	// Captures lists the outer variables a closure over this block must
	// carry. gather_captures reads exactly this set.
	Captures []VarID

	Span Span
}

// BlockStore resolves block ids to parsed blocks. The engine state
// implements this for the compiler.
type BlockStore interface {
	ASTBlock(id BlockID) (*Block, error)
}
