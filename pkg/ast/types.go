// Package ast defines the parsed expression tree consumed by the IR
// compiler. The tree arrives from an external parser with every variable,
// declaration, and block reference already resolved to a numeric id, and
// with a source span on every node. The compiler never performs name
// lookups; it only follows ids.
package ast

import "time"

// Span is a byte range into the original source text. It is attached to
// every expression and carried through compilation so that any error can
// point back at the text that caused it.
type Span struct {
	Start int
	End   int
}

// Contains reports whether the other span lies entirely within this one.
func (s Span) Contains(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

// VarID identifies a variable resolved by the parser.
type VarID uint32

// DeclID identifies a callable declaration in the engine's declaration table.
type DeclID uint32

// BlockID identifies a parsed block registered with the engine.
type BlockID uint32

// EnvVarID is the reserved variable id the parser assigns to `$env`.
// Cell paths rooted at this variable compile to dedicated environment
// instructions instead of generic cell-path follows.
const EnvVarID VarID = 1

// Expression pairs an expression node with its source span.
type Expression struct {
	Expr Expr
	Span Span
}

// Expr is implemented by every expression node kind.
type Expr interface {
	exprNode()
}

// RangeInclusion selects whether a range's right bound is part of the range.
type RangeInclusion uint8

const (
	RangeInclusive RangeInclusion = iota
	RangeExclusive
)

func (r RangeInclusion) String() string {
	if r == RangeExclusive {
		return "exclusive"
	}
	return "inclusive"
}

// Literal-like nodes.

type Bool struct{ Value bool }

type Int struct{ Value int64 }

type Float struct{ Value float64 }

// Filesize is a byte count literal such as `4kb`, normalized to bytes.
type Filesize struct{ Value int64 }

// Duration is a time literal such as `3sec`, normalized to nanoseconds.
type Duration struct{ Value int64 }

type Binary struct{ Value []byte }

type String struct{ Value string }

// RawString is a single-quoted string with no escapes processed.
type RawString struct{ Value string }

type DateTime struct{ Value time.Time }

// Nothing is the absence-of-value literal.
type Nothing struct{}

// Filepath is a bare path literal. NoExpand suppresses tilde/glob expansion.
type Filepath struct {
	Value    string
	NoExpand bool
}

// Directory is a path literal in directory position (e.g. a cd argument).
type Directory struct {
	Value    string
	NoExpand bool
}

// GlobPattern is a glob literal such as `*.txt`.
type GlobPattern struct {
	Value    string
	NoExpand bool
}

// CellPathLit is a standalone cell-path literal such as `$.foo.0`.
type CellPathLit struct{ Path CellPath }

// Range is `from..to`, `from..<to`, or `from..step..to`. Absent bounds are
// nil and default to Nothing at compile time.
type Range struct {
	From      *Expression
	Next      *Expression
	To        *Expression
	Inclusion RangeInclusion
}

// Var is a read of a resolved variable.
type Var struct{ ID VarID }

// ListItem is one element of a list literal; Spread marks `...expr`.
type ListItem struct {
	Expr   Expression
	Spread bool
}

type List struct{ Items []ListItem }

// RecordItem is one entry of a record literal. A spread item has no key.
type RecordItem struct {
	Key    *Expression // nil for spread items
	Value  Expression
	Spread bool
}

type Record struct{ Items []RecordItem }

// Table is a column header row plus data rows; it compiles to a list of
// records.
type Table struct {
	Columns []Expression
	Rows    [][]Expression
}

// FullCellPath is a head expression followed by a member path. An empty
// tail is legal and compiles to just the head.
type FullCellPath struct {
	Head Expression
	Tail []PathMember
}

// BlockExpr references a parsed block used as a plain block argument.
type BlockExpr struct{ ID BlockID }

// Closure references a parsed block used as a closure value.
type Closure struct{ ID BlockID }

// RowCondition references a parsed block used as a row condition
// (e.g. the argument of `where`).
type RowCondition struct{ ID BlockID }

// Subexpression is a parenthesized block evaluated in place.
type Subexpression struct{ ID BlockID }

// StringInterpolation is `$"..."`: literal and expression parts in order.
type StringInterpolation struct{ Parts []Expression }

// GlobInterpolation is an interpolated glob; the result is converted to a
// glob value carrying the no-expand flag.
type GlobInterpolation struct {
	Parts    []Expression
	NoExpand bool
}

// BinaryOp applies Op to Left and Right.
type BinaryOp struct {
	Left   Expression
	Op     Operator
	OpSpan Span
	Right  Expression
}

// UnaryNot is `not expr`.
type UnaryNot struct{ Expr Expression }

// Call invokes a declaration by id with assembled arguments.
type Call struct {
	Decl DeclID
	Head Span // span of the command name
	Args []Argument
}

// ArgKind discriminates Argument.
type ArgKind uint8

const (
	ArgPositional ArgKind = iota
	ArgSpread
	ArgNamed
	ArgParserInfo
)

// Argument is one argument of a Call. Named arguments with a nil Expr are
// bare flags.
type Argument struct {
	Kind  ArgKind
	Name  string // named/flag long name, or parser-info key
	Short string // single-character flag form, if the source used one
	Expr  *Expression
	Span  Span
}

// ExternalCall runs an external command; Head evaluates to the command
// name and each argument to a string-like value.
type ExternalCall struct {
	Head Expression
	Args []ExternalArgument
}

// ExternalArgument is one argument of an external call.
type ExternalArgument struct {
	Expr   Expression
	Spread bool
}

// Keyword wraps an expression introduced by a syntactic keyword such as
// `else`; only the inner expression is compiled.
type Keyword struct {
	Keyword string
	Expr    Expression
}

// If is `if cond { then } else alt`; Else is nil when absent.
type If struct {
	Cond Expression
	Then Expression // a BlockExpr or Subexpression
	Else *Expression
}

// While is `while cond { body }`.
type While struct {
	Cond Expression
	Body Expression
}

// For is `for $x in iterable { body }`.
type For struct {
	Var      VarID
	Iterable Expression
	Body     Expression
}

// Loop is `loop { body }`: an infinite loop left only by break, return, or
// failure.
type Loop struct{ Body Expression }

// MatchBlock is `match <value> { pattern [if guard] => result, ... }`.
// When Value is nil the pipeline input is matched.
type MatchBlock struct {
	Value *Expression
	Arms  []MatchArm
}

// MatchArm is one arm of a match block.
type MatchArm struct {
	Pattern Pattern
	Guard   *Expression
	Result  Expression
}

// Try is `try { body } catch {|err| handler }`; Catch is nil when absent,
// CatchVar is the closure parameter bound to the error value.
type Try struct {
	Body     Expression
	Catch    *Expression
	CatchVar VarID // 0 when the catch block takes no parameter
}

// ReturnEarly is `return expr` inside a block; Expr is nil for bare return.
type ReturnEarly struct{ Expr *Expression }

// Let binds the value of Expr to a variable.
type Let struct {
	Var  VarID
	Expr Expression
}

// Assign mutates a variable or environment target, optionally through a
// cell path: `$x.a.b = expr` or `$env.FOO = expr`.
type Assign struct {
	LHS Expression // a Var or FullCellPath
	RHS Expression
}

func (Bool) exprNode()                {}
func (Int) exprNode()                 {}
func (Float) exprNode()               {}
func (Filesize) exprNode()            {}
func (Duration) exprNode()            {}
func (Binary) exprNode()              {}
func (String) exprNode()              {}
func (RawString) exprNode()           {}
func (DateTime) exprNode()            {}
func (Nothing) exprNode()             {}
func (Filepath) exprNode()            {}
func (Directory) exprNode()           {}
func (GlobPattern) exprNode()         {}
func (CellPathLit) exprNode()         {}
func (Range) exprNode()               {}
func (Var) exprNode()                 {}
func (List) exprNode()                {}
func (Record) exprNode()              {}
func (Table) exprNode()               {}
func (FullCellPath) exprNode()        {}
func (BlockExpr) exprNode()           {}
func (Closure) exprNode()             {}
func (RowCondition) exprNode()        {}
func (Subexpression) exprNode()       {}
func (StringInterpolation) exprNode() {}
func (GlobInterpolation) exprNode()   {}
func (BinaryOp) exprNode()            {}
func (UnaryNot) exprNode()            {}
func (Call) exprNode()                {}
func (ExternalCall) exprNode()        {}
func (Keyword) exprNode()             {}
func (If) exprNode()                  {}
func (While) exprNode()               {}
func (For) exprNode()                 {}
func (Loop) exprNode()                {}
func (MatchBlock) exprNode()          {}
func (Try) exprNode()                 {}
func (ReturnEarly) exprNode()         {}
func (Let) exprNode()                 {}
func (Assign) exprNode()              {}
