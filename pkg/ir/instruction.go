// Package ir defines the register-based intermediate representation the
// compiler emits and the engine executes: instructions, interned literals,
// compiled blocks, redirect modes, a stable textual disassembly, and a
// versioned wire encoding.
package ir

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// RegID indexes a block's register file.
type RegID uint32

// Opcode identifies an instruction.
type Opcode uint8

const (
	// Register lifetime
	OpMove    Opcode = iota // dst <- src; src becomes empty
	OpClone                 // dst <- copy of src; src unchanged
	OpDrop                  // dst becomes empty; later reads are compile errors
	OpCollect               // pull the stream in dst to completion, leaving a value
	OpSpan                  // refresh dst's source span in place

	// Loads
	OpLoadLiteral // dst <- materialized literal
	OpLoadValue   // dst <- pre-built value

	// Variables and environment
	OpLoadVariable // dst <- variable by id
	OpStoreVariable
	OpDropVariable
	OpLoadEnv    // dst <- $env.<name>; fails if missing
	OpLoadEnvOpt // dst <- $env.<name>? ; nothing if missing
	OpStoreEnv

	// Call assembly
	OpPushPositional
	OpAppendRest
	OpPushFlag
	OpPushShortFlag
	OpPushNamed
	OpPushShortNamed
	OpPushParserInfo
	OpCall
	OpExternalCall

	// Redirection
	OpRedirectOut
	OpRedirectErr
	OpCheckErrRedirected
	OpOpenFile
	OpWriteFile
	OpCloseFile

	// Collections and strings
	OpStringAppend
	OpGlobFrom
	OpListPush
	OpListSpread
	OpRecordInsert
	OpRecordSpread

	// Operators
	OpNot
	OpBinaryOp

	// Cell paths
	OpFollowCellPath
	OpCloneCellPath
	OpUpsertCellPath

	// Control flow
	OpJump
	OpBranchIf // jumps to Target when the register holds false
	OpBranchIfEmpty
	OpMatch
	OpCheckMatchGuard
	OpIterate

	// Error handling
	OpOnError
	OpOnErrorInto
	OpPopErrorHandler
	OpReturnEarly
	OpReturn
)

var opcodeNames = [...]string{
	OpMove:               "move",
	OpClone:              "clone",
	OpDrop:               "drop",
	OpCollect:            "collect",
	OpSpan:               "span",
	OpLoadLiteral:        "load-literal",
	OpLoadValue:          "load-value",
	OpLoadVariable:       "load-variable",
	OpStoreVariable:      "store-variable",
	OpDropVariable:       "drop-variable",
	OpLoadEnv:            "load-env",
	OpLoadEnvOpt:         "load-env-opt",
	OpStoreEnv:           "store-env",
	OpPushPositional:     "push-positional",
	OpAppendRest:         "append-rest",
	OpPushFlag:           "push-flag",
	OpPushShortFlag:      "push-short-flag",
	OpPushNamed:          "push-named",
	OpPushShortNamed:     "push-short-named",
	OpPushParserInfo:     "push-parser-info",
	OpCall:               "call",
	OpExternalCall:       "external-call",
	OpRedirectOut:        "redirect-out",
	OpRedirectErr:        "redirect-err",
	OpCheckErrRedirected: "check-err-redirected",
	OpOpenFile:           "open-file",
	OpWriteFile:          "write-file",
	OpCloseFile:          "close-file",
	OpStringAppend:       "string-append",
	OpGlobFrom:           "glob-from",
	OpListPush:           "list-push",
	OpListSpread:         "list-spread",
	OpRecordInsert:       "record-insert",
	OpRecordSpread:       "record-spread",
	OpNot:                "not",
	OpBinaryOp:           "binary-op",
	OpFollowCellPath:     "follow-cell-path",
	OpCloneCellPath:      "clone-cell-path",
	OpUpsertCellPath:     "upsert-cell-path",
	OpJump:               "jump",
	OpBranchIf:           "branch-if",
	OpBranchIfEmpty:      "branch-if-empty",
	OpMatch:              "match",
	OpCheckMatchGuard:    "check-match-guard",
	OpIterate:            "iterate",
	OpOnError:            "on-error",
	OpOnErrorInto:        "on-error-into",
	OpPopErrorHandler:    "pop-error-handler",
	OpReturnEarly:        "return-early",
	OpReturn:             "return",
}

// String returns the disassembly mnemonic for the opcode.
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// Instruction is one IR instruction: an opcode plus the operand fields that
// opcode uses. All control transfer is by absolute instruction index in
// Target (and End for Iterate's exhaustion jump).
type Instruction struct {
	Op Opcode

	Dst  RegID // primary register (src_dst for in-place ops)
	Src  RegID // secondary register
	Src2 RegID // tertiary register (record-insert value, cell-path operand)

	Lit   *Literal    // OpLoadLiteral
	Value value.Value // OpLoadValue

	Data DataSlice // interned name: env key, flag name, parser-info key

	Var  ast.VarID
	Decl ast.DeclID
	Argc int // OpCall/OpExternalCall: argument entries to consume

	Target int // absolute jump index; OpIterate: exhaustion target

	File   int32 // numbered file handle
	Mode   RedirectMode
	Append bool // OpOpenFile

	NoExpand bool // OpGlobFrom

	Operator ast.Operator // OpBinaryOp
	Span     ast.Span     // OpSpan target span; OpBinaryOp operator span

	Pattern *Pattern // OpMatch
}

// IsTerminal reports whether the instruction ends block execution.
func (i *Instruction) IsTerminal() bool {
	return i.Op == OpReturn || i.Op == OpReturnEarly
}

// Branches returns the absolute indices this instruction can transfer to,
// not counting fallthrough.
func (i *Instruction) Branches() []int {
	switch i.Op {
	case OpJump, OpBranchIf, OpBranchIfEmpty, OpMatch, OpIterate,
		OpOnError, OpOnErrorInto:
		return []int{i.Target}
	}
	return nil
}
