// Package compile translates a parsed expression tree into a linear,
// register-based IR block. The builder allocates registers with an explicit
// move/clone/drop discipline, interns literal payloads into the block's
// byte arena, threads redirect-mode policy through sub-expressions, and
// patches jump targets once their destinations are known.
package compile

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
)

// DeclResolver names declarations for keyword handling and disassembly
// comments. The engine's declaration table implements this.
type DeclResolver interface {
	DeclName(id ast.DeclID) (string, bool)
}

// Context provides the compiler with everything outside the expression
// tree itself: other parsed blocks (for inline compilation of block
// arguments) and declaration names.
type Context struct {
	Blocks ast.BlockStore
	Decls  DeclResolver
	Log    commonlog.Logger
}

// regState tracks what the compiler knows about a register slot.
type regState uint8

const (
	regFree regState = iota
	regLive
)

// builder accumulates one block's instructions and bookkeeping.
type builder struct {
	ctx *Context

	instrs   []ir.Instruction
	spans    []ast.Span
	comments []string

	data      []byte
	dataIndex map[string]ir.DataSlice

	regs      []regState
	fileCount uint32
}

func newBuilder(ctx *Context) *builder {
	return &builder{
		ctx:       ctx,
		dataIndex: make(map[string]ir.DataSlice),
	}
}

// alloc returns the lowest free register, growing the file if none is
// free. Lowest-first reuse keeps blocks compact without any coalescing.
func (b *builder) alloc() ir.RegID {
	for i, st := range b.regs {
		if st == regFree {
			b.regs[i] = regLive
			return ir.RegID(i)
		}
	}
	b.regs = append(b.regs, regLive)
	return ir.RegID(len(b.regs) - 1)
}

// free marks a register consumed by an instruction (move source, folded
// scratch, range bound) so it can be reused. No Drop instruction is
// emitted; the consuming instruction empties it at runtime.
func (b *builder) free(r ir.RegID) {
	b.regs[r] = regFree
}

// emitDrop emits an explicit Drop and frees the register.
func (b *builder) emitDrop(r ir.RegID, span ast.Span) {
	b.emit(ir.Instruction{Op: ir.OpDrop, Dst: r}, span)
	b.free(r)
}

// emit appends an instruction and returns its index.
func (b *builder) emit(instr ir.Instruction, span ast.Span) int {
	b.instrs = append(b.instrs, instr)
	b.spans = append(b.spans, span)
	b.comments = append(b.comments, "")
	return len(b.instrs) - 1
}

// comment attaches a debug note to an already-emitted instruction.
func (b *builder) comment(idx int, text string) {
	b.comments[idx] = text
}

// next returns the index the next emitted instruction will get.
func (b *builder) next() int {
	return len(b.instrs)
}

// patch sets the jump target of a previously emitted branch.
func (b *builder) patch(idx, target int) {
	b.instrs[idx].Target = target
}

// intern appends bytes to the arena, deduplicating repeated payloads.
func (b *builder) intern(s string) ir.DataSlice {
	if slice, ok := b.dataIndex[s]; ok {
		return slice
	}
	slice := ir.DataSlice{Start: uint32(len(b.data)), Len: uint32(len(s))}
	b.data = append(b.data, s...)
	b.dataIndex[s] = slice
	return slice
}

// nextFile reserves a numbered file handle.
func (b *builder) nextFile() int32 {
	n := int32(b.fileCount)
	b.fileCount++
	return n
}

// finish freezes the builder into an immutable block.
func (b *builder) finish() *ir.Block {
	return &ir.Block{
		Instructions:  b.instrs,
		Spans:         b.spans,
		Data:          b.data,
		RegisterCount: uint32(len(b.regs)),
		FileCount:     b.fileCount,
		Comments:      b.comments,
	}
}

// declName resolves a declaration name for comments; falls back to the id.
func (b *builder) declName(id ast.DeclID) string {
	if b.ctx.Decls != nil {
		if name, ok := b.ctx.Decls.DeclName(id); ok {
			return name
		}
	}
	return fmt.Sprintf("decl %d", id)
}
