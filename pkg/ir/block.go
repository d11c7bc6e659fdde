package ir

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// Block is a compiled IR block: a flat instruction sequence, the literal
// byte arena, the sizes of the register and file-handle files, and parallel
// per-instruction debug data. A Block is produced once by the compiler,
// cached by block id, and never mutated afterwards.
type Block struct {
	Instructions []Instruction

	// Spans maps each instruction to the source text it came from.
	Spans []ast.Span

	// Data is the shared literal arena DataSlices point into.
	Data []byte

	// RegisterCount is the size of the register file an execution needs.
	RegisterCount uint32

	// FileCount is the number of numbered file handles the block opens.
	FileCount uint32

	// Comments carries an optional human-readable note per instruction,
	// shown by the disassembler. Empty strings are omitted.
	Comments []string
}

// Validate checks the structural invariants an executable block must hold:
// every jump target in range, every data slice within the arena, register
// ids under RegisterCount, and file numbers under FileCount. Wire-decoded
// blocks are validated before execution.
func (b *Block) Validate() error {
	n := len(b.Instructions)
	if len(b.Spans) != n {
		return fmt.Errorf("block has %d instructions but %d spans", n, len(b.Spans))
	}
	for idx := range b.Instructions {
		instr := &b.Instructions[idx]
		for _, target := range instr.Branches() {
			if target < 0 || target > n {
				return fmt.Errorf("instruction %d: jump target %d out of range (0..%d)", idx, target, n)
			}
		}
		if err := b.checkRegs(idx, instr); err != nil {
			return err
		}
		if instr.Data.Len > 0 {
			if _, err := instr.Data.Get(b.Data); err != nil {
				return fmt.Errorf("instruction %d: %w", idx, err)
			}
		}
		if instr.Lit != nil && instr.Lit.Slice.Len > 0 {
			if _, err := instr.Lit.Slice.Get(b.Data); err != nil {
				return fmt.Errorf("instruction %d: literal %w", idx, err)
			}
		}
		switch instr.Op {
		case OpOpenFile, OpWriteFile, OpCloseFile:
			if instr.File < 0 || uint32(instr.File) >= b.FileCount {
				return fmt.Errorf("instruction %d: file %d out of range (%d files)", idx, instr.File, b.FileCount)
			}
		}
	}
	return nil
}

func (b *Block) checkRegs(idx int, instr *Instruction) error {
	check := func(r RegID) error {
		if uint32(r) >= b.RegisterCount {
			return fmt.Errorf("instruction %d: register %%%d out of range (%d registers)", idx, r, b.RegisterCount)
		}
		return nil
	}
	if err := check(instr.Dst); err != nil {
		return err
	}
	if err := check(instr.Src); err != nil {
		return err
	}
	if err := check(instr.Src2); err != nil {
		return err
	}
	if instr.Lit != nil && instr.Lit.Range != nil {
		r := instr.Lit.Range
		for _, reg := range []RegID{r.Start, r.Step, r.End} {
			if err := check(reg); err != nil {
				return err
			}
		}
	}
	return nil
}

// DataString returns the arena bytes a slice references, as a string.
// Invalid slices return an empty string; Validate catches those up front.
func (b *Block) DataString(s DataSlice) string {
	bytes, err := s.Get(b.Data)
	if err != nil {
		return ""
	}
	return string(bytes)
}
