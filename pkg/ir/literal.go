package ir

import (
	"fmt"
	"time"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// DataSlice references a byte range in a block's literal arena. Slices are
// immutable once written and must stay within the arena bounds.
type DataSlice struct {
	Start uint32
	Len   uint32
}

// Get returns the referenced bytes, bounds-checked against the arena.
func (s DataSlice) Get(data []byte) ([]byte, error) {
	end := uint64(s.Start) + uint64(s.Len)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("data slice %d..%d out of bounds for arena of %d bytes",
			s.Start, end, len(data))
	}
	return data[s.Start:end], nil
}

// LiteralKind discriminates Literal.
type LiteralKind uint8

const (
	LitBool LiteralKind = iota
	LitInt
	LitFloat
	LitFilesize
	LitDuration
	LitBinary
	LitBlock
	LitClosure
	LitRowCondition
	LitRange
	LitList
	LitRecord
	LitFilepath
	LitDirectory
	LitGlobPattern
	LitString
	LitRawString
	LitCellPath
	LitDate
	LitNothing
)

// RangeLiteral names the three registers holding a range's bounds. The
// registers are consumed when the literal is materialized.
type RangeLiteral struct {
	Start     RegID
	Step      RegID
	End       RegID
	Inclusion ast.RangeInclusion
}

// Literal is a tagged constant materialized into a register by
// OpLoadLiteral. String-like payloads live in the block's arena and are
// referenced by Slice.
type Literal struct {
	Kind LiteralKind

	Bool  bool
	Int   int64 // LitInt, LitFilesize, LitDuration
	Float float64

	Slice    DataSlice // LitBinary, LitString, LitRawString, paths, globs
	NoExpand bool      // LitFilepath, LitDirectory, LitGlobPattern

	Block ast.BlockID // LitBlock, LitClosure, LitRowCondition

	Range *RangeLiteral

	Capacity int // LitList, LitRecord: capacity hint

	CellPath ast.CellPath // LitCellPath

	Time time.Time // LitDate
}

var literalKindNames = [...]string{
	LitBool:         "bool",
	LitInt:          "int",
	LitFloat:        "float",
	LitFilesize:     "filesize",
	LitDuration:     "duration",
	LitBinary:       "binary",
	LitBlock:        "block",
	LitClosure:      "closure",
	LitRowCondition: "row-condition",
	LitRange:        "range",
	LitList:         "list",
	LitRecord:       "record",
	LitFilepath:     "filepath",
	LitDirectory:    "directory",
	LitGlobPattern:  "glob-pattern",
	LitString:       "string",
	LitRawString:    "raw-string",
	LitCellPath:     "cell-path",
	LitDate:         "date",
	LitNothing:      "nothing",
}

func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) && literalKindNames[k] != "" {
		return literalKindNames[k]
	}
	return fmt.Sprintf("LiteralKind(%d)", uint8(k))
}
