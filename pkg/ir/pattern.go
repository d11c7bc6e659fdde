package ir

import (
	"fmt"
	"strings"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// PatternKind discriminates Pattern.
type PatternKind uint8

const (
	// PatternAny matches anything and binds nothing.
	PatternAny PatternKind = iota
	// PatternVar binds the matched value to a variable.
	PatternVar
	// PatternValue matches on equality with a folded constant.
	PatternValue
	// PatternList destructures a list positionally.
	PatternList
	// PatternRecord destructures named record fields.
	PatternRecord
	// PatternRest captures remaining list elements; final member of a list
	// pattern only.
	PatternRest
	// PatternOr matches when any alternative does; alternatives bind the
	// same variable set.
	PatternOr
)

// Pattern is the compiled form of a structural match pattern. Constant
// sub-patterns are folded to values at compile time, so a Pattern is plain
// data and survives the wire encoding.
type Pattern struct {
	Kind   PatternKind
	Span   ast.Span
	Var    ast.VarID
	Value  value.Value
	Items  []Pattern
	Fields []FieldPattern
}

// FieldPattern is a named field inside a record pattern.
type FieldPattern struct {
	Name    string
	Pattern Pattern
}

// Bindings appends every variable the pattern can bind, in source order.
func (p *Pattern) Bindings(out []ast.VarID) []ast.VarID {
	switch p.Kind {
	case PatternVar:
		out = append(out, p.Var)
	case PatternRest:
		if p.Var != 0 {
			out = append(out, p.Var)
		}
	case PatternList:
		for i := range p.Items {
			out = p.Items[i].Bindings(out)
		}
	case PatternRecord:
		for i := range p.Fields {
			out = p.Fields[i].Pattern.Bindings(out)
		}
	case PatternOr:
		if len(p.Items) > 0 {
			// Alternatives bind identical sets; the first is representative.
			out = p.Items[0].Bindings(out)
		}
	}
	return out
}

// String renders the pattern's shape for disassembly comments. Variables
// appear by id since names are gone by this stage.
func (p *Pattern) String() string {
	switch p.Kind {
	case PatternVar:
		return fmt.Sprintf("$%d", p.Var)
	case PatternValue:
		return p.Value.String()
	case PatternList:
		parts := make([]string, len(p.Items))
		for i := range p.Items {
			parts[i] = p.Items[i].String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case PatternRecord:
		parts := make([]string, len(p.Fields))
		for i := range p.Fields {
			parts[i] = p.Fields[i].Name + ": " + p.Fields[i].Pattern.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case PatternRest:
		if p.Var != 0 {
			return fmt.Sprintf("..$%d", p.Var)
		}
		return ".."
	case PatternOr:
		parts := make([]string, len(p.Items))
		for i := range p.Items {
			parts[i] = p.Items[i].String()
		}
		return strings.Join(parts, " | ")
	}
	return "_"
}
