package ast

import (
	"fmt"
	"strings"
)

// PatternKind discriminates Pattern.
type PatternKind uint8

const (
	// PatternAny is `_`: matches anything, binds nothing.
	PatternAny PatternKind = iota
	// PatternVar binds the matched value to a variable.
	PatternVar
	// PatternValue matches when the value equals a literal expression.
	PatternValue
	// PatternList destructures a list positionally.
	PatternList
	// PatternRecord destructures named record fields.
	PatternRecord
	// PatternRest captures remaining list elements; only valid inside a
	// list pattern, and only as its final member.
	PatternRest
	// PatternOr matches when any alternative matches. All alternatives
	// must bind the same variables.
	PatternOr
)

// Pattern is a structural match pattern. Matching is side-effect-free
// until a whole pattern succeeds, at which point its bindings are applied.
type Pattern struct {
	Kind  PatternKind
	Span  Span
	Var   VarID       // PatternVar, PatternRest (0 for `..` without a name)
	Value *Expression // PatternValue: must be a constant-foldable literal
	Items []Pattern   // PatternList, PatternOr
	Field []FieldPattern
}

// FieldPattern is a named field inside a record pattern.
type FieldPattern struct {
	Name    string
	Pattern Pattern
}

// String renders the pattern's shape for diagnostics. Variables appear by
// id since names are gone by this stage.
func (p *Pattern) String() string {
	switch p.Kind {
	case PatternVar:
		return fmt.Sprintf("$%d", p.Var)
	case PatternValue:
		return "value"
	case PatternList:
		parts := make([]string, len(p.Items))
		for i := range p.Items {
			parts[i] = p.Items[i].String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case PatternRecord:
		parts := make([]string, len(p.Field))
		for i := range p.Field {
			parts[i] = p.Field[i].Name + ": " + p.Field[i].Pattern.String()
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

// Bindings appends every variable the pattern can bind, in source order.
func (p *Pattern) Bindings(out []VarID) []VarID {
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
		for i := range p.Field {
			out = p.Field[i].Pattern.Bindings(out)
		}
	case PatternOr:
		if len(p.Items) > 0 {
			// Alternatives bind identical sets; the first is representative.
			out = p.Items[0].Bindings(out)
		}
	}
	return out
}
