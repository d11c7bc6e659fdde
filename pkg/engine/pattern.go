package engine

import (
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// matchPattern tests a compiled pattern against a value, appending the
// bindings it would make. Matching is side-effect-free: callers apply the
// bindings to a Stack only after the whole pattern succeeds.
func matchPattern(p *ir.Pattern, v value.Value, binds *[]value.Capture) bool {
	switch p.Kind {
	case ir.PatternAny:
		return true

	case ir.PatternVar:
		*binds = append(*binds, value.Capture{ID: p.Var, Value: v})
		return true

	case ir.PatternValue:
		return v.Equal(p.Value)

	case ir.PatternList:
		if v.Kind != value.KindList {
			return false
		}
		items := p.Items
		elems := v.List
		for i := range items {
			if items[i].Kind == ir.PatternRest {
				if i != len(items)-1 {
					return false
				}
				if items[i].Var != 0 {
					rest := append([]value.Value(nil), elems[i:]...)
					*binds = append(*binds, value.Capture{
						ID:    items[i].Var,
						Value: value.List(rest, v.Span),
					})
				}
				return true
			}
			if i >= len(elems) {
				return false
			}
			if !matchPattern(&items[i], elems[i], binds) {
				return false
			}
		}
		return len(elems) == len(items)

	case ir.PatternRecord:
		if v.Kind != value.KindRecord || v.Record == nil {
			return false
		}
		for i := range p.Fields {
			fv, ok := v.Record.Get(p.Fields[i].Name)
			if !ok {
				return false
			}
			if !matchPattern(&p.Fields[i].Pattern, fv, binds) {
				return false
			}
		}
		return true

	case ir.PatternOr:
		for i := range p.Items {
			var alt []value.Capture
			if matchPattern(&p.Items[i], v, &alt) {
				*binds = append(*binds, alt...)
				return true
			}
		}
		return false
	}
	return false
}
