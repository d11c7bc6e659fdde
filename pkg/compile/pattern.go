package compile

import (
	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// lowerPattern converts a source pattern into its compiled form, folding
// value sub-patterns to constants so the result is plain data.
func lowerPattern(p *ast.Pattern) (ir.Pattern, error) {
	out := ir.Pattern{Span: p.Span, Var: p.Var}
	switch p.Kind {
	case ast.PatternAny:
		out.Kind = ir.PatternAny
	case ast.PatternVar:
		out.Kind = ir.PatternVar
	case ast.PatternRest:
		out.Kind = ir.PatternRest
	case ast.PatternValue:
		out.Kind = ir.PatternValue
		v, ok := foldConstant(p.Value)
		if !ok {
			return ir.Pattern{}, errorf(p.Span, "match pattern value is not a constant")
		}
		out.Value = v
	case ast.PatternList:
		out.Kind = ir.PatternList
		out.Items = make([]ir.Pattern, len(p.Items))
		for i := range p.Items {
			item, err := lowerPattern(&p.Items[i])
			if err != nil {
				return ir.Pattern{}, err
			}
			out.Items[i] = item
		}
	case ast.PatternRecord:
		out.Kind = ir.PatternRecord
		out.Fields = make([]ir.FieldPattern, len(p.Field))
		for i := range p.Field {
			fp, err := lowerPattern(&p.Field[i].Pattern)
			if err != nil {
				return ir.Pattern{}, err
			}
			out.Fields[i] = ir.FieldPattern{Name: p.Field[i].Name, Pattern: fp}
		}
	case ast.PatternOr:
		out.Kind = ir.PatternOr
		out.Items = make([]ir.Pattern, len(p.Items))
		for i := range p.Items {
			alt, err := lowerPattern(&p.Items[i])
			if err != nil {
				return ir.Pattern{}, err
			}
			out.Items[i] = alt
		}
	default:
		return ir.Pattern{}, errorf(p.Span, "unknown pattern kind")
	}
	return out, nil
}

// foldConstant evaluates a literal expression to a value. Value patterns
// are restricted to constant-foldable literals by the parser.
func foldConstant(expr *ast.Expression) (value.Value, bool) {
	if expr == nil {
		return value.Value{}, false
	}
	span := expr.Span
	switch e := expr.Expr.(type) {
	case ast.Bool:
		return value.Bool(e.Value, span), true
	case ast.Int:
		return value.Int(e.Value, span), true
	case ast.Float:
		return value.Float(e.Value, span), true
	case ast.Filesize:
		return value.Filesize(e.Value, span), true
	case ast.Duration:
		return value.Duration(e.Value, span), true
	case ast.String:
		return value.String(e.Value, span), true
	case ast.RawString:
		return value.String(e.Value, span), true
	case ast.DateTime:
		return value.Date(e.Value, span), true
	case ast.Nothing:
		return value.Nothing(span), true
	case ast.Binary:
		return value.Binary(e.Value, span), true
	case ast.List:
		vals := make([]value.Value, 0, len(e.Items))
		for i := range e.Items {
			if e.Items[i].Spread {
				return value.Value{}, false
			}
			v, ok := foldConstant(&e.Items[i].Expr)
			if !ok {
				return value.Value{}, false
			}
			vals = append(vals, v)
		}
		return value.List(vals, span), true
	}
	return value.Value{}, false
}
