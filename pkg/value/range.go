package value

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// Range is a numeric progression `from..to` with an optional explicit step
// (`from..next..to`). An absent To makes the range unbounded.
type Range struct {
	From      Value // KindInt or KindFloat; KindNothing defaults to 0
	To        Value // KindNothing means unbounded
	Step      Value // KindNothing means 1 (or -1 for descending ranges)
	Inclusion ast.RangeInclusion
}

// RangeValue wraps a range as a Value.
func RangeValue(r *Range, span ast.Span) Value {
	return Value{Kind: KindRange, Range: r, Span: span}
}

// NewRange validates the bound kinds and normalizes defaults.
func NewRange(from, next, to Value, inclusion ast.RangeInclusion, span ast.Span) (*Range, *ShellError) {
	for _, bound := range []Value{from, next, to} {
		switch bound.Kind {
		case KindInt, KindFloat, KindNothing:
		default:
			return nil, TypeMismatch("int, float, or nothing", bound.Kind.String(), bound.Span)
		}
	}
	if from.Kind == KindNothing {
		from = Int(0, span)
	}
	step := Value{Kind: KindNothing}
	if next.Kind != KindNothing {
		diff, err := Apply(next, ast.OpSubtract, span, from)
		if err != nil {
			return nil, err
		}
		step = diff
	}
	return &Range{From: from, To: to, Step: step, Inclusion: inclusion}, nil
}

func (r *Range) String() string {
	sep := ".."
	if r.Inclusion == ast.RangeExclusive {
		sep = "..<"
	}
	to := ""
	if r.To.Kind != KindNothing {
		to = r.To.String()
	}
	if r.Step.Kind != KindNothing {
		next, _ := Apply(r.From, ast.OpAdd, ast.Span{}, r.Step)
		return fmt.Sprintf("%s..%s%s%s", r.From.String(), next.String(), sep, to)
	}
	return fmt.Sprintf("%s%s%s", r.From.String(), sep, to)
}

// step returns the effective step, defaulting to 1 toward To.
func (r *Range) step() float64 {
	if r.Step.Kind != KindNothing {
		return r.Step.asFloat()
	}
	if r.To.Kind != KindNothing && r.To.asFloat() < r.From.asFloat() {
		return -1
	}
	return 1
}

// Iter returns a pull function producing successive range values. The
// second result is false once the range is exhausted. Integral ranges
// advance an int64 cursor; a float64 accumulator would drift past 2^53.
func (r *Range) Iter(span ast.Span) func() (Value, bool) {
	integral := r.From.Kind == KindInt &&
		(r.Step.Kind == KindNothing || r.Step.Kind == KindInt) &&
		(r.To.Kind == KindNothing || r.To.Kind == KindInt)
	if integral {
		return r.iterInt(span)
	}

	step := r.step()
	cur := r.From.asFloat()
	done := step == 0

	return func() (Value, bool) {
		if done {
			return Value{}, false
		}
		if r.To.Kind != KindNothing {
			to := r.To.asFloat()
			if step > 0 {
				if cur > to || (r.Inclusion == ast.RangeExclusive && cur == to) {
					return Value{}, false
				}
			} else {
				if cur < to || (r.Inclusion == ast.RangeExclusive && cur == to) {
					return Value{}, false
				}
			}
		}
		out := Float(cur, span)
		cur += step
		return out, true
	}
}

func (r *Range) iterInt(span ast.Span) func() (Value, bool) {
	step := int64(1)
	if r.Step.Kind == KindInt {
		step = r.Step.Int
	} else if r.To.Kind == KindInt && r.To.Int < r.From.Int {
		step = -1
	}
	cur := r.From.Int
	done := step == 0

	return func() (Value, bool) {
		if done {
			return Value{}, false
		}
		if r.To.Kind == KindInt {
			to := r.To.Int
			if step > 0 {
				if cur > to || (r.Inclusion == ast.RangeExclusive && cur == to) {
					return Value{}, false
				}
			} else {
				if cur < to || (r.Inclusion == ast.RangeExclusive && cur == to) {
					return Value{}, false
				}
			}
		}
		out := Int(cur, span)
		next := cur + step
		if (step > 0 && next < cur) || (step < 0 && next > cur) {
			// The cursor reached the end of int64; wrapping around would
			// restart the progression.
			done = true
		}
		cur = next
		return out, true
	}
}

// Contains reports whether a numeric value lies inside the range.
func (r *Range) Contains(v Value) bool {
	if !isNumeric(v.Kind) {
		return false
	}
	x := v.asFloat()
	from := r.From.asFloat()
	step := r.step()
	if r.To.Kind == KindNothing {
		if step > 0 {
			return x >= from
		}
		return x <= from
	}
	to := r.To.asFloat()
	if step > 0 {
		if x < from || x > to {
			return false
		}
	} else {
		if x > from || x < to {
			return false
		}
	}
	if r.Inclusion == ast.RangeExclusive && x == to {
		return false
	}
	return true
}
