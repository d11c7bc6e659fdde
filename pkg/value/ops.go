package value

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// Apply evaluates `lhs op rhs`. Dispatch is by value kind at execution
// time; the compiler guarantees nothing about operand kinds, so every
// combination must either produce a value or a span-carrying error.
func Apply(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value) (Value, *ShellError) {
	span := ast.Span{Start: lhs.Span.Start, End: rhs.Span.End}

	switch op {
	case ast.OpAdd, ast.OpSubtract, ast.OpMultiply, ast.OpDivide,
		ast.OpFloorDivide, ast.OpModulo, ast.OpPow:
		return applyMath(lhs, op, opSpan, rhs, span)

	case ast.OpEqual:
		return Bool(lhs.Equal(rhs), span), nil
	case ast.OpNotEqual:
		return Bool(!lhs.Equal(rhs), span), nil

	case ast.OpLessThan, ast.OpLessThanOrEqual, ast.OpGreaterThan, ast.OpGreaterThanOrEqual:
		return applyOrdering(lhs, op, opSpan, rhs, span)

	case ast.OpRegexMatch, ast.OpNotRegexMatch:
		return applyRegex(lhs, op, rhs, span)

	case ast.OpIn, ast.OpNotIn:
		return applyMembership(lhs, op, opSpan, rhs, span)

	case ast.OpStartsWith, ast.OpEndsWith:
		l, err := lhs.AsString()
		if err != nil {
			return Value{}, err
		}
		r, err := rhs.AsString()
		if err != nil {
			return Value{}, err
		}
		if op == ast.OpStartsWith {
			return Bool(strings.HasPrefix(l, r), span), nil
		}
		return Bool(strings.HasSuffix(l, r), span), nil

	case ast.OpAnd, ast.OpOr, ast.OpXor:
		l, err := lhs.AsBool()
		if err != nil {
			return Value{}, err
		}
		r, err := rhs.AsBool()
		if err != nil {
			return Value{}, err
		}
		switch op {
		case ast.OpAnd:
			return Bool(l && r, span), nil
		case ast.OpOr:
			return Bool(l || r, span), nil
		default:
			return Bool(l != r, span), nil
		}

	case ast.OpConcatenate:
		return applyConcat(lhs, op, opSpan, rhs, span)
	}
	return Value{}, unsupported(lhs, op, opSpan, rhs)
}

func unsupported(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value) *ShellError {
	return &ShellError{
		Kind: ErrOperatorUnsupported,
		Msg: fmt.Sprintf("operator %q is not supported between %s and %s",
			op.String(), lhs.Kind.String(), rhs.Kind.String()),
		Span: opSpan,
	}
}

func applyMath(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value, span ast.Span) (Value, *ShellError) {
	// String + string is permitted as concatenation.
	if op == ast.OpAdd && lhs.Kind == KindString && rhs.Kind == KindString {
		return String(lhs.Str+rhs.Str, span), nil
	}
	// Filesize and duration combine with their own kind, and scale by ints.
	if lhs.Kind == KindFilesize || lhs.Kind == KindDuration {
		return applyUnitMath(lhs, op, opSpan, rhs, span)
	}
	if !isNumeric(lhs.Kind) || !isNumeric(rhs.Kind) {
		return Value{}, unsupported(lhs, op, opSpan, rhs)
	}

	if lhs.Kind == KindInt && rhs.Kind == KindInt && op != ast.OpDivide && op != ast.OpPow {
		return applyIntMath(lhs.Int, op, opSpan, rhs.Int, span)
	}

	l, r := lhs.asFloat(), rhs.asFloat()
	switch op {
	case ast.OpAdd:
		return Float(l+r, span), nil
	case ast.OpSubtract:
		return Float(l-r, span), nil
	case ast.OpMultiply:
		return Float(l*r, span), nil
	case ast.OpDivide:
		if r == 0 {
			return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
		}
		return Float(l/r, span), nil
	case ast.OpFloorDivide:
		if r == 0 {
			return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
		}
		return Float(math.Floor(l/r), span), nil
	case ast.OpModulo:
		if r == 0 {
			return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
		}
		return Float(math.Mod(l, r), span), nil
	case ast.OpPow:
		result := math.Pow(l, r)
		if lhs.Kind == KindInt && rhs.Kind == KindInt && result == math.Trunc(result) {
			return Int(int64(result), span), nil
		}
		return Float(result, span), nil
	}
	return Value{}, unsupported(lhs, op, opSpan, rhs)
}

func applyIntMath(l int64, op ast.Operator, opSpan ast.Span, r int64, span ast.Span) (Value, *ShellError) {
	overflow := func() (Value, *ShellError) {
		return Value{}, &ShellError{Kind: ErrOverflow, Msg: "integer arithmetic overflow", Span: opSpan}
	}
	switch op {
	case ast.OpAdd:
		sum := l + r
		if (r > 0 && sum < l) || (r < 0 && sum > l) {
			return overflow()
		}
		return Int(sum, span), nil
	case ast.OpSubtract:
		diff := l - r
		if (r > 0 && diff > l) || (r < 0 && diff < l) {
			return overflow()
		}
		return Int(diff, span), nil
	case ast.OpMultiply:
		if l != 0 {
			if (l == -1 && r == math.MinInt64) || (l == math.MinInt64 && r == -1) {
				return overflow()
			}
			if p := l * r; p/l != r {
				return overflow()
			}
		}
		return Int(l*r, span), nil
	case ast.OpFloorDivide:
		if r == 0 {
			return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
		}
		if l == math.MinInt64 && r == -1 {
			return overflow()
		}
		q := l / r
		if (l%r != 0) && ((l < 0) != (r < 0)) {
			q--
		}
		return Int(q, span), nil
	case ast.OpModulo:
		if r == 0 {
			return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
		}
		return Int(l%r, span), nil
	}
	return Value{}, &ShellError{Kind: ErrOperatorUnsupported, Msg: "unsupported integer operator", Span: opSpan}
}

// applyUnitMath handles filesize/duration arithmetic: same-kind add and
// subtract, int scaling, and division yielding a plain ratio.
func applyUnitMath(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value, span ast.Span) (Value, *ShellError) {
	kind := lhs.Kind
	switch op {
	case ast.OpAdd, ast.OpSubtract:
		if rhs.Kind != kind {
			return Value{}, unsupported(lhs, op, opSpan, rhs)
		}
		n := lhs.Int + rhs.Int
		if op == ast.OpSubtract {
			n = lhs.Int - rhs.Int
		}
		return Value{Kind: kind, Int: n, Span: span}, nil
	case ast.OpMultiply:
		if rhs.Kind != KindInt {
			return Value{}, unsupported(lhs, op, opSpan, rhs)
		}
		return Value{Kind: kind, Int: lhs.Int * rhs.Int, Span: span}, nil
	case ast.OpDivide:
		switch rhs.Kind {
		case kind:
			if rhs.Int == 0 {
				return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
			}
			return Float(float64(lhs.Int)/float64(rhs.Int), span), nil
		case KindInt:
			if rhs.Int == 0 {
				return Value{}, &ShellError{Kind: ErrDivisionByZero, Msg: "division by zero", Span: opSpan}
			}
			return Value{Kind: kind, Int: lhs.Int / rhs.Int, Span: span}, nil
		}
	}
	return Value{}, unsupported(lhs, op, opSpan, rhs)
}

func applyOrdering(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value, span ast.Span) (Value, *ShellError) {
	var cmp int
	switch {
	case isNumeric(lhs.Kind) && isNumeric(rhs.Kind):
		l, r := lhs.asFloat(), rhs.asFloat()
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	case (lhs.Kind == KindFilesize && rhs.Kind == KindFilesize) ||
		(lhs.Kind == KindDuration && rhs.Kind == KindDuration):
		switch {
		case lhs.Int < rhs.Int:
			cmp = -1
		case lhs.Int > rhs.Int:
			cmp = 1
		}
	case lhs.Kind == KindString && rhs.Kind == KindString:
		cmp = strings.Compare(lhs.Str, rhs.Str)
	case lhs.Kind == KindDate && rhs.Kind == KindDate:
		switch {
		case lhs.Time.Before(rhs.Time):
			cmp = -1
		case lhs.Time.After(rhs.Time):
			cmp = 1
		}
	default:
		return Value{}, unsupported(lhs, op, opSpan, rhs)
	}

	switch op {
	case ast.OpLessThan:
		return Bool(cmp < 0, span), nil
	case ast.OpLessThanOrEqual:
		return Bool(cmp <= 0, span), nil
	case ast.OpGreaterThan:
		return Bool(cmp > 0, span), nil
	default:
		return Bool(cmp >= 0, span), nil
	}
}

func applyRegex(lhs Value, op ast.Operator, rhs Value, span ast.Span) (Value, *ShellError) {
	subject, err := lhs.AsString()
	if err != nil {
		return Value{}, err
	}
	pattern, err := rhs.AsString()
	if err != nil {
		return Value{}, err
	}
	re, compErr := regexp.Compile(pattern)
	if compErr != nil {
		return Value{}, Errorf(rhs.Span, "invalid regex %q: %v", pattern, compErr)
	}
	matched := re.MatchString(subject)
	if op == ast.OpNotRegexMatch {
		matched = !matched
	}
	return Bool(matched, span), nil
}

func applyMembership(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value, span ast.Span) (Value, *ShellError) {
	var found bool
	switch rhs.Kind {
	case KindList:
		for i := range rhs.List {
			if rhs.List[i].Equal(lhs) {
				found = true
				break
			}
		}
	case KindString:
		sub, err := lhs.AsString()
		if err != nil {
			return Value{}, err
		}
		found = strings.Contains(rhs.Str, sub)
	case KindRecord:
		key, err := lhs.AsString()
		if err != nil {
			return Value{}, err
		}
		_, found = rhs.Record.Get(key)
	case KindRange:
		found = rhs.Range.Contains(lhs)
	default:
		return Value{}, unsupported(lhs, op, opSpan, rhs)
	}
	if op == ast.OpNotIn {
		found = !found
	}
	return Bool(found, span), nil
}

func applyConcat(lhs Value, op ast.Operator, opSpan ast.Span, rhs Value, span ast.Span) (Value, *ShellError) {
	switch {
	case lhs.Kind == KindString && rhs.Kind == KindString:
		return String(lhs.Str+rhs.Str, span), nil
	case lhs.Kind == KindList && rhs.Kind == KindList:
		items := make([]Value, 0, len(lhs.List)+len(rhs.List))
		items = append(items, lhs.List...)
		items = append(items, rhs.List...)
		return List(items, span), nil
	case lhs.Kind == KindBinary && rhs.Kind == KindBinary:
		b := make([]byte, 0, len(lhs.Bytes)+len(rhs.Bytes))
		b = append(b, lhs.Bytes...)
		b = append(b, rhs.Bytes...)
		return Binary(b, span), nil
	}
	return Value{}, unsupported(lhs, op, opSpan, rhs)
}

// Not negates a boolean value in place, per the Not instruction contract.
func Not(v Value) (Value, *ShellError) {
	b, err := v.AsBool()
	if err != nil {
		return Value{}, err
	}
	return Bool(!b, v.Span), nil
}
