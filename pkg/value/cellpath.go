package value

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// FollowCellPath navigates the value through the given members and returns
// the value found at the end. Missing members fail with a span-carrying
// error unless the member is optional, in which case the result is nothing.
func FollowCellPath(v Value, members []ast.PathMember) (Value, *ShellError) {
	cur := v
	for i := range members {
		m := &members[i]
		next, err := followMember(cur, m)
		if err != nil {
			if m.Optional {
				return Nothing(m.Span), nil
			}
			return Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func followMember(v Value, m *ast.PathMember) (Value, *ShellError) {
	switch v.Kind {
	case KindRecord:
		if m.Kind != ast.PathString {
			return Value{}, TypeMismatch("string path member for record", "int", m.Span)
		}
		var got Value
		var ok bool
		if m.Insensitive {
			got, ok = v.Record.GetInsensitive(m.String)
		} else {
			got, ok = v.Record.Get(m.String)
		}
		if !ok {
			return Value{}, &ShellError{
				Kind: ErrColumnNotFound,
				Msg:  fmt.Sprintf("record has no column %q", m.String),
				Span: m.Span,
			}
		}
		return got, nil

	case KindList:
		switch m.Kind {
		case ast.PathInt:
			idx := m.Int
			if idx < 0 {
				idx += len(v.List)
			}
			if idx < 0 || idx >= len(v.List) {
				return Value{}, &ShellError{
					Kind: ErrIndexOutOfBounds,
					Msg:  fmt.Sprintf("index %d out of bounds for list of length %d", m.Int, len(v.List)),
					Span: m.Span,
				}
			}
			return v.List[idx], nil
		case ast.PathString:
			// A string member over a list maps the access over each row.
			out := make([]Value, len(v.List))
			for i := range v.List {
				got, err := followMember(v.List[i], m)
				if err != nil {
					return Value{}, err
				}
				out[i] = got
			}
			return List(out, m.Span), nil
		}

	case KindNothing:
		if m.Optional {
			return Nothing(m.Span), nil
		}
		return Value{}, &ShellError{
			Kind: ErrColumnNotFound,
			Msg:  "cannot access a cell path on nothing",
			Span: m.Span,
		}

	case KindError:
		// Errors pass through cell-path access unchanged.
		return Value{}, v.Err
	}
	return Value{}, TypeMismatch("record or list", v.Kind.String(), m.Span)
}

// UpsertCellPath writes newVal at the location named by members, creating
// intermediate records along string members that do not exist yet
// (autovivification). List indices must already be in bounds, except that
// an index equal to the length appends.
func UpsertCellPath(v Value, members []ast.PathMember, newVal Value) (Value, *ShellError) {
	if len(members) == 0 {
		return newVal, nil
	}
	m := &members[0]
	rest := members[1:]

	switch v.Kind {
	case KindRecord:
		if m.Kind != ast.PathString {
			return Value{}, TypeMismatch("string path member for record", "int", m.Span)
		}
		rec := v.Record.Clone()
		child, ok := rec.Get(m.String)
		if !ok {
			child = Nothing(m.Span)
		}
		updated, err := UpsertCellPath(child, rest, newVal)
		if err != nil {
			return Value{}, err
		}
		rec.Set(m.String, updated)
		v.Record = rec
		return v, nil

	case KindList:
		if m.Kind != ast.PathInt {
			return Value{}, TypeMismatch("int path member for list", "string", m.Span)
		}
		idx := m.Int
		if idx < 0 {
			idx += len(v.List)
		}
		if idx < 0 || idx > len(v.List) {
			return Value{}, &ShellError{
				Kind: ErrIndexOutOfBounds,
				Msg:  fmt.Sprintf("index %d out of bounds for list of length %d", m.Int, len(v.List)),
				Span: m.Span,
			}
		}
		items := make([]Value, len(v.List), len(v.List)+1)
		copy(items, v.List)
		if idx == len(items) {
			items = append(items, Nothing(m.Span))
		}
		updated, err := UpsertCellPath(items[idx], rest, newVal)
		if err != nil {
			return Value{}, err
		}
		items[idx] = updated
		v.List = items
		return v, nil

	case KindNothing:
		// Autovivify a record chain under string members.
		if m.Kind != ast.PathString {
			return Value{}, TypeMismatch("record or list", "nothing", m.Span)
		}
		rec := NewRecord(1)
		updated, err := UpsertCellPath(Nothing(m.Span), rest, newVal)
		if err != nil {
			return Value{}, err
		}
		rec.Set(m.String, updated)
		return RecordValue(rec, m.Span), nil
	}
	return Value{}, TypeMismatch("record or list", v.Kind.String(), m.Span)
}
