// Package value defines the runtime values of the shell: the kinds a
// register can hold, ordered records, ranges, closures, cell-path
// navigation over nested data, and the binary operator table.
package value

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

// Kind discriminates Value.
type Kind uint8

const (
	KindNothing Kind = iota
	KindBool
	KindInt
	KindFloat
	KindFilesize
	KindDuration
	KindString
	KindGlob
	KindBinary
	KindDate
	KindRange
	KindList
	KindRecord
	KindClosure
	KindCellPath
	KindError
)

var kindNames = map[Kind]string{
	KindNothing:  "nothing",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindFilesize: "filesize",
	KindDuration: "duration",
	KindString:   "string",
	KindGlob:     "glob",
	KindBinary:   "binary",
	KindDate:     "datetime",
	KindRange:    "range",
	KindList:     "list",
	KindRecord:   "record",
	KindClosure:  "closure",
	KindCellPath: "cell-path",
	KindError:    "error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is one shell value. Exactly the fields implied by Kind are
// meaningful; the rest are zero.
type Value struct {
	Kind Kind
	Span ast.Span

	Bool     bool
	Int      int64 // KindInt, KindFilesize, KindDuration
	Float    float64
	Str      string // KindString, KindGlob
	NoExpand bool   // KindGlob: suppress expansion
	Bytes    []byte
	Time     time.Time
	List     []Value
	Record   *Record
	Range    *Range
	Closure  *Closure
	Path     ast.CellPath
	Err      *ShellError
}

// Constructors.

func Nothing(span ast.Span) Value { return Value{Kind: KindNothing, Span: span} }

func Bool(b bool, span ast.Span) Value { return Value{Kind: KindBool, Bool: b, Span: span} }

func Int(i int64, span ast.Span) Value { return Value{Kind: KindInt, Int: i, Span: span} }

func Float(f float64, span ast.Span) Value { return Value{Kind: KindFloat, Float: f, Span: span} }

func Filesize(bytes int64, span ast.Span) Value {
	return Value{Kind: KindFilesize, Int: bytes, Span: span}
}

func Duration(ns int64, span ast.Span) Value {
	return Value{Kind: KindDuration, Int: ns, Span: span}
}

func String(s string, span ast.Span) Value { return Value{Kind: KindString, Str: s, Span: span} }

func Glob(s string, noExpand bool, span ast.Span) Value {
	return Value{Kind: KindGlob, Str: s, NoExpand: noExpand, Span: span}
}

func Binary(b []byte, span ast.Span) Value { return Value{Kind: KindBinary, Bytes: b, Span: span} }

func Date(t time.Time, span ast.Span) Value { return Value{Kind: KindDate, Time: t, Span: span} }

func List(items []Value, span ast.Span) Value {
	return Value{Kind: KindList, List: items, Span: span}
}

func CellPathValue(p ast.CellPath, span ast.Span) Value {
	return Value{Kind: KindCellPath, Path: p, Span: span}
}

func Error(err *ShellError, span ast.Span) Value {
	return Value{Kind: KindError, Err: err, Span: span}
}

// IsNothing reports whether the value is the nothing value.
func (v Value) IsNothing() bool { return v.Kind == KindNothing }

// WithSpan returns the value with its span replaced.
func (v Value) WithSpan(span ast.Span) Value {
	v.Span = span
	return v
}

// Clone returns a deep copy. Scalars copy trivially; lists, records, and
// binary payloads copy their backing storage so mutation of the clone never
// aliases the original.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i := range v.List {
			items[i] = v.List[i].Clone()
		}
		v.List = items
	case KindRecord:
		v.Record = v.Record.Clone()
	case KindBinary:
		b := make([]byte, len(v.Bytes))
		copy(b, v.Bytes)
		v.Bytes = b
	case KindRange:
		r := *v.Range
		v.Range = &r
	case KindClosure:
		v.Closure = v.Closure.Clone()
	}
	return v
}

// AsBool fails unless the value is a bool. There is no implicit truthiness;
// branch instructions demand real booleans.
func (v Value) AsBool() (bool, *ShellError) {
	if v.Kind != KindBool {
		return false, TypeMismatch("bool", v.Kind.String(), v.Span)
	}
	return v.Bool, nil
}

// AsString fails unless the value is string-like (string, glob, or bare
// path rendered as a string).
func (v Value) AsString() (string, *ShellError) {
	switch v.Kind {
	case KindString, KindGlob:
		return v.Str, nil
	default:
		return "", TypeMismatch("string", v.Kind.String(), v.Span)
	}
}

// CoerceString renders any scalar as display text. Used by string
// interpolation and external argument assembly.
func (v Value) CoerceString() (string, *ShellError) {
	switch v.Kind {
	case KindNothing:
		return "", nil
	case KindBool:
		return strconv.FormatBool(v.Bool), nil
	case KindInt:
		return strconv.FormatInt(v.Int, 10), nil
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	case KindFilesize:
		return strconv.FormatInt(v.Int, 10) + " B", nil
	case KindDuration:
		return time.Duration(v.Int).String(), nil
	case KindString, KindGlob:
		return v.Str, nil
	case KindDate:
		return v.Time.Format(time.RFC3339), nil
	case KindBinary:
		return string(v.Bytes), nil
	default:
		return "", TypeMismatch("string-convertible value", v.Kind.String(), v.Span)
	}
}

// Equal compares values structurally. Int and float compare numerically
// across kinds; everything else requires matching kinds.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		if isNumeric(v.Kind) && isNumeric(other.Kind) {
			return v.asFloat() == other.asFloat()
		}
		return false
	}
	switch v.Kind {
	case KindNothing:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt, KindFilesize, KindDuration:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindString, KindGlob:
		return v.Str == other.Str
	case KindDate:
		return v.Time.Equal(other.Time)
	case KindBinary:
		if len(v.Bytes) != len(other.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != other.Bytes[i] {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		return v.Record.Equal(other.Record)
	case KindCellPath:
		return v.Path.String() == other.Path.String()
	default:
		return false
	}
}

func isNumeric(k Kind) bool {
	return k == KindInt || k == KindFloat
}

func (v Value) asFloat() float64 {
	if v.Kind == KindFloat {
		return v.Float
	}
	return float64(v.Int)
}

// String renders a debug representation. Display formatting belongs to the
// outer shell layers; this form is for traces and error messages.
func (v Value) String() string {
	switch v.Kind {
	case KindNothing:
		return "nothing"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindFilesize:
		return fmt.Sprintf("%dB", v.Int)
	case KindDuration:
		return time.Duration(v.Int).String()
	case KindString:
		return strconv.Quote(v.Str)
	case KindGlob:
		return fmt.Sprintf("glob(%q)", v.Str)
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.Bytes))
	case KindDate:
		return v.Time.Format(time.RFC3339)
	case KindRange:
		return v.Range.String()
	case KindList:
		return fmt.Sprintf("list(%d items)", len(v.List))
	case KindRecord:
		return fmt.Sprintf("record(%d fields)", v.Record.Len())
	case KindClosure:
		return fmt.Sprintf("closure(block %d)", v.Closure.Block)
	case KindCellPath:
		return v.Path.String()
	case KindError:
		return fmt.Sprintf("error(%s)", v.Err.Error())
	default:
		return v.Kind.String()
	}
}

// Closure is a block id plus the captured variables it carries.
type Closure struct {
	Block    ast.BlockID
	Captures []Capture
}

// Capture is one captured variable.
type Capture struct {
	ID    ast.VarID
	Value Value
}

// Clone copies the closure and its captured values.
func (c *Closure) Clone() *Closure {
	caps := make([]Capture, len(c.Captures))
	for i, cap := range c.Captures {
		caps[i] = Capture{ID: cap.ID, Value: cap.Value.Clone()}
	}
	return &Closure{Block: c.Block, Captures: caps}
}
