// Package engine executes compiled IR blocks. It owns the shared engine
// state (declarations, parsed and compiled blocks, default environment),
// the per-invocation Stack, the pipeline-data model, and the instruction
// evaluator. Concurrency lives at pipeline boundaries only: streams are
// pull-based, each invocation owns its register file and Stack outright,
// and cancellation is a cooperative flag consulted at suspension points.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// Signal carries the cooperative cancellation state shared by every
// invocation spawned from one evaluation. Suspension points (Collect,
// Iterate, external-process wait) check it and fail with an interrupted
// error once it trips.
type Signal struct {
	ctx         context.Context
	interrupted atomic.Bool
}

// NewSignal wraps a context as a cancellation signal. A nil context is
// treated as background.
func NewSignal(ctx context.Context) *Signal {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Signal{ctx: ctx}
}

// Interrupt trips the flag directly, independent of the context.
func (s *Signal) Interrupt() {
	s.interrupted.Store(true)
}

// Context returns the signal's underlying context.
func (s *Signal) Context() context.Context {
	return s.ctx
}

// Check returns an interrupted error when the signal has tripped or the
// context is done, nil otherwise.
func (s *Signal) Check(span ast.Span) error {
	if s == nil {
		return nil
	}
	if s.interrupted.Load() {
		return value.Interrupted(span)
	}
	select {
	case <-s.ctx.Done():
		s.interrupted.Store(true)
		return value.Interrupted(span)
	default:
		return nil
	}
}

// DataKind discriminates PipelineData.
type DataKind uint8

const (
	// DataEmpty is the absence of pipeline input or output.
	DataEmpty DataKind = iota
	// DataValue is a fully materialized value.
	DataValue
	// DataStream is an in-flight pull-based stream of values.
	DataStream
)

// PipelineData is what flows between pipeline stages and what a register
// holds: nothing, a value, or a lazy stream.
type PipelineData struct {
	Kind   DataKind
	Value  value.Value
	Stream *ListStream
}

// Empty returns the empty pipeline data.
func Empty() PipelineData {
	return PipelineData{Kind: DataEmpty}
}

// FromValue wraps a value as pipeline data.
func FromValue(v value.Value) PipelineData {
	return PipelineData{Kind: DataValue, Value: v}
}

// FromStream wraps a stream as pipeline data.
func FromStream(s *ListStream) PipelineData {
	return PipelineData{Kind: DataStream, Stream: s}
}

// Span returns the source span associated with the data.
func (d PipelineData) Span() ast.Span {
	switch d.Kind {
	case DataValue:
		return d.Value.Span
	case DataStream:
		return d.Stream.Span
	}
	return ast.Span{}
}

// IsEmpty reports whether the data carries no value at all.
func (d PipelineData) IsEmpty() bool {
	return d.Kind == DataEmpty
}

// Collect materializes the data into a single value, pulling a stream to
// completion. This is a suspension point: the signal is checked per
// element and an interrupt surfaces as a failure.
func (d PipelineData) Collect(sig *Signal) (value.Value, error) {
	switch d.Kind {
	case DataValue:
		return d.Value, nil
	case DataStream:
		return d.Stream.Collect(sig)
	}
	return value.Nothing(ast.Span{}), nil
}

// ListStream is a pull-based lazy sequence of values. Next is called from
// a single goroutine at a time; the producer closure owns any upstream
// state.
type ListStream struct {
	Span ast.Span
	next func() (value.Value, bool)
	done bool
}

// NewListStream wraps a producer closure. The closure returns false when
// exhausted and is not called again after that.
func NewListStream(span ast.Span, next func() (value.Value, bool)) *ListStream {
	return &ListStream{Span: span, next: next}
}

// StreamFromSlice streams over a fixed slice of values.
func StreamFromSlice(span ast.Span, vals []value.Value) *ListStream {
	i := 0
	return NewListStream(span, func() (value.Value, bool) {
		if i >= len(vals) {
			return value.Value{}, false
		}
		v := vals[i]
		i++
		return v, true
	})
}

// Next pulls the next element. This is a suspension point.
func (s *ListStream) Next(sig *Signal) (value.Value, bool, error) {
	if s.done {
		return value.Value{}, false, nil
	}
	if err := sig.Check(s.Span); err != nil {
		s.done = true
		return value.Value{}, false, err
	}
	v, ok := s.next()
	if !ok {
		s.done = true
	}
	return v, ok, nil
}

// Collect drains the stream into a list value.
func (s *ListStream) Collect(sig *Signal) (value.Value, error) {
	var vals []value.Value
	for {
		v, ok, err := s.Next(sig)
		if err != nil {
			return value.Value{}, err
		}
		if !ok {
			return value.List(vals, s.Span), nil
		}
		vals = append(vals, v)
	}
}

// iterator adapts pipeline data to element-at-a-time pulling for Iterate:
// a stream yields its elements, a list its members, a range its steps, any
// other value yields itself once, and empty data is immediately exhausted.
func iterate(d PipelineData) *ListStream {
	switch d.Kind {
	case DataStream:
		return d.Stream
	case DataValue:
		switch d.Value.Kind {
		case value.KindList:
			return StreamFromSlice(d.Value.Span, d.Value.List)
		case value.KindRange:
			next := d.Value.Range.Iter(d.Value.Span)
			return NewListStream(d.Value.Span, next)
		case value.KindNothing:
			return StreamFromSlice(d.Value.Span, nil)
		default:
			yielded := false
			v := d.Value
			return NewListStream(v.Span, func() (value.Value, bool) {
				if yielded {
					return value.Value{}, false
				}
				yielded = true
				return v, true
			})
		}
	}
	return StreamFromSlice(ast.Span{}, nil)
}
