package engine

import (
	"os"

	"github.com/google/uuid"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// Stack is the per-invocation mutable state: local variables, call-local
// environment overlay layers with their hidden-name tombstones, the active
// overlay order, and the current stdio targets. A Stack is owned by exactly
// one logical thread of control; no locking.
type Stack struct {
	// ID tags the evaluation for tracing; forked stacks get fresh ids.
	ID uuid.UUID

	vars []varEntry

	// env holds call-local environment bindings per overlay name. Lookup
	// walks activeOverlays newest-first, then the engine defaults.
	env map[string]map[string]value.Value

	// envHidden records names removed in this scope that only exist in the
	// engine defaults. Hiding instead of deleting keeps the shared defaults
	// untouched and invisible only to this Stack and its descendants.
	envHidden map[string]map[string]struct{}

	activeOverlays []string

	stdio []stdioFrame

	// depth counts nested RunBlock invocations above this stack; RunBlock
	// refuses to go past the configured call-depth limit.
	depth int
}

type varEntry struct {
	id  ast.VarID
	val value.Value
}

// NewStack returns an empty stack with the given overlays active, a local
// environment layer for each, and inherited stdio.
func NewStack(overlays []string) *Stack {
	if len(overlays) == 0 {
		overlays = []string{DefaultOverlay}
	}
	s := &Stack{
		ID:             uuid.New(),
		env:            make(map[string]map[string]value.Value),
		envHidden:      make(map[string]map[string]struct{}),
		activeOverlays: append([]string(nil), overlays...),
		stdio: []stdioFrame{{
			out: IOTarget{Mode: ir.RedirectModeInherit},
			err: IOTarget{Mode: ir.RedirectModeInherit},
		}},
	}
	return s
}

// DefaultOverlay is the overlay every engine starts with.
const DefaultOverlay = "zero"

// Variables: linear scan by id. Scopes are small; hashing would cost more
// than it saves.

// GetVar returns the variable's value or a span-carrying not-found error.
func (s *Stack) GetVar(id ast.VarID, span ast.Span) (value.Value, error) {
	for i := range s.vars {
		if s.vars[i].id == id {
			return s.vars[i].val, nil
		}
	}
	return value.Value{}, value.VarNotFound(id, span)
}

// AddVar binds or overwrites a variable in place.
func (s *Stack) AddVar(id ast.VarID, val value.Value) {
	for i := range s.vars {
		if s.vars[i].id == id {
			s.vars[i].val = val
			return
		}
	}
	s.vars = append(s.vars, varEntry{id: id, val: val})
}

// RemoveVar drops a binding; removing an absent id is a no-op.
func (s *Stack) RemoveVar(id ast.VarID) {
	for i := range s.vars {
		if s.vars[i].id == id {
			s.vars = append(s.vars[:i], s.vars[i+1:]...)
			return
		}
	}
}

// AddEnvVar sets an environment variable in the most recently activated
// overlay's local layer. Having no active overlay is an internal invariant
// violation, not a recoverable shell error.
func (s *Stack) AddEnvVar(name string, val value.Value) {
	if len(s.activeOverlays) == 0 {
		panic("engine: no active overlay to add an environment variable to")
	}
	overlay := s.activeOverlays[len(s.activeOverlays)-1]
	layer := s.env[overlay]
	if layer == nil {
		layer = make(map[string]value.Value)
		s.env[overlay] = layer
	}
	layer[name] = val
	// A local binding un-hides the name for this scope.
	if hidden := s.envHidden[overlay]; hidden != nil {
		delete(hidden, name)
	}
}

// GetEnvVar looks a name up across active overlays newest-first: the
// call-local layer wins, then the engine-wide defaults unless this scope
// hid the name.
func (s *Stack) GetEnvVar(eng *EngineState, name string, span ast.Span) (value.Value, error) {
	for i := len(s.activeOverlays) - 1; i >= 0; i-- {
		overlay := s.activeOverlays[i]
		if layer := s.env[overlay]; layer != nil {
			if v, ok := layer[name]; ok {
				return v, nil
			}
		}
		if _, hidden := s.envHidden[overlay][name]; hidden {
			continue
		}
		if v, ok := eng.defaultEnv(overlay, name); ok {
			return v, nil
		}
	}
	return value.Value{}, value.EnvVarNotFound(name, span)
}

// HasEnvVar reports whether the name is visible from this Stack.
func (s *Stack) HasEnvVar(eng *EngineState, name string) bool {
	_, err := s.GetEnvVar(eng, name, ast.Span{})
	return err == nil
}

// RemoveEnvVar removes a name. A stack-local value is deleted outright; a
// name that only exists in the engine defaults is recorded as hidden so the
// shared defaults stay untouched. Removing an invisible name errors.
func (s *Stack) RemoveEnvVar(eng *EngineState, name string, span ast.Span) error {
	for i := len(s.activeOverlays) - 1; i >= 0; i-- {
		overlay := s.activeOverlays[i]
		if layer := s.env[overlay]; layer != nil {
			if _, ok := layer[name]; ok {
				delete(layer, name)
				return nil
			}
		}
		if _, hidden := s.envHidden[overlay][name]; hidden {
			continue
		}
		if _, ok := eng.defaultEnv(overlay, name); ok {
			hiddenSet := s.envHidden[overlay]
			if hiddenSet == nil {
				hiddenSet = make(map[string]struct{})
				s.envHidden[overlay] = hiddenSet
			}
			hiddenSet[name] = struct{}{}
			return nil
		}
	}
	return value.EnvVarNotFound(name, span)
}

// ActivateOverlay appends the overlay to the active list; re-activation
// moves it to the end so the most recent activation wins ties.
func (s *Stack) ActivateOverlay(name string) {
	s.DeactivateOverlay(name)
	s.activeOverlays = append(s.activeOverlays, name)
}

// DeactivateOverlay filters the overlay out of the active list.
func (s *Stack) DeactivateOverlay(name string) {
	for i, o := range s.activeOverlays {
		if o == name {
			s.activeOverlays = append(s.activeOverlays[:i], s.activeOverlays[i+1:]...)
			return
		}
	}
}

// ActiveOverlays returns the activation order, oldest first.
func (s *Stack) ActiveOverlays() []string {
	return append([]string(nil), s.activeOverlays...)
}

// GatherCaptures builds the Stack a closure runs on: only the requested
// variables (from this stack, or the engine constant table), a fresh local
// environment layer atop a clone of the current layered environment, and
// the current stdio target. The closure sees ambient environment and
// overlay visibility but cannot leak new locals back to the parent.
func (s *Stack) GatherCaptures(eng *EngineState, ids []ast.VarID, span ast.Span) (*Stack, error) {
	child := &Stack{
		ID:             uuid.New(),
		env:            make(map[string]map[string]value.Value, len(s.env)),
		envHidden:      make(map[string]map[string]struct{}, len(s.envHidden)),
		activeOverlays: append([]string(nil), s.activeOverlays...),
		stdio:          []stdioFrame{s.currentStdio()},
		depth:          s.depth,
	}
	for overlay, layer := range s.env {
		cloned := make(map[string]value.Value, len(layer))
		for k, v := range layer {
			cloned[k] = v
		}
		child.env[overlay] = cloned
	}
	for overlay, hidden := range s.envHidden {
		cloned := make(map[string]struct{}, len(hidden))
		for k := range hidden {
			cloned[k] = struct{}{}
		}
		child.envHidden[overlay] = cloned
	}

	for _, id := range ids {
		if v, err := s.GetVar(id, span); err == nil {
			child.AddVar(id, v)
			continue
		}
		if v, ok := eng.Constant(id); ok {
			child.AddVar(id, v)
			continue
		}
		return nil, value.VarNotFound(id, span)
	}
	return child, nil
}

// CaptureValues snapshots the given variables into closure capture pairs.
func (s *Stack) CaptureValues(eng *EngineState, ids []ast.VarID, span ast.Span) ([]value.Capture, error) {
	caps := make([]value.Capture, 0, len(ids))
	for _, id := range ids {
		v, err := s.GetVar(id, span)
		if err != nil {
			var ok bool
			if v, ok = eng.Constant(id); !ok {
				return nil, value.VarNotFound(id, span)
			}
		}
		caps = append(caps, value.Capture{ID: id, Value: v})
	}
	return caps, nil
}

// IOTarget is where one of the two output streams goes.
type IOTarget struct {
	Mode ir.RedirectMode
	// File is set when Mode is RedirectModeFile.
	File *os.File
}

type stdioFrame struct {
	out IOTarget
	err IOTarget
}

func (s *Stack) currentStdio() stdioFrame {
	return s.stdio[len(s.stdio)-1]
}

// Stdout returns the current stdout target.
func (s *Stack) Stdout() IOTarget { return s.currentStdio().out }

// Stderr returns the current stderr target.
func (s *Stack) Stderr() IOTarget { return s.currentStdio().err }

// PushStdio replaces the stdio targets and returns a restore function. A
// nil target keeps the current one. Callers defer the restore so the
// previous targets come back on every exit path, failure unwinding
// included.
func (s *Stack) PushStdio(out, errT *IOTarget) (restore func()) {
	cur := s.currentStdio()
	next := cur
	if out != nil {
		next.out = *out
	}
	if errT != nil {
		next.err = *errT
	}
	s.stdio = append(s.stdio, next)
	depth := len(s.stdio)
	return func() {
		// Restores unwind in LIFO order; a mismatched depth means a missed
		// restore upstream.
		if len(s.stdio) != depth {
			panic("engine: stdio stack restored out of order")
		}
		s.stdio = s.stdio[:depth-1]
	}
}

// UseParentStdio re-applies the previous stdio frame for a nested scope,
// returning a restore function like PushStdio.
func (s *Stack) UseParentStdio() (restore func()) {
	parent := s.stdio[0]
	if len(s.stdio) > 1 {
		parent = s.stdio[len(s.stdio)-2]
	}
	return s.PushStdio(&parent.out, &parent.err)
}
