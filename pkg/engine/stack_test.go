package engine

import (
	"testing"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

func TestStackVariables(t *testing.T) {
	s := NewStack(nil)

	if _, err := s.GetVar(5, tspan()); err == nil {
		t.Fatal("unbound variable should fail")
	}
	s.AddVar(5, value.Int(1, tspan()))
	v, err := s.GetVar(5, tspan())
	if err != nil || v.Int != 1 {
		t.Fatalf("got %v, %v", v, err)
	}
	s.AddVar(5, value.Int(2, tspan()))
	v, _ = s.GetVar(5, tspan())
	if v.Int != 2 {
		t.Fatalf("rebinding should overwrite, got %d", v.Int)
	}
	s.RemoveVar(5)
	if _, err := s.GetVar(5, tspan()); err == nil {
		t.Fatal("removed variable should be gone")
	}
	s.RemoveVar(5) // removing twice is a no-op
}

func TestEnvLocalShadowsDefault(t *testing.T) {
	eng := NewEngineState(nil, nil)
	eng.SetDefaultEnv(DefaultOverlay, "PATH", value.String("/default", tspan()))
	s := NewStack(nil)

	v, err := s.GetEnvVar(eng, "PATH", tspan())
	if err != nil || v.Str != "/default" {
		t.Fatalf("default lookup: got %v, %v", v, err)
	}

	s.AddEnvVar("PATH", value.String("/local", tspan()))
	v, _ = s.GetEnvVar(eng, "PATH", tspan())
	if v.Str != "/local" {
		t.Fatalf("local binding should shadow the default, got %q", v.Str)
	}
}

func TestEnvRemoveHidesDefaultLocally(t *testing.T) {
	eng := NewEngineState(nil, nil)
	eng.SetDefaultEnv(DefaultOverlay, "EDITOR", value.String("vi", tspan()))

	a := NewStack(nil)
	b := NewStack(nil)

	if err := a.RemoveEnvVar(eng, "EDITOR", tspan()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if a.HasEnvVar(eng, "EDITOR") {
		t.Error("removed default should be invisible to this stack")
	}
	// The shared default is untouched: a sibling stack still sees it.
	if !b.HasEnvVar(eng, "EDITOR") {
		t.Error("sibling stack lost a default it never removed")
	}

	// Removing an invisible name errors with the env-not-found kind.
	err := a.RemoveEnvVar(eng, "EDITOR", tspan())
	se, ok := err.(*value.ShellError)
	if !ok || se.Kind != value.ErrEnvVarNotFound {
		t.Fatalf("second remove: got %v", err)
	}

	// A fresh local binding un-hides the name.
	a.AddEnvVar("EDITOR", value.String("hx", tspan()))
	v, verr := a.GetEnvVar(eng, "EDITOR", tspan())
	if verr != nil || v.Str != "hx" {
		t.Fatalf("rebound name: got %v, %v", v, verr)
	}
}

func TestEnvRemoveLocalKeepsDefaultVisible(t *testing.T) {
	eng := NewEngineState(nil, nil)
	eng.SetDefaultEnv(DefaultOverlay, "LANG", value.String("C", tspan()))
	s := NewStack(nil)
	s.AddEnvVar("LANG", value.String("en_US", tspan()))

	// Removing deletes the local value; the default shows through again.
	if err := s.RemoveEnvVar(eng, "LANG", tspan()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	v, err := s.GetEnvVar(eng, "LANG", tspan())
	if err != nil || v.Str != "C" {
		t.Fatalf("after local removal: got %v, %v", v, err)
	}
}

func TestOverlayOrdering(t *testing.T) {
	eng := NewEngineState(nil, nil)
	eng.SetDefaultEnv("zero", "X", value.String("from-zero", tspan()))
	eng.SetDefaultEnv("extra", "X", value.String("from-extra", tspan()))
	s := NewStack([]string{"zero"})

	s.ActivateOverlay("extra")
	v, err := s.GetEnvVar(eng, "X", tspan())
	if err != nil || v.Str != "from-extra" {
		t.Fatalf("newest overlay should win: got %v, %v", v, err)
	}

	s.DeactivateOverlay("extra")
	v, _ = s.GetEnvVar(eng, "X", tspan())
	if v.Str != "from-zero" {
		t.Fatalf("after deactivation: got %q", v.Str)
	}

	// Re-activation moves the overlay to the end of the order.
	s.ActivateOverlay("extra")
	s.ActivateOverlay("zero")
	v, _ = s.GetEnvVar(eng, "X", tspan())
	if v.Str != "from-zero" {
		t.Fatalf("re-activated overlay should win ties: got %q", v.Str)
	}
	order := s.ActiveOverlays()
	if len(order) != 2 || order[0] != "extra" || order[1] != "zero" {
		t.Fatalf("overlay order: %v", order)
	}
}

func TestGatherCapturesIsolation(t *testing.T) {
	eng := NewEngineState(nil, nil)
	eng.AddConstant(9, value.Int(99, tspan()))
	parent := NewStack(nil)
	parent.AddVar(1, value.Int(1, tspan()))
	parent.AddVar(2, value.Int(2, tspan()))
	parent.AddEnvVar("SHARED", value.String("yes", tspan()))

	child, err := parent.GatherCaptures(eng, []ast.VarID{1, 9}, tspan())
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if child.ID == parent.ID {
		t.Error("child stack should have its own id")
	}

	// Only the requested variables come across; constants fill gaps.
	if _, err := child.GetVar(2, tspan()); err == nil {
		t.Error("uncaptured variable leaked into the child")
	}
	v, _ := child.GetVar(9, tspan())
	if v.Int != 99 {
		t.Errorf("constant capture: got %d, want 99", v.Int)
	}

	// The child sees ambient environment but its writes stay local.
	if !child.HasEnvVar(eng, "SHARED") {
		t.Error("child should see the parent's environment")
	}
	child.AddEnvVar("CHILD_ONLY", value.String("x", tspan()))
	if parent.HasEnvVar(eng, "CHILD_ONLY") {
		t.Error("child environment write leaked to the parent")
	}

	// Unknown capture ids fail.
	if _, err := parent.GatherCaptures(eng, []ast.VarID{42}, tspan()); err == nil {
		t.Error("capturing an unbound variable should fail")
	}
}

func TestStdioPushRestore(t *testing.T) {
	s := NewStack(nil)
	if s.Stdout().Mode != ir.RedirectModeInherit {
		t.Fatalf("fresh stack stdout mode: %v", s.Stdout().Mode)
	}

	restore := s.PushStdio(&IOTarget{Mode: ir.RedirectModePipe}, nil)
	if s.Stdout().Mode != ir.RedirectModePipe {
		t.Error("pushed stdout target not visible")
	}
	if s.Stderr().Mode != ir.RedirectModeInherit {
		t.Error("nil err target should keep the current one")
	}
	restore()
	if s.Stdout().Mode != ir.RedirectModeInherit {
		t.Error("restore did not bring the previous target back")
	}
}

func TestStdioRestoreOutOfOrderPanics(t *testing.T) {
	s := NewStack(nil)
	r1 := s.PushStdio(&IOTarget{Mode: ir.RedirectModePipe}, nil)
	r2 := s.PushStdio(&IOTarget{Mode: ir.RedirectModeNull}, nil)

	defer func() {
		if recover() == nil {
			t.Fatal("out-of-order restore should panic")
		}
		r2()
		r1()
	}()
	r1()
}

func TestUseParentStdio(t *testing.T) {
	s := NewStack(nil)
	restoreOuter := s.PushStdio(&IOTarget{Mode: ir.RedirectModePipe}, nil)

	restoreInner := s.UseParentStdio()
	if s.Stdout().Mode != ir.RedirectModeInherit {
		t.Errorf("parent stdio should apply, got %v", s.Stdout().Mode)
	}
	restoreInner()
	if s.Stdout().Mode != ir.RedirectModePipe {
		t.Error("inner restore lost the pushed target")
	}
	restoreOuter()
}
