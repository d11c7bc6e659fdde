package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/compile"
	"github.com/nushell/nushell-sub009/pkg/config"
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// testEngine wires a real compiler into a fresh engine.
func testEngine() *EngineState {
	eng := NewEngineState(nil, nil)
	eng.Compile = func(e *EngineState, block *ast.Block, modes ir.RedirectModes) (*ir.Block, error) {
		return compile.CompileBlock(&compile.Context{Blocks: e, Decls: e}, block, modes)
	}
	return eng
}

func ex(x ast.Expr) ast.Expression {
	return ast.Expression{Expr: x, Span: ast.Span{Start: 1, End: 2}}
}

func pipeOf(exprs ...ast.Expression) ast.Pipeline {
	p := ast.Pipeline{}
	for _, e := range exprs {
		p.Elements = append(p.Elements, ast.PipelineElement{Expr: e})
	}
	return p
}

func blockOf(id ast.BlockID, pipelines ...ast.Pipeline) *ast.Block {
	return &ast.Block{ID: id, Pipelines: pipelines, Span: ast.Span{Start: 0, End: 10}}
}

// evalBlock registers, compiles, and runs a block on a fresh stack.
func evalBlock(t *testing.T, eng *EngineState, b *ast.Block, input PipelineData) (value.Value, error) {
	t.Helper()
	eng.AddBlock(b)
	compiled, err := eng.CompiledBlock(b.ID)
	if err != nil {
		t.Fatalf("compile block %d: %v", b.ID, err)
	}
	sig := NewSignal(context.Background())
	out, err := Eval(eng, NewStack(nil), sig, compiled, input)
	if err != nil {
		return value.Value{}, err
	}
	v, cerr := out.Collect(sig)
	if cerr != nil {
		return value.Value{}, cerr
	}
	return v, nil
}

func mustEval(t *testing.T, eng *EngineState, b *ast.Block, input PipelineData) value.Value {
	t.Helper()
	v, err := evalBlock(t, eng, b, input)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	return v
}

// echoDecl returns its pipeline input unchanged.
type echoDecl struct{}

func (echoDecl) Name() string { return "echo" }
func (echoDecl) Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error) {
	return input, nil
}

// lengthDecl counts the elements of its input.
type lengthDecl struct{}

func (lengthDecl) Name() string { return "length" }
func (lengthDecl) Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error) {
	v, err := input.Collect(sig)
	if err != nil {
		return Empty(), err
	}
	if v.Kind != value.KindList {
		return Empty(), value.TypeMismatch("list", v.Kind.String(), v.Span)
	}
	return FromValue(value.Int(int64(len(v.List)), v.Span)), nil
}

// recordingDecl appends each first positional argument it receives.
type recordingDecl struct {
	name string
	seen *[]value.Value
	call **CallArgs
}

func (d recordingDecl) Name() string { return d.name }
func (d recordingDecl) Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error) {
	if d.seen != nil && len(call.Positional) > 0 {
		*d.seen = append(*d.seen, call.Positional[0])
	}
	if d.call != nil {
		*d.call = call
	}
	return Empty(), nil
}

// trippingDecl interrupts the signal on its first run.
type trippingDecl struct{ runs *int }

func (trippingDecl) Name() string { return "trip" }
func (d trippingDecl) Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error) {
	*d.runs++
	sig.Interrupt()
	return Empty(), nil
}

func callExpr(decl ast.DeclID, args ...ast.Argument) ast.Expression {
	return ex(ast.Call{Decl: decl, Head: ast.Span{Start: 1, End: 2}, Args: args})
}

func TestEvalIntLiteral(t *testing.T) {
	eng := testEngine()
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.Int{Value: 42}))), Empty())
	if v.Kind != value.KindInt || v.Int != 42 {
		t.Fatalf("got %s", v.String())
	}
}

func TestEvalBinaryOp(t *testing.T) {
	eng := testEngine()
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.BinaryOp{
		Left:  ex(ast.Int{Value: 2}),
		Op:    ast.OpAdd,
		Right: ex(ast.Int{Value: 3}),
	}))), Empty())
	if v.Int != 5 {
		t.Fatalf("2 + 3: got %s", v.String())
	}
}

func TestEvalShortCircuitSkipsRHS(t *testing.T) {
	eng := testEngine()
	// The right side divides by zero; a false left side must prevent it
	// from ever running.
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.BinaryOp{
		Left: ex(ast.Bool{Value: false}),
		Op:   ast.OpAnd,
		Right: ex(ast.BinaryOp{
			Left:  ex(ast.BinaryOp{Left: ex(ast.Int{Value: 1}), Op: ast.OpDivide, Right: ex(ast.Int{Value: 0})}),
			Op:    ast.OpEqual,
			Right: ex(ast.Int{Value: 1}),
		}),
	}))), Empty())
	if v.Kind != value.KindBool || v.Bool {
		t.Fatalf("false and _: got %s", v.String())
	}

	v = mustEval(t, eng, blockOf(2, pipeOf(ex(ast.BinaryOp{
		Left: ex(ast.Bool{Value: true}),
		Op:   ast.OpOr,
		Right: ex(ast.BinaryOp{
			Left:  ex(ast.BinaryOp{Left: ex(ast.Int{Value: 1}), Op: ast.OpDivide, Right: ex(ast.Int{Value: 0})}),
			Op:    ast.OpEqual,
			Right: ex(ast.Int{Value: 1}),
		}),
	}))), Empty())
	if v.Kind != value.KindBool || !v.Bool {
		t.Fatalf("true or _: got %s", v.String())
	}
}

func TestEvalIfElse(t *testing.T) {
	eng := testEngine()
	thenBlk := blockOf(10, pipeOf(ex(ast.Int{Value: 1})))
	elseBlk := blockOf(11, pipeOf(ex(ast.Int{Value: 2})))
	eng.AddBlock(thenBlk)
	eng.AddBlock(elseBlk)

	build := func(id ast.BlockID, cond bool) *ast.Block {
		elseExpr := ex(ast.BlockExpr{ID: 11})
		return blockOf(id, pipeOf(ex(ast.If{
			Cond: ex(ast.Bool{Value: cond}),
			Then: ex(ast.BlockExpr{ID: 10}),
			Else: &elseExpr,
		})))
	}
	if v := mustEval(t, eng, build(1, true), Empty()); v.Int != 1 {
		t.Fatalf("then arm: got %s", v.String())
	}
	if v := mustEval(t, eng, build(2, false), Empty()); v.Int != 2 {
		t.Fatalf("else arm: got %s", v.String())
	}
}

func TestEvalIfWithoutElseYieldsNothing(t *testing.T) {
	eng := testEngine()
	thenBlk := blockOf(10, pipeOf(ex(ast.Int{Value: 1})))
	eng.AddBlock(thenBlk)
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.If{
		Cond: ex(ast.Bool{Value: false}),
		Then: ex(ast.BlockExpr{ID: 10}),
	}))), Empty())
	if !v.IsNothing() {
		t.Fatalf("got %s", v.String())
	}
}

func TestEvalForLoop(t *testing.T) {
	eng := testEngine()
	var seen []value.Value
	eng.AddDecl(1, recordingDecl{name: "note", seen: &seen})

	// for $x in [1 2 3] { note $x }
	varX := ast.VarID(7)
	body := blockOf(20, pipeOf(callExpr(1, ast.Argument{
		Kind: ast.ArgPositional,
		Expr: &ast.Expression{Expr: ast.Var{ID: varX}, Span: ast.Span{Start: 1, End: 2}},
	})))
	eng.AddBlock(body)

	list := ast.List{Items: []ast.ListItem{
		{Expr: ex(ast.Int{Value: 1})},
		{Expr: ex(ast.Int{Value: 2})},
		{Expr: ex(ast.Int{Value: 3})},
	}}
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.For{
		Var:      varX,
		Iterable: ex(list),
		Body:     ex(ast.BlockExpr{ID: 20}),
	}))), Empty())
	if !v.IsNothing() {
		t.Fatalf("for yields nothing, got %s", v.String())
	}
	if len(seen) != 3 || seen[0].Int != 1 || seen[2].Int != 3 {
		t.Fatalf("loop visited %v", seen)
	}
}

func TestEvalForOverRange(t *testing.T) {
	eng := testEngine()
	var seen []value.Value
	eng.AddDecl(1, recordingDecl{name: "note", seen: &seen})

	varX := ast.VarID(7)
	body := blockOf(20, pipeOf(callExpr(1, ast.Argument{
		Kind: ast.ArgPositional,
		Expr: &ast.Expression{Expr: ast.Var{ID: varX}, Span: ast.Span{Start: 1, End: 2}},
	})))
	eng.AddBlock(body)

	from := ex(ast.Int{Value: 1})
	to := ex(ast.Int{Value: 4})
	mustEval(t, eng, blockOf(1, pipeOf(ex(ast.For{
		Var:      varX,
		Iterable: ex(ast.Range{From: &from, To: &to, Inclusion: ast.RangeExclusive}),
		Body:     ex(ast.BlockExpr{ID: 20}),
	}))), Empty())
	if len(seen) != 3 || seen[2].Int != 3 {
		t.Fatalf("range loop visited %v", seen)
	}
}

func TestEvalWhileWithAssignment(t *testing.T) {
	eng := testEngine()
	varI := ast.VarID(5)

	// let i = 0; while $i < 3 { $i = $i + 1 }; $i
	body := blockOf(20, pipeOf(ex(ast.Assign{
		LHS: ex(ast.Var{ID: varI}),
		RHS: ex(ast.BinaryOp{Left: ex(ast.Var{ID: varI}), Op: ast.OpAdd, Right: ex(ast.Int{Value: 1})}),
	})))
	eng.AddBlock(body)

	v := mustEval(t, eng, blockOf(1,
		pipeOf(ex(ast.Let{Var: varI, Expr: ex(ast.Int{Value: 0})})),
		pipeOf(ex(ast.While{
			Cond: ex(ast.BinaryOp{Left: ex(ast.Var{ID: varI}), Op: ast.OpLessThan, Right: ex(ast.Int{Value: 3})}),
			Body: ex(ast.BlockExpr{ID: 20}),
		})),
		pipeOf(ex(ast.Var{ID: varI})),
	), Empty())
	if v.Int != 3 {
		t.Fatalf("counter ended at %s", v.String())
	}
}

func TestEvalMatch(t *testing.T) {
	eng := testEngine()
	varY := ast.VarID(4)

	arms := []ast.MatchArm{
		{
			Pattern: ast.Pattern{Kind: ast.PatternValue, Value: &ast.Expression{Expr: ast.Int{Value: 1}, Span: tspan()}},
			Result:  ex(ast.String{Value: "one"}),
		},
		{
			Pattern: ast.Pattern{Kind: ast.PatternVar, Var: varY},
			Result: ex(ast.BinaryOp{
				Left:  ex(ast.Var{ID: varY}),
				Op:    ast.OpMultiply,
				Right: ex(ast.Int{Value: 10}),
			}),
		},
	}
	build := func(id ast.BlockID, subject int64) *ast.Block {
		subj := ex(ast.Int{Value: subject})
		return blockOf(id, pipeOf(ex(ast.MatchBlock{Value: &subj, Arms: arms})))
	}

	if v := mustEval(t, eng, build(1, 1), Empty()); v.Str != "one" {
		t.Fatalf("literal arm: got %s", v.String())
	}
	if v := mustEval(t, eng, build(2, 7), Empty()); v.Int != 70 {
		t.Fatalf("binding arm: got %s", v.String())
	}
}

func TestEvalMatchGuard(t *testing.T) {
	eng := testEngine()
	varY := ast.VarID(4)
	guard := ex(ast.BinaryOp{Left: ex(ast.Var{ID: varY}), Op: ast.OpGreaterThan, Right: ex(ast.Int{Value: 5})})
	arms := []ast.MatchArm{
		{
			Pattern: ast.Pattern{Kind: ast.PatternVar, Var: varY},
			Guard:   &guard,
			Result:  ex(ast.String{Value: "big"}),
		},
		{
			Pattern: ast.Pattern{Kind: ast.PatternAny},
			Result:  ex(ast.String{Value: "small"}),
		},
	}
	build := func(id ast.BlockID, subject int64) *ast.Block {
		subj := ex(ast.Int{Value: subject})
		return blockOf(id, pipeOf(ex(ast.MatchBlock{Value: &subj, Arms: arms})))
	}
	if v := mustEval(t, eng, build(1, 9), Empty()); v.Str != "big" {
		t.Fatalf("passing guard: got %s", v.String())
	}
	if v := mustEval(t, eng, build(2, 3), Empty()); v.Str != "small" {
		t.Fatalf("failing guard falls through: got %s", v.String())
	}
}

func TestEvalTryCatch(t *testing.T) {
	eng := testEngine()
	varE := ast.VarID(6)

	tryBody := blockOf(20, pipeOf(ex(ast.BinaryOp{
		Left: ex(ast.Int{Value: 1}), Op: ast.OpDivide, Right: ex(ast.Int{Value: 0}),
	})))
	catchBody := blockOf(21, pipeOf(ex(ast.Var{ID: varE})))
	eng.AddBlock(tryBody)
	eng.AddBlock(catchBody)

	catch := ex(ast.BlockExpr{ID: 21})
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.Try{
		Body:     ex(ast.BlockExpr{ID: 20}),
		Catch:    &catch,
		CatchVar: varE,
	}))), Empty())
	if v.Kind != value.KindError {
		t.Fatalf("catch variable should hold the error value, got %s", v.Kind)
	}
	if v.Err == nil || v.Err.Kind != value.ErrDivisionByZero {
		t.Fatalf("caught %v", v.Err)
	}
}

func TestEvalTryWithoutCatchSwallows(t *testing.T) {
	eng := testEngine()
	tryBody := blockOf(20, pipeOf(ex(ast.BinaryOp{
		Left: ex(ast.Int{Value: 1}), Op: ast.OpDivide, Right: ex(ast.Int{Value: 0}),
	})))
	eng.AddBlock(tryBody)

	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.Try{
		Body: ex(ast.BlockExpr{ID: 20}),
	}))), Empty())
	if !v.IsNothing() {
		t.Fatalf("try without catch yields nothing on failure, got %s", v.String())
	}
}

func TestEvalUncaughtErrorPropagates(t *testing.T) {
	eng := testEngine()
	_, err := evalBlock(t, eng, blockOf(1, pipeOf(ex(ast.BinaryOp{
		Left: ex(ast.Int{Value: 1}), Op: ast.OpDivide, Right: ex(ast.Int{Value: 0}),
	}))), Empty())
	var se *value.ShellError
	if !errors.As(err, &se) || se.Kind != value.ErrDivisionByZero {
		t.Fatalf("got %v", err)
	}
}

func TestEvalInputFlowsToFirstCall(t *testing.T) {
	eng := testEngine()
	eng.AddDecl(1, echoDecl{})
	v := mustEval(t, eng, blockOf(1, pipeOf(callExpr(1))), FromValue(value.Int(7, tspan())))
	if v.Int != 7 {
		t.Fatalf("input did not flow through: got %s", v.String())
	}
}

func TestEvalPipeline(t *testing.T) {
	eng := testEngine()
	eng.AddDecl(1, lengthDecl{})
	list := ast.List{Items: []ast.ListItem{
		{Expr: ex(ast.Int{Value: 1})},
		{Expr: ex(ast.Int{Value: 2})},
		{Expr: ex(ast.Int{Value: 3})},
	}}
	v := mustEval(t, eng, blockOf(1, pipeOf(ex(list), callExpr(1))), Empty())
	if v.Int != 3 {
		t.Fatalf("[1 2 3] | length: got %s", v.String())
	}
}

func TestEvalCallArguments(t *testing.T) {
	eng := testEngine()
	var got *CallArgs
	eng.AddDecl(1, recordingDecl{name: "record-args", call: &got})

	namedVal := ast.Expression{Expr: ast.Int{Value: 9}, Span: tspan()}
	posVal := ast.Expression{Expr: ast.Int{Value: 1}, Span: tspan()}
	spreadVal := ast.Expression{Expr: ast.List{Items: []ast.ListItem{
		{Expr: ex(ast.Int{Value: 2})},
		{Expr: ex(ast.Int{Value: 3})},
	}}, Span: tspan()}

	mustEval(t, eng, blockOf(1, pipeOf(callExpr(1,
		ast.Argument{Kind: ast.ArgPositional, Expr: &posVal},
		ast.Argument{Kind: ast.ArgSpread, Expr: &spreadVal},
		ast.Argument{Kind: ast.ArgNamed, Name: "depth", Expr: &namedVal},
		ast.Argument{Kind: ast.ArgNamed, Name: "verbose"},
	))), Empty())

	if got == nil {
		t.Fatal("declaration never ran")
	}
	if len(got.Positional) != 3 || got.Positional[2].Int != 3 {
		t.Fatalf("positional args: %v", got.Positional)
	}
	if v, ok := got.GetNamed("depth"); !ok || v.Int != 9 {
		t.Fatalf("named arg: %v ok=%t", v, ok)
	}
	if !got.GetFlag("verbose") {
		t.Fatal("flag not set")
	}
}

func TestEvalEnvironment(t *testing.T) {
	eng := testEngine()
	eng.SetDefaultEnv(DefaultOverlay, "HOME", value.String("/home/mag", tspan()))

	envPath := func(name string, optional bool) ast.Expression {
		m := ast.StringMember(name, tspan())
		m.Optional = optional
		return ex(ast.FullCellPath{Head: ex(ast.Var{ID: ast.EnvVarID}), Tail: []ast.PathMember{m}})
	}

	if v := mustEval(t, eng, blockOf(1, pipeOf(envPath("HOME", false))), Empty()); v.Str != "/home/mag" {
		t.Fatalf("$env.HOME: got %s", v.String())
	}

	if v := mustEval(t, eng, blockOf(2, pipeOf(envPath("MISSING", true))), Empty()); !v.IsNothing() {
		t.Fatalf("$env.MISSING?: got %s", v.String())
	}

	_, err := evalBlock(t, eng, blockOf(3, pipeOf(envPath("MISSING", false))), Empty())
	var se *value.ShellError
	if !errors.As(err, &se) || se.Kind != value.ErrEnvVarNotFound {
		t.Fatalf("$env.MISSING: got %v", err)
	}

	// $env.FOO = "bar"; $env.FOO
	v := mustEval(t, eng, blockOf(4,
		pipeOf(ex(ast.Assign{
			LHS: ex(ast.FullCellPath{Head: ex(ast.Var{ID: ast.EnvVarID}), Tail: []ast.PathMember{ast.StringMember("FOO", tspan())}}),
			RHS: ex(ast.String{Value: "bar"}),
		})),
		pipeOf(envPath("FOO", false)),
	), Empty())
	if v.Str != "bar" {
		t.Fatalf("$env.FOO after assignment: got %s", v.String())
	}
}

func TestEvalCellPathAssignment(t *testing.T) {
	eng := testEngine()
	varR := ast.VarID(5)

	record := ast.Record{Items: []ast.RecordItem{{
		Key:   &ast.Expression{Expr: ast.String{Value: "count"}, Span: tspan()},
		Value: ex(ast.Int{Value: 1}),
	}}}
	v := mustEval(t, eng, blockOf(1,
		pipeOf(ex(ast.Let{Var: varR, Expr: ex(record)})),
		pipeOf(ex(ast.Assign{
			LHS: ex(ast.FullCellPath{Head: ex(ast.Var{ID: varR}), Tail: []ast.PathMember{ast.StringMember("count", tspan())}}),
			RHS: ex(ast.Int{Value: 2}),
		})),
		pipeOf(ex(ast.FullCellPath{Head: ex(ast.Var{ID: varR}), Tail: []ast.PathMember{ast.StringMember("count", tspan())}})),
	), Empty())
	if v.Int != 2 {
		t.Fatalf("$r.count after assignment: got %s", v.String())
	}
}

func TestEvalStringInterpolation(t *testing.T) {
	eng := testEngine()
	varN := ast.VarID(5)
	v := mustEval(t, eng, blockOf(1,
		pipeOf(ex(ast.Let{Var: varN, Expr: ex(ast.Int{Value: 3})})),
		pipeOf(ex(ast.StringInterpolation{Parts: []ast.Expression{
			ex(ast.String{Value: "count: "}),
			ex(ast.Var{ID: varN}),
		}})),
	), Empty())
	if v.Str != "count: 3" {
		t.Fatalf("interpolation: got %q", v.Str)
	}
}

func TestEvalRecordDuplicateKeyFails(t *testing.T) {
	eng := testEngine()
	key1 := ast.Expression{Expr: ast.String{Value: "a"}, Span: tspan()}
	key2 := ast.Expression{Expr: ast.String{Value: "a"}, Span: tspan()}
	record := ast.Record{Items: []ast.RecordItem{
		{Key: &key1, Value: ex(ast.Int{Value: 1})},
		{Key: &key2, Value: ex(ast.Int{Value: 2})},
	}}
	_, err := evalBlock(t, eng, blockOf(1, pipeOf(ex(record))), Empty())
	if err == nil {
		t.Fatal("duplicate record key should fail")
	}
}

func TestEvalInterruptedLoop(t *testing.T) {
	eng := testEngine()
	runs := 0
	eng.AddDecl(1, trippingDecl{runs: &runs})

	varX := ast.VarID(7)
	body := blockOf(20, pipeOf(callExpr(1)))
	eng.AddBlock(body)

	list := ast.List{Items: []ast.ListItem{
		{Expr: ex(ast.Int{Value: 1})},
		{Expr: ex(ast.Int{Value: 2})},
		{Expr: ex(ast.Int{Value: 3})},
	}}
	loop := blockOf(1, pipeOf(ex(ast.For{
		Var:      varX,
		Iterable: ex(list),
		Body:     ex(ast.BlockExpr{ID: 20}),
	})))
	_, err := evalBlock(t, eng, loop, Empty())
	var se *value.ShellError
	if !errors.As(err, &se) || se.Kind != value.ErrInterrupted {
		t.Fatalf("got %v", err)
	}
	if runs != 1 {
		t.Fatalf("loop body ran %d times after the interrupt, want 1", runs)
	}
}

// flakyDecl fails its first run and succeeds afterwards.
type flakyDecl struct{ runs *int }

func (flakyDecl) Name() string { return "flaky" }
func (d flakyDecl) Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error) {
	*d.runs++
	if *d.runs == 1 {
		return Empty(), value.Errorf(call.Head, "transient failure")
	}
	return FromValue(value.String("ok", call.Head)), nil
}

func TestEvalCaughtFailureReleasesFileHandles(t *testing.T) {
	eng := testEngine()
	runs := 0
	eng.AddDecl(1, flakyDecl{runs: &runs})
	path := filepath.Join(t.TempDir(), "out.txt")

	// flaky out> path, wrapped in try so the first failure is caught. The
	// open-file for the redirect must not survive the catch, or the second
	// loop iteration would find its handle slot occupied.
	redirected := blockOf(20, ast.Pipeline{Elements: []ast.PipelineElement{{
		Expr: callExpr(1),
		Redirection: &ast.Redirection{
			Source: ast.RedirectStdout,
			Target: ast.RedirectionTarget{
				File: &ast.Expression{Expr: ast.String{Value: path}, Span: tspan()},
				Span: tspan(),
			},
		},
	}}})
	eng.AddBlock(redirected)
	catchBody := blockOf(21, pipeOf(ex(ast.Int{Value: 0})))
	eng.AddBlock(catchBody)

	catch := ex(ast.BlockExpr{ID: 21})
	tryBody := blockOf(22, pipeOf(ex(ast.Try{
		Body:  ex(ast.BlockExpr{ID: 20}),
		Catch: &catch,
	})))
	eng.AddBlock(tryBody)

	varX := ast.VarID(7)
	list := ast.List{Items: []ast.ListItem{
		{Expr: ex(ast.Int{Value: 1})},
		{Expr: ex(ast.Int{Value: 2})},
	}}
	loop := blockOf(1, pipeOf(ex(ast.For{
		Var:      varX,
		Iterable: ex(list),
		Body:     ex(ast.BlockExpr{ID: 22}),
	})))
	if _, err := evalBlock(t, eng, loop, Empty()); err != nil {
		t.Fatalf("eval: %v", err)
	}
	if runs != 2 {
		t.Fatalf("declaration ran %d time(s), want 2: a handle leaked by the caught failure blocked the retry", runs)
	}
}

func TestEvalInstructionBudget(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.MaxInstructions = 50
	eng := NewEngineState(nil, cfg)
	eng.Compile = func(e *EngineState, block *ast.Block, modes ir.RedirectModes) (*ir.Block, error) {
		return compile.CompileBlock(&compile.Context{Blocks: e, Decls: e}, block, modes)
	}

	body := blockOf(20, pipeOf(ex(ast.Int{Value: 1})))
	eng.AddBlock(body)
	loop := blockOf(1, pipeOf(ex(ast.Loop{Body: ex(ast.BlockExpr{ID: 20})})))
	_, err := evalBlock(t, eng, loop, Empty())
	if err == nil {
		t.Fatal("an infinite loop must hit the instruction budget")
	}
}

// recurseDecl re-enters its own defining block through RunBlock.
type recurseDecl struct {
	block ast.BlockID
	calls *int
}

func (recurseDecl) Name() string { return "recurse" }
func (d recurseDecl) Run(eng *EngineState, stack *Stack, sig *Signal, call *CallArgs, input PipelineData) (PipelineData, error) {
	*d.calls++
	return RunBlock(eng, stack, sig, &value.Closure{Block: d.block}, Empty())
}

func TestRunBlockCallDepthLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.MaxCallDepth = 8
	eng := NewEngineState(nil, cfg)
	eng.Compile = func(e *EngineState, block *ast.Block, modes ir.RedirectModes) (*ir.Block, error) {
		return compile.CompileBlock(&compile.Context{Blocks: e, Decls: e}, block, modes)
	}

	calls := 0
	eng.AddDecl(1, recurseDecl{block: 60, calls: &calls})
	b := blockOf(60, pipeOf(callExpr(1)))

	_, err := evalBlock(t, eng, b, Empty())
	var se *value.ShellError
	if !errors.As(err, &se) {
		t.Fatalf("unbounded recursion must fail, got %v", err)
	}
	if !strings.Contains(se.Msg, "call depth") {
		t.Fatalf("error should name the depth limit: %v", se)
	}
	if calls > cfg.Engine.MaxCallDepth+1 {
		t.Fatalf("recursion ran %d levels past a limit of %d", calls, cfg.Engine.MaxCallDepth)
	}
}

func TestEvalEarlyReturn(t *testing.T) {
	eng := testEngine()
	retVal := ex(ast.Int{Value: 5})
	b := blockOf(1,
		pipeOf(ex(ast.ReturnEarly{Expr: &retVal})),
	)
	eng.AddBlock(b)
	compiled, err := eng.CompiledBlock(1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	sig := NewSignal(context.Background())
	_, err = Eval(eng, NewStack(nil), sig, compiled, Empty())
	var early *EarlyReturn
	if !errors.As(err, &early) {
		t.Fatalf("Eval should surface the early return, got %v", err)
	}
	v, _ := early.Data.Collect(sig)
	if v.Int != 5 {
		t.Fatalf("early return carries %s", v.String())
	}
}

func TestEvalEarlyReturnBypassesHandlers(t *testing.T) {
	eng := testEngine()
	retVal := ex(ast.Int{Value: 5})
	tryBody := blockOf(20, pipeOf(ex(ast.ReturnEarly{Expr: &retVal})))
	eng.AddBlock(tryBody)

	b := blockOf(1, pipeOf(ex(ast.Try{Body: ex(ast.BlockExpr{ID: 20})})))
	eng.AddBlock(b)
	compiled, err := eng.CompiledBlock(1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = Eval(eng, NewStack(nil), NewSignal(context.Background()), compiled, Empty())
	var early *EarlyReturn
	if !errors.As(err, &early) {
		t.Fatalf("try must not catch an early return, got %v", err)
	}
}

func TestRunBlockUnwrapsEarlyReturn(t *testing.T) {
	eng := testEngine()
	retVal := ex(ast.Int{Value: 5})
	b := blockOf(30, pipeOf(ex(ast.ReturnEarly{Expr: &retVal})))
	eng.AddBlock(b)

	out, err := RunBlock(eng, NewStack(nil), NewSignal(context.Background()),
		&value.Closure{Block: 30}, Empty())
	if err != nil {
		t.Fatalf("RunBlock: %v", err)
	}
	v, _ := out.Collect(nil)
	if v.Int != 5 {
		t.Fatalf("got %s", v.String())
	}
}

func TestRunBlockBindsCapturesAndParam(t *testing.T) {
	eng := testEngine()
	varCap := ast.VarID(3)
	varParam := ast.VarID(4)

	b := &ast.Block{
		ID:     31,
		Params: []ast.VarID{varParam},
		Pipelines: []ast.Pipeline{pipeOf(ex(ast.BinaryOp{
			Left:  ex(ast.Var{ID: varCap}),
			Op:    ast.OpAdd,
			Right: ex(ast.Var{ID: varParam}),
		}))},
		Span: ast.Span{Start: 0, End: 10},
	}
	eng.AddBlock(b)

	closure := &value.Closure{
		Block:    31,
		Captures: []value.Capture{{ID: varCap, Value: value.Int(10, tspan())}},
	}
	out, err := RunBlock(eng, NewStack(nil), NewSignal(context.Background()),
		closure, FromValue(value.Int(7, tspan())))
	if err != nil {
		t.Fatalf("RunBlock: %v", err)
	}
	v, _ := out.Collect(nil)
	if v.Int != 17 {
		t.Fatalf("capture + param: got %s", v.String())
	}
}

func TestEvalClosureLiteralCaptures(t *testing.T) {
	eng := testEngine()
	varCap := ast.VarID(3)

	inner := &ast.Block{
		ID:        40,
		Captures:  []ast.VarID{varCap},
		Pipelines: []ast.Pipeline{pipeOf(ex(ast.Var{ID: varCap}))},
		Span:      ast.Span{Start: 0, End: 10},
	}
	eng.AddBlock(inner)

	v := mustEval(t, eng, blockOf(1,
		pipeOf(ex(ast.Let{Var: varCap, Expr: ex(ast.Int{Value: 11})})),
		pipeOf(ex(ast.Closure{ID: 40})),
	), Empty())
	if v.Kind != value.KindClosure {
		t.Fatalf("got %s", v.Kind)
	}
	if len(v.Closure.Captures) != 1 || v.Closure.Captures[0].Value.Int != 11 {
		t.Fatalf("captures: %+v", v.Closure.Captures)
	}

	// Running the closure on a fresh stack sees the captured value.
	out, err := RunBlock(eng, NewStack(nil), NewSignal(context.Background()), v.Closure, Empty())
	if err != nil {
		t.Fatalf("RunBlock: %v", err)
	}
	got, _ := out.Collect(nil)
	if got.Int != 11 {
		t.Fatalf("closure result: %s", got.String())
	}
}

func TestEvalSubexpressionInline(t *testing.T) {
	eng := testEngine()
	sub := blockOf(50, pipeOf(ex(ast.BinaryOp{
		Left: ex(ast.Int{Value: 2}), Op: ast.OpMultiply, Right: ex(ast.Int{Value: 3}),
	})))
	eng.AddBlock(sub)

	v := mustEval(t, eng, blockOf(1, pipeOf(ex(ast.BinaryOp{
		Left:  ex(ast.Subexpression{ID: 50}),
		Op:    ast.OpAdd,
		Right: ex(ast.Int{Value: 1}),
	}))), Empty())
	if v.Int != 7 {
		t.Fatalf("(2 * 3) + 1: got %s", v.String())
	}
}

func TestEvalStatementResultsAreDropped(t *testing.T) {
	eng := testEngine()
	v := mustEval(t, eng, blockOf(1,
		pipeOf(ex(ast.Int{Value: 1})),
		pipeOf(ex(ast.Int{Value: 2})),
	), Empty())
	if v.Int != 2 {
		t.Fatalf("only the final pipeline's value survives: got %s", v.String())
	}
}

func TestCompiledBlockMemoization(t *testing.T) {
	eng := testEngine()
	b := blockOf(1, pipeOf(ex(ast.Int{Value: 1})))
	eng.AddBlock(b)
	first, err := eng.CompiledBlock(1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := eng.CompiledBlock(1)
	if err != nil {
		t.Fatalf("recompile: %v", err)
	}
	if first != second {
		t.Fatal("compiled blocks should be memoized and shared")
	}
}
