package compile

import (
	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
)

// compileBody compiles a control-flow arm. Block and subexpression bodies
// are inlined rather than compiled to closure values, so their pipelines
// execute in the enclosing frame.
func compileBody(b *builder, expr *ast.Expression, modes ir.RedirectModes, in *ir.RegID, out ir.RegID) error {
	var id ast.BlockID
	switch e := expr.Expr.(type) {
	case ast.BlockExpr:
		id = e.ID
	case ast.Subexpression:
		id = e.ID
	default:
		return compileExpression(b, expr, modes, in, out)
	}
	inner, err := b.ctx.Blocks.ASTBlock(id)
	if err != nil {
		return errorf(expr.Span, "unknown block %d: %v", id, err)
	}
	return compileBlockBody(b, inner, modes, in, out)
}

func compileIf(b *builder, e *ast.If, modes ir.RedirectModes, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)

	cond := b.alloc()
	if err := compileExpression(b, &e.Cond, ir.RedirectModes{}, nil, cond); err != nil {
		return err
	}
	toElse := b.emit(ir.Instruction{Op: ir.OpBranchIf, Src: cond}, e.Cond.Span)
	b.free(cond)

	if err := compileBody(b, &e.Then, modes, nil, out); err != nil {
		return err
	}
	toEnd := b.emit(ir.Instruction{Op: ir.OpJump}, span)

	b.patch(toElse, b.next())
	if e.Else != nil {
		if err := compileBody(b, e.Else, modes, nil, out); err != nil {
			return err
		}
	} else {
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	}
	b.patch(toEnd, b.next())
	return nil
}

func compileWhile(b *builder, e *ast.While, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	// A loop's own value is nothing; out is seeded up front so every exit
	// sees it written.
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)

	head := b.next()
	cond := b.alloc()
	if err := compileExpression(b, &e.Cond, ir.RedirectModes{}, nil, cond); err != nil {
		return err
	}
	toEnd := b.emit(ir.Instruction{Op: ir.OpBranchIf, Src: cond}, e.Cond.Span)
	b.free(cond)

	body := b.alloc()
	if err := compileBody(b, &e.Body, ir.RedirectModes{}, nil, body); err != nil {
		return err
	}
	b.emitDrop(body, e.Body.Span)
	idx := b.emit(ir.Instruction{Op: ir.OpJump, Target: head}, span)
	b.comment(idx, "loop")
	b.patch(toEnd, b.next())
	return nil
}

func compileFor(b *builder, e *ast.For, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)

	stream := b.alloc()
	if err := compileExpression(b, &e.Iterable, ir.RedirectModes{}, nil, stream); err != nil {
		return err
	}

	head := b.next()
	elem := b.alloc()
	iter := b.emit(ir.Instruction{Op: ir.OpIterate, Dst: elem, Src: stream}, e.Iterable.Span)
	b.emit(ir.Instruction{Op: ir.OpStoreVariable, Var: e.Var, Src: elem}, span)
	b.free(elem)

	body := b.alloc()
	if err := compileBody(b, &e.Body, ir.RedirectModes{}, nil, body); err != nil {
		return err
	}
	b.emitDrop(body, e.Body.Span)
	idx := b.emit(ir.Instruction{Op: ir.OpJump, Target: head}, span)
	b.comment(idx, "loop")

	// Iterate drops the stream register itself on exhaustion.
	b.patch(iter, b.next())
	b.free(stream)
	b.emit(ir.Instruction{Op: ir.OpDropVariable, Var: e.Var}, span)
	return nil
}

func compileLoop(b *builder, e *ast.Loop, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)

	head := b.next()
	body := b.alloc()
	if err := compileBody(b, &e.Body, ir.RedirectModes{}, nil, body); err != nil {
		return err
	}
	b.emitDrop(body, e.Body.Span)
	idx := b.emit(ir.Instruction{Op: ir.OpJump, Target: head}, span)
	b.comment(idx, "loop")
	return nil
}

// compileMatch tests each arm's pattern against the subject in turn. A
// matching pattern binds its variables before the guard runs; a failed
// guard drops those bindings and falls through to the next arm. The
// subject register is dropped once, at the join point.
func compileMatch(b *builder, e *ast.MatchBlock, modes ir.RedirectModes, in *ir.RegID, out ir.RegID, span ast.Span) error {
	subject := b.alloc()
	if e.Value != nil {
		dropInput(b, in, span)
		if err := compileExpression(b, e.Value, ir.RedirectModes{}, nil, subject); err != nil {
			return err
		}
	} else if in != nil {
		b.emit(ir.Instruction{Op: ir.OpMove, Dst: subject, Src: *in}, span)
		b.free(*in)
	} else {
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: subject, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	}
	// The subject may arrive as a stream; patterns need a value.
	b.emit(ir.Instruction{Op: ir.OpCollect, Dst: subject}, span)

	var toEnd []int
	for i := range e.Arms {
		arm := &e.Arms[i]
		pat, err := lowerPattern(&arm.Pattern)
		if err != nil {
			return err
		}
		bindings := pat.Bindings(nil)

		matchIdx := b.emit(ir.Instruction{Op: ir.OpMatch, Pattern: &pat, Src: subject}, span)
		b.comment(matchIdx, pat.String())

		guardFail := -1
		if arm.Guard != nil {
			g := b.alloc()
			if err := compileExpression(b, arm.Guard, ir.RedirectModes{}, nil, g); err != nil {
				return err
			}
			b.emit(ir.Instruction{Op: ir.OpCheckMatchGuard, Src: g}, arm.Guard.Span)
			guardFail = b.emit(ir.Instruction{Op: ir.OpBranchIf, Src: g}, arm.Guard.Span)
			b.free(g)
		}

		if err := compileBody(b, &arm.Result, modes, nil, out); err != nil {
			return err
		}
		for _, v := range bindings {
			b.emit(ir.Instruction{Op: ir.OpDropVariable, Var: v}, arm.Result.Span)
		}
		toEnd = append(toEnd, b.emit(ir.Instruction{Op: ir.OpJump}, span))

		if guardFail >= 0 {
			b.patch(guardFail, b.next())
			for _, v := range bindings {
				b.emit(ir.Instruction{Op: ir.OpDropVariable, Var: v}, span)
			}
		}
		b.patch(matchIdx, b.next())
	}

	// No arm matched.
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	for _, idx := range toEnd {
		b.patch(idx, b.next())
	}
	b.emitDrop(subject, span)
	return nil
}

// compileTry installs an error handler around the body. On failure the
// runtime unwinds to the handler target with the body's registers cleaned
// up; with a catch closure parameter the error value lands in a dedicated
// register first.
func compileTry(b *builder, e *ast.Try, modes ir.RedirectModes, in *ir.RegID, out ir.RegID, span ast.Span) error {
	var errReg ir.RegID
	var handler int
	withErr := e.Catch != nil && e.CatchVar != 0
	if withErr {
		errReg = b.alloc()
		handler = b.emit(ir.Instruction{Op: ir.OpOnErrorInto, Dst: errReg}, span)
	} else {
		handler = b.emit(ir.Instruction{Op: ir.OpOnError}, span)
	}

	if err := compileBody(b, &e.Body, modes, in, out); err != nil {
		return err
	}
	b.emit(ir.Instruction{Op: ir.OpPopErrorHandler}, span)
	toEnd := b.emit(ir.Instruction{Op: ir.OpJump}, span)

	b.patch(handler, b.next())
	switch {
	case e.Catch == nil:
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	case withErr:
		b.emit(ir.Instruction{Op: ir.OpStoreVariable, Var: e.CatchVar, Src: errReg}, e.Catch.Span)
		b.free(errReg)
		if err := compileBody(b, e.Catch, modes, nil, out); err != nil {
			return err
		}
		b.emit(ir.Instruction{Op: ir.OpDropVariable, Var: e.CatchVar}, e.Catch.Span)
	default:
		if err := compileBody(b, e.Catch, modes, nil, out); err != nil {
			return err
		}
	}
	b.patch(toEnd, b.next())
	return nil
}

func compileReturnEarly(b *builder, e *ast.ReturnEarly, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	r := b.alloc()
	if e.Expr != nil {
		if err := compileExpression(b, e.Expr, ir.RedirectModes{}, nil, r); err != nil {
			return err
		}
	} else {
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: r, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	}
	b.emit(ir.Instruction{Op: ir.OpReturnEarly, Src: r}, span)
	b.free(r)
	// out is never written; nothing past a return executes.
	return nil
}

func compileLet(b *builder, e *ast.Let, in *ir.RegID, out ir.RegID, span ast.Span) error {
	scratch := b.alloc()
	if err := compileExpression(b, &e.Expr, ir.WithCapture(), in, scratch); err != nil {
		return err
	}
	b.emit(ir.Instruction{Op: ir.OpCollect, Dst: scratch}, e.Expr.Span)
	b.emit(ir.Instruction{Op: ir.OpStoreVariable, Var: e.Var, Src: scratch}, span)
	b.free(scratch)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	return nil
}

func compileAssign(b *builder, e *ast.Assign, in *ir.RegID, out ir.RegID, span ast.Span) error {
	rhs := b.alloc()
	if err := compileExpression(b, &e.RHS, ir.WithCapture(), in, rhs); err != nil {
		return err
	}
	b.emit(ir.Instruction{Op: ir.OpCollect, Dst: rhs}, e.RHS.Span)

	if err := compileAssignTarget(b, &e.LHS, rhs, span); err != nil {
		return err
	}
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
	return nil
}

// compileAssignTarget stores rhs into the assignment target, consuming rhs.
func compileAssignTarget(b *builder, lhs *ast.Expression, rhs ir.RegID, span ast.Span) error {
	switch t := lhs.Expr.(type) {
	case ast.Var:
		b.emit(ir.Instruction{Op: ir.OpStoreVariable, Var: t.ID, Src: rhs}, span)
		b.free(rhs)
		return nil

	case ast.FullCellPath:
		head, ok := t.Head.Expr.(ast.Var)
		if !ok {
			return unsupported(lhs.Span, "assignment to a computed target")
		}
		if head.ID == ast.EnvVarID {
			return compileEnvAssign(b, &t, rhs, span)
		}
		if len(t.Tail) == 0 {
			b.emit(ir.Instruction{Op: ir.OpStoreVariable, Var: head.ID, Src: rhs}, span)
			b.free(rhs)
			return nil
		}
		tmp := b.alloc()
		b.emit(ir.Instruction{Op: ir.OpLoadVariable, Dst: tmp, Var: head.ID}, t.Head.Span)
		path := b.alloc()
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: path,
			Lit: &ir.Literal{Kind: ir.LitCellPath, CellPath: ast.CellPath{Members: t.Tail}}}, span)
		b.emit(ir.Instruction{Op: ir.OpUpsertCellPath, Dst: tmp, Src: path, Src2: rhs}, span)
		b.free(path)
		b.free(rhs)
		b.emit(ir.Instruction{Op: ir.OpStoreVariable, Var: head.ID, Src: tmp}, span)
		b.free(tmp)
		return nil
	}
	return unsupported(lhs.Span, "this assignment target")
}

func compileEnvAssign(b *builder, t *ast.FullCellPath, rhs ir.RegID, span ast.Span) error {
	if len(t.Tail) == 0 || t.Tail[0].Kind != ast.PathString {
		return errorf(span, "environment variables are addressed by name, not by index")
	}
	name := t.Tail[0].String

	if len(t.Tail) == 1 {
		b.emit(ir.Instruction{Op: ir.OpStoreEnv, Data: b.intern(name), Src: rhs}, span)
		b.free(rhs)
		return nil
	}

	tmp := b.alloc()
	b.emit(ir.Instruction{Op: ir.OpLoadEnv, Dst: tmp, Data: b.intern(name)}, t.Tail[0].Span)
	path := b.alloc()
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: path,
		Lit: &ir.Literal{Kind: ir.LitCellPath, CellPath: ast.CellPath{Members: t.Tail[1:]}}}, span)
	b.emit(ir.Instruction{Op: ir.OpUpsertCellPath, Dst: tmp, Src: path, Src2: rhs}, span)
	b.free(path)
	b.free(rhs)
	b.emit(ir.Instruction{Op: ir.OpStoreEnv, Data: b.intern(name), Src: tmp}, span)
	b.free(tmp)
	return nil
}
