package compile

import (
	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
)

// CompileBlock compiles a parsed block into an immutable IR block. The
// caller-supplied redirect modes describe how the block's final pipeline
// relates to the surrounding context. By convention register %0 holds the
// block's pipeline input on entry; it flows into the first pipeline and is
// dropped if nothing uses it. The result is verified for register
// discipline before it is returned; a block that fails verification is a
// compiler bug and is reported as an error, never executed.
func CompileBlock(ctx *Context, block *ast.Block, modes ir.RedirectModes) (*ir.Block, error) {
	b := newBuilder(ctx)
	inReg := b.alloc()
	out := b.alloc()

	if err := compileBlockBody(b, block, modes, &inReg, out); err != nil {
		return nil, err
	}
	b.emit(ir.Instruction{Op: ir.OpReturn, Src: out}, block.Span)
	b.free(out)

	compiled := b.finish()
	if err := compiled.Validate(); err != nil {
		return nil, err
	}
	if err := VerifyRegisters(compiled); err != nil {
		return nil, err
	}
	if ctx.Log != nil {
		ctx.Log.Debugf("compiled block %d: %d instructions, %d registers, %d data bytes",
			block.ID, len(compiled.Instructions), compiled.RegisterCount, len(compiled.Data))
	}
	return compiled, nil
}

// compileBlockBody compiles the pipelines of a block. Non-final pipelines
// are statements: their results are dropped. The final pipeline's value
// lands in out. An empty block yields nothing.
func compileBlockBody(b *builder, block *ast.Block, modes ir.RedirectModes, in *ir.RegID, out ir.RegID) error {
	if len(block.Pipelines) == 0 {
		dropInput(b, in, block.Span)
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, block.Span)
		return nil
	}
	for i := range block.Pipelines {
		p := &block.Pipelines[i]
		last := i == len(block.Pipelines)-1
		if last {
			return compilePipeline(b, p, modes, in, out)
		}
		scratch := b.alloc()
		if err := compilePipeline(b, p, ir.RedirectModes{}, in, scratch); err != nil {
			return err
		}
		in = nil // pipeline input goes to the first statement only
		b.emitDrop(scratch, pipelineSpan(p))
	}
	return nil
}

func pipelineSpan(p *ast.Pipeline) ast.Span {
	if len(p.Elements) == 0 {
		return ast.Span{}
	}
	return ast.Span{
		Start: p.Elements[0].Expr.Span.Start,
		End:   p.Elements[len(p.Elements)-1].Expr.Span.End,
	}
}

// dropInput discards a pending pipeline input register, per the contract
// that an input register never leaks past the expression that received it.
func dropInput(b *builder, in *ir.RegID, span ast.Span) {
	if in != nil {
		b.emitDrop(*in, span)
	}
}

// compileExpression emits instructions leaving the value of expr in out,
// with in (if any) as pipeline input. Every path either consumes or drops
// in; no register leaks.
func compileExpression(b *builder, expr *ast.Expression, modes ir.RedirectModes, in *ir.RegID, out ir.RegID) error {
	span := expr.Span
	switch e := expr.Expr.(type) {

	// Literal-like nodes: drop pending input, emit one LoadLiteral.
	case ast.Bool:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitBool, Bool: e.Value})
	case ast.Int:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitInt, Int: e.Value})
	case ast.Float:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitFloat, Float: e.Value})
	case ast.Filesize:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitFilesize, Int: e.Value})
	case ast.Duration:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitDuration, Int: e.Value})
	case ast.Binary:
		slice := b.intern(string(e.Value))
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitBinary, Slice: slice})
	case ast.String:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitString, Slice: b.intern(e.Value)})
	case ast.RawString:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitRawString, Slice: b.intern(e.Value)})
	case ast.DateTime:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitDate, Time: e.Value})
	case ast.Nothing:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitNothing})
	case ast.Filepath:
		return compileLiteral(b, in, out, span,
			&ir.Literal{Kind: ir.LitFilepath, Slice: b.intern(e.Value), NoExpand: e.NoExpand})
	case ast.Directory:
		return compileLiteral(b, in, out, span,
			&ir.Literal{Kind: ir.LitDirectory, Slice: b.intern(e.Value), NoExpand: e.NoExpand})
	case ast.GlobPattern:
		return compileLiteral(b, in, out, span,
			&ir.Literal{Kind: ir.LitGlobPattern, Slice: b.intern(e.Value), NoExpand: e.NoExpand})
	case ast.CellPathLit:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitCellPath, CellPath: e.Path})
	case ast.BlockExpr:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitBlock, Block: e.ID})
	case ast.Closure:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitClosure, Block: e.ID})
	case ast.RowCondition:
		return compileLiteral(b, in, out, span, &ir.Literal{Kind: ir.LitRowCondition, Block: e.ID})

	case ast.Var:
		dropInput(b, in, span)
		b.emit(ir.Instruction{Op: ir.OpLoadVariable, Dst: out, Var: e.ID}, span)
		return nil

	case ast.Range:
		return compileRange(b, &e, in, out, span)

	case ast.List:
		return compileList(b, &e, in, out, span)
	case ast.Record:
		return compileRecord(b, &e, in, out, span)
	case ast.Table:
		return compileTable(b, &e, in, out, span)

	case ast.StringInterpolation:
		return compileInterpolation(b, e.Parts, in, out, span, false, false)
	case ast.GlobInterpolation:
		return compileInterpolation(b, e.Parts, in, out, span, true, e.NoExpand)

	case ast.FullCellPath:
		return compileFullCellPath(b, &e, modes, in, out, span)

	case ast.Subexpression:
		inner, err := b.ctx.Blocks.ASTBlock(e.ID)
		if err != nil {
			return errorf(span, "unknown block %d: %v", e.ID, err)
		}
		return compileBlockBody(b, inner, modes, in, out)

	case ast.BinaryOp:
		return compileBinaryOp(b, &e, in, out, span)
	case ast.UnaryNot:
		dropInput(b, in, span)
		if err := compileExpression(b, &e.Expr, ir.RedirectModes{}, nil, out); err != nil {
			return err
		}
		b.emit(ir.Instruction{Op: ir.OpNot, Dst: out}, span)
		return nil

	case ast.Call:
		return compileCall(b, &e, modes, in, out, span)
	case ast.ExternalCall:
		return compileExternalCall(b, &e, modes, in, out, span)

	case ast.Keyword:
		return compileExpression(b, &e.Expr, modes, in, out)

	case ast.If:
		return compileIf(b, &e, modes, in, out, span)
	case ast.While:
		return compileWhile(b, &e, in, out, span)
	case ast.For:
		return compileFor(b, &e, in, out, span)
	case ast.Loop:
		return compileLoop(b, &e, in, out, span)
	case ast.MatchBlock:
		return compileMatch(b, &e, modes, in, out, span)
	case ast.Try:
		return compileTry(b, &e, modes, in, out, span)
	case ast.ReturnEarly:
		return compileReturnEarly(b, &e, in, out, span)
	case ast.Let:
		return compileLet(b, &e, in, out, span)
	case ast.Assign:
		return compileAssign(b, &e, in, out, span)
	}
	return unsupported(span, "this expression")
}

func compileLiteral(b *builder, in *ir.RegID, out ir.RegID, span ast.Span, lit *ir.Literal) error {
	dropInput(b, in, span)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: lit}, span)
	return nil
}

// compileRange compiles each bound into a fresh register (absent bounds
// default to a nothing literal) and emits one range literal consuming all
// three.
func compileRange(b *builder, e *ast.Range, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)

	bound := func(expr *ast.Expression) (ir.RegID, error) {
		r := b.alloc()
		if expr == nil {
			b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: r, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
			return r, nil
		}
		return r, compileExpression(b, expr, ir.RedirectModes{}, nil, r)
	}

	from, err := bound(e.From)
	if err != nil {
		return err
	}
	step, err := bound(e.Next)
	if err != nil {
		return err
	}
	to, err := bound(e.To)
	if err != nil {
		return err
	}

	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{
		Kind:  ir.LitRange,
		Range: &ir.RangeLiteral{Start: from, Step: step, End: to, Inclusion: e.Inclusion},
	}}, span)
	// The bound registers are consumed by materializing the literal.
	b.free(from)
	b.free(step)
	b.free(to)
	return nil
}

// compileList seeds out with a capacity-hinted empty list, then folds each
// element in through a single-use scratch register.
func compileList(b *builder, e *ast.List, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out,
		Lit: &ir.Literal{Kind: ir.LitList, Capacity: len(e.Items)}}, span)

	for i := range e.Items {
		item := &e.Items[i]
		scratch := b.alloc()
		if err := compileExpression(b, &item.Expr, ir.RedirectModes{}, nil, scratch); err != nil {
			return err
		}
		op := ir.OpListPush
		if item.Spread {
			op = ir.OpListSpread
		}
		b.emit(ir.Instruction{Op: op, Dst: out, Src: scratch}, item.Expr.Span)
		b.free(scratch)
	}
	return nil
}

func compileRecord(b *builder, e *ast.Record, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out,
		Lit: &ir.Literal{Kind: ir.LitRecord, Capacity: len(e.Items)}}, span)

	for i := range e.Items {
		item := &e.Items[i]
		if item.Spread {
			scratch := b.alloc()
			if err := compileExpression(b, &item.Value, ir.RedirectModes{}, nil, scratch); err != nil {
				return err
			}
			b.emit(ir.Instruction{Op: ir.OpRecordSpread, Dst: out, Src: scratch}, item.Value.Span)
			b.free(scratch)
			continue
		}
		key := b.alloc()
		if err := compileExpression(b, item.Key, ir.RedirectModes{}, nil, key); err != nil {
			return err
		}
		val := b.alloc()
		if err := compileExpression(b, &item.Value, ir.RedirectModes{}, nil, val); err != nil {
			return err
		}
		b.emit(ir.Instruction{Op: ir.OpRecordInsert, Dst: out, Src: key, Src2: val}, item.Value.Span)
		b.free(key)
		b.free(val)
	}
	return nil
}

// compileTable builds a list of records, one per row, in source order.
func compileTable(b *builder, e *ast.Table, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out,
		Lit: &ir.Literal{Kind: ir.LitList, Capacity: len(e.Rows)}}, span)

	for _, row := range e.Rows {
		if len(row) != len(e.Columns) {
			return errorf(span, "table row has %d cells but %d columns", len(row), len(e.Columns))
		}
		rowReg := b.alloc()
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: rowReg,
			Lit: &ir.Literal{Kind: ir.LitRecord, Capacity: len(e.Columns)}}, span)
		for ci := range e.Columns {
			key := b.alloc()
			if err := compileExpression(b, &e.Columns[ci], ir.RedirectModes{}, nil, key); err != nil {
				return err
			}
			val := b.alloc()
			if err := compileExpression(b, &row[ci], ir.RedirectModes{}, nil, val); err != nil {
				return err
			}
			b.emit(ir.Instruction{Op: ir.OpRecordInsert, Dst: rowReg, Src: key, Src2: val}, row[ci].Span)
			b.free(key)
			b.free(val)
		}
		b.emit(ir.Instruction{Op: ir.OpListPush, Dst: out, Src: rowReg}, span)
		b.free(rowReg)
	}
	return nil
}

// compileInterpolation seeds out with the first string literal part when
// there is one, otherwise with an empty string, then appends the remaining
// parts through scratch registers. Glob interpolations finish with a
// GlobFrom carrying the no-expand flag.
func compileInterpolation(b *builder, parts []ast.Expression, in *ir.RegID, out ir.RegID, span ast.Span, glob, noExpand bool) error {
	dropInput(b, in, span)

	rest := parts
	if len(parts) > 0 {
		if s, ok := parts[0].Expr.(ast.String); ok {
			b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out,
				Lit: &ir.Literal{Kind: ir.LitString, Slice: b.intern(s.Value)}}, parts[0].Span)
			rest = parts[1:]
		}
	}
	if len(rest) == len(parts) {
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out,
			Lit: &ir.Literal{Kind: ir.LitString, Slice: b.intern("")}}, span)
	}

	for i := range rest {
		scratch := b.alloc()
		if err := compileExpression(b, &rest[i], ir.RedirectModes{}, nil, scratch); err != nil {
			return err
		}
		b.emit(ir.Instruction{Op: ir.OpStringAppend, Dst: out, Src: scratch}, rest[i].Span)
		b.free(scratch)
	}

	if glob {
		b.emit(ir.Instruction{Op: ir.OpGlobFrom, Dst: out, NoExpand: noExpand}, span)
	}
	return nil
}

// compileFullCellPath handles `$env` heads with dedicated environment
// instructions (missing-key semantics differ from generic field access);
// for everything else it compiles the head and elides FollowCellPath when
// the tail is empty.
func compileFullCellPath(b *builder, e *ast.FullCellPath, modes ir.RedirectModes, in *ir.RegID, out ir.RegID, span ast.Span) error {
	if v, ok := e.Head.Expr.(ast.Var); ok && v.ID == ast.EnvVarID && len(e.Tail) > 0 {
		return compileEnvAccess(b, e, in, out, span)
	}

	if err := compileExpression(b, &e.Head, modes, in, out); err != nil {
		return err
	}
	if len(e.Tail) == 0 {
		// Empty member paths are elided: the head is the value.
		return nil
	}
	path := b.alloc()
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: path,
		Lit: &ir.Literal{Kind: ir.LitCellPath, CellPath: ast.CellPath{Members: e.Tail}}}, span)
	b.emit(ir.Instruction{Op: ir.OpFollowCellPath, Dst: out, Src: path}, span)
	b.free(path)
	return nil
}

func compileEnvAccess(b *builder, e *ast.FullCellPath, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	first := e.Tail[0]
	if first.Kind != ast.PathString {
		return errorf(first.Span, "environment variables are addressed by name, not by index")
	}
	op := ir.OpLoadEnv
	if first.Optional {
		op = ir.OpLoadEnvOpt
	}
	b.emit(ir.Instruction{Op: op, Dst: out, Data: b.intern(first.String)}, first.Span)

	if rest := e.Tail[1:]; len(rest) > 0 {
		path := b.alloc()
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: path,
			Lit: &ir.Literal{Kind: ir.LitCellPath, CellPath: ast.CellPath{Members: rest}}}, span)
		b.emit(ir.Instruction{Op: ir.OpFollowCellPath, Dst: out, Src: path}, span)
		b.free(path)
	}
	return nil
}

// compileBinaryOp compiles `lhs op rhs` into out. Boolean and/or
// short-circuit: the right side only runs when the left side does not
// already decide the result.
func compileBinaryOp(b *builder, e *ast.BinaryOp, in *ir.RegID, out ir.RegID, span ast.Span) error {
	dropInput(b, in, span)
	if err := compileExpression(b, &e.Left, ir.RedirectModes{}, nil, out); err != nil {
		return err
	}

	switch e.Op {
	case ast.OpAnd:
		// false lhs decides the result; branch on a clone so out survives.
		flag := b.alloc()
		b.emit(ir.Instruction{Op: ir.OpClone, Dst: flag, Src: out}, e.OpSpan)
		branch := b.emit(ir.Instruction{Op: ir.OpBranchIf, Src: flag}, e.OpSpan)
		b.free(flag)
		rhs := b.alloc()
		if err := compileExpression(b, &e.Right, ir.RedirectModes{}, nil, rhs); err != nil {
			return err
		}
		b.emit(ir.Instruction{Op: ir.OpBinaryOp, Dst: out, Operator: e.Op, Src: rhs, Span: e.OpSpan}, span)
		b.free(rhs)
		b.patch(branch, b.next())
		return nil

	case ast.OpOr:
		// true lhs decides the result; BranchIf jumps on false, so route
		// the false case to the rhs and jump the true case past it.
		flag := b.alloc()
		b.emit(ir.Instruction{Op: ir.OpClone, Dst: flag, Src: out}, e.OpSpan)
		toRHS := b.emit(ir.Instruction{Op: ir.OpBranchIf, Src: flag}, e.OpSpan)
		b.free(flag)
		toEnd := b.emit(ir.Instruction{Op: ir.OpJump}, e.OpSpan)
		b.patch(toRHS, b.next())
		rhs := b.alloc()
		if err := compileExpression(b, &e.Right, ir.RedirectModes{}, nil, rhs); err != nil {
			return err
		}
		b.emit(ir.Instruction{Op: ir.OpBinaryOp, Dst: out, Operator: e.Op, Src: rhs, Span: e.OpSpan}, span)
		b.free(rhs)
		b.patch(toEnd, b.next())
		return nil
	}

	rhs := b.alloc()
	if err := compileExpression(b, &e.Right, ir.RedirectModes{}, nil, rhs); err != nil {
		return err
	}
	b.emit(ir.Instruction{Op: ir.OpBinaryOp, Dst: out, Operator: e.Op, Src: rhs, Span: e.OpSpan}, span)
	b.free(rhs)
	return nil
}
