package compile

import (
	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
)

// compilePipeline compiles a chain of elements. Between stages, stdout is
// piped: each non-final element runs with its out mode forced to pipe and
// its result threaded as the next element's input.
func compilePipeline(b *builder, p *ast.Pipeline, modes ir.RedirectModes, in *ir.RegID, out ir.RegID) error {
	if len(p.Elements) == 0 {
		dropInput(b, in, ast.Span{})
		b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, ast.Span{})
		return nil
	}

	for i := range p.Elements {
		el := &p.Elements[i]
		last := i == len(p.Elements)-1

		elModes := ir.WithCapture()
		if last {
			elModes = modes
		}

		if last {
			if err := compilePipelineElement(b, el, elModes, in, out); err != nil {
				return err
			}
			return nil
		}

		stage := b.alloc()
		if err := compilePipelineElement(b, el, elModes, in, stage); err != nil {
			return err
		}
		in = &stage
	}
	return nil
}

// openedFile is a file handle opened for an element's redirection; it is
// closed on the success path once the element has run.
type openedFile struct {
	num  int32
	span ast.Span
}

// compilePipelineElement applies the element's explicit redirections over
// the inherited modes, opens any file targets, compiles the expression,
// and closes the files.
func compilePipelineElement(b *builder, el *ast.PipelineElement, modes ir.RedirectModes, in *ir.RegID, out ir.RegID) error {
	if el.Redirection == nil {
		return compileExpression(b, &el.Expr, modes, in, out)
	}

	var files []openedFile
	isCall := false
	switch el.Expr.Expr.(type) {
	case ast.Call, ast.ExternalCall:
		isCall = true
	}

	target := func(t *ast.RedirectionTarget, span ast.Span) (ir.RedirectMode, *openedFile, error) {
		if t.File == nil {
			return ir.RedirectModePipe, nil, nil
		}
		path := b.alloc()
		if err := compileExpression(b, t.File, ir.RedirectModes{}, nil, path); err != nil {
			return 0, nil, err
		}
		num := b.nextFile()
		b.emit(ir.Instruction{Op: ir.OpOpenFile, File: num, Src: path, Append: t.Append}, t.Span)
		b.free(path)
		return ir.RedirectModeFile, &openedFile{num: num, span: span}, nil
	}

	r := el.Redirection
	if r.Separate != nil {
		outMode, of, err := target(&r.Separate.Out, r.Separate.Out.Span)
		if err != nil {
			return err
		}
		if of != nil {
			files = append(files, *of)
		}
		errMode, ef, err := target(&r.Separate.Err, r.Separate.Err.Span)
		if err != nil {
			return err
		}
		if ef != nil {
			files = append(files, *ef)
		}
		modes = ir.RedirectModes{Out: &outMode, Err: &errMode}
	} else {
		mode, f, err := target(&r.Target, r.Target.Span)
		if err != nil {
			return err
		}
		if f != nil {
			files = append(files, *f)
		}
		switch r.Source {
		case ast.RedirectStdout:
			modes.Out = &mode
		case ast.RedirectStderr:
			modes.Err = &mode
		case ast.RedirectBoth:
			modes.Out = &mode
			modes.Err = &mode
		}
	}

	if isCall {
		if err := compileExpression(b, &el.Expr, modes, in, out); err != nil {
			return err
		}
	} else {
		// A redirected non-call expression ignores stream policy; its value
		// is written to the file directly and the stage yields nothing.
		if err := compileExpression(b, &el.Expr, ir.RedirectModes{}, in, out); err != nil {
			return err
		}
		if len(files) > 0 {
			b.emit(ir.Instruction{Op: ir.OpWriteFile, File: files[0].num, Src: out}, el.Expr.Span)
			b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, el.Expr.Span)
		}
	}

	// Success-path closes; on failure the runtime closes leftovers itself.
	for _, f := range files {
		b.emit(ir.Instruction{Op: ir.OpCloseFile, File: f.num}, f.span)
	}
	return nil
}

// emitRedirections lowers the pending modes to instructions on the call
// context register. File modes carry the handle number.
func emitRedirections(b *builder, modes ir.RedirectModes, out ir.RegID, span ast.Span) {
	if modes.Out != nil {
		b.emit(ir.Instruction{Op: ir.OpRedirectOut, Dst: out, Mode: *modes.Out}, span)
	}
	if modes.Err != nil {
		b.emit(ir.Instruction{Op: ir.OpRedirectErr, Dst: out, Mode: *modes.Err}, span)
	}
}

// compileCall assembles arguments onto the argument stack in source order,
// consolidates the pipeline input into out as the call context, applies
// redirections, and issues the call. The call consumes out and exactly
// Argc argument entries, leaving its output in out.
func compileCall(b *builder, e *ast.Call, modes ir.RedirectModes, in *ir.RegID, out ir.RegID, span ast.Span) error {
	argc := 0
	for i := range e.Args {
		arg := &e.Args[i]
		switch arg.Kind {
		case ast.ArgPositional, ast.ArgSpread:
			scratch := b.alloc()
			if err := compileExpression(b, arg.Expr, ir.RedirectModes{}, nil, scratch); err != nil {
				return err
			}
			op := ir.OpPushPositional
			if arg.Kind == ast.ArgSpread {
				op = ir.OpAppendRest
			}
			b.emit(ir.Instruction{Op: op, Src: scratch}, arg.Span)
			b.free(scratch)

		case ast.ArgNamed:
			name := b.intern(arg.Name)
			if arg.Expr == nil {
				op := ir.OpPushFlag
				if arg.Short != "" {
					op = ir.OpPushShortFlag
					name = b.intern(arg.Short)
				}
				b.emit(ir.Instruction{Op: op, Data: name}, arg.Span)
				break
			}
			scratch := b.alloc()
			if err := compileExpression(b, arg.Expr, ir.RedirectModes{}, nil, scratch); err != nil {
				return err
			}
			op := ir.OpPushNamed
			if arg.Short != "" {
				op = ir.OpPushShortNamed
				name = b.intern(arg.Short)
			}
			b.emit(ir.Instruction{Op: op, Src: scratch, Data: name}, arg.Span)
			b.free(scratch)

		case ast.ArgParserInfo:
			scratch := b.alloc()
			if err := compileExpression(b, arg.Expr, ir.RedirectModes{}, nil, scratch); err != nil {
				return err
			}
			b.emit(ir.Instruction{Op: ir.OpPushParserInfo, Src: scratch, Data: b.intern(arg.Name)}, arg.Span)
			b.free(scratch)
		}
		argc++
	}

	consolidateInput(b, in, out, span)
	emitRedirections(b, modes, out, e.Head)
	idx := b.emit(ir.Instruction{Op: ir.OpCall, Dst: out, Decl: e.Decl, Argc: argc}, span)
	b.comment(idx, b.declName(e.Decl))
	return nil
}

// compileExternalCall evaluates the head and each argument onto the
// argument stack, then issues the external call with the pipeline input as
// its stdin context.
func compileExternalCall(b *builder, e *ast.ExternalCall, modes ir.RedirectModes, in *ir.RegID, out ir.RegID, span ast.Span) error {
	head := b.alloc()
	if err := compileExpression(b, &e.Head, ir.RedirectModes{}, nil, head); err != nil {
		return err
	}

	argc := 0
	for i := range e.Args {
		arg := &e.Args[i]
		scratch := b.alloc()
		if err := compileExpression(b, &arg.Expr, ir.RedirectModes{}, nil, scratch); err != nil {
			return err
		}
		op := ir.OpPushPositional
		if arg.Spread {
			op = ir.OpAppendRest
		}
		b.emit(ir.Instruction{Op: op, Src: scratch}, arg.Expr.Span)
		b.free(scratch)
		argc++
	}

	consolidateInput(b, in, out, span)
	emitRedirections(b, modes, out, e.Head.Span)
	b.emit(ir.Instruction{Op: ir.OpExternalCall, Dst: out, Src: head, Argc: argc}, span)
	b.free(head)
	return nil
}

// consolidateInput moves the pipeline input into the call context register,
// or seeds it with nothing when the call has no input.
func consolidateInput(b *builder, in *ir.RegID, out ir.RegID, span ast.Span) {
	if in != nil {
		if *in != out {
			b.emit(ir.Instruction{Op: ir.OpMove, Dst: out, Src: *in}, span)
			b.free(*in)
		}
		return
	}
	b.emit(ir.Instruction{Op: ir.OpLoadLiteral, Dst: out, Lit: &ir.Literal{Kind: ir.LitNothing}}, span)
}
