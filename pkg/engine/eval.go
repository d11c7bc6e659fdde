package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/config"
	"github.com/nushell/nushell-sub009/pkg/ir"
	"github.com/nushell/nushell-sub009/pkg/value"
)

// EarlyReturn is the escape a return statement unwinds with. It bypasses
// error handlers and propagates to the nearest call boundary, where the
// declaration turns it back into an ordinary result.
type EarlyReturn struct {
	Data PipelineData
}

func (e *EarlyReturn) Error() string { return "early return" }

// argKind discriminates entries on a frame's argument stack.
type argKind uint8

const (
	argPositional argKind = iota
	argSpread
	argFlag
	argNamed
	argParserInfo
)

type argEntry struct {
	kind argKind
	name string
	val  value.Value
}

type errorHandler struct {
	target int
	// errReg receives the failure value; -1 for a plain OnError.
	errReg int
}

// frame is the per-invocation execution state of one block: its register
// file, argument stack, error-handler stack, numbered file handles, and
// pending redirect targets.
type frame struct {
	eng   *EngineState
	stack *Stack
	sig   *Signal
	block *ir.Block

	regs     []PipelineData
	args     []argEntry
	handlers []errorHandler
	files    []*os.File

	redirectOut *IOTarget
	redirectErr *IOTarget
}

// Eval executes a compiled block with the given pipeline input and returns
// its output. Failure unwinding, file-handle release, and stdio restoration
// all happen before return on every path.
func Eval(eng *EngineState, stack *Stack, sig *Signal, block *ir.Block, input PipelineData) (PipelineData, error) {
	f := &frame{
		eng:   eng,
		stack: stack,
		sig:   sig,
		block: block,
		regs:  make([]PipelineData, block.RegisterCount),
		files: make([]*os.File, block.FileCount),
	}
	if len(f.regs) > 0 {
		f.regs[0] = input
	}
	defer f.closeLeftoverFiles()

	trace := eng.Config != nil && eng.Config.Trace.Instructions && eng.Log != nil
	maxSteps := 0
	if eng.Config != nil {
		maxSteps = eng.Config.Engine.MaxInstructions
	}

	ip := 0
	steps := 0
	for {
		if ip < 0 || ip >= len(block.Instructions) {
			return Empty(), fmt.Errorf("instruction pointer %d out of range", ip)
		}
		if maxSteps > 0 {
			steps++
			if steps > maxSteps {
				return Empty(), value.Errorf(block.Spans[ip], "instruction budget of %d exceeded", maxSteps)
			}
		}
		if trace {
			eng.Log.Debugf("%s", block.DisassembleInstruction(ip))
		}

		next, done, err := f.step(ip)
		if err != nil {
			var early *EarlyReturn
			if errors.As(err, &early) {
				return Empty(), err
			}
			handled, target := f.catchFailure(err, block.Spans[ip])
			if !handled {
				return Empty(), err
			}
			ip = target
			continue
		}
		if done {
			return f.regs[block.Instructions[ip].Src], nil
		}
		ip = next
	}
}

// catchFailure pops the innermost handler and reports where to resume. The
// failure value lands in the handler's error register when it has one.
func (f *frame) catchFailure(err error, span ast.Span) (bool, int) {
	if len(f.handlers) == 0 {
		return false, 0
	}
	h := f.handlers[len(f.handlers)-1]
	f.handlers = f.handlers[:len(f.handlers)-1]
	// A pending redirect for a call that never ran must not leak into the
	// handler's code.
	f.redirectOut = nil
	f.redirectErr = nil
	// The compiler's close-file instructions sit on the success path the
	// jump below abandons; handles still open belong to failed call sites
	// and must be released here, or re-running the open site would find
	// its slot occupied.
	f.closeLeftoverFiles()
	if h.errReg >= 0 {
		f.regs[h.errReg] = FromValue(shellError(err, span).AsValue())
	}
	return true, h.target
}

// shellError normalizes any failure into a span-carrying shell error.
func shellError(err error, span ast.Span) *value.ShellError {
	var se *value.ShellError
	if errors.As(err, &se) {
		return se
	}
	return &value.ShellError{Kind: value.ErrGeneric, Msg: err.Error(), Span: span, Inner: err}
}

func (f *frame) closeLeftoverFiles() {
	for i, fh := range f.files {
		if fh != nil {
			if err := fh.Close(); err != nil && f.eng.Log != nil {
				f.eng.Log.Warningf("closing leftover file %d: %v", i, err)
			}
			f.files[i] = nil
		}
	}
}

// take empties a register and returns its previous content.
func (f *frame) take(r ir.RegID) PipelineData {
	d := f.regs[r]
	f.regs[r] = Empty()
	return d
}

// collectReg materializes a register's content in place and returns it.
func (f *frame) collectReg(r ir.RegID) (value.Value, error) {
	v, err := f.regs[r].Collect(f.sig)
	if err != nil {
		return value.Value{}, err
	}
	f.regs[r] = FromValue(v)
	return v, nil
}

// takeValue empties a register, materializing a stream first.
func (f *frame) takeValue(r ir.RegID) (value.Value, error) {
	v, err := f.take(r).Collect(f.sig)
	if err != nil {
		return value.Value{}, err
	}
	return v, nil
}

// step executes one instruction. It returns the next instruction pointer,
// or done=true when the instruction was a successful Return.
func (f *frame) step(ip int) (next int, done bool, err error) {
	instr := &f.block.Instructions[ip]
	span := f.block.Spans[ip]

	switch instr.Op {
	case ir.OpMove:
		f.regs[instr.Dst] = f.take(instr.Src)

	case ir.OpClone:
		src := f.regs[instr.Src]
		if src.Kind == DataStream {
			return 0, false, value.Errorf(span, "cannot clone a stream")
		}
		d := src
		if d.Kind == DataValue {
			d.Value = d.Value.Clone()
		}
		f.regs[instr.Dst] = d

	case ir.OpDrop:
		f.regs[instr.Dst] = Empty()

	case ir.OpCollect:
		if _, err := f.collectReg(instr.Dst); err != nil {
			return 0, false, err
		}

	case ir.OpSpan:
		if f.regs[instr.Dst].Kind == DataValue {
			f.regs[instr.Dst].Value.Span = instr.Span
		}

	case ir.OpLoadLiteral:
		d, err := f.literal(instr.Lit, span)
		if err != nil {
			return 0, false, err
		}
		f.regs[instr.Dst] = d

	case ir.OpLoadValue:
		f.regs[instr.Dst] = FromValue(instr.Value.Clone().WithSpan(span))

	case ir.OpLoadVariable:
		v, err := f.stack.GetVar(instr.Var, span)
		if err != nil {
			return 0, false, err
		}
		f.regs[instr.Dst] = FromValue(v.WithSpan(span))

	case ir.OpStoreVariable:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		f.stack.AddVar(instr.Var, v)

	case ir.OpDropVariable:
		f.stack.RemoveVar(instr.Var)

	case ir.OpLoadEnv, ir.OpLoadEnvOpt:
		name := f.block.DataString(instr.Data)
		v, err := f.stack.GetEnvVar(f.eng, name, span)
		if err != nil {
			if instr.Op == ir.OpLoadEnvOpt {
				v = value.Nothing(span)
			} else {
				return 0, false, err
			}
		}
		f.regs[instr.Dst] = FromValue(v)

	case ir.OpStoreEnv:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		f.stack.AddEnvVar(f.block.DataString(instr.Data), v)

	case ir.OpPushPositional, ir.OpAppendRest, ir.OpPushParserInfo:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		kind := argPositional
		switch instr.Op {
		case ir.OpAppendRest:
			kind = argSpread
		case ir.OpPushParserInfo:
			kind = argParserInfo
		}
		f.args = append(f.args, argEntry{kind: kind, name: f.block.DataString(instr.Data), val: v})

	case ir.OpPushFlag, ir.OpPushShortFlag:
		f.args = append(f.args, argEntry{kind: argFlag, name: f.block.DataString(instr.Data)})

	case ir.OpPushNamed, ir.OpPushShortNamed:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		f.args = append(f.args, argEntry{kind: argNamed, name: f.block.DataString(instr.Data), val: v})

	case ir.OpCall:
		if err := f.runCall(instr, span); err != nil {
			return 0, false, err
		}

	case ir.OpExternalCall:
		if err := f.runExternalCall(instr, span); err != nil {
			return 0, false, err
		}

	case ir.OpRedirectOut, ir.OpRedirectErr:
		t := IOTarget{Mode: instr.Mode}
		if instr.Mode == ir.RedirectModeFile {
			fh := f.files[instr.File]
			if fh == nil {
				return 0, false, fmt.Errorf("redirect to unopened file %d", instr.File)
			}
			t.File = fh
		}
		if instr.Op == ir.OpRedirectOut {
			f.redirectOut = &t
		} else {
			f.redirectErr = &t
		}

	case ir.OpCheckErrRedirected:
		if f.redirectErr == nil && f.stack.Stderr().Mode == ir.RedirectModeInherit {
			return 0, false, value.Errorf(span, "stderr is not redirected")
		}

	case ir.OpOpenFile:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		path, serr := v.CoerceString()
		if serr != nil {
			return 0, false, serr
		}
		flags := os.O_CREATE | os.O_WRONLY
		if instr.Append {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		fh, ferr := os.OpenFile(path, flags, 0o644)
		if ferr != nil {
			return 0, false, value.Errorf(span, "opening %s: %v", path, ferr)
		}
		if f.files[instr.File] != nil {
			fh.Close()
			return 0, false, fmt.Errorf("file %d is already open", instr.File)
		}
		f.files[instr.File] = fh

	case ir.OpWriteFile:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		fh := f.files[instr.File]
		if fh == nil {
			return 0, false, fmt.Errorf("write to unopened file %d", instr.File)
		}
		var data []byte
		if v.Kind == value.KindBinary {
			data = v.Bytes
		} else {
			s, serr := v.CoerceString()
			if serr != nil {
				return 0, false, serr
			}
			data = append([]byte(s), '\n')
		}
		if _, werr := fh.Write(data); werr != nil {
			return 0, false, value.Errorf(span, "writing to file: %v", werr)
		}

	case ir.OpCloseFile:
		fh := f.files[instr.File]
		if fh == nil {
			return 0, false, fmt.Errorf("close of unopened file %d", instr.File)
		}
		f.files[instr.File] = nil
		if cerr := fh.Close(); cerr != nil {
			return 0, false, value.Errorf(span, "closing file: %v", cerr)
		}

	case ir.OpStringAppend:
		if err := f.stringAppend(instr, span); err != nil {
			return 0, false, err
		}

	case ir.OpGlobFrom:
		v, err := f.collectReg(instr.Dst)
		if err != nil {
			return 0, false, err
		}
		s, serr := v.CoerceString()
		if serr != nil {
			return 0, false, serr
		}
		f.regs[instr.Dst] = FromValue(value.Glob(s, instr.NoExpand, span))

	case ir.OpListPush, ir.OpListSpread, ir.OpRecordInsert, ir.OpRecordSpread:
		if err := f.collectionFold(instr, span); err != nil {
			return 0, false, err
		}

	case ir.OpNot:
		v, err := f.collectReg(instr.Dst)
		if err != nil {
			return 0, false, err
		}
		neg, serr := value.Not(v)
		if serr != nil {
			return 0, false, serr
		}
		f.regs[instr.Dst] = FromValue(neg)

	case ir.OpBinaryOp:
		lhs, err := f.collectReg(instr.Dst)
		if err != nil {
			return 0, false, err
		}
		rhs, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		res, serr := value.Apply(lhs, instr.Operator, instr.Span, rhs)
		if serr != nil {
			return 0, false, serr
		}
		f.regs[instr.Dst] = FromValue(res)

	case ir.OpFollowCellPath:
		v, err := f.collectReg(instr.Dst)
		if err != nil {
			return 0, false, err
		}
		path, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		if path.Kind != value.KindCellPath {
			return 0, false, value.TypeMismatch("cell path", path.Kind.String(), path.Span)
		}
		followed, serr := value.FollowCellPath(v, path.Path.Members)
		if serr != nil {
			return 0, false, serr
		}
		f.regs[instr.Dst] = FromValue(followed)

	case ir.OpCloneCellPath:
		src, err := f.collectReg(instr.Src)
		if err != nil {
			return 0, false, err
		}
		path, err := f.takeValue(instr.Src2)
		if err != nil {
			return 0, false, err
		}
		if path.Kind != value.KindCellPath {
			return 0, false, value.TypeMismatch("cell path", path.Kind.String(), path.Span)
		}
		followed, serr := value.FollowCellPath(src.Clone(), path.Path.Members)
		if serr != nil {
			return 0, false, serr
		}
		f.regs[instr.Dst] = FromValue(followed)

	case ir.OpUpsertCellPath:
		container, err := f.collectReg(instr.Dst)
		if err != nil {
			return 0, false, err
		}
		path, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		newVal, err := f.takeValue(instr.Src2)
		if err != nil {
			return 0, false, err
		}
		if path.Kind != value.KindCellPath {
			return 0, false, value.TypeMismatch("cell path", path.Kind.String(), path.Span)
		}
		updated, serr := value.UpsertCellPath(container, path.Path.Members, newVal)
		if serr != nil {
			return 0, false, serr
		}
		f.regs[instr.Dst] = FromValue(updated)

	case ir.OpJump:
		return instr.Target, false, nil

	case ir.OpBranchIf:
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return 0, false, err
		}
		b, serr := v.AsBool()
		if serr != nil {
			return 0, false, serr
		}
		if !b {
			return instr.Target, false, nil
		}

	case ir.OpBranchIfEmpty:
		if f.regs[instr.Src].IsEmpty() {
			return instr.Target, false, nil
		}

	case ir.OpMatch:
		v, err := f.collectReg(instr.Src)
		if err != nil {
			return 0, false, err
		}
		var binds []value.Capture
		if !matchPattern(instr.Pattern, v, &binds) {
			return instr.Target, false, nil
		}
		for _, bind := range binds {
			f.stack.AddVar(bind.ID, bind.Value)
		}

	case ir.OpCheckMatchGuard:
		v, err := f.collectReg(instr.Src)
		if err != nil {
			return 0, false, err
		}
		if v.Kind != value.KindBool {
			return 0, false, &value.ShellError{
				Kind: value.ErrMatchGuardNotBool,
				Msg:  fmt.Sprintf("match guard must be a bool, found %s", v.Kind),
				Span: v.Span,
			}
		}

	case ir.OpIterate:
		d := f.regs[instr.Src]
		if d.Kind != DataStream {
			d = FromStream(iterate(d))
			f.regs[instr.Src] = d
		}
		v, ok, err := d.Stream.Next(f.sig)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			f.regs[instr.Src] = Empty()
			return instr.Target, false, nil
		}
		f.regs[instr.Dst] = FromValue(v)

	case ir.OpOnError:
		f.handlers = append(f.handlers, errorHandler{target: instr.Target, errReg: -1})

	case ir.OpOnErrorInto:
		f.handlers = append(f.handlers, errorHandler{target: instr.Target, errReg: int(instr.Dst)})

	case ir.OpPopErrorHandler:
		if len(f.handlers) == 0 {
			return 0, false, fmt.Errorf("error handler stack is empty")
		}
		f.handlers = f.handlers[:len(f.handlers)-1]

	case ir.OpReturnEarly:
		return 0, false, &EarlyReturn{Data: f.take(instr.Src)}

	case ir.OpReturn:
		return ip, true, nil

	default:
		return 0, false, fmt.Errorf("unknown opcode %d at instruction %d", instr.Op, ip)
	}
	return ip + 1, false, nil
}

// literal materializes a literal into pipeline data.
func (f *frame) literal(lit *ir.Literal, span ast.Span) (PipelineData, error) {
	if lit == nil {
		return Empty(), fmt.Errorf("load-literal with no literal")
	}
	switch lit.Kind {
	case ir.LitBool:
		return FromValue(value.Bool(lit.Bool, span)), nil
	case ir.LitInt:
		return FromValue(value.Int(lit.Int, span)), nil
	case ir.LitFloat:
		return FromValue(value.Float(lit.Float, span)), nil
	case ir.LitFilesize:
		return FromValue(value.Filesize(lit.Int, span)), nil
	case ir.LitDuration:
		return FromValue(value.Duration(lit.Int, span)), nil
	case ir.LitBinary:
		data, err := lit.Slice.Get(f.block.Data)
		if err != nil {
			return Empty(), err
		}
		return FromValue(value.Binary(append([]byte(nil), data...), span)), nil
	case ir.LitString, ir.LitRawString:
		return FromValue(value.String(f.block.DataString(lit.Slice), span)), nil
	case ir.LitFilepath, ir.LitDirectory:
		return FromValue(value.String(f.block.DataString(lit.Slice), span)), nil
	case ir.LitGlobPattern:
		return FromValue(value.Glob(f.block.DataString(lit.Slice), lit.NoExpand, span)), nil
	case ir.LitCellPath:
		return FromValue(value.CellPathValue(lit.CellPath, span)), nil
	case ir.LitDate:
		return FromValue(value.Date(lit.Time, span)), nil
	case ir.LitNothing:
		return FromValue(value.Nothing(span)), nil

	case ir.LitList:
		v := value.List(make([]value.Value, 0, lit.Capacity), span)
		return FromValue(v), nil
	case ir.LitRecord:
		return FromValue(value.RecordValue(value.NewRecord(lit.Capacity), span)), nil

	case ir.LitRange:
		r := lit.Range
		from, err := f.takeValue(r.Start)
		if err != nil {
			return Empty(), err
		}
		step, err := f.takeValue(r.Step)
		if err != nil {
			return Empty(), err
		}
		to, err := f.takeValue(r.End)
		if err != nil {
			return Empty(), err
		}
		rng, serr := value.NewRange(from, step, to, r.Inclusion, span)
		if serr != nil {
			return Empty(), serr
		}
		return FromValue(value.RangeValue(rng, span)), nil

	case ir.LitBlock, ir.LitClosure, ir.LitRowCondition:
		closure := &value.Closure{Block: lit.Block}
		if lit.Kind != ir.LitBlock {
			astBlock, err := f.eng.ASTBlock(lit.Block)
			if err != nil {
				return Empty(), err
			}
			caps, cerr := f.stack.CaptureValues(f.eng, astBlock.Captures, span)
			if cerr != nil {
				return Empty(), cerr
			}
			closure.Captures = caps
		}
		return FromValue(value.Value{Kind: value.KindClosure, Closure: closure, Span: span}), nil
	}
	return Empty(), fmt.Errorf("unknown literal kind %d", lit.Kind)
}

func (f *frame) stringAppend(instr *ir.Instruction, span ast.Span) error {
	base, err := f.collectReg(instr.Dst)
	if err != nil {
		return err
	}
	if base.Kind != value.KindString {
		return value.TypeMismatch("string", base.Kind.String(), base.Span)
	}
	part, err := f.takeValue(instr.Src)
	if err != nil {
		return err
	}
	s, serr := part.CoerceString()
	if serr != nil {
		return serr
	}
	base.Str += s
	base.Span = span
	f.regs[instr.Dst] = FromValue(base)
	return nil
}

func (f *frame) collectionFold(instr *ir.Instruction, span ast.Span) error {
	container, err := f.collectReg(instr.Dst)
	if err != nil {
		return err
	}
	switch instr.Op {
	case ir.OpListPush, ir.OpListSpread:
		if container.Kind != value.KindList {
			return value.TypeMismatch("list", container.Kind.String(), container.Span)
		}
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return err
		}
		if instr.Op == ir.OpListPush {
			container.List = append(container.List, v)
		} else {
			switch v.Kind {
			case value.KindList:
				container.List = append(container.List, v.List...)
			case value.KindRange:
				next := v.Range.Iter(v.Span)
				for {
					elem, ok := next()
					if !ok {
						break
					}
					container.List = append(container.List, elem)
				}
			default:
				return value.TypeMismatch("list", v.Kind.String(), v.Span)
			}
		}

	case ir.OpRecordInsert:
		if container.Kind != value.KindRecord {
			return value.TypeMismatch("record", container.Kind.String(), container.Span)
		}
		key, err := f.takeValue(instr.Src)
		if err != nil {
			return err
		}
		ks, serr := key.AsString()
		if serr != nil {
			return serr
		}
		v, err := f.takeValue(instr.Src2)
		if err != nil {
			return err
		}
		if _, exists := container.Record.Get(ks); exists {
			return value.Errorf(key.Span, "record field %q is defined twice", ks)
		}
		container.Record.Set(ks, v)

	case ir.OpRecordSpread:
		if container.Kind != value.KindRecord {
			return value.TypeMismatch("record", container.Kind.String(), container.Span)
		}
		v, err := f.takeValue(instr.Src)
		if err != nil {
			return err
		}
		if v.Kind != value.KindRecord {
			return value.TypeMismatch("record", v.Kind.String(), v.Span)
		}
		for i, col := range v.Record.Cols {
			container.Record.Set(col, v.Record.Vals[i])
		}
	}
	f.regs[instr.Dst] = FromValue(container)
	return nil
}

// runCall pops the assembled arguments, applies pending redirects around
// the declaration, and writes its output back into the context register.
func (f *frame) runCall(instr *ir.Instruction, span ast.Span) error {
	decl, ok := f.eng.Decl(instr.Decl)
	if !ok {
		return value.Errorf(span, "unknown declaration %d", instr.Decl)
	}
	entries, err := f.popArgs(instr.Argc)
	if err != nil {
		return err
	}
	call := &CallArgs{Head: span}
	for _, e := range entries {
		switch e.kind {
		case argPositional:
			call.Positional = append(call.Positional, e.val)
		case argSpread:
			if e.val.Kind != value.KindList {
				return value.TypeMismatch("list", e.val.Kind.String(), e.val.Span)
			}
			call.Positional = append(call.Positional, e.val.List...)
		case argFlag:
			if call.Flags == nil {
				call.Flags = make(map[string]bool)
			}
			call.Flags[e.name] = true
		case argNamed:
			if call.Named == nil {
				call.Named = make(map[string]value.Value)
			}
			call.Named[e.name] = e.val
		case argParserInfo:
			if call.ParserInfo == nil {
				call.ParserInfo = make(map[string]value.Value)
			}
			call.ParserInfo[e.name] = e.val
		}
	}

	input := f.take(instr.Dst)
	restore := f.stack.PushStdio(f.redirectOut, f.redirectErr)
	f.redirectOut = nil
	f.redirectErr = nil

	out, runErr := func() (d PipelineData, err error) {
		defer restore()
		return decl.Run(f.eng, f.stack, f.sig, call, input)
	}()
	if runErr != nil {
		return runErr
	}
	f.regs[instr.Dst] = out
	return nil
}

func (f *frame) runExternalCall(instr *ir.Instruction, span ast.Span) error {
	if f.eng.External == nil {
		return value.Errorf(span, "external commands are not available")
	}
	head, err := f.takeValue(instr.Src)
	if err != nil {
		return err
	}
	name, serr := head.CoerceString()
	if serr != nil {
		return serr
	}

	entries, err := f.popArgs(instr.Argc)
	if err != nil {
		return err
	}
	var args []value.Value
	for _, e := range entries {
		if e.kind == argSpread {
			if e.val.Kind != value.KindList {
				return value.TypeMismatch("list", e.val.Kind.String(), e.val.Span)
			}
			args = append(args, e.val.List...)
			continue
		}
		args = append(args, e.val)
	}

	input := f.take(instr.Dst)
	restore := f.stack.PushStdio(f.redirectOut, f.redirectErr)
	f.redirectOut = nil
	f.redirectErr = nil

	out, runErr := func() (d PipelineData, err error) {
		defer restore()
		return f.eng.External.Run(f.eng, f.stack, f.sig, name, args, input)
	}()
	if runErr != nil {
		var se *value.ShellError
		if !errors.As(runErr, &se) {
			runErr = &value.ShellError{
				Kind: value.ErrExternalCommand,
				Msg:  fmt.Sprintf("external command %s failed: %v", name, runErr),
				Span: span, Inner: runErr,
			}
		}
		return runErr
	}
	f.regs[instr.Dst] = out
	return nil
}

// popArgs removes the newest n entries from the argument stack, keeping
// their push order.
func (f *frame) popArgs(n int) ([]argEntry, error) {
	if n > len(f.args) {
		return nil, fmt.Errorf("call needs %d argument entries but only %d are assembled", n, len(f.args))
	}
	entries := f.args[len(f.args)-n:]
	f.args = f.args[:len(f.args)-n]
	return entries, nil
}

// RunBlock compiles (or fetches) a block by id and evaluates it on a fresh
// child stack carrying the closure's captures.
func RunBlock(eng *EngineState, stack *Stack, sig *Signal, closure *value.Closure, input PipelineData) (PipelineData, error) {
	block, err := eng.CompiledBlock(closure.Block)
	if err != nil {
		return Empty(), err
	}
	astBlock, err := eng.ASTBlock(closure.Block)
	if err != nil {
		return Empty(), err
	}

	limit := config.DefaultMaxCallDepth
	if eng.Config != nil && eng.Config.Engine.MaxCallDepth > 0 {
		limit = eng.Config.Engine.MaxCallDepth
	}
	if stack.depth >= limit {
		return Empty(), value.Errorf(astBlock.Span, "call depth of %d exceeded", limit)
	}

	child, err := stack.GatherCaptures(eng, nil, ast.Span{})
	if err != nil {
		return Empty(), err
	}
	child.depth = stack.depth + 1
	for _, cap := range closure.Captures {
		child.AddVar(cap.ID, cap.Value)
	}
	// Bind the block's positional parameters from the input when there is
	// exactly one; richer binding is the calling declaration's concern.
	if len(astBlock.Params) == 1 && input.Kind == DataValue {
		child.AddVar(astBlock.Params[0], input.Value)
	}

	out, err := Eval(eng, child, sig, block, input)
	var early *EarlyReturn
	if errors.As(err, &early) {
		return early.Data, nil
	}
	return out, err
}
