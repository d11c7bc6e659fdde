package compile

import (
	"fmt"

	"github.com/nushell/nushell-sub009/pkg/ir"
)

// VerifyRegisters statically checks register discipline over the block's
// control-flow graph: no instruction may read a register after a drop or
// move of it without an intervening write. The pass is a forward
// must-analysis: a register counts as readable at an instruction only if
// it is written on every path reaching it. A violation means the compiler
// emitted unsound code; the block must not be executed.
func VerifyRegisters(block *ir.Block) error {
	if len(block.Instructions) == 0 {
		return fmt.Errorf("verify: empty block")
	}
	v := &verifier{block: block, states: make([][]bool, len(block.Instructions))}
	entry := make([]bool, block.RegisterCount)
	if len(entry) > 0 {
		// Register %0 holds the block's pipeline input on entry.
		entry[0] = true
	}
	v.propagate(0, entry)
	for len(v.work) > 0 {
		idx := v.work[len(v.work)-1]
		v.work = v.work[:len(v.work)-1]
		if err := v.step(idx); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}
	return nil
}

type verifier struct {
	block *ir.Block
	// states[i] is the set of registers known written on entry to
	// instruction i along every path reaching it; nil until reached.
	states [][]bool
	work   []int
}

// propagate merges a state into an instruction's entry state, enqueueing
// the instruction when the state is new or shrank.
func (v *verifier) propagate(idx int, state []bool) {
	if idx < 0 || idx >= len(v.states) {
		// A jump to the end index falls off the block; Validate allows it
		// and execution reports it, so it is not a register violation.
		return
	}
	existing := v.states[idx]
	if existing == nil {
		v.states[idx] = cloneState(state)
		v.work = append(v.work, idx)
		return
	}
	changed := false
	for r := range existing {
		if existing[r] && !state[r] {
			existing[r] = false
			changed = true
		}
	}
	if changed {
		v.work = append(v.work, idx)
	}
}

func cloneState(s []bool) []bool {
	out := make([]bool, len(s))
	copy(out, s)
	return out
}

// step interprets one instruction's register effects and propagates the
// resulting state along its outgoing edges.
func (v *verifier) step(idx int) error {
	instr := &v.block.Instructions[idx]
	state := cloneState(v.states[idx])

	read := func(r ir.RegID) error {
		if !state[r] {
			return fmt.Errorf("instruction %d (%s): reads register %%%d after drop or move", idx, instr.Op, r)
		}
		return nil
	}
	consume := func(r ir.RegID) error {
		if err := read(r); err != nil {
			return err
		}
		state[r] = false
		return nil
	}
	write := func(r ir.RegID) {
		state[r] = true
	}

	var err error
	switch instr.Op {
	case ir.OpMove:
		err = consume(instr.Src)
		write(instr.Dst)
	case ir.OpClone:
		err = read(instr.Src)
		write(instr.Dst)
	case ir.OpDrop:
		err = consume(instr.Dst)
	case ir.OpCollect, ir.OpSpan, ir.OpNot, ir.OpGlobFrom:
		err = read(instr.Dst)

	case ir.OpLoadLiteral:
		if instr.Lit != nil && instr.Lit.Kind == ir.LitRange && instr.Lit.Range != nil {
			r := instr.Lit.Range
			err = firstErr(consume(r.Start), consume(r.Step), consume(r.End))
		}
		write(instr.Dst)
	case ir.OpLoadValue, ir.OpLoadVariable, ir.OpLoadEnv, ir.OpLoadEnvOpt:
		write(instr.Dst)

	case ir.OpStoreVariable, ir.OpStoreEnv:
		err = consume(instr.Src)
	case ir.OpDropVariable, ir.OpPushFlag, ir.OpPushShortFlag,
		ir.OpCloseFile, ir.OpPopErrorHandler:
		// no register effect

	case ir.OpPushPositional, ir.OpAppendRest, ir.OpPushNamed,
		ir.OpPushShortNamed, ir.OpPushParserInfo:
		err = consume(instr.Src)
	case ir.OpCall:
		// consumes the call context in place and leaves the output there
		err = read(instr.Dst)
	case ir.OpExternalCall:
		err = firstErr(consume(instr.Src), read(instr.Dst))

	case ir.OpRedirectOut, ir.OpRedirectErr:
		err = read(instr.Dst)
	case ir.OpCheckErrRedirected:
		err = read(instr.Src)
	case ir.OpOpenFile, ir.OpWriteFile:
		err = consume(instr.Src)

	case ir.OpStringAppend, ir.OpListPush, ir.OpListSpread, ir.OpRecordSpread:
		err = firstErr(read(instr.Dst), consume(instr.Src))
	case ir.OpRecordInsert:
		err = firstErr(read(instr.Dst), consume(instr.Src), consume(instr.Src2))

	case ir.OpBinaryOp:
		err = firstErr(read(instr.Dst), consume(instr.Src))

	case ir.OpFollowCellPath:
		err = firstErr(read(instr.Dst), consume(instr.Src))
	case ir.OpCloneCellPath:
		err = firstErr(read(instr.Src), consume(instr.Src2))
		write(instr.Dst)
	case ir.OpUpsertCellPath:
		err = firstErr(read(instr.Dst), consume(instr.Src), consume(instr.Src2))

	case ir.OpJump:
		v.propagate(instr.Target, state)
		return nil
	case ir.OpBranchIf:
		if err := consume(instr.Src); err != nil {
			return err
		}
		v.propagate(instr.Target, state)
		v.propagate(idx+1, state)
		return nil
	case ir.OpBranchIfEmpty, ir.OpMatch:
		if err := read(instr.Src); err != nil {
			return err
		}
		v.propagate(instr.Target, state)
		v.propagate(idx+1, state)
		return nil
	case ir.OpCheckMatchGuard:
		err = read(instr.Src)
	case ir.OpIterate:
		if err := read(instr.Src); err != nil {
			return err
		}
		// Exhaustion edge: the instruction drops the stream itself and the
		// element register stays unwritten.
		end := cloneState(state)
		end[instr.Src] = false
		v.propagate(instr.Target, end)
		write(instr.Dst)
		v.propagate(idx+1, state)
		return nil

	case ir.OpOnError:
		v.propagate(instr.Target, state)
		v.propagate(idx+1, state)
		return nil
	case ir.OpOnErrorInto:
		handler := cloneState(state)
		handler[instr.Dst] = true
		v.propagate(instr.Target, handler)
		v.propagate(idx+1, state)
		return nil

	case ir.OpReturnEarly, ir.OpReturn:
		// Terminal; the runtime drops whatever else is still live.
		return read(instr.Src)

	default:
		return fmt.Errorf("instruction %d: unknown opcode %d", idx, instr.Op)
	}

	if err != nil {
		return err
	}
	v.propagate(idx+1, state)
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
