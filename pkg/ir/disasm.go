package ir

import (
	"fmt"
	"strings"
	"time"
)

// Disassemble renders the block in its stable, line-oriented textual form:
// a two-line header with the register/instruction/data/file counts, then
// one line per instruction with index, mnemonic, operands, and an optional
// trailing comment. The output is a golden-test surface: for a fixed block
// it never changes between runs.
func (b *Block) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %d registers, %d instructions, %d bytes of data\n",
		b.RegisterCount, len(b.Instructions), len(b.Data))
	fmt.Fprintf(&sb, "# %d file(s) used\n", b.FileCount)
	for idx := range b.Instructions {
		sb.WriteString(b.DisassembleInstruction(idx))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DisassembleInstruction renders a single instruction line (no newline).
func (b *Block) DisassembleInstruction(idx int) string {
	instr := &b.Instructions[idx]
	line := fmt.Sprintf("%4d: %-20s %s", idx, instr.Op.String(), b.operands(instr))
	line = strings.TrimRight(line, " ")
	if idx < len(b.Comments) && b.Comments[idx] != "" {
		if pad := 50 - len(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		line += " # " + b.Comments[idx]
	}
	return line
}

func reg(r RegID) string { return fmt.Sprintf("%%%d", r) }

func (b *Block) operands(i *Instruction) string {
	switch i.Op {
	case OpMove, OpClone, OpStringAppend, OpListPush, OpListSpread, OpRecordSpread:
		return fmt.Sprintf("%s, %s", reg(i.Dst), reg(i.Src))
	case OpDrop, OpCollect, OpNot:
		return reg(i.Dst)
	case OpReturn, OpReturnEarly, OpPushPositional, OpAppendRest,
		OpCheckErrRedirected, OpCheckMatchGuard:
		return reg(i.Src)
	case OpSpan:
		return fmt.Sprintf("%s, span(%d..%d)", reg(i.Dst), i.Span.Start, i.Span.End)
	case OpLoadLiteral:
		return fmt.Sprintf("%s, %s", reg(i.Dst), b.formatLiteral(i.Lit))
	case OpLoadValue:
		return fmt.Sprintf("%s, value(%s)", reg(i.Dst), i.Value.String())
	case OpLoadVariable:
		return fmt.Sprintf("%s, var %d", reg(i.Dst), i.Var)
	case OpStoreVariable:
		return fmt.Sprintf("var %d, %s", i.Var, reg(i.Src))
	case OpDropVariable:
		return fmt.Sprintf("var %d", i.Var)
	case OpLoadEnv, OpLoadEnvOpt:
		return fmt.Sprintf("%s, %q", reg(i.Dst), b.DataString(i.Data))
	case OpStoreEnv:
		return fmt.Sprintf("%q, %s", b.DataString(i.Data), reg(i.Src))
	case OpPushFlag:
		return fmt.Sprintf("--%s", b.DataString(i.Data))
	case OpPushShortFlag:
		return fmt.Sprintf("-%s", b.DataString(i.Data))
	case OpPushNamed:
		return fmt.Sprintf("--%s, %s", b.DataString(i.Data), reg(i.Src))
	case OpPushShortNamed:
		return fmt.Sprintf("-%s, %s", b.DataString(i.Data), reg(i.Src))
	case OpPushParserInfo:
		return fmt.Sprintf("%q, %s", b.DataString(i.Data), reg(i.Src))
	case OpCall:
		return fmt.Sprintf("decl %d, %s, argc %d", i.Decl, reg(i.Dst), i.Argc)
	case OpExternalCall:
		return fmt.Sprintf("%s, %s, argc %d", reg(i.Src), reg(i.Dst), i.Argc)
	case OpRedirectOut, OpRedirectErr:
		if i.Mode == RedirectModeFile {
			return fmt.Sprintf("file(%d)", i.File)
		}
		return i.Mode.String()
	case OpOpenFile:
		appendFlag := ""
		if i.Append {
			appendFlag = ", append"
		}
		return fmt.Sprintf("file %d, path %s%s", i.File, reg(i.Src), appendFlag)
	case OpWriteFile:
		return fmt.Sprintf("file %d, %s", i.File, reg(i.Src))
	case OpCloseFile:
		return fmt.Sprintf("file %d", i.File)
	case OpGlobFrom:
		if i.NoExpand {
			return fmt.Sprintf("%s, no-expand", reg(i.Dst))
		}
		return reg(i.Dst)
	case OpRecordInsert:
		return fmt.Sprintf("%s, %s, %s", reg(i.Dst), reg(i.Src), reg(i.Src2))
	case OpBinaryOp:
		return fmt.Sprintf("%s, %s, %s", reg(i.Dst), i.Operator.String(), reg(i.Src))
	case OpFollowCellPath:
		return fmt.Sprintf("%s, %s", reg(i.Dst), reg(i.Src))
	case OpCloneCellPath, OpUpsertCellPath:
		return fmt.Sprintf("%s, %s, %s", reg(i.Dst), reg(i.Src), reg(i.Src2))
	case OpJump:
		return fmt.Sprintf("%d", i.Target)
	case OpBranchIf, OpBranchIfEmpty:
		return fmt.Sprintf("%s, %d", reg(i.Src), i.Target)
	case OpMatch:
		return fmt.Sprintf("pattern, %s, %d", reg(i.Src), i.Target)
	case OpIterate:
		return fmt.Sprintf("%s, %s, end %d", reg(i.Dst), reg(i.Src), i.Target)
	case OpOnError:
		return fmt.Sprintf("%d", i.Target)
	case OpOnErrorInto:
		return fmt.Sprintf("%d, %s", i.Target, reg(i.Dst))
	case OpPopErrorHandler:
		return ""
	}
	return ""
}

func (b *Block) formatLiteral(lit *Literal) string {
	if lit == nil {
		return "<nil literal>"
	}
	switch lit.Kind {
	case LitBool:
		return fmt.Sprintf("bool(%t)", lit.Bool)
	case LitInt:
		return fmt.Sprintf("int(%d)", lit.Int)
	case LitFloat:
		return fmt.Sprintf("float(%g)", lit.Float)
	case LitFilesize:
		return fmt.Sprintf("filesize(%db)", lit.Int)
	case LitDuration:
		return fmt.Sprintf("duration(%dns)", lit.Int)
	case LitBinary:
		data, _ := lit.Slice.Get(b.Data)
		return fmt.Sprintf("binary(0x[%x])", data)
	case LitBlock:
		return fmt.Sprintf("block(%d)", lit.Block)
	case LitClosure:
		return fmt.Sprintf("closure(%d)", lit.Block)
	case LitRowCondition:
		return fmt.Sprintf("row-condition(%d)", lit.Block)
	case LitRange:
		r := lit.Range
		return fmt.Sprintf("range(%s, %s, %s, %s)", reg(r.Start), reg(r.Step), reg(r.End), r.Inclusion.String())
	case LitList:
		return fmt.Sprintf("list(capacity %d)", lit.Capacity)
	case LitRecord:
		return fmt.Sprintf("record(capacity %d)", lit.Capacity)
	case LitFilepath, LitDirectory, LitGlobPattern:
		expand := "expand"
		if lit.NoExpand {
			expand = "no-expand"
		}
		return fmt.Sprintf("%s(%q, %s)", lit.Kind.String(), b.DataString(lit.Slice), expand)
	case LitString:
		return fmt.Sprintf("string(%q)", b.DataString(lit.Slice))
	case LitRawString:
		return fmt.Sprintf("raw-string(%q)", b.DataString(lit.Slice))
	case LitCellPath:
		return fmt.Sprintf("cell-path(%s)", lit.CellPath.String())
	case LitDate:
		return fmt.Sprintf("date(%s)", lit.Time.Format(time.RFC3339))
	case LitNothing:
		return "nothing"
	}
	return lit.Kind.String()
}
