package frame

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/al13n321/nnd/pkg/dwarf/leb128"
)

// Rule describes how to recover one register's value in the caller.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset   // value is stored at CFA + Offset
	RuleRegister // value is in register Reg
	RuleExpression
	RuleCFA // this is the CFA register/offset rule itself
)

// DWRule is one entry of the per-register rule table.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext is the rule table resulting from running CFI up to a PC:
// the recipe for recovering the CFA and every saved register.
type FrameContext struct {
	loc        uint64
	CFA        DWRule
	Regs       map[uint64]DWRule
	RetAddrReg uint64

	cie           *CommonInformationEntry
	initialRegs   map[uint64]DWRule
	initialCFA    DWRule
	codeAlignment uint64
	dataAlignment int64
	remembered    []rowState
}

type rowState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

const cfaPseudoRegister = ^uint64(0)

func executeDwarfProgramUntilPC(fde *FrameDescriptionEntry, pc uint64) *FrameContext {
	fc := &FrameContext{
		cie:           fde.CIE,
		Regs:          make(map[uint64]DWRule),
		RetAddrReg:    fde.CIE.ReturnAddressRegister,
		codeAlignment: fde.CIE.CodeAlignmentFactor,
		dataAlignment: fde.CIE.DataAlignmentFactor,
		loc:           fde.begin,
	}
	fc.run(fde.CIE.InitialInstructions)
	fc.initialRegs = cloneRegs(fc.Regs)
	fc.initialCFA = fc.CFA
	// Stop once a location advance moves past pc: the rows from there on
	// describe later addresses.
	buf := bytes.NewBuffer(fde.Instructions)
	for buf.Len() > 0 && fc.loc <= pc {
		op, _ := buf.ReadByte()
		fc.exec(op, buf)
	}
	return fc
}

func cloneRegs(m map[uint64]DWRule) map[uint64]DWRule {
	out := make(map[uint64]DWRule, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (fc *FrameContext) run(instructions []byte) {
	buf := bytes.NewBuffer(instructions)
	for buf.Len() > 0 {
		op, _ := buf.ReadByte()
		fc.exec(op, buf)
	}
}

func (fc *FrameContext) exec(op byte, buf *bytes.Buffer) {
	high := op & 0xc0
	low := op & 0x3f
	switch high {
	case 0x40: // DW_CFA_advance_loc
		fc.loc += uint64(low) * fc.codeAlignment
		return
	case 0x80: // DW_CFA_offset
		off, _ := leb128.DecodeUnsigned(buf)
		fc.Regs[uint64(low)] = DWRule{Rule: RuleOffset, Offset: int64(off) * fc.dataAlignment}
		return
	case 0xc0: // DW_CFA_restore
		if r, ok := fc.initialRegs[uint64(low)]; ok {
			fc.Regs[uint64(low)] = r
		}
		return
	}

	switch op {
	case 0x00: // nop
	case 0x01: // set_loc
		var addr uint64
		binary.Read(buf, binary.LittleEndian, &addr)
		fc.loc = addr
	case 0x02: // advance_loc1
		var d uint8
		binary.Read(buf, binary.LittleEndian, &d)
		fc.loc += uint64(d) * fc.codeAlignment
	case 0x03: // advance_loc2
		var d uint16
		binary.Read(buf, binary.LittleEndian, &d)
		fc.loc += uint64(d) * fc.codeAlignment
	case 0x04: // advance_loc4
		var d uint32
		binary.Read(buf, binary.LittleEndian, &d)
		fc.loc += uint64(d) * fc.codeAlignment
	case 0x05: // offset_extended
		reg, _ := leb128.DecodeUnsigned(buf)
		off, _ := leb128.DecodeUnsigned(buf)
		fc.Regs[reg] = DWRule{Rule: RuleOffset, Offset: int64(off) * fc.dataAlignment}
	case 0x06: // restore_extended
		reg, _ := leb128.DecodeUnsigned(buf)
		if r, ok := fc.initialRegs[reg]; ok {
			fc.Regs[reg] = r
		}
	case 0x07: // undefined
		reg, _ := leb128.DecodeUnsigned(buf)
		fc.Regs[reg] = DWRule{Rule: RuleUndefined}
	case 0x08: // same_value
		reg, _ := leb128.DecodeUnsigned(buf)
		fc.Regs[reg] = DWRule{Rule: RuleSameVal}
	case 0x09: // register
		reg, _ := leb128.DecodeUnsigned(buf)
		reg2, _ := leb128.DecodeUnsigned(buf)
		fc.Regs[reg] = DWRule{Rule: RuleRegister, Reg: reg2}
	case 0x0a: // remember_state
		fc.remembered = append(fc.remembered, rowState{cfa: fc.CFA, regs: cloneRegs(fc.Regs)})
	case 0x0b: // restore_state
		if n := len(fc.remembered); n > 0 {
			st := fc.remembered[n-1]
			fc.remembered = fc.remembered[:n-1]
			fc.CFA = st.cfa
			fc.Regs = st.regs
		}
	case 0x0c: // def_cfa
		reg, _ := leb128.DecodeUnsigned(buf)
		off, _ := leb128.DecodeUnsigned(buf)
		fc.CFA = DWRule{Rule: RuleRegister, Reg: reg, Offset: int64(off)}
	case 0x0d: // def_cfa_register
		reg, _ := leb128.DecodeUnsigned(buf)
		fc.CFA.Reg = reg
	case 0x0e: // def_cfa_offset
		off, _ := leb128.DecodeUnsigned(buf)
		fc.CFA.Offset = int64(off)
	case 0x0f: // def_cfa_expression
		n, _ := leb128.DecodeUnsigned(buf)
		expr := make([]byte, n)
		buf.Read(expr)
		fc.CFA = DWRule{Rule: RuleExpression, Expression: expr}
	case 0x10: // expression
		reg, _ := leb128.DecodeUnsigned(buf)
		n, _ := leb128.DecodeUnsigned(buf)
		expr := make([]byte, n)
		buf.Read(expr)
		fc.Regs[reg] = DWRule{Rule: RuleExpression, Expression: expr}
	case 0x11: // offset_extended_sf
		reg, _ := leb128.DecodeUnsigned(buf)
		off, _ := leb128.DecodeSigned(buf)
		fc.Regs[reg] = DWRule{Rule: RuleOffset, Offset: off * fc.dataAlignment}
	case 0x12: // def_cfa_sf
		reg, _ := leb128.DecodeUnsigned(buf)
		off, _ := leb128.DecodeSigned(buf)
		fc.CFA = DWRule{Rule: RuleRegister, Reg: reg, Offset: off * fc.dataAlignment}
	case 0x13: // def_cfa_offset_sf
		off, _ := leb128.DecodeSigned(buf)
		fc.CFA.Offset = off * fc.dataAlignment
	default:
		// Unrecognized/vendor opcode: best effort, ignore. A malformed
		// CFI program is a symbol error (§7), not fatal to the session.
	}
}

// IsSignalFrame reports whether this FDE's CIE carries the 'S' .eh_frame
// augmentation character, marking a signal-handler trampoline whose
// caller's full register set (including PC) must be restored rather than
// just the callee-saved ones (spec.md §4.3 "Signal frames: restore full
// register set including instruction pointer").
func (fc *FrameContext) IsSignalFrame() bool {
	return fc.cie != nil && strings.Contains(fc.cie.Augmentation, "S")
}

// ValueFor resolves a register rule against a CFA and a callback able to
// read live registers/memory, yielding the caller's value for that
// register.
func (fc *FrameContext) ValueFor(reg uint64, cfa int64, readReg func(uint64) uint64, readMem func(addr uint64, out []byte) error) (uint64, bool) {
	rule, ok := fc.Regs[reg]
	if !ok {
		return 0, false
	}
	switch rule.Rule {
	case RuleUndefined:
		return 0, false
	case RuleSameVal:
		return readReg(reg), true
	case RuleOffset:
		var buf [8]byte
		if err := readMem(uint64(cfa+rule.Offset), buf[:]); err != nil {
			return 0, false
		}
		return binary.LittleEndian.Uint64(buf[:]), true
	case RuleRegister:
		return readReg(rule.Reg), true
	default:
		return 0, false
	}
}
