// Package unwind is nnd's stack unwinder and frame resolver (spec.md §2
// "Unwinder" row, §4.3): a DWARF CFI interpreter that walks the physical
// frame chain and expands each physical frame into 0+ inlined frames.
//
// Grounded on go-delve/delve's pkg/proc stack.go (stackIterator.Next /
// frameInfo), adapted to consume this module's own pkg/dwarf/frame CFI
// machinery and pkg/symbols' inline-call-site tree instead of delve's.
package unwind

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/al13n321/nnd/pkg/dwarf/frame"
	"github.com/al13n321/nnd/pkg/dwarf/op"
	"github.com/al13n321/nnd/pkg/symbols"
)

// MemReader is the narrow view of pkg/proc.Controller the unwinder needs
// to read the debuggee's stack and saved registers.
type MemReader interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
}

// RegReader is the narrow view of pkg/proc.Registers the unwinder needs to
// seed the innermost frame.
type RegReader interface {
	Uint64Val(regnum uint64) uint64
	PC() uint64
	SP() uint64
	BP() uint64
}

// IndexResolver maps a PC to the symbol index of whichever mapped binary
// covers it (the main executable or a loaded shared object), and to that
// binary's load bias so CFI addresses (already rebased by pkg/symbols at
// parse time) line up. internal/session implements this over the set of
// binaries currently mapped into the debuggee, per spec.md §9 "Global
// state... a single owner passed explicitly".
type IndexResolver interface {
	IndexForPC(pc uint64) *symbols.Index
}

// ErrBottomOfStack marks the end of the frame chain internally; Walk
// treats it as a normal stopping condition rather than propagating it
// (spec.md §4.3 "...produces the outer frame or indicates 'bottom of
// stack'").
var ErrBottomOfStack = errors.New("unwind: bottom of stack")

// ErrCannotUnwindPLT is returned when a PC falls inside a PLT/PLT-GOT stub
// with no covering CFI. spec.md §9 open question: "PLT/PLT-GOT unwinding
// is not implemented; strategy is to pattern-match stub shapes..." — this
// implementation detects the condition and reports it distinctly from a
// generic missing-CFI error, but does not yet synthesize the stub's rule.
var ErrCannotUnwindPLT = errors.New("unwind: cannot unwind through PLT stub (no CFI)")

// Frame is one entry of a stack trace: either a physical frame (CFA,
// return address, recovered registers) or a synthesized inline frame that
// shares the enclosing physical frame's CFA and registers but has its own
// function identity and call-site line (spec.md §3 "Frame").
type Frame struct {
	PC     uint64
	CFA    uint64
	Regs   *frame.FrameContext // nil for a synthesized inline frame
	Func   *symbols.Function   // the enclosing (possibly outlined) function, if known
	Inline *symbols.InlineCallSite // non-nil for a synthesized inline frame
	Top    bool                    // innermost frame (PC used as-is, not PC-1, for line lookup)
}

// IsInline reports whether this Frame was synthesized from a
// DW_TAG_inlined_subroutine rather than being a physical call frame.
func (f *Frame) IsInline() bool { return f.Inline != nil }

// Unwinder walks one thread's physical frame chain plus inline expansion.
type Unwinder struct {
	Mem      MemReader
	Index    IndexResolver
	MaxDepth int // 0 means spec.md §8's default cap
}

const defaultMaxDepth = 512

// Walk produces the full frame list (physical and inlined, innermost
// first) starting at regs' PC/SP/BP, per spec.md §4.3.
func (u *Unwinder) Walk(regs RegReader) ([]Frame, error) {
	max := u.MaxDepth
	if max <= 0 {
		max = defaultMaxDepth
	}
	var out []Frame
	pc, sp, bp := regs.PC(), regs.SP(), regs.BP()
	top := true
	viaSignal := false

	for len(out) < max {
		idx := u.Index.IndexForPC(pc)
		// A frame reached by unwinding through a signal trampoline holds the
		// actual interrupted instruction, not a call-site return address, so
		// it gets the same "use PC as-is" treatment as the true top frame
		// (spec.md §4.3 "Signal frames: restore full register set including
		// instruction pointer").
		effectiveTop := top || viaSignal
		phys, fc, err := u.physicalFrame(idx, pc, sp, bp)
		if err != nil {
			if errors.Is(err, ErrBottomOfStack) {
				break
			}
			return out, err
		}
		out = append(out, u.expandInlines(idx, phys, effectiveTop)...)
		top = false
		viaSignal = fc != nil && fc.IsSignalFrame()

		if phys.Regs == nil || phys.Regs.regRecovered == 0 {
			break
		}
		sp = phys.CFA
		if phys.Regs.haveBP {
			bp = phys.Regs.bpRecovered
		}
		pc = phys.Regs.regRecovered
	}
	return out, nil
}

// physicalFrameResult is an internal carrier so recoverBP/callers can see
// both the Frame and the recovered return-address register value without
// re-deriving it.
type physicalFrameResult struct {
	PC   uint64
	CFA  uint64
	Regs *recoveredRegs
	FC   *frame.FrameContext // the CFI rule table this frame was established from, nil on a fallback path
}

type recoveredRegs struct {
	regRecovered uint64 // caller's PC (return address)
	bpRecovered  uint64
	haveBP       bool
}

func (u *Unwinder) physicalFrame(idx *symbols.Index, pc, sp, bp uint64) (physicalFrameResult, *frame.FrameContext, error) {
	if idx == nil {
		return u.noSymbolsFrame(pc, sp, bp)
	}
	fde, err := idx.Frame.FDEForPC(pc)
	if err != nil {
		if plt, perr := u.isPLTStub(idx, pc); perr == nil && plt {
			return physicalFrameResult{}, nil, ErrCannotUnwindPLT
		}
		return u.framePointerFallback(pc, sp, bp)
	}
	fc := fde.EstablishFrame(pc)

	cfa, err := u.computeCFA(fc, sp, bp)
	if err != nil {
		return physicalFrameResult{}, nil, err
	}

	readMem := func(addr uint64, out []byte) error {
		_, e := u.Mem.ReadMemory(out, addr)
		return e
	}
	// readReg backs RuleSameVal for a register rule: the only registers a
	// Frame has a live value for at this point are the incoming sp/bp.
	readReg := func(reg uint64) uint64 {
		switch reg {
		case spRegnum:
			return sp
		case bpRegnum:
			return bp
		default:
			return 0
		}
	}
	retAddr, ok := fc.ValueFor(fc.RetAddrReg, int64(cfa), readReg, readMem)
	if !ok || retAddr == 0 {
		return physicalFrameResult{}, nil, ErrBottomOfStack
	}

	rr := &recoveredRegs{regRecovered: retAddr}
	if v, found := fc.ValueFor(bpRegnum, int64(cfa), readReg, readMem); found {
		rr.bpRecovered, rr.haveBP = v, true
	}
	return physicalFrameResult{PC: pc, CFA: cfa, Regs: rr, FC: fc}, fc, nil
}

// computeCFA resolves the FrameContext's own CFA rule (always
// register+offset or an expression, never "same value"/"undefined") to a
// concrete address.
func (u *Unwinder) computeCFA(fc *frame.FrameContext, sp, bp uint64) (uint64, error) {
	switch fc.CFA.Rule {
	case frame.RuleRegister:
		base := sp
		if fc.CFA.Reg == bpRegnum {
			base = bp
		} else if fc.CFA.Reg != spRegnum {
			return 0, fmt.Errorf("unwind: CFA register %d unsupported outside rsp/rbp", fc.CFA.Reg)
		}
		return uint64(int64(base) + fc.CFA.Offset), nil
	case frame.RuleExpression:
		regs := op.StaticRegisters{Regs: map[uint64]uint64{spRegnum: sp, bpRegnum: bp}}
		readMem := func(addr uint64, out []byte) error {
			_, e := u.Mem.ReadMemory(out, addr)
			return e
		}
		v, _, err := op.ExecuteStackProgram(regs, fc.CFA.Expression, 8, readMem)
		return uint64(v), err
	default:
		return 0, fmt.Errorf("unwind: no CFA rule at this PC")
	}
}

// framePointerFallback is used when no FDE covers pc (stripped binary, or
// a -fomit-frame-pointer-free stub): it assumes the standard x86-64
// push-rbp prologue convention, same fallback go-delve/delve's
// stackIterator.frameInfo uses "when no FDE is available".
func (u *Unwinder) framePointerFallback(pc, sp, bp uint64) (physicalFrameResult, *frame.FrameContext, error) {
	if bp == 0 {
		return physicalFrameResult{PC: pc, CFA: sp}, nil, nil // no caller: keep this frame, stop the walk
	}
	var buf [8]byte
	if _, err := u.Mem.ReadMemory(buf[:], bp+8); err != nil {
		return physicalFrameResult{}, nil, err
	}
	retAddr := binary.LittleEndian.Uint64(buf[:])
	var savedBP [8]byte
	if _, err := u.Mem.ReadMemory(savedBP[:], bp); err != nil {
		return physicalFrameResult{}, nil, err
	}
	cfa := bp + 16
	rr := &recoveredRegs{regRecovered: retAddr, bpRecovered: binary.LittleEndian.Uint64(savedBP[:]), haveBP: true}
	return physicalFrameResult{PC: pc, CFA: cfa, Regs: rr}, nil, nil
}

func (u *Unwinder) noSymbolsFrame(pc, sp, bp uint64) (physicalFrameResult, *frame.FrameContext, error) {
	return u.framePointerFallback(pc, sp, bp)
}

// isPLTStub reports whether pc falls inside a .plt/.plt.sec section, the
// signal this implementation uses to distinguish "deliberately unwindable
// once stub recognition lands" from "genuinely missing CFI" (spec.md §9
// open question).
func (u *Unwinder) isPLTStub(idx *symbols.Index, pc uint64) (bool, error) {
	if idx == nil || idx.Binary == nil {
		return false, nil
	}
	for _, name := range []string{".plt", ".plt.sec", ".plt.got"} {
		sec, ok := idx.Binary.Sections[name]
		if !ok {
			continue
		}
		lo := sec.Addr + idx.Binary.LoadBias
		hi := lo + sec.Size
		if pc >= lo && pc < hi {
			return true, nil
		}
	}
	return false, nil
}

// expandInlines synthesizes the virtual inline frames above phys by
// walking the enclosing function's DW_TAG_inlined_subroutine tree
// outermost-to-innermost for every node whose PC range contains phys.PC
// (spec.md §4.3 "...walks its tree of inlined_subroutine children whose
// PC ranges contain the current address, ordered from outermost inline to
// innermost" describes this descent). The frames returned are then
// reported innermost-first: the physical function is the caller of
// everything inlined into it, so it is the outermost frame of the group
// and goes last; the deepest inline site is where phys.PC actually sits,
// so it goes first and carries Top (spec.md §3 "Frames are ordered
// innermost to outermost").
func (u *Unwinder) expandInlines(idx *symbols.Index, phys physicalFrameResult, top bool) []Frame {
	base := Frame{PC: phys.PC, CFA: phys.CFA, Regs: phys.FC}
	if idx == nil {
		base.Top = top
		return []Frame{base}
	}
	fn := idx.FuncForPC(phys.PC)
	base.Func = fn
	if fn == nil {
		base.Top = top
		return []Frame{base}
	}

	var chain []*symbols.InlineCallSite
	var walk func(sites []*symbols.InlineCallSite)
	walk = func(sites []*symbols.InlineCallSite) {
		for _, s := range sites {
			if phys.PC >= s.LowPC && phys.PC < s.HighPC {
				chain = append(chain, s)
				walk(s.Children)
				return
			}
		}
	}
	walk(fn.InlineSites)
	if len(chain) == 0 {
		base.Top = top
		return []Frame{base}
	}

	frames := make([]Frame, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		frames = append(frames, Frame{PC: phys.PC, CFA: phys.CFA, Func: fn, Inline: chain[i]})
	}
	frames[0].Top = top
	frames = append(frames, base)
	return frames
}

const (
	spRegnum = 7 // regnum.Rsp
	bpRegnum = 6 // regnum.Rbp
)
