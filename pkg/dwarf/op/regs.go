package op

// Registers is the narrow view of a thread's register file that the
// expression evaluator needs. pkg/proc and pkg/unwind each provide an
// implementation backed by their own register snapshot types.
type Registers interface {
	// Uint64Val returns the value of DWARF register regnum (amd64 DWARF
	// register numbering, see pkg/proc/regnum).
	Uint64Val(regnum uint64) uint64
	// StaticBase is the load bias to add to DW_OP_addr operands.
	StaticBase() uint64
	// FrameBase is the evaluated DW_AT_frame_base of the enclosing
	// function, used by DW_OP_fbreg.
	FrameBase() int64
	// CFA returns the canonical frame address for the current frame, if
	// known.
	CFA() (int64, bool)
}

// StaticRegisters is a plain implementation of Registers for cases where
// no live CFA/FrameBase is available (e.g. evaluating a global variable's
// constant location expression).
type StaticRegisters struct {
	Regs        map[uint64]uint64
	StaticBaseV uint64
	FrameBaseV  int64
	CFAV        int64
	HasCFA      bool
}

func (r StaticRegisters) Uint64Val(regnum uint64) uint64 { return r.Regs[regnum] }
func (r StaticRegisters) StaticBase() uint64              { return r.StaticBaseV }
func (r StaticRegisters) FrameBase() int64                { return r.FrameBaseV }
func (r StaticRegisters) CFA() (int64, bool)              { return r.CFAV, r.HasCFA }
