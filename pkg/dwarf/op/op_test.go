package op

import (
	"encoding/binary"
	"testing"
)

func runProgram(t *testing.T, regs Registers, readMem func(uint64, []byte) error, instr []byte) int64 {
	t.Helper()
	v, pieces, err := ExecuteStackProgram(regs, instr, 8, readMem)
	if err != nil {
		t.Fatalf("ExecuteStackProgram(% x): %v", instr, err)
	}
	if pieces != nil {
		t.Fatalf("ExecuteStackProgram(% x): expected a plain value, got pieces %+v", instr, pieces)
	}
	return v
}

func TestExecuteStackProgramArithmetic(t *testing.T) {
	// DW_OP_constu 10, DW_OP_constu 3, DW_OP_minus -> 7
	instr := []byte{byte(DW_OP_constu), 10, byte(DW_OP_constu), 3, byte(DW_OP_minus)}
	got := runProgram(t, StaticRegisters{}, nil, instr)
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestExecuteStackProgramLiterals(t *testing.T) {
	instr := []byte{byte(DW_OP_lit0) + 5, byte(DW_OP_lit0) + 2, byte(DW_OP_plus)}
	got := runProgram(t, StaticRegisters{}, nil, instr)
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestExecuteStackProgramFbreg(t *testing.T) {
	// DW_OP_fbreg -8 against a frame base of 0x1000 should yield 0xff8.
	instr := append([]byte{byte(DW_OP_fbreg)}, sleb128(-8)...)
	regs := StaticRegisters{FrameBaseV: 0x1000}
	got := runProgram(t, regs, nil, instr)
	if got != 0x1000-8 {
		t.Errorf("got %#x, want %#x", got, 0x1000-8)
	}
}

func TestExecuteStackProgramCallFrameCFA(t *testing.T) {
	instr := []byte{byte(DW_OP_call_frame_cfa)}
	got := runProgram(t, StaticRegisters{CFAV: 0x7ffe1230, HasCFA: true}, nil, instr)
	if got != 0x7ffe1230 {
		t.Errorf("got %#x, want 0x7ffe1230", got)
	}

	if _, _, err := ExecuteStackProgram(StaticRegisters{}, instr, 8, nil); err == nil {
		t.Error("expected an error when no CFA is available, got nil")
	}
}

func TestExecuteStackProgramDeref(t *testing.T) {
	mem := map[uint64]uint64{0x2000: 0xdeadbeef}
	readMem := func(addr uint64, out []byte) error {
		binary.LittleEndian.PutUint64(out[:min(len(out), 8)], mem[addr])
		return nil
	}
	instr := []byte{byte(DW_OP_addr), 0, 0x20, 0, 0, 0, 0, 0, 0, byte(DW_OP_deref)}
	got := runProgram(t, StaticRegisters{}, readMem, instr)
	if uint64(got) != 0xdeadbeef {
		t.Errorf("got %#x, want 0xdeadbeef", got)
	}
}

func TestExecuteStackProgramBreg(t *testing.T) {
	regs := StaticRegisters{Regs: map[uint64]uint64{6: 0x7ffe0000}} // rbp
	instr := append([]byte{byte(DW_OP_breg0) + 6}, sleb128(16)...)
	got := runProgram(t, regs, nil, instr)
	if uint64(got) != 0x7ffe0010 {
		t.Errorf("got %#x, want 0x7ffe0010", got)
	}
}

func TestExecuteStackProgramRegisterPiece(t *testing.T) {
	// DW_OP_reg0 describes a value wholly in register 0 (rax), not memory:
	// the result comes back as a Piece, not a plain stack value.
	instr := []byte{byte(DW_OP_reg0)}
	_, pieces, err := ExecuteStackProgram(StaticRegisters{}, instr, 8, nil)
	if err != nil {
		t.Fatalf("ExecuteStackProgram: %v", err)
	}
	if len(pieces) != 1 || !pieces[0].IsRegister || pieces[0].RegNum != 0 {
		t.Fatalf("pieces = %+v, want a single register-0 piece", pieces)
	}
}

func TestExecuteStackProgramStackUnderflow(t *testing.T) {
	instr := []byte{byte(DW_OP_plus)}
	if _, _, err := ExecuteStackProgram(StaticRegisters{}, instr, 8, nil); err == nil {
		t.Error("expected a stack-underflow error, got nil")
	}
}

func TestExecuteStackProgramComparisons(t *testing.T) {
	cases := []struct {
		op   Opcode
		a, b int64
		want int64
	}{
		{DW_OP_eq, 3, 3, 1},
		{DW_OP_eq, 3, 4, 0},
		{DW_OP_lt, 3, 4, 1},
		{DW_OP_ge, 4, 4, 1},
	}
	for _, c := range cases {
		instr := append(append([]byte{byte(DW_OP_consts)}, sleb128(c.a)...), append([]byte{byte(DW_OP_consts)}, sleb128(c.b)...)...)
		instr = append(instr, byte(c.op))
		got := runProgram(t, StaticRegisters{}, nil, instr)
		if got != c.want {
			t.Errorf("%d %v %d = %d, want %d", c.a, c.op, c.b, got, c.want)
		}
	}
}

// sleb128 is a minimal signed-LEB128 encoder for building test programs;
// pkg/dwarf/leb128 only exposes a decoder, which is all the rest of the
// module needs.
func sleb128(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBit := b&0x40 != 0
		done := (v == 0 && !signBit) || (v == -1 && signBit)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			break
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
