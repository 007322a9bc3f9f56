package frame

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func sleb(v int64) []byte {
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

// buildSection assembles a minimal .debug_frame section with one CIE
// (return-address register 16, CFA = rsp+8, return address recovered at
// CFA-8 — the prologue-entry convention x86-64 .eh_frame CIEs use) and
// one FDE covering [begin, begin+size).
func buildSection(t *testing.T, augmentation string, begin, size uint64) []byte {
	t.Helper()

	initial := []byte{0x0c}                // DW_CFA_def_cfa
	initial = append(initial, uleb(7)...)   // register 7 (rsp)
	initial = append(initial, uleb(8)...)   // offset 8
	initial = append(initial, 0x90)         // DW_CFA_offset, register 16
	initial = append(initial, uleb(1)...)   // factored offset 1 * daf(-8) = -8

	cieBody := []byte{0xff, 0xff, 0xff, 0xff} // CIE id
	cieBody = append(cieBody, 1)              // version
	cieBody = append(cieBody, []byte(augmentation)...)
	cieBody = append(cieBody, 0) // augmentation nul terminator
	cieBody = append(cieBody, uleb(1)...)   // code alignment factor
	cieBody = append(cieBody, sleb(-8)...)  // data alignment factor
	cieBody = append(cieBody, uleb(16)...)  // return address register
	cieBody = append(cieBody, initial...)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(len(cieBody)))
	out.Write(cieBody)

	fdeBody := []byte{0x00, 0x00, 0x00, 0x00} // CIE pointer, value unused by Parse
	beginBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(beginBytes, begin)
	sizeBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizeBytes, size)
	fdeBody = append(fdeBody, beginBytes...)
	fdeBody = append(fdeBody, sizeBytes...)

	binary.Write(&out, binary.LittleEndian, uint32(len(fdeBody)))
	out.Write(fdeBody)

	return out.Bytes()
}

func TestParseAndFDEForPC(t *testing.T) {
	data := buildSection(t, "", 0x401000, 0x20)
	fdes, err := Parse(data, binary.LittleEndian, 0, 8)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(fdes) != 1 {
		t.Fatalf("got %d FDEs, want 1", len(fdes))
	}

	fde, err := fdes.FDEForPC(0x401010)
	if err != nil {
		t.Fatalf("FDEForPC(in range): %v", err)
	}
	if fde.Begin() != 0x401000 || fde.End() != 0x401020 {
		t.Errorf("fde range = [%#x, %#x), want [0x401000, 0x401020)", fde.Begin(), fde.End())
	}

	if _, err := fdes.FDEForPC(0x500000); err == nil {
		t.Error("FDEForPC(out of range) = nil error, want ErrNoFDEForPC")
	}
}

func TestParseAppliesStaticBase(t *testing.T) {
	data := buildSection(t, "", 0x1000, 0x10)
	fdes, err := Parse(data, binary.LittleEndian, 0x555500000000, 8)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fde, err := fdes.FDEForPC(0x555500001008)
	if err != nil {
		t.Fatalf("FDEForPC: %v", err)
	}
	if fde.Begin() != 0x555500001000 {
		t.Errorf("begin = %#x, want 0x555500001000 (static base not applied)", fde.Begin())
	}
}

func TestEstablishFrameCFAAndRetAddrRule(t *testing.T) {
	data := buildSection(t, "", 0x401000, 0x20)
	fdes, err := Parse(data, binary.LittleEndian, 0, 8)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fde, _ := fdes.FDEForPC(0x401005)

	fc := fde.EstablishFrame(0x401005)
	if fc.CFA.Rule != RuleRegister || fc.CFA.Reg != 7 || fc.CFA.Offset != 8 {
		t.Fatalf("CFA rule = %+v, want {RuleRegister reg=7 offset=8}", fc.CFA)
	}
	if fc.RetAddrReg != 16 {
		t.Fatalf("RetAddrReg = %d, want 16", fc.RetAddrReg)
	}

	mem := map[uint64]uint64{0x7ffe1000: 0x401234}
	readMem := func(addr uint64, out []byte) error {
		binary.LittleEndian.PutUint64(out, mem[addr])
		return nil
	}
	readReg := func(uint64) uint64 { return 0 }
	val, ok := fc.ValueFor(16, 0x7ffe1008, readReg, readMem)
	if !ok {
		t.Fatal("ValueFor(retaddr reg) = not found")
	}
	if val != 0x401234 {
		t.Errorf("ValueFor(retaddr reg) = %#x, want 0x401234", val)
	}
}

func TestIsSignalFrame(t *testing.T) {
	sigData := buildSection(t, "S", 0x401000, 0x10)
	fdes, err := Parse(sigData, binary.LittleEndian, 0, 8)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fde, _ := fdes.FDEForPC(0x401000)
	if !fde.EstablishFrame(0x401000).IsSignalFrame() {
		t.Error("IsSignalFrame() = false for a CIE with augmentation \"S\"")
	}

	plainData := buildSection(t, "", 0x401000, 0x10)
	fdes2, _ := Parse(plainData, binary.LittleEndian, 0, 8)
	fde2, _ := fdes2.FDEForPC(0x401000)
	if fde2.EstablishFrame(0x401000).IsSignalFrame() {
		t.Error("IsSignalFrame() = true for a CIE with no augmentation")
	}
}

func TestFDEForPCNoEntries(t *testing.T) {
	var fdes FrameDescriptionEntries
	if _, err := fdes.FDEForPC(0x1000); err == nil {
		t.Error("FDEForPC on an empty set = nil error, want ErrNoFDEForPC")
	}
}
