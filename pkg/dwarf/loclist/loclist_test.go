package loclist

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func putAddr(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putEntry(buf *bytes.Buffer, lo, hi uint64, instr []byte) {
	putAddr(buf, lo)
	putAddr(buf, hi)
	var lenb [2]byte
	binary.LittleEndian.PutUint16(lenb[:], uint16(len(instr)))
	buf.Write(lenb[:])
	buf.Write(instr)
}

func putTerminator(buf *bytes.Buffer) {
	putAddr(buf, 0)
	putAddr(buf, 0)
}

func TestReaderNextYieldsEntriesThenStops(t *testing.T) {
	var buf bytes.Buffer
	putEntry(&buf, 0x10, 0x20, []byte{0x91, 0x00}) // DW_OP_fbreg 0
	putEntry(&buf, 0x20, 0x30, []byte{0x50})       // DW_OP_reg0
	putTerminator(&buf)

	r := New(buf.Bytes())
	var e Entry
	if !r.Next(&e) {
		t.Fatal("Next() = false on first entry")
	}
	if e.LowPC != 0x10 || e.HighPC != 0x20 || !bytes.Equal(e.Instr, []byte{0x91, 0x00}) {
		t.Errorf("entry 1 = %+v", e)
	}
	if !r.Next(&e) {
		t.Fatal("Next() = false on second entry")
	}
	if e.LowPC != 0x20 || e.HighPC != 0x30 {
		t.Errorf("entry 2 = %+v", e)
	}
	if r.Next(&e) {
		t.Error("Next() = true past the terminator")
	}
}

func TestReaderEmpty(t *testing.T) {
	if !New(nil).Empty() {
		t.Error("Empty() = false for a nil-backed reader")
	}
	var buf bytes.Buffer
	putTerminator(&buf)
	if New(buf.Bytes()).Empty() {
		t.Error("Empty() = true for a non-empty backing slice")
	}
}

func TestFindLocWithinRange(t *testing.T) {
	var buf bytes.Buffer
	instrA := []byte{0x91, 0x10}
	instrB := []byte{0x91, 0x20}
	putEntry(&buf, 0x10, 0x20, instrA)
	putEntry(&buf, 0x20, 0x30, instrB)
	putTerminator(&buf)

	r := New(buf.Bytes())
	if got := r.FindLoc(0, 0x15); !bytes.Equal(got, instrA) {
		t.Errorf("FindLoc(0x15) = % x, want % x", got, instrA)
	}
	if got := r.FindLoc(0, 0x25); !bytes.Equal(got, instrB) {
		t.Errorf("FindLoc(0x25) = % x, want % x", got, instrB)
	}
	if got := r.FindLoc(0, 0x35); got != nil {
		t.Errorf("FindLoc(0x35) = % x, want nil (out of range)", got)
	}
}

func TestFindLocAppliesBaseAddressSelection(t *testing.T) {
	var buf bytes.Buffer
	instr := []byte{0x91, 0x08}
	// A base-address-selection entry has LowPC == all-ones; HighPC carries
	// the new base that subsequent ranges are offset from.
	putAddr(&buf, ^uint64(0))
	putAddr(&buf, 0x500000)
	putEntry(&buf, 0x10, 0x20, instr)
	putTerminator(&buf)

	r := New(buf.Bytes())
	if got := r.FindLoc(0, 0x500015); !bytes.Equal(got, instr) {
		t.Errorf("FindLoc(0x500015) = % x, want % x", got, instr)
	}
	if got := r.FindLoc(0, 0x15); got != nil {
		t.Errorf("FindLoc(0x15) = % x, want nil (pre-rebase address out of range)", got)
	}
}

func TestEntryBaseAddressSelection(t *testing.T) {
	e := Entry{LowPC: ^uint64(0), HighPC: 0x1000}
	if !e.BaseAddressSelection() {
		t.Error("BaseAddressSelection() = false for an all-ones LowPC")
	}
	e2 := Entry{LowPC: 0x10, HighPC: 0x20}
	if e2.BaseAddressSelection() {
		t.Error("BaseAddressSelection() = true for an ordinary range entry")
	}
}
