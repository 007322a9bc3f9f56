// Package loclist parses DWARF location lists: the address-range-keyed
// alternative to a single constant location expression (spec.md §3
// "Location expression").
//
// Adapted from go-delve/delve's pkg/dwarf/loclist, restricted to the
// classic .debug_loc encoding (DWARF 2-4) with a fixed 8-byte pointer
// size (amd64-only scope). The DWARF 5 .debug_loclists encoding
// (DW_LLE_* entries) is not decoded.
package loclist

import "encoding/binary"

// Entry is one (address-range -> expression) pair, or a base-address
// selection entry used to rebase subsequent ranges.
type Entry struct {
	LowPC, HighPC uint64
	Instr         []byte
}

// BaseAddressSelection reports whether this entry rebases LowPC for
// subsequent entries rather than describing a range.
func (e *Entry) BaseAddressSelection() bool {
	return e.LowPC == ^uint64(0)
}

// Reader streams entries out of a .debug_loc section.
type Reader struct {
	data []byte
	cur  int
}

// New returns a reader over the raw bytes of .debug_loc.
func New(data []byte) *Reader {
	return &Reader{data: data}
}

// Empty reports whether this reader has any backing data at all.
func (r *Reader) Empty() bool { return len(r.data) == 0 }

// Seek moves the reader to the given section offset (as found in a
// DW_AT_location attribute whose form is a loclist offset, not an
// inline exprloc).
func (r *Reader) Seek(off int) { r.cur = off }

// Next advances to the next entry of the current list, returning false
// at the list terminator (LowPC == HighPC == 0).
func (r *Reader) Next(e *Entry) bool {
	if r.cur+16 > len(r.data) {
		return false
	}
	e.LowPC = r.addr()
	e.HighPC = r.addr()
	if e.LowPC == 0 && e.HighPC == 0 {
		return false
	}
	if e.BaseAddressSelection() {
		e.Instr = nil
		return true
	}
	if r.cur+2 > len(r.data) {
		return false
	}
	n := binary.LittleEndian.Uint16(r.read(2))
	e.Instr = r.read(int(n))
	return true
}

func (r *Reader) read(n int) []byte {
	b := r.data[r.cur : r.cur+n]
	r.cur += n
	return b
}

func (r *Reader) addr() uint64 {
	return binary.LittleEndian.Uint64(r.read(8))
}

// FindLoc returns the location expression in effect for pc within the
// list starting at off, or nil if pc falls in a gap (variable not in
// scope / optimized out for that range).
func (r *Reader) FindLoc(off int, pc uint64) []byte {
	r.Seek(off)
	var e Entry
	var base uint64
	for r.Next(&e) {
		if e.BaseAddressSelection() {
			base = e.HighPC
			continue
		}
		if pc >= base+e.LowPC && pc < base+e.HighPC {
			return e.Instr
		}
	}
	return nil
}
