package proc

import (
	"errors"
	"fmt"
)

// debugRegisters is x86's DR0-DR3/DR6/DR7 debug register set (Intel SDM
// vol. 3B §17.2), addressed through pointers into a raw 8-word buffer so
// the caller can PTRACE_PEEKUSR/POKEUSR the whole thing in one shot.
//
// Adapted from go-delve/delve's pkg/proc/amd64util.DebugRegisters.
type debugRegisters struct {
	addrs      [4]*uint64
	dr6, dr7   *uint64
	dirty      bool
}

func newDebugRegisters(words []uint64) *debugRegisters {
	return &debugRegisters{
		addrs: [4]*uint64{&words[0], &words[1], &words[2], &words[3]},
		dr6:   &words[6],
		dr7:   &words[7],
	}
}

func lenrwBitsOffset(idx uint8) uint8 { return 16 + idx*4 }
func enableBitOffset(idx uint8) uint8 { return idx * 2 }

func (d *debugRegisters) breakpoint(idx uint8) (addr uint64, read, write bool, sz int) {
	if *d.dr7&(1<<enableBitOffset(idx)) == 0 {
		return 0, false, false, 0
	}
	addr = *d.addrs[idx]
	lenrw := (*d.dr7 >> lenrwBitsOffset(idx)) & 0xf
	write = lenrw&0x1 != 0
	read = lenrw&0x2 != 0
	switch lenrw >> 2 {
	case 0:
		sz = 1
	case 1:
		sz = 2
	case 2:
		sz = 8
	case 3:
		sz = 4
	}
	return
}

// setExecuteBreakpoint occupies debug register slot idx with an
// instruction-execution breakpoint at addr (spec.md §4.1 "Hardware
// breakpoints occupy one of four x86 debug registers").
func (d *debugRegisters) setExecuteBreakpoint(idx uint8, addr uint64) error {
	if int(idx) >= len(d.addrs) {
		return errors.New("proc: hardware breakpoint slots exhausted")
	}
	curaddr, _, _, _ := d.breakpoint(idx)
	if curaddr != 0 && curaddr != addr {
		return fmt.Errorf("proc: hardware breakpoint slot %d already in use", idx)
	}
	*d.addrs[idx] = addr
	*d.dr7 &^= 0xf << lenrwBitsOffset(idx) // rw=00 (execute), len field ignored for execute
	*d.dr7 |= 1 << enableBitOffset(idx)
	d.dirty = true
	return nil
}

func (d *debugRegisters) clear(idx uint8) {
	if *d.dr7&(1<<enableBitOffset(idx)) == 0 {
		return
	}
	*d.dr7 &^= 1 << enableBitOffset(idx)
	d.dirty = true
}

// triggered reports which slot caused the most recent trap, clearing the
// condition bits (they must be cleared by the debugger per the SDM).
func (d *debugRegisters) triggered() (ok bool, idx uint8) {
	for i := uint8(0); i < 4; i++ {
		if *d.dr7&(1<<enableBitOffset(i)) == 0 {
			continue
		}
		if *d.dr6&(1<<i) != 0 {
			*d.dr6 &^= 0xf
			d.dirty = true
			return true, i
		}
	}
	return false, 0
}
