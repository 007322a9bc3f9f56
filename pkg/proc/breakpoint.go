package proc

import (
	"fmt"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

// BreakpointKind is spec.md §3 "Breakpoint... kind {software (int3 byte
// patch), hardware (debug register)}".
type BreakpointKind int

const (
	BreakpointSoftware BreakpointKind = iota
	BreakpointHardware
)

// int3 is the x86 single-byte breakpoint trap instruction (0xCC).
const int3 = 0xCC

// Breakpoint is spec.md §3 "Breakpoint": id, kind, resolved address,
// optional condition, hit count, enabled flag, thread filter.
type Breakpoint struct {
	ID      int
	Kind    BreakpointKind
	Addr    uint64
	Enabled bool

	// Condition, if non-nil, is an opaque evaluator-owned condition
	// expression checked on each hit (spec.md §4.1 step 1, §4.4 "Conditional
	// breakpoints"). pkg/proc does not parse it; internal/session wires an
	// eval.Program in here and calls EvalCondition.
	Condition interface{}
	EvalCondition func(cond interface{}, tid int) (bool, error)

	ThreadFilter int // 0 means all threads
	HitCount     int

	// Spec, if non-nil, is the symbolic location this breakpoint was
	// originally requested at (a file:line or a function name). Kept so
	// ReresolveBreakpoints can recompute Addr after a symbol reload
	// (SPEC_FULL.md §12 "debugger.rs → breakpoint deferred resolution").
	// Breakpoints set directly by address (SetBreakpoint) leave this nil
	// and are never re-resolved.
	Spec *BreakpointSpec

	originalByte byte // software: byte replaced by int3
	patched      bool
	hwIndex      uint8 // hardware: which of the 4 debug-register slots
}

// BreakpointSpec is the symbolic location behind a deferred-resolution
// breakpoint: either (File, Line) or Func, never both.
type BreakpointSpec struct {
	File string
	Line int
	Func string
}

// BreakpointResolver is the narrow view of pkg/symbols.Index the
// deferred-resolution breakpoint path needs. Set on Controller by
// internal/session to decouple pkg/proc from pkg/symbols.
type BreakpointResolver interface {
	LineToPC(file string, line int) (uint64, error)
	FuncToPC(name string) (uint64, error)
}

// SetBreakpoint installs a breakpoint at addr (spec.md §4.1
// "set_breakpoint(spec)"). The caller has already resolved file:line or a
// function name to an address (pkg/symbols.Index.LineToPC / FuncByName).
func (c *Controller) SetBreakpoint(addr uint64, kind BreakpointKind, threadFilter int) (*Breakpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.breakpoints[addr]; exists {
		return nil, ErrBreakpointExists
	}
	c.nextBPID++
	bp := &Breakpoint{ID: c.nextBPID, Kind: kind, Addr: addr, Enabled: true, ThreadFilter: threadFilter}

	switch kind {
	case BreakpointSoftware:
		var orig [1]byte
		if _, err := c.readMemoryLocked(orig[:], addr); err != nil {
			return nil, err
		}
		bp.originalByte = orig[0]
		if _, err := c.writeMemoryLocked(addr, []byte{int3}); err != nil {
			return nil, err
		}
		bp.patched = true
	case BreakpointHardware:
		idx, err := c.allocHWSlot(bp.ID)
		if err != nil {
			return nil, err
		}
		bp.hwIndex = idx
		for tid := range c.threads {
			if err := c.writeHardwareBreakpoint(tid, addr, idx); err != nil {
				return nil, err
			}
		}
	}
	c.breakpoints[addr] = bp
	return bp, nil
}

// RemoveBreakpoint un-patches and forgets bp (spec.md §4.1
// "remove_breakpoint(id)").
func (c *Controller) RemoveBreakpoint(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var found *Breakpoint
	for _, bp := range c.breakpoints {
		if bp.ID == id {
			found = bp
			break
		}
	}
	if found == nil {
		return ErrNoBreakpoint
	}
	switch found.Kind {
	case BreakpointSoftware:
		if found.patched {
			if _, err := c.writeMemoryLocked(found.Addr, []byte{found.originalByte}); err != nil {
				return err
			}
		}
	case BreakpointHardware:
		for tid := range c.threads {
			c.clearHardwareBreakpoint(tid, found.hwIndex)
		}
		c.hwSlots[found.hwIndex] = 0
	}
	delete(c.breakpoints, found.Addr)
	return nil
}

// unpatchForStep temporarily removes a software breakpoint's trap byte so
// the controller can single-step the real instruction underneath it
// (spec.md §4.1 "To step past a software breakpoint, the controller
// temporarily removes the patch, single-steps, and reinserts it"). Called
// only from stepOverBreakpointLocked, always with c.mu held.
func (c *Controller) unpatchForStep(bp *Breakpoint) error {
	if bp.Kind != BreakpointSoftware || !bp.patched {
		return nil
	}
	if _, err := c.writeMemoryLocked(bp.Addr, []byte{bp.originalByte}); err != nil {
		return err
	}
	bp.patched = false
	return nil
}

func (c *Controller) repatchAfterStep(bp *Breakpoint) error {
	if bp.Kind != BreakpointSoftware || bp.patched {
		return nil
	}
	if _, err := c.writeMemoryLocked(bp.Addr, []byte{int3}); err != nil {
		return err
	}
	bp.patched = true
	return nil
}

// BreakpointAt returns the breakpoint registered at addr, if any.
func (c *Controller) BreakpointAt(addr uint64) *Breakpoint { return c.breakpoints[addr] }

func (c *Controller) allocHWSlot(bpID int) (uint8, error) {
	for i, owner := range c.hwSlots {
		if owner == 0 {
			c.hwSlots[i] = bpID
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("proc: all 4 hardware breakpoint slots in use")
}

// debugRegUserOffset is the byte offset of u_debugreg within struct user on
// x86-64 Linux (arch/x86/include/asm/processor.h); see
// go-delve/delve's native.debugRegUserOffset.
const debugRegUserOffset = 848

func (c *Controller) withDebugRegisters(tid int, f func(*debugRegisters) error) error {
	words := make([]uint64, 8)
	var err error
	c.onPtraceThread(func() {
		for i := range words {
			if i == 4 || i == 5 {
				continue // linux rejects DR4/DR5
			}
			_, _, e := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKUSR, uintptr(tid),
				uintptr(debugRegUserOffset)+uintptr(i)*unsafe.Sizeof(words[0]),
				uintptr(unsafe.Pointer(&words[i])), 0, 0)
			if e != 0 {
				err = e
				return
			}
		}
		drs := newDebugRegisters(words)
		if ferr := f(drs); ferr != nil {
			err = ferr
			return
		}
		if !drs.dirty {
			return
		}
		for i := range words {
			if i == 4 || i == 5 {
				continue
			}
			_, _, e := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEUSR, uintptr(tid),
				uintptr(debugRegUserOffset)+uintptr(i)*unsafe.Sizeof(words[0]),
				uintptr(words[i]), 0, 0)
			if e != 0 {
				err = e
				return
			}
		}
	})
	if err == syscall.Errno(0) {
		err = nil
	}
	return err
}

func (c *Controller) writeHardwareBreakpoint(tid int, addr uint64, idx uint8) error {
	return c.withDebugRegisters(tid, func(d *debugRegisters) error {
		return d.setExecuteBreakpoint(idx, addr)
	})
}

func (c *Controller) clearHardwareBreakpoint(tid int, idx uint8) error {
	return c.withDebugRegisters(tid, func(d *debugRegisters) error {
		d.clear(idx)
		return nil
	})
}
