package proc

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// ReadMemory reads len(buf) bytes at addr from the debuggee's address
// space, transparently substituting the original byte for any software
// breakpoint patch that falls inside the range (spec.md §4.1 "Memory
// reads transparently unpatch any breakpoint bytes", §8 invariant 1
// "Breakpoint transparency"). c.mu guards every touch of c.threads and
// c.breakpoints.
func (c *Controller) ReadMemory(buf []byte, addr uint64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readMemoryLocked(buf, addr)
}

// readMemoryLocked is ReadMemory's body, callable while c.mu is already
// held — breakpoint bookkeeping (SetBreakpoint, RemoveBreakpoint) and event
// classification both need to read memory without releasing c.mu, the same
// reason removeBreakpointLocked exists alongside RemoveBreakpoint. c.mu
// stays held for the ptrace call too; the dedicated ptrace thread never
// itself touches c.mu, so this cannot deadlock against it.
func (c *Controller) readMemoryLocked(buf []byte, addr uint64) (int, error) {
	if c.exited {
		return 0, c.exitErr
	}
	tid := c.memThreadLocked()

	var n int
	var err error
	c.onPtraceThread(func() { n, err = sys.PtracePeekData(tid, uintptr(addr), buf) })
	if err != nil {
		return n, fmt.Errorf("proc: reading memory at %#x: %w", addr, err)
	}

	for bpAddr, bp := range c.breakpoints {
		if bp.Kind != BreakpointSoftware || !bp.patched {
			continue
		}
		if bpAddr >= addr && bpAddr < addr+uint64(len(buf)) {
			buf[bpAddr-addr] = bp.originalByte
		}
	}
	return n, nil
}

// WriteMemory writes data to addr. Callers must not target an address that
// currently holds an active software breakpoint patch byte; SetBreakpoint
// and RemoveBreakpoint are the only paths that do that, deliberately.
func (c *Controller) WriteMemory(addr uint64, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeMemoryLocked(addr, data)
}

// writeMemoryLocked is WriteMemory's body, callable while c.mu is already
// held. See readMemoryLocked.
func (c *Controller) writeMemoryLocked(addr uint64, data []byte) (int, error) {
	if c.exited {
		return 0, c.exitErr
	}
	tid := c.memThreadLocked()

	var n int
	var err error
	c.onPtraceThread(func() { n, err = sys.PtracePokeData(tid, uintptr(addr), data) })
	if err != nil {
		return n, fmt.Errorf("proc: writing memory at %#x: %w", addr, err)
	}
	return n, nil
}

// memThreadLocked picks a stopped thread to issue PTRACE_PEEKDATA/POKEDATA
// through; any stopped thread works, since address space is shared.
// Callers must already hold c.mu.
func (c *Controller) memThreadLocked() int {
	if th, ok := c.threads[c.leader]; ok && th.Status == StatusStopped {
		return c.leader
	}
	for tid, th := range c.threads {
		if th.Status == StatusStopped {
			return tid
		}
	}
	return c.leader
}
