package proc

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// StepMode selects one of spec.md §4.1's three line-granularity stepping
// plans.
type StepMode int

const (
	StepOver StepMode = iota
	StepInto
	StepOut
)

// FrameResolver is the narrow view of pkg/unwind the stepping state
// machine needs: the return address of tid's current (innermost physical)
// frame (spec.md §4.1 "Line step-over": "...plus the return address of the
// current frame"). Wired by internal/session to avoid an import cycle
// between pkg/proc and pkg/unwind.
type FrameResolver interface {
	ReturnAddress(tid int, regs *Registers) (uint64, error)
}

type stepState struct {
	mode        StepMode
	originFrame uint64 // PC the step started at, for "re-focus on originating frame" (spec.md §4.1)
	tempBPs     []uint64
}

// StepLine executes one of the line-granularity stepping plans on tid,
// blocking until the plan completes with a reportable stop (spec.md §4.1
// "Stepping"). The caller's Controller.FrameResolver and LineRanger must
// both be set.
func (c *Controller) StepLine(tid int, mode StepMode) error {
	c.mu.Lock()
	th, ok := c.threads[tid]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("proc: no such thread %d", tid)
	}
	regs, err := c.ReadRegs(tid)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	origin := regs.PC()
	c.mu.Unlock()

	switch mode {
	case StepInto:
		return c.stepLineInto(tid, th, origin)
	default:
		return c.stepLineOverOrOut(tid, th, origin, mode)
	}
}

// stepLineOverOrOut implements step-over and step-out identically except
// for which addresses get temporary breakpoints: step-over breaks at the
// line range's low and high addresses plus the return address; step-out
// breaks at only the return address. A jump from inside the range to any
// other address is not caught by these breakpoints.
func (c *Controller) stepLineOverOrOut(tid int, th *Thread, origin uint64, mode StepMode) error {
	var targets []uint64
	if mode == StepOver {
		if c.LineRanger == nil {
			return fmt.Errorf("proc: no line ranger configured")
		}
		low, high, err := c.LineRanger.StatementLineRange(origin)
		if err == nil {
			targets = append(targets, low, high)
		}
	}
	if c.FrameResolver != nil {
		regs, _ := c.ReadRegs(tid)
		if ret, err := c.FrameResolver.ReturnAddress(tid, regs); err == nil && ret != 0 {
			targets = append(targets, ret)
		}
	}
	if len(targets) == 0 {
		// Nothing to bound the step with; fall back to a single instruction
		// step so the caller still makes forward progress (spec.md §8
		// "Line-step progress... never loops indefinitely").
		return c.StepInstruction(tid)
	}

	st := &stepState{mode: mode, originFrame: origin}
	for _, addr := range targets {
		if c.BreakpointAt(addr) != nil {
			continue // a user breakpoint is already there; it'll report the hit anyway
		}
		if _, err := c.SetBreakpoint(addr, BreakpointSoftware, 0); err == nil {
			st.tempBPs = append(st.tempBPs, addr)
		}
	}
	th.stepping = st
	defer c.teardownStep(th)

	if err := c.Cont(tid); err != nil {
		return err
	}
	c.awaitStop(tid)
	return nil
}

// stepLineInto single-steps tid instruction by instruction until the
// resolved source line changes from the line step-into started on, or the
// thread leaves the function body entirely (a call was followed and
// returned, or the function itself returned) — spec.md §4.1 "Line
// step-into: like step-over but without the call-skipping internal
// breakpoints".
func (c *Controller) stepLineInto(tid int, th *Thread, origin uint64) error {
	if c.LineRanger == nil {
		return c.StepInstruction(tid)
	}
	startLow, startHigh, err := c.LineRanger.StatementLineRange(origin)
	if err != nil {
		return c.StepInstruction(tid)
	}
	const maxSteps = 200000 // backstop against a runaway target; spec.md §8 "never loops indefinitely"
	for i := 0; i < maxSteps; i++ {
		if err := c.StepInstruction(tid); err != nil {
			return err
		}
		if c.exited {
			return nil
		}
		regs, err := c.ReadRegs(tid)
		if err != nil {
			return err
		}
		pc := regs.PC()
		if pc < startLow || pc >= startHigh {
			return nil
		}
	}
	return nil
}

func (c *Controller) teardownStep(th *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := th.stepping
	th.stepping = nil
	if st == nil {
		return
	}
	for _, addr := range st.tempBPs {
		for _, bp := range c.breakpoints {
			if bp.Addr == addr {
				c.removeBreakpointLocked(bp)
			}
		}
	}
}

// removeBreakpointLocked is RemoveBreakpoint's body, callable while c.mu is
// already held (RemoveBreakpoint itself takes the lock). It pokes memory
// directly rather than through WriteMemory, which takes c.mu itself and
// would deadlock here.
func (c *Controller) removeBreakpointLocked(bp *Breakpoint) {
	switch bp.Kind {
	case BreakpointSoftware:
		if bp.patched {
			var n int
			var err error
			tid := c.memThreadLocked()
			c.onPtraceThread(func() { n, err = sys.PtracePokeData(tid, uintptr(bp.Addr), []byte{bp.originalByte}) })
			_ = n
			_ = err
		}
	case BreakpointHardware:
		for t := range c.threads {
			c.clearHardwareBreakpoint(t, bp.hwIndex)
		}
		c.hwSlots[bp.hwIndex] = 0
	}
	delete(c.breakpoints, bp.Addr)
}

// awaitStop blocks until tid (or, since this is an all-stop debugger, any
// thread) reports a stop, draining the event loop directly rather than
// going through Controller.events so stepping doesn't race a concurrent
// WaitEvent caller. Used only internally by StepLine.
func (c *Controller) awaitStop(tid int) {
	for {
		var wpid int
		var wstatus sys.WaitStatus
		c.onPtraceThread(func() { wpid, _ = sys.Wait4(-1, &wstatus, 0, nil) })
		c.classify(wpid, wstatus) // manages c.mu itself
		c.mu.Lock()
		done := wpid == tid || c.exited
		c.mu.Unlock()
		if done {
			return
		}
	}
}
