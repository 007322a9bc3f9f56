package proc

import (
	"fmt"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/al13n321/nnd/pkg/logflags"
)

// Cont resumes execution. thread == 0 resumes every thread (spec.md §4.1
// "cont(thread|all)"); a specific tid resumes only that thread.
func (c *Controller) Cont(tid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exited {
		return c.exitErr
	}
	if tid == 0 {
		for id, th := range c.threads {
			if th.Status == StatusExited {
				continue
			}
			if err := c.resumeThread(id, th); err != nil {
				return err
			}
		}
		return nil
	}
	th, ok := c.threads[tid]
	if !ok {
		return fmt.Errorf("proc: no such thread %d", tid)
	}
	return c.resumeThread(tid, th)
}

func (c *Controller) resumeThread(tid int, th *Thread) error {
	if th.CurrentBreakpoint != nil {
		if err := c.stepOverBreakpointLocked(tid, th); err != nil {
			return err
		}
	}
	var err error
	c.onPtraceThread(func() { err = sys.PtraceCont(tid, 0) })
	if err != nil {
		return fmt.Errorf("proc: PTRACE_CONT tid %d: %w", tid, err)
	}
	th.Status = StatusRunning
	th.running = true
	return nil
}

// stepOverBreakpointLocked un-patches a software breakpoint's trap byte,
// single-steps past it, and reinserts it (spec.md §4.1), or for a hardware
// breakpoint simply clears CurrentBreakpoint (the debug register traps on
// execution, not before it, so nothing needs unpatching).
func (c *Controller) stepOverBreakpointLocked(tid int, th *Thread) error {
	bp := th.CurrentBreakpoint
	th.CurrentBreakpoint = nil
	if bp.Kind != BreakpointSoftware {
		return nil
	}
	if err := c.unpatchForStep(bp); err != nil {
		return err
	}
	var err error
	c.onPtraceThread(func() { err = sys.PtraceSingleStep(tid) })
	if err != nil {
		return fmt.Errorf("proc: single-step over breakpoint tid %d: %w", tid, err)
	}
	var wstatus sys.WaitStatus
	c.onPtraceThread(func() { sys.Wait4(tid, &wstatus, 0, nil) })
	return c.repatchAfterStep(bp)
}

// StepInstruction single-steps tid only; other threads remain stopped
// (spec.md §4.1 "Instruction step").
func (c *Controller) StepInstruction(tid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[tid]
	if !ok {
		return fmt.Errorf("proc: no such thread %d", tid)
	}
	th.Status = StatusStepping
	if th.CurrentBreakpoint != nil {
		return c.stepOverBreakpointLocked(tid, th)
	}
	var err error
	c.onPtraceThread(func() { err = sys.PtraceSingleStep(tid) })
	if err != nil {
		return fmt.Errorf("proc: PTRACE_SINGLESTEP tid %d: %w", tid, err)
	}
	var wstatus sys.WaitStatus
	c.onPtraceThread(func() { sys.Wait4(tid, &wstatus, 0, nil) })
	th.Status = StatusStopped
	th.Reason = StopSingleStep
	return nil
}

// Interrupt requests that every running thread stop (spec.md §4.1
// "interrupt(all)"), entering all-stop.
func (c *Controller) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tid, th := range c.threads {
		if th.Status == StatusRunning {
			c.onPtraceThread(func() { sys.Tgkill(c.pid, tid, sys.SIGSTOP) })
		}
	}
	return nil
}

// WaitEvent blocks (up to timeout, 0 meaning forever) for the next Event
// RunWaitLoop posted (spec.md §4.1 "wait_event(timeout)"); thread state
// was already updated by RunWaitLoop. It returns that Event and true, or
// a zero Event and false if timeout elapsed first.
func (c *Controller) WaitEvent(timeout time.Duration) (Event, bool) {
	select {
	case ev := <-c.events:
		return ev, true
	case <-timeoutChan(timeout):
		return Event{}, false
	}
}

func timeoutChan(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil // nil channel blocks forever, i.e. "no timeout"
	}
	return time.After(d)
}

// RunWaitLoop is the dedicated goroutine that repeatedly wait4()s and
// classifies each stop, posting Events. Started once by internal/session
// after Launch/Attach.
func (c *Controller) RunWaitLoop() {
	log := logflags.Logger(logflags.DomainProc, "waitloop")
	for {
		var wpid int
		var wstatus sys.WaitStatus
		var err error
		c.onPtraceThread(func() { wpid, err = sys.Wait4(-1, &wstatus, 0, nil) })
		if err != nil {
			log.Debugf("wait4 error: %v", err)
			return
		}
		ev, ok := c.classify(wpid, wstatus)
		if !ok {
			// A conditional or thread-filtered breakpoint hit that resumed
			// itself without ever becoming visible (spec.md §4.4, testable
			// property 7): nothing to post, keep waiting.
			continue
		}
		c.events <- ev
		if ev.Kind == EventTargetGone {
			return
		}
	}
}

// classify updates Controller state for one wait4 stop and returns the
// Event to post. ok is false when the stop was fully absorbed internally
// (a breakpoint whose thread filter or condition suppressed it) and must
// never reach a caller of Events()/WaitEvent.
//
// classify manages c.mu itself, rather than being called under a lock
// its caller already holds, because handling a breakpoint hit may need to
// release the lock: evaluating a condition (afterBreakpointHit) can run
// arbitrary evaluator code that reads memory and registers and unwinds the
// stack through the same Controller methods a concurrent caller might be
// blocked on, so the lock cannot stay held across that call without
// deadlocking against it.
func (c *Controller) classify(wpid int, wstatus sys.WaitStatus) (Event, bool) {
	c.mu.Lock()
	th := c.threads[wpid]
	if th == nil {
		th = &Thread{ID: wpid}
		c.threads[wpid] = th
	}

	if wstatus.Exited() {
		delete(c.threads, wpid)
		if wpid == c.leader {
			c.exited = true
			c.exitErr = &ErrProcessExited{Pid: wpid, Status: wstatus.ExitStatus()}
			c.mu.Unlock()
			return Event{Kind: EventTargetGone, Thread: wpid, Err: c.exitErr}, true
		}
		c.mu.Unlock()
		return Event{Kind: EventThreadExited, Thread: wpid}, true
	}
	if wstatus.Signaled() {
		c.exited = true
		c.exitErr = &ErrProcessExited{Pid: wpid, Status: -int(wstatus.Signal())}
		c.mu.Unlock()
		return Event{Kind: EventTargetGone, Thread: wpid, Err: c.exitErr}, true
	}

	th.running = false
	th.Status = StatusStopped

	switch {
	case wstatus.StopSignal() == sys.SIGTRAP && wstatus.TrapCause() == sys.PTRACE_EVENT_CLONE:
		var newTid uint
		c.onPtraceThread(func() { newTid, _ = sys.PtraceGetEventMsg(wpid) })
		c.threads[int(newTid)] = &Thread{ID: int(newTid), Status: StatusStopped, Reason: StopClone}
		c.onPtraceThread(func() { sys.PtraceCont(int(newTid), 0) })
		c.onPtraceThread(func() { sys.PtraceCont(wpid, 0) })
		th.Status = StatusRunning
		c.mu.Unlock()
		return Event{Kind: EventThreadCreated, Thread: int(newTid)}, true
	case wstatus.StopSignal() == sys.SIGTRAP:
		th.Reason = StopBreakpoint
		reported := c.handleTrap(th)
		reason := th.Reason
		c.mu.Unlock()
		if !reported {
			return Event{}, false
		}
		return Event{Kind: EventStopped, Thread: wpid, Reason: reason}, true
	default:
		th.Reason = StopSignal
		c.mu.Unlock()
		return Event{Kind: EventStopped, Thread: wpid, Reason: StopSignal}, true
	}
}

// handleTrap decides whether a SIGTRAP stop is a registered breakpoint
// (checking PC-1 for software, the debug-register condition bits for
// hardware) and evaluates its condition (spec.md §4.1 step 1-2). Runs
// with c.mu held; returns false if afterBreakpointHit suppressed the hit,
// meaning classify must not turn it into an Event.
func (c *Controller) handleTrap(th *Thread) bool {
	regs, err := c.ReadRegs(th.ID)
	if err != nil {
		return true
	}
	pc := regs.PC()
	if bp, ok := c.breakpoints[pc-1]; ok && bp.Kind == BreakpointSoftware {
		regs.SetPC(pc - 1)
		c.WriteRegs(th.ID, regs)
		return c.afterBreakpointHit(th, bp)
	}
	if ok, idx := c.hwTriggered(th.ID); ok {
		for _, bp := range c.breakpoints {
			if bp.Kind == BreakpointHardware && bp.hwIndex == idx {
				return c.afterBreakpointHit(th, bp)
			}
		}
	}
	th.Reason = StopSingleStep
	return true
}

func (c *Controller) hwTriggered(tid int) (bool, uint8) {
	var ok bool
	var idx uint8
	c.withDebugRegisters(tid, func(d *debugRegisters) error {
		ok, idx = d.triggered()
		return nil
	})
	return ok, idx
}

// afterBreakpointHit runs step 1-2 of spec.md §4.1 "Breakpoints": evaluate
// the condition if any; on a non-true result, silently step past and
// resume instead of surfacing a stop (spec.md §4.4, testable property 7:
// a suppressed hit "never produces a user-visible stop"). Returns false
// when the hit was suppressed, so the caller knows not to post an Event.
//
// Runs with c.mu held, but releases it around EvalCondition: a condition
// is arbitrary evaluator code (internal/session's eval.Program.Run) that
// reads memory and registers and unwinds the stack through Controller
// methods that take c.mu themselves, so it cannot run with the lock
// already held. th and bp are safe to keep using across the gap — the
// Controller never frees a Thread or Breakpoint out from under a live
// pointer, only removes it from its map.
func (c *Controller) afterBreakpointHit(th *Thread, bp *Breakpoint) bool {
	bp.HitCount++
	th.CurrentBreakpoint = bp
	if bp.ThreadFilter != 0 && bp.ThreadFilter != th.ID {
		c.resumeThread(th.ID, th)
		return false
	}
	if bp.Condition != nil && bp.EvalCondition != nil {
		cond, evalFn, tid := bp.Condition, bp.EvalCondition, th.ID
		c.mu.Unlock()
		ok, err := evalFn(cond, tid)
		c.mu.Lock()
		if err != nil || !ok {
			c.resumeThread(th.ID, th)
			return false
		}
	}
	th.Reason = StopBreakpoint
	return true
}
