// Package proc is nnd's process controller: the ptrace wrapper, per-thread
// state machine, breakpoint manager, and stepping engine named in spec.md's
// system overview table ("Process controller") and specified in §4.1.
//
// Grounded on go-delve/delve's pkg/proc/native (Linux backend): a single
// dedicated OS thread is the sole caller of ptrace and the kernel wait
// primitive, other goroutines funnel requests to it, and thread state is
// tracked in a plain map keyed by tid.
package proc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/al13n321/nnd/pkg/dwarf/op"
)

// ErrProcessExited is returned once the debuggee's thread group leader has
// exited; spec.md §4.1 "Failure model: Target exits surface as a TargetGone
// event".
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (e *ErrProcessExited) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", e.Pid, e.Status)
}

var (
	ErrNotExecutable  = errors.New("proc: not an executable file")
	ErrNoBreakpoint   = errors.New("proc: no breakpoint at that address")
	ErrBreakpointExists = errors.New("proc: breakpoint already exists at that address")
	ErrNotStopped     = errors.New("proc: thread is not stopped")
	ErrControllerClosed = errors.New("proc: controller is closed")
)

// ThreadStatus is spec.md §3 "Thread state": one of
// {Running, Stopped(reason), Stepping(plan), Exited}.
type ThreadStatus int

const (
	StatusRunning ThreadStatus = iota
	StatusStopped
	StatusStepping
	StatusExited
)

func (s ThreadStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusStepping:
		return "stepping"
	case StatusExited:
		return "exited"
	default:
		return "unknown"
	}
}

// StopReason explains why a Stopped thread is stopped.
type StopReason int

const (
	StopUnknown StopReason = iota
	StopBreakpoint
	StopSingleStep
	StopSignal
	StopManual      // interrupt() was called
	StopGroupStop
	StopExec
	StopClone
)

// Registers is a snapshot of one thread's general-purpose register file,
// valid only while the thread is Stopped (spec.md §3 "Thread state").
// It implements op.Registers so location expressions can be evaluated
// directly against a live thread's registers.
type Registers struct {
	Regs       [17]uint64 // indexed by pkg/proc/regnum amd64 DWARF register numbers 0-16
	Seg        map[uint64]uint64 // Es,Cs,Ss,Ds,Fs,Gs,Fs_base,Gs_base, by regnum
	staticBase uint64
	frameBase  int64
	cfa        int64
	hasCFA     bool
}

func (r *Registers) Uint64Val(regnum uint64) uint64 {
	if regnum < uint64(len(r.Regs)) {
		return r.Regs[regnum]
	}
	return r.Seg[regnum]
}
func (r *Registers) StaticBase() uint64 { return r.staticBase }
func (r *Registers) FrameBase() int64   { return r.frameBase }
func (r *Registers) CFA() (int64, bool) { return r.cfa, r.hasCFA }

// WithFrame returns a copy of r carrying the given frame base and CFA, used
// when evaluating a location expression at a specific (non-innermost)
// frame (spec.md §4.4 "Name resolution order at a frame").
func (r *Registers) WithFrame(frameBase int64, cfa int64) *Registers {
	cp := *r
	cp.frameBase = frameBase
	cp.cfa = cfa
	cp.hasCFA = true
	return &cp
}

var _ op.Registers = (*Registers)(nil)

// PC returns the instruction pointer.
func (r *Registers) PC() uint64 { return r.Regs[16] } // regnum.Rip

// SetPC overwrites the instruction pointer in this snapshot (does not write
// through to the kernel; callers must call Controller.WriteRegs).
func (r *Registers) SetPC(pc uint64) { r.Regs[16] = pc }

// SP returns the stack pointer.
func (r *Registers) SP() uint64 { return r.Regs[7] } // regnum.Rsp

// BP returns the frame pointer.
func (r *Registers) BP() uint64 { return r.Regs[6] } // regnum.Rbp

// Thread is one traced thread (spec.md §3 "Thread state"). Exported fields
// are safe to read from the owning Controller's goroutine only; all
// mutation happens on the ptrace thread.
type Thread struct {
	ID     int // kernel tid
	Status ThreadStatus
	Reason StopReason

	regs    *Registers
	regsOK  bool

	// CurrentBreakpoint is set when this thread's reported stop was caused
	// by hitting bp (spec.md §4.1 "Breakpoints").
	CurrentBreakpoint *Breakpoint

	// stepping holds the in-flight stepping plan, if any (spec.md §4.1
	// "Stepping"), nil otherwise.
	stepping *stepState

	// resources tracks this thread's CPU-usage history for ThreadInfo
	// (SPEC_FULL.md §12 "process_info.rs → process/thread metadata
	// snapshot"), lazily created on first ThreadInfo call.
	resources *resourceStats

	running bool // OS-level: true between resume and the next observed stop
}

// Controller owns one attached or launched debuggee and every thread,
// breakpoint, and in-flight step within it (spec.md §9 "Global state": no
// ambient singletons, a single owner passed explicitly).
type Controller struct {
	mu sync.Mutex

	pid     int
	path    string
	exited  bool
	exitErr error

	threads map[int]*Thread
	leader  int

	breakpoints map[uint64]*Breakpoint
	nextBPID    int

	// hwSlots tracks which of the 4 x86 debug-register slots are occupied,
	// by breakpoint id (0 = free).
	hwSlots [4]int

	events chan Event
	reqs   chan ptraceReq // funnels all requests to the dedicated ptrace goroutine

	ptty ptyHandle // non-nil when launched with an allocated PTY

	LineRanger    LineRanger    // symbol-engine collaborator used by stepping; set by internal/session
	FrameResolver FrameResolver // pkg/unwind collaborator used by step-over/step-out; set by internal/session
	Resolver      BreakpointResolver // symbol-engine collaborator used by deferred-resolution breakpoints
}

// LineRanger is the narrow view of the symbol engine the stepping state
// machine needs (spec.md §4.1 "Line step-over": "compute the current
// source line's address range from the line program"). pkg/symbols.Index
// satisfies this.
type LineRanger interface {
	// StatementLineRange returns [low, high) covering every address that
	// maps to the same (file, line) as pc.
	StatementLineRange(pc uint64) (low, high uint64, err error)
}

// Event is posted to Controller's outbound queue on every state change the
// UI cares about (spec.md §6 "the core never calls into the TUI except by
// posting events to an outbound queue").
type Event struct {
	Kind   EventKind
	Thread int // tid, 0 if not thread-specific
	Reason StopReason
	Err    error
}

type EventKind int

const (
	EventStopped EventKind = iota
	EventTargetGone
	EventThreadExited
	EventThreadCreated
)

// Events returns the channel Controller posts state-change events to.
func (c *Controller) Events() <-chan Event { return c.events }

// Pid returns the thread group leader's pid. Valid once Launch or Attach
// has returned successfully.
func (c *Controller) Pid() int { return c.pid }

// Path returns the path used to launch or locate the debuggee's
// executable (the argv[0] given to Launch, or /proc/<pid>/exe for an
// attached process).
func (c *Controller) Path() string { return c.path }
