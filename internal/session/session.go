// Package session is nnd's single explicit session owner (spec.md §9
// "Global state: single owner, no ambient singletons"). It wires
// pkg/elfbin, pkg/symbols, pkg/proc, pkg/unwind, and pkg/eval into one
// debug session and is the only place that concretely implements the
// narrow collaborator interfaces those packages declare
// (proc.LineRanger, proc.FrameResolver, proc.BreakpointResolver,
// unwind.IndexResolver), so that none of them import one another
// directly.
//
// Grounded on go-delve/delve's pkg/proc.Target and service/debugger.Debugger,
// which play the same role in the teacher: a concrete type owning the
// process, its binary, and its symbol tables, so the rest of the program
// never reaches for ambient state.
package session

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/al13n321/nnd/pkg/elfbin"
	"github.com/al13n321/nnd/pkg/eval"
	"github.com/al13n321/nnd/pkg/logflags"
	"github.com/al13n321/nnd/pkg/proc"
	"github.com/al13n321/nnd/pkg/symbols"
	"github.com/al13n321/nnd/pkg/unwind"
	"github.com/al13n321/nnd/pkg/workqueue"
)

// module is one ELF image mapped into the debuggee: the main executable,
// or (in the future) a shared object. Kept as a slice sorted by TextLow,
// which IndexForPC scans in order, per unwind.IndexResolver's doc comment
// about "the set of binaries currently mapped into the debuggee".
type module struct {
	bin   *elfbin.Binary
	index *symbols.Index
}

// Session owns one debuggee end to end: the attached/launched process,
// every loaded binary's symbol index, and the unwinder built on top of
// them. There is exactly one Session per debugged process.
type Session struct {
	mu sync.Mutex

	Controller *proc.Controller
	Unwinder   *unwind.Unwinder
	Pool       *workqueue.Pool

	modules []*module // sorted by bin.TextLow; modules[0] is the main executable once loaded

	Warnings []string
}

// New creates a Session with an unattached Controller. Launch or Attach
// must be called before anything else.
func New() *Session {
	s := &Session{Controller: proc.NewController()}
	s.Controller.FrameResolver = s
	s.Unwinder = &unwind.Unwinder{Mem: s.Controller, Index: s}
	s.Pool = workqueue.NewPool(4)
	return s
}

// Launch starts argv under ptrace, loads its symbols, and starts the
// event loop, implementing spec.md §4.1's launch(argv, env, tty) end to
// end (the pieces proc.Launch, symbols.Load, and Controller.RunWaitLoop
// leave to their caller to sequence).
func (s *Session) Launch(ctx context.Context, argv, env []string, forwardTTY bool) error {
	if err := s.Controller.Launch(argv, env, forwardTTY); err != nil {
		return err
	}
	return s.afterAttach(ctx, argv[0], 0)
}

// Attach attaches to an already-running process by pid (spec.md §4.1
// attach(pid)).
func (s *Session) Attach(ctx context.Context, pid int) error {
	if err := s.Controller.Attach(pid); err != nil {
		return err
	}
	exe := fmt.Sprintf("/proc/%d/exe", pid)
	return s.afterAttach(ctx, exe, 0)
}

// afterAttach loads the main executable's symbols, points the
// Controller's LineRanger and Resolver fields at the new index (which
// already satisfies both interfaces; New wired FrameResolver to this
// Session), and starts the ptrace event loop.
func (s *Session) afterAttach(ctx context.Context, path string, loadBias uint64) error {
	resolved, err := os.Readlink(path)
	if err == nil && resolved != "" {
		path = resolved
	}
	bin, err := elfbin.Open(path, loadBias)
	if err != nil {
		return fmt.Errorf("session: opening %s: %w", path, err)
	}
	if err := bin.ResolveSeparateDebug(); err != nil {
		logflags.Logger(logflags.DomainDebugger, "session").Debugf("no separate debug file for %s: %v", path, err)
	}

	job := workqueue.NewJob(ctx)
	ix, err := symbols.Load(bin, job, 4)
	if err != nil {
		bin.Close()
		return fmt.Errorf("session: loading symbols for %s: %w", path, err)
	}
	job.Finish(nil)

	s.mu.Lock()
	s.modules = []*module{{bin: bin, index: ix}}
	s.Warnings = append(s.Warnings, ix.Warnings...)
	s.mu.Unlock()

	s.Controller.LineRanger = ix
	s.Controller.Resolver = ix

	go s.Controller.RunWaitLoop()
	return nil
}

// AddModule loads symbols for an additional mapped binary (a shared
// object), extending IndexForPC's coverage. Not driven by any CLI surface
// yet (spec.md's scope is the main executable) but kept so the
// IndexResolver implementation is exercised by more than one module.
func (s *Session) AddModule(ctx context.Context, path string, loadBias uint64) error {
	bin, err := elfbin.Open(path, loadBias)
	if err != nil {
		return err
	}
	job := workqueue.NewJob(ctx)
	ix, err := symbols.Load(bin, job, 2)
	if err != nil {
		bin.Close()
		return err
	}
	job.Finish(nil)

	s.mu.Lock()
	s.modules = append(s.modules, &module{bin: bin, index: ix})
	sort.Slice(s.modules, func(i, j int) bool { return s.modules[i].bin.TextLow < s.modules[j].bin.TextLow })
	s.mu.Unlock()
	return nil
}

// IndexForPC implements unwind.IndexResolver: which loaded module's
// symbol index covers pc. Falls back to the main executable's index when
// no module's text range matches, which keeps working for PCs the
// loader's range tracking doesn't yet know about (e.g. vdso/PLT) rather
// than returning nil and forcing every caller to nil-check.
func (s *Session) IndexForPC(pc uint64) *symbols.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.modules {
		if pc >= m.bin.TextLow && pc < m.bin.TextHigh {
			return m.index
		}
	}
	if len(s.modules) > 0 {
		return s.modules[0].index
	}
	return nil
}

// Index returns the main executable's symbol index.
func (s *Session) Index() *symbols.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.modules) == 0 {
		return nil
	}
	return s.modules[0].index
}

// ReturnAddress implements proc.FrameResolver: the return address of
// tid's innermost physical frame, found by unwinding one step past the
// top and skipping any synthesized inline frames (an inline frame shares
// its enclosing physical frame's PC-identity, not a distinct return
// address).
func (s *Session) ReturnAddress(tid int, regs *proc.Registers) (uint64, error) {
	frames, err := s.Unwinder.Walk(regs)
	if err != nil {
		return 0, err
	}
	if len(frames) <= 1 {
		return 0, unwind.ErrBottomOfStack
	}
	for _, f := range frames[1:] {
		if !f.IsInline() {
			return f.PC, nil
		}
	}
	return 0, unwind.ErrBottomOfStack
}

// Frames returns tid's full stack trace (physical plus inline), spec.md
// §4.3.
func (s *Session) Frames(tid int) ([]unwind.Frame, error) {
	regs, err := s.Controller.ReadRegs(tid)
	if err != nil {
		return nil, err
	}
	return s.Unwinder.Walk(regs)
}

// ScopeForFrame builds an *eval.Scope for evaluating expressions against
// one of tid's frames (frameIdx 0 is innermost), the binding that lets
// pkg/eval stay ignorant of pkg/proc's and pkg/unwind's concrete types.
func (s *Session) ScopeForFrame(tid int, frameIdx int) (*eval.Scope, error) {
	frames, err := s.Frames(tid)
	if err != nil {
		return nil, err
	}
	if frameIdx < 0 || frameIdx >= len(frames) {
		return nil, fmt.Errorf("session: thread %d has no frame %d", tid, frameIdx)
	}
	fr := frames[frameIdx]
	ix := s.IndexForPC(fr.PC)
	if ix == nil {
		return nil, fmt.Errorf("session: no symbols loaded for pc %#x", fr.PC)
	}

	regs, err := s.Controller.ReadRegs(tid)
	if err != nil {
		return nil, err
	}
	// DW_AT_frame_base is overwhelmingly DW_OP_call_frame_cfa in binaries
	// built with a modern compiler, so the CFA doubles as the frame base
	// op.ExecuteStackProgram needs to locate locals (spec.md §4.4).
	pcRegs := regs.WithFrame(int64(fr.CFA), int64(fr.CFA))

	fn := fr.Func
	if fn == nil {
		fn = ix.FuncForPC(fr.PC)
	}
	return &eval.Scope{
		Mem:     s.Controller,
		Index:   ix,
		Func:    fn,
		Inline:  fr.Inline,
		PC:      fr.PC,
		Regs:    pcRegs,
		PtrSize: 8,
	}, nil
}

// EvalExpression evaluates expr against tid's innermost frame (spec.md
// §4.4), the entry point pkg/coreapi exposes to the TUI.
func (s *Session) EvalExpression(tid int, expr string) (eval.Value, error) {
	sc, err := s.ScopeForFrame(tid, 0)
	if err != nil {
		return eval.Value{}, err
	}
	return eval.Eval(sc, expr)
}

// SetBreakpointAtLine resolves file:line through the main index and sets
// a deferred-resolution breakpoint, optionally gated by a condition
// expression (spec.md §4.1 step 1, §4.4 "Conditional breakpoints").
func (s *Session) SetBreakpointAtLine(file string, line int, kind proc.BreakpointKind, cond string) (*proc.Breakpoint, error) {
	bp, err := s.Controller.SetBreakpointAtLine(file, line, kind, 0)
	if err != nil {
		return nil, err
	}
	return s.attachCondition(bp, cond)
}

// SetBreakpointAtFunc mirrors SetBreakpointAtLine for a function-entry
// breakpoint.
func (s *Session) SetBreakpointAtFunc(name string, kind proc.BreakpointKind, cond string) (*proc.Breakpoint, error) {
	bp, err := s.Controller.SetBreakpointAtFunc(name, kind, 0)
	if err != nil {
		return nil, err
	}
	return s.attachCondition(bp, cond)
}

func (s *Session) attachCondition(bp *proc.Breakpoint, cond string) (*proc.Breakpoint, error) {
	if cond == "" {
		return bp, nil
	}
	prog, err := eval.Compile(cond)
	if err != nil {
		s.Controller.RemoveBreakpoint(bp.ID)
		return nil, fmt.Errorf("session: compiling condition: %w", err)
	}
	bp.Condition = prog
	bp.EvalCondition = s.evalCondition
	return bp, nil
}

// evalCondition is the closure wired onto every conditional breakpoint's
// EvalCondition field; it turns the opaque Condition back into an
// *eval.Program and runs it against the hitting thread's innermost frame.
func (s *Session) evalCondition(cond interface{}, tid int) (bool, error) {
	prog, ok := cond.(*eval.Program)
	if !ok {
		return false, fmt.Errorf("session: breakpoint condition has unexpected type %T", cond)
	}
	sc, err := s.ScopeForFrame(tid, 0)
	if err != nil {
		return false, err
	}
	return prog.Run(sc)
}

// Close tears down the debuggee and releases every loaded module.
func (s *Session) Close(kill bool) error {
	s.Pool.Close()
	err := s.Controller.Detach(kill)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.modules {
		m.bin.Close()
	}
	return err
}
