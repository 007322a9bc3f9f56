package session

import (
	"fmt"
	"strconv"

	"github.com/al13n321/nnd/pkg/coreapi"
	"github.com/al13n321/nnd/pkg/eval"
	"github.com/al13n321/nnd/pkg/proc"
	"github.com/al13n321/nnd/pkg/unwind"
)

// CoreHandle adapts *Session to coreapi.Core: the only door the TUI is
// allowed to knock on (spec.md §6 "TUI collaborator contract"). Every
// method here is non-blocking; Submit is the sole way to make the
// debuggee actually run, and it returns immediately, posting its
// eventual result on Results.
type CoreHandle struct {
	s       *Session
	cmds    chan coreapi.Command
	results chan coreapi.CommandResult
}

// NewCoreHandle starts the command-dispatch goroutine over s and returns
// the handle the TUI is given. s must already have Launch or Attach
// called on it.
func NewCoreHandle(s *Session) *CoreHandle {
	h := &CoreHandle{
		s:       s,
		cmds:    make(chan coreapi.Command, 64),
		results: make(chan coreapi.CommandResult, 64),
	}
	go h.dispatchLoop()
	return h
}

func (h *CoreHandle) Events() <-chan proc.Event          { return h.s.Controller.Events() }
func (h *CoreHandle) Results() <-chan coreapi.CommandResult { return h.results }
func (h *CoreHandle) Threads() []int                      { return h.s.Controller.ThreadIDs() }
func (h *CoreHandle) Frames(tid int) ([]unwind.Frame, error) { return h.s.Frames(tid) }
func (h *CoreHandle) Eval(tid int, expr string) (eval.Value, error) {
	return h.s.EvalExpression(tid, expr)
}
func (h *CoreHandle) HelpTopics() map[string]string { return coreapi.HelpTopics() }

// Submit enqueues cmd for the dispatch goroutine; per the contract, the
// caller never blocks on the debuggee actually resuming.
func (h *CoreHandle) Submit(cmd coreapi.Command) {
	h.cmds <- cmd
}

func (h *CoreHandle) dispatchLoop() {
	for cmd := range h.cmds {
		err := h.run(cmd)
		h.results <- coreapi.CommandResult{ID: cmd.ID, Err: err}
	}
}

// run executes one command's named action against the Session. The
// command vocabulary is deliberately small and stringly-typed (spec.md
// §6 leaves command shape to the TUI contract, not to coreapi) so adding
// a new TUI action never requires widening the Core interface.
func (h *CoreHandle) run(cmd coreapi.Command) error {
	switch cmd.Name {
	case "continue":
		return h.s.Controller.Cont(firstTID(cmd.Args, h.s))
	case "interrupt":
		return h.s.Controller.Interrupt()
	case "step-over":
		return h.s.Controller.StepLine(firstTID(cmd.Args, h.s), proc.StepOver)
	case "step-into":
		return h.s.Controller.StepLine(firstTID(cmd.Args, h.s), proc.StepInto)
	case "step-out":
		return h.s.Controller.StepLine(firstTID(cmd.Args, h.s), proc.StepOut)
	case "step-instruction":
		return h.s.Controller.StepInstruction(firstTID(cmd.Args, h.s))
	case "break-line":
		if len(cmd.Args) < 2 {
			return fmt.Errorf("session: break-line needs file and line args")
		}
		line, err := strconv.Atoi(cmd.Args[1])
		if err != nil {
			return fmt.Errorf("session: bad line number %q: %w", cmd.Args[1], err)
		}
		cond := ""
		if len(cmd.Args) > 2 {
			cond = cmd.Args[2]
		}
		_, err = h.s.SetBreakpointAtLine(cmd.Args[0], line, proc.BreakpointSoftware, cond)
		return err
	case "break-func":
		if len(cmd.Args) < 1 {
			return fmt.Errorf("session: break-func needs a function name arg")
		}
		cond := ""
		if len(cmd.Args) > 1 {
			cond = cmd.Args[1]
		}
		_, err := h.s.SetBreakpointAtFunc(cmd.Args[0], proc.BreakpointSoftware, cond)
		return err
	case "remove-breakpoint":
		if len(cmd.Args) < 1 {
			return fmt.Errorf("session: remove-breakpoint needs an id arg")
		}
		id, err := strconv.Atoi(cmd.Args[0])
		if err != nil {
			return err
		}
		return h.s.Controller.RemoveBreakpoint(id)
	default:
		return fmt.Errorf("session: unknown command %q", cmd.Name)
	}
}

// firstTID parses args[0] as a tid if present, otherwise falls back to
// the first thread the Controller knows about (the common single
// threaded debuggee case, where the TUI need not specify one).
func firstTID(args []string, s *Session) int {
	if len(args) > 0 {
		if tid, err := strconv.Atoi(args[0]); err == nil {
			return tid
		}
	}
	tids := s.Controller.ThreadIDs()
	if len(tids) > 0 {
		return tids[0]
	}
	return 0
}

var _ coreapi.Core = (*CoreHandle)(nil)
