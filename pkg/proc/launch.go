package proc

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	sys "golang.org/x/sys/unix"

	"github.com/al13n321/nnd/pkg/logflags"
)

// ptyHandle is the pair of ends of an allocated pseudo-terminal, kept open
// for the lifetime of a launched debuggee (spec.md §6 "-t disables
// forwarding the debuggee's terminal").
type ptyHandle struct {
	master, slave *os.File
}

// NewController creates an unattached Controller. Attach or Launch must be
// called before any other method.
func NewController() *Controller {
	c := &Controller{
		threads:     map[int]*Thread{},
		breakpoints: map[uint64]*Breakpoint{},
		events:      make(chan Event, 64),
		reqs:        make(chan ptraceReq),
	}
	go runPtraceLoop(c.reqs)
	return c
}

// Launch starts argv[0] with the given arguments and environment under
// ptrace, stopped at its first instruction after execve (spec.md §4.1
// "launch(argv, env, tty)"). When forwardTTY is true a PTY is allocated and
// wired to the child's stdio so the debuggee's terminal I/O is visible to
// the user rather than captured by nnd.
func (c *Controller) Launch(argv, env []string, forwardTTY bool) error {
	if len(argv) == 0 {
		return ErrNotExecutable
	}
	log := logflags.Logger(logflags.DomainProc, "launch")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:  true,
		Setpgid: true,
	}

	if forwardTTY {
		master, slave, err := pty.Open()
		if err != nil {
			return fmt.Errorf("proc: allocating pty: %w", err)
		}
		c.ptty = ptyHandle{master: master, slave: slave}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = slave, slave, slave
		cmd.SysProcAttr.Setctty = true
		cmd.SysProcAttr.Setsid = true // a controlling tty needs a session leader
		cmd.SysProcAttr.Setpgid = false
	} else {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("proc: starting %s: %w", argv[0], err)
	}
	if c.ptty.slave != nil {
		c.ptty.slave.Close()
		c.ptty.slave = nil
		go io.Copy(os.Stdout, c.ptty.master)
		go io.Copy(c.ptty.master, os.Stdin)
	}

	c.pid = cmd.Process.Pid
	c.leader = c.pid
	c.path = argv[0]

	var wstatus sys.WaitStatus
	var werr error
	c.onPtraceThread(func() {
		_, werr = sys.Wait4(c.pid, &wstatus, 0, nil)
	})
	if werr != nil {
		return fmt.Errorf("proc: waiting for initial execve stop: %w", werr)
	}
	log.Debugf("launched pid=%d", c.pid)

	th := &Thread{ID: c.pid, Status: StatusStopped, Reason: StopExec}
	c.threads[c.pid] = th
	c.setPtraceOptions(c.pid)
	return nil
}

// Attach attaches to an already-running process by pid (spec.md §4.1
// "attach(pid)").
func (c *Controller) Attach(pid int) error {
	c.pid = pid
	c.leader = pid

	var err error
	c.onPtraceThread(func() { err = sys.PtraceAttach(pid) })
	if err != nil {
		return fmt.Errorf("proc: attaching to pid %d: %w", pid, err)
	}

	var wstatus sys.WaitStatus
	c.onPtraceThread(func() { _, err = sys.Wait4(pid, &wstatus, 0, nil) })
	if err != nil {
		return fmt.Errorf("proc: waiting after attach: %w", err)
	}

	c.path = fmt.Sprintf("/proc/%d/exe", pid)
	c.threads[pid] = &Thread{ID: pid, Status: StatusStopped, Reason: StopManual}
	c.setPtraceOptions(pid)

	tids, _ := listThreadIDs(pid)
	for _, tid := range tids {
		if tid == pid {
			continue
		}
		c.attachThread(tid)
	}
	return nil
}

func (c *Controller) attachThread(tid int) {
	var err error
	c.onPtraceThread(func() { err = sys.PtraceAttach(tid) })
	if err != nil {
		return
	}
	var wstatus sys.WaitStatus
	c.onPtraceThread(func() { sys.Wait4(tid, &wstatus, 0, nil) })
	c.setPtraceOptions(tid)
	c.threads[tid] = &Thread{ID: tid, Status: StatusStopped, Reason: StopManual}
}

func (c *Controller) setPtraceOptions(tid int) {
	c.onPtraceThread(func() {
		syscall.PtraceSetOptions(tid, syscall.PTRACE_O_TRACECLONE|syscall.PTRACE_O_TRACEEXIT)
	})
}

// Detach releases ptrace over every thread, optionally killing the
// debuggee first (spec.md §4.1 "detach()").
func (c *Controller) Detach(kill bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kill {
		c.onPtraceThread(func() { sys.Kill(c.pid, sys.SIGKILL) })
	}
	for tid := range c.threads {
		c.onPtraceThread(func() { sys.PtraceDetach(tid) })
	}
	if c.ptty.master != nil {
		c.ptty.master.Close()
	}
	close(c.reqs)
	return nil
}

func listThreadIDs(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		var tid int
		if _, err := fmt.Sscanf(e.Name(), "%d", &tid); err == nil {
			out = append(out, tid)
		}
	}
	return out, nil
}
