//go:build linux

package proc

import (
	"runtime"
)

// ptraceReq is a closure that must run on the dedicated ptrace OS thread
// (Linux requires ptrace calls to come from the tracer thread that
// attached, spec.md §5 "a dedicated ptrace thread that is the sole caller
// of ptrace and wait primitives").
type ptraceReq struct {
	fn   func()
	done chan struct{}
}

// runPtraceLoop is the body of the dedicated ptrace goroutine. It locks
// itself to its OS thread for its entire lifetime and drains reqs,
// running each closure synchronously before accepting the next.
func runPtraceLoop(reqs <-chan ptraceReq) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for req := range reqs {
		req.fn()
		close(req.done)
	}
}

// onPtraceThread synchronously runs fn on the dedicated ptrace thread and
// waits for it to finish. Every ptrace(2)/wait4(2) call in this package
// goes through this.
func (c *Controller) onPtraceThread(fn func()) {
	req := ptraceReq{fn: fn, done: make(chan struct{})}
	c.reqs <- req
	<-req.done
}
