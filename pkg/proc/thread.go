package proc

import (
	"fmt"

	sys "golang.org/x/sys/unix"

	"github.com/al13n321/nnd/pkg/proc/regnum"
)

// ReadRegs reads tid's general-purpose registers (spec.md §4.1
// "read_regs(tid)"). Only valid while the thread is Stopped.
func (c *Controller) ReadRegs(tid int) (*Registers, error) {
	th, ok := c.threads[tid]
	if !ok {
		return nil, fmt.Errorf("proc: no such thread %d", tid)
	}
	if th.Status != StatusStopped {
		return nil, ErrNotStopped
	}
	var raw sys.PtraceRegs
	var err error
	c.onPtraceThread(func() { err = sys.PtraceGetRegs(tid, &raw) })
	if err != nil {
		return nil, fmt.Errorf("proc: PTRACE_GETREGS tid %d: %w", tid, err)
	}
	r := ptraceRegsToRegisters(&raw)
	th.regs = r
	th.regsOK = true
	return r, nil
}

// WriteRegs writes back a (possibly modified) register snapshot (spec.md
// §4.1 "write_regs(tid,regs)").
func (c *Controller) WriteRegs(tid int, r *Registers) error {
	th, ok := c.threads[tid]
	if !ok {
		return fmt.Errorf("proc: no such thread %d", tid)
	}
	if th.Status != StatusStopped {
		return ErrNotStopped
	}
	raw := registersToPtraceRegs(r)
	var err error
	c.onPtraceThread(func() { err = sys.PtraceSetRegs(tid, &raw) })
	if err != nil {
		return fmt.Errorf("proc: PTRACE_SETREGS tid %d: %w", tid, err)
	}
	th.regs = r
	return nil
}

func ptraceRegsToRegisters(raw *sys.PtraceRegs) *Registers {
	r := &Registers{Seg: map[uint64]uint64{}}
	r.Regs[regnum.Rax] = raw.Rax
	r.Regs[regnum.Rdx] = raw.Rdx
	r.Regs[regnum.Rcx] = raw.Rcx
	r.Regs[regnum.Rbx] = raw.Rbx
	r.Regs[regnum.Rsi] = raw.Rsi
	r.Regs[regnum.Rdi] = raw.Rdi
	r.Regs[regnum.Rbp] = raw.Rbp
	r.Regs[regnum.Rsp] = raw.Rsp
	r.Regs[regnum.R8] = raw.R8
	r.Regs[regnum.R9] = raw.R9
	r.Regs[regnum.R10] = raw.R10
	r.Regs[regnum.R11] = raw.R11
	r.Regs[regnum.R12] = raw.R12
	r.Regs[regnum.R13] = raw.R13
	r.Regs[regnum.R14] = raw.R14
	r.Regs[regnum.R15] = raw.R15
	r.Regs[regnum.Rip] = raw.Rip
	r.Seg[regnum.Rflags] = raw.Eflags
	r.Seg[regnum.Cs] = raw.Cs
	r.Seg[regnum.Ss] = raw.Ss
	r.Seg[regnum.Ds] = raw.Ds
	r.Seg[regnum.Es] = raw.Es
	r.Seg[regnum.Fs] = raw.Fs
	r.Seg[regnum.Gs] = raw.Gs
	r.Seg[regnum.Fs_base] = raw.Fs_base
	r.Seg[regnum.Gs_base] = raw.Gs_base
	return r
}

func registersToPtraceRegs(r *Registers) sys.PtraceRegs {
	var raw sys.PtraceRegs
	raw.Rax = r.Regs[regnum.Rax]
	raw.Rdx = r.Regs[regnum.Rdx]
	raw.Rcx = r.Regs[regnum.Rcx]
	raw.Rbx = r.Regs[regnum.Rbx]
	raw.Rsi = r.Regs[regnum.Rsi]
	raw.Rdi = r.Regs[regnum.Rdi]
	raw.Rbp = r.Regs[regnum.Rbp]
	raw.Rsp = r.Regs[regnum.Rsp]
	raw.R8 = r.Regs[regnum.R8]
	raw.R9 = r.Regs[regnum.R9]
	raw.R10 = r.Regs[regnum.R10]
	raw.R11 = r.Regs[regnum.R11]
	raw.R12 = r.Regs[regnum.R12]
	raw.R13 = r.Regs[regnum.R13]
	raw.R14 = r.Regs[regnum.R14]
	raw.R15 = r.Regs[regnum.R15]
	raw.Rip = r.Regs[regnum.Rip]
	raw.Eflags = r.Seg[regnum.Rflags]
	raw.Cs = r.Seg[regnum.Cs]
	raw.Ss = r.Seg[regnum.Ss]
	raw.Ds = r.Seg[regnum.Ds]
	raw.Es = r.Seg[regnum.Es]
	raw.Fs = r.Seg[regnum.Fs]
	raw.Gs = r.Seg[regnum.Gs]
	raw.Fs_base = r.Seg[regnum.Fs_base]
	raw.Gs_base = r.Seg[regnum.Gs_base]
	return raw
}

// ThreadIDs returns every currently known thread id, leader first.
func (c *Controller) ThreadIDs() []int {
	out := make([]int, 0, len(c.threads))
	out = append(out, c.leader)
	for tid := range c.threads {
		if tid != c.leader {
			out = append(out, tid)
		}
	}
	return out
}

// ThreadByID returns the Thread record for tid, or nil.
func (c *Controller) ThreadByID(tid int) *Thread { return c.threads[tid] }
