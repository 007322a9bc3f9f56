// Package regnum names the DWARF register numbers for x86-64, as fixed by
// the System V AMD64 ABI supplement (§3.6.2, figure 3.36). pkg/proc,
// pkg/dwarf/frame, and pkg/eval all index register snapshots by these
// numbers rather than by ad-hoc field names.
//
// Adapted from go-delve/delve's pkg/dwarf/regnum/amd64.go, trimmed to the
// general-purpose and instruction-pointer registers nnd actually reads
// (spec.md's Non-goals exclude float/vector register display).
package regnum

const (
	Rax = 0
	Rdx = 1
	Rcx = 2
	Rbx = 3
	Rsi = 4
	Rdi = 5
	Rbp = 6
	Rsp = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13
	R14 = 14
	R15 = 15
	Rip = 16

	Rflags  = 49
	Es      = 50
	Cs      = 51
	Ss      = 52
	Ds      = 53
	Fs      = 54
	Gs      = 55
	Fs_base = 58
	Gs_base = 59
)

// ReturnAddressRegister is DW_AT_return_address_register's typical value on
// amd64 (the return address lives where Rip would, CFI-wise).
const ReturnAddressRegister = Rip
