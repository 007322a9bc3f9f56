// Package coreapi is nnd's external collaborator surface (spec.md §2
// "External collaborator APIs", §6 "TUI collaborator contract"). It
// names, as narrow Go interfaces, the boundaries the core never reaches
// across except in the direction the contract allows: the core posts
// events outward and answers non-blocking queries; collaborators (the
// TUI, a debuginfod client, a disassembler) are never called into except
// through one of these interfaces, and internal/session is the only
// concrete type that implements Core.
//
// Grounded on go-delve/delve's service package, which draws exactly this
// line between the debugger core and its RPC-facing service layer: the
// core (pkg/proc, pkg/proc/debugger) never imports service, only the
// reverse.
package coreapi

import (
	"context"

	"github.com/al13n321/nnd/pkg/eval"
	"github.com/al13n321/nnd/pkg/proc"
	"github.com/al13n321/nnd/pkg/unwind"
)

// Command is one TUI-submitted action, identified by an id the caller
// picks (spec.md §6: "TUI... submits commands by id"). Args are
// interpreted according to Name; nnd does not define a closed set here
// so that new commands don't require a coreapi change.
type Command struct {
	ID   int
	Name string
	Args []string
}

// CommandResult is posted back once a Command finishes, correlated by ID
// since commands may run asynchronously (a symbol reload, a continue
// that runs for a while before the next stop).
type CommandResult struct {
	ID  int
	Err error
}

// Core is the non-blocking query + command-submission surface the TUI is
// allowed to call into. Every method here either returns already-known
// state immediately or enqueues work and returns, per spec.md §6: "the
// core never calls into the TUI except via an outbound event queue; the
// TUI calls only non-blocking query methods and submits commands by id."
type Core interface {
	// Events returns the channel the core posts state-change
	// notifications to; the TUI is the only reader.
	Events() <-chan proc.Event

	// Submit enqueues cmd for asynchronous execution and returns
	// immediately; the result arrives on Results.
	Submit(cmd Command)
	Results() <-chan CommandResult

	// Threads/Frames/Eval are synchronous, non-blocking reads of
	// already-stopped state; they never themselves resume the debuggee.
	Threads() []int
	Frames(tid int) ([]unwind.Frame, error)
	Eval(tid int, expr string) (eval.Value, error)

	// HelpTopics returns the built-in topic-indexed help content
	// (SPEC_FULL.md §12 "doc.rs -> --help-<topic> content"), read by both
	// cmd/nnd and the TUI's help command.
	HelpTopics() map[string]string
}

// DebugInfoClient is the narrow view of pkg/debuginfod.Client the core
// depends on, so pkg/debuginfod remains a swappable collaborator rather
// than a hard dependency of internal/session (spec.md §6 "supplementary
// files fetched from debuginfod... by build-id over HTTPS").
type DebugInfoClient interface {
	GetDebuginfo(ctx context.Context, buildID string) (path string, err error)
	GetSource(ctx context.Context, buildID, sourcePath string) (path string, err error)
}

// Instruction is one decoded machine instruction, the unit Disassembler
// deals in.
type Instruction struct {
	PC     uint64
	Length int
	Text   string
	Bytes  []byte
}

// Disassembler is the narrow collaborator interface standing in for "the
// external disassembler" spec.md §2 treats as a collaborator rather than
// a component this repo must itself implement. X86Disassembler in
// disasm.go is the only user of golang.org/x/arch/x86/x86asm in this
// module; pkg/proc does no instruction decoding.
type Disassembler interface {
	Disassemble(code []byte, pc uint64) (Instruction, error)
	DisassembleRange(code []byte, startPC uint64) ([]Instruction, error)
}
