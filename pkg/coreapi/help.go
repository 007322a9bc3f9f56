package coreapi

// HelpTopics returns the built-in topic-indexed help content, grounded on
// original_source/doc.rs's print_help_chapter table (SPEC_FULL.md §12).
// cmd/nnd serves these for --help-<topic>; the TUI reads the same map for
// its help window.
func HelpTopics() map[string]string {
	return map[string]string{
		"overview": `nnd debugs native 64-bit x86 Linux programs. Launch it against a
command line to run a fresh process under it, or attach to a running pid.
Breakpoints can be set by file:line or function name, with an optional
condition expression. Stepping is line-granularity (into/over/out) and
is aware of inlined functions: an inlined call site counts as its own
frame for stepping and stack traces.`,
		"known-problems": `No data breakpoints. No remote debugging, forks, or replay. Stepping
does not unwind through exceptions/panics: a thrown exception during a
step-over leaves the step waiting until manually interrupted. Pretty
printers cover the common container and smart-pointer shapes, not every
possible type.`,
		"watches": `Watch expressions use a small C-like grammar, not the debuggee's source
language: member access (a.b), indexing (a[i]), address-of/dereference
(&a, *a), casts (a as T, a as T*), and the built-ins sizeof(x),
type_of(x), offsetof(T, field). Scoped names use Namespace::Name.
Function-call injection is not supported.`,
		"state": `Per-project state (breakpoints, watch expressions, launch command
line, search history) is kept under $HOME/.nnd and rewritten on every
save; window layout is not part of it. Unknown keys from a newer version
of nnd are preserved rather than dropped.`,
		"tty": `By default the debuggee's terminal I/O is forwarded to nnd's own
controlling terminal via an allocated PTY. Pass -t to disable this and
let the debuggee inherit nnd's stdio directly instead.`,
	}
}
