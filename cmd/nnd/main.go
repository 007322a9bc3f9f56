// Command nnd is the CLI entry point for the debugger (spec.md §6 "CLI
// surface"): `nnd <program> [args...]` launches and debugs a fresh
// process, `nnd -p <pid>` attaches to a running one. Exit codes are 0
// (debuggee ran to a normal exit), 1 (usage error), 2 (target failed to
// start), and 3 (internal error).
//
// Grounded on go-delve/delve's cmd/dlv/main.go (a cobra root command plus
// a handful of flags, no subcommand tree beyond that) and on
// original_source/doc.rs's own flag/help-chapter list, which this CLI's
// --help-<topic> surface reproduces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/al13n321/nnd/internal/session"
	"github.com/al13n321/nnd/pkg/coreapi"
	"github.com/al13n321/nnd/pkg/logflags"
	"github.com/al13n321/nnd/pkg/proc"
)

const exeName = "nnd"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main's testable core: it never calls os.Exit itself, so a test
// can drive it and inspect the returned code directly.
func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "nnd: internal error: %v\n", r)
			code = exitInternal
		}
	}()
	if code, handled := handleHelpArgs(args); handled {
		return code
	}

	var pid int
	var noTTY bool
	var logDomains string
	var stayAttached bool

	root := &cobra.Command{
		Use:          exeName + " <program> [args...]",
		Short:        "nnd debugs native 64-bit x86 Linux programs.",
		SilenceUsage: true,
	}
	root.Flags().IntVarP(&pid, "pid", "p", 0, "attach to an already-running process by pid, instead of launching one")
	root.Flags().BoolVarP(&noTTY, "no-tty", "t", !isatty.IsTerminal(os.Stdout.Fd()), "don't forward the debuggee's terminal I/O through an allocated pty")
	root.Flags().StringVar(&logDomains, "log-domain", "", "comma separated log domains to enable (proc,dwarf,symbols,unwind,eval,debugger,all)")
	root.Flags().BoolVarP(&stayAttached, "continue", "c", false, "don't pause on startup, continue the program immediately")

	exitCode := 0
	root.RunE = func(cmd *cobra.Command, cmdArgs []string) error {
		if err := logflags.Setup(logDomains); err != nil {
			exitCode = exitUsage
			return err
		}
		if pid == 0 && len(cmdArgs) == 0 {
			exitCode = exitUsage
			return fmt.Errorf("nnd: need a program to run, or -p <pid> to attach")
		}
		code, err := runSession(pid, cmdArgs, !noTTY, stayAttached)
		exitCode = code
		return err
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = exitUsage
		}
	}
	return exitCode
}

const (
	exitOK          = 0
	exitUsage       = 1
	exitStartFailed = 2
	exitInternal    = 3
)

// runSession owns a session end to end for the CLI's headless mode: start
// the debuggee, run it to completion (or until interrupted), and report
// the outcome. A real interactive session is driven by the TUI
// collaborator through pkg/coreapi.Core instead of this function; this
// is what `nnd <program>` does with no TUI attached.
func runSession(pid int, cmdArgs []string, forwardTTY, continueImmediately bool) (int, error) {
	s := session.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pid != 0 {
		if err := s.Attach(ctx, pid); err != nil {
			return exitStartFailed, fmt.Errorf("nnd: attaching to pid %d: %w", pid, err)
		}
	} else {
		if err := s.Launch(ctx, cmdArgs, os.Environ(), forwardTTY); err != nil {
			return exitStartFailed, fmt.Errorf("nnd: launching %s: %w", cmdArgs[0], err)
		}
	}
	defer s.Close(pid == 0)

	handle := session.NewCoreHandle(s)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT)
	defer signal.Stop(sigc)

	if continueImmediately {
		handle.Submit(coreapi.Command{ID: 1, Name: "continue"})
	}

	for {
		select {
		case <-sigc:
			handle.Submit(coreapi.Command{ID: 0, Name: "interrupt"})
		case ev, ok := <-handle.Events():
			if !ok {
				return exitOK, nil
			}
			switch ev.Kind {
			case proc.EventTargetGone:
				return exitOK, nil
			case proc.EventStopped:
				fmt.Fprintf(os.Stderr, "nnd: thread %d stopped (%v)\n", ev.Thread, ev.Reason)
				if ev.Reason == proc.StopBreakpoint || ev.Reason == proc.StopManual {
					handle.Submit(coreapi.Command{ID: 0, Name: "continue", Args: []string{strconv.Itoa(ev.Thread)}})
				}
			}
		}
	}
}

// handleHelpArgs implements spec.md §6's --help / --help-<topic> surface
// without going through cobra's own flag parsing, matching
// original_source/doc.rs's direct string-match dispatch.
func handleHelpArgs(args []string) (int, bool) {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			fmt.Println(usageText())
			return exitOK, true
		}
		if strings.HasPrefix(a, "--help-") {
			topic := strings.TrimPrefix(a, "--help-")
			topics := coreapi.HelpTopics()
			text, ok := topics[topic]
			if !ok {
				fmt.Fprintf(os.Stderr, "nnd: no help topic %q; known topics: %s\n", topic, strings.Join(topicNames(topics), ", "))
				return exitUsage, true
			}
			fmt.Println(text)
			return exitOK, true
		}
	}
	return 0, false
}

func topicNames(topics map[string]string) []string {
	out := make([]string, 0, len(topics))
	for k := range topics {
		out = append(out, k)
	}
	return out
}

func usageText() string {
	return fmt.Sprintf(`nnd is a debugger for native 64-bit x86 Linux programs.

Usage:
  %[1]s <program> [args...]   run a program under the debugger
  %[1]s -p <pid>              attach to an existing process

Flags:
  -p, --pid int        attach to an already-running process
  -t                    don't forward the debuggee's tty
  --log-domain string  comma separated log domains to enable
  -c                    don't pause on startup

Documentation chapters:
  --help-overview, --help-known-problems, --help-watches, --help-state, --help-tty
`, exeName)
}
