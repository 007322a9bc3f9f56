// Package logflags manages log output filtering for the core.
//
// Each subsystem of the debugger logs through its own named domain. A
// domain is silent by default; enabling it (via --log-domain on the CLI)
// raises it to debug level. This mirrors the way delve's pkg/logflags
// gates its own per-layer loggers.
package logflags

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	enabled = map[string]bool{}
)

// Domains understood by Setup. Kept as an explicit list (rather than
// accepting arbitrary strings) so --log-domain=bogus fails fast.
const (
	DomainProc    = "proc"
	DomainDWARF   = "dwarf"
	DomainSymbols = "symbols"
	DomainUnwind  = "unwind"
	DomainEval    = "eval"
	DomainDebugger = "debugger"
)

var allDomains = []string{DomainProc, DomainDWARF, DomainSymbols, DomainUnwind, DomainEval, DomainDebugger}

// Setup parses a comma separated list of domain names (or "all") and
// enables logging for each. It is called once at startup from cmd/nnd.
func Setup(spec string) error {
	mu.Lock()
	defer mu.Unlock()
	if spec == "" {
		return nil
	}
	if spec == "all" {
		for _, d := range allDomains {
			enabled[d] = true
		}
		return nil
	}
	for _, d := range strings.Split(spec, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		found := false
		for _, known := range allDomains {
			if known == d {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown log domain %q", d)
		}
		enabled[d] = true
	}
	return nil
}

// Logger returns a logrus entry for the given domain, tagged with the
// component name. When the domain is not enabled the entry is set to
// PanicLevel so nothing short of a panic-worthy event is emitted.
func Logger(domain, component string) *logrus.Entry {
	mu.Lock()
	on := enabled[domain]
	mu.Unlock()
	l := logrus.New()
	l.Level = logrus.PanicLevel
	if on {
		l.Level = logrus.DebugLevel
	}
	return l.WithFields(logrus.Fields{"layer": domain, "component": component})
}

// Enabled reports whether domain is currently emitting debug output.
func Enabled(domain string) bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled[domain]
}
