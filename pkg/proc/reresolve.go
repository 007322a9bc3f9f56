package proc

import "fmt"

// SetBreakpointAtLine resolves file:line through c.Resolver and installs a
// breakpoint there, remembering the symbolic spec so ReresolveBreakpoints
// can follow it across a symbol reload (SPEC_FULL.md §12).
func (c *Controller) SetBreakpointAtLine(file string, line int, kind BreakpointKind, threadFilter int) (*Breakpoint, error) {
	if c.Resolver == nil {
		return nil, fmt.Errorf("proc: no symbol resolver configured")
	}
	addr, err := c.Resolver.LineToPC(file, line)
	if err != nil {
		return nil, err
	}
	bp, err := c.SetBreakpoint(addr, kind, threadFilter)
	if err != nil {
		return nil, err
	}
	bp.Spec = &BreakpointSpec{File: file, Line: line}
	return bp, nil
}

// SetBreakpointAtFunc is SetBreakpointAtLine's function-name counterpart.
func (c *Controller) SetBreakpointAtFunc(name string, kind BreakpointKind, threadFilter int) (*Breakpoint, error) {
	if c.Resolver == nil {
		return nil, fmt.Errorf("proc: no symbol resolver configured")
	}
	addr, err := c.Resolver.FuncToPC(name)
	if err != nil {
		return nil, err
	}
	bp, err := c.SetBreakpoint(addr, kind, threadFilter)
	if err != nil {
		return nil, err
	}
	bp.Spec = &BreakpointSpec{Func: name}
	return bp, nil
}

// ReresolveBreakpoints re-resolves every breakpoint that carries a Spec
// against the current state of c.Resolver, moving it to a new address if
// the resolution changed (SPEC_FULL.md §12 "debugger.rs → breakpoint
// deferred resolution across reloads"): a shared library load, a symbol
// file becoming available, or a PIE's base address shifting can all change
// where a file:line or function name maps to. No code in this module
// calls it; internal/session's AddModule leaves c.Resolver on the main
// executable's index.
func (c *Controller) ReresolveBreakpoints() error {
	c.mu.Lock()
	var specced []*Breakpoint
	for _, bp := range c.breakpoints {
		if bp.Spec != nil {
			specced = append(specced, bp)
		}
	}
	c.mu.Unlock()

	for _, bp := range specced {
		if err := c.reresolveOne(bp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) reresolveOne(bp *Breakpoint) error {
	c.mu.Lock()
	resolver := c.Resolver
	c.mu.Unlock()
	if resolver == nil {
		return nil
	}

	var newAddr uint64
	var err error
	if bp.Spec.Func != "" {
		newAddr, err = resolver.FuncToPC(bp.Spec.Func)
	} else {
		newAddr, err = resolver.LineToPC(bp.Spec.File, bp.Spec.Line)
	}
	if err != nil || newAddr == bp.Addr {
		return nil // unresolved or unchanged: leave it where it is
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.breakpoints[newAddr] != nil {
		return nil // another breakpoint already owns the new address
	}
	c.removeBreakpointLocked(bp)

	moved := &Breakpoint{
		ID: bp.ID, Kind: bp.Kind, Addr: newAddr, Enabled: bp.Enabled,
		Condition: bp.Condition, EvalCondition: bp.EvalCondition,
		ThreadFilter: bp.ThreadFilter, HitCount: bp.HitCount, Spec: bp.Spec,
	}
	switch moved.Kind {
	case BreakpointSoftware:
		var orig [1]byte
		if _, err := c.readMemoryLocked(orig[:], newAddr); err != nil {
			return err
		}
		moved.originalByte = orig[0]
		if _, err := c.writeMemoryLocked(newAddr, []byte{int3}); err != nil {
			return err
		}
		moved.patched = true
	case BreakpointHardware:
		idx, err := c.allocHWSlot(moved.ID)
		if err != nil {
			return err
		}
		moved.hwIndex = idx
		for tid := range c.threads {
			if err := c.writeHardwareBreakpoint(tid, newAddr, idx); err != nil {
				return err
			}
		}
	}
	c.breakpoints[newAddr] = moved
	return nil
}
