package symbols

import (
	"debug/dwarf"

	"github.com/al13n321/nnd/pkg/dwarf/line"
)

// parseUnit materializes one compilation unit's DIEs: its line table,
// every DW_TAG_subprogram (with inline-call-site tree), and every
// file-static/global DW_TAG_variable at unit scope. This is the per-
// worker contribution of spec.md §4.2 phase 3 ("Parallel unit parsing").
func (ix *Index) parseUnit(d *dwarf.Data, cu *dwarf.Entry) (*Unit, []*Function, []*Global, error) {
	u := &Unit{
		Offset:  cu.Offset,
		entry:   cu,
		arena:   ix.Arena,
	}
	if v, ok := cu.Val(dwarf.AttrName).(string); ok {
		u.Name = v
	}
	if v, ok := cu.Val(dwarf.AttrCompDir).(string); ok {
		u.CompDir = v
	}
	if v, ok := cu.Val(dwarf.AttrLanguage).(int64); ok {
		u.Language = v
	}
	if v, ok := cu.Val(dwarf.AttrLowpc).(uint64); ok {
		u.LowPC = v + ix.Binary.LoadBias
	}
	if ar := d.Reader(); ar != nil {
		ar.Seek(cu.Offset)
		ar.Next()
		u.AddrSize = int(ar.AddressSize())
	}

	if lt, err := line.Build(d, cu); err == nil {
		u.lines = lt
	} else {
		ix.warnf("unit %s: line program: %v", u.Name, err)
		u.lines = &line.Table{}
	}

	r := d.Reader()
	r.Seek(cu.Offset)
	r.Next() // re-read cu itself so the following Next() walks its children

	var functions []*Function
	var globals []*Global
	depth := 0
	var inlineStack []*InlineCallSite

	for {
		e, err := r.Next()
		if err != nil {
			return nil, nil, nil, err
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			if depth < 0 {
				break
			}
			if len(inlineStack) > 0 {
				inlineStack = inlineStack[:len(inlineStack)-1]
			}
			continue
		}
		if e.Children {
			depth++
		}

		switch e.Tag {
		case dwarf.TagSubprogram:
			fn := ix.buildFunction(u, e)
			if fn != nil {
				functions = append(functions, fn)
				if e.Children {
					inlineStack = append(inlineStack, nil) // sentinel: enters a function, not an inline
				}
			}
		case dwarf.TagInlinedSubroutine:
			site := ix.buildInlineSite(e)
			var parent *InlineCallSite
			for i := len(inlineStack) - 1; i >= 0; i-- {
				if inlineStack[i] != nil {
					parent = inlineStack[i]
					break
				}
			}
			site.Parent = parent
			if parent != nil {
				parent.Children = append(parent.Children, site)
			} else if len(functions) > 0 {
				fn := functions[len(functions)-1]
				fn.InlineSites = append(fn.InlineSites, site)
			}
			if e.Children {
				inlineStack = append(inlineStack, site)
			}
		case dwarf.TagVariable:
			if depth == 0 { // direct child of the CU: file static or global
				if g := ix.buildGlobal(u, e); g != nil {
					globals = append(globals, g)
				}
			}
		}
	}

	return u, functions, globals, nil
}

func (ix *Index) buildFunction(u *Unit, e *dwarf.Entry) *Function {
	name, _ := e.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil
	}
	fn := &Function{Name: name, Unit: u, DIE: e.Offset}
	if lo, ok := e.Val(dwarf.AttrLowpc).(uint64); ok {
		fn.LowPC = lo + ix.Binary.LoadBias
		fn.HighPC = fn.LowPC + highpcLength(e, lo)
	}
	switch fb := e.Val(dwarf.AttrFrameBase).(type) {
	case []byte:
		fn.FrameBase = fb
	case int64:
		fn.HasFrameBaseLoclist = true
		fn.FrameBaseLoclistOff = int(fb)
	}
	return fn
}

// highpcLength returns DW_AT_high_pc interpreted as a length relative to
// lowpc (DWARF4+ form) or as an absolute address minus lowpc (DWARF2/3
// form) — debug/dwarf normalizes both into the raw attribute value, so we
// disambiguate by magnitude: a high_pc smaller than low_pc must be a
// length.
func highpcLength(e *dwarf.Entry, lowpc uint64) uint64 {
	switch v := e.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		if v > lowpc {
			return v - lowpc
		}
		return v
	case int64:
		return uint64(v)
	}
	return 0
}

func (ix *Index) buildInlineSite(e *dwarf.Entry) *InlineCallSite {
	site := &InlineCallSite{DIE: e.Offset}
	if lo, ok := e.Val(dwarf.AttrLowpc).(uint64); ok {
		site.LowPC = lo + ix.Binary.LoadBias
		site.HighPC = site.LowPC + highpcLength(e, lo)
	}
	if cl, ok := e.Val(dwarf.AttrCallLine).(int64); ok {
		site.CallLine = int(cl)
	}
	if _, ok := e.Val(dwarf.AttrCallTailCall).(bool); ok {
		site.IsTailCall = true
	}
	return site
}

func (ix *Index) buildGlobal(u *Unit, e *dwarf.Entry) *Global {
	name, _ := e.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil
	}
	if _, ok := e.Val(dwarf.AttrDeclaration).(bool); ok {
		return nil // declaration only, no storage in this unit
	}
	g := &Global{Name: name, Unit: u, DIE: e.Offset}
	if loc, ok := e.Val(dwarf.AttrLocation).([]byte); ok {
		g.Location = loc
	}
	if toff, ok := e.Val(dwarf.AttrType).(dwarf.Offset); ok {
		if tid, err := ix.ResolveType(u, toff); err == nil {
			g.Type = tid
		}
	}
	return g
}
