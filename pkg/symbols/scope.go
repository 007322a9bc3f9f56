package symbols

import "debug/dwarf"

// ScopeVar is one parameter or local variable visible at a given PC,
// produced by ScopeVars for pkg/eval's name resolution (spec.md §4.4
// "Name resolution order at a frame: local variables of the innermost
// scope outward; parameters; ...").
type ScopeVar struct {
	Name       string
	Type       TypeID
	Location   []byte // constant DW_AT_location expression, if not a loclist
	LoclistOff int
	HasLoclist bool
	IsParam    bool
	Depth      int // 0 = function's own scope, increasing with lexical-block nesting
}

// ScopeVars walks fn's DIE subtree and returns every formal parameter and
// local variable whose enclosing lexical block contains pc (or that
// carries no PC range at all, meaning unconditionally visible), each
// tagged with its nesting Depth. DIE declaration order does not imply
// scope nesting order, so callers implementing spec.md §4.4's "innermost
// scope outward" resolution should pick, per name, the entry with the
// largest Depth rather than relying on slice order.
func (ix *Index) ScopeVars(fn *Function, pc uint64) []ScopeVar {
	return ix.scopeVarsAt(fn.DIE, pc)
}

// ScopeVarsForInline is ScopeVars for a virtual inline frame: spec.md §4.3
// "Scope for variable resolution at a given frame is the concrete DIE
// subtree corresponding to that inline level" means resolution at an
// inlined_subroutine's frame walks that DIE's own subtree, not the
// enclosing physical function's.
func (ix *Index) ScopeVarsForInline(site *InlineCallSite, pc uint64) []ScopeVar {
	return ix.scopeVarsAt(site.DIE, pc)
}

func (ix *Index) scopeVarsAt(die dwarf.Offset, pc uint64) []ScopeVar {
	r := ix.DWARF.Reader()
	r.Seek(die)
	root, err := r.Next()
	if err != nil || root == nil {
		return nil
	}

	var out []ScopeVar
	var walk func(depth int, inScope bool)
	walk = func(depth int, inScope bool) {
		for {
			e, err := r.Next()
			if err != nil || e == nil {
				return
			}
			if e.Tag == 0 {
				return // end of this block's children
			}
			switch e.Tag {
			case dwarf.TagFormalParameter, dwarf.TagVariable:
				if inScope {
					if v := ix.scopeVarFromEntry(e, depth, e.Tag == dwarf.TagFormalParameter); v != nil {
						out = append(out, *v)
					}
				}
				if e.Children {
					skipChildren(r)
				}
			case dwarf.TagLexDwarfBlock:
				childInScope := inScope && blockContainsPC(e, pc, ix.Binary.LoadBias)
				if e.Children {
					walk(depth+1, childInScope)
				}
			case dwarf.TagInlinedSubroutine:
				// Inlined call sites get their own scope via pkg/unwind's
				// virtual frames; skip their locals here to avoid double
				// resolution at the physical frame's level.
				if e.Children {
					skipChildren(r)
				}
			default:
				if e.Children {
					skipChildren(r)
				}
			}
		}
	}
	if root.Children {
		walk(0, true)
	}
	return out
}

func (ix *Index) scopeVarFromEntry(e *dwarf.Entry, depth int, isParam bool) *ScopeVar {
	name, _ := e.Val(dwarf.AttrName).(string)
	if name == "" {
		return nil
	}
	v := &ScopeVar{Name: name, IsParam: isParam, Depth: depth}
	switch loc := e.Val(dwarf.AttrLocation).(type) {
	case []byte:
		v.Location = loc
	case int64:
		v.HasLoclist = true
		v.LoclistOff = int(loc)
	}
	return v
}

// blockContainsPC reports whether a lexical block DIE's PC range (if any)
// contains pc; a block with no low/high pc attributes is treated as
// always in scope (common for blocks covering a whole function body).
func blockContainsPC(e *dwarf.Entry, pc, loadBias uint64) bool {
	lo, ok := e.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return true
	}
	lo += loadBias
	hi := lo + highpcLength(e, lo-loadBias)
	return pc >= lo && pc < hi
}

// skipChildren advances r past e's children without visiting them,
// leaving the reader positioned at e's next sibling.
func skipChildren(r *dwarf.Reader) {
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil || e == nil {
			return
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if e.Children {
			depth++
		}
	}
}
