package symbols

import (
	"debug/dwarf"
	"fmt"
)

// ResolveType resolves the type DIE at offset off (in unit u's section)
// into a TypeID, building it if this is the first time it's been seen.
// Cycles are broken by registering a placeholder before recursing into
// fields (spec.md §9 "Cyclic type graph").
func (ix *Index) ResolveType(u *Unit, off dwarf.Offset) (TypeID, error) {
	ix.Arena.mu.Lock()
	id, inFlight := ix.Arena.resolving[off]
	ix.Arena.mu.Unlock()
	if inFlight {
		return id, nil // already built, or being built further up this recursion
	}

	r := ix.DWARF.Reader()
	r.Seek(off)
	e, err := r.Next()
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, fmt.Errorf("symbols: no DIE at %#x", off)
	}

	name, _ := e.Val(dwarf.AttrName).(string)
	lang := u.Language
	if name != "" {
		if id, ok := ix.Arena.lookupByKey(lang, name, u.Offset); ok {
			return id, nil
		}
	}

	t := ix.Arena.placeholder(off, u)
	t.Name = name
	t.langID = lang
	if sz, ok := e.Val(dwarf.AttrByteSize).(int64); ok {
		t.Size = sz
	}

	switch e.Tag {
	case dwarf.TagBaseType:
		t.Tag = TagBase
	case dwarf.TagPointerType:
		t.Tag = TagPointer
		t.ElemType = ix.resolveMemberType(u, e)
	case dwarf.TagReferenceType, dwarf.TagRvalueReferenceType:
		t.Tag = TagReference
		t.ElemType = ix.resolveMemberType(u, e)
	case dwarf.TagArrayType:
		t.Tag = TagArray
		t.ElemType = ix.resolveMemberType(u, e)
		t.Count = ix.arrayCount(r, e)
	case dwarf.TagStructType, dwarf.TagClassType:
		t.Tag = TagStructure
		t.Fields = ix.resolveFields(u, r, e)
	case dwarf.TagUnionType:
		t.Tag = TagUnion
		t.Fields = ix.resolveFields(u, r, e)
	case dwarf.TagEnumerationType:
		t.Tag = TagEnum
		t.Fields = ix.resolveEnumerators(r, e)
	case dwarf.TagVariantPart:
		t.Tag = TagVariantPart
		if doff, ok := e.Val(dwarf.AttrDiscr).(dwarf.Offset); ok {
			// The discriminant member lives as a sibling DW_TAG_member;
			// resolve its type only (value carried per-variant below).
			if dr := ix.DWARF.Reader(); dr != nil {
				dr.Seek(doff)
				if de, err := dr.Next(); err == nil && de != nil {
					t.Discr = ix.resolveMemberType(u, de)
				}
			}
		}
		t.Fields = ix.resolveVariants(u, r, e)
	case dwarf.TagSubroutineType:
		t.Tag = TagSubroutine
		t.ElemType = ix.resolveMemberType(u, e) // return type
		t.Fields = ix.resolveParams(u, r, e)
	case dwarf.TagTypedef:
		t.Tag = TagTypedef
		t.ElemType = ix.resolveMemberType(u, e)
	case dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType:
		t.Tag = TagModifier
		t.ElemType = ix.resolveMemberType(u, e)
	default:
		t.Tag = TagBase
	}

	if t.Size == 0 && len(t.Fields) > 0 {
		t.Size = resolveSize(t.Tag, t.Fields)
	}

	return ix.Arena.intern(t), nil
}

// resolveMemberType follows e's DW_AT_type, or returns an invalid id (0,
// which callers must treat as "no type", e.g. void) if absent.
func (ix *Index) resolveMemberType(u *Unit, e *dwarf.Entry) TypeID {
	off, ok := e.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return 0
	}
	id, err := ix.ResolveType(u, off)
	if err != nil {
		return 0
	}
	return id
}

func (ix *Index) arrayCount(r *dwarf.Reader, arrayEntry *dwarf.Entry) int64 {
	r.Seek(arrayEntry.Offset)
	r.Next()
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil || e == nil {
			return -1
		}
		if e.Children {
			depth++
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if e.Tag == dwarf.TagSubrangeType {
			if n, ok := e.Val(dwarf.AttrCount).(int64); ok {
				return n
			}
			if ub, ok := e.Val(dwarf.AttrUpperBound).(int64); ok {
				return ub + 1
			}
			return -1
		}
	}
	return -1
}

func (ix *Index) resolveFields(u *Unit, r *dwarf.Reader, structEntry *dwarf.Entry) []Field {
	var fields []Field
	r.Seek(structEntry.Offset)
	r.Next()
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Children {
			depth++
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if depth != 1 {
			continue
		}
		switch e.Tag {
		case dwarf.TagMember:
			fields = append(fields, ix.fieldFromMember(u, e))
		case dwarf.TagInheritance:
			f := ix.fieldFromMember(u, e)
			f.Inherited = true
			fields = append(fields, f)
		case dwarf.TagVariantPart:
			// An anonymous variant part embedded directly in a struct:
			// surface its variants as fields of the enclosing struct so
			// a Rust enum's active-variant payload is still reachable by
			// name from the evaluator.
			sub, err := ix.ResolveType(u, e.Offset)
			if err == nil {
				vt := ix.Arena.get(sub)
				fields = append(fields, vt.Fields...)
			}
		}
	}
	return fields
}

func (ix *Index) fieldFromMember(u *Unit, e *dwarf.Entry) Field {
	f := Field{Type: ix.resolveMemberType(u, e)}
	f.Name, _ = e.Val(dwarf.AttrName).(string)
	if off, ok := e.Val(dwarf.AttrDataMemberLoc).(int64); ok {
		f.BitOffset = off * 8
	}
	if dbo, ok := e.Val(dwarf.AttrDataBitOffset).(int64); ok {
		f.BitOffset = dbo
	}
	if bs, ok := e.Val(dwarf.AttrBitSize).(int64); ok {
		f.BitSize = bs
	}
	if ext, ok := e.Val(dwarf.AttrExternal).(bool); ok {
		f.Static = ext
	}
	return f
}

func (ix *Index) resolveVariants(u *Unit, r *dwarf.Reader, variantPartEntry *dwarf.Entry) []Field {
	var fields []Field
	r.Seek(variantPartEntry.Offset)
	r.Next()
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Children {
			depth++
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if depth != 1 || e.Tag != dwarf.TagVariant {
			continue
		}
		var discr *int64
		if v, ok := e.Val(dwarf.AttrDiscrValue).(int64); ok {
			discr = &v
		}
		// The variant's payload is its own member child; find it.
		vr := ix.DWARF.Reader()
		vr.Seek(e.Offset)
		vr.Next()
		if me, err := vr.Next(); err == nil && me != nil && me.Tag == dwarf.TagMember {
			f := ix.fieldFromMember(u, me)
			f.DiscrValue = discr
			fields = append(fields, f)
		}
	}
	return fields
}

func (ix *Index) resolveEnumerators(r *dwarf.Reader, enumEntry *dwarf.Entry) []Field {
	var fields []Field
	r.Seek(enumEntry.Offset)
	r.Next()
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Children {
			depth++
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if depth != 1 || e.Tag != dwarf.TagEnumerator {
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		var v int64
		if cv, ok := e.Val(dwarf.AttrConstValue).(int64); ok {
			v = cv
		}
		fields = append(fields, Field{Name: name, DiscrValue: &v})
	}
	return fields
}

func (ix *Index) resolveParams(u *Unit, r *dwarf.Reader, subEntry *dwarf.Entry) []Field {
	var fields []Field
	r.Seek(subEntry.Offset)
	r.Next()
	depth := 1
	for depth > 0 {
		e, err := r.Next()
		if err != nil || e == nil {
			break
		}
		if e.Children {
			depth++
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		if depth != 1 || e.Tag != dwarf.TagFormalParameter {
			continue
		}
		fields = append(fields, ix.fieldFromMember(u, e))
	}
	return fields
}
