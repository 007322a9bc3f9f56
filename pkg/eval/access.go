package eval

import (
	"fmt"

	"github.com/al13n321/nnd/pkg/symbols"
)

func evalMember(s *Scope, e *MemberExpr) (Value, error) {
	base, err := evalNode(s, e.Base)
	if err != nil {
		return Value{}, err
	}
	if base.OptimizedOut {
		return base, nil
	}
	if base.Unreadable != nil {
		return Value{}, base.Unreadable
	}
	t := base.Type
	addr, hasAddr := base.Addr, base.HasAddr
	// Transparently follow one level of pointer/reference, matching C++
	// `->` collapsed into `.` and Rust's auto-deref field access.
	if t != nil && (t.Tag == symbols.TagPointer || t.Tag == symbols.TagReference) {
		inner, err := deref(s, base)
		if err != nil {
			return Value{}, err
		}
		t, addr, hasAddr = inner.Type, inner.Addr, inner.HasAddr
	}
	if t == nil {
		return Value{}, fmt.Errorf("eval: %q is not a member of a typed value", e.Field)
	}
	t = stripTypedefsAndModifiers(s, t)
	if t.Tag != symbols.TagStructure && t.Tag != symbols.TagUnion && t.Tag != symbols.TagVariantPart {
		return Value{}, fmt.Errorf("eval: %q is not a struct/union/variant", t.Name)
	}
	for _, f := range t.Fields {
		if f.Name != e.Field {
			continue
		}
		if !hasAddr {
			return Value{}, fmt.Errorf("eval: cannot read member %q of a value with no debuggee location", e.Field)
		}
		fieldAddr := addr + uint64(f.BitOffset/8)
		if f.BitSize != 0 {
			return readBitField(s, fieldAddr, f)
		}
		return readTyped(s, fieldAddr, f.Type)
	}
	return Value{}, fmt.Errorf("eval: no member %q on type %q", e.Field, t.Name)
}

func readBitField(s *Scope, byteAddr uint64, f symbols.Field) (Value, error) {
	v, err := readTyped(s, byteAddr, f.Type)
	if err != nil {
		return Value{}, err
	}
	if v.Unreadable != nil {
		return v, nil
	}
	bitOff := uint(f.BitOffset % 8)
	raw := decodeInt(v.Bytes, v.Type)
	mask := int64((uint64(1) << uint(f.BitSize)) - 1)
	extracted := (raw >> bitOff) & mask
	// Sign-extend if the underlying base type is signed.
	if v.Type != nil && isSignedBase(v.Type) {
		shift := uint(64 - f.BitSize)
		extracted = int64(uint64(extracted)<<shift) >> shift
	}
	return synthInt64(extracted), nil
}

func stripTypedefsAndModifiers(s *Scope, t *symbols.Type) *symbols.Type {
	for t != nil && (t.Tag == symbols.TagTypedef || t.Tag == symbols.TagModifier) {
		t = s.Index.Arena.Type(t.ElemType)
	}
	return t
}

func evalIndex(s *Scope, e *IndexExpr) (Value, error) {
	base, err := evalNode(s, e.Base)
	if err != nil {
		return Value{}, err
	}
	idxV, err := evalNode(s, e.Index)
	if err != nil {
		return Value{}, err
	}
	idx, ok := idxV.AsInt64()
	if !ok {
		return Value{}, fmt.Errorf("eval: index must be an integer")
	}
	if base.OptimizedOut {
		return base, nil
	}
	if base.Unreadable != nil {
		return Value{}, base.Unreadable
	}
	t := base.Type
	if t == nil {
		return Value{}, fmt.Errorf("eval: cannot index a value with no type")
	}
	t = stripTypedefsAndModifiers(s, t)
	switch t.Tag {
	case symbols.TagPointer:
		elem := s.Index.Arena.Type(t.ElemType)
		p, ok := base.AsInt64()
		if !ok {
			return Value{}, fmt.Errorf("eval: cannot read pointer value")
		}
		addr := uint64(p) + uint64(idx)*uint64(elemSize(elem))
		return readTyped(s, addr, t.ElemType)
	case symbols.TagArray:
		if !base.HasAddr {
			return Value{}, fmt.Errorf("eval: cannot index an array value with no debuggee location")
		}
		if t.Count >= 0 && (idx < 0 || idx >= t.Count) {
			return Value{}, fmt.Errorf("eval: index %d out of bounds for array of length %d", idx, t.Count)
		}
		elem := s.Index.Arena.Type(t.ElemType)
		addr := base.Addr + uint64(idx)*uint64(elemSize(elem))
		return readTyped(s, addr, t.ElemType)
	default:
		return Value{}, fmt.Errorf("eval: cannot index type %q; use a pretty-printer-aware accessor instead", t.Name)
	}
}

func elemSize(t *symbols.Type) int64 {
	if t == nil || t.Size <= 0 {
		return 1
	}
	return t.Size
}

func evalCast(s *Scope, e *CastExpr) (Value, error) {
	v, err := evalNode(s, e.Operand)
	if err != nil {
		return Value{}, err
	}
	if v.OptimizedOut || v.Unreadable != nil {
		return v, nil
	}
	name := e.TypeName
	ptrDepth := 0
	for len(name) > 0 && name[len(name)-1] == '*' {
		ptrDepth++
		name = name[:len(name)-1]
	}
	t, ok := findTypeByName(s, name)
	if !ok {
		return Value{}, fmt.Errorf("eval: unknown type %q in cast", e.TypeName)
	}
	for i := 0; i < ptrDepth; i++ {
		t = &symbols.Type{Tag: symbols.TagPointer, Size: int64(s.PtrSize), ElemType: t.ID}
	}
	if ptrDepth > 0 {
		p, ok := v.AsInt64()
		if !ok {
			return Value{}, fmt.Errorf("eval: cannot reinterpret value as a pointer")
		}
		return synthPointer(uint64(p), t), nil
	}
	// Reinterpret the same bytes under the new type (spec.md §4.4 "as T"
	// is a reinterpret cast, not a converting one, for scalar/struct
	// targets reachable from a live value's bytes).
	out := v
	out.Type = t
	return out, nil
}

func findTypeByName(s *Scope, name string) (*symbols.Type, bool) {
	if s.Func == nil || s.Index == nil {
		return nil, false
	}
	lang := s.Func.Unit.Language
	return s.Index.Arena.TypeByName(lang, name, s.Func.Unit.Offset)
}
