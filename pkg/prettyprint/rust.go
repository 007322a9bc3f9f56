package prettyprint

import (
	"fmt"

	"github.com/al13n321/nnd/pkg/eval"
	"github.com/al13n321/nnd/pkg/symbols"
)

// findNestedField walks a dotted path of field names through nested
// struct values, the shape rustc's DWARF output needs for Vec/String
// (e.g. "buf.inner.ptr.pointer.pointer" across rustc versions): each
// segment may or may not exist depending on compiler version, so callers
// try several candidate paths and use whichever resolves.
func findNestedField(mem MemReader, arena *symbols.TypeArena, v eval.Value, path ...string) (eval.Value, bool, error) {
	cur := v
	for _, seg := range path {
		fv, found, err := readField(mem, arena, cur, seg)
		if err != nil {
			return eval.Value{}, false, err
		}
		if !found {
			return eval.Value{}, false, nil
		}
		cur = fv
	}
	return cur, true, nil
}

// firstOf tries each candidate path in turn and returns the first that
// resolves, letting one printer tolerate layout drift across rustc
// versions without a type-name-based version check.
func firstOf(mem MemReader, arena *symbols.TypeArena, v eval.Value, paths [][]string) (eval.Value, bool, error) {
	for _, p := range paths {
		fv, found, err := findNestedField(mem, arena, v, p...)
		if err != nil {
			return eval.Value{}, false, err
		}
		if found {
			return fv, true, nil
		}
	}
	return eval.Value{}, false, nil
}

var vecPtrPaths = [][]string{
	{"buf", "ptr", "pointer"},
	{"buf", "inner", "ptr", "pointer"},
	{"buf", "ptr", "pointer", "pointer"},
	{"pointer"},
}

var vecLenPaths = [][]string{{"len"}}

type rustVecPrinter struct{}

func (rustVecPrinter) Match(name string) bool { return name == "Vec" || name == "alloc::vec::Vec" }

func (p rustVecPrinter) lenAndElem(mem MemReader, arena *symbols.TypeArena, v eval.Value) (int64, uint64, *symbols.Type, error) {
	ptrV, ok, err := firstOf(mem, arena, v, vecPtrPaths)
	if err != nil || !ok {
		return 0, 0, nil, fmt.Errorf("prettyprint: unrecognized Vec layout")
	}
	lenV, ok, err := firstOf(mem, arena, v, vecLenPaths)
	if err != nil || !ok {
		return 0, 0, nil, fmt.Errorf("prettyprint: Vec has no len field")
	}
	n, _ := lenV.AsInt64()
	addr, _ := ptrV.AsInt64()
	elemType := arena.Type(ptrV.Type.ElemType)
	return n, uint64(addr), elemType, nil
}

func (p rustVecPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	n, _, _, err := p.lenAndElem(mem, arena, v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("size=%d", n), nil
}

func (p rustVecPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	n, addr, elemType, err := p.lenAndElem(mem, arena, v)
	if err != nil {
		return nil, err
	}
	truncated := n > stepBudget
	if truncated {
		n = stepBudget
	}
	out := make([]Child, 0, n)
	for i := int64(0); i < n; i++ {
		ev, err := elementAt(mem, elemType, addr, i)
		if err != nil {
			return out, err
		}
		out = append(out, Child{Index: int(i), Value: ev})
	}
	if truncated {
		return out, ErrTruncated
	}
	return out, nil
}

type rustStringPrinter struct{}

func (rustStringPrinter) Match(name string) bool {
	return name == "String" || name == "alloc::string::String" || name == "&str" || name == "str"
}

func (rustStringPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	ptrV, ok, err := firstOf(mem, arena, v, vecPtrPaths)
	if err != nil {
		return "", err
	}
	if !ok {
		// &str: { data_ptr, length } directly.
		ptrV, ok, err = firstOf(mem, arena, v, [][]string{{"data_ptr"}})
		if err != nil || !ok {
			return "", fmt.Errorf("prettyprint: unrecognized String/&str layout")
		}
	}
	lenV, ok, err := firstOf(mem, arena, v, [][]string{{"len"}, {"length"}})
	if err != nil || !ok {
		return "", fmt.Errorf("prettyprint: String/&str has no length field")
	}
	addr, _ := ptrV.AsInt64()
	n, _ := lenV.AsInt64()
	return readCString(mem, uint64(addr), n)
}

func (rustStringPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	return nil, nil
}

// rustOptionPrinter shows Option<T>'s discriminant and, when Some, its
// payload as the sole child (spec.md §4.4 names DW_TAG_variant_part as a
// first-class type-graph tag precisely for this).
type rustOptionPrinter struct{}

func (rustOptionPrinter) Match(name string) bool { return name == "Option" || name == "core::option::Option" }

func (rustOptionPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	variant, isSome, err := optionVariant(mem, arena, v)
	if err != nil {
		return "", err
	}
	if !isSome {
		return "None", nil
	}
	return fmt.Sprintf("Some(%s)", variant.Type.String()), nil
}

func (rustOptionPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	variant, isSome, err := optionVariant(mem, arena, v)
	if err != nil || !isSome {
		return nil, err
	}
	return []Child{{Name: "0", Value: variant}}, nil
}

// optionVariant finds whichever field of v is not the None-tag by
// walking v's Fields looking for a DiscrValue-tagged field representing
// Some; falls back to the single non-empty field when there is exactly
// one, which covers the common single-field-niche-optimized encoding.
func optionVariant(mem MemReader, arena *symbols.TypeArena, v eval.Value) (eval.Value, bool, error) {
	if v.Type == nil {
		return eval.Value{}, false, fmt.Errorf("prettyprint: Option value has no type")
	}
	for _, f := range v.Type.Fields {
		if f.Name == "" || f.Name == "None" {
			continue
		}
		fv, found, err := readField(mem, arena, v, f.Name)
		if err != nil {
			return eval.Value{}, false, err
		}
		if found {
			return fv, true, nil
		}
	}
	return eval.Value{}, false, nil
}

// rustBoxPrinter dereferences the single pointer field Box<T> carries and
// shows its pointee directly, matching how a debugger treats any other
// smart pointer (spec.md §4.4's "smart pointers" example).
type rustBoxPrinter struct{}

func (rustBoxPrinter) Match(name string) bool { return name == "Box" || name == "alloc::boxed::Box" }

func (rustBoxPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	pointee, err := boxPointee(mem, arena, v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("&%s", pointee.Type.String()), nil
}

func (rustBoxPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	pointee, err := boxPointee(mem, arena, v)
	if err != nil {
		return nil, err
	}
	return []Child{{Name: "*", Value: pointee}}, nil
}

func boxPointee(mem MemReader, arena *symbols.TypeArena, v eval.Value) (eval.Value, error) {
	ptrV, ok, err := firstOf(mem, arena, v, [][]string{{"pointer"}, {"0", "pointer"}})
	if err != nil {
		return eval.Value{}, err
	}
	if !ok {
		return eval.Value{}, fmt.Errorf("prettyprint: unrecognized Box layout")
	}
	addr, _ := ptrV.AsInt64()
	elemType := arena.Type(ptrV.Type.ElemType)
	return elementAt(mem, elemType, uint64(addr), 0)
}

// rustHashMapPrinter reports the live entry count from the underlying
// hashbrown RawTable, without walking buckets (the control-byte/bucket
// layout is an implementation detail of the `hashbrown` crate version in
// use, too unstable to hardcode a bucket walk against).
type rustHashMapPrinter struct{}

func (rustHashMapPrinter) Match(name string) bool {
	return name == "HashMap" || name == "std::collections::HashMap" || name == "HashSet" || name == "std::collections::HashSet"
}

func (rustHashMapPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	n, ok, err := firstOf(mem, arena, v, [][]string{
		{"base", "table", "items"},
		{"map", "base", "table", "items"},
		{"table", "items"},
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("prettyprint: unrecognized HashMap/HashSet layout")
	}
	count, _ := n.AsInt64()
	return fmt.Sprintf("size=%d", count), nil
}

func (rustHashMapPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	return nil, fmt.Errorf("prettyprint: expanding HashMap/HashSet entries is not supported, only size")
}
