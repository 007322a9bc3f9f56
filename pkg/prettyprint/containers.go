package prettyprint

import (
	"fmt"

	"github.com/al13n321/nnd/pkg/eval"
	"github.com/al13n321/nnd/pkg/symbols"
)

// cxxVectorPrinter handles both libc++ (__begin_/__end_ pointers) and
// libstdc++ (_M_impl._M_start/_M_finish, found one level down through an
// anonymous/base member) vector layouts, trying each in turn since the
// type name alone doesn't say which standard library produced it.
type cxxVectorPrinter struct{}

func (cxxVectorPrinter) Match(name string) bool { return name == "std::vector" }

func (p cxxVectorPrinter) beginEnd(mem MemReader, arena *symbols.TypeArena, v eval.Value) (begin, end eval.Value, elemType *symbols.Type, ok bool, err error) {
	if b, found, e := readField(mem, arena, v, "__begin_"); found {
		if e != nil {
			return eval.Value{}, eval.Value{}, nil, false, e
		}
		en, _, e2 := readField(mem, arena, v, "__end_")
		if e2 != nil {
			return eval.Value{}, eval.Value{}, nil, false, e2
		}
		return b, en, arena.Type(b.Type.ElemType), true, nil
	}
	// libstdc++: struct vector { struct Impl { T* _M_start; T* _M_finish; T* _M_end_of_storage; } _M_impl; }
	impl, found, e := readField(mem, arena, v, "_M_impl")
	if e != nil {
		return eval.Value{}, eval.Value{}, nil, false, e
	}
	if !found {
		return eval.Value{}, eval.Value{}, nil, false, fmt.Errorf("prettyprint: unrecognized std::vector layout")
	}
	b, _, e := readField(mem, arena, impl, "_M_start")
	if e != nil {
		return eval.Value{}, eval.Value{}, nil, false, e
	}
	en, _, e := readField(mem, arena, impl, "_M_finish")
	if e != nil {
		return eval.Value{}, eval.Value{}, nil, false, e
	}
	return b, en, arena.Type(b.Type.ElemType), true, nil
}

func (p cxxVectorPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	n, _, err := p.count(mem, arena, v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("size=%d", n), nil
}

func (p cxxVectorPrinter) count(mem MemReader, arena *symbols.TypeArena, v eval.Value) (int64, *symbols.Type, error) {
	begin, end, elemType, ok, err := p.beginEnd(mem, arena, v)
	if err != nil || !ok {
		return 0, nil, err
	}
	bAddr, _ := begin.AsInt64()
	eAddr, _ := end.AsInt64()
	size := elemType.Size
	if size <= 0 {
		size = 8
	}
	if eAddr < bAddr {
		return 0, elemType, fmt.Errorf("prettyprint: vector end < begin")
	}
	return (eAddr - bAddr) / size, elemType, nil
}

func (p cxxVectorPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	begin, _, elemType, ok, err := p.beginEnd(mem, arena, v)
	if err != nil || !ok {
		return nil, err
	}
	n, _, err := p.count(mem, arena, v)
	if err != nil {
		return nil, err
	}
	baseAddr, _ := begin.AsInt64()
	truncated := n > stepBudget
	if truncated {
		n = stepBudget
	}
	out := make([]Child, 0, n)
	for i := int64(0); i < n; i++ {
		ev, err := elementAt(mem, elemType, uint64(baseAddr), i)
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

// cxxStringPrinter handles std::string: libstdc++'s _M_p/_M_string_length
// pair, or libc++'s __data_/__size_ pair when those are direct fields of
// the value. It does not test libc++'s long/short flag bit; when neither
// pair is found, the value's own bytes are taken as the string.
type cxxStringPrinter struct{}

func (cxxStringPrinter) Match(name string) bool {
	return name == "std::string" || name == "std::basic_string" || name == "std::__cxx11::basic_string"
}

func (cxxStringPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	s, err := readCxxString(mem, arena, v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%q", s), nil
}

func (cxxStringPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	// A string is displayed fully in its summary; it has no useful
	// lazy children beyond that, matching how printers for scalar-like
	// containers behave in the teacher corpus.
	return nil, nil
}

func readCxxString(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	// libstdc++: struct { char* _M_p; size_t _M_string_length; union { char _M_local_buf[16]; size_t _M_allocated_capacity; }; }
	if p, found, err := readField(mem, arena, v, "_M_p"); found {
		if err != nil {
			return "", err
		}
		lenV, _, err := readField(mem, arena, v, "_M_string_length")
		if err != nil {
			return "", err
		}
		addr, _ := p.AsInt64()
		n, _ := lenV.AsInt64()
		return readCString(mem, uint64(addr), n)
	}
	// libc++ long representation: __data_/__size_ pointer+length pair,
	// looked up only as direct fields of v (a nested __long union member is
	// not searched); fall back to treating the whole value as inline bytes
	// if that field is absent.
	if data, found, err := readField(mem, arena, v, "__data_"); found {
		if err != nil {
			return "", err
		}
		sizeV, _, err := readField(mem, arena, v, "__size_")
		if err != nil {
			return "", err
		}
		addr, _ := data.AsInt64()
		n, _ := sizeV.AsInt64()
		return readCString(mem, uint64(addr), n)
	}
	return string(v.Bytes), nil
}

func readCString(mem MemReader, addr uint64, n int64) (string, error) {
	if n < 0 || n > stepBudget {
		n = stepBudget
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := mem.ReadMemory(buf, addr); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// cxxMapPrinter and cxxSetPrinter report their node count (libstdc++'s
// red-black tree keeps an explicit _M_node_count; libc++'s map/set keep
// an explicit __size_) without walking the tree, since spec.md's step
// budget is about bounding *expansion* cost and a map's node layout
// varies enough between standard libraries that tree-walking is not
// attempted here; Expand reports that limitation rather than guessing.
type cxxMapPrinter struct{}

func (cxxMapPrinter) Match(name string) bool {
	return name == "std::map" || name == "std::unordered_map" || name == "std::multimap"
}

func (cxxMapPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	return treeSize(mem, arena, v)
}

func (cxxMapPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	return nil, fmt.Errorf("prettyprint: expanding std::map/unordered_map entries is not supported, only size")
}

type cxxSetPrinter struct{}

func (cxxSetPrinter) Match(name string) bool {
	return name == "std::set" || name == "std::unordered_set" || name == "std::multiset"
}

func (cxxSetPrinter) Summarize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	return treeSize(mem, arena, v)
}

func (cxxSetPrinter) Expand(mem MemReader, arena *symbols.TypeArena, v eval.Value) ([]Child, error) {
	return nil, fmt.Errorf("prettyprint: expanding std::set/unordered_set entries is not supported, only size")
}

func treeSize(mem MemReader, arena *symbols.TypeArena, v eval.Value) (string, error) {
	for _, name := range []string{"_M_node_count", "__size_", "_M_t"} {
		if fv, found, err := readField(mem, arena, v, name); found {
			if err != nil {
				return "", err
			}
			if name == "_M_t" {
				nested, found2, err2 := readField(mem, arena, fv, "_M_impl")
				if err2 != nil || !found2 {
					continue
				}
				cnt, found3, err3 := readField(mem, arena, nested, "_M_node_count")
				if err3 != nil || !found3 {
					continue
				}
				n, _ := cnt.AsInt64()
				return fmt.Sprintf("size=%d", n), nil
			}
			n, _ := fv.AsInt64()
			return fmt.Sprintf("size=%d", n), nil
		}
	}
	return "", fmt.Errorf("prettyprint: unrecognized associative container layout")
}
