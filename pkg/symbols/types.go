// Type node graph (spec.md §3 "Type node", §4.2 "Type resolution").
//
// Grounded on go-delve/delve's pkg/dwarf/godwarf/type.go in shape (an
// arena of tagged node structs reachable by an opaque id, built by
// walking raw DIEs rather than trusting the stdlib debug/dwarf.Type
// resolver) but generalized to the tag set spec.md actually names —
// including DW_TAG_variant_part, which Rust's enum representation needs
// and which delve's Go-oriented type system in this snapshot has no
// concept of.
package symbols

import (
	"debug/dwarf"
	"fmt"
	"sync"
)

// TypeTag mirrors spec.md §3 "Type node" tag enumeration.
type TypeTag int

const (
	TagBase TypeTag = iota
	TagPointer
	TagReference
	TagArray
	TagStructure
	TagUnion
	TagEnum
	TagVariantPart
	TagSubroutine
	TagTypedef
	TagModifier // const/volatile/restrict
)

// TypeID is an opaque, binary-scoped reference into a Program's type
// arena. References between types are always by id, never by pointer,
// so the graph can contain cycles (spec.md §3: "Graph may contain
// cycles; cycles resolved by id references only").
type TypeID int32

// Field is one member of a structure/union/variant, or one parameter of
// a subroutine type.
type Field struct {
	Name         string
	Type         TypeID
	BitOffset    int64
	BitSize      int64 // 0 if not a bit-field
	Static       bool
	Inherited    bool
	DiscrValue   *int64 // for a field of a DW_TAG_variant under a variant part
}

// Type is one node of the type graph.
type Type struct {
	ID        TypeID
	Tag       TypeTag
	Name      string
	Size      int64
	Align     int64
	Fields    []Field
	ElemType  TypeID // array element type, pointer/reference pointee, typedef/modifier underlying type
	Count     int64  // array element count, -1 if unknown
	Discr     TypeID // variant-part discriminant member type
	Unit      *Unit
	langID    int64
}

// Language returns the DW_AT_language of the defining unit (a
// dwarf.AttrClass-free small int; see Unit.Language). Nothing in pkg/eval
// calls it: the evaluator has no vtable-downcast language check.
func (t *Type) Language() int64 { return t.langID }

func (t *Type) String() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("<anon %v #%d>", t.Tag, t.ID)
}

// TypeArena owns all Type nodes for one Program, deduplicated by
// (language, fully-qualified name, defining unit signature) per spec.md
// §3. Anonymous types (no name) are never deduplicated.
type TypeArena struct {
	mu      sync.Mutex
	types   []*Type
	byKey   map[typeKey]TypeID
	resolving map[dwarf.Offset]TypeID // in-flight placeholder registrations, guards recursive cycles
}

type typeKey struct {
	lang int64
	name string
	unit dwarf.Offset
}

func newTypeArena() *TypeArena {
	return &TypeArena{byKey: map[typeKey]TypeID{}, resolving: map[dwarf.Offset]TypeID{}}
}

// placeholder pre-registers an id for off before recursing into its
// fields, breaking cycles (spec.md §9 "Cyclic type graph").
func (a *TypeArena) placeholder(off dwarf.Offset, unit *Unit) *Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.resolving[off]; ok {
		return a.types[id]
	}
	t := &Type{ID: TypeID(len(a.types)), Unit: unit}
	a.types = append(a.types, t)
	a.resolving[off] = t.ID
	return t
}

func (a *TypeArena) get(id TypeID) *Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.types[id]
}

// Type resolves id to its node. Used by pkg/eval to walk the type graph
// when evaluating member access, casts, and pretty-printer dispatch.
func (a *TypeArena) Type(id TypeID) *Type { return a.get(id) }

// TypeByName looks up a named type for the `as T` cast operator and
// type_of()/sizeof() built-ins (spec.md §4.4).
func (a *TypeArena) TypeByName(lang int64, name string, unit dwarf.Offset) (*Type, bool) {
	id, ok := a.lookupByKey(lang, name, unit)
	if !ok {
		return nil, false
	}
	return a.get(id), true
}

// intern finalizes a placeholder's contents and, if it carries a name,
// registers it in the dedup index; a later lookup for the same
// (language, name, unit) returns the same id instead of building a
// duplicate node.
func (a *TypeArena) intern(t *Type) TypeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.Name != "" {
		key := typeKey{lang: t.langID, name: t.Name, unit: t.Unit.sig()}
		if existing, ok := a.byKey[key]; ok && existing != t.ID {
			// Another goroutine already finished interning this type
			// under its own placeholder; point ours at it? We keep both
			// nodes reachable (cheap) but record the canonical one so
			// future lookups converge.
			a.byKey[key] = existing
			return existing
		}
		a.byKey[key] = t.ID
	}
	return t.ID
}

func (a *TypeArena) lookupByKey(lang int64, name string, unit dwarf.Offset) (TypeID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byKey[typeKey{lang: lang, name: name, unit: unit}]
	return id, ok
}

// resolveSize computes size/alignment lazily for composite types whose
// layout depends on fields resolved after placeholder registration.
func resolveSize(tag TypeTag, fields []Field) int64 {
	var max int64
	for _, f := range fields {
		end := (f.BitOffset + max64(f.BitSize, 0)) / 8
		if end > max {
			max = end
		}
	}
	return max
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
