package eval

import (
	"math"

	"github.com/al13n321/nnd/pkg/symbols"
)

// Value is the result of evaluating a Node, grounded on delve's
// pkg/proc.Variable: a typed, possibly-addressed, possibly-unreadable
// chunk of debuggee memory plus (for composites) already-resolved
// children rather than a deferred re-read.
type Value struct {
	Type *symbols.Type

	Addr    uint64
	HasAddr bool

	Bytes []byte

	// OptimizedOut mirrors delve's Variable.Flags VariableOptimizedOut:
	// the compiler proved the value lived nowhere observable at this PC.
	// Arithmetic and comparisons on such a Value propagate it rather
	// than reading garbage; the value is still displayable as "<optimized
	// out>" by the UI layer.
	OptimizedOut bool

	// Unreadable is set when memory backing Bytes could not be read (a
	// bad pointer, an unmapped page, a dead thread); distinct from
	// OptimizedOut because retrying with a different PC/frame may
	// succeed.
	Unreadable error

	// Children is a slot for already-loaded struct/union members, array
	// elements, or pretty-printed container entries. No code in this
	// module fills it in: member and index evaluation return the selected
	// member or element as a Value of its own.
	Children []Value

	// Synthetic int/float/bool scalars that never had a debuggee address
	// (literals, sizeof results, comparison results) skip Bytes/Addr and
	// carry their value directly.
	IsSynthetic  bool
	SyntheticI64 int64
	SyntheticF64 float64
	SyntheticB   bool
	syntheticKind syntheticKind
}

type syntheticKind int

const (
	synthNone syntheticKind = iota
	synthInt
	synthFloat
	synthBool
)

func synthInt64(v int64) Value {
	return Value{IsSynthetic: true, syntheticKind: synthInt, SyntheticI64: v}
}

func synthFloat64(v float64) Value {
	return Value{IsSynthetic: true, syntheticKind: synthFloat, SyntheticF64: v}
}

func synthBoolV(v bool) Value {
	return Value{IsSynthetic: true, syntheticKind: synthBool, SyntheticB: v}
}

// AsInt64 returns v's integer interpretation, for arithmetic and
// condition evaluation. Floats truncate. Any other typed value is decoded
// from its bytes as an integer whatever its type; only untyped,
// optimized-out and unreadable values return ok=false.
func (v Value) AsInt64() (int64, bool) {
	if v.OptimizedOut || v.Unreadable != nil {
		return 0, false
	}
	if v.IsSynthetic {
		switch v.syntheticKind {
		case synthInt:
			return v.SyntheticI64, true
		case synthFloat:
			return int64(v.SyntheticF64), true
		case synthBool:
			if v.SyntheticB {
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if v.Type == nil {
		return 0, false
	}
	if isFloatValue(v) {
		return int64(decodeFloat(v.Bytes, v.Type)), true
	}
	return decodeInt(v.Bytes, v.Type), true
}

// AsFloat64 mirrors AsInt64 for floating-point contexts.
func (v Value) AsFloat64() (float64, bool) {
	if v.OptimizedOut || v.Unreadable != nil {
		return 0, false
	}
	if v.IsSynthetic {
		switch v.syntheticKind {
		case synthFloat:
			return v.SyntheticF64, true
		case synthInt:
			return float64(v.SyntheticI64), true
		}
		return 0, false
	}
	if v.Type == nil {
		return 0, false
	}
	if !isFloatValue(v) {
		return float64(decodeInt(v.Bytes, v.Type)), true
	}
	return decodeFloat(v.Bytes, v.Type), true
}

// AsBool follows C/C++/Rust truthiness: any nonzero scalar is true.
func (v Value) AsBool() (bool, bool) {
	if v.OptimizedOut || v.Unreadable != nil {
		return false, false
	}
	if v.IsSynthetic && v.syntheticKind == synthBool {
		return v.SyntheticB, true
	}
	if isFloatValue(v) {
		f, ok := v.AsFloat64()
		return f != 0, ok
	}
	if i, ok := v.AsInt64(); ok {
		return i != 0, true
	}
	if f, ok := v.AsFloat64(); ok {
		return f != 0, true
	}
	return false, false
}

func decodeInt(b []byte, t *symbols.Type) int64 {
	var u uint64
	n := len(b)
	if int64(n) > t.Size && t.Size > 0 {
		n = int(t.Size)
	}
	for i := 0; i < n; i++ {
		u |= uint64(b[i]) << (8 * i)
	}
	signed := isSignedBase(t)
	if signed && n > 0 && n < 8 {
		shift := uint(64 - 8*n)
		return int64(u<<shift) >> shift
	}
	return int64(u)
}

func decodeFloat(b []byte, t *symbols.Type) float64 {
	switch len(b) {
	case 4:
		var u uint32
		for i := 0; i < 4 && i < len(b); i++ {
			u |= uint32(b[i]) << (8 * i)
		}
		return float64(math.Float32frombits(u))
	case 8:
		var u uint64
		for i := 0; i < 8 && i < len(b); i++ {
			u |= uint64(b[i]) << (8 * i)
		}
		return math.Float64frombits(u)
	}
	return 0
}

func isSignedBase(t *symbols.Type) bool {
	switch t.Name {
	case "int", "long", "short", "signed char", "int8_t", "int16_t", "int32_t", "int64_t", "isize", "i8", "i16", "i32", "i64", "i128":
		return true
	}
	return false
}
