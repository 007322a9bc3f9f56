package eval

import (
	"fmt"

	"github.com/al13n321/nnd/pkg/dwarf/op"
	"github.com/al13n321/nnd/pkg/symbols"
)

// MemReader is the narrow memory-access surface the evaluator needs;
// satisfied directly by *proc.Controller.
type MemReader interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
}

// Scope is everything the evaluator needs to resolve and read a single
// expression at a stopped frame: which function/PC it's in (for name
// resolution and frame-base computation), which registers are live, and
// where to read memory from. One Scope corresponds to one physical or
// inline frame of a thread's stack (spec.md §4.4 "Name resolution order
// at a frame").
type Scope struct {
	Mem   MemReader
	Index *symbols.Index

	Func   *symbols.Function
	Inline *symbols.InlineCallSite // non-nil when this scope is a virtual inline frame
	PC     uint64

	Regs    op.Registers
	PtrSize int
}

// Eval parses and evaluates expr against s, the top-level entry point
// pkg/coreapi and breakpoint condition checks call.
func Eval(s *Scope, expr string) (Value, error) {
	node, err := Parse(expr)
	if err != nil {
		return Value{}, err
	}
	return evalNode(s, node)
}

func evalNode(s *Scope, n Node) (Value, error) {
	switch e := n.(type) {
	case *IntLit:
		return synthInt64(e.Value), nil
	case *FloatLit:
		return synthFloat64(e.Value), nil
	case *BoolLit:
		return synthBoolV(e.Value), nil
	case *StringLit:
		return Value{IsSynthetic: false, Bytes: []byte(e.Value)}, nil
	case *Ident:
		return resolveIdent(s, e.Name)
	case *ScopedIdent:
		return resolveIdent(s, e.Scope+"::"+e.Name)
	case *UnaryExpr:
		return evalUnary(s, e)
	case *BinaryExpr:
		return evalBinary(s, e)
	case *MemberExpr:
		return evalMember(s, e)
	case *IndexExpr:
		return evalIndex(s, e)
	case *CastExpr:
		return evalCast(s, e)
	case *CallExpr:
		return evalBuiltin(s, e)
	default:
		return Value{}, fmt.Errorf("eval: unhandled node type %T", n)
	}
}

// resolveIdent resolves a bare name: local variables of the innermost
// scope outward, then parameters, then binary globals. Type names are not
// looked up here (sizeof and offsetof check them on their own), so a bare
// type name anywhere else is an undefined identifier. Ties within the
// same Depth are reported as ambiguous rather than silently picking one.
func resolveIdent(s *Scope, name string) (Value, error) {
	if s.Index != nil && (s.Inline != nil || s.Func != nil) {
		var vars []symbols.ScopeVar
		if s.Inline != nil {
			vars = s.Index.ScopeVarsForInline(s.Inline, s.PC)
		} else {
			vars = s.Index.ScopeVars(s.Func, s.PC)
		}
		best, bestDepth, tied := (*symbols.ScopeVar)(nil), -1, false
		for i := range vars {
			v := &vars[i]
			if v.Name != name {
				continue
			}
			switch {
			case v.Depth > bestDepth:
				best, bestDepth, tied = v, v.Depth, false
			case v.Depth == bestDepth:
				tied = true
			}
		}
		if tied {
			return Value{}, fmt.Errorf("eval: %q is ambiguous between multiple bindings at the same scope depth", name)
		}
		if best != nil {
			return readScopeVar(s, best)
		}
	}
	if s.Index != nil {
		for _, g := range s.Index.Globals {
			if g.Name == name {
				return readGlobal(s, g)
			}
		}
	}
	return Value{}, fmt.Errorf("eval: undefined identifier %q", name)
}

func readScopeVar(s *Scope, v *symbols.ScopeVar) (Value, error) {
	if v.HasLoclist {
		return Value{}, fmt.Errorf("eval: %q uses a location list, which is not supported", v.Name)
	}
	addr, _, err := op.ExecuteStackProgram(s.Regs, v.Location, s.PtrSize, memReadFunc(s.Mem))
	if err != nil {
		return Value{}, fmt.Errorf("eval: locating %q: %w", v.Name, err)
	}
	return readTyped(s, uint64(addr), v.Type)
}

func readGlobal(s *Scope, g *symbols.Global) (Value, error) {
	addr, _, err := op.ExecuteStackProgram(s.Regs, g.Location, s.PtrSize, memReadFunc(s.Mem))
	if err != nil {
		return Value{}, fmt.Errorf("eval: locating %q: %w", g.Name, err)
	}
	return readTyped(s, uint64(addr), g.Type)
}

func readTyped(s *Scope, addr uint64, id symbols.TypeID) (Value, error) {
	t := s.Index.Arena.Type(id)
	v := Value{Type: t, Addr: addr, HasAddr: true}
	size := t.Size
	if size <= 0 {
		size = 8
	}
	buf := make([]byte, size)
	if s.Mem != nil {
		if _, err := s.Mem.ReadMemory(buf, addr); err != nil {
			v.Unreadable = err
			return v, nil
		}
	}
	v.Bytes = buf
	return v, nil
}

func memReadFunc(m MemReader) func(addr uint64, out []byte) error {
	if m == nil {
		return nil
	}
	return func(addr uint64, out []byte) error {
		_, err := m.ReadMemory(out, addr)
		return err
	}
}
