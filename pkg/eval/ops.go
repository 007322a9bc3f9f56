package eval

import (
	"fmt"

	"github.com/al13n321/nnd/pkg/symbols"
)

func evalUnary(s *Scope, e *UnaryExpr) (Value, error) {
	switch e.Op {
	case "&":
		return evalAddressOf(s, e.Operand)
	case "*":
		v, err := evalNode(s, e.Operand)
		if err != nil {
			return Value{}, err
		}
		return deref(s, v)
	case "-":
		v, err := evalNode(s, e.Operand)
		if err != nil {
			return Value{}, err
		}
		if v.OptimizedOut || v.Unreadable != nil {
			return v, nil
		}
		if f, ok := v.AsFloat64(); ok && isFloatValue(v) {
			return synthFloat64(-f), nil
		}
		if i, ok := v.AsInt64(); ok {
			return synthInt64(-i), nil
		}
		return Value{}, fmt.Errorf("eval: unary '-' on non-numeric value")
	case "!":
		v, err := evalNode(s, e.Operand)
		if err != nil {
			return Value{}, err
		}
		if v.OptimizedOut || v.Unreadable != nil {
			return v, nil
		}
		b, ok := v.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("eval: unary '!' on non-boolean value")
		}
		return synthBoolV(!b), nil
	default:
		return Value{}, fmt.Errorf("eval: unknown unary operator %q", e.Op)
	}
}

func isFloatValue(v Value) bool {
	if v.IsSynthetic {
		return v.syntheticKind == synthFloat
	}
	return v.Type != nil && v.Type.Tag == symbols.TagBase && isFloatBaseName(v.Type.Name)
}

func isFloatBaseName(name string) bool {
	switch name {
	case "float", "double", "long double", "f32", "f64":
		return true
	}
	return false
}

func evalAddressOf(s *Scope, operand Node) (Value, error) {
	v, err := evalNode(s, operand)
	if err != nil {
		return Value{}, err
	}
	if !v.HasAddr {
		return Value{}, fmt.Errorf("eval: cannot take the address of a value with no debuggee location")
	}
	pt := &symbols.Type{Tag: symbols.TagPointer, Size: int64(s.PtrSize), ElemType: typeIDOf(v.Type)}
	return synthPointer(v.Addr, pt), nil
}

func typeIDOf(t *symbols.Type) symbols.TypeID {
	if t == nil {
		return -1
	}
	return t.ID
}

func synthPointer(addr uint64, t *symbols.Type) Value {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(addr >> (8 * i))
	}
	return Value{Type: t, Bytes: buf}
}

func deref(s *Scope, v Value) (Value, error) {
	if v.OptimizedOut {
		return v, nil
	}
	if v.Unreadable != nil {
		return Value{}, v.Unreadable
	}
	if v.Type == nil || (v.Type.Tag != symbols.TagPointer && v.Type.Tag != symbols.TagReference) {
		return Value{}, fmt.Errorf("eval: unary '*' on a non-pointer value")
	}
	addr, ok := v.AsInt64()
	if !ok {
		return Value{}, fmt.Errorf("eval: cannot read pointer value")
	}
	return readTyped(s, uint64(addr), v.Type.ElemType)
}

func evalBinary(s *Scope, e *BinaryExpr) (Value, error) {
	left, err := evalNode(s, e.Left)
	if err != nil {
		return Value{}, err
	}
	// Short-circuit logical operators never evaluate the right side
	// unless needed, matching C/C++/Rust semantics.
	switch e.Op {
	case "&&":
		lb, ok := left.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("eval: '&&' on non-boolean left operand")
		}
		if !lb {
			return synthBoolV(false), nil
		}
		right, err := evalNode(s, e.Right)
		if err != nil {
			return Value{}, err
		}
		rb, ok := right.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("eval: '&&' on non-boolean right operand")
		}
		return synthBoolV(rb), nil
	case "||":
		lb, ok := left.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("eval: '||' on non-boolean left operand")
		}
		if lb {
			return synthBoolV(true), nil
		}
		right, err := evalNode(s, e.Right)
		if err != nil {
			return Value{}, err
		}
		rb, ok := right.AsBool()
		if !ok {
			return Value{}, fmt.Errorf("eval: '||' on non-boolean right operand")
		}
		return synthBoolV(rb), nil
	}

	right, err := evalNode(s, e.Right)
	if err != nil {
		return Value{}, err
	}
	if left.OptimizedOut || right.OptimizedOut {
		return Value{OptimizedOut: true}, nil
	}
	if left.Unreadable != nil {
		return Value{}, left.Unreadable
	}
	if right.Unreadable != nil {
		return Value{}, right.Unreadable
	}

	if isFloatValue(left) || isFloatValue(right) {
		lf, ok1 := left.AsFloat64()
		rf, ok2 := right.AsFloat64()
		if !ok1 || !ok2 {
			return Value{}, fmt.Errorf("eval: operator %q on non-numeric operand", e.Op)
		}
		return floatBinOp(e.Op, lf, rf)
	}

	li, ok1 := left.AsInt64()
	ri, ok2 := right.AsInt64()
	if !ok1 || !ok2 {
		return Value{}, fmt.Errorf("eval: operator %q on non-numeric operand", e.Op)
	}
	return intBinOp(e.Op, li, ri)
}

func intBinOp(op string, l, r int64) (Value, error) {
	switch op {
	case "+":
		return synthInt64(l + r), nil
	case "-":
		return synthInt64(l - r), nil
	case "*":
		return synthInt64(l * r), nil
	case "/":
		if r == 0 {
			return Value{}, fmt.Errorf("eval: division by zero")
		}
		return synthInt64(l / r), nil
	case "%":
		if r == 0 {
			return Value{}, fmt.Errorf("eval: division by zero")
		}
		return synthInt64(l % r), nil
	case "==":
		return synthBoolV(l == r), nil
	case "!=":
		return synthBoolV(l != r), nil
	case "<":
		return synthBoolV(l < r), nil
	case "<=":
		return synthBoolV(l <= r), nil
	case ">":
		return synthBoolV(l > r), nil
	case ">=":
		return synthBoolV(l >= r), nil
	default:
		return Value{}, fmt.Errorf("eval: unknown binary operator %q", op)
	}
}

func floatBinOp(op string, l, r float64) (Value, error) {
	switch op {
	case "+":
		return synthFloat64(l + r), nil
	case "-":
		return synthFloat64(l - r), nil
	case "*":
		return synthFloat64(l * r), nil
	case "/":
		return synthFloat64(l / r), nil
	case "==":
		return synthBoolV(l == r), nil
	case "!=":
		return synthBoolV(l != r), nil
	case "<":
		return synthBoolV(l < r), nil
	case "<=":
		return synthBoolV(l <= r), nil
	case ">":
		return synthBoolV(l > r), nil
	case ">=":
		return synthBoolV(l >= r), nil
	default:
		return Value{}, fmt.Errorf("eval: operator %q not defined for floating point", op)
	}
}
