package eval

import (
	"fmt"

	"github.com/al13n321/nnd/pkg/symbols"
)

// evalBuiltin implements the three meta-functions spec.md §4.4 names;
// these never touch debuggee memory beyond what evaluating their
// arguments already does, and are the only call forms the parser
// accepts (no function-call injection).
func evalBuiltin(s *Scope, e *CallExpr) (Value, error) {
	switch e.Name {
	case "sizeof":
		return evalSizeof(s, e)
	case "type_of":
		return evalTypeOf(s, e)
	case "offsetof":
		return evalOffsetof(s, e)
	default:
		return Value{}, fmt.Errorf("eval: unknown function %q (function-call injection is not supported)", e.Name)
	}
}

func evalSizeof(s *Scope, e *CallExpr) (Value, error) {
	if len(e.Args) != 1 {
		return Value{}, fmt.Errorf("eval: sizeof takes exactly one argument")
	}
	// sizeof(Ident) where Ident names a type (not a variable in scope)
	// is a type query; otherwise it's "size of this value's type".
	if id, ok := e.Args[0].(*Ident); ok {
		if t, ok := findTypeByName(s, id.Name); ok {
			return synthInt64(t.Size), nil
		}
	}
	v, err := evalNode(s, e.Args[0])
	if err != nil {
		return Value{}, err
	}
	if v.Type == nil {
		return Value{}, fmt.Errorf("eval: sizeof argument has no resolvable type")
	}
	return synthInt64(v.Type.Size), nil
}

func evalTypeOf(s *Scope, e *CallExpr) (Value, error) {
	if len(e.Args) != 1 {
		return Value{}, fmt.Errorf("eval: type_of takes exactly one argument")
	}
	v, err := evalNode(s, e.Args[0])
	if err != nil {
		return Value{}, err
	}
	if v.Type == nil {
		return Value{}, fmt.Errorf("eval: type_of argument has no resolvable type")
	}
	return Value{Bytes: []byte(v.Type.String())}, nil
}

func evalOffsetof(s *Scope, e *CallExpr) (Value, error) {
	if len(e.Args) != 2 {
		return Value{}, fmt.Errorf("eval: offsetof takes a type name and a field name")
	}
	id, ok := e.Args[0].(*Ident)
	if !ok {
		return Value{}, fmt.Errorf("eval: offsetof's first argument must be a type name")
	}
	field, ok := e.Args[1].(*Ident)
	if !ok {
		return Value{}, fmt.Errorf("eval: offsetof's second argument must be a field name")
	}
	t, ok := findTypeByName(s, id.Name)
	if !ok {
		return Value{}, fmt.Errorf("eval: unknown type %q", id.Name)
	}
	t = stripTypedefsAndModifiers(s, t)
	if t.Tag != symbols.TagStructure && t.Tag != symbols.TagUnion {
		return Value{}, fmt.Errorf("eval: %q is not a struct/union", id.Name)
	}
	for _, f := range t.Fields {
		if f.Name == field.Name {
			return synthInt64(f.BitOffset / 8), nil
		}
	}
	return Value{}, fmt.Errorf("eval: no member %q on type %q", field.Name, id.Name)
}
