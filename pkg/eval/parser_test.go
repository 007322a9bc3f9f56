package eval

import "testing"

func TestParserPrecedence(t *testing.T) {
	n, err := Parse("1 + 2 * 3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	bin, ok := n.(*BinaryExpr)
	if !ok || bin.Op != "+" {
		t.Fatalf("top node = %#v, want '+' BinaryExpr", n)
	}
	right, ok := bin.Right.(*BinaryExpr)
	if !ok || right.Op != "*" {
		t.Fatalf("right = %#v, want '*' BinaryExpr", bin.Right)
	}
}

func TestParserLogicalPrecedence(t *testing.T) {
	n, err := Parse("a == 1 || b == 2 && c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	or, ok := n.(*BinaryExpr)
	if !ok || or.Op != "||" {
		t.Fatalf("top node = %#v, want '||'", n)
	}
	and, ok := or.Right.(*BinaryExpr)
	if !ok || and.Op != "&&" {
		t.Fatalf("right of || = %#v, want '&&'", or.Right)
	}
}

func TestParserMemberIndexChain(t *testing.T) {
	n, err := Parse("a.b[0].c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m, ok := n.(*MemberExpr)
	if !ok || m.Field != "c" {
		t.Fatalf("top node = %#v, want MemberExpr{Field: c}", n)
	}
	idx, ok := m.Base.(*IndexExpr)
	if !ok {
		t.Fatalf("m.Base = %#v, want IndexExpr", m.Base)
	}
	inner, ok := idx.Base.(*MemberExpr)
	if !ok || inner.Field != "b" {
		t.Fatalf("idx.Base = %#v, want MemberExpr{Field: b}", idx.Base)
	}
}

func TestParserCast(t *testing.T) {
	n, err := Parse("p as Foo*")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, ok := n.(*CastExpr)
	if !ok || c.TypeName != "Foo*" {
		t.Fatalf("got %#v, want CastExpr{TypeName: Foo*}", n)
	}
}

func TestParserScopedIdent(t *testing.T) {
	n, err := Parse("ns::Name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, ok := n.(*ScopedIdent)
	if !ok || s.Scope != "ns" || s.Name != "Name" {
		t.Fatalf("got %#v", n)
	}
}

func TestParserBuiltinCalls(t *testing.T) {
	n, err := Parse("offsetof(Foo, bar)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, ok := n.(*CallExpr)
	if !ok || c.Name != "offsetof" || len(c.Args) != 2 {
		t.Fatalf("got %#v", n)
	}
}

func TestParserUnaryAndDeref(t *testing.T) {
	n, err := Parse("*p.next")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u, ok := n.(*UnaryExpr)
	if !ok || u.Op != "*" {
		t.Fatalf("got %#v, want UnaryExpr{Op: *}", n)
	}
	if _, ok := u.Operand.(*MemberExpr); !ok {
		t.Fatalf("operand = %#v, want MemberExpr", u.Operand)
	}
}

func TestParserTrailingGarbageRejected(t *testing.T) {
	if _, err := Parse("1 +"); err == nil {
		t.Fatalf("expected error for incomplete expression")
	}
	if _, err := Parse("1 2"); err == nil {
		t.Fatalf("expected error for trailing input")
	}
}

func TestParserParenGrouping(t *testing.T) {
	n, err := Parse("(1 + 2) * 3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	bin, ok := n.(*BinaryExpr)
	if !ok || bin.Op != "*" {
		t.Fatalf("got %#v, want '*' BinaryExpr", n)
	}
	if _, ok := bin.Left.(*BinaryExpr); !ok {
		t.Fatalf("left = %#v, want grouped '+' BinaryExpr", bin.Left)
	}
}
