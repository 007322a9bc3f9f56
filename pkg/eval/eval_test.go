package eval

import "testing"

func evalNoScope(t *testing.T, expr string) Value {
	s := &Scope{PtrSize: 8}
	v, err := Eval(s, expr)
	if err != nil {
		t.Fatalf("Eval(%q): %v", expr, err)
	}
	return v
}

func TestEvalArithmetic(t *testing.T) {
	cases := []struct {
		expr string
		want int64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 % 3", 1},
		{"-5 + 2", -3},
		{"!(1 == 2)", 1},
	}
	for _, c := range cases {
		v := evalNoScope(t, c.expr)
		got, ok := v.AsInt64()
		if !ok {
			t.Fatalf("%q: AsInt64 failed", c.expr)
		}
		if got != c.want {
			t.Errorf("%q = %d, want %d", c.expr, got, c.want)
		}
	}
}

func TestEvalLogicalShortCircuit(t *testing.T) {
	v := evalNoScope(t, "1 == 1 || 1 == 2")
	b, ok := v.AsBool()
	if !ok || !b {
		t.Errorf("1==1 || 1==2 = %v, %v", b, ok)
	}
	v = evalNoScope(t, "1 == 2 && 1 == 1")
	b, ok = v.AsBool()
	if !ok || b {
		t.Errorf("1==2 && 1==1 = %v, %v", b, ok)
	}
}

func TestEvalFloat(t *testing.T) {
	v := evalNoScope(t, "1.5 + 2.5")
	got, ok := v.AsFloat64()
	if !ok || got != 4 {
		t.Errorf("1.5 + 2.5 = %v, %v", got, ok)
	}
}

func TestProgramCompileAndRun(t *testing.T) {
	prog, err := Compile("1 + 1 == 2")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	s := &Scope{PtrSize: 8}
	ok, err := prog.Run(s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Errorf("condition %q evaluated false, want true", prog.String())
	}
}

func TestProgramCompileRejectsGarbage(t *testing.T) {
	if _, err := Compile("1 +"); err == nil {
		t.Fatalf("expected Compile to reject an incomplete expression")
	}
}

func TestEvalUndefinedIdentifier(t *testing.T) {
	if _, err := Eval(&Scope{PtrSize: 8}, "nonexistent_var"); err == nil {
		t.Fatalf("expected error resolving an identifier with no scope/index")
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	if _, err := Eval(&Scope{PtrSize: 8}, "1 / 0"); err == nil {
		t.Fatalf("expected division-by-zero error")
	}
}
