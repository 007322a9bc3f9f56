package eval

import "testing"

func TestSyntheticValueConversions(t *testing.T) {
	iv := synthInt64(7)
	if got, ok := iv.AsInt64(); !ok || got != 7 {
		t.Errorf("synthInt64(7).AsInt64() = %d, %v", got, ok)
	}
	if got, ok := iv.AsFloat64(); !ok || got != 7 {
		t.Errorf("synthInt64(7).AsFloat64() = %v, %v", got, ok)
	}

	fv := synthFloat64(2.5)
	if got, ok := fv.AsFloat64(); !ok || got != 2.5 {
		t.Errorf("synthFloat64(2.5).AsFloat64() = %v, %v", got, ok)
	}

	bv := synthBoolV(true)
	if got, ok := bv.AsBool(); !ok || !got {
		t.Errorf("synthBoolV(true).AsBool() = %v, %v", got, ok)
	}
	if got, ok := bv.AsInt64(); !ok || got != 1 {
		t.Errorf("synthBoolV(true).AsInt64() = %d, %v", got, ok)
	}
}

func TestOptimizedOutPropagates(t *testing.T) {
	v := Value{OptimizedOut: true}
	if _, ok := v.AsInt64(); ok {
		t.Errorf("AsInt64 on OptimizedOut value should fail")
	}
	if _, ok := v.AsBool(); ok {
		t.Errorf("AsBool on OptimizedOut value should fail")
	}
}

func TestUnreadablePropagates(t *testing.T) {
	v := Value{Unreadable: errUnreadableForTest}
	if _, ok := v.AsFloat64(); ok {
		t.Errorf("AsFloat64 on Unreadable value should fail")
	}
}

var errUnreadableForTest = fakeErr("bad pointer")

type fakeErr string

func (f fakeErr) Error() string { return string(f) }
