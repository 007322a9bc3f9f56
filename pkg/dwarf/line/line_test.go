package line

import "testing"

// These exercise Table's lookup logic directly against hand-built Records,
// rather than through Build (which needs a real *dwarf.Data line program);
// PCToLine/LineToPCs/StatementRange are pure functions of the Records
// slice, so this covers their invariants without a DWARF fixture.

func fixtureTable() *Table {
	return &Table{Records: []Record{
		{Address: 0x1000, File: "main.c", Line: 10, IsStmt: true},
		{Address: 0x1004, File: "main.c", Line: 10, IsStmt: false},
		{Address: 0x1008, File: "main.c", Line: 11, IsStmt: true},
		{Address: 0x100c, File: "main.c", Line: 12, IsStmt: true},
		{Address: 0x1010, File: "main.c", EndSequence: true},

		{Address: 0x2000, File: "main.c", Line: 20, IsStmt: true},
		{Address: 0x2010, File: "main.c", EndSequence: true},
	}}
}

func TestPCToLine(t *testing.T) {
	tbl := fixtureTable()

	r, err := tbl.PCToLine(0x1005)
	if err != nil {
		t.Fatalf("PCToLine(0x1005): %v", err)
	}
	if r.Line != 10 {
		t.Fatalf("Line = %d, want 10", r.Line)
	}

	r, err = tbl.PCToLine(0x100c)
	if err != nil || r.Line != 12 {
		t.Fatalf("PCToLine(0x100c) = %+v, err=%v", r, err)
	}

	if _, err := tbl.PCToLine(0x0fff); err != ErrNoLineForPC {
		t.Fatalf("PCToLine before first record: got err=%v, want ErrNoLineForPC", err)
	}
	if _, err := tbl.PCToLine(0x1010); err != ErrNoLineForPC {
		t.Fatalf("PCToLine(end-sequence addr): got err=%v, want ErrNoLineForPC", err)
	}
	if _, err := tbl.PCToLine(0x1800); err != ErrNoLineForPC {
		t.Fatalf("PCToLine(gap between sequences): got err=%v, want ErrNoLineForPC", err)
	}
}

func TestLineToPCs(t *testing.T) {
	tbl := fixtureTable()

	pcs := tbl.LineToPCs("main.c", 10)
	if len(pcs) != 2 || pcs[0] != 0x1000 || pcs[1] != 0x1004 {
		t.Fatalf("LineToPCs(main.c, 10) = %v", pcs)
	}

	if pcs := tbl.LineToPCs("main.c", 999); pcs != nil {
		t.Fatalf("LineToPCs(unknown line) = %v, want nil", pcs)
	}

	if pcs := tbl.LineToPCs("other.c", 10); pcs != nil {
		t.Fatalf("LineToPCs(wrong file) = %v, want nil", pcs)
	}
}

func TestStatementRange(t *testing.T) {
	tbl := fixtureTable()

	start, end, err := tbl.StatementRange(0x1001)
	if err != nil {
		t.Fatalf("StatementRange(0x1001): %v", err)
	}
	if start != 0x1000 || end != 0x1008 {
		t.Fatalf("StatementRange(0x1001) = [0x%x, 0x%x), want [0x1000, 0x1008)", start, end)
	}

	// A PC in the last real record of a sequence should stop at the
	// end-sequence marker.
	start, end, err = tbl.StatementRange(0x100d)
	if err != nil {
		t.Fatalf("StatementRange(0x100d): %v", err)
	}
	if start != 0x100c || end != 0x1010 {
		t.Fatalf("StatementRange(0x100d) = [0x%x, 0x%x), want [0x100c, 0x1010)", start, end)
	}

	if _, _, err := tbl.StatementRange(0x1010); err != ErrNoLineForPC {
		t.Fatalf("StatementRange(end-sequence addr): got err=%v, want ErrNoLineForPC", err)
	}
	if _, _, err := tbl.StatementRange(0x1800); err != ErrNoLineForPC {
		t.Fatalf("StatementRange(gap): got err=%v, want ErrNoLineForPC", err)
	}
}

func TestStatementRangeLastSequence(t *testing.T) {
	tbl := fixtureTable()
	start, end, err := tbl.StatementRange(0x2005)
	if err != nil {
		t.Fatalf("StatementRange(0x2005): %v", err)
	}
	if start != 0x2000 || end != 0x2010 {
		t.Fatalf("StatementRange(0x2005) = [0x%x, 0x%x), want [0x2000, 0x2010)", start, end)
	}
}
