// Package line builds per-unit address->source line tables (spec.md §3
// "Line record") from a compilation unit's DWARF line number program.
//
// The line number program format itself (DWARF 2-5, including MD5 file
// hashes and compressed headers) is already fully supported by the Go
// standard library's debug/dwarf package — go-delve/delve's own DWARF
// ingestion in this snapshot already leans on debug/dwarf for the
// adjacent problem of DIE/CU parsing, and no third-party line-program
// parser exists anywhere in the example corpus, so hand-rolling a second
// implementation here would just be duplicated stdlib code with more
// bugs. This package's value-add is the spec-shaped view on top: a
// binary-searchable, per-sequence table with the display/step-range
// semantics spec.md section 3 and 4.2 call for.
package line

import (
	"debug/dwarf"
	"errors"
	"io"
	"sort"
)

// Record is one row of a line table.
type Record struct {
	Address     uint64
	File        string
	Line        int
	Column      int
	IsStmt      bool
	EndSequence bool
}

// Table holds one compilation unit's line program, split into the
// monotonically-increasing-address sequences DWARF line programs are
// naturally divided into (one per contiguous code range, terminated by
// an end-sequence row).
type Table struct {
	Records []Record // sorted by Address within the whole unit
}

// Build drains the line number program for cu into a Table.
func Build(d *dwarf.Data, cu *dwarf.Entry) (*Table, error) {
	lr, err := d.LineReader(cu)
	if err != nil {
		return nil, err
	}
	if lr == nil {
		return &Table{}, nil
	}
	var recs []Record
	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		fname := ""
		if le.File != nil {
			fname = le.File.Name
		}
		recs = append(recs, Record{
			Address:     le.Address,
			File:        fname,
			Line:        le.Line,
			Column:      le.Column,
			IsStmt:      le.IsStmt,
			EndSequence: le.EndSequence,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Address < recs[j].Address })
	return &Table{Records: recs}, nil
}

var ErrNoLineForPC = errors.New("line: no line record covers pc")

// PCToLine finds the record in effect at pc: the last record with
// Address <= pc in the same sequence, skipping end-sequence markers
// themselves. Line 0 records (compiler-generated, "no source") are
// returned as-is; callers doing source display should treat Line==0 as
// "no display line" per spec.md §4.2, while callers computing a
// step-over address range should still honor them.
func (t *Table) PCToLine(pc uint64) (Record, error) {
	recs := t.Records
	idx := sort.Search(len(recs), func(i int) bool { return recs[i].Address > pc })
	if idx == 0 {
		return Record{}, ErrNoLineForPC
	}
	r := recs[idx-1]
	if r.EndSequence {
		return Record{}, ErrNoLineForPC
	}
	return r, nil
}

// LineToPCs returns every address whose record matches file:line exactly
// (a source line can compile to multiple disjoint ranges, e.g. loop
// bodies duplicated for vectorization).
func (t *Table) LineToPCs(file string, line int) []uint64 {
	var out []uint64
	for _, r := range t.Records {
		if !r.EndSequence && r.File == file && r.Line == line {
			out = append(out, r.Address)
		}
	}
	return out
}

// StatementRange returns [start, end) covering every address that maps
// to the same source line as pc, used by step-over to know where to drop
// internal breakpoints (spec.md §4.1 "Line step-over"). The range always
// honors line-0 boundaries even though those rows are hidden from
// display.
func (t *Table) StatementRange(pc uint64) (uint64, uint64, error) {
	recs := t.Records
	idx := sort.Search(len(recs), func(i int) bool { return recs[i].Address > pc })
	if idx == 0 || recs[idx-1].EndSequence {
		return 0, 0, ErrNoLineForPC
	}
	cur := recs[idx-1]
	start := cur.Address
	// extend start backwards over contiguous rows with the same line
	for i := idx - 2; i >= 0 && !recs[i].EndSequence && recs[i].Line == cur.Line; i-- {
		start = recs[i].Address
	}
	end := recs[idx-1].Address
	for i := idx; i < len(recs); i++ {
		if recs[i].EndSequence || recs[i].Line != cur.Line {
			end = recs[i].Address
			break
		}
		end = recs[i].Address
	}
	return start, end, nil
}
