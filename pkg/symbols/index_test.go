package symbols

import (
	"bytes"
	"context"
	"debug/dwarf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/al13n321/nnd/pkg/elfbin"
	"github.com/al13n321/nnd/pkg/workqueue"
)

// Hand-rolled DWARF .debug_info/.debug_abbrev builder, in the same spirit
// as pkg/dwarf/reader's test fixture (itself grounded on go-delve/delve's
// pkg/dwarf/dwarfbuilder): every tag/attr/form code used below is below
// 0x80 so each ULEB128 is one byte. No .debug_line is emitted; DIEs carry
// no DW_AT_stmt_list, so debug/dwarf's LineReader legitimately reports
// "no line table" for the unit rather than erroring, exercising the
// degraded-but-usable path spec.md §7 describes for missing sections.

const (
	dformString  = 0x08
	dformData1   = 0x0b
	dformAddr    = 0x01
	dformRefAddr = 0x10
)

type dieDescr struct {
	tag      dwarf.Tag
	children bool
	attrs    []dwarf.Attr
	forms    []byte
}

type openDIE struct {
	off dwarf.Offset
	dieDescr
}

type infoBuilder struct {
	info    bytes.Buffer
	stack   []*openDIE
	abbrevs []dieDescr
}

func newInfoBuilder() *infoBuilder {
	b := &infoBuilder{}
	b.info.Write([]byte{0, 0, 0, 0, 4, 0, 0, 0, 0, 0, 8})
	return b
}

func (b *infoBuilder) open(tag dwarf.Tag, name string) *openDIE {
	if len(b.stack) > 0 {
		b.stack[len(b.stack)-1].children = true
	}
	d := &openDIE{off: dwarf.Offset(b.info.Len())}
	d.tag = tag
	b.info.WriteByte(0)
	b.stack = append(b.stack, d)
	b.attrString(dwarf.AttrName, name)
	return d
}

func (b *infoBuilder) attrString(attr dwarf.Attr, v string) {
	d := b.stack[len(b.stack)-1]
	d.attrs = append(d.attrs, attr)
	d.forms = append(d.forms, dformString)
	b.info.WriteString(v)
	b.info.WriteByte(0)
}

func (b *infoBuilder) attrData1(attr dwarf.Attr, v uint8) {
	d := b.stack[len(b.stack)-1]
	d.attrs = append(d.attrs, attr)
	d.forms = append(d.forms, dformData1)
	b.info.WriteByte(v)
}

func (b *infoBuilder) attrAddr(attr dwarf.Attr, v uint64) {
	d := b.stack[len(b.stack)-1]
	d.attrs = append(d.attrs, attr)
	d.forms = append(d.forms, dformAddr)
	binary.Write(&b.info, binary.LittleEndian, v)
}

func (b *infoBuilder) attrRef(attr dwarf.Attr, ref dwarf.Offset) {
	d := b.stack[len(b.stack)-1]
	d.attrs = append(d.attrs, attr)
	d.forms = append(d.forms, dformRefAddr)
	binary.Write(&b.info, binary.LittleEndian, uint32(ref))
}

func (b *infoBuilder) attrBlock1(attr dwarf.Attr, payload []byte) {
	d := b.stack[len(b.stack)-1]
	d.attrs = append(d.attrs, attr)
	d.forms = append(d.forms, 0x0a) // DW_FORM_block1
	b.info.WriteByte(byte(len(payload)))
	b.info.Write(payload)
}

func (b *infoBuilder) close() dwarf.Offset {
	d := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	code := b.abbrevCode(d.dieDescr)
	b.info.Bytes()[d.off] = byte(code)
	if d.children {
		b.info.WriteByte(0)
	}
	return d.off
}

func sameDescr(a, c dieDescr) bool {
	if a.tag != c.tag || a.children != c.children || len(a.attrs) != len(c.attrs) {
		return false
	}
	for i := range a.attrs {
		if a.attrs[i] != c.attrs[i] || a.forms[i] != c.forms[i] {
			return false
		}
	}
	return true
}

func (b *infoBuilder) abbrevCode(d dieDescr) int {
	for i, e := range b.abbrevs {
		if sameDescr(e, d) {
			return i + 1
		}
	}
	b.abbrevs = append(b.abbrevs, d)
	return len(b.abbrevs)
}

func duleb(buf *bytes.Buffer, v uint64) {
	if v >= 0x80 {
		panic("test fixture only supports single-byte ULEB128 values")
	}
	buf.WriteByte(byte(v))
}

func (b *infoBuilder) build() (abbrev, info []byte) {
	var ab bytes.Buffer
	for i, d := range b.abbrevs {
		duleb(&ab, uint64(i+1))
		duleb(&ab, uint64(d.tag))
		if d.children {
			ab.WriteByte(1)
		} else {
			ab.WriteByte(0)
		}
		for j := range d.attrs {
			duleb(&ab, uint64(d.attrs[j]))
			duleb(&ab, uint64(d.forms[j]))
		}
		duleb(&ab, 0)
		duleb(&ab, 0)
	}
	duleb(&ab, 0)

	info = b.info.Bytes()
	binary.LittleEndian.PutUint32(info, uint32(len(info)-4))
	return ab.Bytes(), info
}

// buildFixtureDWARF constructs one compile unit:
//
//	CU "test.c"
//	  base_type "int" (encoding=signed, byte_size=4)
//	  structure_type "Point" byte_size=8
//	    member "x" : int, offset 0
//	    member "y" : int, offset 4
//	  subprogram "main" [0x401000, 0x401010)
//	  subprogram "helper" [0x401020, 0x401030)
//	  subprogram "overlap_bad" [0x401025, 0x401028) -- overlaps helper, narrower
//	  subprogram "with_inline" [0x401040, 0x401060)
//	    inlined_subroutine [0x401044, 0x401058)
//	      inlined_subroutine [0x401048, 0x401050) -- nested two levels deep
//	  variable "g_origin" : Point (global, DW_AT_location present)
func buildFixtureDWARF(t *testing.T) (abbrev, info []byte) {
	t.Helper()
	b := newInfoBuilder()
	b.open(dwarf.TagCompileUnit, "test.c")

	b.open(dwarf.TagBaseType, "int")
	b.attrData1(dwarf.AttrEncoding, 5)
	b.attrData1(dwarf.AttrByteSize, 4)
	intType := b.close()

	b.open(dwarf.TagStructType, "Point")
	b.attrData1(dwarf.AttrByteSize, 8)
	b.open(dwarf.TagMember, "x")
	b.attrRef(dwarf.AttrType, intType)
	b.attrData1(dwarf.AttrDataMemberLoc, 0)
	b.close()
	b.open(dwarf.TagMember, "y")
	b.attrRef(dwarf.AttrType, intType)
	b.attrData1(dwarf.AttrDataMemberLoc, 4)
	b.close()
	pointType := b.close()

	b.open(dwarf.TagSubprogram, "main")
	b.attrAddr(dwarf.AttrLowpc, 0x401000)
	b.attrAddr(dwarf.AttrHighpc, 0x401010)
	b.close()

	b.open(dwarf.TagSubprogram, "helper")
	b.attrAddr(dwarf.AttrLowpc, 0x401020)
	b.attrAddr(dwarf.AttrHighpc, 0x401030)
	b.close()

	b.open(dwarf.TagSubprogram, "overlap_bad")
	b.attrAddr(dwarf.AttrLowpc, 0x401025)
	b.attrAddr(dwarf.AttrHighpc, 0x401028)
	b.close()

	b.open(dwarf.TagSubprogram, "with_inline")
	b.attrAddr(dwarf.AttrLowpc, 0x401040)
	b.attrAddr(dwarf.AttrHighpc, 0x401060)
	b.open(dwarf.TagInlinedSubroutine, "")
	b.attrAddr(dwarf.AttrLowpc, 0x401044)
	b.attrAddr(dwarf.AttrHighpc, 0x401058)
	b.open(dwarf.TagInlinedSubroutine, "")
	b.attrAddr(dwarf.AttrLowpc, 0x401048)
	b.attrAddr(dwarf.AttrHighpc, 0x401050)
	b.close() // inner inlined_subroutine
	b.close() // outer inlined_subroutine
	b.close() // with_inline

	b.open(dwarf.TagVariable, "g_origin")
	b.attrRef(dwarf.AttrType, pointType)
	// DW_OP_addr(0x404000): opcode 0x03 followed by an 8-byte address.
	loc := make([]byte, 9)
	loc[0] = 0x03
	binary.LittleEndian.PutUint64(loc[1:], 0x404000)
	b.attrBlock1(dwarf.AttrLocation, loc)
	b.close()
	b.close() // compile unit

	return b.build()
}

func buildElfWithDWARF(t *testing.T, abbrev, info []byte) string {
	t.Helper()
	shstrtab := append([]byte{0}, []byte(".text\x00.note.gnu.build-id\x00.debug_abbrev\x00.debug_info\x00.shstrtab\x00")...)
	nameOff := func(name string) uint32 {
		idx := bytes.Index(shstrtab, []byte(name+"\x00"))
		if idx < 0 {
			t.Fatalf("name %q not in shstrtab", name)
		}
		return uint32(idx)
	}

	text := bytes.Repeat([]byte{0x90}, 0x40)
	var note bytes.Buffer
	w := func(v interface{}) { binary.Write(&note, binary.LittleEndian, v) }
	w(uint32(4))
	w(uint32(4))
	w(uint32(3))
	note.WriteString("GNU\x00")
	note.Write([]byte{0x01, 0x02, 0x03, 0x04})

	const ehsize = 64
	textOff := ehsize
	noteOff := textOff + len(text)
	abbrevOff := noteOff + note.Len()
	infoOff := abbrevOff + len(abbrev)
	shstrOff := infoOff + len(info)
	shOff := shstrOff + len(shstrtab)

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))
	ww := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }
	ww(uint16(2))
	ww(uint16(0x3e)) // EM_X86_64
	ww(uint32(1))
	ww(uint64(0x401000))
	ww(uint64(0))
	ww(uint64(shOff))
	ww(uint32(0))
	ww(uint16(ehsize))
	ww(uint16(0))
	ww(uint16(0))
	ww(uint16(64))
	ww(uint16(6)) // e_shnum: null, .text, .note, .debug_abbrev, .debug_info, .shstrtab
	ww(uint16(5)) // e_shstrndx
	if buf.Len() != ehsize {
		t.Fatalf("ELF header is %d bytes, want %d", buf.Len(), ehsize)
	}
	buf.Write(text)
	buf.Write(note.Bytes())
	buf.Write(abbrev)
	buf.Write(info)
	buf.Write(shstrtab)

	writeShdr := func(name, typ uint32, flags, addr, off, size uint64, align uint64) {
		ww(name)
		ww(typ)
		ww(flags)
		ww(addr)
		ww(off)
		ww(size)
		ww(uint32(0))
		ww(uint32(0))
		ww(align)
		ww(uint64(0))
	}
	writeShdr(0, 0, 0, 0, 0, 0, 0)
	writeShdr(nameOff(".text"), 1, 0x6, 0x401000, uint64(textOff), uint64(len(text)), 16)
	writeShdr(nameOff(".note.gnu.build-id"), 7, 0x2, 0, uint64(noteOff), uint64(note.Len()), 4)
	writeShdr(nameOff(".debug_abbrev"), 1, 0, 0, uint64(abbrevOff), uint64(len(abbrev)), 1)
	writeShdr(nameOff(".debug_info"), 1, 0, 0, uint64(infoOff), uint64(len(info)), 1)
	writeShdr(nameOff(".shstrtab"), 3, 0, 0, uint64(shstrOff), uint64(len(shstrtab)), 1)

	path := filepath.Join(t.TempDir(), "fixture.elf")
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadFixtureIndex(t *testing.T) *Index {
	t.Helper()
	abbrev, info := buildFixtureDWARF(t)
	path := buildElfWithDWARF(t, abbrev, info)
	bin, err := elfbin.Open(path, 0)
	if err != nil {
		t.Fatalf("elfbin.Open: %v", err)
	}
	t.Cleanup(func() { bin.Close() })

	job := workqueue.NewJob(context.Background())
	ix, err := Load(bin, job, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return ix
}

func TestLoadIndexesFunctionsAndRepairsOverlap(t *testing.T) {
	ix := loadFixtureIndex(t)

	if fn := ix.FuncByName("main"); fn == nil || fn.LowPC != 0x401000 || fn.HighPC != 0x401010 {
		t.Fatalf("FuncByName(main) = %+v", fn)
	}

	// helper [0x401020,0x401030) and overlap_bad [0x401025,0x401028) overlap;
	// overlap_bad is narrower and must win per spec.md §3's tie-break rule.
	if fn := ix.FuncByName("overlap_bad"); fn == nil {
		t.Fatal("overlap_bad was dropped, want it to survive as the narrower range")
	}
	if fn := ix.FuncByName("helper"); fn != nil {
		t.Fatalf("helper should have been fully superseded by the narrower overlap, got %+v", fn)
	}

	if fn := ix.FuncForPC(0x401005); fn == nil || fn.Name != "main" {
		t.Fatalf("FuncForPC(0x401005) = %+v", fn)
	}
	if fn := ix.FuncForPC(0x401026); fn == nil || fn.Name != "overlap_bad" {
		t.Fatalf("FuncForPC(0x401026) = %+v, want overlap_bad", fn)
	}
	if fn := ix.FuncForPC(0x401019); fn != nil {
		t.Fatalf("FuncForPC in the gap between functions = %+v, want nil", fn)
	}
}

func TestLoadPrefixSearch(t *testing.T) {
	ix := loadFixtureIndex(t)
	names := ix.PrefixSearch("m")
	found := false
	for _, n := range names {
		if n == "main" {
			found = true
		}
	}
	if !found {
		t.Fatalf("PrefixSearch(m) = %v, want to contain main", names)
	}
	if types := ix.TypePrefixSearch("Poi"); len(types) != 1 || types[0] != "Point" {
		t.Fatalf("TypePrefixSearch(Poi) = %v, want [Point]", types)
	}
}

func TestLoadResolvesGlobalStructType(t *testing.T) {
	ix := loadFixtureIndex(t)
	if len(ix.Globals) != 1 {
		t.Fatalf("len(Globals) = %d, want 1", len(ix.Globals))
	}
	g := ix.Globals[0]
	if g.Name != "g_origin" {
		t.Fatalf("global name = %q", g.Name)
	}
	typ := ix.Arena.Type(g.Type)
	if typ == nil || typ.Tag != TagStructure || typ.Name != "Point" {
		t.Fatalf("global type = %+v", typ)
	}
	if typ.Size != 8 {
		t.Fatalf("Point size = %d, want 8", typ.Size)
	}
	if len(typ.Fields) != 2 || typ.Fields[0].Name != "x" || typ.Fields[1].Name != "y" {
		t.Fatalf("Point fields = %+v", typ.Fields)
	}
	if typ.Fields[1].BitOffset != 32 {
		t.Fatalf("field y bit offset = %d, want 32 (byte offset 4 * 8)", typ.Fields[1].BitOffset)
	}
}

func TestLoadNoLineTableDegradesGracefully(t *testing.T) {
	ix := loadFixtureIndex(t)
	if _, err := ix.PCToLine(0x401000); err == nil {
		t.Fatal("PCToLine with no .debug_line should return an error, not a fabricated line")
	}
}

// TestParseNestedInlineChildrenReachable exercises the top-level inline
// case parseUnit's inlineStack has to get right: a DW_TAG_inlined_subroutine
// with a nested inlined_subroutine of its own, where the outer one has no
// parent inline (it's a direct child of the subprogram). The outer site
// must be stored in Function.InlineSites by the same pointer that later
// gets its Children populated, not a copy taken before that happens.
func TestParseNestedInlineChildrenReachable(t *testing.T) {
	ix := loadFixtureIndex(t)
	fn := ix.FuncByName("with_inline")
	if fn == nil {
		t.Fatal("FuncByName(with_inline) = nil")
	}
	if len(fn.InlineSites) != 1 {
		t.Fatalf("InlineSites = %+v, want exactly the one top-level inline", fn.InlineSites)
	}
	outer := fn.InlineSites[0]
	if outer.LowPC != 0x401044 || outer.HighPC != 0x401058 {
		t.Fatalf("outer inline site = %+v", outer)
	}
	if len(outer.Children) != 1 {
		t.Fatalf("outer.Children = %+v, want the nested inlined_subroutine reachable through it", outer.Children)
	}
	inner := outer.Children[0]
	if inner.LowPC != 0x401048 || inner.HighPC != 0x401050 || inner.Parent != outer {
		t.Fatalf("inner inline site = %+v, want Parent == outer", inner)
	}
}
