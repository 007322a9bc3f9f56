package elfbin

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildMinimalELF hand-assembles the smallest ELF64 file debug/elf.NewFile
// will accept: a null section, a .text PROGBITS section, a
// .note.gnu.build-id section, and the .shstrtab that names them. There is
// no go toolchain available to build a real fixture binary with, so this
// plays the same role go-delve/delve's compiled test fixtures do, just
// assembled by hand instead of by `go build`.
func buildMinimalELF(t *testing.T, machine uint16, textBytes, buildID []byte) []byte {
	t.Helper()

	shstrtab := append([]byte{0}, []byte(".text\x00.note.gnu.build-id\x00.shstrtab\x00")...)
	nameOff := func(name string) uint32 {
		idx := bytes.Index(shstrtab, []byte(name+"\x00"))
		if idx < 0 {
			t.Fatalf("name %q not in shstrtab", name)
		}
		return uint32(idx)
	}

	note := buildNote(buildID)

	const ehsize = 64
	textOff := ehsize
	noteOff := textOff + len(textBytes)
	shstrOff := noteOff + len(note)
	shOff := shstrOff + len(shstrtab)

	var buf bytes.Buffer
	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8)) // EI_PAD
	w := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }
	w(uint16(2))       // e_type = ET_EXEC
	w(machine)         // e_machine
	w(uint32(1))       // e_version
	w(uint64(0x401000)) // e_entry
	w(uint64(0))       // e_phoff
	w(uint64(shOff))   // e_shoff
	w(uint32(0))       // e_flags
	w(uint16(ehsize))  // e_ehsize
	w(uint16(0))       // e_phentsize
	w(uint16(0))       // e_phnum
	w(uint16(64))      // e_shentsize
	w(uint16(4))       // e_shnum
	w(uint16(3))       // e_shstrndx

	if buf.Len() != ehsize {
		t.Fatalf("ELF header is %d bytes, want %d", buf.Len(), ehsize)
	}
	buf.Write(textBytes)
	buf.Write(note)
	buf.Write(shstrtab)

	writeShdr := func(name, typ uint32, flags, addr, off, size uint64, align uint64) {
		w(name)
		w(typ)
		w(flags)
		w(addr)
		w(off)
		w(size)
		w(uint32(0)) // sh_link
		w(uint32(0)) // sh_info
		w(align)
		w(uint64(0)) // sh_entsize
	}
	writeShdr(0, 0, 0, 0, 0, 0, 0) // null section
	writeShdr(nameOff(".text"), 1 /* SHT_PROGBITS */, 0x6 /* ALLOC|EXECINSTR */, 0x401000, uint64(textOff), uint64(len(textBytes)), 16)
	writeShdr(nameOff(".note.gnu.build-id"), 7 /* SHT_NOTE */, 0x2 /* ALLOC */, 0, uint64(noteOff), uint64(len(note)), 4)
	writeShdr(nameOff(".shstrtab"), 3 /* SHT_STRTAB */, 0, 0, uint64(shstrOff), uint64(len(shstrtab)), 1)

	return buf.Bytes()
}

func buildNote(buildID []byte) []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }
	w(uint32(4))               // namesz
	w(uint32(len(buildID)))    // descsz
	w(uint32(3))               // type = NT_GNU_BUILD_ID
	buf.WriteString("GNU\x00") // name, already 4-byte aligned
	buf.Write(buildID)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func writeFixture(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.elf")
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenReadsSectionsAndBuildID(t *testing.T) {
	text := bytes.Repeat([]byte{0x90}, 16)
	buildID := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	path := writeFixture(t, buildMinimalELF(t, 0x3e /* EM_X86_64 */, text, buildID))

	bin, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bin.Close()

	if want := "deadbeef01020304"; bin.BuildID != want {
		t.Errorf("BuildID = %q, want %q", bin.BuildID, want)
	}
	if bin.TextLow != 0x401000 || bin.TextHigh != 0x401000+16 {
		t.Errorf("TextLow/TextHigh = %#x/%#x, want 0x401000/0x401010", bin.TextLow, bin.TextHigh)
	}
	if bin.Sections[".text"] == nil {
		t.Fatal("Sections[\".text\"] is nil")
	}
	got, err := bin.SectionData(".text")
	if err != nil {
		t.Fatalf("SectionData(.text): %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Errorf("SectionData(.text) = % x, want % x", got, text)
	}
}

func TestOpenAppliesLoadBias(t *testing.T) {
	path := writeFixture(t, buildMinimalELF(t, 0x3e, []byte{0x90}, []byte{0x01}))
	bin, err := Open(path, 0x7f0000000000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bin.Close()
	if bin.TextLow != 0x7f0000401000 {
		t.Errorf("TextLow = %#x, want 0x7f0000401000 (load bias not applied)", bin.TextLow)
	}
}

func TestOpenRejectsUnsupportedMachine(t *testing.T) {
	path := writeFixture(t, buildMinimalELF(t, 0xb7 /* EM_AARCH64 */, []byte{0x90}, []byte{0x01}))
	if _, err := Open(path, 0); err != ErrUnsupportedMachine {
		t.Errorf("Open with EM_AARCH64 = %v, want ErrUnsupportedMachine", err)
	}
}

func TestDWARFSectionsOmitsAbsentSections(t *testing.T) {
	path := writeFixture(t, buildMinimalELF(t, 0x3e, []byte{0x90}, []byte{0x01}))
	bin, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bin.Close()
	secs := bin.DWARFSections()
	if len(secs) != 0 {
		t.Errorf("DWARFSections() = %v, want empty (fixture has no DWARF sections)", secs)
	}
}

func TestBuildIDDebugPathShape(t *testing.T) {
	path := writeFixture(t, buildMinimalELF(t, 0x3e, []byte{0x90}, []byte{0xab, 0xcd, 0xef}))
	bin, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bin.Close()
	p, err := bin.BuildIDDebugPath()
	if err != nil {
		t.Fatalf("BuildIDDebugPath: %v", err)
	}
	want := filepath.Join("/usr/lib/debug/.build-id", bin.BuildID[:2], bin.BuildID[2:]+".debug")
	if p != want {
		t.Errorf("BuildIDDebugPath() = %q, want %q", p, want)
	}
}
