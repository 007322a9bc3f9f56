// Package elfbin is nnd's ELF reader (spec.md §2 "ELF reader" row and §3
// "Binary"). It parses section and segment tables, exposes section bytes
// (transparently decompressing SHF_COMPRESSED and legacy .zdebug_*
// sections), the symbol table, and the build-id, plus resolution of a
// separate debug file via .gnu_debuglink or the build-id directory
// convention.
//
// Grounded on go-delve/delve's pkg/proc BinaryInfo.LoadBinaryInfoElf,
// which opens the executable with debug/elf and pulls debug sections out
// of it; elfbin generalizes that into a standalone, reusable type. No
// third-party ELF library exists anywhere in the retrieved corpus (every
// example that reads ELF — including DataDog's agent — uses debug/elf),
// so this is the one place nnd leans on the standard library for a
// concern spec.md assigns real weight to: there is no idiomatic
// alternative to reach for.
package elfbin

import (
	"bytes"
	"compress/zlib"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Binary is an opened ELF executable, per spec.md §3 "Binary".
type Binary struct {
	Path      string
	BuildID   string
	LoadBias  uint64
	TextLow   uint64
	TextHigh  uint64
	Sections  map[string]*elf.Section
	Symbols   []elf.Symbol
	Machine   elf.Machine

	file   *elf.File
	closer io.Closer

	// SeparateDebug is set when a .gnu_debuglink or build-id directory
	// match was found and opened; its sections take priority for
	// .debug_* lookups (Section transparently prefers them).
	SeparateDebug *Binary
}

var ErrUnsupportedMachine = errors.New("elfbin: only EM_X86_64 is supported")

// Open parses path as an ELF64 executable. loadBias is the runtime load
// address of segment 0 (0 for non-PIE executables, or the value reported
// by /proc/<pid>/maps for PIE binaries and shared objects).
func Open(path string, loadBias uint64) (*Binary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfbin: %w", err)
	}
	if ef.Machine != elf.EM_X86_64 {
		f.Close()
		return nil, ErrUnsupportedMachine
	}
	b := &Binary{
		Path:     path,
		LoadBias: loadBias,
		Machine:  ef.Machine,
		Sections: map[string]*elf.Section{},
		file:     ef,
		closer:   f,
	}
	for _, s := range ef.Sections {
		b.Sections[s.Name] = s
	}
	if text := ef.Section(".text"); text != nil {
		b.TextLow = text.Addr + loadBias
		b.TextHigh = b.TextLow + text.Size
	}
	if syms, err := ef.Symbols(); err == nil {
		b.Symbols = syms
	}
	b.BuildID = readBuildID(ef)
	return b, nil
}

// Close releases the underlying file descriptor(s), including any
// separate debug file that was opened alongside.
func (b *Binary) Close() error {
	if b.SeparateDebug != nil {
		b.SeparateDebug.Close()
	}
	return b.closer.Close()
}

// SectionData returns the (decompressed) bytes of section name, checking
// the separate debug file first when one is attached, matching how
// objdump/gdb prefer split debuginfo over the stripped main binary.
func (b *Binary) SectionData(name string) ([]byte, error) {
	if b.SeparateDebug != nil {
		if data, err := b.SeparateDebug.SectionData(name); err == nil {
			return data, nil
		}
	}
	sec := b.Sections[name]
	if sec == nil {
		// Legacy zlib-compressed debug sections are prefixed with 'z'
		// instead of using the SHF_COMPRESSED flag.
		if zsec := b.Sections[".z"+name[1:]]; name != "" && name[0] == '.' && zsec != nil {
			return decodeZdebug(zsec)
		}
		return nil, fmt.Errorf("elfbin: no section %q", name)
	}
	// elf.Section.Data() already transparently decompresses
	// SHF_COMPRESSED sections as of Go 1.13+.
	return sec.Data()
}

func decodeZdebug(sec *elf.Section) ([]byte, error) {
	raw, err := sec.Data()
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 || string(raw[:4]) != "ZLIB" {
		return raw, nil
	}
	size := binary.BigEndian.Uint64(raw[4:12])
	zr, err := zlib.NewReader(bytes.NewReader(raw[12:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out, nil
}

// DWARFSections returns the classic set of raw (decompressed) DWARF
// section bytes used across pkg/dwarf/*, omitting ones that are absent
// (nil, not an error — CFI and loclists are optional per spec.md §6).
func (b *Binary) DWARFSections() map[string][]byte {
	names := []string{".debug_info", ".debug_abbrev", ".debug_str", ".debug_line",
		".debug_frame", ".eh_frame", ".debug_loc", ".debug_loclists",
		".debug_ranges", ".debug_rnglists", ".debug_str_offsets", ".debug_addr", ".debug_line_str"}
	out := map[string][]byte{}
	for _, n := range names {
		if data, err := b.SectionData(n); err == nil {
			out[n] = data
		}
	}
	return out
}

// readBuildID extracts the contents of .note.gnu.build-id, formatted as
// the lowercase hex string used by the build-id debug-file convention
// (spec.md §6).
func readBuildID(ef *elf.File) string {
	sec := ef.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil {
		return ""
	}
	for len(data) >= 12 {
		nameSz := binary.LittleEndian.Uint32(data[0:4])
		descSz := binary.LittleEndian.Uint32(data[4:8])
		typ := binary.LittleEndian.Uint32(data[8:12])
		off := 12
		nameEnd := off + align4(int(nameSz))
		descEnd := nameEnd + align4(int(descSz))
		if descEnd > len(data) {
			break
		}
		name := data[off : off+int(nameSz)]
		desc := data[nameEnd : nameEnd+int(descSz)]
		if typ == 3 && len(name) > 0 && name[0] == 'G' { // NT_GNU_BUILD_ID, "GNU\x00"
			return hex.EncodeToString(desc)
		}
		data = data[descEnd:]
	}
	return ""
}

func align4(n int) int { return (n + 3) &^ 3 }

// debuglinkPath resolves a .gnu_debuglink reference relative to the
// binary's own directory.
func (b *Binary) debuglinkPath() (string, error) {
	sec := b.Sections[".gnu_debuglink"]
	if sec == nil {
		return "", errors.New("elfbin: no .gnu_debuglink section")
	}
	data, err := sec.Data()
	if err != nil {
		return "", err
	}
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		i = len(data)
	}
	return filepath.Join(filepath.Dir(b.Path), string(data[:i])), nil
}

// BuildIDDebugPath returns the canonical path under
// /usr/lib/debug/.build-id/<xx>/<rest>.debug for this binary's build-id,
// as named in spec.md §6.
func (b *Binary) BuildIDDebugPath() (string, error) {
	if len(b.BuildID) < 3 {
		return "", errors.New("elfbin: no usable build-id")
	}
	return filepath.Join("/usr/lib/debug/.build-id", b.BuildID[:2], b.BuildID[2:]+".debug"), nil
}

// AttachSeparateDebug opens path as this binary's separate debug file
// (already resolved via .gnu_debuglink or build-id) and attaches it so
// subsequent SectionData calls prefer it.
func (b *Binary) AttachSeparateDebug(path string) error {
	dbg, err := Open(path, b.LoadBias)
	if err != nil {
		return err
	}
	b.SeparateDebug = dbg
	return nil
}

// ResolveSeparateDebug tries, in order: .gnu_debuglink next to the
// binary, then the build-id directory convention. It is non-fatal for
// the caller to ignore a failure here — symbol errors degrade gracefully
// per spec.md §7.
func (b *Binary) ResolveSeparateDebug() error {
	if p, err := b.debuglinkPath(); err == nil {
		if _, statErr := os.Stat(p); statErr == nil {
			return b.AttachSeparateDebug(p)
		}
	}
	if p, err := b.BuildIDDebugPath(); err == nil {
		if _, statErr := os.Stat(p); statErr == nil {
			return b.AttachSeparateDebug(p)
		}
	}
	return errors.New("elfbin: no separate debug file found")
}
