// Package frame parses DWARF Call Frame Information (in the .debug_frame
// layout; see Parse) and runs the CFI virtual machine to recover, for a given PC,
// the rule set needed to find the caller's registers — the core input to
// pkg/unwind.
//
// Adapted from go-delve/delve's pkg/dwarf/frame package.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/al13n321/nnd/pkg/dwarf/leb128"
)

// CommonInformationEntry is a CIE: the part of CFI shared by a group of
// FDEs (register number conventions, initial instructions, and so on).
type CommonInformationEntry struct {
	Version               uint8
	Augmentation          string
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte
	staticBase            uint64
}

// FrameDescriptionEntry is an FDE: the CFI program covering one function's
// (or contiguous range's) address range.
type FrameDescriptionEntry struct {
	CIE          *CommonInformationEntry
	Instructions []byte
	begin, size  uint64
	order        binary.ByteOrder
}

// Cover reports whether addr falls within this FDE's address range.
func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return addr >= fde.begin && addr-fde.begin < fde.size
}

func (fde *FrameDescriptionEntry) Begin() uint64 { return fde.begin }
func (fde *FrameDescriptionEntry) End() uint64    { return fde.begin + fde.size }

// EstablishFrame runs the CFI program (CIE initial instructions followed
// by the FDE's) up to pc and returns the resulting register rule table.
func (fde *FrameDescriptionEntry) EstablishFrame(pc uint64) *FrameContext {
	return executeDwarfProgramUntilPC(fde, pc)
}

// FrameDescriptionEntries is a sorted-by-address collection of FDEs
// supporting binary search by PC, same shape as an address->line table.
type FrameDescriptionEntries []*FrameDescriptionEntry

// ErrNoFDEForPC is returned when no FDE covers the requested PC — CFI is
// absent for that address (e.g. a PLT stub; see spec.md §9 open question).
type ErrNoFDEForPC struct{ PC uint64 }

func (e *ErrNoFDEForPC) Error() string { return fmt.Sprintf("no CFI entry covers pc %#x", e.PC) }

// FDEForPC finds the FDE covering pc, if any.
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) (*FrameDescriptionEntry, error) {
	idx := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].begin+fdes[i].size > pc
	})
	if idx == len(fdes) || !fdes[idx].Cover(pc) {
		return nil, &ErrNoFDEForPC{pc}
	}
	return fdes[idx], nil
}

// Append merges more into fdes, keeping the whole collection sorted by
// address so FDEForPC's binary search stays valid. Used to combine
// .debug_frame and .eh_frame, which may cover disjoint address ranges
// (spec.md §9 "CFI sources").
func (fdes FrameDescriptionEntries) Append(more FrameDescriptionEntries) FrameDescriptionEntries {
	out := append(fdes, more...)
	sort.Slice(out, func(i, j int) bool { return out[i].begin < out[j].begin })
	return out
}

// Parse decodes a whole .debug_frame section into FDEs. CIEs are consumed
// internally and referenced from their FDEs. Only the .debug_frame layout
// is decoded (CIE id 0xffffffff, absolute FDE addresses, no augmentation
// data); an .eh_frame section, whose CIEs carry id 0, is rejected with an
// error.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	var out FrameDescriptionEntries
	buf := bytes.NewBuffer(data)
	var lastCIE *CommonInformationEntry

	for buf.Len() > 0 {
		startLen := buf.Len()
		var length uint32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		if length == 0 {
			continue
		}
		entryData := buf.Next(int(length))
		if len(entryData) < 4 {
			return nil, fmt.Errorf("dwarf frame: truncated entry")
		}
		id := binary.LittleEndian.Uint32(entryData[:4])
		body := entryData[4:]
		if id == 0xffffffff {
			cie, err := parseCIE(body, staticBase)
			if err != nil {
				return nil, err
			}
			lastCIE = cie
		} else {
			if lastCIE == nil {
				return nil, fmt.Errorf("dwarf frame: FDE without preceding CIE")
			}
			r := bytes.NewReader(body)
			begin, err := readUint(r, ptrSize)
			if err != nil {
				return nil, err
			}
			size, err := readUint(r, ptrSize)
			if err != nil {
				return nil, err
			}
			rest := make([]byte, r.Len())
			r.Read(rest)
			out = append(out, &FrameDescriptionEntry{
				CIE:          lastCIE,
				begin:        begin + staticBase,
				size:         size,
				Instructions: rest,
				order:        order,
			})
		}
		_ = startLen
	}

	sort.Slice(out, func(i, j int) bool { return out[i].begin < out[j].begin })
	return out, nil
}

func parseCIE(data []byte, staticBase uint64) (*CommonInformationEntry, error) {
	buf := bytes.NewBuffer(data)
	version, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}
	aug, err := buf.ReadString(0)
	if err != nil {
		return nil, err
	}
	aug = aug[:len(aug)-1]
	caf, err := leb128.DecodeUnsigned(buf)
	if err != nil {
		return nil, err
	}
	daf, err := leb128.DecodeSigned(buf)
	if err != nil {
		return nil, err
	}
	raReg, err := leb128.DecodeUnsigned(buf)
	if err != nil {
		return nil, err
	}
	return &CommonInformationEntry{
		Version:               version,
		Augmentation:          aug,
		CodeAlignmentFactor:   caf,
		DataAlignmentFactor:   daf,
		ReturnAddressRegister: raReg,
		InitialInstructions:   buf.Bytes(),
		staticBase:            staticBase,
	}, nil
}

func readUint(r *bytes.Reader, sz int) (uint64, error) {
	buf := make([]byte, sz)
	if _, err := r.Read(buf); err != nil {
		return 0, err
	}
	var padded [8]byte
	copy(padded[:], buf)
	return binary.LittleEndian.Uint64(padded[:]), nil
}

// DwarfEndian sniffs the endianness of a .debug_info section, same trick
// stdlib debug/dwarf uses: a small version number stored big endian has
// a zero first byte.
func DwarfEndian(infoSec []byte) binary.ByteOrder {
	if len(infoSec) < 6 {
		return binary.LittleEndian
	}
	if infoSec[4] == 0 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
