package coreapi

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// X86Disassembler is the one concrete Disassembler this repo ships,
// backed by golang.org/x/arch/x86/x86asm (spec.md §2's "external disassembler"
// collaborator, SPEC_FULL.md §11 domain stack).
type X86Disassembler struct{}

func (X86Disassembler) Disassemble(code []byte, pc uint64) (Instruction, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf("coreapi: decoding instruction at %#x: %w", pc, err)
	}
	return Instruction{
		PC:     pc,
		Length: inst.Len,
		Text:   x86asm.GNUSyntax(inst, pc, nil),
		Bytes:  append([]byte(nil), code[:inst.Len]...),
	}, nil
}

func (d X86Disassembler) DisassembleRange(code []byte, startPC uint64) ([]Instruction, error) {
	var out []Instruction
	pc := startPC
	for len(code) > 0 {
		inst, err := d.Disassemble(code, pc)
		if err != nil {
			// Stop at the first undecodable instruction rather than
			// failing the whole range; callers display what decoded.
			break
		}
		out = append(out, inst)
		code = code[inst.Length:]
		pc += uint64(inst.Length)
	}
	return out, nil
}

var _ Disassembler = X86Disassembler{}
