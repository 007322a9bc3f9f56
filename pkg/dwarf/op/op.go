// Package op implements the DWARF stack-machine expression evaluator
// ("location expressions" in spec terms). It is used both for simple
// constant expressions (global variable addresses, frame base) and,
// driven by pkg/dwarf/frame, for the call-frame-information virtual
// machine's DW_CFA_expression operand.
//
// Adapted from the expression evaluator in go-delve/delve's
// pkg/dwarf/op, trimmed to the opcode set that nnd's amd64-only,
// ELF/DWARF-only scope needs.
package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/al13n321/nnd/pkg/dwarf/leb128"
)

// Opcode is a single DWARF stack program instruction.
type Opcode byte

const (
	DW_OP_addr        Opcode = 0x03
	DW_OP_deref       Opcode = 0x06
	DW_OP_const1u     Opcode = 0x08
	DW_OP_const1s     Opcode = 0x09
	DW_OP_const2u     Opcode = 0x0a
	DW_OP_const2s     Opcode = 0x0b
	DW_OP_const4u     Opcode = 0x0c
	DW_OP_const4s     Opcode = 0x0d
	DW_OP_const8u     Opcode = 0x0e
	DW_OP_const8s     Opcode = 0x0f
	DW_OP_constu      Opcode = 0x10
	DW_OP_consts      Opcode = 0x11
	DW_OP_dup         Opcode = 0x12
	DW_OP_drop        Opcode = 0x13
	DW_OP_over        Opcode = 0x14
	DW_OP_pick        Opcode = 0x15
	DW_OP_swap        Opcode = 0x16
	DW_OP_rot         Opcode = 0x17
	DW_OP_abs         Opcode = 0x19
	DW_OP_and         Opcode = 0x1a
	DW_OP_div         Opcode = 0x1b
	DW_OP_minus       Opcode = 0x1c
	DW_OP_mod         Opcode = 0x1d
	DW_OP_mul         Opcode = 0x1e
	DW_OP_neg         Opcode = 0x1f
	DW_OP_not         Opcode = 0x20
	DW_OP_or          Opcode = 0x21
	DW_OP_plus        Opcode = 0x22
	DW_OP_plus_uconst Opcode = 0x23
	DW_OP_shl         Opcode = 0x24
	DW_OP_shr         Opcode = 0x25
	DW_OP_shra        Opcode = 0x26
	DW_OP_xor         Opcode = 0x27
	DW_OP_eq          Opcode = 0x29
	DW_OP_ge          Opcode = 0x2a
	DW_OP_gt          Opcode = 0x2b
	DW_OP_le          Opcode = 0x2c
	DW_OP_lt          Opcode = 0x2d
	DW_OP_ne          Opcode = 0x2e
	DW_OP_lit0        Opcode = 0x30
	DW_OP_lit31       Opcode = 0x4f
	DW_OP_reg0        Opcode = 0x50
	DW_OP_reg31       Opcode = 0x6f
	DW_OP_breg0       Opcode = 0x70
	DW_OP_breg31      Opcode = 0x8f
	DW_OP_regx        Opcode = 0x90
	DW_OP_fbreg       Opcode = 0x91
	DW_OP_bregx       Opcode = 0x92
	DW_OP_piece       Opcode = 0x93
	DW_OP_deref_size  Opcode = 0x94
	DW_OP_nop         Opcode = 0x96
	DW_OP_call_frame_cfa Opcode = 0x9c
	DW_OP_bit_piece   Opcode = 0x9d
	DW_OP_implicit_value Opcode = 0x9e
	DW_OP_stack_value Opcode = 0x9f
	DW_OP_addrx       Opcode = 0xa1
)

// Piece describes one fragment of a composite location: either a span of
// memory, the whole of a register, or an implicit (not-in-memory) value.
type Piece struct {
	Size       int
	Addr       int64
	RegNum     uint64
	IsRegister bool
	Implicit   []byte
}

type context struct {
	buf     *bytes.Reader
	stack   []int64
	pieces  []Piece
	inReg   bool
	stackValue bool
	ptrSize int

	Registers
}

// ExecuteStackProgram runs a DWARF location expression. ReadMemory is
// used to service DW_OP_deref*; it may be nil if the expression is known
// not to dereference (constant expressions).
func ExecuteStackProgram(regs Registers, instructions []byte, ptrSize int, readMemory func(addr uint64, out []byte) error) (int64, []Piece, error) {
	ctxt := &context{
		buf:       bytes.NewReader(instructions),
		stack:     make([]int64, 0, 4),
		Registers: regs,
		ptrSize:   ptrSize,
	}

	for {
		opcodeByte, err := ctxt.buf.ReadByte()
		if err != nil {
			break
		}
		opcode := Opcode(opcodeByte)
		if err := ctxt.step(opcode, readMemory); err != nil {
			return 0, nil, err
		}
	}

	if ctxt.pieces != nil {
		return 0, ctxt.pieces, nil
	}
	if len(ctxt.stack) == 0 {
		return 0, nil, errors.New("dwarf expression: empty stack at end of program")
	}
	return ctxt.stack[len(ctxt.stack)-1], nil, nil
}

func (c *context) push(v int64) { c.stack = append(c.stack, v) }

func (c *context) pop() (int64, error) {
	n := len(c.stack)
	if n == 0 {
		return 0, errors.New("dwarf expression: stack underflow")
	}
	v := c.stack[n-1]
	c.stack = c.stack[:n-1]
	return v, nil
}

func (c *context) step(opcode Opcode, readMemory func(uint64, []byte) error) error {
	switch {
	case opcode >= DW_OP_lit0 && opcode <= DW_OP_lit31:
		c.push(int64(opcode - DW_OP_lit0))
		return nil
	case opcode >= DW_OP_reg0 && opcode <= DW_OP_reg31:
		c.pieces = append(c.pieces, Piece{IsRegister: true, RegNum: uint64(opcode - DW_OP_reg0)})
		c.inReg = true
		return nil
	case opcode >= DW_OP_breg0 && opcode <= DW_OP_breg31:
		off, err := leb128.DecodeSigned(c.buf)
		if err != nil {
			return err
		}
		c.push(int64(c.Uint64Val(uint64(opcode-DW_OP_breg0))) + off)
		return nil
	}

	switch opcode {
	case DW_OP_addr:
		var raw [8]byte
		n, err := c.buf.Read(raw[:c.ptrSize])
		if err != nil || n != c.ptrSize {
			return fmt.Errorf("dwarf expression: short read in DW_OP_addr")
		}
		v := readUint(raw[:n])
		c.push(int64(v + c.StaticBase()))
	case DW_OP_const1u:
		b, err := c.buf.ReadByte()
		if err != nil {
			return err
		}
		c.push(int64(b))
	case DW_OP_const1s:
		b, err := c.buf.ReadByte()
		if err != nil {
			return err
		}
		c.push(int64(int8(b)))
	case DW_OP_const2u, DW_OP_const2s, DW_OP_const4u, DW_OP_const4s, DW_OP_const8u, DW_OP_const8s:
		sz := map[Opcode]int{DW_OP_const2u: 2, DW_OP_const2s: 2, DW_OP_const4u: 4, DW_OP_const4s: 4, DW_OP_const8u: 8, DW_OP_const8s: 8}[opcode]
		buf := make([]byte, sz)
		if _, err := c.buf.Read(buf); err != nil {
			return err
		}
		v := readUint(buf)
		switch opcode {
		case DW_OP_const2s:
			v = uint64(int64(int16(v)))
		case DW_OP_const4s:
			v = uint64(int64(int32(v)))
		}
		c.push(int64(v))
	case DW_OP_constu:
		v, err := leb128.DecodeUnsigned(c.buf)
		if err != nil {
			return err
		}
		c.push(int64(v))
	case DW_OP_consts:
		v, err := leb128.DecodeSigned(c.buf)
		if err != nil {
			return err
		}
		c.push(v)
	case DW_OP_dup:
		v, err := c.pop()
		if err != nil {
			return err
		}
		c.push(v)
		c.push(v)
	case DW_OP_drop:
		_, err := c.pop()
		return err
	case DW_OP_swap:
		a, err := c.pop()
		if err != nil {
			return err
		}
		b, err := c.pop()
		if err != nil {
			return err
		}
		c.push(a)
		c.push(b)
	case DW_OP_plus, DW_OP_minus, DW_OP_mul, DW_OP_div, DW_OP_mod, DW_OP_and, DW_OP_or, DW_OP_xor, DW_OP_shl, DW_OP_shr, DW_OP_shra,
		DW_OP_eq, DW_OP_ge, DW_OP_gt, DW_OP_le, DW_OP_lt, DW_OP_ne:
		b, err := c.pop()
		if err != nil {
			return err
		}
		a, err := c.pop()
		if err != nil {
			return err
		}
		c.push(binop(opcode, a, b))
	case DW_OP_plus_uconst:
		v, err := leb128.DecodeUnsigned(c.buf)
		if err != nil {
			return err
		}
		a, err := c.pop()
		if err != nil {
			return err
		}
		c.push(a + int64(v))
	case DW_OP_neg:
		a, err := c.pop()
		if err != nil {
			return err
		}
		c.push(-a)
	case DW_OP_abs:
		a, err := c.pop()
		if err != nil {
			return err
		}
		if a < 0 {
			a = -a
		}
		c.push(a)
	case DW_OP_not:
		a, err := c.pop()
		if err != nil {
			return err
		}
		c.push(^a)
	case DW_OP_fbreg:
		off, err := leb128.DecodeSigned(c.buf)
		if err != nil {
			return err
		}
		c.push(c.FrameBase() + off)
	case DW_OP_call_frame_cfa:
		cfa, ok := c.CFA()
		if !ok {
			return errors.New("dwarf expression: DW_OP_call_frame_cfa without a known CFA")
		}
		c.push(cfa)
	case DW_OP_regx:
		n, err := leb128.DecodeUnsigned(c.buf)
		if err != nil {
			return err
		}
		c.pieces = append(c.pieces, Piece{IsRegister: true, RegNum: n})
		c.inReg = true
	case DW_OP_bregx:
		regn, err := leb128.DecodeUnsigned(c.buf)
		if err != nil {
			return err
		}
		off, err := leb128.DecodeSigned(c.buf)
		if err != nil {
			return err
		}
		c.push(int64(c.Uint64Val(regn)) + off)
	case DW_OP_deref, DW_OP_deref_size:
		sz := c.ptrSize
		if opcode == DW_OP_deref_size {
			b, err := c.buf.ReadByte()
			if err != nil {
				return err
			}
			sz = int(b)
		}
		addr, err := c.pop()
		if err != nil {
			return err
		}
		if readMemory == nil {
			return errors.New("dwarf expression: DW_OP_deref requires memory access")
		}
		buf := make([]byte, sz)
		if err := readMemory(uint64(addr), buf); err != nil {
			return err
		}
		c.push(int64(readUint(buf)))
	case DW_OP_piece:
		sz, err := leb128.DecodeUnsigned(c.buf)
		if err != nil {
			return err
		}
		if c.inReg {
			c.inReg = false
			c.pieces[len(c.pieces)-1].Size = int(sz)
			return nil
		}
		addr, err := c.pop()
		if err != nil {
			return err
		}
		c.pieces = append(c.pieces, Piece{Size: int(sz), Addr: addr})
	case DW_OP_bit_piece:
		if _, err := leb128.DecodeUnsigned(c.buf); err != nil {
			return err
		}
		if _, err := leb128.DecodeUnsigned(c.buf); err != nil {
			return err
		}
	case DW_OP_implicit_value:
		n, err := leb128.DecodeUnsigned(c.buf)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := c.buf.Read(buf); err != nil {
			return err
		}
		c.pieces = append(c.pieces, Piece{Implicit: buf, Size: int(n)})
	case DW_OP_stack_value:
		c.stackValue = true
	case DW_OP_nop:
		// no-op
	default:
		return fmt.Errorf("dwarf expression: unsupported opcode %#x", opcode)
	}
	return nil
}

func binop(op Opcode, a, b int64) int64 {
	switch op {
	case DW_OP_plus:
		return a + b
	case DW_OP_minus:
		return a - b
	case DW_OP_mul:
		return a * b
	case DW_OP_div:
		if b == 0 {
			return 0
		}
		return a / b
	case DW_OP_mod:
		if b == 0 {
			return 0
		}
		return a % b
	case DW_OP_and:
		return a & b
	case DW_OP_or:
		return a | b
	case DW_OP_xor:
		return a ^ b
	case DW_OP_shl:
		return a << uint(b)
	case DW_OP_shr:
		return int64(uint64(a) >> uint(b))
	case DW_OP_shra:
		return a >> uint(b)
	case DW_OP_eq:
		return boolToInt(a == b)
	case DW_OP_ge:
		return boolToInt(a >= b)
	case DW_OP_gt:
		return boolToInt(a > b)
	case DW_OP_le:
		return boolToInt(a <= b)
	case DW_OP_lt:
		return boolToInt(a < b)
	case DW_OP_ne:
		return boolToInt(a != b)
	}
	return 0
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func readUint(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}
