// Package leb128 decodes the variable-length integer encodings used
// throughout DWARF (LEB128, signed and unsigned).
package leb128

import "io"

// DecodeUnsigned reads an unsigned LEB128 value from r.
func DecodeUnsigned(r io.ByteReader) (uint64, error) {
	var (
		result uint64
		shift  uint
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

// DecodeSigned reads a signed LEB128 value from r.
func DecodeSigned(r io.ByteReader) (int64, error) {
	var (
		result int64
		shift  uint
		b      byte
		err    error
	)
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}
