package leb128

import (
	"bytes"
	"testing"
)

func TestDecodeUnsigned(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x02}, 2},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485}, // the canonical DWARF spec example
	}
	for _, c := range cases {
		got, err := DecodeUnsigned(bytes.NewReader(c.bytes))
		if err != nil {
			t.Errorf("DecodeUnsigned(% x): %v", c.bytes, err)
			continue
		}
		if got != c.want {
			t.Errorf("DecodeUnsigned(% x) = %d, want %d", c.bytes, got, c.want)
		}
	}
}

func TestDecodeSigned(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x02}, 2},
		{[]byte{0x7e}, -2},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x9b, 0xf1, 0x59}, -624485}, // the canonical DWARF spec example, negated
	}
	for _, c := range cases {
		got, err := DecodeSigned(bytes.NewReader(c.bytes))
		if err != nil {
			t.Errorf("DecodeSigned(% x): %v", c.bytes, err)
			continue
		}
		if got != c.want {
			t.Errorf("DecodeSigned(% x) = %d, want %d", c.bytes, got, c.want)
		}
	}
}

func TestDecodeUnsignedStopsAtReaderEOF(t *testing.T) {
	// A continuation byte with nothing after it is a malformed encoding;
	// the decoder must report the underlying read error rather than
	// silently returning a truncated value.
	if _, err := DecodeUnsigned(bytes.NewReader([]byte{0x80})); err == nil {
		t.Error("expected an error decoding a truncated LEB128 value, got nil")
	}
}

// leb128 round-trip check via a hand-encoder, covering values DWARF
// producers commonly emit for offsets (small magnitudes, both signs).
func encodeSigned(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBit := b&0x40 != 0
		done := (v == 0 && !signBit) || (v == -1 && signBit)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			break
		}
	}
	return out
}

func TestDecodeSignedRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 64, -65, 1000, -1000, 1 << 20, -(1 << 20)} {
		got, err := DecodeSigned(bytes.NewReader(encodeSigned(v)))
		if err != nil {
			t.Fatalf("DecodeSigned(encodeSigned(%d)): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip of %d produced %d", v, got)
		}
	}
}
