package txbuilder

import "testing"

func TestEncodeCompactU16OneByteForm(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
	}
	for _, c := range cases {
		got, err := EncodeCompactU16(nil, c.n)
		if err != nil {
			t.Fatalf("n=%d: %v", c.n, err)
		}
		if string(got) != string(c.want) {
			t.Fatalf("n=%d: got %x, want %x", c.n, got, c.want)
		}
	}
}

func TestEncodeCompactU16TwoByteForm(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
	}
	for _, c := range cases {
		got, err := EncodeCompactU16(nil, c.n)
		if err != nil {
			t.Fatalf("n=%d: %v", c.n, err)
		}
		if string(got) != string(c.want) {
			t.Fatalf("n=%d: got %x, want %x", c.n, got, c.want)
		}
	}
}

func TestEncodeCompactU16RejectsOutOfRange(t *testing.T) {
	if _, err := EncodeCompactU16(nil, 0x4000); err == nil {
		t.Fatal("expected error for n == 0x4000, got nil")
	}
	if _, err := EncodeCompactU16(nil, -1); err == nil {
		t.Fatal("expected error for negative n, got nil")
	}
}

func TestCompactU16RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 42, 127, 128, 200, 4000, 16383} {
		encoded, err := EncodeCompactU16(nil, n)
		if err != nil {
			t.Fatalf("encode n=%d: %v", n, err)
		}
		decoded, consumed, err := DecodeCompactU16(encoded)
		if err != nil {
			t.Fatalf("decode n=%d: %v", n, err)
		}
		if decoded != n {
			t.Fatalf("round-trip n=%d: got %d", n, decoded)
		}
		if consumed != len(encoded) {
			t.Fatalf("n=%d: consumed %d, want %d", n, consumed, len(encoded))
		}
	}
}

func TestDecodeCompactU16TruncatedTwoByteForm(t *testing.T) {
	if _, _, err := DecodeCompactU16([]byte{0x80}); err == nil {
		t.Fatal("expected error for truncated two-byte form, got nil")
	}
}
