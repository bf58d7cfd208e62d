package model

import "testing"

func TestVariableLengthEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		l int
		e []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	var ve []byte
	for _, tt := range tests {
		ve = VariableLengthEncode(ve[:0], tt.l)
		if len(ve) != len(tt.e) {
			t.Fatal(tt.l, ve)
		}
		for i, b := range ve {
			if b != tt.e[i] {
				t.Fatal(tt.l, ve)
			}
		}
		if n := LengthToNumberOfVariableLengthBytes(tt.l); n != len(tt.e) {
			t.Fatal(tt.l, n)
		}
	}
}

func TestVariableLengthRoundTrip(t *testing.T) {
	t.Parallel()

	check := func(l int) {
		ve := VariableLengthEncode(nil, l)
		got, n, err := VariableLengthDecode(ve)
		if err != nil {
			t.Fatal(l, err)
		}
		if got != l || n != len(ve) {
			t.Fatalf("length %d decoded as %d using %d bytes", l, got, n)
		}
	}

	for l := 0; l < 1<<15; l++ {
		check(l)
	}
	for l := 1 << 15; l <= MaxRemainingLength; l += 7919 {
		check(l)
	}
	check(MaxRemainingLength)
}

func TestVariableLengthDecodeFifthByte(t *testing.T) {
	t.Parallel()

	if _, _, err := VariableLengthDecode([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}); err != ErrRemainingLength {
		t.Fatal("expected framing error for 5 byte remaining length, got", err)
	}
	if _, _, err := VariableLengthDecode([]byte{0x80}); err != ErrRemainingLength {
		t.Fatal("expected error for truncated remaining length, got", err)
	}
}

func TestTypeHasPacketID(t *testing.T) {
	t.Parallel()

	with := map[Type]bool{
		PUBLISH: true, PUBACK: true, PUBREC: true, PUBREL: true, PUBCOMP: true,
		SUBSCRIBE: true, SUBACK: true, UNSUBSCRIBE: true, UNSUBACK: true,
	}
	for pt := Reserved; pt <= DISCONNECT; pt++ {
		if pt.HasPacketID() != with[pt] {
			t.Fatal(pt)
		}
	}
	if Reserved.Valid() || !CONNECT.Valid() || Type(15).Valid() {
		t.Fatal("Valid")
	}
}
