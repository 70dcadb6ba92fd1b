package zmodem

import (
	"bytes"
	"testing"
)

// TestZDLERoundTripFullAlphabet escapes every possible byte value and
// confirms the unescaper recovers it, covering the bytes escape.go treats
// specially (ZDLE, XON, XOFF and their high-bit variants) alongside
// ordinary data.
func TestZDLERoundTripFullAlphabet(t *testing.T) {
	var buf bytes.Buffer
	esc := newZDLEEscaper(&buf, false)
	for i := 0; i < 256; i++ {
		if err := esc.WriteByte(byte(i)); err != nil {
			t.Fatalf("WriteByte(%#02x): %v", i, err)
		}
	}

	un := newZDLEUnescaper(&buf)
	for i := 0; i < 256; i++ {
		v, err := un.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte at index %d: %v", i, err)
		}
		if v != i {
			t.Errorf("byte %d round-tripped as %#02x, want %#02x", i, v, i)
		}
	}
}

// TestZDLERoundTripControlEscaping exercises escapeCtrl=true, where every
// control character is always escaped rather than passed through.
func TestZDLERoundTripControlEscaping(t *testing.T) {
	var buf bytes.Buffer
	esc := newZDLEEscaper(&buf, true)
	payload := []byte{0x00, 0x01, 0x0D, 0x7F, 'h', 'i', 'j', 'k', ZDLE, XON, XOFF}
	if _, err := esc.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	un := newZDLEUnescaper(&buf)
	for i, want := range payload {
		v, err := un.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte at index %d: %v", i, err)
		}
		if byte(v) != want {
			t.Errorf("byte %d round-tripped as %#02x, want %#02x", i, v, want)
		}
	}
}

// TestZDLEEscapesDLE confirms 0x10/0x90 (DLE and its high-bit variant)
// are always ZDLE-escaped on the wire, not passed through raw.
func TestZDLEEscapesDLE(t *testing.T) {
	for _, b := range []byte{0x10, 0x90} {
		var buf bytes.Buffer
		esc := newZDLEEscaper(&buf, false)
		if err := esc.WriteByte(b); err != nil {
			t.Fatalf("WriteByte(%#02x): %v", b, err)
		}
		raw := buf.Bytes()
		if len(raw) != 2 || raw[0] != ZDLE || raw[1] != b^0x40 {
			t.Errorf("WriteByte(%#02x) wrote %#v, want ZDLE-escaped pair", b, raw)
		}
	}
}

func TestZDLEUnescaperCANSentinel(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(ZDLE)
	for i := 0; i < 5; i++ {
		buf.WriteByte(CAN)
	}

	un := newZDLEUnescaper(&buf)
	v, err := un.ReadByte()
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if v != GOTCAN {
		t.Errorf("got %#x, want GOTCAN", v)
	}
}

func TestZDLEUnescaperTerminatorSentinels(t *testing.T) {
	cases := []struct {
		terminator byte
		want       int
	}{
		{ZCRCE, GOTCRCE},
		{ZCRCG, GOTCRCG},
		{ZCRCQ, GOTCRCQ},
		{ZCRCW, GOTCRCW},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		buf.Write([]byte{ZDLE, tc.terminator})
		un := newZDLEUnescaper(&buf)
		v, err := un.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte(%#02x): %v", tc.terminator, err)
		}
		if v != tc.want {
			t.Errorf("terminator %#02x decoded as %#x, want %#x", tc.terminator, v, tc.want)
		}
	}
}
