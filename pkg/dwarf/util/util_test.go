package util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeULEB128(t *testing.T) {
	n, c, err := DecodeULEB128([]byte{0xE5, 0x8E, 0x26, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if n != 624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
	if c != 3 {
		t.Fatal("Count not returned correctly")
	}
}

func TestDecodeSLEB128(t *testing.T) {
	n, c, err := DecodeSLEB128([]byte{0x9b, 0xf1, 0x59})
	if err != nil {
		t.Fatal(err)
	}
	if n != -624485 || c != 3 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, _, err := DecodeULEB128([]byte{0x80, 0x80}); !errors.Is(err, ErrBufferUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}
	if _, _, err := DecodeSLEB128(nil); !errors.Is(err, ErrBufferUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}
}

func TestEncodeULEB128(t *testing.T) {
	tc := []uint64{0x00, 0x7f, 0x80, 0x8f, 0xffff, 0xfffffff7}
	for i := range tc {
		var buf bytes.Buffer
		EncodeULEB128(&buf, tc[i])
		enc := append([]byte{}, buf.Bytes()...)
		buf.Write([]byte{0x1, 0x2, 0x3})
		out, c, err := DecodeULEB128(buf.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if c != len(enc) || out != tc[i] {
			t.Errorf("input %x output %x encoded %x", tc[i], out, enc)
		}
	}
}

func TestEncodeSLEB128(t *testing.T) {
	tc := []int64{2, -2, 127, -127, 128, -128, 129, -129}
	for i := range tc {
		var buf bytes.Buffer
		EncodeSLEB128(&buf, tc[i])
		enc := append([]byte{}, buf.Bytes()...)
		buf.Write([]byte{0x1, 0x2, 0x3})
		out, c, err := DecodeSLEB128(buf.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if c != len(enc) || out != tc[i] {
			t.Errorf("input %x output %x encoded %x", tc[i], out, enc)
		}
	}
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader("test", binary.LittleEndian, []byte{0x01, 0x02, 0x03, 'h', 'i', 0, 0x05})
	if v := r.Uint16(); v != 0x0201 {
		t.Errorf("Uint16: got %#x", v)
	}
	if v := r.Uint8(); v != 3 {
		t.Errorf("Uint8: got %#x", v)
	}
	if s := r.CString(); s != "hi" {
		t.Errorf("CString: got %q", s)
	}
	if v := r.Uint32(); v != 0 {
		t.Errorf("Uint32 past end: got %#x", v)
	}
	if !errors.Is(r.Err(), ErrBufferUnderflow) {
		t.Fatalf("expected underflow, got %v", r.Err())
	}
	if v := r.ULEB128(); v != 0 || r.Len() != 0 {
		t.Errorf("reads after an error must return zero, got %#x (len %d)", v, r.Len())
	}
}

func TestCStringAt(t *testing.T) {
	data := []byte("abc\x00def\x00")
	s, err := CStringAt(data, 4)
	if err != nil || s != "def" {
		t.Errorf("got %q %v", s, err)
	}
	if _, err := CStringAt(data, 100); err == nil {
		t.Errorf("expected error for out of range offset")
	}
}
