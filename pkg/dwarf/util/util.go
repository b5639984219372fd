package util

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBufferUnderflow is returned when a value extends past the end of the
// data being decoded.
var ErrBufferUnderflow = errors.New("buffer underflow")

// The Little Endian Base 128 format is defined in the DWARF v4 standard,
// section 7.6, page 161 and following.

// DecodeULEB128 decodes an unsigned Little Endian Base 128 number at the
// start of data, returning the value and the number of bytes consumed.
func DecodeULEB128(data []byte) (uint64, int, error) {
	var (
		result uint64
		shift  uint
	)
	for i, b := range data {
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, len(data), ErrBufferUnderflow
}

// DecodeSLEB128 decodes a signed Little Endian Base 128 number at the start
// of data, returning the value and the number of bytes consumed.
func DecodeSLEB128(data []byte) (int64, int, error) {
	var (
		result int64
		shift  uint
	)
	for i, b := range data {
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, len(data), ErrBufferUnderflow
}

// EncodeULEB128 encodes x to the unsigned Little Endian Base 128 format
// into out.
func EncodeULEB128(out io.ByteWriter, x uint64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			b |= 0x80
		}
		out.WriteByte(b)
		if x == 0 {
			break
		}
	}
}

// EncodeSLEB128 encodes x to the signed Little Endian Base 128 format
// into out.
func EncodeSLEB128(out io.ByteWriter, x int64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		signb := b & 0x40
		last := (x == 0 && signb == 0) || (x == -1 && signb != 0)
		if !last {
			b |= 0x80
		}
		out.WriteByte(b)
		if last {
			break
		}
	}
}

// WriteUint writes an integer of size bytes to out, in the specified byte order.
func WriteUint(out io.Writer, order binary.ByteOrder, size int, v uint64) error {
	switch size {
	case 1:
		_, err := out.Write([]byte{byte(v)})
		return err
	case 2:
		return binary.Write(out, order, uint16(v))
	case 4:
		return binary.Write(out, order, uint32(v))
	case 8:
		return binary.Write(out, order, v)
	}
	return fmt.Errorf("unsupported integer size %d", size)
}

// Reader decodes a DWARF byte stream. The first error encountered is kept
// and every later read returns a zero value, so callers can decode a whole
// structure and check Err once.
type Reader struct {
	name  string
	order binary.ByteOrder
	data  []byte
	off   int
	err   error
}

// NewReader returns a Reader over data. Name is used in error messages.
func NewReader(name string, order binary.ByteOrder, data []byte) *Reader {
	return &Reader{name: name, order: order, data: data}
}

// Err returns the first error encountered while decoding.
func (r *Reader) Err() error { return r.err }

// Off returns the number of bytes consumed so far.
func (r *Reader) Off() int { return r.off }

// Len returns the number of bytes left.
func (r *Reader) Len() int { return len(r.data) - r.off }

// Order returns the byte order used for fixed size integers.
func (r *Reader) Order() binary.ByteOrder { return r.order }

func (r *Reader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%s at offset %#x: %w", r.name, r.off, fmt.Errorf(format, args...))
	}
	r.off = len(r.data)
}

// Bytes consumes the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Len() {
		r.fail("reading %d bytes: %w", n, ErrBufferUnderflow)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// Skip discards the next n bytes.
func (r *Reader) Skip(n int) { r.Bytes(n) }

// Sub consumes the next n bytes and returns a Reader over them.
func (r *Reader) Sub(name string, n int) *Reader {
	b := r.Bytes(n)
	sub := NewReader(name, r.order, b)
	sub.err = r.err
	return sub
}

func (r *Reader) Uint8() uint8 {
	b := r.Bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.Bytes(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.Bytes(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.Bytes(8)
	if b == nil {
		return 0
	}
	return r.order.Uint64(b)
}

// Uint reads an unsigned integer of size bytes.
func (r *Reader) Uint(size int) uint64 {
	switch size {
	case 1:
		return uint64(r.Uint8())
	case 2:
		return uint64(r.Uint16())
	case 3:
		b := r.Bytes(3)
		if b == nil {
			return 0
		}
		if r.order == binary.BigEndian {
			return uint64(b[0])<<16 | uint64(b[1])<<8 | uint64(b[2])
		}
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	case 4:
		return uint64(r.Uint32())
	case 8:
		return r.Uint64()
	}
	r.fail("unsupported integer size %d", size)
	return 0
}

func (r *Reader) ULEB128() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeULEB128(r.data[r.off:])
	if err != nil {
		r.fail("reading ULEB128: %w", err)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) SLEB128() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := DecodeSLEB128(r.data[r.off:])
	if err != nil {
		r.fail("reading SLEB128: %w", err)
		return 0
	}
	r.off += n
	return v
}

// CString reads a NUL terminated string.
func (r *Reader) CString() string {
	if r.err != nil {
		return ""
	}
	for i := r.off; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := string(r.data[r.off:i])
			r.off = i + 1
			return s
		}
	}
	r.fail("unterminated string: %w", ErrBufferUnderflow)
	return ""
}

// CStringAt returns the NUL terminated string starting at off in data, as
// used by string section references.
func CStringAt(data []byte, off uint64) (string, error) {
	if off >= uint64(len(data)) {
		return "", fmt.Errorf("string offset %#x out of range: %w", off, ErrBufferUnderflow)
	}
	for i := off; i < uint64(len(data)); i++ {
		if data[i] == 0 {
			return string(data[off:i]), nil
		}
	}
	return "", fmt.Errorf("unterminated string at %#x: %w", off, ErrBufferUnderflow)
}
