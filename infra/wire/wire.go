// Package wire holds the low-level primitives used by the history codec:
// unsigned varints, zigzag signed integers, length-prefixed strings and
// blobs, and the presence bitmap for optional fields.
//
// Encoding is append-only into a caller owned buffer, decoding is a
// cursor over an immutable byte slice with a sticky error, so a variant
// decoder can read all of its fields and check Err once at the end.
package wire

import (
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrMalformed = errors.New("wire: malformed input")
	ErrTruncated = errors.New("wire: truncated input")
)

// Bitmap records which optional fields of a body are present.
// Bit i corresponds to the i-th optional field in declared order.
type Bitmap uint64

func (b Bitmap) Has(bit uint) bool { return b&(1<<bit) != 0 }

func (b Bitmap) With(bit uint) Bitmap { return b | 1<<bit }

// Encoder appends primitives to a byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf[:0]}
}

func (e *Encoder) Reset() { e.buf = e.buf[:0] }

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) Uvarint(v uint64) {
	e.buf = protowire.AppendVarint(e.buf, v)
}

// Varint writes a signed integer using zigzag so small negatives stay small.
func (e *Encoder) Varint(v int64) {
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uvarint(1)
		return
	}
	e.Uvarint(0)
}

func (e *Encoder) String(s string) {
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *Encoder) Blob(b []byte) {
	e.buf = protowire.AppendBytes(e.buf, b)
}

func (e *Encoder) Bitmap(b Bitmap) {
	e.Uvarint(uint64(b))
}

// Decoder reads primitives from an immutable byte slice. The first
// failure is sticky: later reads return zero values and Err reports it.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) Offset() int { return d.off }

func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) fail(n int, what string) {
	if d.err != nil {
		return
	}
	perr := protowire.ParseError(n)
	if errors.Is(perr, io.ErrUnexpectedEOF) {
		d.err = fmt.Errorf("%w: %s at offset %d: %v", ErrTruncated, what, d.off, perr)
		return
	}
	d.err = fmt.Errorf("%w: %s at offset %d: %v", ErrMalformed, what, d.off, perr)
}

func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf[d.off:])
	if n < 0 {
		d.fail(n, "varint")
		return 0
	}
	d.off += n
	return v
}

func (d *Decoder) Varint() int64 {
	return protowire.DecodeZigZag(d.Uvarint())
}

// Int32 reads a zigzag varint and rejects values outside the int32 range.
func (d *Decoder) Int32() int32 {
	v := d.Varint()
	if d.err == nil && (v < -1<<31 || v > 1<<31-1) {
		d.err = fmt.Errorf("%w: int32 out of range at offset %d", ErrMalformed, d.off)
		return 0
	}
	return int32(v)
}

func (d *Decoder) Bool() bool {
	v := d.Uvarint()
	if d.err == nil && v > 1 {
		d.err = fmt.Errorf("%w: bool value %d at offset %d", ErrMalformed, v, d.off)
		return false
	}
	return v == 1
}

func (d *Decoder) String() string {
	if d.err != nil {
		return ""
	}
	s, n := protowire.ConsumeString(d.buf[d.off:])
	if n < 0 {
		d.fail(n, "string")
		return ""
	}
	d.off += n
	return s
}

// Blob returns a copy of a length-prefixed byte field. Empty blobs decode
// as nil so that decoded values compare equal to normalized inputs.
func (d *Decoder) Blob() []byte {
	if d.err != nil {
		return nil
	}
	b, n := protowire.ConsumeBytes(d.buf[d.off:])
	if n < 0 {
		d.fail(n, "bytes")
		return nil
	}
	d.off += n
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *Decoder) Bitmap() Bitmap {
	return Bitmap(d.Uvarint())
}

// Count reads a list length. Every list element occupies at least one
// byte, so a count larger than the remaining input is malformed.
func (d *Decoder) Count() int {
	v := d.Uvarint()
	if d.err != nil {
		return 0
	}
	if v > uint64(d.Remaining()) {
		d.err = fmt.Errorf("%w: list count %d exceeds remaining %d bytes", ErrMalformed, v, d.Remaining())
		return 0
	}
	return int(v)
}
