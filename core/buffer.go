package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncatedData is returned when a buffer ends early or holds a malformed field.
var ErrTruncatedData = errors.New("truncated or malformed data")

// BufferWriter accumulates the little-endian wire form of codec fields.
type BufferWriter struct {
	buf []byte
}

func NewBufferWriter() *BufferWriter {
	return &BufferWriter{}
}

func (w *BufferWriter) WriteU16(n uint16) *BufferWriter {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, n)
	return w
}

func (w *BufferWriter) WriteU32(n uint32) *BufferWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, n)
	return w
}

func (w *BufferWriter) WriteI32(n int32) *BufferWriter {
	return w.WriteU32(uint32(n))
}

func (w *BufferWriter) WriteU64(n uint64) *BufferWriter {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, n)
	return w
}

// WriteBytes appends b without a length prefix.
func (w *BufferWriter) WriteBytes(b []byte) *BufferWriter {
	w.buf = append(w.buf, b...)
	return w
}

// WriteVarBytes appends b prefixed with its compact-size length.
func (w *BufferWriter) WriteVarBytes(b []byte) *BufferWriter {
	w.writeVarInt(uint64(len(b)))
	return w.WriteBytes(b)
}

func (w *BufferWriter) WriteVarString(s string) *BufferWriter {
	return w.WriteVarBytes([]byte(s))
}

// writeVarInt uses the compact-size form: one byte below 0xfd, otherwise a marker byte
// followed by a 2, 4 or 8 byte integer.
func (w *BufferWriter) writeVarInt(n uint64) {
	switch {
	case n < 0xfd:
		w.buf = append(w.buf, byte(n))
	case n <= math.MaxUint16:
		w.buf = append(w.buf, 0xfd)
		w.WriteU16(uint16(n))
	case n <= math.MaxUint32:
		w.buf = append(w.buf, 0xfe)
		w.WriteU32(uint32(n))
	default:
		w.buf = append(w.buf, 0xff)
		w.WriteU64(n)
	}
}

func (w *BufferWriter) Bytes() []byte {
	return w.buf
}

// BufferReader consumes fields in the order BufferWriter produced them.
type BufferReader struct {
	buf []byte
	pos int
}

func NewBufferReader(b []byte) *BufferReader {
	return &BufferReader{buf: b}
}

func (r *BufferReader) Left() int {
	return len(r.buf) - r.pos
}

func (r *BufferReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Left() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedData, n, r.Left())
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

func (r *BufferReader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *BufferReader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *BufferReader) ReadI32() (int32, error) {
	n, err := r.ReadU32()
	return int32(n), err
}

func (r *BufferReader) ReadU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *BufferReader) ReadVarBytes() ([]byte, error) {
	n, err := r.readVarInt()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Left()) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrTruncatedData, n, r.Left())
	}
	return r.ReadBytes(int(n))
}

func (r *BufferReader) ReadVarString() (string, error) {
	b, err := r.ReadVarBytes()
	return string(b), err
}

// readVarInt rejects non-minimal encodings so every value has exactly one wire form.
func (r *BufferReader) readVarInt() (uint64, error) {
	prefix, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}

	var n, lowest uint64
	switch prefix[0] {
	case 0xfd:
		v, err := r.ReadU16()
		if err != nil {
			return 0, err
		}
		n, lowest = uint64(v), 0xfd
	case 0xfe:
		v, err := r.ReadU32()
		if err != nil {
			return 0, err
		}
		n, lowest = uint64(v), math.MaxUint16+1
	case 0xff:
		v, err := r.ReadU64()
		if err != nil {
			return 0, err
		}
		n, lowest = v, math.MaxUint32+1
	default:
		return uint64(prefix[0]), nil
	}

	if n < lowest {
		return 0, fmt.Errorf("%w: non-canonical length prefix", ErrTruncatedData)
	}
	return n, nil
}
