package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Minimal BCS (binary canonical serialization) writer/reader covering the
// subset the wallet needs: uleb128 lengths and enum variants, length-prefixed
// byte strings, fixed byte arrays, little-endian integers, and options.

type bcsWriter struct {
	buf []byte
}

func newBCSWriter() *bcsWriter {
	return &bcsWriter{}
}

func (w *bcsWriter) bytes() []byte {
	return w.buf
}

func (w *bcsWriter) writeUleb128(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *bcsWriter) writeU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *bcsWriter) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// writeBytes writes a uleb128 length prefix followed by the raw bytes.
func (w *bcsWriter) writeBytes(b []byte) {
	w.writeUleb128(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *bcsWriter) writeString(s string) {
	w.writeBytes([]byte(s))
}

// writeFixedBytes writes raw bytes with no length prefix (fixed arrays).
func (w *bcsWriter) writeFixedBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *bcsWriter) writeBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

var errBCSShort = errors.New("bcs: input truncated")

type bcsReader struct {
	buf []byte
	pos int
}

func newBCSReader(b []byte) *bcsReader {
	return &bcsReader{buf: b}
}

func (r *bcsReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *bcsReader) readUleb128() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if r.pos >= len(r.buf) {
			return 0, errBCSShort
		}
		b := r.buf[r.pos]
		r.pos++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("bcs: uleb128 overflows u64")
		}
	}
}

func (r *bcsReader) readU8() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, errBCSShort
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *bcsReader) readU64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, errBCSShort
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *bcsReader) readBytes() ([]byte, error) {
	n, err := r.readUleb128()
	if err != nil {
		return nil, err
	}
	if uint64(r.remaining()) < n {
		return nil, errBCSShort
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *bcsReader) readBool() (bool, error) {
	b, err := r.readU8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("bcs: invalid bool byte 0x%02x", b)
}
