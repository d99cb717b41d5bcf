package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// AddressLength is the width of every object identity and address.
const AddressLength = 32

// Address is a fixed-width account or object address.
type Address [AddressLength]byte

// ErrShortBuffer is returned by Reader when the input ends early.
var ErrShortBuffer = errors.New("bcs: unexpected end of input")

// Writer accumulates canonical binary encoding. Integers are little-endian,
// sequence lengths are ULEB128.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteU8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteU16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteU32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteU64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// WriteU128 writes the low 128 bits of v. Callers check the range.
func (w *Writer) WriteU128(v *uint256.Int) {
	le := toLittleEndian(v)
	w.buf = append(w.buf, le[:16]...)
}

func (w *Writer) WriteU256(v *uint256.Int) {
	le := toLittleEndian(v)
	w.buf = append(w.buf, le[:]...)
}

// WriteLen writes a ULEB128 sequence length.
func (w *Writer) WriteLen(n int) {
	v := uint64(n)
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// WriteBytes writes a length-prefixed byte vector.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteLen(len(b))
	w.buf = append(w.buf, b...)
}

// WriteFixed writes raw bytes with no length prefix.
func (w *Writer) WriteFixed(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) WriteAddress(a Address) { w.buf = append(w.buf, a[:]...) }

// WriteString writes a UTF-8 string as a byte vector.
func (w *Writer) WriteString(s string) { w.WriteBytes([]byte(s)) }

func toLittleEndian(v *uint256.Int) [32]byte {
	be := v.Bytes32()
	var le [32]byte
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}
	return le
}

// Reader decodes canonical binary encoding.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("bcs: invalid bool byte 0x%02x", b[0])
	}
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadU128 returns the value as a 256-bit integer.
func (r *Reader) ReadU128() (*uint256.Int, error) {
	b, err := r.take(16)
	if err != nil {
		return nil, err
	}
	return fromLittleEndian(b), nil
}

// ReadU128Parts returns the high and low 64-bit halves of a u128.
func (r *Reader) ReadU128Parts() (hi, lo uint64, err error) {
	b, err := r.take(16)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(b[8:]), binary.LittleEndian.Uint64(b[:8]), nil
}

func (r *Reader) ReadU256() (*uint256.Int, error) {
	b, err := r.take(32)
	if err != nil {
		return nil, err
	}
	return fromLittleEndian(b), nil
}

// ReadLen reads a ULEB128 length.
func (r *Reader) ReadLen() (int, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, errors.New("bcs: uleb128 overflow")
		}
	}
	if v > uint64(r.Remaining()) && v > 1<<31 {
		return 0, fmt.Errorf("bcs: length %d exceeds input", v)
	}
	return int(v), nil
}

// ReadBytes reads a length-prefixed byte vector.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadFixed reads n raw bytes.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) ReadAddress() (Address, error) {
	var a Address
	b, err := r.take(AddressLength)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func fromLittleEndian(b []byte) *uint256.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(uint256.Int).SetBytes(be)
}
