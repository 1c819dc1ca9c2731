// Package scale implements the subset of the SCALE (Simple Concatenated
// Aggregate Little-Endian) codec this client needs to decode relay chain
// headers and GRANDPA justifications: fixed-width integers, compact
// integers, fixed-size byte arrays, and length-prefixed vectors.
//
// A full general-purpose SCALE codec (struct-tag driven, reflection based)
// is out of scope here; GRANDPA wire semantics are small and fixed enough
// that hand-written encode/decode functions are both simpler to audit and
// keep the compact-vs-fixed distinction (headers compact-encode the block
// number, justifications do not) explicit rather than implicit in struct
// tags.
package scale

import (
	"encoding/binary"
	"fmt"
)

// Encoder accumulates a SCALE-encoded byte stream.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated encoded stream.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutRaw appends b unchanged (used for fixed-size fields: hashes, sigs).
func (e *Encoder) PutRaw(b []byte) { e.buf = append(e.buf, b...) }

// PutUint32 appends a fixed-width (non-compact) little-endian u32.
func (e *Encoder) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// PutUint64 appends a fixed-width (non-compact) little-endian u64.
func (e *Encoder) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// PutCompactUint64 appends v using the SCALE compact-integer encoding.
func (e *Encoder) PutCompactUint64(v uint64) {
	switch {
	case v < 1<<6:
		e.buf = append(e.buf, byte(v<<2))
	case v < 1<<14:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v<<2)|0b01)
		e.buf = append(e.buf, b[:]...)
	case v < 1<<30:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v<<2)|0b10)
		e.buf = append(e.buf, b[:]...)
	default:
		// Big-integer mode: one length byte (encodes byte count - 4,
		// shifted and or'd with mode 0b11), followed by the minimal
		// little-endian byte representation of v.
		bs := minimalLEBytes(v)
		e.buf = append(e.buf, byte((len(bs)-4)<<2)|0b11)
		e.buf = append(e.buf, bs...)
	}
}

// PutCompactUint32 is a convenience wrapper for 32-bit block numbers.
func (e *Encoder) PutCompactUint32(v uint32) { e.PutCompactUint64(uint64(v)) }

// PutVector writes a compact length prefix followed by n applications of
// write for each element.
func (e *Encoder) PutVector(n int, write func(i int)) {
	e.PutCompactUint64(uint64(n))
	for i := 0; i < n; i++ {
		write(i)
	}
}

func minimalLEBytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	n := 8
	for n > 4 && b[n-1] == 0 {
		n--
	}
	return b[:n]
}

// Decoder reads a SCALE-encoded byte stream sequentially.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder positioned at the start of buf.
func NewDecoder(buf []byte) *Decoder { return &Decoder{buf: buf} }

// Remaining reports how many bytes have not yet been consumed.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// TakeRaw consumes and returns the next n bytes.
func (d *Decoder) TakeRaw(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("scale: short buffer reading %d raw bytes (have %d)", n, d.Remaining())
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

// TakeUint32 reads a fixed-width little-endian u32.
func (d *Decoder) TakeUint32() (uint32, error) {
	b, err := d.TakeRaw(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// TakeUint64 reads a fixed-width little-endian u64.
func (d *Decoder) TakeUint64() (uint64, error) {
	b, err := d.TakeRaw(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// TakeCompactUint64 reads a SCALE compact-encoded integer.
func (d *Decoder) TakeCompactUint64() (uint64, error) {
	first, err := d.TakeRaw(1)
	if err != nil {
		return 0, err
	}
	mode := first[0] & 0b11
	switch mode {
	case 0b00:
		return uint64(first[0] >> 2), nil
	case 0b01:
		next, err := d.TakeRaw(1)
		if err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint16([]byte{first[0], next[0]})
		return uint64(v >> 2), nil
	case 0b10:
		rest, err := d.TakeRaw(3)
		if err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint32([]byte{first[0], rest[0], rest[1], rest[2]})
		return uint64(v >> 2), nil
	default: // 0b11, big-integer mode
		n := int(first[0]>>2) + 4
		bs, err := d.TakeRaw(n)
		if err != nil {
			return 0, err
		}
		var padded [8]byte
		copy(padded[:], bs)
		return binary.LittleEndian.Uint64(padded[:]), nil
	}
}

// TakeCompactUint32 reads a compact integer and narrows it to uint32,
// erroring if the value overflows.
func (d *Decoder) TakeCompactUint32() (uint32, error) {
	v, err := d.TakeCompactUint64()
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, fmt.Errorf("scale: compact value %d overflows u32", v)
	}
	return uint32(v), nil
}

// TakeVector reads a compact length prefix and invokes read once per
// element; read is responsible for consuming exactly one element.
func (d *Decoder) TakeVector(read func(i int) error) (int, error) {
	n, err := d.TakeCompactUint64()
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < n; i++ {
		if err := read(int(i)); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}
