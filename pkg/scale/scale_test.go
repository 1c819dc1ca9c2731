package scale

import "testing"

func TestCompactUintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		e := NewEncoder()
		e.PutCompactUint64(v)
		d := NewDecoder(e.Bytes())
		got, err := d.TakeCompactUint64()
		if err != nil {
			t.Fatalf("decode(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
		if d.Remaining() != 0 {
			t.Fatalf("round trip %d: %d bytes left over", v, d.Remaining())
		}
	}
}

func TestCompactUintSingleByteMode(t *testing.T) {
	e := NewEncoder()
	e.PutCompactUint64(5)
	if got := e.Bytes(); len(got) != 1 || got[0] != 5<<2 {
		t.Fatalf("expected single-byte mode 0, got %v", got)
	}
}

func TestFixedUint32RoundTrip(t *testing.T) {
	e := NewEncoder()
	e.PutUint32(0xDEADBEEF)
	d := NewDecoder(e.Bytes())
	got, err := d.TakeUint32()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Fatalf("got %x, want %x", got, 0xDEADBEEF)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []uint32{10, 20, 30, 40}
	e := NewEncoder()
	e.PutVector(len(in), func(i int) { e.PutUint32(in[i]) })

	d := NewDecoder(e.Bytes())
	var out []uint32
	n, err := d.TakeVector(func(i int) error {
		v, err := d.TakeUint32()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		t.Fatalf("TakeVector: %v", err)
	}
	if n != len(in) {
		t.Fatalf("got n=%d, want %d", n, len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("element %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestTakeRawShortBufferErrors(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	if _, err := d.TakeRaw(5); err == nil {
		t.Fatalf("expected short-buffer error")
	}
}
