package bitstream

import (
	"math"
	"testing"
)

func TestWriteReadBitsRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 7, 8, 9, 16, 31, 32} {
		max := uint64(1)<<uint(n) - 1
		for _, v := range []uint64{0, max, max / 2} {
			w := NewWriter()
			if err := w.WriteBits(uint32(v), n); err != nil {
				t.Fatalf("WriteBits(%d,%d): %v", v, n, err)
			}
			r := NewReader(w.Finish())
			got, err := r.ReadBits(n)
			if err != nil {
				t.Fatalf("ReadBits(%d): %v", n, err)
			}
			if uint64(got) != v {
				t.Errorf("n=%d v=%d: got %d", n, v, got)
			}
		}
	}
}

func TestWriteBoolRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteBool(true)
	r := NewReader(w.Finish())
	for _, want := range []bool{true, false, true} {
		got, err := r.ReadBool()
		if err != nil || got != want {
			t.Fatalf("got %v err %v, want %v", got, err, want)
		}
	}
}

func TestRangedIntRoundTripAndBitLen(t *testing.T) {
	cases := []struct{ min, max int64 }{
		{0, 0},
		{0, 1},
		{-5, 5},
		{0, 255},
		{10, 10000},
	}
	for _, c := range cases {
		bits := BitsRequired(c.min, c.max)
		for v := c.min; v <= c.max && v <= c.min+50; v++ {
			w := NewWriter()
			if err := w.WriteRangedInt(v, c.min, c.max); err != nil {
				t.Fatalf("write %d in [%d,%d]: %v", v, c.min, c.max, err)
			}
			if w.BitPos() != bits {
				t.Errorf("[%d,%d] v=%d: wrote %d bits, want %d", c.min, c.max, v, w.BitPos(), bits)
			}
			r := NewReader(w.Finish())
			got, err := r.ReadRangedInt(c.min, c.max)
			if err != nil {
				t.Fatalf("read back: %v", err)
			}
			if got != v {
				t.Errorf("roundtrip [%d,%d]: got %d, want %d", c.min, c.max, got, v)
			}
		}
	}
}

func TestRangedIntOutOfRange(t *testing.T) {
	w := NewWriter()
	if err := w.WriteRangedInt(100, 0, 10); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, math.MaxUint32, math.MaxUint64}
	for _, v := range values {
		w := NewWriter()
		if err := w.WriteVarint(v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		r := NewReader(w.Finish())
		got, err := r.ReadVarint()
		if err != nil || got != v {
			t.Errorf("varint %d: got %d err %v", v, got, err)
		}
	}
}

func TestVarintSignedRoundTrip(t *testing.T) {
	values := []int64{0, -1, 1, -64, 64, math.MinInt32, math.MaxInt32}
	for _, v := range values {
		w := NewWriter()
		if err := w.WriteVarintSigned(v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		r := NewReader(w.Finish())
		got, err := r.ReadVarintSigned()
		if err != nil || got != v {
			t.Errorf("signed varint %d: got %d err %v", v, got, err)
		}
	}
}

func TestBytesAlignment(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b101, 3)
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := w.WriteBytes(payload); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	r := NewReader(w.Finish())
	if _, err := r.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadBytes(len(payload))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: got %x want %x", i, got[i], payload[i])
		}
	}
}

func TestAlignIdempotent(t *testing.T) {
	w := NewWriter()
	w.WriteBits(1, 1)
	if err := w.Align(); err != nil {
		t.Fatal(err)
	}
	pos := w.BitPos()
	if err := w.Align(); err != nil {
		t.Fatal(err)
	}
	if w.BitPos() != pos {
		t.Errorf("Align not idempotent: %d != %d", w.BitPos(), pos)
	}
}

func TestReadPastEndOfStream(t *testing.T) {
	w := NewWriter()
	w.WriteBits(1, 4)
	r := NewReader(w.Finish())
	if _, err := r.ReadBits(4); err != nil {
		t.Fatal(err)
	}
	// Only the 4 zero bits Finish padded into the single byte remain, so a
	// 5-bit read runs past the end of the buffer.
	if _, err := r.ReadBits(5); err != ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestFinishPadsTailWithZeros(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b111, 3)
	data := w.Finish()
	if len(data) != 1 {
		t.Fatalf("expected 1 byte, got %d", len(data))
	}
	// Top 3 bits set, bottom 5 bits must be zero padding.
	if data[0]&0x1F != 0 {
		t.Errorf("expected zero padding in low 5 bits, got %08b", data[0])
	}
}
