package serialize

import (
	"testing"

	"github.com/packetforge/gbnet/bitstream"
)

type sample struct {
	ProtocolID uint32 `bits:"32"`
	Sequence   uint16 `bits:"16"`
	Flag       bool   `bits:"bool"`
	Count      uint64 `bits:"varint"`
	Delta      int64  `bits:"zigzag"`
	Mode       uint8  `bits:"range:0,4"`
	unexported int    // no tag, no PkgPath export: should be skipped safely
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := sample{
		ProtocolID: 0xCAFEBABE,
		Sequence:   4242,
		Flag:       true,
		Count:      987654321,
		Delta:      -12345,
		Mode:       3,
	}
	w := bitstream.NewWriter()
	if err := Marshal(w, &in); err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sample
	r := bitstream.NewReader(w.Finish())
	if err := Unmarshal(r, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.ProtocolID != in.ProtocolID || out.Sequence != in.Sequence ||
		out.Flag != in.Flag || out.Count != in.Count || out.Delta != in.Delta ||
		out.Mode != in.Mode {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", out, in)
	}
}

func TestFieldOrderIsABI(t *testing.T) {
	type a struct {
		X uint32 `bits:"8"`
		Y uint32 `bits:"8"`
	}
	type b struct {
		Y uint32 `bits:"8"`
		X uint32 `bits:"8"`
	}

	w := bitstream.NewWriter()
	Marshal(w, &a{X: 1, Y: 2})

	var decoded b
	r := bitstream.NewReader(w.Finish())
	Unmarshal(r, &decoded)

	// Because field order is part of the ABI, reading struct a's bytes as
	// struct b (different field order) must NOT reproduce the same values.
	if decoded.X == 1 && decoded.Y == 2 {
		t.Fatal("field order was not respected as part of the wire ABI")
	}
	if decoded.Y != 1 || decoded.X != 2 {
		t.Errorf("got %+v", decoded)
	}
}

type customWire struct {
	tag uint32
}

func (c *customWire) WriteBits(w *bitstream.Writer) error {
	return w.WriteBits(c.tag, 4)
}

func (c *customWire) ReadBits(r *bitstream.Reader) error {
	v, err := r.ReadBits(4)
	c.tag = v
	return err
}

func TestBitSerializableBypassesReflection(t *testing.T) {
	in := &customWire{tag: 9}
	w := bitstream.NewWriter()
	if err := Marshal(w, in); err != nil {
		t.Fatal(err)
	}
	out := &customWire{}
	r := bitstream.NewReader(w.Finish())
	if err := Unmarshal(r, out); err != nil {
		t.Fatal(err)
	}
	if out.tag != in.tag {
		t.Errorf("got %d, want %d", out.tag, in.tag)
	}
}
