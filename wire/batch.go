package wire

import "github.com/packetforge/gbnet/bitstream"

// PayloadEntry is one message carried inside a Payload packet's body.
// spec.md §4.2 allows multiple messages, from possibly different channels,
// to be batched into a single Payload packet. MessageID is always present
// on the wire (not just for Reliable entries) because UnreliableSequenced
// needs its sequence number to decide which arrivals are stale, even
// though it never retransmits.
type PayloadEntry struct {
	ChannelID uint8
	Reliable  bool
	MessageID uint16
	Body      []byte
}

// EncodePayloadEntries packs entries into a length-prefixed list:
// varint count, then per entry: 8-bit channel id, reliable flag, a 16-bit
// message id, and a varint-length-prefixed body.
func EncodePayloadEntries(entries []PayloadEntry) ([]byte, error) {
	w := bitstream.NewWriter()
	if err := w.WriteVarint(uint64(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.WriteBits(uint32(e.ChannelID), 8); err != nil {
			return nil, err
		}
		if err := w.WriteBool(e.Reliable); err != nil {
			return nil, err
		}
		if err := w.WriteBits(uint32(e.MessageID), 16); err != nil {
			return nil, err
		}
		if err := w.WriteVarint(uint64(len(e.Body))); err != nil {
			return nil, err
		}
		if err := w.WriteBytes(e.Body); err != nil {
			return nil, err
		}
	}
	if err := w.Align(); err != nil {
		return nil, err
	}
	return w.Finish(), nil
}

// DecodePayloadEntries is the inverse of EncodePayloadEntries.
func DecodePayloadEntries(data []byte) ([]PayloadEntry, error) {
	r := bitstream.NewReader(data)
	count, err := r.ReadVarint()
	if err != nil {
		return nil, err
	}
	entries := make([]PayloadEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e PayloadEntry
		ch, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		e.ChannelID = uint8(ch)
		reliable, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		e.Reliable = reliable
		mid, err := r.ReadBits(16)
		if err != nil {
			return nil, err
		}
		e.MessageID = uint16(mid)
		n, err := r.ReadVarint()
		if err != nil {
			return nil, err
		}
		body, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		e.Body = body
		entries = append(entries, e)
	}
	return entries, nil
}
