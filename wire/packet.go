// Package wire implements the packet header and body encoding described in
// spec.md §4.2/§3: a fixed bit-packed header followed by a type-specific
// body, with CRC32C integrity framing applied last.
package wire

import (
	"errors"

	"github.com/packetforge/gbnet/bitstream"
)

// PacketType tags the kind of packet carried after the header, per
// spec.md §3's enumerated packet type tag.
type PacketType uint8

const (
	ConnectionRequest PacketType = iota
	ChallengeResponse
	ConnectionAccepted
	ConnectionDenied
	KeepAlive
	Payload
	Disconnect
	numPacketTypes
)

const packetTypeBits = 3 // ceil(log2(numPacketTypes)), room for up to 8 types

// DenyReason enumerates why a server refused a connection request.
type DenyReason uint8

const (
	DenyInvalidToken DenyReason = iota
	DenyServerFull
	DenyAlreadyConnected
	DenyRateLimited
)

// DisconnectReason enumerates why a connection ended.
type DisconnectReason uint8

const (
	DisconnectRequested DisconnectReason = iota
	DisconnectTimeout
	DisconnectKicked
	DisconnectProtocolMismatch
)

// Header is the fixed prefix on every datagram (spec.md §3). ConnectionID
// is 0 on pre-handshake frames.
type Header struct {
	ProtocolID   uint32
	Type         PacketType
	ConnectionID uint16
	Sequence     uint16
	Ack          uint16
	AckBits      uint32
}

func (h *Header) writeBits(w *bitstream.Writer) error {
	if err := w.WriteBits(h.ProtocolID, 32); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(h.Type), packetTypeBits); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(h.ConnectionID), 16); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(h.Sequence), 16); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(h.Ack), 16); err != nil {
		return err
	}
	return w.WriteBits(h.AckBits, 32)
}

func (h *Header) readBits(r *bitstream.Reader) error {
	v, err := r.ReadBits(32)
	if err != nil {
		return err
	}
	h.ProtocolID = v

	t, err := r.ReadBits(packetTypeBits)
	if err != nil {
		return err
	}
	h.Type = PacketType(t)

	cid, err := r.ReadBits(16)
	if err != nil {
		return err
	}
	h.ConnectionID = uint16(cid)

	seq, err := r.ReadBits(16)
	if err != nil {
		return err
	}
	h.Sequence = uint16(seq)

	ack, err := r.ReadBits(16)
	if err != nil {
		return err
	}
	h.Ack = uint16(ack)

	ackBits, err := r.ReadBits(32)
	if err != nil {
		return err
	}
	h.AckBits = ackBits
	return nil
}

// HeaderBits is the fixed size, in bits, of a serialized Header.
const HeaderBits = 32 + packetTypeBits + 16 + 16 + 16 + 32

// TypeBody carries the small amount of per-type data beyond the common
// header: a nonce for ChallengeResponse, a reason code for
// ConnectionDenied/Disconnect. ConnectionAccepted has no body here: the
// assigned id travels in Header.ConnectionID.
type TypeBody struct {
	ChallengeNonce uint64
	DenyReason     DenyReason
	DisconnectCode DisconnectReason
}

// Packet is a fully decoded datagram: header, optional type-specific body,
// and a trailing byte payload for the two types that carry a
// variable-length body: the serialized channel/message entries for
// Payload packets, and the connect token bytes for ConnectionRequest.
type Packet struct {
	Header  Header
	Body    TypeBody
	Payload []byte // only meaningful for Payload and ConnectionRequest packets
}

var ErrEmptyPacket = errors.New("wire: empty packet")
var ErrUnknownPacketType = errors.New("wire: unknown packet type")

// Serialize encodes the packet (header + type body + payload), byte
// aligning after the bit-packed portion. CRC32C is NOT applied here — the
// caller appends it last, after this function returns, per spec.md §4.2.
func (p *Packet) Serialize() ([]byte, error) {
	w := bitstream.NewWriter()
	if err := p.Header.writeBits(w); err != nil {
		return nil, err
	}
	switch p.Header.Type {
	case ChallengeResponse:
		if err := w.WriteBits(uint32(p.Body.ChallengeNonce), 32); err != nil {
			return nil, err
		}
		if err := w.WriteBits(uint32(p.Body.ChallengeNonce>>32), 32); err != nil {
			return nil, err
		}
	case ConnectionDenied:
		if err := w.WriteBits(uint32(p.Body.DenyReason), 8); err != nil {
			return nil, err
		}
	case Disconnect:
		if err := w.WriteBits(uint32(p.Body.DisconnectCode), 8); err != nil {
			return nil, err
		}
	case ConnectionRequest, ConnectionAccepted, KeepAlive, Payload:
		// no fixed type body
	default:
		return nil, ErrUnknownPacketType
	}
	if err := w.Align(); err != nil {
		return nil, err
	}
	out := w.Finish()
	if p.Header.Type == Payload || p.Header.Type == ConnectionRequest {
		out = append(out, p.Payload...)
	}
	return out, nil
}

// Deserialize decodes a packet from data (which must NOT include the
// trailing CRC32C — the caller validates and strips that first).
func Deserialize(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	r := bitstream.NewReader(data)
	p := &Packet{}
	if err := p.Header.readBits(r); err != nil {
		return nil, err
	}
	switch p.Header.Type {
	case ChallengeResponse:
		lo, err := r.ReadBits(32)
		if err != nil {
			return nil, err
		}
		hi, err := r.ReadBits(32)
		if err != nil {
			return nil, err
		}
		p.Body.ChallengeNonce = uint64(hi)<<32 | uint64(lo)
	case ConnectionDenied:
		v, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		p.Body.DenyReason = DenyReason(v)
	case Disconnect:
		v, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		p.Body.DisconnectCode = DisconnectReason(v)
	case ConnectionRequest, ConnectionAccepted, KeepAlive, Payload:
		// no fixed type body
	default:
		return nil, ErrUnknownPacketType
	}
	if err := r.AlignRead(); err != nil {
		return nil, err
	}
	headerLen := r.BitPos() / 8
	if (p.Header.Type == Payload || p.Header.Type == ConnectionRequest) && headerLen < len(data) {
		p.Payload = data[headerLen:]
	}
	return p, nil
}
