// Package conn implements the connection state machine (component F):
// handshake, keep-alive, timeout, graceful disconnect, and the per-tick
// wiring of channel + reliability + fragment + security + congestion into
// a single synchronous Update call, per spec.md §4.6 and §5.
//
// Grounded on original_source/gbnet/src/server.rs's NetServer::update
// drain-incoming/process/tick/drain-outgoing loop and
// anon55555/mt/rudp/conn.go's per-peer bookkeeping, adapted from the
// teacher's goroutine-per-connection model to the single-threaded
// cooperative model spec.md §5 requires (see SPEC_FULL.md §5).
package conn

import (
	"errors"
	"time"

	"github.com/packetforge/gbnet/channel"
	"github.com/packetforge/gbnet/congestion"
	"github.com/packetforge/gbnet/fragment"
	"github.com/packetforge/gbnet/reliability"
	"github.com/packetforge/gbnet/wire"
)

// State names follow spec.md §4.6. SendingChallengeResponse is used on
// both sides: the client is in it while waiting to hear back after
// echoing the nonce; the server's ChallengeSent state (awaiting the
// echoed nonce) is represented the same way since the bookkeeping is
// identical — only the outgoing packet type differs, which handshake.go
// decides from Role.
type State uint8

const (
	Disconnected State = iota
	SendingRequest
	SendingChallengeResponse
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case SendingRequest:
		return "sending-request"
	case SendingChallengeResponse:
		return "sending-challenge-response"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

var (
	ErrNotConnected    = errors.New("conn: not connected")
	ErrUnknownChannel  = errors.New("conn: unknown channel id")
	ErrMessageTooLarge = errors.New("conn: message exceeds configured channel cap")
)

// DeliveredMessage is one application-visible message surfaced by
// HandleIncoming.
type DeliveredMessage struct {
	ChannelID uint8
	Body      []byte
}

// DisconnectReason mirrors wire.DisconnectReason for caller-facing events.
type DisconnectReason = wire.DisconnectReason

// Connection is one peer-to-peer link, from either the client's or the
// server's point of view.
type Connection struct {
	Role         Role
	State        State
	ConnectionID uint16
	ProtocolID   uint32

	cfg        Config
	channels   map[uint8]channel.Channel
	order      []uint8 // channel ids in configured order, for batching priority ties
	maxMsgSize map[uint8]int

	rel       *reliability.Estimator
	frag      *fragment.Assembler
	outGroups fragment.GroupAllocator
	cong      *congestion.Controller
	bw        *congestion.BandwidthTracker

	// freshOut holds messages enqueued since the last Tick that have never
	// gone out on the wire yet. Pending only resurfaces a reliable
	// envelope once its RTO has elapsed, which is correct for retransmits
	// but would otherwise delay every message's first transmission by a
	// full RTO — freshOut is drained unconditionally each Tick instead.
	freshOut []congestion.Candidate

	lastSent time.Time
	lastRecv time.Time

	// handshake bookkeeping
	requestAttempts  int
	requestFirstSent time.Time
	requestLastSent  time.Time
	challengeNonce   uint64
	denyReason       wire.DenyReason
	wasDenied        bool
	handshakeFailed  bool
	tokenBytes       []byte

	disconnectReason DisconnectReason
	disconnectAt     time.Time

	// pendingOut holds handshake reply packets that must go out immediately
	// rather than wait for the next retry-interval tick (e.g. the server's
	// ConnectionAccepted once the challenge nonce is echoed back).
	pendingOut [][]byte
}

func newConnection(role Role, protocolID uint32, cfg Config) *Connection {
	if cfg.CongestionGoodRTT == 0 {
		cfg.CongestionGoodRTT = congestion.GoodRTT
	}
	if cfg.CongestionBadRTT == 0 {
		cfg.CongestionBadRTT = congestion.BadRTT
	}
	if cfg.CongestionGoodLoss == 0 {
		cfg.CongestionGoodLoss = congestion.GoodLoss
	}
	if cfg.CongestionBadLoss == 0 {
		cfg.CongestionBadLoss = congestion.BadLoss
	}
	c := &Connection{
		Role:       role,
		ProtocolID: protocolID,
		cfg:        cfg,
		channels:   make(map[uint8]channel.Channel, len(cfg.Channels)+1),
		maxMsgSize: make(map[uint8]int, len(cfg.Channels)),
		rel:        reliability.NewEstimator(cfg.MaxInFlightPackets),
		frag:       fragment.NewAssembler(cfg.FragmentTableCapacity, cfg.FragmentTTL),
		cong:       congestion.NewControllerWithThresholds(cfg.CongestionGoodRTT, cfg.CongestionBadRTT, cfg.CongestionGoodLoss, cfg.CongestionBadLoss),
		bw:         congestion.NewBandwidthTracker(),
	}
	for _, spec := range cfg.Channels {
		c.channels[spec.ID] = buildChannel(spec, cfg.WindowSize)
		c.order = append(c.order, spec.ID)
		c.maxMsgSize[spec.ID] = spec.MaxMessageSize
	}
	c.channels[fragmentChannelID] = channel.NewReliableUnordered(fragmentChannelID, cfg.WindowSize, 0)
	return c
}

// Send enqueues body on channelID, fragmenting first if it exceeds the
// MTU budget. Returns ErrNotConnected outside the Connected state.
func (c *Connection) Send(channelID uint8, body []byte, now time.Time) error {
	if c.State != Connected {
		return ErrNotConnected
	}
	ch, ok := c.channels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	if max := c.maxMsgSize[channelID]; max > 0 && len(body) > max {
		return ErrMessageTooLarge
	}
	budget := c.cfg.MTU - HeaderOverhead - 8 // leave room for one entry's own framing
	if len(body) <= budget {
		id, reliable, err := ch.EnqueueOut(body, now)
		if err != nil {
			return err
		}
		c.freshOut = append(c.freshOut, congestion.Candidate{ChannelID: channelID, Reliable: reliable, MessageID: id, Body: body})
		return nil
	}
	groupID := c.outGroups.Next()
	frags, err := fragment.Split(groupID, body, budget)
	if err != nil {
		return err
	}
	fragCh := c.channels[fragmentChannelID]
	for _, f := range frags {
		encoded, err := encodeFragment(f)
		if err != nil {
			return err
		}
		id, reliable, err := fragCh.EnqueueOut(encoded, now)
		if err != nil {
			return err
		}
		c.freshOut = append(c.freshOut, congestion.Candidate{ChannelID: fragmentChannelID, Reliable: reliable, MessageID: id, Body: encoded})
	}
	return nil
}

// HandleIncoming processes one decoded, CRC-valid packet. Handshake
// packets are dispatched to handshake.go; Payload packets are unbatched
// and routed to their channels (with fragment reassembly folded back in
// as complete groups arrive).
func (c *Connection) HandleIncoming(pkt *wire.Packet, now time.Time) []DeliveredMessage {
	if pkt.Header.ProtocolID != c.ProtocolID {
		// Wrong protocol/build talking to this socket; drop silently rather
		// than let it disturb an established connection's timers. A
		// handshake attempt under the wrong protocol id simply never
		// progresses and times out like any other unanswered request.
		return nil
	}

	c.lastRecv = now

	if c.State != Connected {
		c.handleHandshakePacket(pkt, now)
		return nil
	}

	c.rel.OnPacketReceived(pkt.Header.Sequence)

	// Every packet type carries a valid (Ack, AckBits) pair (wire/packet.go),
	// and spec.md §4.3's ack processing applies to any received packet, not
	// only Payload — a peer whose only outgoing traffic is KeepAlive must
	// still drain the other side's retransmit queues and feed RTT/loss
	// samples, or reliability silently stalls despite data arriving fine.
	c.processAcks(pkt.Header.Ack, pkt.Header.AckBits, now)

	switch pkt.Header.Type {
	case wire.KeepAlive:
		return nil
	case wire.Disconnect:
		c.beginDisconnect(pkt.Body.DisconnectCode, now)
		return nil
	case wire.Payload:
		return c.handlePayload(pkt, now)
	default:
		return nil
	}
}

// processAcks retires acknowledged reliable messages from their channels
// and drives fast retransmit (spec.md §4.3) from carrier-ack evidence,
// independent of what kind of packet delivered the (ack, ackBits) pair.
func (c *Connection) processAcks(ack uint16, ackBits uint32, now time.Time) {
	acked, carrierAcked := c.rel.ProcessAcks(ack, ackBits, now)
	for _, am := range acked {
		ch, ok := c.channels[am.ChannelID]
		if !ok {
			continue
		}
		ch.Ack(am.MessageID)
	}
	for _, cm := range carrierAcked {
		ch, ok := c.channels[cm.ChannelID]
		if !ok {
			continue
		}
		ch.NoteCarrierAcked(cm.MessageID)
	}
}

func (c *Connection) handlePayload(pkt *wire.Packet, now time.Time) []DeliveredMessage {
	entries, err := wire.DecodePayloadEntries(pkt.Payload)
	if err != nil {
		return nil
	}

	var out []DeliveredMessage
	for _, e := range entries {
		ch, ok := c.channels[e.ChannelID]
		if !ok {
			continue
		}
		bodies := ch.OnRecv(e.MessageID, e.Body)
		if e.ChannelID == fragmentChannelID {
			for _, b := range bodies {
				if complete, ok := c.reassembleFragment(b, now); ok {
					out = append(out, DeliveredMessage{ChannelID: e.ChannelID, Body: complete})
				}
			}
			continue
		}
		for _, b := range bodies {
			out = append(out, DeliveredMessage{ChannelID: e.ChannelID, Body: b})
		}
	}
	return out
}

func (c *Connection) reassembleFragment(encoded []byte, now time.Time) ([]byte, bool) {
	f, err := decodeFragment(encoded)
	if err != nil {
		return nil, false
	}
	body, ok, err := c.frag.Add(f, now)
	if err != nil || !ok {
		return nil, false
	}
	return body, true
}

// Tick advances timers: keep-alive, RTO-driven retransmission, connection
// timeout, congestion-state update, and fragment-table TTL expiry. Returns
// the outgoing packet(s) to send this tick. While Connected that is at
// least one packet whenever a message is queued or due for retransmission
// or the keep-alive interval has elapsed, and none otherwise; mid-handshake
// it is whatever the handshake retry schedule yields, and while
// Disconnecting it is nothing.
func (c *Connection) Tick(now time.Time) ([][]byte, DisconnectReason, bool) {
	c.frag.ExpireStale(now)

	if len(c.pendingOut) > 0 {
		out := c.pendingOut
		c.pendingOut = nil
		return out, 0, false
	}

	if c.State == Disconnecting {
		if now.Sub(c.disconnectAt) >= c.cfg.DisconnectDrain {
			c.State = Disconnected
			return nil, c.disconnectReason, true
		}
		return nil, 0, false
	}

	if c.State != Connected {
		return c.tickHandshake(now), 0, false
	}

	if now.Sub(c.lastRecv) >= c.cfg.ConnectionTimeout {
		c.State = Disconnected
		return nil, wire.DisconnectTimeout, true
	}

	c.cong.Update(now, estimatedRTT(c.rel), c.rel.Loss())

	candidates := c.freshOut
	c.freshOut = nil
	for _, id := range c.order {
		ch := c.channels[id]
		for _, env := range ch.Pending(now, c.rel.RTO()) {
			c.rel.OnRTOTimeout()
			candidates = append(candidates, congestion.Candidate{
				ChannelID: id, Reliable: true, MessageID: env.MessageID, Body: env.Body,
			})
		}
	}
	for _, env := range c.channels[fragmentChannelID].Pending(now, c.rel.RTO()) {
		c.rel.OnRTOTimeout()
		candidates = append(candidates, congestion.Candidate{
			ChannelID: fragmentChannelID, Reliable: true, MessageID: env.MessageID, Body: env.Body,
		})
	}

	batches := congestion.BatchPackets(candidates, c.cfg.MTU, HeaderOverhead)
	var packets [][]byte
	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		data, err := c.buildPayloadPacket(batch, now)
		if err != nil {
			continue
		}
		packets = append(packets, data)
	}
	if len(packets) == 0 && now.Sub(c.lastSent) >= c.cfg.KeepaliveInterval {
		data, err := wire.Encode(&wire.Packet{Header: c.nextHeader(now, wire.KeepAlive)})
		if err == nil {
			packets = append(packets, data)
		}
	}
	for _, p := range packets {
		c.bw.RecordSent(len(p))
	}
	c.bw.Sample(now)
	return packets, 0, false
}

func (c *Connection) buildPayloadPacket(batch []congestion.Candidate, now time.Time) ([]byte, error) {
	entries := make([]wire.PayloadEntry, 0, len(batch))
	for _, cand := range batch {
		entries = append(entries, wire.PayloadEntry{
			ChannelID: cand.ChannelID,
			Reliable:  cand.Reliable,
			MessageID: cand.MessageID,
			Body:      cand.Body,
		})
	}
	body, err := wire.EncodePayloadEntries(entries)
	if err != nil {
		return nil, err
	}
	header := c.nextHeader(now, wire.Payload)
	c.rel.OnPacketSent(header.Sequence, now, false, carriedFrom(batch))
	return wire.Encode(&wire.Packet{Header: header, Payload: body})
}

func carriedFrom(batch []congestion.Candidate) []reliability.CarriedMessage {
	var out []reliability.CarriedMessage
	for _, cand := range batch {
		if cand.Reliable {
			out = append(out, reliability.CarriedMessage{ChannelID: cand.ChannelID, MessageID: cand.MessageID})
		}
	}
	return out
}

func (c *Connection) nextHeader(now time.Time, typ wire.PacketType) wire.Header {
	c.lastSent = now
	ack, ackBits := c.rel.AckInfo()
	return wire.Header{
		ProtocolID:   c.ProtocolID,
		Type:         typ,
		ConnectionID: c.ConnectionID,
		Sequence:     c.rel.NextSequence(),
		Ack:          ack,
		AckBits:      ackBits,
	}
}

// Disconnect synchronously transitions to Disconnecting: per spec.md §5,
// disconnect flips state immediately and discards outstanding reliable
// messages on every channel rather than waiting for delivery.
func (c *Connection) Disconnect(reason DisconnectReason, now time.Time) {
	if c.State == Disconnected || c.State == Disconnecting {
		return // idempotent, invariant 10
	}
	c.State = Disconnecting
	c.disconnectReason = reason
	c.disconnectAt = now
}

func (c *Connection) beginDisconnect(reason DisconnectReason, now time.Time) {
	c.Disconnect(reason, now)
	c.State = Disconnected
}

// estimatedRTT reports the estimator's current smoothed RTT for the
// congestion controller. This must be the RTT sample itself, not RTO —
// RTO = SRTT + max(G, K·RTTVAR) is a timeout inflated well past the
// congestion controller's Bad-RTT threshold even for a healthy link (spec.md
// §4.8 requires starting and staying in Good absent real evidence of
// trouble).
func estimatedRTT(e *reliability.Estimator) time.Duration {
	return e.SRTT()
}

// Stats is the per-connection snapshot the root package's metrics sink
// reports (SPEC_FULL.md §6): bytes sent/received, RTO, loss, congestion
// mode.
type Stats struct {
	RTO              time.Duration
	Loss             float64
	CongestionMode   congestion.Mode
	SentBytesPerTick float64
	RecvBytesPerTick float64
	InFlight         int
}

// NoteBytesReceived folds a raw inbound datagram's size into the
// bandwidth EMA; the caller passes the length before CRC/parse overhead
// since Connection itself only ever sees already-decoded packets.
func (c *Connection) NoteBytesReceived(n int) {
	c.bw.RecordRecv(n)
}

// Stats reports the connection's current diagnostics snapshot.
func (c *Connection) Stats() Stats {
	return Stats{
		RTO:              c.rel.RTO(),
		Loss:             c.rel.Loss(),
		CongestionMode:   c.cong.Mode(),
		SentBytesPerTick: c.bw.SentBytesPerTickEMA(),
		RecvBytesPerTick: c.bw.RecvBytesPerTickEMA(),
		InFlight:         c.rel.InFlight(),
	}
}
