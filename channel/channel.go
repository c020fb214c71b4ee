// Package channel implements the five per-channel delivery modes described
// in spec.md §4.4: Unreliable, UnreliableSequenced, ReliableUnordered,
// ReliableOrdered, ReliableSequenced. Channels differ only in state and
// policy, not identity — spec.md §9's "polymorphism over channels, not
// inheritance" note — so all five share the Channel dispatch surface below.
package channel

import (
	"errors"
	"time"
)

// DeliveryMode selects one of the five channel policies.
type DeliveryMode uint8

const (
	Unreliable DeliveryMode = iota
	UnreliableSequenced
	ReliableUnordered
	ReliableOrdered
	ReliableSequenced
)

func (m DeliveryMode) String() string {
	switch m {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableSequenced:
		return "reliable-sequenced"
	default:
		return "unknown"
	}
}

// DefaultWindowSize is the reliable-unordered/ordered receive window, per
// spec.md §4.2 ("window size is 64").
const DefaultWindowSize = 64

var (
	ErrChannelFull     = errors.New("channel: retransmit queue at capacity")
	ErrMessageTooLarge = errors.New("channel: message exceeds configured size cap")
)

// Envelope is a reliable message awaiting acknowledgment, tracked in a
// channel's retransmit queue (spec.md §4: "retransmit queue (message id →
// envelope with first-sent time, last-sent time, attempts, serialized
// bytes)").
type Envelope struct {
	MessageID uint16
	Body      []byte
	FirstSent time.Time
	LastSent  time.Time
	Attempts  int

	// AckedCarriers counts, while this message's own sent-sequence
	// remains unacknowledged, how many distinct later sent-sequences have
	// themselves been acknowledged — circumstantial evidence this
	// message's packet was lost. Once this reaches 3 the reliability
	// engine fast-retransmits (spec.md §4.3) and the counter resets.
	AckedCarriers int
}

// Channel is the shared dispatch surface every delivery mode implements:
// enqueue_out, on_recv, on_ack, tick (named EnqueueOut/OnRecv/Ack/Pending
// here to match Go's exported-method conventions).
type Channel interface {
	ID() uint8
	Mode() DeliveryMode

	// EnqueueOut assigns whatever per-channel identifier the mode uses
	// (a message id for reliable modes, a sequence number for
	// unreliable-sequenced, nothing for unreliable) and, for reliable
	// modes, files the message in the retransmit queue.
	EnqueueOut(body []byte, now time.Time) (id uint16, reliable bool, err error)

	// OnRecv processes one received (id, body) pair and returns the
	// bodies that should be delivered to the application, in the order
	// the mode's semantics require.
	OnRecv(id uint16, body []byte) [][]byte

	// Ack marks messageID delivered, retiring it from the retransmit
	// queue for good. A no-op for modes with no retransmit queue.
	Ack(messageID uint16)

	// NoteCarrierAcked records that, while messageID's own carrying
	// sequence is still unacknowledged, one more later-sent sequence has
	// been acknowledged. Returns true once this crosses the
	// fast-retransmit threshold, at which point messageID is made
	// immediately due for retransmission on the next Pending call.
	NoteCarrierAcked(messageID uint16) (fastRetransmit bool)

	// Pending returns retransmit-queue envelopes whose RTO has elapsed
	// as of now, bumping their LastSent/Attempts as a side effect.
	Pending(now time.Time, rto time.Duration) []*Envelope

	// Len reports the current retransmit queue depth, for ChannelFull
	// admission checks.
	Len() int
}

const fastRetransmitThreshold = 3
