// Package reliability implements the per-connection RTT/RTO estimator, the
// sent-sequence ↔ reliable-message back-reference table, ack-bitfield
// processing, and packet loss tracking described in spec.md §4.3.
//
// Grounded on original_source/gbnet/src/reliability.rs's ReliableEndpoint:
// the ack_single/process_acks split, the sent-packet map keyed by sequence,
// and the Jacobson/Karels update are carried over nearly verbatim. Where
// spec.md's constants differ from the original's test-tuned ones (RTO_MIN,
// RTO_MAX, K, G), spec.md is authoritative.
package reliability

import (
	"math"
	"time"

	"github.com/packetforge/gbnet/sequence"
)

const (
	Alpha = 0.125 // α, SRTT smoothing factor
	Beta  = 0.25  // β, RTTVAR smoothing factor
	K     = 4.0
	G     = 10 * time.Millisecond

	RTOMin = 100 * time.Millisecond
	RTOMax = 3 * time.Second

	InitialSRTT   = 100 * time.Millisecond
	InitialRTTVAR = 50 * time.Millisecond

	// AckBitsWindow is the number of bits in the ack bitfield (spec.md §3/§4.3).
	AckBitsWindow = 32

	// LossLambda is the EMA smoothing factor for the per-connection loss
	// estimate (spec.md §4.3: "x = 1 on RTO, 0 on clean ack, λ = 1/16").
	LossLambda = 1.0 / 16.0

	// FastRetransmitCarriers is the number of distinct acked carrier
	// sequences that triggers an immediate retransmit (spec.md §4.3).
	FastRetransmitCarriers = 3
)

// CarriedMessage identifies one reliable message, by channel and
// channel-scoped message id, riding on a sent packet.
type CarriedMessage struct {
	ChannelID uint8
	MessageID uint16
}

// sentRecord is the back-reference table's value: what a sent sequence
// carried and when, per spec.md §9's integer-keyed arena-table design note.
type sentRecord struct {
	sentAt     time.Time
	retransmit bool
	carried    []CarriedMessage
}

// AckedMessage is returned from ProcessAcks: one reliable message that a
// newly-acknowledged sent-sequence carried.
type AckedMessage struct {
	CarriedMessage
	SentSeq uint16
}

// Estimator is the per-connection RTT/RTO state plus sent-sequence history
// used to translate packet-level acks into per-channel message acks.
type Estimator struct {
	srtt        float64 // milliseconds
	rttvar      float64
	hasSample   bool
	rto         time.Duration
	loss        float64 // EMA in [0,1]
	localSeq    uint16
	history     map[uint16]*sentRecord
	maxInFlight int

	// receive-side ack-bitfield state: the highest sequence seen from the
	// peer, and a bitfield of the AckBitsWindow sequences immediately
	// preceding it (bit i set means highestRecv-(i+1) was received).
	hasRecv     bool
	highestRecv uint16
	recvBits    uint32
}

// NewEstimator constructs an Estimator with the initial SRTT/RTTVAR spec.md
// §4.3 specifies, and the resulting initial RTO. maxInFlight bounds the
// sent-sequence history defensively; 0 means unbounded.
func NewEstimator(maxInFlight int) *Estimator {
	e := &Estimator{
		srtt:        float64(InitialSRTT / time.Millisecond),
		rttvar:      float64(InitialRTTVAR / time.Millisecond),
		history:     make(map[uint16]*sentRecord),
		maxInFlight: maxInFlight,
	}
	e.recomputeRTO()
	return e
}

// RTO returns the current adaptive retransmission timeout.
func (e *Estimator) RTO() time.Duration { return e.rto }

// SRTT returns the current smoothed round-trip-time estimate — the actual
// RTT sample average, not the timeout derived from it. Before the first
// real sample arrives this is InitialSRTT, per spec.md §4.3's stated
// starting point.
func (e *Estimator) SRTT() time.Duration {
	return time.Duration(e.srtt * float64(time.Millisecond))
}

// Loss returns the current packet-loss EMA, in [0,1].
func (e *Estimator) Loss() float64 { return e.loss }

// NextSequence allocates and returns the next outgoing packet sequence.
func (e *Estimator) NextSequence() uint16 {
	seq := e.localSeq
	e.localSeq++
	return seq
}

// OnPacketSent records sequence as carrying the given reliable messages
// (may be empty), for later ack translation.
func (e *Estimator) OnPacketSent(sequence uint16, now time.Time, retransmit bool, carried []CarriedMessage) {
	if e.maxInFlight > 0 && len(e.history) >= e.maxInFlight {
		e.evictOldest()
	}
	e.history[sequence] = &sentRecord{sentAt: now, retransmit: retransmit, carried: carried}
}

func (e *Estimator) evictOldest() {
	var oldestSeq uint16
	var oldestTime time.Time
	first := true
	for seq, rec := range e.history {
		if first || rec.sentAt.Before(oldestTime) {
			oldestSeq, oldestTime, first = seq, rec.sentAt, false
		}
	}
	if !first {
		delete(e.history, oldestSeq)
		e.recordLoss(true)
	}
}

// ProcessAcks consumes an incoming (ack, ackBits) pair per spec.md §4.3:
// the directly-acked sequence plus, for each set bit i ∈ [0,31], the
// sequence ack-(i+1). For each newly acknowledged sent-sequence it feeds an
// RTT sample (unless that send was itself a retransmit — Karn's algorithm)
// and returns every reliable message it carried so the caller can retire
// them from their channels' retransmit queues.
//
// It also returns carrierAcked: every reliable message still outstanding
// (its own carrying sequence not yet acked) whose carrying sequence is
// older than a sequence acked in this call. Three such carrier-acks for
// the same message is spec.md §4.3's fast-retransmit signal — packets
// sent after this one have been received, so this one is very likely
// lost, and there is no reason to wait out the full RTO to find out.
func (e *Estimator) ProcessAcks(ack uint16, ackBits uint32, now time.Time) (acked []AckedMessage, carrierAcked []CarriedMessage) {
	var newlyAcked []uint16
	if am := e.ackSingle(ack, now); am != nil {
		acked = append(acked, am...)
		newlyAcked = append(newlyAcked, ack)
	}
	for i := uint32(0); i < AckBitsWindow; i++ {
		if ackBits&(1<<i) == 0 {
			continue
		}
		seq := ack - uint16(i+1)
		if am := e.ackSingle(seq, now); am != nil {
			acked = append(acked, am...)
			newlyAcked = append(newlyAcked, seq)
		}
	}
	for _, s := range newlyAcked {
		carrierAcked = append(carrierAcked, e.carriersOlderThan(s)...)
	}
	return acked, carrierAcked
}

// carriersOlderThan returns the carried messages of every still-outstanding
// sent-sequence older than ackedSeq, i.e. messages that have circumstantial
// (but not yet direct) evidence of loss.
func (e *Estimator) carriersOlderThan(ackedSeq uint16) []CarriedMessage {
	var out []CarriedMessage
	for s, rec := range e.history {
		if sequence.Diff(s, ackedSeq) < 0 {
			out = append(out, rec.carried...)
		}
	}
	return out
}

func (e *Estimator) ackSingle(sequence uint16, now time.Time) []AckedMessage {
	rec, ok := e.history[sequence]
	if !ok {
		return nil
	}
	delete(e.history, sequence)

	if !rec.retransmit {
		sample := now.Sub(rec.sentAt)
		e.updateRTT(sample)
	}
	e.recordLoss(false)

	out := make([]AckedMessage, 0, len(rec.carried))
	for _, c := range rec.carried {
		out = append(out, AckedMessage{CarriedMessage: c, SentSeq: sequence})
	}
	return out
}

// OnRTOTimeout must be called whenever a reliable message's RTO has
// elapsed without an ack: it feeds a loss sample into the EMA and doubles
// the RTO per Karn's algorithm (spec.md §4.3: "on retransmit, RTO
// doubles").
func (e *Estimator) OnRTOTimeout() {
	e.recordLoss(true)
	doubled := e.rto * 2
	if doubled > RTOMax {
		doubled = RTOMax
	}
	e.rto = doubled
}

func (e *Estimator) updateRTT(sample time.Duration) {
	sampleMS := float64(sample) / float64(time.Millisecond)
	if !e.hasSample {
		e.srtt = sampleMS
		e.rttvar = sampleMS / 2
		e.hasSample = true
	} else {
		e.rttvar = (1-Beta)*e.rttvar + Beta*math.Abs(sampleMS-e.srtt)
		e.srtt = (1-Alpha)*e.srtt + Alpha*sampleMS
	}
	e.recomputeRTO()
}

func (e *Estimator) recomputeRTO() {
	gMS := float64(G / time.Millisecond)
	rtoMS := e.srtt + math.Max(gMS, K*e.rttvar)
	rto := time.Duration(rtoMS * float64(time.Millisecond))
	if rto < RTOMin {
		rto = RTOMin
	}
	if rto > RTOMax {
		rto = RTOMax
	}
	e.rto = rto
}

func (e *Estimator) recordLoss(lost bool) {
	x := 0.0
	if lost {
		x = 1.0
	}
	e.loss = (1-LossLambda)*e.loss + LossLambda*x
}

// InFlight reports how many sent sequences are still awaiting ack.
func (e *Estimator) InFlight() int { return len(e.history) }

// OnPacketReceived folds an inbound packet's sequence number into the
// receive-side ack bitfield state that AckInfo reports back to the peer.
// Sequences older than AckBitsWindow behind the current high-water mark
// are silently untracked (they fall out of the bitfield's range).
func (e *Estimator) OnPacketReceived(seq uint16) {
	if !e.hasRecv {
		e.hasRecv = true
		e.highestRecv = seq
		e.recvBits = 0
		return
	}
	d := sequence.Diff(seq, e.highestRecv)
	if d == 0 {
		return
	}
	if d > 0 {
		diff := uint32(d)
		if diff <= AckBitsWindow {
			e.recvBits = (e.recvBits << diff) | (1 << (diff - 1))
		} else {
			e.recvBits = 0
		}
		e.highestRecv = seq
		return
	}
	back := uint32(-d)
	if back <= AckBitsWindow {
		e.recvBits |= 1 << (back - 1)
	}
}

// AckInfo returns the (ack, ackBits) pair to stamp on the next outgoing
// header, reporting everything received so far from the peer.
func (e *Estimator) AckInfo() (ack uint16, ackBits uint32) {
	return e.highestRecv, e.recvBits
}
