package congestion

import "time"

// bandwidthEMALambda smooths the per-tick byte counters. spec.md §4.3
// names λ = 1/16 for the loss EMA but does not fix one for bandwidth; this
// package uses a faster-reacting 1/8 so conn.Stats tracks short-lived
// bursts more responsively than the loss estimate needs to.
const bandwidthEMALambda = 1.0 / 8.0

// BandwidthTracker is the per-connection EMA of sent/received bytes,
// sampled once per tick, per spec.md §4.8.
type BandwidthTracker struct {
	sentEMA, recvEMA     float64
	accumSent, accumRecv int
	hasSample             bool
}

func NewBandwidthTracker() *BandwidthTracker { return &BandwidthTracker{} }

// RecordSent/RecordRecv accumulate bytes seen since the last Sample call.
func (b *BandwidthTracker) RecordSent(n int) { b.accumSent += n }
func (b *BandwidthTracker) RecordRecv(n int) { b.accumRecv += n }

// Sample folds this tick's accumulated byte counts into the EMA and
// resets the accumulators. Call once per tick.
func (b *BandwidthTracker) Sample(now time.Time) {
	if !b.hasSample {
		b.sentEMA = float64(b.accumSent)
		b.recvEMA = float64(b.accumRecv)
		b.hasSample = true
	} else {
		b.sentEMA = (1-bandwidthEMALambda)*b.sentEMA + bandwidthEMALambda*float64(b.accumSent)
		b.recvEMA = (1-bandwidthEMALambda)*b.recvEMA + bandwidthEMALambda*float64(b.accumRecv)
	}
	b.accumSent = 0
	b.accumRecv = 0
}

func (b *BandwidthTracker) SentBytesPerTickEMA() float64 { return b.sentEMA }
func (b *BandwidthTracker) RecvBytesPerTickEMA() float64 { return b.recvEMA }
