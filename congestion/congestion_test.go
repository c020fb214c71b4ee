package congestion

import (
	"testing"
	"time"
)

var epoch = time.Unix(0, 0)

func TestStartsInGood(t *testing.T) {
	c := NewController()
	if c.Mode() != Good {
		t.Fatalf("expected initial mode Good, got %v", c.Mode())
	}
	if c.MaxPacketsPerSec() != MaxPacketsPerSecGood {
		t.Errorf("got %d, want %d", c.MaxPacketsPerSec(), MaxPacketsPerSecGood)
	}
}

func TestEntersBadOnHighRTT(t *testing.T) {
	c := NewController()
	c.Update(epoch, 300*time.Millisecond, 0)
	if c.Mode() != Bad {
		t.Fatalf("expected Bad after RTT exceeds threshold, got %v", c.Mode())
	}
	if c.MaxPacketsPerSec() != MaxPacketsPerSecBad {
		t.Errorf("got %d, want %d", c.MaxPacketsPerSec(), MaxPacketsPerSecBad)
	}
}

func TestEntersBadOnHighLoss(t *testing.T) {
	c := NewController()
	c.Update(epoch, 10*time.Millisecond, 0.1)
	if c.Mode() != Bad {
		t.Fatalf("expected Bad after loss exceeds threshold, got %v", c.Mode())
	}
}

func TestRecoversToGoodAfterSustainedGoodConditions(t *testing.T) {
	c := NewController()
	c.Update(epoch, 300*time.Millisecond, 0) // -> Bad, recoveryTime doubles to 2s
	if c.RecoveryTime() != 2*time.Second {
		t.Fatalf("expected recovery time doubled to 2s, got %v", c.RecoveryTime())
	}
	t1 := epoch.Add(time.Second)
	c.Update(t1, 10*time.Millisecond, 0) // good conditions begin
	if c.Mode() != Bad {
		t.Fatal("should not recover before the full recovery window elapses")
	}
	t2 := t1.Add(2 * time.Second)
	c.Update(t2, 10*time.Millisecond, 0)
	if c.Mode() != Good {
		t.Fatalf("expected recovery to Good after recovery window, got %v", c.Mode())
	}
}

func TestFlapDoublesRecoveryTimeUpToMax(t *testing.T) {
	c := NewController()
	now := epoch
	for i := 0; i < 10; i++ {
		c.Update(now, 300*time.Millisecond, 0) // force Bad each time
		now = now.Add(time.Millisecond)
		c.Update(now, 10*time.Millisecond, 0) // one good sample, not enough to recover
		now = now.Add(time.Millisecond)
		// Force back to bad before recovery completes, to flap again.
	}
	if c.RecoveryTime() > maxRecoveryTime {
		t.Fatalf("recovery time exceeded max: %v", c.RecoveryTime())
	}
}

func TestBatchPacketsAlwaysEmitsAtLeastOnePacket(t *testing.T) {
	packets := BatchPackets(nil, 1200, 20)
	if len(packets) != 1 {
		t.Fatalf("expected 1 (possibly empty) packet, got %d", len(packets))
	}
}

func TestBatchPacketsPrioritizesReliableThenChannelID(t *testing.T) {
	candidates := []Candidate{
		{ChannelID: 3, Reliable: false, Body: []byte("unreliable-3")},
		{ChannelID: 1, Reliable: true, Body: []byte("reliable-1")},
		{ChannelID: 0, Reliable: false, Body: []byte("unreliable-0")},
		{ChannelID: 2, Reliable: true, Body: []byte("reliable-2")},
	}
	packets := BatchPackets(candidates, 1200, 20)
	if len(packets) != 1 {
		t.Fatalf("expected everything to fit in 1 packet, got %d", len(packets))
	}
	got := packets[0]
	if !got[0].Reliable || !got[1].Reliable {
		t.Fatalf("expected reliable candidates first, got %+v", got)
	}
	if got[0].ChannelID > got[1].ChannelID {
		t.Errorf("expected reliable candidates ordered by channel id, got %+v", got)
	}
	if got[2].Reliable || got[3].Reliable {
		t.Fatalf("expected unreliable candidates last, got %+v", got)
	}
}

func TestBatchPacketsSplitsAtMTU(t *testing.T) {
	big := make([]byte, 700)
	candidates := []Candidate{
		{ChannelID: 0, Body: big},
		{ChannelID: 1, Body: big},
		{ChannelID: 2, Body: big},
	}
	packets := BatchPackets(candidates, 1200, 20)
	if len(packets) < 2 {
		t.Fatalf("expected messages to split across multiple packets, got %d", len(packets))
	}
}

func TestBandwidthTrackerEMA(t *testing.T) {
	bw := NewBandwidthTracker()
	bw.RecordSent(100)
	bw.Sample(epoch)
	if bw.SentBytesPerTickEMA() != 100 {
		t.Fatalf("first sample should seed EMA exactly, got %v", bw.SentBytesPerTickEMA())
	}
	bw.RecordSent(0)
	bw.Sample(epoch.Add(time.Second))
	if bw.SentBytesPerTickEMA() >= 100 {
		t.Fatalf("EMA should decay toward 0 after a zero-byte tick, got %v", bw.SentBytesPerTickEMA())
	}
}
