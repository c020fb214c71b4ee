package conn

import (
	"time"

	"github.com/packetforge/gbnet/channel"
	"github.com/packetforge/gbnet/congestion"
	"github.com/packetforge/gbnet/wire"
)

// ChannelSpec describes one configured channel: id, delivery mode, and the
// size/queue caps spec.md §6's configuration surface lists per channel.
type ChannelSpec struct {
	ID                 uint8
	Mode               channel.DeliveryMode
	MaxMessageSize     int
	RetransmitQueueCap int
}

// Config is the subset of NetworkConfig (the root package's public
// configuration type) a single Connection needs, passed down rather than
// imported directly to keep conn free of a dependency on the root
// package (the root package depends on conn, not the reverse).
type Config struct {
	MTU                   int
	Channels              []ChannelSpec
	KeepaliveInterval     time.Duration
	ConnectionTimeout     time.Duration
	RequestRetryInterval  time.Duration
	MaxRequestAttempts    int
	DisconnectDrain       time.Duration
	FragmentTableCapacity int
	FragmentTTL           time.Duration
	WindowSize            int
	MaxInFlightPackets    int

	// Congestion{Good,Bad}{RTT,Loss} feed congestion.NewControllerWithThresholds;
	// left at zero they fall back to that package's own defaults (see
	// newConnection).
	CongestionGoodRTT  time.Duration
	CongestionBadRTT   time.Duration
	CongestionGoodLoss float64
	CongestionBadLoss  float64
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		MTU:                   1200,
		KeepaliveInterval:     100 * time.Millisecond,
		ConnectionTimeout:     5 * time.Second,
		RequestRetryInterval:  100 * time.Millisecond,
		MaxRequestAttempts:    10,
		DisconnectDrain:       200 * time.Millisecond,
		FragmentTableCapacity: 256,
		FragmentTTL:           5 * time.Second,
		WindowSize:            channel.DefaultWindowSize,
		MaxInFlightPackets:    1024,
		CongestionGoodRTT:     congestion.GoodRTT,
		CongestionBadRTT:      congestion.BadRTT,
		CongestionGoodLoss:    congestion.GoodLoss,
		CongestionBadLoss:     congestion.BadLoss,
	}
}

// HeaderOverhead is the byte size of a serialized wire.Header once
// byte-aligned, used by the batcher to size its MTU budget.
const HeaderOverhead = (wire.HeaderBits + 7) / 8

func buildChannel(spec ChannelSpec, windowSize int) channel.Channel {
	switch spec.Mode {
	case channel.Unreliable:
		return channel.NewUnreliable(spec.ID)
	case channel.UnreliableSequenced:
		return channel.NewUnreliableSequenced(spec.ID)
	case channel.ReliableUnordered:
		return channel.NewReliableUnordered(spec.ID, windowSize, spec.RetransmitQueueCap)
	case channel.ReliableOrdered:
		return channel.NewReliableOrdered(spec.ID, windowSize, spec.RetransmitQueueCap)
	case channel.ReliableSequenced:
		return channel.NewReliableSequenced(spec.ID, spec.RetransmitQueueCap)
	default:
		return channel.NewUnreliable(spec.ID)
	}
}

// fragmentChannelID is reserved for the dedicated reliable-unordered
// sub-channel fragments travel on (spec.md §4.5). Application channel ids
// are expected to leave this one free.
const fragmentChannelID uint8 = 255
