// Package gbnet is the application-facing façade over the transport's
// internal components, mirroring the teacher's layout: a flat root
// package (there: mt, here: gbnet) sitting on top of a dedicated
// low-level transport (there: rudp, here split into bitstream/wire/
// channel/reliability/fragment/security/congestion/conn).
package gbnet

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/packetforge/gbnet/channel"
	"github.com/packetforge/gbnet/conn"
	"github.com/packetforge/gbnet/netsim"
	"gopkg.in/yaml.v2"
)

// ChannelConfig describes one application channel, per spec.md §6's
// per-channel config list (id, mode, message-size cap, retransmit-queue
// cap).
type ChannelConfig struct {
	ID                 uint8  `yaml:"id"`
	Mode               string `yaml:"mode"` // "unreliable", "unreliable_sequenced", "reliable_unordered", "reliable_ordered", "reliable_sequenced"
	MaxMessageSize     int    `yaml:"max_message_size"`
	RetransmitQueueCap int    `yaml:"retransmit_queue_cap"`
}

func (c ChannelConfig) mode() (channel.DeliveryMode, error) {
	switch c.Mode {
	case "unreliable":
		return channel.Unreliable, nil
	case "unreliable_sequenced":
		return channel.UnreliableSequenced, nil
	case "reliable_unordered":
		return channel.ReliableUnordered, nil
	case "reliable_ordered":
		return channel.ReliableOrdered, nil
	case "reliable_sequenced":
		return channel.ReliableSequenced, nil
	default:
		return 0, fmt.Errorf("gbnet: unknown channel mode %q for channel %d", c.Mode, c.ID)
	}
}

// NetworkConfig is the enumerated configuration surface of spec.md §6,
// loadable from YAML the same way HimbeerserverDE/multiserver.LoadConfig
// and Clouded-Sabre/Pseudo-TCP/config read theirs.
type NetworkConfig struct {
	ProtocolID uint32 `yaml:"protocol_id"`

	MTU            int             `yaml:"mtu"`
	MaxConnections int             `yaml:"max_connections"`
	Channels       []ChannelConfig `yaml:"channels"`

	KeepaliveIntervalMS int `yaml:"keepalive_interval_ms"`
	ConnectionTimeoutMS int `yaml:"connection_timeout_ms"`

	RequestRetryIntervalMS int `yaml:"request_retry_interval_ms"`
	MaxRequestAttempts     int `yaml:"max_request_attempts"`
	DisconnectDrainMS      int `yaml:"disconnect_drain_ms"`

	FragmentTableCapacity int `yaml:"fragment_table_capacity"`
	FragmentTTLMS         int `yaml:"fragment_ttl_ms"`
	WindowSize            int `yaml:"window_size"`
	MaxInFlightPackets    int `yaml:"max_in_flight_packets"`

	RateLimitRefillPerSec float64 `yaml:"rate_limit_refill_per_sec"`
	RateLimitBurst        float64 `yaml:"rate_limit_burst"`

	CongestionGoodRTTMS   int     `yaml:"congestion_good_rtt_ms"`
	CongestionBadRTTMS    int     `yaml:"congestion_bad_rtt_ms"`
	CongestionGoodLoss    float64 `yaml:"congestion_good_loss_ratio"`
	CongestionBadLoss     float64 `yaml:"congestion_bad_loss_ratio"`

	// TokenKey is the HMAC key ConnectToken signatures are verified
	// against. Required on the server; unused on the client (which never
	// verifies, only presents, a token).
	TokenKey []byte `yaml:"-"`

	// TokenValidatorCapacity bounds the server's single-use replay LRU.
	TokenValidatorCapacity int `yaml:"token_validator_capacity"`

	// TokenServerAddr is the address a presented ConnectToken's
	// allowed-address list is checked against. Defaults to the bound
	// socket's own LocalAddr() when nil, but a server behind NAT or
	// bound to a wildcard address needs this set explicitly to the
	// address clients actually dial, since that's what tokens are
	// issued against.
	TokenServerAddr net.Addr `yaml:"-"`

	// Simulator optionally wraps the socket with the netsim package's
	// loss/latency/jitter/duplicate conditions (spec.md §9); nil disables
	// it entirely.
	Simulator *SimulatorConfig `yaml:"simulator"`

	// Metrics optionally wires per-connection stats into Prometheus, an
	// ambient addition beyond spec.md's explicit surface (SPEC_FULL.md §6).
	Metrics *MetricsConfig `yaml:"metrics"`

	// Logger defaults to log.New(os.Stderr, "gbnet: ", log.LstdFlags) if
	// nil. Nothing in this package writes to it; send and receive errors
	// surface as ServerError/ClientError events instead.
	Logger *log.Logger `yaml:"-"`
}

// SimulatorConfig configures the optional netsim collaborator.
type SimulatorConfig struct {
	LossProbability      float64 `yaml:"loss_probability"`
	DuplicateProbability float64 `yaml:"duplicate_probability"`
	ExtraLatencyMS       int     `yaml:"extra_latency_ms"`
	JitterMS             int     `yaml:"jitter_ms"`
}

func (c *SimulatorConfig) toNetsimConfig() netsim.Config {
	return netsim.Config{
		LossProbability:      c.LossProbability,
		DuplicateProbability: c.DuplicateProbability,
		ExtraLatency:         time.Duration(c.ExtraLatencyMS) * time.Millisecond,
		Jitter:               time.Duration(c.JitterMS) * time.Millisecond,
	}
}

// MetricsConfig configures the optional Prometheus sink.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// DefaultNetworkConfig mirrors the field-by-field defaults spec.md §6
// lists (mtu 1200 etc.), matching conn.DefaultConfig()'s values so the two
// stay in lockstep.
func DefaultNetworkConfig() *NetworkConfig {
	d := conn.DefaultConfig()
	return &NetworkConfig{
		ProtocolID:              0x47424E54, // "GBNT"
		MTU:                     d.MTU,
		MaxConnections:          64,
		KeepaliveIntervalMS:     int(d.KeepaliveInterval / time.Millisecond),
		ConnectionTimeoutMS:     int(d.ConnectionTimeout / time.Millisecond),
		RequestRetryIntervalMS:  int(d.RequestRetryInterval / time.Millisecond),
		MaxRequestAttempts:      d.MaxRequestAttempts,
		DisconnectDrainMS:       int(d.DisconnectDrain / time.Millisecond),
		FragmentTableCapacity:   d.FragmentTableCapacity,
		FragmentTTLMS:           int(d.FragmentTTL / time.Millisecond),
		WindowSize:              d.WindowSize,
		MaxInFlightPackets:      d.MaxInFlightPackets,
		RateLimitRefillPerSec:   20,
		RateLimitBurst:          10,
		CongestionGoodRTTMS:     100,
		CongestionBadRTTMS:      250,
		CongestionGoodLoss:      0.01,
		CongestionBadLoss:       0.05,
		TokenValidatorCapacity:  1024,
	}
}

// LoadNetworkConfig reads a YAML file into a NetworkConfig seeded with
// DefaultNetworkConfig's values, the same "read file, unmarshal into
// struct, return" shape as HimbeerserverDE/multiserver.LoadConfig.
func LoadNetworkConfig(path string) (*NetworkConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(ErrIo, err)
	}
	defer f.Close()
	return DecodeNetworkConfig(f)
}

// DecodeNetworkConfig reads YAML from r into a NetworkConfig, exposed
// separately from LoadNetworkConfig for tests that don't want a file on
// disk.
func DecodeNetworkConfig(r io.Reader) (*NetworkConfig, error) {
	cfg := DefaultNetworkConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, newError(ErrSerialization, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces range checks and fills in defaults, mirroring the
// original source's config.validate() call from NetServer::bind.
func (c *NetworkConfig) Validate() error {
	if c.MTU <= 0 {
		c.MTU = DefaultNetworkConfig().MTU
	}
	if c.KeepaliveIntervalMS <= 0 {
		c.KeepaliveIntervalMS = DefaultNetworkConfig().KeepaliveIntervalMS
	}
	if c.ConnectionTimeoutMS <= 0 {
		c.ConnectionTimeoutMS = DefaultNetworkConfig().ConnectionTimeoutMS
	}
	if c.MaxRequestAttempts <= 0 {
		c.MaxRequestAttempts = DefaultNetworkConfig().MaxRequestAttempts
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultNetworkConfig().WindowSize
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "gbnet: ", log.LstdFlags)
	}
	seen := make(map[uint8]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID == fragmentReservedID {
			return fmt.Errorf("gbnet: channel id %d is reserved for fragment reassembly", fragmentReservedID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("gbnet: duplicate channel id %d", ch.ID)
		}
		seen[ch.ID] = true
		if _, err := ch.mode(); err != nil {
			return err
		}
	}
	return nil
}

// fragmentReservedID mirrors conn's fragmentChannelID; kept as a separate
// constant since conn does not export its own.
const fragmentReservedID uint8 = 255

// toConnConfig translates the public NetworkConfig into the internal
// conn.Config the connection state machine actually consumes.
func (c *NetworkConfig) toConnConfig() (conn.Config, error) {
	specs := make([]conn.ChannelSpec, 0, len(c.Channels))
	for _, ch := range c.Channels {
		mode, err := ch.mode()
		if err != nil {
			return conn.Config{}, err
		}
		specs = append(specs, conn.ChannelSpec{
			ID:                 ch.ID,
			Mode:               mode,
			MaxMessageSize:     ch.MaxMessageSize,
			RetransmitQueueCap: ch.RetransmitQueueCap,
		})
	}
	return conn.Config{
		MTU:                   c.MTU,
		Channels:              specs,
		KeepaliveInterval:     time.Duration(c.KeepaliveIntervalMS) * time.Millisecond,
		ConnectionTimeout:     time.Duration(c.ConnectionTimeoutMS) * time.Millisecond,
		RequestRetryInterval:  time.Duration(c.RequestRetryIntervalMS) * time.Millisecond,
		MaxRequestAttempts:    c.MaxRequestAttempts,
		DisconnectDrain:       time.Duration(c.DisconnectDrainMS) * time.Millisecond,
		FragmentTableCapacity: c.FragmentTableCapacity,
		FragmentTTL:           time.Duration(c.FragmentTTLMS) * time.Millisecond,
		WindowSize:            c.WindowSize,
		MaxInFlightPackets:    c.MaxInFlightPackets,
		CongestionGoodRTT:     time.Duration(c.CongestionGoodRTTMS) * time.Millisecond,
		CongestionBadRTT:      time.Duration(c.CongestionBadRTTMS) * time.Millisecond,
		CongestionGoodLoss:    c.CongestionGoodLoss,
		CongestionBadLoss:     c.CongestionBadLoss,
	}, nil
}
