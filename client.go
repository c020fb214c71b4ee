package gbnet

import (
	"net"
	"time"

	"github.com/packetforge/gbnet/conn"
	"github.com/packetforge/gbnet/netsim"
	"github.com/packetforge/gbnet/security"
	"github.com/packetforge/gbnet/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// NetClient is the client-side façade (component I): Connect/Update/Send/
// Disconnect/PollEvent, per spec.md §6. Grounded on rudp.Connect's
// dial-then-wrap-a-Conn shape, adapted from the teacher's
// goroutine-per-connection sendPings/recvUDPPkts pair to a synchronous
// Update(now) drain loop matching NetServer's.
type NetClient struct {
	cfg     *NetworkConfig
	sock    Socket
	addr    net.Addr
	c       *conn.Connection
	metrics *metricsSink

	announced         bool
	handshakeReported bool
	events            []ClientEvent
}

// Dial resolves and connects a UDP socket to serverAddr and calls Connect
// with it.
func Dial(network, serverAddr string, token *security.ConnectToken, cfg *NetworkConfig, now time.Time) (*NetClient, error) {
	raddr, err := net.ResolveUDPAddr(network, serverAddr)
	if err != nil {
		return nil, newError(ErrIo, err)
	}
	pc, err := net.ListenPacket(network, ":0")
	if err != nil {
		return nil, newError(ErrIo, err)
	}
	mtu := 1500
	if cfg != nil && cfg.MTU > 0 {
		mtu = cfg.MTU
	}
	return Connect(NewPacketConnSocket(pc, mtu), raddr, token, cfg, now)
}

// Connect begins the handshake against addr over sock using token.
func Connect(sock Socket, addr net.Addr, token *security.ConnectToken, cfg *NetworkConfig, now time.Time) (*NetClient, error) {
	if cfg == nil {
		cfg = DefaultNetworkConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connCfg, err := cfg.toConnConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Simulator != nil {
		sock = netsim.Wrap(sock, cfg.Simulator.toNetsimConfig())
	}
	c := conn.NewClient(cfg.ProtocolID, connCfg)
	c.Connect(token, now)
	cl := &NetClient{cfg: cfg, sock: sock, addr: addr, c: c}
	if cfg.Metrics != nil {
		cl.metrics = newMetricsSink(cfg.Metrics)
	}
	return cl, nil
}

func (c *NetClient) pushEvent(e ClientEvent) {
	c.events = append(c.events, e)
	if c.metrics != nil {
		c.metrics.observeClientEvent(e)
	}
}

// Update drains the socket, advances the handshake/payload state machine,
// and flushes outgoing packets.
func (c *NetClient) Update(now time.Time) {
	for {
		_, data, ok, err := c.sock.RecvFrom()
		if err != nil {
			c.pushEvent(ClientEvent{Kind: ClientError, Err: newError(ErrIo, err)})
			continue
		}
		if !ok {
			break
		}
		pkt, ok := wire.Decode(data)
		if !ok {
			continue
		}
		c.c.NoteBytesReceived(len(data))
		delivered := c.c.HandleIncoming(pkt, now)
		for _, m := range delivered {
			c.pushEvent(ClientEvent{Kind: ClientMessageReceived, ChannelID: m.ChannelID, Message: m.Body})
		}
	}

	if !c.announced && c.c.State == conn.Connected {
		c.announced = true
		c.pushEvent(ClientEvent{Kind: ClientConnected})
	}
	if !c.handshakeReported {
		if failed, denied, reason := c.c.Failed(); failed {
			c.handshakeReported = true
			if denied {
				c.pushEvent(ClientEvent{Kind: ClientError, Err: newDeniedError(reason)})
			} else {
				c.pushEvent(ClientEvent{Kind: ClientError, Err: newError(ErrTimeout, nil)})
			}
			c.pushEvent(ClientEvent{Kind: ClientDisconnected, Reason: wire.DisconnectTimeout})
		}
	}

	packets, reason, timedOut := c.c.Tick(now)
	for _, pkt := range packets {
		if err := c.sock.SendTo(c.addr, pkt); err != nil {
			c.pushEvent(ClientEvent{Kind: ClientError, Err: newError(ErrIo, err)})
		}
	}
	if c.metrics != nil {
		c.metrics.observeStats(c.c.ConnectionID, c.c.Stats())
	}
	if timedOut {
		c.pushEvent(ClientEvent{Kind: ClientDisconnected, Reason: reason})
	}
}

// Send queues body for delivery on channelID.
func (c *NetClient) Send(channelID uint8, body []byte, now time.Time) error {
	if err := c.c.Send(channelID, body, now); err != nil {
		return translateConnError(err)
	}
	return nil
}

// Disconnect begins a graceful, idempotent disconnect (invariant 10).
func (c *NetClient) Disconnect(now time.Time) {
	c.c.Disconnect(wire.DisconnectRequested, now)
}

// Stats reports the connection's current diagnostics snapshot.
func (c *NetClient) Stats() conn.Stats { return c.c.Stats() }

// PollEvent returns the next queued ClientEvent, or ok=false if none are
// pending.
func (c *NetClient) PollEvent() (ClientEvent, bool) {
	if len(c.events) == 0 {
		return ClientEvent{}, false
	}
	e := c.events[0]
	c.events = c.events[1:]
	return e, true
}

// Close releases the underlying socket.
func (c *NetClient) Close() error { return c.sock.Close() }

// MetricsRegistry returns the client's private Prometheus registry, or nil
// if cfg.Metrics was not set on Connect/Dial.
func (c *NetClient) MetricsRegistry() *prometheus.Registry {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Registry()
}
