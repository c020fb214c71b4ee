package gbnet

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/packetforge/gbnet/channel"
	"github.com/packetforge/gbnet/conn"
	"github.com/packetforge/gbnet/netsim"
	"github.com/packetforge/gbnet/security"
	"github.com/packetforge/gbnet/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// serverPeer is one remote peer, from its first accepted ConnectionRequest
// through handshake and connection, indexed both by source address string
// (mirroring rudp.Listener's addr2peer map) and by connection id.
type serverPeer struct {
	addr      net.Addr
	c         *conn.Connection
	announced bool // ServerClientConnected already surfaced
}

// NetServer is the server-side façade (component I): Bind/Update/Send/
// Broadcast/Disconnect/PollEvent, per spec.md §6. Grounded on
// anon55555/mt/rudp.Listener's addr2peer/id2peer bookkeeping, adapted from
// its goroutine-driven Accept() channel to a synchronous Update(now) drain
// loop per spec.md §5 and original_source/gbnet/src/server.rs's
// NetServer::update.
type NetServer struct {
	cfg       *NetworkConfig
	connCfg   conn.Config
	sock      Socket
	validator *security.TokenValidator
	limiter   *security.RateLimiter
	metrics   *metricsSink

	byAddr map[string]*serverPeer
	byID   map[uint16]*serverPeer
	nextID uint16

	events []ServerEvent
}

// Bind opens sock (already listening) as a server accepting connections
// validated against cfg.TokenKey.
func Bind(sock Socket, cfg *NetworkConfig) (*NetServer, error) {
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
	s := &NetServer{
		cfg:       cfg,
		connCfg:   connCfg,
		sock:      sock,
		validator: security.NewTokenValidator(cfg.TokenKey, cfg.TokenValidatorCapacity),
		limiter:   security.NewRateLimiter(cfg.RateLimitRefillPerSec, cfg.RateLimitBurst),
		byAddr:    make(map[string]*serverPeer),
		byID:      make(map[uint16]*serverPeer),
	}
	if cfg.Metrics != nil {
		s.metrics = newMetricsSink(cfg.Metrics)
	}
	return s, nil
}

// ListenAndBind is a convenience wrapper grounded on rudp.Listen's
// net.ListenPacket + Listen(conn) pairing.
func ListenAndBind(network, addr string, cfg *NetworkConfig) (*NetServer, error) {
	pc, err := net.ListenPacket(network, addr)
	if err != nil {
		return nil, newError(ErrIo, err)
	}
	mtu := 1500
	if cfg != nil && cfg.MTU > 0 {
		mtu = cfg.MTU
	}
	return Bind(NewPacketConnSocket(pc, mtu), cfg)
}

func (s *NetServer) pushEvent(e ServerEvent) {
	s.events = append(s.events, e)
	if s.metrics != nil {
		s.metrics.observeServerEvent(e)
	}
}

// Update drains the socket, advances every connection's handshake/payload
// state machine, and sends outgoing packets, all synchronously — the
// single-threaded cooperative model of spec.md §5.
func (s *NetServer) Update(now time.Time) {
	for {
		addr, data, ok, err := s.sock.RecvFrom()
		if err != nil {
			s.pushEvent(ServerEvent{Kind: ServerError, Err: newError(ErrIo, err)})
			continue
		}
		if !ok {
			break
		}
		s.handleDatagram(addr, data, now)
	}

	for id, p := range s.byID {
		packets, reason, timedOut := p.c.Tick(now)
		for _, pkt := range packets {
			if err := s.sock.SendTo(p.addr, pkt); err != nil {
				s.pushEvent(ServerEvent{Kind: ServerError, ConnectionID: id, Err: newError(ErrIo, err)})
			}
		}
		if s.metrics != nil {
			s.metrics.observeStats(id, p.c.Stats())
		}
		if timedOut {
			s.removePeer(id)
			s.pushEvent(ServerEvent{Kind: ServerClientDisconnected, ConnectionID: id, Reason: reason})
			continue
		}
		if p.c.State == conn.Disconnected {
			s.removePeer(id)
		}
	}

	// Handshakes in progress (not yet assigned a byID slot beyond the
	// initial one — NewServerSide assigns connection id up front, so
	// pending connections already live in both maps; nothing further to
	// drain here).
	if s.limiter != nil {
		s.limiter.Prune(now, 5*time.Minute)
	}
	s.validator.ExpireStale(now)
}

func (s *NetServer) handleDatagram(addr net.Addr, data []byte, now time.Time) {
	pkt, ok := wire.Decode(data)
	if !ok {
		s.pushEvent(ServerEvent{Kind: ServerError, Err: newError(ErrInvalidPacket, nil)})
		return
	}
	if p, ok := s.byAddr[addr.String()]; ok {
		p.c.NoteBytesReceived(len(data))
		delivered := p.c.HandleIncoming(pkt, now)
		s.surfaceDelivered(p, delivered)
		s.announceIfConnected(p)
		return
	}
	if pkt.Header.Type != wire.ConnectionRequest {
		return // unknown peer sending anything but a request: ignore
	}
	s.handleConnectionRequest(addr, pkt, now)
}

func (s *NetServer) surfaceDelivered(p *serverPeer, delivered []conn.DeliveredMessage) {
	for _, m := range delivered {
		s.pushEvent(ServerEvent{Kind: ServerMessageReceived, ConnectionID: p.c.ConnectionID, ChannelID: m.ChannelID, Message: m.Body})
	}
}

// announceIfConnected surfaces ServerClientConnected the first time a
// peer's handshake completes; Connection itself has no event queue of its
// own (spec.md §5 keeps it a plain synchronous state machine), so the
// façade detects the transition by state, once, per peer.
func (s *NetServer) announceIfConnected(p *serverPeer) {
	if !p.announced && p.c.State == conn.Connected {
		p.announced = true
		s.pushEvent(ServerEvent{Kind: ServerClientConnected, ConnectionID: p.c.ConnectionID})
	}
}

func (s *NetServer) handleConnectionRequest(addr net.Addr, pkt *wire.Packet, now time.Time) {
	if !s.limiter.Allow(addr, now) {
		return // spec.md §4.7: dropped silently, no reply, to avoid reflection
	}
	token, err := security.DecodeConnectToken(pkt.Payload)
	if err != nil {
		s.denyOrDrop(addr, pkt.Header.ProtocolID, wire.DenyInvalidToken)
		return
	}
	tokenAddr := s.cfg.TokenServerAddr
	if tokenAddr == nil {
		tokenAddr = s.sock.LocalAddr()
	}
	if err := s.validator.Accept(token, tokenAddr, now); err != nil {
		s.denyOrDrop(addr, pkt.Header.ProtocolID, wire.DenyInvalidToken)
		return
	}
	if s.cfg.MaxConnections > 0 && len(s.byID) >= s.cfg.MaxConnections {
		s.denyOrDrop(addr, pkt.Header.ProtocolID, wire.DenyServerFull)
		return
	}

	id := s.allocID()
	nonce := randomNonce()
	c := conn.NewServerSide(pkt.Header.ProtocolID, id, nonce, s.connCfg, now)
	p := &serverPeer{addr: addr, c: c}
	s.byAddr[addr.String()] = p
	s.byID[id] = p
}

// denyOrDrop replies with ConnectionDenied carrying reason, per spec.md
// §7's ConnectionDenied{reason} surfaced-to-client policy. It replies for
// every reason it is called with; rate-limited requests are dropped before
// it is reached.
func (s *NetServer) denyOrDrop(addr net.Addr, protocolID uint32, reason wire.DenyReason) {
	pkt := &wire.Packet{
		Header: wire.Header{ProtocolID: protocolID, Type: wire.ConnectionDenied},
		Body:   wire.TypeBody{DenyReason: reason},
	}
	data, err := wire.Encode(pkt)
	if err != nil {
		return
	}
	_ = s.sock.SendTo(addr, data)
}

func (s *NetServer) allocID() uint16 {
	for {
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if _, taken := s.byID[s.nextID]; !taken {
			return s.nextID
		}
	}
}

func (s *NetServer) removePeer(id uint16) {
	p, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.byAddr, p.addr.String())
}

// Send queues body on channelID for delivery to connectionID.
func (s *NetServer) Send(connectionID uint16, channelID uint8, body []byte, now time.Time) error {
	p, ok := s.byID[connectionID]
	if !ok {
		return newError(ErrNotConnected, ErrNoSuchConnection)
	}
	if err := p.c.Send(channelID, body, now); err != nil {
		return translateConnError(err)
	}
	return nil
}

// Broadcast queues body on channelID for every currently connected peer,
// per spec.md §6's broadcast(channel_id, message).
func (s *NetServer) Broadcast(channelID uint8, body []byte, now time.Time) {
	for _, p := range s.byID {
		_ = p.c.Send(channelID, body, now)
	}
}

// Disconnect begins a graceful disconnect of connectionID.
func (s *NetServer) Disconnect(connectionID uint16, reason wire.DisconnectReason, now time.Time) error {
	p, ok := s.byID[connectionID]
	if !ok {
		return newError(ErrNotConnected, ErrNoSuchConnection)
	}
	p.c.Disconnect(reason, now)
	return nil
}

// Stats reports connectionID's diagnostics snapshot, or ok=false if no peer
// (connected or still mid-handshake) holds that id.
func (s *NetServer) Stats(connectionID uint16) (conn.Stats, bool) {
	p, ok := s.byID[connectionID]
	if !ok {
		return conn.Stats{}, false
	}
	return p.c.Stats(), true
}

// PollEvent returns the next queued ServerEvent, or ok=false if none are
// pending.
func (s *NetServer) PollEvent() (ServerEvent, bool) {
	if len(s.events) == 0 {
		return ServerEvent{}, false
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

// Close releases the underlying socket.
func (s *NetServer) Close() error { return s.sock.Close() }

// MetricsRegistry returns the server's private Prometheus registry, or nil
// if cfg.Metrics was not set on Bind.
func (s *NetServer) MetricsRegistry() *prometheus.Registry {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Registry()
}

func translateConnError(err error) *NetError {
	switch err {
	case conn.ErrNotConnected:
		return newError(ErrNotConnected, err)
	case conn.ErrMessageTooLarge:
		return newError(ErrMessageTooLarge, err)
	case conn.ErrUnknownChannel:
		return newError(ErrNotConnected, err)
	case channel.ErrChannelFull:
		return newError(ErrChannelFull, err)
	case channel.ErrMessageTooLarge:
		return newError(ErrMessageTooLarge, err)
	default:
		return newError(ErrIo, err)
	}
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable (entropy
		// source gone); a deterministic fallback keeps the handshake
		// from panicking but is never expected to be reached in practice.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
