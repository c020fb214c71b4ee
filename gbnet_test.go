package gbnet

import (
	"net"
	"testing"
	"time"

	"github.com/packetforge/gbnet/security"
)

// memAddr is a trivial net.Addr so memSocket pairs don't need real
// sockets, the same in-process substitute conn/connection_test.go's
// drive helper uses for Connection pairs, one layer up for NetServer/
// NetClient.
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type datagram struct {
	from net.Addr
	body []byte
}

// memSocket is a Socket backed by an in-memory inbox instead of a real
// net.PacketConn, so handshake/round-trip tests run deterministically
// without binding UDP ports.
type memSocket struct {
	addr  memAddr
	peer  *memSocket
	inbox []datagram
}

func newMemSocketPair(a, b memAddr) (*memSocket, *memSocket) {
	sa := &memSocket{addr: a}
	sb := &memSocket{addr: b}
	sa.peer, sb.peer = sb, sa
	return sa, sb
}

func (s *memSocket) SendTo(_ net.Addr, b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	s.peer.inbox = append(s.peer.inbox, datagram{from: s.addr, body: cp})
	return nil
}

func (s *memSocket) RecvFrom() (net.Addr, []byte, bool, error) {
	if len(s.inbox) == 0 {
		return nil, nil, false, nil
	}
	d := s.inbox[0]
	s.inbox = s.inbox[1:]
	return d.from, d.body, true, nil
}

func (s *memSocket) LocalAddr() net.Addr { return s.addr }
func (s *memSocket) Close() error        { return nil }

func testChannelCfg() []ChannelConfig {
	return []ChannelConfig{
		{ID: 0, Mode: "reliable_ordered", MaxMessageSize: 4096, RetransmitQueueCap: 64},
		{ID: 1, Mode: "unreliable", MaxMessageSize: 4096},
	}
}

// pump drains both sockets through Update in lockstep for ticks rounds,
// advancing now by 50ms before each round.
func pump(t *testing.T, srv *NetServer, clt *NetClient, now *time.Time, ticks int) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		*now = now.Add(50 * time.Millisecond)
		srv.Update(*now)
		clt.Update(*now)
	}
}

func TestServerClientHandshakeAndEcho(t *testing.T) {
	serverAddr, clientAddr := memAddr("server"), memAddr("client")
	sSock, cSock := newMemSocketPair(serverAddr, clientAddr)

	key := []byte("shared-test-key")
	cfg := DefaultNetworkConfig()
	cfg.TokenKey = key
	cfg.TokenServerAddr = serverAddr
	cfg.Channels = testChannelCfg()

	now := time.Unix(0, 0)
	srv, err := Bind(sSock, cfg)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	token := &security.ConnectToken{
		Version:                security.TokenVersion,
		ExpiryUnixSeconds:      now.Add(time.Minute).Unix(),
		ClientID:               1,
		AllowedServerAddresses: []string{serverAddr.String()},
	}
	token.Sign(key)

	clt, err := Connect(cSock, serverAddr, token, cfg, now)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pump(t, srv, clt, &now, 10)

	var connectedEvent *ServerEvent
	for {
		ev, ok := srv.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == ServerClientConnected {
			e := ev
			connectedEvent = &e
		}
	}
	if connectedEvent == nil {
		t.Fatalf("server never surfaced ServerClientConnected")
	}

	sawClientConnected := false
	for {
		ev, ok := clt.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == ClientConnected {
			sawClientConnected = true
		}
	}
	if !sawClientConnected {
		t.Fatalf("client never surfaced ClientConnected")
	}

	if err := clt.Send(0, []byte("ping"), now); err != nil {
		t.Fatalf("client Send: %v", err)
	}
	pump(t, srv, clt, &now, 10)

	var received *ServerEvent
	for {
		ev, ok := srv.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == ServerMessageReceived {
			e := ev
			received = &e
		}
	}
	if received == nil || string(received.Message) != "ping" {
		t.Fatalf("server did not receive \"ping\", got %+v", received)
	}

	if err := srv.Send(received.ConnectionID, 0, []byte("pong"), now); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	pump(t, srv, clt, &now, 10)

	var echoed *ClientEvent
	for {
		ev, ok := clt.PollEvent()
		if !ok {
			break
		}
		if ev.Kind == ClientMessageReceived {
			e := ev
			echoed = &e
		}
	}
	if echoed == nil || string(echoed.Message) != "pong" {
		t.Fatalf("client did not receive echoed \"pong\", got %+v", echoed)
	}
}

func TestConnectionDeniedOnBadToken(t *testing.T) {
	serverAddr, clientAddr := memAddr("server2"), memAddr("client2")
	sSock, cSock := newMemSocketPair(serverAddr, clientAddr)

	cfg := DefaultNetworkConfig()
	cfg.TokenKey = []byte("correct-key")
	cfg.TokenServerAddr = serverAddr
	cfg.Channels = testChannelCfg()

	now := time.Unix(0, 0)
	srv, err := Bind(sSock, cfg)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	badToken := &security.ConnectToken{
		Version:                security.TokenVersion,
		ExpiryUnixSeconds:      now.Add(time.Minute).Unix(),
		ClientID:               1,
		AllowedServerAddresses: []string{serverAddr.String()},
	}
	badToken.Sign([]byte("wrong-key"))

	clt, err := Connect(cSock, serverAddr, badToken, cfg, now)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	pump(t, srv, clt, &now, 15)

	var sawError, sawDisconnected bool
	for {
		ev, ok := clt.PollEvent()
		if !ok {
			break
		}
		switch ev.Kind {
		case ClientError:
			sawError = true
		case ClientDisconnected:
			sawDisconnected = true
		case ClientConnected:
			t.Fatalf("client should never connect with a bad token")
		}
	}
	if !sawError || !sawDisconnected {
		t.Fatalf("expected ClientError+ClientDisconnected, got error=%v disconnected=%v", sawError, sawDisconnected)
	}
}

func TestBroadcastReachesAllConnectedPeers(t *testing.T) {
	serverAddr := memAddr("server3")
	key := []byte("bc-key")
	cfg := DefaultNetworkConfig()
	cfg.TokenKey = key
	cfg.TokenServerAddr = serverAddr
	cfg.Channels = testChannelCfg()

	now := time.Unix(0, 0)
	sSock := &memSocket{addr: serverAddr}
	router := make(map[string]*memSocket)
	srv, err := Bind(&fanoutSocket{self: sSock, byAddr: router}, cfg)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	var clients []*NetClient
	for i := 0; i < 3; i++ {
		addr := memAddr("client" + string(rune('A'+i)))
		cSock := &memSocket{addr: addr, peer: sSock}
		router[addr.String()] = cSock

		token := &security.ConnectToken{
			Version:                security.TokenVersion,
			ExpiryUnixSeconds:      now.Add(time.Minute).Unix(),
			ClientID:               uint64(i + 1),
			AllowedServerAddresses: []string{serverAddr.String()},
		}
		token.Sign(key)
		clt, err := Connect(cSock, serverAddr, token, cfg, now)
		if err != nil {
			t.Fatalf("Connect %d: %v", i, err)
		}
		clients = append(clients, clt)
	}

	drainAll := func() {
		for i := 0; i < 10; i++ {
			now = now.Add(50 * time.Millisecond)
			srv.Update(now)
			for _, clt := range clients {
				clt.Update(now)
			}
		}
		for _, clt := range clients {
			for {
				if _, ok := clt.PollEvent(); !ok {
					break
				}
			}
		}
	}
	drainAll()

	srv.Broadcast(1, []byte("hi all"), now)
	for i := 0; i < 10; i++ {
		now = now.Add(50 * time.Millisecond)
		srv.Update(now)
		for _, clt := range clients {
			clt.Update(now)
		}
	}

	for i, clt := range clients {
		gotIt := false
		for {
			ev, ok := clt.PollEvent()
			if !ok {
				break
			}
			if ev.Kind == ClientMessageReceived && string(ev.Message) == "hi all" {
				gotIt = true
			}
		}
		if !gotIt {
			t.Errorf("client %d never received the broadcast", i)
		}
	}
}

// fanoutSocket is a server-side test Socket that dispatches SendTo by
// destination address to one of several per-client memSockets, since a
// plain memSocket pair only ever has one fixed peer.
type fanoutSocket struct {
	self   *memSocket
	byAddr map[string]*memSocket
}

func (f *fanoutSocket) SendTo(addr net.Addr, b []byte) error {
	if s, ok := f.byAddr[addr.String()]; ok {
		cp := make([]byte, len(b))
		copy(cp, b)
		s.inbox = append(s.inbox, datagram{from: f.self.addr, body: cp})
	}
	return nil
}

func (f *fanoutSocket) RecvFrom() (net.Addr, []byte, bool, error) { return f.self.RecvFrom() }
func (f *fanoutSocket) LocalAddr() net.Addr                       { return f.self.LocalAddr() }
func (f *fanoutSocket) Close() error                              { return nil }
