package conn

import (
	"testing"
	"time"

	"github.com/packetforge/gbnet/channel"
	"github.com/packetforge/gbnet/security"
	"github.com/packetforge/gbnet/wire"
)

var epoch = time.Unix(0, 0)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Channels = []ChannelSpec{
		{ID: 0, Mode: channel.ReliableOrdered, RetransmitQueueCap: 64},
		{ID: 1, Mode: channel.Unreliable},
	}
	return cfg
}

// drive feeds every packet b produced since the last call into a, and vice
// versa, until neither side emits anything new — a simple in-process
// transport for exercising the handshake and payload exchange without a
// real socket.
func drive(t *testing.T, a, b *Connection, now time.Time) {
	t.Helper()
	outA, _, _ := a.Tick(now)
	outB, _, _ := b.Tick(now)
	for _, raw := range outA {
		if pkt, ok := wire.Decode(raw); ok {
			b.HandleIncoming(pkt, now)
		}
	}
	for _, raw := range outB {
		if pkt, ok := wire.Decode(raw); ok {
			a.HandleIncoming(pkt, now)
		}
	}
}

func makeToken(t *testing.T, key []byte, clientID uint64, serverAddr string, now time.Time) *security.ConnectToken {
	t.Helper()
	tok := &security.ConnectToken{
		Version:                security.TokenVersion,
		ExpiryUnixSeconds:      now.Add(time.Minute).Unix(),
		ClientID:               clientID,
		AllowedServerAddresses: []string{serverAddr},
	}
	tok.Sign(key)
	return tok
}

func TestHandshakeConnectsBothSides(t *testing.T) {
	cfg := testConfig()
	client := NewClient(0xC0FFEE, cfg)
	key := []byte("test-signing-key")
	token := makeToken(t, key, 42, "server-addr", epoch)
	client.Connect(token, epoch)

	server := NewServerSide(0xC0FFEE, 7, 0xABCD1234, cfg, epoch)

	now := epoch
	for i := 0; i < 10 && (client.State != Connected || server.State != Connected); i++ {
		now = now.Add(50 * time.Millisecond)
		drive(t, client, server, now)
	}

	if client.State != Connected {
		t.Fatalf("client did not reach Connected, got %v", client.State)
	}
	if server.State != Connected {
		t.Fatalf("server did not reach Connected, got %v", server.State)
	}
	if client.ConnectionID != 7 {
		t.Errorf("client did not learn assigned connection id, got %d", client.ConnectionID)
	}
}

func TestReliableOrderedDeliveryAcrossConnections(t *testing.T) {
	cfg := testConfig()
	client := NewClient(1, cfg)
	server := NewServerSide(1, 1, 99, cfg, epoch)
	client.Connect(makeToken(t, []byte("k"), 1, "addr", epoch), epoch)

	now := epoch
	for i := 0; i < 10 && (client.State != Connected || server.State != Connected); i++ {
		now = now.Add(50 * time.Millisecond)
		drive(t, client, server, now)
	}
	if client.State != Connected || server.State != Connected {
		t.Fatalf("handshake did not complete: client=%v server=%v", client.State, server.State)
	}

	if err := client.Send(0, []byte("hello"), now); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var delivered []DeliveredMessage
	for i := 0; i < 5 && len(delivered) == 0; i++ {
		now = now.Add(50 * time.Millisecond)
		outC, _, _ := client.Tick(now)
		for _, raw := range outC {
			if pkt, ok := wire.Decode(raw); ok {
				delivered = append(delivered, server.HandleIncoming(pkt, now)...)
			}
		}
	}

	if len(delivered) != 1 || string(delivered[0].Body) != "hello" {
		t.Fatalf("expected to deliver \"hello\" once, got %+v", delivered)
	}
}

func TestConnectionTimesOutWithoutTraffic(t *testing.T) {
	cfg := testConfig()
	client := NewClient(1, cfg)
	server := NewServerSide(1, 1, 1, cfg, epoch)
	client.Connect(makeToken(t, []byte("k"), 1, "addr", epoch), epoch)

	now := epoch
	for i := 0; i < 10 && (client.State != Connected || server.State != Connected); i++ {
		now = now.Add(50 * time.Millisecond)
		drive(t, client, server, now)
	}
	if client.State != Connected {
		t.Fatalf("setup: client never connected")
	}

	now = now.Add(cfg.ConnectionTimeout + time.Second)
	_, reason, timedOut := client.Tick(now)
	if !timedOut {
		t.Fatalf("expected timeout after %v of silence", cfg.ConnectionTimeout)
	}
	if reason != wire.DisconnectTimeout {
		t.Errorf("expected DisconnectTimeout, got %v", reason)
	}
	if client.State != Disconnected {
		t.Errorf("expected Disconnected state, got %v", client.State)
	}
}

func TestDisconnectIsIdempotentAndImmediate(t *testing.T) {
	cfg := testConfig()
	c := NewClient(1, cfg)
	c.State = Connected
	c.Disconnect(wire.DisconnectRequested, epoch)
	if c.State != Disconnecting {
		t.Fatalf("expected Disconnecting, got %v", c.State)
	}
	c.Disconnect(wire.DisconnectKicked, epoch) // second call must be a no-op
	if c.disconnectReason != wire.DisconnectRequested {
		t.Errorf("second Disconnect call should not override the first reason")
	}
}
