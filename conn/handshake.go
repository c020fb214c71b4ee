// Handshake state machine per spec.md §4.6: the client presents a signed
// connect token, the server echoes a random nonce to weed out spoofed
// source addresses before committing any per-connection state (the token
// validation and rate-limit check themselves happen one layer up, in the
// server accept loop, since those are shared across all pending
// connections rather than per-Connection — see NewServerSide below).
//
// Grounded on original_source/gbnet/src/server.rs's connection_request /
// challenge_response handling and netcode-style challenge/response designs
// referenced there.
package conn

import (
	"time"

	"github.com/packetforge/gbnet/security"
	"github.com/packetforge/gbnet/wire"
)

// NewClient constructs a Connection in the Disconnected state, ready for
// Connect to begin the client-side handshake.
func NewClient(protocolID uint32, cfg Config) *Connection {
	return newConnection(RoleClient, protocolID, cfg)
}

// Connect begins sending ConnectionRequest packets carrying token, retried
// every cfg.RequestRetryInterval up to cfg.MaxRequestAttempts times.
func (c *Connection) Connect(token *security.ConnectToken, now time.Time) {
	c.tokenBytes = security.EncodeConnectToken(token)
	c.State = SendingRequest
	c.requestAttempts = 0
	c.requestFirstSent = now
	c.requestLastSent = time.Time{}
	c.lastRecv = now
}

// NewServerSide constructs a Connection already past token validation and
// rate limiting (the caller — the server accept loop — has already called
// security.TokenValidator.Accept and security.RateLimiter.Allow): it starts
// in SendingChallengeResponse, with connectionID pre-assigned and a fresh
// nonce the client must echo back before ConnectionAccepted is sent.
func NewServerSide(protocolID uint32, connectionID uint16, nonce uint64, cfg Config, now time.Time) *Connection {
	c := newConnection(RoleServer, protocolID, cfg)
	c.ConnectionID = connectionID
	c.challengeNonce = nonce
	c.State = SendingChallengeResponse
	c.requestFirstSent = now
	c.requestLastSent = time.Time{}
	c.lastRecv = now
	return c
}

// Failed reports whether the handshake ended without connecting. denied is
// true only if the server explicitly sent ConnectionDenied, in which case
// reason is meaningful; a local retry-count timeout reports denied=false.
// Only meaningful once State==Disconnected after having been in a
// handshake state.
func (c *Connection) Failed() (failed bool, denied bool, reason wire.DenyReason) {
	return c.handshakeFailed, c.wasDenied, c.denyReason
}

func (c *Connection) handleHandshakePacket(pkt *wire.Packet, now time.Time) {
	switch c.Role {
	case RoleClient:
		c.handleHandshakePacketClient(pkt, now)
	case RoleServer:
		c.handleHandshakePacketServer(pkt, now)
	}
}

func (c *Connection) handleHandshakePacketClient(pkt *wire.Packet, now time.Time) {
	switch pkt.Header.Type {
	case wire.ConnectionDenied:
		if c.State == SendingRequest || c.State == SendingChallengeResponse {
			c.denyReason = pkt.Body.DenyReason
			c.wasDenied = true
			c.handshakeFailed = true
			c.State = Disconnected
		}
	case wire.ChallengeResponse:
		if c.State == SendingRequest {
			c.challengeNonce = pkt.Body.ChallengeNonce
			c.State = SendingChallengeResponse
			c.requestAttempts = 0
			c.requestLastSent = time.Time{} // force an immediate echo on the next Tick
		}
	case wire.ConnectionAccepted:
		if c.State == SendingChallengeResponse {
			c.ConnectionID = pkt.Header.ConnectionID
			c.State = Connected
			c.lastSent = now
		}
	}
}

func (c *Connection) handleHandshakePacketServer(pkt *wire.Packet, now time.Time) {
	if c.State != SendingChallengeResponse {
		return
	}
	if pkt.Header.Type != wire.ChallengeResponse {
		return
	}
	if pkt.Body.ChallengeNonce != c.challengeNonce {
		return // spoofed or stale echo, ignore silently
	}
	c.State = Connected
	c.lastSent = now
	accepted := &wire.Packet{
		Header: wire.Header{ProtocolID: c.ProtocolID, Type: wire.ConnectionAccepted, ConnectionID: c.ConnectionID},
	}
	if data, err := wire.Encode(accepted); err == nil {
		c.pendingOut = append(c.pendingOut, data)
	}
}

// tickHandshake advances retry timers for the in-progress handshake and
// returns the packet(s) to send this tick, if any.
func (c *Connection) tickHandshake(now time.Time) [][]byte {
	switch c.Role {
	case RoleClient:
		return c.tickHandshakeClient(now)
	case RoleServer:
		return c.tickHandshakeServer(now)
	}
	return nil
}

func (c *Connection) tickHandshakeClient(now time.Time) [][]byte {
	switch c.State {
	case SendingRequest:
		if !c.requestLastSent.IsZero() && now.Sub(c.requestLastSent) < c.cfg.RequestRetryInterval {
			return nil
		}
		if c.requestAttempts >= c.cfg.MaxRequestAttempts {
			c.handshakeFailed = true
			c.State = Disconnected
			return nil
		}
		c.requestAttempts++
		c.requestLastSent = now
		pkt := &wire.Packet{
			Header:  wire.Header{ProtocolID: c.ProtocolID, Type: wire.ConnectionRequest},
			Payload: c.tokenBytes,
		}
		data, err := wire.Encode(pkt)
		if err != nil {
			return nil
		}
		return [][]byte{data}

	case SendingChallengeResponse:
		if !c.requestLastSent.IsZero() && now.Sub(c.requestLastSent) < c.cfg.RequestRetryInterval {
			return nil
		}
		if c.requestAttempts >= c.cfg.MaxRequestAttempts {
			c.handshakeFailed = true
			c.State = Disconnected
			return nil
		}
		c.requestAttempts++
		c.requestLastSent = now
		pkt := &wire.Packet{
			Header: wire.Header{ProtocolID: c.ProtocolID, Type: wire.ChallengeResponse},
			Body:   wire.TypeBody{ChallengeNonce: c.challengeNonce},
		}
		data, err := wire.Encode(pkt)
		if err != nil {
			return nil
		}
		return [][]byte{data}
	}
	return nil
}

func (c *Connection) tickHandshakeServer(now time.Time) [][]byte {
	switch c.State {
	case SendingChallengeResponse:
		if !c.requestLastSent.IsZero() && now.Sub(c.requestLastSent) < c.cfg.RequestRetryInterval {
			return nil
		}
		if c.requestAttempts >= c.cfg.MaxRequestAttempts {
			c.handshakeFailed = true
			c.State = Disconnected
			return nil
		}
		c.requestAttempts++
		c.requestLastSent = now
		pkt := &wire.Packet{
			Header: wire.Header{ProtocolID: c.ProtocolID, Type: wire.ChallengeResponse},
			Body:   wire.TypeBody{ChallengeNonce: c.challengeNonce},
		}
		data, err := wire.Encode(pkt)
		if err != nil {
			return nil
		}
		return [][]byte{data}
	}
	return nil
}
