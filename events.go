package gbnet

import "github.com/packetforge/gbnet/wire"

// ServerEventKind tags one of the four event variants spec.md §6 lists for
// the server's poll_event surface.
type ServerEventKind uint8

const (
	ServerClientConnected ServerEventKind = iota
	ServerClientDisconnected
	ServerMessageReceived
	ServerError
)

// ServerEvent is one item off NetServer.PollEvent's queue.
type ServerEvent struct {
	Kind         ServerEventKind
	ConnectionID uint16
	ChannelID    uint8
	Message      []byte
	Reason       wire.DisconnectReason
	Err          error
}

// ClientEventKind mirrors ServerEventKind for the client side, which only
// ever has one connection so carries no ConnectionID.
type ClientEventKind uint8

const (
	ClientConnected ClientEventKind = iota
	ClientDisconnected
	ClientMessageReceived
	ClientError
)

// ClientEvent is one item off NetClient.PollEvent's queue.
type ClientEvent struct {
	Kind      ClientEventKind
	ChannelID uint8
	Message   []byte
	Reason    wire.DisconnectReason
	Err       error
}
