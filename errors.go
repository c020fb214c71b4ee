package gbnet

import (
	"errors"
	"fmt"

	"github.com/packetforge/gbnet/wire"
)

// NetError is the taxonomy spec.md §7 requires: named error values that
// carry the offending reason rather than bare errors.New strings, in the
// style of the teacher's rudp.PktError/TrailingDataError.
type NetError struct {
	Kind    ErrorKind
	Reason  wire.DenyReason // only meaningful when Kind == ErrConnectionDenied
	Wrapped error
}

// ErrorKind enumerates spec.md §7's taxonomy.
type ErrorKind uint8

const (
	ErrIo ErrorKind = iota
	ErrInvalidPacket
	ErrSerialization
	ErrConnectionDenied
	ErrNotConnected
	ErrChannelFull
	ErrMessageTooLarge
	ErrTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrIo:
		return "io"
	case ErrInvalidPacket:
		return "invalid_packet"
	case ErrSerialization:
		return "serialization"
	case ErrConnectionDenied:
		return "connection_denied"
	case ErrNotConnected:
		return "not_connected"
	case ErrChannelFull:
		return "channel_full"
	case ErrMessageTooLarge:
		return "message_too_large"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (e *NetError) Error() string {
	if e.Kind == ErrConnectionDenied {
		return fmt.Sprintf("gbnet: connection denied: %v", e.Reason)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("gbnet: %s: %v", e.Kind, e.Wrapped)
	}
	return fmt.Sprintf("gbnet: %s", e.Kind)
}

func (e *NetError) Unwrap() error { return e.Wrapped }

func newError(kind ErrorKind, wrapped error) *NetError {
	return &NetError{Kind: kind, Wrapped: wrapped}
}

func newDeniedError(reason wire.DenyReason) *NetError {
	return &NetError{Kind: ErrConnectionDenied, Reason: reason}
}

// ErrNoSuchConnection is returned by NetServer.Send/Disconnect for an
// unknown connection id, wrapped as a NetError{Kind: ErrNotConnected}.
var ErrNoSuchConnection = errors.New("gbnet: no such connection")
