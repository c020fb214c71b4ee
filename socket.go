package gbnet

import (
	"net"
	"time"
)

// Socket is the minimal datagram transport the core consumes, per
// spec.md §6: send_to/recv_from/local_addr. Mirrors rudp.udpConn's
// narrowed view of net.PacketConn.
type Socket interface {
	SendTo(addr net.Addr, b []byte) error
	RecvFrom() (addr net.Addr, b []byte, ok bool, err error)
	LocalAddr() net.Addr
	Close() error
}

// packetConnSocket adapts a net.PacketConn into a Socket, draining it in
// non-blocking mode via a read deadline set to the past — the same
// "for { read; if WouldBlock break }" drain loop
// original_source/gbnet/src/server.rs::NetServer::update uses, rather than
// rudp's goroutine-per-connection reader (spec.md §5's single-threaded
// model).
type packetConnSocket struct {
	conn net.PacketConn
	buf  []byte
}

// NewPacketConnSocket wraps conn (already bound, e.g. via net.ListenPacket)
// as a Socket, sized to read up to mtu bytes per datagram.
func NewPacketConnSocket(conn net.PacketConn, mtu int) Socket {
	if mtu <= 0 {
		mtu = 1500
	}
	return &packetConnSocket{conn: conn, buf: make([]byte, mtu)}
}

func (s *packetConnSocket) SendTo(addr net.Addr, b []byte) error {
	_, err := s.conn.WriteTo(b, addr)
	return err
}

// RecvFrom returns ok=false, err=nil when nothing is currently pending —
// the non-blocking-read signal NetServer/NetClient's drain loop uses to
// stop reading for this tick.
func (s *packetConnSocket) RecvFrom() (net.Addr, []byte, bool, error) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return nil, nil, false, err
	}
	n, addr, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return addr, out, true, nil
}

func (s *packetConnSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func (s *packetConnSocket) Close() error { return s.conn.Close() }
