// Package netsim implements the optional network condition simulator
// spec.md §9 describes as a collaborator, not part of the core contract:
// a wrapper around the socket interface adding configurable loss, extra
// latency, jitter, and duplicate probability, for testing only.
//
// Grounded on anon55555/mt/rudp/proxy/proxy.go's man-in-the-middle relay
// (intercept a packet, optionally mutate or drop it, forward), repurposed
// from a Minetest protocol proxy into a condition simulator sitting
// directly behind the gbnet.Socket interface instead of two rudp.Conns.
package netsim

import (
	"container/heap"
	"math/rand"
	"net"
	"time"
)

// Socket is the subset of gbnet.Socket the simulator wraps. Declared
// locally rather than imported to avoid a dependency from netsim back
// onto the root package (netsim is a leaf collaborator).
type Socket interface {
	SendTo(addr net.Addr, b []byte) error
	RecvFrom() (addr net.Addr, b []byte, ok bool, err error)
	LocalAddr() net.Addr
	Close() error
}

// Config tunes the simulated path's adverse conditions.
type Config struct {
	LossProbability      float64
	DuplicateProbability float64
	ExtraLatency         time.Duration
	Jitter               time.Duration
	Rand                 *rand.Rand // nil uses a new generator with fixed seed 1
}

type delayedDatagram struct {
	at   time.Time
	addr net.Addr
	body []byte
}

type delayQueue []delayedDatagram

func (q delayQueue) Len() int            { return len(q) }
func (q delayQueue) Less(i, j int) bool  { return q[i].at.Before(q[j].at) }
func (q delayQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *delayQueue) Push(x interface{}) { *q = append(*q, x.(delayedDatagram)) }
func (q *delayQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Simulator wraps a Socket, delaying/dropping/duplicating outbound sends
// according to Config before they reach the wrapped socket. Reads pass
// through unmodified: this spec's simulator models conditions on the path
// this endpoint writes onto, not the peer's.
type Simulator struct {
	inner Socket
	cfg   Config
	rng   *rand.Rand
	queue delayQueue

	// Dropped/Duplicated count what happened to outbound datagrams, for
	// test assertions.
	Dropped    int
	Duplicated int
}

// Wrap builds a Simulator around inner using cfg's conditions.
func Wrap(inner Socket, cfg Config) *Simulator {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Simulator{inner: inner, cfg: cfg, rng: rng}
}

// SendTo applies loss, latency/jitter, and duplication before handing the
// datagram to the wrapped socket. Delayed sends are flushed opportunistically
// from subsequent SendTo/RecvFrom calls since the simulator has no
// background goroutine (this stays inside the caller's own poll loop, per
// spec.md §5's single-threaded model).
func (s *Simulator) SendTo(addr net.Addr, b []byte) error {
	s.flushDue(time.Now())
	if s.rng.Float64() < s.cfg.LossProbability {
		s.Dropped++
		return nil
	}
	s.schedule(addr, b, time.Now())
	if s.rng.Float64() < s.cfg.DuplicateProbability {
		s.Duplicated++
		s.schedule(addr, b, time.Now())
	}
	return nil
}

func (s *Simulator) schedule(addr net.Addr, b []byte, now time.Time) {
	delay := s.cfg.ExtraLatency
	if s.cfg.Jitter > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	heap.Push(&s.queue, delayedDatagram{at: now.Add(delay), addr: addr, body: cp})
}

func (s *Simulator) flushDue(now time.Time) {
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		d := heap.Pop(&s.queue).(delayedDatagram)
		_ = s.inner.SendTo(d.addr, d.body)
	}
}

// RecvFrom flushes any datagrams whose simulated delay has elapsed, then
// delegates to the wrapped socket.
func (s *Simulator) RecvFrom() (net.Addr, []byte, bool, error) {
	s.flushDue(time.Now())
	return s.inner.RecvFrom()
}

func (s *Simulator) LocalAddr() net.Addr { return s.inner.LocalAddr() }

func (s *Simulator) Close() error { return s.inner.Close() }
