// Package fragment implements message splitting and reassembly for
// payloads larger than one packet, per spec.md §4.5. Fragments travel on a
// dedicated reliable-unordered sub-channel so loss of any one fragment is
// covered by ordinary retransmission; this package only handles the
// split/reassemble bookkeeping, not delivery.
//
// Grounded on anon55555/mt/rudp/send.go's split() helper and conn.go's
// inSplit reassembly map, widened from the teacher's 512-byte
// MaxNetPktSize to this spec's configurable MTU and 256-fragment cap.
package fragment

import (
	"errors"
	"time"
)

const (
	// MaxFragments is the hard cap on fragments per message (spec.md §4.5:
	// "split into N ≤ 256 fragments").
	MaxFragments = 256

	// DefaultTableCapacity is the default number of concurrently
	// in-progress reassembly groups tracked per connection.
	DefaultTableCapacity = 256

	// DefaultTTL bounds memory held by a stalled reassembly group.
	DefaultTTL = 5 * time.Second
)

var (
	ErrTooManyFragments = errors.New("fragment: message would require more than 256 fragments")
	ErrDuplicateIndex   = errors.New("fragment: duplicate fragment index")
)

// Fragment is one piece of a split message, carrying the header fields
// spec.md §4.5 defines: a 16-bit per-connection group id, an 8-bit index,
// and an 8-bit total count.
type Fragment struct {
	GroupID int // 16-bit — wraps via uint16 in GroupAllocator
	Index   uint8
	// Total is the fragment count, 1..256. The 8-bit wire field can only
	// hold 0..255, so the wire codec serializes Total-1 and adds 1 back
	// on decode; in memory we keep the true count.
	Total uint16
	Body  []byte
}

// Split divides body into uniformly-sized fragments (the last one may be
// shorter), each at most chunkSize bytes, under groupID. Returns
// ErrTooManyFragments if the message would need more than MaxFragments.
func Split(groupID uint16, body []byte, chunkSize int) ([]Fragment, error) {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	total := (len(body) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	if total > MaxFragments {
		return nil, ErrTooManyFragments
	}
	frags := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(body) {
			end = len(body)
		}
		frags = append(frags, Fragment{
			GroupID: int(groupID),
			Index:   uint8(i),
			Total:   uint16(total),
			Body:    body[start:end],
		})
	}
	return frags, nil
}

// group is one in-progress reassembly.
type group struct {
	total     uint16
	received  map[uint8][]byte
	size      int
	firstSeen time.Time
}

func (g *group) complete() bool {
	return len(g.received) == int(g.total)
}

func (g *group) reassemble() []byte {
	out := make([]byte, 0, g.size)
	for i := 0; i < int(g.total); i++ {
		out = append(out, g.received[uint8(i)]...)
	}
	return out
}

// Assembler reassembles fragments across possibly-concurrent groups, with
// a fixed-capacity table and TTL + oldest-first eviction per spec.md §4.5.
type Assembler struct {
	capacity int
	ttl      time.Duration
	groups   map[uint16]*group
}

// NewAssembler constructs an Assembler. capacity <= 0 defaults to
// DefaultTableCapacity; ttl <= 0 defaults to DefaultTTL.
func NewAssembler(capacity int, ttl time.Duration) *Assembler {
	if capacity <= 0 {
		capacity = DefaultTableCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Assembler{capacity: capacity, ttl: ttl, groups: make(map[uint16]*group)}
}

// Add admits one fragment, evicting the oldest tracked group if the table
// is full and this fragment starts a new group. Returns the reassembled
// payload (and ok=true) once every index for the group has arrived.
func (a *Assembler) Add(f Fragment, now time.Time) (body []byte, ok bool, err error) {
	id := uint16(f.GroupID)
	g, exists := a.groups[id]
	if !exists {
		if len(a.groups) >= a.capacity {
			a.evictOldest()
		}
		g = &group{total: f.Total, received: make(map[uint8][]byte), firstSeen: now}
		a.groups[id] = g
	}
	if _, dup := g.received[f.Index]; dup {
		return nil, false, ErrDuplicateIndex
	}
	g.received[f.Index] = f.Body
	g.size += len(f.Body)

	if g.complete() {
		out := g.reassemble()
		delete(a.groups, id)
		return out, true, nil
	}
	return nil, false, nil
}

func (a *Assembler) evictOldest() {
	var oldestID uint16
	var oldestTime time.Time
	first := true
	for id, g := range a.groups {
		if first || g.firstSeen.Before(oldestTime) {
			oldestID, oldestTime, first = id, g.firstSeen, false
		}
	}
	if !first {
		delete(a.groups, oldestID)
	}
}

// ExpireStale drops groups whose first fragment arrived more than ttl ago,
// bounding memory from senders that stall mid-transfer. Returns the number
// of groups dropped.
func (a *Assembler) ExpireStale(now time.Time) int {
	dropped := 0
	for id, g := range a.groups {
		if now.Sub(g.firstSeen) > a.ttl {
			delete(a.groups, id)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of groups currently being reassembled.
func (a *Assembler) Len() int { return len(a.groups) }

// GroupAllocator hands out 16-bit, per-connection group ids that wrap
// around, for the sending side's outgoing fragment groups.
type GroupAllocator struct {
	next uint16
}

func (ga *GroupAllocator) Next() uint16 {
	id := ga.next
	ga.next++
	return id
}
