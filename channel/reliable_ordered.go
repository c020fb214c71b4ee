package channel

import (
	"time"

	"github.com/packetforge/gbnet/sequence"
)

// ReliableOrderedChannel buffers out-of-order arrivals and only delivers
// once the next id in sequence has arrived, stalling delivery (not
// receipt) up to the window size — spec.md's delivery table
// ("ReliableOrdered | message id | buffer until contiguous; stall up to
// window | yes | id order") and invariant 4 (no gaps in delivered order).
type ReliableOrderedChannel struct {
	id         uint8
	windowSize uint16
	queue      retransmitQueue
	nextOut    uint16

	base     uint16
	buffered map[uint16][]byte
}

func NewReliableOrdered(id uint8, windowSize int, queueCap int) *ReliableOrderedChannel {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &ReliableOrderedChannel{
		id:         id,
		windowSize: uint16(windowSize),
		queue:      newRetransmitQueue(queueCap),
		buffered:   make(map[uint16][]byte),
	}
}

func (c *ReliableOrderedChannel) ID() uint8          { return c.id }
func (c *ReliableOrderedChannel) Mode() DeliveryMode { return ReliableOrdered }

func (c *ReliableOrderedChannel) EnqueueOut(body []byte, now time.Time) (uint16, bool, error) {
	id := c.nextOut
	c.nextOut++
	if err := c.queue.add(id, body, now); err != nil {
		return 0, true, err
	}
	return id, true, nil
}

func (c *ReliableOrderedChannel) OnRecv(id uint16, body []byte) [][]byte {
	if !sequence.Greater(id, c.base) && id != c.base {
		return nil // already delivered
	}
	if !sequence.InWindow(id, c.base, c.windowSize) {
		return nil // too far ahead, sender must retransmit once window opens
	}
	if _, dup := c.buffered[id]; dup {
		return nil
	}
	c.buffered[id] = body

	var out [][]byte
	for {
		b, ok := c.buffered[c.base]
		if !ok {
			break
		}
		out = append(out, b)
		delete(c.buffered, c.base)
		c.base++
	}
	return out
}

func (c *ReliableOrderedChannel) Ack(messageID uint16) {
	c.queue.ack(messageID)
}

func (c *ReliableOrderedChannel) NoteCarrierAcked(messageID uint16) bool {
	return c.queue.noteCarrierAcked(messageID)
}

func (c *ReliableOrderedChannel) Pending(now time.Time, rto time.Duration) []*Envelope {
	return c.queue.pending(now, rto)
}

func (c *ReliableOrderedChannel) Len() int { return c.queue.len() }
