package channel

import (
	"time"

	"github.com/packetforge/gbnet/sequence"
)

// ReliableUnorderedChannel delivers every message exactly once, as soon as
// it arrives, with no ordering guarantee — spec.md's delivery table
// ("ReliableUnordered | message id | buffer if within window, dup-drop,
// else drop | yes | arrival").
type ReliableUnorderedChannel struct {
	id         uint8
	windowSize uint16
	queue      retransmitQueue
	nextOut    uint16

	base     uint16
	received map[uint16]bool
}

func NewReliableUnordered(id uint8, windowSize int, queueCap int) *ReliableUnorderedChannel {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &ReliableUnorderedChannel{
		id:         id,
		windowSize: uint16(windowSize),
		queue:      newRetransmitQueue(queueCap),
		received:   make(map[uint16]bool),
	}
}

func (c *ReliableUnorderedChannel) ID() uint8          { return c.id }
func (c *ReliableUnorderedChannel) Mode() DeliveryMode { return ReliableUnordered }

func (c *ReliableUnorderedChannel) EnqueueOut(body []byte, now time.Time) (uint16, bool, error) {
	id := c.nextOut
	c.nextOut++
	if err := c.queue.add(id, body, now); err != nil {
		return 0, true, err
	}
	return id, true, nil
}

func (c *ReliableUnorderedChannel) OnRecv(id uint16, body []byte) [][]byte {
	if !sequence.InWindow(id, c.base, c.windowSize) {
		return nil
	}
	if c.received[id] {
		return nil
	}
	c.received[id] = true
	for c.received[c.base] {
		delete(c.received, c.base)
		c.base++
	}
	return [][]byte{body}
}

func (c *ReliableUnorderedChannel) Ack(messageID uint16) {
	c.queue.ack(messageID)
}

func (c *ReliableUnorderedChannel) NoteCarrierAcked(messageID uint16) bool {
	return c.queue.noteCarrierAcked(messageID)
}

func (c *ReliableUnorderedChannel) Pending(now time.Time, rto time.Duration) []*Envelope {
	return c.queue.pending(now, rto)
}

func (c *ReliableUnorderedChannel) Len() int { return c.queue.len() }
