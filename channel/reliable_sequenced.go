package channel

import (
	"time"

	"github.com/packetforge/gbnet/sequence"
)

// ReliableSequencedChannel only ever cares about the newest state: sending
// a new message supersedes (and stops retransmitting) any older unacked
// message on the same channel, and the receiver drops anything not newer
// than what it has already delivered — spec.md's delivery table
// ("ReliableSequenced | message id | drop if id ≤ highest delivered; no
// buffering | yes (until superseded) | monotonically increasing id").
type ReliableSequencedChannel struct {
	id      uint8
	queue   retransmitQueue
	nextOut uint16

	hasDelivered    bool
	highestDelivered uint16
}

func NewReliableSequenced(id uint8, queueCap int) *ReliableSequencedChannel {
	return &ReliableSequencedChannel{id: id, queue: newRetransmitQueue(queueCap)}
}

func (c *ReliableSequencedChannel) ID() uint8          { return c.id }
func (c *ReliableSequencedChannel) Mode() DeliveryMode { return ReliableSequenced }

func (c *ReliableSequencedChannel) EnqueueOut(body []byte, now time.Time) (uint16, bool, error) {
	// A newer send supersedes whatever is still outstanding: the older
	// envelope's retransmission is no longer useful once a newer message
	// exists, since only the latest state matters.
	c.queue.purgeAll()
	id := c.nextOut
	c.nextOut++
	if err := c.queue.add(id, body, now); err != nil {
		return 0, true, err
	}
	return id, true, nil
}

func (c *ReliableSequencedChannel) OnRecv(id uint16, body []byte) [][]byte {
	if c.hasDelivered && !sequence.Greater(id, c.highestDelivered) {
		return nil
	}
	c.hasDelivered = true
	c.highestDelivered = id
	return [][]byte{body}
}

func (c *ReliableSequencedChannel) Ack(messageID uint16) {
	c.queue.ack(messageID)
}

func (c *ReliableSequencedChannel) NoteCarrierAcked(messageID uint16) bool {
	return c.queue.noteCarrierAcked(messageID)
}

func (c *ReliableSequencedChannel) Pending(now time.Time, rto time.Duration) []*Envelope {
	return c.queue.pending(now, rto)
}

func (c *ReliableSequencedChannel) Len() int { return c.queue.len() }
