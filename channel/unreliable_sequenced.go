package channel

import (
	"time"

	"github.com/packetforge/gbnet/sequence"
)

// UnreliableSequencedChannel assigns each outgoing message a per-channel
// sequence number and, on receive, drops anything not newer than the
// highest sequence already delivered — spec.md's delivery table
// ("UnreliableSequenced | per-channel seq | drop | no | arrival (skips
// accepted)") and scenario S3.
type UnreliableSequencedChannel struct {
	id      uint8
	nextOut uint16
	hasRecv bool
	highest uint16
}

func NewUnreliableSequenced(id uint8) *UnreliableSequencedChannel {
	return &UnreliableSequencedChannel{id: id}
}

func (c *UnreliableSequencedChannel) ID() uint8          { return c.id }
func (c *UnreliableSequencedChannel) Mode() DeliveryMode { return UnreliableSequenced }

func (c *UnreliableSequencedChannel) EnqueueOut(body []byte, now time.Time) (uint16, bool, error) {
	seq := c.nextOut
	c.nextOut++
	return seq, false, nil
}

func (c *UnreliableSequencedChannel) OnRecv(id uint16, body []byte) [][]byte {
	if c.hasRecv && !sequence.Greater(id, c.highest) {
		return nil
	}
	c.hasRecv = true
	c.highest = id
	return [][]byte{body}
}

func (c *UnreliableSequencedChannel) Ack(messageID uint16)                   {}
func (c *UnreliableSequencedChannel) NoteCarrierAcked(messageID uint16) bool { return false }
func (c *UnreliableSequencedChannel) Pending(now time.Time, rto time.Duration) []*Envelope {
	return nil
}
func (c *UnreliableSequencedChannel) Len() int { return 0 }
