package congestion

import "sort"

// Candidate is one outgoing message competing for space in this tick's
// packet(s).
type Candidate struct {
	ChannelID uint8
	Reliable  bool
	MessageID uint16
	Body      []byte
}

// wireSize estimates the bytes a candidate costs once encoded as a
// wire.PayloadEntry: 1-byte channel id, 1-byte (bit, rounds up) reliable
// flag, a 2-byte message id, and a ~2-byte varint length prefix ahead of
// the body.
func (c Candidate) wireSize() int {
	return 1 + 1 + 2 + 2 + len(c.Body)
}

// BatchPackets greedily packs candidates into one or more MTU-bounded
// packets, per spec.md §4.8: "greedily packing highest-priority channels
// first (priority = reliability first, then smaller channel id)". Always
// returns at least one (possibly empty) packet, since the caller must
// emit at least a keep-alive per tick.
func BatchPackets(candidates []Candidate, mtu, headerOverhead int) [][]Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Reliable != sorted[j].Reliable {
			return sorted[i].Reliable
		}
		return sorted[i].ChannelID < sorted[j].ChannelID
	})

	budget := mtu - headerOverhead
	var packets [][]Candidate
	var current []Candidate
	used := 0
	for _, c := range sorted {
		sz := c.wireSize()
		if used > 0 && used+sz > budget {
			packets = append(packets, current)
			current = nil
			used = 0
		}
		current = append(current, c)
		used += sz
	}
	packets = append(packets, current)
	return packets
}
