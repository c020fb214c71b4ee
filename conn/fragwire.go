package conn

import (
	"encoding/binary"
	"errors"

	"github.com/packetforge/gbnet/fragment"
)

var ErrTruncatedFragment = errors.New("conn: truncated fragment header")

// encodeFragment writes the fragment header spec.md §4.5 defines onto the
// wire: a 16-bit group id, an 8-bit index, and an 8-bit total-minus-one
// (fragment.Fragment.Total holds the true 1..256 count, one more than an
// 8-bit field can hold), followed by the fragment body.
func encodeFragment(f fragment.Fragment) ([]byte, error) {
	if f.Total == 0 || f.Total > fragment.MaxFragments {
		return nil, fragment.ErrTooManyFragments
	}
	buf := make([]byte, 4+len(f.Body))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(f.GroupID))
	buf[2] = f.Index
	buf[3] = byte(f.Total - 1)
	copy(buf[4:], f.Body)
	return buf, nil
}

func decodeFragment(data []byte) (fragment.Fragment, error) {
	if len(data) < 4 {
		return fragment.Fragment{}, ErrTruncatedFragment
	}
	return fragment.Fragment{
		GroupID: int(binary.LittleEndian.Uint16(data[0:2])),
		Index:   data[2],
		Total:   uint16(data[3]) + 1,
		Body:    append([]byte(nil), data[4:]...),
	}, nil
}
