package security

import (
	"encoding/binary"
	"errors"
)

var ErrTruncatedToken = errors.New("security: truncated connect token")

// EncodeConnectToken serializes a token for transport inside a
// ConnectionRequest packet's payload: version, expiry, client id, a 16-bit
// little-endian count of allowed addresses (each prefixed by its own 16-bit
// little-endian length), and the trailing HMAC. This is the wire format;
// signingPayload in token.go is the (narrower) byte sequence the HMAC
// actually covers.
func EncodeConnectToken(t *ConnectToken) []byte {
	buf := make([]byte, 0, 64+len(t.AllowedServerAddresses)*24)
	buf = append(buf, t.Version)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(t.ExpiryUnixSeconds))
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], t.ClientID)
	buf = append(buf, tmp8[:]...)

	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(t.AllowedServerAddresses)))
	buf = append(buf, tmp2[:]...)
	for _, addr := range t.AllowedServerAddresses {
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(addr)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, []byte(addr)...)
	}
	buf = append(buf, t.HMAC[:]...)
	return buf
}

// DecodeConnectToken parses the format EncodeConnectToken produces.
func DecodeConnectToken(data []byte) (*ConnectToken, error) {
	if len(data) < 1+8+8+2 {
		return nil, ErrTruncatedToken
	}
	t := &ConnectToken{}
	t.Version = data[0]
	off := 1
	t.ExpiryUnixSeconds = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	t.ClientID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	count := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	for i := 0; i < count; i++ {
		if off+2 > len(data) {
			return nil, ErrTruncatedToken
		}
		n := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if off+n > len(data) {
			return nil, ErrTruncatedToken
		}
		t.AllowedServerAddresses = append(t.AllowedServerAddresses, string(data[off:off+n]))
		off += n
	}
	if off+len(t.HMAC) > len(data) {
		return nil, ErrTruncatedToken
	}
	copy(t.HMAC[:], data[off:])
	return t, nil
}
