// Package security implements the connect-token handshake credential and
// its validation, plus the per-IP rate limiter, described in spec.md §4.7.
//
// Grounded on original_source/gbnet/src/security.rs's ConnectToken and
// TokenValidator, adapted from an unsigned salt scheme to spec.md's HMAC'd
// token: (token_version, expiry_unix_seconds, client_id,
// allowed_server_addresses, hmac).
package security

import (
	"container/list"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"net"
	"time"
)

// TokenVersion is the only token_version this build accepts.
const TokenVersion uint8 = 1

var (
	ErrVersionMismatch    = errors.New("security: token version mismatch")
	ErrTokenExpired       = errors.New("security: token expired")
	ErrAddressNotAllowed  = errors.New("security: server address not in token's allowed list")
	ErrBadHMAC            = errors.New("security: token HMAC invalid")
	ErrTokenReplayed      = errors.New("security: token already used")
)

// ConnectToken is the opaque credential a client presents in its
// ConnectionRequest, produced by an out-of-band trust authority and
// verified here without any external call.
type ConnectToken struct {
	Version                uint8
	ExpiryUnixSeconds      int64
	ClientID               uint64
	AllowedServerAddresses []string
	HMAC                   [sha256.Size]byte
}

// signingPayload is the byte sequence the HMAC covers: every field except
// the HMAC itself, in struct declaration order.
func (t *ConnectToken) signingPayload() []byte {
	buf := make([]byte, 0, 1+8+8+64)
	buf = append(buf, t.Version)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(t.ExpiryUnixSeconds))
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], t.ClientID)
	buf = append(buf, tmp[:]...)
	for _, addr := range t.AllowedServerAddresses {
		buf = append(buf, []byte(addr)...)
		buf = append(buf, 0) // separator
	}
	return buf
}

// Sign computes and stores the token's HMAC under key.
func (t *ConnectToken) Sign(key []byte) {
	mac := hmac.New(sha256.New, key)
	mac.Write(t.signingPayload())
	copy(t.HMAC[:], mac.Sum(nil))
}

func (t *ConnectToken) verifyHMAC(key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(t.signingPayload())
	expected := mac.Sum(nil)
	return hmac.Equal(expected, t.HMAC[:])
}

// Validate checks token_version, expiry, server address membership, and
// HMAC — spec.md §4.7's acceptance criteria, in that order. It does NOT
// check for replay; that's TokenValidator.Accept's job, since only the
// server's accepted-token history can detect a replay.
func Validate(t *ConnectToken, key []byte, serverAddr net.Addr, now time.Time) error {
	if t.Version != TokenVersion {
		return ErrVersionMismatch
	}
	if now.Unix() >= t.ExpiryUnixSeconds {
		return ErrTokenExpired
	}
	addrStr := serverAddr.String()
	allowed := false
	for _, a := range t.AllowedServerAddresses {
		if a == addrStr {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrAddressNotAllowed
	}
	if !t.verifyHMAC(key) {
		return ErrBadHMAC
	}
	return nil
}

type acceptedEntry struct {
	clientID uint64
	expiry   int64
}

// TokenValidator enforces single-use tokens: a bounded LRU of recently
// accepted (client_id, expiry) pairs, per spec.md §4.7 and invariant 9.
type TokenValidator struct {
	key      []byte
	capacity int
	order    *list.List // front = most recently accepted
	index    map[uint64]*list.Element
}

func NewTokenValidator(key []byte, capacity int) *TokenValidator {
	if capacity <= 0 {
		capacity = 1024
	}
	return &TokenValidator{
		key:      key,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint64]*list.Element),
	}
}

// Accept validates token and, if it passes, records it as used. Returns
// ErrTokenReplayed if this client id was already accepted and its
// recorded expiry has not yet passed.
func (v *TokenValidator) Accept(token *ConnectToken, serverAddr net.Addr, now time.Time) error {
	if err := Validate(token, v.key, serverAddr, now); err != nil {
		return err
	}
	if elem, ok := v.index[token.ClientID]; ok {
		entry := elem.Value.(*acceptedEntry)
		if now.Unix() < entry.expiry {
			return ErrTokenReplayed
		}
		v.order.Remove(elem)
		delete(v.index, token.ClientID)
	}
	if v.order.Len() >= v.capacity {
		oldest := v.order.Back()
		if oldest != nil {
			v.order.Remove(oldest)
			delete(v.index, oldest.Value.(*acceptedEntry).clientID)
		}
	}
	elem := v.order.PushFront(&acceptedEntry{clientID: token.ClientID, expiry: token.ExpiryUnixSeconds})
	v.index[token.ClientID] = elem
	return nil
}

// ExpireStale drops accepted-token records whose expiry has passed,
// bounding the table's memory independent of the capacity eviction above.
func (v *TokenValidator) ExpireStale(now time.Time) {
	for e := v.order.Back(); e != nil; {
		prev := e.Prev()
		entry := e.Value.(*acceptedEntry)
		if now.Unix() >= entry.expiry {
			v.order.Remove(e)
			delete(v.index, entry.clientID)
		}
		e = prev
	}
}

// Len reports the number of accepted-token records currently held.
func (v *TokenValidator) Len() int { return v.order.Len() }
