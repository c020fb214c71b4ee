package security

import (
	"net"
	"testing"
	"time"
)

var epoch = time.Unix(1_700_000_000, 0)

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
}

func makeToken(clientID uint64, expiry int64, key []byte, addrs []string) *ConnectToken {
	t := &ConnectToken{
		Version:                TokenVersion,
		ExpiryUnixSeconds:      expiry,
		ClientID:               clientID,
		AllowedServerAddresses: addrs,
	}
	t.Sign(key)
	return t
}

func TestValidateAcceptsWellFormedToken(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	tok := makeToken(1, epoch.Unix()+30, key, []string{addr.String()})
	if err := Validate(tok, key, addr, epoch); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	tok := makeToken(1, epoch.Unix()-1, key, []string{addr.String()})
	if err := Validate(tok, key, addr, epoch); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateRejectsWrongAddress(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	tok := makeToken(1, epoch.Unix()+30, key, []string{"10.0.0.1:9999"})
	if err := Validate(tok, key, addr, epoch); err != ErrAddressNotAllowed {
		t.Fatalf("expected ErrAddressNotAllowed, got %v", err)
	}
}

func TestValidateRejectsBadHMAC(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	tok := makeToken(1, epoch.Unix()+30, key, []string{addr.String()})
	tok.HMAC[0] ^= 0xFF
	if err := Validate(tok, key, addr, epoch); err != ErrBadHMAC {
		t.Fatalf("expected ErrBadHMAC, got %v", err)
	}
}

// Invariant 6 (CRC authority) belongs to the wire package; this is the
// token analogue — flipping any signed field invalidates the HMAC.
func TestValidateRejectsTamperedClientID(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	tok := makeToken(1, epoch.Unix()+30, key, []string{addr.String()})
	tok.ClientID = 2
	if err := Validate(tok, key, addr, epoch); err != ErrBadHMAC {
		t.Fatalf("expected ErrBadHMAC after tampering, got %v", err)
	}
}

// Invariant 9: a given connect token accepted once is denied on
// re-presentation within its expiry window.
func TestTokenSingleUse(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	v := NewTokenValidator(key, 16)
	tok := makeToken(42, epoch.Unix()+30, key, []string{addr.String()})

	if err := v.Accept(tok, addr, epoch); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := v.Accept(tok, addr, epoch.Add(time.Second)); err != ErrTokenReplayed {
		t.Fatalf("expected ErrTokenReplayed, got %v", err)
	}
}

func TestTokenAcceptedAgainAfterExpiry(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	v := NewTokenValidator(key, 16)
	tok := makeToken(42, epoch.Unix()+1, key, []string{addr.String()})

	if err := v.Accept(tok, addr, epoch); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	// A fresh token for the same client, issued after the first expired,
	// is a distinct credential and must be accepted.
	tok2 := makeToken(42, epoch.Unix()+100, key, []string{addr.String()})
	if err := v.Accept(tok2, addr, epoch.Add(5*time.Second)); err != nil {
		t.Fatalf("expected acceptance after expiry, got %v", err)
	}
}

func TestTokenValidatorEvictsAtCapacity(t *testing.T) {
	key := []byte("psk")
	addr := testAddr()
	v := NewTokenValidator(key, 2)
	for i := uint64(1); i <= 3; i++ {
		tok := makeToken(i, epoch.Unix()+30, key, []string{addr.String()})
		if err := v.Accept(tok, addr, epoch); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	if v.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", v.Len())
	}
	// Client 1's record was evicted, so its token can be replayed —
	// bounded memory is a deliberate tradeoff, not a security promise
	// beyond the LRU window.
	tok1 := makeToken(1, epoch.Unix()+30, key, []string{addr.String()})
	if err := v.Accept(tok1, addr, epoch); err != nil {
		t.Fatalf("expected re-acceptance after eviction, got %v", err)
	}
}

// S6: an attacker IP sends many requests in a burst; at most `burst` are
// allowed, the remainder dropped; a different IP is unaffected.
func TestRateLimiterCapsBurstPerSourceIP(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	allowed := 0
	for i := 0; i < 1000; i++ {
		// Same IP, a fresh ephemeral source port every request — the
		// limiter must key on IP, not the full addr, or this bypasses it.
		attacker := &net.UDPAddr{IP: net.ParseIP("6.6.6.6"), Port: 1 + i}
		if rl.Allow(attacker, epoch) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected exactly burst=5 allowed regardless of source port, got %d", allowed)
	}

	legit := &net.UDPAddr{IP: net.ParseIP("1.2.3.4"), Port: 1}
	if !rl.Allow(legit, epoch) {
		t.Fatal("legitimate client on a different IP must still be allowed")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	addr := testAddr()
	if !rl.Allow(addr, epoch) {
		t.Fatal("expected first request allowed")
	}
	if rl.Allow(addr, epoch) {
		t.Fatal("expected second immediate request denied")
	}
	if !rl.Allow(addr, epoch.Add(200*time.Millisecond)) {
		t.Fatal("expected request allowed after refill window")
	}
}
