package security

import (
	"math"
	"net"
	"time"
)

// bucket is one source IP's token bucket.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-source-IP token bucket, per spec.md §4.7: "refill
// rate and burst configurable. ConnectionRequest packets from a source
// whose bucket is empty are dropped silently (no reply, to avoid
// reflection)." Not safe for concurrent use — the single-threaded
// cooperative model (spec.md §5) never calls it from more than one
// goroutine.
type RateLimiter struct {
	refillPerSec float64
	burst        float64
	buckets      map[string]*bucket
}

func NewRateLimiter(refillPerSec, burst float64) *RateLimiter {
	return &RateLimiter{
		refillPerSec: refillPerSec,
		burst:        burst,
		buckets:      make(map[string]*bucket),
	}
}

// Allow reports whether a ConnectionRequest from addr may proceed, and
// consumes one token if so.
func (r *RateLimiter) Allow(addr net.Addr, now time.Time) bool {
	key := addrIP(addr)
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: r.burst, lastRefill: now}
		r.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(r.burst, b.tokens+elapsed*r.refillPerSec)
			b.lastRefill = now
		}
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// addrIP extracts the source IP from addr, dropping the ephemeral port, so
// the rate limiter keys on "who", not "which socket" — spec.md §4.7's
// token bucket is per source IP specifically so an attacker can't reset
// their budget just by sending each ConnectionRequest from a new source
// port (see S6: "An attacker IP sends 1000 ConnectionRequests").
func addrIP(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Prune discards buckets that have been idle for longer than maxIdle and
// have refilled to full in that time, bounding memory from one-off or
// spoofed source addresses.
func (r *RateLimiter) Prune(now time.Time, maxIdle time.Duration) {
	for key, b := range r.buckets {
		tokens := math.Min(r.burst, b.tokens+now.Sub(b.lastRefill).Seconds()*r.refillPerSec)
		if tokens >= r.burst && now.Sub(b.lastRefill) > maxIdle {
			delete(r.buckets, key)
		}
	}
}

// Len reports the number of source addresses currently tracked.
func (r *RateLimiter) Len() int { return len(r.buckets) }
