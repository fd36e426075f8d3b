package ratelimit

import (
	"sync"
	"time"

	"github.com/smallbiznis/valkyrie/internal/clock"
	"golang.org/x/time/rate"
)

const ipIdleTTL = 10 * time.Minute

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle is a token bucket per client address, used on credential
// endpoints.
type IPThrottle struct {
	mu      sync.Mutex
	clock   clock.Clock
	limit   rate.Limit
	burst   int
	entries map[string]*ipEntry
	sweptAt time.Time
}

func NewIPThrottle(clk clock.Clock, perSecond float64, burst int) *IPThrottle {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &IPThrottle{
		clock:   clk,
		limit:   rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*ipEntry),
	}
}

func (t *IPThrottle) Allow(ip string) bool {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.sweptAt) > ipIdleTTL {
		for k, e := range t.entries {
			if now.Sub(e.lastSeen) > ipIdleTTL {
				delete(t.entries, k)
			}
		}
		t.sweptAt = now
	}

	e, ok := t.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
