package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"go.uber.org/zap"
)

// Window is the span of one admission window.
const Window = time.Hour

const keyPartnerWindow = "valkyrie:ratelimit:%s:%d"

var ErrRateLimited = errors.New("rate_limited")

// LimitedError is returned when a partner has used up the current window.
type LimitedError struct {
	RetryAfter time.Duration
	Limit      int64
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds up so a client never retries before the window expires.
func (e *LimitedError) RetryAfterSeconds() int64 {
	secs := int64(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

type Decision struct {
	Allowed    bool
	Limit      int64
	Count      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store counts hits per key. Hit must only increment the counter when the
// result is still within capacity, and the key must expire at expireAt.
type Store interface {
	Hit(ctx context.Context, key string, capacity int64, expireAt time.Time) (count int64, allowed bool, err error)
}

type Limiter struct {
	store        Store
	fallback     Store
	clock        clock.Clock
	log          *zap.Logger
	defaultLimit int64
}

func NewLimiter(store Store, clk clock.Clock, log *zap.Logger, defaultLimit int64) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		store:        store,
		fallback:     NewMemoryStore(clk),
		clock:        clk,
		log:          log.Named("ratelimit"),
		defaultLimit: defaultLimit,
	}
}

// TryAdmit counts one call for partnerID in the current hour window.
// Rejected calls leave the counter unchanged and return a *LimitedError.
func (l *Limiter) TryAdmit(ctx context.Context, partnerID snowflake.ID, capacity int64) (Decision, error) {
	if capacity <= 0 {
		capacity = l.defaultLimit
	}
	now := l.clock.Now().UTC()
	start := now.Truncate(Window)
	reset := start.Add(Window)
	key := windowKey(partnerID, start)

	count, allowed, err := l.store.Hit(ctx, key, capacity, reset)
	if err != nil {
		// A broken shared store degrades to per-process counting.
		l.log.Warn("rate limit store unavailable, using local window",
			zap.String("partner_id", partnerID.String()),
			zap.Error(err),
		)
		count, allowed, err = l.fallback.Hit(ctx, key, capacity, reset)
		if err != nil {
			return Decision{}, err
		}
	}

	decision := Decision{
		Allowed: allowed,
		Limit:   capacity,
		Count:   count,
		ResetAt: reset,
	}
	if remaining := capacity - count; remaining > 0 {
		decision.Remaining = remaining
	}
	if !allowed {
		decision.RetryAfter = reset.Sub(now)
		return decision, &LimitedError{RetryAfter: decision.RetryAfter, Limit: capacity}
	}
	return decision, nil
}

func windowKey(partnerID snowflake.ID, start time.Time) string {
	return fmt.Sprintf(keyPartnerWindow, partnerID.String(), start.Unix())
}

func parseCount(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}
