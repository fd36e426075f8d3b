package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const partnerID = snowflake.ID(42)

func newTestLimiter(at time.Time) (*Limiter, *clock.FakeClock) {
	clk := clock.NewFakeClock(at)
	return NewLimiter(NewMemoryStore(clk), clk, zap.NewNop(), 100), clk
}

func TestTryAdmitCapacity(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC))
	ctx := context.Background()

	const capacity = 5
	admitted, rejected := 0, 0
	for i := 0; i < capacity+1; i++ {
		_, err := limiter.TryAdmit(ctx, partnerID, capacity)
		if err == nil {
			admitted++
			continue
		}
		require.True(t, errors.Is(err, ErrRateLimited))
		rejected++
	}
	assert.Equal(t, capacity, admitted)
	assert.Equal(t, 1, rejected)
}

func TestTryAdmitRejectionLeavesCounter(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = limiter.TryAdmit(ctx, partnerID, 2)
	}
	decision, err := limiter.TryAdmit(ctx, partnerID, 2)
	require.Error(t, err)
	assert.Equal(t, int64(2), decision.Count)
	assert.Zero(t, decision.Remaining)
}

func TestTryAdmitRetryAfterUntilWindowEnd(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, 1, 1, 10, 15, 30, 0, time.UTC))
	ctx := context.Background()

	_, err := limiter.TryAdmit(ctx, partnerID, 1)
	require.NoError(t, err)

	_, err = limiter.TryAdmit(ctx, partnerID, 1)
	var limited *LimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 44*time.Minute+30*time.Second, limited.RetryAfter)
	assert.Equal(t, int64(2670), limited.RetryAfterSeconds())
}

func TestTryAdmitWindowResets(t *testing.T) {
	limiter, clk := newTestLimiter(time.Date(2024, 1, 1, 10, 59, 59, 0, time.UTC))
	ctx := context.Background()

	_, err := limiter.TryAdmit(ctx, partnerID, 1)
	require.NoError(t, err)
	_, err = limiter.TryAdmit(ctx, partnerID, 1)
	require.Error(t, err)

	clk.Advance(time.Second)
	decision, err := limiter.TryAdmit(ctx, partnerID, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), decision.ResetAt)
}

func TestTryAdmitPartnersIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := limiter.TryAdmit(ctx, partnerID, 1)
	require.NoError(t, err)
	_, err = limiter.TryAdmit(ctx, partnerID+1, 1)
	require.NoError(t, err)
}

func TestTryAdmitDefaultCapacity(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	decision, err := limiter.TryAdmit(context.Background(), partnerID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), decision.Limit)
}

func TestTryAdmitConcurrent(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	const capacity = 40
	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limiter.TryAdmit(ctx, partnerID, capacity); err == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(capacity), admitted)
}

type brokenStore struct{}

func (brokenStore) Hit(context.Context, string, int64, time.Time) (int64, bool, error) {
	return 0, false, errors.New("connection refused")
}

func TestTryAdmitFallsBackWhenStoreFails(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	limiter := NewLimiter(brokenStore{}, clk, zap.NewNop(), 100)

	_, err := limiter.TryAdmit(context.Background(), partnerID, 1)
	require.NoError(t, err)
	_, err = limiter.TryAdmit(context.Background(), partnerID, 1)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

// scriptHook answers EVALSHA calls in-process and records their arguments.
type scriptHook struct {
	mu    sync.Mutex
	calls [][]interface{}
	reply []interface{}
}

func (h *scriptHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *scriptHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls = append(h.calls, cmd.Args())
		if c, ok := cmd.(*redis.Cmd); ok {
			c.SetVal(h.reply)
		}
		return nil
	}
}

func (h *scriptHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStoreScriptArguments(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	hook := &scriptHook{reply: []interface{}{int64(1), int64(3)}}
	client.AddHook(hook)

	store := NewRedisStore(client)
	expireAt := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	count, allowed, err := store.Hit(context.Background(), "k", 10, expireAt)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(3), count)

	require.Len(t, hook.calls, 1)
	args := hook.calls[0]
	assert.Equal(t, "evalsha", args[0])
	assert.Equal(t, "k", args[3])
	assert.Equal(t, int64(10), args[4])
	assert.Equal(t, expireAt.UnixMilli(), args[5])
}

func TestRedisStoreRejected(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	client.AddHook(&scriptHook{reply: []interface{}{int64(0), int64(10)}})

	count, allowed, err := NewRedisStore(client).Hit(context.Background(), "k", 10, time.Now())
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(10), count)
}

func TestLocalLocker(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	locker := NewLocalLocker(clk)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "billing", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "billing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "billing", "someone-else"))
	_, ok, _ = locker.TryLock(ctx, "billing", time.Minute)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "billing", token))
	_, ok, _ = locker.TryLock(ctx, "billing", time.Minute)
	assert.True(t, ok)

	clk.Advance(2 * time.Minute)
	_, ok, _ = locker.TryLock(ctx, "billing", time.Minute)
	assert.True(t, ok, "expired lock can be taken")

	_, _, err = locker.TryLock(ctx, "", time.Minute)
	assert.Error(t, err)
}

func TestIPThrottle(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	throttle := NewIPThrottle(clk, 1, 2)

	assert.True(t, throttle.Allow("10.0.0.1"))
	assert.True(t, throttle.Allow("10.0.0.1"))
	assert.False(t, throttle.Allow("10.0.0.1"))
	assert.True(t, throttle.Allow("10.0.0.2"))

	clk.Advance(time.Second)
	assert.True(t, throttle.Allow("10.0.0.1"))
}
