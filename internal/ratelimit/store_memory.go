package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/smallbiznis/valkyrie/internal/clock"
)

const memoryShards = 32

type windowCounter struct {
	count    int64
	expireAt time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// MemoryStore is a per-process Store with one lock per shard of keys.
type MemoryStore struct {
	clock  clock.Clock
	shards [memoryShards]*shard
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	s := &MemoryStore{clock: clk}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[string]*windowCounter)}
	}
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, capacity int64, expireAt time.Time) (int64, bool, error) {
	sh := s.shardFor(key)
	now := s.clock.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok || !now.Before(c.expireAt) {
		sh.sweep(now)
		c = &windowCounter{expireAt: expireAt}
		sh.counters[key] = c
	}
	if c.count >= capacity {
		return c.count, false, nil
	}
	c.count++
	return c.count, true, nil
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShards]
}

func (sh *shard) sweep(now time.Time) {
	for k, c := range sh.counters {
		if !now.Before(c.expireAt) {
			delete(sh.counters, k)
		}
	}
}
