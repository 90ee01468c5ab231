package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// CounterStore increments a window counter and returns the new value. The
// ttl is applied when the key is first created so abandoned windows age
// out on their own.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

const shardCount = 64

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

type counterShard struct {
	mu      sync.Mutex
	entries map[string]counterEntry
}

// MemoryCounter is the in-process CounterStore. Keys are spread over 64
// mutex-guarded shards so concurrent requests on different keys never
// contend on one lock.
type MemoryCounter struct {
	shards [shardCount]*counterShard
}

func NewMemoryCounter() *MemoryCounter {
	m := &MemoryCounter{}
	for i := range m.shards {
		m.shards[i] = &counterShard{entries: make(map[string]counterEntry)}
	}
	return m
}

func (m *MemoryCounter) shard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = counterEntry{expiresAt: now.Add(ttl)}
	}
	entry.count++
	s.entries[key] = entry
	return entry.count, nil
}

// Sweep drops expired entries. Window keys are never touched again once
// their window passes, so without a periodic sweep the maps only grow.
func (m *MemoryCounter) Sweep(now time.Time) {
	for _, s := range m.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}
