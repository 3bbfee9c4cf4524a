package cache

import (
	"context"
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

const (
	memoryShards = 64
	// sturdyc splits capacity evenly across shards and evicts per shard.
	minEntriesPerShard = 16
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend keeps entries in process. sturdyc only knows a single TTL
// for the whole client, so each entry carries its own deadline and maxTTL
// bounds how long sturdyc retains anything.
type MemoryBackend struct {
	mu     sync.Mutex
	client *sturdyc.Client[memoryEntry]
	now    func() time.Time
}

func NewMemoryBackend(capacity int, maxTTL time.Duration) *MemoryBackend {
	if capacity <= 0 {
		capacity = 10000
	}
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}

	shards := min(memoryShards, max(1, capacity/minEntriesPerShard))

	return &MemoryBackend{
		client: sturdyc.New[memoryEntry](capacity, shards, maxTTL, 10),
		now:    time.Now,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store(key, value, ttl)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.client.Delete(key)
	return nil
}

func (b *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.live(key); ok {
		return false, nil
	}
	b.store(key, value, ttl)
	return true, nil
}

func (b *MemoryBackend) live(key string) (memoryEntry, bool) {
	entry, ok := b.client.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !b.now().Before(entry.expiresAt) {
		b.client.Delete(key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (b *MemoryBackend) store(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}
	b.client.Set(key, entry)
}
