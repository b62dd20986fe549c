package navcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryCache はプロセス内のキャッシュ。REDIS_URL未設定時に使う。
// 単一インスタンス運用を前提とする。
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	generations map[string]int64
	now         func() time.Time
}

// NewMemoryCache はMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]memoryEntry),
		generations: make(map[string]int64),
		now:         time.Now,
	}
}

// Get は期限内のエントリを返す。期限切れのエントリは削除する。
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.entry, true, nil
}

// Set はエントリを保存する。
func (c *MemoryCache) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{entry: entry, expiresAt: c.now().Add(ttl)}
	return nil
}

// Generation はテナントの世代番号を返す。
func (c *MemoryCache) Generation(_ context.Context, tenantUUID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[tenantUUID], nil
}

// Bump は世代番号を進め、期限切れのエントリを掃除する。
func (c *MemoryCache) Bump(_ context.Context, tenantUUID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[tenantUUID]++
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	return nil
}

// Len は保持しているエントリ数を返す。
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// compile-time interface check
var _ Cache = (*MemoryCache)(nil)
