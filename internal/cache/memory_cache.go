package cache

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
)

type memoryItem struct {
	value   []byte
	expires time.Time // нулевое время: без истечения
}

// MemoryCache кеш в памяти процесса. Используется, когда Redis не настроен.
type MemoryCache struct {
	mu          sync.RWMutex
	items       map[string]memoryItem
	defaultTTL  time.Duration
	coldStorage ColdStorage
	invalidator CacheInvalidator
	closed      bool
	stats       stats
	now         func() time.Time
}

// NewMemoryCache создаёт кеш в памяти. coldStorage и invalidator могут быть nil.
func NewMemoryCache(defaultTTL time.Duration, coldStorage ColdStorage, invalidator CacheInvalidator) *MemoryCache {
	return &MemoryCache{
		items:       make(map[string]memoryItem),
		defaultTTL:  defaultTTL,
		coldStorage: coldStorage,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// Get получает значение; при промахе дочитывает его из coldStorage
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer c.stats.recordLatency(start)

	c.mu.RLock()
	item, ok := c.items[key]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, ErrCacheClosed
	}
	if ok && (item.expires.IsZero() || c.now().Before(item.expires)) {
		c.stats.hit()
		return append([]byte(nil), item.value...), nil
	}
	c.stats.miss()

	if c.coldStorage != nil {
		val, err := c.coldStorage.Load(ctx, key)
		if err == nil {
			if err := c.Set(ctx, key, val, 0); err != nil {
				logging.Debug("Cache fill for key %s: %v", key, err)
			}
			return val, nil
		}
		logging.Debug("Cold storage miss for key %s: %v", key, err)
	}
	return nil, ErrCacheMiss
}

// Set сохраняет значение
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}
	c.items[key] = item
	return nil
}

// Delete удаляет ключ
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Invalidate удаляет ключ и уведомляет другие узлы
func (c *MemoryCache) Invalidate(ctx context.Context, key string) error {
	if err := c.Delete(ctx, key); err != nil {
		return err
	}
	if c.invalidator != nil {
		return c.invalidator.PublishInvalidation(ctx, key)
	}
	return nil
}

// Close очищает кеш
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = make(map[string]memoryItem)
	return nil
}

// GetMetrics возвращает метрики кеша
func (c *MemoryCache) GetMetrics() *CacheMetrics {
	c.mu.RLock()
	n := int64(len(c.items))
	c.mu.RUnlock()
	return c.stats.snapshot(n)
}
