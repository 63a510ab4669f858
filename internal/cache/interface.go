package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo горячий кеш закодированных блоков.
//
// Использование:
//
//	c := NewMemoryCache(time.Minute)
//	data, err := c.Get(ctx, storage.BlockKey(addr))
//	err = c.Set(ctx, key, data, 30*time.Second)
//	err = c.Invalidate(ctx, key)
type CacheRepo interface {
	// Get получает значение по ключу.
	// Возвращает ErrCacheMiss, если ключ не найден.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с указанным TTL.
	// TTL = 0 означает TTL по умолчанию.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ только из локального кеша.
	Delete(ctx context.Context, key string) error

	// Invalidate удаляет ключ и рассылает уведомление другим узлам.
	Invalidate(ctx context.Context, key string) error

	// Close освобождает соединения.
	Close() error

	// GetMetrics возвращает метрики кеша.
	GetMetrics() *CacheMetrics
}

// ColdStorage постоянное хранилище, из которого кеш дочитывает промахи
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// CacheInvalidator рассылает инвалидацию кеша через Pub/Sub.
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомление об инвалидации.
type InvalidationHandler func(key string) error

// CacheMetrics метрики производительности кеша.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys  int64     `json:"total_keys"`
	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig конфигурация кеша
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url" env:"CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB"`

	DefaultTTL time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"CACHE_MAX_TTL"`

	MaxConnections int           `yaml:"max_connections" env:"CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"CACHE_POOL_TIMEOUT"`
}

// Ошибки кеша
var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrInvalidKey  = errors.New("invalid key")
	ErrCacheClosed = errors.New("cache closed")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
