package cache

import (
	"sync/atomic"
	"time"
)

// stats счётчики запросов и задержек, общие для реализаций кеша
type stats struct {
	requests int64
	hits     int64
	misses   int64

	latencySum   int64 // в наносекундах
	latencyCount int64
	maxLatency   int64
}

func (s *stats) hit()  { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.hits, 1) }
func (s *stats) miss() { atomic.AddInt64(&s.requests, 1); atomic.AddInt64(&s.misses, 1) }

// recordLatency записывает задержку операции
func (s *stats) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()

	atomic.AddInt64(&s.latencySum, latency)
	atomic.AddInt64(&s.latencyCount, 1)

	for {
		current := atomic.LoadInt64(&s.maxLatency)
		if latency <= current || atomic.CompareAndSwapInt64(&s.maxLatency, current, latency) {
			break
		}
	}
}

// snapshot собирает метрики
func (s *stats) snapshot(keys int64) *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: atomic.LoadInt64(&s.requests),
		CacheHits:     atomic.LoadInt64(&s.hits),
		CacheMisses:   atomic.LoadInt64(&s.misses),
		TotalKeys:     keys,
		LastUpdate:    time.Now(),
	}
	if total := m.CacheHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(total)
	}
	if count := atomic.LoadInt64(&s.latencyCount); count > 0 {
		m.AvgLatencyMs = float64(atomic.LoadInt64(&s.latencySum)) / float64(count) / 1e6 // нс в мс
		m.MaxLatencyMs = float64(atomic.LoadInt64(&s.maxLatency)) / 1e6
	}
	return m
}
