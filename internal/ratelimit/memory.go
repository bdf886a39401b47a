package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory — token bucket на ключ: limit запросов за window, всплеск до limit.
type Memory struct {
	limit    int
	window   time.Duration
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory создаёт лимитер на limit запросов за window.
func NewMemory(limit int, window time.Duration) *Memory {
	if limit <= 0 {
		limit = 1
	}

	return &Memory{
		limit:    limit,
		window:   window,
		interval: window / time.Duration(limit),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

var _ Limiter = (*Memory)(nil)

// Allow расходует один токен ключа key.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(m.interval), m.limit)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Limit:     m.limit,
		Remaining: int(tokens),
	}

	if allowed {
		d.Reset = time.Duration((float64(m.limit) - tokens) * float64(m.interval))
	} else {
		d.Reset = time.Duration((1 - tokens) * float64(m.interval))
	}

	return d, nil
}

// Cleanup удаляет ключи, не использовавшиеся дольше window: их корзины
// к этому моменту уже полные.
func (m *Memory) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.window {
			delete(m.buckets, key)
			n++
		}
	}

	return n
}

// StartCleanup периодически вызывает Cleanup до отмены ctx.
func (m *Memory) StartCleanup(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = m.window
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				m.Cleanup(t)
			}
		}
	}()
}

// Len — число отслеживаемых ключей.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.buckets)
}
