// redis содержит адаптеры поверх Redis: хранилище CSRF-сессий
// (csrf.Store) и лимитер частоты запросов с фиксированным окном
// (ratelimit.Limiter). Оба используют один клиент.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pribylovaa/biocraft-studio/internal/csrf"
	"github.com/pribylovaa/biocraft-studio/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// Client — обёртка над клиентом Redis.
type Client struct {
	rdb *redis.Client
}

// New создаёт клиент из URL (например, redis://:pass@host:6379/0)
// и выполняет fail-fast Ping.
func New(ctx context.Context, redisURL string) (*Client, error) {
	const op = "cache.redis.New"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping проверяет доступность Redis (для /healthz).
func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Client) Close() error { return c.rdb.Close() }

// SessionStore — csrf.Store в Redis: ключ prefix+ID, значение JSON,
// TTL до ExpiresAt.
type SessionStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// Sessions возвращает хранилище сессий. Пустой prefix — "session:".
func (c *Client) Sessions(prefix string) *SessionStore {
	if prefix == "" {
		prefix = "session:"
	}

	return &SessionStore{rdb: c.rdb, prefix: prefix, now: time.Now}
}

var _ csrf.Store = (*SessionStore)(nil)

func (s *SessionStore) key(id string) string { return s.prefix + id }

func (s *SessionStore) Get(ctx context.Context, id string) (*csrf.Session, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, csrf.ErrSessionNotFound
		}

		return nil, err
	}

	var sess csrf.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("cache.redis.SessionStore.Get: decode: %w", err)
	}

	return &sess, nil
}

func (s *SessionStore) Save(ctx context.Context, sess *csrf.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	return s.rdb.Set(ctx, s.key(sess.ID), raw, ttl).Err()
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

// RateLimiter — фиксированное окно: INCR ключа окна и PEXPIRE на длину окна
// в одной транзакции.
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RateLimiter возвращает лимитер на limit запросов за window.
func (c *Client) RateLimiter(prefix string, limit int, window time.Duration) *RateLimiter {
	if prefix == "" {
		prefix = "rl:"
	}

	return &RateLimiter{rdb: c.rdb, prefix: prefix, limit: limit, window: window, now: time.Now}
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)

func (l *RateLimiter) Allow(ctx context.Context, key string) (ratelimit.Decision, error) {
	now := l.now()
	win := now.UnixMilli() / l.window.Milliseconds()
	k := l.prefix + key + ":" + strconv.FormatInt(win, 10)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("cache.redis.RateLimiter.Allow: %w", err)
	}

	count := int(incr.Val())
	windowEnd := time.UnixMilli((win + 1) * l.window.Milliseconds())

	return ratelimit.Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		Reset:     windowEnd.Sub(now),
	}, nil
}
