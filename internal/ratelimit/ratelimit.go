// ratelimit ограничивает частоту запросов по ключу scope+IP клиента.
//
// Реализации Limiter: Memory (token bucket golang.org/x/time/rate в памяти
// процесса) и cache/redis.RateLimiter (фиксированное окно, общее для
// нескольких реплик).
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
)

// Тексты ответов 429.
const (
	MsgAuthLimited = "Too many attempts, please try again later"
	MsgAPILimited  = "Too many requests, please try again later"
)

// Decision — результат проверки лимита.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset — через сколько квота восстановится.
	Reset time.Duration
}

// Limiter решает, можно ли пропустить ещё один запрос с ключом key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Options — параметры мидлвара.
type Options struct {
	// Scope — префикс ключа ("auth", "api"), он же label метрики.
	Scope   string
	Message string
	// TrustProxy — брать IP из первого X-Forwarded-For.
	TrustProxy bool
	// OnReject вызывается при отказе (метрики).
	OnReject func(scope string)
}

// Middleware ограничивает запросы по ключу Scope + IP клиента.
// Ошибка лимитера не блокирует запрос, а только логируется.
func Middleware(l Limiter, opts Options) func(http.Handler) http.Handler {
	msg := opts.Message
	if msg == "" {
		msg = MsgAPILimited
	}

	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.Scope + ":" + ClientIP(r, opts.TrustProxy)

			d, err := l.Allow(r.Context(), key)
			if err != nil {
				log.From(r.Context()).Error("ratelimit_failed",
					slog.String("scope", opts.Scope),
					slog.String("err", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, d)

			if !d.Allowed {
				if opts.OnReject != nil {
					opts.OnReject(opts.Scope)
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds(d.Reset)))
				apierrors.Write(w, r, http.StatusTooManyRequests, apierrors.CodeResourceExhausted, msg)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает IP клиента: при trustProxy — последний адрес
// X-Forwarded-For (его дописал наш прокси, левые адреса задаёт клиент),
// иначе хост из RemoteAddr.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if hops := r.Header.Values("X-Forwarded-For"); len(hops) > 0 {
			last := hops[len(hops)-1]
			if i := strings.LastIndexByte(last, ','); i >= 0 {
				last = last[i+1:]
			}
			if ip := strings.TrimSpace(last); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func setHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	h.Set("RateLimit-Reset", strconv.Itoa(seconds(d.Reset)))
}

// seconds округляет вверх до целых секунд.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}

	return int((d + time.Second - 1) / time.Second)
}
