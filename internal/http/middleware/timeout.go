package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	logctx "github.com/pribylovaa/biocraft-studio/internal/pkg/log"
)

// Timeout ограничивает время обработки запроса (по умолчанию 30s из
// timeouts.request). Существующий deadline не продлевается. Если обработчик
// вышел по дедлайну, ничего не записав, клиент получает 504.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, ok := ctx.Deadline(); !ok {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			if sw.status == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logctx.From(ctx).Warn("request_timeout",
					slog.String("path", r.URL.Path),
					slog.Duration("limit", d),
				)
				apierrors.WriteError(sw, r, context.DeadlineExceeded)
			}
		})
	}
}
