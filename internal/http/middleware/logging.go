package middleware

import (
	"log/slog"
	"net/http"
	"time"

	logctx "github.com/pribylovaa/biocraft-studio/internal/pkg/log"
)

// Logging кладёт в контекст request-scoped логгер (request_id, method, path)
// и пишет одну запись на запрос.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := l.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			if rid := r.Header.Get(HeaderRequestID); rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}
			ctx := logctx.Into(r.Context(), reqLogger)
			r = r.WithContext(ctx)

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			level := slog.LevelInfo
			if sw.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logctx.From(r.Context()).LogAttrs(r.Context(), level, "http",
				slog.Int("status", sw.Status()),
				slog.Duration("dur", dur),
				slog.Int("bytes", sw.count),
			)
		})
	}
}
