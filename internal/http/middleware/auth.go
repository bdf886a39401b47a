package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	logctx "github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/service"
	"github.com/pribylovaa/biocraft-studio/internal/session"
)

// Authenticator проверяет access-токен (service.Service.CurrentUser).
type Authenticator interface {
	CurrentUser(ctx context.Context, accessToken string) (*models.Identity, error)
}

type authKey int

const (
	ctxIdentity authKey = iota
	ctxSession
)

// IdentityFrom возвращает личность, проверенную RequireAuth.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(models.Identity)
	return id, ok
}

// SessionFrom возвращает сессию из cookie, проверенную RequireAuth.
func SessionFrom(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(ctxSession).(*models.Session)
	return s, ok
}

// WithIdentity кладёт личность и сессию в контекст (RequireAuth и тесты).
func WithIdentity(ctx context.Context, id models.Identity, s *models.Session) context.Context {
	ctx = context.WithValue(ctx, ctxIdentity, id)
	return context.WithValue(ctx, ctxSession, s)
}

// RequireAuth декодирует cookie сессии и проверяет access-токен.
// При отказе очищает cookie и отвечает 401; обработчик не вызывается.
// Истёкший access-токен даёт 401 session_expired без очистки cookie.
func RequireAuth(codec *session.Codec, auth Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := codec.Decode(r)
			if err != nil {
				msg := service.MsgInvalidSession
				if errors.Is(err, session.ErrNoSession) {
					msg = service.MsgAuthRequired
				}

				codec.Clear(w)
				apierrors.Write(w, r, http.StatusUnauthorized, apierrors.CodeUnauthenticated, msg)
				return
			}

			id, err := auth.CurrentUser(r.Context(), s.AccessToken)
			if err != nil {
				logctx.From(r.Context()).Info("auth_rejected", slog.String("err", err.Error()))

				// истёкший access-токен: cookie остаются, клиент вызывает /refresh.
				if errors.Is(err, service.ErrSessionExpired) {
					apierrors.WriteError(w, r, err)
					return
				}

				codec.Clear(w)
				apierrors.Write(w, r, http.StatusUnauthorized, apierrors.CodeUnauthenticated, service.MsgInvalidSession)
				return
			}

			ctx := WithIdentity(r.Context(), *id, s)
			ctx = logctx.Into(ctx, logctx.From(ctx).With(slog.String("user_id", id.ID.String())))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
