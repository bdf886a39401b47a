// csrf реализует защиту от CSRF на основе серверной сессии браузера.
//
// Каждому браузеру выдаётся HttpOnly-cookie biocraft_sid; по её значению в
// Store лежит Session с CSRF-токеном. Guard.Issue отдаёт токен в заголовке
// X-CSRF-Token, Guard.Verify требует его в мутирующих запросах.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
)

const (
	// CookieName — cookie с идентификатором серверной сессии.
	CookieName = "biocraft_sid"
	// HeaderName — заголовок, в котором передаётся CSRF-токен.
	HeaderName = "X-CSRF-Token"
	// RejectMessage — текст ответа 403.
	RejectMessage = "CSRF token validation failed"

	defaultTTL = 24 * time.Hour
	// pendingTTL — срок новой сессии, пока браузер не вернул cookie.
	pendingTTL = 10 * time.Minute
)

// ErrSessionNotFound — в Store нет сессии с таким ID (или она истекла).
var ErrSessionNotFound = errors.New("csrf session not found")

// Session — серверная сессия браузера.
type Session struct {
	ID        string    `json:"id"`
	CSRFToken string    `json:"csrf_token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// Confirmed — браузер хотя бы раз вернул cookie; до этого сессия
	// живёт pendingTTL.
	Confirmed bool `json:"confirmed"`
}

// Expired сообщает, истекла ли сессия к моменту now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store хранит серверные сессии.
type Store interface {
	// Get возвращает сессию; отсутствующая или истекшая — ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

type ctxKey struct{}

// FromContext возвращает сессию, положенную Guard.Issue.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}

// Guard выдаёт и проверяет CSRF-токены.
type Guard struct {
	store    Store
	ttl      time.Duration
	pending  time.Duration
	secure   bool
	sameSite http.SameSite
	now      func() time.Time
	// OnReject вызывается при отказе проверки (метрики).
	OnReject func()
}

// NewGuard создаёт Guard. ttl <= 0 — 24 часа.
func NewGuard(store Store, ttl time.Duration, secure bool, sameSite http.SameSite) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Guard{
		store:    store,
		ttl:      ttl,
		pending:  min(pendingTTL, ttl),
		secure:   secure,
		sameSite: sameSite,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Issue загружает или создаёт серверную сессию, выставляет X-CSRF-Token и
// кладёт сессию в контекст. Токен генерируется один раз на сессию.
// Ошибка хранилища не прерывает запрос: Verify затем отклонит мутацию.
func (g *Guard) Issue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "csrf.Issue"

		ctx := r.Context()
		s, created, err := g.load(ctx, r)
		if err != nil {
			log.From(ctx).Error("csrf_session_failed", slog.String("op", op), slog.String("err", err.Error()))
			next.ServeHTTP(w, r)
			return
		}

		if created {
			http.SetCookie(w, g.cookie(s))
		}
		w.Header().Set(HeaderName, s.CSRFToken)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, s)))
	})
}

// Verify пропускает безопасные методы, а для остальных сравнивает
// X-CSRF-Token с токеном сессии за постоянное время.
func (g *Guard) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		s, ok := FromContext(r.Context())
		header := r.Header.Get(HeaderName)
		if !ok || header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(s.CSRFToken)) != 1 {
			log.From(r.Context()).Warn("csrf_rejected",
				slog.String("path", r.URL.Path),
				slog.Bool("has_session", ok),
				slog.Bool("has_header", header != ""),
			)
			if g.OnReject != nil {
				g.OnReject()
			}
			apierrors.Write(w, r, http.StatusForbidden, apierrors.CodePermissionDenied, RejectMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// load возвращает действующую сессию из cookie или создаёт новую
// (created = true). Первая сессия, вернувшаяся с cookie, продлевается до ttl.
func (g *Guard) load(ctx context.Context, r *http.Request) (*Session, bool, error) {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		s, err := g.store.Get(ctx, ck.Value)
		switch {
		case err == nil && !s.Expired(g.now()):
			if !s.Confirmed {
				g.confirm(ctx, s)
			}
			return s, false, nil
		case err != nil && !errors.Is(err, ErrSessionNotFound):
			return nil, false, err
		}
	}

	s, err := g.create(ctx)
	if err != nil {
		return nil, false, err
	}

	return s, true, nil
}

func (g *Guard) create(ctx context.Context) (*Session, error) {
	id, err := randomString(32, base64.RawURLEncoding.EncodeToString)
	if err != nil {
		return nil, err
	}

	token, err := randomString(64, hex.EncodeToString)
	if err != nil {
		return nil, err
	}

	now := g.now()
	s := &Session{ID: id, CSRFToken: token, CreatedAt: now, ExpiresAt: now.Add(g.pending)}

	if err := g.store.Save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// confirm продлевает сессию до ttl. Токен не меняется; ошибка хранилища
// только логируется: сессия остаётся действующей до прежнего срока.
func (g *Guard) confirm(ctx context.Context, s *Session) {
	upd := *s
	upd.Confirmed = true
	upd.ExpiresAt = g.now().Add(g.ttl)

	if err := g.store.Save(ctx, &upd); err != nil {
		log.From(ctx).Warn("csrf_session_confirm_failed", slog.String("err", err.Error()))
		return
	}

	*s = upd
}

// cookie — HttpOnly-cookie серверной сессии.
func (g *Guard) cookie(s *Session) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(g.ttl / time.Second),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: g.sameSite,
	}
}

func randomString(n int, enc func([]byte) string) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return enc(b), nil
}
