package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/client/localstore"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/redact"
)

// OfflineWarning выставляется, когда сессия восстановлена без сервера.
const OfflineWarning = "Working in offline mode. Some features may be limited."

type State int

const (
	StateUninitialized State = iota
	StateRestoring
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Listener получает каждое изменение состояния. Вызывается синхронно,
// вне блокировки AuthContext, с контекстом вызвавшей операции.
type Listener func(ctx context.Context, st State, s *models.SessionSummary)

// AuthContext — состояние аутентификации клиента. Секреты не хранит:
// cookie сессии в jar транспорта, в localstore только несекретная запись.
type AuthContext struct {
	api   *API
	store *localstore.Store

	mu        sync.Mutex
	state     State
	session   *models.SessionSummary
	offline   bool
	warning   string
	listeners map[int]Listener
	nextID    int
}

func NewAuthContext(api *API, store *localstore.Store) *AuthContext {
	return &AuthContext{
		api:       api,
		store:     store,
		state:     StateUninitialized,
		listeners: make(map[int]Listener),
	}
}

func (a *AuthContext) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Session возвращает копию текущей сводки сессии или nil.
func (a *AuthContext) Session() *models.SessionSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copySummary(a.session)
}

func (a *AuthContext) Offline() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offline
}

func (a *AuthContext) Warning() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warning
}

// Subscribe регистрирует слушателя; возвращённая функция отписывает.
func (a *AuthContext) Subscribe(l Listener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = l
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Close отписывает всех слушателей. Серверную сессию не трогает.
func (a *AuthContext) Close() error {
	a.mu.Lock()
	a.listeners = make(map[int]Listener)
	a.mu.Unlock()
	return nil
}

// Restore восстанавливает сессию при запуске: локальная запись + проверка
// на сервере. Ошибки сервера не фатальны; итог — возвращаемое состояние.
func (a *AuthContext) Restore(ctx context.Context) State {
	const op = "client.auth.Restore"

	lg := log.From(ctx).With(slog.String("op", op))
	a.set(ctx, StateRestoring, nil, false)

	rec, err := a.store.LoadSession(ctx)
	switch {
	case errors.Is(err, localstore.ErrExpired):
		lg.Info("local_session_expired")
		a.set(ctx, StateUnauthenticated, nil, false)
		return StateUnauthenticated
	case errors.Is(err, localstore.ErrNotFound):
		rec = nil
	case err != nil:
		lg.Warn("local_session_read_failed", slog.String("err", err.Error()))
		rec = nil
	}

	sum, err := a.api.Session(ctx)
	switch {
	case err == nil:
		a.remember(ctx, sum)
		a.set(ctx, StateAuthenticated, sum, false)
		return StateAuthenticated

	case IsStatus(err, http.StatusUnauthorized):
		a.api.ClearSession()
		a.forget(ctx)
		a.set(ctx, StateUnauthenticated, nil, false)
		return StateUnauthenticated

	case rec != nil:
		// сервер недоступен или сбоит: работаем по локальной записи.
		lg.Warn("session_restore_offline", slog.String("err", err.Error()))
		a.set(ctx, StateAuthenticated, summaryFromRecord(rec), true)
		return StateAuthenticated

	default:
		lg.Warn("session_restore_failed", slog.String("err", err.Error()))
		a.set(ctx, StateUnauthenticated, nil, false)
		return StateUnauthenticated
	}
}

func (a *AuthContext) Login(ctx context.Context, email, password string, remember bool) (*models.SessionSummary, error) {
	const op = "client.auth.Login"

	sum, err := a.api.Login(ctx, email, password, remember)
	if err != nil {
		log.From(ctx).Info("login_failed",
			slog.String("op", op),
			slog.String("email", redact.Email(email)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	a.remember(ctx, sum)
	a.set(ctx, StateAuthenticated, sum, false)

	return copySummary(sum), nil
}

// SignUp не меняет состояние: после регистрации нужен вход.
func (a *AuthContext) SignUp(ctx context.Context, email, password string, confirm *string) (*models.Identity, error) {
	return a.api.SignUp(ctx, email, password, confirm)
}

// Logout сначала сбрасывает локальное состояние и cookie сессии в jar,
// затем уведомляет сервер снятыми cookie. Ошибки сервера только логируются.
func (a *AuthContext) Logout(ctx context.Context) {
	const op = "client.auth.Logout"

	cookies := a.api.ClearSession()
	a.forget(ctx)
	a.set(ctx, StateUnauthenticated, nil, false)

	if err := a.api.SignOut(ctx, cookies...); err != nil {
		log.From(ctx).Warn("signout_failed", slog.String("op", op), slog.String("err", err.Error()))
	}
}

// Refresh продлевает сессию. 401 сбрасывает локальное состояние.
func (a *AuthContext) Refresh(ctx context.Context) (*models.SessionSummary, error) {
	sum, err := a.api.Refresh(ctx)
	if err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			a.api.ClearSession()
			a.forget(ctx)
			a.set(ctx, StateUnauthenticated, nil, false)
		}
		return nil, err
	}

	a.remember(ctx, sum)
	a.set(ctx, StateAuthenticated, sum, false)

	return copySummary(sum), nil
}

func (a *AuthContext) ResetPassword(ctx context.Context, email string) (string, error) {
	return a.api.ResetPassword(ctx, email)
}

func (a *AuthContext) NewPassword(ctx context.Context, password, token string) (string, error) {
	return a.api.NewPassword(ctx, password, token)
}

func (a *AuthContext) ChangePassword(ctx context.Context, current, next string) (string, error) {
	return a.api.ChangePassword(ctx, current, next)
}

func (a *AuthContext) set(ctx context.Context, st State, sum *models.SessionSummary, offline bool) {
	a.mu.Lock()
	a.state = st
	a.session = copySummary(sum)
	a.offline = offline
	a.warning = ""
	if offline {
		a.warning = OfflineWarning
	}

	listeners := make([]Listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	snapshot := copySummary(a.session)
	a.mu.Unlock()

	for _, l := range listeners {
		l(ctx, st, copySummary(snapshot))
	}
}

func (a *AuthContext) remember(ctx context.Context, sum *models.SessionSummary) {
	rec := localstore.Record{
		UserID:    sum.User.ID.String(),
		Email:     sum.User.Email,
		Role:      sum.User.Role,
		ExpiresAt: sum.ExpiresAt,
	}

	if err := a.store.SaveSession(ctx, rec); err != nil {
		log.From(ctx).Warn("local_session_save_failed", slog.String("err", err.Error()))
	}
}

func (a *AuthContext) forget(ctx context.Context) {
	if err := a.store.ClearSession(ctx); err != nil {
		log.From(ctx).Warn("local_session_clear_failed", slog.String("err", err.Error()))
	}
}

func summaryFromRecord(rec *localstore.Record) *models.SessionSummary {
	id, _ := uuid.Parse(rec.UserID)
	return &models.SessionSummary{
		User:      models.Identity{ID: id, Email: rec.Email, Role: rec.Role},
		ExpiresAt: rec.ExpiresAt,
	}
}

func copySummary(s *models.SessionSummary) *models.SessionSummary {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
