// oauth содержит внешних провайдеров входа (Google через OIDC, GitHub через
// OAuth2) и помощники для state/PKCE. Провайдеры возвращают только факты
// о личности; создание пользователя и сессии — забота сервисного слоя.
package oauth

//go:generate mockgen -source=oauth.go -destination=../../mocks/oauth.go -package=mocks -mock_names=Provider=MockOAuthProvider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// StateCookie — HttpOnly-cookie с provider|state|verifier.
	StateCookie = "__oauth_state"
	// StateTTL — время жизни cookie состояния.
	StateTTL = 5 * time.Minute
)

var (
	// ErrUnknownProvider — провайдер не зарегистрирован.
	ErrUnknownProvider = errors.New("unknown oauth provider")
	// ErrInvalidState — state отсутствует или не совпадает с cookie.
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrNoEmail — провайдер не вернул подтверждённый e-mail.
	ErrNoEmail = errors.New("oauth provider returned no verified email")
)

// UserInfo — нормализованные факты о пользователе от провайдера.
type UserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
}

// Provider — контракт внешнего провайдера входа.
type Provider interface {
	// Name — идентификатор провайдера в пути /auth/{provider}.
	Name() string
	// AuthCodeURL строит URL авторизации с PKCE (S256).
	AuthCodeURL(state, codeChallenge string) string
	// Exchange обменивает code на токены и возвращает личность.
	Exchange(ctx context.Context, code, verifier string) (*UserInfo, error)
}

// Registry хранит провайдеров по имени.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry регистрирует переданных провайдеров; nil пропускаются.
func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		if p != nil {
			m[p.Name()] = p
		}
	}

	return &Registry{providers: m}
}

// Get возвращает провайдера или ErrUnknownProvider.
func (r *Registry) Get(name string) (Provider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}

	return p, nil
}

// Names — отсортированный список зарегистрированных провайдеров.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)

	return out
}

// State — содержимое cookie состояния.
type State struct {
	Provider string
	State    string
	Verifier string
}

// NewState генерирует state и PKCE-verifier (по 32 случайных байта).
func NewState(provider string) (State, error) {
	state, err := randomToken()
	if err != nil {
		return State{}, err
	}

	verifier, err := randomToken()
	if err != nil {
		return State{}, err
	}

	return State{Provider: provider, State: state, Verifier: verifier}, nil
}

// Challenge — PKCE code_challenge (S256) для verifier.
func (s State) Challenge() string {
	sum := sha256.Sum256([]byte(s.Verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Cookie упаковывает состояние в cookie provider|state|verifier.
func (s State) Cookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookie,
		Value:    s.Provider + "|" + s.State + "|" + s.Verifier,
		Path:     "/",
		MaxAge:   int(StateTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie истекает cookie состояния.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ReadState достаёт состояние из cookie и сверяет его с state из запроса.
func ReadState(r *http.Request, state string) (State, error) {
	ck, err := r.Cookie(StateCookie)
	if err != nil || state == "" {
		return State{}, ErrInvalidState
	}

	parts := strings.Split(ck.Value, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return State{}, ErrInvalidState
	}

	if parts[1] != state {
		return State{}, ErrInvalidState
	}

	return State{Provider: parts[0], State: parts[1], Verifier: parts[2]}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
