// session кодирует выданную сессию в cookie и обратно.
//
// auth_session — HttpOnly, содержит JSON models.Session (с токенами) в base64url;
// auth_status — читаемая клиентом, содержит URL-экранированный JSON
// только с признаком входа и userId.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/pribylovaa/biocraft-studio/internal/config"
	"github.com/pribylovaa/biocraft-studio/internal/models"
)

// Имена cookie.
const (
	CookieSession = "auth_session"
	CookieStatus  = "auth_status"
)

var (
	// ErrNoSession — cookie сессии отсутствует.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidSession — cookie есть, но содержимое битое или сессия слишком старая.
	ErrInvalidSession = errors.New("invalid session data")
)

// Status — содержимое читаемой cookie auth_status.
type Status struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	UserID          string `json:"userId"`
}

// Codec переводит models.Session в пару cookie и обратно.
type Codec struct {
	Secure   bool
	SameSite http.SameSite
	// MaxAge — Max-Age cookie по умолчанию, RememberMaxAge — с "remember me".
	MaxAge         time.Duration
	RememberMaxAge time.Duration
	// MaxSessionAge — предельный возраст сессии по IssuedAt.
	MaxSessionAge time.Duration
	Now           func() time.Time
}

// NewCodec строит Codec по окружению: в production — Secure и SameSite=Strict,
// в остальных — SameSite=Lax.
func NewCodec(cfg *config.Config) *Codec {
	c := &Codec{
		SameSite:       http.SameSiteLaxMode,
		MaxAge:         cfg.Auth.SessionMaxAge,
		RememberMaxAge: cfg.Auth.RememberMaxAge,
		MaxSessionAge:  cfg.Auth.MaxStoredAge,
		Now:            time.Now,
	}

	if cfg.IsProduction() {
		c.Secure = true
		c.SameSite = http.SameSiteStrictMode
	}

	return c
}

func (c *Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}

	return c.Now()
}

// Encode выставляет обе cookie. remember продлевает Max-Age.
func (c *Codec) Encode(w http.ResponseWriter, s *models.Session, remember bool) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}

	status, err := json.Marshal(Status{IsAuthenticated: true, UserID: s.User.ID.String()})
	if err != nil {
		return err
	}

	maxAge := c.MaxAge
	if remember {
		maxAge = c.RememberMaxAge
	}

	http.SetCookie(w, c.cookie(CookieSession, base64.RawURLEncoding.EncodeToString(payload), maxAge, true))
	http.SetCookie(w, c.cookie(CookieStatus, url.QueryEscape(string(status)), maxAge, false))

	return nil
}

// Decode читает cookie auth_session. Любое отклонение — ошибка,
// а не частично заполненная сессия.
func (c *Codec) Decode(r *http.Request) (*models.Session, error) {
	ck, err := r.Cookie(CookieSession)
	if err != nil || ck.Value == "" {
		return nil, ErrNoSession
	}

	raw, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if err != nil {
		return nil, ErrInvalidSession
	}

	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, ErrInvalidSession
	}

	if s.AccessToken == "" {
		return nil, ErrInvalidSession
	}

	if c.MaxSessionAge > 0 && s.Age(c.now()) > c.MaxSessionAge {
		return nil, ErrInvalidSession
	}

	return &s, nil
}

// Clear истекает обе cookie.
func (c *Codec) Clear(w http.ResponseWriter) {
	for _, name := range []string{CookieSession, CookieStatus} {
		ck := c.cookie(name, "", 0, name == CookieSession)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}

// Summary — несекретная проекция сессии.
func Summary(s *models.Session) models.SessionSummary {
	return s.Summary()
}

// ParseStatus разбирает значение cookie auth_status.
func ParseStatus(value string) (Status, error) {
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return Status{}, ErrInvalidSession
	}

	var st Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Status{}, ErrInvalidSession
	}

	return st, nil
}

func (c *Codec) cookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}
