package models

import "time"

// TokenTypeBearer — единственный поддерживаемый тип access-токена.
const TokenTypeBearer = "bearer"

// Session — выданная пара токенов вместе с личностью пользователя.
// Именно это значение (в JSON) лежит в HttpOnly-cookie auth_session.
//
// Инвариант: ExpiresAt = IssuedAt + ExpiresIn (unix-секунды).
type Session struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         Identity `json:"user"`
	IssuedAt     int64    `json:"issued_at"`
}

// NewSession собирает сессию, выводя ExpiresAt из момента выдачи и TTL.
func NewSession(access, refresh string, user Identity, issuedAt time.Time, ttl time.Duration) Session {
	issued := issuedAt.Unix()
	expiresIn := int64(ttl / time.Second)

	return Session{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    expiresIn,
		ExpiresAt:    issued + expiresIn,
		RefreshToken: refresh,
		User:         user,
		IssuedAt:     issued,
	}
}

// Valid сообщает, что у сессии есть access-токен и он ещё не истёк по времени.
// Проверка подписи токена — забота identity-провайдера.
func (s Session) Valid(now time.Time) bool {
	return s.AccessToken != "" && now.Unix() < s.ExpiresAt
}

// Age — возраст сессии относительно момента выдачи.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(s.IssuedAt, 0))
}

// SessionSummary — несекретная проекция сессии для клиента (без токенов).
type SessionSummary struct {
	User      Identity `json:"user"`
	ExpiresIn int64    `json:"expires_in"`
	ExpiresAt int64    `json:"expires_at"`
}

// Summary возвращает несекретную проекцию сессии.
func (s Session) Summary() SessionSummary {
	return SessionSummary{User: s.User, ExpiresIn: s.ExpiresIn, ExpiresAt: s.ExpiresAt}
}
