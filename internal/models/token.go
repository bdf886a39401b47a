package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — данные refresh-токена; в хранилище лежит только хэш.
type RefreshToken struct {
	TokenHash string
	UserID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// PasswordResetToken — одноразовый токен сброса пароля (хранится sha256-хэш в hex).
type PasswordResetToken struct {
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired сообщает, истёк ли токен к моменту now.
func (t PasswordResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
