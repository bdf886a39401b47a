// models содержит доменные сущности BioCraft Studio.
// Эти типы используются слоями бизнес-логики, хранилища, транспорта и клиента.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User — учётная запись в хранилище учётных данных.
// PasswordHash — bcrypt-хэш; у OAuth-пользователей это хэш случайного секрета.
type User struct {
	ID            uuid.UUID
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity — проверенная личность пользователя.
// После создания меняться может только Role.
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  string    `json:"role"`
}

// Identity возвращает публичную проекцию учётной записи.
func (u *User) Identity() Identity {
	role := u.Role
	if role == "" {
		role = RoleUser
	}

	return Identity{ID: u.ID, Email: u.Email, Role: role}
}
