// identity описывает провайдера учётных данных: регистрацию, вход по паролю,
// проверку access-токена, ротацию refresh-токенов и обновление учётной записи.
//
// Сервисный слой работает только с интерфейсом Provider; реализация по
// умолчанию — Local поверх storage.CredentialStorage.
package identity

//go:generate mockgen -source=identity.go -destination=../../mocks/identity.go -package=mocks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
)

var (
	// ErrInvalidCredentials — пара e-mail/пароль неверна или пользователя нет.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken — токен некорректен по формату/подписи или неизвестен.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked — refresh-токен уже отозван.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrEmailTaken — e-mail уже занят.
	ErrEmailTaken = errors.New("email already taken")
	// ErrEmailNotVerified — вход запрещён до подтверждения e-mail.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrRefreshTokenCollision — исчерпаны попытки выпустить уникальный refresh-токен.
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// UserUpdate — изменяемые поля учётной записи; nil — не менять.
type UserUpdate struct {
	Password *string
	Role     *string
}

// Provider — контракт провайдера учётных данных.
type Provider interface {
	// SignUp создаёт учётную запись без выдачи сессии.
	SignUp(ctx context.Context, email, password string) (*models.Identity, error)
	// SignInWithPassword проверяет пароль и выдаёт новую сессию.
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	// GetUser проверяет access-токен и возвращает личность.
	GetUser(ctx context.Context, accessToken string) (*models.Identity, error)
	// VerifyPassword сверяет пароль учётной записи userID.
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error
	UpdateUser(ctx context.Context, userID uuid.UUID, upd UserUpdate) (*models.Identity, error)
	// SignOut отзывает один refresh-токен.
	SignOut(ctx context.Context, refreshToken string) error
	// RefreshSession ротирует refresh-токен и выдаёт новую сессию.
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	// RevokeAll отзывает все refresh-токены пользователя.
	RevokeAll(ctx context.Context, userID uuid.UUID) error
	// IssueSession выдаёт сессию уже установленной личности (OAuth).
	IssueSession(ctx context.Context, id models.Identity) (*models.Session, error)
	// EnsureUser находит учётную запись по e-mail или создаёт подтверждённую
	// со случайным паролем (вход через внешнего провайдера). verified=false —
	// найденная запись ещё не подтверждала e-mail.
	EnsureUser(ctx context.Context, email string) (id *models.Identity, verified bool, err error)
	ConfirmEmail(ctx context.Context, userID uuid.UUID) error
}
