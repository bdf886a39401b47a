// storage содержит контракты хранилища учётных данных, профилей,
// токенов сброса пароля, рецептов и файлов.
//
// Реализации: postgres (всё, кроме файлов), mongo (только рецепты),
// minio (только файлы). Все запросы к пользовательским данным фильтруются
// по user_id на стороне хранилища.
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/storage.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
)

var (
	// ErrNotFound — запись не найдена (или принадлежит другому пользователю).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email, хэш токена, хэш рецепта).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — сущность просрочена (refresh-токен).
	ErrExpired = errors.New("expired")
	// ErrRevoked — сущность отозвана (refresh-токен).
	ErrRevoked = errors.New("revoked")
	// ErrInvalidArgument — нарушены ограничения запроса (тип/размер файла, ключ).
	ErrInvalidArgument = errors.New("invalid argument")
)

// UserStorage выполняет операции над учётными записями.
type UserStorage interface {
	// SaveUser создаёт пользователя; занятый email — ErrAlreadyExists.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email (без учёта регистра).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdatePassword заменяет хэш пароля.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	// UpdateRole меняет роль пользователя.
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	// MarkEmailVerified отмечает e-mail подтверждённым.
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-токен (по хэшу).
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RevokeRefreshTokenIfActive атомарно отзывает активный токен и возвращает его.
	// Уже отозванный — ErrRevoked, просроченный к now — ErrExpired, отсутствующий — ErrNotFound.
	RevokeRefreshTokenIfActive(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error)
	// RevokeUserRefreshTokens отзывает все токены пользователя.
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) error
	// DeleteExpiredTokens удаляет просроченные токены и возвращает их число.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStorage — то, что нужно identity-провайдеру.
type CredentialStorage interface {
	UserStorage
	RefreshTokenStorage
}

// ProfileStorage — строки user_profiles.
type ProfileStorage interface {
	// CreateProfile создаёт профиль; существующий — ErrAlreadyExists.
	CreateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	// ProfileByUserID возвращает профиль по user_id.
	ProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	// ProfileByEmail возвращает профиль по email.
	ProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
	// UpdateProfile частично обновляет поля, заданные в update, и updated_at.
	UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.Profile, error)
	// TouchLastLogin обновляет last_login.
	TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// ResetTokenStorage — одноразовые токены сброса пароля.
type ResetTokenStorage interface {
	SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error
	ResetTokenByHash(ctx context.Context, hash string) (*models.PasswordResetToken, error)
	// DeleteResetToken удаляет токен; отсутствующий — ErrNotFound.
	DeleteResetToken(ctx context.Context, hash string) error
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// RecipeStorage — сохранённые рецепты. Каждый метод принимает userID владельца;
// чужие записи для него не существуют (ErrNotFound).
type RecipeStorage interface {
	// CreateRecipe вставляет рецепт; тот же ContentHash у владельца — ErrAlreadyExists.
	CreateRecipe(ctx context.Context, recipe *models.SavedRecipe) (*models.SavedRecipe, error)
	// RecipesByUser возвращает рецепты владельца, новые первыми.
	RecipesByUser(ctx context.Context, userID uuid.UUID) ([]models.SavedRecipe, error)
	RecipeByID(ctx context.Context, userID, id uuid.UUID) (*models.SavedRecipe, error)
	RecipeByHash(ctx context.Context, userID uuid.UUID, hash string) (*models.SavedRecipe, error)
	// UpdateRecipe заменяет документ, имя и хэш; обновляет updated_at.
	UpdateRecipe(ctx context.Context, userID, id uuid.UUID, name string, doc models.RecipeDocument) (*models.SavedRecipe, error)
	// DeleteRecipe удаляет рецепт; ноль затронутых строк — ErrNotFound.
	DeleteRecipe(ctx context.Context, userID, id uuid.UUID) error
}

// FileStorage — объектное хранилище для аватаров и загружаемых файлов.
type FileStorage interface {
	// AvatarUploadURL генерирует presigned PUT для аватара.
	AvatarUploadURL(ctx context.Context, userID uuid.UUID, contentType string, size int64) (*models.UploadInfo, error)
	// CheckAvatarUpload проверяет загруженный объект и возвращает его URL.
	CheckAvatarUpload(ctx context.Context, userID uuid.UUID, key string) (string, error)
	// PutUpload сохраняет файл под uploads/<userID>/.
	PutUpload(ctx context.Context, userID uuid.UUID, name, contentType string, size int64, body io.Reader) (*models.UploadedFile, error)
}

// Storage задаёт контракт реляционного хранилища.
type Storage interface {
	CredentialStorage
	ProfileStorage
	ResetTokenStorage
	Close()
}
