package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/config"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/redact"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash — bcrypt-хэш для сравнения при неизвестном e-mail,
// чтобы время ответа не выдавало существование учётной записи.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("biocraft-dummy-password"), bcrypt.DefaultCost)

// Local — провайдер учётных данных поверх собственного хранилища.
// Безопасен для конкурентного использования, если безопасно хранилище.
type Local struct {
	storage storage.CredentialStorage
	cfg     config.AuthConfig
	now     func() time.Time
}

// NewLocal создаёт провайдера. Входные данные ожидаются уже провалидированными
// сервисным слоем; e-mail здесь только нормализуется.
func NewLocal(st storage.CredentialStorage, cfg config.AuthConfig) *Local {
	return &Local{
		storage: st,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ Provider = (*Local)(nil)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp создаёт учётную запись с ролью user.
func (l *Local) SignUp(ctx context.Context, email, password string) (*models.Identity, error) {
	const op = "identity.local.SignUp"

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return l.createUser(ctx, op, normalizeEmail(email), hash, false)
}

func (l *Local) createUser(ctx context.Context, op, email, hash string, verified bool) (*models.Identity, error) {
	now := l.now()
	user := &models.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		Role:          models.RoleUser,
		EmailVerified: verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		log.From(ctx).Error("save_user_failed",
			slog.String("op", op),
			slog.String("email", redact.Email(email)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id := user.Identity()
	return &id, nil
}

// SignInWithPassword выполняет вход по e-mail и паролю.
func (l *Local) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	const op = "identity.local.SignInWithPassword"

	user, err := l.storage.UserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if l.cfg.RequireEmailVerification && !user.EmailVerified {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}

	return l.issueSession(ctx, user.Identity())
}

// GetUser проверяет подпись и срок access-токена.
func (l *Local) GetUser(ctx context.Context, accessToken string) (*models.Identity, error) {
	const op = "identity.local.GetUser"

	id, err := l.validateAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// VerifyPassword сверяет пароль учётной записи.
func (l *Local) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error {
	const op = "identity.local.VerifyPassword"

	user, err := l.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return nil
}

// UpdateUser меняет пароль и/или роль и возвращает актуальную личность.
func (l *Local) UpdateUser(ctx context.Context, userID uuid.UUID, upd UserUpdate) (*models.Identity, error) {
	const op = "identity.local.UpdateUser"

	if upd.Password != nil {
		hash, err := hashPassword(*upd.Password)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if err := l.storage.UpdatePassword(ctx, userID, hash); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if upd.Role != nil {
		if err := l.storage.UpdateRole(ctx, userID, *upd.Role); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := l.storage.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id := user.Identity()
	return &id, nil
}

// SignOut отзывает refresh-токен. Уже отозванный или просроченный токен
// ошибкой не считается.
func (l *Local) SignOut(ctx context.Context, refreshToken string) error {
	const op = "identity.local.SignOut"

	if refreshToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	_, err := l.storage.RevokeRefreshTokenIfActive(ctx, hashRefresh(refreshToken), l.now())
	switch {
	case err == nil, errors.Is(err, storage.ErrRevoked), errors.Is(err, storage.ErrExpired):
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// RefreshSession атомарно отзывает переданный refresh-токен и выдаёт новую сессию.
func (l *Local) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	const op = "identity.local.RefreshSession"

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	lg := log.From(ctx)

	old, err := l.storage.RevokeRefreshTokenIfActive(ctx, hashRefresh(refreshToken), l.now())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRevoked):
			lg.Warn("refresh_revoked", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
		case errors.Is(err, storage.ErrExpired):
			lg.Warn("refresh_expired", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		case errors.Is(err, storage.ErrNotFound):
			lg.Warn("refresh_lookup_not_found", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		default:
			lg.Error("refresh_lookup_failed", slog.String("op", op), slog.String("err", err.Error()))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	user, err := l.storage.UserByID(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return l.issueSession(ctx, user.Identity())
}

// RevokeAll отзывает все refresh-токены пользователя (смена/сброс пароля).
func (l *Local) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	const op = "identity.local.RevokeAll"

	if err := l.storage.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// IssueSession выдаёт сессию для личности, установленной вне провайдера.
func (l *Local) IssueSession(ctx context.Context, id models.Identity) (*models.Session, error) {
	return l.issueSession(ctx, id)
}

// EnsureUser находит пользователя по e-mail или создаёт подтверждённого
// с непригодным для входа случайным паролем.
func (l *Local) EnsureUser(ctx context.Context, email string) (*models.Identity, bool, error) {
	const op = "identity.local.EnsureUser"

	norm := normalizeEmail(email)

	user, err := l.storage.UserByEmail(ctx, norm)
	if err == nil {
		id := user.Identity()
		return &id, user.EmailVerified, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := unusableHash()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	id, err := l.createUser(ctx, op, norm, hash, true)
	if errors.Is(err, ErrEmailTaken) {
		// параллельный вход тем же аккаунтом.
		user, err := l.storage.UserByEmail(ctx, norm)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}

		id := user.Identity()
		return &id, user.EmailVerified, nil
	}
	if err != nil {
		return nil, false, err
	}

	return id, true, nil
}

// unusableHash — bcrypt-хэш случайного секрета, который никто не знает.
func unusableHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}

	return hashPassword(hex.EncodeToString(secret))
}

// ConfirmEmail помечает e-mail подтверждённым.
func (l *Local) ConfirmEmail(ctx context.Context, userID uuid.UUID) error {
	const op = "identity.local.ConfirmEmail"

	if err := l.storage.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// issueSession выпускает access- и refresh-токены и собирает сессию.
func (l *Local) issueSession(ctx context.Context, id models.Identity) (*models.Session, error) {
	const op = "identity.local.issueSession"

	now := l.now()

	access, err := l.generateAccessToken(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := l.generateRefreshToken(ctx, id.ID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := models.NewSession(access, refresh, id, now, l.cfg.AccessTokenTTL)
	return &s, nil
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "identity.local.hashPassword"

	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(b), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
