package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

const userColumns = `id, email, password_hash, role, email_verified, created_at, updated_at`

// SaveUser создаёт нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(id, email, password_hash, role, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	role := user.Role
	if role == "" {
		role = models.RoleUser
	}

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		role,
		user.EmailVerified,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email (CITEXT — без учёта регистра).
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UpdatePassword заменяет хэш пароля.
func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	const op = "storage.postgres.UpdatePassword"

	return s.execOne(ctx, op, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
}

// UpdateRole меняет роль пользователя.
func (s *Storage) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	const op = "storage.postgres.UpdateRole"

	return s.execOne(ctx, op, `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, role)
}

// MarkEmailVerified отмечает e-mail подтверждённым.
func (s *Storage) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.MarkEmailVerified"

	return s.execOne(ctx, op, `UPDATE users SET email_verified = TRUE, updated_at = now() WHERE id = $1`, id)
}

// execOne выполняет UPDATE/DELETE и возвращает ErrNotFound, если строк не затронуто.
func (s *Storage) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return &user, nil
}
