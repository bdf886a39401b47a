package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// SaveResetToken сохраняет хэш токена сброса пароля.
func (s *Storage) SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	const op = "storage.postgres.SaveResetToken"

	query := `
		INSERT INTO password_reset_tokens(token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.db.Exec(ctx, query, token.TokenHash, token.UserID, token.ExpiresAt, token.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetTokenByHash находит токен сброса по хэшу.
func (s *Storage) ResetTokenByHash(ctx context.Context, hash string) (*models.PasswordResetToken, error) {
	const op = "storage.postgres.ResetTokenByHash"

	query := `
		SELECT token_hash, user_id, expires_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	var token models.PasswordResetToken
	err := s.db.QueryRow(ctx, query, hash).Scan(&token.TokenHash, &token.UserID, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// DeleteResetToken удаляет токен (одноразовое использование).
func (s *Storage) DeleteResetToken(ctx context.Context, hash string) error {
	const op = "storage.postgres.DeleteResetToken"

	return s.execOne(ctx, op, `DELETE FROM password_reset_tokens WHERE token_hash = $1`, hash)
}

// DeleteExpiredResetTokens удаляет просроченные токены сброса.
func (s *Storage) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredResetTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
