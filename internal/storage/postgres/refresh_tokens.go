package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
		INSERT INTO refresh_tokens(token_hash, user_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.Exec(ctx, query,
		token.TokenHash,
		token.UserID,
		token.IssuedAt,
		token.ExpiresAt,
		token.Revoked,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `
		SELECT token_hash, user_id, created_at, expires_at, revoked
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, query, hash).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.Revoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &token, nil
}

// RevokeRefreshTokenIfActive атомарно отзывает токен, если он активен и не просрочен.
// Если строка не обновилась, второй запрос уточняет причину:
// ErrNotFound, ErrRevoked или ErrExpired.
func (s *Storage) RevokeRefreshTokenIfActive(ctx context.Context, hash string, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.RevokeRefreshTokenIfActive"

	const upd = `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
		RETURNING token_hash, user_id, created_at, expires_at
	`

	var token models.RefreshToken
	err := s.db.QueryRow(ctx, upd, hash, now).Scan(
		&token.TokenHash,
		&token.UserID,
		&token.IssuedAt,
		&token.ExpiresAt,
	)
	if err == nil {
		token.Revoked = true
		return &token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	const sel = `
		SELECT revoked, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	var (
		revoked   bool
		expiresAt time.Time
	)
	err = s.db.QueryRow(ctx, sel, hash).Scan(&revoked, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if revoked {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrRevoked)
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
}

// RevokeUserRefreshTokens отзывает все активные токены пользователя.
func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.postgres.RevokeUserRefreshTokens"

	_, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
