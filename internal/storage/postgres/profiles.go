package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// profileColumns — единый список колонок user_profiles для SELECT/RETURNING.
const profileColumns = `
user_id, email, full_name, organization, role, profile_picture, last_login, created_at, updated_at
`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	if err := row.Scan(
		&p.UserID,
		&p.Email,
		&p.FullName,
		&p.Organization,
		&p.Role,
		&p.ProfilePicture,
		&p.LastLogin,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return &p, nil
}

// CreateProfile вставляет новую запись профиля.
func (s *Storage) CreateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	const op = "storage.postgres.CreateProfile"

	q := `
	INSERT INTO user_profiles (user_id, email, full_name, organization, role, profile_picture)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + profileColumns

	row := s.db.QueryRow(ctx, q,
		profile.UserID,
		profile.Email,
		profile.FullName,
		profile.Organization,
		profile.Role,
		profile.ProfilePicture,
	)

	result, err := scanProfile(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

// ProfileByUserID возвращает профиль по user_id.
func (s *Storage) ProfileByUserID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const op = "storage.postgres.ProfileByUserID"

	result, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

// ProfileByEmail возвращает профиль по email.
func (s *Storage) ProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	const op = "storage.postgres.ProfileByEmail"

	result, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

// UpdateProfile выполняет частичный апдейт: обновляет только поля,
// заданные непустыми указателями, и всегда сдвигает updated_at = now().
func (s *Storage) UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.Profile, error) {
	const op = "storage.postgres.UpdateProfile"

	sets := []string{"updated_at = now()"}
	args := []any{userID}

	add := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	add("full_name", update.FullName)
	add("organization", update.Organization)
	add("role", update.Role)
	add("profile_picture", update.ProfilePicture)

	q := fmt.Sprintf(`UPDATE user_profiles SET %s WHERE user_id = $1 RETURNING %s`,
		strings.Join(sets, ", "), profileColumns)

	result, err := scanProfile(s.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

// TouchLastLogin обновляет last_login.
func (s *Storage) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	const op = "storage.postgres.TouchLastLogin"

	return s.execOne(ctx, op, `UPDATE user_profiles SET last_login = $2, updated_at = now() WHERE user_id = $1`, userID, at)
}
