package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// tokenLeeway — допуск рассинхронизации часов при проверке exp/nbf/iat.
const tokenLeeway = 5 * time.Second

type accessClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// generateAccessToken подписывает HS256 access-токен.
func (l *Local) generateAccessToken(ctx context.Context, id models.Identity, now time.Time) (string, error) {
	const op = "identity.token.generateAccessToken"

	claims := accessClaims{
		UserID: id.ID.String(),
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(l.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    l.cfg.Issuer,
			Subject:   id.ID.String(),
			Audience:  jwt.ClaimStrings(l.cfg.Audience),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(l.cfg.JWTSecret))
	if err != nil {
		log.From(ctx).Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// validateAccessToken проверяет подпись, срок, issuer и audience.
func (l *Local) validateAccessToken(tokenStr string) (*models.Identity, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithIssuer(l.cfg.Issuer),
		jwt.WithTimeFunc(l.now),
	}
	if len(l.cfg.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(l.cfg.Audience...))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (any, error) {
			return []byte(l.cfg.JWTSecret), nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}

		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = models.RoleUser
	}

	return &models.Identity{ID: uid, Email: claims.Email, Role: role}, nil
}

// hashRefresh — sha256 от открытого refresh-токена в base64url без паддинга.
func hashRefresh(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// generateRefreshToken создаёт и сохраняет новый refresh-токен.
// Коллизия хэша (ErrAlreadyExists) повторяется до maxAttempts раз.
func (l *Local) generateRefreshToken(ctx context.Context, userID uuid.UUID, now time.Time) (string, error) {
	const (
		op          = "identity.token.generateRefreshToken"
		maxAttempts = 5
	)

	lg := log.From(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			lg.Error("refresh_rand_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}
		plain := base64.RawURLEncoding.EncodeToString(b)

		token := &models.RefreshToken{
			TokenHash: hashRefresh(plain),
			UserID:    userID,
			IssuedAt:  now,
			ExpiresAt: now.Add(l.cfg.RefreshTokenTTL),
		}

		if err := l.storage.SaveRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", fmt.Errorf("%s: %w", op, err)
		}

		return plain, nil
	}

	lg.Error("refresh_collision_exceeded", slog.String("op", op))

	return "", fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}
