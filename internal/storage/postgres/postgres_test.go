package postgres

// Интеграционные тесты пакета postgres:
// - поднимают реальный PostgreSQL через testcontainers-go (образ postgres:16-alpine);
// - применяют встроенные goose-миграции через Migrate;
// - проверяют пользователей, refresh-токены, профили, токены сброса и рецепты,
//   включая изоляцию рецептов по user_id и дедупликацию по content_hash.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/postgres -v -race -count=1

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres поднимает временный PostgreSQL, применяет миграции и
// возвращает хранилище. Без GO_TEST_INTEGRATION тест пропускается.
func startPostgres(t *testing.T) *Storage {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	require.NoError(t, Migrate(ctx, dsn))
	// повторный запуск миграций — no-op.
	require.NoError(t, Migrate(ctx, dsn))

	st, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	return st
}

func newUser(t *testing.T, st *Storage, email string) *models.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}

func TestPostgres_Integration(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		u := newUser(t, st, "alice@example.com")

		got, err := st.UserByEmail(ctx, "ALICE@example.com")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
		require.Equal(t, models.RoleUser, got.Role)
		require.False(t, got.EmailVerified)

		err = st.SaveUser(ctx, &models.User{ID: uuid.New(), Email: "Alice@Example.com", PasswordHash: "x", CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		require.NoError(t, st.UpdatePassword(ctx, u.ID, "new-hash"))
		require.NoError(t, st.UpdateRole(ctx, u.ID, models.RoleAdmin))
		require.NoError(t, st.MarkEmailVerified(ctx, u.ID))

		got, err = st.UserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, "new-hash", got.PasswordHash)
		require.Equal(t, models.RoleAdmin, got.Role)
		require.True(t, got.EmailVerified)

		_, err = st.UserByID(ctx, uuid.New())
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.ErrorIs(t, st.UpdatePassword(ctx, uuid.New(), "x"), storage.ErrNotFound)
	})

	t.Run("refresh_tokens", func(t *testing.T) {
		u := newUser(t, st, "bob@example.com")
		now := time.Now().UTC()

		active := &models.RefreshToken{TokenHash: "h-active", UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
		expired := &models.RefreshToken{TokenHash: "h-expired", UserID: u.ID, IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
		require.NoError(t, st.SaveRefreshToken(ctx, active))
		require.NoError(t, st.SaveRefreshToken(ctx, expired))
		require.ErrorIs(t, st.SaveRefreshToken(ctx, active), storage.ErrAlreadyExists)

		tok, err := st.RevokeRefreshTokenIfActive(ctx, "h-active", now)
		require.NoError(t, err)
		require.Equal(t, u.ID, tok.UserID)

		_, err = st.RevokeRefreshTokenIfActive(ctx, "h-active", now)
		require.ErrorIs(t, err, storage.ErrRevoked)
		_, err = st.RevokeRefreshTokenIfActive(ctx, "h-expired", now)
		require.ErrorIs(t, err, storage.ErrExpired)
		_, err = st.RevokeRefreshTokenIfActive(ctx, "missing", now)
		require.ErrorIs(t, err, storage.ErrNotFound)

		n, err := st.DeleteExpiredTokens(ctx, now)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, int64(1))
		_, err = st.RefreshTokenByHash(ctx, "h-expired")
		require.ErrorIs(t, err, storage.ErrNotFound)

		other := &models.RefreshToken{TokenHash: "h-other", UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
		require.NoError(t, st.SaveRefreshToken(ctx, other))
		require.NoError(t, st.RevokeUserRefreshTokens(ctx, u.ID))
		got, err := st.RefreshTokenByHash(ctx, "h-other")
		require.NoError(t, err)
		require.True(t, got.Revoked)
	})

	t.Run("profiles", func(t *testing.T) {
		u := newUser(t, st, "carol@example.com")

		p, err := st.CreateProfile(ctx, &models.Profile{UserID: u.ID, Email: u.Email})
		require.NoError(t, err)
		require.Nil(t, p.LastLogin)

		_, err = st.CreateProfile(ctx, &models.Profile{UserID: u.ID, Email: u.Email})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		name, org := "Carol", "Lab"
		p, err = st.UpdateProfile(ctx, u.ID, models.ProfileUpdate{FullName: &name, Organization: &org})
		require.NoError(t, err)
		require.Equal(t, "Carol", p.FullName)
		require.Equal(t, "Lab", p.Organization)
		require.Empty(t, p.Role)

		at := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, st.TouchLastLogin(ctx, u.ID, at))
		p, err = st.ProfileByEmail(ctx, "CAROL@example.com")
		require.NoError(t, err)
		require.NotNil(t, p.LastLogin)
		require.WithinDuration(t, at, *p.LastLogin, time.Second)

		_, err = st.ProfileByUserID(ctx, uuid.New())
		require.ErrorIs(t, err, storage.ErrNotFound)
		_, err = st.UpdateProfile(ctx, uuid.New(), models.ProfileUpdate{FullName: &name})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("reset_tokens", func(t *testing.T) {
		u := newUser(t, st, "dave@example.com")
		now := time.Now().UTC()

		require.NoError(t, st.SaveResetToken(ctx, &models.PasswordResetToken{UserID: u.ID, TokenHash: "r1", ExpiresAt: now.Add(time.Hour), CreatedAt: now}))
		require.NoError(t, st.SaveResetToken(ctx, &models.PasswordResetToken{UserID: u.ID, TokenHash: "r2", ExpiresAt: now.Add(-time.Minute), CreatedAt: now}))

		tok, err := st.ResetTokenByHash(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, u.ID, tok.UserID)

		require.NoError(t, st.DeleteResetToken(ctx, "r1"))
		require.ErrorIs(t, st.DeleteResetToken(ctx, "r1"), storage.ErrNotFound)

		n, err := st.DeleteExpiredResetTokens(ctx, now)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("recipes", func(t *testing.T) {
		a := newUser(t, st, "owner-a@example.com")
		b := newUser(t, st, "owner-b@example.com")

		doc, err := models.ParseRecipeDocument([]byte(`{"recipeName":"X","temp":37.5}`))
		require.NoError(t, err)

		rec := &models.SavedRecipe{
			ID:          uuid.New(),
			UserID:      a.ID,
			RecipeName:  doc.Name(),
			RecipeData:  doc,
			Category:    models.DefaultRecipeCategory,
			ContentHash: doc.Hash(),
		}
		saved, err := st.CreateRecipe(ctx, rec)
		require.NoError(t, err)
		require.Equal(t, doc.Bytes(), saved.RecipeData.Bytes())
		require.False(t, saved.IsPublic)

		dup := *rec
		dup.ID = uuid.New()
		_, err = st.CreateRecipe(ctx, &dup)
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		byHash, err := st.RecipeByHash(ctx, a.ID, doc.Hash())
		require.NoError(t, err)
		require.Equal(t, saved.ID, byHash.ID)

		// B не видит и не может удалить рецепт A.
		listB, err := st.RecipesByUser(ctx, b.ID)
		require.NoError(t, err)
		require.Empty(t, listB)
		_, err = st.RecipeByID(ctx, b.ID, saved.ID)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.ErrorIs(t, st.DeleteRecipe(ctx, b.ID, saved.ID), storage.ErrNotFound)

		// числа и экранированный NUL возвращаются без изменений.
		odd, err := models.ParseRecipeDocument([]byte(`{"recipeName":"Z","dose":1e2,"note":"a\u0000b"}`))
		require.NoError(t, err)
		oddRec := &models.SavedRecipe{
			ID:          uuid.New(),
			UserID:      a.ID,
			RecipeName:  odd.Name(),
			RecipeData:  odd,
			Category:    models.DefaultRecipeCategory,
			ContentHash: odd.Hash(),
		}
		_, err = st.CreateRecipe(ctx, oddRec)
		require.NoError(t, err)
		gotOdd, err := st.RecipeByID(ctx, a.ID, oddRec.ID)
		require.NoError(t, err)
		require.Equal(t, odd.Bytes(), gotOdd.RecipeData.Bytes())
		require.Equal(t, gotOdd.ContentHash, gotOdd.RecipeData.Hash())
		require.NoError(t, st.DeleteRecipe(ctx, a.ID, oddRec.ID))

		doc2, err := models.ParseRecipeDocument([]byte(`{"recipeName":"Y"}`))
		require.NoError(t, err)
		upd, err := st.UpdateRecipe(ctx, a.ID, saved.ID, doc2.Name(), doc2)
		require.NoError(t, err)
		require.Equal(t, "Y", upd.RecipeName)
		_, err = st.UpdateRecipe(ctx, b.ID, saved.ID, doc2.Name(), doc2)
		require.ErrorIs(t, err, storage.ErrNotFound)

		listA, err := st.RecipesByUser(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, listA, 1)

		require.NoError(t, st.DeleteRecipe(ctx, a.ID, saved.ID))
		listA, err = st.RecipesByUser(ctx, a.ID)
		require.NoError(t, err)
		require.Empty(t, listA)
	})
}
