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

const recipeColumns = `
id, user_id, recipe_name, recipe_data, category, is_public, content_hash, created_at, updated_at
`

// scanRecipe читает строку saved_recipes. Колонка json хранит канонический
// текст как есть; разбор заново проверяет документ.
func scanRecipe(row pgx.Row) (*models.SavedRecipe, error) {
	var (
		r    models.SavedRecipe
		data []byte
	)

	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.RecipeName,
		&data,
		&r.Category,
		&r.IsPublic,
		&r.ContentHash,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	doc, err := models.ParseRecipeDocument(data)
	if err != nil {
		return nil, err
	}
	r.RecipeData = doc

	return &r, nil
}

// CreateRecipe вставляет рецепт. (user_id, content_hash) уникальны.
func (s *Storage) CreateRecipe(ctx context.Context, recipe *models.SavedRecipe) (*models.SavedRecipe, error) {
	const op = "storage.postgres.CreateRecipe"

	q := `
	INSERT INTO saved_recipes (id, user_id, recipe_name, recipe_data, category, is_public, content_hash)
	VALUES ($1, $2, $3, $4::json, $5, $6, $7)
	RETURNING ` + recipeColumns

	row := s.db.QueryRow(ctx, q,
		recipe.ID,
		recipe.UserID,
		recipe.RecipeName,
		string(recipe.RecipeData.Bytes()),
		recipe.Category,
		recipe.IsPublic,
		recipe.ContentHash,
	)

	result, err := scanRecipe(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

// RecipesByUser возвращает рецепты владельца, новые первыми.
func (s *Storage) RecipesByUser(ctx context.Context, userID uuid.UUID) ([]models.SavedRecipe, error) {
	const op = "storage.postgres.RecipesByUser"

	rows, err := s.db.Query(ctx,
		`SELECT `+recipeColumns+` FROM saved_recipes WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.SavedRecipe, 0)
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

// RecipeByID возвращает рецепт владельца по id.
func (s *Storage) RecipeByID(ctx context.Context, userID, id uuid.UUID) (*models.SavedRecipe, error) {
	const op = "storage.postgres.RecipeByID"

	r, err := scanRecipe(s.db.QueryRow(ctx,
		`SELECT `+recipeColumns+` FROM saved_recipes WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return r, nil
}

// RecipeByHash ищет уже сохранённый рецепт с тем же каноническим содержимым.
func (s *Storage) RecipeByHash(ctx context.Context, userID uuid.UUID, hash string) (*models.SavedRecipe, error) {
	const op = "storage.postgres.RecipeByHash"

	r, err := scanRecipe(s.db.QueryRow(ctx,
		`SELECT `+recipeColumns+` FROM saved_recipes WHERE user_id = $1 AND content_hash = $2`, userID, hash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return r, nil
}

// UpdateRecipe заменяет документ рецепта владельца.
func (s *Storage) UpdateRecipe(ctx context.Context, userID, id uuid.UUID, name string, doc models.RecipeDocument) (*models.SavedRecipe, error) {
	const op = "storage.postgres.UpdateRecipe"

	q := `
	UPDATE saved_recipes
	SET recipe_name = $3, recipe_data = $4::json, content_hash = $5, updated_at = now()
	WHERE id = $1 AND user_id = $2
	RETURNING ` + recipeColumns

	r, err := scanRecipe(s.db.QueryRow(ctx, q, id, userID, name, string(doc.Bytes()), doc.Hash()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return r, nil
}

// DeleteRecipe удаляет рецепт владельца.
func (s *Storage) DeleteRecipe(ctx context.Context, userID, id uuid.UUID) error {
	const op = "storage.postgres.DeleteRecipe"

	return s.execOne(ctx, op, `DELETE FROM saved_recipes WHERE id = $1 AND user_id = $2`, id, userID)
}
