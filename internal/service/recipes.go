package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
)

// SaveRecipe сохраняет рецепт пользователя. Повторное сохранение документа
// с тем же каноническим содержимым возвращает существующую запись и
// created=false.
func (s *Service) SaveRecipe(ctx context.Context, userID uuid.UUID, raw []byte) (*models.SavedRecipe, bool, error) {
	const op = "service.recipes.SaveRecipe"

	doc, err := parseRecipe(raw)
	if err != nil {
		return nil, false, err
	}

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", userID.String()))
	hash := doc.Hash()

	existing, err := s.recipes.RecipeByHash(ctx, userID, hash)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		lg.Error("recipe_lookup_failed", slog.String("err", err.Error()))
		return nil, false, wrapError(ErrInternal, MsgInternal, err)
	}

	now := s.now()
	rec := &models.SavedRecipe{
		ID:          uuid.New(),
		UserID:      userID,
		RecipeName:  doc.Name(),
		RecipeData:  doc,
		Category:    models.DefaultRecipeCategory,
		IsPublic:    false,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	saved, err := s.recipes.CreateRecipe(ctx, rec)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// параллельное сохранение того же документа.
			existing, gerr := s.recipes.RecipeByHash(ctx, userID, hash)
			if gerr == nil {
				return existing, false, nil
			}
			err = gerr
		}

		lg.Error("recipe_save_failed", slog.String("err", err.Error()))
		return nil, false, wrapError(ErrInternal, MsgInternal, err)
	}

	lg.Info("recipe_saved", slog.String("recipe_id", saved.ID.String()))
	return saved, true, nil
}

// ListRecipes возвращает рецепты пользователя, новые первыми.
func (s *Service) ListRecipes(ctx context.Context, userID uuid.UUID) ([]models.SavedRecipe, error) {
	const op = "service.recipes.ListRecipes"

	list, err := s.recipes.RecipesByUser(ctx, userID)
	if err != nil {
		log.From(ctx).Error("recipe_list_failed", slog.String("op", op), slog.String("err", err.Error()))
		return nil, wrapError(ErrInternal, MsgInternal, err)
	}

	if list == nil {
		list = []models.SavedRecipe{}
	}

	return list, nil
}

// GetRecipe возвращает рецепт владельца; чужой или отсутствующий — ErrNotFound.
func (s *Service) GetRecipe(ctx context.Context, userID, id uuid.UUID) (*models.SavedRecipe, error) {
	const op = "service.recipes.GetRecipe"

	rec, err := s.recipes.RecipeByID(ctx, userID, id)
	if err != nil {
		return nil, s.recipeErr(ctx, op, err)
	}

	return rec, nil
}

// UpdateRecipe заменяет документ рецепта с повторной валидацией и хэшированием.
func (s *Service) UpdateRecipe(ctx context.Context, userID, id uuid.UUID, raw []byte) (*models.SavedRecipe, error) {
	const op = "service.recipes.UpdateRecipe"

	doc, err := parseRecipe(raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.recipes.UpdateRecipe(ctx, userID, id, doc.Name(), doc)
	if err != nil {
		return nil, s.recipeErr(ctx, op, err)
	}

	return rec, nil
}

// DeleteRecipe удаляет рецепт владельца; ноль затронутых строк — ErrNotFound.
func (s *Service) DeleteRecipe(ctx context.Context, userID, id uuid.UUID) error {
	const op = "service.recipes.DeleteRecipe"

	if err := s.recipes.DeleteRecipe(ctx, userID, id); err != nil {
		return s.recipeErr(ctx, op, err)
	}

	return nil
}

func (s *Service) recipeErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return wrapError(ErrNotFound, MsgRecipeNotFound, err)
	case errors.Is(err, storage.ErrAlreadyExists):
		return wrapError(ErrConflict, MsgRecipeDuplicate, err)
	default:
		log.From(ctx).Error("recipe_storage_failed", slog.String("op", op), slog.String("err", err.Error()))
		return wrapError(ErrInternal, MsgInternal, err)
	}
}

// parseRecipe проверяет полезную нагрузку: JSON-объект (или строка с ним)
// с непустым recipeName.
func parseRecipe(raw []byte) (models.RecipeDocument, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.RecipeDocument{}, newError(ErrValidation, MsgNoRecipeData)
	}

	doc, err := models.ParseRecipeDocument(raw)
	if err != nil {
		return models.RecipeDocument{}, wrapError(ErrValidation, MsgInvalidRecipe, err)
	}

	if doc.Name() == "" {
		return models.RecipeDocument{}, wrapError(ErrValidation, MsgRecipeNameRequired, models.ErrRecipeNameRequired)
	}

	return doc, nil
}

// ParseID разбирает идентификатор рецепта из пути.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, wrapError(ErrValidation, MsgInvalidID, err)
	}

	return id, nil
}
