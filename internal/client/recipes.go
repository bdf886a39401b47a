package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/pkg/log"
)

// ErrNotAuthenticated — вызов без активной сессии; в сеть не уходит.
var ErrNotAuthenticated = errors.New("not authenticated")

// RecipeContext — зеркало рецептов пользователя, синхронизированное с
// состоянием AuthContext.
type RecipeContext struct {
	api  *API
	auth *AuthContext

	unsubscribe func()

	mu      sync.Mutex
	recipes []models.SavedRecipe
	current *models.SavedRecipe
}

func NewRecipeContext(api *API, auth *AuthContext) *RecipeContext {
	rc := &RecipeContext{api: api, auth: auth}
	rc.unsubscribe = auth.Subscribe(rc.onAuth)
	return rc
}

func (rc *RecipeContext) Close() error {
	rc.unsubscribe()
	return nil
}

func (rc *RecipeContext) onAuth(ctx context.Context, st State, _ *models.SessionSummary) {
	switch st {
	case StateAuthenticated:
		if rc.auth.Offline() {
			return
		}
		if err := rc.Reload(ctx); err != nil {
			log.From(ctx).Warn("recipes_reload_failed", slog.String("op", "client.recipes.onAuth"), slog.String("err", err.Error()))
		}
	case StateUnauthenticated:
		rc.reset()
	}
}

// Recipes возвращает копию списка.
func (rc *RecipeContext) Recipes() []models.SavedRecipe {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	out := make([]models.SavedRecipe, len(rc.recipes))
	copy(out, rc.recipes)
	return out
}

func (rc *RecipeContext) Current() *models.SavedRecipe {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.current == nil {
		return nil
	}
	c := *rc.current
	return &c
}

func (rc *RecipeContext) SetCurrent(r *models.SavedRecipe) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if r == nil {
		rc.current = nil
		return
	}
	c := *r
	rc.current = &c
}

// Reload перечитывает список с сервера.
func (rc *RecipeContext) Reload(ctx context.Context) error {
	if err := rc.ensureAuth(); err != nil {
		return err
	}

	list, err := rc.api.ListRecipes(ctx)
	if err != nil {
		return err
	}

	rc.mu.Lock()
	rc.recipes = list
	rc.mu.Unlock()

	return nil
}

// Save сохраняет документ. Новый рецепт встаёт в начало списка.
func (rc *RecipeContext) Save(ctx context.Context, doc json.RawMessage) (*models.SavedRecipe, bool, error) {
	if err := rc.ensureAuth(); err != nil {
		return nil, false, err
	}

	rec, created, err := rc.api.SaveRecipe(ctx, doc)
	if err != nil {
		return nil, false, err
	}

	if created && rec != nil {
		rc.mu.Lock()
		rc.recipes = append([]models.SavedRecipe{*rec}, rc.recipes...)
		rc.mu.Unlock()
	}

	return rec, created, nil
}

// Load получает рецепт и делает его текущим.
func (rc *RecipeContext) Load(ctx context.Context, id uuid.UUID) (*models.SavedRecipe, error) {
	if err := rc.ensureAuth(); err != nil {
		return nil, err
	}

	rec, err := rc.api.GetRecipe(ctx, id)
	if err != nil {
		return nil, err
	}

	rc.SetCurrent(rec)
	return rec, nil
}

func (rc *RecipeContext) Update(ctx context.Context, id uuid.UUID, doc json.RawMessage) (*models.SavedRecipe, error) {
	if err := rc.ensureAuth(); err != nil {
		return nil, err
	}

	rec, err := rc.api.UpdateRecipe(ctx, id, doc)
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	for i := range rc.recipes {
		if rc.recipes[i].ID == id {
			rc.recipes[i] = *rec
			break
		}
	}
	if rc.current != nil && rc.current.ID == id {
		c := *rec
		rc.current = &c
	}
	rc.mu.Unlock()

	return rec, nil
}

func (rc *RecipeContext) Delete(ctx context.Context, id uuid.UUID) error {
	if err := rc.ensureAuth(); err != nil {
		return err
	}

	if err := rc.api.DeleteRecipe(ctx, id); err != nil {
		return err
	}

	rc.mu.Lock()
	for i := range rc.recipes {
		if rc.recipes[i].ID == id {
			rc.recipes = append(rc.recipes[:i], rc.recipes[i+1:]...)
			break
		}
	}
	if rc.current != nil && rc.current.ID == id {
		rc.current = nil
	}
	rc.mu.Unlock()

	return nil
}

func (rc *RecipeContext) ensureAuth() error {
	if rc.auth.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}
	return nil
}

func (rc *RecipeContext) reset() {
	rc.mu.Lock()
	rc.recipes = nil
	rc.current = nil
	rc.mu.Unlock()
}
