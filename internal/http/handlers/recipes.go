package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/service"
)

// recipeRequest — {"recipe": ...}; рецепт — объект или строка с JSON.
type recipeRequest struct {
	Recipe json.RawMessage `json:"recipe"`
}

type recipeResponse struct {
	Message string              `json:"message,omitempty"`
	Recipe  *models.SavedRecipe `json:"recipe"`
}

type recipesResponse struct {
	Recipes []models.SavedRecipe `json:"recipes"`
}

func (h *Handlers) ListRecipes(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	list, err := h.svc.ListRecipes(r.Context(), id.ID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recipesResponse{Recipes: list})
}

// SaveRecipe отвечает 201 на новую запись и 200, если такой рецепт уже сохранён.
func (h *Handlers) SaveRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var in recipeRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	rec, created, err := h.svc.SaveRecipe(r.Context(), id.ID, in.Recipe)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, recipeResponse{Message: service.MsgRecipeAlreadySaved, Recipe: rec})
		return
	}

	writeJSON(w, http.StatusCreated, recipeResponse{Message: service.MsgRecipeSaved, Recipe: rec})
}

func (h *Handlers) GetRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	recipeID, err := service.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	rec, err := h.svc.GetRecipe(r.Context(), id.ID, recipeID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recipeResponse{Recipe: rec})
}

func (h *Handlers) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	recipeID, err := service.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	var in recipeRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, errInvalidBody(err))
		return
	}

	rec, err := h.svc.UpdateRecipe(r.Context(), id.ID, recipeID, in.Recipe)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, recipeResponse{Message: service.MsgRecipeUpdated, Recipe: rec})
}

func (h *Handlers) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	recipeID, err := service.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.DeleteRecipe(r.Context(), id.ID, recipeID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, message{Message: service.MsgRecipeDeleted})
}
