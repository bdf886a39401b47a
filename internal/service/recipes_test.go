package service

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestSaveRecipe_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()

	cases := []struct {
		raw string
		msg string
	}{
		{``, MsgNoRecipeData},
		{`null`, MsgNoRecipeData},
		{`{recipe`, MsgInvalidRecipe},
		{`[1,2]`, MsgInvalidRecipe},
		{`"not json"`, MsgInvalidRecipe},
		{`{"steps":[]}`, MsgRecipeNameRequired},
		{`{"recipeName":"  "}`, MsgRecipeNameRequired},
	}

	for _, tc := range cases {
		_, _, err := env.svc.SaveRecipe(context.Background(), uid, []byte(tc.raw))
		requireKind(t, err, ErrValidation, tc.msg)
	}
}

func TestSaveRecipe_Created(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()
	doc, err := models.ParseRecipeDocument([]byte(`{"recipeName":"X"}`))
	require.NoError(t, err)

	env.recipes.EXPECT().RecipeByHash(gomock.Any(), uid, doc.Hash()).Return(nil, storage.ErrNotFound)
	env.recipes.EXPECT().CreateRecipe(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *models.SavedRecipe) (*models.SavedRecipe, error) {
			require.Equal(t, uid, r.UserID)
			require.Equal(t, "X", r.RecipeName)
			require.Equal(t, models.DefaultRecipeCategory, r.Category)
			require.False(t, r.IsPublic)
			require.Equal(t, doc.Hash(), r.ContentHash)
			require.NotEqual(t, uuid.Nil, r.ID)
			require.Equal(t, fixedNow, r.CreatedAt)
			return r, nil
		})

	// строка с JSON внутри принимается так же, как объект.
	rec, created, err := env.svc.SaveRecipe(context.Background(), uid, []byte(`"{\"recipeName\":\"X\"}"`))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "X", rec.RecipeName)
}

// Повторное сохранение того же содержимого не создаёт новую строку.
func TestSaveRecipe_Dedup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()
	existing := &models.SavedRecipe{ID: uuid.New(), UserID: uid, RecipeName: "X"}

	env.recipes.EXPECT().RecipeByHash(gomock.Any(), uid, gomock.Any()).Return(existing, nil)

	rec, created, err := env.svc.SaveRecipe(context.Background(), uid, []byte(`{"recipeName": "X"}`))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, existing.ID, rec.ID)
}

// Гонка двух сохранений: вставка упирается в уникальный индекс и перечитывает строку.
func TestSaveRecipe_InsertRace(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()
	existing := &models.SavedRecipe{ID: uuid.New(), UserID: uid, RecipeName: "X"}

	gomock.InOrder(
		env.recipes.EXPECT().RecipeByHash(gomock.Any(), uid, gomock.Any()).Return(nil, storage.ErrNotFound),
		env.recipes.EXPECT().CreateRecipe(gomock.Any(), gomock.Any()).Return(nil, storage.ErrAlreadyExists),
		env.recipes.EXPECT().RecipeByHash(gomock.Any(), uid, gomock.Any()).Return(existing, nil),
	)

	rec, created, err := env.svc.SaveRecipe(context.Background(), uid, []byte(`{"recipeName":"X"}`))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, existing.ID, rec.ID)
}

func TestSaveRecipe_StorageError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	env.recipes.EXPECT().RecipeByHash(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))

	_, _, err := env.svc.SaveRecipe(context.Background(), uuid.New(), []byte(`{"recipeName":"X"}`))
	requireKind(t, err, ErrInternal, MsgInternal)
}

func TestListRecipes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid := uuid.New()

	env.recipes.EXPECT().RecipesByUser(gomock.Any(), uid).Return(nil, nil)
	list, err := env.svc.ListRecipes(context.Background(), uid)
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)

	env.recipes.EXPECT().RecipesByUser(gomock.Any(), uid).Return(nil, errors.New("db down"))
	_, err = env.svc.ListRecipes(context.Background(), uid)
	requireKind(t, err, ErrInternal, MsgInternal)
}

func TestGetDeleteRecipe_NotOwned(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	owner, other, id := uuid.New(), uuid.New(), uuid.New()

	env.recipes.EXPECT().RecipeByID(gomock.Any(), other, id).Return(nil, storage.ErrNotFound)
	_, err := env.svc.GetRecipe(context.Background(), other, id)
	requireKind(t, err, ErrNotFound, MsgRecipeNotFound)

	env.recipes.EXPECT().DeleteRecipe(gomock.Any(), other, id).Return(storage.ErrNotFound)
	requireKind(t, env.svc.DeleteRecipe(context.Background(), other, id), ErrNotFound, MsgRecipeNotFound)

	env.recipes.EXPECT().DeleteRecipe(gomock.Any(), owner, id).Return(nil)
	require.NoError(t, env.svc.DeleteRecipe(context.Background(), owner, id))
}

func TestUpdateRecipe(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	uid, id := uuid.New(), uuid.New()

	_, err := env.svc.UpdateRecipe(context.Background(), uid, id, []byte(`{"x":1}`))
	requireKind(t, err, ErrValidation, MsgRecipeNameRequired)

	env.recipes.EXPECT().UpdateRecipe(gomock.Any(), uid, id, "Y", gomock.Any()).Return(nil, storage.ErrAlreadyExists)
	_, err = env.svc.UpdateRecipe(context.Background(), uid, id, []byte(`{"recipeName":"Y"}`))
	requireKind(t, err, ErrConflict, MsgRecipeDuplicate)

	env.recipes.EXPECT().UpdateRecipe(gomock.Any(), uid, id, "Y", gomock.Any()).Return(nil, storage.ErrNotFound)
	_, err = env.svc.UpdateRecipe(context.Background(), uid, id, []byte(`{"recipeName":"Y"}`))
	requireKind(t, err, ErrNotFound, MsgRecipeNotFound)

	env.recipes.EXPECT().UpdateRecipe(gomock.Any(), uid, id, "Y", gomock.Any()).
		Return(&models.SavedRecipe{ID: id, UserID: uid, RecipeName: "Y"}, nil)
	rec, err := env.svc.UpdateRecipe(context.Background(), uid, id, []byte(`{"recipeName":"Y"}`))
	require.NoError(t, err)
	require.Equal(t, "Y", rec.RecipeName)
}

func TestParseID(t *testing.T) {
	t.Parallel()

	_, err := ParseID("not-a-uuid")
	requireKind(t, err, ErrValidation, MsgInvalidID)

	id := uuid.New()
	got, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, got)
}
