package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// recipeDoc — BSON-представление рецепта. Документ хранится строкой
// канонического JSON, чтобы не терять точность чисел при переводе в BSON.
type recipeDoc struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	RecipeName  string    `bson:"recipe_name"`
	RecipeData  string    `bson:"recipe_data"`
	Category    string    `bson:"category"`
	IsPublic    bool      `bson:"is_public"`
	ContentHash string    `bson:"content_hash"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toDoc(r *models.SavedRecipe) recipeDoc {
	return recipeDoc{
		ID:          r.ID.String(),
		UserID:      r.UserID.String(),
		RecipeName:  r.RecipeName,
		RecipeData:  string(r.RecipeData.Bytes()),
		Category:    r.Category,
		IsPublic:    r.IsPublic,
		ContentHash: r.ContentHash,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (d recipeDoc) model() (*models.SavedRecipe, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, err
	}

	doc, err := models.ParseRecipeDocument([]byte(d.RecipeData))
	if err != nil {
		return nil, err
	}

	return &models.SavedRecipe{
		ID:          id,
		UserID:      uid,
		RecipeName:  d.RecipeName,
		RecipeData:  doc,
		Category:    d.Category,
		IsPublic:    d.IsPublic,
		ContentHash: d.ContentHash,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

// MongoDB DateTime хранит миллисекунды.
func nowMS() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

// CreateRecipe вставляет рецепт; дубликат (user_id, content_hash) — ErrAlreadyExists.
func (m *Mongo) CreateRecipe(ctx context.Context, recipe *models.SavedRecipe) (*models.SavedRecipe, error) {
	const op = "storage.mongo.CreateRecipe"

	r := *recipe
	now := nowMS()
	r.CreatedAt, r.UpdatedAt = now, now

	if _, err := m.recipes.InsertOne(ctx, toDoc(&r)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	return &r, nil
}

// RecipesByUser возвращает рецепты владельца, новые первыми.
func (m *Mongo) RecipesByUser(ctx context.Context, userID uuid.UUID) ([]models.SavedRecipe, error) {
	const op = "storage.mongo.RecipesByUser"

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := m.recipes.Find(ctx, bson.D{{Key: "user_id", Value: userID.String()}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cur.Close(ctx)

	out := make([]models.SavedRecipe, 0)
	for cur.Next(ctx) {
		var d recipeDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}

		r, err := d.model()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *r)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (m *Mongo) findOne(ctx context.Context, op string, filter bson.D) (*models.SavedRecipe, error) {
	var d recipeDoc
	if err := m.recipes.FindOne(ctx, filter).Decode(&d); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	r, err := d.model()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return r, nil
}

// RecipeByID возвращает рецепт владельца по id.
func (m *Mongo) RecipeByID(ctx context.Context, userID, id uuid.UUID) (*models.SavedRecipe, error) {
	return m.findOne(ctx, "storage.mongo.RecipeByID", bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "user_id", Value: userID.String()},
	})
}

// RecipeByHash ищет рецепт владельца с тем же содержимым.
func (m *Mongo) RecipeByHash(ctx context.Context, userID uuid.UUID, hash string) (*models.SavedRecipe, error) {
	return m.findOne(ctx, "storage.mongo.RecipeByHash", bson.D{
		{Key: "user_id", Value: userID.String()},
		{Key: "content_hash", Value: hash},
	})
}

// UpdateRecipe заменяет документ рецепта владельца и возвращает новую версию.
func (m *Mongo) UpdateRecipe(ctx context.Context, userID, id uuid.UUID, name string, doc models.RecipeDocument) (*models.SavedRecipe, error) {
	const op = "storage.mongo.UpdateRecipe"

	filter := bson.D{{Key: "_id", Value: id.String()}, {Key: "user_id", Value: userID.String()}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "recipe_name", Value: name},
		{Key: "recipe_data", Value: string(doc.Bytes())},
		{Key: "content_hash", Value: doc.Hash()},
		{Key: "updated_at", Value: nowMS()},
	}}}

	var d recipeDoc
	err := m.recipes.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	r, err := d.model()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return r, nil
}

// DeleteRecipe удаляет рецепт владельца; ноль удалённых — ErrNotFound.
func (m *Mongo) DeleteRecipe(ctx context.Context, userID, id uuid.UUID) error {
	const op = "storage.mongo.DeleteRecipe"

	res, err := m.recipes.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}, {Key: "user_id", Value: userID.String()}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}
