// mongo — альтернативная реализация storage.RecipeStorage поверх MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	recipesCollection = "saved_recipes"
	defaultDBName     = "biocraft"
)

// Mongo — тонкий адаптер подключения и коллекции рецептов.
type Mongo struct {
	client  *mongodriver.Client
	recipes *mongodriver.Collection
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
// Пустой database берётся из пути URI, затем — defaultDBName.
func New(ctx context.Context, uri, database string) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	if database == "" {
		database = databaseFromURI(uri)
	}

	m := &Mongo{
		client:  cli,
		recipes: cli.Database(database).Collection(recipesCollection),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Ping проверяет доступность кластера (для /healthz).
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// ensureIndexes:
// - уникальность содержимого в пределах владельца: user_id + content_hash;
// - список рецептов владельца: user_id + created_at(desc).
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	models := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "content_hash", Value: 1}},
			Options: options.Index().SetName("uq_user_content_hash").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created_desc"),
		},
	}

	if _, err := m.recipes.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}

	return nil
}

// databaseFromURI извлекает имя базы данных из пути mongodb URI.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}

// mapErr переводит ошибки драйвера в ошибки storage.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongodriver.ErrNoDocuments):
		return storage.ErrNotFound
	case mongodriver.IsDuplicateKeyError(err):
		return storage.ErrAlreadyExists
	default:
		return err
	}
}

var _ storage.RecipeStorage = (*Mongo)(nil)
