package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Значения по умолчанию для сохраняемых рецептов.
const (
	DefaultRecipeCategory = "general"
)

var (
	// ErrInvalidRecipe — полезная нагрузка не является JSON-объектом.
	ErrInvalidRecipe = errors.New("invalid recipe format")
	// ErrRecipeNameRequired — в документе нет непустого recipeName.
	ErrRecipeNameRequired = errors.New("recipeName is required")
)

// RecipeDocument — непрозрачный JSON-документ рецепта в каноническом виде:
// ключи отсортированы, незначащих пробелов нет. Одинаковые по содержанию
// документы дают одинаковые байты и одинаковый Hash.
type RecipeDocument struct {
	raw  json.RawMessage
	name string
}

// ParseRecipeDocument разбирает документ. Принимается JSON-объект либо
// JSON-строка, внутри которой лежит JSON-объект.
func ParseRecipeDocument(data []byte) (RecipeDocument, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return RecipeDocument{}, ErrInvalidRecipe
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return RecipeDocument{}, ErrInvalidRecipe
		}
		data = bytes.TrimSpace([]byte(inner))
	}

	// ровно одно JSON-значение: любой хвост после объекта отклоняется.
	if !json.Valid(data) {
		return RecipeDocument{}, ErrInvalidRecipe
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return RecipeDocument{}, ErrInvalidRecipe
	}

	canon, err := canonicalJSON(obj)
	if err != nil {
		return RecipeDocument{}, ErrInvalidRecipe
	}

	name, _ := obj["recipeName"].(string)

	return RecipeDocument{raw: canon, name: strings.TrimSpace(name)}, nil
}

// Name возвращает recipeName (пустая строка, если его нет).
func (d RecipeDocument) Name() string { return d.name }

// Bytes возвращает канонический JSON.
func (d RecipeDocument) Bytes() []byte { return d.raw }

// IsZero сообщает, что документ не был разобран.
func (d RecipeDocument) IsZero() bool { return len(d.raw) == 0 }

// Hash — hex(sha256(канонический JSON)), ключ дедупликации.
func (d RecipeDocument) Hash() string {
	sum := sha256.Sum256(d.raw)
	return hex.EncodeToString(sum[:])
}

// MarshalJSON отдаёт документ как вложенный JSON-объект.
func (d RecipeDocument) MarshalJSON() ([]byte, error) {
	if len(d.raw) == 0 {
		return []byte("null"), nil
	}

	return d.raw, nil
}

// UnmarshalJSON канонизирует входной документ.
func (d *RecipeDocument) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = RecipeDocument{}
		return nil
	}

	doc, err := ParseRecipeDocument(data)
	if err != nil {
		return err
	}
	*d = doc

	return nil
}

// canonicalJSON кодирует значение без HTML-экранирования;
// encoding/json сортирует ключи map, что и даёт канонический порядок.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SavedRecipe — строка saved_recipes. Принадлежит исключительно UserID.
type SavedRecipe struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	RecipeName  string         `json:"recipe_name"`
	RecipeData  RecipeDocument `json:"recipe_data"`
	Category    string         `json:"category"`
	IsPublic    bool           `json:"is_public"`
	ContentHash string         `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
