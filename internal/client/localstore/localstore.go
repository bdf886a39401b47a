// localstore — локальный кэш клиента в SQLite (modernc.org/sqlite):
// таблица metadata ключ/значение и запись о последней сессии.
//
// Токены здесь не хранятся никогда: они живут только в HttpOnly-cookie.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MaxAge — предельный возраст локальной записи о сессии.
const MaxAge = 7 * 24 * time.Hour

const keySession = "session"

var (
	// ErrNotFound — записи нет.
	ErrNotFound = errors.New("local record not found")
	// ErrExpired — запись старше MaxAge; она уже удалена.
	ErrExpired = errors.New("local record expired")
)

// Record — несекретная запись о сессии для восстановления в офлайне.
type Record struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt int64     `json:"expiresAt"`
	SavedAt   time.Time `json:"savedAt"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open открывает базу по dsn (путь к файлу или ":memory:") и
// применяет миграции.
func Open(ctx context.Context, dsn string) (*Store, error) {
	const op = "client.localstore.Open"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// один писатель; для in-memory базы ещё и одна база на соединение.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}

	_, err = provider.Up(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get возвращает значение ключа; отсутствующий — ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}

	return nil
}

// SaveSession сохраняет запись, проставляя SavedAt.
func (s *Store) SaveSession(ctx context.Context, rec Record) error {
	rec.SavedAt = s.now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}

	return s.Set(ctx, keySession, raw)
}

// LoadSession читает запись. Битая или старше MaxAge запись удаляется.
func (s *Store) LoadSession(ctx context.Context) (*Record, error) {
	raw, err := s.Get(ctx, keySession)
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.UserID == "" {
		_ = s.Delete(ctx, keySession)
		return nil, ErrNotFound
	}

	if s.now().Sub(rec.SavedAt) > MaxAge {
		if err := s.Delete(ctx, keySession); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	return &rec, nil
}

// ClearSession удаляет запись о сессии.
func (s *Store) ClearSession(ctx context.Context) error {
	return s.Delete(ctx, keySession)
}
