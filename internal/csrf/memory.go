package csrf

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultMemoryLimit — предел числа сессий MemoryStore по умолчанию.
const DefaultMemoryLimit = 100_000

// ErrStoreFull — в MemoryStore нет места под новую сессию.
var ErrStoreFull = errors.New("csrf session store is full")

// MemoryStore — Store в памяти процесса. Истекшие сессии удаляются при
// чтении и при Sweep. Число сессий ограничено Limit.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	// Limit — максимум сессий; <= 0 — без ограничения.
	Limit int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
		Limit:    DefaultMemoryLimit,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	if s.Expired(m.now()) {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}

	cp := *s
	return &cp, nil
}

// Save сохраняет сессию. Новая сессия сверх Limit сначала вытесняет
// истекшие; если места так и нет, возвращается ErrStoreFull.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok && m.Limit > 0 && len(m.sessions) >= m.Limit {
		m.sweepLocked()
		if len(m.sessions) >= m.Limit {
			return ErrStoreFull
		}
	}

	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// Sweep удаляет истекшие сессии и возвращает их количество.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sweepLocked()
}

func (m *MemoryStore) sweepLocked() int {
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			n++
		}
	}

	return n
}

// Len — число сессий в хранилище.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}
