package ledger

import (
	"context"
	"sync"

	"github.com/applyflow/autofill-service/internal/models"
)

// MemoryStore is a map-backed ledger used by tests and local development.
// The mutex gives UpdateBalance the same check-and-apply atomicity the SQL
// store gets from its conditional UPDATE.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, users: make(map[uint]models.User)}
}

func (s *MemoryStore) GetBalance(_ context.Context, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return user.CreditBalance, nil
}

func (s *MemoryStore) UpdateBalance(_ context.Context, userID uint, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if user.CreditBalance+delta < 0 {
		return 0, ErrInsufficientCredits
	}
	user.CreditBalance += delta
	s.users[userID] = user
	return user.CreditBalance, nil
}

func (s *MemoryStore) Provision(_ context.Context, email string, initialCredits int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := models.User{ID: s.nextID, Email: email, CreditBalance: initialCredits}
	s.nextID++
	s.users[user.ID] = user
	return &user, nil
}

// Snapshot and Restore support all-or-nothing semantics in the in-memory
// atomic unit.

func (s *MemoryStore) Snapshot() map[uint]models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[uint]models.User, len(s.users))
	for k, v := range s.users {
		snap[k] = v
	}
	return snap
}

func (s *MemoryStore) Restore(snap map[uint]models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap
}
