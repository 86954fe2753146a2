package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/applyflow/autofill-service/internal/models"
)

// MemoryStore is a map-backed outbox used by tests and local development.
// A single mutex makes every transition check-and-apply atomic, mirroring
// the conditional updates of the SQL store.
type MemoryStore struct {
	mu          sync.Mutex
	maxAttempts int
	entries     map[string]*models.OutboxEntry
	order       []string
}

func NewMemoryStore(maxAttempts int) *MemoryStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MemoryStore{
		maxAttempts: maxAttempts,
		entries:     make(map[string]*models.OutboxEntry),
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, kind string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &models.OutboxEntry{
		LogID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Kind:      kind,
		Payload:   append([]byte(nil), payload...),
		Status:    models.OutboxPending,
	}
	s.entries[entry.LogID] = entry
	s.order = append(s.order, entry.LogID)
	return entry.LogID, nil
}

func (s *MemoryStore) ClaimNext(_ context.Context) (*models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.Status != models.OutboxPending {
			continue
		}
		if entry.NextAttemptAt != nil && entry.NextAttemptAt.After(now) {
			continue
		}
		s.claimLocked(entry)
		clone := *entry
		return &clone, nil
	}
	return nil, nil
}

func (s *MemoryStore) Claim(_ context.Context, logID string) (*models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[logID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if entry.Status != models.OutboxPending {
		return nil, ErrEntryAlreadyProcessing
	}
	s.claimLocked(entry)
	clone := *entry
	return &clone, nil
}

func (s *MemoryStore) claimLocked(entry *models.OutboxEntry) {
	now := time.Now().UTC()
	entry.Status = models.OutboxClaimed
	entry.ClaimedAt = &now
	entry.NextAttemptAt = nil
	entry.Attempts++
}

func (s *MemoryStore) Complete(_ context.Context, logID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[logID]
	if !ok || entry.Status != models.OutboxClaimed {
		return ErrEntryNotClaimed
	}
	entry.Status = models.OutboxDone
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, logID string, reason string, retryAfter time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[logID]
	if !ok || entry.Status != models.OutboxClaimed {
		return ErrEntryNotClaimed
	}
	entry.LastError = reason
	if entry.Attempts >= s.maxAttempts {
		entry.Status = models.OutboxFailed
		return nil
	}
	entry.Status = models.OutboxPending
	entry.ClaimedAt = nil
	entry.NextAttemptAt = nil
	if retryAfter > 0 {
		next := time.Now().UTC().Add(retryAfter)
		entry.NextAttemptAt = &next
	}
	return nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var reclaimed int64
	for _, entry := range s.entries {
		if entry.Status == models.OutboxClaimed && entry.ClaimedAt != nil && !entry.ClaimedAt.After(cutoff) {
			entry.Status = models.OutboxPending
			entry.ClaimedAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}

// Get returns a copy of the entry, for tests and inspection.
func (s *MemoryStore) Get(logID string) (models.OutboxEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[logID]
	if !ok {
		return models.OutboxEntry{}, false
	}
	return *entry, true
}

// MemorySnapshot captures the full store state for rollback by the in-memory
// atomic unit.
type MemorySnapshot struct {
	Entries map[string]models.OutboxEntry
	Order   []string
}

func (s *MemoryStore) Snapshot() MemorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := MemorySnapshot{
		Entries: make(map[string]models.OutboxEntry, len(s.entries)),
		Order:   append([]string(nil), s.order...),
	}
	for k, v := range s.entries {
		snap.Entries[k] = *v
	}
	return snap
}

func (s *MemoryStore) Restore(snap MemorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*models.OutboxEntry, len(snap.Entries))
	for k := range snap.Entries {
		v := snap.Entries[k]
		s.entries[k] = &v
	}
	s.order = append([]string(nil), snap.Order...)
}
