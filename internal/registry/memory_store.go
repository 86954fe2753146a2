package registry

import (
	"context"
	"sync"

	"github.com/applyflow/autofill-service/internal/models"
)

// MemoryStore is a map-backed registry used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.FieldRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.FieldRecord)}
}

func (s *MemoryStore) LookupMany(_ context.Context, hashes []string) (map[string]models.FieldRecord, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]models.FieldRecord, len(hashes))
	missing := make([]string, 0)
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if rec, ok := s.records[h]; ok {
			found[h] = rec
		} else {
			missing = append(missing, h)
		}
	}
	return found, missing, nil
}

func (s *MemoryStore) Store(_ context.Context, rec models.FieldRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.FieldHash] = rec
	return nil
}

// Snapshot and Restore support all-or-nothing semantics in the in-memory
// atomic unit; production relies on database transactions instead.

func (s *MemoryStore) Snapshot() map[string]models.FieldRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]models.FieldRecord, len(s.records))
	for k, v := range s.records {
		snap[k] = v
	}
	return snap
}

func (s *MemoryStore) Restore(snap map[string]models.FieldRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = snap
}
