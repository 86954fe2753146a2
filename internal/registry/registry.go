package registry

import (
	"context"

	"github.com/applyflow/autofill-service/internal/models"
)

// Store is the field hash registry capability. The orchestrator only talks
// to this interface so tests can back it with a map while production uses
// Postgres.
type Store interface {
	// LookupMany partitions the given hashes into records that are already
	// cached and hashes that are not. Every input hash lands in exactly one
	// of the two results; missing preserves the input order (first
	// occurrence wins for duplicates) so downstream inference stays
	// deterministic.
	LookupMany(ctx context.Context, hashes []string) (found map[string]models.FieldRecord, missing []string, err error)

	// Store upserts a record under its hash. Re-storing identical content is
	// a no-op; divergent content for the same hash should not happen (the
	// hash is a function of identity) but resolves last-writer-wins.
	Store(ctx context.Context, rec models.FieldRecord) error
}
