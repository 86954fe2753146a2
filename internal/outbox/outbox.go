// Package outbox implements transactional outbox dispatch: an event row is
// written in the same database transaction as the mutation that produced it,
// then drained asynchronously by dispatcher workers. Correctness under
// concurrent workers comes from a single atomic claim transition in the
// store, not from worker coordination.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/applyflow/autofill-service/internal/models"
)

var (
	// ErrEntryNotClaimed is returned by Complete/Fail when the entry is not
	// currently CLAIMED, typically because a slow worker lost its claim to a
	// stale-claim sweep and another worker already moved the entry on.
	ErrEntryNotClaimed = errors.New("outbox: entry not claimed")

	// ErrEntryAlreadyProcessing is returned by a targeted Claim when the
	// entry has already moved past PENDING. Racers observing it should move
	// on; it is expected contention, not a failure.
	ErrEntryAlreadyProcessing = errors.New("outbox: entry already processing")

	// ErrEntryNotFound is returned by a targeted Claim for a log ID that
	// does not exist, so callers can tell a bad reference apart from
	// ordinary claim contention.
	ErrEntryNotFound = errors.New("outbox: entry not found")
)

// Store is the durable log of outbox entries. All state transitions are
// single atomic conditional updates (compare-and-swap on status), which is
// the load-bearing requirement of the whole subsystem.
type Store interface {
	// Enqueue creates a PENDING entry and returns its log ID. Called inside
	// the same transaction as the triggering mutation, so either both exist
	// or neither does.
	Enqueue(ctx context.Context, kind string, payload []byte) (string, error)

	// ClaimNext atomically claims one PENDING entry whose retry delay, if
	// any, has elapsed: status moves to CLAIMED, ClaimedAt is stamped and
	// Attempts incremented in the same operation. Exactly one concurrent
	// caller can claim a given entry. Returns (nil, nil) when nothing is
	// eligible.
	ClaimNext(ctx context.Context) (*models.OutboxEntry, error)

	// Claim attempts to claim a specific entry, for targeted redelivery.
	// It overrides any pending retry delay. Returns ErrEntryNotFound for an
	// unknown log ID and ErrEntryAlreadyProcessing when the entry exists
	// but is not PENDING.
	Claim(ctx context.Context, logID string) (*models.OutboxEntry, error)

	// Complete transitions CLAIMED to DONE. Fails with ErrEntryNotClaimed
	// if the entry is no longer CLAIMED.
	Complete(ctx context.Context, logID string) error

	// Fail records the reason and returns the entry to PENDING for retry,
	// or parks it as FAILED once attempts reach the configured ceiling.
	// retryAfter delays the entry's next claim eligibility, keeping a
	// failing entry from being reclaimed at poll speed.
	Fail(ctx context.Context, logID string, reason string, retryAfter time.Duration) error

	// ReclaimStale returns CLAIMED entries whose claim predates the
	// threshold back to PENDING, recovering work abandoned by crashed
	// workers. Reports how many entries were reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
