package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/autofill-service/internal/models"
	"github.com/applyflow/autofill-service/internal/outbox"
)

func TestEnqueueCreatesPendingEntry(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)

	logID, err := store.Enqueue(ctx, "autofill.completed", []byte(`{"user_id":1}`))
	require.NoError(t, err)
	require.NotEmpty(t, logID)

	entry, ok := store.Get(logID)
	require.True(t, ok)
	assert.Equal(t, models.OutboxPending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)
	assert.Nil(t, entry.ClaimedAt)
}

func TestClaimNextStampsClaim(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	entry, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, logID, entry.LogID)
	assert.Equal(t, models.OutboxClaimed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.NotNil(t, entry.ClaimedAt)
}

func TestClaimNextReturnsNoneWhenEmpty(t *testing.T) {
	store := outbox.NewMemoryStore(3)
	entry, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entry, "an empty store signals none, not an error")
}

func TestClaimNextIsExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	_, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	const claimers = 32
	var wg sync.WaitGroup
	results := make(chan *models.OutboxEntry, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := store.ClaimNext(ctx)
			assert.NoError(t, err)
			results <- entry
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for entry := range results {
		if entry != nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one of %d concurrent claimers may win", claimers)
}

func TestTargetedClaimSignalsContention(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	_, err = store.Claim(ctx, logID)
	require.NoError(t, err)

	_, err = store.Claim(ctx, logID)
	assert.ErrorIs(t, err, outbox.ErrEntryAlreadyProcessing)
}

func TestTargetedClaimDistinguishesMissingEntry(t *testing.T) {
	store := outbox.NewMemoryStore(3)

	_, err := store.Claim(context.Background(), "no-such-log-id")
	assert.ErrorIs(t, err, outbox.ErrEntryNotFound)
	assert.NotErrorIs(t, err, outbox.ErrEntryAlreadyProcessing,
		"a bad reference is not claim contention")
}

func TestCompleteRequiresClaim(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Complete(ctx, logID), outbox.ErrEntryNotClaimed)

	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, logID))

	entry, _ := store.Get(logID)
	assert.Equal(t, models.OutboxDone, entry.Status)

	// A duplicate completion after the transition is rejected too.
	assert.ErrorIs(t, store.Complete(ctx, logID), outbox.ErrEntryNotClaimed)
}

func TestFailRetriesThenParksAsFailed(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(2)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	// Attempt 1 fails: back to PENDING.
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, logID, "boom", 0))
	entry, _ := store.Get(logID)
	assert.Equal(t, models.OutboxPending, entry.Status)
	assert.Equal(t, "boom", entry.LastError)
	assert.Nil(t, entry.ClaimedAt)

	// Attempt 2 fails at the ceiling: FAILED, terminal.
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, logID, "boom again", 0))
	entry, _ = store.Get(logID)
	assert.Equal(t, models.OutboxFailed, entry.Status)
	assert.Equal(t, 2, entry.Attempts)

	next, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "a FAILED entry is no longer claimable")
}

func TestFailDelaysNextClaim(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(5)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, logID, "downstream unavailable", time.Hour))

	entry, _ := store.Get(logID)
	assert.Equal(t, models.OutboxPending, entry.Status)
	require.NotNil(t, entry.NextAttemptAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *entry.NextAttemptAt, time.Minute)

	// The entry stays invisible to claimers until the delay elapses.
	next, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "a delayed retry must not be claimable early")

	// A targeted claim is an explicit redelivery and overrides the delay.
	claimed, err := store.Claim(ctx, logID)
	require.NoError(t, err)
	assert.Nil(t, claimed.NextAttemptAt)
	assert.Equal(t, 2, claimed.Attempts)
}

func TestFailWithoutDelayLeavesEntryClaimable(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(5)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, logID, "boom", 0))

	entry, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, logID, entry.LogID)
}

func TestReclaimStaleRecoversAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	logID, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)

	// Claim and then crash: no Complete, no Fail.
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)

	reclaimed, err := store.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	entry, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry, "a reclaimed entry is claimable again")
	assert.Equal(t, logID, entry.LogID)
	assert.Equal(t, 2, entry.Attempts)
}

func TestReclaimStaleLeavesFreshClaimsAlone(t *testing.T) {
	ctx := context.Background()
	store := outbox.NewMemoryStore(3)
	_, err := store.Enqueue(ctx, "autofill.completed", nil)
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)

	reclaimed, err := store.ReclaimStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}
