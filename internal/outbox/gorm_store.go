package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/applyflow/autofill-service/internal/models"
)

// GormStore backs the outbox with the outbox_entries table.
type GormStore struct {
	db          *gorm.DB
	maxAttempts int
}

func NewGormStore(db *gorm.DB, maxAttempts int) *GormStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &GormStore{db: db, maxAttempts: maxAttempts}
}

func (s *GormStore) Enqueue(ctx context.Context, kind string, payload []byte) (string, error) {
	entry := models.OutboxEntry{
		LogID:   uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		Status:  models.OutboxPending,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return "", fmt.Errorf("outbox: enqueue %s entry: %w", kind, err)
	}
	return entry.LogID, nil
}

// ClaimNext picks the oldest eligible PENDING candidate and races for it
// with a conditional update guarded on status. Entries whose retry delay has
// not elapsed are excluded. RowsAffected == 0 means another worker won; we
// simply look for the next candidate.
func (s *GormStore) ClaimNext(ctx context.Context) (*models.OutboxEntry, error) {
	for {
		var entry models.OutboxEntry
		err := s.db.WithContext(ctx).
			Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
				models.OutboxPending, time.Now().UTC()).
			Order("created_at").
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("outbox: select pending entry: %w", err)
		}

		claimed, err := s.claim(ctx, entry.LogID)
		if err != nil {
			return nil, err
		}
		if claimed == nil {
			continue
		}
		return claimed, nil
	}
}

func (s *GormStore) Claim(ctx context.Context, logID string) (*models.OutboxEntry, error) {
	claimed, err := s.claim(ctx, logID)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
			Where("log_id = ?", logID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("outbox: check entry %s: %w", logID, err)
		}
		if count == 0 {
			return nil, ErrEntryNotFound
		}
		return nil, ErrEntryAlreadyProcessing
	}
	return claimed, nil
}

// claim performs the PENDING->CLAIMED compare-and-swap. Returns nil without
// error when the guard did not match (entry gone or no longer PENDING).
func (s *GormStore) claim(ctx context.Context, logID string) (*models.OutboxEntry, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("log_id = ? AND status = ?", logID, models.OutboxPending).
		Updates(map[string]any{
			"status":          models.OutboxClaimed,
			"claimed_at":      now,
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("outbox: claim entry %s: %w", logID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var entry models.OutboxEntry
	if err := s.db.WithContext(ctx).First(&entry, "log_id = ?", logID).Error; err != nil {
		return nil, fmt.Errorf("outbox: load claimed entry %s: %w", logID, err)
	}
	return &entry, nil
}

func (s *GormStore) Complete(ctx context.Context, logID string) error {
	res := s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("log_id = ? AND status = ?", logID, models.OutboxClaimed).
		Update("status", models.OutboxDone)
	if res.Error != nil {
		return fmt.Errorf("outbox: complete entry %s: %w", logID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotClaimed
	}
	return nil
}

func (s *GormStore) Fail(ctx context.Context, logID string, reason string, retryAfter time.Duration) error {
	// Terminal path first: entries at the attempts ceiling park as FAILED.
	res := s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("log_id = ? AND status = ? AND attempts >= ?", logID, models.OutboxClaimed, s.maxAttempts).
		Updates(map[string]any{"status": models.OutboxFailed, "last_error": reason})
	if res.Error != nil {
		return fmt.Errorf("outbox: fail entry %s: %w", logID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var nextAttempt any
	if retryAfter > 0 {
		nextAttempt = time.Now().UTC().Add(retryAfter)
	}
	res = s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("log_id = ? AND status = ?", logID, models.OutboxClaimed).
		Updates(map[string]any{
			"status":          models.OutboxPending,
			"claimed_at":      nil,
			"last_error":      reason,
			"next_attempt_at": nextAttempt,
		})
	if res.Error != nil {
		return fmt.Errorf("outbox: fail entry %s: %w", logID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotClaimed
	}
	return nil
}

func (s *GormStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Model(&models.OutboxEntry{}).
		Where("status = ? AND claimed_at <= ?", models.OutboxClaimed, cutoff).
		Updates(map[string]any{"status": models.OutboxPending, "claimed_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("outbox: reclaim stale entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
