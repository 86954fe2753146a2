package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/applyflow/autofill-service/internal/ledger"
	"github.com/applyflow/autofill-service/internal/outbox"
	"github.com/applyflow/autofill-service/internal/registry"
)

// GormAtomic implements the atomic unit as a database transaction spanning
// the users, field_records and outbox_entries tables, so the saga fallback
// for non-transactional stores is unnecessary here.
type GormAtomic struct {
	db                *gorm.DB
	outboxMaxAttempts int
}

func NewGormAtomic(db *gorm.DB, outboxMaxAttempts int) *GormAtomic {
	return &GormAtomic{db: db, outboxMaxAttempts: outboxMaxAttempts}
}

func (a *GormAtomic) InTx(ctx context.Context, fn func(s Stores) error) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Stores{
			Ledger: ledger.NewGormStore(tx),
			Outbox: outbox.NewGormStore(tx, a.outboxMaxAttempts),
			Fields: registry.NewGormStore(tx),
		})
	})
}
