package storage

import (
	"context"
	"sync"

	"github.com/applyflow/autofill-service/internal/ledger"
	"github.com/applyflow/autofill-service/internal/outbox"
	"github.com/applyflow/autofill-service/internal/registry"
)

// MemoryAtomic gives the in-memory stores all-or-nothing semantics: units
// are serialized under one mutex and each store's state is snapshotted up
// front and restored if the unit body errors. Readers outside a unit still
// go straight to the stores, which is acceptable for the tests and local
// runs this backend exists for.
type MemoryAtomic struct {
	mu     sync.Mutex
	ledger *ledger.MemoryStore
	outbox *outbox.MemoryStore
	fields *registry.MemoryStore
}

func NewMemoryAtomic(l *ledger.MemoryStore, o *outbox.MemoryStore, f *registry.MemoryStore) *MemoryAtomic {
	return &MemoryAtomic{ledger: l, outbox: o, fields: f}
}

func (a *MemoryAtomic) InTx(ctx context.Context, fn func(s Stores) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	ledgerSnap := a.ledger.Snapshot()
	outboxSnap := a.outbox.Snapshot()
	fieldsSnap := a.fields.Snapshot()

	err := fn(Stores{Ledger: a.ledger, Outbox: a.outbox, Fields: a.fields})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		a.ledger.Restore(ledgerSnap)
		a.outbox.Restore(outboxSnap)
		a.fields.Restore(fieldsSnap)
		return err
	}
	return nil
}
