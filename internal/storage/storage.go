// Package storage groups the three persistence capabilities behind one
// atomic-unit boundary: registry writes, the ledger debit and the outbox
// enqueue of a single autofill either all commit or none do.
package storage

import (
	"context"

	"github.com/applyflow/autofill-service/internal/ledger"
	"github.com/applyflow/autofill-service/internal/outbox"
	"github.com/applyflow/autofill-service/internal/registry"
)

// Stores bundles transaction-scoped store handles handed to the unit body.
type Stores struct {
	Ledger ledger.Store
	Outbox outbox.Store
	Fields registry.Store
}

// Atomic runs a group of mutations as one all-or-nothing unit.
type Atomic interface {
	InTx(ctx context.Context, fn func(s Stores) error) error
}
