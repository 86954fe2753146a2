// Package ledger maintains per-user credit balances. Balances only change
// through atomic signed-delta updates at the storage layer; a debit that
// would take a balance below zero is rejected and leaves it unchanged.
package ledger

import (
	"context"
	"errors"

	"github.com/applyflow/autofill-service/internal/models"
)

var (
	// ErrUserNotFound is returned when no ledger entry exists for the user.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrInsufficientCredits is returned when a debit would drive the
	// balance negative. The balance is left untouched.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
)

// Store is the ledger capability shared by the wallet endpoints and the
// autofill orchestrator.
type Store interface {
	// GetBalance reads the current balance for the user.
	GetBalance(ctx context.Context, userID uint) (int64, error)

	// UpdateBalance applies the signed delta and returns the resulting
	// balance from the same atomic operation. Concurrent deltas are never
	// lost: the arithmetic happens at the storage layer, not as a
	// fetch/compute/write-back.
	UpdateBalance(ctx context.Context, userID uint, delta int64) (int64, error)

	// Provision creates a ledger entry with an initial balance. The wider
	// signup flow lives elsewhere; this is just the wallet hook it calls.
	Provision(ctx context.Context, email string, initialCredits int64) (*models.User, error)
}
