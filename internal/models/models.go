package models

import (
	"time"

	"gorm.io/gorm"
)

// User doubles as the credit ledger entry: one row per user, with the
// balance mutated only through atomic signed-delta updates.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	CreditBalance int64  `gorm:"not null;default:0" json:"credit_balance"`
}

// FieldRecord caches LLM-derived metadata for a form field, keyed by the
// content hash of its normalized identity. Records are append-only: a changed
// identity produces a new hash, so rows are never mutated in place.
type FieldRecord struct {
	FieldHash string    `gorm:"primaryKey;size:64" json:"field_hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Label          string `gorm:"not null" json:"label"`
	FieldType      string `gorm:"not null" json:"field_type"`
	Context        string `json:"context"`
	Kind           string `json:"kind"`
	SemanticRole   string `json:"semantic_role"`
	RoleBased      bool   `json:"role_based"`
	AnswerTemplate string `gorm:"type:text" json:"answer_template"`
}

// Outbox entry lifecycle. Transitions are monotonic and enforced by
// conditional updates in the store, never by read-modify-write.
const (
	OutboxPending = "PENDING"
	OutboxClaimed = "CLAIMED"
	OutboxDone    = "DONE"
	OutboxFailed  = "FAILED"
)

// OutboxEntry records a to-be-delivered event in the same transaction as the
// business mutation that produced it.
type OutboxEntry struct {
	LogID     string    `gorm:"primaryKey;size:36" json:"log_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Kind      string     `gorm:"index;not null" json:"kind"`
	Payload   []byte     `gorm:"type:jsonb" json:"payload"`
	Status    string     `gorm:"index;not null;default:'PENDING'" json:"status"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	LastError string     `gorm:"type:text" json:"last_error,omitempty"`

	// NextAttemptAt holds a retry's earliest eligibility after a failed
	// delivery. A PENDING entry with a future NextAttemptAt is invisible to
	// ClaimNext, which is what spaces retries out across workers.
	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at,omitempty"`
}
