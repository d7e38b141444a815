// Package ledger implements the transaction execution engine and
// ledger-derived balance model: an append-only log of value movements from
// which every balance is derived on demand, never materialized.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// User is a lockable anchor for an implicit single-currency account. It
// carries no balance and no version column — balances are always derived
// from the transaction log, never stored.
type User struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

// Source identifies the origin of a LedgerEntry: either a specific user or
// the deposit sentinel (value entering the system from outside the ledger).
// Modeled as a sum type rather than a raw nullable field so callers cannot
// construct an ambiguous half-set value.
type Source struct {
	userID uuid.UUID
	isUser bool
}

// DepositSource is the zero-value Source: no originating user.
func DepositSource() Source {
	return Source{}
}

// UserSource wraps a user id as a transfer's origin.
func UserSource(id uuid.UUID) Source {
	return Source{userID: id, isUser: true}
}

// IsDeposit reports whether this Source represents value entering the
// system rather than moving from an existing user.
func (s Source) IsDeposit() bool {
	return !s.isUser
}

// UserID returns the originating user id and true, or the zero UUID and
// false if this Source is a deposit.
func (s Source) UserID() (uuid.UUID, bool) {
	return s.userID, s.isUser
}

// LedgerEntry is one immutable record of value movement. Once appended, no
// field ever changes (invariant I1).
type LedgerEntry struct {
	ID             uuid.UUID
	IdempotencyKey uuid.UUID
	Source         Source
	Destination    uuid.UUID
	Amount         int64
	CreatedAt      time.Time
}

// FailedAttempt is an append-only audit record of a transfer or deposit
// that could not be committed after the retry budget was spent. It is
// written only by the Executor on exhaustion and never consulted on the
// hot path.
type FailedAttempt struct {
	ID               uuid.UUID
	IdempotencyKey   uuid.UUID
	Source           Source
	Destination      uuid.UUID
	Amount           int64
	ErrorDescription string
	RetryCount       int
	FailedAt         time.Time
	ResolvedAt       *time.Time
}
