package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable home of the ledger: the four primitives spec'd for
// the Ledger Store component, plus the transaction-boundary and
// history-listing operations the Executor and HTTP adapter need.
//
// Every method must work identically whether or not the context carries an
// open transaction (see the postgres implementation's getQueryer helper),
// so the Coordinator can run FindByIdempotencyKey, AcquireUserLock,
// DeriveBalance, and Append as one serializable unit of work.
type Store interface {
	// FindByIdempotencyKey looks up a previously committed entry by its
	// idempotency key. Returns (nil, nil) if no such entry exists.
	FindByIdempotencyKey(ctx context.Context, key uuid.UUID) (*LedgerEntry, error)

	// AcquireUserLock takes an exclusive row lock on the user row within
	// the transaction active on ctx. A no-op with respect to the lock if
	// the user row does not exist — callers observe this as a zero
	// balance on subsequent derivation, not as an error.
	AcquireUserLock(ctx context.Context, userID uuid.UUID) error

	// DeriveBalance computes the signed sum of incoming minus outgoing
	// amounts for userID over entries with CreatedAt <= at.
	DeriveBalance(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	// DeriveBalanceNow is DeriveBalance bounded by the store's own clock
	// rather than a caller-supplied timestamp. The overdraft check and
	// "balance now" reads must use this: entries are stamped with the
	// store's clock on Append, so bounding by an app-supplied time.Now()
	// under clock skew could silently exclude an entry that just
	// committed, admitting an overdraft or a spurious insufficient-funds
	// rejection.
	DeriveBalanceNow(ctx context.Context, userID uuid.UUID) (int64, error)

	// Append inserts a new LedgerEntry. Returns an error satisfying
	// IsUniqueViolation if idempotency_key already exists.
	Append(ctx context.Context, entry *LedgerEntry) error

	// ListHistory returns every entry where userID is source or
	// destination, ordered by CreatedAt descending.
	ListHistory(ctx context.Context, userID uuid.UUID) ([]*LedgerEntry, error)

	// BeginTx opens a serializable transaction and returns a derived
	// context carrying it; subsequent calls on that context participate
	// in the same transaction.
	BeginTx(ctx context.Context) (context.Context, error)

	// CommitTx commits the transaction active on ctx.
	CommitTx(ctx context.Context) error

	// RollbackTx rolls back the transaction active on ctx. Safe to call
	// after a successful commit (a no-op in that case).
	RollbackTx(ctx context.Context) error
}

// AuditSink is the Failure Audit Sink: a best-effort, single-operation
// writer for transfers and deposits that exhausted the retry budget.
type AuditSink interface {
	Record(ctx context.Context, attempt *FailedAttempt)
}

// ConflictClassifier decides whether a Store error is a retryable
// serialization/deadlock conflict, so the Coordinator can be built
// against the Store interface without depending on a specific driver's
// error types.
type ConflictClassifier interface {
	IsRetryableConflict(err error) bool
	IsUniqueViolation(err error) bool
}
