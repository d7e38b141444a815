// Package coordinator implements the Concurrency Coordinator: serializable
// transactions, deterministic ascending-user-id lock ordering, retryable-
// conflict detection, and bounded exponential backoff around a unit of
// work supplied by the Executor.
package coordinator

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kislikjeka/ledgerd/internal/ledger"
	"github.com/kislikjeka/ledgerd/pkg/logger"
)

// MaxRetries is R from spec: at most 10 additional attempts after the
// first (11 total).
const MaxRetries = 10

// InitialBackoff is the starting sleep before the first retry; Run sets the
// multiplier to 2, so the base interval doubles on each subsequent attempt,
// with the backoff library's default randomization applied as jitter.
const InitialBackoff = 10 * time.Millisecond

// Lock is the narrow interface the Coordinator needs from the Redis-backed
// idempotency lock. It is advisory only: Run takes the database path the
// same way whether the lock is nil, acquired, or not acquired, so it never
// affects correctness.
type Lock interface {
	Acquire(ctx context.Context, idempotencyKey string) (token string, acquired bool)
	Release(ctx context.Context, idempotencyKey, token string)
}

// Attempt is one try of the unit of work the Coordinator retries: the
// Executor's idempotency-probe-through-append logic, run inside the
// transaction the Coordinator has already opened and locked.
type Attempt func(ctx context.Context) (*ledger.LedgerEntry, error)

// Coordinator runs an Attempt under serializable isolation with
// deterministic lock ordering and bounded exponential retry.
type Coordinator struct {
	store  ledger.Store
	lock   Lock
	logger *logger.Logger

	maxRetries     int
	initialBackoff time.Duration
}

// New creates a Coordinator. lock may be nil to disable the Redis
// advisory-lock optimization entirely.
func New(store ledger.Store, lock Lock, log *logger.Logger) *Coordinator {
	return &Coordinator{
		store:          store,
		lock:           lock,
		logger:         log.WithField("component", "coordinator"),
		maxRetries:     MaxRetries,
		initialBackoff: InitialBackoff,
	}
}

// WithRetryPolicy overrides the default retry budget/backoff, e.g. from
// environment configuration.
func (c *Coordinator) WithRetryPolicy(maxRetries int, initialBackoff time.Duration) *Coordinator {
	c.maxRetries = maxRetries
	c.initialBackoff = initialBackoff
	return c
}

// Run opens a serializable transaction, locks userIDs in ascending order,
// runs attempt, and commits — retrying the whole sequence on a retryable
// conflict up to the retry budget. userIDs need not be pre-sorted; Run
// sorts a copy before locking.
//
// idempotencyKey names an optional Redis advisory lock, held for the
// duration of the whole retry loop when it can be acquired. A caller that
// does not acquire it still runs the same database path, so the lock
// neither serializes concurrent callers of one key nor saves round-trips
// to the database. It is never consulted for correctness.
func (c *Coordinator) Run(ctx context.Context, idempotencyKey uuid.UUID, userIDs []uuid.UUID, attempt Attempt) (entry *ledger.LedgerEntry, retryCount int, err error) {
	ordered := append([]uuid.UUID(nil), userIDs...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	if c.lock != nil {
		if token, acquired := c.lock.Acquire(ctx, idempotencyKey.String()); acquired {
			defer c.lock.Release(context.WithoutCancel(ctx), idempotencyKey.String(), token)
		}
	}

	retries := 0

	op := func() (*ledger.LedgerEntry, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(ledger.Canceled("coordinator.Run", err))
		}

		txCtx, err := c.store.BeginTx(ctx)
		if err != nil {
			return nil, backoff.Permanent(ledger.Internal("coordinator.Run", err))
		}

		for _, id := range ordered {
			if err := c.store.AcquireUserLock(txCtx, id); err != nil {
				_ = c.store.RollbackTx(txCtx)
				return nil, c.classify(err)
			}
		}

		entry, err := attempt(txCtx)
		if err != nil {
			_ = c.store.RollbackTx(txCtx)
			return nil, c.classifyAttemptErr(err)
		}

		if err := c.store.CommitTx(txCtx); err != nil {
			return nil, c.classify(err)
		}

		return entry, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall-clock

	// backoff returns a permanent error already unwrapped, so remember it
	// here to tell it apart from a retryable error that exhausted the budget.
	var permanentErr error
	guarded := func() (*ledger.LedgerEntry, error) {
		entry, err := op()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			permanentErr = permanent.Unwrap()
		}
		return entry, err
	}

	result, runErr := backoff.RetryNotifyWithData(guarded, backoff.WithMaxRetries(bo, uint64(c.maxRetries)), func(notifyErr error, d time.Duration) {
		retries++
		c.logger.Warn("retrying after conflict", "attempt", retries, "backoff", d, "error", notifyErr)
	})
	if runErr != nil {
		if permanentErr != nil {
			return nil, retries, permanentErr
		}
		// The retry budget was exhausted on a retryable conflict.
		return nil, retries, ledger.Conflict("coordinator.Run", runErr)
	}

	return result, retries, nil
}

// classify turns a raw Store error (from BeginTx/AcquireUserLock/CommitTx)
// into either a retryable signal, for which backoff.Retry re-runs op, or a
// backoff.Permanent-wrapped *ledger.Error that stops retrying immediately.
func (c *Coordinator) classify(err error) error {
	if classifier, ok := c.store.(ledger.ConflictClassifier); ok && classifier.IsRetryableConflict(err) {
		return err
	}
	return backoff.Permanent(ledger.Internal("coordinator.Run", err))
}

// classifyAttemptErr is like classify but preserves a *ledger.Error the
// attempt already produced (e.g. InsufficientFunds) instead of rewrapping
// it as Internal. It also treats a unique-key violation from Append as
// retryable: that error means a concurrent winner committed the same
// idempotency key inside this attempt's now-aborted transaction, so the
// only way to observe the winner is to retry in a fresh transaction whose
// snapshot includes it (see executor.append).
func (c *Coordinator) classifyAttemptErr(err error) error {
	if classifier, ok := c.store.(ledger.ConflictClassifier); ok {
		if classifier.IsRetryableConflict(err) || classifier.IsUniqueViolation(err) {
			return err
		}
	}

	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		return backoff.Permanent(lerr)
	}
	return backoff.Permanent(ledger.Internal("coordinator.Run", err))
}
