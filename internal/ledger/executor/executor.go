// Package executor implements the Transaction Executor: the stateless
// operation orchestrator exposing execute-transfer, execute-deposit,
// balance-now, balance-at, and list-history, enforcing the idempotency
// contract, the non-negativity invariant, and the audit-on-final-failure
// protocol.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kislikjeka/ledgerd/internal/ledger"
	"github.com/kislikjeka/ledgerd/internal/ledger/coordinator"
	"github.com/kislikjeka/ledgerd/pkg/logger"
)

// Executor orchestrates transfers, deposits, and balance/history reads
// against a Store via a Coordinator, auditing writes that exhaust their
// retry budget.
type Executor struct {
	store  ledger.Store
	coord  *coordinator.Coordinator
	audit  ledger.AuditSink
	logger *logger.Logger
}

// New creates an Executor.
func New(store ledger.Store, coord *coordinator.Coordinator, audit ledger.AuditSink, log *logger.Logger) *Executor {
	return &Executor{
		store:  store,
		coord:  coord,
		audit:  audit,
		logger: log.WithField("component", "executor"),
	}
}

// ExecuteTransfer moves amount from source to destination, returning the
// committed entry. Preconditions (amount > 0, source != destination,
// syntactic validity) are the caller's responsibility; the core treats
// their violation as programmer error.
func (e *Executor) ExecuteTransfer(ctx context.Context, idempotencyKey, source, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error) {
	const op = "ledger.ExecuteTransfer"

	if existing, err := e.probe(ctx, op, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	attempt := func(txCtx context.Context) (*ledger.LedgerEntry, error) {
		if existing, err := e.probe(txCtx, op, idempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}

		balance, err := e.store.DeriveBalanceNow(txCtx, source)
		if err != nil {
			return nil, ledger.Internal(op, err)
		}
		if balance < amount {
			return nil, ledger.InsufficientFunds(op)
		}

		entry := &ledger.LedgerEntry{
			ID:             uuid.New(),
			IdempotencyKey: idempotencyKey,
			Source:         ledger.UserSource(source),
			Destination:    destination,
			Amount:         amount,
		}
		return e.append(txCtx, op, entry)
	}

	entry, retries, err := e.coord.Run(ctx, idempotencyKey, []uuid.UUID{source, destination}, attempt)
	if err != nil {
		e.auditOnExhaustion(ctx, err, &ledger.FailedAttempt{
			ID:               uuid.New(),
			IdempotencyKey:   idempotencyKey,
			Source:           ledger.UserSource(source),
			Destination:      destination,
			Amount:           amount,
			ErrorDescription: err.Error(),
			RetryCount:       retries,
			FailedAt:         time.Now(),
		})
		return nil, err
	}
	return entry, nil
}

// ExecuteDeposit injects amount into destination's account, returning the
// committed entry. No source user, no overdraft check; isolation and the
// idempotency probe match ExecuteTransfer.
func (e *Executor) ExecuteDeposit(ctx context.Context, idempotencyKey, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error) {
	const op = "ledger.ExecuteDeposit"

	if existing, err := e.probe(ctx, op, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	attempt := func(txCtx context.Context) (*ledger.LedgerEntry, error) {
		if existing, err := e.probe(txCtx, op, idempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}

		entry := &ledger.LedgerEntry{
			ID:             uuid.New(),
			IdempotencyKey: idempotencyKey,
			Source:         ledger.DepositSource(),
			Destination:    destination,
			Amount:         amount,
		}
		return e.append(txCtx, op, entry)
	}

	entry, retries, err := e.coord.Run(ctx, idempotencyKey, []uuid.UUID{destination}, attempt)
	if err != nil {
		e.auditOnExhaustion(ctx, err, &ledger.FailedAttempt{
			ID:               uuid.New(),
			IdempotencyKey:   idempotencyKey,
			Source:           ledger.DepositSource(),
			Destination:      destination,
			Amount:           amount,
			ErrorDescription: err.Error(),
			RetryCount:       retries,
			FailedAt:         time.Now(),
		})
		return nil, err
	}
	return entry, nil
}

// BalanceNow returns the current derived balance for userID, 0 if unknown.
// Bounded by the store's own clock (see DeriveBalanceNow), not the app
// host's, so it never misses an entry the store just committed.
func (e *Executor) BalanceNow(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "ledger.BalanceNow"
	if err := ctx.Err(); err != nil {
		return 0, ledger.Canceled(op, err)
	}

	balance, err := e.store.DeriveBalanceNow(ctx, userID)
	if err != nil {
		return 0, ledger.Internal(op, err)
	}
	return balance, nil
}

// BalanceAt returns the derived balance for userID as of at. A future at
// returns the current balance; an at before the user's first entry
// returns 0.
func (e *Executor) BalanceAt(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	const op = "ledger.BalanceAt"
	if err := ctx.Err(); err != nil {
		return 0, ledger.Canceled(op, err)
	}

	balance, err := e.store.DeriveBalance(ctx, userID, at)
	if err != nil {
		return 0, ledger.Internal(op, err)
	}
	return balance, nil
}

// ListHistory returns every entry touching userID, newest first.
func (e *Executor) ListHistory(ctx context.Context, userID uuid.UUID) ([]*ledger.LedgerEntry, error) {
	const op = "ledger.ListHistory"
	if err := ctx.Err(); err != nil {
		return nil, ledger.Canceled(op, err)
	}

	entries, err := e.store.ListHistory(ctx, userID)
	if err != nil {
		return nil, ledger.Internal(op, err)
	}
	return entries, nil
}

// probe performs the idempotency lookup shared by both the outside-any-
// transaction pre-check and the inside-transaction re-check that the
// retried unit of work re-enters.
func (e *Executor) probe(ctx context.Context, op string, key uuid.UUID) (*ledger.LedgerEntry, error) {
	entry, err := e.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, ledger.Internal(op, err)
	}
	return entry, nil
}

// append inserts entry. A unique-key violation means a concurrent winner
// raced this idempotency key inside the very transaction this attempt is
// running in; Postgres aborts the transaction on that 23505, so probing
// for the winner here would itself fail with "transaction is aborted"
// rather than finding it. Instead the raw error is returned unresolved:
// the Coordinator recognizes it via ConflictClassifier.IsUniqueViolation
// and treats it as retryable, rolling back and re-running this attempt in
// a fresh transaction whose snapshot sees the winner. That attempt's own
// leading probe then returns the winner without calling Append again.
// A retryable serialization conflict is likewise returned raw for the
// Coordinator to retry; any other error is a ValidationFailure.
func (e *Executor) append(ctx context.Context, op string, entry *ledger.LedgerEntry) (*ledger.LedgerEntry, error) {
	err := e.store.Append(ctx, entry)
	if err == nil {
		return entry, nil
	}

	if classifier, ok := e.store.(ledger.ConflictClassifier); ok && (classifier.IsUniqueViolation(err) || classifier.IsRetryableConflict(err)) {
		return nil, err
	}

	return nil, ledger.ValidationFailure(op, err)
}

// auditOnExhaustion writes a FailedAttempt for write operations whose
// terminal error is Conflict or Internal, per spec's error taxonomy
// (InsufficientFunds, ValidationFailure, and Canceled are never audited).
func (e *Executor) auditOnExhaustion(ctx context.Context, err error, attempt *ledger.FailedAttempt) {
	switch ledger.KindOf(err) {
	case ledger.KindConflict, ledger.KindInternal:
		e.audit.Record(context.WithoutCancel(ctx), attempt)
	}
}
