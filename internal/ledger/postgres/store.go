// Package postgres implements the ledger Store against PostgreSQL, the
// reference relational store a serializable-transaction ledger runs on.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kislikjeka/ledgerd/internal/ledger"
)

//go:embed schema.sql
var schemaSQL string

// Store implements ledger.Store and ledger.ConflictClassifier on top of a
// pgxpool.Pool. Every method pulls the active transaction out of ctx via
// getQueryer, so the same method bodies serve both standalone reads and
// steps of the Coordinator's serializable unit of work.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema applies the embedded schema, idempotently (every statement
// is IF NOT EXISTS). Intended to run once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

type ctxKey string

const txContextKey ctxKey = "ledger_pg_tx"

// BeginTx opens a serializable transaction and stores it on the returned
// context.
func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	if s.txFromContext(ctx) != nil {
		return ctx, fmt.Errorf("transaction already in progress")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return ctx, fmt.Errorf("begin serializable transaction: %w", err)
	}

	return context.WithValue(ctx, txContextKey, tx), nil
}

// CommitTx commits the transaction active on ctx.
func (s *Store) CommitTx(ctx context.Context) error {
	tx := s.txFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RollbackTx rolls back the transaction active on ctx. A no-op if the
// transaction already committed or was already rolled back.
func (s *Store) RollbackTx(ctx context.Context) error {
	tx := s.txFromContext(ctx)
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return nil
		}
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (s *Store) txFromContext(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txContextKey).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// queryer is the subset of pgxpool.Pool / pgx.Tx that store methods need;
// it lets every method work identically inside or outside an open
// transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) getQueryer(ctx context.Context) queryer {
	if tx := s.txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

// EnsureUser inserts a lock-anchor row for id if one does not already
// exist. Called by the user/auth collaborator on registration; the ledger
// core itself never creates users.
func (s *Store) EnsureUser(ctx context.Context, id uuid.UUID) error {
	q := s.getQueryer(ctx)
	_, err := q.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// FindByIdempotencyKey looks up a previously committed entry by key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key uuid.UUID) (*ledger.LedgerEntry, error) {
	query := `
		SELECT id, idempotency_key, source_user_id, destination_user_id, amount, created_at
		FROM transactions
		WHERE idempotency_key = $1
	`

	q := s.getQueryer(ctx)
	entry, err := scanEntry(q.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	return entry, nil
}

// AcquireUserLock takes an exclusive row lock on the user row within the
// transaction active on ctx. Missing users are a silent no-op: subsequent
// derivation returns zero and the caller's invariant checks take it from
// there.
func (s *Store) AcquireUserLock(ctx context.Context, userID uuid.UUID) error {
	q := s.getQueryer(ctx)
	var discard uuid.UUID
	err := q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&discard)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("acquire user lock: %w", err)
	}
	return nil
}

// DeriveBalance computes the signed sum of incoming minus outgoing amounts
// for userID over entries with created_at <= at.
func (s *Store) DeriveBalance(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	query := `
		SELECT
		  COALESCE(SUM(amount) FILTER (WHERE destination_user_id = $1), 0)
		  - COALESCE(SUM(amount) FILTER (WHERE source_user_id = $1), 0)
		FROM transactions
		WHERE created_at <= $2
		  AND (source_user_id = $1 OR destination_user_id = $1)
	`

	q := s.getQueryer(ctx)
	var balance int64
	if err := q.QueryRow(ctx, query, userID, at).Scan(&balance); err != nil {
		return 0, fmt.Errorf("derive balance: %w", err)
	}
	return balance, nil
}

// DeriveBalanceNow is DeriveBalance bounded by clock_timestamp() rather
// than an app-supplied timestamp, so it never disagrees with the clock
// Append stamps entries with regardless of skew between the app host and
// the database.
func (s *Store) DeriveBalanceNow(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		SELECT
		  COALESCE(SUM(amount) FILTER (WHERE destination_user_id = $1), 0)
		  - COALESCE(SUM(amount) FILTER (WHERE source_user_id = $1), 0)
		FROM transactions
		WHERE created_at <= clock_timestamp()
		  AND (source_user_id = $1 OR destination_user_id = $1)
	`

	q := s.getQueryer(ctx)
	var balance int64
	if err := q.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("derive balance now: %w", err)
	}
	return balance, nil
}

// Append inserts a new LedgerEntry.
func (s *Store) Append(ctx context.Context, entry *ledger.LedgerEntry) error {
	query := `
		INSERT INTO transactions (id, idempotency_key, source_user_id, destination_user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		RETURNING created_at
	`

	var sourceUserID *uuid.UUID
	if id, ok := entry.Source.UserID(); ok {
		sourceUserID = &id
	}

	q := s.getQueryer(ctx)
	if err := q.QueryRow(ctx, query,
		entry.ID,
		entry.IdempotencyKey,
		sourceUserID,
		entry.Destination,
		entry.Amount,
	).Scan(&entry.CreatedAt); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// ListHistory returns every entry touching userID, newest first.
func (s *Store) ListHistory(ctx context.Context, userID uuid.UUID) ([]*ledger.LedgerEntry, error) {
	query := `
		SELECT id, idempotency_key, source_user_id, destination_user_id, amount, created_at
		FROM transactions
		WHERE source_user_id = $1 OR destination_user_id = $1
		ORDER BY created_at DESC
	`

	q := s.getQueryer(ctx)
	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// row is the subset of pgx.Row/pgx.Rows scanEntry needs.
type row interface {
	Scan(dest ...any) error
}

func scanEntry(r row) (*ledger.LedgerEntry, error) {
	var entry ledger.LedgerEntry
	var sourceUserID *uuid.UUID

	if err := r.Scan(
		&entry.ID,
		&entry.IdempotencyKey,
		&sourceUserID,
		&entry.Destination,
		&entry.Amount,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}

	if sourceUserID != nil {
		entry.Source = ledger.UserSource(*sourceUserID)
	} else {
		entry.Source = ledger.DepositSource()
	}

	return &entry, nil
}

// IsRetryableConflict reports whether err is a serialization failure
// (40001) or deadlock (40P01) — the only conflict classes the Coordinator
// treats as safe to retry.
func (s *Store) IsRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// (23505), signaling an idempotent loser on Append.
func (s *Store) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
