// Package audit implements the Failure Audit Sink: a best-effort writer
// for transfers and deposits that exhausted the Coordinator's retry
// budget. It never participates in the caller's transaction and never
// surfaces its own errors to the caller.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kislikjeka/ledgerd/internal/ledger"
	"github.com/kislikjeka/ledgerd/pkg/logger"
)

// Sink writes FailedAttempt records to the private audit.failed_transactions
// table, after the main transaction has already ended.
type Sink struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// New creates a Sink backed by pool.
func New(pool *pgxpool.Pool, log *logger.Logger) *Sink {
	return &Sink{pool: pool, logger: log.WithField("component", "audit_sink")}
}

// Record writes attempt best-effort. Any failure is logged and swallowed:
// an audit-write failure must never mask the original error already
// returned to the caller.
func (s *Sink) Record(ctx context.Context, attempt *ledger.FailedAttempt) {
	query := `
		INSERT INTO audit.failed_transactions
			(id, idempotency_key, source_user_id, destination_user_id, amount, error_description, retry_count, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var sourceUserID *uuid.UUID
	if id, ok := attempt.Source.UserID(); ok {
		sourceUserID = &id
	}

	// Audit writes run detached from the request context's cancellation:
	// a canceled caller must not prevent the audit record from landing.
	writeCtx := context.WithoutCancel(ctx)

	_, err := s.pool.Exec(writeCtx, query,
		attempt.ID,
		attempt.IdempotencyKey,
		sourceUserID,
		attempt.Destination,
		attempt.Amount,
		attempt.ErrorDescription,
		attempt.RetryCount,
		attempt.FailedAt,
	)
	if err != nil {
		s.logger.Error("failed to write audit record",
			"idempotency_key", attempt.IdempotencyKey,
			"error", err,
		)
	}
}
