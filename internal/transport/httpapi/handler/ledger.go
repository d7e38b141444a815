package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kislikjeka/ledgerd/internal/ledger"
	apperrors "github.com/kislikjeka/ledgerd/internal/shared/errors"
)

// LedgerServiceInterface defines the executor operations the HTTP layer
// drives. The handler depends on this narrow interface rather than the
// concrete executor.Executor so it can be tested against a fake.
type LedgerServiceInterface interface {
	ExecuteTransfer(ctx context.Context, idempotencyKey, source, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error)
	ExecuteDeposit(ctx context.Context, idempotencyKey, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error)
	BalanceNow(ctx context.Context, userID uuid.UUID) (int64, error)
	BalanceAt(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	ListHistory(ctx context.Context, userID uuid.UUID) ([]*ledger.LedgerEntry, error)
}

// LedgerHandler handles transfer, deposit, balance, and history requests.
type LedgerHandler struct {
	executor LedgerServiceInterface
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(executor LedgerServiceInterface) *LedgerHandler {
	return &LedgerHandler{executor: executor}
}

// TransferRequest is the request body for POST /transfers.
type TransferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	SourceUserID   string `json:"source_user_id"`
	DestUserID     string `json:"destination_user_id"`
	Amount         int64  `json:"amount"`
}

// DepositRequest is the request body for POST /deposits.
type DepositRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	DestUserID     string `json:"destination_user_id"`
	Amount         int64  `json:"amount"`
}

// EntryResponse is the wire representation of a committed ledger entry.
type EntryResponse struct {
	ID             string  `json:"id"`
	IdempotencyKey string  `json:"idempotency_key"`
	SourceUserID   *string `json:"source_user_id,omitempty"`
	IsDeposit      bool    `json:"is_deposit"`
	DestUserID     string  `json:"destination_user_id"`
	Amount         int64   `json:"amount"`
	CreatedAt      string  `json:"created_at"`
}

// BalanceResponse is the wire representation of a derived balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
	AsOf    string `json:"as_of"`
}

func toEntryResponse(entry *ledger.LedgerEntry) EntryResponse {
	resp := EntryResponse{
		ID:             entry.ID.String(),
		IdempotencyKey: entry.IdempotencyKey.String(),
		IsDeposit:      entry.Source.IsDeposit(),
		DestUserID:     entry.Destination.String(),
		Amount:         entry.Amount,
		CreatedAt:      entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if id, ok := entry.Source.UserID(); ok {
		s := id.String()
		resp.SourceUserID = &s
	}
	return resp
}

// appErrorFor maps a *ledger.Error's kind onto the HTTP adapter's own
// error vocabulary; anything not wrapping a *ledger.Error is treated as
// internal.
func appErrorFor(err error) *apperrors.AppError {
	switch ledger.KindOf(err) {
	case ledger.KindInsufficientFunds:
		return apperrors.InsufficientBalance("insufficient funds")
	case ledger.KindValidationFailure:
		return apperrors.InvalidInput("invalid request")
	case ledger.KindConflict:
		return apperrors.Conflict("could not complete operation, please retry")
	case ledger.KindCanceled:
		return apperrors.Canceled("request canceled")
	default:
		return apperrors.Internal("internal error", err)
	}
}

// CreateTransfer handles POST /transfers.
func (h *LedgerHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	idempotencyKey, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid idempotency_key")
		return
	}
	source, err := uuid.Parse(req.SourceUserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid source_user_id")
		return
	}
	destination, err := uuid.Parse(req.DestUserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid destination_user_id")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if source == destination {
		respondWithError(w, http.StatusBadRequest, "source and destination must differ")
		return
	}

	entry, err := h.executor.ExecuteTransfer(r.Context(), idempotencyKey, source, destination, req.Amount)
	if err != nil {
		respondWithAppError(w, appErrorFor(err))
		return
	}

	respondWithJSON(w, http.StatusCreated, toEntryResponse(entry))
}

// CreateDeposit handles POST /deposits.
func (h *LedgerHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	idempotencyKey, err := uuid.Parse(req.IdempotencyKey)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid idempotency_key")
		return
	}
	destination, err := uuid.Parse(req.DestUserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid destination_user_id")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	entry, err := h.executor.ExecuteDeposit(r.Context(), idempotencyKey, destination, req.Amount)
	if err != nil {
		respondWithAppError(w, appErrorFor(err))
		return
	}

	respondWithJSON(w, http.StatusCreated, toEntryResponse(entry))
}

// GetBalance handles GET /users/{id}/balance, with an optional ?at=
// RFC3339 timestamp to derive a historical balance.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid at (use RFC3339)")
			return
		}
	}

	balance, err := h.executor.BalanceAt(r.Context(), userID, at)
	if err != nil {
		respondWithAppError(w, appErrorFor(err))
		return
	}

	respondWithJSON(w, http.StatusOK, BalanceResponse{
		UserID:  userID.String(),
		Balance: balance,
		AsOf:    at.Format(time.RFC3339Nano),
	})
}

// GetHistory handles GET /users/{id}/history.
func (h *LedgerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	entries, err := h.executor.ListHistory(r.Context(), userID)
	if err != nil {
		respondWithAppError(w, appErrorFor(err))
		return
	}

	responses := make([]EntryResponse, len(entries))
	for i, entry := range entries {
		responses[i] = toEntryResponse(entry)
	}
	respondWithJSON(w, http.StatusOK, responses)
}
