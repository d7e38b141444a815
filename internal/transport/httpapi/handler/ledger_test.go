package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/ledgerd/internal/ledger"
	"github.com/kislikjeka/ledgerd/internal/transport/httpapi/handler"
)

// fakeLedgerService is a hand-rolled stand-in for the Executor, letting each
// test wire only the behavior it exercises.
type fakeLedgerService struct {
	executeTransfer func(ctx context.Context, idempotencyKey, source, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error)
	executeDeposit  func(ctx context.Context, idempotencyKey, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error)
	balanceNow      func(ctx context.Context, userID uuid.UUID) (int64, error)
	balanceAt       func(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	listHistory     func(ctx context.Context, userID uuid.UUID) ([]*ledger.LedgerEntry, error)
}

func (f *fakeLedgerService) ExecuteTransfer(ctx context.Context, idempotencyKey, source, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error) {
	return f.executeTransfer(ctx, idempotencyKey, source, destination, amount)
}

func (f *fakeLedgerService) ExecuteDeposit(ctx context.Context, idempotencyKey, destination uuid.UUID, amount int64) (*ledger.LedgerEntry, error) {
	return f.executeDeposit(ctx, idempotencyKey, destination, amount)
}

func (f *fakeLedgerService) BalanceNow(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f.balanceNow(ctx, userID)
}

func (f *fakeLedgerService) BalanceAt(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	return f.balanceAt(ctx, userID, at)
}

func (f *fakeLedgerService) ListHistory(ctx context.Context, userID uuid.UUID) ([]*ledger.LedgerEntry, error) {
	return f.listHistory(ctx, userID)
}

var _ handler.LedgerServiceInterface = (*fakeLedgerService)(nil)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateTransfer_Success(t *testing.T) {
	source, dest := uuid.New(), uuid.New()
	key := uuid.New()
	wantEntry := &ledger.LedgerEntry{
		ID:             uuid.New(),
		IdempotencyKey: key,
		Source:         ledger.UserSource(source),
		Destination:    dest,
		Amount:         250,
		CreatedAt:      time.Now(),
	}

	svc := &fakeLedgerService{
		executeTransfer: func(ctx context.Context, k, s, d uuid.UUID, amount int64) (*ledger.LedgerEntry, error) {
			assert.Equal(t, key, k)
			assert.Equal(t, source, s)
			assert.Equal(t, dest, d)
			assert.Equal(t, int64(250), amount)
			return wantEntry, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	body, _ := json.Marshal(handler.TransferRequest{
		IdempotencyKey: key.String(),
		SourceUserID:   source.String(),
		DestUserID:     dest.String(),
		Amount:         250,
	})
	req := httptest.NewRequest(http.MethodPost, "/transfers", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateTransfer(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got handler.EntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, wantEntry.ID.String(), got.ID)
	assert.Equal(t, int64(250), got.Amount)
}

func TestCreateTransfer_RejectsSameSourceAndDestination(t *testing.T) {
	user := uuid.New()
	svc := &fakeLedgerService{
		executeTransfer: func(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, int64) (*ledger.LedgerEntry, error) {
			t.Fatal("executor must not be called for an invalid request")
			return nil, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	body, _ := json.Marshal(handler.TransferRequest{
		IdempotencyKey: uuid.New().String(),
		SourceUserID:   user.String(),
		DestUserID:     user.String(),
		Amount:         100,
	})
	req := httptest.NewRequest(http.MethodPost, "/transfers", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateTransfer(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransfer_RejectsNonPositiveAmount(t *testing.T) {
	svc := &fakeLedgerService{
		executeTransfer: func(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, int64) (*ledger.LedgerEntry, error) {
			t.Fatal("executor must not be called for an invalid request")
			return nil, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	body, _ := json.Marshal(handler.TransferRequest{
		IdempotencyKey: uuid.New().String(),
		SourceUserID:   uuid.New().String(),
		DestUserID:     uuid.New().String(),
		Amount:         0,
	})
	req := httptest.NewRequest(http.MethodPost, "/transfers", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateTransfer(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransfer_InsufficientFundsMapsTo422(t *testing.T) {
	svc := &fakeLedgerService{
		executeTransfer: func(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, int64) (*ledger.LedgerEntry, error) {
			return nil, ledger.InsufficientFunds("ledger.ExecuteTransfer")
		},
	}
	h := handler.NewLedgerHandler(svc)

	body, _ := json.Marshal(handler.TransferRequest{
		IdempotencyKey: uuid.New().String(),
		SourceUserID:   uuid.New().String(),
		DestUserID:     uuid.New().String(),
		Amount:         100,
	})
	req := httptest.NewRequest(http.MethodPost, "/transfers", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateTransfer(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateDeposit_Success(t *testing.T) {
	dest := uuid.New()
	key := uuid.New()
	wantEntry := &ledger.LedgerEntry{
		ID:             uuid.New(),
		IdempotencyKey: key,
		Source:         ledger.DepositSource(),
		Destination:    dest,
		Amount:         400,
		CreatedAt:      time.Now(),
	}

	svc := &fakeLedgerService{
		executeDeposit: func(ctx context.Context, k, d uuid.UUID, amount int64) (*ledger.LedgerEntry, error) {
			return wantEntry, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	body, _ := json.Marshal(handler.DepositRequest{
		IdempotencyKey: key.String(),
		DestUserID:     dest.String(),
		Amount:         400,
	})
	req := httptest.NewRequest(http.MethodPost, "/deposits", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateDeposit(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got handler.EntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Nil(t, got.SourceUserID)
	assert.True(t, got.IsDeposit)
}

func TestGetBalance_UsesCurrentTimeByDefault(t *testing.T) {
	userID := uuid.New()
	svc := &fakeLedgerService{
		balanceAt: func(ctx context.Context, u uuid.UUID, at time.Time) (int64, error) {
			assert.Equal(t, userID, u)
			assert.WithinDuration(t, time.Now(), at, 5*time.Second)
			return 1200, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/balance", nil)
	req = withURLParam(req, "id", userID.String())
	rec := httptest.NewRecorder()

	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got handler.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1200), got.Balance)
}

func TestGetBalance_ParsesAtQueryParam(t *testing.T) {
	userID := uuid.New()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	svc := &fakeLedgerService{
		balanceAt: func(ctx context.Context, u uuid.UUID, got time.Time) (int64, error) {
			assert.True(t, at.Equal(got))
			return 0, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/balance?at="+at.Format(time.RFC3339), nil)
	req = withURLParam(req, "id", userID.String())
	rec := httptest.NewRecorder()

	h.GetBalance(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetBalance_InvalidUserID(t *testing.T) {
	h := handler.NewLedgerHandler(&fakeLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/users/not-a-uuid/balance", nil)
	req = withURLParam(req, "id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.GetBalance(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistory_ReturnsEntries(t *testing.T) {
	userID := uuid.New()
	entries := []*ledger.LedgerEntry{
		{ID: uuid.New(), Source: ledger.DepositSource(), Destination: userID, Amount: 10, CreatedAt: time.Now()},
		{ID: uuid.New(), Source: ledger.DepositSource(), Destination: userID, Amount: 20, CreatedAt: time.Now()},
	}

	svc := &fakeLedgerService{
		listHistory: func(ctx context.Context, u uuid.UUID) ([]*ledger.LedgerEntry, error) {
			return entries, nil
		},
	}
	h := handler.NewLedgerHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/history", nil)
	req = withURLParam(req, "id", userID.String())
	rec := httptest.NewRecorder()

	h.GetHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []handler.EntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}
