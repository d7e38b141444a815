package ledger_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kislikjeka/ledgerd/internal/ledger"
)

func TestDepositSource_IsDeposit(t *testing.T) {
	src := ledger.DepositSource()
	assert.True(t, src.IsDeposit())

	id, ok := src.UserID()
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, id)
}

func TestUserSource_IsNotDeposit(t *testing.T) {
	userID := uuid.New()
	src := ledger.UserSource(userID)
	assert.False(t, src.IsDeposit())

	id, ok := src.UserID()
	assert.True(t, ok)
	assert.Equal(t, userID, id)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ledger.ErrorKind
	}{
		{"insufficient funds", ledger.InsufficientFunds("op"), ledger.KindInsufficientFunds},
		{"conflict", ledger.Conflict("op", assertErr), ledger.KindConflict},
		{"validation failure", ledger.ValidationFailure("op", assertErr), ledger.KindValidationFailure},
		{"canceled", ledger.Canceled("op", assertErr), ledger.KindCanceled},
		{"internal", ledger.Internal("op", assertErr), ledger.KindInternal},
		{"unclassified error defaults to internal", assertErr, ledger.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.KindOf(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	wrapped := ledger.Internal("op", assertErr)
	assert.ErrorIs(t, wrapped, assertErr)
}

var assertErr = &stubError{"boom"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
