package user_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kislikjeka/ledgerd/internal/platform/user"
	"github.com/kislikjeka/ledgerd/pkg/logger"
)

type fakeRepository struct {
	byEmail map[string]*user.User
	byID    map[uuid.UUID]*user.User
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byEmail: make(map[string]*user.User),
		byID:    make(map[uuid.UUID]*user.User),
	}
}

func (r *fakeRepository) Create(ctx context.Context, u *user.User) error {
	r.byEmail[u.Email] = u
	r.byID[u.ID] = u
	return nil
}

func (r *fakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	if u, ok := r.byID[id]; ok {
		return u, nil
	}
	return nil, user.ErrUserNotFound
}

func (r *fakeRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, user.ErrUserNotFound
}

func (r *fakeRepository) Update(ctx context.Context, u *user.User) error {
	r.byEmail[u.Email] = u
	r.byID[u.ID] = u
	return nil
}

func (r *fakeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if u, ok := r.byID[id]; ok {
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
	return nil
}

func (r *fakeRepository) Exists(ctx context.Context, email string) (bool, error) {
	_, ok := r.byEmail[email]
	return ok, nil
}

var _ user.Repository = (*fakeRepository)(nil)

type fakeLedgerRegistrar struct {
	registered  map[uuid.UUID]bool
	failWith    error
	lastErrOnce bool
}

func newFakeLedgerRegistrar() *fakeLedgerRegistrar {
	return &fakeLedgerRegistrar{registered: make(map[uuid.UUID]bool)}
}

func (r *fakeLedgerRegistrar) EnsureUser(ctx context.Context, id uuid.UUID) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.registered[id] = true
	return nil
}

var _ user.LedgerRegistrar = (*fakeLedgerRegistrar)(nil)

func newTestService(repo user.Repository, ledgerUsers user.LedgerRegistrar) *user.Service {
	return user.NewService(repo, ledgerUsers, logger.New("test", os.Stdout))
}

func TestRegister_CreatesUserAndAnchorsInLedger(t *testing.T) {
	repo := newFakeRepository()
	ledgerUsers := newFakeLedgerRegistrar()
	svc := newTestService(repo, ledgerUsers)

	got, err := svc.Register(context.Background(), "alice@example.com", "correcthorsebattery")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.NotEmpty(t, got.PasswordHash)
	assert.True(t, ledgerUsers.registered[got.ID], "registration must anchor the new user in the ledger")
}

func TestRegister_DuplicateEmailRejected(t *testing.T) {
	repo := newFakeRepository()
	ledgerUsers := newFakeLedgerRegistrar()
	svc := newTestService(repo, ledgerUsers)

	_, err := svc.Register(context.Background(), "bob@example.com", "correcthorsebattery")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "bob@example.com", "anotherpassword")
	assert.ErrorIs(t, err, user.ErrUserAlreadyExists)
}

func TestRegister_LedgerFailureFailsRegistrationButKeepsAccount(t *testing.T) {
	repo := newFakeRepository()
	ledgerUsers := newFakeLedgerRegistrar()
	ledgerUsers.failWith = errors.New("ledger unavailable")
	svc := newTestService(repo, ledgerUsers)

	_, err := svc.Register(context.Background(), "carol@example.com", "correcthorsebattery")

	require.Error(t, err)
	exists, _ := repo.Exists(context.Background(), "carol@example.com")
	// The account row was written by repo.Create before the ledger call
	// failed; the service reports the failure to the caller rather than
	// rolling the repo write back itself (no cross-store transaction
	// exists to roll back), so the caller must treat a failed Register as
	// unusable regardless of what landed in either store.
	assert.True(t, exists)
}

func TestLogin_WrongPasswordRejected(t *testing.T) {
	repo := newFakeRepository()
	ledgerUsers := newFakeLedgerRegistrar()
	svc := newTestService(repo, ledgerUsers)

	_, err := svc.Register(context.Background(), "dana@example.com", "correcthorsebattery")
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "dana@example.com", "wrongpassword")
	assert.ErrorIs(t, err, user.ErrInvalidPassword)
}

func TestLogin_UnknownEmailDoesNotRevealAbsence(t *testing.T) {
	repo := newFakeRepository()
	ledgerUsers := newFakeLedgerRegistrar()
	svc := newTestService(repo, ledgerUsers)

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever1")
	assert.ErrorIs(t, err, user.ErrInvalidPassword)
}

func TestLogin_Success(t *testing.T) {
	repo := newFakeRepository()
	ledgerUsers := newFakeLedgerRegistrar()
	svc := newTestService(repo, ledgerUsers)

	created, err := svc.Register(context.Background(), "erin@example.com", "correcthorsebattery")
	require.NoError(t, err)

	got, err := svc.Login(context.Background(), "erin@example.com", "correcthorsebattery")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.NotNil(t, got.LastLoginAt)
}
