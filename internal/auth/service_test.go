package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarhall/parley/internal/domain"
)

type fakeUserRepo struct {
	users  map[uuid.UUID]*domain.User
	hashes map[uuid.UUID]string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:  make(map[uuid.UUID]*domain.User),
		hashes: make(map[uuid.UUID]string),
	}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User, passwordHash string) error {
	r.users[user.ID] = user
	r.hashes[user.ID] = passwordHash
	return nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) GetPasswordHash(_ context.Context, userID uuid.UUID) (string, error) {
	if h, ok := r.hashes[userID]; ok {
		return h, nil
	}
	return "", domain.ErrUserNotFound
}

func (r *fakeUserRepo) EmailExists(_ context.Context, email string) (bool, error) {
	for _, u := range r.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) UsernameExists(_ context.Context, username string) (bool, error) {
	for _, u := range r.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo) {
	t.Helper()
	tokens, err := NewTokenService("test-signing-key-with-enough-length!!!!!")
	require.NoError(t, err)
	repo := newFakeUserRepo()
	return NewService(repo, tokens), repo
}

func validInput() RegisterInput {
	return RegisterInput{
		Email:       "alice@example.com",
		Username:    "alice",
		DisplayName: "Alice",
		Password:    "Sup3rSecret",
	}
}

func TestRegister_Success(t *testing.T) {
	svc, repo := newTestService(t)

	user, token, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, token.AccessToken)
	assert.False(t, token.ExpiresAt.IsZero())

	// Password is stored hashed, never verbatim
	hash := repo.hashes[user.ID]
	assert.NotEqual(t, "Sup3rSecret", hash)
	assert.NotEmpty(t, hash)
}

func TestRegister_NormalizesCase(t *testing.T) {
	svc, _ := newTestService(t)

	input := validInput()
	input.Email = "Alice@Example.COM"
	input.Username = "ALicE"

	user, _, err := svc.Register(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "alice", user.Username)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	input := validInput()
	input.Username = "bob"
	_, _, err = svc.Register(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	input := validInput()
	input.Email = "bob@example.com"
	_, _, err = svc.Register(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	svc, _ := newTestService(t)

	for _, password := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoNumbersHere"} {
		input := validInput()
		input.Password = password
		_, _, err := svc.Register(context.Background(), input)
		assert.Error(t, err, "password %q should be rejected", password)
	}
}

func TestRegister_InvalidEmailRejected(t *testing.T) {
	svc, _ := newTestService(t)

	input := validInput()
	input.Email = "not-an-email"
	_, _, err := svc.Register(context.Background(), input)
	assert.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	svc, _ := newTestService(t)

	registered, _, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	user, token, err := svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "Sup3rSecret",
	})
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, token.AccessToken)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), LoginInput{
		Email:    "alice@example.com",
		Password: "WrongPassw0rd",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), LoginInput{
		Email:    "ghost@example.com",
		Password: "Whatever1x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestValidateToken_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	user, token, err := svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Username, claims.Username)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestValidateToken_WrongKey(t *testing.T) {
	svc, _ := newTestService(t)
	other, err := NewTokenService("a-completely-different-signing-key!!!!!!")
	require.NoError(t, err)

	signed, _, err := other.GenerateToken(uuid.New(), "mallory")
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestNewTokenService_ShortKeyRejected(t *testing.T) {
	_, err := NewTokenService("too-short")
	assert.Error(t, err)
}
