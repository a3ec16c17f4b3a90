package auth_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"room-chat/internal/auth"
	"room-chat/internal/mocks"
	"room-chat/internal/models"
	"room-chat/internal/repositories"
)

const (
	fedIssuer = "https://id.example.com"
	fedSecret = "fed-secret"
)

type providerFixture struct {
	users    *mocks.UserRepositoryMock
	hasher   *auth.PasswordHasher
	provider *auth.Provider
	events   chan auth.IdentityEvent
}

func newProvider(t *testing.T) providerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := providerFixture{
		users:  new(mocks.UserRepositoryMock),
		hasher: auth.NewPasswordHasher(bcrypt.MinCost),
		events: make(chan auth.IdentityEvent, 8),
	}
	f.provider = auth.NewProvider(auth.ProviderOptions{
		Users:       f.users,
		Hasher:      f.hasher,
		Tokens:      auth.NewTokenManager("secret", "room-chat", time.Hour),
		Federated:   auth.NewJWTFederatedVerifier(fedIssuer, fedSecret),
		Revocations: auth.NewRedisRevocations(client),
		CallTimeout: time.Second,
		Logger:      zerolog.Nop(),
	})
	cancel := f.provider.OnIdentityChange(func(e auth.IdentityEvent) { f.events <- e })
	t.Cleanup(cancel)
	return f
}

func (f providerFixture) passwordUser(t *testing.T, id, email, password string) models.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	return models.User{ID: id, Email: email, Role: models.RoleUser, Provider: models.ProviderPassword, PasswordHash: sql.NullString{String: hash, Valid: true}}
}

func idToken(t *testing.T, sub, email, name string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   fedIssuer,
		"sub":   sub,
		"email": email,
		"name":  name,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(fedSecret))
	require.NoError(t, err)
	return token
}

func TestSignUpValidation(t *testing.T) {
	f := newProvider(t)
	ctx := context.Background()

	_, err := f.provider.SignUp(ctx, "not-an-email", "secret1", "secret1")
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	_, err = f.provider.SignUp(ctx, "a@b.co", "secret1", "secret2")
	assert.ErrorIs(t, err, auth.ErrPasswordMismatch)

	_, err = f.provider.SignUp(ctx, "a@b.co", "abc", "abc")
	assert.ErrorIs(t, err, auth.ErrWeakPassword)

	f.users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestSignUpCreatesUserAndIssuesToken(t *testing.T) {
	f := newProvider(t)
	ctx := context.Background()

	f.users.On("CreateUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.Email == "a@b.co" && u.Role == models.RoleUser && u.Provider == models.ProviderPassword && u.PasswordHash.Valid
	})).Return(func(_ context.Context, u models.User) models.User { return u }, nil).Once()

	session, err := f.provider.SignUp(ctx, "A@B.co ", "secret1", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	f.users.On("GetUser", mock.Anything, session.User.ID).Return(session.User, nil)
	claims, err := f.provider.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID())

	assert.Equal(t, auth.IdentityEvent{Kind: auth.EventSignedIn, UserID: session.User.ID}, <-f.events)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	f := newProvider(t)
	f.users.On("CreateUser", mock.Anything, mock.Anything).Return(nil, repositories.ErrEmailTaken).Once()

	_, err := f.provider.SignUp(context.Background(), "a@b.co", "secret1", "secret1")
	assert.ErrorIs(t, err, auth.ErrEmailInUse)
}

func TestSignIn(t *testing.T) {
	f := newProvider(t)
	ctx := context.Background()
	user := f.passwordUser(t, "u1", "a@b.co", "secret1")

	f.users.On("GetUserByEmail", mock.Anything, "a@b.co").Return(user, nil)
	f.users.On("GetUserByEmail", mock.Anything, "ghost@b.co").Return(nil, repositories.ErrUserNotFound)
	f.users.On("TouchLastLogin", mock.Anything, "u1").Return(nil).Once()

	_, err := f.provider.SignIn(ctx, "ghost@b.co", "secret1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	_, err = f.provider.SignIn(ctx, "a@b.co", "wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)

	session, err := f.provider.SignIn(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.User.ID)
	f.users.AssertExpectations(t)
}

func TestSignInDisabled(t *testing.T) {
	f := newProvider(t)
	user := f.passwordUser(t, "u1", "a@b.co", "secret1")
	user.Disabled = true
	f.users.On("GetUserByEmail", mock.Anything, "a@b.co").Return(user, nil)

	_, err := f.provider.SignIn(context.Background(), "a@b.co", "secret1")
	assert.ErrorIs(t, err, auth.ErrUserDisabled)
}

func TestSignInBackendFailureIsProviderError(t *testing.T) {
	f := newProvider(t)
	f.users.On("GetUserByEmail", mock.Anything, "a@b.co").Return(nil, assert.AnError)

	_, err := f.provider.SignIn(context.Background(), "a@b.co", "secret1")
	assert.ErrorIs(t, err, auth.ErrProvider)
}

func TestSignInFederatedCancelled(t *testing.T) {
	f := newProvider(t)
	_, err := f.provider.SignInFederated(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrFederatedCancelled)
	assert.Equal(t, "Sign-in popup was closed before completing the sign-in process.", auth.Message(err))
}

func TestSignInFederatedFirstTimeCreatesProfile(t *testing.T) {
	f := newProvider(t)
	f.users.On("GetUser", mock.Anything, "fed-1").Return(nil, repositories.ErrUserNotFound).Once()
	f.users.On("CreateUser", mock.Anything, mock.MatchedBy(func(u models.User) bool {
		return u.ID == "fed-1" && u.Email == "g@example.com" && u.DisplayName == "Grace" &&
			u.Provider == models.ProviderFederated && u.Role == models.RoleUser && u.LastLogin.Valid
	})).Return(func(_ context.Context, u models.User) models.User { return u }, nil).Once()

	session, err := f.provider.SignInFederated(context.Background(), idToken(t, "fed-1", "g@example.com", "Grace"))
	require.NoError(t, err)
	assert.Equal(t, "Grace", session.User.Name())
	f.users.AssertExpectations(t)
}

func TestSignInFederatedReturningUserTouchesLastLogin(t *testing.T) {
	f := newProvider(t)
	f.users.On("GetUser", mock.Anything, "fed-1").Return(models.User{ID: "fed-1", Email: "g@example.com"}, nil).Once()
	f.users.On("TouchLastLogin", mock.Anything, "fed-1").Return(nil).Once()

	_, err := f.provider.SignInFederated(context.Background(), idToken(t, "fed-1", "g@example.com", "Grace"))
	require.NoError(t, err)
	f.users.AssertExpectations(t)
}

func TestSignInFederatedBadToken(t *testing.T) {
	f := newProvider(t)
	_, err := f.provider.SignInFederated(context.Background(), "garbage")
	assert.ErrorIs(t, err, auth.ErrProvider)
}

func TestSignOutRevokesToken(t *testing.T) {
	f := newProvider(t)
	ctx := context.Background()
	user := f.passwordUser(t, "u1", "a@b.co", "secret1")
	f.users.On("GetUserByEmail", mock.Anything, "a@b.co").Return(user, nil)
	f.users.On("TouchLastLogin", mock.Anything, "u1").Return(nil)
	f.users.On("GetUser", mock.Anything, "u1").Return(user, nil)

	session, err := f.provider.SignIn(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	claims, err := f.provider.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	<-f.events

	require.NoError(t, f.provider.SignOut(ctx, claims))
	assert.Equal(t, auth.IdentityEvent{Kind: auth.EventSignedOut, UserID: "u1"}, <-f.events)

	_, err = f.provider.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
}

func TestAuthenticateDeletedUser(t *testing.T) {
	f := newProvider(t)
	f.users.On("CreateUser", mock.Anything, mock.Anything).Return(func(_ context.Context, u models.User) models.User { return u }, nil).Once()
	session, err := f.provider.SignUp(context.Background(), "a@b.co", "secret1", "secret1")
	require.NoError(t, err)

	f.users.On("GetUser", mock.Anything, session.User.ID).Return(nil, repositories.ErrUserNotFound)
	_, err = f.provider.Authenticate(context.Background(), session.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestUpdateDisplayName(t *testing.T) {
	f := newProvider(t)
	ctx := context.Background()

	_, err := f.provider.UpdateDisplayName(ctx, "u1", "   ")
	assert.ErrorIs(t, err, auth.ErrInvalidDisplayName)

	long := make([]rune, auth.MaxDisplayNameLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = f.provider.UpdateDisplayName(ctx, "u1", string(long))
	assert.ErrorIs(t, err, auth.ErrInvalidDisplayName)

	f.users.On("UpdateDisplayName", mock.Anything, "u1", "Alice").Return(models.User{ID: "u1", DisplayName: "Alice"}, nil).Once()
	user, err := f.provider.UpdateDisplayName(ctx, "u1", "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name())
}

func TestReauthenticate(t *testing.T) {
	f := newProvider(t)
	ctx := context.Background()
	f.users.On("GetUser", mock.Anything, "u1").Return(f.passwordUser(t, "u1", "a@b.co", "secret1"), nil)
	f.users.On("GetUser", mock.Anything, "fed-1").Return(models.User{ID: "fed-1", Email: "g@example.com"}, nil)

	assert.NoError(t, f.provider.Reauthenticate(ctx, "u1", auth.Credential{Password: "secret1"}))
	assert.ErrorIs(t, f.provider.Reauthenticate(ctx, "u1", auth.Credential{Password: "nope"}), auth.ErrInvalidCredential)
	assert.ErrorIs(t, f.provider.Reauthenticate(ctx, "u1", auth.Credential{}), auth.ErrInvalidCredential)

	assert.NoError(t, f.provider.Reauthenticate(ctx, "fed-1", auth.Credential{IDToken: idToken(t, "fed-1", "g@example.com", "")}))
	assert.ErrorIs(t, f.provider.Reauthenticate(ctx, "fed-1", auth.Credential{IDToken: idToken(t, "fed-2", "x@example.com", "")}), auth.ErrInvalidCredential)
}

func TestOnIdentityChangeCancel(t *testing.T) {
	f := newProvider(t)
	calls := 0
	cancel := f.provider.OnIdentityChange(func(auth.IdentityEvent) { calls++ })

	f.provider.NotifyDeleted("u1")
	cancel()
	f.provider.NotifyDeleted("u1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, auth.EventDeleted, (<-f.events).Kind)
}
