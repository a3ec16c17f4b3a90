package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"room-chat/internal/admission"
	"room-chat/internal/auth"
	"room-chat/internal/models"
)

type AuthServiceMock struct {
	mock.Mock
}

func (m *AuthServiceMock) SignUp(ctx context.Context, email, password, confirm string) (auth.Session, error) {
	args := m.Called(ctx, email, password, confirm)
	var session auth.Session
	if val := args.Get(0); val != nil {
		session = val.(auth.Session)
	}
	return session, args.Error(1)
}

func (m *AuthServiceMock) SignIn(ctx context.Context, email, password string) (auth.Session, error) {
	args := m.Called(ctx, email, password)
	var session auth.Session
	if val := args.Get(0); val != nil {
		session = val.(auth.Session)
	}
	return session, args.Error(1)
}

func (m *AuthServiceMock) SignInFederated(ctx context.Context, idToken string) (auth.Session, error) {
	args := m.Called(ctx, idToken)
	var session auth.Session
	if val := args.Get(0); val != nil {
		session = val.(auth.Session)
	}
	return session, args.Error(1)
}

func (m *AuthServiceMock) SignOut(ctx context.Context, claims *auth.Claims) error {
	args := m.Called(ctx, claims)
	return args.Error(0)
}

func (m *AuthServiceMock) Authenticate(ctx context.Context, token string) (*auth.Claims, error) {
	args := m.Called(ctx, token)
	var claims *auth.Claims
	if val := args.Get(0); val != nil {
		claims = val.(*auth.Claims)
	}
	return claims, args.Error(1)
}

func (m *AuthServiceMock) Profile(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type AccountServiceMock struct {
	mock.Mock
}

func (m *AccountServiceMock) ChangeDisplayName(ctx context.Context, userID, name string) (models.User, error) {
	args := m.Called(ctx, userID, name)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *AccountServiceMock) Delete(ctx context.Context, userID string, cred auth.Credential) ([]string, error) {
	args := m.Called(ctx, userID, cred)
	var rooms []string
	if val := args.Get(0); val != nil {
		rooms = val.([]string)
	}
	return rooms, args.Error(1)
}

type RoomAdmissionMock struct {
	mock.Mock
}

func (m *RoomAdmissionMock) CreateRoom(ctx context.Context, userID string) (admission.Result, error) {
	args := m.Called(ctx, userID)
	var result admission.Result
	if val := args.Get(0); val != nil {
		result = val.(admission.Result)
	}
	return result, args.Error(1)
}

func (m *RoomAdmissionMock) JoinRoom(ctx context.Context, code string) (admission.Result, error) {
	args := m.Called(ctx, code)
	var result admission.Result
	if val := args.Get(0); val != nil {
		result = val.(admission.Result)
	}
	return result, args.Error(1)
}

type PresenceReaderMock struct {
	mock.Mock
}

func (m *PresenceReaderMock) Online(ctx context.Context, roomID string) ([]string, error) {
	args := m.Called(ctx, roomID)
	var online []string
	if val := args.Get(0); val != nil {
		online = val.([]string)
	}
	return online, args.Error(1)
}
