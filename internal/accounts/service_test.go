package accounts

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"room-chat/internal/auth"
	"room-chat/internal/models"
)

type identityMock struct {
	mock.Mock
}

func (m *identityMock) UpdateDisplayName(ctx context.Context, userID, name string) (models.User, error) {
	args := m.Called(ctx, userID, name)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *identityMock) Reauthenticate(ctx context.Context, userID string, cred auth.Credential) error {
	return m.Called(ctx, userID, cred).Error(0)
}

func (m *identityMock) NotifyDeleted(userID string) {
	m.Called(userID)
}

type storeMock struct {
	mock.Mock
}

func (m *storeMock) DeleteAccount(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func TestDeleteRequiresReauthentication(t *testing.T) {
	identity := new(identityMock)
	store := new(storeMock)
	svc := NewService(identity, store, zerolog.Nop())
	cred := auth.Credential{Password: "wrong"}

	identity.On("Reauthenticate", mock.Anything, "u1", cred).Return(auth.ErrInvalidCredential).Once()

	_, err := svc.Delete(context.Background(), "u1", cred)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	store.AssertNotCalled(t, "DeleteAccount", mock.Anything, mock.Anything)
	identity.AssertNotCalled(t, "NotifyDeleted", mock.Anything)
}

func TestDeleteRemovesRoomsAndNotifies(t *testing.T) {
	identity := new(identityMock)
	store := new(storeMock)
	svc := NewService(identity, store, zerolog.Nop())
	cred := auth.Credential{Password: "secret1"}

	identity.On("Reauthenticate", mock.Anything, "u1", cred).Return(nil).Once()
	store.On("DeleteAccount", mock.Anything, "u1").Return([]string{"AAAAAA"}, nil).Once()
	identity.On("NotifyDeleted", "u1").Once()

	rooms, err := svc.Delete(context.Background(), "u1", cred)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAA"}, rooms)
	identity.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestDeleteFailureKeepsIdentity(t *testing.T) {
	identity := new(identityMock)
	store := new(storeMock)
	svc := NewService(identity, store, zerolog.Nop())
	cred := auth.Credential{Password: "secret1"}

	identity.On("Reauthenticate", mock.Anything, "u1", cred).Return(nil).Once()
	store.On("DeleteAccount", mock.Anything, "u1").Return(nil, assert.AnError).Once()

	_, err := svc.Delete(context.Background(), "u1", cred)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), assert.AnError.Error())
	identity.AssertNotCalled(t, "NotifyDeleted", mock.Anything)
}

func TestChangeDisplayName(t *testing.T) {
	identity := new(identityMock)
	svc := NewService(identity, new(storeMock), zerolog.Nop())
	identity.On("UpdateDisplayName", mock.Anything, "u1", "Bob").Return(models.User{ID: "u1", DisplayName: "Bob"}, nil).Once()

	user, err := svc.ChangeDisplayName(context.Background(), "u1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.DisplayName)
}
