package accounts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"room-chat/internal/auth"
	"room-chat/internal/models"
)

type identityProvider interface {
	UpdateDisplayName(ctx context.Context, userID, name string) (models.User, error)
	Reauthenticate(ctx context.Context, userID string, cred auth.Credential) error
	NotifyDeleted(userID string)
}

type accountStore interface {
	DeleteAccount(ctx context.Context, userID string) ([]string, error)
}

// Service manages a signed-in user's own account.
type Service struct {
	identity identityProvider
	store    accountStore
	logger   zerolog.Logger
}

func NewService(identity identityProvider, store accountStore, logger zerolog.Logger) *Service {
	return &Service{
		identity: identity,
		store:    store,
		logger:   logger.With().Str("component", "accounts").Logger(),
	}
}

// ChangeDisplayName updates the name shown on future messages.
func (s *Service) ChangeDisplayName(ctx context.Context, userID, name string) (models.User, error) {
	return s.identity.UpdateDisplayName(ctx, userID, name)
}

// Delete removes the account and every room it created. A fresh credential is required.
// On any failure the account is left as it was.
func (s *Service) Delete(ctx context.Context, userID string, cred auth.Credential) ([]string, error) {
	if err := s.identity.Reauthenticate(ctx, userID, cred); err != nil {
		return nil, fmt.Errorf("reauthenticate: %w", err)
	}
	roomIDs, err := s.store.DeleteAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("delete account: %w", err)
	}
	s.identity.NotifyDeleted(userID)
	s.logger.Info().Str("user_id", userID).Strs("rooms", roomIDs).Msg("account removed")
	return roomIDs, nil
}
