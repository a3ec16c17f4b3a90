package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"room-chat/internal/models"
	"room-chat/internal/repositories"
)

const MaxDisplayNameLength = 50

type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
	EventDeleted   EventKind = "deleted"
)

// IdentityEvent is delivered to OnIdentityChange listeners.
type IdentityEvent struct {
	Kind   EventKind
	UserID string
}

// Session is the result of a successful sign-in.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"-"`
}

// Credential proves identity for sensitive operations. Exactly one field is expected.
type Credential struct {
	Password string `json:"password"`
	IDToken  string `json:"id_token"`
}

// Provider is the identity provider: credentials, sessions and identity change events.
type Provider struct {
	users       repositories.UserRepository
	hasher      *PasswordHasher
	tokens      *TokenManager
	federated   FederatedVerifier
	revocations RevocationStore
	callTimeout time.Duration
	logger      zerolog.Logger

	mu        sync.Mutex
	listeners map[uint64]func(IdentityEvent)
	nextID    uint64
}

type ProviderOptions struct {
	Users       repositories.UserRepository
	Hasher      *PasswordHasher
	Tokens      *TokenManager
	Federated   FederatedVerifier
	Revocations RevocationStore
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

func NewProvider(opts ProviderOptions) *Provider {
	return &Provider{
		users:       opts.Users,
		hasher:      opts.Hasher,
		tokens:      opts.Tokens,
		federated:   opts.Federated,
		revocations: opts.Revocations,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger.With().Str("component", "auth").Logger(),
		listeners:   make(map[uint64]func(IdentityEvent)),
	}
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.callTimeout)
}

func providerErr(err error) error {
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

// SignUp registers an email/password identity.
func (p *Provider) SignUp(ctx context.Context, email, password, confirm string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, ErrInvalidEmail
	}
	if password != confirm {
		return Session{}, ErrPasswordMismatch
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return Session{}, ErrWeakPassword
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return Session{}, providerErr(err)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	user, err := p.users.CreateUser(ctx, models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Role:         models.RoleUser,
		Provider:     models.ProviderPassword,
		PasswordHash: sql.NullString{String: hash, Valid: true},
		LastLogin:    sql.NullTime{Time: now, Valid: true},
	})
	if errors.Is(err, repositories.ErrEmailTaken) {
		return Session{}, ErrEmailInUse
	}
	if err != nil {
		return Session{}, providerErr(err)
	}

	return p.startSession(user)
}

// SignIn authenticates an email/password identity.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, ErrInvalidEmail
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	user, err := p.users.GetUserByEmail(ctx, email)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return Session{}, ErrInvalidCredential
	}
	if err != nil {
		return Session{}, providerErr(err)
	}
	if !user.PasswordHash.Valid || !p.hasher.Verify(password, user.PasswordHash.String) {
		return Session{}, ErrInvalidCredential
	}
	if user.Disabled {
		return Session{}, ErrUserDisabled
	}
	if err := p.users.TouchLastLogin(ctx, user.ID); err != nil {
		p.logger.Warn().Err(err).Str("user_id", user.ID).Msg("touch last login failed")
	}

	return p.startSession(user)
}

// SignInFederated signs in with an external ID token, creating the profile on first use.
// An empty token means the user abandoned the provider's flow.
func (p *Provider) SignInFederated(ctx context.Context, idToken string) (Session, error) {
	if idToken == "" {
		return Session{}, ErrFederatedCancelled
	}
	if p.federated == nil {
		return Session{}, ErrProviderDisabled
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	identity, err := p.federated.Verify(ctx, idToken)
	if err != nil {
		return Session{}, providerErr(err)
	}

	user, err := p.users.GetUser(ctx, identity.Subject)
	switch {
	case errors.Is(err, repositories.ErrUserNotFound):
		user, err = p.users.CreateUser(ctx, models.User{
			ID:          identity.Subject,
			Email:       strings.ToLower(identity.Email),
			DisplayName: strings.TrimSpace(identity.Name),
			Role:        models.RoleUser,
			Provider:    models.ProviderFederated,
			LastLogin:   sql.NullTime{Time: time.Now().UTC(), Valid: true},
		})
		if errors.Is(err, repositories.ErrEmailTaken) {
			return Session{}, ErrEmailInUse
		}
		if err != nil {
			return Session{}, providerErr(err)
		}
	case err != nil:
		return Session{}, providerErr(err)
	default:
		if user.Disabled {
			return Session{}, ErrUserDisabled
		}
		if err := p.users.TouchLastLogin(ctx, user.ID); err != nil {
			p.logger.Warn().Err(err).Str("user_id", user.ID).Msg("touch last login failed")
		}
	}

	return p.startSession(user)
}

func (p *Provider) startSession(user models.User) (Session, error) {
	token, claims, err := p.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return Session{}, providerErr(err)
	}
	p.fire(IdentityEvent{Kind: EventSignedIn, UserID: user.ID})
	return Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user}, nil
}

// SignOut revokes the presented token.
func (p *Provider) SignOut(ctx context.Context, claims *Claims) error {
	if claims == nil {
		return ErrInvalidToken
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := p.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return providerErr(err)
	}
	p.fire(IdentityEvent{Kind: EventSignedOut, UserID: claims.UserID()})
	return nil
}

// Authenticate resolves a bearer token to its claims. Revoked tokens and tokens of
// deleted or disabled users are rejected.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	revoked, err := p.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, providerErr(err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	user, err := p.users.GetUser(ctx, claims.UserID())
	if errors.Is(err, repositories.ErrUserNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, providerErr(err)
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}
	return claims, nil
}

// Profile loads the signed-in user's record.
func (p *Provider) Profile(ctx context.Context, userID string) (models.User, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.users.GetUser(ctx, userID)
}

// UpdateDisplayName stores a trimmed display name of 1 to 50 characters.
func (p *Provider) UpdateDisplayName(ctx context.Context, userID, name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxDisplayNameLength {
		return models.User{}, ErrInvalidDisplayName
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.users.UpdateDisplayName(ctx, userID, name)
}

// Reauthenticate checks a fresh credential for userID.
func (p *Provider) Reauthenticate(ctx context.Context, userID string, cred Credential) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	user, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Disabled {
		return ErrUserDisabled
	}

	switch {
	case cred.Password != "":
		if !user.PasswordHash.Valid || !p.hasher.Verify(cred.Password, user.PasswordHash.String) {
			return ErrInvalidCredential
		}
		return nil
	case cred.IDToken != "":
		if p.federated == nil {
			return ErrProviderDisabled
		}
		identity, err := p.federated.Verify(ctx, cred.IDToken)
		if err != nil || identity.Subject != user.ID {
			return ErrInvalidCredential
		}
		return nil
	default:
		return ErrInvalidCredential
	}
}

// NotifyDeleted tells listeners the identity no longer exists.
func (p *Provider) NotifyDeleted(userID string) {
	p.fire(IdentityEvent{Kind: EventDeleted, UserID: userID})
}

// OnIdentityChange registers fn for every identity event and returns its cancel func.
func (p *Provider) OnIdentityChange(fn func(IdentityEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) fire(event IdentityEvent) {
	p.mu.Lock()
	fns := make([]func(IdentityEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
