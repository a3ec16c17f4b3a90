package models

import (
	"database/sql"
	"time"
)

const (
	RoleUser = "user"

	ProviderPassword  = "password"
	ProviderFederated = "federated"
)

// User is the profile record kept for every identity.
type User struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	DisplayName  string         `db:"display_name" json:"-"`
	Role         string         `db:"role" json:"role"`
	Provider     string         `db:"provider" json:"provider"`
	PasswordHash sql.NullString `db:"password_hash" json:"-"`
	Disabled     bool           `db:"disabled" json:"disabled"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	LastLogin    sql.NullTime   `db:"last_login" json:"-"`
}

// Name returns the display name, falling back to "Anonymous_" plus the first four characters of the id.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return DefaultDisplayName(u.ID)
}

// DefaultDisplayName builds the placeholder name for an identity without one.
func DefaultDisplayName(userID string) string {
	prefix := []rune(userID)
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return "Anonymous_" + string(prefix)
}

// UserProfile is the API-facing view of a user.
type UserProfile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	Provider    string     `json:"provider"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// Profile converts the record to its API view.
func (u User) Profile() UserProfile {
	p := UserProfile{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.Name(),
		Role:        u.Role,
		Provider:    u.Provider,
		CreatedAt:   u.CreatedAt,
	}
	if u.LastLogin.Valid {
		t := u.LastLogin.Time
		p.LastLogin = &t
	}
	return p
}
