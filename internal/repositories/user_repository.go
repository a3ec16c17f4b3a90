package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"room-chat/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already in use")
)

const userColumns = `id, email, display_name, role, provider, password_hash, disabled, created_at, updated_at, last_login`

// UserRepository abstracts user persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	TouchLastLogin(ctx context.Context, userID string) error
	UpdateDisplayName(ctx context.Context, userID string, name string) (models.User, error)
	DeleteUserWithRooms(ctx context.Context, userID string) ([]string, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts a new user record.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	var created models.User
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (id, email, display_name, role, provider, password_hash, last_login)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+userColumns,
		user.ID, user.Email, user.DisplayName, user.Role, user.Provider, user.PasswordHash, user.LastLogin).StructScan(&created)
	if isPQCode(err, pqUniqueViolation) {
		return models.User{}, ErrEmailTaken
	}
	return created, err
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByEmail fetches a user by email address.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// TouchLastLogin records a successful sign-in.
func (r *UserRepo) TouchLastLogin(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = NOW() WHERE id=$1`, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateDisplayName changes the profile name and returns the updated record.
func (r *UserRepo) UpdateDisplayName(ctx context.Context, userID string, name string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx, `UPDATE users SET display_name=$2, updated_at=NOW() WHERE id=$1 RETURNING `+userColumns, userID, name).StructScan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// DeleteUserWithRooms removes the user's rooms and then the user atomically, returning the deleted room ids.
func (r *UserRepo) DeleteUserWithRooms(ctx context.Context, userID string) (roomIDs []string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	roomIDs = []string{}
	if err = tx.SelectContext(ctx, &roomIDs, `DELETE FROM rooms WHERE created_by=$1 RETURNING id`, userID); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return nil, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		err = ErrUserNotFound
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return roomIDs, nil
}
