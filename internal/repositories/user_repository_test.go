package repositories

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"room-chat/internal/models"
)

var userCols = []string{"id", "email", "display_name", "role", "provider", "password_hash", "disabled", "created_at", "updated_at", "last_login"}

func TestCreateUserEmailTaken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.CreateUser(context.Background(), models.User{ID: "u1", Email: "a@b.co", Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestGetUserByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email=$1")).
		WithArgs("a@b.co").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@b.co", "", "user", "password", "hash", false, now, now, nil))

	user, err := repo.GetUserByEmail(context.Background(), "a@b.co")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "hash", user.PasswordHash.String)
	assert.False(t, user.LastLogin.Valid)
}

func TestGetUserNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id=$1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUser(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestTouchLastLoginUnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.TouchLastLogin(context.Background(), "ghost"), ErrUserNotFound)
}

func TestDeleteUserWithRoomsCommits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM rooms WHERE created_by=$1 RETURNING id")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("AAAAAA").AddRow("BBBBBB"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id=$1")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := repo.DeleteUserWithRooms(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAA", "BBBBBB"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserWithRoomsRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM rooms WHERE created_by=$1 RETURNING id")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("AAAAAA"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id=$1")).
		WithArgs("u1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := repo.DeleteUserWithRooms(context.Background(), "u1")
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}
