package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"room-chat/internal/models"
)

var messageCols = []string{"id", "seq", "room_id", "text", "author_id", "author_name", "kind", "created_at"}

func TestCreateMessageSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	msg := models.Message{ID: "01J", RoomID: "AB12C3", Text: "hi", AuthorID: "u1", AuthorName: "alice", Kind: models.KindChat}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs("01J", "AB12C3", "hi", "u1", "alice", models.KindChat).
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow("01J", 7, "AB12C3", "hi", "u1", "alice", "chat", now))

	stored, err := repo.CreateMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.Seq)
	assert.Equal(t, models.KindChat, stored.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageMissingRoom(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnError(&pq.Error{Code: "23503"})

	_, err := repo.CreateMessage(context.Background(), models.Message{ID: "x", RoomID: "GONE00", Text: "hi", Kind: models.KindChat})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestListRoomMessagesNewestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, seq DESC")).
		WithArgs("AB12C3").
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("b", 2, "AB12C3", "second", "u1", "alice", "chat", now).
			AddRow("a", 1, "AB12C3", "first", "u1", "alice", "chat", now))

	msgs, err := repo.ListRoomMessages(context.Background(), "AB12C3")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Text)
}
