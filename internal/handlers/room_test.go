package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"room-chat/internal/admission"
	"room-chat/internal/docstore"
	"room-chat/internal/mocks"
	"room-chat/internal/models"
)

type roomStoreMock struct {
	mock.Mock
}

func (m *roomStoreMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *roomStoreMock) CreateRoom(ctx context.Context, roomID, createdBy string) (models.Room, error) {
	args := m.Called(ctx, roomID, createdBy)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *roomStoreMock) DeleteRoom(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *roomStoreMock) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *roomStoreMock) AddMessage(ctx context.Context, in docstore.NewMessage) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type roomDeps struct {
	admission *mocks.RoomAdmissionMock
	store     *roomStoreMock
	presence  *mocks.PresenceReaderMock
	profiles  *mocks.AuthServiceMock
}

func setupRoomRouter() (*gin.Engine, roomDeps) {
	gin.SetMode(gin.TestMode)
	deps := roomDeps{
		admission: new(mocks.RoomAdmissionMock),
		store:     new(roomStoreMock),
		presence:  new(mocks.PresenceReaderMock),
		profiles:  new(mocks.AuthServiceMock),
	}
	handler := NewRoomHandler(deps.admission, deps.store, deps.presence, deps.profiles, zerolog.Nop())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.POST("/rooms", handler.CreateRoom)
	r.POST("/rooms/join", handler.JoinRoom)
	r.GET("/rooms/:room_id", handler.GetRoom)
	r.DELETE("/rooms/:room_id", handler.DeleteRoom)
	r.GET("/rooms/:room_id/messages", handler.ListMessages)
	r.POST("/rooms/:room_id/messages", handler.PostMessage)
	r.GET("/rooms/:room_id/presence", handler.Presence)
	return r, deps
}

func TestCreateRoomSuccess(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.admission.On("CreateRoom", mock.Anything, "u1").
		Return(admission.Result{RoomID: "ABC123", Redirect: "/ABC123"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "ABC123", resp["room_id"])
	assert.Equal(t, "/ABC123", resp["redirect"])
}

func TestCreateRoomCodeSpaceExhausted(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.admission.On("CreateRoom", mock.Anything, "u1").Return(nil, admission.ErrCodeSpaceExhausted).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJoinRoomNotFoundRedirectsToJoin(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.admission.On("JoinRoom", mock.Anything, "NOPE00").
		Return(admission.Result{Redirect: "/join"}, admission.ErrRoomNotFound).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/join", bytes.NewBufferString(`{"room_id":"NOPE00"}`)))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/join", decodeBody(t, rec)["redirect"])
}

func TestJoinRoomLowercaseCodeNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := new(roomStoreMock)
	store.On("GetRoom", mock.Anything, "AB12C3").Return(models.Room{ID: "AB12C3"}, nil).Maybe()
	admissionService, err := admission.NewService(store, zerolog.Nop())
	require.NoError(t, err)
	handler := NewRoomHandler(admissionService, store, new(mocks.PresenceReaderMock), new(mocks.AuthServiceMock), zerolog.Nop())

	router := gin.New()
	router.POST("/rooms/join", handler.JoinRoom)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/join", bytes.NewBufferString(`{"room_id":"ab12c3"}`)))

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "/join", resp["redirect"])
	assert.Nil(t, resp["room_id"])
	store.AssertNotCalled(t, "GetRoom", mock.Anything, mock.Anything)
}

func TestJoinRoomSuccess(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.admission.On("JoinRoom", mock.Anything, "ABC123").
		Return(admission.Result{RoomID: "ABC123", Redirect: "/ABC123"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/join", bytes.NewBufferString(`{"room_id":"ABC123"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/ABC123", decodeBody(t, rec)["redirect"])
}

func TestGetRoomReportsCreator(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.store.On("GetRoom", mock.Anything, "ABC123").
		Return(models.Room{ID: "ABC123", CreatedBy: "u1", CreatedAt: time.Now()}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/ABC123", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["is_creator"])
}

func TestGetRoomMalformedCode(t *testing.T) {
	router, deps := setupRoomRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/abc", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	deps.store.AssertNotCalled(t, "GetRoom", mock.Anything, mock.Anything)
}

func TestDeleteRoomForbiddenForNonCreator(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.store.On("GetRoom", mock.Anything, "ABC123").Return(models.Room{ID: "ABC123", CreatedBy: "u2"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rooms/ABC123", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	deps.store.AssertNotCalled(t, "DeleteRoom", mock.Anything, mock.Anything)
}

func TestDeleteRoomByCreator(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.store.On("GetRoom", mock.Anything, "ABC123").Return(models.Room{ID: "ABC123", CreatedBy: "u1"}, nil).Once()
	deps.store.On("DeleteRoom", mock.Anything, "ABC123").Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rooms/ABC123", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	deps.store.AssertExpectations(t)
}

func TestListMessagesOldestFirst(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.store.On("GetRoom", mock.Anything, "ABC123").Return(models.Room{ID: "ABC123"}, nil).Once()
	deps.store.On("ListMessages", mock.Anything, "ABC123").Return([]models.Message{
		{ID: "m1", Text: "first"},
		{ID: "m2", Text: "second"},
	}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/ABC123/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody(t, rec)["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].(map[string]any)["text"])
}

func TestPostMessageRejectsBlank(t *testing.T) {
	router, deps := setupRoomRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/ABC123/messages", bytes.NewBufferString(`{"text":"  \n "}`)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.store.AssertNotCalled(t, "AddMessage", mock.Anything, mock.Anything)
}

func TestPostMessageUsesDisplayName(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.profiles.On("Profile", mock.Anything, "u1").Return(models.User{ID: "u1", DisplayName: "Ada"}, nil).Once()
	deps.store.On("AddMessage", mock.Anything, docstore.NewMessage{
		RoomID: "ABC123", Text: "hi", AuthorID: "u1", AuthorName: "Ada", Kind: models.KindChat,
	}).Return(models.Message{ID: "m1", Text: "hi"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/ABC123/messages", bytes.NewBufferString(`{"text":"hi"}`)))

	require.Equal(t, http.StatusCreated, rec.Code)
	deps.store.AssertExpectations(t)
}

func TestPostMessageRoomGone(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.profiles.On("Profile", mock.Anything, "u1").Return(nil, assert.AnError).Once()
	deps.store.On("AddMessage", mock.Anything, mock.Anything).Return(nil, docstore.ErrRoomNotFound).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms/ABC123/messages", bytes.NewBufferString(`{"text":"hi"}`)))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresenceListsOnlineUsers(t *testing.T) {
	router, deps := setupRoomRouter()
	deps.presence.On("Online", mock.Anything, "ABC123").Return([]string{"u1", "u2"}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/ABC123/presence", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"u1", "u2"}, decodeBody(t, rec)["online"])
}
