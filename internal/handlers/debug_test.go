package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"room-chat/internal/middleware"
	"room-chat/internal/mocks"
	"room-chat/internal/telemetry"
)

func TestAuditTestUsesLoggerRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pub := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(pub, "audit.room-chat", "room-chat", "test", zerolog.Nop())

	router := gin.New()
	router.Use(middleware.RequestLogger(zerolog.Nop()))
	RegisterDebugRoutes(router, emitter, true)

	var published telemetry.AuditEnvelope
	pub.On("Publish", mock.Anything, "audit.room-chat", mock.AnythingOfType("telemetry.AuditEnvelope")).
		Run(func(args mock.Arguments) { published = args.Get(2).(telemetry.AuditEnvelope) }).
		Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	requestID := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, requestID)
	assert.Equal(t, requestID, published.RequestID)
	pub.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterDebugRoutes(router, nil, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
