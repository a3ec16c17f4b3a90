package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"room-chat/internal/auth"
)

func authStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredential),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUserDisabled):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidDisplayName),
		errors.Is(err, auth.ErrFederatedCancelled),
		errors.Is(err, auth.ErrProviderDisabled):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondAuthError(c *gin.Context, err error) {
	c.JSON(authStatus(err), gin.H{"error": auth.Message(err)})
}
