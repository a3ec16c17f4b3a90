package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"room-chat/internal/auth"
	"room-chat/internal/models"
	"room-chat/internal/navigation"
	"room-chat/internal/telemetry"
)

// ProfileReader loads the signed-in user's profile.
type ProfileReader interface {
	Profile(ctx context.Context, userID string) (models.User, error)
}

// AccountService changes and deletes the signed-in user's account.
type AccountService interface {
	ChangeDisplayName(ctx context.Context, userID, name string) (models.User, error)
	Delete(ctx context.Context, userID string, cred auth.Credential) ([]string, error)
}

// AccountHandler serves the signed-in user's own account.
type AccountHandler struct {
	profiles ProfileReader
	accounts AccountService
	audit    *telemetry.AuditEmitter
}

// NewAccountHandler builds an AccountHandler. audit may be nil.
func NewAccountHandler(profiles ProfileReader, accounts AccountService, audit *telemetry.AuditEmitter) *AccountHandler {
	return &AccountHandler{profiles: profiles, accounts: accounts, audit: audit}
}

// Me returns the profile of the authenticated user.
func (h *AccountHandler) Me(c *gin.Context) {
	user, err := h.profiles.Profile(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Profile())
}

// ChangeDisplayName sets the name used on messages sent from now on.
func (h *AccountHandler) ChangeDisplayName(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.accounts.ChangeDisplayName(c.Request.Context(), c.GetString("userID"), req.DisplayName)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, user.Profile())
}

// DeleteAccount removes the account and the rooms it created after re-authentication.
func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	var cred auth.Credential
	if err := c.ShouldBindJSON(&cred); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cred.Password == "" && cred.IDToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password or id_token is required"})
		return
	}

	userID := c.GetString("userID")
	rooms, err := h.accounts.Delete(c.Request.Context(), userID, cred)
	if err != nil {
		status := authStatus(err)
		msg := auth.Message(err)
		if status == http.StatusInternalServerError {
			msg = err.Error()
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if h.audit != nil {
		h.audit.EmitFields(c.Request.Context(), "INFO", "account deleted", requestIDFromContext(c), &userID,
			map[string]string{"rooms_deleted": strconv.Itoa(len(rooms))})
	}
	c.JSON(http.StatusOK, gin.H{"deleted_rooms": rooms, "redirect": navigation.Login})
}
