package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"room-chat/internal/auth"
	"room-chat/internal/navigation"
	"room-chat/internal/observability"
	"room-chat/internal/telemetry"
)

// AuthService is the identity provider as used by the sign-in screens.
type AuthService interface {
	SignUp(ctx context.Context, email, password, confirm string) (auth.Session, error)
	SignIn(ctx context.Context, email, password string) (auth.Session, error)
	SignInFederated(ctx context.Context, idToken string) (auth.Session, error)
	SignOut(ctx context.Context, claims *auth.Claims) error
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthHandler serves sign-up, login and logout.
type AuthHandler struct {
	auth  AuthService
	audit *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler. audit may be nil.
func NewAuthHandler(authService AuthService, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{auth: authService, audit: audit}
}

func sessionResponse(session auth.Session, redirect string) gin.H {
	return gin.H{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"user":       session.User.Profile(),
		"redirect":   redirect,
	}
}

// alreadySignedIn answers with a redirect home when the request carries a valid token.
func (h *AuthHandler) alreadySignedIn(c *gin.Context) bool {
	token := observability.BearerToken(c.Request)
	if token == "" {
		return false
	}
	if _, err := h.auth.Authenticate(c.Request.Context(), token); err != nil {
		return false
	}
	c.JSON(http.StatusOK, gin.H{"redirect": navigation.Home})
	return true
}

func (h *AuthHandler) emit(c *gin.Context, text, userID string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), &userID)
}

// SignUp creates a password account.
func (h *AuthHandler) SignUp(c *gin.Context) {
	if h.alreadySignedIn(c) {
		return
	}

	var req struct {
		Email           string `json:"email" binding:"required"`
		Password        string `json:"password" binding:"required"`
		ConfirmPassword string `json:"confirm_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password, req.ConfirmPassword)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	h.emit(c, "user signed up", session.User.ID)
	c.JSON(http.StatusCreated, sessionResponse(session, navigation.Join))
}

// Login signs in with email and password.
func (h *AuthHandler) Login(c *gin.Context) {
	if h.alreadySignedIn(c) {
		return
	}

	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	h.emit(c, "user logged in", session.User.ID)
	c.JSON(http.StatusOK, sessionResponse(session, navigation.Home))
}

// Federated signs in with an identity token from the external provider.
// An empty token means the user dismissed the provider's popup.
func (h *AuthHandler) Federated(c *gin.Context) {
	if h.alreadySignedIn(c) {
		return
	}

	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.auth.SignInFederated(c.Request.Context(), req.IDToken)
	if err != nil {
		respondAuthError(c, err)
		return
	}
	h.emit(c, "user signed in with federated provider", session.User.ID)
	c.JSON(http.StatusOK, sessionResponse(session, navigation.Home))
}

// Logout revokes the current token.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session", "redirect": navigation.Login})
		return
	}
	if err := h.auth.SignOut(c.Request.Context(), claims); err != nil {
		respondAuthError(c, err)
		return
	}
	h.emit(c, "user logged out", claims.UserID())
	c.JSON(http.StatusOK, gin.H{"redirect": navigation.Login})
}

func claimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	val, ok := c.Get("claims")
	if !ok {
		return nil, false
	}
	claims, ok := val.(*auth.Claims)
	return claims, ok && claims != nil
}
