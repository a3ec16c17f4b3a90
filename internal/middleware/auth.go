package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"room-chat/internal/auth"
	"room-chat/internal/navigation"
	"room-chat/internal/observability"
)

// TokenAuthenticator validates a session token.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware validates the bearer token and stores the user id and claims on the context.
func AuthMiddleware(authenticator TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := observability.BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization", "redirect": navigation.Login})
			return
		}

		claims, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.Message(err), "redirect": navigation.Login})
			return
		}

		c.Set("userID", claims.UserID())
		c.Set("claims", claims)
		c.Next()
	}
}
