package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"booking-chat/internal/auth"
	"booking-chat/internal/models"
)

const (
	UserIDKey    = "userID"
	PrincipalKey = "principal"
)

// Authenticator resolves a bearer token to an active principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Principal, error)
}

// AuthMiddleware validates the Authorization header and stores the principal
// in the gin context.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.Reason(err)})
			return
		}

		principal, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			reason := auth.Reason(err)
			if reason == "AuthUnavailable" {
				log.Printf("auth middleware: %v", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": reason})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
			return
		}

		c.Set(UserIDKey, principal.ID)
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// PrincipalFromContext returns the principal stored by AuthMiddleware.
func PrincipalFromContext(c *gin.Context) (models.Principal, bool) {
	val, ok := c.Get(PrincipalKey)
	if !ok {
		return models.Principal{}, false
	}
	principal, ok := val.(models.Principal)
	return principal, ok
}
