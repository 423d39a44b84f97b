package middleware

import (
	"net/http"
	"strings"

	"pixelrelay/internal/core/services"

	"github.com/gin-gonic/gin"
)

const (
	ContextSubject = "auth_subject"
	ContextClaims  = "auth_claims"
)

// AuthMiddleware rejects requests without a valid bearer token and stores
// the token's claims on the gin context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(authService services.AuthService, role services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := c.Get(ContextClaims)
		typed, _ := claims.(*services.Claims)

		if err := authService.Authorize(typed, role); err != nil {
			status := http.StatusForbidden
			if typed == nil {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
