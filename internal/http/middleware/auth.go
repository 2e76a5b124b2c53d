package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Extra-Chill/extrachill-users/internal/domain"
)

const accessClaimsKey = "accessClaims"

// AccessValidator checks a bearer token and returns its claims.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*domain.AccessClaims, error)
}

// Auth validates the Authorization header and attaches claims.
type Auth struct {
	Validator AccessValidator
}

// RequireBearer ensures the request carries a valid bearer token.
func (m *Auth) RequireBearer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	claims, err := m.Validator.ValidateAccess(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	c.Set(accessClaimsKey, claims)
	c.Next()
}

// GetAccessClaims exposes validated claims to handlers.
func GetAccessClaims(c *gin.Context) (*domain.AccessClaims, bool) {
	value, ok := c.Get(accessClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*domain.AccessClaims)
	return claims, ok
}
