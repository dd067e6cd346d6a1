package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openroster/roster-api/internal/models"
	"github.com/openroster/roster-api/internal/token"
	appErrors "github.com/openroster/roster-api/pkg/errors"
	"github.com/openroster/roster-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated principal.
const ContextUserKey = "currentUser"

// Auth protects routes by requiring a valid access token. The verified claims
// become the request principal; nothing from the request body is ever trusted
// for identity.
func Auth(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := codec.ParseAccessToken(raw)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// Principal returns the authenticated claims attached by Auth.
func Principal(c *gin.Context) (*models.AccessClaims, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*models.AccessClaims)
	return claims, ok
}

// BearerToken extracts the token from the Authorization header, or returns
// an empty string.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
