package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenPadCore/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	ContextUsername    = "username"
	ContextPermissions = "permissions"
)

// AuthMiddleware requires a valid "Bearer <token>" header.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "missing authorization header", nil))
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid authorization header format", nil))
			return
		}

		claims, perms, err := a.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_401", "invalid or expired token", nil))
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Set(ContextPermissions, perms)
		c.Next()
	}
}

// RequirePermission aborts with 403 unless the authenticated caller holds required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, ok := c.Get(ContextPermissions)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_403", "no permissions found", nil))
			return
		}
		if list, _ := perms.([]Permission); !slices.Contains(list, required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_403", "insufficient permissions", gin.H{"required": required}))
			return
		}
		c.Next()
	}
}
