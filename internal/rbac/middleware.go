package rbac

import (
	"net/http"

	"dialer-platform/internal/auth"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Allows reports whether role may use a route open to allowed.
// admin is always allowed; unknown roles never are, even when listed.
func Allows(role string, allowed map[string]struct{}) bool {
	if IsAdmin(role) {
		return true
	}
	if !IsKnownRole(role) {
		return false
	}
	_, ok := allowed[role]
	return ok
}

// RequireAnyRole aborts with 401 when no role is present and 403 when the role is not allowed.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id := auth.Actor(c.Request.Context())
		if id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allows(id.Role, set) {
			logger.FromGin(c).Info("role denied", "user_id", id.UserID, "role", id.Role, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireAdmin guards runtime configuration changes.
func RequireAdmin() gin.HandlerFunc { return RequireAnyRole(RoleAdmin) }
