package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/classpoll/backend/pkg/response"
)

const (
	// HeaderUserName carries the caller's display name, set by the upstream gateway.
	HeaderUserName = "X-User-Name"
	// HeaderUserRole carries the caller's role ("teacher" or "student").
	HeaderUserRole = "X-User-Role"

	// ContextUserName is the key for the caller's name in gin context.
	ContextUserName = "user_name"
	// ContextUserRole is the key for the caller's role in gin context.
	ContextUserRole = "user_role"
)

// Identity copies the pre-established caller identity from trusted headers into the context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name := strings.TrimSpace(c.GetHeader(HeaderUserName)); name != "" {
			c.Set(ContextUserName, name)
		}
		if role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))); role != "" {
			c.Set(ContextUserRole, role)
		}
		c.Next()
	}
}

// UserName returns the caller name set by Identity, or "".
func UserName(c *gin.Context) string {
	return c.GetString(ContextUserName)
}

// UserRole returns the caller role set by Identity, or "".
func UserRole(c *gin.Context) string {
	return c.GetString(ContextUserRole)
}

// RequireRole aborts requests whose caller role is not one of roles.
// A request with no role header at all is unauthenticated rather than forbidden.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(r)] = true
	}
	return func(c *gin.Context) {
		role := UserRole(c)
		switch {
		case role == "":
			response.Unauthorized(c, "missing "+HeaderUserRole+" header")
		case !allowed[role]:
			response.Forbidden(c, "role "+role+" may not do this")
		default:
			c.Next()
			return
		}
		c.Abort()
	}
}
