package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campverse/internal/attendance"
)

const markerKey = "marker"

// Authenticate enforces HS256 bearer tokens and stores the caller as an
// attendance.Marker on the context.
func Authenticate(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		marker, err := claims.Marker()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}
		c.Set(markerKey, marker)
		c.Next()
	}
}

// MarkerFrom returns the authenticated caller, if any.
func MarkerFrom(c *gin.Context) (attendance.Marker, bool) {
	v, ok := c.Get(markerKey)
	if !ok {
		return attendance.Marker{}, false
	}
	m, ok := v.(attendance.Marker)
	return m, ok
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...attendance.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, ok := MarkerFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		for _, r := range roles {
			if m.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed"})
	}
}
