// auth.go guards the query and admin API with platform-issued bearer tokens.
// The verified subject is stored in the request context as the accessor
// identity; the read path records it in the meta-audit access log.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jcom-dev/zmanim-audit/internal/auth"
)

const (
	// AccessorKey is the gin.Context key holding the verified token subject.
	AccessorKey = "accessor_id"

	// ClaimsKey is the gin.Context key holding the full verified claims.
	ClaimsKey = "auth_claims"
)

// AuthMiddleware returns a Gin handler that requires a valid bearer token on
// every request it guards. On success the token's subject and claims are
// stored in the context; on failure the request is aborted with 401.
func AuthMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be a bearer token"})
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(AccessorKey, claims.Subject)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole returns a Gin handler that aborts with 403 unless the verified
// claims carry the named role. Must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ClaimsKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		claims, ok := v.(*auth.Claims)
		if !ok || !claims.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole returns a Gin handler that aborts with 403 unless the
// verified claims carry at least one of the named roles. Must run after
// AuthMiddleware.
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ClaimsKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		claims, ok := v.(*auth.Claims)
		if ok {
			for _, role := range roles {
				if claims.HasRole(role) {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

// Accessor returns the verified accessor identity, or the empty string when
// the request is unauthenticated.
func Accessor(c *gin.Context) string {
	return c.GetString(AccessorKey)
}
