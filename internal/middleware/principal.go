package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "s3keeper.principal"

// Principal reads the authenticated user id from header, set by the
// authenticating proxy in front of the service. Requests without it get 401.
func Principal(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(header))
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "authentication required"})
			return
		}
		c.Set(principalKey, user)
		c.Next()
	}
}

// User returns the principal stored by Principal, or "".
func User(c *gin.Context) string {
	return c.GetString(principalKey)
}

// Admin lets through only principals listed in users. Others get 403.
// It must run after Principal.
func Admin(users []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(users))
	for _, u := range users {
		allowed[u] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[User(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "administrator access required"})
			return
		}
		c.Next()
	}
}
