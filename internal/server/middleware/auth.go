package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/bot-router/pkg/api"
)

// AdminAuth accepts a static admin key as a Bearer token or in X-Admin-Key.
// With no keys configured every admin request is rejected.
func AdminAuth(keys []string) gin.HandlerFunc {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(c *gin.Context) {
		presented := c.GetHeader("X-Admin-Key")
		if presented == "" {
			presented = bearer(c.GetHeader("Authorization"))
		}
		if presented == "" {
			_ = c.Error(api.UnauthorizedError("Missing admin key"))
			c.Abort()
			return
		}

		for _, k := range allowed {
			if subtle.ConstantTimeCompare(k, []byte(presented)) == 1 {
				c.Next()
				return
			}
		}

		_ = c.Error(api.UnauthorizedError("Invalid admin key"))
		c.Abort()
	}
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
