package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SharedSecretMiddleware 要求请求头 header 携带与 secret 相同的值，用于第三方回调。
// 密钥只能放在 Header，避免出现在 URL 与访问日志中。
func SharedSecretMiddleware(header, secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook secret is not configured"})
			return
		}
		token := strings.TrimSpace(c.GetHeader(header))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
