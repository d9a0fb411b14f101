package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// WebhookTokenMiddleware 校验外部服务回调携带的共享密钥。
func WebhookTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(token) == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook token is not configured"})
			c.Abort()
			return
		}
		// 回调方必须通过 Header 传递密钥，避免 query 泄露到日志。
		got := strings.TrimSpace(c.GetHeader("Authorization"))
		got = strings.TrimPrefix(got, "Bearer ")
		if got == "" || got != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}
