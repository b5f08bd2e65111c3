package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-results-api/internal/models"
)

// AuditSource stores the caller address and user agent on the request context
// so workflow audit rows can record where a transition came from.
func AuditSource() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := models.WithAuditSource(c.Request.Context(), models.AuditSource{
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
