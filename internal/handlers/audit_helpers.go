package handlers

import (
	"github.com/gin-gonic/gin"

	"collab-service/internal/observability"
)

const requestIDContextKey = "request_id"

// requestIDFromContext returns the request id, generating and caching one
// when the caller sent none.
func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}
	requestID := observability.RequestIDFromRequest(c.Request)
	c.Set(requestIDContextKey, requestID)
	return requestID
}
