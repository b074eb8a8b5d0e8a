package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/common"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID keeps a client supplied id (up to 64 bytes) or mints a ULID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" || len(rid) > 64 {
			if id, err := common.NewULID(); err == nil {
				rid = id
			}
		}
		c.Set(RequestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}
