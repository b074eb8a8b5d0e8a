package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/common"
	"github.com/suPer8Hu/chatkeep/internal/logger"
)

func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if log != nil {
					log.Error("panic recovered",
						"panic", r,
						"path", c.Request.URL.Path,
						"request_id", c.GetString(RequestIDKey),
						"stack", string(debug.Stack()),
					)
				}
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}
