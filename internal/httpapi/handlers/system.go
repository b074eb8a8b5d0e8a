package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/common"
)

func (h *Handler) Models(c *gin.Context) {
	common.OK(c, gin.H{
		"models":  h.Cfg.AvailableModels,
		"default": h.Cfg.DefaultModel,
	})
}

// Health runs every registered check with a short deadline.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := make([]string, 0)
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			h.Log.Warn("health check failed", "check", name, "err", err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"code":    50300,
			"message": "degraded",
			"data":    gin.H{"status": "degraded", "failed": failed},
		})
		return
	}
	common.OK(c, gin.H{"status": "ok"})
}
