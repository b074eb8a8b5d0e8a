package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/chatkeep/internal/common"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestLogger(h.Log))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(h.Cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/models", h.Models)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret, h.Revoker))
	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/me", h.Me)

	// chat persistence (JWT required)
	authGroup.POST("/save_chat", h.SaveChat)
	authGroup.GET("/get_chats", h.GetChats)
	authGroup.POST("/delete_chat", h.DeleteChat)

	// completions
	authGroup.POST("/send_message", h.SendMessage)
	authGroup.POST("/send_message/async", h.SendMessageAsync)
	authGroup.GET("/jobs/:job_id", h.GetJob)
	return r
}
