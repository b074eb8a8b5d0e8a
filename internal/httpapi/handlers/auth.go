package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/auth"
	"github.com/suPer8Hu/chatkeep/internal/common"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/middleware"
	"github.com/suPer8Hu/chatkeep/internal/metrics"
)

const loginScope = "login"

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "username and password required")
		return
	}

	ctx := c.Request.Context()
	if h.Limiter != nil {
		allowed, err := h.Limiter.Allow(ctx, loginScope, username, h.Cfg.LoginMaxAttempts, h.Cfg.LoginWindow)
		if err != nil {
			h.Log.Warn("login limiter unavailable", "username", username, "err", err)
		} else if !allowed {
			metrics.LoginAttempts.WithLabelValues("throttled").Inc()
			common.Fail(c, http.StatusTooManyRequests, 42901, "too many login attempts")
			return
		}
	}

	user, err := h.Creds.Authenticate(username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.Log.Error("authenticate failed", "username", username, "err", err)
		}
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		common.Fail(c, http.StatusUnauthorized, 40100, "Invalid credentials")
		return
	}

	token, claims, err := auth.SignJWT(user, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		h.Log.Error("sign token failed", "username", username, "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to sign token")
		return
	}
	if h.Limiter != nil {
		_ = h.Limiter.Reset(ctx, loginScope, username)
	}
	metrics.LoginAttempts.WithLabelValues("ok").Inc()

	common.OK(c, gin.H{
		"token":      token,
		"expires_at": claims.ExpiresAt.Time,
		"username":   user.Username,
		"name":       user.Name,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	if h.Revoker != nil && claims.ID != "" {
		until := time.Now().Add(h.Cfg.JWTTTL)
		if claims.ExpiresAt != nil {
			until = claims.ExpiresAt.Time
		}
		if err := h.Revoker.Revoke(c.Request.Context(), claims.ID, until); err != nil {
			h.Log.Error("revoke token failed", "owner", claims.Subject, "err", err)
			common.Fail(c, http.StatusServiceUnavailable, 50301, "session store unavailable")
			return
		}
	}
	common.OK(c, gin.H{"success": true})
}

func (h *Handler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	common.OK(c, gin.H{"username": claims.Subject, "name": claims.Name})
}
