package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/ai"
	"github.com/suPer8Hu/chatkeep/internal/common"
	"github.com/suPer8Hu/chatkeep/internal/completion"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/middleware"
)

type sendMessageReq struct {
	Model    string       `json:"model"`
	Messages []ai.Message `json:"messages"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	if _, ok := middleware.Owner(c); !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	reply, err := h.Completion.Complete(c.Request.Context(), req.Model, req.Messages)
	if err != nil {
		h.completionFail(c, err)
		return
	}
	common.OK(c, gin.H{"response": reply})
}

func (h *Handler) SendMessageAsync(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	j, err := h.Completion.Enqueue(c.Request.Context(), owner, req.Model, req.Messages)
	if err != nil {
		h.completionFail(c, err)
		return
	}
	common.OK(c, gin.H{"job_id": j.ID, "status": j.Status})
}

func (h *Handler) GetJob(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	j, err := h.Completion.GetJob(c.Request.Context(), owner, c.Param("job_id"))
	if err != nil {
		h.completionFail(c, err)
		return
	}
	common.OK(c, gin.H{
		"job": gin.H{
			"id":         j.ID,
			"model":      j.Model,
			"status":     j.Status,
			"reply":      j.Reply,
			"error":      j.Error,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		},
	})
}

func (h *Handler) completionFail(c *gin.Context, err error) {
	var se *ai.StatusError
	switch {
	case errors.Is(err, completion.ErrInvalidRequest):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, completion.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
	case errors.Is(err, completion.ErrAsyncDisabled):
		common.Fail(c, http.StatusServiceUnavailable, 50303, "async completions are not enabled")
	case errors.As(err, &se):
		common.Fail(c, http.StatusBadGateway, 50201, se.Error())
	case errors.Is(err, context.DeadlineExceeded):
		common.Fail(c, http.StatusGatewayTimeout, 50401, "model provider timed out")
	default:
		h.Log.Error("completion failed", "request_id", c.GetString(middleware.RequestIDKey), "err", err)
		common.Fail(c, http.StatusBadGateway, 50202, "Error: "+err.Error())
	}
}
