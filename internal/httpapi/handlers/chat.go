package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/chat"
	"github.com/suPer8Hu/chatkeep/internal/common"
	"github.com/suPer8Hu/chatkeep/internal/httpapi/middleware"
)

type saveChatReq struct {
	ChatID   string       `json:"chatId"`
	ChatData chat.Payload `json:"chatData"`
}

func (h *Handler) SaveChat(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	var req saveChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Chats.SaveChat(c.Request.Context(), owner, req.ChatID, req.ChatData); err != nil {
		h.chatFail(c, err)
		return
	}
	common.OK(c, gin.H{"success": true})
}

// GetChats returns the chats keyed by id plus their recency order, since a
// JSON object does not keep one.
func (h *Handler) GetChats(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	views, err := h.Chats.ListUserChats(c.Request.Context(), owner)
	if err != nil {
		h.chatFail(c, err)
		return
	}
	chats := make(map[string]chat.View, len(views))
	order := make([]string, 0, len(views))
	for _, v := range views {
		chats[v.ID] = v
		order = append(order, v.ID)
	}
	common.OK(c, gin.H{"chats": chats, "order": order})
}

type deleteChatReq struct {
	ChatID string `json:"chatId"`
}

func (h *Handler) DeleteChat(c *gin.Context) {
	owner, ok := middleware.Owner(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
		return
	}
	var req deleteChatReq
	// an empty body falls through to the missing id error
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.ChatID == "" {
		common.Fail(c, http.StatusBadRequest, 10003, "No chat ID provided")
		return
	}
	if err := h.Chats.DeleteChat(c.Request.Context(), owner, req.ChatID); err != nil {
		h.chatFail(c, err)
		return
	}
	common.OK(c, gin.H{"success": true})
}

func (h *Handler) chatFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidChat):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, chat.ErrConnectivity):
		common.Fail(c, http.StatusServiceUnavailable, 50302, "chat storage unavailable")
	case errors.Is(err, chat.ErrConstraint):
		common.Fail(c, http.StatusConflict, 40901, "chat write conflicted, retry")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
