package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"wa-relay/internal/session"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type sendMessageRequest struct {
	UserID  string `json:"userId"`
	Number  string `json:"number"`
	Message string `json:"message"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request body",
		})
		return
	}

	if req.UserID == "" || req.Number == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "userId, number and message are required",
		})
		return
	}

	res, err := h.relay.Send(c.Request.Context(), req.UserID, req.Number, req.Message)
	if err != nil {
		h.fail(c, err, "failed to send message")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Message sent",
		"id":      res.ID,
	})
}

type historyEntry struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"messageId"`
	SentAt    string `json:"sentAt"`
}

func (h *Handler) messages(c *gin.Context) {
	userID := c.Param("userId")

	// Reuse the controller's id validation.
	if _, err := h.relay.Status(userID); err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, session.ErrValidation, "")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := h.history.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			Recipient: e.Recipient,
			MessageID: e.MessageID,
			SentAt:    e.SentAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"messages": out,
	})
}
