package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wa-relay/internal/session"
)

func (h *Handler) login(c *gin.Context) {
	userID := c.Param("userId")
	reset, _ := strconv.ParseBool(c.Query("reset"))

	snap, err := h.relay.Login(c.Request.Context(), userID, reset)
	if err != nil {
		h.fail(c, err, "failed to create session")
		return
	}

	// Login only distinguishes a usable session from one still coming up.
	status := session.StatusPending
	if snap.Status == session.StatusConnected {
		status = session.StatusConnected
	}

	body := gin.H{
		"success": true,
		"status":  status,
	}
	if snap.QR != "" {
		body["qr"] = snap.QR
	}
	if snap.LastError != nil {
		body["lastError"] = snap.LastError
	}

	c.JSON(http.StatusOK, body)
}

func (h *Handler) status(c *gin.Context) {
	snap, err := h.relay.Status(c.Param("userId"))
	if err != nil {
		h.fail(c, err, "failed to read status")
		return
	}

	body := gin.H{
		"success":    true,
		"status":     snap.Status,
		"state":      snap.State,
		"retryCount": snap.RetryCount,
	}
	if snap.QR != "" {
		body["qr"] = snap.QR
	}
	if snap.LastError != nil {
		body["lastError"] = snap.LastError
	}
	if snap.Account != "" {
		body["account"] = snap.Account
	}
	if !snap.UpdatedAt.IsZero() {
		body["updatedAt"] = snap.UpdatedAt
	}

	c.JSON(http.StatusOK, body)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.relay.Logout(c.Request.Context(), c.Param("userId")); err != nil {
		h.fail(c, err, "failed to log out")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out",
	})
}

func (h *Handler) reset(c *gin.Context) {
	if err := h.relay.Reset(c.Request.Context(), c.Param("userId")); err != nil {
		h.fail(c, err, "failed to reset session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Session reset",
	})
}

func (h *Handler) Health(c *gin.Context) {
	health := h.relay.Health()

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"status":         "ok",
		"activeSessions": health.ActiveSessions,
		"uptime":         int64(health.Uptime.Seconds()),
	})
}
