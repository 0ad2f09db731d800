package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wa-relay/internal/logger"
	"wa-relay/internal/messagelog"
	"wa-relay/internal/session"
)

// Relay is the session controller as seen by the HTTP layer.
type Relay interface {
	Login(ctx context.Context, userID string, reset bool) (session.Snapshot, error)
	Status(userID string) (session.Snapshot, error)
	Send(ctx context.Context, userID, number, text string) (session.SendResult, error)
	Logout(ctx context.Context, userID string) error
	Reset(ctx context.Context, userID string) error
	Health() session.Health
}

// History lists relayed messages. Optional.
type History interface {
	Recent(ctx context.Context, userID string, limit int) ([]messagelog.Entry, error)
}

type Handler struct {
	relay   Relay
	history History
}

func NewHandler(relay Relay, history History) *Handler {
	return &Handler{
		relay:   relay,
		history: history,
	}
}

// RegisterRoutes mounts the session API. Health is mounted separately so
// it can stay outside authentication.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/login/:userId", h.login)
	r.GET("/status/:userId", h.status)
	r.POST("/send-message", h.sendMessage)
	r.POST("/logout/:userId", h.logout)
	r.POST("/reset/:userId", h.reset)

	if h.history != nil {
		r.GET("/messages/:userId", h.messages)
	}
}

// errorStatus maps controller errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error, public string) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logger.Error(public, map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}

	msg := public
	if code < http.StatusInternalServerError {
		msg = clientMessage(err)
	}

	c.JSON(code, gin.H{
		"success": false,
		"error":   msg,
	})
}

// clientMessage names the error class without leaking internals.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrValidation):
		return session.ErrValidation.Error()
	case errors.Is(err, session.ErrNotConnected):
		return session.ErrNotConnected.Error()
	case errors.Is(err, session.ErrRateLimited):
		return session.ErrRateLimited.Error()
	default:
		return "request failed"
	}
}
