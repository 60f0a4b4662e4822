package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/broadcast"
	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/middleware"
	"github.com/lyzr/queueboard/common/logger"
)

// SocketHandler upgrades display connections onto the broadcast hub
type SocketHandler struct {
	hub *broadcast.Hub
	log *logger.Logger
}

// NewSocketHandler creates a new socket handler
func NewSocketHandler(c *container.Container) *SocketHandler {
	return &SocketHandler{
		hub: c.Hub,
		log: c.Components.Logger,
	}
}

// Serve blocks for the lifetime of the connection
// GET /ws?date=2026-03-02&token=...
func (h *SocketHandler) Serve(c echo.Context) error {
	err := h.hub.ServeWS(c.Response(), c.Request(), middleware.GetUsername(c))
	if err != nil {
		// the upgrader has already written the response
		h.log.Warn("websocket upgrade rejected", "remote_addr", c.RealIP(), "error", err)
	}
	return nil
}
