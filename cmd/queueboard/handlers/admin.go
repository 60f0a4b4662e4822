package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/broadcast"
	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/common/logger"
)

// AdminHandler serves operator endpoints
type AdminHandler struct {
	admin *service.AdminService
	hub   *broadcast.Hub
	log   *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(c *container.Container) *AdminHandler {
	return &AdminHandler{
		admin: c.Admin,
		hub:   c.Hub,
		log:   c.Components.Logger,
	}
}

// Clients lists connected displays
// GET /api/admin/clients
func (h *AdminHandler) Clients(c echo.Context) error {
	clients := h.hub.Registry().Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   len(clients),
		"clients": clients,
	})
}

// ServerStatus reports uptime, connections and host info
// GET /api/admin/server-status
func (h *AdminHandler) ServerStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.admin.Status(c.Request().Context()))
}

// Backup downloads a JSON dump of every table
// GET /api/admin/backup
func (h *AdminHandler) Backup(c echo.Context) error {
	b, err := h.admin.Backup(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, err)
	}

	name := fmt.Sprintf("queueboard-backup-%s.json", b.GeneratedAt.Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.JSON(http.StatusOK, b)
}
