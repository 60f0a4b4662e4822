package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/handlers"
)

// RegisterAdminRoutes registers operator routes
func RegisterAdminRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAdminHandler(c)

	admin := e.Group("/api/admin", requireToken(c))
	{
		admin.GET("/clients", h.Clients)            // GET /api/admin/clients
		admin.GET("/server-status", h.ServerStatus) // GET /api/admin/server-status
		admin.GET("/backup", h.Backup)              // GET /api/admin/backup
	}
}
