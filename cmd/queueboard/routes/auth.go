package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/handlers"
	"github.com/lyzr/queueboard/cmd/queueboard/middleware"
)

func requireToken(c *container.Container) echo.MiddlewareFunc {
	return middleware.RequireToken(c.Auth, c.Components.Config.Auth.Enabled)
}

// RegisterAuthRoutes registers login and the display socket
func RegisterAuthRoutes(e *echo.Echo, c *container.Container) {
	auth := handlers.NewAuthHandler(c)
	limits := c.Components.Config.RateLimit
	loginLimit := middleware.RateLimit(c.Limiter, middleware.ByRealIP("login:"),
		limits.LoginLimit, limits.LoginWindow, c.Components.Logger)

	e.POST("/api/login", auth.Login, loginLimit)  // POST /api/login
	e.POST("/api/verify-token", auth.VerifyToken) // POST /api/verify-token

	ws := handlers.NewSocketHandler(c)
	e.GET("/ws", ws.Serve, requireToken(c)) // GET /ws?token=...&date=2026-03-02
}
