package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/handlers"
)

// RegisterPatientRoutes registers the queue mutation API
func RegisterPatientRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewPatientHandler(c)

	api := e.Group("/api", requireToken(c))
	{
		api.GET("/patients", h.ListPatients)              // GET /api/patients?date=2026-03-02
		api.POST("/patients", h.CreatePatient)            // POST /api/patients
		api.PATCH("/patients/:id/status", h.UpdateStatus) // PATCH /api/patients/7/status
		api.PATCH("/patients/:id/field", h.UpdateField)   // PATCH /api/patients/7/field
		api.DELETE("/patients/:id", h.DeletePatient)      // DELETE /api/patients/7
		api.POST("/rooms/:room/reorder", h.Reorder)       // POST /api/rooms/CT/reorder
		api.GET("/stats", h.Stats)                        // GET /api/stats?date=2026-03-02
	}
}
