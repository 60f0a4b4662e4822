package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/handlers"
)

// RegisterStaffRoutes registers doctors, schedule and duty routes
func RegisterStaffRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewStaffHandler(c)

	api := e.Group("/api", requireToken(c))
	{
		api.GET("/doctors", h.ListDoctors)                     // GET /api/doctors
		api.PATCH("/doctors/:id/status", h.UpdateDoctorStatus) // PATCH /api/doctors/2/status
		api.GET("/schedule", h.GetSchedule)                    // GET /api/schedule
		api.PUT("/schedule", h.ReplaceSchedule)                // PUT /api/schedule
		api.GET("/duty", h.GetDuty)                            // GET /api/duty?date=2026-03-02
		api.PUT("/duty", h.ReplaceDuty)                        // PUT /api/duty?date=2026-03-02
	}
}
