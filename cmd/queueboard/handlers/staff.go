package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

// StaffHandler serves doctors, the weekly schedule and duty rosters
type StaffHandler struct {
	staff *service.StaffService
	log   *logger.Logger
}

// NewStaffHandler creates a new staff handler
func NewStaffHandler(c *container.Container) *StaffHandler {
	return &StaffHandler{
		staff: c.Staff,
		log:   c.Components.Logger,
	}
}

// ListDoctors
// GET /api/doctors
func (h *StaffHandler) ListDoctors(c echo.Context) error {
	doctors, err := h.staff.ListDoctors(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	if doctors == nil {
		doctors = []*models.Doctor{}
	}
	return c.JSON(http.StatusOK, doctors)
}

// UpdateDoctorStatus
// PATCH /api/doctors/:id/status
func (h *StaffHandler) UpdateDoctorStatus(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var req struct {
		Status         models.DoctorStatus `json:"status"`
		CurrentPatient *int64              `json:"current_patient"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	d, err := h.staff.UpdateDoctorStatus(c.Request().Context(), id, req.Status, req.CurrentPatient)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// GetSchedule
// GET /api/schedule
func (h *StaffHandler) GetSchedule(c echo.Context) error {
	schedule, err := h.staff.GetSchedule(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, schedule)
}

// ReplaceSchedule swaps the whole schedule
// PUT /api/schedule
func (h *StaffHandler) ReplaceSchedule(c echo.Context) error {
	var schedule models.Schedule
	if err := bind(c, &schedule); err != nil {
		return respondError(c, h.log, err)
	}

	saved, err := h.staff.ReplaceSchedule(c.Request().Context(), schedule)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, saved)
}

// GetDuty
// GET /api/duty?date=2026-03-02
func (h *StaffHandler) GetDuty(c echo.Context) error {
	roster, err := h.staff.GetDuty(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, roster)
}

// ReplaceDuty swaps the roster of a date
// PUT /api/duty?date=2026-03-02
func (h *StaffHandler) ReplaceDuty(c echo.Context) error {
	var req models.DutyRoster
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	date := c.QueryParam("date")
	if date == "" {
		date = req.Date
	}

	roster, err := h.staff.ReplaceDuty(c.Request().Context(), date, req.Assignments)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, roster)
}
