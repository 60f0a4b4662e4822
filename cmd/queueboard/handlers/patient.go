package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/container"
	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

// PatientHandler serves the patient mutation API
type PatientHandler struct {
	queue *service.QueueService
	log   *logger.Logger
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(c *container.Container) *PatientHandler {
	return &PatientHandler{
		queue: c.Queue,
		log:   c.Components.Logger,
	}
}

// ListPatients returns the queue of a date
// GET /api/patients?date=2026-03-02
func (h *PatientHandler) ListPatients(c echo.Context) error {
	ctx := c.Request().Context()

	date, err := h.queue.NormalizeDate(c.QueryParam("date"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	patients, err := h.queue.ListPatients(ctx, date)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if patients == nil {
		patients = []*models.Patient{}
	}

	return c.JSON(http.StatusOK, models.PatientsSnapshot{QueueDate: date, Patients: patients})
}

// CreatePatient adds a patient to the end of its room
// POST /api/patients
func (h *PatientHandler) CreatePatient(c echo.Context) error {
	var draft models.PatientDraft
	if err := bind(c, &draft); err != nil {
		return respondError(c, h.log, err)
	}

	p, err := h.queue.CreatePatient(c.Request().Context(), &draft)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// UpdateStatus moves a patient between waiting, procedure and completed
// PATCH /api/patients/:id/status
func (h *PatientHandler) UpdateStatus(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var req struct {
		Status    models.PatientStatus `json:"status"`
		Procedure string               `json:"procedure"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	p, err := h.queue.UpdateStatus(c.Request().Context(), id, req.Status, req.Procedure)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// UpdateField changes one column
// PATCH /api/patients/:id/field
func (h *PatientHandler) UpdateField(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var req struct {
		Field models.PatientField `json:"field"`
		Value string              `json:"value"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	p, err := h.queue.UpdateField(c.Request().Context(), id, req.Field, req.Value)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// DeletePatient removes a patient and compacts the room
// DELETE /api/patients/:id
func (h *PatientHandler) DeletePatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	if err := h.queue.DeletePatient(c.Request().Context(), id); err != nil {
		return respondError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Reorder sets the order of a room
// POST /api/rooms/:room/reorder
func (h *PatientHandler) Reorder(c echo.Context) error {
	var req struct {
		QueueDate string  `json:"queue_date"`
		IDs       []int64 `json:"ids"`
	}
	if err := bind(c, &req); err != nil {
		return respondError(c, h.log, err)
	}

	if err := h.queue.Reorder(c.Request().Context(), c.Param("room"), req.QueueDate, req.IDs); err != nil {
		return respondError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Stats returns the counts of a date
// GET /api/stats?date=2026-03-02
func (h *PatientHandler) Stats(c echo.Context) error {
	stats, err := h.queue.Stats(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, stats)
}
