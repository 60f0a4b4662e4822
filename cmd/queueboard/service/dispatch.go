package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/queueboard/common/models"
)

// Dispatcher runs socket-originated admin actions against the services
type Dispatcher struct {
	queue *QueueService
	staff *StaffService
}

// NewDispatcher creates a dispatcher
func NewDispatcher(queue *QueueService, staff *StaffService) *Dispatcher {
	return &Dispatcher{queue: queue, staff: staff}
}

func decode(action *models.AdminAction, v any) error {
	if len(action.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", models.ErrValidation, action.Type)
	}
	if err := json.Unmarshal(action.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload", models.ErrValidation, action.Type)
	}
	return nil
}

// Dispatch runs one admin action
func (d *Dispatcher) Dispatch(ctx context.Context, action *models.AdminAction) error {
	if field, ok := action.Type.ShorthandField(); ok {
		var change models.FieldChange
		if err := decode(action, &change); err != nil {
			return err
		}
		_, err := d.queue.UpdateField(ctx, change.ID, field, change.Value)
		return err
	}

	switch action.Type {
	case models.ActionCreatePatient:
		var draft models.PatientDraft
		if err := decode(action, &draft); err != nil {
			return err
		}
		_, err := d.queue.CreatePatient(ctx, &draft)
		return err

	case models.ActionUpdatePatientStatus:
		var change models.StatusChange
		if err := decode(action, &change); err != nil {
			return err
		}
		_, err := d.queue.UpdateStatus(ctx, change.ID, change.Status, change.Procedure)
		return err

	case models.ActionUpdatePatientField:
		var change models.FieldChange
		if err := decode(action, &change); err != nil {
			return err
		}
		_, err := d.queue.UpdateField(ctx, change.ID, change.Field, change.Value)
		return err

	case models.ActionDeletePatient:
		var ref models.PatientRef
		if err := decode(action, &ref); err != nil {
			return err
		}
		return d.queue.DeletePatient(ctx, ref.ID)

	case models.ActionReorderPatients:
		var req models.ReorderRequest
		if err := decode(action, &req); err != nil {
			return err
		}
		return d.queue.Reorder(ctx, req.Room, req.QueueDate, req.IDs)

	case models.ActionUpdateSchedule:
		var schedule models.Schedule
		if err := decode(action, &schedule); err != nil {
			return err
		}
		_, err := d.staff.ReplaceSchedule(ctx, schedule)
		return err

	case models.ActionUpdateDuty:
		var roster models.DutyRoster
		if err := decode(action, &roster); err != nil {
			return err
		}
		_, err := d.staff.ReplaceDuty(ctx, roster.Date, roster.Assignments)
		return err

	case models.ActionUpdateDoctorStatus:
		var change models.DoctorStatusChange
		if err := decode(action, &change); err != nil {
			return err
		}
		_, err := d.staff.UpdateDoctorStatus(ctx, change.ID, change.Status, change.CurrentPatient)
		return err
	}

	return fmt.Errorf("%w: unknown action %q", models.ErrValidation, action.Type)
}

// Resync returns the full state a display needs for date: patients,
// stats, doctors, the weekly schedule and the duty roster
func (d *Dispatcher) Resync(ctx context.Context, date string) ([]models.Event, error) {
	date, err := d.queue.NormalizeDate(date)
	if err != nil {
		return nil, err
	}

	patients, err := d.queue.Snapshot(ctx, date)
	if err != nil {
		return nil, err
	}
	stats, err := d.queue.Stats(ctx, date)
	if err != nil {
		return nil, err
	}
	doctors, err := d.staff.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}
	schedule, err := d.staff.GetSchedule(ctx)
	if err != nil {
		return nil, err
	}
	duty, err := d.staff.GetDuty(ctx, date)
	if err != nil {
		return nil, err
	}

	parts := []struct {
		t    models.EventType
		date string
		data any
	}{
		{models.EventPatientsSnapshot, date, models.PatientsSnapshot{QueueDate: date, Patients: patients}},
		{models.EventStatsUpdated, date, stats},
		{models.EventDoctorsSnapshot, "", doctors},
		{models.EventScheduleUpdated, "", schedule},
		{models.EventDutyUpdated, date, duty},
	}

	events := make([]models.Event, 0, len(parts))
	for _, p := range parts {
		ev, err := models.NewEvent(p.t, p.date, p.data)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
