package service

import (
	"context"
	"fmt"

	"github.com/lyzr/queueboard/cmd/queueboard/repository"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/validation"
)

// StaffService handles rooms/doctors, the weekly schedule and duty rosters
type StaffService struct {
	store     repository.StaffStore
	pub       *Publisher
	validator *validation.Validator
	queue     *QueueService
	log       *logger.Logger
}

// NewStaffService creates a new staff service. Dates and timestamps follow queue's clock.
func NewStaffService(store repository.StaffStore, pub *Publisher, queue *QueueService, log *logger.Logger) *StaffService {
	return &StaffService{
		store:     store,
		pub:       pub,
		validator: validation.New(),
		queue:     queue,
		log:       log,
	}
}

// ListDoctors lists every room/doctor
func (s *StaffService) ListDoctors(ctx context.Context) ([]*models.Doctor, error) {
	doctors, err := s.store.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}

// UpdateDoctorStatus changes availability and the occupying patient
func (s *StaffService) UpdateDoctorStatus(ctx context.Context, id int64, status models.DoctorStatus, current *int64) (*models.Doctor, error) {
	if err := s.validator.ValidateDoctorStatus(status); err != nil {
		return nil, err
	}

	d, err := s.store.UpdateDoctorStatus(ctx, id, status, current, s.queue.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to update doctor: %w", err)
	}

	s.pub.Publish(ctx, models.EventDoctorUpdated, "", d)
	s.log.Info("updated doctor", "doctor_id", id, "room", d.Room, "status", status)
	return d, nil
}

// GetSchedule returns the weekly schedule in its nested shape
func (s *StaffService) GetSchedule(ctx context.Context) (models.Schedule, error) {
	slots, err := s.store.GetSchedule(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return models.ScheduleFromSlots(slots), nil
}

// ReplaceSchedule swaps the whole schedule
func (s *StaffService) ReplaceSchedule(ctx context.Context, schedule models.Schedule) (models.Schedule, error) {
	if err := s.validator.ValidateSchedule(schedule); err != nil {
		return nil, err
	}

	slots := schedule.Slots()
	if err := s.store.ReplaceSchedule(ctx, slots); err != nil {
		return nil, fmt.Errorf("failed to replace schedule: %w", err)
	}

	saved := models.ScheduleFromSlots(slots)
	s.pub.Publish(ctx, models.EventScheduleUpdated, "", saved)
	s.log.Info("replaced schedule", "slots", len(slots))
	return saved, nil
}

// GetDuty returns the roster of a date, today when blank
func (s *StaffService) GetDuty(ctx context.Context, date string) (*models.DutyRoster, error) {
	date, err := s.queue.NormalizeDate(date)
	if err != nil {
		return nil, err
	}

	assignments, err := s.store.GetDuty(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get duty: %w", err)
	}
	if assignments == nil {
		assignments = []models.DutyAssignment{}
	}
	return &models.DutyRoster{Date: date, Assignments: assignments}, nil
}

// ReplaceDuty swaps the roster of a date
func (s *StaffService) ReplaceDuty(ctx context.Context, date string, assignments []models.DutyAssignment) (*models.DutyRoster, error) {
	date, err := s.queue.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateDuty(assignments); err != nil {
		return nil, err
	}

	if err := s.store.ReplaceDuty(ctx, date, assignments); err != nil {
		return nil, fmt.Errorf("failed to replace duty: %w", err)
	}

	roster := &models.DutyRoster{Date: date, Assignments: assignments}
	if roster.Assignments == nil {
		roster.Assignments = []models.DutyAssignment{}
	}
	s.pub.Publish(ctx, models.EventDutyUpdated, date, roster)
	s.log.Info("replaced duty", "duty_date", date, "assignments", len(assignments))
	return roster, nil
}
