package repository

import (
	"context"
	"time"

	"github.com/lyzr/queueboard/common/models"
)

// PatientStore is the durable record of every queue entry.
// Implementations keep display_order dense per (room, queue_date).
type PatientStore interface {
	// CreatePatient inserts p at the end of its room. When p carries a client
	// token that was already committed, the existing row is returned with created=false.
	CreatePatient(ctx context.Context, p *models.Patient) (created *models.Patient, isNew bool, err error)
	GetPatient(ctx context.Context, id int64) (*models.Patient, error)
	ListPatients(ctx context.Context, date string) ([]*models.Patient, error)
	ListInProcedure(ctx context.Context) ([]*models.Patient, error)
	UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string, start *time.Time, now time.Time) (*models.Patient, error)
	UpdateField(ctx context.Context, id int64, field models.PatientField, value string, now time.Time) (*models.Patient, error)
	DeletePatient(ctx context.Context, id int64, now time.Time) (*models.Patient, error)
	Reorder(ctx context.Context, room, date string, ids []int64, now time.Time) error

	// SetElapsed writes elapsed minutes only if the row is still in the
	// procedure that started at start. Returns false when the row moved on.
	SetElapsed(ctx context.Context, id int64, start time.Time, minutes int, now time.Time) (bool, error)
	Stats(ctx context.Context, date string, now time.Time) (*models.Stats, error)
}

// StaffStore holds rooms/doctors, the outpatient schedule and duty rosters
type StaffStore interface {
	ListDoctors(ctx context.Context) ([]*models.Doctor, error)
	UpdateDoctorStatus(ctx context.Context, id int64, status models.DoctorStatus, current *int64, now time.Time) (*models.Doctor, error)
	GetSchedule(ctx context.Context) ([]models.ScheduleSlot, error)
	ReplaceSchedule(ctx context.Context, slots []models.ScheduleSlot) error
	GetDuty(ctx context.Context, date string) ([]models.DutyAssignment, error)
	ReplaceDuty(ctx context.Context, date string, assignments []models.DutyAssignment) error
}

// Store is everything the queue server persists
type Store interface {
	PatientStore
	StaffStore

	// Dump reads every table for a backup
	Dump(ctx context.Context) (*Backup, error)
}

// Backup is a full copy of the store
type Backup struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Patients    []*models.Patient     `json:"patients"`
	Doctors     []*models.Doctor      `json:"doctors"`
	Schedule    []models.ScheduleSlot `json:"schedule"`
	Duty        []models.DutyRoster   `json:"duty"`
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
