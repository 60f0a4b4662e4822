package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyzr/queueboard/common/db"
	"github.com/lyzr/queueboard/common/models"
)

// StaffRepository handles doctors, schedule slots and duty rosters
type StaffRepository struct {
	db *db.DB
}

// NewStaffRepository creates a new staff repository
func NewStaffRepository(db *db.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

// ListDoctors lists every room/doctor ordered by room
func (r *StaffRepository) ListDoctors(ctx context.Context) ([]*models.Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, room, status, current_patient, updated_at
		FROM doctors
		ORDER BY room
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Doctor, 0)
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan doctor: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating doctors: %w", err)
	}
	return out, nil
}

func scanDoctor(row pgx.Row) (*models.Doctor, error) {
	d := &models.Doctor{}
	var status string
	if err := row.Scan(&d.ID, &d.Name, &d.Room, &status, &d.CurrentPatient, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = models.DoctorStatus(status)
	return d, nil
}

// UpdateDoctorStatus sets availability and the occupying patient
func (r *StaffRepository) UpdateDoctorStatus(ctx context.Context, id int64, status models.DoctorStatus, current *int64, now time.Time) (*models.Doctor, error) {
	query := `
		UPDATE doctors
		SET status = $2, current_patient = $3, updated_at = $4
		WHERE id = $1
		RETURNING id, name, room, status, current_patient, updated_at
	`
	d, err := scanDoctor(r.db.QueryRow(ctx, query, id, string(status), current, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: doctor %d", models.ErrNotFound, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return nil, fmt.Errorf("%w: current patient does not exist", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update doctor: %w", err)
	}
	return d, nil
}

// GetSchedule returns every schedule slot
func (r *StaffRepository) GetSchedule(ctx context.Context) ([]models.ScheduleSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day_of_week, session, position, staff_name
		FROM schedule_slots
		ORDER BY day_of_week, session, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduleSlot
	for rows.Next() {
		var s models.ScheduleSlot
		var session string
		if err := rows.Scan(&s.DayOfWeek, &session, &s.Position, &s.StaffName); err != nil {
			return nil, fmt.Errorf("failed to scan schedule slot: %w", err)
		}
		s.Session = models.Session(session)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule: %w", err)
	}
	return out, nil
}

// ReplaceSchedule swaps the whole schedule in one transaction
func (r *StaffRepository) ReplaceSchedule(ctx context.Context, slots []models.ScheduleSlot) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM schedule_slots`); err != nil {
			return fmt.Errorf("failed to clear schedule: %w", err)
		}

		if len(slots) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, s := range slots {
			batch.Queue(`
				INSERT INTO schedule_slots (day_of_week, session, position, staff_name)
				VALUES ($1, $2, $3, $4)
			`, s.DayOfWeek, string(s.Session), s.Position, s.StaffName)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
		return nil
	})
}

// GetDuty returns the roster of one date
func (r *StaffRepository) GetDuty(ctx context.Context, date string) ([]models.DutyAssignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT role, position, staff_name
		FROM duty_assignments
		WHERE duty_date = $1::date
		ORDER BY role, position
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get duty: %w", err)
	}
	defer rows.Close()

	var out []models.DutyAssignment
	for rows.Next() {
		var a models.DutyAssignment
		if err := rows.Scan(&a.Role, &a.Position, &a.StaffName); err != nil {
			return nil, fmt.Errorf("failed to scan duty assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating duty: %w", err)
	}
	return out, nil
}

// ReplaceDuty swaps the roster of one date in one transaction
func (r *StaffRepository) ReplaceDuty(ctx context.Context, date string, assignments []models.DutyAssignment) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM duty_assignments WHERE duty_date = $1::date`, date); err != nil {
			return fmt.Errorf("failed to clear duty: %w", err)
		}

		if len(assignments) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, a := range assignments {
			batch.Queue(`
				INSERT INTO duty_assignments (duty_date, role, position, staff_name)
				VALUES ($1::date, $2, $3, $4)
			`, date, a.Role, a.Position, a.StaffName)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: duplicate role/position in roster", models.ErrValidation)
			}
			return fmt.Errorf("failed to insert duty: %w", err)
		}
		return nil
	})
}

// PostgresStore combines the patient and staff repositories into a Store
type PostgresStore struct {
	*PatientRepository
	*StaffRepository
	db *db.DB
}

// NewPostgresStore creates a store backed by db
func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{
		PatientRepository: NewPatientRepository(db),
		StaffRepository:   NewStaffRepository(db),
		db:                db,
	}
}

// Dump reads every table inside one repeatable-read transaction
func (s *PostgresStore) Dump(ctx context.Context) (*Backup, error) {
	b := &Backup{GeneratedAt: time.Now().UTC()}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin backup transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY queue_date, room, display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump patients: %w", err)
	}
	if b.Patients, err = collectPatients(rows); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT id, name, room, status, current_patient, updated_at FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump doctors: %w", err)
	}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan doctor: %w", err)
		}
		b.Doctors = append(b.Doctors, d)
	}
	rows.Close()

	rows, err = tx.Query(ctx, `SELECT day_of_week, session, position, staff_name FROM schedule_slots ORDER BY day_of_week, session, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump schedule: %w", err)
	}
	for rows.Next() {
		var slot models.ScheduleSlot
		var session string
		if err := rows.Scan(&slot.DayOfWeek, &session, &slot.Position, &slot.StaffName); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan schedule slot: %w", err)
		}
		slot.Session = models.Session(session)
		b.Schedule = append(b.Schedule, slot)
	}
	rows.Close()

	rows, err = tx.Query(ctx, `
		SELECT to_char(duty_date, 'YYYY-MM-DD'), role, position, staff_name
		FROM duty_assignments
		ORDER BY duty_date, role, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump duty: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var date string
		var a models.DutyAssignment
		if err := rows.Scan(&date, &a.Role, &a.Position, &a.StaffName); err != nil {
			return nil, fmt.Errorf("failed to scan duty assignment: %w", err)
		}
		if n := len(b.Duty); n == 0 || b.Duty[n-1].Date != date {
			b.Duty = append(b.Duty, models.DutyRoster{Date: date})
		}
		b.Duty[len(b.Duty)-1].Assignments = append(b.Duty[len(b.Duty)-1].Assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating duty: %w", err)
	}

	return b, nil
}
