package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyzr/queueboard/common/db"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/ordering"
)

const patientColumns = `
	id, registration_code, name, room, procedure, staff, note, demographic, ward,
	status, priority, display_order, procedure_start_time, elapsed_minutes,
	to_char(queue_date, 'YYYY-MM-DD'), created_at, updated_at, added_at,
	COALESCE(client_token, '')`

// simple text columns update-field may write directly
var textColumns = map[models.PatientField]string{
	models.FieldName:             "name",
	models.FieldRegistrationCode: "registration_code",
	models.FieldProcedure:        "procedure",
	models.FieldStaff:            "staff",
	models.FieldNote:             "note",
	models.FieldDemographic:      "demographic",
	models.FieldWard:             "ward",
}

// PatientRepository handles database operations for patients
type PatientRepository struct {
	db *db.DB
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *db.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func scanPatient(row pgx.Row) (*models.Patient, error) {
	p := &models.Patient{}
	var status string
	err := row.Scan(
		&p.ID,
		&p.RegistrationCode,
		&p.Name,
		&p.Room,
		&p.Procedure,
		&p.Staff,
		&p.Note,
		&p.Demographic,
		&p.Ward,
		&status,
		&p.Priority,
		&p.DisplayOrder,
		&p.ProcedureStartTime,
		&p.ElapsedMinutes,
		&p.QueueDate,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.AddedAt,
		&p.ClientToken,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.PatientStatus(status)
	return p, nil
}

func collectPatients(rows pgx.Rows) ([]*models.Patient, error) {
	defer rows.Close()

	out := make([]*models.Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patients: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockRooms serializes writers touching the same (room, date) sequences.
// Keys are locked in sorted order so two movers cannot deadlock.
func lockRooms(ctx context.Context, tx pgx.Tx, keys ...string) error {
	sort.Strings(keys)
	prev := ""
	for _, k := range keys {
		if k == prev {
			continue
		}
		prev = k
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return fmt.Errorf("failed to lock room sequence %s: %w", k, err)
		}
	}
	return nil
}

// errPlacementChanged means the row changed room or date between the
// unlocked read and taking the room locks
var errPlacementChanged = errors.New("patient placement changed")

const placementAttempts = 3

// readPlacement returns the room and date of patient id
func readPlacement(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (string, string, error) {
	query := `SELECT room, to_char(queue_date, 'YYYY-MM-DD') FROM patients WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var room, date string
	err := tx.QueryRow(ctx, query, id).Scan(&room, &date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read patient: %w", err)
	}
	return room, date, nil
}

// lockPlacement takes the sequence locks of the patient's room, plus any
// extra keys, before locking the row itself. Compaction and reorder take
// their row locks in the same order.
func lockPlacement(ctx context.Context, tx pgx.Tx, id int64, extra func(room, date string) []string) (string, string, error) {
	room, date, err := readPlacement(ctx, tx, id, false)
	if err != nil {
		return "", "", err
	}

	keys := []string{roomKey(room, date)}
	if extra != nil {
		keys = append(keys, extra(room, date)...)
	}
	if err := lockRooms(ctx, tx, keys...); err != nil {
		return "", "", err
	}

	lockedRoom, lockedDate, err := readPlacement(ctx, tx, id, true)
	if err != nil {
		return "", "", err
	}
	if lockedRoom != room || lockedDate != date {
		return "", "", errPlacementChanged
	}
	return room, date, nil
}

// retryPlacement runs fn in a fresh transaction until the patient stays put
// long enough to lock it
func (r *PatientRepository) retryPlacement(ctx context.Context, fn func(tx pgx.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := r.db.WithTx(ctx, fn)
		if !errors.Is(err, errPlacementChanged) {
			return err
		}
		if attempt == placementAttempts {
			return fmt.Errorf("failed to lock patient after %d attempts: %w", attempt, err)
		}
	}
}

func roomKey(room, date string) string {
	return date + "|" + room
}

// compactRoom renumbers (room, date) to 1..N in the current sequence
func compactRoom(ctx context.Context, tx pgx.Tx, room, date string, now time.Time) error {
	query := `
		UPDATE patients p
		SET display_order = r.rn, updated_at = $3
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY display_order, id) AS rn
			FROM patients
			WHERE room = $1 AND queue_date = $2::date
		) r
		WHERE p.id = r.id AND p.display_order <> r.rn
	`
	if _, err := tx.Exec(ctx, query, room, date, now); err != nil {
		return fmt.Errorf("failed to compact room %s on %s: %w", room, date, err)
	}
	return nil
}

func nextOrderExpr(roomParam, dateParam string) string {
	return fmt.Sprintf(`(SELECT COALESCE(MAX(display_order), 0) + 1 FROM patients WHERE room = %s AND queue_date = %s::date)`, roomParam, dateParam)
}

// CreatePatient inserts a patient at the end of its room
func (r *PatientRepository) CreatePatient(ctx context.Context, p *models.Patient) (*models.Patient, bool, error) {
	var created *models.Patient
	isNew := true

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockRooms(ctx, tx, roomKey(p.Room, p.QueueDate)); err != nil {
			return err
		}

		query := `
			INSERT INTO patients (
				registration_code, name, room, procedure, staff, note, demographic, ward,
				status, priority, display_order, procedure_start_time, elapsed_minutes,
				queue_date, created_at, updated_at, added_at, client_token
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, ` + nextOrderExpr("$3", "$11") + `,
				$12, 0, $11::date, $13, $13, $14, NULLIF($15, ''))
			ON CONFLICT (client_token) WHERE client_token IS NOT NULL DO NOTHING
			RETURNING ` + patientColumns

		row := tx.QueryRow(ctx, query,
			p.RegistrationCode,
			p.Name,
			p.Room,
			p.Procedure,
			p.Staff,
			p.Note,
			p.Demographic,
			p.Ward,
			string(p.Status),
			p.Priority,
			p.QueueDate,
			p.ProcedureStartTime,
			p.CreatedAt,
			p.AddedAt,
			p.ClientToken,
		)

		var err error
		created, err = scanPatient(row)
		if errors.Is(err, pgx.ErrNoRows) {
			// Token already committed; this is a retry
			isNew = false
			created, err = scanPatient(tx.QueryRow(ctx,
				`SELECT `+patientColumns+` FROM patients WHERE client_token = $1`, p.ClientToken))
		}
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s on %s", models.ErrDuplicateRegistration, p.RegistrationCode, p.QueueDate)
			}
			return fmt.Errorf("failed to create patient: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return created, isNew, nil
}

// GetPatient retrieves a patient by id
func (r *PatientRepository) GetPatient(ctx context.Context, id int64) (*models.Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return p, nil
}

// ListPatients lists every patient of a queue date
func (r *PatientRepository) ListPatients(ctx context.Context, date string) ([]*models.Patient, error) {
	query := `
		SELECT ` + patientColumns + `
		FROM patients
		WHERE queue_date = $1::date
		ORDER BY room, display_order, id
	`
	rows, err := r.db.Query(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return collectPatients(rows)
}

// ListInProcedure lists every patient currently in a procedure, on any date
func (r *PatientRepository) ListInProcedure(ctx context.Context) ([]*models.Patient, error) {
	query := `
		SELECT ` + patientColumns + `
		FROM patients
		WHERE status = 'procedure'
		ORDER BY queue_date, room, display_order, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active procedures: %w", err)
	}
	return collectPatients(rows)
}

// UpdateStatus writes status, the procedure label and the start time together
func (r *PatientRepository) UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string, start *time.Time, now time.Time) (*models.Patient, error) {
	query := `
		UPDATE patients
		SET status = $2, procedure = $3, procedure_start_time = $4,
		    elapsed_minutes = 0, updated_at = $5
		WHERE id = $1
		RETURNING ` + patientColumns

	p, err := scanPatient(r.db.QueryRow(ctx, query, id, string(status), procedure, start, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	return p, nil
}

// UpdateField writes one column. Room and date changes move the row to the
// end of its new room and compact the room it left.
func (r *PatientRepository) UpdateField(ctx context.Context, id int64, field models.PatientField, value string, now time.Time) (*models.Patient, error) {
	switch field {
	case models.FieldRoom, models.FieldQueueDate:
		return r.move(ctx, id, field, value, now)
	case models.FieldPriority:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: priority must be an integer", models.ErrValidation)
		}
		query := `UPDATE patients SET priority = $2, updated_at = $3 WHERE id = $1 RETURNING ` + patientColumns
		return r.updateOne(ctx, id, query, n, now)
	}

	column, ok := textColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", models.ErrValidation, field)
	}
	query := fmt.Sprintf(`UPDATE patients SET %s = $2, updated_at = $3 WHERE id = $1 RETURNING %s`, column, patientColumns)
	return r.updateOne(ctx, id, query, value, now)
}

func (r *PatientRepository) updateOne(ctx context.Context, id int64, query string, value any, now time.Time) (*models.Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, query, id, value, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: registration code %v", models.ErrDuplicateRegistration, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update patient: %w", err)
	}
	return p, nil
}

func (r *PatientRepository) move(ctx context.Context, id int64, field models.PatientField, value string, now time.Time) (*models.Patient, error) {
	var moved *models.Patient

	err := r.retryPlacement(ctx, func(tx pgx.Tx) error {
		target := func(room, date string) (string, string) {
			if field == models.FieldRoom {
				return value, date
			}
			return room, value
		}
		room, date, err := lockPlacement(ctx, tx, id, func(room, date string) []string {
			return []string{roomKey(target(room, date))}
		})
		if err != nil {
			return err
		}

		newRoom, newDate := target(room, date)
		if newRoom == room && newDate == date {
			moved, err = scanPatient(tx.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
			return err
		}

		query := `
			UPDATE patients
			SET room = $2, queue_date = $3::date, display_order = ` + nextOrderExpr("$2", "$3") + `,
			    updated_at = $4
			WHERE id = $1
			RETURNING ` + patientColumns

		moved, err = scanPatient(tx.QueryRow(ctx, query, id, newRoom, newDate, now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: registration code already used on %s", models.ErrDuplicateRegistration, newDate)
			}
			return fmt.Errorf("failed to move patient: %w", err)
		}

		return compactRoom(ctx, tx, room, date, now)
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// DeletePatient removes a patient and closes the gap in its room
func (r *PatientRepository) DeletePatient(ctx context.Context, id int64, now time.Time) (*models.Patient, error) {
	var deleted *models.Patient

	err := r.retryPlacement(ctx, func(tx pgx.Tx) error {
		room, date, err := lockPlacement(ctx, tx, id, nil)
		if err != nil {
			return err
		}

		deleted, err = scanPatient(tx.QueryRow(ctx, `DELETE FROM patients WHERE id = $1 RETURNING `+patientColumns, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to delete patient: %w", err)
		}

		return compactRoom(ctx, tx, room, date, now)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Reorder renumbers a whole room in one transaction. Listed ids come first.
func (r *PatientRepository) Reorder(ctx context.Context, room, date string, ids []int64, now time.Time) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockRooms(ctx, tx, roomKey(room, date)); err != nil {
			return err
		}

		var known int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE id = ANY($1)`, ids).Scan(&known); err != nil {
			return fmt.Errorf("failed to check patients: %w", err)
		}
		if known != len(uniqueIDs(ids)) {
			return fmt.Errorf("%w: one or more patients in the order do not exist", models.ErrNotFound)
		}

		rows, err := tx.Query(ctx, `
			SELECT id, display_order
			FROM patients
			WHERE room = $1 AND queue_date = $2::date
			ORDER BY display_order, id
		`, room, date)
		if err != nil {
			return fmt.Errorf("failed to read room: %w", err)
		}
		var members []*models.Patient
		for rows.Next() {
			p := &models.Patient{}
			if err := rows.Scan(&p.ID, &p.DisplayOrder); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan room member: %w", err)
			}
			members = append(members, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating room: %w", err)
		}

		full, err := ordering.Complete(ids, members)
		if err != nil {
			return err
		}

		assignments := ordering.Renumber(full)
		idList := make([]int64, len(assignments))
		orders := make([]int32, len(assignments))
		for i, a := range assignments {
			idList[i] = a.ID
			orders[i] = int32(a.DisplayOrder)
		}

		_, err = tx.Exec(ctx, `
			UPDATE patients p
			SET display_order = v.ord, updated_at = $3
			FROM unnest($1::bigint[], $2::int[]) AS v(id, ord)
			WHERE p.id = v.id AND p.display_order <> v.ord
		`, idList, orders, now)
		if err != nil {
			return fmt.Errorf("failed to renumber room %s: %w", room, err)
		}
		return nil
	})
}

func uniqueIDs(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// SetElapsed persists elapsed minutes for a still-running procedure
func (r *PatientRepository) SetElapsed(ctx context.Context, id int64, start time.Time, minutes int, now time.Time) (bool, error) {
	query := `
		UPDATE patients
		SET elapsed_minutes = $3,
		    updated_at = CASE WHEN elapsed_minutes <> $3 THEN $4 ELSE updated_at END
		WHERE id = $1 AND status = 'procedure' AND procedure_start_time = $2
	`
	tag, err := r.db.Exec(ctx, query, id, start, minutes, now)
	if err != nil {
		return false, fmt.Errorf("failed to set elapsed minutes: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Stats counts patients per status for a date
func (r *PatientRepository) Stats(ctx context.Context, date string, now time.Time) (*models.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'procedure'),
			COUNT(*) FILTER (WHERE status = 'completed')
		FROM patients
		WHERE queue_date = $1::date
	`
	s := &models.Stats{QueueDate: date, UpdatedAt: now}
	err := r.db.QueryRow(ctx, query, date).Scan(&s.Total, &s.Waiting, &s.InProcedure, &s.CompletedToday)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return s, nil
}
