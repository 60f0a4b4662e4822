package models

import (
	"time"
)

// PatientStatus is the queue state of a patient
type PatientStatus string

const (
	StatusWaiting   PatientStatus = "waiting"
	StatusProcedure PatientStatus = "procedure"
	StatusCompleted PatientStatus = "completed"
)

// Valid reports whether s is one of the known statuses
func (s PatientStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusProcedure, StatusCompleted:
		return true
	}
	return false
}

// Patient is one entry of a room queue on a queue date
// Maps to: patients table
type Patient struct {
	// Server-assigned id. Optimistic client entries use negative ids.
	ID int64 `db:"id" json:"id"`

	// Facility registration code, unique per queue date
	RegistrationCode string `db:"registration_code" json:"registration_code"`

	Name string `db:"name" json:"name"`
	Room string `db:"room" json:"room"`

	// Optional labels
	Procedure   string `db:"procedure" json:"procedure"`
	Staff       string `db:"staff" json:"staff"`
	Note        string `db:"note" json:"note"`
	Demographic string `db:"demographic" json:"demographic"`
	Ward        string `db:"ward" json:"ward"`

	Status       PatientStatus `db:"status" json:"status"`
	Priority     int           `db:"priority" json:"priority"`
	DisplayOrder int           `db:"display_order" json:"display_order"`

	// Set only while Status is procedure. Stored as a UTC instant.
	ProcedureStartTime *time.Time `db:"procedure_start_time" json:"procedure_start_time"`
	ElapsedMinutes     int        `db:"elapsed_minutes" json:"elapsed_minutes"`

	// Logical partition, YYYY-MM-DD
	QueueDate string `db:"queue_date" json:"queue_date"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Client-visible creation instant, used for "recently added" hints
	AddedAt time.Time `db:"added_at" json:"added_at"`

	// Idempotency token supplied by the creating client
	ClientToken string `db:"client_token" json:"client_token,omitempty"`
}

// IsTemporary reports whether the entry is an unconfirmed optimistic create
func (p *Patient) IsTemporary() bool {
	return p.ID < 0
}

// RefreshElapsed recomputes ElapsedMinutes against now.
// Both instants are absolute, so the zone of now is irrelevant.
func (p *Patient) RefreshElapsed(now time.Time) {
	p.ElapsedMinutes = ElapsedMinutes(p.ProcedureStartTime, now)
}

// ElapsedMinutes returns floor((now - start) / 1m), or 0 when start is nil or in the future
func ElapsedMinutes(start *time.Time, now time.Time) int {
	if start == nil {
		return 0
	}
	d := now.Sub(*start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Clone returns a deep copy
func (p *Patient) Clone() *Patient {
	cp := *p
	if p.ProcedureStartTime != nil {
		t := *p.ProcedureStartTime
		cp.ProcedureStartTime = &t
	}
	return &cp
}

// PatientDraft is the input of a create mutation
type PatientDraft struct {
	RegistrationCode string     `json:"registration_code"`
	Name             string     `json:"name"`
	Room             string     `json:"room"`
	Procedure        string     `json:"procedure,omitempty"`
	Staff            string     `json:"staff,omitempty"`
	Note             string     `json:"note,omitempty"`
	Demographic      string     `json:"demographic,omitempty"`
	Ward             string     `json:"ward,omitempty"`
	Priority         int        `json:"priority,omitempty"`
	QueueDate        string     `json:"queue_date,omitempty"`
	AddedAt          *time.Time `json:"added_at,omitempty"`
	ClientToken      string     `json:"client_token,omitempty"`
}

// PatientField names a column that update-field may change
type PatientField string

const (
	FieldName             PatientField = "name"
	FieldRegistrationCode PatientField = "registration_code"
	FieldRoom             PatientField = "room"
	FieldProcedure        PatientField = "procedure"
	FieldStaff            PatientField = "staff"
	FieldNote             PatientField = "note"
	FieldDemographic      PatientField = "demographic"
	FieldWard             PatientField = "ward"
	FieldQueueDate        PatientField = "queue_date"
	FieldPriority         PatientField = "priority"
)

// Valid reports whether f may be changed through update-field
func (f PatientField) Valid() bool {
	switch f {
	case FieldName, FieldRegistrationCode, FieldRoom, FieldProcedure, FieldStaff,
		FieldNote, FieldDemographic, FieldWard, FieldQueueDate, FieldPriority:
		return true
	}
	return false
}

// Required reports whether the field may not be blank
func (f PatientField) Required() bool {
	return f == FieldName || f == FieldRegistrationCode || f == FieldRoom || f == FieldQueueDate
}

// Stats are the aggregate counts for one queue date
type Stats struct {
	QueueDate      string    `json:"queue_date"`
	Total          int       `json:"total"`
	Waiting        int       `json:"waiting"`
	InProcedure    int       `json:"in_procedure"`
	CompletedToday int       `json:"completed_today"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ComputeStats aggregates the given patients for date
func ComputeStats(date string, patients []*Patient, now time.Time) *Stats {
	s := &Stats{QueueDate: date, UpdatedAt: now}
	for _, p := range patients {
		if p.QueueDate != date {
			continue
		}
		s.Total++
		switch p.Status {
		case StatusWaiting:
			s.Waiting++
		case StatusProcedure:
			s.InProcedure++
		case StatusCompleted:
			s.CompletedToday++
		}
	}
	return s
}
