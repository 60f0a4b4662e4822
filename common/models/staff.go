package models

import (
	"time"
)

// DoctorStatus is the availability of a room/doctor
type DoctorStatus string

const (
	DoctorAvailable DoctorStatus = "available"
	DoctorBusy      DoctorStatus = "busy"
	DoctorBreak     DoctorStatus = "break"
)

func (s DoctorStatus) Valid() bool {
	return s == DoctorAvailable || s == DoctorBusy || s == DoctorBreak
}

// Doctor is a named room resource. Informational only.
// Maps to: doctors table
type Doctor struct {
	ID             int64        `db:"id" json:"id"`
	Name           string       `db:"name" json:"name"`
	Room           string       `db:"room" json:"room"`
	Status         DoctorStatus `db:"status" json:"status"`
	CurrentPatient *int64       `db:"current_patient" json:"current_patient"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// Session of an outpatient day
type Session string

const (
	SessionMorning   Session = "morning"
	SessionAfternoon Session = "afternoon"
)

// Weekdays covered by the outpatient schedule, in display order
var Weekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat"}

// ScheduleSlot maps day x session x position to a staff name
// Maps to: schedule_slots table
type ScheduleSlot struct {
	DayOfWeek string  `db:"day_of_week" json:"day_of_week"`
	Session   Session `db:"session" json:"session"`
	Position  int     `db:"position" json:"position"`
	StaffName string  `db:"staff_name" json:"staff_name"`
}

// Schedule is the API shape of the slot table: day -> session -> names by position
type Schedule map[string]map[Session][]string

// ScheduleFromSlots folds slots into the nested shape
func ScheduleFromSlots(slots []ScheduleSlot) Schedule {
	s := Schedule{}
	for _, slot := range slots {
		day, ok := s[slot.DayOfWeek]
		if !ok {
			day = map[Session][]string{}
			s[slot.DayOfWeek] = day
		}
		names := day[slot.Session]
		for len(names) <= slot.Position {
			names = append(names, "")
		}
		names[slot.Position] = slot.StaffName
		day[slot.Session] = names
	}
	return s
}

// Slots flattens the schedule. Blank names are skipped.
func (s Schedule) Slots() []ScheduleSlot {
	var out []ScheduleSlot
	for day, sessions := range s {
		for session, names := range sessions {
			for pos, name := range names {
				if name == "" {
					continue
				}
				out = append(out, ScheduleSlot{DayOfWeek: day, Session: session, Position: pos, StaffName: name})
			}
		}
	}
	return out
}

// DutyAssignment is one staff member on duty for a date
// Maps to: duty_assignments table
type DutyAssignment struct {
	Role      string `db:"role" json:"role"`
	Position  int    `db:"position" json:"position"`
	StaffName string `db:"staff_name" json:"staff_name"`
}

// DutyRoster is every assignment for one date
type DutyRoster struct {
	Date        string           `json:"date"`
	Assignments []DutyAssignment `json:"assignments"`
}
