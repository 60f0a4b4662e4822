package validation

import (
	"fmt"
	"strings"

	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/queuedate"
)

// Limits on free text written by displays
const (
	MaxNameLength = 200
	MaxTextLength = 2000
)

// Validator checks mutation input before it reaches the store.
// Every error wraps models.ErrValidation.
type Validator struct{}

// New creates a validator
func New() *Validator {
	return &Validator{}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateDraft checks a create request. QueueDate may be blank (defaults to today).
func (v *Validator) ValidateDraft(d *models.PatientDraft) error {
	if d == nil {
		return invalid("patient is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return invalid("name is required")
	}
	if strings.TrimSpace(d.RegistrationCode) == "" {
		return invalid("registration_code is required")
	}
	if strings.TrimSpace(d.Room) == "" {
		return invalid("room is required")
	}
	if len(d.Name) > MaxNameLength {
		return invalid("name is longer than %d characters", MaxNameLength)
	}
	if len(d.Note) > MaxTextLength {
		return invalid("note is longer than %d characters", MaxTextLength)
	}
	if d.Priority < 0 {
		return invalid("priority cannot be negative")
	}
	if d.QueueDate != "" {
		if _, err := queuedate.Parse(d.QueueDate); err != nil {
			return err
		}
	}
	return nil
}

// ValidateField checks one update-field request
func (v *Validator) ValidateField(field models.PatientField, value string) error {
	if !field.Valid() {
		return invalid("unknown field %q", field)
	}
	if field.Required() && strings.TrimSpace(value) == "" {
		return invalid("%s cannot be blank", field)
	}
	switch field {
	case models.FieldQueueDate:
		if _, err := queuedate.Parse(value); err != nil {
			return err
		}
	case models.FieldName:
		if len(value) > MaxNameLength {
			return invalid("name is longer than %d characters", MaxNameLength)
		}
	default:
		if len(value) > MaxTextLength {
			return invalid("%s is longer than %d characters", field, MaxTextLength)
		}
	}
	return nil
}

// ValidateStatus checks a status transition request
func (v *Validator) ValidateStatus(status models.PatientStatus) error {
	if !status.Valid() {
		return invalid("unknown status %q", status)
	}
	return nil
}

// ValidateReorder checks the shape of a reorder request. Membership is
// checked by the store against the live room.
func (v *Validator) ValidateReorder(room string, ids []int64) error {
	if strings.TrimSpace(room) == "" {
		return invalid("room is required")
	}
	if len(ids) == 0 {
		return invalid("ids are required")
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return invalid("id %d is not a server id", id)
		}
		if seen[id] {
			return invalid("patient %d listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateSchedule checks days and sessions of a full schedule
func (v *Validator) ValidateSchedule(s models.Schedule) error {
	days := make(map[string]bool, len(models.Weekdays))
	for _, d := range models.Weekdays {
		days[d] = true
	}
	for day, sessions := range s {
		if !days[day] {
			return invalid("unknown day %q", day)
		}
		for session := range sessions {
			if session != models.SessionMorning && session != models.SessionAfternoon {
				return invalid("unknown session %q", session)
			}
		}
	}
	return nil
}

// ValidateDuty checks a duty roster
func (v *Validator) ValidateDuty(assignments []models.DutyAssignment) error {
	type slot struct {
		role string
		pos  int
	}
	seen := make(map[slot]bool, len(assignments))
	for _, a := range assignments {
		if strings.TrimSpace(a.Role) == "" {
			return invalid("duty role is required")
		}
		if a.Position < 0 {
			return invalid("duty position cannot be negative")
		}
		k := slot{a.Role, a.Position}
		if seen[k] {
			return invalid("duplicate duty slot %s/%d", a.Role, a.Position)
		}
		seen[k] = true
	}
	return nil
}

// ValidateDoctorStatus checks a room/doctor availability change
func (v *Validator) ValidateDoctorStatus(status models.DoctorStatus) error {
	if !status.Valid() {
		return invalid("unknown doctor status %q", status)
	}
	return nil
}
