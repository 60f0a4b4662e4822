package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates broadcast events
type EventType string

const (
	EventPatientAdded       EventType = "patient_added"
	EventPatientUpdated     EventType = "patient_updated"
	EventPatientDeleted     EventType = "patient_deleted"
	EventPatientsSnapshot   EventType = "patients_snapshot"
	EventScheduleUpdated    EventType = "schedule_updated"
	EventDutyUpdated        EventType = "duty_updated"
	EventDoctorUpdated      EventType = "doctor_updated"
	EventDoctorsSnapshot    EventType = "doctors_snapshot"
	EventStatsUpdated       EventType = "stats_updated"
	EventClientCountUpdated EventType = "client_count_updated"

	// Sent only to the connection whose admin_action failed
	EventActionFailed EventType = "action_failed"
)

// Event is the envelope every subscriber receives
type Event struct {
	Type      EventType       `json:"type"`
	QueueDate string          `json:"queue_date,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals data into an event envelope
func NewEvent(t EventType, date string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{Type: t, QueueDate: date, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// PatientDeleted is the payload of patient_deleted
type PatientDeleted struct {
	ID        int64  `json:"id"`
	QueueDate string `json:"queue_date"`
}

// PatientsSnapshot is the payload of patients_snapshot
type PatientsSnapshot struct {
	QueueDate string     `json:"queue_date"`
	Patients  []*Patient `json:"patients"`
}

// ClientCount is the payload of client_count_updated
type ClientCount struct {
	Count int `json:"count"`
}

// ActionFailed is the payload of action_failed
type ActionFailed struct {
	Action      ActionType `json:"action"`
	Kind        string     `json:"kind"`
	Message     string     `json:"message"`
	ClientToken string     `json:"client_token,omitempty"`
}
