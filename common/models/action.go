package models

import (
	"encoding/json"
)

// MessageType discriminates inbound socket messages
type MessageType string

const (
	MessageAdminAction     MessageType = "admin_action"
	MessageRequestSnapshot MessageType = "request_snapshot"
	MessageClientActivity  MessageType = "client_activity"
)

// InboundMessage is what a display sends over its socket
type InboundMessage struct {
	Type      MessageType  `json:"type"`
	Action    *AdminAction `json:"action,omitempty"`
	QueueDate string       `json:"queue_date,omitempty"`
	Activity  string       `json:"activity,omitempty"`
}

// ActionType discriminates admin_action payloads
type ActionType string

const (
	ActionCreatePatient       ActionType = "create_patient"
	ActionUpdatePatientStatus ActionType = "update_patient_status"
	ActionUpdatePatientField  ActionType = "update_patient_field"
	ActionDeletePatient       ActionType = "delete_patient"
	ActionReorderPatients     ActionType = "reorder_patients"
	ActionUpdateSchedule      ActionType = "update_schedule"
	ActionUpdateDuty          ActionType = "update_duty"
	ActionUpdateDoctorStatus  ActionType = "update_doctor_status"

	// Single-field shorthands kept for older displays
	ActionUpdatePatientName      ActionType = "update_patient_name"
	ActionUpdatePatientNumber    ActionType = "update_patient_number"
	ActionUpdatePatientProcedure ActionType = "update_patient_procedure"
	ActionUpdatePatientDoctor    ActionType = "update_patient_doctor"
	ActionUpdatePatientNotes     ActionType = "update_patient_notes"
	ActionUpdatePatientGenderAge ActionType = "update_patient_gender_age"
	ActionUpdatePatientWard      ActionType = "update_patient_ward"
	ActionMovePatientRoom        ActionType = "move_patient_room"
)

// shorthandFields maps single-field action types to the column they edit
var shorthandFields = map[ActionType]PatientField{
	ActionUpdatePatientName:      FieldName,
	ActionUpdatePatientNumber:    FieldRegistrationCode,
	ActionUpdatePatientProcedure: FieldProcedure,
	ActionUpdatePatientDoctor:    FieldStaff,
	ActionUpdatePatientNotes:     FieldNote,
	ActionUpdatePatientGenderAge: FieldDemographic,
	ActionUpdatePatientWard:      FieldWard,
	ActionMovePatientRoom:        FieldRoom,
}

// ShorthandField returns the column a single-field action edits
func (t ActionType) ShorthandField() (PatientField, bool) {
	f, ok := shorthandFields[t]
	return f, ok
}

// AdminAction is a mutation request carried over the socket
type AdminAction struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StatusChange is the payload of update_patient_status
type StatusChange struct {
	ID        int64         `json:"id"`
	Status    PatientStatus `json:"status"`
	Procedure string        `json:"procedure"`
}

// FieldChange is the payload of update_patient_field and the shorthands
type FieldChange struct {
	ID    int64        `json:"id"`
	Field PatientField `json:"field,omitempty"`
	Value string       `json:"value"`
}

// PatientRef is the payload of delete_patient
type PatientRef struct {
	ID int64 `json:"id"`
}

// ReorderRequest is the payload of reorder_patients
type ReorderRequest struct {
	Room      string  `json:"room"`
	QueueDate string  `json:"queue_date,omitempty"`
	IDs       []int64 `json:"ids"`
}

// DoctorStatusChange is the payload of update_doctor_status
type DoctorStatusChange struct {
	ID             int64        `json:"id"`
	Status         DoctorStatus `json:"status"`
	CurrentPatient *int64       `json:"current_patient,omitempty"`
}
