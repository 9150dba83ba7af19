package models

import (
	"strings"
	"time"
)

type Appointment struct {
	AppointmentID      string     `json:"appointment_id"`
	PatientID          string     `json:"patient_id"`
	DoctorID           *string    `json:"doctor_id,omitempty"`
	AppointmentDate    time.Time  `json:"appointment_date"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority"`
	DurationMinutes    int        `json:"duration_minutes"`
	CheckedIn          bool       `json:"checked_in"`
	CheckInTime        *time.Time `json:"check_in_time,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	RemindedAt         *time.Time `json:"reminded_at,omitempty"`
	ClinicalNotes
	NoShowProbability *float64  `json:"no_show_probability,omitempty"`
	NoShowRationale   string    `json:"no_show_rationale,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int64     `json:"version"`
}

// ClinicalNotes are written only by the assigned doctor during or after the consultation.
type ClinicalNotes struct {
	ChiefComplaint string `json:"chief_complaint,omitempty"`
	Symptoms       string `json:"symptoms,omitempty"`
	VitalSigns     string `json:"vital_signs,omitempty"`
	Diagnosis      string `json:"diagnosis,omitempty"`
	Prescription   string `json:"prescription,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

const (
	AppointmentScheduled   = "SCHEDULED"
	AppointmentConfirmed   = "CONFIRMED"
	AppointmentInProgress  = "IN_PROGRESS"
	AppointmentCompleted   = "COMPLETED"
	AppointmentCancelled   = "CANCELLED"
	AppointmentNoShow      = "NO_SHOW"
	AppointmentRescheduled = "RESCHEDULED"
)

const (
	TypeConsultation = "CONSULTATION"
	TypeFollowUp     = "FOLLOW_UP"
	TypeLaboratory   = "LABORATORY"
	TypeEmergency    = "EMERGENCY"
	TypeVaccination  = "VACCINATION"
	TypeCheckup      = "CHECKUP"
)

const (
	PriorityEmergency = "EMERGENCY"
	PriorityHigh      = "HIGH"
	PriorityMedium    = "MEDIUM"
	PriorityLow       = "LOW"
)

const DefaultDurationMinutes = 30

func (a Appointment) IsTerminal() bool {
	return IsTerminalAppointmentStatus(a.Status)
}

func IsTerminalAppointmentStatus(status string) bool {
	switch status {
	case AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// AssignedTo reports whether doctorID is the appointment's doctor.
func (a Appointment) AssignedTo(doctorID string) bool {
	return a.DoctorID != nil && *a.DoctorID == doctorID
}

func ValidAppointmentType(value string) bool {
	switch value {
	case TypeConsultation, TypeFollowUp, TypeLaboratory, TypeEmergency, TypeVaccination, TypeCheckup:
		return true
	}
	return false
}

func ValidPriority(value string) bool {
	switch value {
	case PriorityEmergency, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// NormalizeEnum upper-cases and trims an enum value received from a client.
func NormalizeEnum(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// Merge overwrites the notes with every non-empty field of update.
func (n ClinicalNotes) Merge(update ClinicalNotes) ClinicalNotes {
	if update.ChiefComplaint != "" {
		n.ChiefComplaint = update.ChiefComplaint
	}
	if update.Symptoms != "" {
		n.Symptoms = update.Symptoms
	}
	if update.VitalSigns != "" {
		n.VitalSigns = update.VitalSigns
	}
	if update.Diagnosis != "" {
		n.Diagnosis = update.Diagnosis
	}
	if update.Prescription != "" {
		n.Prescription = update.Prescription
	}
	if update.Notes != "" {
		n.Notes = update.Notes
	}
	return n
}
