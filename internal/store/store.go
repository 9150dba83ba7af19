package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/internal/models"
)

// AppointmentWrite replaces the stored appointment with Appointment only if
// the stored row still has ExpectedVersion and a status in FromStatuses.
// Otherwise the write fails with ErrStaleState and nothing is applied.
type AppointmentWrite struct {
	Appointment     models.Appointment
	FromStatuses    []string
	ExpectedVersion int64
	Event           string
}

// EntryWrite is the queue entry counterpart of AppointmentWrite.
type EntryWrite struct {
	Entry           models.QueueEntry
	FromStatuses    []string
	ExpectedVersion int64
	Event           string
}

type CreateAppointmentInput struct {
	RequestID   string
	Appointment models.Appointment
}

type CreateEntryInput struct {
	RequestID string
	Entry     models.QueueEntry
}

// CheckInInput couples the appointment arrival write with the creation of
// its WAITING entry. Both apply or neither does.
type CheckInInput struct {
	RequestID   string
	Appointment AppointmentWrite
	Entry       models.QueueEntry
}

// PairWrite updates an appointment and its linked entry atomically.
type PairWrite struct {
	Appointment AppointmentWrite
	Entry       EntryWrite
}

type AppointmentQuery struct {
	Statuses   []string
	From       time.Time
	To         time.Time
	CheckedIn  *bool
	Unreminded bool
	Limit      int
}

type Store interface {
	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, bool, error)
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListAppointments(ctx context.Context, query AppointmentQuery) ([]models.Appointment, error)
	UpdateAppointment(ctx context.Context, write AppointmentWrite) (models.Appointment, error)
	AnnotateAppointment(ctx context.Context, appointmentID string, probability float64, rationale string) error

	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, bool, error)
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error)
	ListEntries(ctx context.Context, department, queueDate string) ([]models.QueueEntry, error)
	ListAppointmentEntries(ctx context.Context, appointmentID string) ([]models.QueueEntry, error)
	UpdateEntry(ctx context.Context, write EntryWrite) (models.QueueEntry, error)
	AnnotateEntry(ctx context.Context, entryID string, score float64, rationale string) error

	CheckIn(ctx context.Context, input CheckInInput) (models.Appointment, models.QueueEntry, bool, error)
	UpdatePair(ctx context.Context, write PairWrite) (models.Appointment, models.QueueEntry, error)

	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]OutboxEvent, error)
	RelayOffset(ctx context.Context, relay string) (int64, error)
	SaveRelayOffset(ctx context.Context, relay string, seq int64) error
	ListEntryEvents(ctx context.Context, entryID string) ([]EntryEvent, error)
}

type OutboxEvent struct {
	Seq         int64           `json:"seq"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Department  string          `json:"department,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Contains reports whether status is one of statuses.
func Contains(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// SameCheckIn reports whether existing, found by request id, was created by
// checking in appointmentID. Request ids are only replayed for the same
// appointment.
func SameCheckIn(existing models.QueueEntry, appointmentID string) bool {
	return existing.HasAppointment() && *existing.AppointmentID == appointmentID
}

// SameWalkIn reports whether existing, found by request id, is a walk-in of
// the same patient as entry.
func SameWalkIn(existing, entry models.QueueEntry) bool {
	return !existing.HasAppointment() && existing.PatientID == entry.PatientID
}
