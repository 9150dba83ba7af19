package lifecycle

import (
	"fmt"

	"clinicq/internal/models"
)

// CheckPair verifies that an appointment and its linked queue entry agree.
// A non-nil result is a ConsistencyError: it indicates a bug or a partial
// write and is never repaired automatically.
func CheckPair(a models.Appointment, e models.QueueEntry) error {
	if !e.HasAppointment() || *e.AppointmentID != a.AppointmentID {
		return diverged(a, e, "entry does not reference appointment")
	}
	switch e.Status {
	case models.QueueWaiting, models.QueueCalled:
		if !a.CheckedIn || a.Status != models.AppointmentConfirmed {
			return diverged(a, e, fmt.Sprintf("queue %s requires a checked-in CONFIRMED appointment, got %s checked_in=%t", e.Status, a.Status, a.CheckedIn))
		}
	case models.QueueInService:
		if a.Status != models.AppointmentInProgress {
			return diverged(a, e, fmt.Sprintf("queue IN_SERVICE requires appointment IN_PROGRESS, got %s", a.Status))
		}
	case models.QueueCompleted:
		if a.Status != models.AppointmentCompleted {
			return diverged(a, e, fmt.Sprintf("queue COMPLETED requires appointment COMPLETED, got %s", a.Status))
		}
	}
	return nil
}

// CheckAppointmentWithoutEntry is used when no queue entry at all references
// the appointment. Arrival and consultation both imply an entry exists.
func CheckAppointmentWithoutEntry(a models.Appointment) error {
	if a.Status == models.AppointmentInProgress {
		return &ConsistencyError{AppointmentID: a.AppointmentID, Detail: "appointment IN_PROGRESS without a queue entry"}
	}
	if a.CheckedIn {
		return &ConsistencyError{AppointmentID: a.AppointmentID, Detail: "checked-in appointment without a queue entry"}
	}
	return nil
}

func diverged(a models.Appointment, e models.QueueEntry, detail string) error {
	return &ConsistencyError{AppointmentID: a.AppointmentID, EntryID: e.EntryID, Detail: detail}
}
