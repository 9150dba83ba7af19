package models

import "time"

type QueueEntry struct {
	EntryID           string     `json:"entry_id"`
	QueueNumber       int64      `json:"queue_number"`
	QueueDate         string     `json:"queue_date"`
	RequestID         string     `json:"request_id,omitempty"`
	AppointmentID     *string    `json:"appointment_id,omitempty"`
	PatientID         string     `json:"patient_id"`
	Department        string     `json:"department"`
	Status            string     `json:"status"`
	PriorityLevel     string     `json:"priority_level"`
	PriorityScore     *float64   `json:"priority_score,omitempty"`
	PriorityRationale string     `json:"priority_rationale,omitempty"`
	IsEmergency       bool       `json:"is_emergency"`
	CheckInTime       time.Time  `json:"check_in_time"`
	CalledTime        *time.Time `json:"called_time,omitempty"`
	CalledBy          *string    `json:"called_by,omitempty"`
	ServiceStartTime  *time.Time `json:"service_start_time,omitempty"`
	ServiceEndTime    *time.Time `json:"service_end_time,omitempty"`
	Version           int64      `json:"version"`

	// Derived on read, never stored.
	Position             int `json:"position,omitempty"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

const (
	QueueWaiting   = "WAITING"
	QueueCalled    = "CALLED"
	QueueInService = "IN_SERVICE"
	QueueCompleted = "COMPLETED"
	QueueSkipped   = "SKIPPED"
	QueueLeft      = "LEFT"
)

// IsTerminal reports whether the entry is read-only history.
func (e QueueEntry) IsTerminal() bool {
	return IsTerminalQueueStatus(e.Status)
}

// IsActive reports whether the entry still occupies a place in the queue.
func (e QueueEntry) IsActive() bool {
	return e.Status == QueueWaiting || e.Status == QueueCalled || e.Status == QueueInService
}

func IsTerminalQueueStatus(status string) bool {
	switch status {
	case QueueCompleted, QueueSkipped, QueueLeft:
		return true
	}
	return false
}

func (e QueueEntry) HasAppointment() bool {
	return e.AppointmentID != nil && *e.AppointmentID != ""
}
