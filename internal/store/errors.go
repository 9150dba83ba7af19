package store

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrEntryNotFound       = errors.New("queue entry not found")
	// ErrStaleState means a conditional write found a different status or
	// version than the caller read. The caller should re-fetch and re-evaluate.
	ErrStaleState        = errors.New("stale state")
	ErrActiveEntryExists = errors.New("appointment already has an active queue entry")
	ErrHistoryTampered   = errors.New("queue entry history hash chain broken")
	// ErrRequestIDConflict means the request id already created an entry for
	// a different appointment or patient.
	ErrRequestIDConflict = errors.New("request id already used for another entry")
)
