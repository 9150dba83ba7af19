package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrGuardViolation          = errors.New("guard violation")
	ErrConsistencyViolation    = errors.New("consistency violation")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrAccessDenied            = errors.New("access denied")
)

// Guard names reported to callers. They are part of the API contract.
const (
	GuardStatus            = "status"
	GuardTerminal          = "terminal"
	GuardInPast            = "in_past"
	GuardNotFuture         = "not_future"
	GuardCheckedIn         = "checked_in"
	GuardNotCheckedIn      = "not_checked_in"
	GuardCheckInWindow     = "check_in_window"
	GuardDiagnosisRequired = "diagnosis_required"
	GuardDoctorMismatch    = "doctor_mismatch"
	GuardNotFirstInOrder   = "not_first_in_order"
	GuardEntryNotCalled    = "entry_not_called"
	GuardNoShowWindow      = "no_show_window"
	GuardInvalidPriority   = "invalid_priority"
	GuardInvalidType       = "invalid_type"
	GuardInvalidDepartment = "invalid_department"
	GuardRescheduleInPast  = "reschedule_in_past"
	GuardReasonRequired    = "reason_required"
	GuardPatientRequired   = "patient_required"
)

type GuardError struct {
	Entity string
	Action string
	Guard  string
	Status string
}

func (e *GuardError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s %s rejected: %s", e.Entity, e.Action, e.Guard)
	}
	return fmt.Sprintf("%s %s rejected in status %s: %s", e.Entity, e.Action, e.Status, e.Guard)
}

func (e *GuardError) Unwrap() error {
	return ErrGuardViolation
}

func NewGuardError(entity, action, guard, status string) error {
	return &GuardError{Entity: entity, Action: action, Guard: guard, Status: status}
}

// GuardName extracts the failed guard from err, or "" if err is not a guard violation.
func GuardName(err error) string {
	var ge *GuardError
	if errors.As(err, &ge) {
		return ge.Guard
	}
	return ""
}

type ConsistencyError struct {
	AppointmentID string
	EntryID       string
	Detail        string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("appointment %s and queue entry %s diverged: %s", e.AppointmentID, e.EntryID, e.Detail)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistencyViolation
}

type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaboratorUnavailable, e.Err}
}
