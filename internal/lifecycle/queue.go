package lifecycle

import (
	"strings"
	"time"

	"clinicq/internal/models"
)

const entityQueueEntry = "queue_entry"

// NewEntry builds a WAITING entry. Queue number and id are assigned by the store.
func NewEntry(patientID, department, priorityLevel string, isEmergency bool, appointmentID *string, now time.Time) (models.QueueEntry, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return models.QueueEntry{}, NewGuardError(entityQueueEntry, "create", GuardInvalidDepartment, "")
	}
	if priorityLevel == "" {
		priorityLevel = models.PriorityMedium
	}
	if !models.ValidPriority(priorityLevel) {
		return models.QueueEntry{}, NewGuardError(entityQueueEntry, "create", GuardInvalidPriority, "")
	}
	if priorityLevel == models.PriorityEmergency {
		isEmergency = true
	}
	return models.QueueEntry{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Department:    department,
		Status:        models.QueueWaiting,
		PriorityLevel: priorityLevel,
		IsEmergency:   isEmergency,
		CheckInTime:   now,
	}, nil
}

func Call(e models.QueueEntry, doctorID string, now time.Time) (models.QueueEntry, error) {
	if err := queueStatusGuard(e, ActionCall); err != nil {
		return e, err
	}
	e.Status = models.QueueCalled
	e.CalledTime = timePtr(now)
	e.CalledBy = &doctorID
	return e, nil
}

// Recall re-announces a called entry. Only the caller may recall it.
func Recall(e models.QueueEntry, doctorID string, now time.Time) (models.QueueEntry, error) {
	if err := queueStatusGuard(e, ActionRecall); err != nil {
		return e, err
	}
	if !calledBy(e, doctorID) {
		return e, NewGuardError(entityQueueEntry, ActionRecall, GuardDoctorMismatch, e.Status)
	}
	e.CalledTime = timePtr(now)
	return e, nil
}

func StartService(e models.QueueEntry, doctorID string, now time.Time) (models.QueueEntry, error) {
	if e.Status == models.QueueWaiting {
		return e, NewGuardError(entityQueueEntry, ActionStartService, GuardEntryNotCalled, e.Status)
	}
	if err := queueStatusGuard(e, ActionStartService); err != nil {
		return e, err
	}
	if !calledBy(e, doctorID) {
		return e, NewGuardError(entityQueueEntry, ActionStartService, GuardDoctorMismatch, e.Status)
	}
	e.Status = models.QueueInService
	e.ServiceStartTime = timePtr(now)
	return e, nil
}

func CompleteService(e models.QueueEntry, doctorID string, now time.Time) (models.QueueEntry, error) {
	if err := queueStatusGuard(e, ActionCompleteService); err != nil {
		return e, err
	}
	if doctorID != "" && !calledBy(e, doctorID) {
		return e, NewGuardError(entityQueueEntry, ActionCompleteService, GuardDoctorMismatch, e.Status)
	}
	e.Status = models.QueueCompleted
	e.ServiceEndTime = timePtr(now)
	return e, nil
}

func Skip(e models.QueueEntry, now time.Time) (models.QueueEntry, error) {
	if err := queueStatusGuard(e, ActionSkip); err != nil {
		return e, err
	}
	e.Status = models.QueueSkipped
	e.ServiceEndTime = timePtr(now)
	return e, nil
}

func Leave(e models.QueueEntry, now time.Time) (models.QueueEntry, error) {
	if err := queueStatusGuard(e, ActionLeave); err != nil {
		return e, err
	}
	e.Status = models.QueueLeft
	e.ServiceEndTime = timePtr(now)
	return e, nil
}

func ChangePriority(e models.QueueEntry, priorityLevel string, isEmergency bool) (models.QueueEntry, error) {
	if err := queueStatusGuard(e, ActionChangePriority); err != nil {
		return e, err
	}
	if !models.ValidPriority(priorityLevel) {
		return e, NewGuardError(entityQueueEntry, ActionChangePriority, GuardInvalidPriority, e.Status)
	}
	e.PriorityLevel = priorityLevel
	e.IsEmergency = isEmergency || priorityLevel == models.PriorityEmergency
	return e, nil
}

func queueStatusGuard(e models.QueueEntry, action string) error {
	if e.IsTerminal() {
		return NewGuardError(entityQueueEntry, action, GuardTerminal, e.Status)
	}
	if !ValidQueueTransition(action, e.Status) {
		return NewGuardError(entityQueueEntry, action, GuardStatus, e.Status)
	}
	return nil
}

func calledBy(e models.QueueEntry, doctorID string) bool {
	return e.CalledBy != nil && *e.CalledBy == doctorID
}
