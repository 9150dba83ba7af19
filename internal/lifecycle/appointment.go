// Package lifecycle holds the appointment and queue entry state machines.
// Every function here is pure: it takes the current entity and "now" and
// returns the next entity or a guard violation. Persisting the result is the
// caller's job, using the allowed-from sets for a conditional write.
package lifecycle

import (
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/window"
)

const entityAppointment = "appointment"

type Rules struct {
	Window window.Policy
}

func NewRules(policy window.Policy) Rules {
	return Rules{Window: policy}
}

// Booking is the caller-supplied part of a new appointment. An empty
// DoctorID books the first available doctor.
type Booking struct {
	PatientID       string
	DoctorID        string
	AppointmentDate time.Time
	Type            string
	Priority        string
	DurationMinutes int
}

// Book validates a booking and returns the SCHEDULED appointment. Id and
// version are assigned by the store.
func (r Rules) Book(b Booking, now time.Time) (models.Appointment, error) {
	if strings.TrimSpace(b.PatientID) == "" {
		return models.Appointment{}, NewGuardError(entityAppointment, "book", GuardPatientRequired, "")
	}
	apptType := models.NormalizeEnum(b.Type)
	if apptType == "" {
		apptType = models.TypeConsultation
	}
	if !models.ValidAppointmentType(apptType) {
		return models.Appointment{}, NewGuardError(entityAppointment, "book", GuardInvalidType, "")
	}
	priority := models.NormalizeEnum(b.Priority)
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return models.Appointment{}, NewGuardError(entityAppointment, "book", GuardInvalidPriority, "")
	}
	if !window.IsFuture(now, b.AppointmentDate) {
		return models.Appointment{}, NewGuardError(entityAppointment, "book", GuardInPast, "")
	}
	duration := b.DurationMinutes
	if duration <= 0 {
		duration = models.DefaultDurationMinutes
	}

	a := models.Appointment{
		PatientID:       strings.TrimSpace(b.PatientID),
		AppointmentDate: b.AppointmentDate.UTC(),
		Type:            apptType,
		Status:          models.AppointmentScheduled,
		Priority:        priority,
		DurationMinutes: duration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if doctorID := strings.TrimSpace(b.DoctorID); doctorID != "" {
		a.DoctorID = &doctorID
	}
	return a, nil
}

// CanCheckIn is the check-in eligibility predicate. It returns nil when the
// appointment may be checked in at now.
func (r Rules) CanCheckIn(now, appointmentDate time.Time, status string, checkedIn bool) error {
	if models.IsTerminalAppointmentStatus(status) {
		return NewGuardError(entityAppointment, ActionCheckIn, GuardTerminal, status)
	}
	if checkedIn {
		return NewGuardError(entityAppointment, ActionCheckIn, GuardCheckedIn, status)
	}
	if !ValidAppointmentTransition(ActionCheckIn, status) {
		return NewGuardError(entityAppointment, ActionCheckIn, GuardStatus, status)
	}
	if !r.Window.InCheckInWindow(now, appointmentDate) {
		return NewGuardError(entityAppointment, ActionCheckIn, GuardCheckInWindow, status)
	}
	return nil
}

func (r Rules) CanConfirm(a models.Appointment, now time.Time) error {
	if err := statusGuard(a, ActionConfirm); err != nil {
		return err
	}
	if !window.IsFuture(now, a.AppointmentDate) {
		return NewGuardError(entityAppointment, ActionConfirm, GuardInPast, a.Status)
	}
	return nil
}

func (r Rules) CanCancel(a models.Appointment, now time.Time) error {
	if err := statusGuard(a, ActionCancel); err != nil {
		return err
	}
	if a.CheckedIn {
		return NewGuardError(entityAppointment, ActionCancel, GuardCheckedIn, a.Status)
	}
	if !window.IsFuture(now, a.AppointmentDate) {
		return NewGuardError(entityAppointment, ActionCancel, GuardNotFuture, a.Status)
	}
	return nil
}

// CanStartConsultation checks the appointment side of opening a consultation.
// doctorID may be empty when only the status guards are of interest.
func (r Rules) CanStartConsultation(a models.Appointment, doctorID string) error {
	if err := statusGuard(a, ActionStartConsultation); err != nil {
		return err
	}
	if !a.CheckedIn {
		return NewGuardError(entityAppointment, ActionStartConsultation, GuardNotCheckedIn, a.Status)
	}
	if doctorID != "" && a.DoctorID != nil && *a.DoctorID != doctorID {
		return NewGuardError(entityAppointment, ActionStartConsultation, GuardDoctorMismatch, a.Status)
	}
	return nil
}

func (r Rules) CanComplete(a models.Appointment, doctorID string) error {
	if err := statusGuard(a, ActionComplete); err != nil {
		return err
	}
	if doctorID != "" && !a.AssignedTo(doctorID) {
		return NewGuardError(entityAppointment, ActionComplete, GuardDoctorMismatch, a.Status)
	}
	if strings.TrimSpace(a.Diagnosis) == "" {
		return NewGuardError(entityAppointment, ActionComplete, GuardDiagnosisRequired, a.Status)
	}
	return nil
}

func (r Rules) CanMarkNoShow(a models.Appointment, now time.Time) error {
	if err := statusGuard(a, ActionNoShow); err != nil {
		return err
	}
	if a.CheckedIn {
		return NewGuardError(entityAppointment, ActionNoShow, GuardCheckedIn, a.Status)
	}
	if !r.Window.CheckInClosed(now, a.AppointmentDate) {
		return NewGuardError(entityAppointment, ActionNoShow, GuardNoShowWindow, a.Status)
	}
	return nil
}

func (r Rules) CanReschedule(a models.Appointment, newDate, now time.Time) error {
	if err := statusGuard(a, ActionReschedule); err != nil {
		return err
	}
	if !newDate.IsZero() && !window.IsFuture(now, newDate) {
		return NewGuardError(entityAppointment, ActionReschedule, GuardRescheduleInPast, a.Status)
	}
	return nil
}

func (r Rules) CanUpdateNotes(a models.Appointment, doctorID string) error {
	if !ValidAppointmentTransition(ActionUpdateNotes, a.Status) {
		return NewGuardError(entityAppointment, ActionUpdateNotes, GuardStatus, a.Status)
	}
	if !a.AssignedTo(doctorID) {
		return NewGuardError(entityAppointment, ActionUpdateNotes, GuardDoctorMismatch, a.Status)
	}
	return nil
}

func (r Rules) Confirm(a models.Appointment, now time.Time) (models.Appointment, error) {
	if err := r.CanConfirm(a, now); err != nil {
		return a, err
	}
	a.Status = models.AppointmentConfirmed
	a.ConfirmedAt = timePtr(now)
	a.UpdatedAt = now
	return a, nil
}

func (r Rules) Cancel(a models.Appointment, reason string, now time.Time) (models.Appointment, error) {
	if err := r.CanCancel(a, now); err != nil {
		return a, err
	}
	a.Status = models.AppointmentCancelled
	a.CancelledAt = timePtr(now)
	a.CancellationReason = strings.TrimSpace(reason)
	a.ConfirmedAt = nil
	a.UpdatedAt = now
	return a, nil
}

// CheckIn marks arrival and advances a SCHEDULED appointment to CONFIRMED.
// The matching queue entry must be created in the same write.
func (r Rules) CheckIn(a models.Appointment, now time.Time) (models.Appointment, error) {
	if err := r.CanCheckIn(now, a.AppointmentDate, a.Status, a.CheckedIn); err != nil {
		return a, err
	}
	a.CheckedIn = true
	a.CheckInTime = timePtr(now)
	if a.Status == models.AppointmentScheduled {
		a.Status = models.AppointmentConfirmed
		a.ConfirmedAt = timePtr(now)
	}
	a.UpdatedAt = now
	return a, nil
}

// StartConsultation moves the appointment to IN_PROGRESS and assigns the
// doctor when the booking was for any available doctor.
func (r Rules) StartConsultation(a models.Appointment, doctorID string, now time.Time) (models.Appointment, error) {
	if err := r.CanStartConsultation(a, doctorID); err != nil {
		return a, err
	}
	if a.DoctorID == nil && doctorID != "" {
		a.DoctorID = &doctorID
	}
	a.Status = models.AppointmentInProgress
	if a.ConfirmedAt == nil {
		a.ConfirmedAt = timePtr(now)
	}
	a.UpdatedAt = now
	return a, nil
}

func (r Rules) UpdateNotes(a models.Appointment, doctorID string, notes models.ClinicalNotes, now time.Time) (models.Appointment, error) {
	if err := r.CanUpdateNotes(a, doctorID); err != nil {
		return a, err
	}
	a.ClinicalNotes = a.ClinicalNotes.Merge(notes)
	a.UpdatedAt = now
	return a, nil
}

func (r Rules) Complete(a models.Appointment, doctorID string, now time.Time) (models.Appointment, error) {
	if err := r.CanComplete(a, doctorID); err != nil {
		return a, err
	}
	a.Status = models.AppointmentCompleted
	a.CompletedAt = timePtr(now)
	a.UpdatedAt = now
	return a, nil
}

func (r Rules) MarkNoShow(a models.Appointment, now time.Time) (models.Appointment, error) {
	if err := r.CanMarkNoShow(a, now); err != nil {
		return a, err
	}
	a.Status = models.AppointmentNoShow
	a.ConfirmedAt = nil
	a.UpdatedAt = now
	return a, nil
}

// Reschedule replaces the appointment date in place. Arrival and confirmation
// are cleared because they referred to the old slot; any active queue entry
// must be invalidated in the same write.
func (r Rules) Reschedule(a models.Appointment, newDate, now time.Time) (models.Appointment, error) {
	if newDate.IsZero() {
		return a, NewGuardError(entityAppointment, ActionReschedule, GuardRescheduleInPast, a.Status)
	}
	if err := r.CanReschedule(a, newDate, now); err != nil {
		return a, err
	}
	a.AppointmentDate = newDate.UTC()
	a.Status = models.AppointmentRescheduled
	a.CheckedIn = false
	a.CheckInTime = nil
	a.ConfirmedAt = nil
	a.RemindedAt = nil
	a.UpdatedAt = now
	return a, nil
}

func statusGuard(a models.Appointment, action string) error {
	if a.IsTerminal() {
		return NewGuardError(entityAppointment, action, GuardTerminal, a.Status)
	}
	if !ValidAppointmentTransition(action, a.Status) {
		return NewGuardError(entityAppointment, action, GuardStatus, a.Status)
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
