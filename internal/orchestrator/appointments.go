package orchestrator

import (
	"context"
	"time"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/store"
)

type BookInput struct {
	RequestID       string
	PatientID       string
	DoctorID        string
	AppointmentDate time.Time
	Type            string
	Priority        string
	DurationMinutes int
}

func (s *Service) BookAppointment(ctx context.Context, actor Actor, input BookInput) (appt models.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "BookAppointment", actor)
	defer func() { s.endSpan(span, err) }()

	if actor.Role == RolePatient && input.PatientID == "" {
		input.PatientID = actor.ID
	}
	if err := requirePatientOrAdmin(actor, input.PatientID); err != nil {
		return models.Appointment{}, err
	}
	priority, _ := triage(actor, input.Priority, false)
	next, err := s.rules.Book(lifecycle.Booking{
		PatientID:       input.PatientID,
		DoctorID:        input.DoctorID,
		AppointmentDate: input.AppointmentDate,
		Type:            input.Type,
		Priority:        priority,
		DurationMinutes: input.DurationMinutes,
	}, s.now())
	if err != nil {
		return models.Appointment{}, err
	}
	appt, created, err := s.store.CreateAppointment(ctx, store.CreateAppointmentInput{RequestID: input.RequestID, Appointment: next})
	if err != nil {
		return models.Appointment{}, err
	}
	if created {
		s.logger.Info().Str("appointment_id", appt.AppointmentID).Str("patient_id", appt.PatientID).Msg("appointment booked")
		s.adviseNoShow(ctx, appt)
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, appointmentID string) (models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	if err := requireCanView(actor, appt.PatientID); err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}

// Eligibility reports, for every appointment action, whether it would be
// accepted now and which guard rejects it otherwise.
func (s *Service) Eligibility(ctx context.Context, actor Actor, appointmentID string) (models.Appointment, []lifecycle.ActionCheck, error) {
	appt, err := s.GetAppointment(ctx, actor, appointmentID)
	if err != nil {
		return models.Appointment{}, nil, err
	}
	return appt, s.rules.Eligibility(appt, s.now()), nil
}

// Confirm is a clinic-side action; patients cannot confirm their own bookings.
func (s *Service) Confirm(ctx context.Context, actor Actor, appointmentID string) (appt models.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Confirm", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleAdmin, RoleDoctor); err != nil {
		return models.Appointment{}, err
	}
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	next, err := s.rules.Confirm(current, s.now())
	if err != nil {
		return models.Appointment{}, err
	}
	appt, err = s.writeAppointment(ctx, current, next, lifecycle.ActionConfirm, store.EventAppointmentConfirmed)
	if err != nil {
		return models.Appointment{}, err
	}
	s.adviseNoShow(ctx, appt)
	return appt, nil
}

func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID, reason string) (appt models.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Cancel", actor)
	defer func() { s.endSpan(span, err) }()

	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	if err := requirePatientOrAdmin(actor, current.PatientID); err != nil {
		return models.Appointment{}, err
	}
	next, err := s.rules.Cancel(current, reason, s.now())
	if err != nil {
		return models.Appointment{}, err
	}
	return s.writeAppointment(ctx, current, next, lifecycle.ActionCancel, store.EventAppointmentCancelled)
}

// Reschedule moves the appointment to newDate. An active WAITING or CALLED
// entry referred to the old slot and is skipped in the same write.
func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID string, newDate time.Time) (appt models.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Reschedule", actor)
	defer func() { s.endSpan(span, err) }()

	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	if err := requirePatientOrAdmin(actor, current.PatientID); err != nil {
		return models.Appointment{}, err
	}
	now := s.now()
	next, err := s.rules.Reschedule(current, newDate, now)
	if err != nil {
		return models.Appointment{}, err
	}

	entry, found, _, err := s.activeEntry(ctx, current.AppointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	if !found {
		return s.writeAppointment(ctx, current, next, lifecycle.ActionReschedule, store.EventAppointmentRescheduled)
	}
	if err := lifecycle.CheckPair(current, entry); err != nil {
		return models.Appointment{}, s.consistency(err)
	}
	skipped, err := lifecycle.Skip(entry, now)
	if err != nil {
		return models.Appointment{}, err
	}
	appt, _, err = s.store.UpdatePair(ctx, store.PairWrite{
		Appointment: appointmentWrite(current, next, lifecycle.ActionReschedule, store.EventAppointmentRescheduled),
		Entry:       entryWrite(entry, skipped, lifecycle.ActionSkip, store.EventQueueSkipped),
	})
	if err != nil {
		return models.Appointment{}, err
	}
	s.logger.Info().Str("appointment_id", appt.AppointmentID).Str("entry_id", entry.EntryID).Msg("rescheduled appointment released its queue entry")
	return appt, nil
}

func (s *Service) MarkNoShow(ctx context.Context, actor Actor, appointmentID string) (appt models.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "MarkNoShow", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleAdmin, RoleDoctor); err != nil {
		return models.Appointment{}, err
	}
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	next, err := s.rules.MarkNoShow(current, s.now())
	if err != nil {
		return models.Appointment{}, err
	}
	return s.writeAppointment(ctx, current, next, lifecycle.ActionNoShow, store.EventAppointmentNoShow)
}

func (s *Service) writeAppointment(ctx context.Context, current, next models.Appointment, action, event string) (models.Appointment, error) {
	return s.store.UpdateAppointment(ctx, appointmentWrite(current, next, action, event))
}

// appointmentWrite guards the write with the status set the action accepts
// and the version the decision was made on.
func appointmentWrite(current, next models.Appointment, action, event string) store.AppointmentWrite {
	return store.AppointmentWrite{
		Appointment:     next,
		FromStatuses:    lifecycle.AppointmentAllowedFrom(action),
		ExpectedVersion: current.Version,
		Event:           event,
	}
}

func entryWrite(current, next models.QueueEntry, action, event string) store.EntryWrite {
	return store.EntryWrite{
		Entry:           next,
		FromStatuses:    lifecycle.QueueAllowedFrom(action),
		ExpectedVersion: current.Version,
		Event:           event,
	}
}

// activeEntry returns the appointment's WAITING, CALLED or IN_SERVICE entry.
// hasAny reports whether the appointment has entries at all.
func (s *Service) activeEntry(ctx context.Context, appointmentID string) (entry models.QueueEntry, found, hasAny bool, err error) {
	entries, err := s.store.ListAppointmentEntries(ctx, appointmentID)
	if err != nil {
		return models.QueueEntry{}, false, false, err
	}
	for _, e := range entries {
		if e.IsActive() {
			return e, true, true, nil
		}
	}
	return models.QueueEntry{}, false, len(entries) > 0, nil
}
