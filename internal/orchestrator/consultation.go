package orchestrator

import (
	"context"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/store"
)

// Visit is the result of a coupled transition. Entry is nil when the
// appointment had no queue entry involved, Appointment is nil for walk-ins.
type Visit struct {
	Appointment *models.Appointment `json:"appointment,omitempty"`
	Entry       *models.QueueEntry  `json:"entry,omitempty"`
}

// StartConsultation opens the consultation of a checked-in appointment whose
// queue entry has been called. The entry moves to IN_SERVICE in the same write.
func (s *Service) StartConsultation(ctx context.Context, actor Actor, appointmentID string) (visit Visit, err error) {
	ctx, span := s.startSpan(ctx, "StartConsultation", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return Visit{}, err
	}
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return Visit{}, err
	}
	entry, found, hasAny, err := s.activeEntry(ctx, current.AppointmentID)
	if err != nil {
		return Visit{}, err
	}
	if !found {
		if err := s.rules.CanStartConsultation(current, actor.ID); err != nil {
			return Visit{}, err
		}
		if !hasAny {
			if err := lifecycle.CheckAppointmentWithoutEntry(current); err != nil {
				return Visit{}, s.consistency(err)
			}
		}
		return Visit{}, lifecycle.NewGuardError("appointment", lifecycle.ActionStartConsultation, lifecycle.GuardEntryNotCalled, current.Status)
	}
	return s.startPair(ctx, actor, current, entry)
}

// StartService is StartConsultation addressed by queue entry. Walk-ins have
// no appointment and only the entry moves.
func (s *Service) StartService(ctx context.Context, actor Actor, entryID string) (visit Visit, err error) {
	ctx, span := s.startSpan(ctx, "StartService", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return Visit{}, err
	}
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return Visit{}, err
	}
	if !entry.HasAppointment() {
		started, err := lifecycle.StartService(entry, actor.ID, s.now())
		if err != nil {
			return Visit{}, err
		}
		updated, err := s.store.UpdateEntry(ctx, entryWrite(entry, started, lifecycle.ActionStartService, store.EventQueueInService))
		if err != nil {
			return Visit{}, err
		}
		return Visit{Entry: &updated}, nil
	}
	appt, err := s.store.GetAppointment(ctx, *entry.AppointmentID)
	if err != nil {
		return Visit{}, err
	}
	return s.startPair(ctx, actor, appt, entry)
}

func (s *Service) startPair(ctx context.Context, actor Actor, current models.Appointment, entry models.QueueEntry) (Visit, error) {
	now := s.now()
	next, err := s.rules.StartConsultation(current, actor.ID, now)
	if err != nil {
		return Visit{}, err
	}
	if err := lifecycle.CheckPair(current, entry); err != nil {
		return Visit{}, s.consistency(err)
	}
	started, err := lifecycle.StartService(entry, actor.ID, now)
	if err != nil {
		return Visit{}, err
	}
	appt, updated, err := s.store.UpdatePair(ctx, store.PairWrite{
		Appointment: appointmentWrite(current, next, lifecycle.ActionStartConsultation, store.EventAppointmentInProgress),
		Entry:       entryWrite(entry, started, lifecycle.ActionStartService, store.EventQueueInService),
	})
	if err != nil {
		return Visit{}, err
	}
	s.logger.Info().Str("appointment_id", appt.AppointmentID).Str("entry_id", updated.EntryID).Str("doctor_id", actor.ID).Msg("consultation started")
	return Visit{Appointment: &appt, Entry: &updated}, nil
}

func (s *Service) UpdateClinicalNotes(ctx context.Context, actor Actor, appointmentID string, notes models.ClinicalNotes) (appt models.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "UpdateClinicalNotes", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return models.Appointment{}, err
	}
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	next, err := s.rules.UpdateNotes(current, actor.ID, notes, s.now())
	if err != nil {
		return models.Appointment{}, err
	}
	return s.writeAppointment(ctx, current, next, lifecycle.ActionUpdateNotes, store.EventAppointmentNotesUpdated)
}

// CompleteConsultation closes the consultation. A diagnosis must have been
// recorded, and the IN_SERVICE entry completes in the same write.
func (s *Service) CompleteConsultation(ctx context.Context, actor Actor, appointmentID string) (visit Visit, err error) {
	ctx, span := s.startSpan(ctx, "CompleteConsultation", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return Visit{}, err
	}
	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return Visit{}, err
	}
	if err := s.rules.CanComplete(current, actor.ID); err != nil {
		return Visit{}, err
	}
	entry, found, hasAny, err := s.activeEntry(ctx, current.AppointmentID)
	if err != nil {
		return Visit{}, err
	}
	if !found {
		if !hasAny {
			return Visit{}, s.consistency(lifecycle.CheckAppointmentWithoutEntry(current))
		}
		return Visit{}, s.consistency(&lifecycle.ConsistencyError{
			AppointmentID: current.AppointmentID,
			Detail:        "appointment IN_PROGRESS without an active queue entry",
		})
	}
	return s.completePair(ctx, actor, current, entry)
}

func (s *Service) CompleteService(ctx context.Context, actor Actor, entryID string) (visit Visit, err error) {
	ctx, span := s.startSpan(ctx, "CompleteService", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return Visit{}, err
	}
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return Visit{}, err
	}
	if !entry.HasAppointment() {
		completed, err := lifecycle.CompleteService(entry, actor.ID, s.now())
		if err != nil {
			return Visit{}, err
		}
		updated, err := s.store.UpdateEntry(ctx, entryWrite(entry, completed, lifecycle.ActionCompleteService, store.EventQueueCompleted))
		if err != nil {
			return Visit{}, err
		}
		return Visit{Entry: &updated}, nil
	}
	appt, err := s.store.GetAppointment(ctx, *entry.AppointmentID)
	if err != nil {
		return Visit{}, err
	}
	return s.completePair(ctx, actor, appt, entry)
}

func (s *Service) completePair(ctx context.Context, actor Actor, current models.Appointment, entry models.QueueEntry) (Visit, error) {
	now := s.now()
	next, err := s.rules.Complete(current, actor.ID, now)
	if err != nil {
		return Visit{}, err
	}
	if err := lifecycle.CheckPair(current, entry); err != nil {
		return Visit{}, s.consistency(err)
	}
	completed, err := lifecycle.CompleteService(entry, actor.ID, now)
	if err != nil {
		return Visit{}, err
	}
	appt, updated, err := s.store.UpdatePair(ctx, store.PairWrite{
		Appointment: appointmentWrite(current, next, lifecycle.ActionComplete, store.EventAppointmentCompleted),
		Entry:       entryWrite(entry, completed, lifecycle.ActionCompleteService, store.EventQueueCompleted),
	})
	if err != nil {
		return Visit{}, err
	}
	s.logger.Info().Str("appointment_id", appt.AppointmentID).Str("entry_id", updated.EntryID).Msg("consultation completed")
	return Visit{Appointment: &appt, Entry: &updated}, nil
}
