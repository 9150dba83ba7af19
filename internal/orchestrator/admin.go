package orchestrator

import (
	"context"
	"errors"
	"strings"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/store"
	"clinicq/internal/window"
)

type SweepResult struct {
	Examined int      `json:"examined"`
	Marked   []string `json:"marked"`
	Stale    int      `json:"stale"`
}

// SweepNoShows marks every appointment whose check-in window has closed
// without an arrival. Rows changed concurrently are counted and left alone.
func (s *Service) SweepNoShows(ctx context.Context, actor Actor) (result SweepResult, err error) {
	ctx, span := s.startSpan(ctx, "SweepNoShows", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleAdmin); err != nil {
		return SweepResult{}, err
	}
	now := s.now()
	notCheckedIn := false
	candidates, err := s.store.ListAppointments(ctx, store.AppointmentQuery{
		Statuses:  lifecycle.AppointmentAllowedFrom(lifecycle.ActionNoShow),
		To:        now.Add(-s.rules.Window.Grace),
		CheckedIn: &notCheckedIn,
	})
	if err != nil {
		return SweepResult{}, err
	}
	result.Marked = []string{}
	for _, appt := range candidates {
		result.Examined++
		next, err := s.rules.MarkNoShow(appt, now)
		if err != nil {
			continue
		}
		if _, err := s.writeAppointment(ctx, appt, next, lifecycle.ActionNoShow, store.EventAppointmentNoShow); err != nil {
			if errors.Is(err, store.ErrStaleState) {
				staleStates.Add(1)
				result.Stale++
				continue
			}
			return result, err
		}
		result.Marked = append(result.Marked, appt.AppointmentID)
	}
	s.logger.Info().Int("examined", result.Examined).Int("marked", len(result.Marked)).Int("stale", result.Stale).Msg("no-show sweep finished")
	return result, nil
}

// QueueReminders records a reminder event for every upcoming appointment
// that has not been reminded yet. The notification relay delivers them.
func (s *Service) QueueReminders(ctx context.Context, actor Actor) (queued int, err error) {
	ctx, span := s.startSpan(ctx, "QueueReminders", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleAdmin); err != nil {
		return 0, err
	}
	now := s.now()
	upcoming, err := s.store.ListAppointments(ctx, store.AppointmentQuery{
		Statuses:   []string{models.AppointmentScheduled, models.AppointmentConfirmed, models.AppointmentRescheduled},
		From:       now,
		To:         now.Add(s.reminderLead),
		Unreminded: true,
	})
	if err != nil {
		return 0, err
	}
	for _, appt := range upcoming {
		if !window.Upcoming(now, appt.AppointmentDate, s.reminderLead) {
			continue
		}
		next := appt
		next.RemindedAt = &now
		next.UpdatedAt = now
		_, err := s.store.UpdateAppointment(ctx, store.AppointmentWrite{
			Appointment:     next,
			FromStatuses:    []string{appt.Status},
			ExpectedVersion: appt.Version,
			Event:           store.EventAppointmentReminder,
		})
		if errors.Is(err, store.ErrStaleState) {
			staleStates.Add(1)
			continue
		}
		if err != nil {
			return queued, err
		}
		queued++
	}
	s.logger.Info().Int("queued", queued).Msg("appointment reminders queued")
	return queued, nil
}

// ReconcileCheckIn re-enqueues a checked-in appointment that has no active
// queue entry, typically after its entry was skipped or the patient left and
// came back. Pairs that are inconsistent in any other way are reported, not
// repaired.
func (s *Service) ReconcileCheckIn(ctx context.Context, actor Actor, appointmentID, department string) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "ReconcileCheckIn", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleAdmin); err != nil {
		return models.QueueEntry{}, err
	}
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	entries, err := s.store.ListAppointmentEntries(ctx, appt.AppointmentID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	for _, e := range entries {
		if e.IsActive() {
			if err := lifecycle.CheckPair(appt, e); err != nil {
				return models.QueueEntry{}, s.consistency(err)
			}
			return s.annotate(ctx, e)
		}
	}
	if appt.Status == models.AppointmentInProgress {
		return models.QueueEntry{}, s.consistency(lifecycle.CheckAppointmentWithoutEntry(appt))
	}
	if appt.Status != models.AppointmentConfirmed {
		return models.QueueEntry{}, lifecycle.NewGuardError("appointment", "reconcile", lifecycle.GuardStatus, appt.Status)
	}
	if !appt.CheckedIn {
		return models.QueueEntry{}, lifecycle.NewGuardError("appointment", "reconcile", lifecycle.GuardNotCheckedIn, appt.Status)
	}

	department = strings.TrimSpace(department)
	if department == "" && len(entries) > 0 {
		department = entries[len(entries)-1].Department
	}
	now := s.now()
	newEntry, err := lifecycle.NewEntry(appt.PatientID, department, appt.Priority, appt.Type == models.TypeEmergency, &appt.AppointmentID, now)
	if err != nil {
		return models.QueueEntry{}, err
	}
	newEntry.QueueDate = s.queueDate(now)
	entry, _, err = s.store.CreateEntry(ctx, store.CreateEntryInput{Entry: newEntry})
	if err != nil {
		return models.QueueEntry{}, err
	}
	s.logger.Warn().
		Str("exception", "check_in_reconciled").
		Str("appointment_id", appt.AppointmentID).
		Str("entry_id", entry.EntryID).
		Msg("checked-in appointment re-enqueued")
	s.advisePriority(ctx, entry, appt.ClinicalNotes)
	return s.annotate(ctx, entry)
}

// AuditPairs checks every checked-in open appointment against its queue
// entries and returns the pairs that have diverged.
func (s *Service) AuditPairs(ctx context.Context, actor Actor) (violations []*lifecycle.ConsistencyError, err error) {
	ctx, span := s.startSpan(ctx, "AuditPairs", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleAdmin); err != nil {
		return nil, err
	}
	checkedIn := true
	appts, err := s.store.ListAppointments(ctx, store.AppointmentQuery{
		Statuses:  []string{models.AppointmentConfirmed, models.AppointmentInProgress},
		CheckedIn: &checkedIn,
	})
	if err != nil {
		return nil, err
	}
	violations = []*lifecycle.ConsistencyError{}
	for _, appt := range appts {
		entry, found, hasAny, err := s.activeEntry(ctx, appt.AppointmentID)
		if err != nil {
			return nil, err
		}
		var verr error
		switch {
		case found:
			verr = lifecycle.CheckPair(appt, entry)
		case !hasAny:
			verr = lifecycle.CheckAppointmentWithoutEntry(appt)
		case appt.Status == models.AppointmentInProgress:
			verr = &lifecycle.ConsistencyError{AppointmentID: appt.AppointmentID, Detail: "appointment IN_PROGRESS without an active queue entry"}
		}
		var cerr *lifecycle.ConsistencyError
		if errors.As(verr, &cerr) {
			consistencyFailures.Add(1)
			s.consistency(verr)
			violations = append(violations, cerr)
		}
	}
	return violations, nil
}

// ListEvents pages through the outbox in sequence order.
func (s *Service) ListEvents(ctx context.Context, actor Actor, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if err := requireRole(actor, RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListOutboxEvents(ctx, afterSeq, limit)
}
