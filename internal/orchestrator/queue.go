package orchestrator

import (
	"context"
	"errors"
	"strings"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/ordering"
	"clinicq/internal/store"
)

type CheckInInput struct {
	RequestID     string
	Department    string
	PriorityLevel string
	IsEmergency   bool
}

// CheckIn marks the patient as arrived and enqueues them. The appointment
// update and the new WAITING entry are written together or not at all.
// Repeating a request id returns the entry created by the first call.
func (s *Service) CheckIn(ctx context.Context, actor Actor, appointmentID string, input CheckInInput) (appt models.Appointment, entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "CheckIn", actor)
	defer func() { s.endSpan(span, err) }()

	current, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	if err := requirePatientOrAdmin(actor, current.PatientID); err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	now := s.now()
	next, err := s.rules.CheckIn(current, now)
	if err != nil {
		if replayed, ok := s.replayedCheckIn(ctx, current, input.RequestID, err); ok {
			replayed, err = s.annotate(ctx, replayed)
			return current, replayed, err
		}
		return models.Appointment{}, models.QueueEntry{}, err
	}

	priority, isEmergency := triage(actor, input.PriorityLevel, input.IsEmergency)
	if priority == "" {
		priority = current.Priority
	}
	isEmergency = isEmergency || current.Type == models.TypeEmergency
	newEntry, err := lifecycle.NewEntry(current.PatientID, input.Department, priority, isEmergency, &current.AppointmentID, now)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	newEntry.QueueDate = s.queueDate(now)

	appt, entry, created, err := s.store.CheckIn(ctx, store.CheckInInput{
		RequestID:   input.RequestID,
		Appointment: appointmentWrite(current, next, lifecycle.ActionCheckIn, store.EventAppointmentCheckedIn),
		Entry:       newEntry,
	})
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	if created {
		s.logger.Info().
			Str("appointment_id", appt.AppointmentID).
			Str("entry_id", entry.EntryID).
			Int64("queue_number", entry.QueueNumber).
			Str("department", entry.Department).
			Msg("patient checked in")
		s.advisePriority(ctx, entry, current.ClinicalNotes)
	}
	entry, err = s.annotate(ctx, entry)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	return appt, entry, nil
}

// replayedCheckIn finds the entry a previous check-in with the same request
// id created, so a retried request is answered instead of rejected.
func (s *Service) replayedCheckIn(ctx context.Context, appt models.Appointment, requestID string, guardErr error) (models.QueueEntry, bool) {
	if requestID == "" || lifecycle.GuardName(guardErr) != lifecycle.GuardCheckedIn {
		return models.QueueEntry{}, false
	}
	entries, err := s.store.ListAppointmentEntries(ctx, appt.AppointmentID)
	if err != nil {
		return models.QueueEntry{}, false
	}
	for _, e := range entries {
		if e.RequestID == requestID {
			return e, true
		}
	}
	return models.QueueEntry{}, false
}

// triage returns the priority and emergency flag the actor may set on a new
// entry. Patients cannot triage themselves, so their values are dropped and
// the entry falls back to the appointment or the default priority.
func triage(actor Actor, priorityLevel string, isEmergency bool) (string, bool) {
	if actor.Role != RoleDoctor && actor.Role != RoleAdmin {
		return "", false
	}
	return models.NormalizeEnum(priorityLevel), isEmergency
}

type WalkInInput struct {
	RequestID     string
	PatientID     string
	Department    string
	PriorityLevel string
	IsEmergency   bool
}

func (s *Service) RegisterWalkIn(ctx context.Context, actor Actor, input WalkInInput) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "RegisterWalkIn", actor)
	defer func() { s.endSpan(span, err) }()

	if actor.Role == RolePatient && input.PatientID == "" {
		input.PatientID = actor.ID
	}
	if err := requirePatientOrAdmin(actor, input.PatientID); err != nil {
		return models.QueueEntry{}, err
	}
	if strings.TrimSpace(input.PatientID) == "" {
		return models.QueueEntry{}, lifecycle.NewGuardError("queue_entry", "create", lifecycle.GuardPatientRequired, "")
	}
	now := s.now()
	priority, isEmergency := triage(actor, input.PriorityLevel, input.IsEmergency)
	newEntry, err := lifecycle.NewEntry(input.PatientID, input.Department, priority, isEmergency, nil, now)
	if err != nil {
		return models.QueueEntry{}, err
	}
	newEntry.QueueDate = s.queueDate(now)

	entry, created, err := s.store.CreateEntry(ctx, store.CreateEntryInput{RequestID: input.RequestID, Entry: newEntry})
	if err != nil {
		return models.QueueEntry{}, err
	}
	if created {
		s.logger.Info().Str("entry_id", entry.EntryID).Int64("queue_number", entry.QueueNumber).Str("department", entry.Department).Msg("walk-in registered")
		s.advisePriority(ctx, entry, models.ClinicalNotes{})
	}
	return s.annotate(ctx, entry)
}

// CallNext calls the entry ranked first in the department's WAITING partition.
func (s *Service) CallNext(ctx context.Context, actor Actor, department string) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "CallNext", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return models.QueueEntry{}, err
	}
	now := s.now()
	department = strings.TrimSpace(department)
	entries, err := s.store.ListEntries(ctx, department, s.queueDate(now))
	if err != nil {
		return models.QueueEntry{}, err
	}
	next, ok := ordering.Next(entries, department)
	if !ok {
		return models.QueueEntry{}, ErrQueueEmpty
	}
	called, err := lifecycle.Call(next, actor.ID, now)
	if err != nil {
		return models.QueueEntry{}, err
	}
	entry, err = s.store.UpdateEntry(ctx, entryWrite(next, called, lifecycle.ActionCall, store.EventQueueCalled))
	if err != nil {
		return models.QueueEntry{}, err
	}
	s.logger.Info().Str("entry_id", entry.EntryID).Int64("queue_number", entry.QueueNumber).Str("doctor_id", actor.ID).Msg("entry called")
	return s.annotate(ctx, entry)
}

type CallInput struct {
	Override bool
	Reason   string
}

// CallEntry calls a specific entry. Calling anything but the first-ranked
// entry needs an explicit override with a reason and is logged as an exception.
func (s *Service) CallEntry(ctx context.Context, actor Actor, entryID string, input CallInput) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "CallEntry", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return models.QueueEntry{}, err
	}
	current, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	now := s.now()
	called, err := lifecycle.Call(current, actor.ID, now)
	if err != nil {
		return models.QueueEntry{}, err
	}
	entries, err := s.store.ListEntries(ctx, current.Department, current.QueueDate)
	if err != nil {
		return models.QueueEntry{}, err
	}

	event := store.EventQueueCalled
	override := !ordering.IsNext(entries, current.Department, current.EntryID)
	if override {
		if !input.Override {
			return models.QueueEntry{}, lifecycle.NewGuardError("queue_entry", lifecycle.ActionCall, lifecycle.GuardNotFirstInOrder, current.Status)
		}
		if strings.TrimSpace(input.Reason) == "" {
			return models.QueueEntry{}, lifecycle.NewGuardError("queue_entry", lifecycle.ActionCall, lifecycle.GuardReasonRequired, current.Status)
		}
		event = store.EventQueueCalledOverride
	}

	entry, err = s.store.UpdateEntry(ctx, entryWrite(current, called, lifecycle.ActionCall, event))
	if err != nil {
		return models.QueueEntry{}, err
	}
	if override {
		s.logger.Warn().
			Str("exception", "queue_order_override").
			Str("entry_id", entry.EntryID).
			Str("department", entry.Department).
			Str("doctor_id", actor.ID).
			Str("reason", strings.TrimSpace(input.Reason)).
			Msg("entry called out of order")
	}
	return s.annotate(ctx, entry)
}

func (s *Service) Recall(ctx context.Context, actor Actor, entryID string) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "Recall", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor); err != nil {
		return models.QueueEntry{}, err
	}
	current, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	recalled, err := lifecycle.Recall(current, actor.ID, s.now())
	if err != nil {
		return models.QueueEntry{}, err
	}
	return s.store.UpdateEntry(ctx, entryWrite(current, recalled, lifecycle.ActionRecall, store.EventQueueRecalled))
}

// Skip marks a WAITING or CALLED entry as not answering. A linked appointment
// stays checked in so the patient can be re-enqueued by reconciliation.
func (s *Service) Skip(ctx context.Context, actor Actor, entryID string) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "Skip", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor, RoleAdmin); err != nil {
		return models.QueueEntry{}, err
	}
	current, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	skipped, err := lifecycle.Skip(current, s.now())
	if err != nil {
		return models.QueueEntry{}, err
	}
	return s.store.UpdateEntry(ctx, entryWrite(current, skipped, lifecycle.ActionSkip, store.EventQueueSkipped))
}

func (s *Service) Leave(ctx context.Context, actor Actor, entryID string) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "Leave", actor)
	defer func() { s.endSpan(span, err) }()

	current, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err := requirePatientOrAdmin(actor, current.PatientID); err != nil {
		return models.QueueEntry{}, err
	}
	left, err := lifecycle.Leave(current, s.now())
	if err != nil {
		return models.QueueEntry{}, err
	}
	return s.store.UpdateEntry(ctx, entryWrite(current, left, lifecycle.ActionLeave, store.EventQueueLeft))
}

func (s *Service) ChangePriority(ctx context.Context, actor Actor, entryID, priorityLevel string, isEmergency bool) (entry models.QueueEntry, err error) {
	ctx, span := s.startSpan(ctx, "ChangePriority", actor)
	defer func() { s.endSpan(span, err) }()

	if err := requireRole(actor, RoleDoctor, RoleAdmin); err != nil {
		return models.QueueEntry{}, err
	}
	current, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	changed, err := lifecycle.ChangePriority(current, models.NormalizeEnum(priorityLevel), isEmergency)
	if err != nil {
		return models.QueueEntry{}, err
	}
	entry, err = s.store.UpdateEntry(ctx, entryWrite(current, changed, lifecycle.ActionChangePriority, store.EventQueuePriorityChanged))
	if err != nil {
		return models.QueueEntry{}, err
	}
	return s.annotate(ctx, entry)
}

func (s *Service) GetEntry(ctx context.Context, actor Actor, entryID string) (models.QueueEntry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err := requireCanView(actor, entry.PatientID); err != nil {
		return models.QueueEntry{}, err
	}
	return s.annotate(ctx, entry)
}

// EntryHistory returns the verified audit trail of an entry.
func (s *Service) EntryHistory(ctx context.Context, actor Actor, entryID string) ([]store.EntryEvent, error) {
	if err := requireRole(actor, RoleDoctor, RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := s.store.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	events, err := s.store.ListEntryEvents(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyChain(events); err != nil {
		s.logger.Error().Err(err).Str("entry_id", entryID).Msg("queue entry history failed verification")
		return nil, err
	}
	return events, nil
}

type QueueBoard struct {
	Department            string              `json:"department"`
	QueueDate             string              `json:"queue_date"`
	AverageServiceMinutes float64             `json:"average_service_minutes"`
	Entries               []models.QueueEntry `json:"entries"`
}

// QueueView is the department board: CALLED entries followed by WAITING
// entries in service order, with derived positions and waits. Patients see
// other patients' entries without their ids.
func (s *Service) QueueView(ctx context.Context, actor Actor, department, queueDate string) (QueueBoard, error) {
	if err := requireRole(actor, RolePatient, RoleDoctor, RoleAdmin); err != nil {
		return QueueBoard{}, err
	}
	department = strings.TrimSpace(department)
	if department == "" {
		return QueueBoard{}, lifecycle.NewGuardError("queue_entry", "view", lifecycle.GuardInvalidDepartment, "")
	}
	if queueDate == "" {
		queueDate = s.queueDate(s.now())
	}
	entries, err := s.store.ListEntries(ctx, department, queueDate)
	if err != nil {
		return QueueBoard{}, err
	}
	avg := s.durations.Average(department)
	board := ordering.Board(entries, department, avg)
	if actor.Role == RolePatient {
		for i := range board {
			if board[i].PatientID != actor.ID {
				board[i].PatientID = ""
				board[i].AppointmentID = nil
				board[i].RequestID = ""
			}
		}
	}
	return QueueBoard{
		Department:            department,
		QueueDate:             queueDate,
		AverageServiceMinutes: avg.Minutes(),
		Entries:               board,
	}, nil
}

// IsQueueEmpty reports whether err means there was nobody to call.
func IsQueueEmpty(err error) bool {
	return errors.Is(err, ErrQueueEmpty)
}
