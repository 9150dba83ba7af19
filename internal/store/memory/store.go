// Package memory is an in-process Store with the same atomicity contract as
// the Postgres store: every method holds one lock for its whole read-check-write.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu                  sync.Mutex
	now                 func() time.Time
	appointments        map[string]models.Appointment
	entries             map[string]models.QueueEntry
	counters            map[string]int64
	appointmentRequests map[string]string
	entryRequests       map[string]string
	outbox              []store.OutboxEvent
	entryEvents         map[string][]store.EntryEvent
	offsets             map[string]int64

	// EntryInsertHook, when set, runs before an entry is inserted. A non-nil
	// error aborts the surrounding write with no effect.
	EntryInsertHook func(models.QueueEntry) error
}

func New() *Store {
	return &Store{
		now:                 func() time.Time { return time.Now().UTC() },
		appointments:        map[string]models.Appointment{},
		entries:             map[string]models.QueueEntry{},
		counters:            map[string]int64{},
		appointmentRequests: map[string]string{},
		entryRequests:       map[string]string{},
		entryEvents:         map[string][]store.EntryEvent{},
		offsets:             map[string]int64{},
	}
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.RequestID != "" {
		if id, ok := s.appointmentRequests[input.RequestID]; ok {
			return s.appointments[id], false, nil
		}
	}
	appt := input.Appointment
	if appt.AppointmentID == "" {
		appt.AppointmentID = uuid.NewString()
	}
	appt.Version = 1
	s.appointments[appt.AppointmentID] = appt
	if input.RequestID != "" {
		s.appointmentRequests[input.RequestID] = appt.AppointmentID
	}
	if err := s.appendAppointmentEvent(store.EventAppointmentBooked, appt); err != nil {
		return models.Appointment{}, false, err
	}
	return appt, true, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Store) ListAppointments(ctx context.Context, query store.AppointmentQuery) ([]models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Appointment
	for _, appt := range s.appointments {
		if len(query.Statuses) > 0 && !store.Contains(query.Statuses, appt.Status) {
			continue
		}
		if !query.From.IsZero() && appt.AppointmentDate.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && !appt.AppointmentDate.Before(query.To) {
			continue
		}
		if query.CheckedIn != nil && appt.CheckedIn != *query.CheckedIn {
			continue
		}
		if query.Unreminded && appt.RemindedAt != nil {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppointmentDate.Equal(out[j].AppointmentDate) {
			return out[i].AppointmentDate.Before(out[j].AppointmentDate)
		}
		return out[i].AppointmentID < out[j].AppointmentID
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, write store.AppointmentWrite) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.checkAppointmentWrite(write)
	if err != nil {
		return models.Appointment{}, err
	}
	s.appointments[next.AppointmentID] = next
	if err := s.appendAppointmentEvent(write.Event, next); err != nil {
		return models.Appointment{}, err
	}
	return next, nil
}

func (s *Store) AnnotateAppointment(ctx context.Context, appointmentID string, probability float64, rationale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[appointmentID]
	if !ok {
		return store.ErrAppointmentNotFound
	}
	appt.NoShowProbability = &probability
	appt.NoShowRationale = rationale
	s.appointments[appointmentID] = appt
	return nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entryByRequest(input.RequestID); ok {
		if !store.SameWalkIn(existing, input.Entry) {
			return models.QueueEntry{}, false, store.ErrRequestIDConflict
		}
		return existing, false, nil
	}
	entry, err := s.insertEntry(input.RequestID, input.Entry)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, department, queueDate string) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.QueueEntry
	for _, entry := range s.entries {
		if entry.Department != department {
			continue
		}
		if queueDate != "" && entry.QueueDate != queueDate {
			continue
		}
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) ListAppointmentEntries(ctx context.Context, appointmentID string) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.appointmentEntries(appointmentID)
	sortEntries(out)
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, write store.EntryWrite) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.checkEntryWrite(write)
	if err != nil {
		return models.QueueEntry{}, err
	}
	s.entries[next.EntryID] = next
	if err := s.appendEntryEvent(write.Event, next); err != nil {
		return models.QueueEntry{}, err
	}
	return next, nil
}

func (s *Store) AnnotateEntry(ctx context.Context, entryID string, score float64, rationale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return store.ErrEntryNotFound
	}
	entry.PriorityScore = &score
	entry.PriorityRationale = rationale
	s.entries[entryID] = entry
	return nil
}

func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.Appointment, models.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entryByRequest(input.RequestID); ok {
		if !store.SameCheckIn(existing, input.Appointment.Appointment.AppointmentID) {
			return models.Appointment{}, models.QueueEntry{}, false, store.ErrRequestIDConflict
		}
		return s.appointments[*existing.AppointmentID], existing, false, nil
	}
	appt, err := s.checkAppointmentWrite(input.Appointment)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	entry := input.Entry
	entry.AppointmentID = &appt.AppointmentID

	// insertEntry validates before mutating, so a failure here leaves the
	// appointment untouched.
	entry, err = s.insertEntry(input.RequestID, entry)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	s.appointments[appt.AppointmentID] = appt
	if err := s.appendAppointmentEvent(input.Appointment.Event, appt); err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	return appt, entry, true, nil
}

func (s *Store) UpdatePair(ctx context.Context, write store.PairWrite) (models.Appointment, models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, err := s.checkAppointmentWrite(write.Appointment)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	entry, err := s.checkEntryWrite(write.Entry)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	s.appointments[appt.AppointmentID] = appt
	s.entries[entry.EntryID] = entry
	if err := s.appendAppointmentEvent(write.Appointment.Event, appt); err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	if err := s.appendEntryEvent(write.Entry.Event, entry); err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	return appt, entry, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.OutboxEvent
	for _, event := range s.outbox {
		if event.Seq <= afterSeq {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RelayOffset(ctx context.Context, relay string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[relay], nil
}

func (s *Store) SaveRelayOffset(ctx context.Context, relay string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[relay] = seq
	return nil
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.EntryEvent(nil), s.entryEvents[entryID]...), nil
}

func (s *Store) checkAppointmentWrite(write store.AppointmentWrite) (models.Appointment, error) {
	current, ok := s.appointments[write.Appointment.AppointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if current.Version != write.ExpectedVersion || !store.Contains(write.FromStatuses, current.Status) {
		return models.Appointment{}, store.ErrStaleState
	}
	next := write.Appointment
	next.Version = current.Version + 1
	next.NoShowProbability = current.NoShowProbability
	next.NoShowRationale = current.NoShowRationale
	return next, nil
}

func (s *Store) checkEntryWrite(write store.EntryWrite) (models.QueueEntry, error) {
	current, ok := s.entries[write.Entry.EntryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if current.Version != write.ExpectedVersion || !store.Contains(write.FromStatuses, current.Status) {
		return models.QueueEntry{}, store.ErrStaleState
	}
	next := write.Entry
	next.Version = current.Version + 1
	next.QueueNumber = current.QueueNumber
	next.QueueDate = current.QueueDate
	next.PriorityScore = current.PriorityScore
	next.PriorityRationale = current.PriorityRationale
	next.Position = 0
	next.EstimatedWaitMinutes = 0
	return next, nil
}

func (s *Store) insertEntry(requestID string, entry models.QueueEntry) (models.QueueEntry, error) {
	if entry.HasAppointment() {
		for _, existing := range s.appointmentEntries(*entry.AppointmentID) {
			if existing.IsActive() {
				return models.QueueEntry{}, store.ErrActiveEntryExists
			}
		}
	}
	if s.EntryInsertHook != nil {
		if err := s.EntryInsertHook(entry); err != nil {
			return models.QueueEntry{}, err
		}
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	key := entry.Department + "|" + entry.QueueDate
	s.counters[key]++
	entry.QueueNumber = s.counters[key]
	entry.RequestID = requestID
	entry.Version = 1
	entry.Position = 0
	entry.EstimatedWaitMinutes = 0

	s.entries[entry.EntryID] = entry
	if requestID != "" {
		s.entryRequests[requestID] = entry.EntryID
	}
	if err := s.appendEntryEvent(store.EventQueueCreated, entry); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) entryByRequest(requestID string) (models.QueueEntry, bool) {
	if requestID == "" {
		return models.QueueEntry{}, false
	}
	id, ok := s.entryRequests[requestID]
	if !ok {
		return models.QueueEntry{}, false
	}
	return s.entries[id], true
}

func (s *Store) appointmentEntries(appointmentID string) []models.QueueEntry {
	var out []models.QueueEntry
	for _, entry := range s.entries {
		if entry.HasAppointment() && *entry.AppointmentID == appointmentID {
			out = append(out, entry)
		}
	}
	return out
}

func (s *Store) appendAppointmentEvent(eventType string, appt models.Appointment) error {
	payload, err := json.Marshal(appt)
	if err != nil {
		return err
	}
	s.appendOutbox(eventType, appt.AppointmentID, "", payload)
	return nil
}

func (s *Store) appendEntryEvent(eventType string, entry models.QueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	now := s.now()
	s.appendOutbox(eventType, entry.EntryID, entry.Department, payload)

	history := s.entryEvents[entry.EntryID]
	var last *store.EntryEvent
	if len(history) > 0 {
		last = &history[len(history)-1]
	}
	s.entryEvents[entry.EntryID] = append(history, store.NextEntryEvent(last, entry.EntryID, eventType, payload, now))
	return nil
}

func (s *Store) appendOutbox(eventType, aggregateID, department string, payload []byte) {
	s.outbox = append(s.outbox, store.OutboxEvent{
		Seq:         int64(len(s.outbox) + 1),
		EventID:     uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Department:  department,
		Payload:     payload,
		CreatedAt:   s.now(),
	})
}

func sortEntries(entries []models.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].QueueDate != entries[j].QueueDate {
			return entries[i].QueueDate < entries[j].QueueDate
		}
		return entries[i].QueueNumber < entries[j].QueueNumber
	})
}
