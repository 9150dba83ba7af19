// Package orchestrator runs lifecycle operations against the store. It reads
// the current entities, applies the pure transition functions and persists
// the result with one conditional write, so a concurrent change surfaces as
// store.ErrStaleState instead of being overwritten.
package orchestrator

import (
	"context"
	"errors"
	"expvar"
	"sync"
	"time"

	"clinicq/internal/lifecycle"
	"clinicq/internal/models"
	"clinicq/internal/ordering"
	"clinicq/internal/predictor"
	"clinicq/internal/store"
	"clinicq/internal/window"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrQueueEmpty = errors.New("no waiting entries")

var (
	guardViolations      = expvar.NewInt("guard_violations_total")
	staleStates          = expvar.NewInt("stale_state_total")
	collaboratorFailures = expvar.NewInt("collaborator_failures_total")
	consistencyFailures  = expvar.NewInt("consistency_violations_total")
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role string
}

// System is the actor used by CLI batch commands.
var System = Actor{ID: "system", Role: RoleAdmin}

// ServiceDurations supplies the rolling average service time of a department.
type ServiceDurations interface {
	Average(department string) time.Duration
}

type fixedDuration time.Duration

func (d fixedDuration) Average(string) time.Duration { return time.Duration(d) }

type Options struct {
	Rules            lifecycle.Rules
	Location         *time.Location
	Predictor        predictor.Predictor
	Durations        ServiceDurations
	PredictorTimeout time.Duration
	ReminderLead     time.Duration
	Logger           zerolog.Logger
	Tracer           trace.Tracer
	Now              func() time.Time
}

type Service struct {
	store            store.Store
	rules            lifecycle.Rules
	loc              *time.Location
	predictor        predictor.Predictor
	durations        ServiceDurations
	predictorTimeout time.Duration
	reminderLead     time.Duration
	logger           zerolog.Logger
	tracer           trace.Tracer
	now              func() time.Time
	wg               sync.WaitGroup
}

func New(st store.Store, opts Options) *Service {
	s := &Service{
		store:            st,
		rules:            opts.Rules,
		loc:              opts.Location,
		predictor:        opts.Predictor,
		durations:        opts.Durations,
		predictorTimeout: opts.PredictorTimeout,
		reminderLead:     opts.ReminderLead,
		logger:           opts.Logger.With().Str("component", "orchestrator").Logger(),
		tracer:           opts.Tracer,
		now:              opts.Now,
	}
	if s.rules.Window == (window.Policy{}) {
		s.rules = lifecycle.NewRules(window.Default())
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.predictor == nil {
		s.predictor = predictor.Noop{}
	}
	if s.durations == nil {
		s.durations = fixedDuration(15 * time.Minute)
	}
	if s.predictorTimeout <= 0 {
		s.predictorTimeout = 1500 * time.Millisecond
	}
	if s.reminderLead <= 0 {
		s.reminderLead = 24 * time.Hour
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("clinicq/orchestrator")
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Wait blocks until every in-flight advisory call has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) startSpan(ctx context.Context, op string, actor Actor) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("actor.role", actor.Role),
	))
}

// endSpan records err on the span and bumps the matching counter.
func (s *Service) endSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, lifecycle.ErrGuardViolation):
		guardViolations.Add(1)
		span.SetAttributes(attribute.String("guard", lifecycle.GuardName(err)))
	case errors.Is(err, store.ErrStaleState):
		staleStates.Add(1)
	case errors.Is(err, lifecycle.ErrConsistencyViolation):
		consistencyFailures.Add(1)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// advise runs fn after the primary write has committed. Its failure is logged
// and counted but never reaches the caller.
func (s *Service) advise(ctx context.Context, collaborator string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.predictorTimeout)
		defer cancel()
		err := fn(ctx)
		if err == nil || errors.Is(err, predictor.ErrDisabled) {
			return
		}
		collaboratorFailures.Add(1)
		s.logger.Warn().
			Err(&lifecycle.CollaboratorError{Collaborator: collaborator, Err: err}).
			Str("collaborator", collaborator).
			Msg("advisory call failed")
	}()
}

func (s *Service) adviseNoShow(ctx context.Context, a models.Appointment) {
	s.advise(ctx, "predictor.no_show", func(ctx context.Context) error {
		prediction, err := s.predictor.PredictNoShow(ctx, predictor.NoShowRequest{
			AppointmentID:   a.AppointmentID,
			PatientID:       a.PatientID,
			Type:            a.Type,
			Priority:        a.Priority,
			AppointmentDate: a.AppointmentDate,
			Status:          a.Status,
		})
		if err != nil {
			return err
		}
		return s.store.AnnotateAppointment(ctx, a.AppointmentID, prediction.Probability, prediction.Rationale)
	})
}

func (s *Service) advisePriority(ctx context.Context, e models.QueueEntry, notes models.ClinicalNotes) {
	s.advise(ctx, "predictor.priority", func(ctx context.Context) error {
		prediction, err := s.predictor.ScorePriority(ctx, predictor.PriorityRequest{
			EntryID:        e.EntryID,
			PatientID:      e.PatientID,
			Department:     e.Department,
			PriorityLevel:  e.PriorityLevel,
			IsEmergency:    e.IsEmergency,
			ChiefComplaint: notes.ChiefComplaint,
			Symptoms:       notes.Symptoms,
			VitalSigns:     notes.VitalSigns,
		})
		if err != nil {
			return err
		}
		return s.store.AnnotateEntry(ctx, e.EntryID, prediction.Score, prediction.Rationale)
	})
}

// consistency logs a diverged pair. The error is returned unchanged.
func (s *Service) consistency(err error) error {
	var cerr *lifecycle.ConsistencyError
	if errors.As(err, &cerr) {
		s.logger.Error().
			Str("appointment_id", cerr.AppointmentID).
			Str("entry_id", cerr.EntryID).
			Str("detail", cerr.Detail).
			Msg("appointment and queue entry diverged")
	}
	return err
}

func (s *Service) queueDate(t time.Time) string {
	return window.QueueDate(t, s.loc)
}

// annotate fills the derived position and wait of e from its current partition.
func (s *Service) annotate(ctx context.Context, e models.QueueEntry) (models.QueueEntry, error) {
	if e.IsTerminal() {
		return e, nil
	}
	entries, err := s.store.ListEntries(ctx, e.Department, e.QueueDate)
	if err != nil {
		return models.QueueEntry{}, err
	}
	return ordering.Annotate(e, entries, s.durations.Average(e.Department)), nil
}

func requireRole(actor Actor, roles ...string) error {
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return lifecycle.ErrAccessDenied
}

// requirePatientOrAdmin lets admins act on anyone and patients only on themselves.
func requirePatientOrAdmin(actor Actor, patientID string) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RolePatient:
		if actor.ID == patientID {
			return nil
		}
	}
	return lifecycle.ErrAccessDenied
}

// requireCanView lets staff read anything and patients only their own records.
func requireCanView(actor Actor, patientID string) error {
	switch actor.Role {
	case RoleAdmin, RoleDoctor:
		return nil
	case RolePatient:
		if actor.ID == patientID {
			return nil
		}
	}
	return lifecycle.ErrAccessDenied
}
