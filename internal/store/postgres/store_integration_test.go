package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
	"clinicq/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestConcurrentCancelAndCheckInOneWins(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appt := createAppointment(t, ctx, st, uuid.NewString())

	cancelled := appt
	cancelled.Status = models.AppointmentCancelled
	cancelled.CancelledAt = ptrTime(time.Now().UTC())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := st.UpdateAppointment(ctx, store.AppointmentWrite{
			Appointment:     cancelled,
			FromStatuses:    []string{models.AppointmentScheduled, models.AppointmentConfirmed},
			ExpectedVersion: appt.Version,
			Event:           store.EventAppointmentCancelled,
		})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, _, _, err := st.CheckIn(ctx, checkInInput(appt, uuid.NewString()))
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var stale, ok int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrStaleState):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || stale != 1 {
		t.Fatalf("expected one winner and one stale rejection, got ok=%d stale=%d", ok, stale)
	}
}

func TestCheckInIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appt := createAppointment(t, ctx, st, uuid.NewString())
	requestID := uuid.NewString()

	_, first, created, err := st.CheckIn(ctx, checkInInput(appt, requestID))
	if err != nil || !created {
		t.Fatalf("check in: created=%t err=%v", created, err)
	}
	_, second, created, err := st.CheckIn(ctx, checkInInput(appt, requestID))
	if err != nil || created {
		t.Fatalf("replay: created=%t err=%v", created, err)
	}
	if first.EntryID != second.EntryID {
		t.Fatalf("expected same entry for duplicate request")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE type = $1`, store.EventQueueCreated).Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 queue.created event, got %d", count)
	}
}

func TestCheckInRollsBackOnActiveEntry(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appt := createAppointment(t, ctx, st, uuid.NewString())
	apptID := appt.AppointmentID
	if _, _, err := st.CreateEntry(ctx, store.CreateEntryInput{Entry: models.QueueEntry{
		AppointmentID: &apptID,
		PatientID:     appt.PatientID,
		Department:    "general",
		QueueDate:     "2025-03-10",
		Status:        models.QueueWaiting,
		PriorityLevel: models.PriorityMedium,
		CheckInTime:   time.Now().UTC(),
	}}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	_, _, _, err := st.CheckIn(ctx, checkInInput(appt, uuid.NewString()))
	if !errors.Is(err, store.ErrActiveEntryExists) {
		t.Fatalf("expected active entry conflict, got %v", err)
	}
	stored, err := st.GetAppointment(ctx, appt.AppointmentID)
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	if stored.CheckedIn || stored.Version != appt.Version {
		t.Fatalf("failed enqueue must leave checked_in=false, got %+v", stored)
	}
}

func TestEntryHistoryChain(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appt := createAppointment(t, ctx, st, uuid.NewString())
	_, entry, _, err := st.CheckIn(ctx, checkInInput(appt, uuid.NewString()))
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	called := entry
	doctor := "doctor-1"
	called.Status = models.QueueCalled
	called.CalledBy = &doctor
	called.CalledTime = ptrTime(time.Now().UTC())
	if _, err := st.UpdateEntry(ctx, store.EntryWrite{Entry: called, FromStatuses: []string{models.QueueWaiting}, ExpectedVersion: entry.Version, Event: store.EventQueueCalled}); err != nil {
		t.Fatalf("call: %v", err)
	}

	events, err := st.ListEntryEvents(ctx, entry.EntryID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if err := store.VerifyChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	rehydrated, err := store.RehydrateEntry(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rehydrated.Status != models.QueueCalled {
		t.Fatalf("expected CALLED, got %s", rehydrated.Status)
	}
}

func TestRelayOffsetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if seq, err := st.RelayOffset(ctx, "notify"); err != nil || seq != 0 {
		t.Fatalf("expected empty offset, got %d %v", seq, err)
	}
	if err := st.SaveRelayOffset(ctx, "notify", 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	if seq, err := st.RelayOffset(ctx, "notify"); err != nil || seq != 42 {
		t.Fatalf("expected 42, got %d %v", seq, err)
	}
}

func TestOutboxSeqCommitsInOrder(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	first, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer first.Rollback(ctx)
	if err := insertOutboxEvent(ctx, first, store.EventQueueCreated, "entry-a", "general", []byte(`{}`)); err != nil {
		t.Fatalf("insert first: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		second, err := pool.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		defer second.Rollback(ctx)
		if err := insertOutboxEvent(ctx, second, store.EventQueueCreated, "entry-b", "general", []byte(`{}`)); err != nil {
			done <- err
			return
		}
		done <- second.Commit(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("second writer finished while the first was open: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	if events, err := st.ListOutboxEvents(ctx, 0, 10); err != nil || len(events) != 0 {
		t.Fatalf("expected nothing visible yet, got %d %v", len(events), err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("commit first: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("second writer: %v", err)
	}

	events, err := st.ListOutboxEvents(ctx, 0, 10)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 events, got %d %v", len(events), err)
	}
	if events[0].AggregateID != "entry-a" || events[1].AggregateID != "entry-b" {
		t.Fatalf("expected seq to follow commit order, got %s then %s", events[0].AggregateID, events[1].AggregateID)
	}
}

func TestCheckInRequestIDConflict(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	first := createAppointment(t, ctx, st, uuid.NewString())
	second := createAppointment(t, ctx, st, uuid.NewString())
	requestID := uuid.NewString()

	if _, _, _, err := st.CheckIn(ctx, checkInInput(first, requestID)); err != nil {
		t.Fatalf("check in: %v", err)
	}
	_, _, created, err := st.CheckIn(ctx, checkInInput(second, requestID))
	if created || !errors.Is(err, store.ErrRequestIDConflict) {
		t.Fatalf("expected request id conflict, got created=%t err=%v", created, err)
	}
	stored, err := st.GetAppointment(ctx, second.AppointmentID)
	if err != nil || stored.CheckedIn || stored.Version != second.Version {
		t.Fatalf("conflict must roll back the appointment write: %+v %v", stored, err)
	}

	walkIn := checkInInput(second, "").Entry
	walkIn.PatientID = "walk-in-patient"
	if _, _, err := st.CreateEntry(ctx, store.CreateEntryInput{RequestID: requestID, Entry: walkIn}); !errors.Is(err, store.ErrRequestIDConflict) {
		t.Fatalf("expected walk-in conflict, got %v", err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DATABASE_URL is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if _, err := migrations.Up(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func createAppointment(t *testing.T, ctx context.Context, st *Store, requestID string) models.Appointment {
	t.Helper()
	now := time.Now().UTC()
	appt, _, err := st.CreateAppointment(ctx, store.CreateAppointmentInput{
		RequestID: requestID,
		Appointment: models.Appointment{
			PatientID:       "patient-" + requestID[:8],
			AppointmentDate: now.Add(30 * time.Minute),
			Type:            models.TypeConsultation,
			Status:          models.AppointmentScheduled,
			Priority:        models.PriorityMedium,
			DurationMinutes: 30,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appt
}

func checkInInput(appt models.Appointment, requestID string) store.CheckInInput {
	now := time.Now().UTC()
	next := appt
	next.Status = models.AppointmentConfirmed
	next.CheckedIn = true
	next.CheckInTime = &now
	next.ConfirmedAt = &now
	return store.CheckInInput{
		RequestID: requestID,
		Appointment: store.AppointmentWrite{
			Appointment:     next,
			FromStatuses:    []string{models.AppointmentScheduled, models.AppointmentConfirmed},
			ExpectedVersion: appt.Version,
			Event:           store.EventAppointmentCheckedIn,
		},
		Entry: models.QueueEntry{
			PatientID:     appt.PatientID,
			Department:    "general",
			QueueDate:     now.Format("2006-01-02"),
			Status:        models.QueueWaiting,
			PriorityLevel: models.PriorityMedium,
			CheckInTime:   now,
		},
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
