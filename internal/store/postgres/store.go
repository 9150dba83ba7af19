package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	appointmentColumns = `appointment_id, patient_id, doctor_id, appointment_date, type, status, priority, duration_minutes,
		checked_in, check_in_time, confirmed_at, cancelled_at, cancellation_reason, completed_at, reminded_at,
		chief_complaint, symptoms, vital_signs, diagnosis, prescription, notes,
		no_show_probability, no_show_rationale, created_at, updated_at, version`
	entryColumns = `entry_id, COALESCE(request_id, ''), queue_number, queue_date, appointment_id, patient_id, department, status,
		priority_level, priority_score, priority_rationale, is_emergency, check_in_time, called_time, called_by,
		service_start_time, service_end_time, version`

	activeAppointmentIndex = "queue_entries_active_appointment_idx"
	uniqueViolation        = "23505"

	// outboxLockClass and outboxLockKey name the two-key advisory lock that
	// serializes outbox writers. The two-key space never collides with the
	// hashtext(entry_id) locks on entry history.
	outboxLockClass = 0x636c71
	outboxLockKey   = 1
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		var existing models.Appointment
		existing, err = scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE request_id = $1`, input.RequestID))
		if err == nil {
			if err = tx.Commit(ctx); err != nil {
				return models.Appointment{}, false, err
			}
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, err
		}
		err = nil
	}

	a := input.Appointment
	if a.AppointmentID == "" {
		a.AppointmentID = uuid.NewString()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			appointment_id, request_id, patient_id, doctor_id, appointment_date, type, status, priority,
			duration_minutes, checked_in, created_at, updated_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$10,$11,1)
		RETURNING `+appointmentColumns,
		a.AppointmentID, nullIfEmpty(input.RequestID), a.PatientID, a.DoctorID, a.AppointmentDate, a.Type, a.Status, a.Priority,
		a.DurationMinutes, a.CreatedAt, a.UpdatedAt)
	created, err := scanAppointment(row)
	if err != nil {
		return models.Appointment{}, false, err
	}

	if err = insertAppointmentEvent(ctx, tx, store.EventAppointmentBooked, created); err != nil {
		return models.Appointment{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, false, err
	}
	return created, true, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE appointment_id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	return a, nil
}

func (s *Store) ListAppointments(ctx context.Context, query store.AppointmentQuery) ([]models.Appointment, error) {
	sqlQuery := `SELECT ` + appointmentColumns + ` FROM appointments WHERE TRUE`
	var args []interface{}
	argPos := 1

	if len(query.Statuses) > 0 {
		sqlQuery += fmt.Sprintf(" AND status = ANY($%d)", argPos)
		args = append(args, query.Statuses)
		argPos++
	}
	if !query.From.IsZero() {
		sqlQuery += fmt.Sprintf(" AND appointment_date >= $%d", argPos)
		args = append(args, query.From)
		argPos++
	}
	if !query.To.IsZero() {
		sqlQuery += fmt.Sprintf(" AND appointment_date < $%d", argPos)
		args = append(args, query.To)
		argPos++
	}
	if query.CheckedIn != nil {
		sqlQuery += fmt.Sprintf(" AND checked_in = $%d", argPos)
		args = append(args, *query.CheckedIn)
		argPos++
	}
	if query.Unreminded {
		sqlQuery += " AND reminded_at IS NULL"
	}
	sqlQuery += " ORDER BY appointment_date ASC, appointment_id ASC"
	if query.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, query.Limit)
	}

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appointments, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, write store.AppointmentWrite) (models.Appointment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	updated, err := updateAppointment(ctx, tx, write)
	if err != nil {
		return models.Appointment{}, err
	}
	if err = insertAppointmentEvent(ctx, tx, write.Event, updated); err != nil {
		return models.Appointment{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, err
	}
	return updated, nil
}

func (s *Store) AnnotateAppointment(ctx context.Context, appointmentID string, probability float64, rationale string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET no_show_probability = $1, no_show_rationale = $2
		WHERE appointment_id = $3
	`, probability, rationale, appointmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAppointmentNotFound
	}
	return nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findEntryByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if found {
		if !store.SameWalkIn(existing, input.Entry) {
			err = store.ErrRequestIDConflict
			return models.QueueEntry{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.QueueEntry{}, false, err
		}
		return existing, false, nil
	}

	entry, err := insertEntry(ctx, tx, input.RequestID, input.Entry)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, department, queueDate string) ([]models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE department = $1`
	args := []interface{}{department}
	if queueDate != "" {
		query += " AND queue_date = $2"
		args = append(args, queueDate)
	}
	query += " ORDER BY queue_date ASC, queue_number ASC"
	return s.queryEntries(ctx, query, args...)
}

func (s *Store) ListAppointmentEntries(ctx context.Context, appointmentID string) ([]models.QueueEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE appointment_id = $1
		ORDER BY queue_date ASC, queue_number ASC
	`, appointmentID)
}

func (s *Store) UpdateEntry(ctx context.Context, write store.EntryWrite) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	updated, err := updateEntry(ctx, tx, write)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertEntryEvents(ctx, tx, write.Event, updated); err != nil {
		return models.QueueEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return updated, nil
}

func (s *Store) AnnotateEntry(ctx context.Context, entryID string, score float64, rationale string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET priority_score = $1, priority_rationale = $2
		WHERE entry_id = $3
	`, score, rationale, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrEntryNotFound
	}
	return nil
}

// CheckIn writes the appointment arrival and inserts its WAITING entry in
// one transaction. A failed insert rolls back the appointment write.
func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.Appointment, models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findEntryByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	if found {
		if !store.SameCheckIn(existing, input.Appointment.Appointment.AppointmentID) {
			err = store.ErrRequestIDConflict
			return models.Appointment{}, models.QueueEntry{}, false, err
		}
		var appt models.Appointment
		appt, err = scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE appointment_id = $1`, *existing.AppointmentID))
		if err != nil {
			return models.Appointment{}, models.QueueEntry{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Appointment{}, models.QueueEntry{}, false, err
		}
		return appt, existing, false, nil
	}

	appt, err := updateAppointment(ctx, tx, input.Appointment)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	entry := input.Entry
	entry.AppointmentID = &appt.AppointmentID
	entry, err = insertEntry(ctx, tx, input.RequestID, entry)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	if err = insertAppointmentEvent(ctx, tx, input.Appointment.Event, appt); err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, models.QueueEntry{}, false, err
	}
	return appt, entry, true, nil
}

func (s *Store) UpdatePair(ctx context.Context, write store.PairWrite) (models.Appointment, models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	appt, err := updateAppointment(ctx, tx, write.Appointment)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	entry, err := updateEntry(ctx, tx, write.Entry)
	if err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	if err = insertAppointmentEvent(ctx, tx, write.Appointment.Event, appt); err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	if err = insertEntryEvents(ctx, tx, write.Entry.Event, entry); err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, models.QueueEntry{}, err
	}
	return appt, entry, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, type, aggregate_id, department, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &event.AggregateID, &event.Department, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) RelayOffset(ctx context.Context, relay string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT last_seq FROM relay_offsets WHERE relay = $1`, relay).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (s *Store) SaveRelayOffset(ctx context.Context, relay string, seq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (relay, last_seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (relay)
		DO UPDATE SET last_seq = EXCLUDED.last_seq, updated_at = NOW()
	`, relay, seq)
	return err
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, entry_seq, type, payload, created_at, prev_hash, hash
		FROM queue_entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		if err := rows.Scan(&event.EntryID, &event.EntrySeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...interface{}) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// updateAppointment is the check-and-set primitive: the row changes only if
// it still carries the expected version and an allowed status.
func updateAppointment(ctx context.Context, tx pgx.Tx, write store.AppointmentWrite) (models.Appointment, error) {
	a := write.Appointment
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $1, appointment_date = $2, status = $3, priority = $4, checked_in = $5,
			check_in_time = $6, confirmed_at = $7, cancelled_at = $8, cancellation_reason = $9,
			completed_at = $10, reminded_at = $11, chief_complaint = $12, symptoms = $13,
			vital_signs = $14, diagnosis = $15, prescription = $16, notes = $17,
			updated_at = $18, version = version + 1
		WHERE appointment_id = $19 AND version = $20 AND status = ANY($21)
		RETURNING `+appointmentColumns,
		a.DoctorID, a.AppointmentDate, a.Status, a.Priority, a.CheckedIn,
		a.CheckInTime, a.ConfirmedAt, a.CancelledAt, a.CancellationReason,
		a.CompletedAt, a.RemindedAt, a.ChiefComplaint, a.Symptoms,
		a.VitalSigns, a.Diagnosis, a.Prescription, a.Notes,
		a.UpdatedAt, a.AppointmentID, write.ExpectedVersion, write.FromStatuses)
	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Appointment{}, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE appointment_id = $1)`, a.AppointmentID).Scan(&exists); err != nil {
		return models.Appointment{}, err
	}
	if !exists {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return models.Appointment{}, store.ErrStaleState
}

func updateEntry(ctx context.Context, tx pgx.Tx, write store.EntryWrite) (models.QueueEntry, error) {
	e := write.Entry
	row := tx.QueryRow(ctx, `
		UPDATE queue_entries
		SET status = $1, priority_level = $2, is_emergency = $3, called_time = $4, called_by = $5,
			service_start_time = $6, service_end_time = $7, version = version + 1
		WHERE entry_id = $8 AND version = $9 AND status = ANY($10)
		RETURNING `+entryColumns,
		e.Status, e.PriorityLevel, e.IsEmergency, e.CalledTime, e.CalledBy,
		e.ServiceStartTime, e.ServiceEndTime, e.EntryID, write.ExpectedVersion, write.FromStatuses)
	updated, err := scanEntry(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.QueueEntry{}, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_entries WHERE entry_id = $1)`, e.EntryID).Scan(&exists); err != nil {
		return models.QueueEntry{}, err
	}
	if !exists {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	return models.QueueEntry{}, store.ErrStaleState
}

func insertEntry(ctx context.Context, tx pgx.Tx, requestID string, e models.QueueEntry) (models.QueueEntry, error) {
	number, err := nextQueueNumber(ctx, tx, e.Department, e.QueueDate)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, request_id, queue_number, queue_date, appointment_id, patient_id, department, status,
			priority_level, is_emergency, check_in_time, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1)
		RETURNING `+entryColumns,
		e.EntryID, nullIfEmpty(requestID), number, e.QueueDate, e.AppointmentID, e.PatientID, e.Department, e.Status,
		e.PriorityLevel, e.IsEmergency, e.CheckInTime)
	created, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeAppointmentIndex {
			return models.QueueEntry{}, store.ErrActiveEntryExists
		}
		return models.QueueEntry{}, err
	}
	if err := insertEntryEvents(ctx, tx, store.EventQueueCreated, created); err != nil {
		return models.QueueEntry{}, err
	}
	return created, nil
}

// nextQueueNumber hands out strictly increasing numbers per (department, day).
// Numbers are never recycled, so rolled-back inserts leave gaps.
func nextQueueNumber(ctx context.Context, tx pgx.Tx, department, queueDate string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_counters (department, queue_date, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (department, queue_date)
		DO UPDATE SET next_number = queue_counters.next_number + 1
		RETURNING next_number
	`, department, queueDate)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func findEntryByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.QueueEntry, bool, error) {
	if requestID == "" {
		return models.QueueEntry{}, false, nil
	}
	entry, err := scanEntry(tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE request_id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func insertAppointmentEvent(ctx context.Context, tx pgx.Tx, eventType string, a models.Appointment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, eventType, a.AppointmentID, "", payload)
}

// insertEntryEvents writes the outbox row and the next hash-chained history
// event for an entry.
func insertEntryEvents(ctx context.Context, tx pgx.Tx, eventType string, e models.QueueEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := insertOutboxEvent(ctx, tx, eventType, e.EntryID, e.Department, payload); err != nil {
		return err
	}
	return insertEntryEvent(ctx, tx, e.EntryID, eventType, payload)
}

// insertOutboxEvent holds the outbox lock until the transaction ends, so seq
// values become visible in the order they were assigned and a relay reading
// past its offset never skips a row committed late.
func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType, aggregateID, department string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, outboxLockClass, outboxLockKey); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, aggregate_id, department, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), eventType, aggregateID, department, payload, time.Now().UTC())
	return err
}

func insertEntryEvent(ctx context.Context, tx pgx.Tx, entryID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entryID); err != nil {
		return err
	}

	var last store.EntryEvent
	var lastPtr *store.EntryEvent
	row := tx.QueryRow(ctx, `
		SELECT entry_seq, hash
		FROM queue_entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq DESC
		LIMIT 1
		FOR UPDATE
	`, entryID)
	switch err := row.Scan(&last.EntrySeq, &last.Hash); {
	case err == nil:
		lastPtr = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event := store.NextEntryEvent(lastPtr, entryID, eventType, payload, time.Now().UTC().Truncate(time.Microsecond))
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_entry_events (entry_id, entry_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.EntryID, event.EntrySeq, event.Type, event.Payload, event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var a models.Appointment
	var doctorID sql.NullString
	var checkInTime, confirmedAt, cancelledAt, completedAt, remindedAt sql.NullTime
	var probability sql.NullFloat64
	if err := row.Scan(
		&a.AppointmentID, &a.PatientID, &doctorID, &a.AppointmentDate, &a.Type, &a.Status, &a.Priority, &a.DurationMinutes,
		&a.CheckedIn, &checkInTime, &confirmedAt, &cancelledAt, &a.CancellationReason, &completedAt, &remindedAt,
		&a.ChiefComplaint, &a.Symptoms, &a.VitalSigns, &a.Diagnosis, &a.Prescription, &a.Notes,
		&probability, &a.NoShowRationale, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	); err != nil {
		return models.Appointment{}, err
	}
	a.DoctorID = nullStringPtr(doctorID)
	a.CheckInTime = nullTimePtr(checkInTime)
	a.ConfirmedAt = nullTimePtr(confirmedAt)
	a.CancelledAt = nullTimePtr(cancelledAt)
	a.CompletedAt = nullTimePtr(completedAt)
	a.RemindedAt = nullTimePtr(remindedAt)
	if probability.Valid {
		a.NoShowProbability = &probability.Float64
	}
	return a, nil
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var e models.QueueEntry
	var appointmentID, calledBy sql.NullString
	var score sql.NullFloat64
	var calledTime, startTime, endTime sql.NullTime
	if err := row.Scan(
		&e.EntryID, &e.RequestID, &e.QueueNumber, &e.QueueDate, &appointmentID, &e.PatientID, &e.Department, &e.Status,
		&e.PriorityLevel, &score, &e.PriorityRationale, &e.IsEmergency, &e.CheckInTime, &calledTime, &calledBy,
		&startTime, &endTime, &e.Version,
	); err != nil {
		return models.QueueEntry{}, err
	}
	e.AppointmentID = nullStringPtr(appointmentID)
	e.CalledBy = nullStringPtr(calledBy)
	e.CalledTime = nullTimePtr(calledTime)
	e.ServiceStartTime = nullTimePtr(startTime)
	e.ServiceEndTime = nullTimePtr(endTime)
	if score.Valid {
		e.PriorityScore = &score.Float64
	}
	return e, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
