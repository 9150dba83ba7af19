package lifecycle

import (
	"errors"
	"testing"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/window"
)

var apptDate = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newAppointment(status string) models.Appointment {
	return models.Appointment{
		AppointmentID:   "appt-1",
		PatientID:       "patient-1",
		AppointmentDate: apptDate,
		Type:            models.TypeConsultation,
		Status:          status,
		Priority:        models.PriorityMedium,
		DurationMinutes: 30,
	}
}

func rules() Rules {
	return NewRules(window.Default())
}

func expectGuard(t *testing.T, err error, guard string) {
	t.Helper()
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected guard violation %q, got %v", guard, err)
	}
	if got := GuardName(err); got != guard {
		t.Fatalf("expected guard %q, got %q", guard, got)
	}
}

func TestCanCheckInWindowBounds(t *testing.T) {
	r := rules()
	cases := []struct {
		name      string
		now       time.Time
		status    string
		checkedIn bool
		guard     string
	}{
		{"pre-window bound", apptDate.Add(-60 * time.Minute), models.AppointmentScheduled, false, ""},
		{"post-window bound", apptDate.Add(30 * time.Minute), models.AppointmentConfirmed, false, ""},
		{"inside", time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC), models.AppointmentScheduled, false, ""},
		{"too late", time.Date(2025, 3, 10, 9, 35, 0, 0, time.UTC), models.AppointmentScheduled, false, GuardCheckInWindow},
		{"too early", apptDate.Add(-61 * time.Minute), models.AppointmentScheduled, false, GuardCheckInWindow},
		{"already checked in", apptDate, models.AppointmentConfirmed, true, GuardCheckedIn},
		{"rescheduled", apptDate, models.AppointmentRescheduled, false, GuardStatus},
		{"cancelled", apptDate, models.AppointmentCancelled, false, GuardTerminal},
		{"in progress", apptDate, models.AppointmentInProgress, false, GuardStatus},
	}
	for _, tt := range cases {
		err := r.CanCheckIn(tt.now, apptDate, tt.status, tt.checkedIn)
		if tt.guard == "" {
			if err != nil {
				t.Fatalf("%s: expected eligible, got %v", tt.name, err)
			}
			continue
		}
		if GuardName(err) != tt.guard {
			t.Fatalf("%s: expected guard %q, got %v", tt.name, tt.guard, err)
		}
	}
}

func TestCheckInAdvancesScheduled(t *testing.T) {
	now := apptDate.Add(-10 * time.Minute)
	got, err := rules().CheckIn(newAppointment(models.AppointmentScheduled), now)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if !got.CheckedIn || got.Status != models.AppointmentConfirmed {
		t.Fatalf("expected checked-in CONFIRMED, got %s checked_in=%t", got.Status, got.CheckedIn)
	}
	if got.CheckInTime == nil || !got.CheckInTime.Equal(now) {
		t.Fatalf("expected check-in time %s", now)
	}
	if got.ConfirmedAt == nil {
		t.Fatalf("expected confirmed_at to be set")
	}
}

func TestConfirm(t *testing.T) {
	r := rules()
	now := apptDate.Add(-24 * time.Hour)
	got, err := r.Confirm(newAppointment(models.AppointmentScheduled), now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Status != models.AppointmentConfirmed || got.ConfirmedAt == nil || !got.ConfirmedAt.Equal(now) {
		t.Fatalf("unexpected confirm result: %+v", got)
	}

	_, err = r.Confirm(newAppointment(models.AppointmentScheduled), apptDate.Add(time.Minute))
	expectGuard(t, err, GuardInPast)

	_, err = r.Confirm(newAppointment(models.AppointmentCancelled), now)
	expectGuard(t, err, GuardTerminal)
}

func TestCancel(t *testing.T) {
	r := rules()
	now := apptDate.Add(-2 * time.Hour)
	got, err := r.Cancel(newAppointment(models.AppointmentConfirmed), " travel ", now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.AppointmentCancelled || got.CancellationReason != "travel" || got.ConfirmedAt != nil {
		t.Fatalf("unexpected cancel result: %+v", got)
	}

	checkedIn := newAppointment(models.AppointmentConfirmed)
	checkedIn.CheckedIn = true
	_, err = r.Cancel(checkedIn, "", apptDate.Add(-30*time.Minute))
	expectGuard(t, err, GuardCheckedIn)

	_, err = r.Cancel(newAppointment(models.AppointmentScheduled), "", apptDate)
	expectGuard(t, err, GuardNotFuture)
}

func TestCompleteRequiresDiagnosis(t *testing.T) {
	r := rules()
	appt := newAppointment(models.AppointmentInProgress)
	doctor := "doctor-1"
	appt.DoctorID = &doctor
	appt.CheckedIn = true

	_, err := r.Complete(appt, doctor, apptDate)
	expectGuard(t, err, GuardDiagnosisRequired)

	appt.Diagnosis = "   "
	_, err = r.Complete(appt, doctor, apptDate)
	expectGuard(t, err, GuardDiagnosisRequired)

	appt.Diagnosis = "acute bronchitis"
	got, err := r.Complete(appt, doctor, apptDate)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != models.AppointmentCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected complete result: %+v", got)
	}

	_, err = r.Complete(appt, "doctor-2", apptDate)
	expectGuard(t, err, GuardDoctorMismatch)
}

func TestStartConsultation(t *testing.T) {
	r := rules()
	appt := newAppointment(models.AppointmentConfirmed)
	_, err := r.StartConsultation(appt, "doctor-1", apptDate)
	expectGuard(t, err, GuardNotCheckedIn)

	appt.CheckedIn = true
	got, err := r.StartConsultation(appt, "doctor-1", apptDate)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != models.AppointmentInProgress || !got.AssignedTo("doctor-1") {
		t.Fatalf("expected IN_PROGRESS assigned to doctor-1, got %+v", got)
	}

	_, err = r.StartConsultation(got, "doctor-1", apptDate)
	expectGuard(t, err, GuardStatus)

	other := "doctor-2"
	appt.DoctorID = &other
	_, err = r.StartConsultation(appt, "doctor-1", apptDate)
	expectGuard(t, err, GuardDoctorMismatch)
}

func TestMarkNoShow(t *testing.T) {
	r := rules()
	appt := newAppointment(models.AppointmentConfirmed)
	_, err := r.MarkNoShow(appt, apptDate.Add(10*time.Minute))
	expectGuard(t, err, GuardNoShowWindow)

	got, err := r.MarkNoShow(appt, apptDate.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("no show: %v", err)
	}
	if got.Status != models.AppointmentNoShow || got.ConfirmedAt != nil {
		t.Fatalf("unexpected no-show result: %+v", got)
	}

	appt.CheckedIn = true
	_, err = r.MarkNoShow(appt, apptDate.Add(2*time.Hour))
	expectGuard(t, err, GuardCheckedIn)
}

func TestRescheduleClearsArrival(t *testing.T) {
	r := rules()
	appt := newAppointment(models.AppointmentConfirmed)
	appt.CheckedIn = true
	checkIn := apptDate.Add(-10 * time.Minute)
	appt.CheckInTime = &checkIn
	appt.ConfirmedAt = &checkIn
	next := apptDate.Add(48 * time.Hour)

	got, err := r.Reschedule(appt, next, apptDate.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if got.Status != models.AppointmentRescheduled || got.CheckedIn || got.CheckInTime != nil || got.ConfirmedAt != nil {
		t.Fatalf("unexpected reschedule result: %+v", got)
	}
	if !got.AppointmentDate.Equal(next) || got.AppointmentID != appt.AppointmentID {
		t.Fatalf("reschedule must keep identity and replace the date")
	}

	_, err = r.Reschedule(appt, apptDate.Add(-time.Hour), apptDate)
	expectGuard(t, err, GuardRescheduleInPast)
}

func TestTerminalAppointmentRejectsEveryAction(t *testing.T) {
	r := rules()
	now := apptDate.Add(-2 * time.Hour)
	for _, status := range []string{models.AppointmentCompleted, models.AppointmentCancelled, models.AppointmentNoShow} {
		appt := newAppointment(status)
		appt.Diagnosis = "done"
		doctor := "doctor-1"
		appt.DoctorID = &doctor
		attempts := []error{
			func() error { _, err := r.Confirm(appt, now); return err }(),
			func() error { _, err := r.Cancel(appt, "", now); return err }(),
			func() error { _, err := r.CheckIn(appt, apptDate); return err }(),
			func() error { _, err := r.StartConsultation(appt, doctor, now); return err }(),
			func() error { _, err := r.Complete(appt, doctor, now); return err }(),
			func() error { _, err := r.MarkNoShow(appt, apptDate.Add(time.Hour)); return err }(),
			func() error { _, err := r.Reschedule(appt, apptDate.Add(24*time.Hour), now); return err }(),
		}
		for i, err := range attempts {
			if !errors.Is(err, ErrGuardViolation) {
				t.Fatalf("%s: attempt %d accepted", status, i)
			}
		}
	}
}

func TestUpdateNotesOnlyAssignedDoctor(t *testing.T) {
	r := rules()
	appt := newAppointment(models.AppointmentInProgress)
	doctor := "doctor-1"
	appt.DoctorID = &doctor
	appt.Symptoms = "cough"

	got, err := r.UpdateNotes(appt, doctor, models.ClinicalNotes{Diagnosis: "bronchitis"}, apptDate)
	if err != nil {
		t.Fatalf("update notes: %v", err)
	}
	if got.Diagnosis != "bronchitis" || got.Symptoms != "cough" {
		t.Fatalf("expected merged notes, got %+v", got.ClinicalNotes)
	}

	_, err = r.UpdateNotes(appt, "doctor-2", models.ClinicalNotes{Notes: "x"}, apptDate)
	expectGuard(t, err, GuardDoctorMismatch)

	_, err = r.UpdateNotes(newAppointment(models.AppointmentConfirmed), doctor, models.ClinicalNotes{}, apptDate)
	expectGuard(t, err, GuardStatus)
}

func TestEligibilityMatchesGuards(t *testing.T) {
	r := rules()
	appt := newAppointment(models.AppointmentScheduled)
	checks := r.Eligibility(appt, apptDate.Add(-10*time.Minute))
	want := map[string]bool{
		ActionConfirm:           true,
		ActionCancel:            true,
		ActionCheckIn:           true,
		ActionReschedule:        true,
		ActionNoShow:            false,
		ActionStartConsultation: false,
		ActionComplete:          false,
	}
	for _, c := range checks {
		if c.Allowed != want[c.Action] {
			t.Fatalf("%s: allowed=%t, want %t (guard %s)", c.Action, c.Allowed, want[c.Action], c.Guard)
		}
		if !c.Allowed && c.Guard == "" {
			t.Fatalf("%s: missing guard", c.Action)
		}
	}
}

func TestBook(t *testing.T) {
	r := rules()
	now := apptDate.Add(-24 * time.Hour)

	a, err := r.Book(Booking{PatientID: "patient-1", AppointmentDate: apptDate, Type: "follow_up"}, now)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if a.Status != models.AppointmentScheduled || a.Type != models.TypeFollowUp || a.Priority != models.PriorityMedium {
		t.Fatalf("unexpected booking: %+v", a)
	}
	if a.DoctorID != nil || a.DurationMinutes != models.DefaultDurationMinutes {
		t.Fatalf("expected any-doctor booking with default duration, got %+v", a)
	}

	_, err = r.Book(Booking{PatientID: "patient-1", AppointmentDate: now}, now)
	expectGuard(t, err, GuardInPast)
	_, err = r.Book(Booking{PatientID: "patient-1", AppointmentDate: apptDate, Type: "SURGERY"}, now)
	expectGuard(t, err, GuardInvalidType)
	_, err = r.Book(Booking{PatientID: "patient-1", AppointmentDate: apptDate, Priority: "URGENT"}, now)
	expectGuard(t, err, GuardInvalidPriority)
	_, err = r.Book(Booking{AppointmentDate: apptDate}, now)
	expectGuard(t, err, GuardPatientRequired)
}
