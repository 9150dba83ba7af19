package lifecycle

import (
	"errors"
	"testing"

	"clinicq/internal/models"
)

func TestCheckPair(t *testing.T) {
	apptID := "appt-1"
	cases := []struct {
		name       string
		apptStatus string
		checkedIn  bool
		entry      string
		consistent bool
	}{
		{"waiting with confirmed", models.AppointmentConfirmed, true, models.QueueWaiting, true},
		{"called with confirmed", models.AppointmentConfirmed, true, models.QueueCalled, true},
		{"waiting with scheduled", models.AppointmentScheduled, false, models.QueueWaiting, false},
		{"waiting without check-in", models.AppointmentConfirmed, false, models.QueueWaiting, false},
		{"in service with in progress", models.AppointmentInProgress, true, models.QueueInService, true},
		{"in service with confirmed", models.AppointmentConfirmed, true, models.QueueInService, false},
		{"completed with completed", models.AppointmentCompleted, true, models.QueueCompleted, true},
		{"completed with scheduled", models.AppointmentScheduled, false, models.QueueCompleted, false},
		{"skipped with confirmed", models.AppointmentConfirmed, true, models.QueueSkipped, true},
	}
	for _, tt := range cases {
		appt := models.Appointment{AppointmentID: apptID, Status: tt.apptStatus, CheckedIn: tt.checkedIn}
		entry := models.QueueEntry{EntryID: "entry-1", AppointmentID: &apptID, Status: tt.entry}
		err := CheckPair(appt, entry)
		if tt.consistent && err != nil {
			t.Fatalf("%s: unexpected %v", tt.name, err)
		}
		if !tt.consistent && !errors.Is(err, ErrConsistencyViolation) {
			t.Fatalf("%s: expected consistency violation, got %v", tt.name, err)
		}
	}
}

func TestCheckPairRejectsForeignEntry(t *testing.T) {
	other := "appt-2"
	err := CheckPair(models.Appointment{AppointmentID: "appt-1", Status: models.AppointmentConfirmed, CheckedIn: true}, models.QueueEntry{AppointmentID: &other, Status: models.QueueWaiting})
	if !errors.Is(err, ErrConsistencyViolation) {
		t.Fatalf("expected consistency violation, got %v", err)
	}
}

func TestCheckAppointmentWithoutEntry(t *testing.T) {
	if err := CheckAppointmentWithoutEntry(models.Appointment{Status: models.AppointmentConfirmed, CheckedIn: true}); !errors.Is(err, ErrConsistencyViolation) {
		t.Fatalf("checked-in appointment without entry must be flagged")
	}
	if err := CheckAppointmentWithoutEntry(models.Appointment{Status: models.AppointmentConfirmed}); err != nil {
		t.Fatalf("confirmed appointment before arrival is consistent: %v", err)
	}
}

func TestCollaboratorErrorUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&CollaboratorError{Collaborator: "predictor", Err: cause})
	if !errors.Is(err, ErrCollaboratorUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected both sentinel and cause to match")
	}
	if errors.Is(err, ErrGuardViolation) {
		t.Fatalf("collaborator failures are never guard violations")
	}
}
