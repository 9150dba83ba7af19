package lifecycle

import "testing"

func TestValidAppointmentTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"confirm", "SCHEDULED", true},
		{"confirm", "RESCHEDULED", true},
		{"confirm", "CONFIRMED", false},
		{"cancel", "SCHEDULED", true},
		{"cancel", "CONFIRMED", true},
		{"cancel", "RESCHEDULED", true},
		{"cancel", "IN_PROGRESS", false},
		{"check_in", "SCHEDULED", true},
		{"check_in", "CONFIRMED", true},
		{"check_in", "RESCHEDULED", false},
		{"start_consultation", "CONFIRMED", true},
		{"start_consultation", "COMPLETED", false},
		{"complete", "IN_PROGRESS", true},
		{"complete", "CONFIRMED", false},
		{"no_show", "CONFIRMED", true},
		{"no_show", "IN_PROGRESS", false},
		{"reschedule", "RESCHEDULED", true},
		{"reschedule", "IN_PROGRESS", false},
		{"update_notes", "COMPLETED", true},
		{"update_notes", "CONFIRMED", false},
		{"unknown", "SCHEDULED", false},
	}

	for _, tt := range cases {
		if got := ValidAppointmentTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidAppointmentTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestValidQueueTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "WAITING", true},
		{"call", "CALLED", false},
		{"recall", "CALLED", true},
		{"start_service", "CALLED", true},
		{"start_service", "WAITING", false},
		{"complete_service", "IN_SERVICE", true},
		{"complete_service", "CALLED", false},
		{"skip", "WAITING", true},
		{"skip", "CALLED", true},
		{"skip", "IN_SERVICE", false},
		{"leave", "WAITING", true},
		{"leave", "CALLED", false},
		{"change_priority", "WAITING", true},
		{"change_priority", "CALLED", false},
		{"unknown", "WAITING", false},
	}

	for _, tt := range cases {
		if got := ValidQueueTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidQueueTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTerminalStatusesAcceptNoTransition(t *testing.T) {
	for _, status := range []string{"COMPLETED", "CANCELLED", "NO_SHOW"} {
		for action := range appointmentTransitionMap {
			if action == ActionUpdateNotes {
				continue
			}
			if ValidAppointmentTransition(action, status) {
				t.Fatalf("appointment action %q accepted from terminal %s", action, status)
			}
		}
	}
	for _, status := range []string{"COMPLETED", "SKIPPED", "LEFT"} {
		for action := range queueTransitionMap {
			if ValidQueueTransition(action, status) {
				t.Fatalf("queue action %q accepted from terminal %s", action, status)
			}
		}
	}
}
