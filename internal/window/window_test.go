package window

import (
	"testing"
	"time"
)

func TestInCheckInWindow(t *testing.T) {
	appt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p := Default()
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"well before", appt.Add(-2 * time.Hour), false},
		{"one second before lead", appt.Add(-60*time.Minute - time.Second), false},
		{"exactly lead", appt.Add(-60 * time.Minute), true},
		{"within pre-window", time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC), true},
		{"on time", appt, true},
		{"exactly grace", appt.Add(30 * time.Minute), true},
		{"one second after grace", appt.Add(30*time.Minute + time.Second), false},
		{"late", time.Date(2025, 3, 10, 9, 35, 0, 0, time.UTC), false},
	}
	for _, tt := range cases {
		if got := p.InCheckInWindow(tt.now, appt); got != tt.want {
			t.Fatalf("%s: InCheckInWindow(%s)=%v, want %v", tt.name, tt.now.Format(time.RFC3339), got, tt.want)
		}
	}
}

func TestCheckInClosed(t *testing.T) {
	appt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p := Default()
	if p.CheckInClosed(appt.Add(30*time.Minute), appt) {
		t.Fatalf("window must still be open at the grace bound")
	}
	if !p.CheckInClosed(appt.Add(31*time.Minute), appt) {
		t.Fatalf("window must be closed after the grace bound")
	}
}

func TestQueueDateUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*60*60)
	instant := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	if got := QueueDate(instant, time.UTC); got != "2025-03-10" {
		t.Fatalf("expected 2025-03-10, got %s", got)
	}
	if got := QueueDate(instant, loc); got != "2025-03-11" {
		t.Fatalf("expected 2025-03-11, got %s", got)
	}
}

func TestUpcoming(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !Upcoming(now, now.Add(23*time.Hour), 24*time.Hour) {
		t.Fatalf("expected upcoming")
	}
	if Upcoming(now, now.Add(25*time.Hour), 24*time.Hour) {
		t.Fatalf("expected outside lead")
	}
	if Upcoming(now, now.Add(-time.Minute), 24*time.Hour) {
		t.Fatalf("past appointments are not upcoming")
	}
}
