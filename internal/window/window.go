// Package window evaluates whether an instant falls inside the legal window
// of a lifecycle action. Every function is pure; callers pass "now".
package window

import "time"

const (
	CheckInLead  = 60 * time.Minute
	CheckInGrace = 30 * time.Minute
)

// Window is a closed interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Policy holds the check-in bounds. The zero value is not usable; use Default.
type Policy struct {
	Lead  time.Duration
	Grace time.Duration
}

func Default() Policy {
	return Policy{Lead: CheckInLead, Grace: CheckInGrace}
}

// CheckIn returns the inclusive check-in window around an appointment time.
func (p Policy) CheckIn(appointmentDate time.Time) Window {
	return Window{
		Start: appointmentDate.Add(-p.Lead),
		End:   appointmentDate.Add(p.Grace),
	}
}

func (p Policy) InCheckInWindow(now, appointmentDate time.Time) bool {
	return p.CheckIn(appointmentDate).Contains(now)
}

// CheckInClosed reports whether the check-in window has fully elapsed.
// An appointment becomes a no-show candidate only after this point.
func (p Policy) CheckInClosed(now, appointmentDate time.Time) bool {
	return now.After(p.CheckIn(appointmentDate).End)
}

// IsFuture reports whether t is strictly after now.
func IsFuture(now, t time.Time) bool {
	return t.After(now)
}

// QueueDate is the (department, day) partition key for queue numbering,
// evaluated in the clinic's local time.
func QueueDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// Upcoming reports whether t starts within lead of now and has not started yet.
func Upcoming(now, t time.Time, lead time.Duration) bool {
	return t.After(now) && !t.After(now.Add(lead))
}
