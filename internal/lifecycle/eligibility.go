package lifecycle

import (
	"time"

	"clinicq/internal/models"
)

type ActionCheck struct {
	Action  string `json:"action"`
	Allowed bool   `json:"allowed"`
	Guard   string `json:"guard,omitempty"`
}

// Eligibility evaluates every appointment action against the same guards the
// transitions use, so clients never duplicate guard logic. Doctor-bound
// actions are evaluated as if requested by the assigned doctor.
func (r Rules) Eligibility(a models.Appointment, now time.Time) []ActionCheck {
	doctorID := ""
	if a.DoctorID != nil {
		doctorID = *a.DoctorID
	}
	return []ActionCheck{
		check(ActionConfirm, r.CanConfirm(a, now)),
		check(ActionCancel, r.CanCancel(a, now)),
		check(ActionCheckIn, r.CanCheckIn(now, a.AppointmentDate, a.Status, a.CheckedIn)),
		check(ActionReschedule, r.CanReschedule(a, time.Time{}, now)),
		check(ActionNoShow, r.CanMarkNoShow(a, now)),
		check(ActionStartConsultation, r.CanStartConsultation(a, doctorID)),
		check(ActionComplete, r.CanComplete(a, doctorID)),
	}
}

func check(action string, err error) ActionCheck {
	if err != nil {
		return ActionCheck{Action: action, Guard: GuardName(err)}
	}
	return ActionCheck{Action: action, Allowed: true}
}
