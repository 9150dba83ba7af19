package lifecycle

import "clinicq/internal/models"

// Appointment actions.
const (
	ActionConfirm           = "confirm"
	ActionCancel            = "cancel"
	ActionCheckIn           = "check_in"
	ActionStartConsultation = "start_consultation"
	ActionUpdateNotes       = "update_notes"
	ActionComplete          = "complete"
	ActionNoShow            = "no_show"
	ActionReschedule        = "reschedule"
)

// Queue entry actions.
const (
	ActionCall            = "call"
	ActionRecall          = "recall"
	ActionStartService    = "start_service"
	ActionCompleteService = "complete_service"
	ActionSkip            = "skip"
	ActionLeave           = "leave"
	ActionChangePriority  = "change_priority"
)

var appointmentTransitionMap = map[string][]string{
	ActionConfirm:           {models.AppointmentScheduled, models.AppointmentRescheduled},
	ActionCancel:            {models.AppointmentScheduled, models.AppointmentConfirmed, models.AppointmentRescheduled},
	ActionCheckIn:           {models.AppointmentScheduled, models.AppointmentConfirmed},
	ActionStartConsultation: {models.AppointmentScheduled, models.AppointmentConfirmed},
	ActionUpdateNotes:       {models.AppointmentInProgress, models.AppointmentCompleted},
	ActionComplete:          {models.AppointmentInProgress},
	ActionNoShow:            {models.AppointmentScheduled, models.AppointmentConfirmed, models.AppointmentRescheduled},
	ActionReschedule:        {models.AppointmentScheduled, models.AppointmentConfirmed, models.AppointmentRescheduled},
}

var queueTransitionMap = map[string][]string{
	ActionCall:            {models.QueueWaiting},
	ActionRecall:          {models.QueueCalled},
	ActionStartService:    {models.QueueCalled},
	ActionCompleteService: {models.QueueInService},
	ActionSkip:            {models.QueueWaiting, models.QueueCalled},
	ActionLeave:           {models.QueueWaiting},
	ActionChangePriority:  {models.QueueWaiting},
}

func ValidAppointmentTransition(action, fromStatus string) bool {
	return contains(appointmentTransitionMap[action], fromStatus)
}

func ValidQueueTransition(action, fromStatus string) bool {
	return contains(queueTransitionMap[action], fromStatus)
}

// AppointmentAllowedFrom returns the statuses a conditional write for action
// may overwrite. The slice is a copy.
func AppointmentAllowedFrom(action string) []string {
	return append([]string(nil), appointmentTransitionMap[action]...)
}

func QueueAllowedFrom(action string) []string {
	return append([]string(nil), queueTransitionMap[action]...)
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
