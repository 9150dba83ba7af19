package store

// Outbox event types.
const (
	EventAppointmentBooked       = "appointment.booked"
	EventAppointmentConfirmed    = "appointment.confirmed"
	EventAppointmentCancelled    = "appointment.cancelled"
	EventAppointmentRescheduled  = "appointment.rescheduled"
	EventAppointmentNoShow       = "appointment.no_show"
	EventAppointmentCheckedIn    = "appointment.checked_in"
	EventAppointmentInProgress   = "appointment.in_progress"
	EventAppointmentNotesUpdated = "appointment.notes_updated"
	EventAppointmentCompleted    = "appointment.completed"
	EventAppointmentReminder     = "appointment.reminder"

	EventQueueCreated         = "queue.created"
	EventQueueCalled          = "queue.called"
	EventQueueCalledOverride  = "queue.called_override"
	EventQueueRecalled        = "queue.recalled"
	EventQueueInService       = "queue.in_service"
	EventQueueCompleted       = "queue.completed"
	EventQueueSkipped         = "queue.skipped"
	EventQueueLeft            = "queue.left"
	EventQueuePriorityChanged = "queue.priority_changed"
)
